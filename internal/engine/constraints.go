// Package engine — row constraint enforcement.
//
// INSERT enforces PRIMARY KEY, UNIQUE column constraints, and UNIQUE
// indexes. Conflict handling follows the statement's OR clause: the default
// aborts the statement with a SQLite-style message, OR IGNORE skips the
// offending row, and OR REPLACE deletes every conflicting row (repeating
// until no conflicts remain) before inserting.
package engine

import (
	"fmt"
	"strings"

	"github.com/SimonWaldherr/pagedSQL/internal/storage"
)

// uniqueKeySpec names one uniqueness rule on a table: the column positions
// that must not repeat and the human-readable description used in errors.
type uniqueKeySpec struct {
	positions []int
	desc      string // "t.a" or "t.a, t.b"
}

// uniqueKeySpecs collects all uniqueness rules for t: PRIMARY KEY columns,
// UNIQUE column constraints, and UNIQUE indexes from the catalog.
func uniqueKeySpecs(env ExecEnv, t *storage.Table) []uniqueKeySpec {
	var specs []uniqueKeySpec
	for i, col := range t.Cols {
		if col.Constraint == storage.PrimaryKey || col.Constraint == storage.Unique {
			specs = append(specs, uniqueKeySpec{
				positions: []int{i},
				desc:      t.Name + "." + col.Name,
			})
		}
	}
	for _, idx := range env.db.Catalog().GetIndexesForTable(env.tenant, t.Name) {
		if !idx.Unique {
			continue
		}
		positions := make([]int, 0, len(idx.Columns))
		parts := make([]string, 0, len(idx.Columns))
		ok := true
		for _, c := range idx.Columns {
			p, err := t.ColIndex(c)
			if err != nil {
				ok = false
				break
			}
			positions = append(positions, p)
			parts = append(parts, t.Name+"."+c)
		}
		if ok {
			specs = append(specs, uniqueKeySpec{positions: positions, desc: strings.Join(parts, ", ")})
		}
	}
	return specs
}

// notNullCheck rejects NULL in PRIMARY KEY columns.
func notNullCheck(t *storage.Table, row []any) error {
	for i, col := range t.Cols {
		if col.Constraint == storage.PrimaryKey && row[i] == nil {
			return fmt.Errorf("NOT NULL constraint failed: %s.%s", t.Name, col.Name)
		}
	}
	return nil
}

// keyMatches reports whether existing matches row on every position of the
// spec. NULLs never conflict (SQL semantics: NULL is distinct from NULL).
func keyMatches(spec uniqueKeySpec, existing, row []any) bool {
	for _, p := range spec.positions {
		a, b := existing[p], row[p]
		if a == nil || b == nil {
			return false
		}
		if cmpVals(a, b) != 0 {
			return false
		}
	}
	return true
}

// findConflict returns the first row index of t conflicting with row under
// any uniqueness rule, plus the rule's description; (-1, "") when clean.
func findConflict(specs []uniqueKeySpec, t *storage.Table, row []any) (int, string) {
	for _, spec := range specs {
		for ri, existing := range t.Rows {
			if keyMatches(spec, existing, row) {
				return ri, spec.desc
			}
		}
	}
	return -1, ""
}

// applyInsertConstraints enforces uniqueness for row according to orAction.
// insert reports whether the row should be appended; replaced reports
// whether OR REPLACE removed conflicting rows (callers must then log the
// whole table, not just the appended tail).
func applyInsertConstraints(env ExecEnv, t *storage.Table, row []any, orAction string) (insert, replaced bool, err error) {
	if err := notNullCheck(t, row); err != nil {
		return false, false, err
	}
	specs := uniqueKeySpecs(env, t)
	if len(specs) == 0 {
		return true, false, nil
	}

	switch orAction {
	case "REPLACE":
		// Delete every row that conflicts on any uniqueness rule, repeating
		// until no conflicts remain.
		for {
			ri, _ := findConflict(specs, t, row)
			if ri < 0 {
				break
			}
			t.Rows = append(t.Rows[:ri], t.Rows[ri+1:]...)
			replaced = true
		}
		return true, replaced, nil
	case "IGNORE":
		if ri, _ := findConflict(specs, t, row); ri >= 0 {
			return false, false, nil
		}
		return true, false, nil
	default:
		if ri, desc := findConflict(specs, t, row); ri >= 0 {
			return false, false, fmt.Errorf("UNIQUE constraint failed: %s", desc)
		}
		return true, false, nil
	}
}

// findDuplicateKey returns the index of the first row that duplicates an
// earlier row on cols, or -1. Used to validate CREATE UNIQUE INDEX against
// existing data.
func findDuplicateKey(t *storage.Table, cols []string) int {
	positions := make([]int, 0, len(cols))
	for _, c := range cols {
		p, err := t.ColIndex(c)
		if err != nil {
			return -1
		}
		positions = append(positions, p)
	}
	seen := make(map[string]bool, len(t.Rows))
	for ri, r := range t.Rows {
		allSet := true
		var sb strings.Builder
		for _, p := range positions {
			if r[p] == nil {
				allSet = false
				break
			}
			fmt.Fprintf(&sb, "%v\x00", r[p])
		}
		if !allSet {
			continue
		}
		key := sb.String()
		if seen[key] {
			return ri
		}
		seen[key] = true
	}
	return -1
}
