package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/SimonWaldherr/pagedSQL/internal/storage"
)

// End-to-end scenarios: each runs a small SQL workload against a fresh
// database and checks the literal result.

func execSQL(t *testing.T, db *storage.DB, sql string) *ResultSet {
	t.Helper()
	rs, err := Execute(context.Background(), db, "default", mustParse(sql))
	if err != nil {
		t.Fatalf("%s: %v", sql, err)
	}
	return rs
}

func TestScenario_DurableCommit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "durable.db")

	db, err := storage.OpenDB(storage.StorageConfig{Mode: storage.ModePaged, Path: path})
	if err != nil {
		t.Fatal(err)
	}
	execSQL(t, db, "CREATE TABLE t (a INT, b TEXT)")
	execSQL(t, db, "INSERT INTO t VALUES (1, 'x'), (2, 'y')")
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2, err := storage.OpenDB(storage.StorageConfig{Mode: storage.ModePaged, Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	rs := execSQL(t, db2, "SELECT a, b FROM t ORDER BY a")
	if len(rs.Rows) != 2 {
		t.Fatalf("rows after reopen: got %d want 2", len(rs.Rows))
	}
	if rs.Rows[0]["b"] != "x" || rs.Rows[1]["b"] != "y" {
		t.Fatalf("unexpected rows: %v", rs.Rows)
	}
}

func TestScenario_IndexSeekAndPlan(t *testing.T) {
	db := storage.NewDB()
	execSQL(t, db, "CREATE TABLE t (w INT, x INT, y INT)")
	for i := 1; i <= 100; i++ {
		execSQL(t, db, fmt.Sprintf("INSERT INTO t VALUES (%d, %d, %d)", i, i/32, i*i+2*i+1))
	}
	execSQL(t, db, "CREATE INDEX i1w ON t (w)")

	plan := execSQL(t, db, "EXPLAIN QUERY PLAN SELECT x, y, w FROM t WHERE w = 10")
	if len(plan.Rows) == 0 {
		t.Fatal("empty plan")
	}
	detail, _ := plan.Rows[0]["detail"].(string)
	if !strings.Contains(detail, "SEARCH t USING INDEX i1w (w=?)") {
		t.Fatalf("plan detail: %q", detail)
	}

	rs := execSQL(t, db, "SELECT x, y, w FROM t WHERE w = 10")
	if len(rs.Rows) != 1 {
		t.Fatalf("rows: got %d want 1", len(rs.Rows))
	}
	row := rs.Rows[0]
	if toF(row["w"]) != 10 || toF(row["y"]) != 121 {
		t.Fatalf("unexpected row: %v", row)
	}

	// Optimizer correctness: the indexed result equals a forced full scan.
	full := execSQL(t, db, "SELECT x, y, w FROM t WHERE w + 0 = 10")
	if len(full.Rows) != len(rs.Rows) {
		t.Fatalf("index path returned %d rows, full scan %d", len(rs.Rows), len(full.Rows))
	}
}

func toF(v any) float64 {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case float64:
		return x
	}
	return -1
}

func TestScenario_IndexRangeMatchesFullScan(t *testing.T) {
	db := storage.NewDB()
	execSQL(t, db, "CREATE TABLE r (a INT, b INT)")
	for i := 0; i < 60; i++ {
		execSQL(t, db, fmt.Sprintf("INSERT INTO r VALUES (%d, %d)", i%10, i))
	}
	execSQL(t, db, "CREATE INDEX idx_ab ON r (a, b)")

	indexed := execSQL(t, db, "SELECT b FROM r WHERE a = 3 AND b >= 10 ORDER BY b")
	full := execSQL(t, db, "SELECT b FROM r WHERE a + 0 = 3 AND b >= 10 ORDER BY b")
	if len(indexed.Rows) != len(full.Rows) {
		t.Fatalf("indexed %d rows, full %d", len(indexed.Rows), len(full.Rows))
	}
	for i := range indexed.Rows {
		if toF(indexed.Rows[i]["b"]) != toF(full.Rows[i]["b"]) {
			t.Fatalf("row %d: indexed %v, full %v", i, indexed.Rows[i], full.Rows[i])
		}
	}
}

func TestScenario_FreelistReuse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reuse.db")
	db, err := storage.OpenDB(storage.StorageConfig{Mode: storage.ModePaged, Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	execSQL(t, db, "CREATE TABLE bulk (id INT, payload TEXT)")
	insertBulk := func() {
		for batch := 0; batch < 20; batch++ {
			var sb strings.Builder
			sb.WriteString("INSERT INTO bulk VALUES ")
			for i := 0; i < 100; i++ {
				if i > 0 {
					sb.WriteString(", ")
				}
				n := batch*100 + i
				fmt.Fprintf(&sb, "(%d, 'payload-%06d')", n, n)
			}
			execSQL(t, db, sb.String())
		}
	}

	insertBulk()
	if err := db.Sync(); err != nil {
		t.Fatal(err)
	}
	before := execSQL(t, db, "PRAGMA page_count")
	p0 := int(toF(before.Rows[0]["page_count"]))
	if p0 <= 1 {
		t.Fatalf("implausible page count %d", p0)
	}

	execSQL(t, db, "DELETE FROM bulk")
	if err := db.Sync(); err != nil {
		t.Fatal(err)
	}

	insertBulk()
	if err := db.Sync(); err != nil {
		t.Fatal(err)
	}
	after := execSQL(t, db, "PRAGMA page_count")
	p1 := int(toF(after.Rows[0]["page_count"]))

	// Freed pages are recycled: the file does not grow beyond the first
	// load (a couple of free-list trunk pages of slack are tolerated).
	if p1 > p0+3 {
		t.Fatalf("page count grew from %d to %d; freelist not reused", p0, p1)
	}
}

func TestScenario_JoinAfterDelete(t *testing.T) {
	db := storage.NewDB()
	execSQL(t, db, "CREATE TABLE a (k INT PRIMARY KEY)")
	execSQL(t, db, "INSERT INTO a VALUES (1), (2), (3)")
	execSQL(t, db, "CREATE TABLE b (k TEXT)")
	execSQL(t, db, "INSERT INTO b VALUES ('x'), ('y')")
	execSQL(t, db, "DELETE FROM a WHERE k = 2")

	rs := execSQL(t, db, "SELECT a.k, b.k FROM a, b ORDER BY a.k")
	if len(rs.Rows) != 4 {
		t.Fatalf("rows: got %d want 4", len(rs.Rows))
	}
	wantA := []float64{1, 1, 3, 3}
	for i, r := range rs.Rows {
		if toF(r["a.k"]) != wantA[i] {
			t.Fatalf("row %d: a.k=%v want %v (all: %v)", i, r["a.k"], wantA[i], rs.Rows)
		}
	}
}

func TestScenario_RecursiveCTE(t *testing.T) {
	db := storage.NewDB()
	rs := execSQL(t, db,
		"WITH RECURSIVE c(x) AS (VALUES (1) UNION ALL SELECT x + 1 FROM c WHERE x < 5) SELECT x FROM c")
	if len(rs.Rows) != 5 {
		t.Fatalf("rows: got %d want 5: %v", len(rs.Rows), rs.Rows)
	}
	for i, r := range rs.Rows {
		if toF(r["x"]) != float64(i+1) {
			t.Fatalf("row %d: x=%v want %d", i, r["x"], i+1)
		}
	}
}

func TestScenario_UniqueConstraint(t *testing.T) {
	db := storage.NewDB()
	execSQL(t, db, "CREATE TABLE u (a INT UNIQUE)")
	execSQL(t, db, "INSERT INTO u VALUES (1)")

	_, err := Execute(context.Background(), db, "default", mustParse("INSERT INTO u VALUES (1)"))
	if err == nil {
		t.Fatal("duplicate insert should fail")
	}
	if err.Error() != "UNIQUE constraint failed: u.a" {
		t.Fatalf("error text: %q", err.Error())
	}

	rs := execSQL(t, db, "SELECT a FROM u")
	if len(rs.Rows) != 1 {
		t.Fatalf("first row not preserved: %v", rs.Rows)
	}
}

func TestScenario_InsertOrReplace(t *testing.T) {
	db := storage.NewDB()
	execSQL(t, db, "CREATE TABLE kv (k TEXT UNIQUE, v INT)")
	execSQL(t, db, "INSERT INTO kv VALUES ('a', 1)")
	execSQL(t, db, "INSERT OR REPLACE INTO kv VALUES ('a', 2)")
	rs := execSQL(t, db, "SELECT v FROM kv WHERE k = 'a'")
	if len(rs.Rows) != 1 || toF(rs.Rows[0]["v"]) != 2 {
		t.Fatalf("replace result: %v", rs.Rows)
	}

	execSQL(t, db, "INSERT OR IGNORE INTO kv VALUES ('a', 3)")
	rs = execSQL(t, db, "SELECT v FROM kv WHERE k = 'a'")
	if toF(rs.Rows[0]["v"]) != 2 {
		t.Fatalf("ignore should keep the existing row: %v", rs.Rows)
	}
}

func TestScenario_ShortCircuit(t *testing.T) {
	db := storage.NewDB()
	execSQL(t, db, "CREATE TABLE s (a INT, b INT)")
	execSQL(t, db, "INSERT INTO s VALUES (0, 0), (1, 1)")

	// 1/b errors on b=0; AND must skip the right side when a=0 rows are
	// filtered out by the left term first.
	rs := execSQL(t, db, "SELECT a FROM s WHERE a = 1 AND 1 / b = 1")
	if len(rs.Rows) != 1 {
		t.Fatalf("short-circuit AND: %v", rs.Rows)
	}
}

func TestScenario_LegacyQuotedTableName(t *testing.T) {
	db := storage.NewDB()
	execSQL(t, db, "CREATE TABLE table1 (a INT)")
	execSQL(t, db, "INSERT INTO table1 VALUES (1), (2)")
	execSQL(t, db, "DELETE FROM 'table1' WHERE a = 1")
	rs := execSQL(t, db, "SELECT a FROM table1")
	if len(rs.Rows) != 1 {
		t.Fatalf("quoted-identifier delete: %v", rs.Rows)
	}
}
