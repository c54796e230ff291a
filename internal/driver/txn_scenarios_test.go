package driver

import (
	"database/sql"
	"testing"
)

// Transaction visibility scenario: a transaction sees its own updates, and
// a rollback restores the pre-transaction state.
func TestTx_UpdateVisibleThenRolledBack(t *testing.T) {
	db, err := sql.Open("pagedsql", "mem://")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mustExec := func(q string) {
		t.Helper()
		if _, err := db.Exec(q); err != nil {
			t.Fatalf("%s: %v", q, err)
		}
	}
	mustExec("CREATE TABLE t (a INT)")
	mustExec("INSERT INTO t VALUES (1), (2)")

	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Exec("UPDATE t SET a = a + 10"); err != nil {
		t.Fatalf("update in tx: %v", err)
	}

	// Inside the transaction the updated values are visible.
	rows, err := tx.Query("SELECT a FROM t ORDER BY a")
	if err != nil {
		t.Fatal(err)
	}
	var got []int
	for rows.Next() {
		var a int
		if err := rows.Scan(&a); err != nil {
			t.Fatal(err)
		}
		got = append(got, a)
	}
	rows.Close()
	if len(got) != 2 || got[0] != 11 || got[1] != 12 {
		t.Fatalf("in-tx values: %v, want [11 12]", got)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	// After rollback the original rows are back.
	rows, err = db.Query("SELECT a FROM t ORDER BY a")
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	got = got[:0]
	for rows.Next() {
		var a int
		if err := rows.Scan(&a); err != nil {
			t.Fatal(err)
		}
		got = append(got, a)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("post-rollback values: %v, want [1 2]", got)
	}
}
