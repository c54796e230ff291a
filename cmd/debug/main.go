package main

import (
	"context"
	"fmt"

	pagedsql "github.com/SimonWaldherr/pagedSQL"
)

func main() {
	db := pagedsql.NewDB()

	p := pagedsql.NewParser(`CREATE TABLE test_bool (id INT, flag BOOL)`)
	st, _ := p.ParseStatement()
	if _, err := pagedsql.Execute(context.Background(), db, "default", st); err != nil {
		fmt.Println("create err", err)
		return
	}

	p = pagedsql.NewParser(`INSERT INTO test_bool VALUES (1, true)`)
	st, _ = p.ParseStatement()
	if _, err := pagedsql.Execute(context.Background(), db, "default", st); err != nil {
		fmt.Println("insert1 err", err)
		return
	}

	p = pagedsql.NewParser(`INSERT INTO test_bool VALUES (2, false)`)
	st, _ = p.ParseStatement()
	if _, err := pagedsql.Execute(context.Background(), db, "default", st); err != nil {
		fmt.Println("insert2 err", err)
		return
	}

	p = pagedsql.NewParser(`SELECT * FROM test_bool ORDER BY id`)
	st, _ = p.ParseStatement()
	rs, err := pagedsql.Execute(context.Background(), db, "default", st)
	if err != nil {
		fmt.Println("select err", err)
		return
	}

	fmt.Println("Cols:", rs.Cols)
	for i, r := range rs.Rows {
		fmt.Printf("Row %d keys: %v\n", i, r)
		if v, ok := pagedsql.GetVal(r, "test_bool.flag"); ok {
			fmt.Printf("GetVal(test_bool.flag) -> %v\n", v)
		}
		if v, ok := pagedsql.GetVal(r, "flag"); ok {
			fmt.Printf("GetVal(flag) -> %v\n", v)
		}
	}
}
