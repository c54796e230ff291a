// Package engine — statement-to-bytecode compiler.
//
// What: Lowers parsed statements into VM Programs: a growing instruction
// vector with register-targeted loads, conditional jumps for WHERE (AND/OR
// become jump chains, so short-circuiting is structural), cursor loops for
// scans, the external-merge sorter for ORDER BY, and Insert/Delete row
// opcodes for writes.
// How: compileForVM inspects the statement and either produces a Program
// or reports that this shape still runs on the tree-walking evaluator.
// Compiled today: single-table SELECT without joins/aggregates/grouping/
// set operations (full-scan plans — index-accelerated plans stay with the
// planner's probe path), INSERT ... VALUES, UPDATE, and DELETE. Expression
// forms the emitter does not cover (CASE, IN, LIKE, subqueries, window
// calls) fall back as a whole statement, so both execution paths always
// agree on semantics.
// Why: Emitting real bytecode makes the execution order inspectable
// (EXPLAIN prints the program) and pins the short-circuit and three-valued
// comparison contracts at the instruction level.
package engine

import (
	"fmt"
	"strings"

	"github.com/SimonWaldherr/pagedSQL/internal/storage"
)

type stmtKind int

const (
	stmtSelect stmtKind = iota
	stmtInsert
	stmtUpdate
	stmtDelete
)

// CompiledStmt pairs a Program with what Execute must do around it.
type CompiledStmt struct {
	Prog  *Program
	Kind  stmtKind
	Table string
}

// errFallback signals a statement shape the emitter does not cover; the
// caller routes it to the tree-walking evaluator instead.
var errFallback = fmt.Errorf("statement not compilable to bytecode")

// label collects forward-jump fixups until its target is known.
type label struct {
	addrs []int
	pos   int
	bound bool
}

// codegen carries one compilation: the program under construction, the
// register allocator, and the FROM table's column map.
type codegen struct {
	env  ExecEnv
	prog *Program

	table  *storage.Table
	alias  string
	cursor int

	nextReg int
	nextCur int
}

func (g *codegen) allocReg() int {
	r := g.nextReg
	g.nextReg++
	return r
}

func (g *codegen) allocRegs(n int) int {
	r := g.nextReg
	g.nextReg += n
	return r
}

func (g *codegen) allocCursor() int {
	c := g.nextCur
	g.nextCur++
	return c
}

func (g *codegen) emit(in Instr) int { return g.prog.emit(in) }

func (g *codegen) newLabel() *label { return &label{} }

// jump emits an instruction whose P2 targets l.
func (g *codegen) jump(in Instr, l *label) {
	addr := g.emit(in)
	if l.bound {
		g.prog.fixJump(addr, l.pos)
	} else {
		l.addrs = append(l.addrs, addr)
	}
}

// bind resolves l to the next instruction address.
func (g *codegen) bind(l *label) {
	l.pos = len(g.prog.Instrs)
	l.bound = true
	for _, addr := range l.addrs {
		g.prog.fixJump(addr, l.pos)
	}
	l.addrs = nil
}

// resolveColumn maps a (possibly qualified) name to a column index of the
// FROM table.
func (g *codegen) resolveColumn(name string) (int, error) {
	lc := strings.ToLower(name)
	if i := strings.LastIndex(lc, "."); i >= 0 {
		qual := lc[:i]
		if qual != strings.ToLower(g.alias) && qual != strings.ToLower(g.table.Name) {
			return -1, errFallback
		}
		lc = lc[i+1:]
	}
	idx, err := g.table.ColIndex(lc)
	if err != nil {
		return -1, errFallback
	}
	return idx, nil
}

// ───────────────────────────────────────────────────────────────────────────
// Expression emission (value form)
// ───────────────────────────────────────────────────────────────────────────

// emitExprInto compiles e so its value lands in register dst. Expression
// shapes outside the emitter's coverage return errFallback.
func (g *codegen) emitExprInto(e Expr, dst int) error {
	switch ex := e.(type) {
	case *Literal:
		return g.emitLiteral(ex.Val, dst)

	case *VarRef:
		if g.table == nil {
			return errFallback
		}
		col, err := g.resolveColumn(ex.Name)
		if err != nil {
			return err
		}
		g.emit(Instr{Op: OpColumn, P1: g.cursor, P2: col, P3: dst, Comment: ex.Name})
		return nil

	case *Unary:
		switch ex.Op {
		case "+":
			if err := g.emitExprInto(ex.Expr, dst); err != nil {
				return err
			}
			g.emit(Instr{Op: OpRealAffinity, P1: dst})
			return nil
		case "-":
			zero := g.allocReg()
			g.emit(Instr{Op: OpInteger, P1: 0, P2: zero})
			operand := g.allocReg()
			if err := g.emitExprInto(ex.Expr, operand); err != nil {
				return err
			}
			// r[dst] = r[zero] - r[operand]
			g.emit(Instr{Op: OpSubtract, P1: operand, P2: zero, P3: dst})
			return nil
		case "NOT":
			operand := g.allocReg()
			if err := g.emitExprInto(ex.Expr, operand); err != nil {
				return err
			}
			g.emit(Instr{Op: OpNot, P1: operand, P2: dst})
			return nil
		}
		return errFallback

	case *Binary:
		switch ex.Op {
		case "+", "-", "*", "/":
			return g.emitArith(ex, dst)
		case "=", "!=", "<>", "<", "<=", ">", ">=":
			return g.emitComparisonValue(ex, dst)
		case "AND", "OR":
			// Logic in value position (projections, SET) keeps the
			// evaluator's exact three-valued semantics; only the jump
			// form below is lowered.
			return errFallback
		}
		return errFallback

	case *IsNull:
		operand := g.allocReg()
		if err := g.emitExprInto(ex.Expr, operand); err != nil {
			return err
		}
		yes := g.newLabel()
		end := g.newLabel()
		op := OpIsNull
		if ex.Negate {
			op = OpNotNull
		}
		g.jump(Instr{Op: op, P1: operand}, yes)
		g.emit(Instr{Op: OpInteger, P1: 0, P2: dst})
		g.jump(Instr{Op: OpGoto}, end)
		g.bind(yes)
		g.emit(Instr{Op: OpInteger, P1: 1, P2: dst})
		g.bind(end)
		return nil

	case *FuncCall:
		if ex.Star || ex.Distinct || ex.Over != nil || isAggregate(ex) {
			return errFallback
		}
		base := g.allocRegs(len(ex.Args))
		for i, arg := range ex.Args {
			if err := g.emitExprInto(arg, base+i); err != nil {
				return err
			}
		}
		g.emit(Instr{
			Op: OpFunction, P2: base, P3: dst,
			P4: strings.ToUpper(ex.Name), P5: uint8(len(ex.Args)),
			Comment: ex.Name,
		})
		return nil
	}

	// CASE, IN, LIKE, subqueries, and anything not handled above.
	return errFallback
}

func (g *codegen) emitLiteral(v any, dst int) error {
	switch x := v.(type) {
	case nil:
		g.emit(Instr{Op: OpNull, P2: dst, P3: dst})
	case bool:
		// Boolean literals are the integers 1 and 0.
		n := 0
		if x {
			n = 1
		}
		g.emit(Instr{Op: OpInteger, P1: n, P2: dst})
	case int:
		g.emit(Instr{Op: OpInteger, P1: x, P2: dst})
	case int64:
		g.emit(Instr{Op: OpInt64, P2: dst, P4: x})
	case float64:
		g.emit(Instr{Op: OpReal, P2: dst, P4: x})
	case string:
		g.emit(Instr{Op: OpString8, P2: dst, P4: x})
	case []byte:
		g.emit(Instr{Op: OpBlob, P2: dst, P4: x})
	default:
		return errFallback
	}
	return nil
}

func (g *codegen) emitArith(ex *Binary, dst int) error {
	left := g.allocReg()
	if err := g.emitExprInto(ex.Left, left); err != nil {
		return err
	}
	right := g.allocReg()
	if err := g.emitExprInto(ex.Right, right); err != nil {
		return err
	}
	var op Opcode
	switch ex.Op {
	case "+":
		op = OpAdd
	case "-":
		op = OpSubtract
	case "*":
		op = OpMultiply
	case "/":
		op = OpDivide
	}
	// r[dst] = r[P2] <op> r[P1]: P1 is the right operand.
	g.emit(Instr{Op: op, P1: right, P2: left, P3: dst})
	return nil
}

func comparisonOpcode(op string) (Opcode, bool) {
	switch op {
	case "=":
		return OpEq, true
	case "!=", "<>":
		return OpNe, true
	case "<":
		return OpLt, true
	case "<=":
		return OpLe, true
	case ">":
		return OpGt, true
	case ">=":
		return OpGe, true
	}
	return OpNoop, false
}

// inverseComparison returns the opcode that jumps exactly when op does not.
func inverseComparison(op Opcode) Opcode {
	switch op {
	case OpEq:
		return OpNe
	case OpNe:
		return OpEq
	case OpLt:
		return OpGe
	case OpLe:
		return OpGt
	case OpGt:
		return OpLe
	case OpGe:
		return OpLt
	}
	return OpNoop
}

// emitComparisonValue materializes a comparison as 1 / 0 / NULL, using the
// jump-only comparison opcodes the way the reference VM does.
func (g *codegen) emitComparisonValue(ex *Binary, dst int) error {
	left := g.allocReg()
	if err := g.emitExprInto(ex.Left, left); err != nil {
		return err
	}
	right := g.allocReg()
	if err := g.emitExprInto(ex.Right, right); err != nil {
		return err
	}
	op, _ := comparisonOpcode(ex.Op)

	null := g.newLabel()
	yes := g.newLabel()
	end := g.newLabel()
	g.jump(Instr{Op: OpIsNull, P1: left}, null)
	g.jump(Instr{Op: OpIsNull, P1: right}, null)
	// Jump when r[P3] <op> r[P1].
	g.jump(Instr{Op: op, P1: right, P3: left}, yes)
	g.emit(Instr{Op: OpInteger, P1: 0, P2: dst})
	g.jump(Instr{Op: OpGoto}, end)
	g.bind(yes)
	g.emit(Instr{Op: OpInteger, P1: 1, P2: dst})
	g.jump(Instr{Op: OpGoto}, end)
	g.bind(null)
	g.emit(Instr{Op: OpNull, P2: dst, P3: dst})
	g.bind(end)
	return nil
}

// ───────────────────────────────────────────────────────────────────────────
// Condition emission (jump form) — this is where AND/OR short-circuit
// ───────────────────────────────────────────────────────────────────────────

// emitCondFalse jumps to onFalse when e is false or NULL — WHERE
// semantics: a row qualifies only when the condition is true. AND and OR
// become jump chains, which is what makes short-circuiting structural:
// once the left operand decides the outcome, the right operand's
// instructions are simply never reached.
func (g *codegen) emitCondFalse(e Expr, onFalse *label) error {
	switch ex := e.(type) {
	case *Binary:
		switch ex.Op {
		case "AND":
			if err := g.emitCondFalse(ex.Left, onFalse); err != nil {
				return err
			}
			return g.emitCondFalse(ex.Right, onFalse)
		case "OR":
			isTrue := g.newLabel()
			if err := g.emitCondTrue(ex.Left, isTrue); err != nil {
				return err
			}
			if err := g.emitCondFalse(ex.Right, onFalse); err != nil {
				return err
			}
			g.bind(isTrue)
			return nil
		case "=", "!=", "<>", "<", "<=", ">", ">=":
			left := g.allocReg()
			if err := g.emitExprInto(ex.Left, left); err != nil {
				return err
			}
			right := g.allocReg()
			if err := g.emitExprInto(ex.Right, right); err != nil {
				return err
			}
			op, _ := comparisonOpcode(ex.Op)
			// Jump to onFalse when the inverse holds; a NULL operand
			// jumps too (unknown disqualifies the row).
			g.jump(Instr{Op: inverseComparison(op), P1: right, P3: left, P5: FlagJumpIfNull}, onFalse)
			return nil
		}

	case *IsNull:
		operand := g.allocReg()
		if err := g.emitExprInto(ex.Expr, operand); err != nil {
			return err
		}
		op := OpNotNull // IS NULL is false when the operand is not null
		if ex.Negate {
			op = OpIsNull
		}
		g.jump(Instr{Op: op, P1: operand}, onFalse)
		return nil
	}

	// Generic truth test over the materialized value (covers NOT, whose
	// OpNot lowering is already three-valued: NULL stays NULL and IfNot
	// treats it as disqualifying).
	r := g.allocReg()
	if err := g.emitExprInto(e, r); err != nil {
		return err
	}
	g.jump(Instr{Op: OpIfNot, P1: r, P3: 1}, onFalse)
	return nil
}

// emitCondTrue jumps to onTrue when e is true; false and NULL fall
// through (unknown is not true).
func (g *codegen) emitCondTrue(e Expr, onTrue *label) error {
	switch ex := e.(type) {
	case *Binary:
		switch ex.Op {
		case "OR":
			if err := g.emitCondTrue(ex.Left, onTrue); err != nil {
				return err
			}
			return g.emitCondTrue(ex.Right, onTrue)
		case "AND":
			isFalse := g.newLabel()
			if err := g.emitCondFalse(ex.Left, isFalse); err != nil {
				return err
			}
			if err := g.emitCondTrue(ex.Right, onTrue); err != nil {
				return err
			}
			g.bind(isFalse)
			return nil
		case "=", "!=", "<>", "<", "<=", ">", ">=":
			left := g.allocReg()
			if err := g.emitExprInto(ex.Left, left); err != nil {
				return err
			}
			right := g.allocReg()
			if err := g.emitExprInto(ex.Right, right); err != nil {
				return err
			}
			op, _ := comparisonOpcode(ex.Op)
			// NULL falls through without the flag: unknown is not true.
			g.jump(Instr{Op: op, P1: right, P3: left}, onTrue)
			return nil
		}

	case *IsNull:
		operand := g.allocReg()
		if err := g.emitExprInto(ex.Expr, operand); err != nil {
			return err
		}
		op := OpIsNull
		if ex.Negate {
			op = OpNotNull
		}
		g.jump(Instr{Op: op, P1: operand}, onTrue)
		return nil
	}

	r := g.allocReg()
	if err := g.emitExprInto(e, r); err != nil {
		return err
	}
	g.jump(Instr{Op: OpIf, P1: r}, onTrue)
	return nil
}

// ───────────────────────────────────────────────────────────────────────────
// Statement compilation
// ───────────────────────────────────────────────────────────────────────────

// compileForVM lowers stmt to bytecode when the emitter covers its shape.
// The boolean result reports coverage; false routes the statement to the
// tree-walking evaluator.
func compileForVM(env ExecEnv, stmt Statement) (*CompiledStmt, bool) {
	var c *CompiledStmt
	var err error
	switch s := stmt.(type) {
	case *Select:
		c, err = compileSelect(env, s)
	case *Insert:
		c, err = compileInsert(env, s)
	case *Update:
		c, err = compileUpdate(env, s)
	case *Delete:
		c, err = compileDelete(env, s)
	default:
		return nil, false
	}
	if err != nil {
		return nil, false
	}
	return c, true
}

// newCodegen opens the FROM table and seeds the program with Init and an
// open-cursor instruction.
func newCodegen(env ExecEnv, tableName, alias string, write bool) (*codegen, error) {
	t, err := env.db.Get(env.tenant, tableName)
	if err != nil {
		return nil, errFallback
	}
	g := &codegen{env: env, prog: &Program{}, table: t, alias: alias}
	g.cursor = g.allocCursor()
	g.emit(Instr{Op: OpInit, P2: 1})
	op := OpOpenRead
	if write {
		op = OpOpenWrite
	}
	g.emit(Instr{Op: op, P1: g.cursor, P4: t.Name, Comment: t.Name})
	return g, nil
}

func (g *codegen) finish(kind stmtKind) *CompiledStmt {
	g.emit(Instr{Op: OpClose, P1: g.cursor})
	g.emit(Instr{Op: OpHalt})
	g.prog.NumRegs = g.nextReg
	g.prog.NumCurs = g.nextCur
	return &CompiledStmt{Prog: g.prog, Kind: kind, Table: g.table.Name}
}

// vmSelectShape reports whether a SELECT is in the emitter's coverage.
func vmSelectShape(env ExecEnv, s *Select) bool {
	if len(s.CTEs) > 0 || len(s.Joins) > 0 || s.Union != nil ||
		s.Distinct || len(s.DistinctOn) > 0 ||
		len(s.GroupBy) > 0 || s.Having != nil {
		return false
	}
	if s.From.Table == "" || s.From.Subquery != nil || s.From.TableFunc != nil {
		return false
	}
	lc := strings.ToLower(s.From.Table)
	if strings.HasPrefix(lc, "catalog.") || strings.HasPrefix(lc, "sys.") {
		return false
	}
	if env.db.Catalog().GetView(env.tenant, lc) != nil {
		return false
	}
	for _, it := range s.Projs {
		if it.Star {
			return false
		}
		if isAggregate(it.Expr) || hasWindowFunction(it.Expr) {
			return false
		}
	}
	return true
}

func compileSelect(env ExecEnv, s *Select) (*CompiledStmt, error) {
	if !vmSelectShape(env, s) {
		return nil, errFallback
	}

	g, err := newCodegen(env, s.From.Table, aliasOr(s.From), false)
	if err != nil {
		return nil, err
	}

	// Index-accelerated plans stay with the planner's probe path in the
	// evaluator; the bytecode loop is the full-scan plan.
	if s.Where != nil {
		if ap := planTableAccess(env, g.table, g.alias, s); ap != nil && (ap.Index != nil || ap.PKColumn != "") {
			return nil, errFallback
		}
	}

	cols := make([]string, len(s.Projs))
	for i, it := range s.Projs {
		cols[i] = projName(it, i)
	}
	g.prog.Cols = cols

	nOut := len(s.Projs)
	outBase := g.allocRegs(nOut)

	// ORDER BY runs through the sorter; keys must resolve to a
	// projection.
	type sortKey struct {
		expr Expr
		desc bool
	}
	var keys []sortKey
	for _, oi := range s.OrderBy {
		// Sort keys must name a projection (by alias or column); ordering
		// by a column the projection drops stays with the evaluator so
		// both paths agree.
		var keyExpr Expr
		for i, it := range s.Projs {
			if strings.EqualFold(projName(it, i), oi.Col) {
				keyExpr = it.Expr
				break
			}
		}
		if keyExpr == nil {
			return nil, errFallback
		}
		keys = append(keys, sortKey{expr: keyExpr, desc: oi.Desc})
	}
	sorted := len(keys) > 0

	var sorterCur int
	if sorted {
		sorterCur = g.allocCursor()
		desc := make([]bool, len(keys))
		for i, k := range keys {
			desc[i] = k.desc
		}
		g.emit(Instr{Op: OpSorterOpen, P1: sorterCur, P2: len(keys), P4: desc})
	}

	// LIMIT/OFFSET counters (applied at output time).
	limitReg, offsetReg := -1, -1
	initLimit := func() {
		if s.Limit != nil {
			limitReg = g.allocReg()
			g.emit(Instr{Op: OpInteger, P1: *s.Limit, P2: limitReg, Comment: "LIMIT"})
		}
		if s.Offset != nil {
			offsetReg = g.allocReg()
			g.emit(Instr{Op: OpInteger, P1: *s.Offset, P2: offsetReg, Comment: "OFFSET"})
		}
	}
	if !sorted {
		initLimit()
	}

	done := g.newLabel()
	g.jump(Instr{Op: OpRewind, P1: g.cursor}, done)

	loop := len(g.prog.Instrs)
	next := g.newLabel()

	if s.Where != nil {
		if err := g.emitCondFalse(s.Where, next); err != nil {
			return nil, err
		}
	}

	if sorted {
		// Record = sort keys then result columns.
		recBase := g.allocRegs(len(keys) + nOut)
		for i, k := range keys {
			if err := g.emitExprInto(k.expr, recBase+i); err != nil {
				return nil, err
			}
		}
		for i, it := range s.Projs {
			if err := g.emitExprInto(it.Expr, recBase+len(keys)+i); err != nil {
				return nil, err
			}
		}
		rec := g.allocReg()
		g.emit(Instr{Op: OpMakeRecord, P1: recBase, P2: len(keys) + nOut, P3: rec})
		g.emit(Instr{Op: OpSorterInsert, P1: sorterCur, P2: rec})
	} else {
		if offsetReg >= 0 {
			g.jump(Instr{Op: OpIfNotZero, P1: offsetReg}, next)
		}
		if limitReg >= 0 {
			doRow := g.newLabel()
			g.jump(Instr{Op: OpIfNotZero, P1: limitReg}, doRow)
			g.jump(Instr{Op: OpGoto}, done)
			g.bind(doRow)
		}
		for i, it := range s.Projs {
			if err := g.emitExprInto(it.Expr, outBase+i); err != nil {
				return nil, err
			}
		}
		g.emit(Instr{Op: OpResultRow, P1: outBase, P2: nOut})
	}

	g.bind(next)
	g.prog.emit(Instr{Op: OpNext, P1: g.cursor, P2: loop})
	g.bind(done)

	if sorted {
		initLimit()
		sortDone := g.newLabel()
		g.jump(Instr{Op: OpSorterSort, P1: sorterCur}, sortDone)

		rec := g.allocReg()
		pseudo := g.allocCursor()
		g.emit(Instr{Op: OpOpenPseudo, P1: pseudo, P2: rec})

		sortLoop := len(g.prog.Instrs)
		sortNext := g.newLabel()
		g.emit(Instr{Op: OpSorterData, P1: sorterCur, P2: rec})
		if offsetReg >= 0 {
			g.jump(Instr{Op: OpIfNotZero, P1: offsetReg}, sortNext)
		}
		if limitReg >= 0 {
			doRow := g.newLabel()
			g.jump(Instr{Op: OpIfNotZero, P1: limitReg}, doRow)
			g.jump(Instr{Op: OpGoto}, sortDone)
			g.bind(doRow)
		}
		for i := 0; i < nOut; i++ {
			g.emit(Instr{Op: OpColumn, P1: pseudo, P2: len(keys) + i, P3: outBase + i})
		}
		g.emit(Instr{Op: OpResultRow, P1: outBase, P2: nOut})
		g.bind(sortNext)
		g.prog.emit(Instr{Op: OpSorterNext, P1: sorterCur, P2: sortLoop})
		g.bind(sortDone)
		g.emit(Instr{Op: OpClose, P1: sorterCur})
		g.emit(Instr{Op: OpClose, P1: pseudo})
	}

	return g.finish(stmtSelect), nil
}

func compileInsert(env ExecEnv, s *Insert) (*CompiledStmt, error) {
	g, err := newCodegen(env, s.Table, s.Table, true)
	if err != nil {
		return nil, err
	}
	nCols := len(g.table.Cols)
	if nCols == 0 {
		return nil, errFallback
	}

	colIdx := make([]int, len(s.Cols))
	for i, name := range s.Cols {
		idx, err := g.table.ColIndex(name)
		if err != nil {
			return nil, errFallback
		}
		colIdx[i] = idx
	}

	var p5 uint8
	switch s.Or {
	case "REPLACE":
		p5 = FlagReplace
	case "IGNORE":
		p5 = FlagIgnore
	}

	base := g.allocRegs(nCols)
	rec := g.allocReg()
	rowid := g.allocReg()
	// VALUES expressions evaluate without a row context: a column
	// reference in VALUES is an error shape, and emitExprInto surfaces it
	// as a fallback because the names never resolve against nil.
	saveTable := g.table
	g.table = nil
	for _, vals := range s.Rows {
		if len(s.Cols) == 0 && len(vals) != nCols {
			return nil, errFallback // the evaluator reports the arity error
		}
		if len(s.Cols) != 0 && len(vals) != len(s.Cols) {
			return nil, errFallback
		}
		g.emit(Instr{Op: OpNull, P2: base, P3: base + nCols - 1})
		if len(s.Cols) == 0 {
			for i, e := range vals {
				if err := g.emitExprInto(e, base+i); err != nil {
					g.table = saveTable
					return nil, err
				}
			}
		} else {
			for i, e := range vals {
				if err := g.emitExprInto(e, base+colIdx[i]); err != nil {
					g.table = saveTable
					return nil, err
				}
			}
		}
		g.emit(Instr{Op: OpMakeRecord, P1: base, P2: nCols, P3: rec})
		g.emit(Instr{Op: OpNewRowid, P1: g.cursor, P2: rowid})
		g.emit(Instr{Op: OpInsert, P1: g.cursor, P2: rec, P3: rowid, P5: p5})
	}
	g.table = saveTable
	return g.finish(stmtInsert), nil
}

func compileDelete(env ExecEnv, s *Delete) (*CompiledStmt, error) {
	g, err := newCodegen(env, s.Table, s.Table, true)
	if err != nil {
		return nil, err
	}

	done := g.newLabel()
	g.jump(Instr{Op: OpRewind, P1: g.cursor}, done)
	loop := len(g.prog.Instrs)
	next := g.newLabel()
	if s.Where != nil {
		if err := g.emitCondFalse(s.Where, next); err != nil {
			return nil, err
		}
	}
	g.emit(Instr{Op: OpDelete, P1: g.cursor})
	g.bind(next)
	g.prog.emit(Instr{Op: OpNext, P1: g.cursor, P2: loop})
	g.bind(done)
	return g.finish(stmtDelete), nil
}

func compileUpdate(env ExecEnv, s *Update) (*CompiledStmt, error) {
	g, err := newCodegen(env, s.Table, s.Table, true)
	if err != nil {
		return nil, err
	}
	nCols := len(g.table.Cols)

	type setTarget struct {
		col  int
		expr Expr
	}
	var sets []setTarget
	for name, e := range s.Sets {
		idx, err := g.table.ColIndex(name)
		if err != nil {
			return nil, errFallback
		}
		sets = append(sets, setTarget{col: idx, expr: e})
	}

	done := g.newLabel()
	g.jump(Instr{Op: OpRewind, P1: g.cursor}, done)
	loop := len(g.prog.Instrs)
	next := g.newLabel()
	if s.Where != nil {
		if err := g.emitCondFalse(s.Where, next); err != nil {
			return nil, err
		}
	}

	// Copy the current row, overwrite assigned columns, write back in
	// place keyed by the current rowid.
	base := g.allocRegs(nCols)
	for i := 0; i < nCols; i++ {
		g.emit(Instr{Op: OpColumn, P1: g.cursor, P2: i, P3: base + i})
	}
	for _, st := range sets {
		if err := g.emitExprInto(st.expr, base+st.col); err != nil {
			return nil, err
		}
	}
	rec := g.allocReg()
	rowid := g.allocReg()
	g.emit(Instr{Op: OpRowid, P1: g.cursor, P2: rowid})
	g.emit(Instr{Op: OpMakeRecord, P1: base, P2: nCols, P3: rec})
	g.emit(Instr{Op: OpInsert, P1: g.cursor, P2: rec, P3: rowid})

	g.bind(next)
	g.prog.emit(Instr{Op: OpNext, P1: g.cursor, P2: loop})
	g.bind(done)
	return g.finish(stmtUpdate), nil
}

// runCompiled executes a compiled statement and shapes the result the way
// the evaluator does for the same statement kind.
func runCompiled(env ExecEnv, c *CompiledStmt) (*ResultSet, error) {
	vm := NewVM(env, c.Prog)
	rs, err := vm.Run()
	if err != nil {
		return nil, err
	}
	switch c.Kind {
	case stmtSelect:
		return rs, nil
	case stmtInsert:
		bumpTableVersion(env, c.Table)
		return nil, nil
	case stmtUpdate:
		bumpTableVersion(env, c.Table)
		return &ResultSet{Cols: []string{"updated"}, Rows: []Row{{"updated": vm.Changes()}}}, nil
	case stmtDelete:
		bumpTableVersion(env, c.Table)
		return &ResultSet{Cols: []string{"deleted"}, Rows: []Row{{"deleted": vm.Changes()}}}, nil
	}
	return rs, nil
}

func bumpTableVersion(env ExecEnv, table string) {
	if t, err := env.db.Get(env.tenant, table); err == nil {
		t.Version++
	}
}
