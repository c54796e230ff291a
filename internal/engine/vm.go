// Package engine — register-based bytecode virtual machine.
//
// What: Executes compiled Programs over numbered registers and cursors.
// Registers hold dynamic values (NULL / number / text / blob); cursors bind
// to storage tables, pseudo-records, or the external-merge sorter. The
// dispatcher fetches one instruction, advances the program counter,
// executes, and checks for cancellation between instructions.
// How: A dense switch over the opcode. Comparisons follow SQL's
// three-valued logic: with a NULL operand they jump only when P5 carries
// FlagNullEq (or FlagJumpIfNull) and otherwise fall through without storing
// anything — the compiler places explicit IsNull handling around them, and
// lowers AND/OR into conditional jumps so short-circuiting is a property of
// the generated code, not of the evaluator. Subprograms (trigger bodies)
// run on explicit frames pushed by OpProgram and popped by OpHalt, so
// nesting depth is bounded by the maxTriggerDepth constant rather than the
// Go stack.
// Why: A bytecode layer makes execution order observable and testable —
// jump targets prove short-circuiting, frames bound trigger recursion, and
// EXPLAIN can print exactly what will run.
package engine

import (
	"fmt"
	"strings"

	"github.com/SimonWaldherr/pagedSQL/internal/storage"
)

// Instr is one VM instruction: an opcode and five operands. P2 is almost
// always a jump target; P4 carries out-of-band constants.
type Instr struct {
	Op      Opcode
	P1      int
	P2      int
	P3      int
	P4      any
	P5      uint8
	Comment string
}

// Program is a compiled statement: a growing instruction vector plus the
// register/cursor budget and result metadata the VM needs to run it.
type Program struct {
	Instrs  []Instr
	NumRegs int
	NumCurs int
	Cols    []string // result column names (SELECT)
}

// emit appends an instruction and returns its address.
func (p *Program) emit(in Instr) int {
	p.Instrs = append(p.Instrs, in)
	return len(p.Instrs) - 1
}

// fixJump patches the P2 operand of the instruction at addr.
func (p *Program) fixJump(addr, target int) {
	p.Instrs[addr].P2 = target
}

// maxTriggerDepth bounds OpProgram nesting independent of the Go stack.
const maxTriggerDepth = 1000

// vmCursor is a cursor over an ordered row source. Table cursors iterate a
// storage table positionally (the position doubles as the rowid); pseudo
// cursors read fields out of a record register; ephemeral cursors own
// their rows.
type vmCursor struct {
	table *storage.Table // table and ephemeral cursors
	rows  [][]any        // ephemeral storage (table cursors share table.Rows)
	eph   bool
	pos   int
	eof   bool

	pseudoReg int // pseudo cursors: register holding the record
	pseudo    bool

	sorter *externalSorter // sorter cursors

	// Deferred seek: the rowid is recorded and the positioning happens on
	// the first read; OpRowid must verify the row still exists.
	deferredRowid int64
	deferred      bool

	writable bool
}

func (c *vmCursor) rowCount() int {
	if c.eph {
		return len(c.rows)
	}
	if c.table != nil {
		return len(c.table.Rows)
	}
	return 0
}

func (c *vmCursor) rowAt(i int) []any {
	if c.eph {
		return c.rows[i]
	}
	return c.table.Rows[i]
}

// resolveDeferred performs a postponed SeekRowid. Reports whether the row
// exists.
func (c *vmCursor) resolveDeferred() bool {
	if !c.deferred {
		return !c.eof
	}
	c.deferred = false
	pos := int(c.deferredRowid) - 1
	if pos < 0 || pos >= c.rowCount() {
		c.eof = true
		return false
	}
	c.pos = pos
	c.eof = false
	return true
}

// frame is one saved execution context for a subprogram call. Registers
// are shared with the caller so a trigger body can read the OLD/NEW rows
// its parent placed there.
type frame struct {
	instrs []Instr
	pc     int
}

// VM executes one Program.
type VM struct {
	env   ExecEnv
	prog  *Program
	regs  []any
	curs  []*vmCursor
	pc    int
	stack []frame

	// Compare/Jump state.
	lastCompare int
	permutation []int

	changes   int
	fkCounter int

	results *ResultSet
	halted  bool
	haltErr error
}

// NewVM prepares a VM for one run of prog.
func NewVM(env ExecEnv, prog *Program) *VM {
	return &VM{
		env:  env,
		prog: prog,
		regs: make([]any, prog.NumRegs),
		curs: make([]*vmCursor, prog.NumCurs),
	}
}

// Run drives the dispatch loop until Halt, end of program, or error. It
// returns the accumulated result rows (nil Cols for statements).
func (vm *VM) Run() (*ResultSet, error) {
	vm.results = &ResultSet{Cols: vm.prog.Cols}
	instrs := vm.prog.Instrs

	// Entry: an OpInit at address 0 jumps to the prologue.
	vm.pc = 0
	for !vm.halted {
		if vm.pc < 0 || vm.pc >= len(instrs) {
			break
		}
		// Interrupt check between instructions.
		if err := checkCtx(vm.env.ctx); err != nil {
			return nil, err
		}
		in := instrs[vm.pc]
		vm.pc++
		if err := vm.step(in); err != nil {
			return nil, err
		}
		// OpProgram / frame-returning OpHalt swap the instruction array.
		instrs = vm.curInstrs()
	}
	if vm.haltErr != nil {
		return nil, vm.haltErr
	}
	return vm.results, nil
}

func (vm *VM) curInstrs() []Instr {
	if len(vm.stack) == 0 {
		return vm.prog.Instrs
	}
	return vm.stack[len(vm.stack)-1].instrs
}

// Changes reports the rows affected by write opcodes.
func (vm *VM) Changes() int { return vm.changes }

func (vm *VM) cursor(i int) (*vmCursor, error) {
	if i < 0 || i >= len(vm.curs) || vm.curs[i] == nil {
		return nil, fmt.Errorf("cursor %d is not open", i)
	}
	return vm.curs[i], nil
}

// vmTruth maps a register to three-valued truth.
func vmTruth(v any) int { return toTri(v) }

// step executes one instruction.
//
//nolint:gocyclo // the dispatcher is intentionally one dense switch
func (vm *VM) step(in Instr) error {
	switch in.Op {

	// ── Control flow ──────────────────────────────────────────────────
	case OpNoop, OpCursorHint, OpCursorUnlock, OpCollSeq, OpSeekScan, OpSeekHit:
		// Hints and no-ops.

	case OpInit, OpGoto:
		vm.pc = in.P2

	case OpGosub:
		vm.regs[in.P1] = vm.pc
		vm.pc = in.P2

	case OpReturn:
		ret, ok := vm.regs[in.P1].(int)
		if !ok {
			return fmt.Errorf("Return: r[%d] holds no return address", in.P1)
		}
		vm.pc = ret

	case OpYield:
		ret, ok := vm.regs[in.P1].(int)
		if !ok {
			return fmt.Errorf("Yield: r[%d] holds no coroutine address", in.P1)
		}
		vm.regs[in.P1] = vm.pc
		vm.pc = ret

	case OpInitCoroutine:
		vm.regs[in.P1] = in.P3
		if in.P2 > 0 {
			vm.pc = in.P2
		}

	case OpEndCoroutine:
		vm.regs[in.P1] = nil

	case OpHalt:
		if len(vm.stack) > 0 {
			// Return from a subprogram frame.
			top := vm.stack[len(vm.stack)-1]
			vm.stack = vm.stack[:len(vm.stack)-1]
			vm.pc = top.pc
			return nil
		}
		vm.halted = true
		if in.P1 != 0 {
			msg, _ := in.P4.(string)
			if msg == "" {
				msg = fmt.Sprintf("halted with error code %d", in.P1)
			}
			vm.haltErr = fmt.Errorf("%s", msg)
		}

	case OpHaltIfNull:
		if vm.regs[in.P3] == nil {
			vm.halted = true
			if in.P1 != 0 {
				msg, _ := in.P4.(string)
				vm.haltErr = fmt.Errorf("%s", msg)
			}
		}

	case OpIf:
		if vmTruth(vm.regs[in.P1]) == tvTrue {
			vm.pc = in.P2
		}

	case OpIfNot:
		if t := vmTruth(vm.regs[in.P1]); t == tvFalse || (t == tvUnknown && in.P3 != 0) {
			vm.pc = in.P2
		}

	case OpIfNotZero:
		if n, ok := numeric(vm.regs[in.P1]); ok && n != 0 {
			vm.regs[in.P1] = n - 1
			vm.pc = in.P2
		}

	case OpIfNullRow:
		cur, err := vm.cursor(in.P1)
		if err != nil {
			return err
		}
		if cur.eof {
			vm.regs[in.P3] = nil
			vm.pc = in.P2
		}

	case OpIfNotOpen:
		if in.P1 >= len(vm.curs) || vm.curs[in.P1] == nil {
			vm.pc = in.P2
		}

	case OpOnce:
		// P1 indexes a register used as the once flag.
		if f, _ := vm.regs[in.P1].(bool); f {
			vm.pc = in.P2
		} else {
			vm.regs[in.P1] = true
		}

	case OpPermutation:
		perm, _ := in.P4.([]int)
		vm.permutation = perm

	case OpCompare:
		n := in.P3
		res := 0
		for i := 0; i < n; i++ {
			idx := i
			if vm.permutation != nil && i < len(vm.permutation) {
				idx = vm.permutation[i]
			}
			if c := cmpVals(vm.regs[in.P1+idx], vm.regs[in.P2+idx]); c != 0 {
				res = c
				break
			}
		}
		vm.lastCompare = res
		vm.permutation = nil

	case OpJump:
		switch {
		case vm.lastCompare < 0:
			vm.pc = in.P1
		case vm.lastCompare == 0:
			vm.pc = in.P2
		default:
			vm.pc = in.P3
		}

	// ── Register loads ────────────────────────────────────────────────
	case OpInteger:
		vm.regs[in.P2] = in.P1

	case OpInt64:
		vm.regs[in.P2] = in.P4

	case OpReal:
		vm.regs[in.P2] = in.P4

	case OpString8:
		vm.regs[in.P2] = in.P4

	case OpBlob:
		vm.regs[in.P2] = in.P4

	case OpNull:
		end := in.P3
		if end < in.P2 {
			end = in.P2
		}
		for i := in.P2; i <= end; i++ {
			vm.regs[i] = nil
		}

	case OpCopy, OpSCopy:
		vm.regs[in.P2] = vm.regs[in.P1]

	case OpMove:
		n := in.P3
		if n <= 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			vm.regs[in.P2+i] = vm.regs[in.P1+i]
			vm.regs[in.P1+i] = nil
		}

	case OpIntCopy:
		if n, ok := numeric(vm.regs[in.P1]); ok {
			vm.regs[in.P2] = int(n)
		} else {
			vm.regs[in.P2] = nil
		}

	case OpVariable:
		if vm.env.params != nil && in.P1-1 >= 0 && in.P1-1 < len(vm.env.params) {
			vm.regs[in.P2] = vm.env.params[in.P1-1]
		} else {
			vm.regs[in.P2] = nil
		}

	case OpRealAffinity:
		if n, ok := numeric(vm.regs[in.P1]); ok {
			vm.regs[in.P1] = n
		}

	case OpCast:
		typ, _ := in.P4.(string)
		v, err := castValue(vm.regs[in.P1], strings.ToUpper(typ))
		if err != nil {
			return err
		}
		vm.regs[in.P1] = v

	case OpAffinity, OpReleaseReg, OpSetSubtype, OpGetSubtype:
		// Affinity strings and subtypes are not modeled; registers are
		// already dynamically typed.

	// ── Arithmetic ────────────────────────────────────────────────────
	case OpAdd:
		return vm.arith("+", in)
	case OpSubtract:
		return vm.arith("-", in)
	case OpMultiply:
		return vm.arith("*", in)
	case OpDivide:
		return vm.arith("/", in)
	case OpRemainder:
		a, aok := numeric(vm.regs[in.P1])
		b, bok := numeric(vm.regs[in.P2])
		if !aok || !bok {
			vm.regs[in.P3] = nil
			return nil
		}
		if int(a) == 0 {
			return fmt.Errorf("division by zero")
		}
		vm.regs[in.P3] = float64(int(b) % int(a))

	case OpConcat:
		a, b := vm.regs[in.P1], vm.regs[in.P2]
		if a == nil || b == nil {
			vm.regs[in.P3] = nil
			return nil
		}
		vm.regs[in.P3] = stringifySQLValue(b) + stringifySQLValue(a)

	case OpBitAnd, OpBitOr, OpShiftLeft, OpShiftRight:
		a, aok := numeric(vm.regs[in.P1])
		b, bok := numeric(vm.regs[in.P2])
		if !aok || !bok {
			vm.regs[in.P3] = nil
			return nil
		}
		ai, bi := int64(a), int64(b)
		switch in.Op {
		case OpBitAnd:
			vm.regs[in.P3] = float64(ai & bi)
		case OpBitOr:
			vm.regs[in.P3] = float64(ai | bi)
		case OpShiftLeft:
			vm.regs[in.P3] = float64(bi << uint(ai))
		case OpShiftRight:
			vm.regs[in.P3] = float64(bi >> uint(ai))
		}

	case OpNot:
		vm.regs[in.P2] = triToValue(triNot(vmTruth(vm.regs[in.P1])))

	case OpBitNot:
		if n, ok := numeric(vm.regs[in.P1]); ok {
			vm.regs[in.P2] = float64(^int64(n))
		} else {
			vm.regs[in.P2] = nil
		}

	case OpIsTrue:
		vm.regs[in.P2] = vmTruth(vm.regs[in.P1]) == tvTrue

	// ── Comparisons ───────────────────────────────────────────────────
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return vm.compareJump(in)

	case OpIsNull:
		if vm.regs[in.P1] == nil {
			vm.pc = in.P2
		}

	case OpNotNull:
		if vm.regs[in.P1] != nil {
			vm.pc = in.P2
		}

	// ── Cursors ───────────────────────────────────────────────────────
	case OpOpenRead, OpOpenWrite:
		name, _ := in.P4.(string)
		t, err := vm.env.db.Get(vm.env.tenant, name)
		if err != nil {
			return err
		}
		vm.curs[in.P1] = &vmCursor{table: t, writable: in.Op == OpOpenWrite}

	case OpOpenPseudo:
		vm.curs[in.P1] = &vmCursor{pseudo: true, pseudoReg: in.P2}

	case OpOpenEphemeral, OpOpenAutoindex:
		vm.curs[in.P1] = &vmCursor{eph: true}

	case OpClose:
		if in.P1 >= 0 && in.P1 < len(vm.curs) {
			if c := vm.curs[in.P1]; c != nil && c.sorter != nil {
				c.sorter.cleanup()
			}
			vm.curs[in.P1] = nil
		}

	case OpRewind:
		cur, err := vm.cursor(in.P1)
		if err != nil {
			return err
		}
		cur.pos = 0
		cur.eof = cur.rowCount() == 0
		if cur.eof {
			vm.pc = in.P2
		}

	case OpLast:
		cur, err := vm.cursor(in.P1)
		if err != nil {
			return err
		}
		n := cur.rowCount()
		if n == 0 {
			cur.eof = true
			vm.pc = in.P2
		} else {
			cur.pos = n - 1
			cur.eof = false
		}

	case OpNext:
		cur, err := vm.cursor(in.P1)
		if err != nil {
			return err
		}
		if cur.sorter != nil {
			if cur.sorter.Next() {
				vm.pc = in.P2
			}
			return nil
		}
		cur.pos++
		if cur.pos < cur.rowCount() {
			vm.pc = in.P2
		} else {
			cur.eof = true
		}

	case OpPrev:
		cur, err := vm.cursor(in.P1)
		if err != nil {
			return err
		}
		cur.pos--
		if cur.pos >= 0 {
			vm.pc = in.P2
		} else {
			cur.eof = true
		}

	case OpSeekRowid:
		cur, err := vm.cursor(in.P1)
		if err != nil {
			return err
		}
		n, ok := numeric(vm.regs[in.P3])
		if !ok {
			vm.pc = in.P2
			return nil
		}
		pos := int(n) - 1
		if pos < 0 || pos >= cur.rowCount() {
			cur.eof = true
			vm.pc = in.P2
		} else {
			cur.pos = pos
			cur.eof = false
		}

	case OpDeferredSeek:
		cur, err := vm.cursor(in.P1)
		if err != nil {
			return err
		}
		if n, ok := numeric(vm.regs[in.P3]); ok {
			cur.deferred = true
			cur.deferredRowid = int64(n)
		}

	case OpSeekEnd:
		cur, err := vm.cursor(in.P1)
		if err != nil {
			return err
		}
		cur.pos = cur.rowCount()
		cur.eof = true

	case OpColumn:
		cur, err := vm.cursor(in.P1)
		if err != nil {
			return err
		}
		if cur.pseudo {
			rec, _ := vm.regs[cur.pseudoReg].([]any)
			if in.P2 < len(rec) {
				vm.regs[in.P3] = rec[in.P2]
			} else {
				vm.regs[in.P3] = nil
			}
			return nil
		}
		if !cur.resolveDeferred() || cur.eof {
			vm.regs[in.P3] = nil
			return nil
		}
		row := cur.rowAt(cur.pos)
		if in.P2 < len(row) {
			vm.regs[in.P3] = row[in.P2]
		} else {
			vm.regs[in.P3] = nil
		}

	case OpRowid:
		cur, err := vm.cursor(in.P1)
		if err != nil {
			return err
		}
		if cur.deferred {
			// The deferred seek must verify the row still exists.
			if !cur.resolveDeferred() {
				vm.regs[in.P2] = nil
				return nil
			}
		}
		if cur.eof {
			vm.regs[in.P2] = nil
		} else {
			vm.regs[in.P2] = cur.pos + 1
		}

	case OpRowData:
		cur, err := vm.cursor(in.P1)
		if err != nil {
			return err
		}
		if cur.eof || !cur.resolveDeferred() {
			vm.regs[in.P2] = nil
			return nil
		}
		row := cur.rowAt(cur.pos)
		rec := make([]any, len(row))
		copy(rec, row)
		vm.regs[in.P2] = rec

	// ── Row operations ────────────────────────────────────────────────
	case OpMakeRecord:
		rec := make([]any, in.P2)
		copy(rec, vm.regs[in.P1:in.P1+in.P2])
		vm.regs[in.P3] = rec

	case OpResultRow:
		row := make(Row, in.P2)
		for i := 0; i < in.P2; i++ {
			name := ""
			if i < len(vm.prog.Cols) {
				name = vm.prog.Cols[i]
			} else {
				name = fmt.Sprintf("col_%d", i)
			}
			putVal(row, name, vm.regs[in.P1+i])
		}
		vm.results.Rows = append(vm.results.Rows, row)

	case OpNewRowid:
		cur, err := vm.cursor(in.P1)
		if err != nil {
			return err
		}
		vm.regs[in.P2] = cur.rowCount() + 1

	case OpInsert:
		cur, err := vm.cursor(in.P1)
		if err != nil {
			return err
		}
		rec, ok := vm.regs[in.P2].([]any)
		if !ok {
			return fmt.Errorf("Insert: r[%d] is not a record", in.P2)
		}
		if cur.eph {
			cur.rows = append(cur.rows, rec)
			return nil
		}
		if cur.table == nil || !cur.writable {
			return fmt.Errorf("Insert: cursor %d is not writable", in.P1)
		}
		// Apply column affinities on the way in, like the write path of
		// the interpreter.
		for i := range rec {
			if i >= len(cur.table.Cols) {
				break
			}
			cv, err := coerceToTypeAllowNull(rec[i], cur.table.Cols[i].Type)
			if err != nil {
				return fmt.Errorf("column %q: %w", cur.table.Cols[i].Name, err)
			}
			rec[i] = cv
		}

		// r[P3] carries the target rowid. Rowids are positions+1, so an
		// existing rowid replaces that row in place (UPDATE) and the
		// NewRowid value appends.
		pos := len(cur.table.Rows)
		if n, ok := numeric(vm.regs[in.P3]); ok {
			pos = int(n) - 1
		}
		if pos >= 0 && pos < len(cur.table.Rows) {
			cur.table.Rows[pos] = rec
			cur.table.MarkDirtyFrom(-1)
			vm.changes++
			return nil
		}

		orAction := ""
		switch in.P5 & 0x0f {
		case FlagReplace:
			orAction = "REPLACE"
		case FlagIgnore:
			orAction = "IGNORE"
		}
		okIns, replaced, err := applyInsertConstraints(vm.env, cur.table, rec, orAction)
		if err != nil {
			return err
		}
		if okIns {
			cur.table.Rows = append(cur.table.Rows, rec)
			vm.changes++
			if replaced {
				cur.table.MarkDirtyFrom(-1)
			} else {
				cur.table.MarkDirtyFrom(len(cur.table.Rows) - 1)
			}
		}

	case OpDelete:
		cur, err := vm.cursor(in.P1)
		if err != nil {
			return err
		}
		if cur.eph {
			if cur.pos >= 0 && cur.pos < len(cur.rows) {
				cur.rows = append(cur.rows[:cur.pos], cur.rows[cur.pos+1:]...)
				cur.pos--
			}
			return nil
		}
		if cur.table == nil || !cur.writable {
			return fmt.Errorf("Delete: cursor %d is not writable", in.P1)
		}
		if cur.eof || cur.pos < 0 || cur.pos >= len(cur.table.Rows) {
			return nil
		}
		cur.table.Rows = append(cur.table.Rows[:cur.pos], cur.table.Rows[cur.pos+1:]...)
		cur.pos-- // compensate so the following Next lands on the successor
		cur.table.MarkDirtyFrom(-1)
		vm.changes++

	case OpClear:
		cur, err := vm.cursor(in.P1)
		if err != nil {
			return err
		}
		if cur.eph {
			cur.rows = nil
		} else if cur.table != nil && cur.writable {
			vm.changes += len(cur.table.Rows)
			cur.table.Rows = nil
			cur.table.MarkDirtyFrom(-1)
		}

	// ── Sorter ────────────────────────────────────────────────────────
	case OpSorterOpen:
		s := newExternalSorter(in.P2, defaultSorterBudget)
		if desc, ok := in.P4.([]bool); ok {
			s.keyDesc = desc
		}
		vm.curs[in.P1] = &vmCursor{sorter: s}

	case OpSorterInsert:
		cur, err := vm.cursor(in.P1)
		if err != nil || cur.sorter == nil {
			return fmt.Errorf("SorterInsert: cursor %d is not a sorter", in.P1)
		}
		rec, ok := vm.regs[in.P2].([]any)
		if !ok {
			return fmt.Errorf("SorterInsert: r[%d] is not a record", in.P2)
		}
		return cur.sorter.Insert(rec)

	case OpSorterSort:
		cur, err := vm.cursor(in.P1)
		if err != nil || cur.sorter == nil {
			return fmt.Errorf("SorterSort: cursor %d is not a sorter", in.P1)
		}
		empty, err := cur.sorter.Sort()
		if err != nil {
			return err
		}
		if empty {
			vm.pc = in.P2
		}

	case OpSorterNext:
		cur, err := vm.cursor(in.P1)
		if err != nil || cur.sorter == nil {
			return fmt.Errorf("SorterNext: cursor %d is not a sorter", in.P1)
		}
		if cur.sorter.Next() {
			vm.pc = in.P2
		}

	case OpSorterData:
		cur, err := vm.cursor(in.P1)
		if err != nil || cur.sorter == nil {
			return fmt.Errorf("SorterData: cursor %d is not a sorter", in.P1)
		}
		vm.regs[in.P2] = cur.sorter.Current()

	case OpSorterCompare:
		cur, err := vm.cursor(in.P1)
		if err != nil || cur.sorter == nil {
			return fmt.Errorf("SorterCompare: cursor %d is not a sorter", in.P1)
		}
		key, _ := vm.regs[in.P3].([]any)
		if cmpValSlices(cur.sorter.CurrentKey(), key) != 0 {
			vm.pc = in.P2
		}

	// ── Functions ─────────────────────────────────────────────────────
	case OpFunction, OpPureFunc:
		name, _ := in.P4.(string)
		args := make([]Expr, in.P5)
		for i := 0; i < int(in.P5); i++ {
			args[i] = &Literal{Val: vm.regs[in.P2+i]}
		}
		out, err := evalFuncCall(vm.env, &FuncCall{Name: name, Args: args}, Row{})
		if err != nil {
			return err
		}
		vm.regs[in.P3] = out

	// ── Aggregates ────────────────────────────────────────────────────
	case OpAggStep0:
		vm.regs[in.P3] = &aggContext{fn: in.P4.(string)}

	case OpAggStep:
		ctx, ok := vm.regs[in.P3].(*aggContext)
		if !ok {
			ctx = &aggContext{fn: in.P4.(string)}
			vm.regs[in.P3] = ctx
		}
		ctx.step(vm.regs[in.P2 : in.P2+int(in.P5)])

	case OpAggFinal:
		if ctx, ok := vm.regs[in.P1].(*aggContext); ok {
			vm.regs[in.P1] = ctx.final()
		}

	// ── Subprograms ───────────────────────────────────────────────────
	case OpProgram:
		sub, ok := in.P4.(*Program)
		if !ok {
			return fmt.Errorf("Program: P4 is not a subprogram")
		}
		if len(vm.stack) >= maxTriggerDepth {
			return fmt.Errorf("too many levels of trigger recursion")
		}
		vm.stack = append(vm.stack, frame{instrs: sub.Instrs, pc: vm.pc})
		vm.pc = 0

	case OpSetTriggerRow:
		// OLD/NEW rows are preset by the caller into the register range
		// starting at P1; nothing to do at runtime.

	case OpFkIfZero:
		if vm.fkCounter == 0 {
			vm.pc = in.P2
		}

	case OpFkCounter:
		vm.fkCounter += in.P2

	// ── Transactions and storage bridges ──────────────────────────────
	case OpTransaction, OpAutoCommit, OpSavepoint:
		// The storage layer autocommits per statement; explicit
		// transactions run through the driver's shadow copies.

	case OpJournalMode:
		vm.regs[in.P2] = vm.env.db.StorageMode().String()

	case OpCheckpoint:
		if err := vm.env.db.Sync(); err != nil {
			return err
		}

	case OpPagecount:
		stats := vm.env.db.BackendStats()
		vm.regs[in.P2] = int(stats.PageCount)

	default:
		return fmt.Errorf("opcode %s is not implemented", in.Op)
	}
	return nil
}

// arith applies a binary arithmetic operator with NULL propagation. Note
// the operand order: like the reference VM, P3 = r[P2] <op> r[P1].
func (vm *VM) arith(op string, in Instr) error {
	a, b := vm.regs[in.P1], vm.regs[in.P2]
	out, err := evalArithmeticBinary(op, b, a)
	if err != nil {
		return err
	}
	vm.regs[in.P3] = out
	return nil
}

// compareJump implements Eq/Ne/Lt/Le/Gt/Ge: jump to P2 when
// r[P3] <op> r[P1] holds. NULL operands jump only under FlagNullEq (IS
// semantics, Eq/Ne only) or FlagJumpIfNull; otherwise the instruction
// falls through without a verdict.
func (vm *VM) compareJump(in Instr) error {
	a, b := vm.regs[in.P3], vm.regs[in.P1]

	if a == nil || b == nil {
		if in.P5&FlagNullEq != 0 {
			bothNull := a == nil && b == nil
			if (in.Op == OpEq && bothNull) || (in.Op == OpNe && !bothNull) {
				vm.pc = in.P2
			}
			return nil
		}
		if in.P5&FlagJumpIfNull != 0 {
			vm.pc = in.P2
		}
		return nil
	}

	c, err := compare(a, b)
	if err != nil {
		return err
	}
	jump := false
	switch in.Op {
	case OpEq:
		jump = c == 0
	case OpNe:
		jump = c != 0
	case OpLt:
		jump = c < 0
	case OpLe:
		jump = c <= 0
	case OpGt:
		jump = c > 0
	case OpGe:
		jump = c >= 0
	}
	if jump {
		vm.pc = in.P2
	}
	return nil
}

// aggContext accumulates one aggregate across AggStep calls.
type aggContext struct {
	fn    string
	count int
	sum   float64
	min   any
	max   any
	seen  bool
}

func (a *aggContext) step(args []any) {
	var v any
	if len(args) > 0 {
		v = args[0]
	}
	if a.fn == "COUNT" && len(args) == 0 {
		a.count++
		return
	}
	if v == nil {
		return
	}
	a.count++
	if n, ok := numeric(v); ok {
		a.sum += n
	}
	if !a.seen {
		a.min, a.max, a.seen = v, v, true
		return
	}
	if c, err := compare(v, a.min); err == nil && c < 0 {
		a.min = v
	}
	if c, err := compare(v, a.max); err == nil && c > 0 {
		a.max = v
	}
}

func (a *aggContext) final() any {
	switch a.fn {
	case "COUNT":
		return a.count
	case "SUM":
		if a.count == 0 {
			return nil
		}
		return a.sum
	case "AVG":
		if a.count == 0 {
			return nil
		}
		return a.sum / float64(a.count)
	case "MIN":
		return a.min
	case "MAX":
		return a.max
	}
	return nil
}

// Disassemble renders the program as EXPLAIN rows: one line per
// instruction with the opcode name and operands.
func (p *Program) Disassemble() *ResultSet {
	rs := &ResultSet{Cols: []string{"addr", "opcode", "p1", "p2", "p3", "p4", "p5", "comment"}}
	for addr, in := range p.Instrs {
		p4 := ""
		switch v := in.P4.(type) {
		case nil:
		case string:
			p4 = v
		case *Program:
			p4 = "program"
		default:
			p4 = fmt.Sprintf("%v", v)
		}
		row := Row{}
		putVal(row, "addr", addr)
		putVal(row, "opcode", in.Op.String())
		putVal(row, "p1", in.P1)
		putVal(row, "p2", in.P2)
		putVal(row, "p3", in.P3)
		putVal(row, "p4", p4)
		putVal(row, "p5", int(in.P5))
		putVal(row, "comment", in.Comment)
		rs.Rows = append(rs.Rows, row)
	}
	return rs
}
