// Package engine — external-merge sorter behind the Sorter* opcodes.
//
// What: Accepts records via Insert, sorts them by a key prefix, and yields
// them in key order through a cursor-like Next/Current interface. When the
// in-memory budget is exceeded, the loaded run is sorted and spilled to a
// temporary file; Sort() merges all spilled runs plus the final in-memory
// run with a k-way heap merge.
// How: Records are []any rows whose first keyCols fields are the sort key.
// Spill files are gob streams of one sorted run each; merge readers stream
// them back one record at a time so memory stays bounded by run count, not
// row count.
// Why: ORDER BY must not be limited by RAM; the spill threshold is a
// package constant the tests shrink to force the external path.
package engine

import (
	"container/heap"
	"encoding/gob"
	"fmt"
	"os"
	"sort"
)

// defaultSorterBudget is the in-memory byte budget before a run spills.
const defaultSorterBudget = 4 << 20

// sorterRowOverhead approximates the bookkeeping cost of one record when
// charging it against the budget.
const sorterRowOverhead = 48

// externalSorter implements SorterOpen/Insert/Sort/Next/Data.
type externalSorter struct {
	keyCols int
	keyDesc []bool // per-key descending flags (nil = all ascending)
	budget  int

	mem      []([]any)
	memBytes int
	runs     []string // spill file paths, one sorted run each

	merged  *mergeHeap
	current []any
	done    bool
}

func newExternalSorter(keyCols, budget int) *externalSorter {
	if keyCols <= 0 {
		keyCols = 1
	}
	if budget <= 0 {
		budget = defaultSorterBudget
	}
	return &externalSorter{keyCols: keyCols, budget: budget}
}

// recordSize estimates the in-memory footprint of one record.
func recordSize(rec []any) int {
	n := sorterRowOverhead
	for _, v := range rec {
		switch x := v.(type) {
		case string:
			n += len(x) + 16
		case []byte:
			n += len(x) + 16
		default:
			n += 16
		}
	}
	return n
}

// Insert feeds one record into the sorter, spilling the current run when
// the budget is exceeded.
func (s *externalSorter) Insert(rec []any) error {
	s.mem = append(s.mem, rec)
	s.memBytes += recordSize(rec)
	if s.memBytes >= s.budget {
		return s.spill()
	}
	return nil
}

// cmpKeys orders two records by their key prefix, honoring per-key
// descending flags. NULLs sort last regardless of direction, matching
// ORDER BY's comparison in the evaluator.
func (s *externalSorter) cmpKeys(a, b []any) int {
	k := s.keyCols
	for i := 0; i < k && i < len(a) && i < len(b); i++ {
		av, bv := a[i], b[i]
		if av == nil || bv == nil {
			if av == nil && bv == nil {
				continue
			}
			if av == nil {
				return 1
			}
			return -1
		}
		c := cmpVals(av, bv)
		if c == 0 {
			continue
		}
		if i < len(s.keyDesc) && s.keyDesc[i] {
			return -c
		}
		return c
	}
	return 0
}

func (s *externalSorter) sortMem() {
	sort.SliceStable(s.mem, func(i, j int) bool {
		return s.cmpKeys(s.mem[i], s.mem[j]) < 0
	})
}

// spill sorts the in-memory run and writes it to a temp file.
func (s *externalSorter) spill() error {
	if len(s.mem) == 0 {
		return nil
	}
	s.sortMem()

	f, err := os.CreateTemp("", "sorter-run-*.tmp")
	if err != nil {
		return fmt.Errorf("sorter spill: %w", err)
	}
	enc := gob.NewEncoder(f)
	for _, rec := range s.mem {
		if err := enc.Encode(rec); err != nil {
			f.Close()
			os.Remove(f.Name())
			return fmt.Errorf("sorter spill encode: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return err
	}
	s.runs = append(s.runs, f.Name())
	s.mem = nil
	s.memBytes = 0
	return nil
}

// runReader streams one spilled run back in order.
type runReader struct {
	f   *os.File
	dec *gob.Decoder
}

func openRun(path string) (*runReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &runReader{f: f, dec: gob.NewDecoder(f)}, nil
}

func (r *runReader) next() ([]any, bool) {
	var rec []any
	if err := r.dec.Decode(&rec); err != nil {
		r.f.Close()
		return nil, false
	}
	return rec, true
}

// mergeSource is one input to the k-way merge: either a spilled run or the
// final in-memory run.
type mergeSource struct {
	reader *runReader
	mem    [][]any
	pos    int
	head   []any
	ok     bool
}

func (m *mergeSource) advance() {
	if m.reader != nil {
		m.head, m.ok = m.reader.next()
		return
	}
	if m.pos < len(m.mem) {
		m.head, m.ok = m.mem[m.pos], true
		m.pos++
		return
	}
	m.head, m.ok = nil, false
}

// mergeHeap orders sources by their head record's key.
type mergeHeap struct {
	src []*mergeSource
	s   *externalSorter
}

func (h *mergeHeap) Len() int { return len(h.src) }
func (h *mergeHeap) Less(i, j int) bool {
	return h.s.cmpKeys(h.src[i].head, h.src[j].head) < 0
}
func (h *mergeHeap) Swap(i, j int) { h.src[i], h.src[j] = h.src[j], h.src[i] }
func (h *mergeHeap) Push(x any)    { h.src = append(h.src, x.(*mergeSource)) }
func (h *mergeHeap) Pop() any {
	old := h.src
	n := len(old)
	x := old[n-1]
	h.src = old[:n-1]
	return x
}

// Sort finishes loading and prepares iteration. Returns true when the
// sorter holds no records. The caller follows with Next/Current.
func (s *externalSorter) Sort() (empty bool, err error) {
	if len(s.runs) == 0 {
		// Everything fit in memory — no merge needed.
		s.sortMem()
		s.merged = nil
		s.current = nil
		s.done = false
		if len(s.mem) == 0 {
			s.done = true
			return true, nil
		}
		s.current = s.mem[0]
		s.mem = s.mem[1:]
		return false, nil
	}

	// Sort the final partial run in memory and merge it with the spills.
	s.sortMem()
	h := &mergeHeap{s: s}
	for _, path := range s.runs {
		r, err := openRun(path)
		if err != nil {
			return false, err
		}
		src := &mergeSource{reader: r}
		src.advance()
		if src.ok {
			h.src = append(h.src, src)
		}
	}
	if len(s.mem) > 0 {
		src := &mergeSource{mem: s.mem}
		src.advance()
		h.src = append(h.src, src)
	}
	s.mem = nil
	s.memBytes = 0
	heap.Init(h)
	s.merged = h

	if h.Len() == 0 {
		s.done = true
		s.cleanup()
		return true, nil
	}
	s.current = s.popMerged()
	return false, nil
}

func (s *externalSorter) popMerged() []any {
	h := s.merged
	top := h.src[0]
	rec := top.head
	top.advance()
	if top.ok {
		heap.Fix(h, 0)
	} else {
		heap.Pop(h)
	}
	return rec
}

// Next advances to the following record. Reports whether a record is
// available.
func (s *externalSorter) Next() bool {
	if s.done {
		return false
	}
	if s.merged != nil {
		if s.merged.Len() == 0 {
			s.done = true
			s.current = nil
			s.cleanup()
			return false
		}
		s.current = s.popMerged()
		return true
	}
	if len(s.mem) == 0 {
		s.done = true
		s.current = nil
		return false
	}
	s.current = s.mem[0]
	s.mem = s.mem[1:]
	return true
}

// Current returns the record under the sorter cursor.
func (s *externalSorter) Current() []any { return s.current }

// CurrentKey returns the sort-key prefix of the current record.
func (s *externalSorter) CurrentKey() []any {
	if s.current == nil {
		return nil
	}
	k := min(s.keyCols, len(s.current))
	return s.current[:k]
}

// Spilled reports how many runs went to temp files (observability/tests).
func (s *externalSorter) Spilled() int { return len(s.runs) }

func (s *externalSorter) cleanup() {
	for _, path := range s.runs {
		os.Remove(path)
	}
	s.runs = nil
}
