package pager

import (
	"bytes"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// B+Tree cursors
// ───────────────────────────────────────────────────────────────────────────
//
// A Cursor is a positioned traversal handle over one B+Tree: seek with a
// bias, step with Next/Prev, and read the current key and value. Cursors
// survive concurrent mutation of their tree on the same connection: before
// Insert or Delete reorganizes pages, every other open cursor saves its
// current key and re-seeks lazily on its next use. When the saved row was
// itself deleted, the restored cursor sits on the successor and the next
// Next() yields that successor instead of skipping past it.

// SeekBias selects where a cursor lands relative to the probe key.
type SeekBias int

const (
	// SeekGE positions on the smallest key >= probe.
	SeekGE SeekBias = iota
	// SeekGT positions on the smallest key > probe.
	SeekGT
	// SeekLE positions on the largest key <= probe.
	SeekLE
	// SeekLT positions on the largest key < probe.
	SeekLT
)

// Cursor is a stateful position within a B+Tree.
type Cursor struct {
	bt   *BTree
	leaf PageID
	pos  int

	valid       bool
	needsSeek   bool
	savedKey    []byte
	skipAdvance bool
}

// CursorOpen returns a new, unpositioned cursor registered with the tree.
func (bt *BTree) CursorOpen() *Cursor {
	c := &Cursor{bt: bt}
	if bt.cursors == nil {
		bt.cursors = make(map[*Cursor]struct{})
	}
	bt.cursors[c] = struct{}{}
	return c
}

// Close deregisters the cursor from its tree.
func (c *Cursor) Close() {
	if c.bt != nil {
		delete(c.bt.cursors, c)
	}
	c.valid = false
	c.bt = nil
}

// saveCursors copies each open cursor's current key out of the page it
// points into; the cursor re-seeks on its next use. Called by the tree
// before any mutating operation.
func (bt *BTree) saveCursors() {
	for c := range bt.cursors {
		if !c.valid || c.needsSeek {
			continue
		}
		key, err := c.currentKey()
		if err != nil {
			c.valid = false
			continue
		}
		c.savedKey = append(c.savedKey[:0], key...)
		c.needsSeek = true
	}
}

// restore re-binds a saved cursor. Landing on a different key than the
// saved one means the saved row is gone and the cursor already sits on its
// successor, so the next Next() must not advance.
func (c *Cursor) restore() error {
	if !c.needsSeek {
		return nil
	}
	c.needsSeek = false
	found, err := c.Seek(c.savedKey, SeekGE)
	if err != nil {
		c.valid = false
		return err
	}
	if c.valid && !found {
		c.skipAdvance = true
	}
	return nil
}

// Valid reports whether the cursor points at a cell.
func (c *Cursor) Valid() bool { return c.valid }

// Seek positions the cursor per the bias. It reports whether the probe key
// itself was found; for the strict biases (GT, LT) found is always false.
func (c *Cursor) Seek(key []byte, bias SeekBias) (bool, error) {
	c.needsSeek = false
	c.skipAdvance = false

	leafID, err := c.bt.findLeaf(key)
	if err != nil {
		c.valid = false
		return false, err
	}
	buf, err := c.bt.readPage(leafID)
	if err != nil {
		c.valid = false
		return false, err
	}
	bp := WrapBTreePage(buf)
	pos := bp.searchLeaf(key) // lower bound within the leaf
	sc := bp.slotCount()

	exact := false
	if pos < sc {
		exact = bytes.Equal(bp.GetLeafEntry(pos).Key, key)
	}
	c.bt.pager.UnpinPage(leafID)

	c.leaf = leafID
	c.pos = pos
	c.valid = true

	switch bias {
	case SeekGE:
		if pos >= sc {
			return false, c.normalizeForward()
		}
		return exact, nil
	case SeekGT:
		if exact {
			c.pos++
		}
		return false, c.normalizeForward()
	case SeekLE:
		if exact {
			return true, nil
		}
		return false, c.retreatFrom()
	case SeekLT:
		return false, c.retreatFrom()
	default:
		return false, fmt.Errorf("unknown seek bias %d", bias)
	}
}

// normalizeForward moves the cursor forward across leaf boundaries until it
// points at a cell (or runs off the end).
func (c *Cursor) normalizeForward() error {
	for {
		buf, err := c.bt.readPage(c.leaf)
		if err != nil {
			c.valid = false
			return err
		}
		bp := WrapBTreePage(buf)
		sc := bp.slotCount()
		next := bp.NextLeaf()
		c.bt.pager.UnpinPage(c.leaf)

		if c.pos < sc {
			return nil
		}
		if next == InvalidPageID {
			c.valid = false
			return nil
		}
		c.leaf = next
		c.pos = 0
	}
}

// retreatFrom steps back one position (for LE misses and LT), crossing to
// the previous leaf when the position underflows.
func (c *Cursor) retreatFrom() error {
	c.pos--
	for c.pos < 0 {
		buf, err := c.bt.readPage(c.leaf)
		if err != nil {
			c.valid = false
			return err
		}
		prev := WrapBTreePage(buf).PrevLeaf()
		c.bt.pager.UnpinPage(c.leaf)

		if prev == InvalidPageID {
			c.valid = false
			return nil
		}
		c.leaf = prev
		pbuf, err := c.bt.readPage(prev)
		if err != nil {
			c.valid = false
			return err
		}
		c.pos = WrapBTreePage(pbuf).slotCount() - 1
		c.bt.pager.UnpinPage(prev)
	}
	return nil
}

// First positions on the smallest key in the tree.
func (c *Cursor) First() error {
	c.needsSeek = false
	c.skipAdvance = false

	pid := c.bt.root
	for {
		buf, err := c.bt.readPage(pid)
		if err != nil {
			c.valid = false
			return err
		}
		bp := WrapBTreePage(buf)
		if bp.IsLeaf() {
			c.bt.pager.UnpinPage(pid)
			c.leaf = pid
			c.pos = 0
			c.valid = true
			return c.normalizeForward()
		}
		var child PageID
		if bp.slotCount() > 0 {
			child = bp.GetInternalEntry(0).ChildID
		} else {
			child = bp.RightChild()
		}
		c.bt.pager.UnpinPage(pid)
		pid = child
	}
}

// Last positions on the largest key in the tree.
func (c *Cursor) Last() error {
	c.needsSeek = false
	c.skipAdvance = false

	pid := c.bt.root
	for {
		buf, err := c.bt.readPage(pid)
		if err != nil {
			c.valid = false
			return err
		}
		bp := WrapBTreePage(buf)
		if bp.IsLeaf() {
			sc := bp.slotCount()
			c.bt.pager.UnpinPage(pid)
			if sc == 0 {
				c.valid = false
				return nil
			}
			c.leaf = pid
			c.pos = sc - 1
			c.valid = true
			return nil
		}
		child := bp.RightChild()
		c.bt.pager.UnpinPage(pid)
		pid = child
	}
}

// Next advances to the following key. After a restore that landed past a
// deleted row, the first Next yields the row the cursor landed on.
func (c *Cursor) Next() error {
	if err := c.restore(); err != nil {
		return err
	}
	if !c.valid {
		return nil
	}
	if c.skipAdvance {
		c.skipAdvance = false
		return nil
	}
	c.pos++
	return c.normalizeForward()
}

// Prev steps to the preceding key.
func (c *Cursor) Prev() error {
	if err := c.restore(); err != nil {
		return err
	}
	c.skipAdvance = false
	if !c.valid {
		return nil
	}
	return c.retreatFrom()
}

// currentKey reads the key under the cursor without restoring.
func (c *Cursor) currentKey() ([]byte, error) {
	buf, err := c.bt.readPage(c.leaf)
	if err != nil {
		return nil, err
	}
	defer c.bt.pager.UnpinPage(c.leaf)
	bp := WrapBTreePage(buf)
	if c.pos < 0 || c.pos >= bp.slotCount() {
		return nil, fmt.Errorf("cursor position %d out of range", c.pos)
	}
	key := bp.GetLeafEntry(c.pos).Key
	out := make([]byte, len(key))
	copy(out, key)
	return out, nil
}

// Key returns a copy of the current key.
func (c *Cursor) Key() ([]byte, error) {
	if err := c.restore(); err != nil {
		return nil, err
	}
	if !c.valid {
		return nil, fmt.Errorf("cursor is not positioned")
	}
	return c.currentKey()
}

// Value returns the current value, following the overflow chain when the
// payload spilled.
func (c *Cursor) Value() ([]byte, error) {
	if err := c.restore(); err != nil {
		return nil, err
	}
	if !c.valid {
		return nil, fmt.Errorf("cursor is not positioned")
	}
	buf, err := c.bt.readPage(c.leaf)
	if err != nil {
		return nil, err
	}
	bp := WrapBTreePage(buf)
	if c.pos < 0 || c.pos >= bp.slotCount() {
		c.bt.pager.UnpinPage(c.leaf)
		return nil, fmt.Errorf("cursor position %d out of range", c.pos)
	}
	entry := bp.GetLeafEntry(c.pos)
	c.bt.pager.UnpinPage(c.leaf)

	if entry.Overflow {
		return c.bt.entryValue(entry)
	}
	out := make([]byte, len(entry.Value))
	copy(out, entry.Value)
	return out, nil
}
