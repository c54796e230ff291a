package pager

import (
	"encoding/binary"
)

// ───────────────────────────────────────────────────────────────────────────
// Free-list trunk pages
// ───────────────────────────────────────────────────────────────────────────
//
// Freed pages are chained through trunk pages in the SQLite freelist layout:
// the first four bytes of a trunk point to the next trunk (0 = end), the
// next four hold the number of leaf page numbers on this trunk, and the
// leaf array follows. The database header records the first trunk at byte
// offset 32 and the total freelist page count at offset 36 (see
// superblock.go).
//
//   [0:4]        NextTrunk  (uint32 BE, 0 = end)
//   [4:8]        LeafCount  (uint32 BE)
//   [8+4i:12+4i] Leaf page numbers (uint32 BE each)

const (
	freeListNextOff  = 0
	freeListCountOff = 4
	freeListDataOff  = 8
	freeListEntryLen = 4
)

// FreeListCapacity returns how many leaf page numbers fit in one trunk page.
func FreeListCapacity(pageSize int) int {
	return (pageSize - freeListDataOff) / freeListEntryLen
}

// FreeListPage wraps a page buffer as a freelist trunk page.
type FreeListPage struct {
	buf      []byte
	pageSize int
}

// WrapFreeListPage wraps an existing trunk page buffer.
func WrapFreeListPage(buf []byte) *FreeListPage {
	return &FreeListPage{buf: buf, pageSize: len(buf)}
}

// InitFreeListPage creates a new empty trunk page.
func InitFreeListPage(buf []byte, _ PageID) *FreeListPage {
	binary.BigEndian.PutUint32(buf[freeListNextOff:], uint32(InvalidPageID))
	binary.BigEndian.PutUint32(buf[freeListCountOff:], 0)
	return &FreeListPage{buf: buf, pageSize: len(buf)}
}

// NextFreeList returns the next trunk page in the chain.
func (fl *FreeListPage) NextFreeList() PageID {
	return PageID(binary.BigEndian.Uint32(fl.buf[freeListNextOff:]))
}

// SetNextFreeList sets the next trunk pointer.
func (fl *FreeListPage) SetNextFreeList(pid PageID) {
	binary.BigEndian.PutUint32(fl.buf[freeListNextOff:], uint32(pid))
}

// EntryCount returns the number of leaf page numbers stored.
func (fl *FreeListPage) EntryCount() int {
	return int(binary.BigEndian.Uint32(fl.buf[freeListCountOff:]))
}

// GetEntry returns the i-th leaf page number.
func (fl *FreeListPage) GetEntry(i int) PageID {
	off := freeListDataOff + i*freeListEntryLen
	return PageID(binary.BigEndian.Uint32(fl.buf[off:]))
}

// AddEntry appends a leaf page number. Returns false if the trunk is full.
func (fl *FreeListPage) AddEntry(pid PageID) bool {
	ec := fl.EntryCount()
	if ec >= FreeListCapacity(fl.pageSize) {
		return false
	}
	off := freeListDataOff + ec*freeListEntryLen
	binary.BigEndian.PutUint32(fl.buf[off:], uint32(pid))
	binary.BigEndian.PutUint32(fl.buf[freeListCountOff:], uint32(ec+1))
	return true
}

// PopEntry removes and returns the last leaf. Returns InvalidPageID if empty.
func (fl *FreeListPage) PopEntry() PageID {
	ec := fl.EntryCount()
	if ec == 0 {
		return InvalidPageID
	}
	pid := fl.GetEntry(ec - 1)
	binary.BigEndian.PutUint32(fl.buf[freeListCountOff:], uint32(ec-1))
	return pid
}

// AllEntries returns all leaf page numbers on this trunk.
func (fl *FreeListPage) AllEntries() []PageID {
	ec := fl.EntryCount()
	ids := make([]PageID, ec)
	for i := 0; i < ec; i++ {
		ids[i] = fl.GetEntry(i)
	}
	return ids
}

// Bytes returns the underlying page buffer.
func (fl *FreeListPage) Bytes() []byte { return fl.buf }

// ───────────────────────────────────────────────────────────────────────────
// FreeManager — coordinates trunk pages via the pager
// ───────────────────────────────────────────────────────────────────────────

// freePageImage pairs a trunk page number with its serialized contents for
// writing at checkpoint time.
type freePageImage struct {
	ID  PageID
	Buf []byte
}

// FreeManager tracks free pages using an in-memory set backed by trunk
// pages on disk. The pager calls its methods during allocation and
// deallocation; allocation takes any page from the set, in no defined order.
type FreeManager struct {
	free map[PageID]struct{} // set of all free page IDs
	head PageID              // head of the trunk chain on disk (header offset 32)
}

// NewFreeManager creates a FreeManager. Call LoadFromDisk to populate.
func NewFreeManager() *FreeManager {
	return &FreeManager{free: map[PageID]struct{}{}}
}

// LoadFromDisk walks the trunk chain starting at head and populates the
// in-memory set with the leaf entries of each trunk. The trunk pages
// themselves are not added; the pager frees the old chain when the next
// checkpoint rewrites it.
func (fm *FreeManager) LoadFromDisk(head PageID, readPage func(PageID) ([]byte, error)) error {
	fm.head = head
	pid := head
	for pid != InvalidPageID {
		buf, err := readPage(pid)
		if err != nil {
			return err
		}
		fl := WrapFreeListPage(buf)
		for _, freeID := range fl.AllEntries() {
			fm.free[freeID] = struct{}{}
		}
		pid = fl.NextFreeList()
	}
	return nil
}

// Alloc returns a free page ID (popped from the set) or InvalidPageID if empty.
func (fm *FreeManager) Alloc() PageID {
	for pid := range fm.free {
		delete(fm.free, pid)
		return pid
	}
	return InvalidPageID
}

// Free marks a page ID as available for reuse.
func (fm *FreeManager) Free(pid PageID) {
	fm.free[pid] = struct{}{}
}

// Count returns the number of free pages.
func (fm *FreeManager) Count() int { return len(fm.free) }

// AllFree returns all free page IDs (unsorted).
func (fm *FreeManager) AllFree() []PageID {
	ids := make([]PageID, 0, len(fm.free))
	for pid := range fm.free {
		ids = append(ids, pid)
	}
	return ids
}

// FlushToDisk serializes the free set into trunk pages, preferring to reuse
// free pages as trunks before extending the file. It returns the head trunk
// page number and the trunk images to write.
func (fm *FreeManager) FlushToDisk(pageSize int, allocPage func() (PageID, []byte)) (PageID, []freePageImage) {
	if len(fm.free) == 0 {
		fm.head = InvalidPageID
		return InvalidPageID, nil
	}

	capPerTrunk := FreeListCapacity(pageSize)
	// Trunks are drawn from the free set, so solve for the fixpoint:
	// t trunks leave len-t leaves, needing ceil((len-t)/cap) trunks.
	trunksNeeded := (len(fm.free) + capPerTrunk) / (capPerTrunk + 1)
	if trunksNeeded == 0 {
		trunksNeeded = 1
	}

	// Trunk pages come out of the free set itself when possible: a trunk
	// is "in use" by the freelist structure, not free.
	trunkIDs := make([]PageID, 0, trunksNeeded)
	for pid := range fm.free {
		if len(trunkIDs) == trunksNeeded {
			break
		}
		trunkIDs = append(trunkIDs, pid)
	}
	for _, pid := range trunkIDs {
		delete(fm.free, pid)
	}
	for len(trunkIDs) < trunksNeeded {
		pid, _ := allocPage()
		trunkIDs = append(trunkIDs, pid)
	}

	// Promoting entries to trunks may leave fewer leaves than planned;
	// recompute is unnecessary since capacity only shrank the leaf count.
	ids := fm.AllFree()

	var pages []freePageImage
	var prev *FreeListPage
	var head PageID
	next := 0
	for _, trunkID := range trunkIDs {
		buf := make([]byte, pageSize)
		fl := InitFreeListPage(buf, trunkID)
		for next < len(ids) {
			if !fl.AddEntry(ids[next]) {
				break
			}
			next++
		}
		pages = append(pages, freePageImage{ID: trunkID, Buf: buf})
		if prev != nil {
			prev.SetNextFreeList(trunkID)
		} else {
			head = trunkID
		}
		prev = fl
		if next >= len(ids) {
			break
		}
	}

	fm.head = head
	return head, pages
}
