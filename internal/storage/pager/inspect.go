package pager

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// ───────────────────────────────────────────────────────────────────────────
// Inspection & Verification Tools
// ───────────────────────────────────────────────────────────────────────────

// PageInfo holds inspection information about a single page.
type PageInfo struct {
	ID       PageID
	Type     PageType
	TypeStr  string
	LSN      LSN
	CRC      uint32
	CRCValid bool
	Flags    uint8
	// B+Tree specifics
	IsLeaf     bool
	KeyCount   int
	RightChild PageID
	NextLeaf   PageID
	PrevLeaf   PageID
	// Slotted page stats
	SlotCount int
	FreeSpace int
	// Overflow
	NextOverflow PageID
	DataLen      int
	// FreeList
	NextFreeList PageID
	EntryCount   int
}

// InspectPage decodes one page for debugging. Only B+Tree pages carry the
// typed header this reads; overflow and freelist trunk pages are headerless
// and show up as Unknown (use DumpTree/VerifyDB to reach them by role).
func InspectPage(dbPath string, pageID PageID, pageSize int) (*PageInfo, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, pageSize)
	off := int64(pageID) * int64(pageSize)
	if _, err := f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read page %d: %w", pageID, err)
	}

	hdr := UnmarshalHeader(buf)
	crcValid := VerifyPageCRC(buf) == nil

	info := &PageInfo{
		ID:       hdr.ID,
		Type:     hdr.Type,
		TypeStr:  hdr.Type.String(),
		LSN:      hdr.LSN,
		CRC:      hdr.CRC,
		CRCValid: crcValid,
		Flags:    hdr.Flags,
	}

	switch hdr.Type {
	case PageTypeBTreeInternal, PageTypeBTreeLeaf:
		bp := WrapBTreePage(buf)
		info.IsLeaf = bp.IsLeaf()
		info.KeyCount = bp.KeyCount()
		info.RightChild = bp.RightChild()
		info.NextLeaf = bp.NextLeaf()
		info.PrevLeaf = bp.PrevLeaf()
		info.SlotCount = bp.slotCount()
		info.FreeSpace = bp.freeSpace()

	case PageTypeOverflow:
		op := WrapOverflowPage(buf)
		info.NextOverflow = op.NextOverflow()
		info.DataLen = op.DataLen()

	case PageTypeFreeList:
		fl := WrapFreeListPage(buf)
		info.NextFreeList = fl.NextFreeList()
		info.EntryCount = fl.EntryCount()
	}

	return info, nil
}

// verifyMaxErrors bounds the issue list VerifyDB reports; the scan stops
// once the bound is reached.
const verifyMaxErrors = 100

// dbVerifier carries the state of one VerifyDB run: a page reader, the
// superblock, the set of pages already visited (for disjointness and cycle
// checks), and the bounded issue list.
type dbVerifier struct {
	readPage   func(PageID) ([]byte, error)
	sb         *Superblock
	totalPages int64
	visited    map[PageID]string // page → role that claimed it
	issues     []string
}

func (v *dbVerifier) addf(format string, a ...any) bool {
	if len(v.issues) >= verifyMaxErrors {
		return false
	}
	v.issues = append(v.issues, fmt.Sprintf(format, a...))
	return len(v.issues) < verifyMaxErrors
}

// claim records that role owns pid; a page owned twice (e.g. both live in
// a tree and on the freelist) is corruption.
func (v *dbVerifier) claim(pid PageID, role string) bool {
	if pid == InvalidPageID || int64(pid) >= v.totalPages {
		v.addf("%s references page %d outside the file (%d pages)", role, pid, v.totalPages)
		return false
	}
	if prev, dup := v.visited[pid]; dup {
		v.addf("page %d claimed by both %s and %s", pid, prev, role)
		return false
	}
	v.visited[pid] = role
	return true
}

// verifyTree walks one B+Tree, checking page CRCs, key ordering within
// pages, and overflow chains.
func (v *dbVerifier) verifyTree(root PageID, role string) {
	if root == InvalidPageID {
		return
	}
	var walk func(pid PageID)
	walk = func(pid PageID) {
		if len(v.issues) >= verifyMaxErrors {
			return
		}
		if !v.claim(pid, role) {
			return
		}
		buf, err := v.readPage(pid)
		if err != nil {
			v.addf("%s page %d: %v", role, pid, err)
			return
		}
		if err := VerifyPageCRC(buf); err != nil {
			v.addf("%s page %d: %v", role, pid, err)
			return
		}
		bp := WrapBTreePage(buf)
		if bp.IsLeaf() {
			sc := bp.slotCount()
			var prev []byte
			for i := 0; i < sc; i++ {
				e := bp.GetLeafEntry(i)
				if prev != nil && string(e.Key) <= string(prev) {
					v.addf("%s leaf %d: keys out of order at slot %d", role, pid, i)
				}
				prev = e.Key
				if e.Overflow {
					v.verifyOverflowChain(e.OverflowPageID, e.TotalSize-uint32(len(e.Value)), role)
				}
			}
			return
		}
		sc := bp.slotCount()
		for i := 0; i < sc; i++ {
			walk(bp.GetInternalEntry(i).ChildID)
		}
		if rc := bp.RightChild(); rc != InvalidPageID {
			walk(rc)
		}
	}
	walk(root)
}

// verifyOverflowChain follows an overflow chain, checking that its pages
// exist, are not claimed elsewhere, and reproduce the expected tail size.
func (v *dbVerifier) verifyOverflowChain(head PageID, want uint32, role string) {
	var got uint32
	pid := head
	for pid != InvalidPageID && len(v.issues) < verifyMaxErrors {
		if !v.claim(pid, role+" overflow") {
			return
		}
		buf, err := v.readPage(pid)
		if err != nil {
			v.addf("overflow page %d: %v", pid, err)
			return
		}
		op := WrapOverflowPage(buf)
		got += uint32(op.DataLen())
		pid = op.NextOverflow()
	}
	if got != want {
		v.addf("overflow chain at %d: holds %d bytes, cell expects %d", head, got, want)
	}
}

// verifyFreelist walks the trunk chain rooted in the header (offset 32),
// counting trunks and leaves against the header's freelist count
// (offset 36).
func (v *dbVerifier) verifyFreelist() {
	counted := uint32(0)
	pid := v.sb.FreeListRoot
	for pid != InvalidPageID && len(v.issues) < verifyMaxErrors {
		if !v.claim(pid, "freelist trunk") {
			return
		}
		counted++
		buf, err := v.readPage(pid)
		if err != nil {
			v.addf("freelist trunk %d: %v", pid, err)
			return
		}
		fl := WrapFreeListPage(buf)
		for i := 0; i < fl.EntryCount(); i++ {
			leaf := fl.GetEntry(i)
			if !v.claim(leaf, "freelist leaf") {
				return
			}
			counted++
		}
		pid = fl.NextFreeList()
	}
	if counted != v.sb.FreeListCount {
		v.addf("freelist count: header says %d, chain holds %d", v.sb.FreeListCount, counted)
	}
}

// VerifyDB runs a structural integrity check over a database file: the
// superblock validates, every page reachable from the catalog (and from
// each table tree it names) has a valid CRC and ordered cells, overflow
// chains reproduce their cells' sizes, the freelist chain matches the
// header count, and no page is claimed by two owners. The report is a
// bounded list of messages (empty = healthy).
func VerifyDB(dbPath string) ([]string, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	// Read superblock and determine page size.
	sbBuf := make([]byte, MaxPageSize) // read max possible
	n, err := f.ReadAt(sbBuf, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if n < MinPageSize {
		return []string{"file too small to contain a superblock"}, nil
	}
	peekPS := decodePageSize(binary.BigEndian.Uint16(sbBuf[dbHdrPageSizeOff:]))
	if peekPS >= MinPageSize && peekPS <= MaxPageSize && peekPS <= n {
		sbBuf = sbBuf[:peekPS]
	} else {
		sbBuf = sbBuf[:n]
	}
	sb, err := UnmarshalSuperblock(sbBuf)
	if err != nil {
		return []string{fmt.Sprintf("superblock: %v", err)}, nil
	}

	pageSize := int(sb.PageSize)
	v := &dbVerifier{
		sb:         sb,
		totalPages: fi.Size() / int64(pageSize),
		visited:    map[PageID]string{0: "superblock"},
		readPage: func(pid PageID) ([]byte, error) {
			buf := make([]byte, pageSize)
			if _, err := f.ReadAt(buf, int64(pid)*int64(pageSize)); err != nil {
				return nil, err
			}
			return buf, nil
		},
	}
	if fi.Size()%int64(pageSize) != 0 {
		v.addf("file size %d not a multiple of page size %d", fi.Size(), pageSize)
	}

	// The catalog tree, then every table tree it names.
	v.verifyTree(sb.CatalogRoot, "catalog")
	if sb.CatalogRoot != InvalidPageID {
		// Re-walk catalog leaves to decode the table roots.
		var roots []PageID
		var collect func(pid PageID)
		collect = func(pid PageID) {
			buf, err := v.readPage(pid)
			if err != nil {
				return
			}
			bp := WrapBTreePage(buf)
			if bp.IsLeaf() {
				for i := 0; i < bp.slotCount(); i++ {
					var entry CatalogEntry
					if json.Unmarshal(bp.GetLeafEntry(i).Value, &entry) == nil {
						roots = append(roots, entry.RootPageID)
					}
				}
				return
			}
			for i := 0; i < bp.slotCount(); i++ {
				collect(bp.GetInternalEntry(i).ChildID)
			}
			if rc := bp.RightChild(); rc != InvalidPageID {
				collect(rc)
			}
		}
		collect(sb.CatalogRoot)
		for _, root := range roots {
			v.verifyTree(root, "table tree")
		}
	}

	v.verifyFreelist()
	return v.issues, nil
}

// DumpTree produces a human-readable dump of a B+Tree starting at root.
func DumpTree(dbPath string, rootPageID PageID, pageSize int) (string, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	var dump func(pid PageID, depth int) error

	readPage := func(pid PageID) ([]byte, error) {
		buf := make([]byte, pageSize)
		off := int64(pid) * int64(pageSize)
		if _, err := f.ReadAt(buf, off); err != nil {
			return nil, err
		}
		return buf, nil
	}

	dump = func(pid PageID, depth int) error {
		buf, err := readPage(pid)
		if err != nil {
			return err
		}
		indent := strings.Repeat("  ", depth)
		hdr := UnmarshalHeader(buf)
		bp := WrapBTreePage(buf)

		if bp.IsLeaf() {
			fmt.Fprintf(&sb, "%sLeaf[%d] keys=%d next=%d prev=%d\n",
				indent, pid, bp.KeyCount(), bp.NextLeaf(), bp.PrevLeaf())
			sc := bp.slotCount()
			for i := 0; i < sc; i++ {
				entry := bp.GetLeafEntry(i)
				if entry.Overflow {
					fmt.Fprintf(&sb, "%s  [%d] key=%q overflow=page%d size=%d\n",
						indent, i, entry.Key, entry.OverflowPageID, entry.TotalSize)
				} else {
					fmt.Fprintf(&sb, "%s  [%d] key=%q val=%d bytes\n",
						indent, i, entry.Key, len(entry.Value))
				}
			}
		} else {
			fmt.Fprintf(&sb, "%sInternal[%d] keys=%d rightChild=%d lsn=%d\n",
				indent, pid, bp.KeyCount(), bp.RightChild(), hdr.LSN)
			sc := bp.slotCount()
			for i := 0; i < sc; i++ {
				entry := bp.GetInternalEntry(i)
				fmt.Fprintf(&sb, "%s  child=%d sep=%q\n", indent, entry.ChildID, entry.Key)
				if err := dump(entry.ChildID, depth+1); err != nil {
					return err
				}
			}
			// Dump right child.
			rc := bp.RightChild()
			if rc != InvalidPageID {
				fmt.Fprintf(&sb, "%s  rightChild=%d\n", indent, rc)
				if err := dump(rc, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := dump(rootPageID, 0); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// WALInfo summarises a WAL file: valid frame counts, commit markers, and
// header metadata.
type WALInfo struct {
	PageSize       int
	CheckpointSeq  uint32
	Salt1, Salt2   uint32
	Frames         int // valid frames, including an uncommitted tail
	CommittedFrame int // last frame carrying a commit size
	Commits        int // number of commit frames
	PagesIndexed   int // distinct pages among committed frames
	CommitSize     uint32
}

// InspectWAL reads and summarises a WAL file by replaying its frame scan.
func InspectWAL(walPath string, pageSize int) (*WALInfo, error) {
	f, err := os.Open(walPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var hdr [WALFileHdrSize]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("read WAL header: %w", err)
	}
	if magic := binary.BigEndian.Uint32(hdr[0:4]); magic != WALMagic {
		return nil, fmt.Errorf("bad WAL magic %08x", magic)
	}
	if pageSize == 0 {
		pageSize = int(binary.BigEndian.Uint32(hdr[8:12]))
	}

	info := &WALInfo{
		PageSize:      pageSize,
		CheckpointSeq: binary.BigEndian.Uint32(hdr[12:16]),
		Salt1:         binary.BigEndian.Uint32(hdr[16:20]),
		Salt2:         binary.BigEndian.Uint32(hdr[20:24]),
	}

	s1, s2 := walChecksum(0, 0, hdr[:24])
	if s1 != binary.BigEndian.Uint32(hdr[24:28]) || s2 != binary.BigEndian.Uint32(hdr[28:32]) {
		return nil, fmt.Errorf("WAL header checksum mismatch")
	}

	frameHdr := make([]byte, WALFrameHdrSize)
	data := make([]byte, pageSize)
	pages := make(map[PageID]bool)
	var staged []PageID
	frameSize := int64(WALFrameHdrSize + pageSize)

	for frame := 1; ; frame++ {
		off := WALFileHdrSize + int64(frame-1)*frameSize
		if _, err := f.ReadAt(frameHdr, off); err != nil {
			break
		}
		if _, err := f.ReadAt(data, off+WALFrameHdrSize); err != nil {
			break
		}
		if binary.BigEndian.Uint32(frameHdr[8:12]) != info.Salt1 ||
			binary.BigEndian.Uint32(frameHdr[12:16]) != info.Salt2 {
			break
		}
		s1, s2 = walChecksum(s1, s2, frameHdr[:8])
		s1, s2 = walChecksum(s1, s2, data)
		if s1 != binary.BigEndian.Uint32(frameHdr[16:20]) || s2 != binary.BigEndian.Uint32(frameHdr[20:24]) {
			break
		}

		info.Frames = frame
		staged = append(staged, PageID(binary.BigEndian.Uint32(frameHdr[0:4])))
		if commit := binary.BigEndian.Uint32(frameHdr[4:8]); commit != 0 {
			info.Commits++
			info.CommittedFrame = frame
			info.CommitSize = commit
			for _, pgno := range staged {
				pages[pgno] = true
			}
			staged = staged[:0]
		}
	}
	info.PagesIndexed = len(pages)
	return info, nil
}

// SuperblockInfo holds display-friendly superblock data.
type SuperblockInfo struct {
	FormatVersion uint32
	PageSize      uint32
	PageCount     uint64
	FeatureFlags  uint64
	CatalogRoot   PageID
	FreeListRoot  PageID
	CheckpointLSN LSN
	NextTxID      TxID
	NextPageID    PageID
	CRCValid      bool
}

// InspectSuperblock reads and returns the superblock metadata.
func InspectSuperblock(dbPath string) (*SuperblockInfo, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, MaxPageSize)
	n, err := f.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	// Trim to the actual page size before the trailer checksum check.
	if n >= dbHdrPageSizeOff+2 {
		ps := decodePageSize(binary.BigEndian.Uint16(buf[dbHdrPageSizeOff:]))
		if ps >= MinPageSize && ps <= MaxPageSize && ps <= n {
			buf = buf[:ps]
		} else {
			buf = buf[:n]
		}
	} else {
		buf = buf[:n]
	}

	sb, err := UnmarshalSuperblock(buf)
	if err != nil {
		return &SuperblockInfo{CRCValid: false}, err
	}
	crcValid := true

	return &SuperblockInfo{
		FormatVersion: sb.FormatVersion,
		PageSize:      sb.PageSize,
		PageCount:     sb.PageCount,
		FeatureFlags:  uint64(sb.FeatureFlags),
		CatalogRoot:   sb.CatalogRoot,
		FreeListRoot:  sb.FreeListRoot,
		CheckpointLSN: sb.CheckpointLSN,
		NextTxID:      sb.NextTxID,
		NextPageID:    sb.NextPageID,
		CRCValid:      crcValid,
	}, nil
}
