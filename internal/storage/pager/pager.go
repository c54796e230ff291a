package pager

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// ───────────────────────────────────────────────────────────────────────────
// Buffer Pool / Pager
// ───────────────────────────────────────────────────────────────────────────
//
// The Pager is the central I/O layer. It manages the database file, the WAL,
// the buffer pool (page cache with dirty tracking), the free-list, and the
// superblock. All page reads and writes go through the Pager so that WAL
// logging happens automatically; page CRCs are set and checked by the
// callers (the B+Tree layer and the inspection tools), not by the Pager.
//
// Writes are staged per transaction and reach the WAL as one frame batch at
// commit, the batch's last frame carrying the commit size. Reads consult the
// buffer pool, then the WAL's page index, then the database file — so a
// committed page is visible before any checkpoint copies it into the file.

// PageFrame is an in-memory cached page.
type PageFrame struct {
	id     PageID
	buf    []byte
	dirty  bool
	lsn    LSN // WAL frame number of last committed modification
	pinned int // pin count (>0 = cannot evict)
	prev   *PageFrame
	next   *PageFrame
}

// BufferPoolConfig configures the page buffer pool.
type BufferPoolConfig struct {
	MaxPages int // maximum number of cached pages (default 1024)
}

// PageBufferPool is an LRU page cache with dirty-page tracking.
type PageBufferPool struct {
	mu       sync.Mutex
	maxPages int
	pages    map[PageID]*PageFrame
	// LRU doubly-linked list: head = most recent, tail = least recent.
	head *PageFrame
	tail *PageFrame
}

func newPageBufferPool(maxPages int) *PageBufferPool {
	if maxPages <= 0 {
		maxPages = 1024
	}
	return &PageBufferPool{
		maxPages: maxPages,
		pages:    make(map[PageID]*PageFrame, maxPages),
	}
}

func (bp *PageBufferPool) get(id PageID) (*PageFrame, bool) {
	f, ok := bp.pages[id]
	if ok {
		bp.moveToFront(f)
	}
	return f, ok
}

func (bp *PageBufferPool) put(f *PageFrame) {
	if _, exists := bp.pages[f.id]; exists {
		bp.moveToFront(f)
		return
	}
	// Evict if at capacity.
	for len(bp.pages) >= bp.maxPages {
		if !bp.evictOne() {
			break // all pages pinned — cannot evict
		}
	}
	bp.pages[f.id] = f
	bp.pushFront(f)
}

func (bp *PageBufferPool) remove(id PageID) {
	f, ok := bp.pages[id]
	if !ok {
		return
	}
	bp.unlink(f)
	delete(bp.pages, id)
}

// evictOne removes the least-recently-used unpinned clean page.
// Returns false if no page can be evicted.
func (bp *PageBufferPool) evictOne() bool {
	for f := bp.tail; f != nil; f = f.prev {
		if f.pinned == 0 && !f.dirty {
			bp.unlink(f)
			delete(bp.pages, f.id)
			return true
		}
	}
	return false
}

// dirtyPages returns all dirty page frames.
func (bp *PageBufferPool) dirtyPages() []*PageFrame {
	var out []*PageFrame
	for _, f := range bp.pages {
		if f.dirty {
			out = append(out, f)
		}
	}
	return out
}

func (bp *PageBufferPool) pushFront(f *PageFrame) {
	f.prev = nil
	f.next = bp.head
	if bp.head != nil {
		bp.head.prev = f
	}
	bp.head = f
	if bp.tail == nil {
		bp.tail = f
	}
}

func (bp *PageBufferPool) unlink(f *PageFrame) {
	if f.prev != nil {
		f.prev.next = f.next
	} else {
		bp.head = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	} else {
		bp.tail = f.prev
	}
	f.prev = nil
	f.next = nil
}

func (bp *PageBufferPool) moveToFront(f *PageFrame) {
	bp.unlink(f)
	bp.pushFront(f)
}

// ───────────────────────────────────────────────────────────────────────────
// Pager
// ───────────────────────────────────────────────────────────────────────────

// PagerConfig configures a Pager.
type PagerConfig struct {
	DBPath        string
	WALPath       string
	PageSize      int
	MaxCachePages int // buffer pool capacity (0 = default 1024)
}

// Pager manages page-level I/O, WAL, buffer pool, and free-list.
type Pager struct {
	mu       sync.RWMutex
	file     *os.File
	wal      *WALFile
	pool     *PageBufferPool
	sb       *Superblock
	freeMgr  *FreeManager
	pending  map[TxID][]*WALFrame // staged writes per open transaction
	pageSize int
	path     string
	walPath  string
	closed   bool
}

// OpenPager opens or creates a page-based database. An existing database is
// recovered first: committed WAL frames are copied into the file and the
// log is restarted before the superblock and free-list are read.
func OpenPager(cfg PagerConfig) (*Pager, error) {
	ps := cfg.PageSize
	if ps == 0 {
		ps = DefaultPageSize
	}
	if ps < MinPageSize || ps > MaxPageSize || ps&(ps-1) != 0 {
		return nil, fmt.Errorf("invalid page size %d", ps)
	}

	isNew := false
	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		isNew = true
	}

	f, err := os.OpenFile(cfg.DBPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open db file: %w", err)
	}

	p := &Pager{
		file:     f,
		pageSize: ps,
		path:     cfg.DBPath,
		walPath:  cfg.WALPath,
		pool:     newPageBufferPool(cfg.MaxCachePages),
		freeMgr:  NewFreeManager(),
		pending:  make(map[TxID][]*WALFrame),
	}

	if !isNew {
		// Honour the on-disk page size before the WAL (whose frames are
		// page-sized) is opened.
		var szBuf [2]byte
		if _, err := f.ReadAt(szBuf[:], dbHdrPageSizeOff); err == nil {
			if onDisk := decodePageSize(binary.BigEndian.Uint16(szBuf[:])); onDisk >= MinPageSize && onDisk <= MaxPageSize {
				p.pageSize = onDisk
			}
		}
	}

	walPath := cfg.WALPath
	if walPath == "" {
		walPath = cfg.DBPath + ".wal"
	}
	p.walPath = walPath
	wf, err := OpenWALFile(walPath, p.pageSize)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open WAL file: %w", err)
	}
	p.wal = wf

	if isNew {
		sb := NewSuperblock(uint32(p.pageSize))
		buf := MarshalSuperblock(sb, p.pageSize)
		if _, err := f.WriteAt(buf, 0); err != nil {
			wf.Close()
			f.Close()
			return nil, fmt.Errorf("write superblock: %w", err)
		}
		if err := f.Sync(); err != nil {
			wf.Close()
			f.Close()
			return nil, err
		}
		p.sb = sb
		return p, nil
	}

	// Crash recovery: committed frames land in the file before anything
	// reads through it.
	if err := p.Recover(); err != nil {
		wf.Close()
		f.Close()
		return nil, fmt.Errorf("WAL recovery: %w", err)
	}

	sb, err := p.readSuperblock()
	if err != nil {
		wf.Close()
		f.Close()
		return nil, err
	}
	p.sb = sb

	if sb.FreeListRoot != InvalidPageID {
		if err := p.freeMgr.LoadFromDisk(sb.FreeListRoot, p.readPageRaw); err != nil {
			wf.Close()
			f.Close()
			return nil, fmt.Errorf("load freelist: %w", err)
		}
	}
	return p, nil
}

// decodePageSize maps the on-disk 16-bit page size (1 means 65536) to bytes.
func decodePageSize(raw uint16) int {
	if raw == 1 {
		return 65536
	}
	return int(raw)
}

func (p *Pager) readSuperblock() (*Superblock, error) {
	buf := make([]byte, p.pageSize)
	if _, err := p.file.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("read superblock: %w", err)
	}
	return UnmarshalSuperblock(buf)
}

// readPageRaw reads a page directly from the database file (no cache, no
// WAL). Pages are returned as-is: the superblock validates its own trailer
// checksum, B+Tree pages carry a header CRC checked by the tree layer, and
// overflow/freelist pages have no per-page checksum (the WAL frame
// checksums cover them in transit).
func (p *Pager) readPageRaw(id PageID) ([]byte, error) {
	buf := make([]byte, p.pageSize)
	off := int64(id) * int64(p.pageSize)
	if _, err := p.file.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read page %d: %w", id, err)
	}
	return buf, nil
}

// writePageRaw writes a page directly to the database file (no cache).
func (p *Pager) writePageRaw(id PageID, buf []byte) error {
	off := int64(id) * int64(p.pageSize)
	if _, err := p.file.WriteAt(buf, off); err != nil {
		return fmt.Errorf("write page %d: %w", id, err)
	}
	return nil
}

// ── Public page I/O ───────────────────────────────────────────────────────

// ReadPage returns a page by ID, using the buffer pool cache and, on a
// miss, the WAL before the database file. The page is pinned in the cache;
// call UnpinPage when done.
func (p *Pager) ReadPage(id PageID) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.readPageCached(id)
}

func (p *Pager) readPageCached(id PageID) ([]byte, error) {
	p.pool.mu.Lock()
	if f, ok := p.pool.get(id); ok {
		f.pinned++
		p.pool.mu.Unlock()
		return f.buf, nil
	}
	p.pool.mu.Unlock()

	// Cache miss — a committed WAL frame is newer than the file copy.
	buf, inWAL, err := p.wal.FrameForPage(id)
	if err != nil {
		return nil, err
	}
	if !inWAL {
		buf, err = p.readPageRaw(id)
		if err != nil {
			return nil, err
		}
	}
	f := &PageFrame{id: id, buf: buf, pinned: 1}
	p.pool.mu.Lock()
	p.pool.put(f)
	p.pool.mu.Unlock()
	return buf, nil
}

// UnpinPage decrements the pin count.
func (p *Pager) UnpinPage(id PageID) {
	p.pool.mu.Lock()
	defer p.pool.mu.Unlock()
	if f, ok := p.pool.get(id); ok && f.pinned > 0 {
		f.pinned--
	}
}

// WritePage stages a page modification for the given transaction and makes
// it visible through the buffer pool. Nothing reaches the WAL until
// CommitTx appends the transaction's frames as one batch.
func (p *Pager) WritePage(txID TxID, id PageID, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// NOTE: CRC is set by the caller (BTree layer).  We skip re-computing
	// it here to avoid redundant work.

	img := make([]byte, len(buf))
	copy(img, buf)

	// A transaction that touches a page twice keeps only the latest image.
	frames := p.pending[txID]
	replaced := false
	for _, fr := range frames {
		if fr.PageID == id {
			fr.Data = img
			replaced = true
			break
		}
	}
	if !replaced {
		p.pending[txID] = append(frames, &WALFrame{PageID: id, Data: img})
	}

	p.pool.mu.Lock()
	f, ok := p.pool.get(id)
	if !ok {
		f = &PageFrame{id: id, buf: make([]byte, p.pageSize)}
		p.pool.put(f)
	}
	copy(f.buf, buf)
	f.dirty = true
	p.pool.mu.Unlock()

	return nil
}

// ── Transaction management ────────────────────────────────────────────────

// BeginTx starts a new transaction. The WAL is untouched until commit.
func (p *Pager) BeginTx() (TxID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	txID := p.sb.NextTxID
	p.sb.NextTxID++
	p.pending[txID] = nil
	return txID, nil
}

// CommitTx appends the transaction's staged frames to the WAL, the last
// frame carrying the database size as the commit marker, then fsyncs.
func (p *Pager) CommitTx(txID TxID) error {
	p.mu.Lock()
	frames := p.pending[txID]
	delete(p.pending, txID)
	dbSize := uint32(p.sb.PageCount)
	p.mu.Unlock()

	if len(frames) == 0 {
		return nil
	}
	frames[len(frames)-1].Commit = dbSize

	lsn, err := p.wal.AppendFrames(frames)
	if err != nil {
		return fmt.Errorf("WAL commit: %w", err)
	}
	if err := p.wal.Sync(); err != nil {
		return err
	}

	p.pool.mu.Lock()
	for _, fr := range frames {
		if f, ok := p.pool.pages[fr.PageID]; ok {
			f.dirty = false
			f.lsn = lsn
		}
	}
	p.pool.mu.Unlock()
	return nil
}

// AbortTx discards the transaction's staged frames and evicts its pages
// from the pool so later reads fall back to the committed WAL/file state.
func (p *Pager) AbortTx(txID TxID) error {
	p.mu.Lock()
	frames := p.pending[txID]
	delete(p.pending, txID)
	p.mu.Unlock()

	p.pool.mu.Lock()
	for _, fr := range frames {
		p.pool.remove(fr.PageID)
	}
	p.pool.mu.Unlock()
	return nil
}

// ── Page allocation ───────────────────────────────────────────────────────

// AllocPage allocates a new page (from the free-list or by extending the file).
// Returns the page ID and a zeroed buffer. The page is pinned in the cache.
func (p *Pager) AllocPage() (PageID, []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pid := p.freeMgr.Alloc()
	if pid == InvalidPageID {
		pid = p.sb.NextPageID
		p.sb.NextPageID++
		p.sb.PageCount++
	}
	buf := make([]byte, p.pageSize)
	// Put in pool pinned.
	f := &PageFrame{id: pid, buf: buf, pinned: 1}
	p.pool.mu.Lock()
	p.pool.put(f)
	p.pool.mu.Unlock()
	return pid, buf
}

// FreePage marks a page as free for reuse.
func (p *Pager) FreePage(pid PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freeMgr.Free(pid)
	p.pool.mu.Lock()
	p.pool.remove(pid)
	p.pool.mu.Unlock()
}

// freeOldFreeListChain walks the old free-list chain and adds those pages
// to the FreeManager so they can be reused. Must be called with p.mu held.
func (p *Pager) freeOldFreeListChain(head PageID) {
	pid := head
	for pid != InvalidPageID {
		buf, err := p.readPageRaw(pid)
		if err != nil {
			break
		}
		fl := WrapFreeListPage(buf)
		next := fl.NextFreeList()
		p.freeMgr.Free(pid)
		pid = next
	}
}

// ── Checkpoint ────────────────────────────────────────────────────────────

// Checkpoint copies every committed WAL frame into the database file in
// ascending page order, persists the free-list and superblock, fsyncs the
// file, and restarts the WAL with fresh salts.
func (p *Pager) Checkpoint() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pgno := range p.wal.CommittedPages() {
		buf, ok, err := p.wal.FrameForPage(pgno)
		if err != nil {
			return fmt.Errorf("checkpoint read frame for page %d: %w", pgno, err)
		}
		if !ok {
			continue
		}
		if err := p.writePageRaw(pgno, buf); err != nil {
			return fmt.Errorf("checkpoint flush page %d: %w", pgno, err)
		}
	}

	// Free old free-list chain pages before writing the new one.
	oldFLHead := p.sb.FreeListRoot
	if oldFLHead != InvalidPageID {
		p.freeOldFreeListChain(oldFLHead)
	}

	// Flush free-list trunk pages to disk.
	flHead, flPages := p.freeMgr.FlushToDisk(p.pageSize, func() (PageID, []byte) {
		pid := p.sb.NextPageID
		p.sb.NextPageID++
		p.sb.PageCount++
		return pid, make([]byte, p.pageSize)
	})
	for _, fp := range flPages {
		if err := p.writePageRaw(fp.ID, fp.Buf); err != nil {
			return fmt.Errorf("checkpoint freelist page: %w", err)
		}
	}

	// Update superblock. The header's freelist count covers trunks and
	// leaves alike — every page reachable from the first trunk.
	p.sb.FreeListRoot = flHead
	p.sb.FreeListCount = uint32(p.freeMgr.Count() + len(flPages))
	p.sb.CheckpointLSN++
	sbBuf := MarshalSuperblock(p.sb, p.pageSize)
	if err := p.writePageRaw(0, sbBuf); err != nil {
		return fmt.Errorf("checkpoint superblock: %w", err)
	}

	// Fsync the main file before the WAL forgets its frames.
	if err := p.file.Sync(); err != nil {
		return err
	}

	return p.wal.Restart()
}

// ── Superblock access ─────────────────────────────────────────────────────

// Superblock returns a copy of the current superblock.
func (p *Pager) Superblock() Superblock {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return *p.sb
}

// UpdateSuperblock updates the in-memory superblock fields. It does NOT
// write to disk. Use Checkpoint for that.
func (p *Pager) UpdateSuperblock(fn func(sb *Superblock)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.sb)
}

// PageSize returns the configured page size.
func (p *Pager) PageSize() int { return p.pageSize }

// ── Close ─────────────────────────────────────────────────────────────────

// Close performs a final checkpoint and closes all files.
func (p *Pager) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	// Final checkpoint to ensure all data is on disk.
	if err := p.Checkpoint(); err != nil {
		// Best effort — still close files.
		_ = p.wal.Close()
		_ = p.file.Close()
		return err
	}
	if err := p.wal.Close(); err != nil {
		_ = p.file.Close()
		return err
	}
	return p.file.Close()
}

// Path returns the database file path.
func (p *Pager) Path() string { return p.path }

// WALPath returns the WAL file path.
func (p *Pager) WALPath() string { return p.walPath }
