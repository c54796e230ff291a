package pager

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
)

// ───────────────────────────────────────────────────────────────────────────
// WAL file format
// ───────────────────────────────────────────────────────────────────────────
//
// The WAL is an append-only file of page images (post-images) in the SQLite
// write-ahead-log layout (https://www.sqlite.org/fileformat2.html §4): a
// 32-byte file header followed by frames of 24-byte header + one page image.
//
// WAL file header (all fields big-endian uint32):
//   [0:4]    Magic               0x377f0683 (big-endian checksums)
//   [4:8]    Format version      3007000
//   [8:12]   Page size
//   [12:16]  Checkpoint sequence (incremented on every restart)
//   [16:20]  Salt-1              (random, renewed on restart)
//   [20:24]  Salt-2              (random, renewed on restart)
//   [24:28]  Checksum-1          over bytes [0:24]
//   [28:32]  Checksum-2
//
// Frame header (big-endian uint32 each):
//   [0:4]    Page number
//   [4:8]    Commit size — the database size in pages for a commit frame,
//            0 for all other frames
//   [8:12]   Salt-1 (copy of header value; stale frames are detectable)
//   [12:16]  Salt-2
//   [16:20]  Checksum-1 — cumulative over all preceding frames, this frame's
//            first 8 header bytes, and the page data
//   [20:24]  Checksum-2
//
// A transaction's frames become visible only when its final frame carries a
// non-zero commit size; frames past the last commit frame are discarded on
// recovery. The checksum is SQLite's two-word cumulative sum over 32-bit
// big-endian words, seeded from the header checksum for the first frame and
// from the previous frame's checksum for every following frame.

const (
	// WALMagic marks a WAL using big-endian checksum words.
	WALMagic = uint32(0x377f0683)

	// WALFormatVersion is the WAL format version number.
	WALFormatVersion = uint32(3007000)

	// WALFileHdrSize is the size of the WAL file header.
	WALFileHdrSize = 32

	// WALFrameHdrSize is the size of each frame header.
	WALFrameHdrSize = 24
)

// walChecksum advances the cumulative checksum (s1, s2) over data, which
// must be a multiple of 8 bytes. This is SQLite's checksum, bit-for-bit:
// two accumulators fed alternating 32-bit words.
func walChecksum(s1, s2 uint32, data []byte) (uint32, uint32) {
	for i := 0; i+8 <= len(data); i += 8 {
		x1 := binary.BigEndian.Uint32(data[i:])
		x2 := binary.BigEndian.Uint32(data[i+4:])
		s1 += x1 + s2
		s2 += x2 + s1
	}
	return s1, s2
}

// WALFrame is one page image to be appended to the log. Commit is the
// database size in pages when the frame ends a transaction, 0 otherwise.
type WALFrame struct {
	PageID PageID
	Commit uint32
	Data   []byte
}

// WALFile manages the append-only write-ahead log and its in-memory index
// mapping each page to its most recent committed frame.
type WALFile struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	pageSize int

	salt1, salt2 uint32
	ckptSeq      uint32
	s1, s2       uint32 // running checksum after the last valid frame

	nFrames      uint32 // frames physically in the file (including uncommitted tail)
	maxCommitted uint32 // last frame that carried a commit size

	index  map[PageID]uint32 // page → latest committed frame
	staged []stagedFrame     // frames appended since the last commit frame
	lastDB uint32            // commit size of the last commit frame
}

type stagedFrame struct {
	page  PageID
	frame uint32
}

func (wf *WALFile) frameSize() int64 { return int64(WALFrameHdrSize + wf.pageSize) }

func (wf *WALFile) frameOffset(frame uint32) int64 {
	return WALFileHdrSize + int64(frame-1)*wf.frameSize()
}

// OpenWALFile opens or creates a WAL file. An existing file is validated and
// scanned: frames with valid salts and checksums up to the last commit frame
// populate the page index; a corrupt or uncommitted tail is ignored.
func OpenWALFile(path string, pageSize int) (*WALFile, error) {
	exists := true
	if _, err := os.Stat(path); os.IsNotExist(err) {
		exists = false
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open WAL: %w", err)
	}

	wf := &WALFile{
		f:        f,
		path:     path,
		pageSize: pageSize,
		index:    make(map[PageID]uint32),
	}

	if exists {
		if err := wf.readHeader(); err != nil {
			// A zero-length file left by a crash before the header sync is
			// indistinguishable from a fresh WAL.
			if err == io.EOF {
				if werr := wf.writeHeader(); werr != nil {
					f.Close()
					return nil, werr
				}
				return wf, nil
			}
			f.Close()
			return nil, err
		}
		wf.scanFrames()
	} else {
		if err := wf.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return wf, nil
}

// newSalts refreshes both salts from the system randomness source.
func (wf *WALFile) newSalts() {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		// Fall back to a counter-derived salt; uniqueness per restart is
		// what matters, not unpredictability.
		binary.BigEndian.PutUint64(b[:], uint64(wf.ckptSeq)<<32|uint64(wf.nFrames)+1)
	}
	wf.salt1 = binary.BigEndian.Uint32(b[0:4])
	wf.salt2 = binary.BigEndian.Uint32(b[4:8])
}

func (wf *WALFile) writeHeader() error {
	wf.newSalts()
	var hdr [WALFileHdrSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], WALMagic)
	binary.BigEndian.PutUint32(hdr[4:8], WALFormatVersion)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(wf.pageSize))
	binary.BigEndian.PutUint32(hdr[12:16], wf.ckptSeq)
	binary.BigEndian.PutUint32(hdr[16:20], wf.salt1)
	binary.BigEndian.PutUint32(hdr[20:24], wf.salt2)
	s1, s2 := walChecksum(0, 0, hdr[:24])
	binary.BigEndian.PutUint32(hdr[24:28], s1)
	binary.BigEndian.PutUint32(hdr[28:32], s2)

	if _, err := wf.f.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("write WAL header: %w", err)
	}
	if err := wf.f.Sync(); err != nil {
		return err
	}
	wf.s1, wf.s2 = s1, s2
	wf.nFrames = 0
	wf.maxCommitted = 0
	wf.index = make(map[PageID]uint32)
	wf.staged = nil
	return nil
}

func (wf *WALFile) readHeader() error {
	var hdr [WALFileHdrSize]byte
	n, err := wf.f.ReadAt(hdr[:], 0)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read WAL header: %w", err)
	}
	if n == 0 {
		return io.EOF
	}
	if n < WALFileHdrSize {
		return fmt.Errorf("WAL header too short: %d bytes", n)
	}
	if magic := binary.BigEndian.Uint32(hdr[0:4]); magic != WALMagic {
		return fmt.Errorf("bad WAL magic %08x", magic)
	}
	if ver := binary.BigEndian.Uint32(hdr[4:8]); ver != WALFormatVersion {
		return fmt.Errorf("unsupported WAL version %d", ver)
	}
	ps := binary.BigEndian.Uint32(hdr[8:12])
	if int(ps) != wf.pageSize {
		return fmt.Errorf("WAL page size %d != expected %d", ps, wf.pageSize)
	}
	s1, s2 := walChecksum(0, 0, hdr[:24])
	if s1 != binary.BigEndian.Uint32(hdr[24:28]) || s2 != binary.BigEndian.Uint32(hdr[28:32]) {
		return fmt.Errorf("WAL header checksum mismatch")
	}
	wf.ckptSeq = binary.BigEndian.Uint32(hdr[12:16])
	wf.salt1 = binary.BigEndian.Uint32(hdr[16:20])
	wf.salt2 = binary.BigEndian.Uint32(hdr[20:24])
	wf.s1, wf.s2 = s1, s2
	return nil
}

// scanFrames walks the frame sequence, stopping at the first frame whose
// salts or cumulative checksum do not validate (a torn or stale tail).
func (wf *WALFile) scanFrames() {
	hdr := make([]byte, WALFrameHdrSize)
	data := make([]byte, wf.pageSize)

	frame := uint32(1)
	for {
		off := wf.frameOffset(frame)
		if _, err := wf.f.ReadAt(hdr, off); err != nil {
			break
		}
		if _, err := wf.f.ReadAt(data, off+WALFrameHdrSize); err != nil {
			break
		}
		if binary.BigEndian.Uint32(hdr[8:12]) != wf.salt1 ||
			binary.BigEndian.Uint32(hdr[12:16]) != wf.salt2 {
			break
		}
		s1, s2 := walChecksum(wf.s1, wf.s2, hdr[:8])
		s1, s2 = walChecksum(s1, s2, data)
		if s1 != binary.BigEndian.Uint32(hdr[16:20]) || s2 != binary.BigEndian.Uint32(hdr[20:24]) {
			break
		}

		pgno := PageID(binary.BigEndian.Uint32(hdr[0:4]))
		commit := binary.BigEndian.Uint32(hdr[4:8])
		wf.s1, wf.s2 = s1, s2
		wf.nFrames = frame
		wf.staged = append(wf.staged, stagedFrame{page: pgno, frame: frame})
		if commit != 0 {
			for _, sf := range wf.staged {
				wf.index[sf.page] = sf.frame
			}
			wf.staged = nil
			wf.maxCommitted = frame
			wf.lastDB = commit
		}
		frame++
	}
	// Frames after the last commit are invisible; forget them so the next
	// append overwrites the dead tail.
	wf.discardUncommittedTail()
}

func (wf *WALFile) discardUncommittedTail() {
	if wf.nFrames == wf.maxCommitted {
		return
	}
	wf.nFrames = wf.maxCommitted
	wf.staged = nil
	// Rewind the running checksum by replaying the committed prefix.
	wf.s1, wf.s2 = wf.headerChecksum()
	hdr := make([]byte, WALFrameHdrSize)
	data := make([]byte, wf.pageSize)
	for frame := uint32(1); frame <= wf.maxCommitted; frame++ {
		off := wf.frameOffset(frame)
		if _, err := wf.f.ReadAt(hdr, off); err != nil {
			return
		}
		if _, err := wf.f.ReadAt(data, off+WALFrameHdrSize); err != nil {
			return
		}
		wf.s1, wf.s2 = walChecksum(wf.s1, wf.s2, hdr[:8])
		wf.s1, wf.s2 = walChecksum(wf.s1, wf.s2, data)
	}
}

func (wf *WALFile) headerChecksum() (uint32, uint32) {
	var hdr [24]byte
	binary.BigEndian.PutUint32(hdr[0:4], WALMagic)
	binary.BigEndian.PutUint32(hdr[4:8], WALFormatVersion)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(wf.pageSize))
	binary.BigEndian.PutUint32(hdr[12:16], wf.ckptSeq)
	binary.BigEndian.PutUint32(hdr[16:20], wf.salt1)
	binary.BigEndian.PutUint32(hdr[20:24], wf.salt2)
	return walChecksum(0, 0, hdr[:])
}

// AppendFrames appends a batch of frames. The caller marks the final frame
// of a transaction with a non-zero Commit; only then do the batch's pages
// become visible to FrameForPage and recovery. Returns the frame number of
// the last appended frame.
func (wf *WALFile) AppendFrames(frames []*WALFrame) (LSN, error) {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	if len(frames) == 0 {
		return LSN(wf.nFrames), nil
	}

	buf := make([]byte, 0, len(frames)*(WALFrameHdrSize+wf.pageSize))
	s1, s2 := wf.s1, wf.s2
	startFrame := wf.nFrames + 1

	var newlyStaged []stagedFrame
	for i, fr := range frames {
		if len(fr.Data) != wf.pageSize {
			return 0, fmt.Errorf("WAL frame for page %d: data is %d bytes, page size is %d",
				fr.PageID, len(fr.Data), wf.pageSize)
		}
		var hdr [WALFrameHdrSize]byte
		binary.BigEndian.PutUint32(hdr[0:4], uint32(fr.PageID))
		binary.BigEndian.PutUint32(hdr[4:8], fr.Commit)
		binary.BigEndian.PutUint32(hdr[8:12], wf.salt1)
		binary.BigEndian.PutUint32(hdr[12:16], wf.salt2)
		s1, s2 = walChecksum(s1, s2, hdr[:8])
		s1, s2 = walChecksum(s1, s2, fr.Data)
		binary.BigEndian.PutUint32(hdr[16:20], s1)
		binary.BigEndian.PutUint32(hdr[20:24], s2)

		buf = append(buf, hdr[:]...)
		buf = append(buf, fr.Data...)
		newlyStaged = append(newlyStaged, stagedFrame{page: fr.PageID, frame: startFrame + uint32(i)})
	}

	if _, err := wf.f.WriteAt(buf, wf.frameOffset(startFrame)); err != nil {
		return 0, fmt.Errorf("WAL append: %w", err)
	}

	wf.s1, wf.s2 = s1, s2
	wf.nFrames += uint32(len(frames))
	wf.staged = append(wf.staged, newlyStaged...)
	for i, fr := range frames {
		if fr.Commit != 0 {
			commitFrame := startFrame + uint32(i)
			for _, sf := range wf.staged {
				if sf.frame <= commitFrame {
					wf.index[sf.page] = sf.frame
				}
			}
			remaining := wf.staged[:0]
			for _, sf := range wf.staged {
				if sf.frame > commitFrame {
					remaining = append(remaining, sf)
				}
			}
			wf.staged = remaining
			wf.maxCommitted = commitFrame
			wf.lastDB = fr.Commit
		}
	}
	return LSN(wf.nFrames), nil
}

// FrameForPage returns the page image of the most recent committed frame
// for pgno, or (nil, false) when the page is not in the log.
func (wf *WALFile) FrameForPage(pgno PageID) ([]byte, bool, error) {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	frame, ok := wf.index[pgno]
	if !ok {
		return nil, false, nil
	}
	data := make([]byte, wf.pageSize)
	if _, err := wf.f.ReadAt(data, wf.frameOffset(frame)+WALFrameHdrSize); err != nil {
		return nil, false, fmt.Errorf("read WAL frame %d: %w", frame, err)
	}
	return data, true, nil
}

// CommittedPages returns the pages present in the log in ascending page
// order, the order the checkpointer copies them in.
func (wf *WALFile) CommittedPages() []PageID {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	pages := make([]PageID, 0, len(wf.index))
	for pgno := range wf.index {
		pages = append(pages, pgno)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	return pages
}

// MaxCommittedFrame returns the frame number of the last commit frame
// (0 when the log holds no committed transaction).
func (wf *WALFile) MaxCommittedFrame() uint32 {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.maxCommitted
}

// CommitSize returns the database page count recorded by the last commit
// frame, or 0 when the log is empty.
func (wf *WALFile) CommitSize() uint32 {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.lastDB
}

// CheckpointSeq returns the current checkpoint sequence number.
func (wf *WALFile) CheckpointSeq() uint32 {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.ckptSeq
}

// Sync fsyncs the WAL file to guarantee durability.
func (wf *WALFile) Sync() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.f.Sync()
}

// Close closes the WAL file.
func (wf *WALFile) Close() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.f.Close()
}

// Restart resets the log after a checkpoint: the file shrinks back to its
// header, the checkpoint sequence increments, and fresh salts invalidate
// any stale frame a torn write might leave behind.
func (wf *WALFile) Restart() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	if err := wf.f.Truncate(WALFileHdrSize); err != nil {
		return err
	}
	wf.ckptSeq++
	wf.lastDB = 0
	return wf.writeHeader()
}
