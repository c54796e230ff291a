package pager

import (
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Crash Recovery
// ───────────────────────────────────────────────────────────────────────────
//
// Opening the WAL already performed the hard part: the frame scan validated
// salts and cumulative checksums and indexed every page up to the last
// commit frame, discarding a torn or uncommitted tail. Recovery copies those
// surviving frames into the database file in page order (a checkpoint in
// all but name), refreshes the superblock's allocation counters, fsyncs,
// and restarts the log.

// Recover applies the WAL's committed frames to the database file.
func (p *Pager) Recover() error {
	if p.wal.MaxCommittedFrame() == 0 {
		return nil
	}

	pages := p.wal.CommittedPages()
	var maxPgno PageID
	for _, pgno := range pages {
		buf, ok, err := p.wal.FrameForPage(pgno)
		if err != nil {
			return fmt.Errorf("recover read frame for page %d: %w", pgno, err)
		}
		if !ok {
			continue
		}
		if err := p.writePageRaw(pgno, buf); err != nil {
			return fmt.Errorf("recover apply page %d: %w", pgno, err)
		}
		if pgno > maxPgno {
			maxPgno = pgno
		}
	}

	if err := p.file.Sync(); err != nil {
		return err
	}

	// The allocation high-water mark must cover every recovered page, and
	// the checkpoint counter advances like any other checkpoint. The
	// superblock may predate the crash, so it is re-read, updated, and
	// rewritten.
	sb, err := p.readSuperblock()
	if err != nil {
		return fmt.Errorf("recover superblock: %w", err)
	}
	if maxPgno+1 > sb.NextPageID {
		sb.NextPageID = maxPgno + 1
	}
	if uint64(sb.NextPageID) > sb.PageCount {
		sb.PageCount = uint64(sb.NextPageID)
	}
	sb.CheckpointLSN++
	sbBuf := MarshalSuperblock(sb, p.pageSize)
	if err := p.writePageRaw(0, sbBuf); err != nil {
		return fmt.Errorf("recover write superblock: %w", err)
	}
	if err := p.file.Sync(); err != nil {
		return err
	}

	return p.wal.Restart()
}
