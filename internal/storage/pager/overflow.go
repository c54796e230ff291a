package pager

import (
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Overflow pages
// ───────────────────────────────────────────────────────────────────────────
//
// Overflow pages hold the tail of a payload that exceeds a cell's local
// threshold. The first four bytes of each overflow page are the big-endian
// page number of the next page in the chain (0 = last), matching the SQLite
// overflow-page layout; the following four bytes record how much of the
// rest of the page is payload.
//
//   [0:4]           NextOverflow (uint32 BE, 0 = end of chain)
//   [4:8]           DataLen      (uint32 BE)
//   [8:8+DataLen]   Payload
//
// Overflow pages carry no page header or per-page checksum: the WAL frame
// checksums cover them in transit, and the owning cell records the total
// payload size the chain must reproduce.

const (
	overflowNextOff    = 0
	overflowDataLenOff = 4
	overflowDataOff    = 8
)

// OverflowCapacity returns the payload capacity of a single overflow page.
func OverflowCapacity(pageSize int) int {
	return pageSize - overflowDataOff
}

// OverflowPage wraps a page buffer as an overflow page.
type OverflowPage struct {
	buf      []byte
	pageSize int
}

// WrapOverflowPage wraps an existing overflow page buffer.
func WrapOverflowPage(buf []byte) *OverflowPage {
	return &OverflowPage{buf: buf, pageSize: len(buf)}
}

// InitOverflowPage creates a new overflow page.
func InitOverflowPage(buf []byte, _ PageID) *OverflowPage {
	binary.BigEndian.PutUint32(buf[overflowNextOff:], uint32(InvalidPageID))
	binary.BigEndian.PutUint32(buf[overflowDataLenOff:], 0)
	return &OverflowPage{buf: buf, pageSize: len(buf)}
}

// NextOverflow returns the next overflow page in the chain.
func (op *OverflowPage) NextOverflow() PageID {
	return PageID(binary.BigEndian.Uint32(op.buf[overflowNextOff:]))
}

// SetNextOverflow sets the next-page pointer.
func (op *OverflowPage) SetNextOverflow(pid PageID) {
	binary.BigEndian.PutUint32(op.buf[overflowNextOff:], uint32(pid))
}

// DataLen returns the number of payload bytes stored.
func (op *OverflowPage) DataLen() int {
	return int(binary.BigEndian.Uint32(op.buf[overflowDataLenOff:]))
}

// SetData writes payload into the overflow page. Returns an error if the
// data exceeds the capacity.
func (op *OverflowPage) SetData(data []byte) error {
	if len(data) > OverflowCapacity(op.pageSize) {
		return fmt.Errorf("overflow data %d bytes exceeds capacity %d", len(data), OverflowCapacity(op.pageSize))
	}
	binary.BigEndian.PutUint32(op.buf[overflowDataLenOff:], uint32(len(data)))
	copy(op.buf[overflowDataOff:], data)
	return nil
}

// Data returns the payload bytes.
func (op *OverflowPage) Data() []byte {
	dl := op.DataLen()
	return op.buf[overflowDataOff : overflowDataOff+dl]
}

// Bytes returns the underlying page buffer.
func (op *OverflowPage) Bytes() []byte { return op.buf }
