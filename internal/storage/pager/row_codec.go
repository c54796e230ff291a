package pager

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ───────────────────────────────────────────────────────────────────────────
// Record codec
// ───────────────────────────────────────────────────────────────────────────
//
// Rows are stored inside B+Tree leaves in the SQLite record format
// (https://www.sqlite.org/fileformat2.html §2.1): a varint-length header of
// serial types, one per column, followed by the concatenated column bodies.
//
//   header:  varint(total header bytes, including this varint)
//            varint(serial type) per column
//   body:    column payloads back to back
//
// Serial types:
//   0        NULL                     (0 bytes)
//   1..6     signed big-endian int    (1, 2, 3, 4, 6, 8 bytes)
//   7        IEEE-754 float64         (8 bytes, big-endian)
//   8, 9     integer constants 0, 1   (0 bytes)
//   12+2n    blob of n bytes
//   13+2n    text of n bytes
//
// The engine's dynamic values map onto the serial types with one
// refinement: booleans are encoded with the constant serial types 8/9 and
// decoded back to bool, while plain integers always use types 1..6 even for
// the values 0 and 1. A reader that treats 8/9 as the integers 0/1 — the
// format's definition — still sees the right data; this codec just keeps
// the engine's bool/number distinction across a round trip. Integers decode
// as float64, the engine's numeric type.

const (
	serialNull    = 0
	serialFloat64 = 7
	serialZero    = 8
	serialOne     = 9
)

// putVarint appends SQLite's big-endian 7-bit varint encoding of v.
// Values below 2^56 use up to eight bytes of 7 bits; a ninth byte, when
// present, carries a full 8 bits.
func putVarint(buf []byte, v uint64) []byte {
	if v <= 0x7f {
		return append(buf, byte(v))
	}
	if v > 0x00ffffffffffffff {
		// Nine-byte form: 8 high bytes of 7 bits, then 8 literal bits.
		buf = append(buf,
			byte(v>>57)|0x80, byte(v>>50)|0x80, byte(v>>43)|0x80, byte(v>>36)|0x80,
			byte(v>>29)|0x80, byte(v>>22)|0x80, byte(v>>15)|0x80, byte(v>>8)|0x80,
			byte(v))
		return buf
	}
	var tmp [8]byte
	n := 0
	for v > 0 {
		tmp[n] = byte(v & 0x7f)
		v >>= 7
		n++
	}
	for i := n - 1; i > 0; i-- {
		buf = append(buf, tmp[i]|0x80)
	}
	return append(buf, tmp[0])
}

// getVarint decodes a varint from buf, returning the value and the number
// of bytes consumed (0 on truncation).
func getVarint(buf []byte) (uint64, int) {
	var v uint64
	for i := 0; i < 8 && i < len(buf); i++ {
		b := buf[i]
		v = v<<7 | uint64(b&0x7f)
		if b&0x80 == 0 {
			return v, i + 1
		}
	}
	if len(buf) < 9 {
		return 0, 0
	}
	return v<<8 | uint64(buf[8]), 9
}

// varintLen returns the encoded size of v.
func varintLen(v uint64) int {
	if v <= 0x7f {
		return 1
	}
	if v > 0x00ffffffffffffff {
		return 9
	}
	n := 0
	for v > 0 {
		v >>= 7
		n++
	}
	return n
}

// intSerialType returns the smallest integer serial type holding v and the
// body size in bytes (serial 5 is the 6-byte form, serial 6 the 8-byte).
func intSerialType(v int64) (uint64, int) {
	switch {
	case v >= -128 && v <= 127:
		return 1, 1
	case v >= -32768 && v <= 32767:
		return 2, 2
	case v >= -8388608 && v <= 8388607:
		return 3, 3
	case v >= -2147483648 && v <= 2147483647:
		return 4, 4
	case v >= -140737488355328 && v <= 140737488355327:
		return 5, 6
	default:
		return 6, 8
	}
}

func serialTypeSize(st uint64) (int, bool) {
	switch st {
	case serialNull, serialZero, serialOne:
		return 0, true
	case 1:
		return 1, true
	case 2:
		return 2, true
	case 3:
		return 3, true
	case 4:
		return 4, true
	case 5:
		return 6, true
	case 6, serialFloat64:
		return 8, true
	}
	if st >= 12 {
		return int(st-12) / 2, true
	}
	return 0, false
}

func appendIntBody(buf []byte, v int64, size int) []byte {
	for i := size - 1; i >= 0; i-- {
		buf = append(buf, byte(v>>(8*uint(i))))
	}
	return buf
}

func readIntBody(data []byte, size int) int64 {
	var v uint64
	for i := 0; i < size; i++ {
		v = v<<8 | uint64(data[i])
	}
	// Sign-extend from the top bit of the encoded width.
	shift := uint(64 - 8*size)
	return int64(v<<shift) >> shift
}

// rowSerial computes the serial type and the body byte count for one value.
func rowSerial(v any) (st uint64, body int) {
	switch val := v.(type) {
	case nil:
		return serialNull, 0
	case bool:
		if val {
			return serialOne, 0
		}
		return serialZero, 0
	case int:
		return intSerialType(int64(val))
	case int64:
		return intSerialType(val)
	case float64:
		return serialFloat64, 8
	case string:
		return 13 + 2*uint64(len(val)), len(val)
	case []byte:
		return 12 + 2*uint64(len(val)), len(val)
	default:
		s := fmt.Sprint(val)
		return 13 + 2*uint64(len(s)), len(s)
	}
}

// MarshalRow encodes a row into the record format. It reuses buf when large
// enough.
func MarshalRow(row []any, buf []byte) []byte {
	// First pass: serial types and sizes.
	hdrBody := 0
	bodyLen := 0
	serials := make([]uint64, len(row))
	for i, v := range row {
		st, body := rowSerial(v)
		serials[i] = st
		hdrBody += varintLen(st)
		bodyLen += body
	}
	// The header length varint includes itself; one extra byte is enough
	// until headers exceed 127 bytes, then the length grows and may need
	// another round.
	hdrLen := hdrBody + 1
	for varintLen(uint64(hdrLen))+hdrBody != hdrLen {
		hdrLen = varintLen(uint64(hdrLen)) + hdrBody
	}

	total := hdrLen + bodyLen
	if cap(buf) >= total {
		buf = buf[:0]
	} else {
		buf = make([]byte, 0, total)
	}

	buf = putVarint(buf, uint64(hdrLen))
	for _, st := range serials {
		buf = putVarint(buf, st)
	}

	for _, v := range row {
		switch val := v.(type) {
		case nil, bool:
			// Zero-length bodies.
		case int:
			_, size := intSerialType(int64(val))
			buf = appendIntBody(buf, int64(val), size)
		case int64:
			_, size := intSerialType(val)
			buf = appendIntBody(buf, val, size)
		case float64:
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], math.Float64bits(val))
			buf = append(buf, b[:]...)
		case string:
			buf = append(buf, val...)
		case []byte:
			buf = append(buf, val...)
		default:
			buf = append(buf, fmt.Sprint(val)...)
		}
	}
	return buf
}

// UnmarshalRow decodes a record back into dynamic values. Integer serial
// types decode as float64 (the engine's numeric type), the constant serial
// types 8/9 as booleans, 12+2n as []byte, and 13+2n as string.
func UnmarshalRow(data []byte) ([]any, error) {
	hdrLen64, n := getVarint(data)
	if n == 0 || hdrLen64 > uint64(len(data)) || int(hdrLen64) < n {
		return nil, fmt.Errorf("record header length out of range")
	}
	hdrLen := int(hdrLen64)

	var serials []uint64
	for off := n; off < hdrLen; {
		st, sn := getVarint(data[off:hdrLen])
		if sn == 0 {
			return nil, fmt.Errorf("truncated serial type at header offset %d", off)
		}
		serials = append(serials, st)
		off += sn
	}

	row := make([]any, len(serials))
	off := hdrLen
	for i, st := range serials {
		size, ok := serialTypeSize(st)
		if !ok {
			return nil, fmt.Errorf("unknown serial type %d at column %d", st, i)
		}
		if off+size > len(data) {
			return nil, fmt.Errorf("truncated body at column %d", i)
		}
		body := data[off : off+size]
		switch {
		case st == serialNull:
			row[i] = nil
		case st == serialZero:
			row[i] = false
		case st == serialOne:
			row[i] = true
		case st >= 1 && st <= 6:
			row[i] = float64(readIntBody(body, size))
		case st == serialFloat64:
			row[i] = math.Float64frombits(binary.BigEndian.Uint64(body))
		case st >= 13 && st%2 == 1:
			row[i] = string(body)
		default: // 12+2n blob
			dst := make([]byte, size)
			copy(dst, body)
			row[i] = dst
		}
		off += size
	}
	return row, nil
}
