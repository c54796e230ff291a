package pager

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// ───────────────────────────────────────────────────────────────────────────
// Page 1 — the SQLite database header
// ───────────────────────────────────────────────────────────────────────────
//
// Page 1 begins with the 100-byte header defined by the SQLite file format
// (https://www.sqlite.org/fileformat2.html §1.3). Every field below sits at
// the exact byte offset SQLite uses, so a hex dump of page 1 produced by
// this package is indistinguishable from a file written by the reference
// implementation for the fields this engine actually maintains:
//
//  Offset  Size  Field
//  ──────  ────  ──────────────────────────────────────────────
//  0       16    Magic string "SQLite format 3\000"
//  16      2     Page size in bytes (big-endian; 1 means 65536)
//  18      1     File format write version
//  19      1     File format read version
//  20      1     Bytes of unused "reserved" space at end of each page
//  21      1     Maximum embedded payload fraction (must be 64)
//  22      1     Minimum embedded payload fraction (must be 32)
//  23      1     Leaf payload fraction (must be 32)
//  24      4     File change counter
//  28      4     Size of the database in pages
//  32      4     Page number of the first freelist trunk page
//  36      4     Total number of freelist pages
//  40      4     Schema cookie
//  44      4     Schema format number (we emit 4)
//  48      4     Default page cache size
//  52      4     Page number of the largest root b-tree page (catalog root)
//  56      4     Database text encoding (1=UTF-8, 2=UTF-16le, 3=UTF-16be)
//  60      4     "user version"
//  64      4     Incremental-vacuum mode
//  68      4     Application ID
//  72      20    Reserved, zero-filled
//  92      4     Version-valid-for number
//  96      4     SQLITE_VERSION_NUMBER
//
// Bytes [100:144] hold the pagedSQL extension fields (sbExt* below); the
// system catalog (see catalog.go) is a separate b-tree whose root page
// number is stored at offset 52. This engine does not implement
// incremental vacuum so
// bytes [64:68] are always zero. The last 4 bytes of the page store a
// CRC32-C of everything preceding them — the reference format carries no
// such trailer, but we need a way to detect torn writes without a second
// oracle, so we append it in space SQLite itself leaves unspecified past
// the header and reserve it the same way "reserved space per page" is
// reserved for checksums by real SQLite installations that set byte 20.

const (
	// DBHeaderMagic is the 16-byte magic string at the start of every
	// SQLite-format database file.
	DBHeaderMagic = "SQLite format 3\x00"

	// DBHeaderSize is the fixed size of the page-1 header.
	DBHeaderSize = 100

	// SchemaFormatNumber is the schema format this engine writes (4 is the
	// highest SQLite defines: descending indexes + "DEFAULT expr" support).
	SchemaFormatNumber uint32 = 4

	// TextEncodingUTF8 is the only text encoding this engine supports.
	TextEncodingUTF8 uint32 = 1

	// sqliteVersionNumber mirrors the X.Y.Z encoding SQLite itself writes
	// (X*1000000 + Y*1000 + Z); kept for on-disk plausibility only.
	sqliteVersionNumber uint32 = 3045000

	// Header field offsets, named exactly as in the format spec.
	dbHdrMagicOff           = 0
	dbHdrPageSizeOff        = 16
	dbHdrWriteVersionOff    = 18
	dbHdrReadVersionOff     = 19
	dbHdrReservedSpaceOff   = 20
	dbHdrMaxFracOff         = 21
	dbHdrMinFracOff         = 22
	dbHdrLeafFracOff        = 23
	dbHdrChangeCounterOff   = 24
	dbHdrDBSizeOff          = 28
	dbHdrFreelistTrunkOff   = 32
	dbHdrFreelistCountOff   = 36
	dbHdrSchemaCookieOff    = 40
	dbHdrSchemaFormatOff    = 44
	dbHdrCacheSizeOff       = 48
	dbHdrLargestRootPageOff = 52
	dbHdrTextEncodingOff    = 56
	dbHdrUserVersionOff     = 60
	dbHdrIncrVacuumOff      = 64
	dbHdrApplicationIDOff   = 68
	dbHdrReservedOff        = 72
	dbHdrVersionValidForOff = 92
	dbHdrSQLiteVersionOff   = 96
	dbHdrTrailerCRCSize     = 4
)

// DBHeader is the parsed form of the page-1 database header.
type DBHeader struct {
	PageSize          uint32 // decoded value; on disk, 65536 is stored as 1
	FileFormatWrite   uint8
	FileFormatRead    uint8
	ReservedSpace     uint8
	MaxEmbeddedFrac   uint8
	MinEmbeddedFrac   uint8
	LeafPayloadFrac   uint8
	ChangeCounter     uint32
	DBSizePages       uint32
	FreelistTrunkPage PageID
	FreelistPageCount uint32
	SchemaCookie      uint32
	SchemaFormat      uint32
	DefaultCacheSize  uint32
	LargestRootPage   PageID // repurposed as the catalog B+Tree root
	TextEncoding      uint32
	UserVersion       uint32
	IncrementalVacuum uint32
	ApplicationID     uint32
	VersionValidFor   uint32
	SQLiteVersion     uint32
}

// NewDBHeader returns the header for a freshly created database file.
func NewDBHeader(pageSize uint32) *DBHeader {
	return &DBHeader{
		PageSize:         pageSize,
		FileFormatWrite:  1,
		FileFormatRead:   1,
		MaxEmbeddedFrac:  64,
		MinEmbeddedFrac:  32,
		LeafPayloadFrac:  32,
		DBSizePages:      1,
		SchemaFormat:     SchemaFormatNumber,
		DefaultCacheSize: 0,
		TextEncoding:     TextEncodingUTF8,
		SQLiteVersion:    sqliteVersionNumber,
	}
}

// marshalDBHeader writes h into buf[0:100] using SQLite's big-endian layout.
func marshalDBHeader(h *DBHeader, buf []byte) {
	copy(buf[dbHdrMagicOff:dbHdrMagicOff+16], DBHeaderMagic)

	ps := h.PageSize
	if ps == 65536 {
		binary.BigEndian.PutUint16(buf[dbHdrPageSizeOff:], 1)
	} else {
		binary.BigEndian.PutUint16(buf[dbHdrPageSizeOff:], uint16(ps))
	}
	buf[dbHdrWriteVersionOff] = h.FileFormatWrite
	buf[dbHdrReadVersionOff] = h.FileFormatRead
	buf[dbHdrReservedSpaceOff] = h.ReservedSpace
	buf[dbHdrMaxFracOff] = h.MaxEmbeddedFrac
	buf[dbHdrMinFracOff] = h.MinEmbeddedFrac
	buf[dbHdrLeafFracOff] = h.LeafPayloadFrac
	binary.BigEndian.PutUint32(buf[dbHdrChangeCounterOff:], h.ChangeCounter)
	binary.BigEndian.PutUint32(buf[dbHdrDBSizeOff:], h.DBSizePages)
	binary.BigEndian.PutUint32(buf[dbHdrFreelistTrunkOff:], uint32(h.FreelistTrunkPage))
	binary.BigEndian.PutUint32(buf[dbHdrFreelistCountOff:], h.FreelistPageCount)
	binary.BigEndian.PutUint32(buf[dbHdrSchemaCookieOff:], h.SchemaCookie)
	binary.BigEndian.PutUint32(buf[dbHdrSchemaFormatOff:], h.SchemaFormat)
	binary.BigEndian.PutUint32(buf[dbHdrCacheSizeOff:], h.DefaultCacheSize)
	binary.BigEndian.PutUint32(buf[dbHdrLargestRootPageOff:], uint32(h.LargestRootPage))
	binary.BigEndian.PutUint32(buf[dbHdrTextEncodingOff:], h.TextEncoding)
	binary.BigEndian.PutUint32(buf[dbHdrUserVersionOff:], h.UserVersion)
	binary.BigEndian.PutUint32(buf[dbHdrIncrVacuumOff:], h.IncrementalVacuum)
	binary.BigEndian.PutUint32(buf[dbHdrApplicationIDOff:], h.ApplicationID)
	for i := 0; i < 20; i++ {
		buf[dbHdrReservedOff+i] = 0
	}
	binary.BigEndian.PutUint32(buf[dbHdrVersionValidForOff:], h.VersionValidFor)
	binary.BigEndian.PutUint32(buf[dbHdrSQLiteVersionOff:], h.SQLiteVersion)
}

// unmarshalDBHeader parses buf[0:100]. It does not validate the magic; the
// caller is expected to do so (UnmarshalSuperblock checks it explicitly so
// the error message can name the field).
func unmarshalDBHeader(buf []byte) *DBHeader {
	h := &DBHeader{}
	ps := binary.BigEndian.Uint16(buf[dbHdrPageSizeOff:])
	if ps == 1 {
		h.PageSize = 65536
	} else {
		h.PageSize = uint32(ps)
	}
	h.FileFormatWrite = buf[dbHdrWriteVersionOff]
	h.FileFormatRead = buf[dbHdrReadVersionOff]
	h.ReservedSpace = buf[dbHdrReservedSpaceOff]
	h.MaxEmbeddedFrac = buf[dbHdrMaxFracOff]
	h.MinEmbeddedFrac = buf[dbHdrMinFracOff]
	h.LeafPayloadFrac = buf[dbHdrLeafFracOff]
	h.ChangeCounter = binary.BigEndian.Uint32(buf[dbHdrChangeCounterOff:])
	h.DBSizePages = binary.BigEndian.Uint32(buf[dbHdrDBSizeOff:])
	h.FreelistTrunkPage = PageID(binary.BigEndian.Uint32(buf[dbHdrFreelistTrunkOff:]))
	h.FreelistPageCount = binary.BigEndian.Uint32(buf[dbHdrFreelistCountOff:])
	h.SchemaCookie = binary.BigEndian.Uint32(buf[dbHdrSchemaCookieOff:])
	h.SchemaFormat = binary.BigEndian.Uint32(buf[dbHdrSchemaFormatOff:])
	h.DefaultCacheSize = binary.BigEndian.Uint32(buf[dbHdrCacheSizeOff:])
	h.LargestRootPage = PageID(binary.BigEndian.Uint32(buf[dbHdrLargestRootPageOff:]))
	h.TextEncoding = binary.BigEndian.Uint32(buf[dbHdrTextEncodingOff:])
	h.UserVersion = binary.BigEndian.Uint32(buf[dbHdrUserVersionOff:])
	h.IncrementalVacuum = binary.BigEndian.Uint32(buf[dbHdrIncrVacuumOff:])
	h.ApplicationID = binary.BigEndian.Uint32(buf[dbHdrApplicationIDOff:])
	h.VersionValidFor = binary.BigEndian.Uint32(buf[dbHdrVersionValidForOff:])
	h.SQLiteVersion = binary.BigEndian.Uint32(buf[dbHdrSQLiteVersionOff:])
	return h
}

// ───────────────────────────────────────────────────────────────────────────
// Superblock — pagedSQL's extension of the page-1 header
// ───────────────────────────────────────────────────────────────────────────
//
// Fields that have no counterpart in the SQLite header (transaction and LSN
// counters, the feature-flag bitmask) live in the extension area that
// starts right after the 100-byte header, at the same place SQLite itself
// would start laying out the sqlite_master b-tree page content.

const (
	FormatVersion1 uint32 = 1

	sbExtOff           = DBHeaderSize           // 100
	sbExtFormatVerOff  = sbExtOff               // 100
	sbExtFeatureFlgOff = sbExtFormatVerOff + 4  // 104
	sbExtPageCountOff  = sbExtFeatureFlgOff + 8 // 112
	sbExtCatalogOff    = sbExtPageCountOff + 8  // 120 (redundant mirror of LargestRootPage, kept for clarity)
	sbExtCheckpointOff = sbExtCatalogOff + 4    // 124
	sbExtNextTxOff     = sbExtCheckpointOff + 8 // 132
	sbExtNextPageOff   = sbExtNextTxOff + 8     // 140
	sbExtEnd           = sbExtNextPageOff + 4   // 144
)

// FeatureFlag is a bitmask of optional format features.
type FeatureFlag uint64

const (
	FeatureCompression FeatureFlag = 1 << iota
	FeatureEncryption
	FeatureMVCC
	FeaturePartitions
)

// SupportedFeatures is the set of features understood by this build.
const SupportedFeatures FeatureFlag = 0

// CurrentFormatVersion is kept for compatibility with callers that refer to
// the pagedSQL-specific bookkeeping format (distinct from SchemaFormatNumber).
const CurrentFormatVersion = FormatVersion1

// Superblock is the in-memory view of page 1: the real SQLite header fields
// this engine maintains, plus the pagedSQL bookkeeping extension.
type Superblock struct {
	FormatVersion uint32
	PageSize      uint32
	PageCount     uint64
	FeatureFlags  FeatureFlag
	CatalogRoot   PageID
	FreeListRoot  PageID // first freelist trunk page (header offset 32)
	FreeListCount uint32 // total freelist pages (header offset 36)
	CheckpointLSN LSN
	NextTxID      TxID
	NextPageID    PageID
}

// MarshalSuperblock serializes a Superblock into a full page-1 buffer: the
// 100-byte SQLite database header, the pagedSQL bookkeeping extension, and a
// trailing CRC32-C guarding against torn writes.
func MarshalSuperblock(sb *Superblock, pageSize int) []byte {
	buf := make([]byte, pageSize)

	h := NewDBHeader(sb.PageSize)
	h.FreelistTrunkPage = sb.FreeListRoot
	h.FreelistPageCount = sb.FreeListCount
	if sb.FreeListRoot == InvalidPageID {
		h.FreelistPageCount = 0
	}
	h.LargestRootPage = sb.CatalogRoot
	marshalDBHeader(h, buf)

	binary.BigEndian.PutUint32(buf[sbExtFormatVerOff:], sb.FormatVersion)
	binary.BigEndian.PutUint64(buf[sbExtFeatureFlgOff:], uint64(sb.FeatureFlags))
	binary.BigEndian.PutUint64(buf[sbExtPageCountOff:], sb.PageCount)
	binary.BigEndian.PutUint32(buf[sbExtCatalogOff:], uint32(sb.CatalogRoot))
	binary.BigEndian.PutUint64(buf[sbExtCheckpointOff:], uint64(sb.CheckpointLSN))
	binary.BigEndian.PutUint64(buf[sbExtNextTxOff:], uint64(sb.NextTxID))
	binary.BigEndian.PutUint32(buf[sbExtNextPageOff:], uint32(sb.NextPageID))

	crc := crc32.Checksum(buf[:len(buf)-dbHdrTrailerCRCSize], crcTable)
	binary.BigEndian.PutUint32(buf[len(buf)-dbHdrTrailerCRCSize:], crc)
	return buf
}

// UnmarshalSuperblock decodes page 1, validating the SQLite magic string,
// the trailer CRC, and the fields this build requires to make sense of the
// file.
func UnmarshalSuperblock(buf []byte) (*Superblock, error) {
	if len(buf) < MinPageSize {
		return nil, fmt.Errorf("page 1 too small: %d bytes", len(buf))
	}
	magic := string(buf[dbHdrMagicOff : dbHdrMagicOff+16])
	if magic != DBHeaderMagic {
		return nil, fmt.Errorf("bad database header %q, expected %q", magic, DBHeaderMagic)
	}

	stored := binary.BigEndian.Uint32(buf[len(buf)-dbHdrTrailerCRCSize:])
	computed := crc32.Checksum(buf[:len(buf)-dbHdrTrailerCRCSize], crcTable)
	if stored != computed {
		return nil, fmt.Errorf("page 1 trailer CRC mismatch")
	}

	h := unmarshalDBHeader(buf)
	if h.MaxEmbeddedFrac != 64 || h.MinEmbeddedFrac != 32 || h.LeafPayloadFrac != 32 {
		return nil, fmt.Errorf("unsupported embedded payload fractions %d/%d/%d",
			h.MaxEmbeddedFrac, h.MinEmbeddedFrac, h.LeafPayloadFrac)
	}
	if h.PageSize < MinPageSize || h.PageSize > MaxPageSize || h.PageSize&(h.PageSize-1) != 0 {
		return nil, fmt.Errorf("page size %d out of range [%d..%d] or not a power of two",
			h.PageSize, MinPageSize, MaxPageSize)
	}

	sb := &Superblock{
		PageSize:      h.PageSize,
		CatalogRoot:   h.LargestRootPage,
		FreeListRoot:  h.FreelistTrunkPage,
		FreeListCount: h.FreelistPageCount,
	}
	sb.FormatVersion = binary.BigEndian.Uint32(buf[sbExtFormatVerOff:])
	sb.FeatureFlags = FeatureFlag(binary.BigEndian.Uint64(buf[sbExtFeatureFlgOff:]))
	sb.PageCount = binary.BigEndian.Uint64(buf[sbExtPageCountOff:])
	sb.CheckpointLSN = LSN(binary.BigEndian.Uint64(buf[sbExtCheckpointOff:]))
	sb.NextTxID = TxID(binary.BigEndian.Uint64(buf[sbExtNextTxOff:]))
	sb.NextPageID = PageID(binary.BigEndian.Uint32(buf[sbExtNextPageOff:]))

	if sb.FormatVersion != CurrentFormatVersion {
		return nil, fmt.Errorf("unsupported pagedSQL extension version %d (this build supports %d)",
			sb.FormatVersion, CurrentFormatVersion)
	}
	if sb.FeatureFlags & ^SupportedFeatures != 0 {
		return nil, fmt.Errorf("unsupported feature flags: %016x", sb.FeatureFlags)
	}

	return sb, nil
}

// NewSuperblock creates a default Superblock for a new database.
func NewSuperblock(pageSize uint32) *Superblock {
	return &Superblock{
		FormatVersion: CurrentFormatVersion,
		PageSize:      pageSize,
		PageCount:     1,
		FeatureFlags:  0,
		CatalogRoot:   InvalidPageID,
		FreeListRoot:  InvalidPageID,
		CheckpointLSN: 0,
		NextTxID:      1,
		NextPageID:    1,
	}
}
