// Package limits collects the tuned constants a SPI flash file system is
// built against: page geometry, header field widths, and the default
// policy knobs. Grouping them here (rather than scattering magic numbers
// through fs/fat/codec) mirrors biscuit's limits package, which plays the
// same role for kernel-wide resource ceilings.
package limits

// PAGE is both the file system's allocation unit and the flash device's
// erase granularity: one page equals one sector.
const PAGE = 4096

// MaxFname is the longest filename, in bytes, a head page header can carry.
const MaxFname = 64

// Header field widths, little-endian, as laid out at the start of every
// page (see codec.Head).
const (
	FieldIDWidth      = 2
	FieldSpanWidth    = 2
	FieldSizeWidth    = 2
	FieldCreatedWidth = 4
	FieldNameLenWidth = 1
)

// HeadHeaderLen is the header length of a span-0 (head) page: id, span,
// size, created, name_len, plus up to MaxFname bytes of name.
const HeadHeaderLen = FieldIDWidth + FieldSpanWidth + FieldSizeWidth + FieldCreatedWidth + FieldNameLenWidth + MaxFname

// ContHeaderLen is the header length of a continuation (span>0) page.
const ContHeaderLen = FieldIDWidth + FieldSpanWidth + FieldSizeWidth

// HeadPayload is the maximum payload bytes a head page can carry once its
// header (at full MaxFname name length) is accounted for. Per-file head
// pages with shorter names have more payload available; the codec computes
// the exact figure from the encoded name length.
const HeadPayload = PAGE - HeadHeaderLen

// ContPayload is the payload bytes available in a continuation page.
const ContPayload = PAGE - ContHeaderLen

// Sentinel ids. 0 means "erased", 0xFFFF means "free"; valid file ids are
// in between.
const (
	IDErased    = 0
	IDFree      = 0xFFFF
	MinFileID   = 1
	MaxFileID   = 0xFFFE
	SizeOpen    = 0xFFFF // size field meaning "provisional, not finalized"
	SizeFullPg  = 0      // size field meaning "page is fully used"
	SpanHead    = 0
)

// DefaultAutoGCThreshold is the default number of FREE pages at or below
// which an automatic garbage-collection sweep is triggered. Zero disables
// auto-GC.
const DefaultAutoGCThreshold = 4

// HeuristicPagePayload is the conservative per-page payload estimate used
// by FileSystem.GetFreeSpace; it undercounts a head page's true payload (a
// head page with a one-byte name carries HeadPayload+63 = 4084 bytes, 84
// more than this)
// so that the estimate never over-promises free space.
const HeuristicPagePayload = 4000
