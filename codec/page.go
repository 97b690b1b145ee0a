// Package codec implements the on-medium page header format (spec.md §3,
// component C2): encoding, decoding, and classification of a page's
// header bytes. It never touches flash directly — callers (fs.FileSystem)
// hand it buffers to encode before programming, or buffers read back from
// flash to decode — the same separation biscuit/src/fs/super.go draws
// between its Superblock_t field accessors and the block-device code that
// actually reads/writes the sector.
package codec

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/electricimp/SPIFlashFileSystem/limits"
)

// Status classifies a page from its header bytes (spec.md §3).
type Status int

const (
	StatusFree Status = iota
	StatusUsed
	StatusErased
	StatusBad
)

func (s Status) String() string {
	switch s {
	case StatusFree:
		return "FREE"
	case StatusUsed:
		return "USED"
	case StatusErased:
		return "ERASED"
	default:
		return "BAD"
	}
}

// Head is the decoded (or about-to-be-encoded) content of a page header.
type Head struct {
	ID      uint16
	Span    uint16
	Size    uint16 // limits.SizeOpen, limits.SizeFullPg, or a partial byte count
	Created uint32 // only meaningful when Span == 0; zero under the legacy layout
	Name    string // only meaningful when Span == 0
	Status  Status
	Legacy  bool // decoded via the timestamp-less legacy head layout
}

// EncodeHead builds the header bytes for a head (span-0) page. The
// returned slice is exactly as long as the header needs to be (11+len(name)
// bytes) — callers program only that many bytes, leaving the rest of the
// page for payload.
func EncodeHead(id uint16, size uint16, created uint32, name string) ([]byte, error) {
	if len(name) < 1 || len(name) > limits.MaxFname {
		return nil, errors.Errorf("codec: name length %d out of range [1,%d]", len(name), limits.MaxFname)
	}
	buf := make([]byte, limits.FieldIDWidth+limits.FieldSpanWidth+limits.FieldSizeWidth+limits.FieldCreatedWidth+limits.FieldNameLenWidth+len(name))
	binary.LittleEndian.PutUint16(buf[0:2], id)
	binary.LittleEndian.PutUint16(buf[2:4], limits.SpanHead)
	binary.LittleEndian.PutUint16(buf[4:6], size)
	binary.LittleEndian.PutUint32(buf[6:10], created)
	buf[10] = byte(len(name))
	copy(buf[11:], name)
	return buf, nil
}

// EncodeCont builds the header bytes for a continuation (span>0) page.
func EncodeCont(id uint16, span uint16, size uint16) []byte {
	buf := make([]byte, limits.ContHeaderLen)
	binary.LittleEndian.PutUint16(buf[0:2], id)
	binary.LittleEndian.PutUint16(buf[2:4], span)
	binary.LittleEndian.PutUint16(buf[4:6], size)
	return buf
}

// FinalizeSize builds the 6-byte buffer used to program a page's size
// field in isolation (spec.md §4.2). id and span are written as 0xFFFF:
// since the page's id/span were already programmed to concrete,
// non-0xFFFF values by the original header write, ANDing in all-1 bits
// there is a no-op, while the size field's bits do get cleared to the
// final value. Callers must write this with VerifyNone — a post-write
// verify comparing the 0xFFFF id/span against the real stored id/span
// would spuriously fail.
func FinalizeSize(size uint16) []byte {
	buf := make([]byte, limits.FieldIDWidth+limits.FieldSpanWidth+limits.FieldSizeWidth)
	binary.LittleEndian.PutUint16(buf[0:2], limits.IDFree)
	binary.LittleEndian.PutUint16(buf[2:4], limits.IDFree)
	binary.LittleEndian.PutUint16(buf[4:6], size)
	return buf
}

// EraseHeadWipe returns a zero-filled buffer spanning the full possible
// head header (id, span, size, created, max name length, plus the byte
// just after it) — erase_file programs this over every page's header area
// to turn id/span/size to zero (ERASED) regardless of whether the page
// was a head or continuation page.
func EraseHeadWipe() []byte {
	return make([]byte, limits.HeadHeaderLen+1)
}

// Decode parses the header at the start of buf and classifies it. buf
// must be at least limits.ContHeaderLen bytes; if it is at least
// limits.HeadHeaderLen bytes, a head-page's name and created time can be
// recovered when Span == 0.
func Decode(buf []byte) (Head, error) {
	if len(buf) < limits.ContHeaderLen {
		return Head{}, errors.Errorf("codec: header buffer too short (%d bytes)", len(buf))
	}
	id := binary.LittleEndian.Uint16(buf[0:2])
	span := binary.LittleEndian.Uint16(buf[2:4])
	size := binary.LittleEndian.Uint16(buf[4:6])
	h := Head{ID: id, Span: span, Size: size}

	switch {
	case id == limits.IDFree:
		h.Status = StatusFree
		return h, nil
	case id == limits.IDErased && span == 0 && size == 0:
		h.Status = StatusErased
		return h, nil
	case id < limits.MinFileID || id > limits.MaxFileID:
		h.Status = StatusBad
		return h, nil
	}

	if span != 0 {
		h.Status = StatusUsed
		return h, nil
	}

	// Head page: try the current (timestamped) layout, then fall back to
	// the legacy layout the earliest source version wrote (spec.md §9).
	if decodeTimestamped(buf, &h) {
		h.Status = StatusUsed
		return h, nil
	}
	if decodeLegacy(buf, &h) {
		h.Legacy = true
		h.Status = StatusUsed
		return h, nil
	}
	h.Status = StatusBad
	return h, nil
}

func decodeTimestamped(buf []byte, h *Head) bool {
	if len(buf) < limits.FieldIDWidth+limits.FieldSpanWidth+limits.FieldSizeWidth+limits.FieldCreatedWidth+limits.FieldNameLenWidth {
		return false
	}
	created := binary.LittleEndian.Uint32(buf[6:10])
	nameLen := int(buf[10])
	if nameLen < 1 || nameLen > limits.MaxFname || 11+nameLen > len(buf) {
		return false
	}
	name := buf[11 : 11+nameLen]
	if !printable(name) {
		return false
	}
	h.Created = created
	h.Name = string(name)
	return true
}

func decodeLegacy(buf []byte, h *Head) bool {
	if len(buf) < limits.FieldIDWidth+limits.FieldSpanWidth+limits.FieldSizeWidth+limits.FieldNameLenWidth {
		return false
	}
	nameLen := int(buf[6])
	if nameLen < 1 || nameLen > limits.MaxFname || 7+nameLen > len(buf) {
		return false
	}
	name := buf[7 : 7+nameLen]
	if !printable(name) {
		return false
	}
	h.Created = 0
	h.Name = string(name)
	return true
}

func printable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7E {
			return false
		}
	}
	return true
}

// HeaderLen returns the number of header bytes a head page with the given
// name length occupies.
func HeaderLen(nameLen int) int {
	return limits.FieldIDWidth + limits.FieldSpanWidth + limits.FieldSizeWidth + limits.FieldCreatedWidth + limits.FieldNameLenWidth + nameLen
}
