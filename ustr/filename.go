// Package ustr provides a small immutable byte-string type for validated
// flash file names, in the spirit of biscuit's ustr.Ustr path type: a thin
// wrapper that centralizes the handful of predicates callers need instead
// of passing bare strings around and re-validating them ad hoc.
package ustr

import "github.com/electricimp/SPIFlashFileSystem/limits"

// Filename is a validated, immutable flash file name: 1..MaxFname bytes,
// printable ASCII (0x20..0x7E) only, so no NUL. Unlike a kernel path (Ustr), there is no hierarchy —
// a flash file system is flat — so there is no Extend/IsAbsolute here.
type Filename []byte

// Mk validates s and returns a Filename, or ok=false if s cannot name a
// flash file (spec: INVALID_FILENAME).
func Mk(s string) (Filename, bool) {
	if len(s) < 1 || len(s) > limits.MaxFname {
		return nil, false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c > 0x7E {
			return nil, false
		}
	}
	return Filename(s), true
}

// String renders the Filename back to a Go string.
func (f Filename) String() string {
	return string(f)
}

// Eq reports whether f and g name the same file.
func (f Filename) Eq(g Filename) bool {
	if len(f) != len(g) {
		return false
	}
	for i, v := range f {
		if v != g[i] {
			return false
		}
	}
	return true
}

// Len returns the encoded length in bytes, as stored in a head page's
// name_len field.
func (f Filename) Len() int {
	return len(f)
}
