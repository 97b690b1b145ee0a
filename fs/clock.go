package fs

import "time"

// Clock is the wall-clock capability used only to stamp file creation
// time (spec.md §1 lists a wall-clock source as an external collaborator,
// out of scope to implement; spec.md §9's design notes ask that it be
// passed in as a constructor parameter rather than read from an ambient
// global, so tests can control it).
type Clock interface {
	Now() uint32 // seconds since epoch, matching the 4-byte on-medium field
}

// SystemClock is the production Clock, backed by time.Now().
type SystemClock struct{}

func (SystemClock) Now() uint32 {
	return uint32(time.Now().Unix())
}

// FixedClock is a Clock that always reports the same instant, for
// deterministic tests.
type FixedClock uint32

func (c FixedClock) Now() uint32 { return uint32(c) }
