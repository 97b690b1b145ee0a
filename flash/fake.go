package flash

import (
	"fmt"

	"github.com/electricimp/SPIFlashFileSystem/limits"
)

// Fake is an in-memory RawDriver backed by a byte slice. It is the
// in-process substitute for a physical chip used throughout this module's
// tests: programming is modeled as a bitwise AND with the incoming bytes
// (so only 1->0 transitions are ever visible) and erase fills a sector
// with 0xFF, matching the medium's actual bit semantics (spec.md §3, §6).
type Fake struct {
	mem          []byte
	sectorSize   int
	enabled      bool
	enableCalls  int
	disableCalls int

	// Fault injection (verify failures), for exercising VALIDATION paths.
	FailWriteAt map[int]bool // addr -> force Write to report a verify failure
	FailVerify  bool         // force every verified write to fail
}

// NewFake allocates a Fake of the given size, erased (all 0xFF), with the
// default limits.PAGE sector size.
func NewFake(size int) *Fake {
	return NewFakeSized(size, limits.PAGE)
}

// NewFakeSized is NewFake with an explicit sector size, for tests that pair
// it with fs.WithPageSize to exercise layout math against a tiny page.
func NewFakeSized(size, sectorSize int) *Fake {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &Fake{mem: mem, sectorSize: sectorSize, FailWriteAt: map[int]bool{}}
}

func (f *Fake) Size() int { return len(f.mem) }

func (f *Fake) Enable() error {
	f.enabled = true
	f.enableCalls++
	return nil
}

func (f *Fake) Disable() error {
	f.enabled = false
	f.disableCalls++
	return nil
}

func (f *Fake) Read(addr, n int) ([]byte, error) {
	out := make([]byte, n)
	copy(out, f.mem[addr:addr+n])
	return out, nil
}

func (f *Fake) Write(addr int, data []byte, verify VerifyMode, from, to int) error {
	if from == -1 && to == -1 {
		from, to = 0, len(data)
	}
	payload := data[from:to]
	if f.FailVerify || f.FailWriteAt[addr] {
		if verify == VerifyPost || verify == VerifyBoth || verify == VerifyPre {
			return fmt.Errorf("%w: addr %d", ErrVerifyFailed, addr)
		}
	}
	for i, b := range payload {
		// Physical 1-bit-program-only semantics: a programmed bit can only
		// move from 1 to 0, never back.
		f.mem[addr+i] &= b
	}
	return nil
}

func (f *Fake) EraseSector(addr int) error {
	sector := (addr / f.sectorSize) * f.sectorSize
	for i := 0; i < f.sectorSize; i++ {
		f.mem[sector+i] = 0xFF
	}
	return nil
}
