// Package flash models the raw SPI flash collaborator (spec.md §6) and a
// thin adapter over it (spec.md §4.1, component C1) that adds nested
// enable/disable reference counting and bounds checking. The collaborator
// split mirrors biscuit/src/fs/blk.go's Disk_i / Blockmem_i capability
// interfaces: the rest of this module never talks to a raw driver
// directly, only to the small interface below.
package flash

import (
	"errors"
	"fmt"
	"sync"
)

// ErrVerifyFailed is returned (wrapped) by a RawDriver's Write when a
// post/pre-write readback does not match the intended bytes — a medium
// integrity fault (spec.md §7's VALIDATION code), distinct from a bounds or
// caller-misuse error.
var ErrVerifyFailed = errors.New("flash: verify failed")

// VerifyMode selects which side of a program operation the raw driver
// should read back and compare against the intended bytes.
type VerifyMode int

const (
	VerifyNone VerifyMode = 0 // no verification
	VerifyPost VerifyMode = 1 // verify after writing (normal writes)
	VerifyPre  VerifyMode = 2 // verify before writing
	VerifyBoth VerifyMode = 3 // both
)

// RawDriver is the external collaborator (spec.md §6): the physical or
// simulated flash chip. Implementations must honor 1-bit-program-only,
// erase-to-all-ones semantics.
type RawDriver interface {
	Size() int
	Enable() error
	Disable() error
	Read(addr, n int) ([]byte, error)
	// Write programs data[from:to] at addr. from==to==-1 means the whole
	// of data. Returns nil on success; any error is fatal to the in-flight
	// operation (spec.md §7, "Medium integrity").
	Write(addr int, data []byte, verify VerifyMode, from, to int) error
	EraseSector(addr int) error
}

// Device is the C1 adapter: a RawDriver wrapped with a nonnegative
// enable/disable reference count so nested enable/disable scopes compose,
// and with address-range bounds checking on every call.
type Device struct {
	mu      sync.Mutex
	raw     RawDriver
	count   int
	enabled bool
}

// New wraps raw in a Device.
func New(raw RawDriver) *Device {
	return &Device{raw: raw}
}

// Size returns the device's total byte size.
func (d *Device) Size() int { return d.raw.Size() }

// Enable increments the reference count, physically enabling the
// underlying driver only on the 0->1 transition.
func (d *Device) Enable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count++
	if d.count == 1 {
		if err := d.raw.Enable(); err != nil {
			d.count--
			return err
		}
		d.enabled = true
	}
	return nil
}

// Disable decrements the reference count, physically disabling the
// underlying driver only on the 1->0 transition. Disabling an already
// disabled device is a programming error.
func (d *Device) Disable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.count == 0 {
		return fmt.Errorf("flash: disable without matching enable")
	}
	d.count--
	if d.count == 0 {
		d.enabled = false
		return d.raw.Disable()
	}
	return nil
}

func (d *Device) bounds(addr, n int) error {
	if addr < 0 || n < 0 || addr+n > d.raw.Size() {
		return fmt.Errorf("flash: address range [%d,%d) out of bounds (size %d)", addr, addr+n, d.raw.Size())
	}
	return nil
}

// Read reads n bytes at addr.
func (d *Device) Read(addr, n int) ([]byte, error) {
	if err := d.bounds(addr, n); err != nil {
		return nil, err
	}
	return d.raw.Read(addr, n)
}

// Write programs data[from:to] (or all of data when from==to==-1) at addr
// using the given verify mode.
func (d *Device) Write(addr int, data []byte, verify VerifyMode, from, to int) error {
	n := len(data)
	if from != -1 || to != -1 {
		n = to - from
	}
	if err := d.bounds(addr, n); err != nil {
		return err
	}
	return d.raw.Write(addr, data, verify, from, to)
}

// EraseSector erases the sector containing addr.
func (d *Device) EraseSector(addr int) error {
	if err := d.bounds(addr, 1); err != nil {
		return err
	}
	return d.raw.EraseSector(addr)
}
