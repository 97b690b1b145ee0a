package flash

import (
	"os"
	"sync"

	"github.com/spf13/afero"

	"github.com/electricimp/SPIFlashFileSystem/limits"
)

// FileBacked is a RawDriver backed by a real file accessed through
// afero.Fs, the host-process substitute for the real chip used by
// integration tests and by any host tool that wants a flash region backed
// by an ordinary file. It plays the role biscuit/src/ufs/driver.go's
// ahci_disk_t plays for the kernel: a "driver" that is really a file, so
// the rest of the library can be exercised from normal Go binaries
// without real hardware.
//
// Like Fake, FileBacked applies bit-level AND-only programming: Write
// reads the bytes already in the backing file and stores their AND with
// the incoming bytes, so a bit can only move from 1 to 0 until the sector
// is erased back to 0xFF.
type FileBacked struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
	file afero.File
	size int
}

// NewFileBacked opens (creating if absent) the file at path on fs as a
// RawDriver of the given size, filling it with erased (0xFF) bytes up to
// size if newly created.
func NewFileBacked(afs afero.Fs, path string, size int) (*FileBacked, error) {
	exists, err := afero.Exists(afs, path)
	if err != nil {
		return nil, err
	}
	f, err := afs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	fb := &FileBacked{fs: afs, path: path, file: f, size: size}
	if !exists {
		blank := make([]byte, size)
		for i := range blank {
			blank[i] = 0xFF
		}
		if _, err := f.WriteAt(blank, 0); err != nil {
			return nil, err
		}
	}
	return fb, nil
}

func (fb *FileBacked) Size() int { return fb.size }

func (fb *FileBacked) Enable() error  { return nil }
func (fb *FileBacked) Disable() error { return fb.file.Sync() }

func (fb *FileBacked) Read(addr, n int) ([]byte, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	buf := make([]byte, n)
	if _, err := fb.file.ReadAt(buf, int64(addr)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (fb *FileBacked) Write(addr int, data []byte, verify VerifyMode, from, to int) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if from == -1 && to == -1 {
		from, to = 0, len(data)
	}
	payload := data[from:to]
	// Enforce the same 1->0-only programming discipline Fake enforces in
	// memory, so a FileBacked device behaves identically under test.
	existing := make([]byte, len(payload))
	if _, err := fb.file.ReadAt(existing, int64(addr)); err != nil {
		return err
	}
	merged := make([]byte, len(payload))
	for i := range payload {
		merged[i] = existing[i] & payload[i]
	}
	_, err := fb.file.WriteAt(merged, int64(addr))
	return err
}

func (fb *FileBacked) EraseSector(addr int) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	sector := (addr / limits.PAGE) * limits.PAGE
	blank := make([]byte, limits.PAGE)
	for i := range blank {
		blank[i] = 0xFF
	}
	_, err := fb.file.WriteAt(blank, int64(sector))
	return err
}

// Close releases the backing file.
func (fb *FileBacked) Close() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.file.Close()
}
