package fs

import (
	"github.com/electricimp/SPIFlashFileSystem/codec"
	"github.com/electricimp/SPIFlashFileSystem/flash"
)

// File is an open handle to one file, returned by FileSystem.Open (spec.md
// §4.6, component C6). A read handle ("r") and a write handle ("w") expose
// the same surface; Write on a read handle fails ErrFileWriteR. Every
// operation but Close fails ErrFileClosed once the handle has been closed.
type File struct {
	fs       *FileSystem
	id       uint16
	name     string
	mode     string
	handleID int

	rPos int // read cursor, bytes from start of file

	wPageIdx int // page index currently being written, -1 if none allocated
	wPos     int // bytes (header+payload) consumed in wPageIdx so far
	wSpan    uint16

	closed bool
}

func (h *File) checkOpen() error {
	if h.closed {
		return NewError(ErrFileClosed)
	}
	return nil
}

// Tell returns the read cursor's current position.
func (h *File) Tell() (int, error) {
	if err := h.checkOpen(); err != nil {
		return 0, err
	}
	return h.rPos, nil
}

// Seek repositions the read cursor to pos, an absolute byte offset. Fails
// ErrInvalidParameters if pos is negative or past the end of the file.
// Only reads are affected: Write always appends at the end of the file.
func (h *File) Seek(pos int) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	info, err := h.fs.fat.Get(h.id)
	if err != nil {
		return NewError(ErrFileNotFound)
	}
	if pos < 0 || pos > info.SizeTotal {
		return NewError(ErrInvalidParameters)
	}
	h.rPos = pos
	return nil
}

// Eof reports whether the read cursor has reached the file's current size.
func (h *File) Eof() (bool, error) {
	if err := h.checkOpen(); err != nil {
		return false, err
	}
	info, err := h.fs.fat.Get(h.id)
	if err != nil {
		return false, NewError(ErrFileNotFound)
	}
	return h.rPos >= info.SizeTotal, nil
}

// Len returns the file's current total size in bytes.
func (h *File) Len() (int, error) {
	if err := h.checkOpen(); err != nil {
		return 0, err
	}
	info, err := h.fs.fat.Get(h.id)
	if err != nil {
		return 0, NewError(ErrFileNotFound)
	}
	return info.SizeTotal, nil
}

// Created returns the file's creation timestamp.
func (h *File) Created() (uint32, error) {
	if err := h.checkOpen(); err != nil {
		return 0, err
	}
	info, err := h.fs.fat.Get(h.id)
	if err != nil {
		return 0, NewError(ErrFileNotFound)
	}
	return info.Created, nil
}

// Read returns up to n bytes starting at the read cursor, advancing it by
// the number of bytes actually returned. With no argument, it reads to the
// end of the file (spec.md §4.6).
func (h *File) Read(n ...int) ([]byte, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	info, err := h.fs.fat.Get(h.id)
	if err != nil {
		return nil, NewError(ErrFileNotFound)
	}
	want := info.SizeTotal - h.rPos
	if len(n) > 0 && n[0] >= 0 && n[0] < want {
		want = n[0]
	}
	if want <= 0 {
		return []byte{}, nil
	}
	out, err := h.fs.readAt(info, h.rPos, want)
	if err != nil {
		return nil, err
	}
	h.rPos += len(out)
	return out, nil
}

// Write appends data to the file, allocating new pages as needed. Fails
// ErrFileWriteR if the handle was opened "r". Returns the number of bytes
// written (always len(data) on success).
func (h *File) Write(data []byte) (int, error) {
	if err := h.checkOpen(); err != nil {
		return 0, err
	}
	if h.mode != "w" {
		return 0, NewError(ErrFileWriteR)
	}
	if len(data) == 0 {
		return 0, nil
	}
	n, err := h.fs.writeAt(h, data)
	if err != nil {
		return n, err
	}
	if n > 0 {
		h.fs.fat.CommitName(h.id)
	}
	return n, nil
}

// Close releases the handle. Writing the final, possibly-partial page's
// size is finalized here (spec.md §4.4's _close algorithm); a file opened
// "w" and closed having never had a byte written is discarded, not
// persisted (spec.md §3, §8 property 8). Closing an already-closed handle
// fails ErrFileClosed.
func (h *File) Close() error {
	if h.closed {
		return NewError(ErrFileClosed)
	}
	h.closed = true
	// Close the handle's bookkeeping before maybeAutoGC runs below, so the
	// auto-trigger's "no handle open" check sees this handle as already
	// gone rather than still occupying f.handles.
	h.fs.closeHandle(h)

	if h.mode != "w" {
		return nil
	}
	idx, size, ok := h.fs.fat.LastSpanSize(h.id)
	if !ok {
		// Never wrote a byte: the minted id was only ever pending.
		h.fs.fat.DiscardPending(h.id)
		return nil
	}
	if h.wPageIdx != -1 {
		// The last page is still open; a page filled exactly was already
		// finalized to SizeFullPg by writeAt.
		if err := h.fs.dev.Write(h.fs.pageAddr(idx), codec.FinalizeSize(uint16(size)), flash.VerifyNone, -1, -1); err != nil {
			return wrapWriteError(err)
		}
	}
	h.fs.maybeAutoGC()
	return nil
}
