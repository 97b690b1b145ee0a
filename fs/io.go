package fs

import (
	"github.com/electricimp/SPIFlashFileSystem/codec"
	"github.com/electricimp/SPIFlashFileSystem/fat"
	"github.com/electricimp/SPIFlashFileSystem/flash"
	"github.com/electricimp/SPIFlashFileSystem/limits"
)

// readAt gathers up to want bytes of info's payload starting at byte offset
// start, walking info's pages in ascending span order and reading only the
// overlap between [start, start+want) and each page's payload region
// (spec.md §4.4 "_read"). The head page's header length depends on its
// name; continuation pages always use limits.ContHeaderLen.
func (f *FileSystem) readAt(info fat.FileInfo, start, want int) ([]byte, error) {
	out := make([]byte, 0, want)
	end := start + want
	pos := 0
	for i, idx := range info.Pages {
		size := info.Sizes[i]
		pageStart, pageEnd := pos, pos+size
		pos = pageEnd
		if end <= pageStart || start >= pageEnd {
			continue
		}
		localStart := 0
		if start > pageStart {
			localStart = start - pageStart
		}
		localEnd := size
		if end < pageEnd {
			localEnd = end - pageStart
		}
		if localEnd <= localStart {
			continue
		}
		headerLen := limits.ContHeaderLen
		if i == 0 {
			headerLen = codec.HeaderLen(len(info.Name))
		}
		addr := f.pageAddr(idx) + headerLen + localStart
		chunk, err := f.dev.Read(addr, localEnd-localStart)
		if err != nil {
			return nil, wrapError(ErrInvalidSPIFlashAddress, err)
		}
		out = append(out, chunk...)
		if len(out) >= want {
			break
		}
	}
	return out, nil
}

// writeAt implements spec.md §4.4's "_write" algorithm: allocate a fresh
// page whenever the current page is full (including the very first call,
// when none has been allocated yet), program the page's header on
// allocation, program payload bytes into the remaining room on the current
// page, and finalize a page's on-medium size to SizeFullPg the instant it
// is completely filled (a still-open final page is finalized later, by
// File.Close). h carries the per-handle write cursor (wPageIdx, wPos)
// across calls.
func (f *FileSystem) writeAt(h *File, data []byte) (int, error) {
	written := 0
	for written < len(data) {
		if h.wPageIdx == -1 {
			idx, err := f.allocatePage()
			if err != nil {
				return written, err
			}
			info, _ := f.fat.Get(h.id)
			first := len(info.Pages) == 0
			var hdr []byte
			if first {
				hdr, err = codec.EncodeHead(h.id, limits.SizeOpen, f.clock.Now(), h.name)
				if err != nil {
					return written, wrapError(ErrInvalidFilename, err)
				}
			} else {
				hdr = codec.EncodeCont(h.id, h.wSpan, limits.SizeOpen)
			}
			if err := f.dev.Write(f.pageAddr(idx), hdr, flash.VerifyPost, -1, -1); err != nil {
				return written, wrapWriteError(err)
			}
			f.fat.AddPage(h.id, idx)
			f.fat.MarkPage(idx, codec.StatusUsed)
			h.wPageIdx = idx
			h.wPos = len(hdr)
			h.wSpan++
		}

		remaining := f.pageSize - h.wPos
		n := len(data) - written
		if n > remaining {
			n = remaining
		}
		addr := f.pageAddr(h.wPageIdx) + h.wPos
		if err := f.dev.Write(addr, data[written:written+n], flash.VerifyPost, -1, -1); err != nil {
			return written, wrapWriteError(err)
		}
		f.fat.AddSizeToLastSpan(h.id, n)
		h.wPos += n
		written += n

		if h.wPos == f.pageSize {
			if err := f.dev.Write(f.pageAddr(h.wPageIdx), codec.FinalizeSize(limits.SizeFullPg), flash.VerifyNone, -1, -1); err != nil {
				return written, wrapWriteError(err)
			}
			h.wPageIdx = -1
			h.wPos = 0
		}
	}
	return written, nil
}

func (f *FileSystem) allocatePage() (int, error) {
	idx, err := f.fat.GetFreePage(f.autoGCThreshold, func(n int) error {
		f.gc.Sync(n)
		return nil
	})
	if err != nil {
		return 0, NewError(ErrNoFreeSpace)
	}
	return idx, nil
}
