// Package fat implements the in-memory file allocation table (spec.md
// §4.3, component C3): the index from filename/id to ordered page lists
// and per-page sizes, the page-status map, and the free-page allocator.
// The FileInfo value type returned by Get plays the role
// biscuit/src/stat/stat.go's Stat_t plays for a kernel vnode: a small,
// read-mostly snapshot of a file's bookkeeping.
package fat

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/electricimp/SPIFlashFileSystem/codec"
	"github.com/electricimp/SPIFlashFileSystem/limits"
)

// ErrFileNotFound is returned by Get, RemoveFile, and ForEachPage when the
// requested file or id is not present.
var ErrFileNotFound = errors.New("fat: file not found")

// ErrNoFreeSpace is returned by GetFreePage when no FREE page can be
// found even after the caller's GC retry.
var ErrNoFreeSpace = errors.New("fat: no free space")

// FileInfo is a read-only snapshot of a file's FAT bookkeeping, the
// return value of Get and an element of FileList.
type FileInfo struct {
	ID        uint16
	Name      string
	Spans     []uint16
	Pages     []int // page indices, ascending span order
	Sizes     []int // payload bytes per page, parallel to Pages
	SizeTotal int
	Created   uint32
}

type record struct {
	name    string
	pages   []int
	sizes   []int
	spans   []uint16
	created uint32
}

// Fat is the in-memory file allocation table for one flash region.
type Fat struct {
	mu      sync.Mutex
	names   map[string]uint16
	byID    map[uint16]*record
	pageMap []codec.Status
	nextID  uint16
	rng     *rand.Rand
	pending map[uint16]string
	pageSz  int
}

// New constructs a blank FAT (spec.md §4.3 "Blank" mode): pageCount pages,
// all FREE, no files. seed makes the free-page/PRNG wear-leveling start
// index deterministic for tests (spec.md §9). pageSize is the flash
// page/sector size in bytes (normally limits.PAGE; parameterizable so
// tests can exercise the layout math against a tiny page size).
func New(pageCount int, pageSize int, seed int64) *Fat {
	pm := make([]codec.Status, pageCount)
	for i := range pm {
		pm[i] = codec.StatusFree
	}
	return &Fat{
		names:   map[string]uint16{},
		byID:    map[uint16]*record{},
		pageMap: pm,
		nextID:  limits.MinFileID,
		rng:     rand.New(rand.NewSource(seed)),
		pageSz:  pageSize,
	}
}

// PageCount returns the number of pages this FAT indexes.
func (f *Fat) PageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pageMap)
}

// IngestScannedUsed records a USED page discovered during a scan. For a
// head page (h.Span == 0) this also establishes the file's name and
// creation time; for a continuation page the id must already have (or
// will later have, since scan order is arbitrary) a record created by its
// own head page or a prior continuation page.
//
// Per spec.md §4.3, if a file's head page was lost (e.g. a partial erase
// orphaned it) its continuation pages are still recorded under their id
// but the id is never added to `names`, so it is unreachable by name —
// callers scanning stats() will still see its pages as USED.
func (f *Fat) IngestScannedUsed(idx int, h codec.Head) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageMap[idx] = codec.StatusUsed
	r := f.byID[h.ID]
	if r == nil {
		r = &record{}
		f.byID[h.ID] = r
	}
	r.pages = append(r.pages, idx)
	r.sizes = append(r.sizes, f.payloadBytes(h))
	r.spans = append(r.spans, h.Span)
	if h.Span == limits.SpanHead {
		r.name = h.Name
		r.created = h.Created
	}
	if h.ID >= f.nextID {
		f.nextID = h.ID + 1
		if f.nextID > limits.MaxFileID {
			f.nextID = limits.MinFileID
		}
	}
}

func (f *Fat) payloadBytes(h codec.Head) int {
	switch h.Size {
	case limits.SizeOpen:
		return 0 // provisional; not yet known
	case limits.SizeFullPg:
		if h.Span == limits.SpanHead {
			return f.pageSz - codec.HeaderLen(len(h.Name))
		}
		return f.pageSz - limits.ContHeaderLen
	default:
		return int(h.Size)
	}
}

// IngestScannedStatus records a non-USED page's status (FREE, ERASED, or
// BAD) discovered during a scan.
func (f *Fat) IngestScannedStatus(idx int, status codec.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageMap[idx] = status
}

// FinalizeScan sorts every id's pages/sizes by ascending span and
// populates `names` for every id whose head page was found. Call once
// after all pages have been ingested.
func (f *Fat) FinalizeScan() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, r := range f.byID {
		sortBySpan(r)
		if r.name != "" {
			f.names[r.name] = id
		}
	}
}

func sortBySpan(r *record) {
	n := len(r.spans)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return r.spans[idx[a]] < r.spans[idx[b]] })
	pages := make([]int, n)
	sizes := make([]int, n)
	spans := make([]uint16, n)
	for i, j := range idx {
		pages[i] = r.pages[j]
		sizes[i] = r.sizes[j]
		spans[i] = r.spans[j]
	}
	r.pages, r.sizes, r.spans = pages, sizes, spans
}

// ref identifies a file by name (string) or id (uint16).
func (f *Fat) resolve(ref any) (uint16, bool) {
	switch v := ref.(type) {
	case uint16:
		_, ok := f.byID[v]
		return v, ok
	case string:
		id, ok := f.names[v]
		return id, ok
	default:
		return 0, false
	}
}

// Get returns the file's current bookkeeping, or ErrFileNotFound.
func (f *Fat) Get(ref any) (FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.resolve(ref)
	if !ok {
		return FileInfo{}, ErrFileNotFound
	}
	return f.snapshot(id), nil
}

func (f *Fat) snapshot(id uint16) FileInfo {
	r := f.byID[id]
	total := 0
	for _, s := range r.sizes {
		total += s
	}
	return FileInfo{
		ID:        id,
		Name:      r.name,
		Spans:     append([]uint16(nil), r.spans...),
		Pages:     append([]int(nil), r.pages...),
		Sizes:     append([]int(nil), r.sizes...),
		SizeTotal: total,
		Created:   r.created,
	}
}

// FileExists reports whether ref (name or id) names a known file.
func (f *Fat) FileExists(ref any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.resolve(ref)
	return ok
}

// GetFileID returns the id for name, minting a fresh one (rolling
// 1..65534, skipping the reserved sentinels) and inserting an empty
// record if the name is not yet known. now is the creation timestamp to
// record (spec.md's Clock capability, supplied by the caller).
func (f *Fat) GetFileID(name string, now uint32) uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.names[name]; ok {
		return id
	}
	id := f.mintID()
	f.byID[id] = &record{name: name, created: now}
	// Deliberately not added to `names` yet: per spec.md §3's lifecycle
	// rule, an id is tentative until a byte is written. fs.FileSystem
	// calls CommitName once the first byte is written.
	f.pendingNames()[id] = name
	return id
}

// pendingNames lazily allocates the tentative-name side table. Held
// separately from `names` so a file that is opened for write and closed
// with zero bytes never becomes visible to FileList/FileExists/Get.
func (f *Fat) pendingNames() map[uint16]string {
	if f.pending == nil {
		f.pending = map[uint16]string{}
	}
	return f.pending
}

// CommitName makes a previously-minted id's file visible under its name,
// once at least one byte has been written to it (spec.md §3 lifecycle).
func (f *Fat) CommitName(id uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name, ok := f.pending[id]; ok {
		f.names[name] = id
		delete(f.pending, id)
	}
}

// DiscardPending drops a tentatively-minted id that was never written to
// (spec.md §8 property 8: open(name,"w").close() with no data does not
// persist a file).
func (f *Fat) DiscardPending(id uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, id)
	delete(f.byID, id)
}

func (f *Fat) mintID() uint16 {
	for {
		id := f.nextID
		f.nextID++
		if f.nextID > limits.MaxFileID {
			f.nextID = limits.MinFileID
		}
		if _, used := f.byID[id]; !used {
			return id
		}
	}
}

// FileList returns every named (committed) file, sorted by name, or by
// creation time if byDate is set.
func (f *Fat) FileList(byDate bool) []FileInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FileInfo, 0, len(f.names))
	for _, id := range f.names {
		out = append(out, f.snapshot(id))
	}
	if byDate {
		sort.SliceStable(out, func(a, b int) bool { return out[a].Created < out[b].Created })
	} else {
		sort.SliceStable(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	}
	return out
}

// GetFreePage returns the index of a FREE page, scanning the page-map
// linearly from a uniformly random start (wear-leveling, spec.md §4.3).
// If none is found, gc(n) is invoked (the caller's garbage collector,
// passed as a callback per spec.md §9's "callbacks replacing closures"
// design note) to reclaim up to 2*autoGCThreshold pages (or
// 2*limits.DefaultAutoGCThreshold when autoGCThreshold <= 0), then the scan
// is retried once. Returns ErrNoFreeSpace if still none.
func (f *Fat) GetFreePage(autoGCThreshold int, gc func(n int) error) (int, error) {
	if idx, ok := f.scanFree(); ok {
		return idx, nil
	}
	if gc != nil {
		n := 2 * autoGCThreshold
		if n <= 0 {
			n = 2 * limits.DefaultAutoGCThreshold
		}
		_ = gc(n)
	}
	if idx, ok := f.scanFree(); ok {
		return idx, nil
	}
	return 0, ErrNoFreeSpace
}

func (f *Fat) scanFree() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.pageMap)
	if n == 0 {
		return 0, false
	}
	start := f.rng.Intn(n)
	for i := start; i < n; i++ {
		if f.pageMap[i] == codec.StatusFree {
			return i, true
		}
	}
	for i := 0; i < start; i++ {
		if f.pageMap[i] == codec.StatusFree {
			return i, true
		}
	}
	return 0, false
}

// MarkPage updates the page-map for idx. No I/O is performed.
func (f *Fat) MarkPage(idx int, status codec.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageMap[idx] = status
}

// PageStatus returns the current status of page idx.
func (f *Fat) PageStatus(idx int) codec.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageMap[idx]
}

// Snapshot returns a copy of the page-map, for the garbage collector to
// scan without holding the FAT lock for the whole sweep.
func (f *Fat) Snapshot() []codec.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]codec.Status, len(f.pageMap))
	copy(out, f.pageMap)
	return out
}

// AddPage appends a page index to id's page list, with a zero-size
// placeholder in its size list (spec.md §4.3).
func (f *Fat) AddPage(id uint16, idx int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.byID[id]
	if r == nil {
		r = &record{}
		f.byID[id] = r
	}
	r.pages = append(r.pages, idx)
	r.sizes = append(r.sizes, 0)
	span := uint16(len(r.spans))
	r.spans = append(r.spans, span)
}

// AddSizeToLastSpan increments the size recorded for id's most recent
// page by n bytes.
func (f *Fat) AddSizeToLastSpan(id uint16, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.byID[id]
	if r == nil || len(r.sizes) == 0 {
		return
	}
	r.sizes[len(r.sizes)-1] += n
}

// LastSpanSize returns id's most recent page's in-memory size and index.
func (f *Fat) LastSpanSize(id uint16) (idx int, size int, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.byID[id]
	if r == nil || len(r.sizes) == 0 {
		return 0, 0, false
	}
	last := len(r.sizes) - 1
	return r.pages[last], r.sizes[last], true
}

// RemoveFile drops all FAT entries for name.
func (f *Fat) RemoveFile(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.names[name]
	if !ok {
		return ErrFileNotFound
	}
	delete(f.names, name)
	delete(f.byID, id)
	return nil
}

// ForEachPage invokes cb(idx) for every page of ref (name or id), in
// ascending span order.
func (f *Fat) ForEachPage(ref any, cb func(idx int)) error {
	f.mu.Lock()
	id, ok := f.resolve(ref)
	if !ok {
		f.mu.Unlock()
		return ErrFileNotFound
	}
	pages := append([]int(nil), f.byID[id].pages...)
	f.mu.Unlock()
	for _, idx := range pages {
		cb(idx)
	}
	return nil
}

// Stats returns the count of pages in each status.
func (f *Fat) Stats() map[codec.Status]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[codec.Status]int{}
	for _, s := range f.pageMap {
		out[s]++
	}
	return out
}
