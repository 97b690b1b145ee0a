// Package gc implements the garbage collector (spec.md §4.5, component
// C5): synchronous bounded erasure and asynchronous cooperative erasure
// of dirty (ERASED or BAD) sectors, returning them to FREE.
package gc

import (
	"math/rand"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/electricimp/SPIFlashFileSystem/codec"
	"github.com/electricimp/SPIFlashFileSystem/fat"
)

// Eraser is the minimal flash capability the collector needs: physically
// erasing the sector at addr, returning it to all-0xFF.
type Eraser interface {
	EraseSector(addr int) error
}

// GC collects dirty sectors (spec.md §4.5) for one flash region's FAT.
type GC struct {
	mu         sync.Mutex
	fat        *fat.Fat
	dev        Eraser
	start      int
	pageSize   int
	sched      Scheduler
	rng        *rand.Rand
	collecting bool
	log        logrus.FieldLogger
}

// New constructs a GC over fat, erasing sectors of dev starting at byte
// offset start, with the given page/sector size. seed makes the circular
// scan's random start index deterministic for tests (spec.md §9).
func New(f *fat.Fat, dev Eraser, start int, pageSize int, sched Scheduler, seed int64, log logrus.FieldLogger) *GC {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &GC{
		fat:      f,
		dev:      dev,
		start:    start,
		pageSize: pageSize,
		sched:    sched,
		rng:      rand.New(rand.NewSource(seed)),
		log:      log,
	}
}

func (g *GC) addr(idx int) int {
	return g.start + idx*g.pageSize
}

func isDirty(s codec.Status) bool {
	return s == codec.StatusErased || s == codec.StatusBad
}

// Sync runs a bounded synchronous sweep: starting at a random sector
// index, it walks the page-map circularly, erasing each dirty sector it
// finds, stopping after n pages have been collected or the scan
// completes. It returns the number of sectors actually reclaimed.
func (g *GC) Sync(n int) int {
	snapshot := g.fat.Snapshot()
	if len(snapshot) == 0 {
		return 0
	}
	g.mu.Lock()
	start := g.rng.Intn(len(snapshot))
	g.mu.Unlock()

	q := newSectorQueue(len(snapshot), start)
	collected := 0
	for collected < n {
		idx, ok := q.Next()
		if !ok {
			break
		}
		if !isDirty(snapshot[idx]) {
			continue
		}
		if err := g.dev.EraseSector(g.addr(idx)); err != nil {
			g.log.WithError(err).WithField("addr", g.addr(idx)).Warn("gc: erase failed")
			continue
		}
		g.fat.MarkPage(idx, codec.StatusFree)
		collected++
	}
	g.log.WithField("collected", collected).Debug("gc: synchronous sweep complete")
	return collected
}

// Async starts a cooperative background sweep if one is not already
// running (the `collecting` flag, spec.md §4.5); it walks the page-map
// snapshot one sector at a time, yielding between sectors via the
// Scheduler capability, erasing every dirty sector it finds. Returns
// true if a sweep was started, false if one was already in progress.
func (g *GC) Async() bool {
	g.mu.Lock()
	if g.collecting {
		g.mu.Unlock()
		return false
	}
	g.collecting = true
	g.mu.Unlock()

	snapshot := g.fat.Snapshot()
	start := 0
	if len(snapshot) > 0 {
		g.mu.Lock()
		start = g.rng.Intn(len(snapshot))
		g.mu.Unlock()
	}
	q := newSectorQueue(len(snapshot), start)

	var step func()
	step = func() {
		idx, ok := q.Next()
		if !ok {
			g.mu.Lock()
			g.collecting = false
			g.mu.Unlock()
			g.log.Debug("gc: asynchronous sweep complete")
			return
		}
		if isDirty(snapshot[idx]) {
			if err := g.dev.EraseSector(g.addr(idx)); err != nil {
				g.log.WithError(err).WithField("addr", g.addr(idx)).Warn("gc: async erase failed")
			} else {
				g.fat.MarkPage(idx, codec.StatusFree)
			}
		}
		g.sched.Schedule(step)
	}
	g.log.Debug("gc: asynchronous sweep started")
	g.sched.Schedule(step)
	return true
}

// Collecting reports whether an asynchronous sweep is currently running.
func (g *GC) Collecting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.collecting
}
