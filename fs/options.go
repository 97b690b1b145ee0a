package fs

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/electricimp/SPIFlashFileSystem/gc"
	"github.com/electricimp/SPIFlashFileSystem/limits"
)

// Option configures a FileSystem at construction time. This library has
// three scalar knobs and three capabilities to inject (a page-size
// override for tests, an auto-GC threshold, a PRNG seed, a Clock, a
// Scheduler, and a logger) — small enough that functional options serve
// better than a configuration-file library, since an embeddable library
// has no config file to parse.
type Option func(*FileSystem)

// WithLogger redirects structured logging (scan/GC/auto-trigger
// decisions) to the given logger instead of logrus's standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(f *FileSystem) { f.log = l }
}

// WithClock supplies the Clock capability used to stamp file creation
// time, in place of SystemClock.
func WithClock(c Clock) Option {
	return func(f *FileSystem) { f.clock = c }
}

// WithScheduler supplies the cooperative Scheduler capability driving
// asynchronous GC, in place of gc.GoroutineScheduler.
func WithScheduler(s gc.Scheduler) Option {
	return func(f *FileSystem) { f.sched = s }
}

// WithAutoGCThreshold sets the initial auto-GC threshold (spec.md §4.5);
// 0 disables auto-GC. Equivalent to calling SetAutoGC after construction.
func WithAutoGCThreshold(n int) Option {
	return func(f *FileSystem) { f.autoGCThreshold = n }
}

// WithSeed makes the free-page allocator's and GC's wear-leveling random
// start index deterministic, for tests (spec.md §9).
func WithSeed(seed int64) Option {
	return func(f *FileSystem) { f.seed = seed }
}

// WithPageSize overrides the page/sector size (default limits.PAGE), so
// tests can exercise multi-page layout logic against a small page.
func WithPageSize(n int) Option {
	return func(f *FileSystem) { f.pageSize = n }
}

func defaults() *FileSystem {
	return &FileSystem{
		clock:           SystemClock{},
		sched:           gc.GoroutineScheduler{},
		log:             logrus.StandardLogger(),
		autoGCThreshold: limits.DefaultAutoGCThreshold,
		pageSize:        limits.PAGE,
		seed:            time.Now().UnixNano(),
	}
}
