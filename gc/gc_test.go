package gc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/electricimp/SPIFlashFileSystem/codec"
	"github.com/electricimp/SPIFlashFileSystem/fat"
	"github.com/electricimp/SPIFlashFileSystem/flash"
	"github.com/electricimp/SPIFlashFileSystem/gc"
	"github.com/electricimp/SPIFlashFileSystem/limits"
)

func setup(t *testing.T, pages int) (*fat.Fat, *flash.Fake) {
	t.Helper()
	f := fat.New(pages, limits.PAGE, 1)
	dev := flash.NewFake(pages * limits.PAGE)
	return f, dev
}

func TestSyncReclaimsDirtySectorsUpToBound(t *testing.T) {
	f, dev := setup(t, 4)
	for i := 0; i < 4; i++ {
		f.MarkPage(i, codec.StatusErased)
	}
	g := gc.New(f, dev, 0, limits.PAGE, &gc.FakeScheduler{}, 1, nil)

	n := g.Sync(2)
	assert.Equal(t, 2, n)
	stats := f.Stats()
	assert.Equal(t, 2, stats[codec.StatusFree])
	assert.Equal(t, 2, stats[codec.StatusErased])
}

func TestSyncSkipsUsedAndFreeSectors(t *testing.T) {
	f, dev := setup(t, 3)
	f.MarkPage(0, codec.StatusUsed)
	f.MarkPage(1, codec.StatusFree)
	f.MarkPage(2, codec.StatusErased)
	g := gc.New(f, dev, 0, limits.PAGE, &gc.FakeScheduler{}, 1, nil)

	n := g.Sync(10)
	assert.Equal(t, 1, n)
	assert.Equal(t, codec.StatusUsed, f.PageStatus(0))
	assert.Equal(t, codec.StatusFree, f.PageStatus(2))
}

func TestAsyncWalksOneSectorPerTick(t *testing.T) {
	f, dev := setup(t, 3)
	for i := 0; i < 3; i++ {
		f.MarkPage(i, codec.StatusErased)
	}
	sched := &gc.FakeScheduler{}
	g := gc.New(f, dev, 0, limits.PAGE, sched, 1, nil)

	started := g.Async()
	require.True(t, started)
	assert.True(t, g.Collecting())

	ticks := sched.Pump(0)
	assert.Equal(t, 4, ticks) // one tick per sector, plus the tick that ends the walk
	assert.False(t, g.Collecting())
	stats := f.Stats()
	assert.Equal(t, 3, stats[codec.StatusFree])
}

func TestAsyncRefusesConcurrentSweep(t *testing.T) {
	f, dev := setup(t, 2)
	f.MarkPage(0, codec.StatusErased)
	sched := &gc.FakeScheduler{}
	g := gc.New(f, dev, 0, limits.PAGE, sched, 1, nil)

	require.True(t, g.Async())
	assert.False(t, g.Async())
}
