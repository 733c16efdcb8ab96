package procscan

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skobkin/intelgputop/internal/engine"
)

type fakeSource struct {
	ticks [][]observation
	errs  map[int]error
	tick  int
}

func (f *fakeSource) collect(string) ([]observation, error) {
	tick := f.tick
	f.tick++
	if err := f.errs[tick]; err != nil {
		return nil, err
	}
	if tick >= len(f.ticks) {
		return nil, nil
	}
	return f.ticks[tick], nil
}

func obs(pid int, comm string, id uint64, render uint64) observation {
	rec := Record{Driver: "i915", PDev: observedSlot, ClientID: id}
	rec.Busy[engine.Render] = render
	rec.HasClass[engine.Render] = true
	return observation{pid: pid, comm: comm, record: rec}
}

func newFakeTable(ticks ...[]observation) *Table {
	return newTable(observedSlot, &fakeSource{ticks: ticks}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// checkInvariants asserts Alive entries precede Free ones and ids are unique.
func checkInvariants(t *testing.T, table *Table) {
	t.Helper()
	seenFree := false
	ids := make(map[ClientID]bool)
	for i, c := range table.Slots() {
		switch c.Status {
		case Free:
			seenFree = true
		case Alive:
			require.False(t, seenFree, "alive client at %d after a free slot", i)
			require.False(t, ids[c.ID], "duplicate client id %s", c.ID)
			ids[c.ID] = true
		default:
			t.Fatalf("slot %d left in %s state after scan", i, c.Status)
		}
	}
}

func TestScanUpdatesClient(t *testing.T) {
	table := newFakeTable(
		[]observation{obs(1234, "glmark2", 7, 0)},
		[]observation{obs(1234, "glmark2", 7, 250_000_000)},
		[]observation{obs(1234, "glmark2", 7, 750_000_000)},
	)

	for range 3 {
		require.NoError(t, table.Scan())
		checkInvariants(t, table)
	}

	clients := table.Clients()
	require.Len(t, clients, 1)
	c := clients[0]
	assert.Equal(t, ClientID{Kind: KindClient, Value: 7}, c.ID)
	assert.Equal(t, uint64(500_000_000), c.Delta[engine.Render])
	assert.Equal(t, uint64(500_000_000), c.LastRuntime)
	assert.Equal(t, uint64(750_000_000), c.TotalRuntime)
	assert.Equal(t, uint8(2), c.Samples)

	// One render engine, one second tick.
	assert.InDelta(t, 50.0, c.ClassPercent(engine.Render, time.Second, 1), 1e-9)
	assert.InDelta(t, 25.0, c.ClassPercent(engine.Render, time.Second, 2), 1e-9)
	assert.Zero(t, c.ClassPercent(engine.Render, 0, 1))
}

func TestScanFreesVanishedClient(t *testing.T) {
	table := newFakeTable(
		[]observation{obs(10, "a", 11, 5), obs(20, "b", 12, 5)},
		[]observation{obs(20, "b", 12, 6)},
		[]observation{obs(20, "b", 12, 7), obs(30, "c", 13, 1)},
	)

	require.NoError(t, table.Scan())
	require.Len(t, table.Clients(), 2)
	slots := table.Len()

	require.NoError(t, table.Scan())
	checkInvariants(t, table)
	clients := table.Clients()
	require.Len(t, clients, 1)
	assert.Equal(t, uint64(12), clients[0].ID.Value)
	assert.Equal(t, Free, table.Slots()[1].Status)
	assert.Zero(t, table.Slots()[1].TotalRuntime, "freed slot must be cleared")

	require.NoError(t, table.Scan())
	checkInvariants(t, table)
	assert.Len(t, table.Clients(), 2)
	assert.Equal(t, slots, table.Len(), "freed slot is reused instead of growing")
}

func TestScanDeduplicatesSharedClient(t *testing.T) {
	table := newFakeTable([]observation{
		obs(100, "parent", 5, 1000),
		obs(100, "parent", 5, 1000),
		obs(101, "child", 5, 1000),
	})

	require.NoError(t, table.Scan())
	checkInvariants(t, table)
	clients := table.Clients()
	require.Len(t, clients, 1)
	assert.Equal(t, uint64(1000), clients[0].TotalRuntime, "duplicate fds must not be summed")
	assert.Equal(t, 100, clients[0].PID)
}

func TestScanGrowsTable(t *testing.T) {
	var many []observation
	for i := range 9 {
		many = append(many, obs(1000+i, "worker", uint64(i+1), 0))
	}
	table := newFakeTable(many[:3], many)

	require.NoError(t, table.Scan())
	assert.Equal(t, 4, table.Len())

	require.NoError(t, table.Scan())
	checkInvariants(t, table)
	assert.Len(t, table.Clients(), 9)
	assert.Equal(t, 12, table.Len(), "table grows by at least four slots")
}

func TestScanIgnoresCounterReset(t *testing.T) {
	withVideo := func(o observation, video uint64) observation {
		o.record.Busy[engine.Video] = video
		o.record.HasClass[engine.Video] = true
		return o
	}
	table := newFakeTable(
		[]observation{withVideo(obs(1, "app", 1, 1_000), 100)},
		[]observation{withVideo(obs(1, "app", 1, 400), 200)},
		[]observation{withVideo(obs(1, "app", 1, 1_500), 300)},
	)

	require.NoError(t, table.Scan())
	require.NoError(t, table.Scan())
	c := table.Clients()[0]
	assert.Zero(t, c.Delta[engine.Render])
	assert.Equal(t, uint64(1_000), c.LastSample[engine.Render], "baseline is kept")
	assert.Equal(t, uint64(400), c.Runtime[engine.Render])
	assert.Equal(t, uint64(100), c.Delta[engine.Video])
	assert.Equal(t, uint64(100), c.LastRuntime)
	assert.Equal(t, uint64(200), c.TotalRuntime, "a class that went backwards is left out of the total")

	require.NoError(t, table.Scan())
	c = table.Clients()[0]
	assert.Equal(t, uint64(500), c.Delta[engine.Render])
	assert.Equal(t, uint64(600), c.LastRuntime)
	assert.Equal(t, uint64(1_800), c.TotalRuntime)
}

func TestScanFailureReleasesClients(t *testing.T) {
	table := newFakeTable(
		[]observation{obs(1, "app", 1, 100), obs(2, "other", 2, 100)},
		nil,
		[]observation{obs(1, "app", 1, 300)},
	)
	table.src.(*fakeSource).errs = map[int]error{1: errors.New("proc unreadable")}

	require.NoError(t, table.Scan())
	require.Len(t, table.Clients(), 2)

	err := table.Scan()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proc unreadable")
	assert.Empty(t, table.Clients(), "no client was observed by the failed scan")
	checkInvariants(t, table)

	require.NoError(t, table.Scan())
	clients := table.Clients()
	require.Len(t, clients, 1)
	assert.Equal(t, uint8(1), clients[0].Samples, "a released client starts over")
}

func TestIdleClientHidden(t *testing.T) {
	table := newFakeTable(
		[]observation{obs(1, "idle", 1, 300), obs(2, "busy", 2, 300)},
		[]observation{obs(1, "idle", 1, 300), obs(2, "busy", 2, 900)},
	)
	require.NoError(t, table.Scan())

	// Single sample: everything is hidden.
	assert.Empty(t, table.Display(DisplayOptions{FilterIdle: true}))

	require.NoError(t, table.Scan())
	var idle Client
	for _, c := range table.Clients() {
		if c.ID.Value == 1 {
			idle = c
		}
	}
	assert.Equal(t, [engine.NumClasses]uint64{}, idle.Delta)
	assert.Zero(t, idle.LastRuntime)
	assert.Equal(t, uint8(2), idle.Samples)

	shown := table.Display(DisplayOptions{FilterIdle: true})
	require.Len(t, shown, 1)
	assert.Equal(t, "busy", shown[0].Name)
	assert.Len(t, table.Display(DisplayOptions{}), 2)
}

func TestSortClients(t *testing.T) {
	list := []Client{
		{ID: ClientID{Value: 1}, Status: Alive, PID: 30, LastRuntime: 5, TotalRuntime: 100},
		{ID: ClientID{Value: 2}, Status: Alive, PID: 10, LastRuntime: 9, TotalRuntime: 50},
		{ID: ClientID{Value: 3}, Status: Free},
		{ID: ClientID{Value: 4}, Status: Alive, PID: 20, LastRuntime: 5, TotalRuntime: 70},
	}

	ids := func() []uint64 {
		var out []uint64
		for _, c := range list {
			out = append(out, c.ID.Value)
		}
		return out
	}

	SortClients(list, SortLastRuntime)
	assert.Equal(t, []uint64{2, 4, 1, 3}, ids(), "ties broken by descending id, dead last")

	SortClients(list, SortTotalRuntime)
	assert.Equal(t, []uint64{1, 4, 2, 3}, ids())

	SortClients(list, SortPID)
	assert.Equal(t, []uint64{2, 4, 1, 3}, ids())

	SortClients(list, SortClientID)
	assert.Equal(t, []uint64{4, 2, 1, 3}, ids())
}

func TestSortKeyNext(t *testing.T) {
	assert.Equal(t, SortTotalRuntime, SortLastRuntime.Next(false))
	assert.Equal(t, SortClientID, SortPID.Next(false))
	assert.Equal(t, SortLastRuntime, SortPID.Next(true), "client id is skipped while aggregating")
	assert.Equal(t, SortLastRuntime, SortClientID.Next(false))
}

func TestAggregateByPID(t *testing.T) {
	table := newFakeTable(
		[]observation{obs(50, "ffmpeg", 1, 100), obs(50, "ffmpeg", 2, 200), obs(40, "mpv", 3, 10)},
		[]observation{obs(50, "ffmpeg", 1, 300), obs(50, "ffmpeg", 2, 600), obs(40, "mpv", 3, 20)},
	)
	require.NoError(t, table.Scan())
	require.NoError(t, table.Scan())

	shown := table.Display(DisplayOptions{AggregatePIDs: true, Sort: SortPID})
	require.Len(t, shown, 2)

	assert.Equal(t, ClientID{Kind: KindPID, Value: 40}, shown[0].ID)
	ffmpeg := shown[1]
	assert.Equal(t, ClientID{Kind: KindPID, Value: 50}, ffmpeg.ID)
	assert.Equal(t, "pid:50", ffmpeg.ID.String())
	assert.Equal(t, uint64(600), ffmpeg.Delta[engine.Render])
	assert.Equal(t, uint64(900), ffmpeg.TotalRuntime)
	assert.Equal(t, "ffmpeg", ffmpeg.Name)

	assert.Len(t, table.Clients(), 3, "aggregation does not touch the table")
}

func TestNameHandling(t *testing.T) {
	assert.Equal(t, "ba*sh", printableName("ba\x01sh"))
	assert.Equal(t, "a-very-long-process-nam", truncateName("a-very-long-process-name-indeed"))
}
