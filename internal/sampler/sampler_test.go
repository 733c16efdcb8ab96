package sampler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/skobkin/intelgputop/internal/engine"
	"github.com/skobkin/intelgputop/internal/gpu"
	"github.com/skobkin/intelgputop/internal/pmu"
	"github.com/skobkin/intelgputop/internal/pmu/pmutest"
)

const (
	i915Type  = 10
	powerType = 20
	imcType   = 30
)

var integrated = gpu.NewDevice(gpu.Info{ID: "card0", PCI: gpu.IntegratedSlot, PCIID: "8086:4680", Driver: "i915"})

// stepClock advances one second per call.
func stepClock() func() time.Time {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func writeI915(t *testing.T, root, instance string) {
	t.Helper()
	pmutest.WriteSource(t, root, instance, i915Type, map[string]string{
		"rcs0-busy":        "config=0x0",
		"rcs0-busy.unit":   "ns",
		"rcs0-wait":        "config=0x1",
		"rcs0-sema":        "config=0x2",
		"vcs1-busy":        "config=0x2010",
		"vcs0-busy":        "config=0x2000",
		"actual-frequency": "config=0x100000",
		"interrupts":       "config=0x100002",
		"rc6-residency":    "config=0x100003",
	})
}

func writePower(t *testing.T, root string) {
	t.Helper()
	pmutest.WriteSource(t, root, "power", powerType, map[string]string{
		"energy-gpu":       "event=0x04",
		"energy-gpu.scale": "2.3283064365386962890625e-10",
		"energy-gpu.unit":  "Joules",
		"energy-pkg":       "event=0x02",
		"energy-pkg.unit":  "mJ",
	})
}

func writeIMC(t *testing.T, root string) {
	t.Helper()
	pmutest.WriteSource(t, root, "uncore_imc", imcType, map[string]string{
		"data_reads":        "event=0x01",
		"data_reads.scale":  "6.103515625e-5",
		"data_reads.unit":   "MiB",
		"data_writes":       "event=0x02",
		"data_writes.scale": "6.103515625e-5",
		"data_writes.unit":  "MiB",
	})
}

func TestOpenEnumeratesCounters(t *testing.T) {
	root := t.TempDir()
	writeI915(t, root, "i915")
	writePower(t, root)
	writeIMC(t, root)

	opener := pmutest.NewOpener()
	s, err := Open(integrated, Options{SysfsRoot: root, Opener: opener, Now: stepClock()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	engines := s.Engines().All()
	require.Len(t, engines, 3)
	assert.Equal(t, "rcs0", engines[0].EventName)
	assert.Equal(t, engine.Video, engines[2].EngClass)
	assert.Equal(t, uint16(1), engines[2].Instance)
	assert.Equal(t, 3, engines[0].NumCountersOpen())
	assert.Nil(t, engines[1].Sema)
	assert.Equal(t, 1e-9, engines[0].Busy.Scale)

	counters := s.Counters()
	assert.True(t, counters.FreqActual.Present)
	assert.True(t, counters.FreqRequested.Present, "unpublished device counters fall back to the known config")
	assert.Equal(t, uint64(engine.ConfigFrequencyRequested), counters.FreqRequested.Config)
	assert.True(t, counters.EnergyGPU.Present)
	assert.False(t, counters.EnergyPkg.Present, "non-Joules energy must be rejected")
	assert.True(t, counters.IMCReads.Present)
	assert.Equal(t, "MiB", counters.IMCWrites.Unit)

	// i915 group, energy-gpu group, imc group.
	require.Len(t, s.Groups(), 3)
	assert.Equal(t, 9, s.Groups()[0].Len())

	require.NoError(t, s.Close())
	assert.Equal(t, 0, opener.OpenCount())
}

func TestSampleRates(t *testing.T) {
	root := t.TempDir()
	writeI915(t, root, "i915")

	opener := pmutest.NewOpener()
	s, err := Open(integrated, Options{SysfsRoot: root, Opener: opener, Now: stepClock()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	busy := s.Engines().All()[0].Busy
	counters := s.Counters()

	opener.Set(i915Type, 0x0, 500_000_000)
	opener.Set(i915Type, engine.ConfigFrequencyActual, 300)
	opener.Set(i915Type, engine.ConfigInterrupts, 100)
	require.NoError(t, s.Sample())

	pct, ok := s.Rate(busy, Percent)
	require.True(t, ok)
	assert.InDelta(t, 50.0, pct, 1e-9, "first tick is relative to startup")

	opener.Set(i915Type, 0x0, 1_500_000_000)
	opener.Set(i915Type, engine.ConfigFrequencyActual, 1_500)
	opener.Set(i915Type, engine.ConfigInterrupts, 350)
	opener.Set(i915Type, engine.ConfigRC6Residency, 250_000_000)
	require.NoError(t, s.Sample())

	assert.Equal(t, time.Second, s.Elapsed())

	pct, _ = s.Rate(busy, Percent)
	assert.InDelta(t, 100.0, pct, 1e-9)

	freq, ok := s.Rate(counters.FreqActual, 1)
	require.True(t, ok)
	assert.InDelta(t, 1200.0, freq, 1e-9)

	irq, _ := s.Rate(counters.Interrupts, 1)
	assert.InDelta(t, 250.0, irq, 1e-9)

	rc6, _ := s.Rate(counters.RC6, Percent)
	assert.InDelta(t, 25.0, rc6, 1e-9)

	_, ok = s.Rate(counters.EnergyGPU, 1)
	assert.False(t, ok, "missing power source leaves energy absent")
	assert.Zero(t, s.Clamped())
}

func TestRateClampsAndCounts(t *testing.T) {
	root := t.TempDir()
	writeI915(t, root, "i915")

	opener := pmutest.NewOpener()
	s, err := Open(integrated, Options{SysfsRoot: root, Opener: opener, Now: stepClock()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	busy := s.Engines().All()[0].Busy
	opener.Set(i915Type, 0x0, 1_020_000_000)
	require.NoError(t, s.Sample())

	pct, _ := s.Rate(busy, Percent)
	assert.Equal(t, 100.0, pct)
	assert.Equal(t, uint64(1), s.Clamped())

	// A driver reset moves the counter backwards.
	opener.Set(i915Type, 0x0, 10)
	require.NoError(t, s.Sample())
	pct, _ = s.Rate(busy, Percent)
	assert.Equal(t, 0.0, pct)
}

func TestOpenErrors(t *testing.T) {
	t.Run("MissingSource", func(t *testing.T) {
		_, err := Open(integrated, Options{SysfsRoot: t.TempDir(), Opener: pmutest.NewOpener()})
		assert.ErrorIs(t, err, ErrCounterUnavailable)
	})

	t.Run("NoEngines", func(t *testing.T) {
		root := t.TempDir()
		pmutest.WriteSource(t, root, "i915", i915Type, map[string]string{"interrupts": "config=0x100002"})
		_, err := Open(integrated, Options{SysfsRoot: root, Opener: pmutest.NewOpener()})
		assert.ErrorIs(t, err, ErrCounterUnavailable)
	})

	t.Run("BusyFails", func(t *testing.T) {
		root := t.TempDir()
		writeI915(t, root, "i915")
		opener := pmutest.NewOpener()
		opener.Fail(i915Type, 0x2000, unix.ENODEV)
		_, err := Open(integrated, Options{SysfsRoot: root, Opener: opener})
		assert.ErrorIs(t, err, ErrCounterUnavailable)
		assert.Equal(t, 0, opener.OpenCount(), "partially opened groups must be closed")
	})

	t.Run("PermissionDenied", func(t *testing.T) {
		root := t.TempDir()
		writeI915(t, root, "i915")
		opener := pmutest.NewOpener()
		opener.FailType(i915Type, 0x0)
		_, err := Open(integrated, Options{SysfsRoot: root, Opener: opener})
		assert.ErrorIs(t, err, pmu.ErrPermissionDenied)
	})
}

func TestDiscreteUsesHwmonEnergy(t *testing.T) {
	root := t.TempDir()
	dev := gpu.NewDevice(gpu.Info{ID: "card1", PCI: "0000:03:00.0", PCIID: "8086:56a0", Driver: "i915", Discrete: true})
	writeI915(t, root, dev.DriverInstance)
	writePower(t, root)

	energyPath := filepath.Join(root, "class", "drm", "card1", "device", "hwmon", "hwmon3", "energy1_input")
	require.NoError(t, os.MkdirAll(filepath.Dir(energyPath), 0o750))
	require.NoError(t, os.WriteFile(energyPath, []byte("1000000\n"), 0o600))

	s, err := Open(dev, Options{SysfsRoot: root, Opener: pmutest.NewOpener(), Now: stepClock()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	counters := s.Counters()
	require.NotNil(t, counters.EnergyGPU)
	assert.Nil(t, counters.EnergyPkg, "RAPL is not used for discrete cards")

	require.NoError(t, s.Sample())
	require.NoError(t, os.WriteFile(energyPath, []byte("3000000\n"), 0o600))
	require.NoError(t, s.Sample())

	watts, ok := s.Rate(counters.EnergyGPU, 1)
	require.True(t, ok)
	assert.InDelta(t, 2.0, watts, 1e-9)
}
