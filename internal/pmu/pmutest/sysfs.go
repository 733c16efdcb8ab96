package pmutest

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// WriteSource creates bus/event_source/devices/<name> under sysfsRoot with
// the given type and event files. Keys of events are file names relative to
// the events directory, so "energy-gpu.scale" writes a scale companion.
func WriteSource(tb testing.TB, sysfsRoot, name string, typ uint32, events map[string]string) {
	tb.Helper()

	dir := filepath.Join(sysfsRoot, "bus", "event_source", "devices", name)
	if err := os.MkdirAll(filepath.Join(dir, "events"), 0o750); err != nil {
		tb.Fatalf("mkdir %s: %v", dir, err)
	}
	write(tb, filepath.Join(dir, "type"), strconv.FormatUint(uint64(typ), 10)+"\n")
	write(tb, filepath.Join(dir, "cpumask"), "0\n")
	for file, contents := range events {
		write(tb, filepath.Join(dir, "events", file), contents+"\n")
	}
}

func write(tb testing.TB, path, contents string) {
	tb.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
}
