// Package pmu exposes kernel perf event sources and grouped counter handles.
package pmu

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

const eventSourcePath = "bus/event_source/devices"

// ErrSourceNotFound is returned when a perf event source is not registered.
var ErrSourceNotFound = errors.New("perf event source not found")

// Source is one perf event source registered under
// /sys/bus/event_source/devices, such as "i915" or "power".
type Source struct {
	Name string
	Type uint32
	CPU  int

	root *os.Root
}

// Event is the metadata of a single named event of a Source.
type Event struct {
	Name   string
	Config uint64
	Scale  float64
	Unit   string
}

// OpenSource reads the type and cpumask of the named source.
func OpenSource(sysfsRoot, name string) (*Source, error) {
	root, err := os.OpenRoot(filepath.Join(sysfsRoot, eventSourcePath, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
		}
		return nil, fmt.Errorf("open event source %s: %w", name, err)
	}

	raw, err := root.ReadFile("type")
	if err != nil {
		_ = root.Close()
		return nil, fmt.Errorf("read %s type: %w", name, err)
	}
	typ, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 32)
	if err != nil {
		_ = root.Close()
		return nil, fmt.Errorf("parse %s type: %w", name, err)
	}

	cpu := 0
	if raw, err := root.ReadFile("cpumask"); err == nil {
		cpu = firstCPU(string(raw))
	}

	return &Source{Name: name, Type: uint32(typ), CPU: cpu, root: root}, nil
}

// Close releases the sysfs handle of the source.
func (s *Source) Close() error {
	if s == nil || s.root == nil {
		return nil
	}
	return s.root.Close()
}

// EventNames lists the events published by the source, without the
// .scale and .unit companions.
func (s *Source) EventNames() ([]string, error) {
	entries, err := fs.ReadDir(s.root.FS(), "events")
	if err != nil {
		return nil, fmt.Errorf("read %s events: %w", s.Name, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".scale") || strings.HasSuffix(name, ".unit") {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Event reads the config of a named event together with its optional scale
// and unit. A missing scale defaults to 1.
func (s *Source) Event(name string) (Event, error) {
	raw, err := s.root.ReadFile(filepath.Join("events", name))
	if err != nil {
		return Event{}, fmt.Errorf("read event %s/%s: %w", s.Name, name, err)
	}
	config, err := ParseEventConfig(string(raw))
	if err != nil {
		return Event{}, fmt.Errorf("event %s/%s: %w", s.Name, name, err)
	}

	ev := Event{Name: name, Config: config, Scale: 1}
	if raw, err := s.root.ReadFile(filepath.Join("events", name+".scale")); err == nil {
		scale, err := ParseScale(string(raw))
		if err != nil {
			return Event{}, fmt.Errorf("event %s/%s: %w", s.Name, name, err)
		}
		ev.Scale = scale
	}
	if raw, err := s.root.ReadFile(filepath.Join("events", name+".unit")); err == nil {
		ev.Unit = strings.TrimSpace(string(raw))
	}
	return ev, nil
}

// ParseEventConfig decodes an event file such as "config=0x100000" or
// "event=0xff,umask=0x00".
func ParseEventConfig(raw string) (uint64, error) {
	var (
		config uint64
		seen   bool
	)
	for _, term := range strings.Split(strings.TrimSpace(raw), ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(term), "=")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimSpace(value), 0, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		switch key {
		case "config", "event":
			config |= v
			seen = true
		case "umask":
			config |= (v & 0xff) << 8
		}
	}
	if !seen {
		return 0, fmt.Errorf("no config in %q", strings.TrimSpace(raw))
	}
	return config, nil
}

// ParseScale parses a .scale file. strconv is locale independent so values
// like "2.3283064365386962890625e-10" always use '.' as decimal point.
func ParseScale(raw string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("parse scale: %w", err)
	}
	return value, nil
}

func firstCPU(mask string) int {
	mask = strings.TrimSpace(mask)
	end := strings.IndexAny(mask, ",-")
	if end >= 0 {
		mask = mask[:end]
	}
	cpu, err := strconv.Atoi(mask)
	if err != nil || cpu < 0 {
		return 0
	}
	return cpu
}
