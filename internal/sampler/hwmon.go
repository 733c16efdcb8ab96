package sampler

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/skobkin/intelgputop/internal/pmu"
)

const (
	drmClassPath    = "class/drm"
	hwmonEnergyFile = "energy1_input"
)

// hwmonEnergy feeds a pmu.Counter from the card's hwmon energy file, which
// reports cumulative microjoules.
type hwmonEnergy struct {
	path    string
	counter *pmu.Counter
}

func newHwmonEnergy(devicePath string) *hwmonEnergy {
	hwmonPath := detectHwmon(devicePath)
	if hwmonPath == "" {
		return nil
	}
	path := filepath.Join(hwmonPath, hwmonEnergyFile)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return &hwmonEnergy{
		path: path,
		counter: &pmu.Counter{
			Name:    "hwmon-" + hwmonEnergyFile,
			Scale:   1e-6,
			Unit:    "Joules",
			Slot:    -1,
			Present: true,
		},
	}
}

func (h *hwmonEnergy) sample() error {
	value, err := readUint(h.path)
	if err != nil {
		return err
	}
	h.counter.Update(value)
	return nil
}

func detectHwmon(devicePath string) string {
	hwmonRoot := filepath.Join(devicePath, "hwmon")
	entries, err := os.ReadDir(hwmonRoot)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Type()&os.ModeSymlink != 0 {
			return filepath.Join(hwmonRoot, entry.Name())
		}
	}
	return ""
}

func readUint(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	valueStr := strings.TrimSpace(string(data))
	if valueStr == "" {
		return 0, fmt.Errorf("empty value in %s", path)
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return value, nil
}
