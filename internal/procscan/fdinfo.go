package procscan

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/skobkin/intelgputop/internal/engine"
)

const (
	keyDriver       = "drm-driver"
	keyPDev         = "drm-pdev"
	keyClientID     = "drm-client-id"
	keyEnginePrefix = "drm-engine-"
	keyCapacity     = "drm-engine-capacity-"
)

var errIncompleteRecord = errors.New("fdinfo record lacks drm-driver, drm-pdev or drm-client-id")

// Record is the DRM accounting part of one fdinfo file.
type Record struct {
	Driver   string
	PDev     string
	ClientID uint64
	// Busy is cumulative GPU time per engine class in nanoseconds.
	Busy [engine.NumClasses]uint64
	// HasClass marks the classes the driver reported.
	HasClass [engine.NumClasses]bool
}

// ParseFDInfo extracts the DRM fields from an fdinfo file.
func ParseFDInfo(data []byte) (Record, error) {
	var rec Record
	var hasDriver, hasPDev, hasID bool

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch {
		case key == keyDriver:
			rec.Driver = value
			hasDriver = true
		case key == keyPDev:
			rec.PDev = value
			hasPDev = true
		case key == keyClientID:
			id, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return Record{}, fmt.Errorf("parse %s: %w", keyClientID, err)
			}
			rec.ClientID = id
			hasID = true
		case strings.HasPrefix(key, keyCapacity):
			continue
		case strings.HasPrefix(key, keyEnginePrefix):
			class, ok := engine.ClassFromKey(strings.TrimPrefix(key, keyEnginePrefix))
			if !ok {
				continue
			}
			ns, ok := parseEngineValue(value)
			if !ok {
				return Record{}, fmt.Errorf("parse %s: %q", key, value)
			}
			rec.Busy[class] = ns
			rec.HasClass[class] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return Record{}, err
	}
	if !hasDriver || !hasPDev || !hasID {
		return Record{}, errIncompleteRecord
	}
	return rec, nil
}

// Format renders the record in fdinfo syntax.
func (r Record) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:\t%s\n", keyDriver, r.Driver)
	fmt.Fprintf(&b, "%s:\t%s\n", keyPDev, r.PDev)
	fmt.Fprintf(&b, "%s:\t%d\n", keyClientID, r.ClientID)
	for _, class := range engine.Classes() {
		if !r.HasClass[class] {
			continue
		}
		fmt.Fprintf(&b, "%s%s:\t%d ns\n", keyEnginePrefix, class.Key(), r.Busy[class])
	}
	return b.String()
}

var engineValuePattern = regexp.MustCompile(`^(\d+)\s*(ns|us|ms|s)?$`)

func parseEngineValue(value string) (uint64, bool) {
	match := engineValuePattern.FindStringSubmatch(strings.ToLower(value))
	if match == nil {
		return 0, false
	}
	n, err := strconv.ParseUint(match[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n * engineUnitMultiplier(match[2]), true
}

func engineUnitMultiplier(unit string) uint64 {
	switch unit {
	case "us":
		return 1000
	case "ms":
		return 1000 * 1000
	case "s":
		return 1000 * 1000 * 1000
	default:
		return 1
	}
}
