package gpu

import (
	"cmp"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrNoDeviceFound is returned when no card satisfies the filter.
	ErrNoDeviceFound = errors.New("no device found")
	// ErrAmbiguousFilter is returned when a filter matches several cards and
	// does not pick one with card=N.
	ErrAmbiguousFilter = errors.New("filter matches more than one device")
	// ErrInvalidFilter is returned for filters that cannot be parsed.
	ErrInvalidFilter = errors.New("invalid device filter")
)

// Device is the card selected for observation.
type Device struct {
	Info
	BusSlot        string
	DriverInstance string
	IsDiscrete     bool
}

// NewDevice derives the observation identity of a discovered card. Discrete
// cards get their own PMU instance named after the PCI slot.
func NewDevice(info Info) Device {
	instance := i915Driver
	if info.Discrete {
		instance = i915Driver + "_" + strings.ReplaceAll(info.PCI, ":", "_")
	}
	return Device{
		Info:           info,
		BusSlot:        info.PCI,
		DriverInstance: instance,
		IsDiscrete:     info.Discrete,
	}
}

// Filter is a parsed device selector such as "pci:vendor=8086,card=1".
type Filter struct {
	Kind   string
	Value  string
	Params map[string]string
}

// ParseFilter splits a selector into its kind and parameters.
func ParseFilter(raw string) (Filter, error) {
	kind, rest, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || rest == "" {
		return Filter{}, fmt.Errorf("%w: %q", ErrInvalidFilter, raw)
	}

	f := Filter{Kind: strings.ToLower(kind), Params: make(map[string]string)}
	switch f.Kind {
	case "sys", "drm":
		f.Value = rest
	case "pci", "sriov":
		for _, part := range strings.Split(rest, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			key, value, ok := strings.Cut(part, "=")
			if !ok || value == "" {
				return Filter{}, fmt.Errorf("%w: malformed parameter %q", ErrInvalidFilter, part)
			}
			f.Params[strings.ToLower(key)] = value
		}
	default:
		return Filter{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidFilter, kind)
	}
	return f, nil
}

// Resolve selects the card to observe. An empty filter picks the first
// discrete i915 card, falling back to the integrated one.
func Resolve(infos []Info, raw string) (Device, error) {
	if strings.TrimSpace(raw) == "" {
		var integrated *Info
		for i := range infos {
			info := infos[i]
			if !info.Observable() {
				continue
			}
			if info.Discrete {
				return NewDevice(info), nil
			}
			if integrated == nil {
				integrated = &infos[i]
			}
		}
		if integrated == nil {
			return Device{}, ErrNoDeviceFound
		}
		return NewDevice(*integrated), nil
	}

	filter, err := ParseFilter(raw)
	if err != nil {
		return Device{}, err
	}

	matches, err := filter.match(infos)
	if err != nil {
		return Device{}, err
	}
	switch len(matches) {
	case 0:
		return Device{}, fmt.Errorf("%w: %s", ErrNoDeviceFound, raw)
	case 1:
		return NewDevice(matches[0]), nil
	default:
		return Device{}, fmt.Errorf("%w: %s (%d matches, use card=N)", ErrAmbiguousFilter, raw, len(matches))
	}
}

func (f Filter) match(infos []Info) ([]Info, error) {
	switch f.Kind {
	case "sys":
		return matchSys(infos, f.Value), nil
	case "drm":
		return matchDRM(infos, f.Value), nil
	case "pci":
		return f.matchPCI(infos)
	case "sriov":
		return f.matchSRIOV(infos)
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidFilter, f.Kind)
}

func matchSys(infos []Info, path string) []Info {
	want := filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(want); err == nil {
		want = resolved
	}
	var out []Info
	for _, info := range infos {
		if info.SysfsPath != "" && info.SysfsPath == want {
			out = append(out, info)
		}
	}
	return out
}

func matchDRM(infos []Info, node string) []Info {
	base := filepath.Base(node)
	var out []Info
	for _, info := range infos {
		if info.ID == base || filepath.Base(info.CardNode) == base || (info.RenderNode != "" && filepath.Base(info.RenderNode) == base) {
			out = append(out, info)
		}
	}
	return out
}

func (f Filter) matchPCI(infos []Info) ([]Info, error) {
	vendor, err := vendorParam(f.Params["vendor"])
	if err != nil {
		return nil, err
	}
	device := normalizePCIID(f.Params["device"])
	slot := strings.ToLower(f.Params["slot"])

	var out []Info
	for _, info := range infos {
		if vendor != "" && info.Vendor() != vendor {
			continue
		}
		if device != "" && info.Product() != device {
			continue
		}
		if slot != "" && !slotMatches(info.PCI, slot) {
			continue
		}
		out = append(out, info)
	}
	return pickCard(out, f.Params["card"])
}

func (f Filter) matchSRIOV(infos []Info) ([]Info, error) {
	var pfs []Info
	for _, info := range infos {
		if info.SRIOVCapable {
			pfs = append(pfs, info)
		}
	}
	pf, err := pickCard(pfs, cmp.Or(f.Params["pf"], f.Params["card"]))
	if err != nil {
		return nil, err
	}

	vfParam, ok := f.Params["vf"]
	if !ok || len(pf) != 1 {
		return pf, nil
	}
	vf, err := strconv.Atoi(vfParam)
	if err != nil || vf < 0 {
		return nil, fmt.Errorf("%w: vf=%q", ErrInvalidFilter, vfParam)
	}
	if vf >= len(pf[0].VirtFns) {
		return nil, nil
	}
	slot := pf[0].VirtFns[vf]
	var out []Info
	for _, info := range infos {
		if info.PCI == slot {
			out = append(out, info)
		}
	}
	return out, nil
}

func pickCard(matches []Info, card string) ([]Info, error) {
	if card == "" {
		return matches, nil
	}
	index, err := strconv.Atoi(card)
	if err != nil || index < 0 {
		return nil, fmt.Errorf("%w: card=%q", ErrInvalidFilter, card)
	}
	if index >= len(matches) {
		return nil, nil
	}
	return matches[index : index+1], nil
}

// slotMatches accepts both full "0000:03:00.0" and short "03:00.0" slots.
func slotMatches(have, want string) bool {
	have = strings.ToLower(have)
	if have == want {
		return true
	}
	return strings.Count(want, ":") == 1 && strings.HasSuffix(have, ":"+want)
}

func vendorParam(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if strings.EqualFold(raw, "intel") {
		return intelVendorID, nil
	}
	value := normalizePCIID(raw)
	if _, err := strconv.ParseUint(value, 16, 16); err != nil {
		return "", fmt.Errorf("%w: vendor=%q", ErrInvalidFilter, raw)
	}
	return value, nil
}
