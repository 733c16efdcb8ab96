package gpu

import (
	"errors"
	"testing"
)

func testInfos() []Info {
	return []Info{
		{ID: "card0", Index: 0, PCI: IntegratedSlot, PCIID: "8086:4680", Driver: "i915", CardNode: "/dev/dri/card0", RenderNode: "/dev/dri/renderD128", SysfsPath: "/sys/devices/pci0000:00/0000:00:02.0"},
		{ID: "card1", Index: 1, PCI: "0000:03:00.0", PCIID: "8086:56a0", Driver: "i915", CardNode: "/dev/dri/card1", RenderNode: "/dev/dri/renderD129", Discrete: true,
			SRIOVCapable: true, VirtFns: []string{"0000:03:00.1"}},
		{ID: "card2", Index: 2, PCI: "0000:03:00.1", PCIID: "8086:56a0", Driver: "i915", CardNode: "/dev/dri/card2", Discrete: true, PhysFn: "0000:03:00.0"},
		{ID: "card3", Index: 3, PCI: "0000:0a:00.0", PCIID: "1002:73df", Driver: "amdgpu", CardNode: "/dev/dri/card3", Discrete: true},
	}
}

func TestResolveDefaultPrefersDiscrete(t *testing.T) {
	dev, err := Resolve(testInfos(), "")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if dev.BusSlot != "0000:03:00.0" {
		t.Fatalf("expected first discrete card, got %q", dev.BusSlot)
	}
	if !dev.IsDiscrete {
		t.Fatalf("expected discrete device")
	}
	if dev.DriverInstance != "i915_0000_03_00.0" {
		t.Fatalf("unexpected driver instance %q", dev.DriverInstance)
	}
}

func TestResolveDefaultFallsBackToIntegrated(t *testing.T) {
	infos := testInfos()
	dev, err := Resolve([]Info{infos[3], infos[0]}, "")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if dev.BusSlot != IntegratedSlot || dev.IsDiscrete {
		t.Fatalf("expected integrated card, got %+v", dev)
	}
	if dev.DriverInstance != "i915" {
		t.Fatalf("unexpected driver instance %q", dev.DriverInstance)
	}
}

func TestResolveDefaultNoDevice(t *testing.T) {
	infos := testInfos()
	if _, err := Resolve([]Info{infos[3]}, ""); !errors.Is(err, ErrNoDeviceFound) {
		t.Fatalf("expected ErrNoDeviceFound, got %v", err)
	}
	if _, err := Resolve(nil, ""); !errors.Is(err, ErrNoDeviceFound) {
		t.Fatalf("expected ErrNoDeviceFound, got %v", err)
	}
}

func TestResolveFilters(t *testing.T) {
	testCases := []struct {
		name   string
		filter string
		want   string
	}{
		{"DRMCardNode", "drm:/dev/dri/card0", IntegratedSlot},
		{"DRMRenderNode", "drm:/dev/dri/renderD129", "0000:03:00.0"},
		{"SysPath", "sys:/sys/devices/pci0000:00/0000:00:02.0", IntegratedSlot},
		{"PCISlot", "pci:slot=0000:03:00.1", "0000:03:00.1"},
		{"PCIShortSlot", "pci:slot=0a:00.0", "0000:0a:00.0"},
		{"PCIVendorCard", "pci:vendor=intel,device=56A0,card=1", "0000:03:00.1"},
		{"PCIVendorHex", "pci:vendor=0x1002", "0000:0a:00.0"},
		{"SRIOVPhysical", "sriov:pf=0", "0000:03:00.0"},
		{"SRIOVVirtual", "sriov:pf=0,vf=0", "0000:03:00.1"},
		{"SRIOVCardAlias", "sriov:card=0,vf=0", "0000:03:00.1"},
		{"SRIOVPFWinsOverCard", "sriov:pf=0,card=5", "0000:03:00.0"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dev, err := Resolve(testInfos(), tc.filter)
			if err != nil {
				t.Fatalf("Resolve(%q) returned error: %v", tc.filter, err)
			}
			if dev.BusSlot != tc.want {
				t.Fatalf("Resolve(%q) = %q, want %q", tc.filter, dev.BusSlot, tc.want)
			}
		})
	}
}

func TestResolveFilterErrors(t *testing.T) {
	testCases := []struct {
		name   string
		filter string
		want   error
	}{
		{"Ambiguous", "pci:vendor=8086", ErrAmbiguousFilter},
		{"NoMatch", "pci:device=ffff", ErrNoDeviceFound},
		{"CardOutOfRange", "pci:vendor=8086,card=9", ErrNoDeviceFound},
		{"VFOutOfRange", "sriov:pf=0,vf=4", ErrNoDeviceFound},
		{"UnknownKind", "usb:bus=1", ErrInvalidFilter},
		{"MissingColon", "card0", ErrInvalidFilter},
		{"MalformedParam", "pci:vendor", ErrInvalidFilter},
		{"BadCard", "pci:card=x", ErrInvalidFilter},
		{"BadVendor", "pci:vendor=acme", ErrInvalidFilter},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Resolve(testInfos(), tc.filter); !errors.Is(err, tc.want) {
				t.Fatalf("Resolve(%q) error = %v, want %v", tc.filter, err, tc.want)
			}
		})
	}
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter(" PCI:Vendor=8086, card=0 ")
	if err != nil {
		t.Fatalf("ParseFilter returned error: %v", err)
	}
	if f.Kind != "pci" {
		t.Fatalf("unexpected kind %q", f.Kind)
	}
	if f.Params["vendor"] != "8086" || f.Params["card"] != "0" {
		t.Fatalf("unexpected params %v", f.Params)
	}

	f, err = ParseFilter("drm:/dev/dri/card1")
	if err != nil {
		t.Fatalf("ParseFilter returned error: %v", err)
	}
	if f.Value != "/dev/dri/card1" {
		t.Fatalf("unexpected value %q", f.Value)
	}
}
