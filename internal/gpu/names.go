package gpu

import (
	"strings"
	"sync"

	"github.com/jaypipes/pcidb"
)

// pciNames is the lazily loaded pci.ids database. A host without the
// database gets empty lookups.
type pciNames struct {
	once sync.Once
	db   *pcidb.PCIDB
}

var names pciNames

func (n *pciNames) load() *pcidb.PCIDB {
	n.once.Do(func() {
		db, err := pcidb.New()
		if err == nil {
			n.db = db
		}
	})
	return n.db
}

// product returns the pci.ids name of a device, preferring the subsystem
// entry when the board vendor registered one.
func (n *pciNames) product(pciID, subVendorID, subDeviceID string) string {
	vendorID, deviceID := splitPCIIdentifier(pciID)
	vendorID, deviceID = normalizePCIID(vendorID), normalizePCIID(deviceID)
	if vendorID == "" || deviceID == "" {
		return ""
	}
	db := n.load()
	if db == nil {
		return ""
	}

	product, ok := db.Products[vendorID+deviceID]
	if !ok || product == nil {
		return ""
	}

	subVendorID, subDeviceID = normalizePCIID(subVendorID), normalizePCIID(subDeviceID)
	if subVendorID != "" && subDeviceID != "" {
		for _, sub := range product.Subsystems {
			if sub != nil && sub.Name != "" &&
				strings.EqualFold(sub.VendorID, subVendorID) && strings.EqualFold(sub.ID, subDeviceID) {
				return sub.Name
			}
		}
	}
	return product.Name
}

// vendor resolves a PCI vendor id to its pci.ids name.
func (n *pciNames) vendor(vendorID string) string {
	vendorID = normalizePCIID(vendorID)
	if vendorID == "" {
		return ""
	}
	db := n.load()
	if db == nil {
		return ""
	}
	if v, ok := db.Vendors[vendorID]; ok && v != nil {
		return v.Name
	}
	return ""
}

// deviceName picks the display name of a card. pci.ids entries for Intel
// graphics read "Alder Lake-P GT2 [Iris Xe Graphics]"; the codename outside
// the brackets is what the header shows. Without a database entry the
// vendor name and raw device id are used.
func deviceName(current, pciID, subVendorID, subDeviceID string) string {
	if resolved := names.product(pciID, subVendorID, subDeviceID); resolved != "" && isPlaceholderName(current) {
		return codename(resolved)
	}
	if !isPlaceholderName(current) {
		return current
	}
	if pciID == "" {
		return ""
	}
	vendorID, deviceID := splitPCIIdentifier(pciID)
	if v := names.vendor(vendorID); v != "" && deviceID != "" {
		return v + " device " + normalizePCIID(deviceID)
	}
	return "PCI device " + pciID
}

// codename strips the bracketed marketing name of a pci.ids entry. Entries
// that are only a marketing name are kept whole.
func codename(name string) string {
	name = strings.TrimSpace(name)
	open := strings.Index(name, " [")
	if open <= 0 || !strings.HasSuffix(name, "]") {
		return name
	}
	return strings.TrimSpace(name[:open])
}

func normalizePCIID(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "0x")
	value = strings.TrimPrefix(value, "0X")
	if value == "" {
		return ""
	}
	value = strings.ToLower(value)
	if len(value) < 4 {
		value = strings.Repeat("0", 4-len(value)) + value
	}
	return value
}

func splitPCIIdentifier(pciID string) (vendorID string, deviceID string) {
	vendorID, deviceID, ok := strings.Cut(pciID, ":")
	if !ok {
		return "", ""
	}
	return vendorID, deviceID
}

// isPlaceholderName reports whether a name read from sysfs is a driver or
// id stand-in rather than a product name.
func isPlaceholderName(current string) bool {
	lower := strings.ToLower(strings.TrimSpace(current))
	switch {
	case lower == "", lower == "i915", lower == "xe", lower == "unknown":
		return true
	case strings.HasPrefix(lower, "pci device"), strings.HasPrefix(lower, "0x"):
		return true
	}
	return false
}
