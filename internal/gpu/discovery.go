package gpu

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"unicode"
)

const (
	drmClassPath = "class/drm"

	// IntegratedSlot is the PCI slot Intel integrated graphics always occupies.
	IntegratedSlot = "0000:00:02.0"

	intelVendorID = "8086"
	i915Driver    = "i915"
)

// Info describes a single DRM card discovered via sysfs.
type Info struct {
	ID         string `json:"id"`
	Index      int    `json:"index"`
	PCI        string `json:"pci"`
	PCIID      string `json:"pci_id"`
	Driver     string `json:"driver"`
	Name       string `json:"name"`
	CardNode   string `json:"card_node"`
	RenderNode string `json:"render_node"`
	SysfsPath  string `json:"sysfs_path"`
	Discrete   bool   `json:"discrete"`

	// SR-IOV topology; PhysFn is the slot of the owning physical function
	// for virtual functions.
	SRIOVCapable bool     `json:"sriov_capable"`
	PhysFn       string   `json:"physfn,omitempty"`
	VirtFns      []string `json:"virtfns,omitempty"`
}

// Vendor returns the lower-case PCI vendor id.
func (i Info) Vendor() string {
	vendor, _ := splitPCIIdentifier(i.PCIID)
	return normalizePCIID(vendor)
}

// Product returns the lower-case PCI device id.
func (i Info) Product() string {
	_, device := splitPCIIdentifier(i.PCIID)
	return normalizePCIID(device)
}

// Observable reports whether the card is driven by i915 and can be sampled.
func (i Info) Observable() bool {
	return i.Driver == i915Driver && i.Vendor() == intelVendorID
}

// FilterString returns a device filter that selects exactly this card.
func (i Info) FilterString() string {
	if i.PCI != "" {
		return "pci:slot=" + i.PCI
	}
	return "drm:" + i.CardNode
}

// Discover enumerates DRM cards exposed via sysfs under the provided root.
// Cards are returned ordered by their minor index.
func Discover(root string, logger *slog.Logger) ([]Info, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	sysRoot, err := os.OpenRoot(root)
	if err != nil {
		return nil, fmt.Errorf("open sysfs root: %w", err)
	}
	defer sysRoot.Close()

	entries, err := fs.ReadDir(sysRoot.FS(), drmClassPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist) {
			logger.Warn("drm class path missing", "path", filepath.Join(root, drmClassPath))
			return nil, nil
		}
		return nil, fmt.Errorf("read drm class dir: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "card") {
			continue
		}
		if strings.ContainsRune(name, '-') {
			continue
		}
		if !allDigits(name[4:]) {
			continue
		}

		if !entry.IsDir() && entry.Type()&os.ModeSymlink == 0 {
			continue
		}

		cardRoot, err := sysRoot.OpenRoot(filepath.Join(drmClassPath, name))
		if err != nil {
			logger.Warn("failed to open card root", "card", name, "err", err)
			continue
		}

		info, err := loadCardInfo(name, cardRoot)
		if err := cardRoot.Close(); err != nil {
			logger.Debug("failed to close card root", "card", name, "err", err)
		}
		if err != nil {
			logger.Warn("failed to load card info", "card", name, "err", err)
			continue
		}
		if resolved, err := filepath.EvalSymlinks(filepath.Join(root, drmClassPath, name, "device")); err == nil {
			info.SysfsPath = resolved
		}
		infos = append(infos, info)
	}

	slices.SortFunc(infos, func(a, b Info) int {
		return cmp.Compare(a.Index, b.Index)
	})

	return infos, nil
}

func loadCardInfo(cardID string, cardRoot *os.Root) (Info, error) {
	deviceRoot, err := cardRoot.OpenRoot("device")
	if err != nil {
		return Info{}, fmt.Errorf("open device root: %w", err)
	}
	defer deviceRoot.Close()

	index, _ := strconv.Atoi(strings.TrimPrefix(cardID, "card"))

	var (
		pciSlot   string
		pciID     string
		name      string
		driver    string
		subVendor string
		subDevice string
	)

	if data, err := deviceRoot.ReadFile("uevent"); err == nil {
		text := string(data)
		pciSlot = parseKeyValue(text, "PCI_SLOT_NAME")
		pciID = parseKeyValue(text, "PCI_ID")
		driver = parseKeyValue(text, "DRIVER")
		subsys := parseKeyValue(text, "PCI_SUBSYS_ID")
		if subsys != "" {
			parts := strings.SplitN(subsys, ":", 2)
			if len(parts) == 2 {
				subVendor = parts[0]
				subDevice = parts[1]
			}
		}
		name = parseKeyValue(text, "PCI_ID_NAME")
	}

	if driver == "" {
		if link, err := deviceRoot.Readlink("driver"); err == nil {
			driver = filepath.Base(link)
		}
	}
	if name == "" {
		name = driver
	}

	if pciID == "" {
		if vendor, err := readTrim(deviceRoot, "vendor"); err == nil {
			if device, err := readTrim(deviceRoot, "device"); err == nil {
				pciID = formatHexPair(vendor, device)
			}
		}
	}
	pciID = strings.ToLower(pciID)

	if subVendor == "" {
		subVendor, _ = readTrim(deviceRoot, "subsystem_vendor")
	}
	if subDevice == "" {
		subDevice, _ = readTrim(deviceRoot, "subsystem_device")
	}

	name = deviceName(name, pciID, subVendor, subDevice)

	info := Info{
		ID:         cardID,
		Index:      index,
		PCI:        pciSlot,
		PCIID:      pciID,
		Driver:     driver,
		Name:       name,
		CardNode:   filepath.Join("/dev/dri", cardID),
		RenderNode: findRenderNode(deviceRoot),
		Discrete:   pciSlot != "" && pciSlot != IntegratedSlot,
	}

	if _, err := deviceRoot.Stat("sriov_totalvfs"); err == nil {
		info.SRIOVCapable = true
		info.VirtFns = readVirtFns(deviceRoot)
	}
	if link, err := deviceRoot.Readlink("physfn"); err == nil {
		info.PhysFn = filepath.Base(link)
	}

	return info, nil
}

func readVirtFns(deviceRoot *os.Root) []string {
	entries, err := fs.ReadDir(deviceRoot.FS(), ".")
	if err != nil {
		return nil
	}
	type virtFn struct {
		index int
		slot  string
	}
	var fns []virtFn
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "virtfn") || !allDigits(name[len("virtfn"):]) {
			continue
		}
		link, err := deviceRoot.Readlink(name)
		if err != nil {
			continue
		}
		index, _ := strconv.Atoi(name[len("virtfn"):])
		fns = append(fns, virtFn{index: index, slot: filepath.Base(link)})
	}
	slices.SortFunc(fns, func(a, b virtFn) int { return cmp.Compare(a.index, b.index) })

	slots := make([]string, 0, len(fns))
	for _, fn := range fns {
		slots = append(slots, fn.slot)
	}
	return slots
}

func findRenderNode(deviceRoot *os.Root) string {
	drmRoot, err := deviceRoot.OpenRoot("drm")
	if err != nil {
		return ""
	}
	defer drmRoot.Close()

	entries, err := fs.ReadDir(drmRoot.FS(), ".")
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "renderD") {
			return filepath.Join("/dev/dri", name)
		}
	}
	return ""
}

func parseKeyValue(data, key string) string {
	prefix := key + "="
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}

func readTrim(root *os.Root, name string) (string, error) {
	data, err := root.ReadFile(name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func formatHexPair(vendor, device string) string {
	return strings.TrimPrefix(vendor, "0x") + ":" + strings.TrimPrefix(device, "0x")
}

func allDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
