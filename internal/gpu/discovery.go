// Package gpu enumerates accelerator cards through sysfs so the benchmark can
// decide whether to register an accelerator target and describe the host.
package gpu

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const drmClassPath = "class/drm"

// Known PCI vendor ids.
const (
	VendorAMD    = "1002"
	VendorNVIDIA = "10de"
	VendorIntel  = "8086"
)

// Info describes a single accelerator discovered via sysfs.
type Info struct {
	ID         string `json:"id"`
	PCI        string `json:"pci"`
	PCIID      string `json:"pci_id"`
	Vendor     string `json:"vendor"`
	Driver     string `json:"driver,omitempty"`
	Name       string `json:"name"`
	RenderNode string `json:"render_node,omitempty"`
}

// IsAMD reports whether the card exposes the amdgpu sysfs telemetry files.
func (i Info) IsAMD() bool {
	return i.Vendor == "amd"
}

// String renders the card for log lines and the environment banner.
func (i Info) String() string {
	name := i.Name
	if name == "" {
		name = "unknown device"
	}
	if i.PCI == "" {
		return fmt.Sprintf("%s: %s", i.ID, name)
	}
	return fmt.Sprintf("%s: %s [%s]", i.ID, name, i.PCI)
}

// Discover enumerates DRM cards exposed via sysfs under the provided root.
// A missing DRM class directory is not an error; it yields no cards.
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
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("drm class path missing", "path", filepath.Join(root, drmClassPath))
			return nil, nil
		}
		return nil, fmt.Errorf("read drm class dir: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		name := entry.Name()
		if !isCardName(name) {
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
		infos = append(infos, info)
	}

	return infos, nil
}

func isCardName(name string) bool {
	if !strings.HasPrefix(name, "card") || strings.ContainsRune(name, '-') {
		return false
	}
	return allDigits(name[len("card"):])
}

func loadCardInfo(cardID string, cardRoot *os.Root) (Info, error) {
	deviceRoot, err := cardRoot.OpenRoot("device")
	if err != nil {
		return Info{}, fmt.Errorf("open device root: %w", err)
	}
	defer deviceRoot.Close()

	info := Info{ID: cardID}
	var subVendor, subDevice string

	if data, err := deviceRoot.ReadFile("uevent"); err == nil {
		fields := parseUevent(string(data))
		info.PCI = fields["PCI_SLOT_NAME"]
		info.PCIID = strings.ToLower(fields["PCI_ID"])
		info.Driver = fields["DRIVER"]
		info.Name = fields["PCI_ID_NAME"]
		if vendor, device, ok := strings.Cut(fields["PCI_SUBSYS_ID"], ":"); ok {
			subVendor, subDevice = vendor, device
		}
	}

	if info.PCIID == "" {
		vendor, verr := readTrim(deviceRoot, "vendor")
		device, derr := readTrim(deviceRoot, "device")
		if verr == nil && derr == nil {
			info.PCIID = strings.ToLower(formatHexPair(vendor, device))
		}
	}
	if info.Name == "" {
		info.Name, _ = readTrim(deviceRoot, "product_name")
	}
	if subVendor == "" {
		subVendor, _ = readTrim(deviceRoot, "subsystem_vendor")
	}
	if subDevice == "" {
		subDevice, _ = readTrim(deviceRoot, "subsystem_device")
	}

	vendorID, deviceID := splitPCIIdentifier(info.PCIID)
	info.Vendor = vendorName(vendorID)
	if resolved := lookupGPUName(vendorID, deviceID, subVendor, subDevice); shouldUseResolvedName(info.Name, resolved) {
		info.Name = resolved
	}
	if info.Name == "" {
		info.Name = info.Driver
	}
	info.RenderNode = findRenderNode(deviceRoot)

	return info, nil
}

func vendorName(vendorID string) string {
	switch normalizePCIID(vendorID) {
	case VendorAMD:
		return "amd"
	case VendorNVIDIA:
		return "nvidia"
	case VendorIntel:
		return "intel"
	case "":
		return ""
	default:
		return "other"
	}
}

func findRenderNode(deviceRoot *os.Root) string {
	entries, err := fs.ReadDir(deviceRoot.FS(), "drm")
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if name := entry.Name(); strings.HasPrefix(name, "renderD") {
			return filepath.Join("/dev/dri", name)
		}
	}
	return ""
}

func parseUevent(data string) map[string]string {
	fields := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return fields
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
