package gpu

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/jaypipes/pcidb"
)

func TestDiscover(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	card0 := filepath.Join(root, "class", "drm", "card0", "device")
	writeFile(t, filepath.Join(card0, "uevent"), "DRIVER=amdgpu\nPCI_SLOT_NAME=0000:0a:00.0\nPCI_ID=1002:73DF\nPCI_ID_NAME=AMD Radeon RX 6800\n")
	mkdir(t, filepath.Join(card0, "drm", "renderD128"))

	card1 := filepath.Join(root, "class", "drm", "card1", "device")
	writeFile(t, filepath.Join(card1, "uevent"), "DRIVER=nvidia\nPCI_SLOT_NAME=0000:01:00.0\n")
	writeFile(t, filepath.Join(card1, "vendor"), "0x10de\n")
	writeFile(t, filepath.Join(card1, "device"), "0x2204\n")
	writeFile(t, filepath.Join(card1, "product_name"), "Lab Accelerator\n")
	mkdir(t, filepath.Join(card1, "drm", "renderD129"))

	// Connectors and non-card entries are ignored.
	mkdir(t, filepath.Join(root, "class", "drm", "card0-DP-1"))
	mkdir(t, filepath.Join(root, "class", "drm", "renderD128"))

	infos, err := Discover(root, logger)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 cards, got %d: %+v", len(infos), infos)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	amd := infos[0]
	if amd.ID != "card0" || amd.PCI != "0000:0a:00.0" || amd.PCIID != "1002:73df" {
		t.Fatalf("unexpected card0 identity: %+v", amd)
	}
	if !amd.IsAMD() || amd.Driver != "amdgpu" {
		t.Fatalf("expected amdgpu vendor and driver, got %+v", amd)
	}
	if amd.RenderNode != "/dev/dri/renderD128" {
		t.Errorf("unexpected render node: %q", amd.RenderNode)
	}

	nv := infos[1]
	if nv.PCIID != "10de:2204" {
		t.Errorf("expected PCI ID fallback to vendor/device, got %q", nv.PCIID)
	}
	if nv.Vendor != "nvidia" || nv.IsAMD() {
		t.Errorf("unexpected vendor for card1: %q", nv.Vendor)
	}
	if nv.Name == "" {
		t.Errorf("expected a name for card1")
	}
	if !strings.Contains(nv.String(), "[0000:01:00.0]") {
		t.Errorf("unexpected String(): %q", nv.String())
	}
}

func TestDiscoverMissingDRMClass(t *testing.T) {
	t.Parallel()

	infos, err := Discover(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("expected 0 cards, got %d", len(infos))
	}
}

func TestDiscoverMissingRoot(t *testing.T) {
	t.Parallel()

	if _, err := Discover(filepath.Join(t.TempDir(), "absent"), nil); err == nil {
		t.Fatalf("expected error for missing sysfs root")
	}
}

func TestDiscoverFollowsSymlinks(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	classPath := filepath.Join(root, "class", "drm")
	mkdir(t, classPath)

	target := filepath.Join(root, "devices", "pci0000:00", "0000:00:01.0", "drm", "card0")
	deviceDir := filepath.Join(target, "device")
	writeFile(t, filepath.Join(deviceDir, "uevent"), "PCI_SLOT_NAME=0000:00:01.0\nPCI_ID=1002:73df\n")
	mkdir(t, filepath.Join(deviceDir, "drm", "renderD128"))

	relTarget, err := filepath.Rel(classPath, target)
	if err != nil {
		t.Fatalf("filepath.Rel: %v", err)
	}
	if err := os.Symlink(relTarget, filepath.Join(classPath, "card0")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	infos, err := Discover(root, nil)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != "card0" {
		t.Fatalf("expected symlinked card, got %+v", infos)
	}
}

func TestDiscoverUsesPCIDatabase(t *testing.T) {
	t.Parallel()

	db, err := pcidb.New()
	if err != nil {
		t.Skipf("pcidb unavailable: %v", err)
	}
	product, ok := db.Products["100273bf"]
	if !ok || product == nil || product.Name == "" {
		t.Skipf("pcidb missing product 1002:73bf")
	}

	root := t.TempDir()
	deviceDir := filepath.Join(root, "class", "drm", "card0", "device")
	writeFile(t, filepath.Join(deviceDir, "uevent"), "DRIVER=amdgpu\nPCI_SLOT_NAME=0000:00:01.0\nPCI_ID=1002:73BF\n")

	infos, err := Discover(root, nil)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected 1 card, got %d", len(infos))
	}
	if infos[0].Name != product.Name {
		t.Fatalf("expected name %q, got %q", product.Name, infos[0].Name)
	}
}

func TestShouldUseResolvedName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		current  string
		resolved string
		want     bool
	}{
		{"", "Navi 21", true},
		{"amdgpu", "Navi 21", true},
		{"NVIDIA", "GA102", true},
		{"PCI device 73bf", "Navi 21", true},
		{"Custom Name", "Navi 21", false},
		{"", "", false},
	}
	for _, tc := range cases {
		if got := shouldUseResolvedName(tc.current, tc.resolved); got != tc.want {
			t.Errorf("shouldUseResolvedName(%q, %q) = %v, want %v", tc.current, tc.resolved, got, tc.want)
		}
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	mkdir(t, filepath.Dir(path))
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func mkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o750); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}
