package sampler

import (
	"path/filepath"
	"testing"
	"time"
)

func TestReaderSampleSysfs(t *testing.T) {
	t.Parallel()

	sysfsRoot := t.TempDir()
	devicePath := createMinimalDevice(t, sysfsRoot, "card0")
	writeFile(t, filepath.Join(devicePath, gpuBusyFilename), "47\n")
	writeFile(t, filepath.Join(devicePath, memBusyFilename), "31\n")
	writeFile(t, filepath.Join(devicePath, ppDpmSclkFilename), "0: 500Mhz\n1: 1000Mhz *\n")
	writeFile(t, filepath.Join(devicePath, ppDpmMclkFilename), "0: 900Mhz *\n1: 1000Mhz\n")
	writeFile(t, filepath.Join(devicePath, vramUsedFilename), "104857600\n")
	writeFile(t, filepath.Join(devicePath, vramTotalFilename), "2147483648\n")
	writeFile(t, filepath.Join(devicePath, "hwmon", "hwmon3", hwmonTempFile), "65000\n")
	writeFile(t, filepath.Join(devicePath, "hwmon", "hwmon3", hwmonPowerAverageFile), "120000000\n")

	reader, err := NewReader(ReaderOptions{CardID: "card0", Name: "Radeon Test", SysfsRoot: sysfsRoot, DebugfsRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("NewReader returned error: %v", err)
	}

	sample := reader.Sample()
	if sample.CardID != "card0" || sample.Name != "Radeon Test" {
		t.Fatalf("unexpected identity %q/%q", sample.CardID, sample.Name)
	}
	if sample.Timestamp.IsZero() {
		t.Fatalf("expected timestamp to be set")
	}

	assertFloatEqual(t, sample.Metrics.GPUBusyPct, 47)
	assertFloatEqual(t, sample.Metrics.MemBusyPct, 31)
	assertFloatEqual(t, sample.Metrics.SCLKMHz, 1000)
	assertFloatEqual(t, sample.Metrics.MCLKMHz, 900)
	assertFloatEqual(t, sample.Metrics.TempC, 65)
	assertFloatEqual(t, sample.Metrics.PowerW, 120)
	assertUintEqual(t, sample.Metrics.VRAMUsedBytes, 104857600)
	assertUintEqual(t, sample.Metrics.VRAMTotalBytes, 2147483648)
}

func TestReaderSampleDebugFallback(t *testing.T) {
	t.Parallel()

	sysfsRoot := t.TempDir()
	debugfsRoot := t.TempDir()
	devicePath := createMinimalDevice(t, sysfsRoot, "card1")
	writeFile(t, filepath.Join(devicePath, vramTotalFilename), "17179869184\n")
	writeFile(t, filepath.Join(debugfsRoot, "dri", "1", debugPmInfoFilename),
		"GFX Clocks and Power:\n\t1100 MHz (MCLK)\n\nSCLK: 1200 MHz\nMCLK: 1100 MHz\nGPU Temperature: 70 C\nGPU Load: 76 %\nGPU Power: 100 W\n")

	reader, err := NewReader(ReaderOptions{CardID: "card1", SysfsRoot: sysfsRoot, DebugfsRoot: debugfsRoot})
	if err != nil {
		t.Fatalf("NewReader returned error: %v", err)
	}

	sample := reader.Sample()
	if sample.Name != "card1" {
		t.Fatalf("expected name to default to card id, got %q", sample.Name)
	}
	assertFloatEqual(t, sample.Metrics.GPUBusyPct, 76)
	assertFloatEqual(t, sample.Metrics.SCLKMHz, 1200)
	assertFloatEqual(t, sample.Metrics.MCLKMHz, 1100)
	assertFloatEqual(t, sample.Metrics.TempC, 70)
	assertFloatEqual(t, sample.Metrics.PowerW, 100)
	if sample.Metrics.MemBusyPct != nil {
		t.Fatalf("expected MemBusyPct to be nil when sysfs metric missing")
	}
	assertUintEqual(t, sample.Metrics.VRAMTotalBytes, 17179869184)
}

func TestReaderScaledBusyPercent(t *testing.T) {
	t.Parallel()

	sysfsRoot := t.TempDir()
	devicePath := createMinimalDevice(t, sysfsRoot, "card0")
	writeFile(t, filepath.Join(devicePath, gpuBusyFilename), "4700\n")

	reader, err := NewReader(ReaderOptions{CardID: "card0", SysfsRoot: sysfsRoot, DebugfsRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("NewReader returned error: %v", err)
	}
	assertFloatEqual(t, reader.Sample().Metrics.GPUBusyPct, 47)
}

func TestNewReaderRejectsBadCard(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if _, err := NewReader(ReaderOptions{CardID: "renderD128", SysfsRoot: root}); err == nil {
		t.Fatalf("expected error for non-card id")
	}
	if _, err := NewReader(ReaderOptions{CardID: "card7", SysfsRoot: root}); err == nil {
		t.Fatalf("expected error for missing device path")
	}
}

func TestSampleToGPUSample(t *testing.T) {
	t.Parallel()

	busy, power, temp, sclk := 42.0, 150.5, 61.0, 2100.0
	vram := uint64(3 << 30)
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	sample := Sample{
		CardID:    "card0",
		Name:      "Radeon Test",
		Timestamp: ts,
		Metrics:   Metrics{GPUBusyPct: &busy, PowerW: &power, TempC: &temp, SCLKMHz: &sclk, VRAMUsedBytes: &vram},
	}

	record, ok := sample.GPUSample()
	if !ok {
		t.Fatalf("expected conversion to succeed")
	}
	if !record.Timestamp.Equal(ts) || record.UtilizationPct != 42 || record.PowerDrawW != 150.5 {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.Extra["memory.used [MiB]"] != "3072" || record.Extra["clocks.sm [MHz]"] != "2100" || record.Extra["temperature.gpu"] != "61" {
		t.Fatalf("unexpected extra columns %+v", record.Extra)
	}

	sample.Metrics.PowerW = nil
	if _, ok := sample.GPUSample(); ok {
		t.Fatalf("expected conversion to fail without power")
	}
}

func assertFloatEqual(t *testing.T, value *float64, expected float64) {
	t.Helper()
	if value == nil {
		t.Fatalf("expected float value %.2f, got nil", expected)
	}
	if diff := *value - expected; diff < -0.0001 || diff > 0.0001 {
		t.Fatalf("expected %.2f, got %.4f", expected, *value)
	}
}

func assertUintEqual(t *testing.T, value *uint64, expected uint64) {
	t.Helper()
	if value == nil {
		t.Fatalf("expected uint value %d, got nil", expected)
	}
	if *value != expected {
		t.Fatalf("expected %d, got %d", expected, *value)
	}
}
