package sampler

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	drmClassPath          = "class/drm"
	gpuBusyFilename       = "gpu_busy_percent"
	memBusyFilename       = "mem_busy_percent"
	ppDpmSclkFilename     = "pp_dpm_sclk"
	ppDpmMclkFilename     = "pp_dpm_mclk"
	vramUsedFilename      = "mem_info_vram_used"
	vramTotalFilename     = "mem_info_vram_total"
	debugPmInfoFilename   = "amdgpu_pm_info"
	hwmonTempFile         = "temp1_input"
	hwmonPowerAverageFile = "power1_average"
	hwmonPowerInputFile   = "power1_input"
)

// Reader fetches telemetry for a single amdgpu card from sysfs, falling back
// to debugfs for the values sysfs does not expose.
type Reader struct {
	cardID       string
	name         string
	devicePath   string
	debugCardDir string
	hwmonPath    string
	now          func() time.Time
	logger       *slog.Logger
}

// ReaderOptions locate the card.
type ReaderOptions struct {
	CardID      string
	Name        string
	SysfsRoot   string
	DebugfsRoot string
	Logger      *slog.Logger
}

// NewReader constructs a Reader for the card named in opts (e.g. "card0").
func NewReader(opts ReaderOptions) (*Reader, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cardIndex, err := parseCardIndex(opts.CardID)
	if err != nil {
		return nil, err
	}

	devicePath := filepath.Join(opts.SysfsRoot, drmClassPath, opts.CardID, "device")
	if _, err := os.Stat(devicePath); err != nil {
		return nil, fmt.Errorf("stat device path: %w", err)
	}

	name := opts.Name
	if name == "" {
		name = opts.CardID
	}

	return &Reader{
		cardID:       opts.CardID,
		name:         name,
		devicePath:   devicePath,
		debugCardDir: filepath.Join(opts.DebugfsRoot, "dri", strconv.Itoa(cardIndex)),
		hwmonPath:    detectHwmon(devicePath),
		now:          time.Now,
		logger:       logger.With("card", opts.CardID),
	}, nil
}

// CardID returns the DRM card id this reader samples.
func (r *Reader) CardID() string {
	return r.cardID
}

// Sample collects metrics for the card. Read failures leave fields nil.
func (r *Reader) Sample() Sample {
	m := Metrics{
		GPUBusyPct:     r.readPercent(gpuBusyFilename),
		MemBusyPct:     r.readPercent(memBusyFilename),
		SCLKMHz:        r.readCurrentClock(ppDpmSclkFilename),
		MCLKMHz:        r.readCurrentClock(ppDpmMclkFilename),
		VRAMUsedBytes:  r.readUint(filepath.Join(r.devicePath, vramUsedFilename)),
		VRAMTotalBytes: r.readUint(filepath.Join(r.devicePath, vramTotalFilename)),
	}

	if r.hwmonPath != "" {
		m.TempC = r.readScaled(filepath.Join(r.hwmonPath, hwmonTempFile), 1000)
		m.PowerW = r.readScaled(filepath.Join(r.hwmonPath, hwmonPowerAverageFile), 1_000_000)
		if m.PowerW == nil {
			m.PowerW = r.readScaled(filepath.Join(r.hwmonPath, hwmonPowerInputFile), 1_000_000)
		}
	}

	if m.GPUBusyPct == nil || m.SCLKMHz == nil || m.MCLKMHz == nil || m.PowerW == nil || m.TempC == nil {
		info := r.readDebugFSInfo()
		m.GPUBusyPct = firstNonNil(m.GPUBusyPct, info.gpuLoad)
		m.SCLKMHz = firstNonNil(m.SCLKMHz, info.sclkMHz)
		m.MCLKMHz = firstNonNil(m.MCLKMHz, info.mclkMHz)
		m.PowerW = firstNonNil(m.PowerW, info.powerW)
		m.TempC = firstNonNil(m.TempC, info.tempC)
	}

	return Sample{
		CardID:    r.cardID,
		Name:      r.name,
		Timestamp: r.now(),
		Metrics:   m,
	}
}

func (r *Reader) readPercent(filename string) *float64 {
	value, err := readFloatValue(filepath.Join(r.devicePath, filename))
	if err != nil || value < 0 {
		return nil
	}
	if value > 100 {
		// Some kernels report busy % scaled by 100.
		value = math.Min(value/100, 100)
	}
	return &value
}

func (r *Reader) readCurrentClock(filename string) *float64 {
	raw, err := os.ReadFile(filepath.Join(r.devicePath, filename))
	if err != nil {
		return nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "*") {
			continue
		}
		if clock, ok := extractClockMHz(line); ok {
			return &clock
		}
	}
	return nil
}

func (r *Reader) readUint(path string) *uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil
	}
	value, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		r.logger.Debug("failed to parse uint value", "path", path, "value", text, "err", err)
		return nil
	}
	return &value
}

func (r *Reader) readScaled(path string, divisor float64) *float64 {
	value, err := readFloatValue(path)
	if err != nil {
		return nil
	}
	value /= divisor
	return &value
}

func readFloatValue(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, fmt.Errorf("empty value")
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return value, nil
}

type debugInfo struct {
	gpuLoad *float64
	sclkMHz *float64
	mclkMHz *float64
	tempC   *float64
	powerW  *float64
}

// readDebugFSInfo scrapes amdgpu_pm_info, whose layout varies by ASIC.
func (r *Reader) readDebugFSInfo() debugInfo {
	data, err := os.ReadFile(filepath.Join(r.debugCardDir, debugPmInfoFilename))
	if err != nil {
		return debugInfo{}
	}

	var info debugInfo
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		val, ok := extractFirstFloat(line)
		if !ok {
			continue
		}
		lower := strings.ToLower(line)

		switch {
		case strings.HasPrefix(lower, "sclk"), strings.HasPrefix(lower, "average gfxclk"):
			info.sclkMHz = &val
		case strings.HasPrefix(lower, "mclk"), strings.HasPrefix(lower, "average memclk"):
			info.mclkMHz = &val
		case strings.HasPrefix(lower, "gpu temperature"):
			info.tempC = &val
		case strings.HasPrefix(lower, "gpu power"), strings.HasPrefix(lower, "power:"):
			info.powerW = &val
		case strings.HasPrefix(lower, "gpu load"):
			info.gpuLoad = &val
		case strings.Contains(lower, "gpu load") && info.gpuLoad == nil:
			info.gpuLoad = &val
		}
	}

	return info
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

func parseCardIndex(cardID string) (int, error) {
	indexStr, ok := strings.CutPrefix(cardID, "card")
	if !ok {
		return 0, fmt.Errorf("invalid card id %q", cardID)
	}
	index, err := strconv.Atoi(indexStr)
	if err != nil {
		return 0, fmt.Errorf("parse card index: %w", err)
	}
	return index, nil
}

func extractClockMHz(line string) (float64, bool) {
	for _, field := range strings.Fields(line) {
		field = strings.ToLower(strings.TrimSuffix(field, "*"))
		valueStr, ok := strings.CutSuffix(field, "mhz")
		if !ok {
			continue
		}
		if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
			return value, true
		}
	}
	return 0, false
}

// extractFirstFloat returns the first number in line, ignoring thousands
// separators.
func extractFirstFloat(line string) (float64, bool) {
	var buf strings.Builder
	for _, r := range line {
		if unicode.IsDigit(r) || r == '.' || (r == '-' && buf.Len() == 0) {
			buf.WriteRune(r)
			continue
		}
		if buf.Len() > 0 {
			if r == ',' {
				continue
			}
			break
		}
	}
	if buf.Len() == 0 {
		return 0, false
	}
	value, err := strconv.ParseFloat(buf.String(), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

func firstNonNil(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
