// Package telemetry loads accelerator and per-process CPU samples captured
// alongside a benchmark sweep.
package telemetry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingColumn is returned when an accelerator log lacks a required column.
var ErrMissingColumn = errors.New("telemetry log is missing a required column")

const (
	ColumnTimestamp   = "timestamp"
	ColumnUtilization = "utilization.gpu [%]"
	ColumnPowerDraw   = "power.draw [W]"
)

// GPUTimestampLayout is the accelerator log timestamp format. Parsing also
// accepts any number of fractional digits.
const GPUTimestampLayout = "2006/01/02 15:04:05.000"

// GPUSample is one accelerator poll.
type GPUSample struct {
	Timestamp      time.Time         `json:"timestamp"`
	UtilizationPct float64           `json:"utilization_pct"`
	PowerDrawW     float64           `json:"power_draw_w"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// LoadStats counts kept and dropped records.
type LoadStats struct {
	Records int `json:"records"`
	Skipped int `json:"skipped"`
}

// LoadGPULog reads an accelerator CSV log.
func LoadGPULog(path string) ([]GPUSample, LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("open gpu log: %w", err)
	}
	defer f.Close()
	return DecodeGPULog(f, time.Local)
}

// DecodeGPULog parses an accelerator CSV log. Header names are trimmed before
// lookup. Rows whose timestamp, utilization or power cannot be parsed are
// skipped, as are short rows such as a partially written last line.
func DecodeGPULog(r io.Reader, loc *time.Location) ([]GPUSample, LoadStats, error) {
	if loc == nil {
		loc = time.Local
	}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, LoadStats{}, fmt.Errorf("%w: empty log", ErrMissingColumn)
		}
		return nil, LoadStats{}, fmt.Errorf("read gpu log header: %w", err)
	}
	names := make([]string, len(header))
	pos := make(map[string]int, len(header))
	for i, name := range header {
		names[i] = strings.TrimSpace(name)
		pos[names[i]] = i
	}
	var missing []string
	for _, name := range []string{ColumnTimestamp, ColumnUtilization, ColumnPowerDraw} {
		if _, ok := pos[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, LoadStats{}, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	var (
		samples []GPUSample
		stats   LoadStats
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				stats.Skipped++
				continue
			}
			return samples, stats, fmt.Errorf("read gpu log: %w", err)
		}
		if len(record) < len(names) {
			stats.Skipped++
			continue
		}

		sample, err := decodeGPURecord(record, names, pos, loc)
		if err != nil {
			stats.Skipped++
			continue
		}
		samples = append(samples, sample)
		stats.Records++
	}
	return samples, stats, nil
}

func decodeGPURecord(record, names []string, pos map[string]int, loc *time.Location) (GPUSample, error) {
	ts, err := ParseGPUTimestamp(record[pos[ColumnTimestamp]], loc)
	if err != nil {
		return GPUSample{}, err
	}
	util, err := parseMeasurement(record[pos[ColumnUtilization]])
	if err != nil {
		return GPUSample{}, fmt.Errorf("utilization: %w", err)
	}
	power, err := parseMeasurement(record[pos[ColumnPowerDraw]])
	if err != nil {
		return GPUSample{}, fmt.Errorf("power: %w", err)
	}

	sample := GPUSample{Timestamp: ts, UtilizationPct: util, PowerDrawW: power}
	for i, name := range names {
		switch name {
		case ColumnTimestamp, ColumnUtilization, ColumnPowerDraw:
			continue
		}
		if sample.Extra == nil {
			sample.Extra = make(map[string]string, len(names)-3)
		}
		sample.Extra[name] = strings.TrimSpace(record[i])
	}
	return sample, nil
}

// ParseGPUTimestamp parses "YYYY/MM/DD HH:MM:SS.mmm" in loc.
func ParseGPUTimestamp(value string, loc *time.Location) (time.Time, error) {
	ts, err := time.ParseInLocation("2006/01/02 15:04:05", strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse gpu timestamp %q: %w", value, err)
	}
	return ts, nil
}

var unitSuffixes = []string{"%", "W", "MiB", "MHz", "C"}

// parseMeasurement accepts bare numbers and values carrying the unit
// suffix that the CSV "units" format appends, e.g. "45 %" or "12.50 W".
func parseMeasurement(value string) (float64, error) {
	value = strings.TrimSpace(value)
	for _, suffix := range unitSuffixes {
		if trimmed, ok := strings.CutSuffix(value, suffix); ok {
			value = strings.TrimSpace(trimmed)
			break
		}
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) {
		return 0, fmt.Errorf("not a number")
	}
	return v, nil
}
