// Package ledger implements the append-only benchmark results CSV.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/skobkin/fecbench/internal/bench"
	"github.com/skobkin/fecbench/internal/chain"
)

// ErrMissingColumn is returned when a ledger lacks a schema column.
var ErrMissingColumn = errors.New("ledger is missing a required column")

// TimestampLayout is the local-time, second-precision timestamp format.
const TimestampLayout = "2006-01-02T15:04:05"

// Header is the fixed column order of the ledger.
var Header = []string{
	"timestamp",
	"host",
	"label",
	"k",
	"n",
	"rate",
	"m",
	"num_codewords",
	"ebno_db",
	"num_iter",
	"repeat",
	"cpu_latency_s",
	"cpu_throughput_mbps",
	"gpu_latency_s",
	"gpu_throughput_mbps",
	"latency_speedup_cpu_over_gpu",
	"throughput_speedup_gpu_over_cpu",
}

// Row is one sweep point.
type Row struct {
	Timestamp         time.Time `json:"timestamp"`
	Host              string    `json:"host"`
	Label             string    `json:"label"`
	K                 int       `json:"k"`
	N                 int       `json:"n"`
	Rate              float64   `json:"rate"`
	M                 int       `json:"m"`
	NumCodewords      int       `json:"num_codewords"`
	EbNoDB            float64   `json:"ebno_db"`
	NumIter           int       `json:"num_iter"`
	Repeat            int       `json:"repeat"`
	CPULatencyS       float64   `json:"cpu_latency_s"`
	CPUThroughputMbps float64   `json:"cpu_throughput_mbps"`
	GPULatencyS       float64   `json:"gpu_latency_s"`
	GPUThroughputMbps float64   `json:"gpu_throughput_mbps"`
	LatencySpeedup    float64   `json:"latency_speedup_cpu_over_gpu"`
	ThroughputSpeedup float64   `json:"throughput_speedup_gpu_over_cpu"`
}

// Meta carries the non-measured row fields.
type Meta struct {
	Timestamp    time.Time
	Host         string
	Label        string
	Config       chain.Config
	NumCodewords int
	EbNoDB       float64
	Repeat       int
}

// NewRow assembles a row. gpu is nil when the accelerator was skipped or
// unavailable; its fields and both speedups are then NaN.
func NewRow(meta Meta, cpu bench.Timing, gpu *bench.Timing) Row {
	row := Row{
		Timestamp:         meta.Timestamp,
		Host:              meta.Host,
		Label:             meta.Label,
		K:                 meta.Config.K,
		N:                 meta.Config.N(),
		Rate:              meta.Config.Rate,
		M:                 meta.Config.M,
		NumCodewords:      meta.NumCodewords,
		EbNoDB:            meta.EbNoDB,
		NumIter:           meta.Config.NumIter,
		Repeat:            meta.Repeat,
		CPULatencyS:       cpu.LatencyS,
		CPUThroughputMbps: cpu.ThroughputMbps,
		GPULatencyS:       math.NaN(),
		GPUThroughputMbps: math.NaN(),
	}
	if gpu != nil {
		row.GPULatencyS = gpu.LatencyS
		row.GPUThroughputMbps = gpu.ThroughputMbps
	}
	row.LatencySpeedup, row.ThroughputSpeedup = Speedups(cpu, gpu)
	return row
}

// Speedups returns CPU/GPU latency and GPU/CPU throughput ratios. Both are
// NaN unless the GPU timing is present with positive latency and the CPU
// throughput is positive.
func Speedups(cpu bench.Timing, gpu *bench.Timing) (latency, throughput float64) {
	if gpu == nil || !(gpu.LatencyS > 0) || !(cpu.ThroughputMbps > 0) {
		return math.NaN(), math.NaN()
	}
	return cpu.LatencyS / gpu.LatencyS, gpu.ThroughputMbps / cpu.ThroughputMbps
}

// HasGPU reports whether the row carries an accelerator measurement.
func (r Row) HasGPU() bool {
	return !math.IsNaN(r.GPULatencyS) || !math.IsNaN(r.GPUThroughputMbps)
}

// Record renders the row in Header order.
func (r Row) Record() []string {
	return []string{
		r.Timestamp.Format(TimestampLayout),
		r.Host,
		r.Label,
		strconv.Itoa(r.K),
		strconv.Itoa(r.N),
		formatFloat(r.Rate),
		strconv.Itoa(r.M),
		strconv.Itoa(r.NumCodewords),
		formatFloat(r.EbNoDB),
		strconv.Itoa(r.NumIter),
		strconv.Itoa(r.Repeat),
		formatFloat(r.CPULatencyS),
		formatFloat(r.CPUThroughputMbps),
		formatFloat(r.GPULatencyS),
		formatFloat(r.GPUThroughputMbps),
		formatFloat(r.LatencySpeedup),
		formatFloat(r.ThroughputSpeedup),
	}
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseFloat(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(value, 64)
}

func parseInt(value string) (int, error) {
	value = strings.TrimSpace(value)
	if n, err := strconv.Atoi(value); err == nil {
		return n, nil
	}
	// Tools that round-trip the ledger through float columns write "20.0".
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("parse int %q", value)
	}
	return int(f), nil
}

var timestampLayouts = []string{
	TimestampLayout,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// ParseTimestamp accepts the ledger layout plus common ISO-8601 variants.
// Zone-less values are interpreted in local time.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q", value)
}
