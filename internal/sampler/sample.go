package sampler

import (
	"strconv"
	"time"

	"github.com/skobkin/fecbench/internal/telemetry"
)

// Sample represents a single telemetry snapshot for one card.
type Sample struct {
	CardID    string    `json:"card_id"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"ts"`
	Metrics   Metrics   `json:"metrics"`
}

// Metrics contains card telemetry values. Nil fields were unavailable.
type Metrics struct {
	GPUBusyPct     *float64 `json:"gpu_busy_pct"`
	MemBusyPct     *float64 `json:"mem_busy_pct"`
	SCLKMHz        *float64 `json:"sclk_mhz"`
	MCLKMHz        *float64 `json:"mclk_mhz"`
	TempC          *float64 `json:"temp_c"`
	PowerW         *float64 `json:"power_w"`
	VRAMUsedBytes  *uint64  `json:"vram_used_bytes"`
	VRAMTotalBytes *uint64  `json:"vram_total_bytes"`
}

// GPUSample converts the snapshot to an accelerator log record. It reports
// false when utilization or power is missing, since the log requires both.
func (s Sample) GPUSample() (telemetry.GPUSample, bool) {
	m := s.Metrics
	if m.GPUBusyPct == nil || m.PowerW == nil {
		return telemetry.GPUSample{}, false
	}

	extra := map[string]string{"name": s.Name}
	if m.TempC != nil {
		extra["temperature.gpu"] = strconv.FormatFloat(*m.TempC, 'f', 0, 64)
	}
	if m.VRAMUsedBytes != nil {
		extra["memory.used [MiB]"] = strconv.FormatUint(*m.VRAMUsedBytes>>20, 10)
	}
	if m.SCLKMHz != nil {
		extra["clocks.sm [MHz]"] = strconv.FormatFloat(*m.SCLKMHz, 'f', 0, 64)
	}

	return telemetry.GPUSample{
		Timestamp:      s.Timestamp,
		UtilizationPct: *m.GPUBusyPct,
		PowerDrawW:     *m.PowerW,
		Extra:          extra,
	}, true
}
