// Package report correlates ledger rows with telemetry and renders the
// sweep summary.
package report

import (
	"math"
	"sort"
	"time"

	"github.com/skobkin/fecbench/internal/ledger"
	"github.com/skobkin/fecbench/internal/telemetry"
)

// IterAggregate holds per-iteration-count means. NaN inputs are skipped; a
// mean with no finite inputs is NaN.
type IterAggregate struct {
	NumIter           int     `json:"num_iter"`
	Rows              int     `json:"rows"`
	CPUThroughputMbps float64 `json:"cpu_throughput_mbps"`
	GPUThroughputMbps float64 `json:"gpu_throughput_mbps"`
	Speedup           float64 `json:"speedup"`
}

// AggregateByIter groups rows by num_iter, ascending.
func AggregateByIter(rows []ledger.Row) []IterAggregate {
	type acc struct {
		rows          int
		cpu, gpu, spd mean
	}
	groups := make(map[int]*acc)
	for _, row := range rows {
		a, ok := groups[row.NumIter]
		if !ok {
			a = &acc{}
			groups[row.NumIter] = a
		}
		a.rows++
		a.cpu.add(row.CPUThroughputMbps)
		a.gpu.add(row.GPUThroughputMbps)
		a.spd.add(row.ThroughputSpeedup)
	}

	out := make([]IterAggregate, 0, len(groups))
	for iter, a := range groups {
		out = append(out, IterAggregate{
			NumIter:           iter,
			Rows:              a.rows,
			CPUThroughputMbps: a.cpu.value(),
			GPUThroughputMbps: a.gpu.value(),
			Speedup:           a.spd.value(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NumIter < out[j].NumIter })
	return out
}

// Thresholds define when a telemetry sample counts as active.
type Thresholds struct {
	GPUUtilizationPct float64 `json:"gpu_utilization_pct"`
	CPUTotalPct       float64 `json:"cpu_total_pct"`
}

// DefaultThresholds: utilization above 5% and more than half a core.
var DefaultThresholds = Thresholds{GPUUtilizationPct: 5, CPUTotalPct: 50}

// ActiveGPU returns the samples whose utilization is strictly above the threshold.
func (t Thresholds) ActiveGPU(samples []telemetry.GPUSample) []telemetry.GPUSample {
	var out []telemetry.GPUSample
	for _, s := range samples {
		if s.UtilizationPct > t.GPUUtilizationPct {
			out = append(out, s)
		}
	}
	return out
}

// ActiveCPU returns the samples whose total CPU percentage is strictly above the threshold.
func (t Thresholds) ActiveCPU(samples []telemetry.CPUSample) []telemetry.CPUSample {
	var out []telemetry.CPUSample
	for _, s := range samples {
		if s.TotalPct > t.CPUTotalPct {
			out = append(out, s)
		}
	}
	return out
}

// Summary is the correlated view of one sweep.
type Summary struct {
	Rows        int     `json:"rows"`
	GPURows     int     `json:"gpu_rows"`
	MeanSpeedup float64 `json:"mean_speedup"`

	CPUSamples       int     `json:"cpu_samples"`
	CPUActiveSamples int     `json:"cpu_active_samples"`
	MeanActiveCores  float64 `json:"mean_active_cores"`
	MeanCores        float64 `json:"mean_cores"`

	GPUSamples               int     `json:"gpu_samples"`
	GPUActiveSamples         int     `json:"gpu_active_samples"`
	MeanActiveUtilizationPct float64 `json:"mean_active_utilization_pct"`
	MeanActivePowerW         float64 `json:"mean_active_power_w"`

	Thresholds Thresholds        `json:"thresholds"`
	Iterations []IterAggregate   `json:"iterations"`
	Overlap    telemetry.Overlap `json:"overlap"`
}

// Summarize computes the headline statistics. Either telemetry slice may be
// empty; the dependent fields are then NaN.
func Summarize(rows []ledger.Row, gpu []telemetry.GPUSample, cpu []telemetry.CPUSample, th Thresholds) Summary {
	s := Summary{
		Rows:       len(rows),
		Thresholds: th,
		Iterations: AggregateByIter(rows),
		CPUSamples: len(cpu),
		GPUSamples: len(gpu),
		Overlap:    telemetry.CheckOverlap(gpu, cpu),
	}

	var speedup mean
	for _, row := range rows {
		if row.HasGPU() {
			s.GPURows++
		}
		speedup.add(row.ThroughputSpeedup)
	}
	s.MeanSpeedup = speedup.value()

	var cores, activeCores mean
	for _, sample := range cpu {
		cores.add(sample.Cores)
	}
	active := th.ActiveCPU(cpu)
	for _, sample := range active {
		activeCores.add(sample.Cores)
	}
	s.CPUActiveSamples = len(active)
	s.MeanCores = cores.value()
	s.MeanActiveCores = activeCores.value()

	var util, power mean
	activeGPU := th.ActiveGPU(gpu)
	for _, sample := range activeGPU {
		util.add(sample.UtilizationPct)
		power.add(sample.PowerDrawW)
	}
	s.GPUActiveSamples = len(activeGPU)
	s.MeanActiveUtilizationPct = util.value()
	s.MeanActivePowerW = power.value()

	return s
}

// RowTelemetry is the telemetry observed while one ledger row was produced.
type RowTelemetry struct {
	Label           string    `json:"label"`
	NumIter         int       `json:"num_iter"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	GPUSamples      int       `json:"gpu_samples"`
	CPUSamples      int       `json:"cpu_samples"`
	MeanUtilization float64   `json:"mean_utilization_pct"`
	MeanPowerW      float64   `json:"mean_power_w"`
	MeanCores       float64   `json:"mean_cores"`
}

// Attribute assigns samples to ledger rows. A row is written when its point
// finishes, so its window is (previous row timestamp, row timestamp]; the
// first row's window opens at the earliest sample.
func Attribute(rows []ledger.Row, gpu []telemetry.GPUSample, cpu []telemetry.CPUSample) []RowTelemetry {
	sorted := append([]ledger.Row(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	out := make([]RowTelemetry, len(sorted))
	var start time.Time
	for i, row := range sorted {
		rt := RowTelemetry{Label: row.Label, NumIter: row.NumIter, Start: start, End: row.Timestamp}
		var util, power, cores mean
		for _, s := range gpu {
			if inWindow(s.Timestamp, start, row.Timestamp, i == 0) {
				rt.GPUSamples++
				util.add(s.UtilizationPct)
				power.add(s.PowerDrawW)
			}
		}
		for _, s := range cpu {
			if inWindow(s.Timestamp, start, row.Timestamp, i == 0) {
				rt.CPUSamples++
				cores.add(s.Cores)
			}
		}
		rt.MeanUtilization = util.value()
		rt.MeanPowerW = power.value()
		rt.MeanCores = cores.value()
		out[i] = rt
		start = row.Timestamp
	}
	return out
}

func inWindow(ts, start, end time.Time, open bool) bool {
	if ts.After(end) {
		return false
	}
	return open || ts.After(start)
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	m.sum += v
	m.n++
}

func (m mean) value() float64 {
	if m.n == 0 {
		return math.NaN()
	}
	return m.sum / float64(m.n)
}
