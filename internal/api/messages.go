package api

import (
	"math"
	"time"

	"github.com/skobkin/fecbench/internal/gpu"
	"github.com/skobkin/fecbench/internal/ledger"
	"github.com/skobkin/fecbench/internal/report"
	"github.com/skobkin/fecbench/internal/telemetry"
)

// Row is a ledger row for transport. Missing measurements are null.
type Row struct {
	Timestamp         time.Time `json:"timestamp"`
	Host              string    `json:"host"`
	Label             string    `json:"label"`
	K                 int       `json:"k"`
	N                 int       `json:"n"`
	Rate              *float64  `json:"rate"`
	M                 int       `json:"m"`
	NumCodewords      int       `json:"num_codewords"`
	EbNoDB            *float64  `json:"ebno_db"`
	NumIter           int       `json:"num_iter"`
	Repeat            int       `json:"repeat"`
	CPULatencyS       *float64  `json:"cpu_latency_s"`
	CPUThroughputMbps *float64  `json:"cpu_throughput_mbps"`
	GPULatencyS       *float64  `json:"gpu_latency_s"`
	GPUThroughputMbps *float64  `json:"gpu_throughput_mbps"`
	LatencySpeedup    *float64  `json:"latency_speedup_cpu_over_gpu"`
	ThroughputSpeedup *float64  `json:"throughput_speedup_gpu_over_cpu"`
}

// NewRow converts a ledger row.
func NewRow(row ledger.Row) Row {
	return Row{
		Timestamp:         row.Timestamp,
		Host:              row.Host,
		Label:             row.Label,
		K:                 row.K,
		N:                 row.N,
		Rate:              number(row.Rate),
		M:                 row.M,
		NumCodewords:      row.NumCodewords,
		EbNoDB:            number(row.EbNoDB),
		NumIter:           row.NumIter,
		Repeat:            row.Repeat,
		CPULatencyS:       number(row.CPULatencyS),
		CPUThroughputMbps: number(row.CPUThroughputMbps),
		GPULatencyS:       number(row.GPULatencyS),
		GPUThroughputMbps: number(row.GPUThroughputMbps),
		LatencySpeedup:    number(row.LatencySpeedup),
		ThroughputSpeedup: number(row.ThroughputSpeedup),
	}
}

// NewRows converts rows in order.
func NewRows(rows []ledger.Row) []Row {
	out := make([]Row, len(rows))
	for i, row := range rows {
		out[i] = NewRow(row)
	}
	return out
}

// Iteration is one per-num_iter aggregate.
type Iteration struct {
	NumIter           int      `json:"num_iter"`
	Rows              int      `json:"rows"`
	CPUThroughputMbps *float64 `json:"cpu_throughput_mbps"`
	GPUThroughputMbps *float64 `json:"gpu_throughput_mbps"`
	Speedup           *float64 `json:"speedup"`
}

// NewIterations converts aggregates in order.
func NewIterations(aggs []report.IterAggregate) []Iteration {
	out := make([]Iteration, len(aggs))
	for i, agg := range aggs {
		out[i] = Iteration{
			NumIter:           agg.NumIter,
			Rows:              agg.Rows,
			CPUThroughputMbps: number(agg.CPUThroughputMbps),
			GPUThroughputMbps: number(agg.GPUThroughputMbps),
			Speedup:           number(agg.Speedup),
		}
	}
	return out
}

// Summary is the headline statistics for transport.
type Summary struct {
	Rows        int      `json:"rows"`
	GPURows     int      `json:"gpu_rows"`
	MeanSpeedup *float64 `json:"mean_speedup"`

	CPUSamples       int      `json:"cpu_samples"`
	CPUActiveSamples int      `json:"cpu_active_samples"`
	MeanActiveCores  *float64 `json:"mean_active_cores"`
	MeanCores        *float64 `json:"mean_cores"`

	GPUSamples               int      `json:"gpu_samples"`
	GPUActiveSamples         int      `json:"gpu_active_samples"`
	MeanActiveUtilizationPct *float64 `json:"mean_active_utilization_pct"`
	MeanActivePowerW         *float64 `json:"mean_active_power_w"`

	Thresholds report.Thresholds `json:"thresholds"`
	Iterations []Iteration       `json:"iterations"`
	Overlap    telemetry.Overlap `json:"overlap"`
}

// NewSummary converts a report summary.
func NewSummary(s report.Summary) Summary {
	return Summary{
		Rows:                     s.Rows,
		GPURows:                  s.GPURows,
		MeanSpeedup:              number(s.MeanSpeedup),
		CPUSamples:               s.CPUSamples,
		CPUActiveSamples:         s.CPUActiveSamples,
		MeanActiveCores:          number(s.MeanActiveCores),
		MeanCores:                number(s.MeanCores),
		GPUSamples:               s.GPUSamples,
		GPUActiveSamples:         s.GPUActiveSamples,
		MeanActiveUtilizationPct: number(s.MeanActiveUtilizationPct),
		MeanActivePowerW:         number(s.MeanActivePowerW),
		Thresholds:               s.Thresholds,
		Iterations:               NewIterations(s.Iterations),
		Overlap:                  s.Overlap,
	}
}

// number maps NaN and infinities to null; encoding/json rejects them.
func number(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type     string          `json:"type"`
	Ledger   string          `json:"ledger"`
	Devices  []gpu.Info      `json:"devices"`
	Features map[string]bool `json:"features"`
	Summary  Summary         `json:"summary"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(ledgerPath string, devices []gpu.Info, features map[string]bool, summary report.Summary) HelloMessage {
	if devices == nil {
		devices = []gpu.Info{}
	}
	return HelloMessage{
		Type:     "hello",
		Ledger:   ledgerPath,
		Devices:  devices,
		Features: features,
		Summary:  NewSummary(summary),
	}
}

// RowMessage carries one appended ledger row.
type RowMessage struct {
	Type string `json:"type"`
	Row
}

// NewRowMessage constructs a row payload.
func NewRowMessage(row ledger.Row) RowMessage {
	return RowMessage{
		Type: "row",
		Row:  NewRow(row),
	}
}

// SummaryMessage answers a client "summary" request.
type SummaryMessage struct {
	Type string `json:"type"`
	Summary
}

// NewSummaryMessage constructs a summary payload.
func NewSummaryMessage(s report.Summary) SummaryMessage {
	return SummaryMessage{
		Type:    "summary",
		Summary: NewSummary(s),
	}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is a generic envelope used for decoding inbound client messages.
type ClientMessage struct {
	Type string `json:"type"`
}

// PongMessage is the response to a ping.
type PongMessage struct {
	Type string `json:"type"`
}
