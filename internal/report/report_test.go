package report

import (
	"bytes"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skobkin/fecbench/internal/ledger"
	"github.com/skobkin/fecbench/internal/telemetry"
)

var base = time.Date(2025, 11, 29, 22, 0, 0, 0, time.UTC)

func row(label string, iter int, at time.Duration, cpu, gpu float64) ledger.Row {
	r := ledger.Row{
		Timestamp:         base.Add(at),
		Label:             label,
		NumIter:           iter,
		CPUThroughputMbps: cpu,
		GPUThroughputMbps: gpu,
		CPULatencyS:       1,
		GPULatencyS:       math.NaN(),
		LatencySpeedup:    math.NaN(),
		ThroughputSpeedup: math.NaN(),
	}
	if !math.IsNaN(gpu) {
		r.GPULatencyS = 0.5
		r.ThroughputSpeedup = gpu / cpu
	}
	return r
}

func sampleRows() []ledger.Row {
	return []ledger.Row{
		row("rep0_N10_I20", 20, 1*time.Minute, 10, 40),
		row("rep0_N10_I5", 5, 2*time.Minute, 20, 100),
		row("rep1_N10_I5", 5, 3*time.Minute, 30, 120),
		row("rep1_N10_I20", 20, 4*time.Minute, 12, math.NaN()),
	}
}

func TestAggregateByIter(t *testing.T) {
	t.Parallel()

	aggs := AggregateByIter(sampleRows())
	require.Len(t, aggs, 2)

	assert.Equal(t, 5, aggs[0].NumIter)
	assert.Equal(t, 2, aggs[0].Rows)
	assert.InDelta(t, 25, aggs[0].CPUThroughputMbps, 1e-9)
	assert.InDelta(t, 110, aggs[0].GPUThroughputMbps, 1e-9)
	assert.InDelta(t, (5.0+4.0)/2, aggs[0].Speedup, 1e-9)

	assert.Equal(t, 20, aggs[1].NumIter)
	assert.InDelta(t, 11, aggs[1].CPUThroughputMbps, 1e-9)
	assert.InDelta(t, 40, aggs[1].GPUThroughputMbps, 1e-9)
	assert.InDelta(t, 4, aggs[1].Speedup, 1e-9)

	assert.Empty(t, AggregateByIter(nil))
}

func TestThresholdsAreStrict(t *testing.T) {
	t.Parallel()

	gpu := []telemetry.GPUSample{{UtilizationPct: 5}, {UtilizationPct: 5.01}, {UtilizationPct: 0}}
	cpu := []telemetry.CPUSample{{TotalPct: 50}, {TotalPct: 50.5}, {TotalPct: 300}}

	assert.Len(t, DefaultThresholds.ActiveGPU(gpu), 1)
	assert.Len(t, DefaultThresholds.ActiveCPU(cpu), 2)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	gpu := []telemetry.GPUSample{
		{Timestamp: base, UtilizationPct: 0, PowerDrawW: 5},
		{Timestamp: base.Add(time.Minute), UtilizationPct: 80, PowerDrawW: 30},
		{Timestamp: base.Add(2 * time.Minute), UtilizationPct: 90, PowerDrawW: 40},
	}
	cpu := []telemetry.CPUSample{
		{Timestamp: base.Add(30 * time.Second), TotalPct: 10, Cores: 0.1},
		{Timestamp: base.Add(90 * time.Second), TotalPct: 200, Cores: 2},
		{Timestamp: base.Add(150 * time.Second), TotalPct: 400, Cores: 4},
	}

	s := Summarize(sampleRows(), gpu, cpu, DefaultThresholds)
	assert.Equal(t, 4, s.Rows)
	assert.Equal(t, 3, s.GPURows)
	assert.InDelta(t, (4.0+5.0+4.0)/3, s.MeanSpeedup, 1e-9)
	assert.Equal(t, 2, s.CPUActiveSamples)
	assert.InDelta(t, 3, s.MeanActiveCores, 1e-9)
	assert.InDelta(t, 6.1/3, s.MeanCores, 1e-9)
	assert.Equal(t, 2, s.GPUActiveSamples)
	assert.InDelta(t, 85, s.MeanActiveUtilizationPct, 1e-9)
	assert.InDelta(t, 35, s.MeanActivePowerW, 1e-9)
	assert.True(t, s.Overlap.Overlaps)
}

func TestSummarizeWithoutTelemetry(t *testing.T) {
	t.Parallel()

	s := Summarize(sampleRows(), nil, nil, DefaultThresholds)
	assert.True(t, math.IsNaN(s.MeanActiveCores))
	assert.True(t, math.IsNaN(s.MeanActiveUtilizationPct))
	assert.False(t, s.Overlap.Overlaps)

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, s, 20))
	out := buf.String()
	assert.Contains(t, out, "Average GPU/CPU throughput speedup over all configs: 4.33×")
	assert.Contains(t, out, "n/a / 20")
	assert.NotContains(t, out, "WARNING")
}

func TestWriteSummaryWarnsOnDisjointTelemetry(t *testing.T) {
	t.Parallel()

	gpu := []telemetry.GPUSample{{Timestamp: base, UtilizationPct: 50, PowerDrawW: 10}}
	cpu := []telemetry.CPUSample{{Timestamp: base.AddDate(0, 0, -1), TotalPct: 100, Cores: 1}}

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, Summarize(nil, gpu, cpu, DefaultThresholds), 0))
	assert.Contains(t, buf.String(), "do not overlap")
	assert.Contains(t, buf.String(), "mean util=50.0%, mean power=10.00 W")
}

func TestAttribute(t *testing.T) {
	t.Parallel()

	rows := sampleRows()
	gpu := []telemetry.GPUSample{
		{Timestamp: base.Add(30 * time.Second), UtilizationPct: 10, PowerDrawW: 1},
		{Timestamp: base.Add(90 * time.Second), UtilizationPct: 20, PowerDrawW: 2},
		{Timestamp: base.Add(120 * time.Second), UtilizationPct: 40, PowerDrawW: 4},
		{Timestamp: base.Add(10 * time.Minute), UtilizationPct: 99, PowerDrawW: 9},
	}
	cpu := []telemetry.CPUSample{{Timestamp: base.Add(150 * time.Second), Cores: 3}}

	got := Attribute(rows, gpu, cpu)
	require.Len(t, got, 4)

	assert.Equal(t, "rep0_N10_I20", got[0].Label)
	assert.Equal(t, 1, got[0].GPUSamples)
	assert.InDelta(t, 10, got[0].MeanUtilization, 1e-9)

	// (1m, 2m] includes the sample exactly at 2m.
	assert.Equal(t, 2, got[1].GPUSamples)
	assert.InDelta(t, 30, got[1].MeanUtilization, 1e-9)
	assert.Equal(t, 0, got[1].CPUSamples)

	assert.Equal(t, 1, got[2].CPUSamples)
	assert.InDelta(t, 3, got[2].MeanCores, 1e-9)

	assert.Equal(t, 0, got[3].GPUSamples)
	assert.True(t, math.IsNaN(got[3].MeanPowerW))
}

func TestPlotsWritePNG(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	throughput := filepath.Join(dir, "figs", "throughput.png")
	util := filepath.Join(dir, "figs", "util.png")

	require.NoError(t, PlotThroughputVsIter(AggregateByIter(sampleRows()), throughput))

	gpu := []telemetry.GPUSample{{UtilizationPct: 50}, {UtilizationPct: 70}, {UtilizationPct: 2}}
	cpu := []telemetry.CPUSample{{TotalPct: 150, Cores: 1.5}, {TotalPct: 250, Cores: 2.5}}
	require.NoError(t, PlotUtilization(gpu, cpu, DefaultThresholds, util))

	for _, path := range []string{throughput, util} {
		f, err := os.Open(path)
		require.NoError(t, err)
		_, err = png.DecodeConfig(f)
		require.NoError(t, f.Close())
		require.NoErrorf(t, err, "%s is not a PNG", path)
	}
}

func TestPlotUtilizationWithoutActiveSamples(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "util.png")
	require.NoError(t, PlotUtilization(nil, nil, DefaultThresholds, path))
	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestCollectorSkipsNaN(t *testing.T) {
	t.Parallel()

	s := Summarize(sampleRows(), nil, nil, DefaultThresholds)
	c := NewCollector(func() Summary { return s })

	// 8 headline gauges minus 3 NaN telemetry means, plus 2 iterations x 3 series.
	assert.Equal(t, 5+6, testutil.CollectAndCount(c))
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fecbench.prom")
	require.NoError(t, WriteTextfile(path, Summarize(sampleRows(), nil, nil, DefaultThresholds)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "fecbench_sweep_rows 4")
	assert.Contains(t, text, `fecbench_sweep_iter_cpu_throughput_mbps{num_iter="5"} 25`)
	assert.False(t, strings.Contains(text, "fecbench_sweep_mean_active_cores "))
}
