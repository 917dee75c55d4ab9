package report

import (
	"fmt"
	"math"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type summaryMetric struct {
	desc    *prometheus.Desc
	extract func(Summary) float64
}

// Collector exports a Summary as Prometheus gauges. NaN values are omitted.
type Collector struct {
	source  func() Summary
	metrics []summaryMetric
	iterCPU *prometheus.Desc
	iterGPU *prometheus.Desc
	iterSpd *prometheus.Desc
}

// NewCollector reads the summary from source on every scrape.
func NewCollector(source func() Summary) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("fecbench", "sweep", name), help, labels, nil)
	}

	return &Collector{
		source: source,
		metrics: []summaryMetric{
			{desc("rows", "Ledger rows."), func(s Summary) float64 { return float64(s.Rows) }},
			{desc("gpu_rows", "Ledger rows carrying a GPU measurement."), func(s Summary) float64 { return float64(s.GPURows) }},
			{desc("mean_speedup", "Mean GPU/CPU throughput speedup."), func(s Summary) float64 { return s.MeanSpeedup }},
			{desc("cpu_active_samples", "CPU samples above the activity threshold."), func(s Summary) float64 { return float64(s.CPUActiveSamples) }},
			{desc("mean_active_cores", "Mean CPU cores used during active samples."), func(s Summary) float64 { return s.MeanActiveCores }},
			{desc("gpu_active_samples", "GPU samples above the activity threshold."), func(s Summary) float64 { return float64(s.GPUActiveSamples) }},
			{desc("gpu_active_utilization_percent", "Mean GPU utilization during active samples."), func(s Summary) float64 { return s.MeanActiveUtilizationPct }},
			{desc("gpu_active_power_watts", "Mean GPU power draw during active samples."), func(s Summary) float64 { return s.MeanActivePowerW }},
		},
		iterCPU: desc("iter_cpu_throughput_mbps", "Mean CPU throughput per decoder iteration count.", "num_iter"),
		iterGPU: desc("iter_gpu_throughput_mbps", "Mean GPU throughput per decoder iteration count.", "num_iter"),
		iterSpd: desc("iter_speedup", "Mean GPU/CPU throughput speedup per decoder iteration count.", "num_iter"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
	ch <- c.iterCPU
	ch <- c.iterGPU
	ch <- c.iterSpd
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source()
	for _, m := range c.metrics {
		emit(ch, m.desc, m.extract(s))
	}
	for _, it := range s.Iterations {
		iter := strconv.Itoa(it.NumIter)
		emit(ch, c.iterCPU, it.CPUThroughputMbps, iter)
		emit(ch, c.iterGPU, it.GPUThroughputMbps, iter)
		emit(ch, c.iterSpd, it.Speedup, iter)
	}
}

func emit(ch chan<- prometheus.Metric, desc *prometheus.Desc, value float64, labels ...string) {
	if math.IsNaN(value) {
		return
	}
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value, labels...)
}

// WriteTextfile writes the summary in the node-exporter textfile format.
func WriteTextfile(path string, s Summary) error {
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollector(func() Summary { return s })); err != nil {
		return fmt.Errorf("register summary collector: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return fmt.Errorf("write textfile: %w", err)
	}
	return nil
}
