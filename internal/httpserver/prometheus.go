package httpserver

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skobkin/fecbench/internal/ledger"
)

// ledgerCollector exports the most recently appended ledger row.
type ledgerCollector struct {
	feed    *Feed
	metrics []rowMetric
	skipped *prometheus.Desc
	dropped *prometheus.Desc
}

type rowMetric struct {
	desc    *prometheus.Desc
	extract func(row ledger.Row) (float64, bool)
}

func newLedgerCollector(feed *Feed) prometheus.Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName("fecbench", "ledger", name),
			help,
			[]string{"host"},
			nil,
		)
	}
	finite := func(v float64) (float64, bool) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	}

	return &ledgerCollector{
		feed: feed,
		metrics: []rowMetric{
			{
				desc:    desc("latest_cpu_throughput_mbps", "CPU decode throughput of the latest row."),
				extract: func(row ledger.Row) (float64, bool) { return finite(row.CPUThroughputMbps) },
			},
			{
				desc:    desc("latest_gpu_throughput_mbps", "GPU decode throughput of the latest row."),
				extract: func(row ledger.Row) (float64, bool) { return finite(row.GPUThroughputMbps) },
			},
			{
				desc:    desc("latest_cpu_latency_seconds", "CPU per-launch latency of the latest row."),
				extract: func(row ledger.Row) (float64, bool) { return finite(row.CPULatencyS) },
			},
			{
				desc:    desc("latest_gpu_latency_seconds", "GPU per-launch latency of the latest row."),
				extract: func(row ledger.Row) (float64, bool) { return finite(row.GPULatencyS) },
			},
			{
				desc:    desc("latest_throughput_speedup", "GPU over CPU throughput ratio of the latest row."),
				extract: func(row ledger.Row) (float64, bool) { return finite(row.ThroughputSpeedup) },
			},
			{
				desc:    desc("latest_num_iter", "Decoder iterations of the latest row."),
				extract: func(row ledger.Row) (float64, bool) { return float64(row.NumIter), true },
			},
			{
				desc:    desc("latest_num_codewords", "Batch size of the latest row."),
				extract: func(row ledger.Row) (float64, bool) { return float64(row.NumCodewords), true },
			},
			{
				desc: desc("latest_timestamp_seconds", "Unix timestamp of the latest row."),
				extract: func(row ledger.Row) (float64, bool) {
					if row.Timestamp.IsZero() {
						return 0, false
					}
					return float64(row.Timestamp.Unix()), true
				},
			},
			{
				desc: desc("latest_age_seconds", "Seconds elapsed since the latest row was written."),
				extract: func(row ledger.Row) (float64, bool) {
					if row.Timestamp.IsZero() {
						return 0, false
					}
					return math.Max(0, time.Since(row.Timestamp).Seconds()), true
				},
			},
		},
		skipped: prometheus.NewDesc(
			prometheus.BuildFQName("fecbench", "ledger", "rows_skipped"),
			"Ledger rows that failed to decode.",
			nil, nil,
		),
		dropped: prometheus.NewDesc(
			prometheus.BuildFQName("fecbench", "ledger", "feed_dropped_total"),
			"Rows dropped because a live subscriber fell behind.",
			nil, nil,
		),
	}
}

func (c *ledgerCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range c.metrics {
		ch <- metric.desc
	}
	ch <- c.skipped
	ch <- c.dropped
}

func (c *ledgerCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.skipped, prometheus.GaugeValue, float64(c.feed.Skipped()))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(c.feed.Dropped()))

	row, ok := c.feed.Latest()
	if !ok {
		return
	}
	for _, metric := range c.metrics {
		value, ok := metric.extract(row)
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(metric.desc, prometheus.GaugeValue, value, row.Host)
	}
}
