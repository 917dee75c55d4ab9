package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Sink receives completed sweep points.
type Sink interface {
	Write(ctx context.Context, row Row) error
}

// FileSink appends rows to a ledger file.
type FileSink struct {
	Path string
}

func (s FileSink) Write(_ context.Context, row Row) error {
	return Append(s.Path, row)
}

// MultiSink writes to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, row Row) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Write(ctx, row); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BestEffort wraps a secondary sink so its failures are logged instead of
// returned.
func BestEffort(sink Sink, logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return bestEffort{sink: sink, logger: logger}
}

type bestEffort struct {
	sink   Sink
	logger *slog.Logger
}

func (b bestEffort) Write(ctx context.Context, row Row) error {
	if err := b.sink.Write(ctx, row); err != nil {
		b.logger.Warn("secondary sink write failed", "label", row.Label, "err", err)
	}
	return nil
}

// InfluxMeasurement is the measurement name used for mirrored rows.
const InfluxMeasurement = "fec_benchmark"

// InfluxOptions locate the InfluxDB bucket.
type InfluxOptions struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxMirror writes each row as a point to InfluxDB. It is a secondary
// copy; the CSV ledger stays authoritative.
type InfluxMirror struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInfluxMirror connects a blocking writer for the configured bucket.
func NewInfluxMirror(opts InfluxOptions) (*InfluxMirror, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("influx url must not be empty")
	}
	if opts.Org == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("influx org and bucket are required")
	}
	client := influxdb2.NewClient(opts.URL, opts.Token)
	return &InfluxMirror{
		client:   client,
		writeAPI: client.WriteAPIBlocking(opts.Org, opts.Bucket),
	}, nil
}

// NewInfluxMirrorWithAPI wraps an existing write API.
func NewInfluxMirrorWithAPI(writeAPI api.WriteAPIBlocking) *InfluxMirror {
	return &InfluxMirror{writeAPI: writeAPI}
}

func (m *InfluxMirror) Write(ctx context.Context, row Row) error {
	if err := m.writeAPI.WritePoint(ctx, Point(row)); err != nil {
		return fmt.Errorf("write influx point: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (m *InfluxMirror) Close() error {
	if m.client != nil {
		m.client.Close()
	}
	return nil
}

// Point converts a row to a line-protocol point. NaN measurements are
// omitted because InfluxDB rejects them.
func Point(row Row) *write.Point {
	p := influxdb2.NewPointWithMeasurement(InfluxMeasurement).
		AddTag("host", row.Host).
		AddTag("label", row.Label).
		AddTag("num_iter", strconv.Itoa(row.NumIter)).
		AddField("k", row.K).
		AddField("n", row.N).
		AddField("m", row.M).
		AddField("num_codewords", row.NumCodewords).
		AddField("repeat", row.Repeat).
		SetTime(row.Timestamp)

	floats := []struct {
		key   string
		value float64
	}{
		{"rate", row.Rate},
		{"ebno_db", row.EbNoDB},
		{"cpu_latency_s", row.CPULatencyS},
		{"cpu_throughput_mbps", row.CPUThroughputMbps},
		{"gpu_latency_s", row.GPULatencyS},
		{"gpu_throughput_mbps", row.GPUThroughputMbps},
		{"latency_speedup_cpu_over_gpu", row.LatencySpeedup},
		{"throughput_speedup_gpu_over_cpu", row.ThroughputSpeedup},
	}
	for _, f := range floats {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			continue
		}
		p.AddField(f.key, f.value)
	}
	return p
}
