package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Append writes row to the ledger at path. Parent directories are created
// as needed; the header is written only when the file is absent or empty.
// A single writer per ledger is assumed.
func Append(path string, row Row) (err error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create ledger dir: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat ledger: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.Write(row.Record()); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}
	return nil
}

// ReadStats counts what a read kept and dropped.
type ReadStats struct {
	Rows    int `json:"rows"`
	Skipped int `json:"skipped"`
}

// Read loads every parseable row of the ledger at path.
func Read(path string) ([]Row, ReadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ReadStats{}, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a ledger stream. Every schema column must be present in the
// header, in any order. Rows that are short (such as a partially written
// trailing line) or carry unparseable values are skipped and counted.
func Decode(r io.Reader) ([]Row, ReadStats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ReadStats{}, fmt.Errorf("%w: empty ledger", ErrMissingColumn)
		}
		return nil, ReadStats{}, fmt.Errorf("read header: %w", err)
	}
	cols, err := newColumnIndex(header)
	if err != nil {
		return nil, ReadStats{}, err
	}

	var (
		rows  []Row
		stats ReadStats
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
			return rows, stats, fmt.Errorf("read ledger: %w", err)
		}
		row, err := cols.decode(record)
		if err != nil {
			stats.Skipped++
			continue
		}
		rows = append(rows, row)
		stats.Rows++
	}
	return rows, stats, nil
}

type columnIndex struct {
	pos   map[string]int
	width int
}

func newColumnIndex(header []string) (columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, name := range header {
		pos[strings.TrimSpace(name)] = i
	}
	var missing []string
	width := 0
	for _, name := range Header {
		idx, ok := pos[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		width = max(width, idx+1)
	}
	if len(missing) > 0 {
		return columnIndex{}, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return columnIndex{pos: pos, width: width}, nil
}

func (c columnIndex) decode(record []string) (Row, error) {
	if len(record) < c.width {
		return Row{}, fmt.Errorf("short record: %d fields", len(record))
	}
	get := func(name string) string { return record[c.pos[name]] }

	var (
		row  Row
		errs []error
	)
	intField := func(name string, dst *int) {
		v, err := parseInt(get(name))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		*dst = v
	}
	floatField := func(name string, dst *float64) {
		v, err := parseFloat(get(name))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		*dst = v
	}

	ts, err := ParseTimestamp(get("timestamp"))
	if err != nil {
		errs = append(errs, err)
	}
	row.Timestamp = ts
	row.Host = get("host")
	row.Label = get("label")
	intField("k", &row.K)
	intField("n", &row.N)
	floatField("rate", &row.Rate)
	intField("m", &row.M)
	intField("num_codewords", &row.NumCodewords)
	floatField("ebno_db", &row.EbNoDB)
	intField("num_iter", &row.NumIter)
	intField("repeat", &row.Repeat)
	floatField("cpu_latency_s", &row.CPULatencyS)
	floatField("cpu_throughput_mbps", &row.CPUThroughputMbps)
	floatField("gpu_latency_s", &row.GPULatencyS)
	floatField("gpu_throughput_mbps", &row.GPUThroughputMbps)
	floatField("latency_speedup_cpu_over_gpu", &row.LatencySpeedup)
	floatField("throughput_speedup_gpu_over_cpu", &row.ThroughputSpeedup)

	if len(errs) > 0 {
		return Row{}, errors.Join(errs...)
	}
	return row, nil
}
