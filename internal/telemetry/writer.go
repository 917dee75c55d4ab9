package telemetry

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"
)

// GPUExtraColumns are written after the required accelerator columns.
var GPUExtraColumns = []string{"name", "temperature.gpu", "memory.used [MiB]", "clocks.sm [MHz]"}

// GPULogWriter emits the accelerator CSV format understood by LoadGPULog.
type GPULogWriter struct {
	mu     sync.Mutex
	w      *csv.Writer
	header bool
}

// NewGPULogWriter writes to w. Set headerWritten when appending to a
// non-empty log.
func NewGPULogWriter(w io.Writer, headerWritten bool) *GPULogWriter {
	return &GPULogWriter{w: csv.NewWriter(w), header: headerWritten}
}

// Write appends one sample and flushes it.
func (g *GPULogWriter) Write(sample GPUSample) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.header {
		header := append([]string{ColumnTimestamp, ColumnUtilization, ColumnPowerDraw}, GPUExtraColumns...)
		if err := g.w.Write(header); err != nil {
			return fmt.Errorf("write gpu log header: %w", err)
		}
		g.header = true
	}

	record := []string{
		sample.Timestamp.Format(GPUTimestampLayout),
		strconv.FormatFloat(sample.UtilizationPct, 'f', 0, 64),
		strconv.FormatFloat(sample.PowerDrawW, 'f', 2, 64),
	}
	for _, col := range GPUExtraColumns {
		record = append(record, sample.Extra[col])
	}
	if err := g.w.Write(record); err != nil {
		return fmt.Errorf("write gpu sample: %w", err)
	}
	g.w.Flush()
	return g.w.Error()
}

// CPULogWriter emits pidstat-style lines understood by LoadCPULog.
type CPULogWriter struct {
	mu     sync.Mutex
	w      io.Writer
	host   string
	kernel string
	arch   string
	cpus   int
	banner bool
}

// CPULogInfo fills the banner line.
type CPULogInfo struct {
	Host   string
	Kernel string
	Arch   string
	CPUs   int
}

// NewCPULogWriter writes to w. The banner and a column header precede the
// first sample.
func NewCPULogWriter(w io.Writer, info CPULogInfo) *CPULogWriter {
	return &CPULogWriter{
		w:      w,
		host:   info.Host,
		kernel: info.Kernel,
		arch:   info.Arch,
		cpus:   info.CPUs,
	}
}

// WriteSamples writes one interval worth of samples. processor is the CPU
// each process last ran on, keyed by PID.
func (c *CPULogWriter) WriteSamples(at time.Time, samples []CPUSample, processor map[int]int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.banner {
		_, err := fmt.Fprintf(c.w, "Linux %s (%s) \t%s \t_%s_\t(%d CPU)\n\n",
			c.kernel, c.host, at.Format("01/02/2006"), c.arch, c.cpus)
		if err != nil {
			return fmt.Errorf("write cpu log banner: %w", err)
		}
		c.banner = true
	}

	if len(samples) == 0 {
		return nil
	}

	clock := at.Format("03:04:05 PM")
	if _, err := fmt.Fprintf(c.w, "%s   UID       PID    %%usr %%system  %%guest   %%wait    %%CPU   CPU  Command\n", clock); err != nil {
		return fmt.Errorf("write cpu log header: %w", err)
	}
	for _, s := range samples {
		_, err := fmt.Fprintf(c.w, "%s %5d %9d %7.2f %7.2f %7.2f %7.2f %7.2f %5d  %s\n",
			clock, s.UID, s.PID, s.UserPct, s.SystemPct, 0.0, 0.0, s.UserPct+s.SystemPct, processor[s.PID], s.Command)
		if err != nil {
			return fmt.Errorf("write cpu sample: %w", err)
		}
	}
	if _, err := io.WriteString(c.w, "\n"); err != nil {
		return fmt.Errorf("write cpu log: %w", err)
	}
	return nil
}
