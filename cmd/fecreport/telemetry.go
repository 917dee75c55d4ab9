package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/spf13/pflag"

	"github.com/skobkin/fecbench/internal/telemetry"
)

const (
	defaultGPULog = "gpu_ldpc_sweep_stats.csv"
	defaultCPULog = "pid_ldpc_sweep_stats.log"
)

// telemetryFlags locate the two telemetry logs. Missing files are
// tolerated; the dependent statistics are then reported as nan.
type telemetryFlags struct {
	gpuLog string
	cpuLog string
	date   string
	marker string
}

func (f *telemetryFlags) register(flags *pflag.FlagSet, marker string) {
	flags.StringVar(&f.gpuLog, "gpu-log", defaultGPULog, "accelerator utilization CSV (nvidia-smi or telemon gpu)")
	flags.StringVar(&f.cpuLog, "cpu-log", defaultCPULog, "pidstat-style CPU log (pidstat or telemon cpu)")
	flags.StringVar(&f.date, "date", "", "calendar day of the CPU log, YYYY-MM-DD (default: log banner, then today)")
	flags.StringVar(&f.marker, "marker", marker, "command substring selecting CPU log lines")
}

type telemetryData struct {
	GPU []telemetry.GPUSample
	CPU []telemetry.CPUSample
}

func (f telemetryFlags) load(logger *slog.Logger) (telemetryData, error) {
	var data telemetryData

	if f.gpuLog != "" {
		samples, stats, err := telemetry.LoadGPULog(f.gpuLog)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Warn("gpu log not found, continuing without it", "path", f.gpuLog)
		case err != nil:
			return telemetryData{}, err
		default:
			logger.Info("gpu log loaded", "path", f.gpuLog, "records", stats.Records, "skipped", stats.Skipped)
			data.GPU = samples
		}
	}

	if f.cpuLog != "" {
		date, err := f.logDate(logger)
		if err != nil {
			return telemetryData{}, err
		}
		samples, stats, err := telemetry.LoadCPULog(f.cpuLog, telemetry.CPULogOptions{Marker: f.marker, Date: date})
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Warn("cpu log not found, continuing without it", "path", f.cpuLog)
		case err != nil:
			return telemetryData{}, err
		default:
			logger.Info("cpu log loaded", "path", f.cpuLog, "date", date.Format(time.DateOnly),
				"records", stats.Records, "skipped", stats.Skipped)
			if len(samples) == 0 {
				logger.Warn("no cpu log lines matched the marker", "marker", f.marker)
			}
			data.CPU = samples
		}
	}

	if len(data.GPU) > 0 && len(data.CPU) > 0 {
		if overlap := telemetry.CheckOverlap(data.GPU, data.CPU); !overlap.Overlaps {
			logger.Warn("gpu and cpu samples do not overlap; check --date",
				"gpu_start", overlap.GPU.Start, "gpu_end", overlap.GPU.End,
				"cpu_start", overlap.CPU.Start, "cpu_end", overlap.CPU.End)
		}
	}
	return data, nil
}

// logDate resolves the CPU log day: --date, the pidstat banner, then today.
func (f telemetryFlags) logDate(logger *slog.Logger) (time.Time, error) {
	if f.date != "" {
		date, err := time.ParseInLocation(time.DateOnly, f.date, time.Local)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse --date: %w", err)
		}
		return date, nil
	}

	date, ok, err := telemetry.LoadBannerDate(f.cpuLog)
	if err == nil && ok {
		return date, nil
	}
	today := time.Now()
	if !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("cpu log date unknown, assuming today", "date", today.Format(time.DateOnly))
	}
	return time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.Local), nil
}
