package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/skobkin/fecbench/internal/config"
	"github.com/skobkin/fecbench/internal/gpu"
	"github.com/skobkin/fecbench/internal/procscan"
	"github.com/skobkin/fecbench/internal/sampler"
	"github.com/skobkin/fecbench/internal/telemetry"
)

// ErrNoSampledAccelerator is returned when no card exposes sysfs telemetry.
var ErrNoSampledAccelerator = errors.New("no accelerator with sysfs telemetry found")

// OpenLog opens path for appending. "-" or "" selects stdout. existing
// reports whether the file already held data.
func OpenLog(path string) (w io.WriteCloser, existing bool, err error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, false, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, false, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, fmt.Errorf("stat log: %w", err)
	}
	return f, info.Size() > 0, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// RunGPUMonitor samples every AMD card under cfg.SysfsRoot each
// cfg.SampleInterval and writes the accelerator log to out until ctx is done.
// NVIDIA hosts produce the same log with nvidia-smi.
func RunGPUMonitor(ctx context.Context, baseLogger *slog.Logger, cfg config.Config, out io.Writer, headerWritten bool) error {
	logger := baseLogger.With("component", "gpu_monitor")

	devices, err := gpu.Discover(cfg.SysfsRoot, baseLogger.With("component", "gpu_discovery"))
	if err != nil {
		return fmt.Errorf("discover gpus: %w", err)
	}

	readers := make([]*sampler.Reader, 0, len(devices))
	for _, info := range devices {
		if !info.IsAMD() {
			logger.Info("skipping card without sysfs telemetry", "card", info.String(), "vendor", info.Vendor)
			continue
		}
		reader, err := sampler.NewReader(sampler.ReaderOptions{
			CardID:      info.ID,
			Name:        info.Name,
			SysfsRoot:   cfg.SysfsRoot,
			DebugfsRoot: cfg.DebugfsRoot,
			Logger:      baseLogger.With("component", "sampler_reader"),
		})
		if err != nil {
			logger.Warn("failed to initialise metrics reader", "card", info.ID, "err", err)
			continue
		}
		readers = append(readers, reader)
	}
	if len(readers) == 0 {
		return ErrNoSampledAccelerator
	}

	sink := sampler.NewLogSink(telemetry.NewGPULogWriter(out, headerWritten))
	manager, err := sampler.NewManager(cfg.SampleInterval, readers, sink, baseLogger)
	if err != nil {
		return fmt.Errorf("init sampler manager: %w", err)
	}

	err = manager.Run(ctx)
	if dropped := sink.Dropped(); dropped > 0 {
		logger.Warn("samples without utilization or power were not logged", "count", dropped)
	}
	return err
}

// RunCPUMonitor samples processes matching cfg.Monitor.Marker each
// cfg.SampleInterval and writes pidstat-style lines to out until ctx is done.
func RunCPUMonitor(ctx context.Context, baseLogger *slog.Logger, cfg config.Config, out io.Writer) error {
	writer := telemetry.NewCPULogWriter(out, telemetry.CPULogInfo{
		Host:   hostname(),
		Kernel: kernelRelease(cfg.ProcRoot),
		Arch:   pidstatArch(runtime.GOARCH),
		CPUs:   runtime.NumCPU(),
	})

	manager, err := procscan.NewManager(procscan.Options{
		ProcRoot: cfg.ProcRoot,
		Marker:   cfg.Monitor.Marker,
		Interval: cfg.SampleInterval,
		MaxPIDs:  cfg.Monitor.MaxPIDs,
		Logger:   baseLogger,
	}, procscan.NewLogSink(writer))
	if err != nil {
		return fmt.Errorf("init process scanner: %w", err)
	}
	return manager.Run(ctx)
}

func kernelRelease(procRoot string) string {
	data, err := os.ReadFile(filepath.Join(procRoot, "sys", "kernel", "osrelease"))
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(data))
}

// pidstatArch maps GOARCH to the uname machine names pidstat prints.
func pidstatArch(goarch string) string {
	switch goarch {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "386":
		return "i686"
	default:
		return goarch
	}
}
