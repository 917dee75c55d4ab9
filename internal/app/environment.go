package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/skobkin/fecbench/internal/gpu"
	"github.com/skobkin/fecbench/internal/version"
)

// Environment is the host banner printed before a benchmark.
type Environment struct {
	Host         string       `json:"host"`
	Time         time.Time    `json:"time"`
	OS           string       `json:"os"`
	Arch         string       `json:"arch"`
	CPUs         int          `json:"cpus"`
	Build        version.Info `json:"build"`
	Accelerators []gpu.Info   `json:"accelerators"`
}

// DetectEnvironment gathers host facts. Accelerator discovery failures are
// logged and leave the list empty.
func DetectEnvironment(sysfsRoot string, logger *slog.Logger) Environment {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	env := Environment{
		Host:  hostname(),
		Time:  time.Now(),
		OS:    runtime.GOOS,
		Arch:  runtime.GOARCH,
		CPUs:  runtime.NumCPU(),
		Build: version.Current(),
	}

	devices, err := gpu.Discover(sysfsRoot, logger.With("component", "gpu_discovery"))
	if err != nil {
		logger.Warn("accelerator discovery failed", "sysfs_root", sysfsRoot, "err", err)
		return env
	}
	env.Accelerators = devices
	return env
}

// Write prints the banner.
func (e Environment) Write(w io.Writer) error {
	p := &printer{w: w}
	p.printf("=== Environment ===\n")
	p.printf("Host      : %s\n", e.Host)
	p.printf("Datetime  : %s\n", e.Time.Format("2006-01-02T15:04:05"))
	p.printf("Build     : %s\n", e.Build.String())
	p.printf("Platform  : %s/%s, %d CPUs\n", e.OS, e.Arch, e.CPUs)
	if len(e.Accelerators) == 0 {
		p.printf("GPUs      : none\n")
	}
	for i, info := range e.Accelerators {
		prefix := "GPUs      :"
		if i > 0 {
			prefix = "           "
		}
		p.printf("%s %s\n", prefix, info.String())
	}
	p.printf("\n")
	return p.err
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown"
	}
	return name
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
