package device

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/skobkin/fecbench/internal/gpu"
)

// Accelerator selects whether the "gpu" target is registered.
type Accelerator string

const (
	AcceleratorAuto Accelerator = "auto"
	AcceleratorOn   Accelerator = "on"
	AcceleratorOff  Accelerator = "off"
)

// ParseAccelerator validates an accelerator mode string.
func ParseAccelerator(value string) (Accelerator, error) {
	switch mode := Accelerator(strings.ToLower(strings.TrimSpace(value))); mode {
	case "":
		return AcceleratorAuto, nil
	case AcceleratorAuto, AcceleratorOn, AcceleratorOff:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown accelerator mode %q (want auto, on or off)", value)
	}
}

// Factory opens a target. The returned closer may be nil.
type Factory func() (Target, io.Closer, error)

// Options configure the default registry.
type Options struct {
	CPU         CPUOptions
	Accelerator Accelerator
	SysfsRoot   string
	StreamDepth int
	Logger      *slog.Logger
}

// Registry maps target names to factories.
type Registry struct {
	factories map[string]Factory
	devices   []gpu.Info
	logger    *slog.Logger
}

// NewEmptyRegistry returns a registry with no targets.
func NewEmptyRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger.With("component", "device_registry"),
	}
}

// NewRegistry registers "cpu" and, depending on the accelerator mode and on
// what sysfs reports, "gpu".
func NewRegistry(opts Options) *Registry {
	reg := NewEmptyRegistry(opts.Logger)
	reg.Register("cpu", func() (Target, io.Closer, error) {
		return NewCPU(opts.CPU), nil, nil
	})

	mode := opts.Accelerator
	if mode == "" {
		mode = AcceleratorAuto
	}

	switch mode {
	case AcceleratorOff:
		reg.logger.Info("accelerator disabled")
		return reg
	case AcceleratorAuto:
		root := opts.SysfsRoot
		if root == "" {
			root = "/sys"
		}
		devices, err := gpu.Discover(root, opts.Logger)
		if err != nil {
			reg.logger.Warn("accelerator discovery failed", "err", err)
			return reg
		}
		if len(devices) == 0 {
			reg.logger.Info("no accelerator found", "sysfs_root", root)
			return reg
		}
		reg.devices = devices
		for _, info := range devices {
			reg.logger.Info("accelerator found", "id", info.ID, "name", info.Name, "pci", info.PCI)
		}
	}

	depth := opts.StreamDepth
	logger := opts.Logger
	reg.logger.Info("gpu target registered as an emulated async stream; decodes run on the host")
	reg.Register("gpu", func() (Target, io.Closer, error) {
		stream := NewStream("gpu", depth, logger)
		return stream, stream, nil
	})
	return reg
}

// Register adds or replaces a target factory.
func (r *Registry) Register(name string, factory Factory) {
	r.factories[name] = factory
}

// Names lists the registered targets in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Devices returns the accelerators found during discovery.
func (r *Registry) Devices() []gpu.Info {
	return append([]gpu.Info(nil), r.devices...)
}

// Open instantiates the named target. Unknown names wrap ErrUnavailable.
func (r *Registry) Open(name string) (Target, io.Closer, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnavailable, name)
	}
	target, closer, err := factory()
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: open %q: %v", ErrUnavailable, name, err)
	}
	return target, closer, nil
}
