package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/skobkin/fecbench/internal/device"
	"github.com/skobkin/fecbench/internal/telemetry"
)

// Config represents runtime configuration sourced from environment variables.
// CLI flags override individual fields per command.
type Config struct {
	LogLevel         slog.Level
	ListenAddr       string
	AllowedOrigins   []string
	EnablePrometheus bool
	EnablePprof      bool
	SysfsRoot        string
	DebugfsRoot      string
	ProcRoot         string
	SampleInterval   time.Duration
	Accelerator      device.Accelerator
	CPUThreads       int
	LedgerPath       string
	Influx           InfluxConfig
	WS               WebsocketConfig
	Monitor          MonitorConfig
}

// InfluxConfig locates the optional InfluxDB mirror. It is enabled when URL is set.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Enabled reports whether rows should be mirrored to InfluxDB.
func (c InfluxConfig) Enabled() bool {
	return c.URL != ""
}

// WebsocketConfig captures tunables for the dashboard live feed.
type WebsocketConfig struct {
	MaxClients   int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// MonitorConfig tunes the per-process CPU collector.
type MonitorConfig struct {
	Marker  string
	MaxPIDs int
}

// Load parses configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		LogLevel:         slog.LevelInfo,
		ListenAddr:       ":8080",
		AllowedOrigins:   []string{"*"},
		EnablePrometheus: false,
		EnablePprof:      false,
		SysfsRoot:        "/sys",
		DebugfsRoot:      "/sys/kernel/debug",
		ProcRoot:         "/proc",
		SampleInterval:   time.Second,
		Accelerator:      device.AcceleratorAuto,
		LedgerPath:       "ldpc_sionna_spark.csv",
		WS: WebsocketConfig{
			MaxClients:   1024,
			WriteTimeout: 3 * time.Second,
			ReadTimeout:  30 * time.Second,
		},
		Monitor: MonitorConfig{
			Marker:  telemetry.DefaultMarker,
			MaxPIDs: 5000,
		},
	}

	if value := env("APP_LOG_LEVEL"); value != "" {
		level, err := parseLogLevel(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	if value := env("APP_LISTEN_ADDR"); value != "" {
		cfg.ListenAddr = value
	}

	if value := env("APP_ALLOWED_ORIGINS"); value != "" {
		origins := splitAndTrim(value, ",")
		if len(origins) == 0 {
			return Config{}, fmt.Errorf("APP_ALLOWED_ORIGINS must not be empty")
		}
		cfg.AllowedOrigins = origins
	}

	var err error
	if cfg.EnablePrometheus, err = boolEnv("APP_ENABLE_PROMETHEUS", cfg.EnablePrometheus); err != nil {
		return Config{}, err
	}
	if cfg.EnablePprof, err = boolEnv("APP_ENABLE_PPROF", cfg.EnablePprof); err != nil {
		return Config{}, err
	}

	if value := env("APP_SYSFS_ROOT"); value != "" {
		cfg.SysfsRoot = value
	}
	if value := env("APP_DEBUGFS_ROOT"); value != "" {
		cfg.DebugfsRoot = value
	}
	if value := env("APP_PROC_ROOT"); value != "" {
		cfg.ProcRoot = value
	}

	if cfg.SampleInterval, err = positiveDurationEnv("APP_SAMPLE_INTERVAL", cfg.SampleInterval); err != nil {
		return Config{}, err
	}

	if value := env("APP_ACCELERATOR"); value != "" {
		mode, err := device.ParseAccelerator(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_ACCELERATOR: %w", err)
		}
		cfg.Accelerator = mode
	}

	if value := env("APP_CPU_THREADS"); value != "" {
		threads, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_CPU_THREADS: %w", err)
		}
		if threads < 0 {
			return Config{}, fmt.Errorf("APP_CPU_THREADS must be >= 0")
		}
		cfg.CPUThreads = threads
	}

	if value := env("APP_LEDGER_PATH"); value != "" {
		cfg.LedgerPath = value
	}

	cfg.Influx = InfluxConfig{
		URL:    env("APP_INFLUX_URL"),
		Token:  env("APP_INFLUX_TOKEN"),
		Org:    env("APP_INFLUX_ORG"),
		Bucket: env("APP_INFLUX_BUCKET"),
	}
	if cfg.Influx.Enabled() && (cfg.Influx.Org == "" || cfg.Influx.Bucket == "") {
		return Config{}, fmt.Errorf("APP_INFLUX_ORG and APP_INFLUX_BUCKET are required when APP_INFLUX_URL is set")
	}

	if cfg.WS.MaxClients, err = positiveIntEnv("APP_WS_MAX_CLIENTS", cfg.WS.MaxClients); err != nil {
		return Config{}, err
	}
	if cfg.WS.WriteTimeout, err = positiveDurationEnv("APP_WS_WRITE_TIMEOUT", cfg.WS.WriteTimeout); err != nil {
		return Config{}, err
	}
	if cfg.WS.ReadTimeout, err = positiveDurationEnv("APP_WS_READ_TIMEOUT", cfg.WS.ReadTimeout); err != nil {
		return Config{}, err
	}

	if value := env("APP_MONITOR_MARKER"); value != "" {
		cfg.Monitor.Marker = value
	}
	if cfg.Monitor.MaxPIDs, err = positiveIntEnv("APP_MONITOR_MAX_PIDS", cfg.Monitor.MaxPIDs); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// NewLogger builds the text logger used by every command.
func (c Config) NewLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: c.LogLevel}))
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func boolEnv(key string, def bool) (bool, error) {
	value := env(key)
	if value == "" {
		return def, nil
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return enabled, nil
}

func positiveIntEnv(key string, def int) (int, error) {
	value := env(key)
	if value == "" {
		return def, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return n, nil
}

func positiveDurationEnv(key string, def time.Duration) (time.Duration, error) {
	value := env(key)
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return d, nil
}

func splitAndTrim(value, sep string) []string {
	raw := strings.Split(value, sep)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
