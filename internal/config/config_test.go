package config

import (
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/skobkin/fecbench/internal/device"
	"github.com/skobkin/fecbench/internal/telemetry"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected ListenAddr %q", cfg.ListenAddr)
	}
	if cfg.SampleInterval != time.Second {
		t.Fatalf("unexpected SampleInterval %s", cfg.SampleInterval)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("unexpected LogLevel %v", cfg.LogLevel)
	}
	if cfg.SysfsRoot != "/sys" {
		t.Fatalf("unexpected SysfsRoot %q", cfg.SysfsRoot)
	}
	if cfg.ProcRoot != "/proc" {
		t.Fatalf("unexpected ProcRoot %q", cfg.ProcRoot)
	}
	if cfg.Accelerator != device.AcceleratorAuto {
		t.Fatalf("unexpected Accelerator %q", cfg.Accelerator)
	}
	if cfg.LedgerPath != "ldpc_sionna_spark.csv" {
		t.Fatalf("unexpected LedgerPath %q", cfg.LedgerPath)
	}
	if cfg.Influx.Enabled() {
		t.Fatalf("expected influx mirror disabled by default")
	}
	if cfg.Monitor.Marker != telemetry.DefaultMarker || cfg.Monitor.Marker != "python" {
		t.Fatalf("unexpected Monitor.Marker %q", cfg.Monitor.Marker)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("APP_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("APP_SAMPLE_INTERVAL", "500ms")
	t.Setenv("APP_ALLOWED_ORIGINS", "https://example.com, https://other.test")
	t.Setenv("APP_ENABLE_PROMETHEUS", "true")
	t.Setenv("APP_ENABLE_PPROF", "true")
	t.Setenv("APP_LOG_LEVEL", "debug")
	t.Setenv("APP_SYSFS_ROOT", "/tmp/sys")
	t.Setenv("APP_DEBUGFS_ROOT", "/tmp/debug")
	t.Setenv("APP_PROC_ROOT", "/tmp/proc")
	t.Setenv("APP_ACCELERATOR", "off")
	t.Setenv("APP_CPU_THREADS", "8")
	t.Setenv("APP_LEDGER_PATH", "/data/results.csv")
	t.Setenv("APP_INFLUX_URL", "http://influx:8086")
	t.Setenv("APP_INFLUX_TOKEN", "secret")
	t.Setenv("APP_INFLUX_ORG", "lab")
	t.Setenv("APP_INFLUX_BUCKET", "fec")
	t.Setenv("APP_WS_MAX_CLIENTS", "2048")
	t.Setenv("APP_WS_WRITE_TIMEOUT", "10s")
	t.Setenv("APP_WS_READ_TIMEOUT", "45s")
	t.Setenv("APP_MONITOR_MARKER", "fecbench")
	t.Setenv("APP_MONITOR_MAX_PIDS", "128")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Fatalf("ListenAddr override failed, got %q", cfg.ListenAddr)
	}
	if cfg.SampleInterval != 500*time.Millisecond {
		t.Fatalf("SampleInterval override failed, got %s", cfg.SampleInterval)
	}
	wantOrigins := []string{"https://example.com", "https://other.test"}
	if !reflect.DeepEqual(cfg.AllowedOrigins, wantOrigins) {
		t.Fatalf("AllowedOrigins mismatch: %+v", cfg.AllowedOrigins)
	}
	if !cfg.EnablePrometheus || !cfg.EnablePprof {
		t.Fatalf("feature toggles override failed: %+v", cfg)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel override failed, got %v", cfg.LogLevel)
	}
	if cfg.SysfsRoot != "/tmp/sys" || cfg.DebugfsRoot != "/tmp/debug" || cfg.ProcRoot != "/tmp/proc" {
		t.Fatalf("root overrides failed: %q %q %q", cfg.SysfsRoot, cfg.DebugfsRoot, cfg.ProcRoot)
	}
	if cfg.Accelerator != device.AcceleratorOff {
		t.Fatalf("Accelerator override failed, got %q", cfg.Accelerator)
	}
	if cfg.CPUThreads != 8 {
		t.Fatalf("CPUThreads override failed, got %d", cfg.CPUThreads)
	}
	if cfg.LedgerPath != "/data/results.csv" {
		t.Fatalf("LedgerPath override failed, got %q", cfg.LedgerPath)
	}
	wantInflux := InfluxConfig{URL: "http://influx:8086", Token: "secret", Org: "lab", Bucket: "fec"}
	if cfg.Influx != wantInflux {
		t.Fatalf("Influx override failed, got %+v", cfg.Influx)
	}
	if cfg.WS.MaxClients != 2048 {
		t.Fatalf("WS.MaxClients override failed, got %d", cfg.WS.MaxClients)
	}
	if cfg.WS.WriteTimeout != 10*time.Second {
		t.Fatalf("WS.WriteTimeout override failed, got %s", cfg.WS.WriteTimeout)
	}
	if cfg.WS.ReadTimeout != 45*time.Second {
		t.Fatalf("WS.ReadTimeout override failed, got %s", cfg.WS.ReadTimeout)
	}
	if cfg.Monitor.Marker != "fecbench" || cfg.Monitor.MaxPIDs != 128 {
		t.Fatalf("Monitor override failed, got %+v", cfg.Monitor)
	}
}

func TestLoadInvalidEnv(t *testing.T) {
	testCases := []struct {
		name string
		key  string
		val  string
	}{
		{"NegativeSampleInterval", "APP_SAMPLE_INTERVAL", "-1s"},
		{"InvalidOrigins", "APP_ALLOWED_ORIGINS", ","},
		{"InvalidPrometheusBool", "APP_ENABLE_PROMETHEUS", "maybe"},
		{"InvalidPprofBool", "APP_ENABLE_PPROF", "sometimes"},
		{"InvalidLogLevel", "APP_LOG_LEVEL", "loud"},
		{"InvalidAccelerator", "APP_ACCELERATOR", "turbo"},
		{"InvalidCPUThreads", "APP_CPU_THREADS", "all"},
		{"NegativeCPUThreads", "APP_CPU_THREADS", "-2"},
		{"InfluxWithoutBucket", "APP_INFLUX_URL", "http://influx:8086"},
		{"InvalidWSMaxClients", "APP_WS_MAX_CLIENTS", "zero"},
		{"NonPositiveWSMaxClients", "APP_WS_MAX_CLIENTS", "0"},
		{"InvalidWSWriteTimeout", "APP_WS_WRITE_TIMEOUT", "nope"},
		{"NegativeWSReadTimeout", "APP_WS_READ_TIMEOUT", "-1s"},
		{"NonPositiveMaxPIDs", "APP_MONITOR_MAX_PIDS", "0"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.val)
			}
		})
	}
}
