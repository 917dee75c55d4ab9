package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skobkin/fecbench/internal/telemetry"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	t.Setenv("APP_LOG_LEVEL", "error")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestGPUAppendsToExistingLog(t *testing.T) {
	root := t.TempDir()
	devDir := filepath.Join(root, "class", "drm", "card0", "device")
	writeFile(t, filepath.Join(devDir, "uevent"), "DRIVER=amdgpu\nPCI_SLOT_NAME=0000:0a:00.0\nPCI_ID=1002:73DF\n")
	writeFile(t, filepath.Join(devDir, "gpu_busy_percent"), "70\n")
	writeFile(t, filepath.Join(devDir, "hwmon", "hwmon0", "power1_average"), "120000000\n")
	t.Setenv("APP_SYSFS_ROOT", root)
	t.Setenv("APP_DEBUGFS_ROOT", t.TempDir())

	logPath := filepath.Join(t.TempDir(), "gpu.csv")
	args := []string{"gpu", "--output", logPath, "--interval", "10ms", "--duration", "60ms"}
	require.NoError(t, execute(t, args...))
	require.NoError(t, execute(t, args...))

	f, err := os.Open(logPath)
	require.NoError(t, err)
	defer f.Close()

	samples, stats, err := telemetry.DecodeGPULog(f, time.Local)
	require.NoError(t, err)
	assert.Zero(t, stats.Skipped, "second run must not repeat the header")
	require.GreaterOrEqual(t, len(samples), 2)
	for _, s := range samples {
		assert.InDelta(t, 70, s.UtilizationPct, 1e-9)
		assert.InDelta(t, 120, s.PowerDrawW, 1e-9)
	}
}

func TestGPUFailsWithoutCards(t *testing.T) {
	t.Setenv("APP_SYSFS_ROOT", t.TempDir())
	err := execute(t, "gpu", "--output", filepath.Join(t.TempDir(), "gpu.csv"), "--duration", "10ms")
	assert.Error(t, err)
}

func TestCPURunsForDuration(t *testing.T) {
	t.Setenv("APP_PROC_ROOT", t.TempDir())
	logPath := filepath.Join(t.TempDir(), "pid.log")

	err := execute(t, "cpu", "--output", logPath, "--marker", "python", "--interval", "10ms", "--duration", "40ms")
	require.NoError(t, err)

	_, err = os.Stat(logPath)
	assert.NoError(t, err)
}
