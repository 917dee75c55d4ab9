package procscan

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/skobkin/fecbench/internal/telemetry"
)

func TestCollectorMatchesMarker(t *testing.T) {
	root := t.TempDir()
	writeProc(t, root, procEntry{pid: 1234, comm: "python3", cmdline: "python3\x00bench.py\x00", uid: 1000, utime: 100, stime: 20, processor: 3})
	writeProc(t, root, procEntry{pid: 1300, comm: "bash", cmdline: "/bin/bash\x00", uid: 0, utime: 5, stime: 5})
	writeProc(t, root, procEntry{pid: 1400, comm: "pt_main_thread", cmdline: "/usr/bin/python\x00train.py\x00", uid: 1000, utime: 7, stime: 1})

	coll, err := newCollector(root, "python", 0, nil)
	if err != nil {
		t.Fatalf("newCollector: %v", err)
	}
	coll.userCache[1000] = "alice"

	raws, err := coll.collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(raws) != 2 {
		t.Fatalf("expected 2 matching processes, got %d: %+v", len(raws), raws)
	}

	byPID := make(map[int]rawProcess)
	for _, raw := range raws {
		byPID[raw.pid] = raw
	}
	first := byPID[1234]
	if first.name != "python3" || first.command != "python3 bench.py" || first.user != "alice" {
		t.Fatalf("unexpected identity %+v", first)
	}
	if first.utime != 100 || first.stime != 20 || first.processor != 3 {
		t.Fatalf("unexpected counters %+v", first)
	}
	if _, ok := byPID[1400]; !ok {
		t.Fatalf("expected cmdline match for renamed thread")
	}
}

func TestManagerComputesPercentages(t *testing.T) {
	root := t.TempDir()
	entry := procEntry{pid: 1234, comm: "python3", cmdline: "python3\x00", uid: 1000, utime: 100, stime: 20, start: 555, processor: 2}
	writeProc(t, root, entry)

	var snaps []Snapshot
	sink := sinkFunc(func(s Snapshot) error { snaps = append(snaps, s); return nil })
	manager, err := NewManager(Options{ProcRoot: root, Marker: "python", Interval: time.Second}, sink)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	manager.collector.userCache[1000] = "alice"

	first := time.Date(2025, 3, 1, 10, 0, 0, 0, time.Local)
	if err := manager.performScan(first); err != nil {
		t.Fatalf("performScan: %v", err)
	}
	if len(snaps) != 0 {
		t.Fatalf("first scan must only prime counters")
	}
	if !manager.Ready() {
		t.Fatalf("expected manager ready after first scan")
	}

	// Two seconds later: +300 user ticks and +40 system ticks.
	entry.utime, entry.stime = 400, 60
	writeProc(t, root, entry)
	if err := manager.performScan(first.Add(2 * time.Second)); err != nil {
		t.Fatalf("performScan: %v", err)
	}

	if len(snaps) != 1 || len(snaps[0].Processes) != 1 {
		t.Fatalf("unexpected snapshots %+v", snaps)
	}
	p := snaps[0].Processes[0]
	if p.UserPct != 150 || p.SystemPct != 20 || p.Processor != 2 {
		t.Fatalf("unexpected percentages %+v", p)
	}
	sample := p.CPUSample(snaps[0].Timestamp)
	if sample.TotalPct != 170 || sample.Cores != 1.7 {
		t.Fatalf("unexpected cpu sample %+v", sample)
	}
	if latest, ok := manager.Latest(); !ok || len(latest.Processes) != 1 {
		t.Fatalf("Latest did not return snapshot: %+v", latest)
	}
}

func TestManagerIgnoresReusedPID(t *testing.T) {
	root := t.TempDir()
	entry := procEntry{pid: 1234, comm: "python3", uid: 1000, utime: 100, start: 1}
	writeProc(t, root, entry)

	var snaps []Snapshot
	manager, err := NewManager(Options{ProcRoot: root, Marker: "python", Interval: time.Second},
		sinkFunc(func(s Snapshot) error { snaps = append(snaps, s); return nil }))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	now := time.Now()
	if err := manager.performScan(now); err != nil {
		t.Fatalf("performScan: %v", err)
	}
	entry.start, entry.utime = 2, 5
	writeProc(t, root, entry)
	if err := manager.performScan(now.Add(time.Second)); err != nil {
		t.Fatalf("performScan: %v", err)
	}
	if len(snaps) != 1 || len(snaps[0].Processes) != 0 {
		t.Fatalf("expected empty interval for a new process behind a reused pid, got %+v", snaps)
	}
}

func TestLogSinkRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(telemetry.NewCPULogWriter(&buf, telemetry.CPULogInfo{Host: "bench01", Kernel: "6.8.0", Arch: "x86_64", CPUs: 16}))

	at := time.Date(2025, 3, 1, 14, 5, 6, 0, time.Local)
	snap := Snapshot{Timestamp: at, Processes: []Process{{PID: 42, UID: 1000, Name: "python3", UserPct: 75, SystemPct: 5, Processor: 7}}}
	if err := sink.WriteSnapshot(snap); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	date := time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local)
	samples, stats, err := telemetry.DecodeCPULog(strings.NewReader(buf.String()), telemetry.CPULogOptions{Marker: "python", Date: date, Location: time.Local})
	if err != nil {
		t.Fatalf("DecodeCPULog: %v", err)
	}
	if stats.Skipped != 0 || len(samples) != 1 {
		t.Fatalf("unexpected decode result %+v %+v\n%s", samples, stats, buf.String())
	}
	got := samples[0]
	if got.PID != 42 || got.UserPct != 75 || got.SystemPct != 5 || !got.Timestamp.Equal(at) {
		t.Fatalf("unexpected sample %+v", got)
	}
}

func TestRunStopsOnSinkError(t *testing.T) {
	root := t.TempDir()
	writeProc(t, root, procEntry{pid: 1, comm: "python3", uid: 0})

	boom := errors.New("disk full")
	manager, err := NewManager(Options{ProcRoot: root, Marker: "python", Interval: 5 * time.Millisecond},
		sinkFunc(func(Snapshot) error { return boom }))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := manager.Run(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected sink error, got %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	sink := sinkFunc(func(Snapshot) error { return nil })
	if _, err := NewManager(Options{ProcRoot: t.TempDir()}, sink); err == nil {
		t.Fatalf("expected error for zero interval")
	}
	if _, err := NewManager(Options{ProcRoot: t.TempDir(), Interval: time.Second}, nil); err == nil {
		t.Fatalf("expected error for nil sink")
	}
}

type sinkFunc func(Snapshot) error

func (f sinkFunc) WriteSnapshot(s Snapshot) error { return f(s) }

type procEntry struct {
	pid       int
	comm      string
	cmdline   string
	uid       int
	utime     uint64
	stime     uint64
	start     uint64
	processor int
}

func writeProc(t *testing.T, root string, p procEntry) {
	t.Helper()
	dir := filepath.Join(root, strconv.Itoa(p.pid))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}

	fields := []string{
		"S", "1", "1", "1", "0", "-1", "4194304", "100", "0", "0", "0",
		strconv.FormatUint(p.utime, 10), strconv.FormatUint(p.stime, 10),
		"0", "0", "20", "0", "4", "0", strconv.FormatUint(p.start, 10),
		"1000000", "500", "18446744073709551615",
	}
	for i := 0; i < 12; i++ {
		fields = append(fields, "0")
	}
	fields = append(fields, "17", strconv.Itoa(p.processor), "0", "0", "0", "0", "0")
	stat := strconv.Itoa(p.pid) + " (" + p.comm + ") " + strings.Join(fields, " ") + "\n"

	uid := strconv.Itoa(p.uid)
	files := map[string]string{
		"comm":    p.comm + "\n",
		"cmdline": p.cmdline,
		"stat":    stat,
		"status":  "Name:\t" + p.comm + "\nUid:\t" + uid + "\t" + uid + "\t" + uid + "\t" + uid + "\n",
	}
	for name, contents := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}
