package procscan

import (
	"fmt"
	"io"
	"log/slog"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
)

// userHZ is the clock tick rate procfs assumes for utime/stime.
const userHZ = 100

type rawProcess struct {
	pid       int
	uid       int
	user      string
	name      string
	command   string
	utime     uint64
	stime     uint64
	starttime uint64
	processor int
}

// key identifies a process across scans; PIDs can be reused.
func (r rawProcess) key() procKey {
	return procKey{pid: r.pid, start: r.starttime}
}

type procKey struct {
	pid   int
	start uint64
}

type collector struct {
	fs        procfs.FS
	marker    string
	maxPIDs   int
	logger    *slog.Logger
	userCache map[int]string
}

func newCollector(procRoot, marker string, maxPIDs int, logger *slog.Logger) (*collector, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("open proc root: %w", err)
	}
	return &collector{
		fs:        fs,
		marker:    marker,
		maxPIDs:   maxPIDs,
		logger:    logger,
		userCache: make(map[int]string),
	}, nil
}

// collect returns every process whose command matches the marker. Processes
// that exit mid-scan are skipped.
func (c *collector) collect() ([]rawProcess, error) {
	procs, err := c.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var out []rawProcess
	for i, proc := range procs {
		if c.maxPIDs > 0 && i >= c.maxPIDs {
			c.logger.Debug("pid scan limit reached", "limit", c.maxPIDs)
			break
		}

		comm, err := proc.Comm()
		if err != nil {
			continue
		}
		cmdline, _ := proc.CmdLine()
		if !c.matches(comm, cmdline) {
			continue
		}

		stat, err := proc.Stat()
		if err != nil {
			c.logger.Debug("failed to read stat", "pid", proc.PID, "err", err)
			continue
		}
		status, err := proc.NewStatus()
		if err != nil {
			c.logger.Debug("failed to read status", "pid", proc.PID, "err", err)
			continue
		}

		uid := int(status.UIDs[0])
		out = append(out, rawProcess{
			pid:       proc.PID,
			uid:       uid,
			user:      c.lookupUser(uid),
			name:      comm,
			command:   formatCmdline(cmdline),
			utime:     uint64(stat.UTime),
			stime:     uint64(stat.STime),
			starttime: stat.Starttime,
			processor: int(stat.Processor),
		})
	}
	return out, nil
}

func (c *collector) matches(comm string, cmdline []string) bool {
	if c.marker == "" {
		return true
	}
	if strings.Contains(comm, c.marker) {
		return true
	}
	return len(cmdline) > 0 && strings.Contains(filepath.Base(cmdline[0]), c.marker)
}

func (c *collector) lookupUser(uid int) string {
	if name, ok := c.userCache[uid]; ok {
		return name
	}
	name := strconv.Itoa(uid)
	if u, err := user.LookupId(name); err == nil && u.Username != "" {
		name = u.Username
	}
	c.userCache[uid] = name
	return name
}

func formatCmdline(parts []string) string {
	cmd := strings.Join(parts, " ")
	if len(cmd) > 256 {
		return cmd[:256]
	}
	return cmd
}
