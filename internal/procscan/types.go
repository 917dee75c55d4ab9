// Package procscan samples per-process CPU usage from procfs for processes
// whose command matches a marker, producing pidstat-compatible records.
package procscan

import (
	"time"

	"github.com/skobkin/fecbench/internal/telemetry"
)

// Snapshot is one sampling interval worth of matching processes.
type Snapshot struct {
	Timestamp time.Time `json:"ts"`
	Interval  float64   `json:"interval_s"`
	Processes []Process `json:"processes"`
}

// Process summarises CPU usage of one process over the last interval.
type Process struct {
	PID       int     `json:"pid"`
	UID       int     `json:"uid"`
	User      string  `json:"user"`
	Name      string  `json:"name"`
	Command   string  `json:"cmd"`
	UserPct   float64 `json:"usr_pct"`
	SystemPct float64 `json:"system_pct"`
	Processor int     `json:"cpu"`
}

// CPUSample converts the process to a CPU log record.
func (p Process) CPUSample(at time.Time) telemetry.CPUSample {
	total := p.UserPct + p.SystemPct
	return telemetry.CPUSample{
		Timestamp: at,
		UID:       p.UID,
		PID:       p.PID,
		UserPct:   p.UserPct,
		SystemPct: p.SystemPct,
		TotalPct:  total,
		Cores:     total / 100,
		Command:   p.Name,
	}
}
