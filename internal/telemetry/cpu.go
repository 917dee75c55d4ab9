package telemetry

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultMarker selects the benchmark process in a CPU log. It is also the
// APP_MONITOR_MARKER default that telemon and fecreport start from.
const DefaultMarker = "python"

// CPUSample is one per-process CPU reading.
type CPUSample struct {
	Timestamp time.Time `json:"timestamp"`
	UID       int       `json:"uid"`
	PID       int       `json:"pid"`
	UserPct   float64   `json:"cpu_user_pct"`
	SystemPct float64   `json:"cpu_system_pct"`
	TotalPct  float64   `json:"cpu_total_pct"`
	Cores     float64   `json:"cpu_cores"`
	Command   string    `json:"command,omitempty"`
}

// CPULogOptions control how CPU log lines are selected and dated.
type CPULogOptions struct {
	// Marker must appear in a line for it to be considered.
	Marker string
	// Date supplies the calendar day; the log only records time of day.
	Date time.Time
	// Location defaults to time.Local.
	Location *time.Location
}

func (o CPULogOptions) withDefaults() CPULogOptions {
	if o.Marker == "" {
		o.Marker = DefaultMarker
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

// ParseCPULine turns one pidstat-style line into a sample. The line must
// contain marker and have at least six whitespace-separated fields:
//
//	10:48:01 PM  1001  7791  143.00  24.00  0.00  0.00  167.00  3  python3
//
// 24-hour lines without the AM/PM field are accepted too. Any line that
// does not fit yields ok == false.
func ParseCPULine(line, marker string, date time.Time, loc *time.Location) (CPUSample, bool) {
	if marker == "" || !strings.Contains(line, marker) {
		return CPUSample{}, false
	}
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return CPUSample{}, false
	}
	if loc == nil {
		loc = time.Local
	}

	clock, layout, idx := fields[0], "15:04:05", 1
	if meridiem := strings.ToUpper(fields[1]); meridiem == "AM" || meridiem == "PM" {
		clock, layout, idx = fields[0]+" "+meridiem, "3:04:05 PM", 2
	}
	if len(fields) < idx+4 {
		return CPUSample{}, false
	}

	tod, err := time.Parse(layout, clock)
	if err != nil {
		return CPUSample{}, false
	}
	uid, err := strconv.Atoi(fields[idx])
	if err != nil {
		return CPUSample{}, false
	}
	pid, err := strconv.Atoi(fields[idx+1])
	if err != nil {
		return CPUSample{}, false
	}
	usr, err := strconv.ParseFloat(fields[idx+2], 64)
	if err != nil {
		return CPUSample{}, false
	}
	sys, err := strconv.ParseFloat(fields[idx+3], 64)
	if err != nil {
		return CPUSample{}, false
	}

	sample := CPUSample{
		Timestamp: time.Date(date.Year(), date.Month(), date.Day(), tod.Hour(), tod.Minute(), tod.Second(), 0, loc),
		UID:       uid,
		PID:       pid,
		UserPct:   usr,
		SystemPct: sys,
		TotalPct:  usr + sys,
		Cores:     (usr + sys) / 100,
	}
	if len(fields) > idx+4 {
		sample.Command = fields[len(fields)-1]
	}
	return sample, true
}

// LoadCPULog reads a pidstat-style log file.
func LoadCPULog(path string, opts CPULogOptions) ([]CPUSample, LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("open cpu log: %w", err)
	}
	defer f.Close()
	return DecodeCPULog(f, opts)
}

// DecodeCPULog parses every usable line. Lines mentioning the marker that
// fail to parse are counted as skipped; other lines are ignored silently.
// A backwards jump of more than twelve hours is taken as midnight passing,
// and later samples move to the next day.
func DecodeCPULog(r io.Reader, opts CPULogOptions) ([]CPUSample, LoadStats, error) {
	opts = opts.withDefaults()

	var (
		samples []CPUSample
		stats   LoadStats
		days    int
		prev    time.Time
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		sample, ok := ParseCPULine(line, opts.Marker, opts.Date, opts.Location)
		if !ok {
			if strings.Contains(line, opts.Marker) {
				stats.Skipped++
			}
			continue
		}

		sample.Timestamp = sample.Timestamp.AddDate(0, 0, days)
		if !prev.IsZero() && prev.Sub(sample.Timestamp) > 12*time.Hour {
			days++
			sample.Timestamp = sample.Timestamp.AddDate(0, 0, 1)
		}
		prev = sample.Timestamp

		samples = append(samples, sample)
		stats.Records++
	}
	if err := scanner.Err(); err != nil {
		return samples, stats, fmt.Errorf("read cpu log: %w", err)
	}
	return samples, stats, nil
}

var bannerDate = regexp.MustCompile(`\b(\d{2}/\d{2}/\d{4}|\d{4}-\d{2}-\d{2})\b`)

// BannerDate extracts the date from the "Linux <release> (<host>) <date>"
// banner that pidstat prints first. ok is false when the log has no banner.
func BannerDate(r io.Reader) (date time.Time, ok bool) {
	scanner := bufio.NewScanner(r)
	for i := 0; i < 5 && scanner.Scan(); i++ {
		line := scanner.Text()
		if !strings.HasPrefix(line, "Linux ") {
			continue
		}
		if i := strings.Index(line, ")"); i >= 0 {
			line = line[i+1:]
		}
		m := bannerDate.FindString(line)
		if m == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{"01/02/2006", "2006-01-02"} {
			if d, err := time.Parse(layout, m); err == nil {
				return d, true
			}
		}
		return time.Time{}, false
	}
	return time.Time{}, false
}

// LoadBannerDate runs BannerDate over the file at path.
func LoadBannerDate(path string) (time.Time, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("open cpu log: %w", err)
	}
	defer f.Close()
	d, ok := BannerDate(f)
	return d, ok, nil
}
