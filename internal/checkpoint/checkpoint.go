// Package checkpoint recovers the last completed sweep coordinate from a
// results ledger and persists it as KEY=VALUE lines.
package checkpoint

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrLedgerNotFound is returned when the ledger file does not exist.
	ErrLedgerNotFound = errors.New("ledger not found")
	// ErrMissingColumn is returned when the ledger has no label column.
	ErrMissingColumn = errors.New("ledger has no label column")
	// ErrNoResumableState is returned when no label matches the sweep grammar.
	ErrNoResumableState = errors.New("no resumable sweep state")
)

const labelColumn = "label"

var labelPattern = regexp.MustCompile(`^rep(\d+)_N(\d+)_I(\d+)$`)

// Label is one sweep coordinate: repetition, codeword count and decoder
// iteration count.
type Label struct {
	Rep int `json:"rep"`
	N   int `json:"n"`
	I   int `json:"i"`
}

func (l Label) String() string {
	return fmt.Sprintf("rep%d_N%d_I%d", l.Rep, l.N, l.I)
}

// ParseLabel matches value against the sweep grammar rep<REP>_N<N>_I<I>.
func ParseLabel(value string) (Label, bool) {
	m := labelPattern.FindStringSubmatch(value)
	if m == nil {
		return Label{}, false
	}
	var nums [3]int
	for i, s := range m[1:] {
		v, err := strconv.Atoi(s)
		if err != nil {
			return Label{}, false
		}
		nums[i] = v
	}
	return Label{Rep: nums[0], N: nums[1], I: nums[2]}, true
}

// State is the last completed sweep coordinate.
type State struct {
	LastRep int `json:"last_rep"`
	LastN   int `json:"last_n"`
	LastI   int `json:"last_i"`
}

// Label returns the coordinate as a sweep label.
func (s State) Label() Label {
	return Label{Rep: s.LastRep, N: s.LastN, I: s.LastI}
}

// Scan streams a ledger and keeps the last row, in file order, whose label
// matches the sweep grammar. Rows that cannot be parsed are ignored.
func Scan(r io.Reader) (State, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return State{}, ErrMissingColumn
		}
		return State{}, fmt.Errorf("read header: %w", err)
	}
	col := -1
	for i, name := range header {
		if strings.TrimSpace(name) == labelColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return State{}, ErrMissingColumn
	}

	var (
		last  Label
		found bool
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return State{}, fmt.Errorf("read ledger: %w", err)
		}
		if col >= len(record) {
			continue
		}
		if label, ok := ParseLabel(record[col]); ok {
			last = label
			found = true
		}
	}

	if !found {
		return State{}, ErrNoResumableState
	}
	return State{LastRep: last.Rep, LastN: last.N, LastI: last.I}, nil
}

// ScanFile runs Scan over the ledger at path.
func ScanFile(path string) (State, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, fmt.Errorf("%w: %s", ErrLedgerNotFound, path)
		}
		return State{}, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()
	return Scan(f)
}

// Encode renders the state as LAST_REP, LAST_N and LAST_I lines.
func (s State) Encode() string {
	return fmt.Sprintf("LAST_REP=%d\nLAST_N=%d\nLAST_I=%d\n", s.LastRep, s.LastN, s.LastI)
}

// WriteFile replaces the checkpoint at path. The content goes to a
// temporary file in the same directory first, so a failed write leaves
// any previous checkpoint intact.
func (s State) WriteFile(path string) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create checkpoint temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.WriteString(s.Encode()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Parse reads the KEY=VALUE checkpoint format. Blank lines are ignored;
// all three keys are required.
func Parse(r io.Reader) (State, error) {
	var (
		state State
		seen  = map[string]bool{}
	)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return State{}, fmt.Errorf("line %d: expected KEY=VALUE, got %q", lineNo, line)
		}
		v, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return State{}, fmt.Errorf("line %d: parse %s: %w", lineNo, key, err)
		}
		switch key = strings.TrimSpace(key); key {
		case "LAST_REP":
			state.LastRep = v
		case "LAST_N":
			state.LastN = v
		case "LAST_I":
			state.LastI = v
		default:
			return State{}, fmt.Errorf("line %d: unknown key %q", lineNo, key)
		}
		seen[key] = true
	}
	if err := scanner.Err(); err != nil {
		return State{}, fmt.Errorf("read checkpoint: %w", err)
	}
	for _, key := range []string{"LAST_REP", "LAST_N", "LAST_I"} {
		if !seen[key] {
			return State{}, fmt.Errorf("checkpoint missing %s", key)
		}
	}
	return state, nil
}

// ReadFile parses the checkpoint at path. A missing file returns an error
// satisfying errors.Is(err, fs.ErrNotExist).
func ReadFile(path string) (State, error) {
	f, err := os.Open(path)
	if err != nil {
		return State{}, err
	}
	defer f.Close()
	return Parse(f)
}
