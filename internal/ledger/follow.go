package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Follower tails a ledger that another process is appending to. Only
// complete lines are decoded; a trailing partial line is held back until
// its newline arrives.
type Follower struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	offset  int64
	partial []byte
	cols    *columnIndex
	skipped int
	onReset func()
}

// NewFollower prepares a follower starting at the beginning of path.
func NewFollower(path string, logger *slog.Logger) *Follower {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Follower{
		path:   filepath.Clean(path),
		logger: logger.With("component", "ledger_follower", "path", path),
	}
}

// Skipped reports how many rows failed to decode so far.
func (f *Follower) Skipped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.skipped
}

// OnReset registers fn to run whenever the follower discards what it has
// read because the ledger was removed, renamed or truncated. Rows emitted
// afterwards start again from the first data row. fn runs without the
// follower lock held and before any re-read rows are returned.
func (f *Follower) OnReset(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onReset = fn
}

// Poll returns the rows completed since the previous call. A missing file
// yields no rows; a file that shrank is re-read from the start.
func (f *Follower) Poll() ([]Row, error) {
	f.mu.Lock()
	rows, reset, err := f.pollLocked()
	onReset := f.onReset
	f.mu.Unlock()

	if reset && onReset != nil {
		onReset()
	}
	return rows, err
}

func (f *Follower) pollLocked() ([]Row, bool, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, f.resetLocked(), nil
		}
		return nil, false, fmt.Errorf("open ledger: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, false, fmt.Errorf("stat ledger: %w", err)
	}
	reset := false
	if info.Size() < f.offset {
		f.logger.Warn("ledger truncated, re-reading", "size", info.Size(), "offset", f.offset)
		reset = f.resetLocked()
	}
	if info.Size() == f.offset {
		return nil, reset, nil
	}

	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return nil, reset, fmt.Errorf("seek ledger: %w", err)
	}
	chunk, err := io.ReadAll(file)
	if err != nil {
		return nil, reset, fmt.Errorf("read ledger: %w", err)
	}
	f.offset += int64(len(chunk))

	data := append(f.partial, chunk...)
	cut := bytes.LastIndexByte(data, '\n')
	if cut < 0 {
		f.partial = data
		return nil, reset, nil
	}
	complete := data[:cut+1]
	f.partial = append([]byte(nil), data[cut+1:]...)

	rows, err := f.decodeLocked(complete)
	return rows, reset, err
}

func (f *Follower) decodeLocked(complete []byte) ([]Row, error) {
	reader := csv.NewReader(bytes.NewReader(complete))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			f.skipped++
			continue
		}
		if f.cols == nil {
			cols, err := newColumnIndex(record)
			if err != nil {
				return rows, err
			}
			f.cols = &cols
			continue
		}
		row, err := f.cols.decode(record)
		if err != nil {
			f.skipped++
			continue
		}
		rows = append(rows, row)
	}
}

// resetLocked rewinds to the start of the file and reports whether anything
// had been read before.
func (f *Follower) resetLocked() bool {
	had := f.offset > 0 || f.cols != nil || len(f.partial) > 0
	f.offset = 0
	f.partial = nil
	f.cols = nil
	return had
}

// Run emits already present rows, then every row appended afterwards, until
// ctx is done. The parent directory is watched so the ledger may be created
// after Run starts.
func (f *Follower) Run(ctx context.Context, emit func(Row)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	f.drain(emit)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				f.mu.Lock()
				reset := f.resetLocked()
				onReset := f.onReset
				f.mu.Unlock()
				if reset && onReset != nil {
					onReset()
				}
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				f.drain(emit)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("watcher error", "err", err)
		}
	}
}

func (f *Follower) drain(emit func(Row)) {
	rows, err := f.Poll()
	if err != nil {
		f.logger.Warn("poll ledger failed", "err", err)
	}
	for _, row := range rows {
		emit(row)
	}
}
