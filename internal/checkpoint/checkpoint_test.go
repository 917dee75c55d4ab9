package checkpoint

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Label
		ok   bool
	}{
		{in: "rep0_N10_I5", want: Label{Rep: 0, N: 10, I: 5}, ok: true},
		{in: "rep12_N4096_I20", want: Label{Rep: 12, N: 4096, I: 20}, ok: true},
		{in: "bogus"},
		{in: ""},
		{in: "rep0_N10_I5_extra"},
		{in: " rep0_N10_I5"},
		{in: "rep-1_N10_I5"},
		{in: "rep0_n10_i5"},
		{in: "rep99999999999999999999999_N1_I1"},
	}

	for _, tt := range tests {
		got, ok := ParseLabel(tt.in)
		assert.Equalf(t, tt.ok, ok, "ParseLabel(%q)", tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		}
	}
}

func TestScanKeepsLastInFileOrder(t *testing.T) {
	t.Parallel()

	ledger := "timestamp,label,k\n" +
		"t1,rep0_N10_I5,1\n" +
		"t2,bogus,1\n" +
		"t3,rep1_N20_I10,1\n" +
		"t4,rep0_N30_I15,1\n"

	state, err := Scan(strings.NewReader(ledger))
	require.NoError(t, err)
	assert.Equal(t, State{LastRep: 0, LastN: 30, LastI: 15}, state)
	assert.Equal(t, "LAST_REP=0\nLAST_N=30\nLAST_I=15\n", state.Encode())
}

func TestScanToleratesShortAndTrailingRows(t *testing.T) {
	t.Parallel()

	ledger := "timestamp,host,label\n" +
		"t1,h,rep2_N8_I3\n" +
		"t2\n" +
		"t3,h,\"broken\n"

	state, err := Scan(strings.NewReader(ledger))
	require.NoError(t, err)
	assert.Equal(t, State{LastRep: 2, LastN: 8, LastI: 3}, state)
}

func TestScanErrors(t *testing.T) {
	t.Parallel()

	_, err := Scan(strings.NewReader("timestamp,host\nt,h\n"))
	assert.True(t, errors.Is(err, ErrMissingColumn))

	_, err = Scan(strings.NewReader(""))
	assert.True(t, errors.Is(err, ErrMissingColumn))

	_, err = Scan(strings.NewReader("label\nbogus\nrepX_N1_I1\n"))
	assert.True(t, errors.Is(err, ErrNoResumableState))

	_, err = ScanFile(filepath.Join(t.TempDir(), "absent.csv"))
	assert.True(t, errors.Is(err, ErrLedgerNotFound))
}

func TestWriteFileReplacesCheckpoint(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "sweep.checkpoint")
	require.NoError(t, os.WriteFile(path, []byte("LAST_REP=9\nLAST_N=9\nLAST_I=9\nstale\n"), 0o644))

	want := State{LastRep: 1, LastN: 20, LastI: 10}
	require.NoError(t, want.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "LAST_REP=1\nLAST_N=20\nLAST_I=10\n", string(data))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestWriteFileFailureLeavesNoOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "missing-dir", "sweep.checkpoint")
	err := State{}.WriteFile(path)
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, errors.Is(statErr, fs.ErrNotExist))
}

func TestParse(t *testing.T) {
	t.Parallel()

	got, err := Parse(strings.NewReader("\nLAST_N=4\nLAST_REP=3\n\nLAST_I = 7\n"))
	require.NoError(t, err)
	assert.Equal(t, State{LastRep: 3, LastN: 4, LastI: 7}, got)

	for _, bad := range []string{
		"LAST_REP=1\nLAST_N=2\n",
		"LAST_REP=1\nLAST_N=2\nLAST_I=x\n",
		"LAST_REP=1\nLAST_N=2\nLAST_I=3\nOTHER=4\n",
		"garbage\n",
	} {
		_, err := Parse(strings.NewReader(bad))
		assert.Errorf(t, err, "input %q", bad)
	}

	_, err = ReadFile(filepath.Join(t.TempDir(), "nope"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}
