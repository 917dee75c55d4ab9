package bench

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skobkin/fecbench/internal/chain"
	"github.com/skobkin/fecbench/internal/device"
)

// stepClock advances by a fixed step each time it is read.
type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

type nopDecoder struct{}

func (nopDecoder) Decode(llr chain.Soft) (chain.Bits, error) {
	return chain.NewMatrix[uint8](llr.Rows, 1), nil
}

type recordingTarget struct {
	events []string
	err    error
}

func (r *recordingTarget) Name() string { return "rec" }

func (r *recordingTarget) Launch(context.Context, chain.Decoder, chain.Soft) error {
	r.events = append(r.events, "launch")
	return r.err
}

type syncTarget struct {
	recordingTarget
	waitErr error
}

func (s *syncTarget) Wait(context.Context) error {
	s.events = append(s.events, "wait")
	return s.waitErr
}

func TestComputeTimingFormula(t *testing.T) {
	t.Parallel()

	tests := []struct {
		repeat  int
		batch   int
		k       int
		elapsed time.Duration
	}{
		{repeat: 1, batch: 1, k: 1, elapsed: time.Second},
		{repeat: 10, batch: 1000, k: 512, elapsed: 250 * time.Millisecond},
		{repeat: 3, batch: 64, k: 8448, elapsed: 1500 * time.Microsecond},
	}

	for _, tt := range tests {
		trial := Trial{Repeat: tt.repeat, NumCodewords: tt.batch, K: tt.k}
		got := ComputeTiming(tt.elapsed, trial)
		secs := tt.elapsed.Seconds()
		assert.InDelta(t, float64(tt.batch*tt.k*tt.repeat)/secs/1e6, got.ThroughputMbps, 1e-9)
		assert.InDelta(t, secs/float64(tt.repeat), got.LatencyS, 1e-15)
	}
}

func TestComputeTimingZeroElapsed(t *testing.T) {
	t.Parallel()

	got := ComputeTiming(0, Trial{Repeat: 1, NumCodewords: 1, K: 1})
	assert.True(t, math.IsNaN(got.LatencyS))
	assert.True(t, math.IsNaN(got.ThroughputMbps))
}

func TestRunWithStubClock(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Unix(0, 0), step: 2 * time.Second}
	b := New(clock, nil)
	target := &recordingTarget{}
	trial := Trial{Repeat: 4, NumCodewords: 100, K: 512}

	timing, err := b.Run(context.Background(), target, nopDecoder{}, chain.NewMatrix[float32](100, 1024), trial)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, timing.Elapsed)
	assert.InDelta(t, 0.5, timing.LatencyS, 1e-12)
	assert.InDelta(t, 100.0*512*4/2/1e6, timing.ThroughputMbps, 1e-12)
	// Warm-up plus four timed launches.
	assert.Len(t, target.events, 5)
}

func TestRunSynchronizesAsyncTargets(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Unix(0, 0), step: time.Second}
	target := &syncTarget{}
	_, err := New(clock, nil).Run(context.Background(), target, nopDecoder{}, chain.NewMatrix[float32](2, 2), Trial{Repeat: 2, NumCodewords: 2, K: 1})
	require.NoError(t, err)

	assert.Equal(t, []string{"launch", "wait", "launch", "launch", "wait"}, target.events)
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	llr := chain.NewMatrix[float32](2, 2)
	trial := Trial{Repeat: 1, NumCodewords: 2, K: 1}
	b := New(nil, nil)

	_, err := b.Run(context.Background(), &recordingTarget{err: boom}, nopDecoder{}, llr, trial)
	require.ErrorIs(t, err, boom)

	_, err = b.Run(context.Background(), &syncTarget{waitErr: boom}, nopDecoder{}, llr, trial)
	require.ErrorIs(t, err, boom)

	_, err = b.Run(context.Background(), &recordingTarget{}, nopDecoder{}, llr, Trial{Repeat: 0, NumCodewords: 2, K: 1})
	require.ErrorIs(t, err, chain.ErrInvalidConfig)

	_, err = b.Run(context.Background(), &recordingTarget{}, nopDecoder{}, llr, Trial{Repeat: 1, NumCodewords: 3, K: 1})
	require.Error(t, err)
}

func TestRunOnRealTargets(t *testing.T) {
	t.Parallel()

	cfg := chain.Config{K: 32, Rate: 0.5, M: 2, NumIter: 2}
	ref, err := chain.NewReference(cfg)
	require.NoError(t, err)
	gen, err := chain.NewGenerator(ref, 5, nil)
	require.NoError(t, err)
	ds, err := gen.Generate(8, 3)
	require.NoError(t, err)

	stream := device.NewStream("gpu", 2, nil)
	defer stream.Close()

	trial := Trial{Repeat: 3, NumCodewords: 8, K: 32}
	for _, target := range []device.Target{device.NewCPU(device.CPUOptions{Threads: 2}), stream} {
		timing, err := New(nil, nil).Run(context.Background(), target, ref.Decoder(), ds.LLR, trial)
		require.NoError(t, err)
		assert.Positive(t, timing.Elapsed)
	}
}
