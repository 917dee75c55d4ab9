package chain

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shortChain struct {
	cfg Config
}

func (c shortChain) Config() Config   { return c.cfg }
func (c shortChain) Decoder() Decoder { return nil }
func (c shortChain) Transmit(u Bits, _ float64, _ *rand.Rand) (Soft, error) {
	return NewMatrix[float32](u.Rows-1, c.cfg.N()), nil
}

func TestGeneratorShapes(t *testing.T) {
	t.Parallel()

	ref, err := NewReference(Config{K: 64, Rate: 0.5, M: 4, NumIter: 5})
	require.NoError(t, err)

	gen, err := NewGenerator(ref, 7, nil)
	require.NoError(t, err)

	ds, err := gen.Generate(12, 4)
	require.NoError(t, err)

	assert.Equal(t, 12, ds.U.Rows)
	assert.Equal(t, 64, ds.U.Cols)
	assert.Equal(t, 12, ds.LLR.Rows)
	assert.Equal(t, 128, ds.LLR.Cols)
	assert.Equal(t, 4.0, ds.EbNoDB)
	for _, b := range ds.U.Data {
		require.LessOrEqual(t, b, uint8(1))
	}
}

func TestGeneratorDeterministicSeed(t *testing.T) {
	t.Parallel()

	cfg := Config{K: 32, Rate: 0.5, M: 2, NumIter: 3}
	ref, err := NewReference(cfg)
	require.NoError(t, err)

	a, err := NewGenerator(ref, 42, nil)
	require.NoError(t, err)
	b, err := NewGenerator(ref, 42, nil)
	require.NoError(t, err)

	da, err := a.Generate(4, 2)
	require.NoError(t, err)
	db, err := b.Generate(4, 2)
	require.NoError(t, err)

	assert.Equal(t, da.U.Data, db.U.Data)
	assert.Equal(t, da.LLR.Data, db.LLR.Data)
}

func TestGeneratorRejectsInvalidConfigBeforeGenerating(t *testing.T) {
	t.Parallel()

	_, err := NewGenerator(shortChain{cfg: Config{K: 512, Rate: 0.3, M: 4, NumIter: 1}}, 1, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestGeneratorRejectsNonPositiveBatch(t *testing.T) {
	t.Parallel()

	ref, err := NewReference(Config{K: 16, Rate: 0.5, M: 2, NumIter: 1})
	require.NoError(t, err)
	gen, err := NewGenerator(ref, 1, nil)
	require.NoError(t, err)

	_, err = gen.Generate(0, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestGeneratorRowMismatch(t *testing.T) {
	t.Parallel()

	gen, err := NewGenerator(shortChain{cfg: Config{K: 16, Rate: 0.5, M: 2, NumIter: 1}}, 1, nil)
	require.NoError(t, err)

	_, err = gen.Generate(3, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transmit returned 2 rows")
}
