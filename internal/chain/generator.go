package chain

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
)

// Decoder is the opaque decode operator: soft values in, hard info bits out.
type Decoder interface {
	Decode(llr Soft) (Bits, error)
}

// Chain is the physical-layer stage around the decoder. Transmit encodes,
// modulates, adds channel noise of density no and demaps back to soft values.
type Chain interface {
	Config() Config
	Transmit(u Bits, no float64, rng *rand.Rand) (Soft, error)
	Decoder() Decoder
}

// Dataset is one batch of ground-truth info bits and the matching soft values.
type Dataset struct {
	U      Bits
	LLR    Soft
	EbNoDB float64
}

// Generator draws synthetic datasets through a Chain.
type Generator struct {
	chain  Chain
	rng    *rand.Rand
	logger *slog.Logger
}

// NewGenerator validates the chain configuration and seeds the bit source.
func NewGenerator(ch Chain, seed uint64, logger *slog.Logger) (*Generator, error) {
	if ch == nil {
		return nil, fmt.Errorf("chain must not be nil")
	}
	if err := ch.Config().Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Generator{
		chain:  ch,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		logger: logger,
	}, nil
}

// Generate produces numCodewords codewords at the requested Eb/N0.
func (g *Generator) Generate(numCodewords int, ebnoDB float64) (Dataset, error) {
	cfg := g.chain.Config()
	if err := cfg.Validate(); err != nil {
		return Dataset{}, err
	}
	if numCodewords <= 0 {
		return Dataset{}, fmt.Errorf("%w: num_codewords must be > 0, got %d", ErrInvalidConfig, numCodewords)
	}

	no := EbNoToNoise(ebnoDB, cfg.M, cfg.Rate)
	g.logger.Info("generating dataset", "num_codewords", numCodewords, "ebno_db", ebnoDB, "no", no)

	u := NewMatrix[uint8](numCodewords, cfg.K)
	for i := range u.Data {
		u.Data[i] = uint8(g.rng.IntN(2))
	}

	llr, err := g.chain.Transmit(u, no, g.rng)
	if err != nil {
		return Dataset{}, fmt.Errorf("transmit: %w", err)
	}
	if llr.Rows != u.Rows {
		return Dataset{}, fmt.Errorf("transmit returned %d rows, want %d", llr.Rows, u.Rows)
	}

	g.logger.Debug("dataset ready", "u", u.Shape(), "llr", llr.Shape())
	return Dataset{U: u, LLR: llr, EbNoDB: ebnoDB}, nil
}
