// Package chain describes one decode-operator instantiation and the signal
// chain that feeds it with synthetic soft values.
package chain

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is returned for parameter sets that cannot be instantiated.
var ErrInvalidConfig = errors.New("invalid chain configuration")

// Config is the immutable parameter set for one sweep point.
type Config struct {
	K       int     `json:"k"`
	Rate    float64 `json:"rate"`
	M       int     `json:"m"`
	NumIter int     `json:"num_iter"`
}

// N returns the code length k/rate rounded to the nearest integer.
// Call Validate first; N is meaningless for invalid configurations.
func (c Config) N() int {
	if c.Rate <= 0 {
		return 0
	}
	return int(math.Round(float64(c.K) / c.Rate))
}

// Validate checks that the code length is an integer multiple of the bits
// per symbol. It never touches any data.
func (c Config) Validate() error {
	if c.K <= 0 {
		return fmt.Errorf("%w: k must be > 0, got %d", ErrInvalidConfig, c.K)
	}
	if math.IsNaN(c.Rate) || c.Rate <= 0 || c.Rate > 1 {
		return fmt.Errorf("%w: rate must be in (0, 1], got %v", ErrInvalidConfig, c.Rate)
	}
	if c.M <= 0 {
		return fmt.Errorf("%w: m must be > 0, got %d", ErrInvalidConfig, c.M)
	}
	if c.NumIter <= 0 {
		return fmt.Errorf("%w: num_iter must be > 0, got %d", ErrInvalidConfig, c.NumIter)
	}

	exact := float64(c.K) / c.Rate
	n := math.Round(exact)
	if math.Abs(exact-n) > 1e-9*math.Max(1, exact) {
		return fmt.Errorf("%w: k/rate = %.4f is not an integer code length", ErrInvalidConfig, exact)
	}
	if int(n)%c.M != 0 {
		return fmt.Errorf("%w: n=%d must be divisible by m=%d", ErrInvalidConfig, int(n), c.M)
	}
	return nil
}

// String renders the configuration the way it is logged.
func (c Config) String() string {
	return fmt.Sprintf("k=%d n=%d rate=%.3f M=2^%d num_iter=%d", c.K, c.N(), c.Rate, c.M, c.NumIter)
}

// EbNoToNoise converts Eb/N0 in dB to the noise power spectral density No for
// a unit-energy constellation carrying m bits per symbol at the given rate.
func EbNoToNoise(ebnoDB float64, m int, rate float64) float64 {
	ebno := math.Pow(10, ebnoDB/10)
	return 1 / (ebno * float64(m) * rate)
}
