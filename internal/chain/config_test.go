package chain

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantN   int
		wantErr bool
	}{
		{name: "k512 rate half 16qam", cfg: Config{K: 512, Rate: 0.5, M: 4, NumIter: 20}, wantN: 1024},
		{name: "non integer code length", cfg: Config{K: 512, Rate: 0.3, M: 4, NumIter: 20}, wantErr: true},
		{name: "length not divisible by m", cfg: Config{K: 500, Rate: 0.5, M: 3, NumIter: 20}, wantErr: true},
		{name: "rate one", cfg: Config{K: 64, Rate: 1, M: 2, NumIter: 1}, wantN: 64},
		{name: "rate above one", cfg: Config{K: 64, Rate: 1.5, M: 2, NumIter: 1}, wantErr: true},
		{name: "zero rate", cfg: Config{K: 64, Rate: 0, M: 2, NumIter: 1}, wantErr: true},
		{name: "nan rate", cfg: Config{K: 64, Rate: math.NaN(), M: 2, NumIter: 1}, wantErr: true},
		{name: "zero k", cfg: Config{K: 0, Rate: 0.5, M: 2, NumIter: 1}, wantErr: true},
		{name: "zero m", cfg: Config{K: 64, Rate: 0.5, M: 0, NumIter: 1}, wantErr: true},
		{name: "zero iterations", cfg: Config{K: 64, Rate: 0.5, M: 2, NumIter: 0}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidConfig), "error %v should wrap ErrInvalidConfig", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantN, tt.cfg.N())
			assert.Zero(t, tt.cfg.N()%tt.cfg.M)
		})
	}
}

func TestConfigString(t *testing.T) {
	t.Parallel()

	cfg := Config{K: 512, Rate: 0.5, M: 4, NumIter: 20}
	assert.Equal(t, "k=512 n=1024 rate=0.500 M=2^4 num_iter=20", cfg.String())
}

func TestEbNoToNoise(t *testing.T) {
	t.Parallel()

	// 0 dB with 4 bits/symbol at rate 1/2: No = 1/(1*4*0.5)
	assert.InDelta(t, 0.5, EbNoToNoise(0, 4, 0.5), 1e-12)
	// +10 dB divides the noise by ten.
	assert.InDelta(t, 0.05, EbNoToNoise(10, 4, 0.5), 1e-12)
}
