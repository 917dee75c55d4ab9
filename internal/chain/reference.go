package chain

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Reference is a self-contained stand-in for the external signal chain: a
// sparse systematic parity-check code, Gray-mapped QAM, complex AWGN and a
// max-log demapper, decoded with flooding min-sum. It provides a realistic
// decode workload; it is not any standardised code.
type Reference struct {
	cfg    Config
	n      int
	checks []parityCheck
	mod    qam
}

type parityCheck struct {
	vars   [3]int
	degree int
}

// NewReference builds the reference chain for a validated configuration.
func NewReference(cfg Config) (*Reference, error) {
	if err := ValidateReference(cfg); err != nil {
		return nil, err
	}

	k, n := cfg.K, cfg.N()
	checks := make([]parityCheck, n-k)
	for j := range checks {
		a := j % k
		b := (a + 1 + j/k) % k
		c := parityCheck{vars: [3]int{a, k + j, 0}, degree: 2}
		if b != a {
			c.vars[2] = b
			c.degree = 3
		}
		checks[j] = c
	}

	return &Reference{
		cfg:    cfg,
		n:      n,
		checks: checks,
		mod:    newQAM(cfg.M),
	}, nil
}

// Config returns the chain parameters.
func (r *Reference) Config() Config {
	return r.cfg
}

// Decoder returns the min-sum decoder bound to this code. It is safe for
// concurrent use.
func (r *Reference) Decoder() Decoder {
	return minSumDecoder{ref: r}
}

// Transmit encodes, maps, adds complex AWGN with density no and demaps.
func (r *Reference) Transmit(u Bits, no float64, rng *rand.Rand) (Soft, error) {
	if u.Cols != r.cfg.K {
		return Soft{}, fmt.Errorf("info bits have %d columns, want %d", u.Cols, r.cfg.K)
	}
	if no <= 0 || math.IsNaN(no) {
		return Soft{}, fmt.Errorf("noise density must be > 0, got %v", no)
	}

	m := r.cfg.M
	sigma := math.Sqrt(no / 2)
	codeword := make([]uint8, r.n)
	llr := NewMatrix[float32](u.Rows, r.n)

	for row := 0; row < u.Rows; row++ {
		r.encode(u.Row(row), codeword)
		out := llr.Row(row)
		for s := 0; s < r.n/m; s++ {
			bits := codeword[s*m : (s+1)*m]
			yI, yQ := r.mod.mapSymbol(bits)
			yI += sigma * rng.NormFloat64()
			yQ += sigma * rng.NormFloat64()
			r.mod.demap(yI, yQ, no, out[s*m:(s+1)*m])
		}
	}
	return llr, nil
}

func (r *Reference) encode(u, codeword []uint8) {
	k := r.cfg.K
	copy(codeword, u)
	for j, c := range r.checks {
		p := u[c.vars[0]]
		if c.degree == 3 {
			p ^= u[c.vars[2]]
		}
		codeword[k+j] = p
	}
}

type minSumDecoder struct {
	ref *Reference
}

func (d minSumDecoder) Decode(llr Soft) (Bits, error) {
	n, k := d.ref.n, d.ref.cfg.K
	if llr.Cols != n {
		return Bits{}, fmt.Errorf("llr has %d columns, want %d", llr.Cols, n)
	}

	checks := d.ref.checks
	out := NewMatrix[uint8](llr.Rows, k)
	total := make([]float32, n)
	c2v := make([]float32, len(checks)*3)

	for row := 0; row < llr.Rows; row++ {
		channel := llr.Row(row)
		copy(total, channel)
		clear(c2v)

		for iter := 0; iter < d.ref.cfg.NumIter; iter++ {
			for j, c := range checks {
				msgs := c2v[j*3 : j*3+3]
				var in [3]float32
				for s := 0; s < c.degree; s++ {
					in[s] = total[c.vars[s]] - msgs[s]
				}
				for s := 0; s < c.degree; s++ {
					// Positive soft values mean "1", so the parity sign flips for odd degree.
					sign := float32(1)
					if c.degree%2 == 1 {
						sign = -1
					}
					mag := float32(math.MaxFloat32)
					for t := 0; t < c.degree; t++ {
						if t == s {
							continue
						}
						v := in[t]
						if v < 0 {
							sign = -sign
							v = -v
						}
						if v < mag {
							mag = v
						}
					}
					msgs[s] = sign * mag
				}
			}

			copy(total, channel)
			for j, c := range checks {
				for s := 0; s < c.degree; s++ {
					total[c.vars[s]] += c2v[j*3+s]
				}
			}
		}

		bits := out.Row(row)
		for i := 0; i < k; i++ {
			if total[i] > 0 {
				bits[i] = 1
			}
		}
	}

	return out, nil
}

// qam splits m bits into ceil(m/2) in-phase and floor(m/2) quadrature bits,
// each dimension Gray-mapped onto a PAM ladder, with unit average energy.
type qam struct {
	bitsI   int
	bitsQ   int
	levelsI []float64
	levelsQ []float64
}

// MaxReferenceBitsPerSymbol is the largest constellation the reference chain
// builds: 2^8 levels per rail.
const MaxReferenceBitsPerSymbol = 16

// ValidateReference checks cfg and that the reference constellation can be
// built for its bits per symbol.
func ValidateReference(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.M > MaxReferenceBitsPerSymbol {
		return fmt.Errorf("%w: m=%d exceeds the reference constellation limit of %d bits per symbol",
			ErrInvalidConfig, cfg.M, MaxReferenceBitsPerSymbol)
	}
	return nil
}

func newQAM(m int) qam {
	bitsI := (m + 1) / 2
	bitsQ := m / 2
	levelsI := pamLevels(bitsI)
	levelsQ := pamLevels(bitsQ)

	scale := 1 / math.Sqrt(pamEnergy(bitsI)+pamEnergy(bitsQ))
	for i := range levelsI {
		levelsI[i] *= scale
	}
	for i := range levelsQ {
		levelsQ[i] *= scale
	}

	return qam{bitsI: bitsI, bitsQ: bitsQ, levelsI: levelsI, levelsQ: levelsQ}
}

func (q qam) mapSymbol(bits []uint8) (float64, float64) {
	var yI, yQ float64
	if q.bitsI > 0 {
		yI = q.levelsI[pattern(bits[:q.bitsI])]
	}
	if q.bitsQ > 0 {
		yQ = q.levelsQ[pattern(bits[q.bitsI:])]
	}
	return yI, yQ
}

func (q qam) demap(yI, yQ, no float64, out []float32) {
	demapPAM(yI, q.levelsI, q.bitsI, no, out[:q.bitsI])
	demapPAM(yQ, q.levelsQ, q.bitsQ, no, out[q.bitsI:])
}

// demapPAM writes max-log soft values for one real dimension.
func demapPAM(y float64, levels []float64, bits int, no float64, out []float32) {
	for t := 0; t < bits; t++ {
		min0, min1 := math.Inf(1), math.Inf(1)
		for p, x := range levels {
			d := (y - x) * (y - x)
			if (p>>(bits-1-t))&1 == 1 {
				min1 = math.Min(min1, d)
			} else {
				min0 = math.Min(min0, d)
			}
		}
		out[t] = float32((min0 - min1) / no)
	}
}

func pattern(bits []uint8) int {
	p := 0
	for _, b := range bits {
		p = p<<1 | int(b&1)
	}
	return p
}

func pamLevels(bits int) []float64 {
	if bits == 0 {
		return nil
	}
	size := 1 << bits
	levels := make([]float64, size)
	for p := 0; p < size; p++ {
		levels[p] = float64(2*grayToBinary(p) - (size - 1))
	}
	return levels
}

func pamEnergy(bits int) float64 {
	if bits == 0 {
		return 0
	}
	size := float64(int(1) << bits)
	return (size*size - 1) / 3
}

func grayToBinary(g int) int {
	b := g
	for s := g >> 1; s != 0; s >>= 1 {
		b ^= s
	}
	return b
}
