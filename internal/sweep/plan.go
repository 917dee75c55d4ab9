// Package sweep drives a resumable grid of benchmark points.
package sweep

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/skobkin/fecbench/internal/chain"
	"github.com/skobkin/fecbench/internal/checkpoint"
)

const (
	DefaultLedger     = "ldpc_sionna_spark.csv"
	DefaultCheckpoint = "ldpc_sionna_spark.checkpoint"
)

var planValidate = validator.New()

// Plan is the sweep grid. Every combination of repetition, codeword count
// and iteration count becomes one point.
type Plan struct {
	Reps         int     `yaml:"reps" validate:"gt=0"`
	NumCodewords []int   `yaml:"num_codewords" validate:"required,min=1,dive,gt=0"`
	NumIter      []int   `yaml:"num_iter" validate:"required,min=1,dive,gt=0"`
	K            int     `yaml:"k" validate:"gt=0"`
	Rate         float64 `yaml:"rate" validate:"gt=0,lte=1"`
	M            int     `yaml:"m" validate:"gt=0"`
	EbNoDB       float64 `yaml:"ebno_db"`
	Repeat       int     `yaml:"repeat" validate:"gt=0"`
	CPUThreads   int     `yaml:"cpu_threads" validate:"gte=0"`
	NoGPU        bool    `yaml:"no_gpu"`
	Seed         uint64  `yaml:"seed"`
	Ledger       string  `yaml:"ledger" validate:"required"`
	Checkpoint   string  `yaml:"checkpoint" validate:"required"`
}

// DefaultPlan returns the values applied before a plan file is decoded.
func DefaultPlan() Plan {
	return Plan{
		Reps:       1,
		K:          512,
		Rate:       0.5,
		M:          4,
		EbNoDB:     4,
		Repeat:     10,
		Ledger:     DefaultLedger,
		Checkpoint: DefaultCheckpoint,
	}
}

// LoadPlan reads and validates a YAML plan file.
func LoadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read plan: %w", err)
	}
	return DecodePlan(bytes.NewReader(data))
}

// DecodePlan decodes a YAML plan on top of DefaultPlan and validates it.
// Unknown keys are rejected.
func DecodePlan(r io.Reader) (Plan, error) {
	plan := DefaultPlan()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&plan); err != nil && !errors.Is(err, io.EOF) {
		return Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// Validate checks field constraints and that every iteration count yields a
// configuration the reference chain can build.
func (p Plan) Validate() error {
	if err := planValidate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", chain.ErrInvalidConfig, err)
	}
	for _, iter := range p.NumIter {
		if err := chain.ValidateReference(p.chainConfig(iter)); err != nil {
			return err
		}
	}
	return nil
}

func (p Plan) chainConfig(numIter int) chain.Config {
	return chain.Config{K: p.K, Rate: p.Rate, M: p.M, NumIter: numIter}
}

// Point is one sweep coordinate with its chain configuration.
type Point struct {
	Label        checkpoint.Label
	Config       chain.Config
	NumCodewords int
}

// Points enumerates the grid: repetitions outermost, then codeword counts,
// then iteration counts.
func (p Plan) Points() []Point {
	points := make([]Point, 0, p.Reps*len(p.NumCodewords)*len(p.NumIter))
	for rep := 0; rep < p.Reps; rep++ {
		for _, n := range p.NumCodewords {
			for _, iter := range p.NumIter {
				points = append(points, Point{
					Label:        checkpoint.Label{Rep: rep, N: n, I: iter},
					Config:       p.chainConfig(iter),
					NumCodewords: n,
				})
			}
		}
	}
	return points
}

// Remaining drops every point up to and including the checkpointed one.
// When the checkpoint names a coordinate outside the grid, all points are
// returned and found is false.
func Remaining(points []Point, state checkpoint.State) (rest []Point, found bool) {
	last := state.Label()
	for i, pt := range points {
		if pt.Label == last {
			return points[i+1:], true
		}
	}
	return points, false
}
