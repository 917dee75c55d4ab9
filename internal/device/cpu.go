package device

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/skobkin/fecbench/internal/chain"
)

// CPUOptions configures the host target.
type CPUOptions struct {
	// Threads caps the number of concurrent decode shards. Zero or less
	// means one per logical CPU.
	Threads int
}

// CPU decodes synchronously on the host, splitting the batch into
// contiguous row shards.
type CPU struct {
	threads int
}

// NewCPU builds the host target.
func NewCPU(opts CPUOptions) *CPU {
	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	return &CPU{threads: threads}
}

func (c *CPU) Name() string { return "cpu" }

// Threads reports the effective shard limit.
func (c *CPU) Threads() int { return c.threads }

func (c *CPU) Launch(ctx context.Context, dec chain.Decoder, llr chain.Soft) error {
	if dec == nil {
		return fmt.Errorf("decoder must not be nil")
	}
	if llr.Rows == 0 {
		return nil
	}

	shards := min(c.threads, llr.Rows)
	if shards == 1 {
		_, err := dec.Decode(llr)
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(c.threads)
	per := (llr.Rows + shards - 1) / shards
	for lo := 0; lo < llr.Rows; lo += per {
		part := llr.Slice(lo, min(lo+per, llr.Rows))
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := dec.Decode(part); err != nil {
				return fmt.Errorf("decode rows %d..%d: %w", lo, lo+part.Rows, err)
			}
			return nil
		})
	}
	return group.Wait()
}
