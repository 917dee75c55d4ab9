// Package device provides the named compute targets a decode operator is
// benchmarked on.
package device

import (
	"context"
	"errors"

	"github.com/skobkin/fecbench/internal/chain"
)

// ErrUnavailable is returned when a requested target is not present on this host.
var ErrUnavailable = errors.New("compute target unavailable")

// Target runs the decode operator on one backend.
type Target interface {
	Name() string
	// Launch submits one decode of the whole batch. Asynchronous targets may
	// return before the work completes.
	Launch(ctx context.Context, dec chain.Decoder, llr chain.Soft) error
}

// Describer is implemented by targets whose name alone would misstate where
// the decode runs.
type Describer interface {
	Describe() string
}

// Describe returns t's description, or its name when it has none.
func Describe(t Target) string {
	if d, ok := t.(Describer); ok {
		return d.Describe()
	}
	return t.Name()
}

// Synchronizer is implemented by targets that execute launches asynchronously.
// Wait blocks until every launched decode has finished and reports the first
// failure among them.
type Synchronizer interface {
	Wait(ctx context.Context) error
}

// Wait synchronizes t when it supports it and is a no-op otherwise.
func Wait(ctx context.Context, t Target) error {
	if s, ok := t.(Synchronizer); ok {
		return s.Wait(ctx)
	}
	return nil
}
