package compute

import (
	"context"
	"fmt"
	"runtime"

	fs "github.com/aristath/featurestore/internal/fstypes"
)

// Engine runs FeatureDefinition.Compute functions on a bounded worker
// pool (spec.md §5: compute is CPU-bound, executed on a worker pool
// with bounded parallelism, default number of cores). Compute itself
// is not a suspension point; only submission to the pool is.
type Engine struct {
	sem chan struct{}
}

// NewEngine creates an Engine with the given pool size. A size <= 0
// defaults to runtime.NumCPU(), matching compute_pool_size's default
// in spec.md §6.
func NewEngine(poolSize int) *Engine {
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}
	return &Engine{sem: make(chan struct{}, poolSize)}
}

// Run executes def.Compute(bars, def.WindowDays) on a worker slot,
// honoring ctx for queuing (not for the compute call itself: once
// started, a compute call runs to completion even if ctx is later
// cancelled, per spec.md §5's cancellation rule that compute continues
// so concurrent and future callers still benefit).
func (e *Engine) Run(ctx context.Context, def *fs.FeatureDefinition, bars []fs.Bar) (fs.ComputeResult, error) {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return fs.ComputeResult{}, fmt.Errorf("%w: waiting for compute slot", fs.ErrDeadline)
	}
	defer func() { <-e.sem }()

	if len(bars) < def.WindowDays {
		return fs.ComputeResult{}, fs.ErrInsufficientData
	}

	result, err := def.Compute(bars, def.WindowDays)
	if err != nil {
		if err == fs.ErrInsufficientData {
			return fs.ComputeResult{}, fs.ErrInsufficientData
		}
		return fs.ComputeResult{}, fmt.Errorf("compute %q: %w", def.Name, err)
	}
	return result, nil
}

// InFlight returns the number of worker slots currently occupied.
func (e *Engine) InFlight() int { return len(e.sem) }

// PoolSize returns the configured worker pool capacity.
func (e *Engine) PoolSize() int { return cap(e.sem) }
