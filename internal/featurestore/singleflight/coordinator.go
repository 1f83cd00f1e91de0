// Package singleflight implements the Singleflight Coordinator (C6):
// at most one compute in flight per FeatureKey process-wide, with
// concurrent requesters observing the same result, plus an optional
// cross-process distributed lock for multi-instance deployments.
package singleflight

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	fs "github.com/aristath/featurestore/internal/fstypes"
)

// DistributedLock is the cross-process coordination primitive
// spec.md §4.6 describes: a short-lived lock on a key derived from
// FeatureKey, bounding hold time so a crashed holder can't wedge
// progress forever. Implementations (Redis SETNX, etcd lease, ...)
// live outside this package; InMemoryLock is the single-binary
// stand-in used by tests and the default wiring.
type DistributedLock interface {
	// TryAcquire attempts to take the lock for key, held for at most
	// ttl. It returns ok=false (no error) if another holder has it.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (ok bool, err error)
	// Release gives up the lock early. Safe to call even if the lock
	// already expired.
	Release(ctx context.Context, key string) error
}

// PollFunc looks up a result from a peer process while this process
// doesn't hold the distributed lock (typically an L1-then-L2 probe).
// A false second return means "not found yet, keep polling".
type PollFunc func(ctx context.Context) (fs.FeatureValue, bool, error)

// Coordinator dedups compute invocations per FeatureKey, in-process
// via golang.org/x/sync/singleflight and, when a DistributedLock is
// configured, across processes via a short-lived lock plus a bounded
// poll-then-fallback (spec.md §4.6: lock acquisition failure causes
// the caller to poll for the peer's result up to a deadline before
// falling back to its own compute — correctness never depends on the
// lock, only efficiency does).
type Coordinator struct {
	group singleflight.Group
	lock  DistributedLock

	lockTTL      time.Duration
	pollDeadline time.Duration
	pollInterval time.Duration
}

// Options configures a Coordinator. LockTTL and PollDeadline default
// to spec.md §6's singleflight_lock_ttl / singleflight_poll_deadline
// (both 30s) when zero.
type Options struct {
	Lock         DistributedLock // nil disables cross-process dedup
	LockTTL      time.Duration
	PollDeadline time.Duration
	PollInterval time.Duration
}

// New creates a Coordinator. With opts.Lock == nil, dedup is
// process-local only, which is sufficient for tests and single-binary
// deployments.
func New(opts Options) *Coordinator {
	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	pollDeadline := opts.PollDeadline
	if pollDeadline <= 0 {
		pollDeadline = lockTTL
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	return &Coordinator{
		lock:         opts.Lock,
		lockTTL:      lockTTL,
		pollDeadline: pollDeadline,
		pollInterval: pollInterval,
	}
}

// Do guarantees at most one concurrent compute for key within this
// process; all callers that arrive while it is in flight observe the
// same (value, error). A caller that arrives strictly after
// completion does not block.
//
// fn runs detached from ctx: Do uses DoChan so that when ctx expires,
// this call returns a Deadline error to its caller while the
// in-flight fn keeps running to completion in the background,
// honoring spec.md §5's rule that cancellation never stops a compute
// already under way — only the waiting.
//
// When a DistributedLock is configured, the process-local winner also
// tries to take the cross-process lock before running fn. If it can't
// acquire the lock, it polls via poll up to pollDeadline; if poll
// never finds a result, it falls back to running fn anyway.
func (c *Coordinator) Do(ctx context.Context, key string, fn func() (fs.FeatureValue, error), poll PollFunc) (fs.FeatureValue, error) {
	resultCh := c.group.DoChan(key, func() (interface{}, error) {
		if c.lock == nil {
			return fn()
		}

		lockKey := "featurestore:singleflight:" + key
		// The lock lives for at most lockTTL regardless of ctx, since
		// the compute it guards must be allowed to outlive any single
		// caller's deadline.
		lockCtx := context.Background()
		acquired, lockErr := c.lock.TryAcquire(lockCtx, lockKey, c.lockTTL)
		if lockErr != nil {
			return fn()
		}
		if acquired {
			defer func() { _ = c.lock.Release(lockCtx, lockKey) }()
			return fn()
		}

		if poll != nil {
			if val, ok, pollErr := c.pollForResult(lockCtx, poll); pollErr == nil && ok {
				return val, nil
			}
		}
		return fn()
	})

	select {
	case res := <-resultCh:
		if res.Err != nil {
			var zero fs.FeatureValue
			return zero, res.Err
		}
		return res.Val.(fs.FeatureValue), nil
	case <-ctx.Done():
		var zero fs.FeatureValue
		return zero, fmt.Errorf("%w: waiting for compute result", fs.ErrDeadline)
	}
}

func (c *Coordinator) pollForResult(ctx context.Context, poll PollFunc) (fs.FeatureValue, bool, error) {
	deadline := time.Now().Add(c.pollDeadline)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if v, ok, err := poll(ctx); err != nil {
			return fs.FeatureValue{}, false, err
		} else if ok {
			return v, true, nil
		}
		if time.Now().After(deadline) {
			return fs.FeatureValue{}, false, nil
		}
		select {
		case <-ctx.Done():
			return fs.FeatureValue{}, false, fmt.Errorf("%w: polling for peer compute result", fs.ErrDeadline)
		case <-ticker.C:
		}
	}
}

// Forget removes key from the in-flight table without waiting for a
// result, used to clear a wedged entry in tests.
func (c *Coordinator) Forget(key string) { c.group.Forget(key) }
