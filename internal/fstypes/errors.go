package fstypes

import "errors"

// Sentinel errors for the taxonomy in spec.md §7. Callers compare with
// errors.Is; wrapped context (ticker, feature name) travels via %w.
var (
	// ErrUnknownFeature means the name is not registered. Terminal to
	// the whole call.
	ErrUnknownFeature = errors.New("featurestore: unknown feature")

	// ErrUnknownTicker means the raw-data provider rejected the symbol.
	// Terminal per-feature; other features in a partial-mode batch may
	// still succeed.
	ErrUnknownTicker = errors.New("featurestore: unknown ticker")

	// ErrInsufficientData means fewer bars than the window requires.
	// Never retried; cached as Absent with a short TTL.
	ErrInsufficientData = errors.New("featurestore: insufficient data")

	// ErrUpstream is a transient raw-data provider failure, retried per
	// policy and surfaced once retries are exhausted.
	ErrUpstream = errors.New("featurestore: upstream failure")

	// ErrDeadline means the caller's deadline elapsed while waiting.
	// Compute already in flight continues in the background.
	ErrDeadline = errors.New("featurestore: deadline exceeded")

	// ErrOverloaded means the pending-compute buffer was exceeded; the
	// caller should back off.
	ErrOverloaded = errors.New("featurestore: overloaded")
)

// TierUnavailableError is informational: a cache tier could not be
// reached. It is never fatal by itself — the Facade degrades and
// keeps going — but callers that want to observe degradation (tests,
// the HTTP surface) can type-assert for it.
type TierUnavailableError struct {
	Tier SourceTier
	Err  error
}

func (e *TierUnavailableError) Error() string {
	if e.Err == nil {
		return "featurestore: tier unavailable: " + string(e.Tier)
	}
	return "featurestore: tier unavailable: " + string(e.Tier) + ": " + e.Err.Error()
}

func (e *TierUnavailableError) Unwrap() error { return e.Err }
