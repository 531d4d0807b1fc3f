// Package ledger tracks multi-dimensional resource consumption against an
// immutable budget. Dimensions are declared up front with an aggregation kind
// (sum, max, gauge) and an optional ceiling; recording past a ceiling yields a
// Violation for the owning contract to act on.
//
// The ledger itself is safe for concurrent use, but the check-then-act unit
// (record, overflow check, enforcement) belongs to the contract's mutex; see
// package contract.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNegativeAmount is returned when a recorded amount is negative.
	ErrNegativeAmount = errors.New("ledger: amount must not be negative")
	// ErrUnknownDimension is returned for dimensions not declared in the budget.
	ErrUnknownDimension = errors.New("ledger: unknown dimension")
)

// Usage is a point-in-time snapshot of consumption. Field names are stable:
// this struct is part of the audit export surface.
type Usage struct {
	Counters    map[string]int64 `json:"counters"`
	StartedAt   time.Time        `json:"started_at"`
	LastUpdated time.Time        `json:"last_updated"`
}

// Violation records a single overflow of usage beyond a ceiling. Entries are
// immutable once created and form the audit trail together with the
// contract's transition history.
type Violation struct {
	ID        string    `json:"id"`
	Dimension string    `json:"dimension"`
	Budgeted  int64     `json:"budgeted"`
	Actual    int64     `json:"actual"`
	Timestamp time.Time `json:"timestamp"`
}

func (v Violation) String() string {
	return fmt.Sprintf("violation[%s]: %d > %d", v.Dimension, v.Actual, v.Budgeted)
}

// Ledger holds the mutable counters for one contract.
type Ledger struct {
	mu       sync.RWMutex
	budget   Budget
	counters map[string]int64
	started  time.Time
	updated  time.Time
	clock    func() time.Time
}

// New creates a ledger with zeroed counters for every declared dimension.
func New(b Budget) *Ledger {
	l := &Ledger{
		budget:   b,
		counters: make(map[string]int64, len(b.dims)),
		clock:    time.Now,
	}
	for name := range b.dims {
		l.counters[name] = 0
	}
	return l
}

// NewSeeded creates a ledger whose counters start from a prior usage
// snapshot. Used by contract renegotiation, which carries consumption across
// to the successor contract instead of mutating an active budget.
func NewSeeded(b Budget, seed Usage) *Ledger {
	l := New(b)
	for name, v := range seed.Counters {
		if _, ok := b.dims[name]; ok {
			l.counters[name] = v
		}
	}
	return l
}

// WithClock overrides the clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Start stamps the activation instant on the usage record.
func (l *Ledger) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	l.started = now
	l.updated = now
}

// Record folds amount into the counter for dimension according to its
// declared aggregation kind, then checks the ceiling. A non-nil Violation
// means the post-update counter exceeds the budget; the caller decides what
// that means (see package policy).
func (l *Ledger) Record(dimension string, amount int64) (*Violation, error) {
	if amount < 0 {
		return nil, fmt.Errorf("%w: %d on %q", ErrNegativeAmount, amount, dimension)
	}
	d, ok := l.budget.dims[dimension]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDimension, dimension)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch d.Kind {
	case AggSum:
		l.counters[dimension] += amount
	case AggMax:
		if amount > l.counters[dimension] {
			l.counters[dimension] = amount
		}
	case AggGauge:
		l.counters[dimension] = amount
	}
	now := l.clock()
	l.updated = now

	if d.Bounded && l.counters[dimension] > d.Ceiling {
		return &Violation{
			ID:        uuid.New().String(),
			Dimension: dimension,
			Budgeted:  d.Ceiling,
			Actual:    l.counters[dimension],
			Timestamp: now,
		}, nil
	}
	return nil, nil
}

// Remaining returns ceiling minus usage for dimension. Unbounded dimensions
// report the Unbounded sentinel; an overflowed dimension reports a negative
// value.
func (l *Ledger) Remaining(dimension string) (int64, error) {
	d, ok := l.budget.dims[dimension]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownDimension, dimension)
	}
	if !d.Bounded {
		return Unbounded, nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return d.Ceiling - l.counters[dimension], nil
}

// Utilization returns usage/ceiling as a ratio in [0, +inf). Ratios above 1
// indicate an already-realized overflow. Unbounded dimensions report 0.
func (l *Ledger) Utilization(dimension string) (float64, error) {
	d, ok := l.budget.dims[dimension]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownDimension, dimension)
	}
	if !d.Bounded || d.Ceiling == 0 {
		return 0, nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return float64(l.counters[dimension]) / float64(d.Ceiling), nil
}

// WouldExceed reports whether recording amount now would push dimension past
// its ceiling. Best-effort pre-check only: the true cost of an operation is
// unknown until it completes, so this validates already-known costs.
func (l *Ledger) WouldExceed(dimension string, amount int64) (bool, error) {
	if amount < 0 {
		return false, fmt.Errorf("%w: %d on %q", ErrNegativeAmount, amount, dimension)
	}
	d, ok := l.budget.dims[dimension]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownDimension, dimension)
	}
	if !d.Bounded {
		return false, nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	switch d.Kind {
	case AggSum:
		return l.counters[dimension]+amount > d.Ceiling, nil
	default: // max, gauge: only the new value matters
		return amount > d.Ceiling, nil
	}
}

// Budget returns the immutable budget this ledger enforces.
func (l *Ledger) Budget() Budget {
	return l.budget
}

// Usage returns a snapshot copy of the counters.
func (l *Ledger) Usage() Usage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	counters := make(map[string]int64, len(l.counters))
	for k, v := range l.counters {
		counters[k] = v
	}
	return Usage{Counters: counters, StartedAt: l.started, LastUpdated: l.updated}
}
