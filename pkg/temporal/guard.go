// Package temporal tracks elapsed time against a deadline and produces the
// normalized time-pressure signal callers use to adapt strategy.
//
// Deadline checks are caller-driven: there is no background timer. A contract
// whose callers stop polling CheckDeadline can drift past a hard deadline
// without being marked expired until the next check. That polling discipline
// is part of the API contract, not an implementation accident.
package temporal

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("temporal: guard already started")
	// ErrNotStarted is returned by queries that need an activation instant.
	ErrNotStarted = errors.New("temporal: guard not started")
	// ErrInvalidBounds is returned for malformed temporal bounds.
	ErrInvalidBounds = errors.New("temporal: invalid bounds")
)

// Kind distinguishes enforcing deadlines from advisory ones.
type Kind string

const (
	// KindHard makes "past deadline" an immediate violation.
	KindHard Kind = "hard"
	// KindSoft never forces termination; it only feeds the time-pressure
	// signal. What quality decay means past a soft deadline is left to the
	// caller. QualityDecay is data, not behavior.
	KindSoft Kind = "soft"
)

// Bounds are the immutable temporal constraints of a contract. Deadline is
// absolute; MaxDuration is relative to activation. When both are set the
// earlier instant wins.
type Bounds struct {
	Deadline     time.Time     `json:"deadline,omitempty"`
	MaxDuration  time.Duration `json:"max_duration,omitempty"`
	Kind         Kind          `json:"kind"`
	QualityDecay float64       `json:"quality_decay,omitempty"`
}

func (b Bounds) validate() error {
	switch b.Kind {
	case KindHard, KindSoft, "":
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidBounds, b.Kind)
	}
	if b.MaxDuration < 0 {
		return fmt.Errorf("%w: negative max_duration %s", ErrInvalidBounds, b.MaxDuration)
	}
	if b.QualityDecay < 0 {
		return fmt.Errorf("%w: negative quality_decay %g", ErrInvalidBounds, b.QualityDecay)
	}
	return nil
}

// Guard tracks one contract's clock.
type Guard struct {
	bounds   Bounds
	started  time.Time
	deadline time.Time
	clock    func() time.Time
}

// NewGuard validates bounds and returns an unstarted guard. Empty kind
// defaults to hard, matching the enforcement-first posture of the rest of
// the engine.
func NewGuard(b Bounds) (*Guard, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	if b.Kind == "" {
		b.Kind = KindHard
	}
	return &Guard{bounds: b, clock: time.Now}, nil
}

// WithClock overrides the clock for testing.
func (g *Guard) WithClock(clock func() time.Time) *Guard {
	g.clock = clock
	return g
}

// Start records the activation instant and resolves the effective deadline.
// Called exactly once, from the contract's Activate.
func (g *Guard) Start() error {
	if !g.started.IsZero() {
		return ErrAlreadyStarted
	}
	g.started = g.clock()
	g.deadline = g.bounds.Deadline
	if g.bounds.MaxDuration > 0 {
		byDuration := g.started.Add(g.bounds.MaxDuration)
		if g.deadline.IsZero() || byDuration.Before(g.deadline) {
			g.deadline = byDuration
		}
	}
	return nil
}

// Started reports whether Start has run.
func (g *Guard) Started() bool { return !g.started.IsZero() }

// Bounds returns the immutable bounds.
func (g *Guard) Bounds() Bounds { return g.bounds }

// HasDeadline reports whether an effective deadline exists.
func (g *Guard) HasDeadline() bool { return !g.deadline.IsZero() }

// Deadline returns the effective deadline resolved at Start.
func (g *Guard) Deadline() time.Time { return g.deadline }

// Elapsed returns wall-clock time since Start.
func (g *Guard) Elapsed() time.Duration {
	if g.started.IsZero() {
		return 0
	}
	return g.clock().Sub(g.started)
}

// Remaining returns deadline minus now; negative once past the deadline.
// Guards without a deadline report the maximum duration.
func (g *Guard) Remaining() time.Duration {
	if g.deadline.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return g.deadline.Sub(g.clock())
}

// TimePressure returns elapsed/(elapsed+remaining) clamped to [0,1]. Advisory
// only: the guard never chooses strategies. Guards without a deadline report 0.
func (g *Guard) TimePressure() float64 {
	if g.started.IsZero() || g.deadline.IsZero() {
		return 0
	}
	remaining := g.Remaining()
	if remaining <= 0 {
		return 1
	}
	elapsed := g.Elapsed()
	if elapsed <= 0 {
		return 0
	}
	return float64(elapsed) / float64(elapsed+remaining)
}

// PastDeadline reports whether now is past the effective deadline, for hard
// and soft kinds alike. Enforcement semantics differ: only hard deadlines
// trigger expiry (see CheckDeadline).
func (g *Guard) PastDeadline() bool {
	if g.deadline.IsZero() {
		return false
	}
	return g.clock().After(g.deadline)
}

// CheckDeadline reports whether the contract should transition to expired:
// true only for a hard deadline that has passed. Soft deadlines never expire
// a contract.
func (g *Guard) CheckDeadline() bool {
	return g.bounds.Kind == KindHard && g.PastDeadline()
}
