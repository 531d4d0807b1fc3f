// Package policy decides what a detected violation does to the contract.
// The policy surface is a small closed set of tagged variants dispatched by
// switch, selected by name at contract-definition time.
package policy

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ErrUnknownPolicy is returned when a policy name does not match a variant.
var ErrUnknownPolicy = errors.New("policy: unknown policy")

// Kind names the built-in enforcement variants.
type Kind string

const (
	// KindStrict transitions the contract to VIOLATED on the first
	// violation; subsequent operations are rejected.
	KindStrict Kind = "strict"
	// KindLenient records the violation and continues; the contract stays
	// ACTIVE with its has-violations flag set.
	KindLenient Kind = "lenient"
	// KindThrottle records the violation and continues, but asks the caller
	// to delay before the next operation. The engine never sleeps on the
	// caller's behalf; the delay is advisory, like time pressure.
	KindThrottle Kind = "throttle"
)

// Directive is the decision a policy hands back to the state machine.
type Directive int

const (
	// Continue leaves the contract active.
	Continue Directive = iota
	// Halt transitions the contract to its terminal violated state.
	Halt
	// Delay leaves the contract active and suggests a pause to the caller.
	Delay
)

// Policy is a pure decision function from violation to directive. The zero
// value is not valid; construct with Strict, Lenient, Throttle, or Parse.
type Policy struct {
	kind    Kind
	limiter *rate.Limiter
}

// Strict returns the hard-stop policy.
func Strict() Policy { return Policy{kind: KindStrict} }

// Lenient returns the warn-and-continue policy.
func Lenient() Policy { return Policy{kind: KindLenient} }

// Throttle returns a policy that slows violating workloads instead of
// stopping them. limit is violations tolerated per second before delays are
// suggested; burst is how many pass undelayed.
func Throttle(limit rate.Limit, burst int) Policy {
	return Policy{kind: KindThrottle, limiter: rate.NewLimiter(limit, burst)}
}

// Parse resolves a policy by its serialized name. Throttle parses with a
// default of one violation per second, burst one.
func Parse(name string) (Policy, error) {
	switch Kind(name) {
	case KindStrict, "":
		return Strict(), nil
	case KindLenient:
		return Lenient(), nil
	case KindThrottle:
		return Throttle(rate.Limit(1), 1), nil
	default:
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}

// Kind returns the variant tag.
func (p Policy) Kind() Kind { return p.kind }

// Decide maps a violation to a directive and, for throttling, the suggested
// delay. Pure with respect to contract state: the state machine owns the
// transition itself.
func (p Policy) Decide() (Directive, time.Duration) {
	switch p.kind {
	case KindStrict:
		return Halt, 0
	case KindThrottle:
		r := p.limiter.Reserve()
		if d := r.Delay(); d > 0 {
			return Delay, d
		}
		return Continue, 0
	default: // lenient
		return Continue, 0
	}
}
