// Package contract is the lifecycle wrapper around a resource ledger and a
// temporal guard: the state machine that decides, at every operation
// boundary, whether execution may proceed and what a violation does.
//
// One Contract owns one ledger, one guard, one audit trail, and a reference
// to its event sink. A single mutex per contract makes the counter update,
// the overflow check, the policy decision, and the resulting transition one
// atomic unit: two concurrent reporters can never both pass a check that
// together would overflow the budget.
//
// There is no ambient "current contract": callers pass the handle explicitly,
// which is what makes multiple concurrent contracts safe.
package contract

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/covenant-labs/covenant/core/pkg/audit"
	"github.com/covenant-labs/covenant/core/pkg/criteria"
	"github.com/covenant-labs/covenant/core/pkg/events"
	"github.com/covenant-labs/covenant/core/pkg/ledger"
	"github.com/covenant-labs/covenant/core/pkg/policy"
	"github.com/covenant-labs/covenant/core/pkg/temporal"
)

var (
	// ErrInvalidTransition is returned for any operation attempted from a
	// state that does not permit it. Never silently ignored.
	ErrInvalidTransition = errors.New("contract: invalid transition")
	// ErrContractViolated is returned when an operation is rejected because
	// enforcement already moved the contract to VIOLATED or EXPIRED. Wraps
	// ErrInvalidTransition so errors.Is works for both.
	ErrContractViolated = fmt.Errorf("contract: execution halted by enforcement: %w", ErrInvalidTransition)
	// ErrCriteriaNotMet is returned by MarkFulfilled when a required success
	// criterion fails. The contract stays ACTIVE.
	ErrCriteriaNotMet = errors.New("contract: success criteria not met")
)

// State is a contract lifecycle state. Terminal states are absorbing: once a
// contract leaves ACTIVE, no resource can be attributed to it and no further
// enforcement side effects fire (the closed-ledger invariant).
type State string

const (
	StateDrafted    State = "DRAFTED"
	StateActive     State = "ACTIVE"
	StateFulfilled  State = "FULFILLED"
	StateViolated   State = "VIOLATED"
	StateExpired    State = "EXPIRED"
	StateTerminated State = "TERMINATED"
)

// Terminal reports whether s permits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateFulfilled, StateViolated, StateExpired, StateTerminated:
		return true
	}
	return false
}

// Decision discriminates the outcome of RecordConsumption. Callers are
// forced to handle the non-happy path explicitly; violations are not
// signaled through errors.
type Decision int

const (
	// DecisionOK means the consumption was within budget.
	DecisionOK Decision = iota
	// DecisionWarn means a violation was recorded but the lenient policy
	// left the contract active.
	DecisionWarn
	// DecisionHalt means the strict policy moved the contract to VIOLATED.
	DecisionHalt
	// DecisionDelay means the throttle policy suggests pausing before the
	// next operation. The engine never sleeps on the caller's behalf.
	DecisionDelay
)

func (d Decision) String() string {
	switch d {
	case DecisionOK:
		return "ok"
	case DecisionWarn:
		return "warn"
	case DecisionHalt:
		return "halt"
	case DecisionDelay:
		return "delay"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// Outcome is the result of one consumption report.
type Outcome struct {
	Decision  Decision
	Violation *ledger.Violation
	// Delay is the suggested pause for DecisionDelay.
	Delay time.Duration
}

// Contract binds a budget, a deadline, and an enforcement policy around one
// logical unit of agent work.
type Contract struct {
	mu sync.Mutex

	spec  Spec
	state State

	ledger *ledger.Ledger
	guard  *temporal.Guard
	pol    policy.Policy
	sink   *events.Sink
	trail  *audit.Trail
	eval   *criteria.Evaluator

	violations    []ledger.Violation
	hasViolations bool

	clock  func() time.Time
	logger *slog.Logger
	seed   *ledger.Usage
}

// Option configures a contract at construction time.
type Option func(*Contract)

// WithClock overrides the clock everywhere time matters (ledger, guard,
// trail, event stamps). For testing.
func WithClock(clock func() time.Time) Option {
	return func(c *Contract) { c.clock = clock }
}

// WithLogger sets the logger used by the event sink for observer failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Contract) { c.logger = logger }
}

// WithSeedUsage starts the ledger from a prior usage snapshot. Used by
// Renegotiate to carry consumption into a successor contract.
func WithSeedUsage(u ledger.Usage) Option {
	return func(c *Contract) { c.seed = &u }
}

// New builds a DRAFTED contract from spec. Defaults: generated UUID id,
// version 1.0.0, strict policy.
func New(spec Spec, opts ...Option) (*Contract, error) {
	spec = spec.withDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	c := &Contract{
		spec:   spec,
		state:  StateDrafted,
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	budget, err := ledger.NewBudget(spec.Budget...)
	if err != nil {
		return nil, err
	}
	if c.seed != nil {
		c.ledger = ledger.NewSeeded(budget, *c.seed).WithClock(c.clock)
	} else {
		c.ledger = ledger.New(budget).WithClock(c.clock)
	}

	guard, err := temporal.NewGuard(spec.Temporal)
	if err != nil {
		return nil, err
	}
	c.guard = guard.WithClock(c.clock)

	pol, err := policy.Parse(string(spec.Policy))
	if err != nil {
		return nil, err
	}
	c.pol = pol

	if len(spec.Criteria) > 0 {
		eval, err := criteria.NewEvaluator()
		if err != nil {
			return nil, err
		}
		c.eval = eval
	}

	c.trail = audit.NewTrail(spec.ID).WithClock(c.clock)
	c.sink = events.NewSink(c.logger).WithClock(c.clock)
	return c, nil
}

// Subscribe registers an observer for this contract's events.
func (c *Contract) Subscribe(o events.Observer) {
	c.sink.Subscribe(o)
}

// Activate transitions DRAFTED to ACTIVE, stamping the ledger and starting
// the temporal guard.
func (c *Contract) Activate() error {
	c.mu.Lock()
	if c.state != StateDrafted {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot activate from %s", ErrInvalidTransition, state)
	}
	if err := c.guard.Start(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.ledger.Start()
	c.state = StateActive
	c.appendTransition(StateDrafted, StateActive, "activated")
	pending := []events.Event{{
		ContractID: c.spec.ID,
		Type:       events.TypeActivated,
		State:      string(StateActive),
	}}
	c.mu.Unlock()

	c.emit(pending)
	return nil
}

// RecordConsumption is the single write path for collaborators reporting the
// actual cost of a completed operation. It updates the ledger, detects
// overflow, applies the enforcement policy, and notifies observers, all as
// one atomic unit.
func (c *Contract) RecordConsumption(dimension string, amount int64) (Outcome, error) {
	c.mu.Lock()
	if c.state != StateActive {
		err := c.rejectionLocked()
		c.mu.Unlock()
		return Outcome{}, err
	}

	violation, err := c.ledger.Record(dimension, amount)
	if err != nil {
		c.mu.Unlock()
		return Outcome{}, err
	}

	c.trailAppend(audit.KindConsumption, map[string]any{
		"dimension": dimension,
		"amount":    amount,
	})
	pending := []events.Event{{
		ContractID: c.spec.ID,
		Type:       events.TypeConsumptionRecorded,
		State:      string(c.state),
		Dimension:  dimension,
		Amount:     amount,
	}}

	outcome := Outcome{Decision: DecisionOK}
	if violation != nil {
		c.violations = append(c.violations, *violation)
		c.hasViolations = true
		c.trailAppend(audit.KindViolation, map[string]any{
			"violation_id": violation.ID,
			"dimension":    violation.Dimension,
			"budgeted":     violation.Budgeted,
			"actual":       violation.Actual,
		})
		pending = append(pending, events.Event{
			ContractID: c.spec.ID,
			Type:       events.TypeViolationDetected,
			State:      string(c.state),
			Dimension:  dimension,
			Amount:     amount,
			Violation:  violation,
		})

		directive, delay := c.pol.Decide()
		switch directive {
		case policy.Halt:
			c.appendTransition(StateActive, StateViolated, violation.String())
			c.state = StateViolated
			pending = append(pending, events.Event{
				ContractID: c.spec.ID,
				Type:       events.TypeStateChanged,
				State:      string(StateViolated),
				PriorState: string(StateActive),
				Reason:     violation.String(),
			})
			outcome = Outcome{Decision: DecisionHalt, Violation: violation}
		case policy.Delay:
			outcome = Outcome{Decision: DecisionDelay, Violation: violation, Delay: delay}
		default:
			outcome = Outcome{Decision: DecisionWarn, Violation: violation}
		}
	}
	c.mu.Unlock()

	c.emit(pending)
	return outcome, nil
}

// CheckDeadline polls the temporal guard. Hard deadlines that have passed
// expire the contract; soft deadlines never do. Deadline checks are
// caller-driven; there is no background timer, so callers must poll.
func (c *Contract) CheckDeadline() (bool, error) {
	c.mu.Lock()
	if c.state != StateActive {
		err := c.rejectionLocked()
		c.mu.Unlock()
		return false, err
	}
	if !c.guard.CheckDeadline() {
		c.mu.Unlock()
		return false, nil
	}

	deadline := c.guard.Deadline()
	reason := fmt.Sprintf("hard deadline passed: %s", deadline.Format(time.RFC3339))
	c.appendTransition(StateActive, StateExpired, reason)
	c.state = StateExpired
	pending := []events.Event{
		{
			ContractID: c.spec.ID,
			Type:       events.TypeDeadlineExceeded,
			State:      string(StateExpired),
			Reason:     reason,
		},
		{
			ContractID: c.spec.ID,
			Type:       events.TypeStateChanged,
			State:      string(StateExpired),
			PriorState: string(StateActive),
			Reason:     reason,
		},
	}
	c.mu.Unlock()

	c.emit(pending)
	return true, nil
}

// MarkFulfilled transitions ACTIVE to FULFILLED once the spec's success
// criteria hold. A failing required criterion returns ErrCriteriaNotMet and
// leaves the contract ACTIVE.
func (c *Contract) MarkFulfilled() error {
	c.mu.Lock()
	if c.state != StateActive {
		err := c.rejectionLocked()
		c.mu.Unlock()
		return err
	}

	if c.eval != nil {
		res, err := c.eval.Evaluate(c.spec.Criteria, c.snapshotLocked())
		if err != nil {
			c.mu.Unlock()
			return err
		}
		if !res.Passed {
			c.mu.Unlock()
			return fmt.Errorf("%w: failed criteria %v", ErrCriteriaNotMet, res.Failed)
		}
	}

	c.appendTransition(StateActive, StateFulfilled, "success criteria met")
	c.state = StateFulfilled
	pending := []events.Event{{
		ContractID: c.spec.ID,
		Type:       events.TypeStateChanged,
		State:      string(StateFulfilled),
		PriorState: string(StateActive),
		Reason:     "success criteria met",
	}}
	c.mu.Unlock()

	c.emit(pending)
	return nil
}

// Cancel transitions ACTIVE to TERMINATED. It cannot interrupt an in-flight
// external operation; it only prevents further accounting and admission.
func (c *Contract) Cancel(reason string) error {
	c.mu.Lock()
	if c.state != StateActive {
		err := c.rejectionLocked()
		c.mu.Unlock()
		return err
	}
	if reason == "" {
		reason = "cancelled"
	}
	c.appendTransition(StateActive, StateTerminated, reason)
	c.state = StateTerminated
	pending := []events.Event{{
		ContractID: c.spec.ID,
		Type:       events.TypeStateChanged,
		State:      string(StateTerminated),
		PriorState: string(StateActive),
		Reason:     reason,
	}}
	c.mu.Unlock()

	c.emit(pending)
	return nil
}

// rejectionLocked picks the error for an operation attempted outside ACTIVE.
// VIOLATED and EXPIRED contracts report ErrContractViolated so callers can
// tell "you may not proceed" from a generic misuse.
func (c *Contract) rejectionLocked() error {
	switch c.state {
	case StateViolated, StateExpired:
		return fmt.Errorf("%w (state %s)", ErrContractViolated, c.state)
	default:
		return fmt.Errorf("%w: operation requires ACTIVE, contract is %s", ErrInvalidTransition, c.state)
	}
}

func (c *Contract) appendTransition(from, to State, reason string) {
	c.trailAppend(audit.KindTransition, map[string]any{
		"from":   string(from),
		"to":     string(to),
		"reason": reason,
	})
}

func (c *Contract) trailAppend(kind audit.EntryKind, data map[string]any) {
	if _, err := c.trail.Append(kind, data); err != nil {
		// Trail writes only fail on unmarshalable data, which these call
		// sites never produce. Log rather than block enforcement.
		c.logger.Error("audit trail append failed", "contract_id", c.spec.ID, "error", err)
	}
}

func (c *Contract) emit(pending []events.Event) {
	for _, e := range pending {
		c.sink.Emit(e)
	}
}

func (c *Contract) snapshotLocked() criteria.Snapshot {
	usage := c.ledger.Usage()
	utilization := make(map[string]float64, len(usage.Counters))
	for name := range usage.Counters {
		u, err := c.ledger.Utilization(name)
		if err == nil {
			utilization[name] = u
		}
	}
	return criteria.Snapshot{
		Usage:        usage.Counters,
		Utilization:  utilization,
		TimePressure: c.guard.TimePressure(),
		Metadata:     c.spec.Metadata,
	}
}

// ID returns the contract id.
func (c *Contract) ID() string { return c.spec.ID }

// Spec returns a copy of the contract definition.
func (c *Contract) Spec() Spec { return c.spec }

// State returns the current lifecycle state.
func (c *Contract) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HasViolations reports whether any violation was recorded (lenient and
// throttle contracts stay ACTIVE with this flag set).
func (c *Contract) HasViolations() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasViolations
}

// Violations returns a copy of the violation records in detection order.
func (c *Contract) Violations() []ledger.Violation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ledger.Violation, len(c.violations))
	copy(out, c.violations)
	return out
}

// Usage returns a snapshot of the consumption counters.
func (c *Contract) Usage() ledger.Usage { return c.ledger.Usage() }

// Remaining returns headroom for a dimension; ledger.Unbounded when the
// dimension carries no ceiling.
func (c *Contract) Remaining(dimension string) (int64, error) {
	return c.ledger.Remaining(dimension)
}

// Utilization returns usage/budget for a dimension.
func (c *Contract) Utilization(dimension string) (float64, error) {
	return c.ledger.Utilization(dimension)
}

// WouldExceed pre-checks a known cost against the remaining budget.
func (c *Contract) WouldExceed(dimension string, amount int64) (bool, error) {
	return c.ledger.WouldExceed(dimension, amount)
}

// Dimensions returns the budget's dimension declarations.
func (c *Contract) Dimensions() []ledger.Dimension {
	return c.ledger.Budget().Dimensions()
}

// TimePressure returns the guard's normalized deadline-proximity signal.
func (c *Contract) TimePressure() float64 { return c.guard.TimePressure() }

// Guard returns the temporal guard for read-only queries.
func (c *Contract) Guard() *temporal.Guard { return c.guard }

// Trail returns the contract's audit trail.
func (c *Contract) Trail() *audit.Trail { return c.trail }

// ExportPack assembles the compliance bundle: violations, final usage, and
// the full hash-chained trail.
func (c *Contract) ExportPack() (audit.Pack, error) {
	c.mu.Lock()
	state := c.state
	violations := make([]ledger.Violation, len(c.violations))
	copy(violations, c.violations)
	c.mu.Unlock()

	return audit.BuildPack(c.trail, c.spec.Name, c.spec.Version, string(state), c.ledger.Usage(), violations)
}
