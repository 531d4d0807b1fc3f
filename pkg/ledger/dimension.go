package ledger

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmptyDimensionName is returned when a dimension is declared without a name.
	ErrEmptyDimensionName = errors.New("ledger: dimension name must not be empty")
	// ErrDuplicateDimension is returned when a budget declares the same dimension twice.
	ErrDuplicateDimension = errors.New("ledger: duplicate dimension")
	// ErrInvalidAggregation is returned when the aggregation kind is not sum, max, or gauge.
	ErrInvalidAggregation = errors.New("ledger: invalid aggregation kind")
	// ErrNegativeCeiling is returned when a ceiling is negative.
	ErrNegativeCeiling = errors.New("ledger: ceiling must not be negative")
)

// Unbounded is the sentinel returned by Remaining for dimensions that are
// tracked but carry no ceiling.
const Unbounded int64 = math.MaxInt64

// Aggregation defines how recorded amounts fold into the running counter.
type Aggregation string

const (
	// AggSum adds each recorded amount (tokens, calls, cost).
	AggSum Aggregation = "sum"
	// AggMax keeps the largest recorded amount (peak memory).
	AggMax Aggregation = "max"
	// AggGauge overwrites with the latest recorded amount.
	AggGauge Aggregation = "gauge"
)

// Canonical dimension names. Fractional quantities use scaled integer units:
// cost in micro-USD, compute in milliseconds, memory in bytes.
const (
	DimTokens          = "tokens"
	DimReasoningTokens = "reasoning_tokens"
	DimTextTokens      = "text_tokens"
	DimAPICalls        = "api_calls"
	DimWebSearches     = "web_searches"
	DimToolInvocations = "tool_invocations"
	DimCostMicroUSD    = "cost_micro_usd"
	DimComputeMillis   = "compute_millis"
	DimPeakMemoryBytes = "peak_memory_bytes"
)

// Dimension declares one tracked resource axis. The aggregation kind and the
// ceiling are fixed at budget-definition time.
type Dimension struct {
	Name    string      `json:"name"`
	Kind    Aggregation `json:"kind"`
	Ceiling int64       `json:"ceiling,omitempty"`
	// Bounded is false for dimensions that are tracked but never enforced.
	Bounded bool `json:"bounded"`
}

// Sum declares an additive dimension with a ceiling.
func Sum(name string, ceiling int64) Dimension {
	return Dimension{Name: name, Kind: AggSum, Ceiling: ceiling, Bounded: true}
}

// Max declares a running-maximum dimension with a ceiling.
func Max(name string, ceiling int64) Dimension {
	return Dimension{Name: name, Kind: AggMax, Ceiling: ceiling, Bounded: true}
}

// Gauge declares a last-value dimension with a ceiling.
func Gauge(name string, ceiling int64) Dimension {
	return Dimension{Name: name, Kind: AggGauge, Ceiling: ceiling, Bounded: true}
}

// Tracked declares an unbounded dimension: usage is accumulated but the
// ledger never reports an overflow for it.
func Tracked(name string, kind Aggregation) Dimension {
	return Dimension{Name: name, Kind: kind}
}

func (d Dimension) validate() error {
	if d.Name == "" {
		return ErrEmptyDimensionName
	}
	switch d.Kind {
	case AggSum, AggMax, AggGauge:
	default:
		return fmt.Errorf("%w: %q on dimension %q", ErrInvalidAggregation, d.Kind, d.Name)
	}
	if d.Bounded && d.Ceiling < 0 {
		return fmt.Errorf("%w: %d on dimension %q", ErrNegativeCeiling, d.Ceiling, d.Name)
	}
	return nil
}

// Budget is the immutable set of declared dimensions and their ceilings.
// Any change to a budget requires a new contract; see contract.Renegotiate.
type Budget struct {
	dims  map[string]Dimension
	order []string
}

// NewBudget builds a budget from dimension declarations. Declaration order is
// preserved for serialization.
func NewBudget(dims ...Dimension) (Budget, error) {
	b := Budget{dims: make(map[string]Dimension, len(dims))}
	for _, d := range dims {
		if err := d.validate(); err != nil {
			return Budget{}, err
		}
		if _, ok := b.dims[d.Name]; ok {
			return Budget{}, fmt.Errorf("%w: %q", ErrDuplicateDimension, d.Name)
		}
		b.dims[d.Name] = d
		b.order = append(b.order, d.Name)
	}
	return b, nil
}

// MustBudget is NewBudget that panics on invalid declarations. For tests and
// static literals only.
func MustBudget(dims ...Dimension) Budget {
	b, err := NewBudget(dims...)
	if err != nil {
		panic(err)
	}
	return b
}

// Dimension returns the declaration for name.
func (b Budget) Dimension(name string) (Dimension, bool) {
	d, ok := b.dims[name]
	return d, ok
}

// Dimensions returns the declarations in declaration order.
func (b Budget) Dimensions() []Dimension {
	out := make([]Dimension, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.dims[name])
	}
	return out
}

// Ceiling returns the ceiling for name, or Unbounded if the dimension has no
// ceiling. The second return reports whether the dimension is declared at all.
func (b Budget) Ceiling(name string) (int64, bool) {
	d, ok := b.dims[name]
	if !ok {
		return 0, false
	}
	if !d.Bounded {
		return Unbounded, true
	}
	return d.Ceiling, true
}
