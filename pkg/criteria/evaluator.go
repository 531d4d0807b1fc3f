// Package criteria evaluates contract success criteria. Criteria are CEL
// expressions over a read-only snapshot of the contract (usage counters,
// utilization ratios, time pressure, metadata), compiled once and cached.
package criteria

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

var (
	// ErrInvalidWeight is returned for weights outside [0,1].
	ErrInvalidWeight = errors.New("criteria: weight must be in [0, 1]")
	// ErrEmptyExpression is returned for a criterion with no expression.
	ErrEmptyExpression = errors.New("criteria: expression must not be empty")
	// ErrNotBool is returned when an expression does not evaluate to a boolean.
	ErrNotBool = errors.New("criteria: expression must evaluate to a boolean")
)

// Criterion is one measurable fulfillment condition. Required criteria gate
// fulfillment; optional ones only contribute to the weighted score.
type Criterion struct {
	Name       string  `json:"name"`
	Expression string  `json:"expression"`
	Weight     float64 `json:"weight"`
	Required   bool    `json:"required"`
}

// Validate checks criterion fields.
func (c Criterion) Validate() error {
	if c.Expression == "" {
		return fmt.Errorf("%w (criterion %q)", ErrEmptyExpression, c.Name)
	}
	if c.Weight < 0 || c.Weight > 1 {
		return fmt.Errorf("%w: got %g (criterion %q)", ErrInvalidWeight, c.Weight, c.Name)
	}
	return nil
}

// Snapshot is the evaluation input. All fields are copies; expressions cannot
// reach back into the live contract.
type Snapshot struct {
	Usage        map[string]int64
	Utilization  map[string]float64
	TimePressure float64
	Metadata     map[string]any
}

// Result is the outcome of evaluating a criteria set.
type Result struct {
	Passed bool     `json:"passed"`
	Score  float64  `json:"score"`
	Failed []string `json:"failed,omitempty"`
}

// Evaluator compiles and caches CEL programs.
type Evaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewEvaluator creates an evaluator with the standard environment:
// usage (map of int), utilization (map of double), time_pressure (double),
// metadata (dynamic map).
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("usage", cel.MapType(cel.StringType, cel.IntType)),
		cel.Variable("utilization", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("time_pressure", cel.DoubleType),
		cel.Variable("metadata", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("criteria: failed to create CEL environment: %w", err)
	}
	return &Evaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

// Evaluate runs every criterion against the snapshot. Passed is true when
// all required criteria hold; Score is the weight-normalized fraction of
// passing criteria (1 when no criteria are defined).
func (e *Evaluator) Evaluate(criteria []Criterion, snap Snapshot) (Result, error) {
	if len(criteria) == 0 {
		return Result{Passed: true, Score: 1}, nil
	}

	input := map[string]any{
		"usage":         intMapOrEmpty(snap.Usage),
		"utilization":   floatMapOrEmpty(snap.Utilization),
		"time_pressure": snap.TimePressure,
		"metadata":      mapOrEmpty(snap.Metadata),
	}

	res := Result{Passed: true}
	var totalWeight, passedWeight float64
	for _, c := range criteria {
		if err := c.Validate(); err != nil {
			return Result{}, err
		}
		ok, err := e.evaluateExpr(c.Expression, input)
		if err != nil {
			return Result{}, fmt.Errorf("criteria: %q: %w", c.Name, err)
		}
		totalWeight += c.Weight
		if ok {
			passedWeight += c.Weight
			continue
		}
		res.Failed = append(res.Failed, c.Name)
		if c.Required {
			res.Passed = false
		}
	}
	if totalWeight > 0 {
		res.Score = passedWeight / totalWeight
	} else if len(res.Failed) == 0 {
		res.Score = 1
	}
	return res, nil
}

func (e *Evaluator) evaluateExpr(expr string, input map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(input)
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, ErrNotBool
	}
	return b, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile failed: %w", issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program build failed: %w", err)
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

func intMapOrEmpty(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}

func floatMapOrEmpty(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

func mapOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
