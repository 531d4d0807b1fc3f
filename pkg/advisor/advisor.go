// Package advisor is the read-only derived view over a contract's ledger and
// temporal guard: per-dimension headroom, utilization, and time pressure,
// plus mode-aware strategy recommendations and subtask allocation planning.
// It performs no enforcement and has no side effects.
package advisor

import (
	"fmt"
	"sort"

	"github.com/covenant-labs/covenant/core/pkg/ledger"
)

// Source is the narrow query surface the advisor needs. *contract.Contract
// satisfies it.
type Source interface {
	Dimensions() []ledger.Dimension
	Remaining(dimension string) (int64, error)
	Utilization(dimension string) (float64, error)
	TimePressure() float64
	Usage() ledger.Usage
}

// Mode is the execution posture a caller wants recommendations for.
type Mode string

const (
	// ModeUrgent favors speed: spend budget to avoid bottlenecks.
	ModeUrgent Mode = "urgent"
	// ModeBalanced is proportional allocation with a modest reserve.
	ModeBalanced Mode = "balanced"
	// ModeEconomical minimizes spend and keeps a large reserve.
	ModeEconomical Mode = "economical"
)

// Report is the derived signal bundle for adaptive callers.
type Report struct {
	Remaining          map[string]int64   `json:"remaining"`
	Utilization        map[string]float64 `json:"utilization"`
	OverallUtilization float64            `json:"overall_utilization"`
	TimePressure       float64            `json:"time_pressure"`
}

// Recommendation is advisory output; nothing here gates execution.
type Recommendation struct {
	Mode              Mode     `json:"mode"`
	BudgetUtilization float64  `json:"budget_utilization"`
	Approach          string   `json:"approach"`
	RiskLevel         string   `json:"risk_level"`
	ShouldContinue    bool     `json:"should_continue"`
	Warnings          []string `json:"warnings,omitempty"`
}

// Advisor computes derived signals from a contract.
type Advisor struct {
	src Source
}

// New wraps a query source.
func New(src Source) *Advisor {
	return &Advisor{src: src}
}

// Report computes remaining and utilization for every bounded dimension plus
// the overall picture. Overall utilization is the worst single dimension;
// the first budget to run out is the one that stops the work.
func (a *Advisor) Report() Report {
	r := Report{
		Remaining:    make(map[string]int64),
		Utilization:  make(map[string]float64),
		TimePressure: a.src.TimePressure(),
	}
	for _, d := range a.src.Dimensions() {
		if !d.Bounded {
			continue
		}
		if rem, err := a.src.Remaining(d.Name); err == nil {
			r.Remaining[d.Name] = rem
		}
		if u, err := a.src.Utilization(d.Name); err == nil {
			r.Utilization[d.Name] = u
			if u > r.OverallUtilization {
				r.OverallUtilization = u
			}
		}
	}
	return r
}

// Recommend maps the current budget state to a strategy recommendation for
// the given mode. Thresholds follow the worst-dimension utilization and the
// time-pressure signal.
func (a *Advisor) Recommend(mode Mode) Recommendation {
	report := a.Report()
	util := report.OverallUtilization

	rec := Recommendation{
		Mode:              mode,
		BudgetUtilization: util,
		ShouldContinue:    true,
		RiskLevel:         "low",
		Approach:          "proceed as planned",
	}

	switch {
	case util >= 1.0:
		rec.RiskLevel = "high"
		rec.ShouldContinue = false
		rec.Approach = "budget exhausted; stop or renegotiate"
		rec.Warnings = append(rec.Warnings, "at least one dimension is over budget")
	case util >= 0.9:
		rec.RiskLevel = "high"
		rec.Approach = "finish current work only; no new subtasks"
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("budget utilization at %.0f%%", util*100))
	case util >= 0.7:
		rec.RiskLevel = "medium"
		if mode == ModeEconomical {
			rec.Approach = "switch to cheapest execution variants"
		} else {
			rec.Approach = "prefer cheaper execution variants"
		}
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("budget utilization at %.0f%%", util*100))
	default:
		switch mode {
		case ModeUrgent:
			rec.Approach = "spend freely to minimize latency"
		case ModeEconomical:
			rec.Approach = "conserve budget; batch where possible"
		default:
			rec.Approach = "proceed as planned"
		}
	}

	if report.TimePressure >= 0.8 {
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("time pressure at %.2f", report.TimePressure))
		if rec.RiskLevel == "low" {
			rec.RiskLevel = "medium"
		}
	}
	return rec
}

// Priority orders tasks for allocation. Lower value allocates first.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

// Task is a subtask competing for the remaining token budget.
type Task struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	EstimatedTokens int64    `json:"estimated_tokens"`
	Priority        Priority `json:"priority"`
	Required        bool     `json:"required"`
}

// Allocation is the planned token grant for one task. Zero means the task
// was skipped because the budget ran out first.
type Allocation struct {
	TaskID string `json:"task_id"`
	Tokens int64  `json:"tokens"`
}

// PlanAllocation distributes the remaining token budget across tasks
// according to the mode. Required tasks allocate first, then by priority.
// Urgent over-provisions critical work; economical reserves a fifth of the
// remaining budget and trims estimates; balanced reserves a tenth and scales
// proportionally when estimates exceed the budget.
func (a *Advisor) PlanAllocation(mode Mode, tasks []Task) []Allocation {
	remaining, err := a.src.Remaining(ledger.DimTokens)
	if err != nil || remaining == ledger.Unbounded {
		// No token ceiling: everyone gets their estimate.
		out := make([]Allocation, 0, len(tasks))
		for _, t := range tasks {
			out = append(out, Allocation{TaskID: t.ID, Tokens: t.EstimatedTokens})
		}
		return out
	}
	if remaining < 0 {
		remaining = 0
	}

	ordered := make([]Task, len(tasks))
	copy(ordered, tasks)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Required != ordered[j].Required {
			return ordered[i].Required
		}
		return ordered[i].Priority < ordered[j].Priority
	})

	var usable int64
	switch mode {
	case ModeEconomical:
		usable = remaining * 8 / 10
	case ModeBalanced:
		usable = remaining * 9 / 10
	default:
		usable = remaining
	}

	byID := make(map[string]int64, len(ordered))
	var allocated int64
	for _, t := range ordered {
		var want int64
		switch mode {
		case ModeUrgent:
			if t.Required || t.Priority <= PriorityHigh {
				want = t.EstimatedTokens * 12 / 10
			} else {
				want = t.EstimatedTokens
			}
		case ModeEconomical:
			if t.Required {
				want = t.EstimatedTokens * 7 / 10
			} else {
				want = t.EstimatedTokens * 6 / 10
			}
		default:
			want = t.EstimatedTokens
		}
		if !t.Required && allocated+want > usable {
			want = usable - allocated
			if want < 0 {
				want = 0
			}
		}
		byID[t.ID] = want
		allocated += want
	}

	// Balanced mode scales everyone down proportionally when estimates
	// exceed the usable budget; required tasks elsewhere keep their grant.
	if mode == ModeBalanced && allocated > usable && allocated > 0 {
		for id, tokens := range byID {
			byID[id] = tokens * usable / allocated
		}
	}

	out := make([]Allocation, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, Allocation{TaskID: t.ID, Tokens: byID[t.ID]})
	}
	return out
}
