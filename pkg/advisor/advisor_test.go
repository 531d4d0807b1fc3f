package advisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenant-labs/covenant/core/pkg/ledger"
)

// fakeSource is a canned query surface.
type fakeSource struct {
	dims         []ledger.Dimension
	remaining    map[string]int64
	utilization  map[string]float64
	timePressure float64
}

func (f *fakeSource) Dimensions() []ledger.Dimension { return f.dims }

func (f *fakeSource) Remaining(dim string) (int64, error) {
	if v, ok := f.remaining[dim]; ok {
		return v, nil
	}
	return 0, ledger.ErrUnknownDimension
}

func (f *fakeSource) Utilization(dim string) (float64, error) {
	if v, ok := f.utilization[dim]; ok {
		return v, nil
	}
	return 0, ledger.ErrUnknownDimension
}

func (f *fakeSource) TimePressure() float64 { return f.timePressure }

func (f *fakeSource) Usage() ledger.Usage {
	return ledger.Usage{Counters: map[string]int64{}}
}

func newFake() *fakeSource {
	return &fakeSource{
		dims: []ledger.Dimension{
			ledger.Sum(ledger.DimTokens, 1000),
			ledger.Sum(ledger.DimAPICalls, 100),
			ledger.Tracked(ledger.DimWebSearches, ledger.AggSum),
		},
		remaining:   map[string]int64{ledger.DimTokens: 500, ledger.DimAPICalls: 80},
		utilization: map[string]float64{ledger.DimTokens: 0.5, ledger.DimAPICalls: 0.2},
	}
}

func TestReport_WorstDimensionWins(t *testing.T) {
	src := newFake()
	src.utilization[ledger.DimAPICalls] = 0.85

	r := New(src).Report()

	assert.InDelta(t, 0.85, r.OverallUtilization, 1e-9)
	assert.Equal(t, int64(500), r.Remaining[ledger.DimTokens])
	// Unbounded dimensions do not contribute.
	_, ok := r.Utilization[ledger.DimWebSearches]
	assert.False(t, ok)
}

func TestRecommend_Thresholds(t *testing.T) {
	cases := []struct {
		name         string
		util         float64
		wantRisk     string
		wantContinue bool
		wantWarnings int
	}{
		{"low", 0.3, "low", true, 0},
		{"medium", 0.75, "medium", true, 1},
		{"high", 0.95, "high", true, 1},
		{"exhausted", 1.2, "high", false, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := newFake()
			src.utilization[ledger.DimTokens] = tc.util

			rec := New(src).Recommend(ModeBalanced)
			assert.Equal(t, tc.wantRisk, rec.RiskLevel)
			assert.Equal(t, tc.wantContinue, rec.ShouldContinue)
			assert.Len(t, rec.Warnings, tc.wantWarnings)
		})
	}
}

func TestRecommend_TimePressureEscalates(t *testing.T) {
	src := newFake()
	src.utilization[ledger.DimTokens] = 0.1
	src.timePressure = 0.9

	rec := New(src).Recommend(ModeBalanced)
	assert.Equal(t, "medium", rec.RiskLevel)
	assert.True(t, rec.ShouldContinue)
	require.Len(t, rec.Warnings, 1)
	assert.Contains(t, rec.Warnings[0], "time pressure")
}

func TestRecommend_ModeShapesApproach(t *testing.T) {
	src := newFake()
	src.utilization[ledger.DimTokens] = 0.1

	urgent := New(src).Recommend(ModeUrgent)
	economical := New(src).Recommend(ModeEconomical)
	assert.NotEqual(t, urgent.Approach, economical.Approach)
}

func TestPlanAllocation_UnboundedGrantsEstimates(t *testing.T) {
	src := newFake()
	src.remaining[ledger.DimTokens] = ledger.Unbounded

	tasks := []Task{
		{ID: "a", EstimatedTokens: 100, Priority: PriorityLow},
		{ID: "b", EstimatedTokens: 200, Priority: PriorityCritical, Required: true},
	}

	allocs := New(src).PlanAllocation(ModeBalanced, tasks)
	require.Len(t, allocs, 2)
	assert.Equal(t, int64(100), allocs[0].Tokens)
	assert.Equal(t, int64(200), allocs[1].Tokens)
}

func TestPlanAllocation_RequiredFirst(t *testing.T) {
	src := newFake()
	src.remaining[ledger.DimTokens] = 300

	tasks := []Task{
		{ID: "optional", EstimatedTokens: 300, Priority: PriorityCritical},
		{ID: "required", EstimatedTokens: 200, Priority: PriorityLow, Required: true},
	}

	allocs := New(src).PlanAllocation(ModeUrgent, tasks)
	byID := map[string]int64{}
	for _, a := range allocs {
		byID[a.TaskID] = a.Tokens
	}

	// The required task allocates first even at lower priority, with the
	// urgent over-provision; the optional one takes what is left.
	assert.Equal(t, int64(240), byID["required"])
	assert.Equal(t, int64(60), byID["optional"])
}

func TestPlanAllocation_UrgentOverProvisionsCritical(t *testing.T) {
	src := newFake()
	src.remaining[ledger.DimTokens] = 10_000

	tasks := []Task{
		{ID: "critical", EstimatedTokens: 1000, Priority: PriorityCritical},
		{ID: "background", EstimatedTokens: 1000, Priority: PriorityLow},
	}

	allocs := New(src).PlanAllocation(ModeUrgent, tasks)
	byID := map[string]int64{}
	for _, a := range allocs {
		byID[a.TaskID] = a.Tokens
	}

	assert.Equal(t, int64(1200), byID["critical"])
	assert.Equal(t, int64(1000), byID["background"])
}

func TestPlanAllocation_EconomicalTrims(t *testing.T) {
	src := newFake()
	src.remaining[ledger.DimTokens] = 10_000

	tasks := []Task{
		{ID: "must", EstimatedTokens: 1000, Priority: PriorityHigh, Required: true},
		{ID: "nice", EstimatedTokens: 1000, Priority: PriorityMedium},
	}

	allocs := New(src).PlanAllocation(ModeEconomical, tasks)
	byID := map[string]int64{}
	for _, a := range allocs {
		byID[a.TaskID] = a.Tokens
	}

	assert.Equal(t, int64(700), byID["must"])
	assert.Equal(t, int64(600), byID["nice"])
}

func TestPlanAllocation_BalancedScalesDownProportionally(t *testing.T) {
	src := newFake()
	src.remaining[ledger.DimTokens] = 1000 // usable = 900

	tasks := []Task{
		{ID: "a", EstimatedTokens: 600, Priority: PriorityHigh, Required: true},
		{ID: "b", EstimatedTokens: 600, Priority: PriorityMedium, Required: true},
	}

	allocs := New(src).PlanAllocation(ModeBalanced, tasks)
	var total int64
	for _, a := range allocs {
		total += a.Tokens
		assert.Greater(t, a.Tokens, int64(0))
	}
	assert.LessOrEqual(t, total, int64(900))
}

func TestPlanAllocation_ExhaustedBudget(t *testing.T) {
	src := newFake()
	src.remaining[ledger.DimTokens] = -50

	tasks := []Task{{ID: "a", EstimatedTokens: 100, Priority: PriorityLow}}
	allocs := New(src).PlanAllocation(ModeBalanced, tasks)
	require.Len(t, allocs, 1)
	assert.Equal(t, int64(0), allocs[0].Tokens)
}
