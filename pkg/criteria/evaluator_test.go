package criteria

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator()
	require.NoError(t, err)
	return e
}

func TestCriterion_Validate(t *testing.T) {
	assert.NoError(t, Criterion{Name: "ok", Expression: "true", Weight: 0.5}.Validate())
	assert.ErrorIs(t, Criterion{Name: "empty"}.Validate(), ErrEmptyExpression)
	assert.ErrorIs(t, Criterion{Name: "heavy", Expression: "true", Weight: 1.5}.Validate(), ErrInvalidWeight)
	assert.ErrorIs(t, Criterion{Name: "neg", Expression: "true", Weight: -0.1}.Validate(), ErrInvalidWeight)
}

func TestEvaluate_NoCriteria(t *testing.T) {
	e := newEvaluator(t)
	res, err := e.Evaluate(nil, Snapshot{})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 1.0, res.Score)
}

func TestEvaluate_UsageExpression(t *testing.T) {
	e := newEvaluator(t)

	res, err := e.Evaluate([]Criterion{
		{Name: "spent-tokens", Expression: `usage["tokens"] > 500`, Weight: 1, Required: true},
	}, Snapshot{Usage: map[string]int64{"tokens": 700}})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 1.0, res.Score)
	assert.Empty(t, res.Failed)
}

func TestEvaluate_RequiredFailureBlocks(t *testing.T) {
	e := newEvaluator(t)

	res, err := e.Evaluate([]Criterion{
		{Name: "under-budget", Expression: `utilization["tokens"] < 0.5`, Weight: 1, Required: true},
		{Name: "calm", Expression: `time_pressure < 0.9`, Weight: 1, Required: false},
	}, Snapshot{
		Utilization:  map[string]float64{"tokens": 0.8},
		TimePressure: 0.2,
	})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, []string{"under-budget"}, res.Failed)
	assert.InDelta(t, 0.5, res.Score, 1e-9)
}

func TestEvaluate_OptionalFailureOnlyLowersScore(t *testing.T) {
	e := newEvaluator(t)

	res, err := e.Evaluate([]Criterion{
		{Name: "must", Expression: "true", Weight: 0.6, Required: true},
		{Name: "nice-to-have", Expression: "false", Weight: 0.4, Required: false},
	}, Snapshot{})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.InDelta(t, 0.6, res.Score, 1e-9)
	assert.Equal(t, []string{"nice-to-have"}, res.Failed)
}

func TestEvaluate_MetadataAccess(t *testing.T) {
	e := newEvaluator(t)

	res, err := e.Evaluate([]Criterion{
		{Name: "right-team", Expression: `metadata.team == "research"`, Weight: 1, Required: true},
	}, Snapshot{Metadata: map[string]any{"team": "research"}})
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestEvaluate_CompileError(t *testing.T) {
	e := newEvaluator(t)

	_, err := e.Evaluate([]Criterion{
		{Name: "broken", Expression: `usage[`, Weight: 1},
	}, Snapshot{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestEvaluate_NonBooleanExpression(t *testing.T) {
	e := newEvaluator(t)

	_, err := e.Evaluate([]Criterion{
		{Name: "numeric", Expression: `usage["tokens"] + 1`, Weight: 1},
	}, Snapshot{Usage: map[string]int64{"tokens": 1}})
	assert.ErrorIs(t, err, ErrNotBool)
}

func TestEvaluate_ProgramCacheReuse(t *testing.T) {
	e := newEvaluator(t)
	snap := Snapshot{Usage: map[string]int64{"tokens": 10}}
	crit := []Criterion{{Name: "cached", Expression: `usage["tokens"] >= 10`, Weight: 1, Required: true}}

	for i := 0; i < 3; i++ {
		res, err := e.Evaluate(crit, snap)
		require.NoError(t, err)
		assert.True(t, res.Passed)
	}
	assert.Len(t, e.cache, 1)
}
