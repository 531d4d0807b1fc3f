package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrail_AppendChains(t *testing.T) {
	tr := NewTrail("c-1")
	assert.Equal(t, "genesis", tr.Head())

	seq, err := tr.Append(KindTransition, map[string]any{"from": "DRAFTED", "to": "ACTIVE"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	seq, err = tr.Append(KindConsumption, map[string]any{"dimension": "tokens", "amount": int64(700)})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	entries := tr.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "genesis", entries[0].PrevHash)
	assert.Equal(t, entries[0].ContentHash, entries[1].PrevHash)
	assert.Equal(t, entries[1].ContentHash, tr.Head())
	assert.Contains(t, entries[0].ContentHash, "sha256:")
}

func TestTrail_Verify(t *testing.T) {
	tr := NewTrail("c-1")
	for i := 0; i < 5; i++ {
		_, err := tr.Append(KindConsumption, map[string]any{"step": i})
		require.NoError(t, err)
	}

	ok, msg := tr.Verify()
	assert.True(t, ok, msg)
}

func TestTrail_VerifyDetectsTampering(t *testing.T) {
	tr := NewTrail("c-1")
	_, err := tr.Append(KindTransition, map[string]any{"to": "ACTIVE"})
	require.NoError(t, err)
	_, err = tr.Append(KindViolation, map[string]any{"dimension": "tokens"})
	require.NoError(t, err)

	// Mutate a copy of the data in place via the internal slice.
	tr.entries[0].Data["to"] = "FULFILLED"

	ok, msg := tr.Verify()
	assert.False(t, ok)
	assert.Contains(t, msg, "hash mismatch")
}

func TestTrail_VerifyDetectsBrokenChain(t *testing.T) {
	tr := NewTrail("c-1")
	_, err := tr.Append(KindTransition, nil)
	require.NoError(t, err)
	_, err = tr.Append(KindTransition, nil)
	require.NoError(t, err)

	tr.entries[1].PrevHash = "sha256:forged"

	ok, msg := tr.Verify()
	assert.False(t, ok)
	assert.Contains(t, msg, "chain broken")
}

func TestTrail_HashIndependentOfTimestamp(t *testing.T) {
	// Two trails with identical entries but different clocks produce the same
	// chain: the hash covers sequence, kind, data, and predecessor only.
	t1 := NewTrail("c-1").WithClock(func() time.Time {
		return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	})
	t2 := NewTrail("c-1").WithClock(func() time.Time {
		return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	})

	data := map[string]any{"dimension": "tokens", "amount": int64(100)}
	_, err := t1.Append(KindConsumption, data)
	require.NoError(t, err)
	_, err = t2.Append(KindConsumption, data)
	require.NoError(t, err)

	assert.Equal(t, t1.Head(), t2.Head())
}
