package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenant-labs/covenant/core/pkg/events"
	"github.com/covenant-labs/covenant/core/pkg/ledger"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	// Disabled provider still hands out usable no-op instruments.
	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())

	_, done := p.TrackOperation(context.Background(), "record_consumption")
	done(nil)

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_NilConfigDefaultsOff(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, p.config.Enabled)
}

func TestObserver_DisabledProviderIgnoresEvents(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	obs := p.Observer()

	// None of these may panic even though no instruments exist.
	obs(events.Event{Type: events.TypeConsumptionRecorded, ContractID: "c-1", Dimension: ledger.DimTokens, Amount: 100})
	obs(events.Event{Type: events.TypeViolationDetected, ContractID: "c-1", Violation: &ledger.Violation{Dimension: ledger.DimTokens}})
	obs(events.Event{Type: events.TypeViolationDetected, ContractID: "c-1"})
	obs(events.Event{Type: events.TypeStateChanged, ContractID: "c-1", State: "VIOLATED"})
	obs(events.Event{Type: events.TypeDeadlineExceeded, ContractID: "c-1", State: "EXPIRED"})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "covenant-core", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
}
