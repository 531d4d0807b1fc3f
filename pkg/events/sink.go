// Package events is the observation surface of the enforcement engine: an
// ordered list of observers notified synchronously on every transition,
// consumption update, and violation.
//
// Observer failures are isolated. A panicking observer is recovered and
// logged, and the remaining observers still run; observability must never
// change governance outcomes.
package events

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/covenant-labs/covenant/core/pkg/ledger"
)

// Type tags an event.
type Type string

const (
	TypeActivated           Type = "activated"
	TypeConsumptionRecorded Type = "consumption_recorded"
	TypeViolationDetected   Type = "violation_detected"
	TypeStateChanged        Type = "state_changed"
	TypeDeadlineExceeded    Type = "deadline_exceeded"
)

// Event is the payload handed to observers. Field names are stable: events
// feed persisted audit logs and must survive replay.
type Event struct {
	ID         string            `json:"id"`
	ContractID string            `json:"contract_id"`
	Type       Type              `json:"type"`
	Timestamp  time.Time         `json:"timestamp"`
	State      string            `json:"state,omitempty"`
	PriorState string            `json:"prior_state,omitempty"`
	Dimension  string            `json:"dimension,omitempty"`
	Amount     int64             `json:"amount"`
	Violation  *ledger.Violation `json:"violation,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

// Observer receives events. Observers run synchronously on the reporting
// goroutine and must not call back into the emitting contract.
type Observer func(Event)

// Sink fans events out to observers in registration order.
type Sink struct {
	mu        sync.Mutex
	observers []Observer
	logger    *slog.Logger
	clock     func() time.Time
}

// NewSink creates an empty sink. A nil logger falls back to slog.Default.
func NewSink(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{logger: logger.With("component", "events"), clock: time.Now}
}

// WithClock overrides the clock for testing.
func (s *Sink) WithClock(clock func() time.Time) *Sink {
	s.clock = clock
	return s
}

// Subscribe appends an observer. Observers cannot be removed; a subscriber
// that needs to stop listening should ignore events instead.
func (s *Sink) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Emit stamps the event and delivers it to every observer in order. Delivery
// from concurrent reporters is serialized by the sink.
func (s *Sink) Emit(e Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.clock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.observers {
		s.deliver(i, o, e)
	}
}

func (s *Sink) deliver(i int, o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("observer panicked",
				"observer_index", i,
				"event_type", string(e.Type),
				"contract_id", e.ContractID,
				"panic", r,
			)
		}
	}()
	o(e)
}

// LogObserver returns an observer that writes each event through slog.
func LogObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return func(e Event) {
		attrs := []any{
			"event_id", e.ID,
			"contract_id", e.ContractID,
			"type", string(e.Type),
		}
		if e.State != "" {
			attrs = append(attrs, "state", e.State)
		}
		if e.Dimension != "" {
			attrs = append(attrs, "dimension", e.Dimension, "amount", e.Amount)
		}
		if e.Violation != nil {
			attrs = append(attrs, "budgeted", e.Violation.Budgeted, "actual", e.Violation.Actual)
		}
		switch e.Type {
		case TypeViolationDetected, TypeDeadlineExceeded:
			logger.Warn("contract event", attrs...)
		default:
			logger.Info("contract event", attrs...)
		}
	}
}

// JSONLinesObserver returns an observer that appends one JSON document per
// event to w. The writer is serialized internally so it can be shared.
func JSONLinesObserver(w io.Writer) Observer {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(e)
	}
}
