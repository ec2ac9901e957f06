// Package events defines the audit event stream produced by the engine.
// Delivery to notification or audit-log collaborators is external; the engine
// only emits.
package events

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Event names emitted by the engine.
const (
	TransactionImported     = "transaction.imported"
	MatchSuggested          = "match.suggested"
	MatchConfirmed          = "match.confirmed"
	MatchRejected           = "match.rejected"
	ReconciliationCompleted = "reconciliation.completed"
)

// Event is one audit record.
type Event struct {
	Name       string
	AccountID  string
	OccurredAt time.Time
	Fields     map[string]interface{}
}

// Sink receives engine events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(event Event)
}

// LogSink writes events to a logrus logger.
type LogSink struct {
	logger *logrus.Logger
}

// NewLogSink creates a Sink backed by the given logger.
func NewLogSink(logger *logrus.Logger) *LogSink {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogSink{logger: logger}
}

// Emit logs the event with its fields attached.
func (s *LogSink) Emit(event Event) {
	fields := logrus.Fields{
		"event":   event.Name,
		"account": event.AccountID,
	}
	for k, v := range event.Fields {
		fields[k] = v
	}
	s.logger.WithFields(fields).Info("Event emitted")
}

// MemorySink collects events in memory for inspection in tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit appends the event.
func (s *MemorySink) Emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of all collected events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Named returns the collected events with the given name.
func (s *MemorySink) Named(name string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// NopSink discards all events.
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(Event) {}

// New builds an Event with the current time.
func New(name, accountID string, fields map[string]interface{}) Event {
	return Event{
		Name:       name,
		AccountID:  accountID,
		OccurredAt: time.Now().UTC(),
		Fields:     fields,
	}
}
