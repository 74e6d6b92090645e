package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Event is a state change emitted by the ledger once an operation commits.
type Event interface {
	EventType() string
}

// Emitter delivers committed events to downstream consumers (indexers, relays).
// Emit is called in commit order and must not call back into the ledger.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(Event) {}

// Multi fans each event out to every emitter in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(evt)
		}
	}
}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Emitter.
func (r *Recorder) Emit(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a copy of the recorded events in emission order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in emission order.
func (r *Recorder) Types() []string {
	evts := r.Events()
	out := make([]string, len(evts))
	for i, evt := range evts {
		out[i] = evt.EventType()
	}
	return out
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Envelope is the serialized form of an event as stored in the outbox and
// published by the relay.
type Envelope struct {
	Sequence   uint64          `json:"sequence"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Encode wraps evt in an Envelope.
func Encode(seq uint64, evt Event, at time.Time) (Envelope, error) {
	if evt == nil {
		return Envelope{}, fmt.Errorf("events: nil event")
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: encode %s: %w", evt.EventType(), err)
	}
	return Envelope{
		Sequence:   seq,
		Type:       evt.EventType(),
		Payload:    payload,
		OccurredAt: at.UTC(),
	}, nil
}

// LogEmitter writes each event to the global zerolog logger at debug level.
type LogEmitter struct{}

// Emit implements Emitter.
func (LogEmitter) Emit(evt Event) {
	log.Debug().Str("service", "events").Str("type", evt.EventType()).Interface("event", evt).Msg("ledger event")
}
