// Package notify delivers engine events to whoever formats and sends them.
// The engine only produces plain data; sinks never feed back into task state.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mtlprog/chorequorum/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Sink receives committed events.
type Sink interface {
	Notify(ctx context.Context, event *domain.Event) error
}

// Message is the wire form of an event.
type Message struct {
	ID        string           `json:"id"`
	Type      domain.EventType `json:"type"`
	TaskID    *string          `json:"task_id,omitempty"`
	ActorID   *string          `json:"actor_id,omitempty"`
	Payload   map[string]any   `json:"payload"`
	CreatedAt time.Time        `json:"created_at"`
}

// NewMessage converts an event into its wire form.
func NewMessage(event *domain.Event) Message {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return Message{
		ID:        event.ID,
		Type:      event.Type,
		TaskID:    event.TaskID,
		ActorID:   event.ActorID,
		Payload:   payload,
		CreatedAt: event.CreatedAt,
	}
}

// Encode marshals an event to JSON.
func Encode(event *domain.Event) ([]byte, error) {
	data, err := json.Marshal(NewMessage(event))
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", event.Type, err)
	}
	return data, nil
}

// LogSink writes every event to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger means slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Notify logs the event.
func (s *LogSink) Notify(ctx context.Context, event *domain.Event) error {
	attrs := []any{"event_id", event.ID, "type", event.Type}
	if event.TaskID != nil {
		attrs = append(attrs, "task_id", *event.TaskID)
	}
	if event.ActorID != nil {
		attrs = append(attrs, "actor_id", *event.ActorID)
	}
	attrs = append(attrs, "payload", event.Payload)
	s.logger.InfoContext(ctx, "event", attrs...)
	return nil
}

// Multi fans an event out to several sinks concurrently.
// Every sink is attempted; the first failure is returned.
type Multi []Sink

// Notify delivers the event to all sinks.
func (m Multi) Notify(ctx context.Context, event *domain.Event) error {
	var g errgroup.Group
	for _, sink := range m {
		if sink == nil {
			continue
		}
		g.Go(func() error {
			return sink.Notify(ctx, event)
		})
	}
	return g.Wait()
}

// Discard drops every event.
type Discard struct{}

// Notify implements Sink.
func (Discard) Notify(context.Context, *domain.Event) error { return nil }

// Recorder keeps events in memory. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []*domain.Event
}

// Notify records the event.
func (r *Recorder) Notify(_ context.Context, event *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []*domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]domain.EventType, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
