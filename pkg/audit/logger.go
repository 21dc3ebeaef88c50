// Package audit records kernel activity as an append-friendly JSON-lines
// trail. Every risk gate verdict, mandate validation, ledger append, and
// preflight run lands here with the principal who triggered it.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tillerlabs/tiller/pkg/identity"
)

// EventType categorizes an audit event.
type EventType string

const (
	EventRisk        EventType = "RISK"
	EventMandate     EventType = "MANDATE"
	EventDecision    EventType = "DECISION"
	EventMaintenance EventType = "MAINTENANCE"
	EventSystem      EventType = "SYSTEM"
)

// Event is a structured audit record.
type Event struct {
	ID        string         `json:"id"`
	ActorID   string         `json:"actor_id"`
	PodID     string         `json:"pod_id,omitempty"`
	Type      EventType      `json:"type"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Logger records audit events.
type Logger interface {
	Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]any) error
}

// logger writes one JSON event per line to an injected writer.
type logger struct {
	mu     sync.Mutex
	writer io.Writer
	clock  func() time.Time
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer, for
// tests and custom sinks.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w, clock: time.Now}
}

func (l *logger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]any) error {
	actorID := "system"
	podID := ""
	if p, ok := identity.FromContext(ctx); ok {
		actorID = p.Subject
		podID = p.PodID
	}

	event := Event{
		ID:        uuid.New().String(),
		ActorID:   actorID,
		PodID:     podID,
		Type:      eventType,
		Action:    action,
		Resource:  resource,
		Timestamp: l.clock(),
		Metadata:  metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// Prefix keeps audit lines grep-able in mixed output.
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(raw, '\n')...))
	return err
}

// Nop returns a logger that drops everything. Useful when callers have no
// audit sink wired yet.
func Nop() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Record(context.Context, EventType, string, string, map[string]any) error {
	return nil
}
