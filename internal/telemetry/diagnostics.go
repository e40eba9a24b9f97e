package telemetry

import (
	"context"
	"log"
	"time"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// DiagnosticsEmitter publishes delivery diagnostics onto the event bus. It is
// injected into the components that emit, never reached through a package
// global, so tests can substitute a fake publisher.
type DiagnosticsEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

type DiagnosticsEnvelope struct {
	SchemaVersion int    `json:"schema_version"`
	EventType     string `json:"event_type"`
	Event         string `json:"event"`
	OccurredAt    string `json:"occurred_at"`
	Service       string `json:"service"`
	Environment   string `json:"environment"`
	Payload       any    `json:"payload"`
}

func NewDiagnosticsEmitter(publisher Publisher, routingKey, service, environment string) *DiagnosticsEmitter {
	return &DiagnosticsEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// Emit publishes one diagnostic event. A nil emitter or publisher is a no-op
// so callers never guard.
func (e *DiagnosticsEmitter) Emit(ctx context.Context, event string, payload any) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := DiagnosticsEnvelope{
		SchemaVersion: 1,
		EventType:     "delivery_diagnostics",
		Event:         event,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		Payload:       payload,
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Printf("diagnostics publish failed: %v", err)
	}
}
