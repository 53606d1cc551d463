// Package audit moves transaction lifecycle events through the event bus and
// into durable storage.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/vecina/internal/domain"
)

// Publisher emits audit events onto the event bus, one topic per event type.
type Publisher struct {
	bus domain.EventBus
}

// NewPublisher creates a publisher over bus.
func NewPublisher(bus domain.EventBus) *Publisher {
	return &Publisher{bus: bus}
}

// Emit publishes event as JSON on the topic named by its type.
func (p *Publisher) Emit(ctx context.Context, event *domain.AuditEvent) error {
	if event == nil || event.Type == "" {
		return fmt.Errorf("%w: audit event type is required", domain.ErrInvalidInput)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	return p.bus.Publish(ctx, event.Type, payload)
}
