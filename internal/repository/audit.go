package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/vecina/internal/domain"
)

// SaveAuditEvent appends an event to the audit trail. Saving the same event
// twice is a no-op, so redelivered bus messages are harmless.
func (r *SQLRepository) SaveAuditEvent(ctx context.Context, event *domain.AuditEvent) error {
	if event == nil || event.ID == "" || event.Token == "" {
		return fmt.Errorf("%w: event id and token are required", domain.ErrInvalidInput)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}

	query := `
		INSERT INTO audit_events (id, token, type, status, store_id, customer_id, payload, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		event.ID, event.Token, event.Type, string(event.Status),
		event.StoreID, event.CustomerID, string(payload), event.OccurredAt.UTC(),
	)
	return err
}

// ListAuditEvents returns the audit trail of a transaction, oldest first.
func (r *SQLRepository) ListAuditEvents(ctx context.Context, token string) ([]*domain.AuditEvent, error) {
	query := `
		SELECT payload FROM audit_events
		WHERE token = ?
		ORDER BY occurred_at, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), token)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var e domain.AuditEvent
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("failed to parse audit event: %w", err)
		}
		events = append(events, &e)
	}

	return events, rows.Err()
}

// SaveRegistration records a credit with the credit system. The first
// registration of a token wins.
func (r *SQLRepository) SaveRegistration(ctx context.Context, reg *domain.CreditRegistration) error {
	if reg == nil || reg.Token == "" {
		return fmt.Errorf("%w: registration token is required", domain.ErrInvalidInput)
	}

	assessment, err := json.Marshal(reg.Assessment)
	if err != nil {
		return fmt.Errorf("failed to encode assessment: %w", err)
	}

	query := `
		INSERT INTO credit_registrations (id, token, store_id, customer_id, assessment, registered_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		reg.ID, reg.Token, reg.StoreID, reg.CustomerID, string(assessment), reg.RegisteredAt.UTC(),
	)
	return err
}

// GetRegistration retrieves the registration of a token.
func (r *SQLRepository) GetRegistration(ctx context.Context, token string) (*domain.CreditRegistration, error) {
	query := `
		SELECT id, token, store_id, customer_id, assessment, registered_at
		FROM credit_registrations
		WHERE token = ?
	`

	var reg domain.CreditRegistration
	var storeID, customerID sql.NullString
	var assessment string

	err := r.db.QueryRowContext(ctx, r.rebind(query), token).Scan(
		&reg.ID, &reg.Token, &storeID, &customerID, &assessment, &reg.RegisteredAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: registration %s", domain.ErrNotFound, token)
	}
	if err != nil {
		return nil, err
	}

	reg.StoreID = storeID.String
	reg.CustomerID = customerID.String
	if err := json.Unmarshal([]byte(assessment), &reg.Assessment); err != nil {
		return nil, fmt.Errorf("failed to parse assessment for %s: %w", token, err)
	}

	return &reg, nil
}
