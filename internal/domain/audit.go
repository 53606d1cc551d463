package domain

import (
	"strings"
	"time"
)

// AuditEvent is a structured record of a transaction lifecycle step.
type AuditEvent struct {
	ID         string            `json:"id"`
	Token      string            `json:"token"`
	Type       string            `json:"type"`
	Status     TransactionStatus `json:"status"`
	StoreID    string            `json:"store_id,omitempty"`
	Assessment *CreditAssessment `json:"assessment,omitempty"`
	Review     *Review           `json:"review,omitempty"`
	Detail     string            `json:"detail,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`

	// CustomerID is the customer's cedula, set on completion events.
	CustomerID string `json:"customer_id,omitempty"`
}

// Audit event types. They double as bus topics.
const (
	EventTransactionCreated      = "vecina.transaction.created"
	EventClientDataReceived      = "vecina.client_data.received"
	EventStoreValidationReceived = "vecina.store_validation.received"
	EventAssessmentCompleted     = "vecina.assessment.completed"
	EventAssessmentFailed        = "vecina.assessment.failed"
)

// AllEventTypes lists every audit topic.
func AllEventTypes() []string {
	return []string{
		EventTransactionCreated,
		EventClientDataReceived,
		EventStoreValidationReceived,
		EventAssessmentCompleted,
		EventAssessmentFailed,
	}
}

// CreditRegistration records a completed credit with the downstream credit system.
type CreditRegistration struct {
	ID           string           `json:"transaction_id"`
	Token        string           `json:"token"`
	StoreID      string           `json:"store_id,omitempty"`
	CustomerID   string           `json:"customer_id,omitempty"`
	Assessment   CreditAssessment `json:"credit_result"`
	RegisteredAt time.Time        `json:"processed_at"`
}

// RegistrationID derives the downstream reference from a token.
func RegistrationID(token string) string {
	prefix := token
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return "SIS-" + strings.ToUpper(prefix)
}
