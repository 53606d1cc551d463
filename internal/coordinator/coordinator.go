// Package coordinator owns the lifecycle of a credit application. It waits
// for the customer half and the store half to arrive, in either order, and
// scores the merged application exactly once.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/vecina/internal/domain"
	"github.com/opensource-finance/vecina/internal/scoring"
)

// DefaultTTL is the lifetime of a transaction when none is configured.
const DefaultTTL = 15 * time.Minute

var tracer = otel.Tracer("vecina-coordinator")

// TokenFunc generates a globally unique transaction token.
type TokenFunc func() string

// Sink receives lifecycle events after they are committed.
type Sink interface {
	Emit(ctx context.Context, event *domain.AuditEvent) error
}

// Reviewer produces an advisory review of a finished assessment. It is
// called after the completed transaction is committed, outside any store lock.
type Reviewer interface {
	Review(ctx context.Context, token string, assessment *domain.CreditAssessment) (*domain.Review, error)
}

// ScoreFunc turns a merged application into an assessment.
type ScoreFunc func(raw domain.RawApplicationInput, cfg domain.ScoringConfig) domain.CreditAssessment

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Outcome is the result of a submission.
type Outcome struct {
	// Transaction is the committed state.
	Transaction *domain.Transaction

	// Assessment is set once both halves have been scored. On a scoring
	// failure it holds the fallback assessment while the transaction carries none.
	Assessment *domain.CreditAssessment

	// Completed is true when this submission triggered the scoring.
	Completed bool

	// Failed is true when the scoring failed and the transaction moved to ERROR.
	Failed bool
}

// Coordinator drives transactions through the state machine.
type Coordinator struct {
	store    domain.TransactionStore
	clock    domain.Clock
	newToken TokenFunc
	ttl      time.Duration
	cfg      domain.ScoringConfig
	score    ScoreFunc
	reviewer Reviewer
	sink     Sink
	logger   *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the wall clock.
func WithClock(clock domain.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithTokenFunc overrides the token generator.
func WithTokenFunc(fn TokenFunc) Option {
	return func(c *Coordinator) { c.newToken = fn }
}

// WithTTL sets the transaction lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithScoreFunc replaces the scoring pipeline.
func WithScoreFunc(fn ScoreFunc) Option {
	return func(c *Coordinator) { c.score = fn }
}

// WithReviewer attaches a post-assessment reviewer.
func WithReviewer(r Reviewer) Option {
	return func(c *Coordinator) { c.reviewer = r }
}

// WithSink attaches an event sink.
func WithSink(s Sink) Option {
	return func(c *Coordinator) { c.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a coordinator over store using the given model parameters.
func New(store domain.TransactionStore, cfg domain.ScoringConfig, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		clock:    systemClock{},
		newToken: uuid.NewString,
		ttl:      DefaultTTL,
		cfg:      cfg,
		score:    scoring.Evaluate,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured transaction lifetime.
func (c *Coordinator) TTL() time.Duration {
	return c.ttl
}

// ScoringConfig returns the model parameters in use.
func (c *Coordinator) ScoringConfig() domain.ScoringConfig {
	return c.cfg
}

// Create starts a new pending transaction.
func (c *Coordinator) Create(ctx context.Context, storeID, tenderoName string) (*domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "coordinator.Create")
	defer span.End()

	now := c.clock.Now()
	tx := &domain.Transaction{
		Token:       c.newToken(),
		StoreID:     storeID,
		TenderoName: tenderoName,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(c.ttl),
	}
	if tx.Token == "" {
		return nil, fmt.Errorf("token generator returned an empty token")
	}

	if err := c.store.PutTransaction(ctx, tx); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	span.SetAttributes(attribute.String("token", tx.Token))

	c.logger.Info("transaction created", "token", tx.Token, "store_id", storeID, "expires_at", tx.ExpiresAt)
	c.emit(ctx, domain.EventTransactionCreated, tx, nil, "")

	return tx, nil
}

// SubmitClientData stores the customer half of the application.
func (c *Coordinator) SubmitClientData(ctx context.Context, token string, data domain.ClientData) (*Outcome, error) {
	return c.submit(ctx, "coordinator.SubmitClientData", token,
		domain.TransactionPatch{ClientData: &data}, domain.EventClientDataReceived)
}

// SubmitStoreValidation stores the store half of the application.
func (c *Coordinator) SubmitStoreValidation(ctx context.Context, token string, data domain.StoreValidation) (*Outcome, error) {
	return c.submit(ctx, "coordinator.SubmitStoreValidation", token,
		domain.TransactionPatch{StoreValidation: &data}, domain.EventStoreValidationReceived)
}

// Get returns a transaction with EXPIRED applied for presentation. The stored
// status is left as is.
func (c *Coordinator) Get(ctx context.Context, token string) (*domain.Transaction, error) {
	tx, err := c.store.GetTransaction(ctx, token)
	if err != nil {
		return nil, err
	}
	tx.Status = tx.EffectiveStatus(c.clock.Now())
	return tx, nil
}

// IsValid reports whether token names a transaction that has not expired.
func (c *Coordinator) IsValid(ctx context.Context, token string) (bool, *domain.Transaction, error) {
	tx, err := c.Get(ctx, token)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return tx.Status != domain.StatusExpired, tx, nil
}

func (c *Coordinator) submit(ctx context.Context, op, token string, patch domain.TransactionPatch, event string) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attribute.String("token", token)))
	defer span.End()

	var out Outcome
	committed, err := c.store.UpdateTransaction(ctx, token, func(tx *domain.Transaction) error {
		// The store may retry fn; start every attempt clean.
		out = Outcome{}
		return c.advance(ctx, tx, patch, &out)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if out.Completed {
		committed = c.attachReview(ctx, committed, out.Assessment)
	}
	out.Transaction = committed
	span.SetAttributes(attribute.String("status", string(committed.Status)))

	c.logger.Info("submission accepted", "token", token, "event", event, "status", committed.Status)
	c.emit(ctx, event, committed, nil, "")

	switch {
	case out.Completed:
		c.logger.Info("assessment completed",
			"token", token,
			"category", out.Assessment.Category,
			"score", out.Assessment.ScoreConf,
			"cupo", out.Assessment.CupoEstimated,
		)
		c.emit(ctx, domain.EventAssessmentCompleted, committed, out.Assessment, "")
	case out.Failed:
		c.emit(ctx, domain.EventAssessmentFailed, committed, out.Assessment, "scoring failed")
	}

	return &out, nil
}

// advance applies one submission to tx. It runs inside the store's atomic
// update and must not perform I/O.
func (c *Coordinator) advance(ctx context.Context, tx *domain.Transaction, patch domain.TransactionPatch, out *Outcome) error {
	now := c.clock.Now()

	if tx.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", domain.ErrAlreadyCompleted, tx.Token, tx.Status)
	}
	if tx.ExpiredAt(now) {
		return fmt.Errorf("%w: %s expired at %s", domain.ErrExpired, tx.Token, tx.ExpiresAt.Format(time.RFC3339))
	}

	if err := patch.Apply(tx); err != nil {
		return err
	}
	tx.UpdatedAt = now

	switch {
	case tx.ClientData != nil && tx.StoreValidation != nil:
		// fall through to scoring
	case tx.ClientData != nil:
		return domain.TransactionPatch{Status: domain.StatusPtr(domain.StatusClientDataReceived)}.Apply(tx)
	default:
		return domain.TransactionPatch{Status: domain.StatusPtr(domain.StatusStoreValidationReceived)}.Apply(tx)
	}

	tx.Status = domain.StatusProcessing
	raw := domain.MergeApplication(tx.ClientData, tx.StoreValidation)

	assessment, err := c.evaluate(raw)
	if err != nil {
		c.logger.Error("scoring failed", "token", tx.Token, "error", err)
		fallback := domain.FallbackAssessment()
		out.Assessment = &fallback
		out.Failed = true
		return domain.TransactionPatch{Status: domain.StatusPtr(domain.StatusError)}.Apply(tx)
	}

	out.Assessment = &assessment
	out.Completed = true
	return domain.TransactionPatch{
		CreditResult: &assessment,
		Status:       domain.StatusPtr(domain.StatusCompleted),
	}.Apply(tx)
}

// attachReview runs the reviewer on a committed assessment and stores the
// review in a second update. Reviews are advisory: on any failure the
// completed transaction is returned as it is.
func (c *Coordinator) attachReview(ctx context.Context, tx *domain.Transaction, assessment *domain.CreditAssessment) *domain.Transaction {
	if c.reviewer == nil {
		return tx
	}

	review, err := c.reviewer.Review(ctx, tx.Token, assessment)
	if err != nil {
		c.logger.Warn("review failed", "token", tx.Token, "error", err)
		return tx
	}
	if review == nil {
		return tx
	}

	updated, err := c.store.UpdateTransaction(ctx, tx.Token, func(cur *domain.Transaction) error {
		if cur.Status != domain.StatusCompleted || cur.Review != nil {
			return errReviewSkipped
		}
		return domain.TransactionPatch{Review: review}.Apply(cur)
	})
	if err != nil {
		c.logger.Warn("failed to store review", "token", tx.Token, "error", err)
		return tx
	}
	return updated
}

var errReviewSkipped = errors.New("transaction no longer accepts a review")

// evaluate runs the scoring pipeline and converts a panic into an error.
func (c *Coordinator) evaluate(raw domain.RawApplicationInput) (a domain.CreditAssessment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scoring panic: %v", r)
		}
	}()
	if !scoring.Complete(raw) {
		return domain.FallbackAssessment(), fmt.Errorf("incomplete application")
	}
	return c.score(raw, c.cfg), nil
}

func (c *Coordinator) emit(ctx context.Context, eventType string, tx *domain.Transaction, assessment *domain.CreditAssessment, detail string) {
	if c.sink == nil {
		return
	}

	event := &domain.AuditEvent{
		ID:         uuid.NewString(),
		Token:      tx.Token,
		Type:       eventType,
		Status:     tx.Status,
		StoreID:    tx.StoreID,
		Assessment: assessment,
		Review:     tx.Review,
		Detail:     detail,
		OccurredAt: c.clock.Now(),
	}
	if tx.StoreValidation != nil {
		event.CustomerID = tx.StoreValidation.CedulaCliente
	}

	if err := c.sink.Emit(ctx, event); err != nil {
		c.logger.Warn("failed to emit event", "token", tx.Token, "type", eventType, "error", err)
	}
}
