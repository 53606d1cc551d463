package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/vecina/internal/domain"
)

// Store is the persistence the worker writes to.
type Store interface {
	SaveAuditEvent(ctx context.Context, event *domain.AuditEvent) error
	SaveRegistration(ctx context.Context, reg *domain.CreditRegistration) error
	GetRegistration(ctx context.Context, token string) (*domain.CreditRegistration, error)
}

// Worker consumes audit events from the EventBus, persists them and registers
// completed credits.
type Worker struct {
	bus    domain.EventBus
	store  Store
	cache  domain.Cache
	ttl    time.Duration
	logger *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed  atomic.Int64
	registered atomic.Int64
	failures   atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// Topics to consume. Empty means every audit event type.
	Topics []string

	// RegistrationTTL is how long registrations stay cached.
	RegistrationTTL time.Duration
}

// NewWorker creates a new audit worker. cache may be nil.
func NewWorker(bus domain.EventBus, store Store, cache domain.Cache, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		store:  store,
		cache:  cache,
		ttl:    time.Hour,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the configured topics.
func (w *Worker) Start(cfg Config) error {
	topics := cfg.Topics
	if len(topics) == 0 {
		topics = domain.AllEventTypes()
	}
	if cfg.RegistrationTTL > 0 {
		w.ttl = cfg.RegistrationTTL
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, topic := range topics {
		sub, err := w.bus.Subscribe(w.ctx, topic, w.Handle)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	w.logger.Info("audit worker started", "topic_count", len(topics))
	return nil
}

// Handle processes one bus message carrying an AuditEvent.
func (w *Worker) Handle(ctx context.Context, msg *domain.Message) error {
	var event domain.AuditEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		w.failures.Add(1)
		w.logger.Error("failed to parse audit event",
			"message_id", msg.ID,
			"topic", msg.Topic,
			"error", err,
		)
		return err
	}

	w.logger.Info("audit event",
		"type", event.Type,
		"token", event.Token,
		"status", event.Status,
		"store_id", event.StoreID,
	)

	if w.store != nil {
		if err := w.store.SaveAuditEvent(ctx, &event); err != nil {
			w.failures.Add(1)
			w.logger.Error("failed to save audit event",
				"token", event.Token,
				"type", event.Type,
				"error", err,
			)
			return err
		}
	}
	w.processed.Add(1)

	if event.Type == domain.EventAssessmentCompleted && event.Assessment != nil {
		if err := w.register(ctx, &event); err != nil {
			w.failures.Add(1)
			w.logger.Error("failed to register credit",
				"token", event.Token,
				"error", err,
			)
			return err
		}
	}

	return nil
}

// register records the credit downstream and warms the registration cache.
func (w *Worker) register(ctx context.Context, event *domain.AuditEvent) error {
	reg := &domain.CreditRegistration{
		ID:           domain.RegistrationID(event.Token),
		Token:        event.Token,
		StoreID:      event.StoreID,
		CustomerID:   event.CustomerID,
		Assessment:   *event.Assessment,
		RegisteredAt: event.OccurredAt,
	}

	if w.store != nil {
		if err := w.store.SaveRegistration(ctx, reg); err != nil {
			return err
		}
		// The first registration of a token wins; cache what was kept.
		stored, err := w.store.GetRegistration(ctx, event.Token)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if stored != nil {
			reg = stored
		}
	}
	w.registered.Add(1)

	w.logger.Info("credit registered",
		"registration_id", reg.ID,
		"token", reg.Token,
		"category", reg.Assessment.Category,
		"cupo", reg.Assessment.CupoEstimated,
	)

	if w.cache != nil {
		if err := w.cache.SetRegistration(ctx, reg, w.ttl); err != nil {
			w.logger.Warn("failed to cache registration", "token", reg.Token, "error", err)
		}
	}
	return nil
}

// Stop unsubscribes from every topic.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.logger.Info("audit worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Registered        int64    `json:"registered"`
	Failures          int64    `json:"failures"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	w.mu.Unlock()

	return Stats{
		SubscriptionCount: len(topics),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Registered:        w.registered.Load(),
		Failures:          w.failures.Load(),
	}
}
