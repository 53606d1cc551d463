package audit

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/vecina/internal/bus"
	"github.com/opensource-finance/vecina/internal/cache"
	"github.com/opensource-finance/vecina/internal/domain"
	"github.com/opensource-finance/vecina/internal/repository"
)

// memStore records what the worker writes.
type memStore struct {
	mu     sync.Mutex
	events []*domain.AuditEvent
	regs   map[string]*domain.CreditRegistration
	err    error
}

func newMemStore() *memStore {
	return &memStore{regs: make(map[string]*domain.CreditRegistration)}
}

func (s *memStore) SaveAuditEvent(ctx context.Context, event *domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *memStore) SaveRegistration(ctx context.Context, reg *domain.CreditRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regs[reg.Token]; !ok {
		s.regs[reg.Token] = reg
	}
	return nil
}

func (s *memStore) GetRegistration(ctx context.Context, token string) (*domain.CreditRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return reg, nil
}

func completedEvent(token string) *domain.AuditEvent {
	return &domain.AuditEvent{
		ID:         "evt-" + token,
		Token:      token,
		Type:       domain.EventAssessmentCompleted,
		Status:     domain.StatusCompleted,
		StoreID:    "tienda-1",
		CustomerID: "1020304050",
		Assessment: &domain.CreditAssessment{Category: domain.CategoryB, ScoreConf: 0.74, CupoEstimated: 8200},
		OccurredAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func message(t *testing.T, event *domain.AuditEvent) *domain.Message {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return &domain.Message{ID: "m-1", Topic: event.Type, Payload: payload}
}

func TestPublisher(t *testing.T) {
	ctx := context.Background()
	b := bus.NewChannelBus(10)
	defer b.Close()

	got := make(chan *domain.Message, 1)
	_, err := b.Subscribe(ctx, domain.EventTransactionCreated, func(ctx context.Context, msg *domain.Message) error {
		got <- msg
		return nil
	})
	require.NoError(t, err)

	pub := NewPublisher(b)
	require.NoError(t, pub.Emit(ctx, &domain.AuditEvent{ID: "e1", Token: "tok", Type: domain.EventTransactionCreated, Status: domain.StatusPending}))

	select {
	case msg := <-got:
		var event domain.AuditEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		assert.Equal(t, "tok", event.Token)
		assert.Equal(t, domain.StatusPending, event.Status)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for audit event")
	}

	assert.ErrorIs(t, pub.Emit(ctx, &domain.AuditEvent{}), domain.ErrInvalidInput)
}

func TestWorkerHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("PersistsEvent", func(t *testing.T) {
		store := newMemStore()
		w := NewWorker(nil, store, nil, nil)

		event := &domain.AuditEvent{ID: "e1", Token: "tok", Type: domain.EventClientDataReceived, Status: domain.StatusClientDataReceived}
		require.NoError(t, w.Handle(ctx, message(t, event)))

		require.Len(t, store.events, 1)
		assert.Equal(t, "tok", store.events[0].Token)
		assert.Empty(t, store.regs)
		assert.Equal(t, int64(1), w.GetStats().Processed)
	})

	t.Run("RegistersCompletedCredit", func(t *testing.T) {
		store := newMemStore()
		lru := cache.NewLRUCache(10)
		w := NewWorker(nil, store, lru, nil)

		token := "abcd1234-5678-90ef"
		require.NoError(t, w.Handle(ctx, message(t, completedEvent(token))))

		reg := store.regs[token]
		require.NotNil(t, reg)
		assert.Equal(t, "SIS-ABCD1234", reg.ID)
		assert.Equal(t, "1020304050", reg.CustomerID)
		assert.Equal(t, 8200.0, reg.Assessment.CupoEstimated)

		cached, err := lru.GetRegistration(ctx, token)
		require.NoError(t, err)
		require.NotNil(t, cached)
		assert.Equal(t, reg.ID, cached.ID)
		assert.Equal(t, int64(1), w.GetStats().Registered)
	})

	t.Run("FirstRegistrationWins", func(t *testing.T) {
		store := newMemStore()
		lru := cache.NewLRUCache(10)
		w := NewWorker(nil, store, lru, nil)

		first := completedEvent("tok-dup-1")
		second := completedEvent("tok-dup-1")
		second.Assessment = &domain.CreditAssessment{Category: domain.CategoryE}

		require.NoError(t, w.Handle(ctx, message(t, first)))
		require.NoError(t, w.Handle(ctx, message(t, second)))

		cached, _ := lru.GetRegistration(ctx, "tok-dup-1")
		require.NotNil(t, cached)
		assert.Equal(t, domain.CategoryB, cached.Assessment.Category)
	})

	t.Run("FailedAssessmentNotRegistered", func(t *testing.T) {
		store := newMemStore()
		w := NewWorker(nil, store, nil, nil)

		event := completedEvent("tok-f")
		event.Type = domain.EventAssessmentFailed
		event.Status = domain.StatusError
		require.NoError(t, w.Handle(ctx, message(t, event)))

		assert.Empty(t, store.regs)
	})

	t.Run("BadPayload", func(t *testing.T) {
		w := NewWorker(nil, newMemStore(), nil, nil)
		err := w.Handle(ctx, &domain.Message{ID: "m", Payload: []byte("{not json")})
		assert.Error(t, err)
		assert.Equal(t, int64(1), w.GetStats().Failures)
	})

	t.Run("StoreError", func(t *testing.T) {
		store := newMemStore()
		store.err = errors.New("disk full")
		w := NewWorker(nil, store, nil, nil)

		err := w.Handle(ctx, message(t, completedEvent("tok-e")))
		assert.Error(t, err)
		assert.Empty(t, store.regs)
	})
}

func TestWorkerEndToEnd(t *testing.T) {
	ctx := context.Background()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "audit.db"),
	})
	require.NoError(t, err)
	defer repo.Close()

	b := bus.NewChannelBus(100)
	defer b.Close()

	lru := cache.NewLRUCache(10)
	w := NewWorker(b, repo, lru, nil)
	require.NoError(t, w.Start(Config{RegistrationTTL: time.Minute}))
	defer w.Stop()

	assert.Equal(t, len(domain.AllEventTypes()), w.GetStats().SubscriptionCount)

	pub := NewPublisher(b)
	token := "e2e00001-aaaa"
	created := &domain.AuditEvent{
		ID:         "evt-created",
		Token:      token,
		Type:       domain.EventTransactionCreated,
		Status:     domain.StatusPending,
		OccurredAt: time.Date(2026, 3, 1, 9, 59, 0, 0, time.UTC),
	}
	require.NoError(t, pub.Emit(ctx, created))
	require.NoError(t, pub.Emit(ctx, completedEvent(token)))

	require.Eventually(t, func() bool {
		reg, _ := lru.GetRegistration(ctx, token)
		return reg != nil && w.GetStats().Processed == 2
	}, 2*time.Second, 10*time.Millisecond)

	events, err := repo.ListAuditEvents(ctx, token)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventTransactionCreated, events[0].Type)
	assert.Equal(t, domain.EventAssessmentCompleted, events[1].Type)

	reg, err := repo.GetRegistration(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "SIS-E2E00001", reg.ID)
}
