package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/vecina/internal/domain"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	// Create temp database file
	tmpFile, err := os.CreateTemp("", "vecina-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func pendingTx(token string) *domain.Transaction {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.Transaction{
		Token:       token,
		StoreID:     "tienda-9",
		TenderoName: "Don Luis",
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(15 * time.Minute),
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("PutAndGetTransaction", func(t *testing.T) {
		tx := pendingTx("tok-put")
		if err := repo.PutTransaction(ctx, tx); err != nil {
			t.Fatalf("PutTransaction failed: %v", err)
		}

		got, err := repo.GetTransaction(ctx, tx.Token)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if got.StoreID != "tienda-9" || got.TenderoName != "Don Luis" {
			t.Errorf("unexpected transaction: %+v", got)
		}
		if got.Status != domain.StatusPending {
			t.Errorf("expected pending, got %s", got.Status)
		}
		if !got.ExpiresAt.Equal(tx.ExpiresAt) {
			t.Errorf("expected expires_at %v, got %v", tx.ExpiresAt, got.ExpiresAt)
		}
		if got.ClientData != nil || got.CreditResult != nil {
			t.Error("expected empty halves")
		}
	})

	t.Run("GetTransactionNotFound", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, "missing")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UpdateTransactionRoundTripsHalves", func(t *testing.T) {
		if err := repo.PutTransaction(ctx, pendingTx("tok-upd")); err != nil {
			t.Fatal(err)
		}

		distance := 2.5
		updated, err := repo.UpdateTransaction(ctx, "tok-upd", func(tx *domain.Transaction) error {
			tx.StoreValidation = &domain.StoreValidation{
				CedulaCliente: "123", NombreCliente: "Ana", KnowBuyer: 4, BuyFreq: 3,
				AvgPurchase: 20000, DistanceKm: &distance,
			}
			tx.Status = domain.StatusStoreValidationReceived
			return nil
		})
		if err != nil {
			t.Fatalf("UpdateTransaction failed: %v", err)
		}
		if updated.Version != 1 {
			t.Errorf("expected version 1, got %d", updated.Version)
		}

		got, _ := repo.GetTransaction(ctx, "tok-upd")
		if got.StoreValidation == nil || got.StoreValidation.KnowBuyer != 4 {
			t.Fatalf("store validation not persisted: %+v", got.StoreValidation)
		}
		if got.StoreValidation.DistanceKm == nil || *got.StoreValidation.DistanceKm != 2.5 {
			t.Error("distance not persisted")
		}
		if got.Status != domain.StatusStoreValidationReceived {
			t.Errorf("expected store_validation_received, got %s", got.Status)
		}
	})

	t.Run("UpdateTransactionAbortsOnError", func(t *testing.T) {
		if err := repo.PutTransaction(ctx, pendingTx("tok-abort")); err != nil {
			t.Fatal(err)
		}

		_, err := repo.UpdateTransaction(ctx, "tok-abort", func(tx *domain.Transaction) error {
			tx.Status = domain.StatusError
			return domain.ErrExpired
		})
		if !errors.Is(err, domain.ErrExpired) {
			t.Errorf("expected ErrExpired, got %v", err)
		}

		got, _ := repo.GetTransaction(ctx, "tok-abort")
		if got.Status != domain.StatusPending || got.Version != 0 {
			t.Errorf("row changed after aborted update: %s v%d", got.Status, got.Version)
		}
	})

	t.Run("UpdateTransactionRetriesLostRace", func(t *testing.T) {
		if err := repo.PutTransaction(ctx, pendingTx("tok-race")); err != nil {
			t.Fatal(err)
		}

		attempts := 0
		updated, err := repo.UpdateTransaction(ctx, "tok-race", func(tx *domain.Transaction) error {
			attempts++
			if attempts == 1 {
				// A competing writer commits between our read and write.
				if _, err := repo.UpdateTransaction(ctx, "tok-race", func(other *domain.Transaction) error {
					other.TenderoName = "competitor"
					return nil
				}); err != nil {
					t.Fatalf("competing update failed: %v", err)
				}
			}
			tx.Status = domain.StatusClientDataReceived
			return nil
		})
		if err != nil {
			t.Fatalf("UpdateTransaction failed: %v", err)
		}
		if attempts != 2 {
			t.Errorf("expected 2 attempts, got %d", attempts)
		}
		if updated.Version != 2 {
			t.Errorf("expected version 2, got %d", updated.Version)
		}
		if updated.TenderoName != "competitor" {
			t.Errorf("retry did not observe the competing write: %q", updated.TenderoName)
		}
	})

	t.Run("UpdateTransactionGivesUp", func(t *testing.T) {
		if err := repo.PutTransaction(ctx, pendingTx("tok-conflict")); err != nil {
			t.Fatal(err)
		}

		_, err := repo.UpdateTransaction(ctx, "tok-conflict", func(tx *domain.Transaction) error {
			_, err := repo.UpdateTransaction(ctx, "tok-conflict", func(*domain.Transaction) error { return nil })
			return err
		})
		if !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})
}

func TestAuditEvents(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	events := []*domain.AuditEvent{
		{ID: "e1", Token: "tok-a", Type: domain.EventTransactionCreated, Status: domain.StatusPending, OccurredAt: base},
		{ID: "e2", Token: "tok-a", Type: domain.EventClientDataReceived, Status: domain.StatusClientDataReceived, OccurredAt: base.Add(time.Second)},
		{ID: "e3", Token: "tok-b", Type: domain.EventTransactionCreated, Status: domain.StatusPending, OccurredAt: base},
	}
	for _, e := range events {
		if err := repo.SaveAuditEvent(ctx, e); err != nil {
			t.Fatalf("SaveAuditEvent failed: %v", err)
		}
	}

	// redelivery is ignored
	if err := repo.SaveAuditEvent(ctx, events[0]); err != nil {
		t.Fatalf("duplicate SaveAuditEvent failed: %v", err)
	}

	got, err := repo.ListAuditEvents(ctx, "tok-a")
	if err != nil {
		t.Fatalf("ListAuditEvents failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != domain.EventTransactionCreated || got[1].Type != domain.EventClientDataReceived {
		t.Errorf("unexpected order: %s, %s", got[0].Type, got[1].Type)
	}

	if err := repo.SaveAuditEvent(ctx, &domain.AuditEvent{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRegistrations(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	reg := &domain.CreditRegistration{
		ID:         domain.RegistrationID("abcdef123456"),
		Token:      "abcdef123456",
		StoreID:    "tienda-1",
		CustomerID: "1020304050",
		Assessment: domain.CreditAssessment{
			Category:      domain.CategoryB,
			ScoreConf:     0.74,
			CupoEstimated: 5400,
		},
		RegisteredAt: time.Now().UTC().Truncate(time.Second),
	}

	if err := repo.SaveRegistration(ctx, reg); err != nil {
		t.Fatalf("SaveRegistration failed: %v", err)
	}

	second := *reg
	second.Assessment.Category = domain.CategoryE
	if err := repo.SaveRegistration(ctx, &second); err != nil {
		t.Fatalf("duplicate SaveRegistration failed: %v", err)
	}

	got, err := repo.GetRegistration(ctx, reg.Token)
	if err != nil {
		t.Fatalf("GetRegistration failed: %v", err)
	}
	if got.ID != "SIS-ABCDEF12" {
		t.Errorf("expected SIS-ABCDEF12, got %s", got.ID)
	}
	if got.Assessment.Category != domain.CategoryB {
		t.Errorf("first registration should win, got %s", got.Assessment.Category)
	}
	if got.Assessment.CupoEstimated != 5400 {
		t.Errorf("expected cupo 5400, got %v", got.Assessment.CupoEstimated)
	}

	if _, err := repo.GetRegistration(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRuleConfigs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	lower := 1.0
	rule := &domain.RuleConfig{
		ID:         "far-customer",
		Name:       "Far customer",
		Version:    "1.0.0",
		Expression: "distance_km > 50.0",
		Bands:      []domain.RuleBand{{LowerLimit: &lower, SubRuleRef: domain.RuleOutcomeReview, Reason: "far"}},
		Weight:     1,
		Enabled:    true,
	}
	if err := repo.SaveRuleConfig(ctx, rule); err != nil {
		t.Fatalf("SaveRuleConfig failed: %v", err)
	}

	disabled := *rule
	disabled.ID = "off"
	disabled.Enabled = false
	if err := repo.SaveRuleConfig(ctx, &disabled); err != nil {
		t.Fatalf("SaveRuleConfig failed: %v", err)
	}

	// upsert on the same id and version
	rule.Weight = 2
	if err := repo.SaveRuleConfig(ctx, rule); err != nil {
		t.Fatalf("SaveRuleConfig upsert failed: %v", err)
	}

	rules, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		t.Fatalf("ListRuleConfigs failed: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 enabled rule, got %d", len(rules))
	}
	if rules[0].Weight != 2 {
		t.Errorf("expected weight 2, got %v", rules[0].Weight)
	}
	if len(rules[0].Bands) != 1 || rules[0].Bands[0].SubRuleRef != domain.RuleOutcomeReview {
		t.Errorf("bands not persisted: %+v", rules[0].Bands)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New(domain.RepositoryConfig{Driver: "oracle"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	r := &SQLRepository{driver: "postgres"}
	got := r.rebind("SELECT * FROM t WHERE a = ? AND b = ?")
	if got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Errorf("unexpected rebind: %s", got)
	}

	r.driver = "sqlite"
	if q := r.rebind("a = ?"); q != "a = ?" {
		t.Errorf("sqlite query should be unchanged: %s", q)
	}
}

func TestSQLiteDSN(t *testing.T) {
	t.Run("default path", func(t *testing.T) {
		path, dsn := sqliteDSN(domain.RepositoryConfig{})
		if path != defaultSQLitePath {
			t.Errorf("path = %q", path)
		}
		if !strings.HasPrefix(dsn, "file:./vecina.db?_pragma=journal_mode(WAL)&") {
			t.Errorf("unexpected dsn: %s", dsn)
		}
		if !strings.Contains(dsn, "_pragma=busy_timeout(5000)") {
			t.Errorf("busy timeout missing: %s", dsn)
		}
	})

	t.Run("creates nested directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "vecina.db")
		repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: path})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		defer repo.Close()
		if _, err := os.Stat(path); err != nil {
			t.Errorf("database file not created: %v", err)
		}
	})
}

func TestPostgresDSN(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		got := postgresDSN(domain.RepositoryConfig{})
		want := "host=localhost port=5432 dbname=vecina sslmode=disable"
		if got != want {
			t.Errorf("dsn = %q, want %q", got, want)
		}
	})

	t.Run("quotes credentials", func(t *testing.T) {
		got := postgresDSN(domain.RepositoryConfig{
			PostgresHost:     "db.internal",
			PostgresPort:     6432,
			PostgresUser:     "vecina",
			PostgresPassword: `it's a secret`,
			PostgresDB:       "creditos",
			PostgresSSLMode:  "require",
		})
		want := `host=db.internal port=6432 dbname=creditos sslmode=require user=vecina password='it\'s a secret'`
		if got != want {
			t.Errorf("dsn = %q, want %q", got, want)
		}
	})
}
