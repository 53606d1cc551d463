package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/vecina/internal/api"
	"github.com/opensource-finance/vecina/internal/audit"
	"github.com/opensource-finance/vecina/internal/bus"
	"github.com/opensource-finance/vecina/internal/cache"
	"github.com/opensource-finance/vecina/internal/coordinator"
	"github.com/opensource-finance/vecina/internal/domain"
	"github.com/opensource-finance/vecina/internal/repository"
	"github.com/opensource-finance/vecina/internal/review"
	"github.com/opensource-finance/vecina/internal/rules"
	"github.com/opensource-finance/vecina/internal/store"
	"github.com/opensource-finance/vecina/internal/velocity"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Minute
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the audit worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *domain.Config) error {
	slog.Info("starting vecina",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"tier", cfg.Tier,
	)

	if !cfg.Tracing.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	txStore, err := store.New(cfg.Store, repo)
	if err != nil {
		return fmt.Errorf("failed to initialize transaction store: %w", err)
	}
	slog.Info("transaction store initialized", "type", cfg.Store.Type)

	engine, err := rules.NewEngine(100)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	defer engine.Close()

	var baseRules []*domain.RuleConfig
	if cfg.Rules.Builtin {
		baseRules = rules.BuiltinRules()
	}
	count, err := api.ReloadRules(ctx, engine, repo, baseRules)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	slog.Info("rule engine initialized", "rules_count", count)

	opts := []coordinator.Option{
		coordinator.WithTTL(cfg.Coordinator.TTL),
		coordinator.WithSink(audit.NewPublisher(busImpl)),
	}
	if cfg.Rules.Enabled {
		processor := review.NewProcessor(engine, cfg.Scoring, cfg.Rules.ReviewThreshold)
		opts = append(opts, coordinator.WithReviewer(processor))
		slog.Info("review processor initialized", "threshold", processor.Threshold)
	}
	coord := coordinator.New(txStore, cfg.Scoring, opts...)

	auditWorker := audit.NewWorker(busImpl, repo, cacheImpl, slog.Default())
	if err := auditWorker.Start(audit.Config{RegistrationTTL: cfg.Cache.RegistrationTTL}); err != nil {
		return fmt.Errorf("failed to start audit worker: %w", err)
	}
	defer func() {
		if err := auditWorker.Stop(); err != nil {
			slog.Error("failed to stop audit worker", "error", err)
		}
	}()

	srv := api.NewServer(cfg.Server, api.Deps{
		Coordinator:     coord,
		Repo:            repo,
		Cache:           cacheImpl,
		Bus:             busImpl,
		Velocity:        velocity.NewService(cacheImpl, cfg.Velocity),
		Engine:          engine,
		BaseRules:       baseRules,
		QRBaseURL:       cfg.Coordinator.QRBaseURL,
		RegistrationTTL: cfg.Cache.RegistrationTTL,
		Version:         Version,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if mem, ok := txStore.(*store.MemoryStore); ok {
		g.Go(func() error {
			sweep(gctx, mem, cfg.Store.Retention)
			return nil
		})
	}

	slog.Info("vecina is ready", "host", cfg.Server.Host, "port", cfg.Server.Port)
	printBanner(cfg, Version)

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("vecina shutdown complete")
	return nil
}

// sweep periodically drops in-memory transactions older than retention
// past their expiry.
func sweep(ctx context.Context, mem *store.MemoryStore, retention time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := mem.Sweep(now.Add(-retention)); n > 0 {
				slog.Debug("swept expired transactions", "count", n, "remaining", mem.Len())
			}
		}
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  VECINA - credit at the corner store")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /transactions/initiate         - Start an application")
	fmt.Println("    POST /transactions/validate_token   - Check a token")
	fmt.Println("    GET  /transactions/{token}/status   - Application status")
	fmt.Println("    POST /webhooks/whatsapp             - Customer half")
	fmt.Println("    POST /webhooks/pos                  - Store half")
	fmt.Println("    POST /score                         - Score a merged application")
	fmt.Println("    GET  /credits/{token}               - Registered credit")
	fmt.Println("    GET  /rules                         - List review rules")
	fmt.Println("    POST /rules/reload                  - Hot-reload review rules")
	fmt.Println("    GET  /health                        - Health check")
	fmt.Println()
}
