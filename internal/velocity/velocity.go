// Package velocity limits how fast a store can open credit transactions.
package velocity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/vecina/internal/domain"
)

// Service counts initiations per store in a fixed window.
type Service struct {
	cache       domain.Cache
	maxPerStore int64
	window      time.Duration
}

// NewService creates a new velocity service. A non-positive MaxPerStore disables limiting.
func NewService(cache domain.Cache, cfg domain.VelocityConfig) *Service {
	window := cfg.Window
	if window <= 0 {
		window = time.Hour
	}
	return &Service{
		cache:       cache,
		maxPerStore: int64(cfg.MaxPerStore),
		window:      window,
	}
}

// Allow records one initiation for storeID and returns the count in the current window.
// It fails with ErrRateLimited once the store exceeds its allowance.
func (s *Service) Allow(ctx context.Context, storeID string) (int64, error) {
	if storeID == "" {
		return 0, fmt.Errorf("%w: store_id is required", domain.ErrInvalidInput)
	}
	if s == nil || s.maxPerStore <= 0 || s.cache == nil {
		return 0, nil
	}

	count, err := s.cache.IncrementCounter(ctx, counterKey(storeID), s.window)
	if err != nil {
		// Fail open on counter errors.
		slog.Warn("velocity counter unavailable", "store_id", storeID, "error", err)
		return 0, nil
	}

	if count > s.maxPerStore {
		return count, fmt.Errorf("%w: store %s opened %d transactions in %s", domain.ErrRateLimited, storeID, count, s.window)
	}
	return count, nil
}

// Window returns the counting window.
func (s *Service) Window() time.Duration {
	return s.window
}

func counterKey(storeID string) string {
	return "store:" + storeID
}
