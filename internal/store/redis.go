package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/vecina/internal/domain"
)

// RedisStore keeps transactions in Redis as JSON documents.
// Updates use WATCH/MULTI so two replicas racing on one token cannot both commit.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
	retries   int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg domain.StoreConfig) (*RedisStore, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, cfg.Retention, cfg.UpdateRetries), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, retention time.Duration, retries int) *RedisStore {
	if retries <= 0 {
		retries = 10
	}
	return &RedisStore{client: client, retention: retention, retries: retries}
}

// GetTransaction loads a transaction.
func (s *RedisStore) GetTransaction(ctx context.Context, token string) (*domain.Transaction, error) {
	data, err := s.client.Get(ctx, key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, token)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return decode(data)
}

// PutTransaction stores a transaction, expiring it after the retention period.
func (s *RedisStore) PutTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.Token == "" {
		return fmt.Errorf("%w: transaction token is required", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}
	return s.client.Set(ctx, key(tx.Token), data, s.retention).Err()
}

// UpdateTransaction runs fn under an optimistic WATCH on the token's key and
// retries when another client committed in between.
func (s *RedisStore) UpdateTransaction(ctx context.Context, token string, fn domain.UpdateFunc) (*domain.Transaction, error) {
	k := key(token)

	for attempt := 0; attempt < s.retries; attempt++ {
		var updated *domain.Transaction

		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			data, err := rtx.Get(ctx, k).Bytes()
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: transaction %s", domain.ErrNotFound, token)
			}
			if err != nil {
				return err
			}

			tx, err := decode(data)
			if err != nil {
				return err
			}
			version := tx.Version
			if err := fn(tx); err != nil {
				return err
			}
			tx.Version = version + 1

			out, err := json.Marshal(tx)
			if err != nil {
				return fmt.Errorf("failed to encode transaction: %w", err)
			}

			_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, k, out, redis.KeepTTL)
				return nil
			})
			if err != nil {
				return err
			}
			updated = tx
			return nil
		}, k)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}

	return nil, fmt.Errorf("%w: transaction %s after %d attempts", domain.ErrConflict, token, s.retries)
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func key(token string) string {
	return "vecina:tx:" + token
}

func decode(data []byte) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return &tx, nil
}
