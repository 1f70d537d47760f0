// Package checkpoint persists velocity snapshots to Redis.
//
// Checkpointing is best-effort: losing velocity history on restart is an
// acceptable degradation (counts restart from zero), so every failure here is
// logged and swallowed, never fatal.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/frauddetect-platform/services/fraud/internal/metrics"
	"github.com/frauddetect-platform/services/fraud/internal/velocity"
)

const defaultKey = "fraud:velocity:checkpoint"

// Snapshots older than this are stale enough that restoring them would only
// resurrect expired buckets.
const maxAge = 25 * time.Hour

// RedisStore saves and restores velocity snapshots
type RedisStore struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisStore creates a checkpoint store on the given client
func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		key:    defaultKey,
		logger: logger,
	}
}

type envelope struct {
	SavedAt  time.Time         `json:"savedAt"`
	Snapshot velocity.Snapshot `json:"snapshot"`
}

// Save writes the current store contents to Redis
func (s *RedisStore) Save(ctx context.Context, store *velocity.Store) error {
	env := envelope{
		SavedAt:  time.Now().UTC(),
		Snapshot: store.Snapshot(),
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if err := s.client.Set(ctx, s.key, body, maxAge).Err(); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	s.logger.Debug("velocity checkpoint saved", "keys", len(env.Snapshot))
	return nil
}

// Restore loads the latest snapshot into store. A missing or stale
// checkpoint restores nothing and returns nil.
func (s *RedisStore) Restore(ctx context.Context, store *velocity.Store) error {
	body, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if time.Since(env.SavedAt) > maxAge {
		s.logger.Warn("ignoring stale velocity checkpoint", "saved_at", env.SavedAt)
		return nil
	}

	store.Restore(env.Snapshot)
	s.logger.Info("velocity checkpoint restored", "keys", len(env.Snapshot))
	return nil
}

// Run saves a checkpoint every interval until ctx is cancelled
func (s *RedisStore) Run(ctx context.Context, store *velocity.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final best-effort save on shutdown.
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Save(saveCtx, store); err != nil {
				metrics.CheckpointErrors.Inc()
				s.logger.Warn("final checkpoint save failed", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := s.Save(ctx, store); err != nil {
				metrics.CheckpointErrors.Inc()
				s.logger.Warn("checkpoint save failed", "error", err)
			}
		}
	}
}
