// Package store implements score persistence: a ClickHouse analytics archive
// and a Postgres decision log for case review
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/frauddetect-platform/pkg/events"
)

// ScoreArchiver batches FraudScores into ClickHouse for analytics. It is a
// secondary output sink: archive failures are the caller's to log, they never
// block the primary score stream.
type ScoreArchiver struct {
	conn      driver.Conn
	logger    *slog.Logger
	batchSize int

	mu  sync.Mutex
	buf []*events.FraudScore
}

// ArchiverConfig for the ClickHouse sink
type ArchiverConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultArchiverConfig returns sensible defaults
func DefaultArchiverConfig() ArchiverConfig {
	return ArchiverConfig{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
	}
}

// NewScoreArchiver creates an archiver on an open ClickHouse connection
func NewScoreArchiver(conn driver.Conn, cfg ArchiverConfig, logger *slog.Logger) *ScoreArchiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultArchiverConfig().BatchSize
	}
	return &ScoreArchiver{
		conn:      conn,
		logger:    logger,
		batchSize: cfg.BatchSize,
		buf:       make([]*events.FraudScore, 0, cfg.BatchSize),
	}
}

// Publish buffers a score, flushing when the batch is full
func (a *ScoreArchiver) Publish(ctx context.Context, score *events.FraudScore) error {
	a.mu.Lock()
	a.buf = append(a.buf, score)
	full := len(a.buf) >= a.batchSize
	a.mu.Unlock()

	if full {
		return a.Flush(ctx)
	}
	return nil
}

// Flush writes the buffered scores as one ClickHouse batch
func (a *ScoreArchiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	pending := a.buf
	a.buf = make([]*events.FraudScore, 0, a.batchSize)
	a.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO fraud_scores (event_id, user_id, score, action, explanations, model_version, scored_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, s := range pending {
		err := batch.Append(
			s.EventID,
			s.UserID,
			s.Score,
			string(s.Action),
			s.Explanations,
			s.ModelVersion,
			s.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to append score: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	a.logger.Debug("scores archived", "count", len(pending))
	return nil
}

// Run flushes on a ticker until ctx is cancelled, then flushes once more
func (a *ScoreArchiver) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultArchiverConfig().FlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := a.Flush(flushCtx); err != nil {
				a.logger.Warn("final archive flush failed", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := a.Flush(ctx); err != nil {
				a.logger.Warn("archive flush failed", "error", err)
			}
		}
	}
}
