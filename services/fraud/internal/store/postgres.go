package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/frauddetect-platform/pkg/events"
)

// Decision is a persisted scoring decision row
type Decision struct {
	ID           int64          `db:"id"`
	EventID      string         `db:"event_id"`
	UserID       string         `db:"user_id"`
	Score        float64        `db:"score"`
	Action       string         `db:"action"`
	Explanations pq.StringArray `db:"explanations"`
	ModelVersion string         `db:"model_version"`
	ScoredAt     time.Time      `db:"scored_at"`
	CreatedAt    time.Time      `db:"created_at"`
}

// DecisionRepository stores scoring decisions in Postgres for case review.
// Like the archiver it implements the output sink contract, so it can be
// fanned into the pipeline alongside the queue publisher.
type DecisionRepository struct {
	db *sqlx.DB
}

// NewDecisionRepository creates a repository on an open connection
func NewDecisionRepository(db *sqlx.DB) *DecisionRepository {
	return &DecisionRepository{db: db}
}

// Publish records one scoring decision
func (r *DecisionRepository) Publish(ctx context.Context, score *events.FraudScore) error {
	query := `
		INSERT INTO fraud_decisions (event_id, user_id, score, action, explanations, model_version, scored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		score.EventID,
		score.UserID,
		score.Score,
		string(score.Action),
		pq.StringArray(score.Explanations),
		score.ModelVersion,
		score.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// GetByEventID fetches a single decision
func (r *DecisionRepository) GetByEventID(ctx context.Context, eventID string) (*Decision, error) {
	var d Decision
	query := `
		SELECT id, event_id, user_id, score, action, explanations, model_version, scored_at, created_at
		FROM fraud_decisions
		WHERE event_id = $1
	`
	if err := r.db.GetContext(ctx, &d, query, eventID); err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return &d, nil
}

// ListByUser returns the most recent decisions for a user, newest first
func (r *DecisionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Decision
	query := `
		SELECT id, event_id, user_id, score, action, explanations, model_version, scored_at, created_at
		FROM fraud_decisions
		WHERE user_id = $1
		ORDER BY scored_at DESC
		LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &out, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	return out, nil
}
