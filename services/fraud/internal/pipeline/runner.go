// Package pipeline distributes events across key partitions and wires
// enrichment to scoring
package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/frauddetect-platform/pkg/events"
	"github.com/frauddetect-platform/services/fraud/internal/metrics"
	"github.com/frauddetect-platform/services/fraud/internal/scoring"
	"github.com/frauddetect-platform/services/fraud/internal/velocity"
)

// Sink receives one FraudScore per consumed FraudEvent
type Sink interface {
	Publish(ctx context.Context, score *events.FraudScore) error
}

// Config holds runner tunables
type Config struct {
	// Partitions is the number of concurrent partition workers. Events for
	// the same user always hash to the same partition, so per-key state
	// transitions are strictly ordered; different keys run in parallel.
	Partitions int
	// Buffer is the per-partition queue depth.
	Buffer int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Partitions: 16,
		Buffer:     64,
	}
}

// Runner is the partitioned event loop: raw record in, exactly one published
// FraudScore out per well-formed record. Blocking oracle calls are scoped to
// the single event's partition and never hold up other keys.
type Runner struct {
	calc   *velocity.Calculator
	proc   *scoring.Processor
	sink   Sink
	logger *slog.Logger

	partitions []chan *events.FraudEvent
	wg         sync.WaitGroup
}

// NewRunner creates a runner; call Start before submitting events
func NewRunner(cfg Config, calc *velocity.Calculator, proc *scoring.Processor, sink Sink, logger *slog.Logger) *Runner {
	if cfg.Partitions <= 0 {
		cfg.Partitions = DefaultConfig().Partitions
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig().Buffer
	}

	parts := make([]chan *events.FraudEvent, cfg.Partitions)
	for i := range parts {
		parts[i] = make(chan *events.FraudEvent, cfg.Buffer)
	}

	return &Runner{
		calc:       calc,
		proc:       proc,
		sink:       sink,
		logger:     logger,
		partitions: parts,
	}
}

// Start launches one worker per partition
func (r *Runner) Start(ctx context.Context) {
	for i, ch := range r.partitions {
		r.wg.Add(1)
		go func(id int, ch <-chan *events.FraudEvent) {
			defer r.wg.Done()
			r.run(ctx, id, ch)
		}(i, ch)
	}
	r.logger.Info("pipeline started", "partitions", len(r.partitions))
}

// HandleRaw ingests one serialized record. Malformed records are dropped with
// a warning and a nil return (they must not be redelivered); well-formed
// records are routed to their key's partition, blocking when it is full so
// that no parsed event is ever lost.
func (r *Runner) HandleRaw(ctx context.Context, body []byte) error {
	metrics.EventsConsumed.Inc()

	ev, err := events.ParseFraudEvent(body)
	if err != nil {
		metrics.EventsDropped.Inc()
		r.logger.Warn("dropping malformed event", "error", err)
		return nil
	}

	select {
	case r.partitions[r.partitionFor(ev.UserID)] <- ev:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline shutting down: %w", ctx.Err())
	}
}

func (r *Runner) partitionFor(userID string) int {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32() % uint32(len(r.partitions)))
}

func (r *Runner) run(ctx context.Context, id int, ch <-chan *events.FraudEvent) {
	for ev := range ch {
		r.process(ctx, ev)
	}
	r.logger.Debug("partition drained", "partition", id)
}

// process is the per-event hot path. The velocity update happens-before the
// oracle call; cancellation mid-call takes the fallback path inside the
// processor, so the event is still emitted exactly once.
func (r *Runner) process(ctx context.Context, ev *events.FraudEvent) {
	start := time.Now()

	enriched := r.calc.Enrich(ev)
	score := r.proc.Score(ctx, enriched)

	if err := r.sink.Publish(ctx, score); err != nil {
		metrics.SinkErrors.Inc()
		r.logger.Error("failed to publish score",
			"event_id", score.EventID,
			"error", err,
		)
	}

	metrics.EventsScored.WithLabelValues(string(score.Action)).Inc()
	metrics.ScoringDuration.Observe(float64(time.Since(start).Milliseconds()))
	metrics.TrackedKeys.Set(float64(r.calc.Store().Len()))
}

// Close stops intake and drains all partitions. In-flight oracle calls run to
// completion (or are cancelled via the Start context and fall back).
func (r *Runner) Close() {
	for _, ch := range r.partitions {
		close(ch)
	}
	r.wg.Wait()
	r.logger.Info("pipeline stopped")
}

// MultiSink fans a score out to several sinks; the first error wins but all
// sinks are attempted.
type MultiSink []Sink

// Publish implements Sink
func (m MultiSink) Publish(ctx context.Context, score *events.FraudScore) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, score); err != nil && first == nil {
			first = err
		}
	}
	return first
}
