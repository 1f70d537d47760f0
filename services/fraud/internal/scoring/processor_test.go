package scoring

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frauddetect-platform/pkg/events"
	"github.com/frauddetect-platform/services/fraud/internal/oracle"
)

type fakeOracle struct {
	resp    *oracle.Response
	err     error
	lastReq *oracle.Request
}

func (f *fakeOracle) Predict(ctx context.Context, req *oracle.Request) (*oracle.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

// blockingOracle never answers; it waits out the caller's deadline
type blockingOracle struct{}

func (blockingOracle) Predict(ctx context.Context, req *oracle.Request) (*oracle.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strptr(s string) *string { return &s }
func boolptr(b bool) *bool    { return &b }

func enriched(ev events.FraudEvent, oneMin int64) *events.EnrichedEvent {
	return &events.EnrichedEvent{
		FraudEvent: ev,
		Velocity:   map[string]int64{"1m": oneMin, "5m": oneMin, "15m": oneMin, "1h": oneMin, "1d": oneMin},
	}
}

func TestScoreHighRiskTradeBlocked(t *testing.T) {
	o := &fakeOracle{resp: &oracle.Response{
		ModelScores: []oracle.ModelScore{{Model: "fraud_model_v3", Score: 0.91}},
		Outcomes:    []string{"block"},
	}}
	p := NewProcessor(o, DefaultConfig(), testLogger())

	ev := enriched(events.FraudEvent{
		EventID:   "evt-1",
		UserID:    "user-1",
		EventType: events.EventTypePreTrade,
		Timestamp: time.Now(),
		Notional:  strptr("50000"),
	}, 12)

	score := p.Score(context.Background(), ev)

	require.NotNil(t, score)
	assert.Equal(t, "evt-1", score.EventID)
	assert.Equal(t, "user-1", score.UserID)
	assert.InDelta(t, 0.91, score.Score, 1e-9)
	assert.Equal(t, events.ActionBlock, score.Action)
	assert.Equal(t, "fraud_model_v3", score.ModelVersion)
	assert.Equal(t, []string{TagHighRisk, TagBlocked, TagLargeTransaction}, score.Explanations)
}

func TestScoreOracleFailureFallsBack(t *testing.T) {
	o := &fakeOracle{err: errors.New("connection refused")}
	p := NewProcessor(o, DefaultConfig(), testLogger())

	ev := enriched(events.FraudEvent{
		EventID:   "evt-2",
		UserID:    "user-1",
		EventType: events.EventTypePreTrade,
		Timestamp: time.Now(),
		Notional:  strptr("50000"),
	}, 1)

	score := p.Score(context.Background(), ev)

	require.NotNil(t, score)
	assert.Equal(t, FallbackScore, score.Score)
	assert.Equal(t, events.ActionAllow, score.Action)
	// No band, outcome, or rule tags on the fallback path.
	assert.Equal(t, []string{TagDetectionError}, score.Explanations)
	assert.Empty(t, score.ModelVersion)
}

func TestScoreOracleTimeoutFallsBack(t *testing.T) {
	p := NewProcessor(blockingOracle{}, Config{OracleTimeout: 10 * time.Millisecond}, testLogger())

	ev := enriched(events.FraudEvent{
		EventID:   "evt-3",
		UserID:    "user-1",
		EventType: events.EventTypeAuth,
		Timestamp: time.Now(),
	}, 1)

	start := time.Now()
	score := p.Score(context.Background(), ev)

	assert.Less(t, time.Since(start), time.Second, "timeout must bound the call")
	assert.Equal(t, FallbackScore, score.Score)
	assert.Equal(t, []string{TagDetectionError}, score.Explanations)
}

func TestScoreDeterministicExplanations(t *testing.T) {
	o := &fakeOracle{resp: &oracle.Response{
		ModelScores: []oracle.ModelScore{{Model: "m", Score: 0.2}},
		Outcomes:    []string{"ALLOW"},
	}}
	p := NewProcessor(o, DefaultConfig(), testLogger())

	ev := enriched(events.FraudEvent{
		EventID:     "evt-4",
		UserID:      "user-1",
		EventType:   events.EventTypeAuth,
		Timestamp:   time.Now(),
		AuthSuccess: boolptr(false),
	}, 3)

	first := p.Score(context.Background(), ev)
	second := p.Score(context.Background(), ev)

	assert.Equal(t, first.Explanations, second.Explanations)
	assert.Equal(t, []string{TagMediumRisk, TagApproved, TagFailedAuth}, first.Explanations)
}

func TestDetectorRouting(t *testing.T) {
	tests := []struct {
		name          string
		eventType     events.EventType
		wantDetector  string
		wantEventType string
	}{
		{"pre-trade", events.EventTypePreTrade, "pre-trade-detector", "pre_trade"},
		{"auth", events.EventTypeAuth, "auth-detector", "auth"},
		{"payment", events.EventTypePayment, "payment-detector", "payment"},
		{"unknown defaults to pre-trade", events.EventType("WIRE_TRANSFER"), "pre-trade-detector", "pre_trade"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &fakeOracle{resp: &oracle.Response{}}
			p := NewProcessor(o, DefaultConfig(), testLogger())

			p.Score(context.Background(), enriched(events.FraudEvent{
				EventID:   "evt-5",
				UserID:    "user-1",
				EventType: tt.eventType,
				Timestamp: time.Now(),
			}, 1))

			require.NotNil(t, o.lastReq)
			assert.Equal(t, tt.wantDetector, o.lastReq.DetectorID)
			assert.Equal(t, tt.wantEventType, o.lastReq.EventTypeName)
			assert.Equal(t, "user-1", o.lastReq.EntityID)
		})
	}
}

func TestScoreFirstModelWins(t *testing.T) {
	o := &fakeOracle{resp: &oracle.Response{
		ModelScores: []oracle.ModelScore{
			{Model: "model_a", Score: 0.15},
			{Model: "model_b", Score: 0.95},
		},
		Outcomes: []string{"ALLOW"},
	}}
	p := NewProcessor(o, DefaultConfig(), testLogger())

	score := p.Score(context.Background(), enriched(events.FraudEvent{
		EventID:   "evt-6",
		UserID:    "user-1",
		EventType: events.EventTypePayment,
		Timestamp: time.Now(),
	}, 1))

	assert.InDelta(t, 0.15, score.Score, 1e-9)
	assert.Equal(t, "model_a", score.ModelVersion)
}

func TestScoreEmptyResponseDefaults(t *testing.T) {
	o := &fakeOracle{resp: &oracle.Response{}}
	p := NewProcessor(o, DefaultConfig(), testLogger())

	score := p.Score(context.Background(), enriched(events.FraudEvent{
		EventID:   "evt-7",
		UserID:    "user-1",
		EventType: events.EventTypeAuth,
		Timestamp: time.Now(),
	}, 1))

	assert.Zero(t, score.Score)
	assert.Empty(t, score.ModelVersion)
	assert.Equal(t, events.ActionAllow, score.Action)
}

func TestScoreClampsToUnitInterval(t *testing.T) {
	tests := []struct {
		name string
		raw  float64
		want float64
	}{
		{"above one", 1.5, 1},
		{"below zero", -0.2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &fakeOracle{resp: &oracle.Response{
				ModelScores: []oracle.ModelScore{{Model: "m", Score: tt.raw}},
			}}
			p := NewProcessor(o, DefaultConfig(), testLogger())

			score := p.Score(context.Background(), enriched(events.FraudEvent{
				EventID:   "evt-8",
				UserID:    "user-1",
				EventType: events.EventTypePayment,
				Timestamp: time.Now(),
			}, 1))

			assert.Equal(t, tt.want, score.Score)
		})
	}
}

func TestBuildVariables(t *testing.T) {
	o := &fakeOracle{resp: &oracle.Response{}}
	p := NewProcessor(o, DefaultConfig(), testLogger())

	ev := enriched(events.FraudEvent{
		EventID:     "evt-9",
		UserID:      "user-1",
		EventType:   events.EventTypeAuth,
		Timestamp:   time.Now(),
		IP:          strptr("10.1.2.3"),
		AuthType:    strptr("password"),
		AuthSuccess: boolptr(false),
	}, 7)

	p.Score(context.Background(), ev)

	require.NotNil(t, o.lastReq)
	vars := o.lastReq.Variables

	assert.Equal(t, "10.1.2.3", vars["ip"])
	assert.Equal(t, "password", vars["authType"])
	assert.Equal(t, "false", vars["authSuccess"])
	assert.Equal(t, "7", vars["userVelocity1m"])
	// IP is present so the ip dimension mirrors the user count; device and
	// geo are absent so their dimensions report zero.
	assert.Equal(t, "7", vars["ipVelocity1m"])
	assert.Equal(t, "0", vars["deviceVelocity1m"])
	assert.Equal(t, "0", vars["geoVelocity1m"])

	// Absent optional attributes are omitted, not defaulted.
	_, ok := vars["notional"]
	assert.False(t, ok)
	_, ok = vars["deviceId"]
	assert.False(t, ok)
}

func TestStats(t *testing.T) {
	o := &fakeOracle{resp: &oracle.Response{}}
	p := NewProcessor(o, DefaultConfig(), testLogger())

	ev := enriched(events.FraudEvent{
		EventID:   "evt-10",
		UserID:    "user-1",
		EventType: events.EventTypePayment,
		Timestamp: time.Now(),
	}, 1)

	p.Score(context.Background(), ev)
	o.err = errors.New("boom")
	p.Score(context.Background(), ev)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Scored)
	assert.Equal(t, int64(1), stats.Fallbacks)
}
