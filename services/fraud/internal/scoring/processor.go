// Package scoring turns enriched events into fraud risk decisions
package scoring

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/frauddetect-platform/pkg/events"
	"github.com/frauddetect-platform/services/fraud/internal/metrics"
	"github.com/frauddetect-platform/services/fraud/internal/oracle"
)

// Route selects the detector and event type name sent to the oracle
type Route struct {
	DetectorID    string `yaml:"detector_id"`
	EventTypeName string `yaml:"event_type_name"`
}

// defaultRoutes is the fixed detector-selector table. Unrecognized event
// types fall back to the pre-trade route; see the routeFor comment.
var defaultRoutes = map[events.EventType]Route{
	events.EventTypePreTrade: {DetectorID: "pre-trade-detector", EventTypeName: "pre_trade"},
	events.EventTypeAuth:     {DetectorID: "auth-detector", EventTypeName: "auth"},
	events.EventTypePayment:  {DetectorID: "payment-detector", EventTypeName: "payment"},
}

// Config holds scoring configuration
type Config struct {
	// OracleTimeout bounds every oracle call. A timed-out call takes the
	// fallback path; it never stalls the partition beyond this bound.
	OracleTimeout time.Duration
	// Routes overrides the detector-selector table when non-nil.
	Routes map[events.EventType]Route
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		OracleTimeout: 2 * time.Second,
	}
}

// FallbackScore is the safe-default score emitted when the oracle cannot be
// reached. Availability is prioritized over precision: the pipeline emits a
// degraded-confidence decision rather than dropping or stalling the event.
const FallbackScore = 0.5

// Stats are cumulative processor counters
type Stats struct {
	Total     int64 `json:"total"`
	Scored    int64 `json:"scored"`
	Fallbacks int64 `json:"fallbacks"`
}

// Processor scores enriched events. Stateless per call; safe for concurrent
// use from all partitions.
type Processor struct {
	oracle oracle.Oracle
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	total     atomic.Int64
	scored    atomic.Int64
	fallbacks atomic.Int64
}

// NewProcessor creates a scoring processor
func NewProcessor(o oracle.Oracle, cfg Config, logger *slog.Logger) *Processor {
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = DefaultConfig().OracleTimeout
	}
	return &Processor{
		oracle: o,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Score produces exactly one FraudScore for the event. Oracle failures never
// surface to the caller: a single attempt is made, and any error (timeout,
// transport, oracle-side, malformed response) yields the fixed fallback
// score. Retry policy, if any, belongs to the oracle client.
func (p *Processor) Score(ctx context.Context, ev *events.EnrichedEvent) *events.FraudScore {
	p.total.Add(1)

	route := p.routeFor(ev.EventType)
	req := &oracle.Request{
		DetectorID:     route.DetectorID,
		EventTypeName:  route.EventTypeName,
		EventID:        ev.EventID,
		EntityID:       ev.UserID,
		EventTimestamp: ev.Timestamp,
		Variables:      buildVariables(ev),
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.OracleTimeout)
	defer cancel()

	resp, err := p.oracle.Predict(callCtx, req)
	if err != nil {
		p.fallbacks.Add(1)
		metrics.OracleFallbacks.Inc()
		p.logger.Warn("oracle call failed, emitting fallback score",
			"event_id", ev.EventID,
			"detector", route.DetectorID,
			"error", err,
		)
		return &events.FraudScore{
			EventID:      ev.EventID,
			UserID:       ev.UserID,
			Score:        FallbackScore,
			Action:       events.ActionAllow,
			Explanations: []string{TagDetectionError},
			Timestamp:    p.now().UTC(),
		}
	}
	p.scored.Add(1)

	score, modelVersion := primaryScore(resp)
	action := primaryAction(resp)

	return &events.FraudScore{
		EventID:      ev.EventID,
		UserID:       ev.UserID,
		Score:        score,
		Action:       action,
		Explanations: explain(score, action, &ev.FraudEvent),
		ModelVersion: modelVersion,
		Timestamp:    p.now().UTC(),
	}
}

// Stats returns cumulative counters for observability
func (p *Processor) Stats() Stats {
	return Stats{
		Total:     p.total.Load(),
		Scored:    p.scored.Load(),
		Fallbacks: p.fallbacks.Load(),
	}
}

// routeFor resolves the detector route for an event type. Unknown type tags
// intentionally route to the pre-trade detector rather than being rejected;
// validation has already established the event is otherwise well-formed.
func (p *Processor) routeFor(t events.EventType) Route {
	routes := p.cfg.Routes
	if routes == nil {
		routes = defaultRoutes
	}
	if r, ok := routes[t]; ok {
		return r
	}
	if r, ok := routes[events.EventTypePreTrade]; ok {
		return r
	}
	return defaultRoutes[events.EventTypePreTrade]
}

// primaryScore picks the first model score in the oracle's reported order
// (explicit tie-break), clamped to [0, 1]. No scores yields 0 with no model
// version.
func primaryScore(resp *oracle.Response) (float64, string) {
	if len(resp.ModelScores) == 0 {
		return 0, ""
	}
	first := resp.ModelScores[0]
	score := first.Score
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, first.Model
}

// primaryAction maps the oracle's first outcome to an action, defaulting to
// Allow when no outcome is reported.
func primaryAction(resp *oracle.Response) events.Action {
	if len(resp.Outcomes) == 0 {
		return events.ActionAllow
	}
	switch strings.ToUpper(resp.Outcomes[0]) {
	case "BLOCK":
		return events.ActionBlock
	case "MFA":
		return events.ActionMfa
	case "SHADOW":
		return events.ActionShadow
	default:
		return events.ActionAllow
	}
}

// buildVariables flattens the event into oracle feature variables. Present
// optional attributes map to one named feature each; absent attributes are
// omitted, never defaulted to empty string. The non-user velocity dimensions
// reuse the user 1m count when the corresponding identity attribute is
// present and report 0 otherwise.
func buildVariables(ev *events.EnrichedEvent) map[string]string {
	vars := make(map[string]string, 20)

	putStr := func(name string, v *string) {
		if v != nil {
			vars[name] = *v
		}
	}
	putStr("ip", ev.IP)
	putStr("deviceId", ev.DeviceID)
	putStr("geo", ev.Geo)
	putStr("symbol", ev.Symbol)
	putStr("assetClass", ev.AssetClass)
	putStr("quantity", ev.Quantity)
	putStr("notional", ev.Notional)
	putStr("executionPrice", ev.ExecutionPrice)
	putStr("fees", ev.Fees)
	putStr("authType", ev.AuthType)
	putStr("amount", ev.Amount)
	putStr("currency", ev.Currency)
	putStr("paymentMethod", ev.PaymentMethod)
	if ev.AuthSuccess != nil {
		vars["authSuccess"] = strconv.FormatBool(*ev.AuthSuccess)
	}

	oneMin := ev.Velocity["1m"]
	vars["userVelocity1m"] = strconv.FormatInt(oneMin, 10)
	vars["ipVelocity1m"] = dimensionCount(oneMin, ev.IP)
	vars["deviceVelocity1m"] = dimensionCount(oneMin, ev.DeviceID)
	vars["geoVelocity1m"] = dimensionCount(oneMin, ev.Geo)

	return vars
}

func dimensionCount(userCount int64, identity *string) string {
	if identity == nil {
		return "0"
	}
	return strconv.FormatInt(userCount, 10)
}
