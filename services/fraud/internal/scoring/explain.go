package scoring

import (
	"github.com/shopspring/decimal"

	"github.com/frauddetect-platform/pkg/events"
)

// Explanation tags. Order of generation is fixed: score band, then outcome,
// then event-type-specific rules. Tags are never deduplicated.
const (
	TagLowRisk    = "low-risk-score"
	TagMediumRisk = "medium-risk-score"
	TagHighRisk   = "high-risk-score"

	TagApproved    = "transaction-approved"
	TagBlocked     = "transaction-blocked"
	TagMfaRequired = "mfa-required"
	TagShadowMode  = "shadow-mode"

	TagLargeTransaction = "large-transaction"
	TagFailedAuth       = "failed-authentication"
	TagLargePayment     = "large-payment"

	// TagDetectionError is the sole explanation on the fallback path.
	TagDetectionError = "fraud-detection-error"
)

// Rule thresholds
var (
	largeNotional = decimal.NewFromInt(10_000)
	largePayment  = decimal.NewFromInt(1_000)
)

// explain generates the deterministic explanation list for a scored event.
// Event-specific checks are skipped entirely when the relevant attribute is
// absent or not numeric.
func explain(score float64, action events.Action, ev *events.FraudEvent) []string {
	tags := make([]string, 0, 3)

	// Score band
	switch {
	case score < 0.10:
		tags = append(tags, TagLowRisk)
	case score < 0.30:
		tags = append(tags, TagMediumRisk)
	default:
		tags = append(tags, TagHighRisk)
	}

	// Outcome
	switch action {
	case events.ActionAllow:
		tags = append(tags, TagApproved)
	case events.ActionBlock:
		tags = append(tags, TagBlocked)
	case events.ActionMfa:
		tags = append(tags, TagMfaRequired)
	case events.ActionShadow:
		tags = append(tags, TagShadowMode)
	}

	// Event-type-specific
	switch ev.EventType {
	case events.EventTypePreTrade:
		if exceedsThreshold(ev.Notional, largeNotional) {
			tags = append(tags, TagLargeTransaction)
		}
	case events.EventTypeAuth:
		if ev.AuthSuccess != nil && !*ev.AuthSuccess {
			tags = append(tags, TagFailedAuth)
		}
	case events.EventTypePayment:
		if exceedsThreshold(ev.Amount, largePayment) {
			tags = append(tags, TagLargePayment)
		}
	}

	return tags
}

func exceedsThreshold(attr *string, threshold decimal.Decimal) bool {
	if attr == nil {
		return false
	}
	v, err := decimal.NewFromString(*attr)
	if err != nil {
		return false
	}
	return v.GreaterThan(threshold)
}
