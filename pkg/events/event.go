// Package events defines the fraud event wire model and RabbitMQ transport
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType classifies a behavioral event
type EventType string

const (
	EventTypePreTrade EventType = "PRE_TRADE"
	EventTypeAuth     EventType = "AUTH"
	EventTypePayment  EventType = "PAYMENT"
)

// Action is the risk decision attached to a scored event
type Action string

const (
	ActionAllow  Action = "ALLOW"
	ActionBlock  Action = "BLOCK"
	ActionMfa    Action = "MFA"
	ActionShadow Action = "SHADOW"
)

// Validation errors for inbound events
var (
	ErrMissingEventID   = errors.New("missing eventId")
	ErrMissingUserID    = errors.New("missing userId")
	ErrMissingEventType = errors.New("missing eventType")
	ErrMissingTimestamp = errors.New("missing timestamp")
)

// FraudEvent is an immutable behavioral event keyed by user.
// Optional attributes are pointers: present or absent, never empty-string.
// Numeric attributes travel as decimal strings on the wire.
type FraudEvent struct {
	EventID   string    `json:"eventId"`
	UserID    string    `json:"userId"`
	EventType EventType `json:"eventType"`
	Timestamp time.Time `json:"timestamp"`

	// Identity attributes
	IP       *string `json:"ip,omitempty"`
	DeviceID *string `json:"deviceId,omitempty"`
	Geo      *string `json:"geo,omitempty"`

	// Pre-trade attributes
	Symbol         *string `json:"symbol,omitempty"`
	AssetClass     *string `json:"assetClass,omitempty"`
	Quantity       *string `json:"quantity,omitempty"`
	Notional       *string `json:"notional,omitempty"`
	ExecutionPrice *string `json:"executionPrice,omitempty"`
	Fees           *string `json:"fees,omitempty"`

	// Auth attributes
	AuthType    *string `json:"authType,omitempty"`
	AuthSuccess *bool   `json:"authSuccess,omitempty"`

	// Payment attributes
	Amount        *string `json:"amount,omitempty"`
	Currency      *string `json:"currency,omitempty"`
	PaymentMethod *string `json:"paymentMethod,omitempty"`
}

// Validate checks the required fields of an inbound event
func (e *FraudEvent) Validate() error {
	switch {
	case e.EventID == "":
		return ErrMissingEventID
	case e.UserID == "":
		return ErrMissingUserID
	case e.EventType == "":
		return ErrMissingEventType
	case e.Timestamp.IsZero():
		return ErrMissingTimestamp
	}
	return nil
}

// ParseFraudEvent decodes and validates a serialized FraudEvent.
// Malformed records are the caller's responsibility to drop; duplicates are
// passed through untouched (at-least-once delivery is tolerated downstream).
func ParseFraudEvent(data []byte) (*FraudEvent, error) {
	var ev FraudEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("malformed fraud event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fraud event: %w", err)
	}
	return &ev, nil
}

// EnrichedEvent is a FraudEvent plus the velocity snapshot taken immediately
// after the update for its key. Immutable once produced.
type EnrichedEvent struct {
	FraudEvent
	// Velocity maps window label ("1m", "5m", ...) to the event count for
	// the user within that trailing window, including this event.
	Velocity map[string]int64 `json:"velocity"`
}

// FraudScore is the risk decision emitted for every consumed FraudEvent
type FraudScore struct {
	EventID      string    `json:"eventId"`
	UserID       string    `json:"userId"`
	Score        float64   `json:"score"` // contract: [0.0, 1.0]
	Action       Action    `json:"action"`
	Explanations []string  `json:"explanations"`
	ModelVersion string    `json:"modelVersion,omitempty"`
	Timestamp    time.Time `json:"timestamp"` // instant of scoring, not of the event
}

// Marshal serializes a FraudScore for the output sink
func (s *FraudScore) Marshal() ([]byte, error) {
	return json.Marshal(s)
}
