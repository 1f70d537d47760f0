// Package oracle defines the external scoring oracle contract and clients
package oracle

import (
	"context"
	"time"
)

// Request carries one event to the scoring oracle
type Request struct {
	DetectorID     string
	EventTypeName  string
	EventID        string
	EntityID       string // user id
	EventTimestamp time.Time
	Variables      map[string]string
}

// ModelScore is one model's score. The oracle reports scores in a stable
// order; the first entry is the primary model.
type ModelScore struct {
	Model string  `json:"modelName"`
	Score float64 `json:"score"`
}

// Response is the oracle's verdict for one event
type Response struct {
	ModelScores []ModelScore `json:"modelScores"`
	Outcomes    []string     `json:"outcomes"`
}

// Oracle maps event features to a fraud risk score and outcomes. It is a
// stateless shared dependency, safe to call concurrently from all partitions.
// Any failure (timeout, transport, malformed response) is returned as an
// error; callers decide the fallback.
type Oracle interface {
	Predict(ctx context.Context, req *Request) (*Response, error)
}
