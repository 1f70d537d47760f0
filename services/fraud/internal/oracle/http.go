package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client calls a remote fraud detector over HTTP.
//
// Wire contract:
//
//	POST {baseURL}/predict
//	{"detectorId":"...","eventTypeName":"...","eventId":"...",
//	 "eventTimestamp":"...","entities":[{"entityType":"customer","entityId":"..."}],
//	 "eventVariables":{...}}
//
// responds {"modelScores":[{"modelName":"...","score":0.42}],"outcomes":["ALLOW"]}.
// Non-2xx, timeout and undecodable bodies are all reported uniformly as errors.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// ClientConfig for the HTTP oracle client
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewClient creates an HTTP oracle client. The configured timeout is a hard
// upper bound; per-call deadlines from the caller's context still apply.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type entity struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
}

type predictionRequest struct {
	DetectorID     string            `json:"detectorId"`
	EventTypeName  string            `json:"eventTypeName"`
	EventID        string            `json:"eventId"`
	EventTimestamp string            `json:"eventTimestamp"`
	Entities       []entity          `json:"entities"`
	EventVariables map[string]string `json:"eventVariables"`
}

// Predict implements Oracle
func (c *Client) Predict(ctx context.Context, req *Request) (*Response, error) {
	payload := predictionRequest{
		DetectorID:     req.DetectorID,
		EventTypeName:  req.EventTypeName,
		EventID:        req.EventID,
		EventTimestamp: req.EventTimestamp.UTC().Format(time.RFC3339Nano),
		Entities:       []entity{{EntityType: "customer", EntityID: req.EntityID}},
		EventVariables: req.Variables,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prediction request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build prediction request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("oracle request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode oracle response: %w", err)
	}

	c.logger.Debug("oracle prediction",
		"event_id", req.EventID,
		"detector", req.DetectorID,
		"models", len(out.ModelScores),
	)

	return &out, nil
}
