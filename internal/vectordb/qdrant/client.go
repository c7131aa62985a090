// Package qdrant is a thin HTTP client for the Qdrant query API, covering
// the named dense and sparse vector searches the retriever needs.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Config configures the Qdrant client.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	// MaxInflight caps concurrent requests to the backend.
	MaxInflight int64
}

// DefaultConfig returns defaults suitable for a local Qdrant.
func DefaultConfig() *Config {
	return &Config{
		URL:         "http://localhost:6333",
		Timeout:     10 * time.Second,
		MaxInflight: 16,
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("qdrant URL is required")
	}
	if c.MaxInflight <= 0 {
		return fmt.Errorf("MaxInflight must be positive, got %d", c.MaxInflight)
	}
	return nil
}

// SparseVector is the Qdrant wire shape for sparse query vectors.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// IsZero reports whether the vector carries no terms.
func (v SparseVector) IsZero() bool { return len(v.Indices) == 0 }

// ScoredPoint is a single search hit with its payload metadata.
type ScoredPoint struct {
	ID      string                 `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// QuerySpec describes one named-vector search. Exactly one of Dense or
// Sparse must be set.
type QuerySpec struct {
	Collection string
	Dense      []float32
	Sparse     *SparseVector
	Limit      int
	Filter     map[string]interface{}
}

// Client talks to Qdrant over HTTP.
type Client struct {
	config     *Config
	httpClient *http.Client
	sem        *semaphore.Weighted
	logger     *logrus.Logger
}

// NewClient creates a new Qdrant client.
func NewClient(config *Config, logger *logrus.Logger) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		sem:        semaphore.NewWeighted(config.MaxInflight),
		logger:     logger,
	}, nil
}

// HealthCheck verifies connectivity. The root endpoint is used because
// newer Qdrant versions dropped /health.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.config.APIKey != "" {
		req.Header.Set("api-key", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy status: %d", resp.StatusCode)
	}
	return nil
}

// Query runs one named-vector search and returns scored points with
// payloads, ordered by backend score.
func (c *Client) Query(ctx context.Context, spec QuerySpec) ([]ScoredPoint, error) {
	if spec.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if spec.Limit <= 0 {
		spec.Limit = 10
	}

	body := map[string]interface{}{
		"limit":        spec.Limit,
		"with_payload": true,
	}
	switch {
	case spec.Sparse != nil:
		body["query"] = map[string]interface{}{
			"indices": spec.Sparse.Indices,
			"values":  spec.Sparse.Values,
		}
		body["using"] = "sparse"
	case spec.Dense != nil:
		body["query"] = spec.Dense
		body["using"] = "dense"
	default:
		return nil, fmt.Errorf("query spec has neither dense nor sparse vector")
	}
	if len(spec.Filter) > 0 {
		body["filter"] = spec.Filter
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for request slot: %w", err)
	}
	defer c.sem.Release(1)

	raw, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/query", spec.Collection), body)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Result struct {
			Points []struct {
				ID      interface{}            `json:"id"`
				Score   float64                `json:"score"`
				Payload map[string]interface{} `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	points := make([]ScoredPoint, 0, len(decoded.Result.Points))
	for _, p := range decoded.Result.Points {
		points = append(points, ScoredPoint{
			ID:      fmt.Sprintf("%v", p.ID),
			Score:   p.Score,
			Payload: p.Payload,
		})
	}

	c.logger.WithFields(logrus.Fields{
		"collection": spec.Collection,
		"hits":       len(points),
		"sparse":     spec.Sparse != nil,
	}).Debug("qdrant query completed")

	return points, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.URL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("api-key", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("qdrant returned status %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}
