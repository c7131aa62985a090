// Package embedding converts query text into the dense vector and sparse
// term-weight map used for hybrid retrieval, by calling the external BGE-M3
// embedding services.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/askdocs/service/internal/cache"
)

// ErrUnavailable indicates the dense embedding service could not produce a
// vector. Dense failure is terminal for retrieval; sparse failure is not.
var ErrUnavailable = errors.New("embedding service unavailable")

// SparseVector is a term-id to weight mapping in parallel-array form.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// IsZero reports whether the vector carries no terms.
func (v SparseVector) IsZero() bool { return len(v.Indices) == 0 }

// Pair bundles both representations of one query. Read-only once produced.
type Pair struct {
	Dense  []float32    `json:"dense"`
	Sparse SparseVector `json:"sparse"`
}

// Config configures the embedding client.
type Config struct {
	// DenseURL is the dense embedding service base URL.
	DenseURL string
	// SparseURL is the sparse sidecar base URL.
	SparseURL string
	// Model identifies the embedding model; part of every cache key so a
	// model swap invalidates cached vectors.
	Model       string
	Timeout     time.Duration
	CacheTTL    time.Duration
	MaxInflight int64
}

// DefaultConfig returns defaults for a local BGE-M3 deployment.
func DefaultConfig() *Config {
	return &Config{
		DenseURL:    "http://localhost:8501",
		SparseURL:   "http://localhost:8502",
		Model:       "bge-m3",
		Timeout:     15 * time.Second,
		CacheTTL:    time.Hour,
		MaxInflight: 8,
	}
}

// Client calls the embedding services, memoizing results in the shared cache.
type Client struct {
	config     *Config
	httpClient *http.Client
	store      *cache.Store
	sem        *semaphore.Weighted
	logger     *logrus.Logger
}

// NewClient creates an embedding client. The cache store may be nil, in
// which case every call goes to the network.
func NewClient(config *Config, store *cache.Store, logger *logrus.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		store:      store,
		sem:        semaphore.NewWeighted(config.MaxInflight),
		logger:     logger,
	}
}

// EmbedPair produces both representations for a query. Sparse failure
// degrades to an empty sparse vector so retrieval can continue dense-only.
func (c *Client) EmbedPair(ctx context.Context, text string) (Pair, error) {
	dense, err := c.EmbedDense(ctx, text)
	if err != nil {
		return Pair{}, err
	}

	sparse, err := c.EmbedSparse(ctx, text)
	if err != nil {
		c.logger.WithError(err).Warn("sparse embedding failed, continuing dense-only")
		sparse = SparseVector{}
	}

	return Pair{Dense: dense, Sparse: sparse}, nil
}

// EmbedDense returns the dense vector for a text.
func (c *Client) EmbedDense(ctx context.Context, text string) ([]float32, error) {
	key := cache.Key("emb:dense", c.config.Model, text)
	var vec []float32
	if c.store != nil && c.store.Get(ctx, key, &vec) {
		return vec, nil
	}

	var resp struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := c.post(ctx, c.config.DenseURL+"/embed", map[string]string{"text": text}, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding in response", ErrUnavailable)
	}

	if c.store != nil {
		c.store.Put(ctx, key, resp.Embedding, c.config.CacheTTL)
	}
	return resp.Embedding, nil
}

// EmbedSparse returns the sparse term-weight vector for a text.
func (c *Client) EmbedSparse(ctx context.Context, text string) (SparseVector, error) {
	key := cache.Key("emb:sparse", c.config.Model, text)
	var vec SparseVector
	if c.store != nil && c.store.Get(ctx, key, &vec) {
		return vec, nil
	}

	if err := c.post(ctx, c.config.SparseURL+"/embed", map[string]string{"text": text}, &vec); err != nil {
		return SparseVector{}, err
	}
	if len(vec.Indices) != len(vec.Values) {
		return SparseVector{}, fmt.Errorf("sparse service returned %d indices but %d values", len(vec.Indices), len(vec.Values))
	}

	if c.store != nil {
		c.store.Put(ctx, key, vec, c.config.CacheTTL)
	}
	return vec, nil
}

func (c *Client) post(ctx context.Context, url string, body, dest interface{}) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for request slot: %w", err)
	}
	defer c.sem.Release(1)

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(data))
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
