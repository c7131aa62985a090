package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// RerankerConfig configures the cross-encoder client.
type RerankerConfig struct {
	Model    string        `json:"model"`
	Endpoint string        `json:"endpoint"`
	APIKey   string        `json:"api_key"`
	Timeout  time.Duration `json:"timeout"`
	// MaxInflight caps concurrent requests to the scoring service.
	MaxInflight int64 `json:"max_inflight"`
}

// DefaultRerankerConfig returns default configuration.
func DefaultRerankerConfig() *RerankerConfig {
	return &RerankerConfig{
		Model:       "BAAI/bge-reranker-v2-m3",
		Timeout:     10 * time.Second,
		MaxInflight: 4,
	}
}

// CrossEncoderReranker scores query/passage pairs through an external
// cross-encoder service. Errors are returned to the caller, which is
// expected to fall back to the fused order (see FallbackRerank).
type CrossEncoderReranker struct {
	config     *RerankerConfig
	httpClient *http.Client
	sem        *semaphore.Weighted
	logger     *logrus.Logger
}

// NewCrossEncoderReranker creates a reranker client.
func NewCrossEncoderReranker(config *RerankerConfig, logger *logrus.Logger) *CrossEncoderReranker {
	if config == nil {
		config = DefaultRerankerConfig()
	}
	if config.MaxInflight <= 0 {
		config.MaxInflight = DefaultRerankerConfig().MaxInflight
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CrossEncoderReranker{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		sem:        semaphore.NewWeighted(config.MaxInflight),
		logger:     logger,
	}
}

// Rerank scores the top topN fused candidates against the query and returns
// min(topK, len(candidates)) results ordered by relevance.
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, fused []FusedResult, topN, topK int) ([]RerankedResult, error) {
	if len(fused) == 0 {
		return nil, nil
	}
	if topN > 0 && len(fused) > topN {
		fused = fused[:topN]
	}
	if r.config.Endpoint == "" {
		return nil, fmt.Errorf("reranker endpoint not configured")
	}

	pairs := make([][2]string, len(fused))
	for i, f := range fused {
		pairs[i] = [2]string{query, f.Content}
	}

	scores, err := r.score(ctx, pairs)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(fused) {
		return nil, fmt.Errorf("reranker returned %d scores for %d pairs", len(scores), len(fused))
	}

	results := make([]RerankedResult, len(fused))
	for i, f := range fused {
		results[i] = RerankedResult{FusedResult: f, RerankScore: scores[i]}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].RerankScore != results[j].RerankScore {
			return results[i].RerankScore > results[j].RerankScore
		}
		return results[i].ID < results[j].ID
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// FallbackRerank maps fused results straight to reranked results, preserving
// the fused order. Used when the reranker fails: reranking is a quality
// enhancement, never a correctness requirement.
func FallbackRerank(fused []FusedResult, topK int) []RerankedResult {
	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}
	results := make([]RerankedResult, len(fused))
	for i, f := range fused {
		results[i] = RerankedResult{FusedResult: f, RerankScore: f.FusedScore}
	}
	return results
}

func (r *CrossEncoderReranker) score(ctx context.Context, pairs [][2]string) ([]float64, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for request slot: %w", err)
	}
	defer r.sem.Release(1)

	reqBody := map[string]interface{}{
		"model": r.config.Model,
		"pairs": pairs,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.Endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.APIKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("reranker returned status %d: %s", resp.StatusCode, string(body))
	}

	var decoded struct {
		Scores []float64 `json:"scores"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return decoded.Scores, nil
}
