package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/askdocs/service/internal/config"
	"github.com/askdocs/service/internal/embedding"
	"github.com/askdocs/service/internal/vectordb/qdrant"
)

// HybridConfig configures fusion behavior.
type HybridConfig struct {
	// RRFK is the smoothing constant in 1/(k+rank).
	RRFK int `json:"rrf_k"`
	// DenseWeight and SparseWeight scale each list's RRF contribution.
	DenseWeight  float64 `json:"dense_weight"`
	SparseWeight float64 `json:"sparse_weight"`
	// PreRetrieveMultiplier retrieves N*k per mode to give fusion headroom.
	PreRetrieveMultiplier int `json:"pre_retrieve_multiplier"`
}

// DefaultHybridConfig returns default fusion parameters.
func DefaultHybridConfig() *HybridConfig {
	return &HybridConfig{
		RRFK:                  60,
		DenseWeight:           1.0,
		SparseWeight:          1.0,
		PreRetrieveMultiplier: 3,
	}
}

// HybridRetriever runs dense and sparse searches concurrently and fuses the
// two rank lists. It keeps no state between calls.
type HybridRetriever struct {
	store      *qdrant.Client
	collection string
	config     *HybridConfig
	logger     *logrus.Logger
}

// NewHybridRetriever creates a hybrid retriever over one collection.
func NewHybridRetriever(store *qdrant.Client, collection string, cfg *HybridConfig, logger *logrus.Logger) *HybridRetriever {
	if cfg == nil {
		cfg = DefaultHybridConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &HybridRetriever{
		store:      store,
		collection: collection,
		config:     cfg,
		logger:     logger,
	}
}

// Retrieve returns at most k fused results for the embedded query. If one
// mode fails the surviving list is used alone; ErrRetrievalFailed is raised
// only when no list survives.
func (h *HybridRetriever) Retrieve(ctx context.Context, pair embedding.Pair, k int, boosts config.BoostProfile) ([]FusedResult, error) {
	if k <= 0 {
		k = 10
	}
	preK := k * h.config.PreRetrieveMultiplier

	var wg sync.WaitGroup
	var densePoints, sparsePoints []qdrant.ScoredPoint
	var denseErr, sparseErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		densePoints, denseErr = h.store.Query(ctx, qdrant.QuerySpec{
			Collection: h.collection,
			Dense:      pair.Dense,
			Limit:      preK,
		})
	}()

	sparseSkipped := pair.Sparse.IsZero()
	if !sparseSkipped {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sparsePoints, sparseErr = h.store.Query(ctx, qdrant.QuerySpec{
				Collection: h.collection,
				Sparse: &qdrant.SparseVector{
					Indices: pair.Sparse.Indices,
					Values:  pair.Sparse.Values,
				},
				Limit: preK,
			})
		}()
	}
	wg.Wait()

	if denseErr != nil && (sparseSkipped || sparseErr != nil) {
		return nil, fmt.Errorf("%w: dense=%v, sparse=%v", ErrRetrievalFailed, denseErr, sparseErr)
	}
	if denseErr != nil {
		h.logger.WithError(denseErr).Warn("dense search failed, degrading to sparse-only")
		densePoints = nil
	}
	if sparseErr != nil {
		h.logger.WithError(sparseErr).Warn("sparse search failed, degrading to dense-only")
		sparsePoints = nil
	}

	fused := h.fuse(densePoints, sparsePoints, boosts)
	if len(fused) > k {
		fused = fused[:k]
	}

	h.logger.WithFields(logrus.Fields{
		"dense_count":  len(densePoints),
		"sparse_count": len(sparsePoints),
		"fused_count":  len(fused),
	}).Debug("hybrid retrieval completed")

	return fused, nil
}

// fuse computes weighted RRF over both lists, applies page-type boosts, and
// orders the result deterministically: descending boosted score, ties broken
// by candidate ID.
func (h *HybridRetriever) fuse(densePoints, sparsePoints []qdrant.ScoredPoint, boosts config.BoostProfile) []FusedResult {
	k := float64(h.config.RRFK)
	scores := make(map[string]float64)
	candidates := make(map[string]Candidate)

	for i, p := range densePoints {
		scores[p.ID] += h.config.DenseWeight / (k + float64(i+1))
		if _, seen := candidates[p.ID]; !seen {
			candidates[p.ID] = candidateFromPoint(p, i+1)
		}
	}
	for i, p := range sparsePoints {
		scores[p.ID] += h.config.SparseWeight / (k + float64(i+1))
		if _, seen := candidates[p.ID]; !seen {
			candidates[p.ID] = candidateFromPoint(p, i+1)
		}
	}

	results := make([]FusedResult, 0, len(scores))
	for id, score := range scores {
		c := candidates[id]
		boost := 1.0
		if boosts != nil && c.PageType != "" {
			if m, ok := boosts[c.PageType]; ok && m > 0 {
				boost = m
			}
		}
		results = append(results, FusedResult{
			Candidate:  c,
			FusedScore: score * boost,
			Boost:      boost,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FusedScore != results[j].FusedScore {
			return results[i].FusedScore > results[j].FusedScore
		}
		return results[i].ID < results[j].ID
	})

	return results
}
