package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fusedDoc(id, content string, score float64) FusedResult {
	var f FusedResult
	f.ID = id
	f.Content = content
	f.FusedScore = score
	return f
}

// fakeReranker scores each pair by a fixed per-content score.
func fakeReranker(t *testing.T, scoreByContent map[string]float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string      `json:"model"`
			Pairs [][2]string `json:"pairs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Model)

		scores := make([]float64, len(req.Pairs))
		for i, p := range req.Pairs {
			scores[i] = scoreByContent[p[1]]
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"scores": scores})
	}))
}

func TestRerank_ReordersByRelevance(t *testing.T) {
	srv := fakeReranker(t, map[string]float64{
		"weakly related": 0.2,
		"exact answer":   0.95,
		"off topic":      0.05,
	})
	defer srv.Close()

	r := NewCrossEncoderReranker(&RerankerConfig{Model: "test-reranker", Endpoint: srv.URL}, nil)
	fused := []FusedResult{
		fusedDoc("a", "weakly related", 0.9),
		fusedDoc("b", "exact answer", 0.5),
		fusedDoc("c", "off topic", 0.4),
	}

	reranked, err := r.Rerank(context.Background(), "query", fused, 30, 10)
	require.NoError(t, err)
	require.Len(t, reranked, 3)

	// Fused order is overridden by cross-encoder relevance.
	assert.Equal(t, "b", reranked[0].ID)
	assert.Equal(t, "a", reranked[1].ID)
	assert.Equal(t, "c", reranked[2].ID)
	assert.Equal(t, 0.95, reranked[0].RerankScore)
}

func TestRerank_RespectsTopNAndTopK(t *testing.T) {
	var gotPairs int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Pairs [][2]string `json:"pairs"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotPairs = len(req.Pairs)
		scores := make([]float64, len(req.Pairs))
		for i := range scores {
			scores[i] = float64(len(scores) - i)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"scores": scores})
	}))
	defer srv.Close()

	r := NewCrossEncoderReranker(&RerankerConfig{Model: "m", Endpoint: srv.URL}, nil)
	fused := make([]FusedResult, 10)
	for i := range fused {
		fused[i] = fusedDoc(string(rune('a'+i)), "doc", float64(10-i))
	}

	reranked, err := r.Rerank(context.Background(), "query", fused, 5, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, gotPairs)
	assert.Len(t, reranked, 3)
}

func TestRerank_EmptyInput(t *testing.T) {
	r := NewCrossEncoderReranker(nil, nil)
	reranked, err := r.Rerank(context.Background(), "query", nil, 30, 10)
	assert.NoError(t, err)
	assert.Empty(t, reranked)
}

func TestRerank_ErrorOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewCrossEncoderReranker(&RerankerConfig{Model: "m", Endpoint: srv.URL}, nil)
	_, err := r.Rerank(context.Background(), "query", []FusedResult{fusedDoc("a", "x", 0.5)}, 30, 10)
	assert.Error(t, err)
}

func TestRerank_ErrorOnScoreCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"scores": []float64{0.5}})
	}))
	defer srv.Close()

	r := NewCrossEncoderReranker(&RerankerConfig{Model: "m", Endpoint: srv.URL}, nil)
	fused := []FusedResult{fusedDoc("a", "x", 0.5), fusedDoc("b", "y", 0.4)}
	_, err := r.Rerank(context.Background(), "query", fused, 30, 10)
	assert.Error(t, err)
}

func TestRerank_ErrorWhenEndpointMissing(t *testing.T) {
	r := NewCrossEncoderReranker(&RerankerConfig{Model: "m"}, nil)
	_, err := r.Rerank(context.Background(), "query", []FusedResult{fusedDoc("a", "x", 0.5)}, 30, 10)
	assert.Error(t, err)
}

func TestRerank_BoundsConcurrentRequests(t *testing.T) {
	var inflight, peak int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt64(&inflight, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&inflight, -1)

		var req struct {
			Pairs [][2]string `json:"pairs"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		scores := make([]float64, len(req.Pairs))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"scores": scores})
	}))
	defer srv.Close()

	r := NewCrossEncoderReranker(&RerankerConfig{Model: "m", Endpoint: srv.URL, MaxInflight: 2}, nil)
	fused := []FusedResult{fusedDoc("a", "x", 0.5)}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Rerank(context.Background(), "query", fused, 30, 10)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestRerank_SlotWaitHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"scores": []float64{0.1}})
	}))
	defer srv.Close()
	defer close(release)

	r := NewCrossEncoderReranker(&RerankerConfig{Model: "m", Endpoint: srv.URL, MaxInflight: 1}, nil)
	fused := []FusedResult{fusedDoc("a", "x", 0.5)}

	// Occupy the only slot.
	go func() {
		_, _ = r.Rerank(context.Background(), "query", fused, 30, 10)
	}()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := r.Rerank(ctx, "query", fused, 30, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request slot")
}

func TestFallbackRerank_PreservesFusedOrderAndCount(t *testing.T) {
	fused := []FusedResult{
		fusedDoc("a", "first", 0.9),
		fusedDoc("b", "second", 0.7),
		fusedDoc("c", "third", 0.5),
	}

	reranked := FallbackRerank(fused, 10)
	require.Len(t, reranked, 3)
	assert.Equal(t, "a", reranked[0].ID)
	assert.Equal(t, "b", reranked[1].ID)
	assert.Equal(t, "c", reranked[2].ID)
	assert.Equal(t, 0.9, reranked[0].RerankScore)
}

func TestFallbackRerank_TruncatesToTopK(t *testing.T) {
	fused := []FusedResult{
		fusedDoc("a", "first", 0.9),
		fusedDoc("b", "second", 0.7),
		fusedDoc("c", "third", 0.5),
	}
	assert.Len(t, FallbackRerank(fused, 2), 2)
}
