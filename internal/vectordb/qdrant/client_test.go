package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(&Config{}, nil)
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(&Config{URL: srv.URL, MaxInflight: 2}, nil)
	require.NoError(t, err)
	assert.NoError(t, c.HealthCheck(context.Background()))
}

func TestHealthCheck_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(&Config{URL: srv.URL, MaxInflight: 2}, nil)
	require.NoError(t, err)
	assert.Error(t, c.HealthCheck(context.Background()))
}

func TestQuery_DenseRequestShape(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"points": []map[string]interface{}{
					{"id": "doc-1", "score": 0.92, "payload": map[string]interface{}{"title": "Routing"}},
					{"id": 42, "score": 0.80, "payload": nil},
				},
			},
		})
	}))
	defer srv.Close()

	c, err := NewClient(&Config{URL: srv.URL, MaxInflight: 2}, nil)
	require.NoError(t, err)

	points, err := c.Query(context.Background(), QuerySpec{
		Collection: "docs_chunks",
		Dense:      []float32{0.1, 0.2},
		Limit:      5,
	})
	require.NoError(t, err)

	assert.Equal(t, "/collections/docs_chunks/points/query", gotPath)
	assert.Equal(t, "dense", gotBody["using"])
	assert.Equal(t, float64(5), gotBody["limit"])
	assert.Equal(t, true, gotBody["with_payload"])

	require.Len(t, points, 2)
	assert.Equal(t, "doc-1", points[0].ID)
	assert.Equal(t, 0.92, points[0].Score)
	assert.Equal(t, "Routing", points[0].Payload["title"])
	// Numeric IDs are normalized to strings.
	assert.Equal(t, "42", points[1].ID)
}

func TestQuery_SparseRequestShape(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{"points": []interface{}{}},
		})
	}))
	defer srv.Close()

	c, err := NewClient(&Config{URL: srv.URL, MaxInflight: 2}, nil)
	require.NoError(t, err)

	_, err = c.Query(context.Background(), QuerySpec{
		Collection: "docs_chunks",
		Sparse:     &SparseVector{Indices: []uint32{1, 7}, Values: []float32{0.6, 0.4}},
		Limit:      5,
	})
	require.NoError(t, err)

	assert.Equal(t, "sparse", gotBody["using"])
	query, ok := gotBody["query"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, query["indices"], 2)
	assert.Len(t, query["values"], 2)
}

func TestQuery_RequiresCollectionAndVector(t *testing.T) {
	c, err := NewClient(&Config{URL: "http://localhost:6333", MaxInflight: 2}, nil)
	require.NoError(t, err)

	_, err = c.Query(context.Background(), QuerySpec{Dense: []float32{0.1}})
	assert.Error(t, err)

	_, err = c.Query(context.Background(), QuerySpec{Collection: "docs_chunks"})
	assert.Error(t, err)
}

func TestQuery_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "collection not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewClient(&Config{URL: srv.URL, MaxInflight: 2}, nil)
	require.NoError(t, err)

	_, err = c.Query(context.Background(), QuerySpec{Collection: "missing", Dense: []float32{0.1}})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestQuery_SendsAPIKey(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("api-key")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{"points": []interface{}{}},
		})
	}))
	defer srv.Close()

	c, err := NewClient(&Config{URL: srv.URL, APIKey: "secret", MaxInflight: 2}, nil)
	require.NoError(t, err)

	_, err = c.Query(context.Background(), QuerySpec{Collection: "docs_chunks", Dense: []float32{0.1}})
	require.NoError(t, err)
	assert.Equal(t, "secret", gotKey)
}
