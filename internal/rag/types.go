// Package rag implements hybrid dense/sparse retrieval with reciprocal rank
// fusion and cross-encoder reranking over the documentation index.
package rag

import (
	"errors"
	"fmt"

	"github.com/askdocs/service/internal/vectordb/qdrant"
)

// ErrRetrievalFailed indicates both the dense and the sparse search failed.
// A single-mode failure degrades silently to the surviving mode.
var ErrRetrievalFailed = errors.New("retrieval failed in both modes")

// Page types carried in chunk payloads.
const (
	PageTypeAPI          = "api"
	PageTypeFAQ          = "faq"
	PageTypeGuide        = "guide"
	PageTypeReleaseNotes = "release_notes"
)

// Candidate is one chunk returned by the vector store.
type Candidate struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Section     string `json:"section"`
	PageType    string `json:"page_type"`
	ContentHash string `json:"content_hash"`
	Content     string `json:"content"`
	// Score is the raw similarity from the source list.
	Score float64 `json:"score"`
	// Rank is the 1-based position in the source list.
	Rank int `json:"rank"`
}

// FusedResult is a candidate with its RRF score and the boost applied.
type FusedResult struct {
	Candidate
	FusedScore float64 `json:"fused_score"`
	Boost      float64 `json:"boost"`
}

// RerankedResult is a fused result with its cross-encoder relevance score.
type RerankedResult struct {
	FusedResult
	RerankScore float64 `json:"rerank_score"`
}

// candidateFromPoint maps a vector store hit onto a Candidate.
func candidateFromPoint(p qdrant.ScoredPoint, rank int) Candidate {
	c := Candidate{
		ID:    p.ID,
		Score: p.Score,
		Rank:  rank,
	}
	c.URL = payloadString(p.Payload, "url")
	c.Title = payloadString(p.Payload, "title")
	c.Section = payloadString(p.Payload, "section")
	c.PageType = payloadString(p.Payload, "page_type")
	c.ContentHash = payloadString(p.Payload, "content_hash")
	if c.Content = payloadString(p.Payload, "content"); c.Content == "" {
		c.Content = payloadString(p.Payload, "text")
	}
	return c
}

func payloadString(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload[key].(string); ok {
		return s
	}
	if v, ok := payload[key]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
