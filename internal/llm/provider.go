// Package llm routes answer generation across multiple providers, guarding
// each one with a circuit breaker and failing over in priority order.
package llm

import "context"

// Request is the uniform completion request passed to every provider.
type Request struct {
	Prompt    string
	MaxTokens int
}

// Response is the uniform completion response.
type Response struct {
	Content    string
	TokensUsed int
}

// Provider is one generation backend. Implementations normalize their
// vendor-specific failures into a plain error; the router treats every error
// the same way.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Response, error)
}
