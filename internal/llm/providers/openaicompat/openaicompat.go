// Package openaicompat implements generation providers for any backend that
// speaks the OpenAI chat completions protocol (DeepSeek, OpenAI, proxies).
package openaicompat

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/askdocs/service/internal/llm"
)

// Provider wraps an OpenAI-compatible chat completions endpoint.
type Provider struct {
	name   string
	model  string
	client *openai.Client
}

// New creates a provider. baseURL may be empty for the vendor default.
func New(name, apiKey, baseURL, model string) *Provider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Provider{
		name:   name,
		model:  model,
		client: openai.NewClientWithConfig(cfg),
	}
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return p.name }

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("%s completion failed: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", p.name)
	}
	return &llm.Response{
		Content:    resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}
