// Package yandex implements the YandexGPT completion provider. Yandex does
// not speak the OpenAI wire format, so this client is hand-rolled.
package yandex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/askdocs/service/internal/llm"
)

const defaultAPIURL = "https://llm.api.cloud.yandex.net/foundationModels/v1"

// Provider calls the YandexGPT foundation models API.
type Provider struct {
	apiURL     string
	apiKey     string
	folderID   string
	model      string
	httpClient *http.Client
}

// New creates a YandexGPT provider.
func New(apiURL, apiKey, folderID, model string) *Provider {
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	return &Provider{
		apiURL:     apiURL,
		apiKey:     apiKey,
		folderID:   folderID,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return "yandex" }

type completionRequest struct {
	ModelURI          string            `json:"modelUri"`
	CompletionOptions completionOptions `json:"completionOptions"`
	Messages          []message         `json:"messages"`
}

type completionOptions struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   string  `json:"maxTokens"`
}

type message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type completionResponse struct {
	Result struct {
		Alternatives []struct {
			Message message `json:"message"`
		} `json:"alternatives"`
		Usage struct {
			TotalTokens string `json:"totalTokens"`
		} `json:"usage"`
	} `json:"result"`
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	body := completionRequest{
		ModelURI: fmt.Sprintf("gpt://%s/%s", p.folderID, p.model),
		CompletionOptions: completionOptions{
			Temperature: 0.2,
			MaxTokens:   strconv.Itoa(req.MaxTokens),
		},
		Messages: []message{{Role: "user", Text: req.Prompt}},
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/completion", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Api-Key "+p.apiKey)
	httpReq.Header.Set("x-folder-id", p.folderID)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("yandex request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("yandex returned status %d: %s", resp.StatusCode, string(data))
	}

	var decoded completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(decoded.Result.Alternatives) == 0 {
		return nil, fmt.Errorf("yandex returned no alternatives")
	}

	tokens, _ := strconv.Atoi(decoded.Result.Usage.TotalTokens)
	return &llm.Response{
		Content:    decoded.Result.Alternatives[0].Message.Text,
		TokensUsed: tokens,
	}, nil
}
