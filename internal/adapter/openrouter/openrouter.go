package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/promptgate/promptgate/internal/adapter"
	"github.com/promptgate/promptgate/internal/openai"
)

// Ensure OpenRouterAdapter implements ChatAdapter.
var _ adapter.ChatAdapter = (*OpenRouterAdapter)(nil)

// OpenRouterAdapter sends requests to the OpenRouter API, which speaks the
// OpenAI chat completion schema. Failed calls are never retried here; the
// caller decides what to tell the user.
type OpenRouterAdapter struct {
	apiKey     string
	baseURL    string
	referer    string // optional HTTP-Referer attribution header
	title      string // optional X-Title attribution header
	httpClient *http.Client
}

// Config holds configuration for the OpenRouter adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://openrouter.ai/api/v1
	Referer        string // optional
	Title          string // optional
	RequestTimeout time.Duration
}

// New creates an OpenRouterAdapter instance.
func New(cfg Config) (*OpenRouterAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openrouter: api key required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &OpenRouterAdapter{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		referer: cfg.Referer,
		title:   cfg.Title,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// CreateCompletion sends a chat completion request to OpenRouter.
func (a *OpenRouterAdapter) CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionResponse{}, errors.New("openrouter: no messages provided")
	}

	payload := map[string]interface{}{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   false,
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		payload["top_p"] = *req.TopP
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("openrouter: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("openrouter: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	if a.referer != "" {
		httpReq.Header.Set("HTTP-Referer", a.referer)
	}
	if a.title != "" {
		httpReq.Header.Set("X-Title", a.title)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("openrouter: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("openrouter: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error struct {
				Message string `json:"message"`
				Code    any    `json:"code"`
			} `json:"error"`
		}
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return openai.ChatCompletionResponse{}, fmt.Errorf("openrouter: %s (code=%v)", errResp.Error.Message, errResp.Error.Code)
		}
		return openai.ChatCompletionResponse{}, fmt.Errorf("openrouter: http %d: %s", resp.StatusCode, string(respBody))
	}

	var completion openai.ChatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("openrouter: unmarshal response: %w", err)
	}

	return completion, nil
}
