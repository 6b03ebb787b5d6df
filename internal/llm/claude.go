package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
)

// Claude calls the Anthropic Messages API.
type Claude struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

func NewClaude(apiKey, model string) *Claude {
	return &Claude{
		apiKey:  apiKey,
		model:   model,
		baseURL: anthropicBaseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// WithBaseURL points the client at a different API host.
func (c *Claude) WithBaseURL(u string) *Claude {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

func (c *Claude) Name() string { return "claude:" + c.model }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	InputTokens int `json:"input_tokens"`
	Error       *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends prompt as a single user message and returns the text blocks
// of the reply.
func (c *Claude) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	ctx, cancel := withTimeout(ctx, opts)
	defer cancel()

	maxTokens := opts.MaxOutputUnits
	if maxTokens <= 0 {
		maxTokens = DefaultOptions().MaxOutputUnits
	}
	temp := opts.Temperature
	apiResp, err := c.post(ctx, "/v1/messages", anthropicRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: &temp,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response from claude")
	}
	return strings.TrimSpace(sb.String()), nil
}

// CountTokens asks the API for the exact input size of text.
func (c *Claude) CountTokens(ctx context.Context, text string) (int, error) {
	apiResp, err := c.post(ctx, "/v1/messages/count_tokens", anthropicRequest{
		Model:    c.model,
		Messages: []anthropicMessage{{Role: "user", Content: text}},
	})
	if err != nil {
		return 0, err
	}
	return apiResp.InputTokens, nil
}

func (c *Claude) post(ctx context.Context, path string, reqBody anthropicRequest) (*anthropicResponse, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("claude api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("claude api status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("claude error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	return &apiResp, nil
}

// Close releases resources.
func (c *Claude) Close() {
	c.httpClient.CloseIdleConnections()
}
