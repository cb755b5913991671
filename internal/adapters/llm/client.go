// Package llm adapts an OpenAI-compatible chat-completion endpoint to the
// TextGenerator port.
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

	"github.com/alekb/botesq/internal/ports"
)

const defaultTimeout = 60 * time.Second

type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewClient returns a generator for the given endpoint. An empty base URL
// yields a client that reports unavailable, which the arbitration engine
// surfaces as a dependency failure rather than a panic.
func NewClient(baseURL, apiKey, model string) *Client {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{},
	}
}

func (c *Client) Available() bool { return c.baseURL != "" }

type chatRequest struct {
	Model       string         `json:"model"`
	Messages    []ports.Message `json:"messages"`
	Temperature float64        `json:"temperature"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *Client) Generate(ctx context.Context, messages []ports.Message, opts ports.GenerateOptions) (ports.Generation, error) {
	if !c.Available() {
		return ports.Generation{}, fmt.Errorf("text-generation engine not configured")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return ports.Generation{}, fmt.Errorf("marshal chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return ports.Generation{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return ports.Generation{}, fmt.Errorf("chat completion call: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return ports.Generation{}, fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ports.Generation{}, fmt.Errorf("chat completion returned HTTP %d", resp.StatusCode)
	}
	var wire chatResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return ports.Generation{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return ports.Generation{}, fmt.Errorf("chat completion returned no choices")
	}
	return ports.Generation{
		Content:    wire.Choices[0].Message.Content,
		TokensUsed: wire.Usage.TotalTokens,
	}, nil
}
