// Package llmclient implements the HTTP client used to reach the
// multimodal large language model that backs the Completion Oracle, the
// Intent Router's classification calls, and the Dialogue Loop. It speaks
// the OpenAI-compatible chat-completions wire format, which works against
// OpenAI, Anthropic-compatible proxies, and any compatible endpoint — the
// same approach the teacher's copilot.LLMClient takes.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client handles communication with the configured LLM provider.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// New creates a new LLM client from config.
func New(cfg Config, logger *slog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "llm"),
	}
}

// Message is a single chat-format message, optionally carrying an inline
// image (used by the Completion Oracle's scene frame and the Dialogue
// Loop's camera snapshot).
type Message struct {
	Role       string
	Content    string
	ImageB64   string // optional, JPEG base64
	ToolCallID string
}

// wire types mirror the OpenAI chat-completions schema.

type wireContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

type wireMessage struct {
	Role       string      `json:"role"`
	Content    interface{} `json:"content"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

type wireRequest struct {
	Model          string        `json:"model"`
	Messages       []wireMessage `json:"messages"`
	ResponseFormat *wireRespFmt  `json:"response_format,omitempty"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
}

type wireRespFmt struct {
	Type string `json:"type"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Response holds the parsed reply from a completion call.
type Response struct {
	Content      string
	FinishReason string
}

// CompleteJSON sends messages and requires the model to answer with a JSON
// object (the caller unmarshals Content itself into its own strict struct
// — see oracle.Verdict and intent's classification types). Used whenever
// the caller needs a schema-shaped reply, per spec §6 "All calls require
// strict JSON output".
func (c *Client) CompleteJSON(ctx context.Context, messages []Message) (*Response, error) {
	return c.complete(ctx, messages, &wireRespFmt{Type: "json_object"}, 0)
}

// Complete sends messages and returns free-form text, used by the
// sub-agent's tool-call loop and its task-need check.
func (c *Client) Complete(ctx context.Context, messages []Message) (*Response, error) {
	return c.complete(ctx, messages, nil, 0)
}

// CompleteWithBudget behaves like Complete but caps the reply at maxTokens.
// A maxTokens of 0 means no cap.
func (c *Client) CompleteWithBudget(ctx context.Context, messages []Message, maxTokens int) (*Response, error) {
	return c.complete(ctx, messages, nil, maxTokens)
}

// CompleteJSONWithBudget behaves like CompleteJSON but caps the reply at
// maxTokens. A maxTokens of 0 means no cap. The Dialogue Loop uses it to
// spend only as many tokens as a search query's complexity tier calls for
// (see cache.Tier).
func (c *Client) CompleteJSONWithBudget(ctx context.Context, messages []Message, maxTokens int) (*Response, error) {
	return c.complete(ctx, messages, &wireRespFmt{Type: "json_object"}, maxTokens)
}

func (c *Client) complete(ctx context.Context, messages []Message, respFmt *wireRespFmt, maxTokens int) (*Response, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("LLM API key not configured")
	}

	wireMessages := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		if m.ImageB64 == "" {
			wireMessages = append(wireMessages, wireMessage{
				Role:       m.Role,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
			continue
		}
		parts := []wireContentPart{
			{Type: "text", Text: m.Content},
			{Type: "image_url", ImageURL: &wireImageURL{URL: "data:image/jpeg;base64," + m.ImageB64}},
		}
		wireMessages = append(wireMessages, wireMessage{Role: m.Role, Content: parts})
	}

	reqBody := wireRequest{
		Model:          c.model,
		Messages:       wireMessages,
		ResponseFormat: respFmt,
		MaxTokens:      maxTokens,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("LLM request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	duration := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("LLM API error", "status", resp.StatusCode, "body", truncate(string(respBytes), 500))
		return nil, fmt.Errorf("LLM API returned %d: %s", resp.StatusCode, truncate(string(respBytes), 500))
	}

	var wire wireResponse
	if err := json.Unmarshal(respBytes, &wire); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if wire.Error != nil {
		return nil, fmt.Errorf("LLM API error: %s", wire.Error.Message)
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("no choices in LLM response")
	}

	choice := wire.Choices[0]
	c.logger.Debug("completion done",
		"duration_ms", duration.Milliseconds(),
		"prompt_tokens", wire.Usage.PromptTokens,
		"completion_tokens", wire.Usage.CompletionTokens,
		"finish_reason", choice.FinishReason,
	)

	return &Response{
		Content:      strings.TrimSpace(choice.Message.Content),
		FinishReason: choice.FinishReason,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
