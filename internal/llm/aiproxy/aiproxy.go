package aiproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jo-hoe/reelsmith/internal/common"
	"github.com/jo-hoe/reelsmith/internal/config"
	"github.com/jo-hoe/reelsmith/internal/llm"
)

var _ llm.TextGenerator = (*Client)(nil)

const (
	// Headers
	headerContentType   = "Content-Type"
	headerAuthorization = "Authorization"
	headerRetryAfter    = "Retry-After"

	// Auth
	authSchemeBearer = "Bearer"

	// Endpoints
	endpointChatCompletions = "v1/chat/completions"

	// Timeouts and limits
	defaultTimeout    = 60 * time.Second
	errorSnippetLimit = 400

	responseTypeJSON = "json_object"
)

// Role represents the sender role for a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Client implements llm.TextGenerator by calling an OpenAI-compatible AI Proxy.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature *float32
	maxTokens   *int
}

// New creates a new AI Proxy text generator. model is used when a request carries no override.
func New(cfg config.AIProxySettings, model string) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       strings.TrimSpace(model),
		temperature: optionalFloat32(cfg.Temperature),
		maxTokens:   optionalInt(cfg.MaxTokens),
	}
}

// Generate sends one chat completion and returns the assistant message content.
func (c *Client) Generate(ctx context.Context, in llm.Request) (string, error) {
	if strings.TrimSpace(in.User) == "" {
		return "", errors.New("user prompt is empty")
	}
	reqBody := c.buildRequestBody(in)

	u, err := url.JoinPath(c.baseURL, endpointChatCompletions)
	if err != nil {
		return "", fmt.Errorf("join url: %w", err)
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set(headerContentType, common.ContentTypeJSON)
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set(headerAuthorization, authSchemeBearer+" "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", &llm.StatusError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(respBytes), errorSnippetLimit),
			RetryAfter: parseRetryAfter(resp.Header.Get(headerRetryAfter)),
		}
	}

	var comp chatCompletionResponse
	if err := json.Unmarshal(respBytes, &comp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	// Empty content is returned as-is; the structured client salvages or retries it.
	if len(comp.Choices) == 0 {
		return "", fmt.Errorf("empty completion: no choices")
	}
	return comp.Choices[0].Message.Content, nil
}

func (c *Client) buildRequestBody(in llm.Request) chatCompletionRequest {
	var msgs []chatMessage
	if sys := strings.TrimSpace(in.System); sys != "" {
		msgs = append(msgs, chatMessage{Role: RoleSystem, Content: sys})
	}
	msgs = append(msgs, chatMessage{Role: RoleUser, Content: in.User})

	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = c.model
	}
	req := chatCompletionRequest{
		Model:    model,
		Messages: msgs,
		Stream:   false,
	}
	if in.JSONMode {
		req.ResponseFmt = map[string]string{"type": responseTypeJSON}
	}
	if c.temperature != nil {
		req.Temperature = c.temperature
	}
	if c.maxTokens != nil {
		req.MaxTokens = c.maxTokens
	}
	return req
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}

func optionalFloat32(v float32) *float32 {
	if v == 0 {
		return nil
	}
	return &v
}

func optionalInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// OpenAI-compatible Chat Completions request/response types

type chatCompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []chatMessage     `json:"messages"`
	Temperature *float32          `json:"temperature,omitempty"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
	ResponseFmt map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Choices []chatCompletionChoice `json:"choices"`
	Usage   *chatCompletionUsage   `json:"usage,omitempty"`
}

type chatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      responseMsg `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type responseMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
