// Package httpapi implements the media services against JSON-over-HTTP endpoints.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jo-hoe/reelsmith/internal/common"
	"github.com/jo-hoe/reelsmith/internal/config"
)

const (
	headerContentType   = "Content-Type"
	headerAuthorization = "Authorization"
	authSchemeBearer    = "Bearer"

	defaultTimeout    = 2 * time.Minute
	errorSnippetLimit = 400
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Endpoint, e.StatusCode, strings.TrimSpace(e.Body))
}

// endpoint is the shared transport for every media client.
type endpoint struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func newEndpoint(cfg config.EndpointSettings) endpoint {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return endpoint{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
	}
}

func (e endpoint) do(ctx context.Context, method, path string, in, out any) error {
	u, err := url.JoinPath(e.baseURL, path)
	if err != nil {
		return fmt.Errorf("join url: %w", err)
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if in != nil {
		req.Header.Set(headerContentType, common.ContentTypeJSON)
	}
	if strings.TrimSpace(e.apiKey) != "" {
		req.Header.Set(headerAuthorization, authSchemeBearer+" "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &StatusError{Endpoint: path, StatusCode: resp.StatusCode, Body: truncate(string(respBytes), errorSnippetLimit)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBytes, out); err != nil {
		return fmt.Errorf("parse %s response: %w", path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
