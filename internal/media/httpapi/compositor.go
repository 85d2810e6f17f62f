package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jo-hoe/reelsmith/internal/config"
	"github.com/jo-hoe/reelsmith/internal/media"
)

const pathRenders = "v1/renders"

var _ media.Compositor = (*CompositorClient)(nil)

// Render states reported by the compositor.
const (
	renderQueued    = "queued"
	renderRendering = "rendering"
	renderDone      = "done"
	renderFailed    = "failed"
)

// CompositorClient submits a render job and polls it until it finishes.
type CompositorClient struct {
	ep           endpoint
	pollInterval time.Duration
	timeout      time.Duration
}

// NewCompositorClient targets cfg.BaseURL. Use NewFallbackCompositorClient for the alternate endpoint.
func NewCompositorClient(cfg config.CompositorSetting) *CompositorClient {
	return newCompositor(cfg.EndpointSettings, cfg)
}

// NewFallbackCompositorClient targets cfg.FallbackURL with the same credentials and timings.
// It returns nil when no fallback is configured.
func NewFallbackCompositorClient(cfg config.CompositorSetting) *CompositorClient {
	if strings.TrimSpace(cfg.FallbackURL) == "" {
		return nil
	}
	ep := cfg.EndpointSettings
	ep.BaseURL = cfg.FallbackURL
	return newCompositor(ep, cfg)
}

func newCompositor(ep config.EndpointSettings, cfg config.CompositorSetting) *CompositorClient {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	timeout := cfg.RenderTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &CompositorClient{ep: newEndpoint(ep), pollInterval: poll, timeout: timeout}
}

type renderStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	URL    string `json:"url"`
	Error  string `json:"error"`
}

// Composite submits tl and waits for the render to reach done, failed or the render timeout.
func (c *CompositorClient) Composite(ctx context.Context, tl media.Timeline) (string, error) {
	if len(tl.Clips) == 0 {
		return "", errors.New("timeline has no clips")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var st renderStatus
	if err := c.ep.do(ctx, http.MethodPost, pathRenders, tl, &st); err != nil {
		return "", fmt.Errorf("submit render: %w", err)
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		switch strings.ToLower(st.Status) {
		case renderDone, "succeeded", "completed":
			if st.URL == "" {
				return "", fmt.Errorf("render %s finished without url", st.ID)
			}
			return st.URL, nil
		case renderFailed, "error":
			msg := st.Error
			if msg == "" {
				msg = "unknown error"
			}
			return "", fmt.Errorf("render %s failed: %s", st.ID, msg)
		case "", renderQueued, renderRendering, "processing":
		default:
			return "", fmt.Errorf("render %s: unexpected status %q", st.ID, st.Status)
		}
		if st.ID == "" {
			return "", errors.New("render accepted without id")
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("render %s: %w", st.ID, ctx.Err())
		case <-ticker.C:
		}
		if err := c.ep.do(ctx, http.MethodGet, pathRenders+"/"+st.ID, nil, &st); err != nil {
			return "", fmt.Errorf("poll render: %w", err)
		}
	}
}
