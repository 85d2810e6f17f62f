// Package structured asks a text generator for schema-shaped JSON and keeps asking,
// within a fixed budget, until the answer has the required shape.
package structured

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jo-hoe/reelsmith/internal/llm"
)

// ErrExhausted is returned when every attempt, including the fallback pass, failed.
var ErrExhausted = errors.New("structured generation exhausted")

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 1200 * time.Millisecond
)

// Validator applies a schema-specific check on top of the required keys.
type Validator func(obj map[string]any) error

// Schema names the expected response shape.
type Schema struct {
	Name         string
	RequiredKeys []string
	Validate     Validator
}

// Request is one structured call.
type Request struct {
	Schema Schema
	// Instructions are prepended to the generic JSON contract in the system prompt.
	Instructions string
	Prompt       string
	// Model overrides the generator default; empty keeps it.
	Model string
}

// Client wraps a TextGenerator with retry, repair and model fallback.
type Client struct {
	gen           llm.TextGenerator
	log           *slog.Logger
	maxAttempts   int
	backoff       time.Duration
	fallbackModel string
	sleeper       func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithMaxAttempts overrides the per-model attempt budget (defaults to 3).
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the base delay; attempt n waits n*base before the next try.
func WithBackoff(base time.Duration) Option {
	return func(c *Client) {
		if base >= 0 {
			c.backoff = base
		}
	}
}

// WithFallbackModel enables one extra full pass against model.
func WithFallbackModel(model string) Option {
	return func(c *Client) {
		c.fallbackModel = strings.TrimSpace(model)
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// WithLogger sets the logger used for retry and repair diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New constructs a structured-generation client.
func New(gen llm.TextGenerator, opts ...Option) *Client {
	c := &Client{
		gen:         gen,
		log:         slog.Default(),
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate returns the first response that parses as a JSON object carrying every
// required key and passing the schema validator.
func (c *Client) Generate(ctx context.Context, req Request) (map[string]any, error) {
	models := []string{req.Model}
	if c.fallbackModel != "" && c.fallbackModel != req.Model {
		models = append(models, c.fallbackModel)
	}

	var lastErr error
	for pass, model := range models {
		if pass > 0 {
			c.log.Warn("structured generation falling back to alternate model",
				"schema", req.Schema.Name, "model", model, "err", lastErr, "event", "degraded_fallback_model")
		}
		obj, err := c.runPass(ctx, req, model)
		if err == nil {
			return obj, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: schema %s: %v", ErrExhausted, req.Schema.Name, lastErr)
}

// Decode runs Generate and unmarshals the object into target.
func (c *Client) Decode(ctx context.Context, req Request, target any) error {
	obj, err := c.Generate(ctx, req)
	if err != nil {
		return err
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("re-encode %s: %w", req.Schema.Name, err)
	}
	if err := json.Unmarshal(b, target); err != nil {
		return fmt.Errorf("decode %s: %w", req.Schema.Name, err)
	}
	return nil
}

func (c *Client) runPass(ctx context.Context, req Request, model string) (map[string]any, error) {
	system := systemPrompt(req)
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		obj, err := c.attempt(ctx, req, system, model)
		if err == nil {
			return obj, nil
		}
		lastErr = err
		c.log.Debug("structured attempt failed",
			"schema", req.Schema.Name, "model", model, "attempt", attempt, "err", err)

		if attempt < c.maxAttempts {
			delay := time.Duration(attempt) * c.backoff
			if hint := llm.RetryAfter(err); hint > delay {
				delay = hint
			}
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, req Request, system, model string) (map[string]any, error) {
	raw, err := c.gen.Generate(ctx, llm.Request{
		System:   system,
		User:     req.Prompt,
		JSONMode: true,
		Model:    model,
	})
	if err != nil {
		return nil, err
	}
	obj, repaired, err := Repair(raw)
	if err != nil {
		return nil, err
	}
	if repaired {
		c.log.Warn("repaired malformed model output",
			"schema", req.Schema.Name, "model", model, "event", "degraded_json_repair")
	}
	if err := CheckRequired(obj, req.Schema.RequiredKeys); err != nil {
		return nil, err
	}
	if req.Schema.Validate != nil {
		if err := req.Schema.Validate(obj); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// CheckRequired reports the first key absent from obj.
func CheckRequired(obj map[string]any, keys []string) error {
	for _, k := range keys {
		if _, ok := obj[k]; !ok {
			return fmt.Errorf("missing required key %q", k)
		}
	}
	return nil
}

// NonEmptyArray validates that key holds a JSON array with at least one element.
func NonEmptyArray(key string) Validator {
	return func(obj map[string]any) error {
		arr, ok := obj[key].([]any)
		if !ok {
			return fmt.Errorf("%q is not an array", key)
		}
		if len(arr) == 0 {
			return fmt.Errorf("%q is empty", key)
		}
		return nil
	}
}

func systemPrompt(req Request) string {
	var b strings.Builder
	if s := strings.TrimSpace(req.Instructions); s != "" {
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Respond with one JSON object for schema %q and nothing else.", req.Schema.Name)
	if len(req.Schema.RequiredKeys) > 0 {
		fmt.Fprintf(&b, " Required top-level keys: %s.", strings.Join(req.Schema.RequiredKeys, ", "))
	}
	return b.String()
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
