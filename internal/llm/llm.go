package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Request is one text-generation call.
type Request struct {
	System   string
	User     string
	JSONMode bool
	// Model overrides the generator's configured model when non-empty.
	Model string
}

// TextGenerator defines the capability to turn a prompt pair into raw model text.
type TextGenerator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// StatusError is returned when the remote generator answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// RetryAfter extracts a server-provided retry hint from err, if any.
func RetryAfter(err error) time.Duration {
	var se *StatusError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}
