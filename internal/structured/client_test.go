package structured

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jo-hoe/reelsmith/internal/llm"
)

type scriptedGenerator struct {
	mu        sync.Mutex
	responses map[string][]string // model -> queued responses, last one repeats
	err       error
	calls     []llm.Request
}

func (g *scriptedGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.err != nil {
		return "", g.err
	}
	queue := g.responses[req.Model]
	if len(queue) == 0 {
		return "", errors.New("no scripted response")
	}
	out := queue[0]
	if len(queue) > 1 {
		g.responses[req.Model] = queue[1:]
	}
	return out, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var planSchema = Schema{Name: "plan", RequiredKeys: []string{"sections"}, Validate: NonEmptyArray("sections")}

func TestGenerate_RetryBoundAlwaysFailing(t *testing.T) {
	for _, tc := range []struct {
		name     string
		fallback string
		want     int
	}{
		{name: "no fallback", want: 3},
		{name: "with fallback", fallback: "backup", want: 6},
	} {
		t.Run(tc.name, func(t *testing.T) {
			gen := &scriptedGenerator{err: errors.New("upstream down")}
			var sleeps []time.Duration
			c := New(gen,
				WithLogger(quietLogger()),
				WithMaxAttempts(3),
				WithBackoff(time.Second),
				WithFallbackModel(tc.fallback),
				WithSleeper(func(d time.Duration) { sleeps = append(sleeps, d) }),
			)
			_, err := c.Generate(context.Background(), Request{Schema: planSchema, Prompt: "x"})
			if !errors.Is(err, ErrExhausted) {
				t.Fatalf("err = %v, want ErrExhausted", err)
			}
			if len(gen.calls) != tc.want {
				t.Fatalf("attempts = %d, want %d", len(gen.calls), tc.want)
			}
			if sleeps[0] != time.Second || sleeps[1] != 2*time.Second {
				t.Fatalf("backoff not linear: %v", sleeps)
			}
			if tc.fallback != "" && gen.calls[len(gen.calls)-1].Model != tc.fallback {
				t.Fatalf("last pass should use fallback model, got %q", gen.calls[len(gen.calls)-1].Model)
			}
		})
	}
}

func TestGenerate_ValidationFailureIsRetried(t *testing.T) {
	gen := &scriptedGenerator{responses: map[string][]string{
		"": {`{"sections":[]}`, `{"title":"no sections"}`, `{"sections":[{"id":"s1"}]}`},
	}}
	c := New(gen, WithLogger(quietLogger()), WithSleeper(func(time.Duration) {}))
	obj, err := c.Generate(context.Background(), Request{Schema: planSchema, Prompt: "x"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(gen.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(gen.calls))
	}
	if arr := obj["sections"].([]any); len(arr) != 1 {
		t.Fatalf("unexpected sections: %v", obj)
	}
	if !gen.calls[0].JSONMode || !strings.Contains(gen.calls[0].System, `schema "plan"`) {
		t.Fatalf("system contract missing: %+v", gen.calls[0])
	}
}

func TestGenerate_FallbackModelSucceeds(t *testing.T) {
	gen := &scriptedGenerator{responses: map[string][]string{
		"primary": {"not json at all"},
		"backup":  {`{"sections":[{"id":"a"}]}`},
	}}
	c := New(gen, WithLogger(quietLogger()), WithMaxAttempts(2), WithFallbackModel("backup"), WithSleeper(func(time.Duration) {}))
	if _, err := c.Generate(context.Background(), Request{Schema: planSchema, Prompt: "x", Model: "primary"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(gen.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(gen.calls))
	}
}

func TestGenerate_StopsOnContextCancel(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("fail")}
	ctx, cancel := context.WithCancel(context.Background())
	c := New(gen, WithLogger(quietLogger()), WithSleeper(func(time.Duration) { cancel() }))
	_, err := c.Generate(ctx, Request{Schema: planSchema, Prompt: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(gen.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(gen.calls))
	}
}

func TestDecode(t *testing.T) {
	gen := &scriptedGenerator{responses: map[string][]string{"": {"```json\n{\"sections\":[{\"id\":\"s1\",\"target_seconds\":4}]}\n```"}}}
	c := New(gen, WithLogger(quietLogger()))
	var out struct {
		Sections []struct {
			ID            string  `json:"id"`
			TargetSeconds float64 `json:"target_seconds"`
		} `json:"sections"`
	}
	if err := c.Decode(context.Background(), Request{Schema: planSchema, Prompt: "x"}, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out.Sections) != 1 || out.Sections[0].ID != "s1" || out.Sections[0].TargetSeconds != 4 {
		t.Fatalf("unexpected decode: %+v", out)
	}
}
