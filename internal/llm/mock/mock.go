// Package mock provides an offline text generator that answers every structured
// schema the pipeline asks for with deterministic, well-formed JSON.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jo-hoe/reelsmith/internal/config"
	"github.com/jo-hoe/reelsmith/internal/llm"
)

var _ llm.TextGenerator = (*Client)(nil)

var (
	reSchema    = regexp.MustCompile(`schema "([a-z_]+)"`)
	reSectionID = regexp.MustCompile(`"id"\s*:\s*"([^"]+)"`)
	reIdea      = regexp.MustCompile(`(?m)^Idea:\s*(.+)$`)
)

// Client is a deterministic llm.TextGenerator.
type Client struct {
	delay time.Duration
}

func New(cfg config.MockSettings) *Client {
	return &Client{delay: cfg.Delay}
}

// Generate returns canned JSON for the schema named in the system prompt.
func (c *Client) Generate(ctx context.Context, req llm.Request) (string, error) {
	if c.delay > 0 {
		t := time.NewTimer(c.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	schema := ""
	if m := reSchema.FindStringSubmatch(req.System); len(m) == 2 {
		schema = m[1]
	}
	ids := sectionIDs(req.User)

	var payload any
	switch schema {
	case "plan":
		payload = plan(idea(req.User))
	case "draft":
		items := make([]map[string]any, len(ids))
		for i, id := range ids {
			items[i] = map[string]any{
				"id":        id,
				"narration": fmt.Sprintf("Scene %d narration draft.", i+1),
				"visual":    fmt.Sprintf("a person in a bright kitchen, scene %d", i+1),
			}
		}
		payload = map[string]any{"sections": items}
	case "script":
		items := make([]map[string]any, len(ids))
		for i, id := range ids {
			items[i] = map[string]any{"id": id, "script": fmt.Sprintf("This is the narration for scene %d.", i+1)}
		}
		payload = map[string]any{"sections": items}
	case "consistency":
		payload = map[string]any{
			"characters": []string{"a young adult with short dark hair and a green sweater"},
			"settings":   []string{"a small sunlit apartment kitchen"},
			"style":      "warm natural palette, soft morning light, handheld close-ups, calm atmosphere",
		}
	case "prompts":
		items := make([]map[string]any, len(ids))
		for i, id := range ids {
			items[i] = map[string]any{
				"id":     id,
				"prompt": fmt.Sprintf("A young adult moves through a sunlit kitchen, medium shot, slow dolly in, soft morning light, warm palette, calm mood, scene %d", i+1),
			}
		}
		payload = map[string]any{"prompts": items}
	default:
		payload = map[string]any{"text": "mock response"}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("mock marshal: %w", err)
	}
	return string(b), nil
}

func plan(idea string) map[string]any {
	title := strings.TrimSpace(idea)
	if title == "" {
		title = "Untitled"
	}
	return map[string]any{
		"title": title,
		"sections": []map[string]any{
			{"id": "s1", "title": "hook", "objective": "grab attention with " + title, "target_seconds": 4},
			{"id": "s2", "title": "main point", "objective": "show the core of " + title, "target_seconds": 6},
			{"id": "s3", "title": "wrap up", "objective": "close with a call to action", "target_seconds": 5},
		},
	}
}

func sectionIDs(prompt string) []string {
	var ids []string
	seen := map[string]bool{}
	for _, m := range reSectionID.FindAllStringSubmatch(prompt, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			ids = append(ids, m[1])
		}
	}
	return ids
}

func idea(prompt string) string {
	if m := reIdea.FindStringSubmatch(prompt); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(prompt)
}
