// Package consistency extracts the recurring look of a video (characters, settings,
// visual style) so independently generated scene prompts stay coherent.
package consistency

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jo-hoe/reelsmith/internal/structured"
)

const (
	maxCharacters = 3
	maxSettings   = 3

	// FallbackStyle is used when extraction fails.
	FallbackStyle = "cohesive cinematic look, natural color palette, soft diffused lighting, calm atmosphere, steady handheld camera, shallow depth of field"
)

// Schema is the structured contract for extraction.
var Schema = structured.Schema{
	Name:         "consistency",
	RequiredKeys: []string{"characters", "settings", "style"},
}

const instructions = `You extract a visual continuity sheet from video narration.
Return at most 3 "characters" and at most 3 "settings" as short generic descriptions
(age range, clothing, build, colors; never personal names or real people), and one "style"
string summarising palette, lighting, atmosphere and camera style.`

// Profile is the continuity sheet shared by every scene prompt.
type Profile struct {
	Characters []string `json:"characters"`
	Settings   []string `json:"settings"`
	Style      string   `json:"style"`
	// Fallback is true when Style is the generic default.
	Fallback bool `json:"-"`
}

// Fallback returns the generic profile used when extraction is impossible.
func Fallback() Profile {
	return Profile{Style: FallbackStyle, Fallback: true}
}

// Builder runs extraction through the structured-generation client.
type Builder struct {
	client *structured.Client
	log    *slog.Logger
}

func NewBuilder(client *structured.Client, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{client: client, log: log}
}

// Build extracts a profile from narration. It never fails: any error yields Fallback.
func (b *Builder) Build(ctx context.Context, narration, model string) Profile {
	narration = strings.TrimSpace(narration)
	if narration == "" {
		b.log.Warn("no narration to extract continuity from; using generic style", "event", "degraded_consistency")
		return Fallback()
	}

	var p Profile
	err := b.client.Decode(ctx, structured.Request{
		Schema:       Schema,
		Instructions: instructions,
		Prompt:       "Narration:\n" + narration,
		Model:        model,
	}, &p)
	if err != nil {
		b.log.Warn("continuity extraction failed; using generic style", "err", err, "event", "degraded_consistency")
		return Fallback()
	}

	p.Characters = clean(p.Characters, maxCharacters)
	p.Settings = clean(p.Settings, maxSettings)
	p.Style = strings.TrimSpace(p.Style)
	if p.Style == "" {
		p.Style = FallbackStyle
	}
	return p
}

// Block renders the profile as the continuity paragraph embedded in scene prompts.
func (p Profile) Block() string {
	var b strings.Builder
	if len(p.Characters) > 0 {
		fmt.Fprintf(&b, "Recurring characters: %s.\n", strings.Join(p.Characters, "; "))
	}
	if len(p.Settings) > 0 {
		fmt.Fprintf(&b, "Recurring settings: %s.\n", strings.Join(p.Settings, "; "))
	}
	fmt.Fprintf(&b, "Visual style: %s.", strings.TrimSuffix(p.Style, "."))
	return b.String()
}

func clean(in []string, limit int) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, limit)
	for _, s := range in {
		s = strings.Join(strings.Fields(s), " ")
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out
}
