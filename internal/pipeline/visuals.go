package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/jo-hoe/reelsmith/internal/common"
	"github.com/jo-hoe/reelsmith/internal/consistency"
	"github.com/jo-hoe/reelsmith/internal/jobs"
	"github.com/jo-hoe/reelsmith/internal/media"
	"github.com/jo-hoe/reelsmith/internal/structured"
)

var promptsSchema = structured.Schema{
	Name:         "prompts",
	RequiredKeys: []string{"prompts"},
	Validate:     structured.NonEmptyArray("prompts"),
}

const promptInstructions = `You write prompts for a text-to-video model that has no memory between scenes.
For every scene id given, return {"id", "prompt"}: one self-contained paragraph that repeats the
continuity sheet details it needs. Rules:
- describe subject, action, environment, camera, lighting, mood and color palette
- no on-screen text, captions, logos or watermarks
- no real or personal names; describe people by generic traits`

type promptsResponse struct {
	Prompts []struct {
		ID     string `json:"id"`
		Prompt string `json:"prompt"`
	} `json:"prompts"`
}

func (o *Orchestrator) prompt(ctx context.Context, job *jobs.Job) (*jobs.Job, error) {
	if len(job.Sections) == 0 {
		return job, errors.New("no sections to write prompts for")
	}

	scripts := make([]string, 0, len(job.Sections))
	for _, s := range job.Sections {
		if s.Script != "" {
			scripts = append(scripts, s.Script)
		}
	}
	profile := o.deps.Consistency.Build(ctx, strings.Join(scripts, "\n"), job.ScriptModelOverride)
	if err := ctx.Err(); err != nil {
		return job, err
	}

	var resp promptsResponse
	err := o.deps.Structured.Decode(ctx, structured.Request{
		Schema:       promptsSchema,
		Instructions: promptInstructions,
		Prompt: fmt.Sprintf("Continuity sheet:\n%s\n\nScenes:\n%s",
			profile.Block(), briefs(job.Sections, true, true)),
		Model: job.ScriptModelOverride,
	}, &resp)
	if err != nil {
		return job, fmt.Errorf("write scene prompts: %w", err)
	}

	byID := make(map[string]string, len(resp.Prompts))
	for _, p := range resp.Prompts {
		byID[strings.TrimSpace(p.ID)] = strings.TrimSpace(p.Prompt)
	}
	sections := append([]jobs.Section(nil), job.Sections...)
	for i := range sections {
		sec := &sections[i]
		p, ok := byID[sec.ID]
		if p == "" {
			o.degradedSection("prompt", job.ID, sec.ID, ok)
			p = FallbackPrompt(*sec, profile)
		}
		sec.VisualPrompt = p
	}
	return o.save(ctx, job, jobs.Patch{Sections: &sections})
}

// FallbackPrompt derives a scene prompt from the section's own objective.
func FallbackPrompt(sec jobs.Section, profile consistency.Profile) string {
	subject := strings.TrimSpace(sec.Objective)
	if subject == "" {
		subject = strings.TrimSpace(sec.Title)
	}
	var b strings.Builder
	b.WriteString(strings.TrimSuffix(subject, "."))
	b.WriteString(". ")
	if len(profile.Characters) > 0 {
		b.WriteString("Featuring " + profile.Characters[0] + ". ")
	}
	if len(profile.Settings) > 0 {
		b.WriteString("Set in " + profile.Settings[0] + ". ")
	}
	b.WriteString(strings.TrimSuffix(profile.Style, "."))
	b.WriteString(".")
	return b.String()
}

const minPromptWords = 18

var (
	reLeadingQuoted = regexp.MustCompile(`^\s*["“'‘][^"”'’]{1,60}["”'’]\s*[:,\-–]?\s*`)
	reLeadingName   = regexp.MustCompile(`^\s*[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?\s*[:,]\s+`)

	cinematicQualifiers = []string{
		"cinematic shot", "natural lighting", "shallow depth of field", "smooth camera movement",
		"high detail", "realistic textures", "vertical framing", "soft color grading",
	}
)

// StandalonePrompt strips a leading quoted or name-like label and pads short prompts
// with generic cinematic qualifiers.
func StandalonePrompt(p string) string {
	p = strings.TrimSpace(p)
	if stripped := reLeadingQuoted.ReplaceAllString(p, ""); stripped != "" {
		p = stripped
	}
	if stripped := reLeadingName.ReplaceAllString(p, ""); stripped != "" {
		p = stripped
	}
	p = strings.Join(strings.Fields(p), " ")

	words := len(strings.Fields(p))
	if words >= minPromptWords {
		return p
	}
	var extra []string
	for _, q := range cinematicQualifiers {
		if words >= minPromptWords {
			break
		}
		if strings.Contains(strings.ToLower(p), q) {
			continue
		}
		extra = append(extra, q)
		words += len(strings.Fields(q))
	}
	if len(extra) == 0 {
		return p
	}
	if p == "" {
		return strings.Join(extra, ", ")
	}
	return strings.TrimSuffix(p, ".") + ", " + strings.Join(extra, ", ")
}

// ClampDuration maps a section target onto the clip generator's accepted whole-second range.
func ClampDuration(target float64, lo, hi int) int {
	if target <= 0 || math.IsNaN(target) {
		target = common.DefaultSectionSeconds
	}
	target = math.Min(math.Max(target, float64(lo)), float64(hi))
	return int(math.Round(target))
}

func (o *Orchestrator) generateClips(ctx context.Context, job *jobs.Job) (*jobs.Job, error) {
	if len(job.Sections) == 0 {
		return job, errors.New("no sections to generate clips for")
	}
	gen, model, fellBack, err := o.deps.Clips.Resolve(job.VideoModelOverride)
	if err != nil {
		return job, err
	}
	if fellBack {
		o.log.Warn("unknown video model override; using default",
			"job_id", job.ID, "requested", job.VideoModelOverride, "model", model, "event", "degraded_video_model")
	}

	for i := range job.Sections {
		sec := job.Sections[i]
		log := o.log.With("job_id", job.ID, "section_id", sec.ID)
		if sec.ClipRef != "" {
			log.Debug("clip already generated; skipping")
			continue
		}
		if err := o.checkActive(ctx, job.ID); err != nil {
			return job, err
		}

		prompt := sec.VisualPrompt
		if strings.TrimSpace(prompt) == "" {
			prompt = sec.Objective
		}
		req := media.ClipRequest{
			JobID:           job.ID,
			SectionID:       sec.ID,
			Prompt:          StandalonePrompt(prompt),
			DurationSeconds: ClampDuration(sec.TargetSeconds, o.settings.ClipMinSeconds, o.settings.ClipMaxSeconds),
			AspectRatio:     o.settings.AspectRatio,
			Model:           model,
		}
		clip, err := o.clipWithRetry(ctx, gen, req)
		if ctx.Err() != nil {
			return job, ctx.Err()
		}

		sections := append([]jobs.Section(nil), job.Sections...)
		if err != nil {
			log.Warn("clip generation failed; continuing with next section", "err", err)
			sections[i].ClipError = err.Error()
		} else {
			log.Info("clip generated", "clip_id", clip.ID, "seconds", req.DurationSeconds)
			sections[i].ClipID = clip.ID
			sections[i].ClipRef = clip.Ref
			sections[i].ClipError = ""
		}
		if job, err = o.save(ctx, job, jobs.Patch{Sections: &sections}); err != nil {
			return job, err
		}
	}
	return job, nil
}

func (o *Orchestrator) clipWithRetry(ctx context.Context, gen media.ClipGenerator, req media.ClipRequest) (media.Clip, error) {
	var lastErr error
	for attempt := 1; attempt <= o.settings.ClipAttempts; attempt++ {
		clip, err := gen.GenerateClip(ctx, req)
		if err == nil {
			if clip.Ref == "" {
				err = errors.New("clip generator returned no reference")
			} else {
				return clip, nil
			}
		}
		lastErr = err
		if attempt < o.settings.ClipAttempts {
			if err := o.sleep(ctx, time.Duration(attempt)*o.settings.ClipBackoff); err != nil {
				return media.Clip{}, err
			}
		}
	}
	return media.Clip{}, lastErr
}
