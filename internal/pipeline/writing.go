package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jo-hoe/reelsmith/internal/common"
	"github.com/jo-hoe/reelsmith/internal/jobs"
	"github.com/jo-hoe/reelsmith/internal/structured"
)

var (
	planSchema = structured.Schema{
		Name:         "plan",
		RequiredKeys: []string{"sections"},
		Validate:     structured.NonEmptyArray("sections"),
	}
	draftSchema = structured.Schema{
		Name:         "draft",
		RequiredKeys: []string{"sections"},
		Validate:     structured.NonEmptyArray("sections"),
	}
	scriptSchema = structured.Schema{
		Name:         "script",
		RequiredKeys: []string{"sections"},
		Validate:     structured.NonEmptyArray("sections"),
	}
)

const planInstructions = `You plan short-form vertical videos (15-60 seconds).
Split the idea into 3-6 scenes. Each scene has an "id" (short unique string), a "title",
an "objective" (what the viewer should get from it) and "target_seconds" (2-14).`

const draftInstructions = `You draft short-form video scenes. For every scene id given, return
{"id", "narration", "visual"}: one or two spoken sentences and a rough description of what is on screen.`

const scriptInstructions = `You polish narration for a voice actor. For every scene id given, return
{"id", "script"}: spoken words only. No stage directions, speaker labels, brackets, emojis or hashtags.`

var titleCaser = cases.Title(language.Und, cases.NoLower)

type planResponse struct {
	Title    string `json:"title"`
	Sections []struct {
		ID            string  `json:"id"`
		Title         string  `json:"title"`
		Objective     string  `json:"objective"`
		TargetSeconds float64 `json:"target_seconds"`
	} `json:"sections"`
}

func (o *Orchestrator) plan(ctx context.Context, job *jobs.Job) (*jobs.Job, error) {
	var resp planResponse
	err := o.deps.Structured.Decode(ctx, structured.Request{
		Schema:       planSchema,
		Instructions: planInstructions,
		Prompt:       "Idea: " + job.Idea,
		Model:        job.ScriptModelOverride,
	}, &resp)
	if err != nil {
		if ctx.Err() != nil {
			return job, err
		}
		o.log.Warn("planning produced no usable sections; using a single intro section",
			"job_id", job.ID, "err", err, "event", "degraded_plan_fallback")
	}

	sections := make([]jobs.Section, 0, len(resp.Sections))
	seen := make(map[string]bool, len(resp.Sections))
	for i, s := range resp.Sections {
		title := strings.TrimSpace(s.Title)
		objective := strings.TrimSpace(s.Objective)
		if title == "" && objective == "" {
			continue
		}
		if title == "" {
			title = fmt.Sprintf("Scene %d", i+1)
		}
		if objective == "" {
			objective = title
		}
		id := strings.TrimSpace(s.ID)
		if id == "" || seen[id] {
			id = fmt.Sprintf("s%d", len(sections)+1)
			for seen[id] {
				id += "x"
			}
		}
		seen[id] = true
		target := s.TargetSeconds
		if target <= 0 {
			target = common.DefaultSectionSeconds
		}
		sections = append(sections, jobs.Section{
			ID:            id,
			Title:         titleCaser.String(title),
			Objective:     objective,
			TargetSeconds: target,
		})
	}
	if len(sections) == 0 {
		sections = []jobs.Section{fallbackSection(job.Idea)}
	}
	return o.save(ctx, job, jobs.Patch{Sections: &sections})
}

// fallbackSection is the single scene synthesized when planning yields nothing usable.
func fallbackSection(idea string) jobs.Section {
	return jobs.Section{
		ID:            "s1",
		Title:         "Intro",
		Objective:     strings.TrimSpace(idea),
		TargetSeconds: common.DefaultSectionSeconds,
	}
}

type sectionBrief struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Objective     string  `json:"objective"`
	TargetSeconds float64 `json:"target_seconds,omitempty"`
	Draft         string  `json:"draft_narration,omitempty"`
	Visual        string  `json:"draft_visual,omitempty"`
	Script        string  `json:"script,omitempty"`
}

func briefs(sections []jobs.Section, withDraft, withScript bool) string {
	out := make([]sectionBrief, len(sections))
	for i, s := range sections {
		out[i] = sectionBrief{ID: s.ID, Title: s.Title, Objective: s.Objective, TargetSeconds: s.TargetSeconds}
		if withDraft {
			out[i].Draft = s.DraftNarration
			out[i].Visual = s.DraftVisual
		}
		if withScript {
			out[i].Script = s.Script
		}
	}
	b, _ := json.MarshalIndent(out, "", "  ")
	return string(b)
}

type draftResponse struct {
	Sections []struct {
		ID        string `json:"id"`
		Narration string `json:"narration"`
		Visual    string `json:"visual"`
	} `json:"sections"`
}

func (o *Orchestrator) draft(ctx context.Context, job *jobs.Job) (*jobs.Job, error) {
	if len(job.Sections) == 0 {
		o.log.Warn("job reached drafting without sections; synthesizing intro section",
			"job_id", job.ID, "event", "degraded_plan_fallback")
		job.Sections = []jobs.Section{fallbackSection(job.Idea)}
	}

	var resp draftResponse
	err := o.deps.Structured.Decode(ctx, structured.Request{
		Schema:       draftSchema,
		Instructions: draftInstructions,
		Prompt:       fmt.Sprintf("Idea: %s\nScenes:\n%s", job.Idea, briefs(job.Sections, false, false)),
		Model:        job.ScriptModelOverride,
	}, &resp)
	if err != nil {
		return job, fmt.Errorf("draft scenes: %w", err)
	}

	byID := make(map[string]int, len(resp.Sections))
	for i, s := range resp.Sections {
		byID[strings.TrimSpace(s.ID)] = i
	}
	sections := append([]jobs.Section(nil), job.Sections...)
	for i := range sections {
		sec := &sections[i]
		idx, ok := byID[sec.ID]
		narration, visual := "", ""
		if ok {
			narration = strings.TrimSpace(resp.Sections[idx].Narration)
			visual = strings.TrimSpace(resp.Sections[idx].Visual)
		}
		if narration == "" || visual == "" {
			o.degradedSection("draft", job.ID, sec.ID, ok)
		}
		if narration == "" {
			narration = sec.Objective
		}
		if visual == "" {
			visual = sec.Title + ": " + sec.Objective
		}
		sec.DraftNarration = narration
		sec.DraftVisual = visual
	}
	return o.save(ctx, job, jobs.Patch{Sections: &sections})
}

type scriptResponse struct {
	Sections []struct {
		ID     string `json:"id"`
		Script string `json:"script"`
	} `json:"sections"`
}

func (o *Orchestrator) script(ctx context.Context, job *jobs.Job) (*jobs.Job, error) {
	if len(job.Sections) == 0 {
		return job, errors.New("no sections to script")
	}
	var resp scriptResponse
	err := o.deps.Structured.Decode(ctx, structured.Request{
		Schema:       scriptSchema,
		Instructions: scriptInstructions,
		Prompt:       fmt.Sprintf("Idea: %s\nScenes:\n%s", job.Idea, briefs(job.Sections, true, false)),
		Model:        job.ScriptModelOverride,
	}, &resp)
	if err != nil {
		return job, fmt.Errorf("write scripts: %w", err)
	}

	byID := make(map[string]string, len(resp.Sections))
	for _, s := range resp.Sections {
		byID[strings.TrimSpace(s.ID)] = s.Script
	}
	sections := append([]jobs.Section(nil), job.Sections...)
	for i := range sections {
		sec := &sections[i]
		raw, ok := byID[sec.ID]
		script := SanitizeScript(raw)
		if script == "" {
			o.degradedSection("script", job.ID, sec.ID, ok)
			script = SanitizeScript(sec.DraftNarration)
			if script == "" {
				script = sec.Objective
			}
		}
		sec.Script = script
	}
	return o.save(ctx, job, jobs.Patch{Sections: &sections})
}

var (
	reBracketed    = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)|\*[^*]*\*`)
	reSpeakerLabel = regexp.MustCompile(`(?im)^\s*(?:narrator|voice ?over|vo|host|speaker(?: \d+)?)\s*:\s*`)
	reHashtag      = regexp.MustCompile(`#\w+`)
)

// SanitizeScript keeps only words meant to be spoken.
func SanitizeScript(s string) string {
	s = reSpeakerLabel.ReplaceAllString(s, "")
	s = reBracketed.ReplaceAllString(s, " ")
	s = reHashtag.ReplaceAllString(s, " ")
	s = strings.Trim(strings.TrimSpace(s), `"`)
	return strings.Join(strings.Fields(s), " ")
}

// degradedSection logs a section whose model output was missing or unusable and
// which therefore received a fallback derived from its own plan.
func (o *Orchestrator) degradedSection(step, jobID, sectionID string, idPresent bool) {
	reason := "empty output"
	if !idPresent {
		reason = "id missing from response"
	}
	o.log.Warn("section output missing; using fallback from section plan",
		"job_id", jobID, "section_id", sectionID, "step", step, "reason", reason, "event", "degraded_missing_id")
}
