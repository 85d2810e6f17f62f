package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jo-hoe/reelsmith/internal/captions"
	"github.com/jo-hoe/reelsmith/internal/common"
	"github.com/jo-hoe/reelsmith/internal/jobs"
	"github.com/jo-hoe/reelsmith/internal/media"
)

// narration joins the scripts of sections that have a clip, or of all sections when
// none do, in plan order.
func narration(sections []jobs.Section) string {
	var withClip, all []string
	for _, s := range sections {
		text := strings.TrimSpace(s.Script)
		if text == "" {
			continue
		}
		all = append(all, text)
		if s.ClipRef != "" {
			withClip = append(withClip, text)
		}
	}
	if len(withClip) > 0 {
		return strings.Join(withClip, " ")
	}
	return strings.Join(all, " ")
}

func (o *Orchestrator) voiceover(ctx context.Context, job *jobs.Job) (*jobs.Job, error) {
	text := narration(job.Sections)
	if text == "" {
		return job, errors.New("no narration to synthesize")
	}

	cues := []string{job.Idea}
	for _, s := range job.Sections {
		cues = append(cues, s.Title, s.Objective)
	}
	p, rule := o.deps.Personas.Select(cues...)
	voice := o.settings.Voices[p]
	if voice == "" {
		voice = p
	}
	o.log.Info("voice persona selected", "job_id", job.ID, "persona", p, "rule", rule, "voice", voice)

	ref, err := o.deps.Voice.Synthesize(ctx, media.VoiceRequest{Text: text, Voice: voice, Speed: o.settings.VoiceSpeed})
	if err != nil {
		return job, fmt.Errorf("synthesize voiceover: %w", err)
	}
	if ref == "" {
		return job, errors.New("voice service returned no audio reference")
	}
	return o.save(ctx, job, jobs.Patch{VoiceoverRef: &ref, VoicePersona: &p})
}

func (o *Orchestrator) captions(ctx context.Context, job *jobs.Job) (*jobs.Job, error) {
	if job.VoiceoverRef == "" {
		return job, errors.New("job has no voiceover to transcribe")
	}
	tr, err := o.deps.Transcriber.Transcribe(ctx, job.VoiceoverRef)
	if err != nil {
		return job, fmt.Errorf("transcribe voiceover: %w", err)
	}
	segs := captions.FromTranscript(tr.Segments, tr.Words, o.settings.Captions)
	if len(segs) == 0 {
		o.log.Warn("transcript produced no captions", "job_id", job.ID, "event", "degraded_empty_captions")
	}
	return o.save(ctx, job, jobs.Patch{Captions: &segs})
}

func (o *Orchestrator) stitch(ctx context.Context, job *jobs.Job) (*jobs.Job, error) {
	tl := o.buildTimeline(job)
	if len(tl.Clips) == 0 {
		return job, errors.New("no generated clips to stitch")
	}

	ref, err := o.composite(ctx, tl)
	if err != nil {
		return job, err
	}

	if o.deps.Archive != nil {
		if dir, err := o.deps.Archive.Write(tl, captions.RenderSRT(job.Captions)); err != nil {
			o.log.Warn("archive timeline", "job_id", job.ID, "err", err)
		} else {
			o.log.Debug("timeline archived", "job_id", job.ID, "dir", dir)
		}
	}
	return o.save(ctx, job, jobs.Patch{VideoRef: &ref})
}

// composite tries the primary compositor, then the fallback, and finally degrades to the
// first clip so a job with clips always gets a video reference.
func (o *Orchestrator) composite(ctx context.Context, tl media.Timeline) (string, error) {
	compositors := []struct {
		name string
		c    media.Compositor
	}{
		{"primary", o.deps.Compositor},
		{"fallback", o.deps.FallbackCompositor},
	}
	for _, cand := range compositors {
		if cand.c == nil {
			continue
		}
		ref, err := cand.c.Composite(ctx, tl)
		if err == nil && ref != "" {
			return ref, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if err == nil {
			err = errors.New("compositor returned no video reference")
		}
		o.log.Warn("compositor failed", "job_id", tl.JobID, "compositor", cand.name, "err", err)
	}
	o.log.Warn("no compositor succeeded; using first clip as video",
		"job_id", tl.JobID, "event", "degraded_compositor_first_clip")
	return tl.Clips[0].Ref, nil
}

// buildTimeline places every generated clip back to back in plan order. A clip lasts its
// section's clamped target; sections without a target share the caption time evenly, or
// get the default length when there are no captions.
func (o *Orchestrator) buildTimeline(job *jobs.Job) media.Timeline {
	tl := media.Timeline{
		JobID:       job.ID,
		AspectRatio: o.settings.AspectRatio,
		AudioRef:    job.VoiceoverRef,
		Captions:    job.Captions,
	}
	if len(job.Captions) > 0 {
		style := captions.StyleFor(job.VoicePersona)
		tl.CaptionStyle = &style
	}

	var withClip []jobs.Section
	for _, s := range job.Sections {
		if s.ClipRef != "" {
			withClip = append(withClip, s)
		}
	}
	if len(withClip) == 0 {
		return tl
	}

	even := float64(common.DefaultSectionSeconds)
	if n := len(job.Captions); n > 0 && job.Captions[n-1].End > 0 {
		even = job.Captions[n-1].End / float64(len(withClip))
	}

	start := 0.0
	for _, s := range withClip {
		d := even
		if s.TargetSeconds > 0 {
			d = float64(ClampDuration(s.TargetSeconds, o.settings.ClipMinSeconds, o.settings.ClipMaxSeconds))
		}
		tl.Clips = append(tl.Clips, media.TimelineClip{SectionID: s.ID, Ref: s.ClipRef, Start: start, Duration: d})
		start += d
	}
	tl.TotalSeconds = start
	return tl
}
