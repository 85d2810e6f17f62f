// Package media defines the remote generation services the pipeline drives.
package media

import (
	"context"

	"github.com/jo-hoe/reelsmith/internal/captions"
	"github.com/jo-hoe/reelsmith/internal/jobs"
)

// ClipRequest asks for one generated video clip.
type ClipRequest struct {
	JobID           string `json:"job_id,omitempty"`
	SectionID       string `json:"section_id,omitempty"`
	Prompt          string `json:"prompt"`
	DurationSeconds int    `json:"duration_seconds"`
	AspectRatio     string `json:"aspect_ratio"`
	Model           string `json:"model,omitempty"`
}

// Clip is a generated clip.
type Clip struct {
	ID  string `json:"id"`
	Ref string `json:"url"`
}

// ClipGenerator creates one clip per call.
type ClipGenerator interface {
	GenerateClip(ctx context.Context, req ClipRequest) (Clip, error)
}

// VoiceRequest asks for narration audio.
type VoiceRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

// VoiceSynthesizer renders narration text to an audio reference.
type VoiceSynthesizer interface {
	Synthesize(ctx context.Context, req VoiceRequest) (string, error)
}

// Transcript is transcriber output. Words is empty when the service only returns
// coarse segments.
type Transcript struct {
	Segments []jobs.CaptionSegment `json:"segments"`
	Words    []jobs.CaptionSegment `json:"words,omitempty"`
}

// Transcriber derives timed text from an audio reference.
type Transcriber interface {
	Transcribe(ctx context.Context, audioRef string) (Transcript, error)
}

// TimelineClip is one clip placed on the output timeline.
type TimelineClip struct {
	SectionID string  `json:"section_id"`
	Ref       string  `json:"url"`
	Start     float64 `json:"start"`
	Duration  float64 `json:"duration"`
}

// Timeline is the full composition handed to a compositor.
type Timeline struct {
	JobID        string                `json:"job_id"`
	AspectRatio  string                `json:"aspect_ratio"`
	TotalSeconds float64               `json:"total_seconds"`
	Clips        []TimelineClip        `json:"clips"`
	AudioRef     string                `json:"audio_url,omitempty"`
	Captions     []jobs.CaptionSegment `json:"captions,omitempty"`
	CaptionStyle *captions.Style       `json:"caption_style,omitempty"`
}

// Compositor renders a timeline into one video reference.
type Compositor interface {
	Composite(ctx context.Context, tl Timeline) (string, error)
}
