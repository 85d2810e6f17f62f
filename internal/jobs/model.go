package jobs

import (
	"context"
	"time"
)

// Status represents the lifecycle stage of a video job.
type Status string

const (
	StatusQueued          Status = "queued"
	StatusPlanning        Status = "planning"
	StatusDrafting        Status = "drafting"
	StatusScripting       Status = "scripting"
	StatusPrompting       Status = "prompting"
	StatusGeneratingClips Status = "generating_clips"
	StatusVoiceover       Status = "voiceover"
	StatusCaptions        Status = "captions"
	StatusStitching       Status = "stitching"
	StatusComplete        Status = "complete"
	StatusError           Status = "error"
	StatusCancelled       Status = "cancelled"
)

// PipelineOrder lists the non-terminal stages followed by Complete, in execution order.
var PipelineOrder = []Status{
	StatusQueued,
	StatusPlanning,
	StatusDrafting,
	StatusScripting,
	StatusPrompting,
	StatusGeneratingClips,
	StatusVoiceover,
	StatusCaptions,
	StatusStitching,
	StatusComplete,
}

// Terminal reports whether no further pipeline work may happen for the status.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusCancelled
}

// Rank is the position of s in PipelineOrder, or -1 for Error/Cancelled/unknown.
func (s Status) Rank() int {
	for i, st := range PipelineOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.Rank() >= 0 || s == StatusError || s == StatusCancelled
}

// Section is one planned scene of the video.
type Section struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Objective      string  `json:"objective"`
	TargetSeconds  float64 `json:"target_seconds"`
	DraftNarration string  `json:"draft_narration,omitempty"`
	DraftVisual    string  `json:"draft_visual,omitempty"`
	Script         string  `json:"script,omitempty"`
	VisualPrompt   string  `json:"visual_prompt,omitempty"`
	ClipID         string  `json:"clip_id,omitempty"`
	ClipRef        string  `json:"clip_ref,omitempty"`
	ClipError      string  `json:"clip_error,omitempty"`
}

// CaptionSegment is a timed span of on-screen text, in seconds.
type CaptionSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Job describes a single idea-to-video request and its accumulated state.
type Job struct {
	ID                  string           `json:"id"`
	OwnerID             string           `json:"owner_id,omitempty"`
	Idea                string           `json:"idea"`
	Status              Status           `json:"status"`
	Sections            []Section        `json:"sections"`
	VoiceoverRef        string           `json:"voiceover_ref,omitempty"`
	VoicePersona        string           `json:"voice_persona,omitempty"`
	Captions            []CaptionSegment `json:"captions"`
	VideoRef            string           `json:"video_ref,omitempty"`
	ScriptModelOverride string           `json:"script_model_override,omitempty"`
	VideoModelOverride  string           `json:"video_model_override,omitempty"`
	CallbackURL         string           `json:"callback_url,omitempty"`
	Error               string           `json:"error,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// SectionIndex returns the position of the section with the given id, or -1.
func (j *Job) SectionIndex(id string) int {
	for i := range j.Sections {
		if j.Sections[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can mutate sections without aliasing stored state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Sections != nil {
		c.Sections = append([]Section(nil), j.Sections...)
	}
	if j.Captions != nil {
		c.Captions = append([]CaptionSegment(nil), j.Captions...)
	}
	return &c
}

// ListFilter narrows Store.List results. Zero values mean "no filter".
type ListFilter struct {
	OwnerID  string
	Statuses []Status
	Limit    int
}

// Store defines persistence for Jobs and their lifecycle.
type Store interface {
	// Insert persists a new job. Duplicate ids fail with ErrConstraint.
	Insert(ctx context.Context, job *Job) error
	// Update applies the non-nil fields of patch atomically, refreshes UpdatedAt and
	// returns the stored job. Missing ids fail with ErrNotFound.
	Update(ctx context.Context, id string, patch Patch) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, filter ListFilter) ([]*Job, error)
	Close() error
}
