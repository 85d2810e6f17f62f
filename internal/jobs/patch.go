package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Patch carries the fields of a partial job update. Nil fields are left untouched.
type Patch struct {
	Status       *Status
	Sections     *[]Section
	VoiceoverRef *string
	VoicePersona *string
	Captions     *[]CaptionSegment
	VideoRef     *string
	Error        *string

	// RequireActive makes the update a no-op failure when the stored job has already
	// reached a terminal status (ErrCancelled or ErrTerminal).
	RequireActive bool
}

// Column names shared by the SQL store and the unknown-column fallback.
const (
	ColumnStatus       = "status"
	ColumnSections     = "sections_json"
	ColumnVoiceoverRef = "voiceover_ref"
	ColumnVoicePersona = "voice_persona"
	ColumnCaptions     = "captions_json"
	ColumnVideoRef     = "video_ref"
	ColumnError        = "error_message"
)

// optionalColumns may be dropped from a patch when the backing store does not know them.
var optionalColumns = map[string]struct{}{
	ColumnVoicePersona: {},
	ColumnCaptions:     {},
	ColumnVideoRef:     {},
	ColumnVoiceoverRef: {},
}

// Empty reports whether the patch would change nothing.
func (p Patch) Empty() bool {
	return p.Status == nil && p.Sections == nil && p.VoiceoverRef == nil && p.VoicePersona == nil &&
		p.Captions == nil && p.VideoRef == nil && p.Error == nil
}

// Without returns a copy of p lacking the field stored in column. The boolean is false
// when the column is not optional or not present in the patch.
func (p Patch) Without(column string) (Patch, bool) {
	column = strings.ToLower(strings.TrimSpace(column))
	if _, ok := optionalColumns[column]; !ok {
		return p, false
	}
	switch column {
	case ColumnVoicePersona:
		if p.VoicePersona == nil {
			return p, false
		}
		p.VoicePersona = nil
	case ColumnCaptions:
		if p.Captions == nil {
			return p, false
		}
		p.Captions = nil
	case ColumnVideoRef:
		if p.VideoRef == nil {
			return p, false
		}
		p.VideoRef = nil
	case ColumnVoiceoverRef:
		if p.VoiceoverRef == nil {
			return p, false
		}
		p.VoiceoverRef = nil
	}
	return p, true
}

// Apply copies the patch onto job in memory.
func (p Patch) Apply(job *Job) {
	if p.Status != nil {
		job.Status = *p.Status
	}
	if p.Sections != nil {
		job.Sections = append([]Section(nil), (*p.Sections)...)
	}
	if p.VoiceoverRef != nil {
		job.VoiceoverRef = *p.VoiceoverRef
	}
	if p.VoicePersona != nil {
		job.VoicePersona = *p.VoicePersona
	}
	if p.Captions != nil {
		job.Captions = append([]CaptionSegment(nil), (*p.Captions)...)
	}
	if p.VideoRef != nil {
		job.VideoRef = *p.VideoRef
	}
	if p.Error != nil {
		job.Error = *p.Error
	}
}

// StatusPatch builds a patch that only moves the job to status.
func StatusPatch(status Status) Patch {
	return Patch{Status: &status}
}

// FailurePatch builds the patch persisted when a stage fails.
func FailurePatch(message string) Patch {
	status := StatusError
	return Patch{Status: &status, Error: &message}
}

// UpdateTolerant applies patch, retrying without optional fields the store reports as
// unknown columns. Required fields are never dropped.
func UpdateTolerant(ctx context.Context, store Store, log *slog.Logger, id string, patch Patch) (*Job, error) {
	for attempt := 0; attempt <= len(optionalColumns); attempt++ {
		job, err := store.Update(ctx, id, patch)
		if err == nil {
			return job, nil
		}
		var colErr *UnknownColumnError
		if !errors.As(err, &colErr) {
			return nil, err
		}
		reduced, ok := patch.Without(colErr.Column)
		if !ok {
			return nil, err
		}
		if log != nil {
			log.Warn("store rejected optional column; retrying without it",
				"job_id", id, "column", colErr.Column, "event", "degraded_store_column")
		}
		patch = reduced
		if patch.Empty() {
			return store.Get(ctx, id)
		}
	}
	return nil, fmt.Errorf("update job %s: too many unknown columns", id)
}

// Cancel moves a non-terminal job to Cancelled. Jobs already terminal yield ErrTerminal.
func Cancel(ctx context.Context, store Store, id string) (*Job, error) {
	p := StatusPatch(StatusCancelled)
	p.RequireActive = true
	return store.Update(ctx, id, p)
}
