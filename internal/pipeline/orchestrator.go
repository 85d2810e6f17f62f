// Package pipeline drives a job through planning, writing, media generation and
// composition, persisting the job after every stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jo-hoe/reelsmith/internal/captions"
	"github.com/jo-hoe/reelsmith/internal/common"
	"github.com/jo-hoe/reelsmith/internal/config"
	"github.com/jo-hoe/reelsmith/internal/consistency"
	"github.com/jo-hoe/reelsmith/internal/jobs"
	"github.com/jo-hoe/reelsmith/internal/media"
	"github.com/jo-hoe/reelsmith/internal/persona"
	"github.com/jo-hoe/reelsmith/internal/storage"
	"github.com/jo-hoe/reelsmith/internal/structured"
)

var (
	_ jobs.Processor       = (*Orchestrator)(nil)
	_ jobs.FailureRecorder = (*Orchestrator)(nil)
)

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Store       jobs.Store
	Structured  *structured.Client
	Consistency *consistency.Builder
	Personas    *persona.Selector
	Clips       *media.Registry
	Voice       media.VoiceSynthesizer
	Transcriber media.Transcriber
	Compositor  media.Compositor
	// FallbackCompositor is tried when Compositor fails. Optional.
	FallbackCompositor media.Compositor
	// Archive receives the timeline and captions of stitched jobs. Optional.
	Archive *storage.Archive
	// HTTPClient sends completion callbacks. Defaults to a 30s-timeout client.
	HTTPClient *http.Client
}

// Settings are the tunables of the pipeline.
type Settings struct {
	ClipMinSeconds  int
	ClipMaxSeconds  int
	AspectRatio     string
	ClipAttempts    int
	ClipBackoff     time.Duration
	VoiceSpeed      float64
	Voices          map[string]string
	Captions        captions.Limits
	CallbackRetries int
	CallbackBackoff time.Duration
}

// SettingsFromConfig maps loaded configuration onto pipeline settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		ClipMinSeconds:  cfg.Media.Clip.MinSeconds,
		ClipMaxSeconds:  cfg.Media.Clip.MaxSeconds,
		AspectRatio:     cfg.Media.Clip.AspectRatio,
		ClipAttempts:    cfg.Media.Clip.Attempts,
		ClipBackoff:     cfg.Media.Clip.Backoff,
		VoiceSpeed:      cfg.Media.Voice.Speed,
		Voices:          cfg.Media.Voice.Voices,
		CallbackRetries: cfg.Server.CallbackRetries,
		CallbackBackoff: cfg.Server.CallbackBackoff,
		Captions: captions.Limits{
			MaxWords:    cfg.Captions.MaxWords,
			MaxDuration: cfg.Captions.MaxDuration,
			MaxGap:      cfg.Captions.MaxGap,
			MaxSegments: cfg.Captions.MaxSegments,
		},
	}
}

func (s Settings) withDefaults() Settings {
	if s.ClipMinSeconds <= 0 {
		s.ClipMinSeconds = common.DefaultClipMinSeconds
	}
	if s.ClipMaxSeconds < s.ClipMinSeconds {
		s.ClipMaxSeconds = max(common.DefaultClipMaxSeconds, s.ClipMinSeconds)
	}
	if s.AspectRatio == "" {
		s.AspectRatio = common.DefaultClipAspectRatio
	}
	if s.ClipAttempts <= 0 {
		s.ClipAttempts = 1
	}
	if s.VoiceSpeed <= 0 {
		s.VoiceSpeed = 1
	}
	if s.CallbackRetries <= 0 {
		s.CallbackRetries = 3
	}
	if s.CallbackBackoff <= 0 {
		s.CallbackBackoff = 2 * time.Second
	}
	return s
}

// StageError is a stage failure that has already been persisted on the job.
type StageError struct {
	Stage jobs.Status
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

type stageFunc func(ctx context.Context, job *jobs.Job) (*jobs.Job, error)

type stage struct {
	status jobs.Status
	run    stageFunc
}

// Orchestrator implements jobs.Processor.
type Orchestrator struct {
	log      *slog.Logger
	deps     Deps
	settings Settings
	sleeper  func(time.Duration)
	stages   []stage
}

// Option customizes the orchestrator.
type Option func(*Orchestrator)

// WithSleeper overrides how clip and callback retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(o *Orchestrator) {
		o.sleeper = sleeper
	}
}

func New(log *slog.Logger, deps Deps, settings Settings, opts ...Option) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if deps.Personas == nil {
		deps.Personas = persona.NewSelector(nil)
	}
	if deps.Consistency == nil && deps.Structured != nil {
		deps.Consistency = consistency.NewBuilder(deps.Structured, log)
	}
	o := &Orchestrator{log: log, deps: deps, settings: settings.withDefaults()}
	o.stages = []stage{
		{jobs.StatusPlanning, o.plan},
		{jobs.StatusDrafting, o.draft},
		{jobs.StatusScripting, o.script},
		{jobs.StatusPrompting, o.prompt},
		{jobs.StatusGeneratingClips, o.generateClips},
		{jobs.StatusVoiceover, o.voiceover},
		{jobs.StatusCaptions, o.captions},
		{jobs.StatusStitching, o.stitch},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs the job from the stage recorded in its status to a terminal state.
// Terminal jobs are left untouched, so Error and Cancelled are never resumed.
func (o *Orchestrator) Process(ctx context.Context, item jobs.WorkItem) error {
	job, err := o.deps.Store.Get(ctx, item.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", item.JobID, err)
	}
	log := o.log.With("job_id", job.ID)
	if job.Status.Terminal() {
		log.Info("job already finished; nothing to do", "status", job.Status)
		return nil
	}

	resume := job.Status
	if resume == jobs.StatusQueued || !resume.Valid() {
		resume = jobs.StatusPlanning
	}
	if resume != jobs.StatusPlanning {
		log.Info("resuming job", "stage", resume)
	}

	for _, st := range o.stages {
		if st.status.Rank() < resume.Rank() {
			continue
		}
		stageLog := log.With("stage", st.status)
		normalize(job)

		job, err = o.save(ctx, job, jobs.StatusPatch(st.status))
		if err != nil {
			return o.stop(ctx, stageLog, job, st.status, err)
		}
		stageLog.Info("stage started")
		start := time.Now()

		next, err := st.run(ctx, job)
		if err != nil {
			return o.stop(ctx, stageLog, job, st.status, err)
		}
		job = next
		stageLog.Info("stage finished", "duration", time.Since(start))
	}

	job, err = o.save(ctx, job, jobs.StatusPatch(jobs.StatusComplete))
	if err != nil {
		return o.stop(ctx, log, job, jobs.StatusComplete, err)
	}
	log.Info("job complete", "video_ref", job.VideoRef)
	o.notify(ctx, job)
	return nil
}

// stop ends a run. Cancellation and shutdown end quietly; anything else is persisted as
// a failure and returned as *StageError.
func (o *Orchestrator) stop(ctx context.Context, log *slog.Logger, job *jobs.Job, st jobs.Status, err error) error {
	switch {
	case errors.Is(err, jobs.ErrCancelled):
		log.Info("job cancelled; stopping")
		return nil
	case errors.Is(err, jobs.ErrTerminal):
		log.Info("job finished elsewhere; stopping")
		return nil
	case ctx.Err() != nil:
		log.Info("run interrupted; job will resume on next start", "err", err)
		return ctx.Err()
	}

	serr := &StageError{Stage: st, Err: err}
	log.Error("stage failed", "err", err)
	o.fail(ctx, job.ID, serr.Error())
	return serr
}

// RecordFailure persists failures the run could not record itself (panics, load errors).
func (o *Orchestrator) RecordFailure(ctx context.Context, jobID string, err error) {
	var serr *StageError
	if errors.As(err, &serr) {
		return
	}
	o.fail(ctx, jobID, err.Error())
}

func (o *Orchestrator) fail(ctx context.Context, jobID, message string) {
	p := jobs.FailurePatch(message)
	p.RequireActive = true
	job, err := jobs.UpdateTolerant(ctx, o.deps.Store, o.log, jobID, p)
	if err != nil {
		if !errors.Is(err, jobs.ErrCancelled) && !errors.Is(err, jobs.ErrTerminal) {
			o.log.Error("persist job failure", "job_id", jobID, "err", err)
		}
		return
	}
	o.notify(ctx, job)
}

// save persists p only while the job is still active and mirrors it onto job, so fields
// a store could not keep still reach later stages of this run.
func (o *Orchestrator) save(ctx context.Context, job *jobs.Job, p jobs.Patch) (*jobs.Job, error) {
	p.RequireActive = true
	stored, err := jobs.UpdateTolerant(ctx, o.deps.Store, o.log, job.ID, p)
	if err != nil {
		return job, err
	}
	p.Apply(job)
	job.UpdatedAt = stored.UpdatedAt
	return job, nil
}

// checkActive re-reads the job and reports ErrCancelled once an outside actor cancelled it.
func (o *Orchestrator) checkActive(ctx context.Context, id string) error {
	current, err := o.deps.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case current.Status == jobs.StatusCancelled:
		return jobs.ErrCancelled
	case current.Status.Terminal():
		return jobs.ErrTerminal
	}
	return nil
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if o.sleeper != nil {
		o.sleeper(d)
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// normalize coerces a missing section list to empty so corrupt records fail with a
// meaningful stage error.
func normalize(job *jobs.Job) {
	if job.Sections == nil {
		job.Sections = []jobs.Section{}
	}
	if job.Captions == nil {
		job.Captions = []jobs.CaptionSegment{}
	}
}
