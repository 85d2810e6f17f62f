package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jo-hoe/reelsmith/internal/jobs"
	"github.com/jo-hoe/reelsmith/internal/util"
)

// maxIdeaLength bounds the free-text idea accepted for a job.
const maxIdeaLength = 4000

// Enqueuer schedules a job for processing.
type Enqueuer interface {
	Enqueue(item jobs.WorkItem) error
}

// CreateRequest is the input of a new job.
type CreateRequest struct {
	Idea        string `json:"idea"`
	OwnerID     string `json:"owner_id,omitempty"`
	ScriptModel string `json:"script_model,omitempty"`
	VideoModel  string `json:"video_model,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// ValidationError reports unusable create input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Reason }

// Validate trims the request in place and checks it.
func (r *CreateRequest) Validate() error {
	r.Idea = strings.TrimSpace(r.Idea)
	r.OwnerID = strings.TrimSpace(r.OwnerID)
	r.ScriptModel = strings.TrimSpace(r.ScriptModel)
	r.VideoModel = strings.TrimSpace(r.VideoModel)
	r.CallbackURL = strings.TrimSpace(r.CallbackURL)

	if r.Idea == "" {
		return &ValidationError{Field: "idea", Reason: "must not be empty"}
	}
	if len(r.Idea) > maxIdeaLength {
		return &ValidationError{Field: "idea", Reason: fmt.Sprintf("must be at most %d bytes", maxIdeaLength)}
	}
	if r.CallbackURL != "" {
		u, err := url.Parse(r.CallbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ValidationError{Field: "callback_url", Reason: "must be an absolute http(s) URL"}
		}
	}
	return nil
}

// CreateJob persists a queued job and schedules it. When scheduling fails the job is
// stored as failed and returned together with the error.
func CreateJob(ctx context.Context, store jobs.Store, q Enqueuer, req CreateRequest) (*jobs.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	job := &jobs.Job{
		ID:                  util.NewID(),
		OwnerID:             req.OwnerID,
		Idea:                req.Idea,
		Status:              jobs.StatusQueued,
		Sections:            []jobs.Section{},
		Captions:            []jobs.CaptionSegment{},
		ScriptModelOverride: req.ScriptModel,
		VideoModelOverride:  req.VideoModel,
		CallbackURL:         req.CallbackURL,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := store.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	if err := q.Enqueue(jobs.WorkItem{JobID: job.ID}); err != nil {
		failed, uerr := store.Update(ctx, job.ID, jobs.FailurePatch("enqueue failed: "+err.Error()))
		if uerr == nil {
			job = failed
		}
		return job, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// Recover re-enqueues every stored job that has not reached a terminal status, oldest
// first, and returns how many were scheduled. Once the queue is full the remaining jobs
// keep their status and are picked up by the next start.
func Recover(ctx context.Context, log *slog.Logger, store jobs.Store, q Enqueuer) (int, error) {
	active := make([]jobs.Status, 0, len(jobs.PipelineOrder))
	for _, st := range jobs.PipelineOrder {
		if !st.Terminal() {
			active = append(active, st)
		}
	}
	pending, err := store.List(ctx, jobs.ListFilter{Statuses: active})
	if err != nil {
		return 0, fmt.Errorf("list unfinished jobs: %w", err)
	}

	n := 0
	for i := len(pending) - 1; i >= 0; i-- {
		job := pending[i]
		err := q.Enqueue(jobs.WorkItem{JobID: job.ID})
		switch {
		case err == nil:
			n++
			log.Info("job recovered", "job_id", job.ID, "status", job.Status)
		case errors.Is(err, jobs.ErrAlreadyQueued):
		case errors.Is(err, jobs.ErrQueueFull):
			for ; i >= 0; i-- {
				log.Warn("queue full; job left for next start", "job_id", pending[i].ID, "status", pending[i].Status)
			}
			return n, nil
		default:
			return n, fmt.Errorf("re-enqueue job %s: %w", job.ID, err)
		}
	}
	return n, nil
}
