package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jo-hoe/reelsmith/internal/common"
	"github.com/jo-hoe/reelsmith/internal/jobs"
)

type callbackPayload struct {
	JobID    string  `json:"job_id"`
	Status   string  `json:"status"` // completed|failed
	Stage    string  `json:"stage"`
	Error    *string `json:"error,omitempty"`
	VideoRef string  `json:"video_ref,omitempty"`
}

// notify posts the terminal state of job to its callback URL, if any.
func (o *Orchestrator) notify(ctx context.Context, job *jobs.Job) {
	if job == nil || job.CallbackURL == "" {
		return
	}
	payload := callbackPayload{JobID: job.ID, Stage: string(job.Status)}
	switch job.Status {
	case jobs.StatusComplete:
		payload.Status = common.StatusCompleted
		payload.VideoRef = job.VideoRef
	case jobs.StatusError:
		payload.Status = common.StatusFailed
		msg := job.Error
		payload.Error = &msg
	default:
		return
	}
	if err := o.sendCallbackWithRetry(ctx, job.CallbackURL, payload); err != nil {
		o.log.Warn("callback failed after retries", "job_id", job.ID, "err", err)
	}
}

func (o *Orchestrator) sendCallbackWithRetry(ctx context.Context, url string, payload callbackPayload) error {
	var lastErr error
	for attempt := 1; attempt <= o.settings.CallbackRetries; attempt++ {
		err := o.postJSON(ctx, url, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == o.settings.CallbackRetries {
			break
		}
		if err := o.sleep(ctx, time.Duration(attempt)*o.settings.CallbackBackoff); err != nil {
			return lastErr
		}
	}
	return lastErr
}

func (o *Orchestrator) postJSON(ctx context.Context, url string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", common.ContentTypeJSON)

	resp, err := o.deps.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback status %d", resp.StatusCode)
	}
	return nil
}
