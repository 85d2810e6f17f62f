package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jo-hoe/reelsmith/internal/jobs"
)

const eventWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// API key auth happens before the upgrade; browsers on other origins may watch jobs.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// jobEvent is one snapshot pushed to progress subscribers.
type jobEvent struct {
	Type string    `json:"type"` // snapshot|error
	Job  *jobs.Job `json:"job,omitempty"`
	Err  string    `json:"error,omitempty"`
}

// handleJobEvents streams a job snapshot whenever it changes and closes once the job is
// terminal. Clients only read; anything they send is discarded.
func (svc *Service) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := svc.Store.Get(r.Context(), id)
	if err != nil {
		svc.writeStoreError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		svc.Log.Warn("websocket upgrade", "job_id", id, "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := svc.Cfg.Server.ProgressInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last       time.Time
		lastStatus jobs.Status
	)
	for {
		if !job.UpdatedAt.Equal(last) || job.Status != lastStatus {
			last, lastStatus = job.UpdatedAt, job.Status
			if err := writeEvent(conn, jobEvent{Type: "snapshot", Job: job}); err != nil {
				return
			}
		}
		if job.Status.Terminal() {
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(job.Status))
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(eventWriteWait))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		next, err := svc.Store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			svc.Log.Warn("job events: reload job", "job_id", id, "err", err)
			_ = writeEvent(conn, jobEvent{Type: "error", Err: "job unavailable"})
			return
		}
		job = next
	}
}

func writeEvent(conn *websocket.Conn, ev jobEvent) error {
	if err := conn.SetWriteDeadline(time.Now().Add(eventWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}
