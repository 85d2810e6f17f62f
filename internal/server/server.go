package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jo-hoe/reelsmith/internal/common"
	"github.com/jo-hoe/reelsmith/internal/config"
	"github.com/jo-hoe/reelsmith/internal/jobs"
	"github.com/jo-hoe/reelsmith/internal/pipeline"
)

type Service struct {
	Log   *slog.Logger
	Cfg   *config.Config
	Store jobs.Store
	Queue pipeline.Enqueuer
	// VideoModels lists the clip models a job may select.
	VideoModels []string
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	if svc.Log == nil {
		svc.Log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "queued": queueDepth(svc.Queue)})
	})

	mux.HandleFunc(http.MethodPost+" "+common.PathJobs, svc.withCommon(svc.handleCreateJob))
	mux.HandleFunc(http.MethodGet+" "+common.PathJobs, svc.withCommon(svc.handleListJobs))
	mux.HandleFunc(http.MethodGet+" "+common.PathJobs+"/{id}", svc.withCommon(svc.handleGetJob))
	mux.HandleFunc(http.MethodPost+" "+common.PathJobs+"/{id}/cancel", svc.withCommon(svc.handleCancelJob))
	mux.HandleFunc(http.MethodGet+" "+common.PathJobs+"/{id}/events", svc.withCommon(svc.handleJobEvents))
	mux.HandleFunc(http.MethodGet+" "+common.PathModels, svc.withCommon(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string][]string{"video_models": svc.VideoModels})
	}))

	s := &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(recoveryMiddleware(mux, svc.Log), svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
	return s
}

func (svc *Service) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Enforce API key if configured
		if key := strings.TrimSpace(svc.Cfg.Server.APIKey); key != "" {
			if r.Header.Get(common.HeaderAPIKey) != key {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		if max := safeInt64(svc.Cfg.Server.MaxBodySize); max > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		next.ServeHTTP(w, r)
	}
}

type createResponse struct {
	JobID     string      `json:"job_id"`
	Status    jobs.Status `json:"status"`
	StatusURL string      `json:"status_url"`
	EventsURL string      `json:"events_url"`
}

func (svc *Service) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req pipeline.CreateRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	job, err := pipeline.CreateJob(r.Context(), svc.Store, svc.Queue, req)
	var verr *pipeline.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
		return
	case err != nil && job != nil:
		svc.Log.Warn("job could not be scheduled", "job_id", job.ID, "err", err)
		writeError(w, http.StatusServiceUnavailable, "queue full, try later")
		return
	case err != nil:
		svc.Log.Error("persist job", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	svc.Log.Info("job created", "job_id", job.ID, "owner_id", job.OwnerID)

	statusURL := common.PathJobs + "/" + job.ID
	writeJSON(w, http.StatusAccepted, createResponse{
		JobID:     job.ID,
		Status:    job.Status,
		StatusURL: statusURL,
		EventsURL: statusURL + "/events",
	})
}

func (svc *Service) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := svc.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		svc.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (svc *Service) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := jobs.ListFilter{OwnerID: strings.TrimSpace(q.Get("owner_id")), Limit: 50}
	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			st := jobs.Status(strings.TrimSpace(s))
			if !st.Valid() {
				writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(string(st)))
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		filter.Limit = n
	}

	list, err := svc.Store.List(r.Context(), filter)
	if err != nil {
		svc.writeStoreError(w, err)
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (svc *Service) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := jobs.Cancel(r.Context(), svc.Store, id)
	if err != nil {
		svc.writeStoreError(w, err)
		return
	}
	svc.Log.Info("job cancelled", "job_id", id)
	writeJSON(w, http.StatusOK, job)
}

func (svc *Service) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, jobs.ErrCancelled), errors.Is(err, jobs.ErrTerminal):
		writeError(w, http.StatusConflict, "job already finished")
	default:
		svc.Log.Error("store", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func queueDepth(q pipeline.Enqueuer) int {
	if p, ok := q.(interface{ Pending() int }); ok {
		return p.Pending()
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &writeWrap{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.code,
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr)
	})
}

type writeWrap struct {
	http.ResponseWriter
	code int
}

func (w *writeWrap) WriteHeader(statusCode int) {
	w.code = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *writeWrap) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack hands the connection to the websocket upgrader.
func (w *writeWrap) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func recoveryMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("handler panic", "path", r.URL.Path, "panic", rec)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
