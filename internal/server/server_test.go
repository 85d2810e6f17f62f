package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jo-hoe/reelsmith/internal/common"
	"github.com/jo-hoe/reelsmith/internal/config"
	"github.com/jo-hoe/reelsmith/internal/jobs"
)

type fakeQueue struct {
	mu    sync.Mutex
	full  bool
	items []jobs.WorkItem
}

func (q *fakeQueue) Enqueue(item jobs.WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return jobs.ErrQueueFull
	}
	q.items = append(q.items, item)
	return nil
}

func (q *fakeQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func newTestService(t *testing.T) (*Service, *jobs.SQLiteStore, *fakeQueue) {
	t.Helper()
	store, err := jobs.NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	q := &fakeQueue{}
	svc := &Service{
		Cfg: &config.Config{Server: config.ServerConfig{
			Addr:             ":0",
			MaxBodySize:      config.ByteSize(1024),
			ProgressInterval: 10 * time.Millisecond,
		}},
		Store:       store,
		Queue:       q,
		VideoModels: []string{"default"},
	}
	return svc, store, q
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("json: %v: %s", err, rec.Body.String())
	}
	return v
}

func TestHealthz(t *testing.T) {
	svc, _, _ := newTestService(t)
	rec := do(t, NewHTTPServer(svc).Handler, http.MethodGet, common.PathHealthz, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
	if body := decode[map[string]any](t, rec); body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestCreateAndGetJob(t *testing.T) {
	svc, _, q := newTestService(t)
	h := NewHTTPServer(svc).Handler

	rec := do(t, h, http.MethodPost, common.PathJobs, `{"idea":"coffee","owner_id":"u1"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[createResponse](t, rec)
	if created.Status != jobs.StatusQueued || created.StatusURL != common.PathJobs+"/"+created.JobID {
		t.Fatalf("unexpected response %+v", created)
	}
	if len(q.items) != 1 || q.items[0].JobID != created.JobID {
		t.Fatalf("job not enqueued")
	}

	rec = do(t, h, http.MethodGet, created.StatusURL, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d", rec.Code)
	}
	job := decode[jobs.Job](t, rec)
	if job.ID != created.JobID || job.Idea != "coffee" || job.OwnerID != "u1" {
		t.Fatalf("unexpected job %+v", job)
	}

	rec = do(t, h, http.MethodGet, common.PathJobs+"?owner_id=u1&status=queued,planning", "")
	if list := decode[map[string][]jobs.Job](t, rec)["jobs"]; len(list) != 1 {
		t.Fatalf("expected 1 listed job, got %d", len(list))
	}
	rec = do(t, h, http.MethodGet, common.PathJobs+"?owner_id=someone-else", "")
	if list := decode[map[string][]jobs.Job](t, rec)["jobs"]; len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}
}

func TestCreateJob_Rejections(t *testing.T) {
	svc, _, _ := newTestService(t)
	h := NewHTTPServer(svc).Handler

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty idea", `{"idea":"  "}`, http.StatusBadRequest},
		{"bad callback", `{"idea":"x","callback_url":"not a url"}`, http.StatusBadRequest},
		{"unknown field", `{"idea":"x","colour":"red"}`, http.StatusBadRequest},
		{"malformed", `{"idea":`, http.StatusBadRequest},
		{"too large", `{"idea":"` + strings.Repeat("a", 2048) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, http.MethodPost, common.PathJobs, tt.body); rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCreateJob_QueueFull(t *testing.T) {
	svc, store, q := newTestService(t)
	q.full = true
	rec := do(t, NewHTTPServer(svc).Handler, http.MethodPost, common.PathJobs, `{"idea":"coffee"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	list, _ := store.List(context.Background(), jobs.ListFilter{})
	if len(list) != 1 || list[0].Status != jobs.StatusError {
		t.Fatalf("unscheduled job should be stored as failed: %+v", list)
	}
}

func TestCancelJob(t *testing.T) {
	svc, _, _ := newTestService(t)
	h := NewHTTPServer(svc).Handler
	created := decode[createResponse](t, do(t, h, http.MethodPost, common.PathJobs, `{"idea":"coffee"}`))

	rec := do(t, h, http.MethodPost, created.StatusURL+"/cancel", "")
	if rec.Code != http.StatusOK || decode[jobs.Job](t, rec).Status != jobs.StatusCancelled {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodPost, created.StatusURL+"/cancel", ""); rec.Code != http.StatusConflict {
		t.Fatalf("second cancel expected 409, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, common.PathJobs+"/missing/cancel", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job expected 404, got %d", rec.Code)
	}
}

func TestAPIKey(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.Cfg.Server.APIKey = "secret"
	h := NewHTTPServer(svc).Handler

	if rec := do(t, h, http.MethodGet, common.PathJobs, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, common.PathJobs, "", common.HeaderAPIKey, "secret"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, common.PathHealthz, ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz must stay open, got %d", rec.Code)
	}
}

func TestJobEvents_StreamsUntilTerminal(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	if err := store.Insert(ctx, &jobs.Job{ID: "job-1", Idea: "coffee"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	srv := httptest.NewServer(NewHTTPServer(svc).Handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + common.PathJobs + "/job-1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev jobEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("first event: %v", err)
	}
	if ev.Type != "snapshot" || ev.Job.Status != jobs.StatusQueued {
		t.Fatalf("unexpected first event %+v", ev)
	}

	time.Sleep(5 * time.Millisecond)
	if _, err := store.Update(ctx, "job-1", jobs.StatusPatch(jobs.StatusComplete)); err != nil {
		t.Fatalf("Update: %v", err)
	}

	for {
		ev = jobEvent{}
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("expected completion snapshot before close: %v", err)
		}
		if ev.Job != nil && ev.Job.Status == jobs.StatusComplete {
			break
		}
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestJobEvents_UnknownJob(t *testing.T) {
	svc, _, _ := newTestService(t)
	srv := httptest.NewServer(NewHTTPServer(svc).Handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + common.PathJobs + "/nope/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 response, got %+v", resp)
	}
}
