package jobs

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_JobLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	job := &Job{
		ID:                 "job-1",
		OwnerID:            "owner-a",
		Idea:               "coffee morning routine",
		Status:             StatusQueued,
		VideoModelOverride: "fast-model",
		CreatedAt:          now,
	}
	if err := store.Insert(ctx, job); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	sections := []Section{
		{ID: "s1", Title: "Intro", Objective: "hook", TargetSeconds: 4},
		{ID: "s2", Title: "Brew", Objective: "pour", TargetSeconds: 6, ClipRef: "clip://2"},
	}
	planning := StatusPlanning
	got, err := store.Update(ctx, job.ID, Patch{Status: &planning, Sections: &sections})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Status != StatusPlanning || len(got.Sections) != 2 || got.Sections[1].ClipRef != "clip://2" {
		t.Fatalf("update not reflected: %+v", got)
	}
	if !got.UpdatedAt.After(now) && !got.UpdatedAt.Equal(now) {
		t.Fatalf("updatedAt not refreshed: %s", got.UpdatedAt)
	}

	captions := []CaptionSegment{{Start: 0, End: 0.6, Text: "hi there"}}
	persona := "calm"
	voice := "audio://1"
	if _, err := store.Update(ctx, job.ID, Patch{Captions: &captions, VoicePersona: &persona, VoiceoverRef: &voice}); err != nil {
		t.Fatalf("Update captions: %v", err)
	}

	fetched, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fetched.OwnerID != "owner-a" || fetched.VideoModelOverride != "fast-model" || fetched.Idea != job.Idea {
		t.Fatalf("immutable fields mismatch: %+v", fetched)
	}
	if len(fetched.Captions) != 1 || fetched.Captions[0].Text != "hi there" || fetched.VoicePersona != "calm" {
		t.Fatalf("captions/persona mismatch: %+v", fetched)
	}

	if _, err := store.Update(ctx, job.ID, FailurePatch("boom")); err != nil {
		t.Fatalf("fail: %v", err)
	}
	failed, _ := store.Get(ctx, job.ID)
	if failed.Status != StatusError || failed.Error != "boom" {
		t.Fatalf("job not failed: %+v", failed)
	}
}

func TestSQLiteStore_DistinguishableErrors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing err = %v", err)
	}
	if _, err := store.Update(ctx, "missing", StatusPatch(StatusPlanning)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update missing err = %v", err)
	}

	job := &Job{ID: "dup", Idea: "x"}
	if err := store.Insert(ctx, job); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := store.Insert(ctx, &Job{ID: "dup", Idea: "y"}); !errors.Is(err, ErrConstraint) {
		t.Fatalf("duplicate insert err = %v", err)
	}
}

func TestSQLiteStore_RequireActiveGuardsCancellation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Insert(ctx, &Job{ID: "c1", Idea: "x"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := Cancel(ctx, store, "c1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	p := StatusPatch(StatusDrafting)
	p.RequireActive = true
	job, err := store.Update(ctx, "c1", p)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("guarded update err = %v", err)
	}
	if job == nil || job.Status != StatusCancelled {
		t.Fatalf("cancellation overwritten: %+v", job)
	}
	if _, err := Cancel(ctx, store, "c1"); !errors.Is(err, ErrCancelled) {
		t.Fatalf("second cancel err = %v", err)
	}
}

func TestSQLiteStore_ListFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()
	for i, j := range []*Job{
		{ID: "a", OwnerID: "o1", Idea: "one", CreatedAt: base},
		{ID: "b", OwnerID: "o1", Idea: "two", CreatedAt: base.Add(time.Second)},
		{ID: "c", OwnerID: "o2", Idea: "three", CreatedAt: base.Add(2 * time.Second)},
	} {
		if err := store.Insert(ctx, j); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	if _, err := store.Update(ctx, "b", StatusPatch(StatusStitching)); err != nil {
		t.Fatalf("Update: %v", err)
	}

	owned, err := store.List(ctx, ListFilter{OwnerID: "o1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(owned) != 2 || owned[0].ID != "b" {
		t.Fatalf("owner filter/order mismatch: %v", ids(owned))
	}
	active, err := store.List(ctx, ListFilter{Statuses: []Status{StatusStitching}})
	if err != nil {
		t.Fatalf("List statuses: %v", err)
	}
	if len(active) != 1 || active[0].ID != "b" {
		t.Fatalf("status filter mismatch: %v", ids(active))
	}
}

func TestSQLiteStore_MigratesLegacySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err = db.Exec(`CREATE TABLE jobs (
		id TEXT PRIMARY KEY, owner_id TEXT, idea TEXT NOT NULL, status TEXT NOT NULL,
		sections_json TEXT NOT NULL DEFAULT '[]', script_model_override TEXT, video_model_override TEXT,
		callback_url TEXT, error_message TEXT, created_at TEXT NOT NULL, updated_at TEXT NOT NULL)`)
	if err != nil {
		t.Fatalf("create legacy: %v", err)
	}
	_ = db.Close()

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore on legacy db: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.Insert(ctx, &Job{ID: "l1", Idea: "legacy"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	persona := "casual"
	if _, err := store.Update(ctx, "l1", Patch{VoicePersona: &persona}); err != nil {
		t.Fatalf("Update migrated column: %v", err)
	}
}

func ids(list []*Job) []string {
	out := make([]string, len(list))
	for i, j := range list {
		out[i] = j.ID
	}
	return out
}

func TestSQLiteStore_ListOrdersSubsecondTimes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, j := range []*Job{
		{ID: "whole", Idea: "a", CreatedAt: base},
		{ID: "tenth", Idea: "b", CreatedAt: base.Add(100 * time.Millisecond)},
		{ID: "later", Idea: "c", CreatedAt: base.Add(time.Second)},
	} {
		if err := store.Insert(ctx, j); err != nil {
			t.Fatalf("Insert %s: %v", j.ID, err)
		}
	}

	list, err := store.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got := ids(list)
	want := []string{"later", "tenth", "whole"}
	if len(got) != len(want) {
		t.Fatalf("List = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("List = %v, want %v", got, want)
		}
	}
	if !list[2].CreatedAt.Equal(base) {
		t.Fatalf("created_at round trip = %v, want %v", list[2].CreatedAt, base)
	}
}
