package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jo-hoe/reelsmith/internal/config"
	"github.com/jo-hoe/reelsmith/internal/jobs"
	"github.com/jo-hoe/reelsmith/internal/logging"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "server:\n  storageDir: " + filepath.Join(dir, "data") + "\n" +
		"media:\n  clip:\n    defaultModel: fast\n    models: [slow]\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionSkipsConfig(t *testing.T) {
	out, err := execute(t, "version", "--config", "/does/not/exist.yaml")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != version {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestJobsListShowCancel(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	store, err := jobs.NewSQLiteStore(cfg.Server.DatabasePath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := store.Insert(context.Background(), &jobs.Job{ID: "job-1", Idea: "coffee at dawn"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	_ = store.Close()

	out, err := execute(t, "jobs", "list", "-c", cfgPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "job-1") || !strings.Contains(out, "queued") {
		t.Fatalf("list output missing job:\n%s", out)
	}

	out, err = execute(t, "jobs", "cancel", "job-1", "-c", cfgPath)
	if err != nil || !strings.Contains(out, "cancelled") {
		t.Fatalf("cancel: %v %q", err, out)
	}
	if _, err := execute(t, "jobs", "cancel", "job-1", "-c", cfgPath); err == nil {
		t.Fatalf("second cancel should fail")
	}

	out, err = execute(t, "jobs", "show", "job-1", "-c", cfgPath)
	if err != nil || !strings.Contains(out, "coffee at dawn") {
		t.Fatalf("show: %v\n%s", err, out)
	}
}

func TestModelsCommand(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	out, err := execute(t, "models", "-c", cfgPath)
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if !strings.Contains(out, "fast") || !strings.Contains(out, "slow") {
		t.Fatalf("unexpected models output:\n%s", out)
	}
}

func TestNewOrchestratorFromMockConfig(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	orch, models, err := newOrchestrator(cfg, logging.NewNop(), nil)
	if err != nil {
		t.Fatalf("newOrchestrator: %v", err)
	}
	if orch == nil || strings.Join(models, ",") != "fast,slow" {
		t.Fatalf("unexpected models %v", models)
	}

	cfg.Media.Provider = "carrier-pigeon"
	if _, _, err := newOrchestrator(cfg, logging.NewNop(), nil); err == nil {
		t.Fatalf("unknown media provider should fail")
	}
}

func TestRenderJob(t *testing.T) {
	job := &jobs.Job{
		ID:     "job-1",
		Status: jobs.StatusError,
		Idea:   "coffee",
		Error:  "stitching stage failed: no generated clips to stitch",
		Sections: []jobs.Section{
			{ID: "s1", Title: "Intro", TargetSeconds: 4.5, Script: "Hello.", ClipError: "quota"},
		},
	}
	out := renderJob(job, false)
	for _, want := range []string{"job-1", "stitching stage failed", "failed: quota", "4.5"} {
		if !strings.Contains(out, want) {
			t.Fatalf("render missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Persona") {
		t.Fatalf("empty fields should be omitted:\n%s", out)
	}
}

func TestAPIBaseURL(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{Addr: ":8080"}}
	if got := apiBaseURL(cfg, ""); got != "http://localhost:8080" {
		t.Fatalf("apiBaseURL = %q", got)
	}
	if got := apiBaseURL(cfg, "https://api.example.com/"); got != "https://api.example.com" {
		t.Fatalf("override = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("a  b\nc", 10); got != "a b c" {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("abcdef", 4); got != "abc…" {
		t.Fatalf("truncate = %q", got)
	}
}
