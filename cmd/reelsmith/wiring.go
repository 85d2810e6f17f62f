package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jo-hoe/reelsmith/internal/config"
	"github.com/jo-hoe/reelsmith/internal/jobs"
	"github.com/jo-hoe/reelsmith/internal/llm"
	"github.com/jo-hoe/reelsmith/internal/llm/aiproxy"
	llmmock "github.com/jo-hoe/reelsmith/internal/llm/mock"
	"github.com/jo-hoe/reelsmith/internal/media"
	"github.com/jo-hoe/reelsmith/internal/media/httpapi"
	mediamock "github.com/jo-hoe/reelsmith/internal/media/mock"
	"github.com/jo-hoe/reelsmith/internal/pipeline"
	"github.com/jo-hoe/reelsmith/internal/storage"
	"github.com/jo-hoe/reelsmith/internal/structured"
)

func newTextGenerator(cfg config.LLMConfig) (llm.TextGenerator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "mock":
		return llmmock.New(cfg.Mock), nil
	case "aiproxy":
		return aiproxy.New(cfg.AIProxy, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

// newMediaDeps fills the media collaborators of deps and returns the selectable clip models.
func newMediaDeps(cfg config.MediaConfig, deps *pipeline.Deps) ([]string, error) {
	registry := media.NewRegistry(cfg.Clip.DefaultModel)
	models := append([]string{cfg.Clip.DefaultModel}, cfg.Clip.Models...)

	switch strings.ToLower(cfg.Provider) {
	case "mock":
		studio := mediamock.New(cfg.Mock)
		for _, m := range models {
			registry.Add(m, studio)
		}
		deps.Voice = studio
		deps.Transcriber = studio
		deps.Compositor = studio
	case "http":
		// One client serves every model; the model id travels in the request.
		clips := httpapi.NewClipClient(cfg.Clip.EndpointSettings)
		for _, m := range models {
			registry.Add(m, clips)
		}
		deps.Voice = httpapi.NewVoiceClient(cfg.Voice.EndpointSettings)
		deps.Transcriber = httpapi.NewTranscriberClient(cfg.Transcriber)
		deps.Compositor = httpapi.NewCompositorClient(cfg.Compositor)
		if fb := httpapi.NewFallbackCompositorClient(cfg.Compositor); fb != nil {
			deps.FallbackCompositor = fb
		}
	default:
		return nil, fmt.Errorf("unsupported media provider %q", cfg.Provider)
	}
	deps.Clips = registry
	return registry.Names(), nil
}

// newOrchestrator assembles the pipeline from configuration.
func newOrchestrator(cfg *config.Config, log *slog.Logger, store jobs.Store) (*pipeline.Orchestrator, []string, error) {
	gen, err := newTextGenerator(cfg.LLM)
	if err != nil {
		return nil, nil, err
	}
	deps := pipeline.Deps{
		Store: store,
		Structured: structured.New(gen,
			structured.WithMaxAttempts(cfg.LLM.MaxAttempts),
			structured.WithBackoff(cfg.LLM.Backoff),
			structured.WithFallbackModel(cfg.LLM.FallbackModel),
			structured.WithLogger(log),
		),
		Archive: storage.NewArchive(cfg.Server.StorageDir),
	}
	models, err := newMediaDeps(cfg.Media, &deps)
	if err != nil {
		return nil, nil, err
	}
	return pipeline.New(log, deps, pipeline.SettingsFromConfig(cfg)), models, nil
}
