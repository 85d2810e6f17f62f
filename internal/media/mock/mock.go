// Package mock provides offline media services for local runs. Synthesized audio is
// remembered so the transcriber can return plausible word timings for it.
package mock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jo-hoe/reelsmith/internal/config"
	"github.com/jo-hoe/reelsmith/internal/jobs"
	"github.com/jo-hoe/reelsmith/internal/media"
)

// wordSeconds is the speaking time given to each mock word at speed 1.0.
const wordSeconds = 0.35

var (
	_ media.ClipGenerator    = (*Studio)(nil)
	_ media.VoiceSynthesizer = (*Studio)(nil)
	_ media.Transcriber      = (*Studio)(nil)
	_ media.Compositor       = (*Studio)(nil)
)

// Studio implements every media interface in memory.
type Studio struct {
	delay time.Duration

	mu     sync.Mutex
	seq    int
	speech map[string]spoken
}

type spoken struct {
	text  string
	speed float64
}

func New(cfg config.MockSettings) *Studio {
	return &Studio{delay: cfg.Delay, speech: make(map[string]spoken)}
}

func (s *Studio) wait(ctx context.Context) error {
	if s.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Studio) next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *Studio) GenerateClip(ctx context.Context, req media.ClipRequest) (media.Clip, error) {
	if err := s.wait(ctx); err != nil {
		return media.Clip{}, err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return media.Clip{}, errors.New("clip prompt is empty")
	}
	n := s.next()
	id := fmt.Sprintf("clip-%d", n)
	return media.Clip{ID: id, Ref: fmt.Sprintf("mock://clips/%s.mp4?model=%s&seconds=%d", id, req.Model, req.DurationSeconds)}, nil
}

func (s *Studio) Synthesize(ctx context.Context, req media.VoiceRequest) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Text) == "" {
		return "", errors.New("nothing to synthesize")
	}
	speed := req.Speed
	if speed <= 0 {
		speed = 1
	}
	ref := fmt.Sprintf("mock://audio/voice-%d.mp3?voice=%s", s.next(), req.Voice)
	s.mu.Lock()
	s.speech[ref] = spoken{text: req.Text, speed: speed}
	s.mu.Unlock()
	return ref, nil
}

// Transcribe returns evenly spaced word timings for audio this studio synthesized.
func (s *Studio) Transcribe(ctx context.Context, audioRef string) (media.Transcript, error) {
	if err := s.wait(ctx); err != nil {
		return media.Transcript{}, err
	}
	s.mu.Lock()
	sp, ok := s.speech[audioRef]
	s.mu.Unlock()
	if !ok {
		return media.Transcript{}, fmt.Errorf("unknown audio %q", audioRef)
	}

	step := wordSeconds / sp.speed
	var tr media.Transcript
	cursor := 0.0
	for _, sentence := range strings.SplitAfter(sp.text, ".") {
		fields := strings.Fields(sentence)
		if len(fields) == 0 {
			continue
		}
		start := cursor
		for _, w := range fields {
			tr.Words = append(tr.Words, jobs.CaptionSegment{Start: cursor, End: cursor + step, Text: w})
			cursor += step
		}
		tr.Segments = append(tr.Segments, jobs.CaptionSegment{Start: start, End: cursor, Text: strings.Join(fields, " ")})
		// sentence pause
		cursor += 2 * step
	}
	return tr, nil
}

func (s *Studio) Composite(ctx context.Context, tl media.Timeline) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	if len(tl.Clips) == 0 {
		return "", errors.New("timeline has no clips")
	}
	return fmt.Sprintf("mock://renders/%s.mp4?clips=%d&seconds=%.1f", tl.JobID, len(tl.Clips), tl.TotalSeconds), nil
}
