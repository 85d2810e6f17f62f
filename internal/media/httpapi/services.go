package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jo-hoe/reelsmith/internal/config"
	"github.com/jo-hoe/reelsmith/internal/media"
)

const (
	pathClips          = "v1/clips"
	pathSpeech         = "v1/speech"
	pathTranscriptions = "v1/transcriptions"
)

var (
	_ media.ClipGenerator    = (*ClipClient)(nil)
	_ media.VoiceSynthesizer = (*VoiceClient)(nil)
	_ media.Transcriber      = (*TranscriberClient)(nil)
)

// ClipClient calls a text-to-video service.
type ClipClient struct {
	ep endpoint
}

func NewClipClient(cfg config.EndpointSettings) *ClipClient {
	return &ClipClient{ep: newEndpoint(cfg)}
}

type clipResponse struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Error string `json:"error"`
}

func (c *ClipClient) GenerateClip(ctx context.Context, req media.ClipRequest) (media.Clip, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return media.Clip{}, errors.New("clip prompt is empty")
	}
	var resp clipResponse
	if err := c.ep.do(ctx, http.MethodPost, pathClips, req, &resp); err != nil {
		return media.Clip{}, err
	}
	if resp.Error != "" {
		return media.Clip{}, fmt.Errorf("clip generation: %s", resp.Error)
	}
	if resp.URL == "" {
		return media.Clip{}, errors.New("clip generation returned no url")
	}
	return media.Clip{ID: resp.ID, Ref: resp.URL}, nil
}

// VoiceClient calls a text-to-speech service.
type VoiceClient struct {
	ep endpoint
}

func NewVoiceClient(cfg config.EndpointSettings) *VoiceClient {
	return &VoiceClient{ep: newEndpoint(cfg)}
}

func (c *VoiceClient) Synthesize(ctx context.Context, req media.VoiceRequest) (string, error) {
	var resp struct {
		AudioURL string `json:"audio_url"`
	}
	if err := c.ep.do(ctx, http.MethodPost, pathSpeech, req, &resp); err != nil {
		return "", err
	}
	if resp.AudioURL == "" {
		return "", errors.New("speech synthesis returned no audio_url")
	}
	return resp.AudioURL, nil
}

// TranscriberClient calls a speech-to-text service with word timestamps enabled.
type TranscriberClient struct {
	ep endpoint
}

func NewTranscriberClient(cfg config.EndpointSettings) *TranscriberClient {
	return &TranscriberClient{ep: newEndpoint(cfg)}
}

func (c *TranscriberClient) Transcribe(ctx context.Context, audioRef string) (media.Transcript, error) {
	req := map[string]any{"audio_url": audioRef, "word_timestamps": true}
	var resp media.Transcript
	if err := c.ep.do(ctx, http.MethodPost, pathTranscriptions, req, &resp); err != nil {
		return media.Transcript{}, err
	}
	return resp, nil
}
