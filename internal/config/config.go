package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/reelsmith/internal/common"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	LLM      LLMConfig      `yaml:"llm"`
	Media    MediaConfig    `yaml:"media"`
	Captions CaptionsConfig `yaml:"captions"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr             string        `yaml:"address"`
	ReadTimeout      time.Duration `yaml:"readTimeout"`
	WriteTimeout     time.Duration `yaml:"writeTimeout"`
	IdleTimeout      time.Duration `yaml:"idleTimeout"`
	MaxBodySize      ByteSize      `yaml:"maxBodySize"`
	WorkerCount      int           `yaml:"workerCount"`
	QueueCapacity    int           `yaml:"queueCapacity"`
	StorageDir       string        `yaml:"storageDir"`
	APIKey           string        `yaml:"apiKey"`           // optional static API key header (X-API-Key)
	DatabasePath     string        `yaml:"databasePath"`     // optional, overrides default storageDir/reelsmith.db
	ShutdownGrace    time.Duration `yaml:"shutdownGrace"`    // time to wait for workers before forced stop
	CallbackRetries  int           `yaml:"callbackRetries"`  // number of callback attempts
	CallbackBackoff  time.Duration `yaml:"callbackBackoff"`  // base backoff duration
	ProgressInterval time.Duration `yaml:"progressInterval"` // websocket snapshot poll interval
	LogLevel         string        `yaml:"logLevel"`         // debug|info|warn|error
	LogFormat        string        `yaml:"logFormat"`        // text|json
}

// LLMConfig selects the text generator and structured-generation policy.
type LLMConfig struct {
	Provider      string          `yaml:"provider"` // "mock" or "aiproxy"
	Model         string          `yaml:"model"`
	FallbackModel string          `yaml:"fallbackModel"` // optional, tried once after all attempts fail
	MaxAttempts   int             `yaml:"maxAttempts"`
	Backoff       time.Duration   `yaml:"backoff"` // multiplied by the attempt number
	Mock          MockSettings    `yaml:"mock"`
	AIProxy       AIProxySettings `yaml:"aiproxy"`
}

// MockSettings config for the offline providers.
type MockSettings struct {
	Delay time.Duration `yaml:"delay"`
}

// AIProxySettings config for the AI Proxy (OpenAI-compatible) LLM.
type AIProxySettings struct {
	BaseURL     string        `yaml:"baseUrl"` // e.g. http://localhost:8900
	APIKey      string        `yaml:"apiKey"`  // optional
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"maxTokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// MediaConfig groups the remote media services.
type MediaConfig struct {
	Provider    string            `yaml:"provider"` // "mock" or "http"
	Clip        ClipSettings      `yaml:"clip"`
	Voice       VoiceSettings     `yaml:"voice"`
	Transcriber EndpointSettings  `yaml:"transcriber"`
	Compositor  CompositorSetting `yaml:"compositor"`
	Mock        MockSettings      `yaml:"mock"`
}

// EndpointSettings is the common shape of a remote media endpoint.
type EndpointSettings struct {
	BaseURL string        `yaml:"baseUrl"`
	APIKey  string        `yaml:"apiKey"`
	Timeout time.Duration `yaml:"timeout"`
}

// ClipSettings config for the video-clip generator.
type ClipSettings struct {
	EndpointSettings `yaml:",inline"`
	DefaultModel     string        `yaml:"defaultModel"`
	Models           []string      `yaml:"models"` // additional model ids selectable per job
	MinSeconds       int           `yaml:"minSeconds"`
	MaxSeconds       int           `yaml:"maxSeconds"`
	AspectRatio      string        `yaml:"aspectRatio"`
	Attempts         int           `yaml:"attempts"`
	Backoff          time.Duration `yaml:"backoff"`
}

// VoiceSettings config for the voice synthesizer.
type VoiceSettings struct {
	EndpointSettings `yaml:",inline"`
	Speed            float64           `yaml:"speed"`
	Voices           map[string]string `yaml:"voices"` // persona id -> provider voice id
}

// CompositorSetting config for the render service and its alternate endpoint.
type CompositorSetting struct {
	EndpointSettings `yaml:",inline"`
	FallbackURL      string        `yaml:"fallbackUrl"`
	PollInterval     time.Duration `yaml:"pollInterval"`
	RenderTimeout    time.Duration `yaml:"renderTimeout"`
}

// CaptionsConfig bounds caption segment merging.
type CaptionsConfig struct {
	MaxWords    int     `yaml:"maxWords"`
	MaxDuration float64 `yaml:"maxDuration"` // seconds
	MaxGap      float64 `yaml:"maxGap"`      // seconds
	MaxSegments int     `yaml:"maxSegments"`
}

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		str := strings.TrimSpace(value.Value)
		parsed, err := ParseByteSize(str)
		if err != nil {
			return err
		}
		*b = ByteSize(parsed)
		return nil
	}
	return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
}

var reNumeric = regexp.MustCompile(`^\d+$`)

// ParseByteSize parses a string like "10Mi", "20MB", "512KiB", "1024" into bytes.
// Supports Kubernetes-style quantities for binary units: Ki, Mi, Gi (case-insensitive).
// Also accepts KiB/MiB/GiB and decimal KB/MB/GB, and bare bytes.
func ParseByteSize(s string) (uint64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	if reNumeric.MatchString(s) {
		val, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size number: %w", err)
		}
		return val, nil
	}

	up := strings.ToUpper(s)

	type unit struct {
		suffix string
		value  uint64
	}
	units := []unit{
		{"KI", 1024},
		{"MI", 1024 * 1024},
		{"GI", 1024 * 1024 * 1024},
		{"KIB", 1024},
		{"MIB", 1024 * 1024},
		{"GIB", 1024 * 1024 * 1024},
		{"KB", 1000},
		{"MB", 1000 * 1000},
		{"GB", 1000 * 1000 * 1000},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size number in %q: %w", orig, err)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unknown size suffix in %q", orig)
}

// Load reads YAML config from path, expands environment variables, and validates it.
// If path is empty, it will attempt to read from env var REELSMITH_CONFIG, then default to "config.yaml".
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		if env := os.Getenv("REELSMITH_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes raw YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	if cfg.Server.StorageDir != "" {
		if err := os.MkdirAll(cfg.Server.StorageDir, 0o750); err != nil {
			return nil, fmt.Errorf("ensure storageDir: %w", err)
		}
	}
	if cfg.Server.DatabasePath == "" {
		cfg.Server.DatabasePath = filepath.Join(cfg.Server.StorageDir, common.DatabaseFileName)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 2 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = ByteSize(1024 * 1024)
	}
	if cfg.Server.WorkerCount <= 0 {
		cfg.Server.WorkerCount = common.DefaultWorkerCount
	}
	if cfg.Server.QueueCapacity <= 0 {
		cfg.Server.QueueCapacity = common.DefaultQueueCapacity
	}
	if cfg.Server.StorageDir == "" {
		cfg.Server.StorageDir = "data"
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if cfg.Server.CallbackRetries == 0 {
		cfg.Server.CallbackRetries = 3
	}
	if cfg.Server.CallbackBackoff == 0 {
		cfg.Server.CallbackBackoff = 2 * time.Second
	}
	if cfg.Server.ProgressInterval == 0 {
		cfg.Server.ProgressInterval = time.Second
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.Server.LogFormat) == "" {
		cfg.Server.LogFormat = "text"
	}

	// LLM defaults
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "mock"
	}
	if cfg.LLM.MaxAttempts <= 0 {
		cfg.LLM.MaxAttempts = 3
	}
	if cfg.LLM.Backoff == 0 {
		cfg.LLM.Backoff = 1200 * time.Millisecond
	}
	if strings.EqualFold(cfg.LLM.Provider, "aiproxy") {
		if strings.TrimSpace(cfg.LLM.AIProxy.BaseURL) == "" {
			cfg.LLM.AIProxy.BaseURL = "http://localhost:8900"
		}
		if strings.TrimSpace(cfg.LLM.Model) == "" {
			cfg.LLM.Model = "gpt-5"
		}
	}

	// Media defaults
	if cfg.Media.Provider == "" {
		cfg.Media.Provider = "mock"
	}
	if cfg.Media.Clip.DefaultModel == "" {
		cfg.Media.Clip.DefaultModel = "default"
	}
	if cfg.Media.Clip.MinSeconds <= 0 {
		cfg.Media.Clip.MinSeconds = common.DefaultClipMinSeconds
	}
	if cfg.Media.Clip.MaxSeconds <= 0 {
		cfg.Media.Clip.MaxSeconds = common.DefaultClipMaxSeconds
	}
	if cfg.Media.Clip.AspectRatio == "" {
		cfg.Media.Clip.AspectRatio = common.DefaultClipAspectRatio
	}
	if cfg.Media.Clip.Attempts <= 0 {
		cfg.Media.Clip.Attempts = 2
	}
	if cfg.Media.Clip.Backoff == 0 {
		cfg.Media.Clip.Backoff = 3 * time.Second
	}
	if cfg.Media.Voice.Speed == 0 {
		cfg.Media.Voice.Speed = 1.0
	}
	if cfg.Media.Compositor.PollInterval == 0 {
		cfg.Media.Compositor.PollInterval = 5 * time.Second
	}
	if cfg.Media.Compositor.RenderTimeout == 0 {
		cfg.Media.Compositor.RenderTimeout = 10 * time.Minute
	}

	// Caption defaults
	if cfg.Captions.MaxWords <= 0 {
		cfg.Captions.MaxWords = common.DefaultCaptionMaxWords
	}
	if cfg.Captions.MaxDuration <= 0 {
		cfg.Captions.MaxDuration = common.DefaultCaptionMaxDuration
	}
	if cfg.Captions.MaxGap <= 0 {
		cfg.Captions.MaxGap = common.DefaultCaptionMaxGap
	}
	if cfg.Captions.MaxSegments <= 0 {
		cfg.Captions.MaxSegments = common.DefaultCaptionMaxSegments
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "mock":
	case "aiproxy":
		if strings.TrimSpace(cfg.LLM.AIProxy.BaseURL) == "" {
			return errors.New("llm.aiproxy.baseUrl is required")
		}
	default:
		return fmt.Errorf("unsupported llm.provider %q", cfg.LLM.Provider)
	}

	switch strings.ToLower(cfg.Media.Provider) {
	case "mock":
	case "http":
		m := cfg.Media
		if strings.TrimSpace(m.Clip.BaseURL) == "" {
			return errors.New("media.clip.baseUrl is required")
		}
		if strings.TrimSpace(m.Voice.BaseURL) == "" {
			return errors.New("media.voice.baseUrl is required")
		}
		if strings.TrimSpace(m.Transcriber.BaseURL) == "" {
			return errors.New("media.transcriber.baseUrl is required")
		}
		if strings.TrimSpace(m.Compositor.BaseURL) == "" {
			return errors.New("media.compositor.baseUrl is required")
		}
	default:
		return fmt.Errorf("unsupported media.provider %q", cfg.Media.Provider)
	}

	if cfg.Media.Clip.MinSeconds > cfg.Media.Clip.MaxSeconds {
		return fmt.Errorf("media.clip.minSeconds (%d) exceeds maxSeconds (%d)", cfg.Media.Clip.MinSeconds, cfg.Media.Clip.MaxSeconds)
	}
	return nil
}
