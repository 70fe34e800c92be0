package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/mediascribe/internal/common"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Engine    EngineConfig    `yaml:"engine"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr          string        `yaml:"address"`
	AppName       string        `yaml:"appName"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	MaxUploadSize ByteSize      `yaml:"maxUploadSize"`
	WorkerCount   int           `yaml:"workerCount"`
	QueueCapacity int           `yaml:"queueCapacity"`
	StorageDir    string        `yaml:"storageDir"`
	APIKey        string        `yaml:"apiKey"`        // optional static API key header (X-API-Key)
	ShutdownGrace time.Duration `yaml:"shutdownGrace"` // time to wait for workers before forced stop
	LogLevel      string        `yaml:"logLevel"`      // debug|info|warn|error
}

// StoreConfig selects the job record store backend.
type StoreConfig struct {
	Driver       string        `yaml:"driver"`       // "sqlite" or "redis"
	DatabasePath string        `yaml:"databasePath"` // sqlite; defaults to storageDir/mediascribe.db
	RedisAddr    string        `yaml:"redisAddr"`    // redis; host:port
	RedisDB      int           `yaml:"redisDB"`
	RedisPass    string        `yaml:"redisPassword"`
	RedisTTL     time.Duration `yaml:"redisTTL"` // 0 keeps records forever
}

// EngineConfig selects the transcription engine and its options.
type EngineConfig struct {
	Provider string          `yaml:"provider"` // "mock", "whispercpp" or "openai"
	Language string          `yaml:"language"` // "" or "auto" lets the engine detect
	Mock     MockSettings    `yaml:"mock"`
	Whisper  WhisperSettings `yaml:"whisper"`
	OpenAI   OpenAISettings  `yaml:"openai"`
}

// MockSettings config for the mock engine.
type MockSettings struct {
	Delay time.Duration `yaml:"delay"`
	Text  string        `yaml:"text"`
}

// WhisperSettings config for the whisper.cpp CLI engine.
type WhisperSettings struct {
	BinaryPath string `yaml:"binaryPath"`
	ModelPath  string `yaml:"modelPath"`
	Threads    int    `yaml:"threads"`
	Normalize  bool   `yaml:"normalize"` // convert input to 16 kHz mono WAV with ffmpeg first
}

// OpenAISettings config for an OpenAI-compatible audio transcription API.
type OpenAISettings struct {
	BaseURL string        `yaml:"baseUrl"` // e.g. https://api.openai.com
	APIKey  string        `yaml:"apiKey"`  // optional
	Model   string        `yaml:"model"`   // e.g. whisper-1
	Timeout time.Duration `yaml:"timeout"`
}

// ExtractorConfig configures the ffmpeg audio extraction step for video jobs.
type ExtractorConfig struct {
	FFmpegPath string `yaml:"ffmpegPath"`
	AudioCodec string `yaml:"audioCodec"` // ffmpeg -c:a value
	Extension  string `yaml:"extension"`  // extension of the temporary audio file
	SampleRate int    `yaml:"sampleRate"`
	Channels   int    `yaml:"channels"`
}

// PipelineConfig holds background pipeline options.
type PipelineConfig struct {
	JobTimeout    time.Duration `yaml:"jobTimeout"`    // 0 disables the watchdog
	WatchInterval time.Duration `yaml:"watchInterval"` // how often the watchdog scans
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
	// Longer suffixes first so "MIB" is not matched as "B".
	units := []unit{
		{"KIB", 1024},
		{"MIB", 1024 * 1024},
		{"GIB", 1024 * 1024 * 1024},
		{"KI", 1024},
		{"MI", 1024 * 1024},
		{"GI", 1024 * 1024 * 1024},
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

// Load reads an optional .env file, then the YAML config from path, expands
// environment variables, applies defaults and validates the result.
// If path is empty it tries MEDIASCRIBE_CONFIG, then "config.yaml"; a missing
// default file yields a configuration made only of defaults.
func Load(path string) (*Config, error) {
	// .env is optional; existing environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	explicit := true
	if path == "" {
		if env := os.Getenv("MEDIASCRIBE_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
			explicit = false
		}
	}

	var cfg Config
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// defaults only
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Server.StorageDir, 0o750); err != nil {
		return nil, fmt.Errorf("ensure storageDir: %w", err)
	}
	if cfg.Store.DatabasePath == "" {
		cfg.Store.DatabasePath = filepath.Join(cfg.Server.StorageDir, common.DatabaseFileName)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.AppName == "" {
		cfg.Server.AppName = "mediascribe"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 5 * time.Minute
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 5 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = ByteSize(512 * 1024 * 1024) // 512 MiB default
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
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}

	// Store defaults
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if strings.EqualFold(cfg.Store.Driver, "redis") && cfg.Store.RedisAddr == "" {
		cfg.Store.RedisAddr = "localhost:6379"
	}

	// Engine defaults
	if cfg.Engine.Provider == "" {
		cfg.Engine.Provider = "mock"
	}
	if cfg.Engine.Mock.Text == "" {
		cfg.Engine.Mock.Text = "Transcribed by mock engine."
	}
	if cfg.Engine.Whisper.BinaryPath == "" {
		cfg.Engine.Whisper.BinaryPath = common.WhisperExecutable
	}
	if strings.EqualFold(cfg.Engine.Provider, "openai") {
		if strings.TrimSpace(cfg.Engine.OpenAI.BaseURL) == "" {
			cfg.Engine.OpenAI.BaseURL = "https://api.openai.com"
		}
		if strings.TrimSpace(cfg.Engine.OpenAI.Model) == "" {
			cfg.Engine.OpenAI.Model = "whisper-1"
		}
	}
	if cfg.Engine.OpenAI.Timeout == 0 {
		cfg.Engine.OpenAI.Timeout = 10 * time.Minute
	}

	// Extractor defaults
	if cfg.Extractor.FFmpegPath == "" {
		cfg.Extractor.FFmpegPath = common.FFmpegExecutable
	}
	if cfg.Extractor.AudioCodec == "" {
		cfg.Extractor.AudioCodec = "pcm_s16le"
	}
	if cfg.Extractor.Extension == "" {
		cfg.Extractor.Extension = ".wav"
	}
	if !strings.HasPrefix(cfg.Extractor.Extension, ".") {
		cfg.Extractor.Extension = "." + cfg.Extractor.Extension
	}
	if cfg.Extractor.SampleRate == 0 {
		cfg.Extractor.SampleRate = 16000
	}
	if cfg.Extractor.Channels == 0 {
		cfg.Extractor.Channels = 1
	}

	// Pipeline defaults
	if cfg.Pipeline.JobTimeout > 0 && cfg.Pipeline.WatchInterval == 0 {
		cfg.Pipeline.WatchInterval = time.Minute
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(cfg.Store.Driver) {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("store.driver %q not supported", cfg.Store.Driver)
	}

	switch strings.ToLower(cfg.Engine.Provider) {
	case "mock":
	case "whispercpp":
		if strings.TrimSpace(cfg.Engine.Whisper.ModelPath) == "" {
			return fmt.Errorf("engine.whisper.modelPath is required")
		}
	case "openai":
		if strings.TrimSpace(cfg.Engine.OpenAI.Model) == "" {
			return fmt.Errorf("engine.openai.model is required")
		}
	default:
		return fmt.Errorf("engine.provider %q not supported", cfg.Engine.Provider)
	}

	if _, err := ParseLogLevel(cfg.Server.LogLevel); err != nil {
		return err
	}
	if cfg.Pipeline.JobTimeout < 0 {
		return fmt.Errorf("pipeline.jobTimeout must not be negative")
	}
	return nil
}

// ParseLogLevel maps the configured level name to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("server.logLevel %q not supported", s)
	}
}
