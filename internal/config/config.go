package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/skypro1111/voice-clone-service/internal/engine"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Audio   AudioConfig   `yaml:"audio"`
	Engine  EngineConfig  `yaml:"engine"`
	VAD     VADConfig     `yaml:"vad"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Address      string `yaml:"address" env:"BIND_ADDRESS"`
	Port         int    `yaml:"port" env:"PORT"`
	ReadTimeout  int    `yaml:"read_timeout" env:"READ_TIMEOUT"`   // seconds
	WriteTimeout int    `yaml:"write_timeout" env:"WRITE_TIMEOUT"` // seconds
	MaxUploadMB  int    `yaml:"max_upload_mb" env:"MAX_UPLOAD_MB"`
	StaticDir    string `yaml:"static_dir" env:"STATIC_DIR"`
}

// StorageConfig contains the on-disk layout
type StorageConfig struct {
	UploadDir string `yaml:"upload_dir" env:"UPLOAD_DIR"`
	OutputDir string `yaml:"output_dir" env:"OUTPUT_DIR"`
}

// AudioConfig contains audio normalization and post-processing parameters
type AudioConfig struct {
	SampleRate int     `yaml:"sample_rate"`
	Channels   int     `yaml:"channels"`
	HeadroomDB float64 `yaml:"headroom_db" env:"AUDIO_HEADROOM_DB"`
	SilenceMS  int     `yaml:"silence_ms" env:"AUDIO_SILENCE_MS"`
	FFmpegPath string  `yaml:"ffmpeg_path" env:"FFMPEG_PATH"`
	MP3Quality int     `yaml:"mp3_quality" env:"MP3_QUALITY"` // libmp3lame VBR quality, 0 (best) to 9
}

// EngineConfig contains synthesis engine configuration
type EngineConfig struct {
	Model               string      `yaml:"model" env:"TTS_MODEL"`
	Language            string      `yaml:"language" env:"TTS_LANGUAGE"`
	Endpoint            string      `yaml:"endpoint" env:"TTS_ENDPOINT"`
	Temperature         float64     `yaml:"temperature" env:"TTS_TEMPERATURE"`
	Speed               float64     `yaml:"speed" env:"TTS_SPEED"`
	Timeout             int         `yaml:"timeout" env:"TTS_TIMEOUT"` // seconds
	Preload             bool        `yaml:"preload" env:"TTS_PRELOAD"`
	ConcurrentInference bool        `yaml:"concurrent_inference" env:"TTS_CONCURRENT_INFERENCE"`
	Spawn               SpawnConfig `yaml:"spawn"`
}

// SpawnConfig describes an inference server started by the service itself
type SpawnConfig struct {
	Command        string   `yaml:"command" env:"TTS_SPAWN_COMMAND"`
	Args           []string `yaml:"args" env:"TTS_SPAWN_ARGS" envSeparator:" "`
	StartupTimeout int      `yaml:"startup_timeout" env:"TTS_SPAWN_STARTUP_TIMEOUT"` // seconds
}

// VADConfig contains reference voice activity analysis configuration
type VADConfig struct {
	Threshold      float32 `yaml:"threshold"`
	WindowSize     int     `yaml:"window_size"` // samples
	MinSpeechRatio float64 `yaml:"min_speech_ratio" env:"VAD_MIN_SPEECH_RATIO"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
	Output string `yaml:"output" env:"LOG_OUTPUT"`
}

// Default returns the configuration used when no file or variable overrides a value.
// Temperature and speed are the tuning the YourTTS/XTTS family was deployed with.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      "0.0.0.0",
			Port:         5000,
			ReadTimeout:  30,
			WriteTimeout: 300,
			MaxUploadMB:  20,
			StaticDir:    "frontend",
		},
		Storage: StorageConfig{
			UploadDir: "uploads",
			OutputDir: "outputs",
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			HeadroomDB: 0.1,
			SilenceMS:  1500,
			FFmpegPath: "ffmpeg",
			MP3Quality: 2,
		},
		Engine: EngineConfig{
			Model:       engine.YourTTS,
			Language:    "fr-fr",
			Endpoint:    "http://127.0.0.1:5002",
			Temperature: 0.1,
			Speed:       0.9,
			Timeout:     120,
			Spawn: SpawnConfig{
				StartupTimeout: 180,
			},
		},
		VAD: VADConfig{
			Threshold:  0.02,
			WindowSize: 512,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if it
// exists), a .env file in the working directory and the process environment.
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.ReadTimeout < 1 {
		return fmt.Errorf("read_timeout must be at least 1 second, got %d", s.ReadTimeout)
	}

	if s.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", s.WriteTimeout)
	}

	if s.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1, got %d", s.MaxUploadMB)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.UploadDir == "" {
		return fmt.Errorf("upload_dir cannot be empty")
	}

	if s.OutputDir == "" {
		return fmt.Errorf("output_dir cannot be empty")
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz for reference audio, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono) for reference audio, got %d", a.Channels)
	}

	if a.HeadroomDB < 0 {
		return fmt.Errorf("headroom_db cannot be negative, got %f", a.HeadroomDB)
	}

	if a.SilenceMS < 0 || a.SilenceMS > 10000 {
		return fmt.Errorf("silence_ms must be between 0 and 10000, got %d", a.SilenceMS)
	}

	if a.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}

	if a.MP3Quality < 0 || a.MP3Quality > 9 {
		return fmt.Errorf("mp3_quality must be between 0 and 9, got %d", a.MP3Quality)
	}

	return nil
}

// Validate validates engine configuration. A language the configured model is
// known not to serve is rejected here so the service never starts with it.
func (e *EngineConfig) Validate() error {
	if e.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if e.Language == "" {
		return fmt.Errorf("language cannot be empty")
	}

	if err := engine.CheckLanguage(e.Model, e.Language); err != nil {
		return err
	}

	if e.Endpoint == "" && e.Spawn.Command == "" {
		return fmt.Errorf("either endpoint or spawn.command must be set")
	}

	if e.Endpoint != "" && !strings.HasPrefix(e.Endpoint, "http://") && !strings.HasPrefix(e.Endpoint, "https://") {
		return fmt.Errorf("endpoint must be an http(s) URL, got '%s'", e.Endpoint)
	}

	if e.Temperature <= 0 || e.Temperature > 2 {
		return fmt.Errorf("temperature must be in (0, 2], got %f", e.Temperature)
	}

	if e.Speed <= 0 || e.Speed > 3 {
		return fmt.Errorf("speed must be in (0, 3], got %f", e.Speed)
	}

	if e.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", e.Timeout)
	}

	if e.Spawn.Command != "" && e.Spawn.StartupTimeout < 1 {
		return fmt.Errorf("spawn.startup_timeout must be at least 1 second, got %d", e.Spawn.StartupTimeout)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.Threshold <= 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1], got %f", v.Threshold)
	}

	if v.WindowSize < 256 || v.WindowSize > 2048 {
		return fmt.Errorf("window_size must be between 256 and 2048 samples, got %d", v.WindowSize)
	}

	if v.MinSpeechRatio < 0 || v.MinSpeechRatio > 1 {
		return fmt.Errorf("min_speech_ratio must be between 0 and 1, got %f", v.MinSpeechRatio)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetReadTimeout returns the read timeout as a time.Duration
func (s *ServerConfig) GetReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// GetWriteTimeout returns the write timeout as a time.Duration
func (s *ServerConfig) GetWriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetMaxUploadBytes returns the upload limit in bytes
func (s *ServerConfig) GetMaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}

// GetSilenceDuration returns the trailing silence as a time.Duration
func (a *AudioConfig) GetSilenceDuration() time.Duration {
	return time.Duration(a.SilenceMS) * time.Millisecond
}

// GetTimeoutDuration returns the engine request timeout as a time.Duration
func (e *EngineConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

// GetStartupTimeoutDuration returns the spawned server startup timeout as a time.Duration
func (s *SpawnConfig) GetStartupTimeoutDuration() time.Duration {
	return time.Duration(s.StartupTimeout) * time.Second
}
