package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// APIKeyEnv overrides live.api_key and generate.api_key when set
const APIKeyEnv = "GEMINI_API_KEY"

// Config represents the complete service configuration
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Live     LiveConfig     `yaml:"live"`
	Audio    AudioConfig    `yaml:"audio"`
	Video    VideoConfig    `yaml:"video"`
	Devices  DevicesConfig  `yaml:"devices"`
	VAD      VADConfig      `yaml:"vad"`
	Generate GenerateConfig `yaml:"generate"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LiveConfig contains the remote live session configuration
type LiveConfig struct {
	URL               string `yaml:"url"` // empty means the hosted Gemini endpoint
	APIKey            string `yaml:"api_key"`
	Model             string `yaml:"model"`
	Voice             string `yaml:"voice"`
	SystemInstruction string `yaml:"system_instruction"`
	Transcribe        bool   `yaml:"transcribe"`
	SetupTimeout      int    `yaml:"setup_timeout"` // seconds
	MaxDuration       int    `yaml:"max_duration"`  // seconds, 0 = unlimited
	DialTimeout       int    `yaml:"dial_timeout"`  // seconds
	PingInterval      int    `yaml:"ping_interval"` // seconds
	AudioQueueSize    int    `yaml:"audio_queue_size"`
	VideoQueueSize    int    `yaml:"video_queue_size"`
	TranscriptSize    int    `yaml:"transcript_size"`
}

// AudioConfig contains capture and playback audio parameters
type AudioConfig struct {
	InputSampleRate  int     `yaml:"input_sample_rate"`
	OutputSampleRate int     `yaml:"output_sample_rate"`
	FrameSamples     int     `yaml:"frame_samples"`
	PlaybackLead     float64 `yaml:"playback_lead"` // seconds
}

// VideoConfig contains camera frame capture parameters
type VideoConfig struct {
	Interval    float64 `yaml:"interval"` // seconds between frames
	JPEGQuality int     `yaml:"jpeg_quality"`
	MaxWidth    int     `yaml:"max_width"`
}

// DevicesConfig contains the device bridge configuration
type DevicesConfig struct {
	Microphone MicrophoneConfig `yaml:"microphone"`
	Camera     CameraConfig     `yaml:"camera"`
	Speaker    SpeakerConfig    `yaml:"speaker"`
}

// MicrophoneConfig configures the UDP capture agent listener
type MicrophoneConfig struct {
	Address          string  `yaml:"address"`
	BufferSize       int     `yaml:"buffer_size"`
	AcquireTimeout   int     `yaml:"acquire_timeout"` // seconds
	MaxBufferSeconds float64 `yaml:"max_buffer_seconds"`
}

// CameraConfig configures the snapshot camera
type CameraConfig struct {
	SnapshotURL string `yaml:"snapshot_url"`
	Timeout     int    `yaml:"timeout"` // seconds
}

// SpeakerConfig configures the playback device
type SpeakerConfig struct {
	Kind    string   `yaml:"kind"` // process, wav or discard
	Command []string `yaml:"command"`
	WAVPath string   `yaml:"wav_path"`
}

// VADConfig contains voice activity metering configuration
type VADConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Threshold    float32 `yaml:"threshold"`
	Ceiling      float32 `yaml:"ceiling"`
	Smoothing    float32 `yaml:"smoothing"`
	HangoverTime float64 `yaml:"hangover_time"` // seconds
}

// GenerateConfig contains chat/image/video generation configuration
type GenerateConfig struct {
	APIKey        string  `yaml:"api_key"` // falls back to live.api_key
	ChatModel     string  `yaml:"chat_model"`
	ImageModel    string  `yaml:"image_model"`
	VideoModel    string  `yaml:"video_model"`
	Temperature   float32 `yaml:"temperature"`
	HistoryLimit  int     `yaml:"history_limit"`
	Timeout       int     `yaml:"timeout"` // seconds
	MaxRetries    int     `yaml:"max_retries"`
	MaxConcurrent int     `yaml:"max_concurrent"`
	PollInterval  int     `yaml:"poll_interval"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration with every field set to its default
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Live: LiveConfig{
			Model:          "gemini-2.5-flash-native-audio-preview-12-2025",
			Voice:          "Zephyr",
			Transcribe:     true,
			SetupTimeout:   15,
			DialTimeout:    15,
			PingInterval:   20,
			AudioQueueSize: 64,
			VideoQueueSize: 4,
			TranscriptSize: 10,
		},
		Audio: AudioConfig{
			InputSampleRate:  16000,
			OutputSampleRate: 24000,
			FrameSamples:     4096,
			PlaybackLead:     0.1,
		},
		Video: VideoConfig{
			Interval:    1.0,
			JPEGQuality: 60,
			MaxWidth:    640,
		},
		Devices: DevicesConfig{
			Microphone: MicrophoneConfig{
				Address:          "127.0.0.1:5004",
				BufferSize:       65536,
				AcquireTimeout:   3,
				MaxBufferSeconds: 2,
			},
			Camera: CameraConfig{
				Timeout: 5,
			},
			Speaker: SpeakerConfig{
				Kind: "process",
			},
		},
		VAD: VADConfig{
			Enabled:      true,
			Threshold:    0.5,
			Ceiling:      0.1,
			Smoothing:    0.3,
			HangoverTime: 0.5,
		},
		Generate: GenerateConfig{
			ChatModel:     "gemini-3-flash-preview",
			ImageModel:    "gemini-2.5-flash-image",
			VideoModel:    "veo-3.1-fast-generate-preview",
			Temperature:   0.7,
			HistoryLimit:  10,
			Timeout:       60,
			MaxRetries:    3,
			MaxConcurrent: 4,
			PollInterval:  5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file. Fields missing from the
// file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyEnv() {
	if key := os.Getenv(APIKeyEnv); key != "" {
		c.Live.APIKey = key
		c.Generate.APIKey = key
	}
	if c.Generate.APIKey == "" {
		c.Generate.APIKey = c.Live.APIKey
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Live.Validate(); err != nil {
		return fmt.Errorf("live config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Video.Validate(); err != nil {
		return fmt.Errorf("video config: %w", err)
	}

	if err := c.Devices.Validate(); err != nil {
		return fmt.Errorf("devices config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Generate.Validate(); err != nil {
		return fmt.Errorf("generate config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates live session configuration. A missing API key is not
// an error here; starting a session against the hosted endpoint reports it.
func (l *LiveConfig) Validate() error {
	if l.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if l.SetupTimeout < 1 {
		return fmt.Errorf("setup_timeout must be at least 1 second, got %d", l.SetupTimeout)
	}

	if l.MaxDuration < 0 {
		return fmt.Errorf("max_duration cannot be negative, got %d", l.MaxDuration)
	}

	if l.DialTimeout < 1 {
		return fmt.Errorf("dial_timeout must be at least 1 second, got %d", l.DialTimeout)
	}

	if l.PingInterval < 0 {
		return fmt.Errorf("ping_interval cannot be negative, got %d", l.PingInterval)
	}

	if l.AudioQueueSize < 1 || l.VideoQueueSize < 1 {
		return fmt.Errorf("send queue sizes must be at least 1, got audio=%d video=%d",
			l.AudioQueueSize, l.VideoQueueSize)
	}

	if l.TranscriptSize < 1 {
		return fmt.Errorf("transcript_size must be at least 1, got %d", l.TranscriptSize)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.InputSampleRate != 16000 {
		return fmt.Errorf("input_sample_rate must be 16000 Hz for the live protocol, got %d", a.InputSampleRate)
	}

	if a.OutputSampleRate != 24000 {
		return fmt.Errorf("output_sample_rate must be 24000 Hz for the live protocol, got %d", a.OutputSampleRate)
	}

	if a.FrameSamples < 256 || a.FrameSamples > 16384 {
		return fmt.Errorf("frame_samples must be between 256 and 16384, got %d", a.FrameSamples)
	}

	if a.PlaybackLead < 0 || a.PlaybackLead > 1 {
		return fmt.Errorf("playback_lead must be between 0 and 1 second, got %f", a.PlaybackLead)
	}

	return nil
}

// Validate validates video configuration
func (v *VideoConfig) Validate() error {
	if v.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %f", v.Interval)
	}

	if v.JPEGQuality < 1 || v.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", v.JPEGQuality)
	}

	if v.MaxWidth < 0 {
		return fmt.Errorf("max_width cannot be negative, got %d", v.MaxWidth)
	}

	return nil
}

// Validate validates device bridge configuration
func (d *DevicesConfig) Validate() error {
	if d.Microphone.Address == "" {
		return fmt.Errorf("microphone address cannot be empty")
	}

	if d.Microphone.BufferSize < 1024 {
		return fmt.Errorf("microphone buffer_size must be at least 1024 bytes, got %d", d.Microphone.BufferSize)
	}

	if d.Microphone.AcquireTimeout < 1 {
		return fmt.Errorf("microphone acquire_timeout must be at least 1 second, got %d", d.Microphone.AcquireTimeout)
	}

	if d.Microphone.MaxBufferSeconds <= 0 {
		return fmt.Errorf("microphone max_buffer_seconds must be positive, got %f", d.Microphone.MaxBufferSeconds)
	}

	if d.Camera.Timeout < 1 {
		return fmt.Errorf("camera timeout must be at least 1 second, got %d", d.Camera.Timeout)
	}

	switch d.Speaker.Kind {
	case "process", "discard":
	case "wav":
		if d.Speaker.WAVPath == "" {
			return fmt.Errorf("speaker wav_path cannot be empty for kind 'wav'")
		}
	default:
		return fmt.Errorf("speaker kind must be one of [process, wav, discard], got '%s'", d.Speaker.Kind)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if !v.Enabled {
		return nil
	}

	if v.Threshold < 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.Ceiling <= 0 || v.Ceiling > 1 {
		return fmt.Errorf("ceiling must be between 0 (exclusive) and 1, got %f", v.Ceiling)
	}

	if v.Smoothing <= 0 || v.Smoothing > 1 {
		return fmt.Errorf("smoothing must be between 0 (exclusive) and 1, got %f", v.Smoothing)
	}

	if v.HangoverTime < 0 {
		return fmt.Errorf("hangover_time cannot be negative, got %f", v.HangoverTime)
	}

	return nil
}

// Validate validates generate configuration
func (g *GenerateConfig) Validate() error {
	if g.ChatModel == "" || g.ImageModel == "" || g.VideoModel == "" {
		return fmt.Errorf("chat_model, image_model and video_model cannot be empty")
	}

	if g.Temperature < 0 || g.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", g.Temperature)
	}

	if g.HistoryLimit < 1 {
		return fmt.Errorf("history_limit must be at least 1, got %d", g.HistoryLimit)
	}

	if g.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", g.Timeout)
	}

	if g.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", g.MaxRetries)
	}

	if g.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", g.MaxConcurrent)
	}

	if g.PollInterval < 1 {
		return fmt.Errorf("poll_interval must be at least 1 second, got %d", g.PollInterval)
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

	// Anything other than stdout/stderr is treated as a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// Sanitized returns a copy safe to expose over HTTP
func (c Config) Sanitized() Config {
	if c.Live.APIKey != "" {
		c.Live.APIKey = "***"
	}
	if c.Generate.APIKey != "" {
		c.Generate.APIKey = "***"
	}
	return c
}

// GetSetupTimeoutDuration returns the setup timeout as a time.Duration
func (l *LiveConfig) GetSetupTimeoutDuration() time.Duration {
	return time.Duration(l.SetupTimeout) * time.Second
}

// GetMaxDuration returns the session length limit as a time.Duration
func (l *LiveConfig) GetMaxDuration() time.Duration {
	return time.Duration(l.MaxDuration) * time.Second
}

// GetDialTimeoutDuration returns the dial timeout as a time.Duration
func (l *LiveConfig) GetDialTimeoutDuration() time.Duration {
	return time.Duration(l.DialTimeout) * time.Second
}

// GetPingIntervalDuration returns the keepalive interval as a time.Duration
func (l *LiveConfig) GetPingIntervalDuration() time.Duration {
	return time.Duration(l.PingInterval) * time.Second
}

// GetPlaybackLead returns the playback lead as a time.Duration
func (a *AudioConfig) GetPlaybackLead() time.Duration {
	return time.Duration(a.PlaybackLead * float64(time.Second))
}

// GetIntervalDuration returns the frame interval as a time.Duration
func (v *VideoConfig) GetIntervalDuration() time.Duration {
	return time.Duration(v.Interval * float64(time.Second))
}

// GetAcquireTimeoutDuration returns the microphone acquire timeout as a time.Duration
func (m *MicrophoneConfig) GetAcquireTimeoutDuration() time.Duration {
	return time.Duration(m.AcquireTimeout) * time.Second
}

// GetTimeoutDuration returns the snapshot timeout as a time.Duration
func (c *CameraConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// GetHangoverDuration returns the VAD hangover as a time.Duration
func (v *VADConfig) GetHangoverDuration() time.Duration {
	return time.Duration(v.HangoverTime * float64(time.Second))
}

// GetTimeoutDuration returns the generate request timeout as a time.Duration
func (g *GenerateConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(g.Timeout) * time.Second
}

// GetPollIntervalDuration returns the video poll interval as a time.Duration
func (g *GenerateConfig) GetPollIntervalDuration() time.Duration {
	return time.Duration(g.PollInterval) * time.Second
}
