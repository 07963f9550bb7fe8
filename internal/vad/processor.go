package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Config holds the detector parameters
type Config struct {
	Threshold    float32 // Smoothed level at or above which a frame counts as voice (0-1)
	Ceiling      float32 // RMS level that maps to probability 1.0
	Smoothing    float32 // Weight of the newest frame in the moving average (0-1]
	HangoverTime time.Duration
}

// DefaultConfig returns parameters tuned for 16 kHz microphone frames
func DefaultConfig() Config {
	return Config{
		Threshold:    0.5,
		Ceiling:      0.1,
		Smoothing:    0.3,
		HangoverTime: 500 * time.Millisecond,
	}
}

// Processor is an energy based voice activity detector over normalized
// float frames
type Processor struct {
	cfg Config

	// Detector state
	level      float32
	speaking   bool
	lastVoice  time.Time
	hasHistory bool

	// Statistics
	totalFrames   uint64
	voiceFrames   uint64
	transitions   uint64
	lastProcessed time.Time

	now func() time.Time
	mu  sync.RWMutex
}

// Result represents the outcome of one frame
type Result struct {
	Probability float32   `json:"probability"` // Smoothed voice probability (0.0 - 1.0)
	RMS         float32   `json:"rms"`
	HasVoice    bool      `json:"has_voice"`    // Frame itself is above threshold
	Speaking    bool      `json:"speaking"`     // Voice seen within the hangover window
	Changed     bool      `json:"changed"`      // Speaking flipped on this frame
	Timestamp   time.Time `json:"timestamp"`
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	TotalFrames     uint64    `json:"total_frames"`
	VoiceFrames     uint64    `json:"voice_frames"`
	VoicePercentage float64   `json:"voice_percentage"`
	Transitions     uint64    `json:"transitions"`
	Speaking        bool      `json:"speaking"`
	Level           float32   `json:"level"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
}

// NewProcessor creates a new VAD processor instance
func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", cfg.Threshold)
	}
	if cfg.Ceiling <= 0 || cfg.Ceiling > 1 {
		return nil, fmt.Errorf("ceiling must be in (0, 1], got %f", cfg.Ceiling)
	}
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		return nil, fmt.Errorf("smoothing must be in (0, 1], got %f", cfg.Smoothing)
	}
	if cfg.HangoverTime < 0 {
		return nil, fmt.Errorf("hangover time must not be negative, got %v", cfg.HangoverTime)
	}

	return &Processor{cfg: cfg, now: time.Now}, nil
}

// Process measures one frame of samples in [-1,1]
func (p *Processor) Process(samples []float32) (*Result, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	rms := RMS(samples)
	probability := rms / p.cfg.Ceiling
	if probability > 1 {
		probability = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.hasHistory {
		probability = p.cfg.Smoothing*probability + (1-p.cfg.Smoothing)*p.level
	}
	p.level = probability
	p.hasHistory = true

	hasVoice := probability >= p.cfg.Threshold
	if hasVoice {
		p.lastVoice = now
	}

	speaking := hasVoice || (!p.lastVoice.IsZero() && now.Sub(p.lastVoice) < p.cfg.HangoverTime)
	changed := speaking != p.speaking
	if changed {
		p.transitions++
	}
	p.speaking = speaking

	p.totalFrames++
	if hasVoice {
		p.voiceFrames++
	}
	p.lastProcessed = now

	return &Result{
		Probability: probability,
		RMS:         rms,
		HasVoice:    hasVoice,
		Speaking:    speaking,
		Changed:     changed,
		Timestamp:   now,
	}, nil
}

// RMS returns the root mean square level of samples
func RMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}
	return float32(math.Sqrt(energy / float64(len(samples))))
}

// Speaking reports whether voice was seen within the hangover window
func (p *Processor) Speaking() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.speaking
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	voicePercentage := float64(0)
	if p.totalFrames > 0 {
		voicePercentage = float64(p.voiceFrames) / float64(p.totalFrames) * 100
	}

	return ProcessorStats{
		TotalFrames:     p.totalFrames,
		VoiceFrames:     p.voiceFrames,
		VoicePercentage: voicePercentage,
		Transitions:     p.transitions,
		Speaking:        p.speaking,
		Level:           p.level,
		LastProcessed:   p.lastProcessed,
		Threshold:       p.cfg.Threshold,
	}
}

// UpdateThreshold updates the voice detection threshold
func (p *Processor) UpdateThreshold(threshold float32) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.cfg.Threshold = threshold
	return nil
}

// Reset resets the processor state and statistics
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.level = 0
	p.speaking = false
	p.hasHistory = false
	p.lastVoice = time.Time{}
	p.totalFrames = 0
	p.voiceFrames = 0
	p.transitions = 0
	p.lastProcessed = time.Time{}
}

// GetThreshold returns the current voice detection threshold
func (p *Processor) GetThreshold() float32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Threshold
}
