package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"google.golang.org/genai"

	"github.com/skypro1111/gemini-live-service/internal/metrics"
)

var (
	// ErrMissingAPIKey is returned before any request when no key is configured
	ErrMissingAPIKey = errors.New("no API key configured")

	// ErrEmptyPrompt rejects blank prompts
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrEmptyResponse is returned when the model produced no usable output
	ErrEmptyResponse = errors.New("model returned no content")

	// ErrInvalidAspectRatio rejects unsupported aspect ratios
	ErrInvalidAspectRatio = errors.New("unsupported aspect ratio")
)

// Operation names used in logs and metrics
const (
	OpChat  = "chat"
	OpImage = "image"
	OpVideo = "video"
	OpPoll  = "video_poll"
)

// Config contains generate client configuration
type Config struct {
	APIKey        string
	ChatModel     string
	ImageModel    string
	VideoModel    string
	Temperature   float32
	HistoryLimit  int
	Timeout       time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	MaxConcurrent int
	PollInterval  time.Duration
}

// DefaultConfig returns the models and limits used when nothing is configured
func DefaultConfig() Config {
	return Config{
		ChatModel:     "gemini-3-flash-preview",
		ImageModel:    "gemini-2.5-flash-image",
		VideoModel:    "veo-3.1-fast-generate-preview",
		Temperature:   0.7,
		HistoryLimit:  10,
		Timeout:       60 * time.Second,
		MaxRetries:    3,
		RetryBackoff:  time.Second,
		MaxConcurrent: 4,
		PollInterval:  5 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.ChatModel == "" {
		c.ChatModel = def.ChatModel
	}
	if c.ImageModel == "" {
		c.ImageModel = def.ImageModel
	}
	if c.VideoModel == "" {
		c.VideoModel = def.VideoModel
	}
	if c.Temperature <= 0 {
		c.Temperature = def.Temperature
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = def.RetryBackoff
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = def.MaxConcurrent
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
}

// Generator is the request/response collaborator behind chat, image and
// video generation
type Generator interface {
	Chat(ctx context.Context, history []Message, prompt string) (string, error)
	Image(ctx context.Context, prompt, aspectRatio string) (*Image, error)
	Video(ctx context.Context, prompt string, opts VideoOptions) (*VideoJob, error)
}

// backend is the part of the genai client used here
type backend interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateVideos(ctx context.Context, model, prompt string, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error)
	GetVideosOperation(ctx context.Context, op *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error)
}

type genaiBackend struct {
	client *genai.Client
}

func (b *genaiBackend) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return b.client.Models.GenerateContent(ctx, model, contents, config)
}

func (b *genaiBackend) GenerateVideos(ctx context.Context, model, prompt string, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error) {
	return b.client.Models.GenerateVideos(ctx, model, prompt, nil, config)
}

func (b *genaiBackend) GetVideosOperation(ctx context.Context, op *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error) {
	return b.client.Operations.GetVideosOperation(ctx, op, nil)
}

// Client implements Generator on the Gemini API
type Client struct {
	config  Config
	backend backend
	sem     *semaphore.Weighted
	http    *http.Client
	metrics *metrics.Metrics
	logger  *slog.Logger

	active atomic.Int64

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// NewClient creates a Gemini API client. The key is checked here rather
// than assumed valid.
func NewClient(ctx context.Context, config Config, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	config.applyDefaults()

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	c := newClient(config, &genaiBackend{client: gc}, m, logger)
	c.http = httpClient
	return c, nil
}

func newClient(config Config, b backend, m *metrics.Metrics, logger *slog.Logger) *Client {
	config.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:  config,
		backend: b,
		sem:     semaphore.NewWeighted(int64(config.MaxConcurrent)),
		http:    &http.Client{Timeout: config.Timeout},
		metrics: m,
		logger:  logger.With(slog.String("component", "generate")),
	}
}

// do runs fn under the concurrency limit, retrying transient failures with
// exponential backoff
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	c.active.Add(1)
	defer c.active.Add(-1)

	startTime := time.Now()
	c.incrementTotalRequests()

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			c.metrics.RecordGenerateRetry()

			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.config.RetryBackoff
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}

			c.logger.Debug("Retrying request",
				slog.String("operation", op),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.String("error", lastErr.Error()))

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.finish(op, false, startTime)
				return ctx.Err()
			}
		}

		err := fn(ctx)
		if err == nil {
			c.finish(op, true, startTime)
			return nil
		}
		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}

	c.finish(op, false, startTime)
	return fmt.Errorf("%s failed: %w", op, lastErr)
}

func (c *Client) finish(op string, success bool, startTime time.Time) {
	elapsed := time.Since(startTime)
	c.metrics.RecordGenerate(op, success, elapsed.Seconds())

	if success {
		c.incrementSuccessRequests()
		c.updateAvgResponseTime(elapsed)
	} else {
		c.incrementFailedRequests()
	}
}

// isRetryableError reports whether err is worth another attempt: rate
// limiting, server errors and network timeouts
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused")
}

func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	c.totalRequests++
	c.mu.Unlock()
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	c.successRequests++
	c.mu.Unlock()
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	c.failedRequests++
	c.mu.Unlock()
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	c.totalRetries++
	c.mu.Unlock()
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		// Exponential moving average
		c.avgResponseTime = time.Duration(0.9*float64(c.avgResponseTime) + 0.1*float64(responseTime))
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  int(c.active.Load()),
	}
}
