package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

// ErrNoVideo is returned when a finished operation carries no video
var ErrNoVideo = errors.New("operation finished without a video")

// VideoResolutions and VideoAspectRatios list accepted video options
var (
	VideoResolutions  = []string{"720p", "1080p"}
	VideoAspectRatios = []string{"16:9", "9:16"}
)

// VideoOptions selects the output format
type VideoOptions struct {
	Resolution  string `json:"resolution"`
	AspectRatio string `json:"aspect_ratio"`
}

// Video is a finished generation
type Video struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mime_type,omitempty"`
}

// VideoStatus is a snapshot of a job
type VideoStatus struct {
	Operation string    `json:"operation"`
	Prompt    string    `json:"prompt"`
	Done      bool      `json:"done"`
	Video     *Video    `json:"video,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Polls     int       `json:"polls"`
}

// VideoJob tracks a long-running video generation
type VideoJob struct {
	client *Client
	prompt string

	mu      sync.Mutex
	op      *genai.GenerateVideosOperation
	started time.Time
	polls   int
	video   *Video
	err     error
	done    bool
}

// Video starts a video generation and returns without waiting for it
func (c *Client) Video(ctx context.Context, prompt string, opts VideoOptions) (*VideoJob, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if opts.Resolution == "" {
		opts.Resolution = "720p"
	}
	if opts.AspectRatio == "" {
		opts.AspectRatio = "16:9"
	}
	if !validAspectRatio(opts.Resolution, VideoResolutions) {
		return nil, fmt.Errorf("unsupported resolution: %s", opts.Resolution)
	}
	if !validAspectRatio(opts.AspectRatio, VideoAspectRatios) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAspectRatio, opts.AspectRatio)
	}

	config := &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
		Resolution:     opts.Resolution,
		AspectRatio:    opts.AspectRatio,
	}

	var op *genai.GenerateVideosOperation
	err := c.do(ctx, OpVideo, func(ctx context.Context) error {
		var err error
		op, err = c.backend.GenerateVideos(ctx, c.config.VideoModel, prompt, config)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Video generation started",
		slog.String("operation", op.Name),
		slog.String("resolution", opts.Resolution),
		slog.String("aspect_ratio", opts.AspectRatio))

	job := &VideoJob{client: c, prompt: prompt, op: op, started: time.Now()}
	if op.Done {
		job.settle()
	}
	return job, nil
}

// Wait polls the operation every PollInterval until it finishes
func (j *VideoJob) Wait(ctx context.Context) (*Video, error) {
	ticker := time.NewTicker(j.client.config.PollInterval)
	defer ticker.Stop()

	for {
		j.mu.Lock()
		if j.done {
			video, err := j.video, j.err
			j.mu.Unlock()
			return video, err
		}
		op := j.op
		j.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		var next *genai.GenerateVideosOperation
		err := j.client.do(ctx, OpPoll, func(ctx context.Context) error {
			var err error
			next, err = j.client.backend.GetVideosOperation(ctx, op)
			return err
		})
		if err != nil {
			j.finish(nil, err)
			return nil, err
		}

		j.mu.Lock()
		j.op = next
		j.polls++
		j.mu.Unlock()

		if next.Done {
			j.settle()
		}
	}
}

// settle records the result of a finished operation
func (j *VideoJob) settle() {
	j.mu.Lock()
	op := j.op
	j.mu.Unlock()

	if len(op.Error) > 0 {
		j.finish(nil, fmt.Errorf("video generation failed: %v", op.Error["message"]))
		return
	}

	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 ||
		op.Response.GeneratedVideos[0].Video == nil || op.Response.GeneratedVideos[0].Video.URI == "" {
		j.finish(nil, ErrNoVideo)
		return
	}

	v := op.Response.GeneratedVideos[0].Video
	j.finish(&Video{URI: v.URI, MIMEType: v.MIMEType}, nil)
}

func (j *VideoJob) finish(video *Video, err error) {
	j.mu.Lock()
	j.done = true
	j.video = video
	j.err = err
	elapsed := time.Since(j.started)
	name := j.op.Name
	j.mu.Unlock()

	if err != nil {
		j.client.logger.Warn("Video generation failed",
			slog.String("operation", name),
			slog.String("error", err.Error()))
		return
	}
	j.client.logger.Info("Video generation finished",
		slog.String("operation", name),
		slog.Duration("elapsed", elapsed))
}

// Status returns the job state without polling
func (j *VideoJob) Status() VideoStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	status := VideoStatus{
		Prompt:    j.prompt,
		Done:      j.done,
		Video:     j.video,
		StartedAt: j.started,
		Polls:     j.polls,
	}
	if j.op != nil {
		status.Operation = j.op.Name
	}
	if j.err != nil {
		status.Error = j.err.Error()
	}
	return status
}

// DownloadURL returns the video URI with the API key attached
func (c *Client) DownloadURL(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid video uri: %w", err)
	}
	q := u.Query()
	q.Set("key", c.config.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Download streams a finished video into w
func (c *Client) Download(ctx context.Context, video *Video, w io.Writer) (int64, error) {
	if video == nil || video.URI == "" {
		return 0, ErrNoVideo
	}

	link, err := c.DownloadURL(video.URI)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create download request: %w", err)
	}

	// No client timeout; ctx bounds the transfer
	client := &http.Client{Transport: c.http.Transport}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("video download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("video download failed with status %d", resp.StatusCode)
	}

	return io.Copy(w, resp.Body)
}
