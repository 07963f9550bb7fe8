package devices

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxSnapshotSize bounds a single snapshot response (16MB)
const maxSnapshotSize = 16 * 1024 * 1024

// SnapshotCameraOptions configures a snapshot camera
type SnapshotCameraOptions struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
}

// SnapshotCamera captures stills by fetching a JPEG or PNG snapshot URL
type SnapshotCamera struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// OpenSnapshotCamera validates the URL by taking one snapshot
func OpenSnapshotCamera(ctx context.Context, opts SnapshotCameraOptions) (*SnapshotCamera, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("no camera snapshot URL configured")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &SnapshotCamera{
		url:    opts.URL,
		client: opts.Client,
		logger: opts.Logger.With(slog.String("component", "snapshot_camera")),
	}

	img, err := c.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("camera probe failed: %w", err)
	}

	b := img.Bounds()
	c.logger.Info("Camera acquired",
		slog.String("url", opts.URL),
		slog.Int("width", b.Dx()),
		slog.Int("height", b.Dy()))

	return c, nil
}

// Capture fetches and decodes one snapshot
func (c *SnapshotCamera) Capture(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot request failed with status %d", resp.StatusCode)
	}

	img, format, err := image.Decode(io.LimitReader(resp.Body, maxSnapshotSize))
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	c.logger.Debug("Snapshot captured", slog.String("format", format))
	return img, nil
}

// Close releases idle connections
func (c *SnapshotCamera) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
