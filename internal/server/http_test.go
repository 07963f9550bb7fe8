package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/gemini-live-service/internal/capture"
	"github.com/skypro1111/gemini-live-service/internal/config"
	"github.com/skypro1111/gemini-live-service/internal/generate"
	"github.com/skypro1111/gemini-live-service/internal/metrics"
	"github.com/skypro1111/gemini-live-service/internal/session"
	"github.com/skypro1111/gemini-live-service/internal/transcript"
)

type fakeSession struct {
	mu       sync.Mutex
	startErr error
	started  []session.StartOptions
	stops    int
	state    string
	entries  []transcript.Entry
}

func (f *fakeSession) Start(ctx context.Context, so session.StartOptions) (*session.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.started = append(f.started, so)
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.state = "starting"
	return &session.Status{State: f.state, SessionID: "abc", Camera: so.Camera}, nil
}

func (f *fakeSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stops++
	f.state = "idle"
	return nil
}

func (f *fakeSession) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	state := f.state
	if state == "" {
		state = "idle"
	}
	return session.Status{State: state}
}

func (f *fakeSession) Transcript() []transcript.Entry {
	return f.entries
}

type fakeGenerator struct {
	chatReply string
	chatErr   error
	history   []generate.Message
	image     *generate.Image
	imageErr  error
	videoErr  error
}

func (f *fakeGenerator) Chat(ctx context.Context, history []generate.Message, prompt string) (string, error) {
	f.history = history
	return f.chatReply, f.chatErr
}

func (f *fakeGenerator) Image(ctx context.Context, prompt, aspectRatio string) (*generate.Image, error) {
	if f.imageErr != nil {
		return nil, f.imageErr
	}
	img := *f.image
	img.Prompt = prompt
	return &img, nil
}

func (f *fakeGenerator) Video(ctx context.Context, prompt string, opts generate.VideoOptions) (*generate.VideoJob, error) {
	return nil, f.videoErr
}

func newTestServer(t *testing.T, sess *fakeSession, gen generate.Generator) (*HTTPServer, *prometheus.Registry) {
	t.Helper()

	reg := prometheus.NewRegistry()
	cfg := config.Default()
	cfg.Live.APIKey = "secret-key"

	h := NewHTTPServer(Options{
		HTTP:      cfg.HTTP,
		Config:    &cfg,
		Session:   sess,
		Generator: gen,
		Metrics:   metrics.NewMetrics(reg),
		Gatherer:  reg,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() { h.Stop(context.Background()) })
	return h, reg
}

func do(t *testing.T, h *HTTPServer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestSessionStartStop(t *testing.T) {
	sess := &fakeSession{}
	h, _ := newTestServer(t, sess, nil)

	rec := do(t, h, http.MethodPost, "/session/start", `{"camera": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(sess.started) != 1 || !sess.started[0].Camera {
		t.Errorf("Expected one start with camera, got %+v", sess.started)
	}
	if body := decode(t, rec); body["state"] != "starting" {
		t.Errorf("Expected state starting, got %v", body["state"])
	}

	rec = do(t, h, http.MethodPost, "/session/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if sess.stops != 1 {
		t.Errorf("Expected 1 stop, got %d", sess.stops)
	}

	rec = do(t, h, http.MethodGet, "/session", "")
	if body := decode(t, rec); body["state"] != "idle" {
		t.Errorf("Expected state idle, got %v", body["state"])
	}
}

func TestSessionStartEmptyBody(t *testing.T) {
	sess := &fakeSession{}
	h, _ := newTestServer(t, sess, nil)

	rec := do(t, h, http.MethodPost, "/session/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if len(sess.started) != 1 || sess.started[0].Camera {
		t.Errorf("Expected audio-only start, got %+v", sess.started)
	}
}

func TestSessionStartFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     int
		contains string
	}{
		{
			name:     "busy",
			err:      fmt.Errorf("%w (state active)", session.ErrSessionBusy),
			code:     http.StatusConflict,
			contains: "already running",
		},
		{
			name:     "device",
			err:      &capture.DeviceAcquisitionError{Device: "microphone", Err: errors.New("no datagrams")},
			code:     http.StatusFailedDependency,
			contains: "microphone",
		},
		{
			name:     "missing key",
			err:      fmt.Errorf("failed to open live session: %w", session.ErrMissingAPIKey),
			code:     http.StatusPreconditionFailed,
			contains: "GEMINI_API_KEY",
		},
		{
			name:     "aborted by stop",
			err:      session.ErrStartAborted,
			code:     http.StatusConflict,
			contains: "cancelled",
		},
		{
			name:     "transport",
			err:      errors.New("dial failed"),
			code:     http.StatusBadGateway,
			contains: "dial failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestServer(t, &fakeSession{startErr: tt.err}, nil)

			rec := do(t, h, http.MethodPost, "/session/start", `{}`)
			if rec.Code != tt.code {
				t.Errorf("Expected %d, got %d", tt.code, rec.Code)
			}
			body := decode(t, rec)
			msg, _ := body["error"].(string)
			if !strings.Contains(msg, tt.contains) {
				t.Errorf("Expected error to contain %q, got %q", tt.contains, msg)
			}
		})
	}
}

func TestSessionStartRejectsBadJSON(t *testing.T) {
	h, _ := newTestServer(t, &fakeSession{}, nil)

	rec := do(t, h, http.MethodPost, "/session/start", `{"camera": "yes"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestServer(t, &fakeSession{}, nil)

	for _, path := range []string{"/session/start", "/session/stop", "/generate/chat"} {
		if rec := do(t, h, http.MethodGet, path, ""); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("GET %s: expected 405, got %d", path, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodPost, "/session", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /session: expected 405, got %d", rec.Code)
	}
}

func TestTranscript(t *testing.T) {
	sess := &fakeSession{entries: []transcript.Entry{
		{Speaker: transcript.SpeakerUser, Text: "hello"},
		{Speaker: transcript.SpeakerModel, Text: "hi there"},
	}}
	h, _ := newTestServer(t, sess, nil)

	rec := do(t, h, http.MethodGet, "/session/transcript", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	lines, _ := decode(t, rec)["lines"].([]any)
	if len(lines) != 2 || lines[0] != "You: hello" || lines[1] != "Gemini: hi there" {
		t.Errorf("Unexpected lines %v", lines)
	}
}

func TestConfigIsSanitized(t *testing.T) {
	h, _ := newTestServer(t, &fakeSession{}, nil)

	rec := do(t, h, http.MethodGet, "/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret-key") {
		t.Error("Config response leaks the API key")
	}
}

func TestGenerateDisabledWithoutKey(t *testing.T) {
	h, _ := newTestServer(t, &fakeSession{}, nil)

	for _, path := range []string{"/generate/chat", "/generate/image", "/generate/video"} {
		rec := do(t, h, http.MethodPost, path, `{"prompt": "hi"}`)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, rec.Code)
		}
	}
}

func TestChat(t *testing.T) {
	gen := &fakeGenerator{chatReply: "hello back"}
	h, _ := newTestServer(t, &fakeSession{}, gen)

	body := `{"history": [{"role": "user", "text": "hi"}, {"role": "model", "text": "hey"}], "prompt": "how are you"}`
	rec := do(t, h, http.MethodPost, "/generate/chat", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if text := decode(t, rec)["text"]; text != "hello back" {
		t.Errorf("Expected reply text, got %v", text)
	}
	if len(gen.history) != 2 || gen.history[1].Role != generate.RoleModel {
		t.Errorf("Expected history to be passed through, got %+v", gen.history)
	}
}

func TestChatFallbackOnEmptyResponse(t *testing.T) {
	gen := &fakeGenerator{chatErr: generate.ErrEmptyResponse}
	h, _ := newTestServer(t, &fakeSession{}, gen)

	rec := do(t, h, http.MethodPost, "/generate/chat", `{"prompt": "hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if text := decode(t, rec)["text"]; text != ChatFallback {
		t.Errorf("Expected fallback text, got %v", text)
	}
}

func TestImage(t *testing.T) {
	gen := &fakeGenerator{image: &generate.Image{Data: []byte{1, 2, 3}, MIMEType: "image/png"}}
	h, _ := newTestServer(t, &fakeSession{}, gen)

	rec := do(t, h, http.MethodPost, "/generate/image", `{"prompt": "fox", "aspect_ratio": "1:1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if url := decode(t, rec)["url"]; url != "data:image/png;base64,AQID" {
		t.Errorf("Unexpected data URL %v", url)
	}
}

func TestGenerateErrorMapping(t *testing.T) {
	gen := &fakeGenerator{
		imageErr: fmt.Errorf("%w: 2:1", generate.ErrInvalidAspectRatio),
		videoErr: errors.New("video failed: upstream"),
	}
	h, _ := newTestServer(t, &fakeSession{}, gen)

	if rec := do(t, h, http.MethodPost, "/generate/image", `{"prompt": "fox", "aspect_ratio": "2:1"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid aspect ratio, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/generate/video", `{"prompt": "fox"}`); rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502 for upstream failure, got %d", rec.Code)
	}
}

func TestVideoJobNotFound(t *testing.T) {
	h, _ := newTestServer(t, &fakeSession{}, &fakeGenerator{})

	if rec := do(t, h, http.MethodGet, "/generate/video/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/generate/video/", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestHealthAndRoot(t *testing.T) {
	h, _ := newTestServer(t, &fakeSession{}, nil)

	rec := do(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if status := decode(t, rec)["status"]; status != "healthy" {
		t.Errorf("Expected healthy, got %v", status)
	}

	rec = do(t, h, http.MethodGet, "/", "")
	if _, ok := decode(t, rec)["endpoints"]; !ok {
		t.Error("Expected endpoint listing")
	}

	if rec := do(t, h, http.MethodGet, "/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestServer(t, &fakeSession{}, nil)

	do(t, h, http.MethodGet, "/session", "")
	do(t, h, http.MethodPost, "/session", "")

	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "live_http_requests_total") {
		t.Errorf("Expected HTTP request metric in output")
	}
	if !strings.Contains(body, `endpoint="/session"`) {
		t.Errorf("Expected /session endpoint label in output")
	}
}
