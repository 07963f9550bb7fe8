package generate

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/genai"
)

type fakeBackend struct {
	mu sync.Mutex

	contentErrs []error
	content     *genai.GenerateContentResponse
	calls       int
	lastModel   string
	lastContent []*genai.Content
	lastConfig  *genai.GenerateContentConfig

	videoOp   *genai.GenerateVideosOperation
	polls     []*genai.GenerateVideosOperation
	pollCalls int
	videoCfg  *genai.GenerateVideosConfig
}

func (f *fakeBackend) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.lastModel = model
	f.lastContent = contents
	f.lastConfig = config
	if len(f.contentErrs) > 0 {
		err := f.contentErrs[0]
		f.contentErrs = f.contentErrs[1:]
		return nil, err
	}
	return f.content, nil
}

func (f *fakeBackend) GenerateVideos(ctx context.Context, model, prompt string, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastModel = model
	f.videoCfg = config
	return f.videoOp, nil
}

func (f *fakeBackend) GetVideosOperation(ctx context.Context, op *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pollCalls++
	if len(f.polls) == 0 {
		return op, nil
	}
	next := f.polls[0]
	f.polls = f.polls[1:]
	return next, nil
}

func textResponse(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Role: genai.RoleModel, Parts: parts}}},
	}
}

func newTestClient(b backend) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	config := Config{
		APIKey:       "test-key",
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		PollInterval: time.Millisecond,
	}
	return newClient(config, b, nil, logger)
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(context.Background(), Config{}, nil, nil)
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Expected ErrMissingAPIKey, got %v", err)
	}
}

func TestDefaultsApplied(t *testing.T) {
	c := newTestClient(&fakeBackend{})

	if c.config.ChatModel != "gemini-3-flash-preview" {
		t.Errorf("Expected default chat model, got %s", c.config.ChatModel)
	}
	if c.config.HistoryLimit != 10 {
		t.Errorf("Expected history limit 10, got %d", c.config.HistoryLimit)
	}
	if c.config.Temperature != 0.7 {
		t.Errorf("Expected temperature 0.7, got %v", c.config.Temperature)
	}
}

func TestChatTrimsHistory(t *testing.T) {
	fb := &fakeBackend{content: textResponse(&genai.Part{Text: "hello there"})}
	c := newTestClient(fb)

	var history []Message
	for i := 0; i < 15; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleModel
		}
		history = append(history, Message{Role: role, Text: strings.Repeat("x", i+1)})
	}

	reply, err := c.Chat(context.Background(), history, "latest")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if reply != "hello there" {
		t.Errorf("Expected reply 'hello there', got %q", reply)
	}

	if len(fb.lastContent) != 10 {
		t.Fatalf("Expected 10 contents, got %d", len(fb.lastContent))
	}
	last := fb.lastContent[len(fb.lastContent)-1]
	if last.Role != string(genai.RoleUser) || last.Parts[0].Text != "latest" {
		t.Errorf("Expected prompt as last user turn, got %s %q", last.Role, last.Parts[0].Text)
	}
	if fb.lastContent[0].Parts[0].Text != strings.Repeat("x", 7) {
		t.Errorf("Expected oldest kept turn to be history[6], got %q", fb.lastContent[0].Parts[0].Text)
	}
	if fb.lastModel != "gemini-3-flash-preview" {
		t.Errorf("Expected chat model, got %s", fb.lastModel)
	}
	if fb.lastConfig.Temperature == nil || *fb.lastConfig.Temperature != 0.7 {
		t.Error("Expected temperature 0.7 in request config")
	}
}

func TestBuildContentsRoles(t *testing.T) {
	history := []Message{
		{Role: RoleUser, Text: "hi"},
		{Role: RoleModel, Text: "hello"},
		{Role: RoleModel, Text: ""},
		{Role: RoleUser, Text: "draw a cat"},
		{Role: RoleModel, Text: "done"},
	}

	contents := buildContents(history, "thanks", 0)

	want := []struct {
		role string
		text string
	}{
		{"user", "hi"},
		{"model", "hello"},
		{"user", "draw a cat"},
		{"model", "done"},
		{"user", "thanks"},
	}
	if len(contents) != len(want) {
		t.Fatalf("Expected %d contents, got %d", len(want), len(contents))
	}
	for i, w := range want {
		if contents[i].Role != w.role || contents[i].Parts[0].Text != w.text {
			t.Errorf("Content %d: expected %s %q, got %s %q",
				i, w.role, w.text, contents[i].Role, contents[i].Parts[0].Text)
		}
	}
}

func TestChatSkipsThoughts(t *testing.T) {
	fb := &fakeBackend{content: textResponse(
		&genai.Part{Text: "thinking...", Thought: true},
		&genai.Part{Text: "answer"},
	)}
	c := newTestClient(fb)

	reply, err := c.Chat(context.Background(), nil, "question")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if reply != "answer" {
		t.Errorf("Expected 'answer', got %q", reply)
	}
}

func TestChatValidation(t *testing.T) {
	fb := &fakeBackend{content: textResponse()}
	c := newTestClient(fb)

	if _, err := c.Chat(context.Background(), nil, "   "); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("Expected ErrEmptyPrompt, got %v", err)
	}
	if fb.calls != 0 {
		t.Errorf("Expected no backend calls for empty prompt, got %d", fb.calls)
	}

	if _, err := c.Chat(context.Background(), nil, "hi"); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Expected ErrEmptyResponse, got %v", err)
	}
}

func TestRetryOnServerError(t *testing.T) {
	fb := &fakeBackend{
		contentErrs: []error{genai.APIError{Code: 503, Message: "unavailable"}},
		content:     textResponse(&genai.Part{Text: "ok"}),
	}
	c := newTestClient(fb)

	reply, err := c.Chat(context.Background(), nil, "hi")
	if err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if reply != "ok" {
		t.Errorf("Expected 'ok', got %q", reply)
	}
	if fb.calls != 2 {
		t.Errorf("Expected 2 calls, got %d", fb.calls)
	}

	stats := c.GetStats()
	if stats.TotalRetries != 1 {
		t.Errorf("Expected 1 retry, got %d", stats.TotalRetries)
	}
	if stats.SuccessRequests != 1 {
		t.Errorf("Expected 1 successful request, got %d", stats.SuccessRequests)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	fb := &fakeBackend{
		contentErrs: []error{genai.APIError{Code: 400, Message: "bad request"}},
		content:     textResponse(&genai.Part{Text: "never"}),
	}
	c := newTestClient(fb)

	_, err := c.Chat(context.Background(), nil, "hi")
	if err == nil {
		t.Fatal("Expected error for 400 response")
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 400 {
		t.Errorf("Expected wrapped APIError 400, got %v", err)
	}
	if fb.calls != 1 {
		t.Errorf("Expected 1 call, got %d", fb.calls)
	}
	if stats := c.GetStats(); stats.FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %d", stats.FailedRequests)
	}
}

func TestRetriesExhausted(t *testing.T) {
	fb := &fakeBackend{contentErrs: []error{
		genai.APIError{Code: 429},
		genai.APIError{Code: 429},
		genai.APIError{Code: 429},
	}}
	c := newTestClient(fb)

	if _, err := c.Chat(context.Background(), nil, "hi"); err == nil {
		t.Fatal("Expected error after retries")
	}
	if fb.calls != 3 {
		t.Errorf("Expected 3 calls (1 + 2 retries), got %d", fb.calls)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", genai.APIError{Code: 429}, true},
		{"server error", genai.APIError{Code: 500}, true},
		{"bad request", genai.APIError{Code: 400}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	fb := &fakeBackend{content: textResponse(
		&genai.Part{Text: "here is your image"},
		&genai.Part{InlineData: &genai.Blob{Data: png, MIMEType: "image/png"}},
	)}
	c := newTestClient(fb)

	img, err := c.Image(context.Background(), "a red fox", "16:9")
	if err != nil {
		t.Fatalf("Image failed: %v", err)
	}
	if !bytes.Equal(img.Data, png) {
		t.Errorf("Expected image bytes %v, got %v", png, img.Data)
	}
	if img.MIMEType != "image/png" {
		t.Errorf("Expected image/png, got %s", img.MIMEType)
	}
	if fb.lastModel != "gemini-2.5-flash-image" {
		t.Errorf("Expected image model, got %s", fb.lastModel)
	}
	if fb.lastConfig.ImageConfig == nil || fb.lastConfig.ImageConfig.AspectRatio != "16:9" {
		t.Error("Expected aspect ratio 16:9 in request config")
	}
}

func TestImageValidation(t *testing.T) {
	c := newTestClient(&fakeBackend{content: textResponse(&genai.Part{Text: "no image"})})

	if _, err := c.Image(context.Background(), "fox", "2:1"); !errors.Is(err, ErrInvalidAspectRatio) {
		t.Errorf("Expected ErrInvalidAspectRatio, got %v", err)
	}
	if _, err := c.Image(context.Background(), "fox", ""); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Expected ErrEmptyResponse for text-only reply, got %v", err)
	}
}

func TestVideoPolling(t *testing.T) {
	fb := &fakeBackend{
		videoOp: &genai.GenerateVideosOperation{Name: "operations/1"},
		polls: []*genai.GenerateVideosOperation{
			{Name: "operations/1"},
			{
				Name: "operations/1",
				Done: true,
				Response: &genai.GenerateVideosResponse{
					GeneratedVideos: []*genai.GeneratedVideo{
						{Video: &genai.Video{URI: "https://example.com/v.mp4?alt=media", MIMEType: "video/mp4"}},
					},
				},
			},
		},
	}
	c := newTestClient(fb)

	job, err := c.Video(context.Background(), "a timelapse", VideoOptions{})
	if err != nil {
		t.Fatalf("Video failed: %v", err)
	}
	if fb.videoCfg.Resolution != "720p" || fb.videoCfg.AspectRatio != "16:9" {
		t.Errorf("Expected 720p 16:9 defaults, got %s %s", fb.videoCfg.Resolution, fb.videoCfg.AspectRatio)
	}
	if job.Status().Done {
		t.Error("Expected job to be pending before Wait")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	video, err := job.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if video.URI != "https://example.com/v.mp4?alt=media" {
		t.Errorf("Unexpected video URI %s", video.URI)
	}

	status := job.Status()
	if !status.Done || status.Polls != 2 {
		t.Errorf("Expected done after 2 polls, got done=%v polls=%d", status.Done, status.Polls)
	}
}

func TestVideoOperationError(t *testing.T) {
	fb := &fakeBackend{
		videoOp: &genai.GenerateVideosOperation{
			Name:  "operations/2",
			Done:  true,
			Error: map[string]any{"code": 3, "message": "prompt rejected"},
		},
	}
	c := newTestClient(fb)

	job, err := c.Video(context.Background(), "something", VideoOptions{})
	if err != nil {
		t.Fatalf("Video failed: %v", err)
	}

	_, err = job.Wait(context.Background())
	if err == nil || !strings.Contains(err.Error(), "prompt rejected") {
		t.Errorf("Expected operation error, got %v", err)
	}
	if fb.pollCalls != 0 {
		t.Errorf("Expected no polls for a finished operation, got %d", fb.pollCalls)
	}
	if job.Status().Error == "" {
		t.Error("Expected error in job status")
	}
}

func TestVideoValidation(t *testing.T) {
	c := newTestClient(&fakeBackend{})

	if _, err := c.Video(context.Background(), "x", VideoOptions{AspectRatio: "1:1"}); !errors.Is(err, ErrInvalidAspectRatio) {
		t.Errorf("Expected ErrInvalidAspectRatio, got %v", err)
	}
	if _, err := c.Video(context.Background(), "x", VideoOptions{Resolution: "4k"}); err == nil {
		t.Error("Expected error for unsupported resolution")
	}
}

func TestDownload(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		w.Write([]byte("mp4data"))
	}))
	defer server.Close()

	c := newTestClient(&fakeBackend{})

	var buf bytes.Buffer
	n, err := c.Download(context.Background(), &Video{URI: server.URL + "/file?alt=media"}, &buf)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if n != 7 || buf.String() != "mp4data" {
		t.Errorf("Expected 7 bytes of mp4data, got %d %q", n, buf.String())
	}
	if gotKey != "test-key" {
		t.Errorf("Expected key query parameter, got %q", gotKey)
	}

	if _, err := c.Download(context.Background(), nil, &buf); !errors.Is(err, ErrNoVideo) {
		t.Errorf("Expected ErrNoVideo, got %v", err)
	}
}
