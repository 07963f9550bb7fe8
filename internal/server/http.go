package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/gemini-live-service/internal/capture"
	"github.com/skypro1111/gemini-live-service/internal/config"
	"github.com/skypro1111/gemini-live-service/internal/generate"
	"github.com/skypro1111/gemini-live-service/internal/metrics"
	"github.com/skypro1111/gemini-live-service/internal/session"
	"github.com/skypro1111/gemini-live-service/internal/transcript"
)

// Version is reported by / and /health
var Version = "dev"

// ChatFallback is returned when the model produces no text
const ChatFallback = "I couldn't generate a response."

const maxBodyBytes = 1 << 20

// SessionController is the part of session.Controller the API drives
type SessionController interface {
	Start(ctx context.Context, so session.StartOptions) (*session.Status, error)
	Stop() error
	Status() session.Status
	Transcript() []transcript.Entry
}

// VideoDownloader is implemented by generators that can fetch finished videos
type VideoDownloader interface {
	Download(ctx context.Context, video *generate.Video, w io.Writer) (int64, error)
}

// Options wires the HTTP API to the rest of the service
type Options struct {
	HTTP    config.HTTPConfig
	Config  *config.Config
	Session SessionController

	// Generator may be nil when no API key is configured; generate
	// endpoints then answer 503
	Generator generate.Generator

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// HTTPServer provides the control API for the live session
type HTTPServer struct {
	server    *http.Server
	logger    *slog.Logger
	config    *config.Config
	session   SessionController
	generator generate.Generator
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer

	// Video jobs outlive the request that started them
	jobsCtx    context.Context
	cancelJobs context.CancelFunc
	jobs       map[string]*generate.VideoJob
	jobsMu     sync.RWMutex

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(opts Options) *HTTPServer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	jobsCtx, cancel := context.WithCancel(context.Background())
	h := &HTTPServer{
		logger:     logger.With(slog.String("component", "http")),
		config:     opts.Config,
		session:    opts.Session,
		generator:  opts.Generator,
		metrics:    opts.Metrics,
		gatherer:   gatherer,
		jobsCtx:    jobsCtx,
		cancelJobs: cancel,
		jobs:       make(map[string]*generate.VideoJob),
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", opts.HTTP.Address, opts.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler, for tests and embedding
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Live session control
	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))
	mux.HandleFunc("/session/start", h.withMetrics("/session/start", h.handleSessionStart))
	mux.HandleFunc("/session/stop", h.withMetrics("/session/stop", h.handleSessionStop))
	mux.HandleFunc("/session/transcript", h.withMetrics("/session/transcript", h.handleTranscript))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Request/response generation
	mux.HandleFunc("/generate/chat", h.withMetrics("/generate/chat", h.handleChat))
	mux.HandleFunc("/generate/image", h.withMetrics("/generate/image", h.handleImage))
	mux.HandleFunc("/generate/video", h.withMetrics("/generate/video", h.handleVideo))
	mux.HandleFunc("/generate/video/", h.withMetrics("/generate/video/{id}", h.handleVideoJob))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server and abandons pending video jobs
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	h.cancelJobs()
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error":  message,
		"status": status,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.session.Status()

	generateComponent := map[string]any{"status": "disabled"}
	if client, ok := h.generator.(*generate.Client); ok && client != nil {
		stats := client.GetStats()
		generateComponent = map[string]any{
			"status":          "ready",
			"total_requests":  stats.TotalRequests,
			"success_rate":    stats.SuccessRate,
			"active_requests": stats.ActiveRequests,
		}
	} else if h.generator != nil {
		generateComponent["status"] = "ready"
	}

	h.jobsMu.RLock()
	videoJobs := len(h.jobs)
	h.jobsMu.RUnlock()

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "gemini-live-service",
			"version": Version,
		},
		"components": map[string]any{
			"session": map[string]any{
				"state":      status.State,
				"session_id": status.SessionID,
				"last_error": status.LastError,
			},
			"generate":   generateComponent,
			"video_jobs": videoJobs,
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleSession implements the /session endpoint
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.session.Status())
}

type startRequest struct {
	Camera bool `json:"camera"`
}

// handleSessionStart implements POST /session/start
func (h *HTTPServer) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := h.session.Start(r.Context(), session.StartOptions{Camera: req.Camera})
	if err != nil {
		code, message := startFailure(err)
		h.logger.Warn("Session start rejected",
			slog.Int("status", code),
			slog.String("error", err.Error()))
		writeError(w, code, message)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// startFailure maps a start error to a status code and a message the
// caller can act on
func startFailure(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrSessionBusy):
		return http.StatusConflict, "A live session is already running; stop it before starting another"
	case errors.Is(err, capture.ErrDeviceAcquisition):
		return http.StatusFailedDependency, fmt.Sprintf("Could not access the microphone or camera: %v", err)
	case errors.Is(err, session.ErrMissingAPIKey):
		return http.StatusPreconditionFailed, "No API key configured; set GEMINI_API_KEY or live.api_key"
	case errors.Is(err, session.ErrStartAborted):
		return http.StatusConflict, "Session start was cancelled"
	default:
		return http.StatusBadGateway, fmt.Sprintf("Failed to start live session: %v", err)
	}
}

// handleSessionStop implements POST /session/stop
func (h *HTTPServer) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.session.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.session.Status())
}

// handleTranscript implements GET /session/transcript
func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries := h.session.Transcript()
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.String())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"lines":   lines,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.config == nil {
		writeError(w, http.StatusNotFound, "no configuration loaded")
		return
	}

	writeJSON(w, http.StatusOK, h.config.Sanitized())
}

// requireGenerator answers 503 when generation is not configured
func (h *HTTPServer) requireGenerator(w http.ResponseWriter) bool {
	if h.generator == nil {
		writeError(w, http.StatusServiceUnavailable, generate.ErrMissingAPIKey.Error()+"; set GEMINI_API_KEY or generate.api_key")
		return false
	}
	return true
}

// generateFailure maps a generate error to a status code
func generateFailure(err error) int {
	switch {
	case errors.Is(err, generate.ErrEmptyPrompt), errors.Is(err, generate.ErrInvalidAspectRatio):
		return http.StatusBadRequest
	case errors.Is(err, generate.ErrMissingAPIKey):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

type chatRequest struct {
	History []generate.Message `json:"history"`
	Prompt  string             `json:"prompt"`
}

// handleChat implements POST /generate/chat
func (h *HTTPServer) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.requireGenerator(w) {
		return
	}

	var req chatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := h.generator.Chat(r.Context(), req.History, req.Prompt)
	if errors.Is(err, generate.ErrEmptyResponse) {
		reply, err = ChatFallback, nil
	}
	if err != nil {
		h.logger.Warn("Chat failed", slog.String("error", err.Error()))
		writeError(w, generateFailure(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"role": generate.RoleModel,
		"text": reply,
	})
}

type imageRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
}

// handleImage implements POST /generate/image. The image is returned as a
// data URL.
func (h *HTTPServer) handleImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.requireGenerator(w) {
		return
	}

	var req imageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	img, err := h.generator.Image(r.Context(), req.Prompt, req.AspectRatio)
	if err != nil {
		h.logger.Warn("Image generation failed", slog.String("error", err.Error()))
		writeError(w, generateFailure(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"prompt":    img.Prompt,
		"mime_type": img.MIMEType,
		"url":       "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
	})
}

type videoRequest struct {
	Prompt      string `json:"prompt"`
	Resolution  string `json:"resolution"`
	AspectRatio string `json:"aspect_ratio"`
}

// handleVideo implements POST /generate/video. The job is polled in the
// background; its status is served at /generate/video/{id}.
func (h *HTTPServer) handleVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.requireGenerator(w) {
		return
	}

	var req videoRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.generator.Video(r.Context(), req.Prompt, generate.VideoOptions{
		Resolution:  req.Resolution,
		AspectRatio: req.AspectRatio,
	})
	if err != nil {
		h.logger.Warn("Video generation failed to start", slog.String("error", err.Error()))
		writeError(w, generateFailure(err), err.Error())
		return
	}

	id := uuid.NewString()
	h.jobsMu.Lock()
	h.jobs[id] = job
	h.jobsMu.Unlock()

	go func() {
		// Errors are kept on the job and surfaced through its status
		_, _ = job.Wait(h.jobsCtx)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     id,
		"status": job.Status(),
	})
}

// handleVideoJob implements GET /generate/video/{id} and
// GET /generate/video/{id}/content
func (h *HTTPServer) handleVideoJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/generate/video/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	h.jobsMu.RLock()
	job, exists := h.jobs[id]
	h.jobsMu.RUnlock()
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	status := job.Status()

	switch sub {
	case "":
		writeJSON(w, http.StatusOK, map[string]any{
			"id":     id,
			"status": status,
		})
	case "content":
		h.serveVideo(w, r, status)
	default:
		http.NotFound(w, r)
	}
}

func (h *HTTPServer) serveVideo(w http.ResponseWriter, r *http.Request, status generate.VideoStatus) {
	if !status.Done || status.Video == nil {
		writeError(w, http.StatusConflict, "video is not ready")
		return
	}

	downloader, ok := h.generator.(VideoDownloader)
	if !ok {
		writeError(w, http.StatusNotImplemented, "video download is not supported")
		return
	}

	mimeType := status.Video.MIMEType
	if mimeType == "" {
		mimeType = "video/mp4"
	}
	w.Header().Set("Content-Type", mimeType)

	if _, err := downloader.Download(r.Context(), status.Video, w); err != nil {
		// Headers may already be sent
		h.logger.Warn("Video download failed", slog.String("error", err.Error()))
	}
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]any{
		"service": "Gemini Live Session Service",
		"version": Version,
		"endpoints": map[string]any{
			"GET /":                            "API documentation",
			"GET /health":                      "Service health check",
			"GET /session":                     "Live session status",
			"POST /session/start":              "Start the live session ({\"camera\": bool})",
			"POST /session/stop":               "Stop the live session",
			"GET /session/transcript":          "Recent transcript lines",
			"GET /config":                      "Service configuration without secrets",
			"POST /generate/chat":              "Chat reply ({\"history\": [...], \"prompt\": string})",
			"POST /generate/image":             "Generate an image ({\"prompt\", \"aspect_ratio\"})",
			"POST /generate/video":             "Start a video job ({\"prompt\", \"resolution\", \"aspect_ratio\"})",
			"GET /generate/video/{id}":         "Video job status",
			"GET /generate/video/{id}/content": "Download a finished video",
			"GET /metrics":                     "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
