package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the live service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	SessionsStarted *prometheus.CounterVec
	SessionsEnded   *prometheus.CounterVec
	SessionActive   prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Capture metrics
	CaptureFrames         *prometheus.CounterVec
	CaptureDropped        *prometheus.CounterVec
	ChunksSent            *prometheus.CounterVec
	ChunkBytes            *prometheus.HistogramVec
	MicPackets            prometheus.Counter
	MicPacketErrors       prometheus.Counter
	MicPacketsLost        prometheus.Counter
	VoiceActivityFrames   prometheus.Counter
	VoiceActivitySpeaking prometheus.Gauge

	// Transport metrics
	ServerEvents *prometheus.CounterVec

	// Playback metrics
	SegmentsScheduled     prometheus.Counter
	SegmentSeconds        prometheus.Histogram
	PlaybackInterruptions prometheus.Counter
	DecodeErrors          *prometheus.CounterVec

	// Generate metrics
	GenerateRequests *prometheus.CounterVec
	GenerateDuration *prometheus.HistogramVec
	GenerateRetries  prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Session metrics
		SessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "live_sessions_started_total",
			Help: "Total number of live session start attempts by result",
		}, []string{"result"}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "live_sessions_ended_total",
			Help: "Total number of live sessions ended by reason",
		}, []string{"reason"}),
		SessionActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "live_session_active",
			Help: "1 while a live session is starting or active",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "live_session_duration_seconds",
			Help:    "Duration of live sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// Capture metrics
		CaptureFrames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "live_capture_frames_total",
			Help: "Total number of captured frames by kind",
		}, []string{"kind"}),
		CaptureDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "live_capture_dropped_total",
			Help: "Total number of captured frames not sent, by kind and reason",
		}, []string{"kind", "reason"}),
		ChunksSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "live_chunks_sent_total",
			Help: "Total number of media chunks queued to the live session by kind",
		}, []string{"kind"}),
		ChunkBytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "live_chunk_size_bytes",
			Help:    "Size of media chunks sent to the live session",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 10), // 1KB to ~512KB
		}, []string{"kind"}),
		MicPackets: f.NewCounter(prometheus.CounterOpts{
			Name: "live_mic_packets_received_total",
			Help: "Total number of capture agent datagrams received",
		}),
		MicPacketErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "live_mic_packet_errors_total",
			Help: "Total number of capture agent datagrams that failed to parse",
		}),
		MicPacketsLost: f.NewCounter(prometheus.CounterOpts{
			Name: "live_mic_packets_lost_total",
			Help: "Total number of capture agent datagrams declared lost",
		}),
		VoiceActivityFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "live_voice_activity_frames_total",
			Help: "Total number of microphone frames with voice detected",
		}),
		VoiceActivitySpeaking: f.NewGauge(prometheus.GaugeOpts{
			Name: "live_voice_activity_speaking",
			Help: "1 while the user is speaking",
		}),

		// Transport metrics
		ServerEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "live_server_events_total",
			Help: "Total number of server events received by type",
		}, []string{"type"}),

		// Playback metrics
		SegmentsScheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "live_playback_segments_scheduled_total",
			Help: "Total number of audio segments scheduled for playback",
		}),
		SegmentSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "live_playback_segment_seconds",
			Help:    "Duration of scheduled audio segments",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}),
		PlaybackInterruptions: f.NewCounter(prometheus.CounterOpts{
			Name: "live_playback_interruptions_total",
			Help: "Total number of playback interruptions",
		}),
		DecodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "live_audio_decode_errors_total",
			Help: "Total number of inbound audio chunks dropped by error kind",
		}, []string{"kind"}),

		// Generate metrics
		GenerateRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "live_generate_requests_total",
			Help: "Total number of generate requests by operation and result",
		}, []string{"operation", "result"}),
		GenerateDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "live_generate_duration_seconds",
			Help:    "Duration of generate requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
		}, []string{"operation"}),
		GenerateRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "live_generate_retries_total",
			Help: "Total number of generate request retries",
		}),

		// HTTP API metrics
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "live_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "live_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "live_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionStart records a start attempt ("ok", "busy", "device", "transport", ...)
func (m *Metrics) RecordSessionStart(result string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(result).Inc()
	if result == "ok" {
		m.SessionActive.Set(1)
	}
}

// RecordSessionEnd records the end of a session and its duration
func (m *Metrics) RecordSessionEnd(reason string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(reason).Inc()
	m.SessionActive.Set(0)
	m.SessionDuration.Observe(durationSeconds)
}

// RecordCaptureFrame counts a captured frame of kind "audio" or "video"
func (m *Metrics) RecordCaptureFrame(kind string) {
	if m == nil {
		return
	}
	m.CaptureFrames.WithLabelValues(kind).Inc()
}

// RecordCaptureDropped counts a frame that was not sent
func (m *Metrics) RecordCaptureDropped(kind, reason string) {
	if m == nil {
		return
	}
	m.CaptureDropped.WithLabelValues(kind, reason).Inc()
}

// RecordChunkSent counts a media chunk handed to the transport
func (m *Metrics) RecordChunkSent(kind string, sizeBytes int) {
	if m == nil {
		return
	}
	m.ChunksSent.WithLabelValues(kind).Inc()
	m.ChunkBytes.WithLabelValues(kind).Observe(float64(sizeBytes))
}

// RecordMicPacket counts a received capture agent datagram
func (m *Metrics) RecordMicPacket(parseErr bool) {
	if m == nil {
		return
	}
	m.MicPackets.Inc()
	if parseErr {
		m.MicPacketErrors.Inc()
	}
}

// AddMicPacketsLost adds newly lost capture agent datagrams
func (m *Metrics) AddMicPacketsLost(n uint32) {
	if m == nil || n == 0 {
		return
	}
	m.MicPacketsLost.Add(float64(n))
}

// RecordVoiceActivity records the detector outcome of one frame
func (m *Metrics) RecordVoiceActivity(hasVoice, speaking bool) {
	if m == nil {
		return
	}
	if hasVoice {
		m.VoiceActivityFrames.Inc()
	}
	if speaking {
		m.VoiceActivitySpeaking.Set(1)
	} else {
		m.VoiceActivitySpeaking.Set(0)
	}
}

// RecordServerEvent counts an inbound server event by name
func (m *Metrics) RecordServerEvent(name string) {
	if m == nil {
		return
	}
	m.ServerEvents.WithLabelValues(name).Inc()
}

// RecordSegmentScheduled records a scheduled playback segment
func (m *Metrics) RecordSegmentScheduled(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SegmentsScheduled.Inc()
	m.SegmentSeconds.Observe(durationSeconds)
}

// RecordInterruption increments the playback interruptions counter
func (m *Metrics) RecordInterruption() {
	if m == nil {
		return
	}
	m.PlaybackInterruptions.Inc()
}

// RecordDecodeError counts a dropped inbound chunk ("malformed", "truncated")
func (m *Metrics) RecordDecodeError(kind string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(kind).Inc()
}

// RecordGenerate records a finished generate request
func (m *Metrics) RecordGenerate(operation string, success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.GenerateRequests.WithLabelValues(operation, result).Inc()
	m.GenerateDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordGenerateRetry increments the retry counter
func (m *Metrics) RecordGenerateRetry() {
	if m == nil {
		return
	}
	m.GenerateRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
