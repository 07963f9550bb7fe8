package main

import (
	"context"
	"log/slog"

	"github.com/skypro1111/gemini-live-service/internal/capture"
	"github.com/skypro1111/gemini-live-service/internal/config"
	"github.com/skypro1111/gemini-live-service/internal/devices"
	"github.com/skypro1111/gemini-live-service/internal/generate"
	"github.com/skypro1111/gemini-live-service/internal/metrics"
	"github.com/skypro1111/gemini-live-service/internal/protocol"
	"github.com/skypro1111/gemini-live-service/internal/session"
	"github.com/skypro1111/gemini-live-service/internal/transport"
	"github.com/skypro1111/gemini-live-service/internal/vad"
)

// sessionOptions maps the configuration onto the session controller and
// its device, transport and speaker collaborators
func sessionOptions(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) session.Options {
	setup := protocol.SetupConfig{
		Model:             cfg.Live.Model,
		Voice:             cfg.Live.Voice,
		SystemInstruction: cfg.Live.SystemInstruction,
		Transcribe:        cfg.Live.Transcribe,
	}

	var vadConfig *vad.Config
	if cfg.VAD.Enabled {
		vadConfig = &vad.Config{
			Threshold:    cfg.VAD.Threshold,
			Ceiling:      cfg.VAD.Ceiling,
			Smoothing:    cfg.VAD.Smoothing,
			HangoverTime: cfg.VAD.GetHangoverDuration(),
		}
	}

	provider := &devices.Provider{
		Microphone: devices.UDPMicrophoneOptions{
			Address:          cfg.Devices.Microphone.Address,
			FrameSamples:     cfg.Audio.FrameSamples,
			SampleRate:       cfg.Audio.InputSampleRate,
			ReadBufferSize:   cfg.Devices.Microphone.BufferSize,
			AcquireTimeout:   cfg.Devices.Microphone.GetAcquireTimeoutDuration(),
			MaxBufferSeconds: cfg.Devices.Microphone.MaxBufferSeconds,
			Metrics:          m,
			Logger:           logger,
		},
		Camera: devices.SnapshotCameraOptions{
			URL:     cfg.Devices.Camera.SnapshotURL,
			Timeout: cfg.Devices.Camera.GetTimeoutDuration(),
			Logger:  logger,
		},
	}

	speaker := devices.SpeakerOptions{
		Kind:       cfg.Devices.Speaker.Kind,
		Command:    cfg.Devices.Speaker.Command,
		WAVPath:    cfg.Devices.Speaker.WAVPath,
		SampleRate: cfg.Audio.OutputSampleRate,
		Channels:   1,
		Logger:     logger,
	}

	dial := session.TransportDialer(transport.Options{
		URL:            cfg.Live.URL,
		APIKey:         cfg.Live.APIKey,
		DialTimeout:    cfg.Live.GetDialTimeoutDuration(),
		PingInterval:   cfg.Live.GetPingIntervalDuration(),
		AudioQueueSize: cfg.Live.AudioQueueSize,
		VideoQueueSize: cfg.Live.VideoQueueSize,
		Logger:         logger,
	})

	return session.Options{
		Config: session.Config{
			Setup: setup,
			Capture: capture.Config{
				FrameSamples:  cfg.Audio.FrameSamples,
				SampleRate:    cfg.Audio.InputSampleRate,
				VideoInterval: cfg.Video.GetIntervalDuration(),
				JPEGQuality:   cfg.Video.JPEGQuality,
				MaxWidth:      cfg.Video.MaxWidth,
			},
			VAD:              vadConfig,
			OutputSampleRate: cfg.Audio.OutputSampleRate,
			SetupTimeout:     cfg.Live.GetSetupTimeoutDuration(),
			MaxDuration:      cfg.Live.GetMaxDuration(),
			TranscriptSize:   cfg.Live.TranscriptSize,
		},
		Devices: provider,
		Dial:    dial,
		NewSink: session.SpeakerSinkFactory(speaker, cfg.Audio.GetPlaybackLead(), logger),
		Metrics: m,
		Logger:  logger,
		OnEnd: func(info session.EndInfo) {
			attrs := []any{
				slog.String("session_id", info.ID),
				slog.String("reason", info.Reason),
				slog.Duration("duration", info.Duration),
			}
			if info.Err != nil {
				attrs = append(attrs, slog.String("error", info.Err.Error()))
				logger.Warn("Live session ended with error", attrs...)
				return
			}
			logger.Info("Live session ended", attrs...)
		},
	}
}

// newGenerator creates the generate client, or returns nil when no API key
// is configured
func newGenerator(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*generate.Client, error) {
	if cfg.Generate.APIKey == "" {
		return nil, nil
	}

	return generate.NewClient(ctx, generate.Config{
		APIKey:        cfg.Generate.APIKey,
		ChatModel:     cfg.Generate.ChatModel,
		ImageModel:    cfg.Generate.ImageModel,
		VideoModel:    cfg.Generate.VideoModel,
		Temperature:   cfg.Generate.Temperature,
		HistoryLimit:  cfg.Generate.HistoryLimit,
		Timeout:       cfg.Generate.GetTimeoutDuration(),
		MaxRetries:    cfg.Generate.MaxRetries,
		MaxConcurrent: cfg.Generate.MaxConcurrent,
		PollInterval:  cfg.Generate.GetPollIntervalDuration(),
	}, m, logger)
}
