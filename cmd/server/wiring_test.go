package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/skypro1111/gemini-live-service/internal/config"
	"github.com/skypro1111/gemini-live-service/internal/session"
)

func TestSessionOptionsFromDefaults(t *testing.T) {
	cfg := config.Default()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	opts := sessionOptions(&cfg, nil, logger)

	if opts.Config.Capture.FrameSamples != 4096 {
		t.Errorf("Expected 4096 frame samples, got %d", opts.Config.Capture.FrameSamples)
	}
	if opts.Config.OutputSampleRate != 24000 {
		t.Errorf("Expected 24000 output rate, got %d", opts.Config.OutputSampleRate)
	}
	if opts.Config.VAD == nil {
		t.Error("Expected VAD config when enabled")
	}

	ctrl, err := session.NewController(opts)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if ctrl.Phase() != session.Idle {
		t.Errorf("Expected idle controller, got %s", ctrl.Phase())
	}
}

func TestSessionOptionsVADDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.VAD.Enabled = false

	opts := sessionOptions(&cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if opts.Config.VAD != nil {
		t.Error("Expected no VAD config when disabled")
	}
}

func TestNewGeneratorWithoutKey(t *testing.T) {
	cfg := config.Default()

	client, err := newGenerator(context.Background(), &cfg, nil, slog.Default())
	if err != nil {
		t.Fatalf("Expected no error without key, got %v", err)
	}
	if client != nil {
		t.Error("Expected nil client without key")
	}
}

func TestStartWithoutKeyFails(t *testing.T) {
	cfg := config.Default()
	cfg.Devices.Speaker.Kind = "discard"

	opts := sessionOptions(&cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := opts.Dial(context.Background(), opts.Config.Setup)
	if !errors.Is(err, session.ErrMissingAPIKey) {
		t.Errorf("Expected ErrMissingAPIKey, got %v", err)
	}
}
