package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/skypro1111/gemini-live-service/internal/devices"
	"github.com/skypro1111/gemini-live-service/internal/playback"
	"github.com/skypro1111/gemini-live-service/internal/protocol"
	"github.com/skypro1111/gemini-live-service/internal/transport"
)

// ErrMissingAPIKey is returned when dialing the hosted endpoint without a key
var ErrMissingAPIKey = errors.New("no API key configured for the live endpoint")

// TransportDialer dials with transport.Open. The setup passed per session
// replaces opts.Setup.
func TransportDialer(opts transport.Options) Dialer {
	return func(ctx context.Context, setup protocol.SetupConfig) (Connection, error) {
		if opts.APIKey == "" && (opts.URL == "" || opts.URL == transport.DefaultURL) {
			return nil, ErrMissingAPIKey
		}

		o := opts
		o.Setup = setup
		conn, err := transport.Open(ctx, o)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// SpeakerSinkFactory opens a fresh speaker per session and paces PCM into it
func SpeakerSinkFactory(speaker devices.SpeakerOptions, lead time.Duration, logger *slog.Logger) SinkFactory {
	return func(clock playback.Clock) (playback.Sink, error) {
		out, err := devices.OpenSpeaker(speaker)
		if err != nil {
			return nil, err
		}
		return playback.NewDeviceSink(out, playback.DeviceSinkOptions{
			Clock:  clock,
			Lead:   lead,
			Logger: logger,
		}), nil
	}
}
