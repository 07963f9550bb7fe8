package devices

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/skypro1111/gemini-live-service/internal/audio"
)

// Speaker kinds
const (
	SpeakerProcess = "process"
	SpeakerWAV     = "wav"
	SpeakerDiscard = "discard"
)

// SpeakerOptions selects and configures the audio output
type SpeakerOptions struct {
	Kind       string   // process, wav or discard
	Command    []string // player command for process; PCM16 LE is written to stdin
	WAVPath    string   // output file for wav
	SampleRate int
	Channels   int
	Logger     *slog.Logger
}

// DefaultPlayerCommand plays raw 24kHz mono PCM16 LE from stdin
func DefaultPlayerCommand(sampleRate, channels int) []string {
	return []string{
		"ffplay", "-hide_banner", "-loglevel", "error",
		"-f", "s16le", "-ar", strconv.Itoa(sampleRate), "-ac", strconv.Itoa(channels),
		"-nodisp", "-autoexit", "-",
	}
}

// OpenSpeaker returns a writer for PCM16 LE output of the configured kind
func OpenSpeaker(opts SpeakerOptions) (io.WriteCloser, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	switch opts.Kind {
	case SpeakerProcess, "":
		command := opts.Command
		if len(command) == 0 {
			command = DefaultPlayerCommand(opts.SampleRate, opts.Channels)
		}
		s, err := StartProcessSpeaker(command, opts.Logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case SpeakerWAV:
		w, err := NewWAVSpeaker(opts.WAVPath, opts.SampleRate, opts.Channels, opts.Logger)
		if err != nil {
			return nil, err
		}
		return w, nil
	case SpeakerDiscard:
		return nopWriteCloser{io.Discard}, nil
	default:
		return nil, fmt.Errorf("unknown speaker kind %q", opts.Kind)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// ProcessSpeaker pipes PCM into an external player process
type ProcessSpeaker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
	logger *slog.Logger

	done      chan struct{}
	waitErr   error
	closeOnce sync.Once
}

// StartProcessSpeaker starts the player command
func StartProcessSpeaker(command []string, logger *slog.Logger) (*ProcessSpeaker, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("empty player command")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(command[0], command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open player stdin: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start player %s: %w", command[0], err)
	}

	s := &ProcessSpeaker{
		cmd:    cmd,
		stdin:  stdin,
		stderr: stderr,
		logger: logger.With(slog.String("component", "process_speaker")),
		done:   make(chan struct{}),
	}

	go func() {
		s.waitErr = cmd.Wait()
		close(s.done)
	}()

	s.logger.Info("Player started",
		slog.String("command", command[0]),
		slog.Int("pid", cmd.Process.Pid))

	return s, nil
}

func (s *ProcessSpeaker) Write(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, fmt.Errorf("player exited: %v", s.waitErr)
	default:
	}
	return s.stdin.Write(p)
}

// Close ends the player's input and waits briefly for it to exit
func (s *ProcessSpeaker) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.stdin.Close()

		select {
		case <-s.done:
		case <-time.After(2 * time.Second):
			_ = s.cmd.Process.Kill()
			<-s.done
		}

		var exitErr *exec.ExitError
		if s.waitErr != nil && !errors.As(s.waitErr, &exitErr) {
			err = s.waitErr
		}
		if s.stderr.Len() > 0 {
			s.logger.Debug("Player output", slog.String("stderr", s.stderr.String()))
		}
		s.logger.Info("Player stopped")
	})
	return err
}

// WAVSpeaker records PCM and writes it as a WAV file on Close
type WAVSpeaker struct {
	path       string
	sampleRate int
	channels   int
	logger     *slog.Logger

	mu     sync.Mutex
	pcm    []byte
	closed bool
}

// NewWAVSpeaker records to path
func NewWAVSpeaker(path string, sampleRate, channels int, logger *slog.Logger) (*WAVSpeaker, error) {
	if path == "" {
		return nil, fmt.Errorf("no WAV output path configured")
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid recording format %d Hz / %d channel(s)", sampleRate, channels)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WAVSpeaker{
		path:       path,
		sampleRate: sampleRate,
		channels:   channels,
		logger:     logger.With(slog.String("component", "wav_speaker")),
	}, nil
}

func (w *WAVSpeaker) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, os.ErrClosed
	}
	w.pcm = append(w.pcm, p...)
	return len(p), nil
}

// Close writes the recording. It is idempotent.
func (w *WAVSpeaker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	// A write may end mid-sample when playback was cut
	pcm := w.pcm[:len(w.pcm)-len(w.pcm)%(2*w.channels)]
	if len(pcm) == 0 {
		w.logger.Info("Nothing recorded", slog.String("path", w.path))
		return nil
	}

	data, err := audio.EncodeWAV(pcm, w.sampleRate, w.channels)
	if err != nil {
		return fmt.Errorf("failed to encode recording: %w", err)
	}
	if err := os.WriteFile(w.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}

	w.logger.Info("Recording saved",
		slog.String("path", w.path),
		slog.Float64("seconds", float64(len(pcm))/float64(2*w.channels*w.sampleRate)))
	return nil
}
