// Command fakelive is a local stand-in for the Gemini Live endpoint. It
// confirms setup, counts incoming media and answers every few seconds of
// microphone audio with a short tone plus transcripts, so the service can be
// exercised without credentials (live.url: ws://127.0.0.1:9000/ws).
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/skypro1111/gemini-live-service/internal/audio"
	"github.com/skypro1111/gemini-live-service/internal/protocol"
)

const (
	inputRate  = 16000
	outputRate = 24000
)

var (
	listenAddr  string
	turnSeconds float64
	toneSeconds float64
	chunkMillis int
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var rootCmd = &cobra.Command{
	Use:          "fakelive",
	Short:        "Local fake of the Gemini Live websocket endpoint",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&listenAddr, "addr", "127.0.0.1:9000", "Listen address")
	rootCmd.Flags().Float64Var(&turnSeconds, "turn", 3, "Seconds of received audio per model turn")
	rootCmd.Flags().Float64Var(&toneSeconds, "tone", 1, "Length of the reply tone in seconds")
	rootCmd.Flags().IntVar(&chunkMillis, "chunk", 250, "Reply audio chunk length in milliseconds")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("Upgrade failed", slog.String("error", err.Error()))
			return
		}
		defer ws.Close()

		s := &fakeSession{ws: ws, logger: logger.With(slog.String("remote", r.RemoteAddr))}
		s.serve()
	})

	logger.Info("Fake live endpoint starting",
		slog.String("url", fmt.Sprintf("ws://%s/ws", listenAddr)))

	server := &http.Server{
		Addr:        listenAddr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}

type fakeSession struct {
	ws     *websocket.Conn
	logger *slog.Logger

	heardBytes  int
	videoFrames int
	turns       int
}

func (s *fakeSession) serve() {
	_, data, err := s.ws.ReadMessage()
	if err != nil {
		s.logger.Warn("No setup received", slog.String("error", err.Error()))
		return
	}

	var setup protocol.SetupMessage
	if err := json.Unmarshal(data, &setup); err != nil || setup.Setup.Model == "" {
		s.logger.Warn("Invalid setup message")
		s.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "setup required"))
		return
	}
	s.logger.Info("Session opened", slog.String("model", setup.Setup.Model))

	if err := s.send(protocol.ServerMessage{SetupComplete: &struct{}{}}); err != nil {
		return
	}

	turnBytes := int(turnSeconds * inputRate * 2)
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			s.logger.Info("Session closed",
				slog.Int("turns", s.turns),
				slog.Int("video_frames", s.videoFrames),
				slog.String("reason", err.Error()))
			return
		}

		var msg protocol.RealtimeInputMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("Unparseable client message", slog.String("error", err.Error()))
			continue
		}

		for _, chunk := range msg.RealtimeInput.MediaChunks {
			switch {
			case strings.HasPrefix(chunk.MIMEType, "audio/"):
				pcm, err := audio.DecodeBase64(chunk.Data)
				if err != nil {
					s.logger.Warn("Bad audio chunk", slog.String("error", err.Error()))
					continue
				}
				s.heardBytes += len(pcm)
			case strings.HasPrefix(chunk.MIMEType, "image/"):
				s.videoFrames++
			}
		}

		if s.heardBytes >= turnBytes {
			heard := float64(s.heardBytes) / (inputRate * 2)
			s.heardBytes = 0
			if err := s.reply(heard); err != nil {
				return
			}
		}
	}
}

// reply sends one model turn: transcripts, the tone in chunks, turnComplete
func (s *fakeSession) reply(heard float64) error {
	s.turns++

	err := s.send(protocol.ServerMessage{ServerContent: &protocol.ServerContent{
		InputTranscription: &protocol.Transcription{Text: fmt.Sprintf("(%.1f seconds of audio)", heard)},
	}})
	if err != nil {
		return err
	}

	pcm := audio.EncodeAudio(tone(440, toneSeconds, outputRate))
	chunkBytes := outputRate * 2 * chunkMillis / 1000
	if chunkBytes <= 0 {
		chunkBytes = len(pcm)
	}

	for off, first := 0, true; off < len(pcm); off, first = off+chunkBytes, false {
		end := min(off+chunkBytes, len(pcm))
		content := &protocol.ServerContent{
			ModelTurn: &protocol.Content{Parts: []protocol.Part{{
				InlineData: &protocol.InlineData{
					MIMEType: fmt.Sprintf("audio/pcm;rate=%d", outputRate),
					Data:     audio.EncodeBase64(pcm[off:end]),
				},
			}}},
		}
		if first {
			content.OutputTranscription = &protocol.Transcription{Text: fmt.Sprintf("Turn %d.", s.turns)}
		}
		if err := s.send(protocol.ServerMessage{ServerContent: content}); err != nil {
			return err
		}
	}

	s.logger.Debug("Turn sent", slog.Int("turn", s.turns), slog.Float64("heard_seconds", heard))
	return s.send(protocol.ServerMessage{ServerContent: &protocol.ServerContent{TurnComplete: true}})
}

func (s *fakeSession) send(msg protocol.ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Warn("Write failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// tone returns a sine wave with short fades to avoid clicks
func tone(freq, seconds float64, rate int) []float32 {
	n := int(seconds * float64(rate))
	fade := rate / 100
	out := make([]float32, n)
	for i := range out {
		gain := 0.3
		if i < fade {
			gain *= float64(i) / float64(fade)
		} else if n-i < fade {
			gain *= float64(n-i) / float64(fade)
		}
		out[i] = float32(gain * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}
