package devices

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/skypro1111/gemini-live-service/internal/audio"
	"github.com/skypro1111/gemini-live-service/internal/protocol"
)

func listen(t *testing.T, frameSamples int) (*UDPMicrophone, *net.UDPConn) {
	t.Helper()

	mic, err := ListenUDPMicrophone(UDPMicrophoneOptions{
		Address:        "127.0.0.1:0",
		FrameSamples:   frameSamples,
		AcquireTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("ListenUDPMicrophone() error: %v", err)
	}
	t.Cleanup(func() { mic.Close() })

	agent, err := net.DialUDP("udp", nil, mic.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP() error: %v", err)
	}
	t.Cleanup(func() { agent.Close() })

	return mic, agent
}

func sendAudio(t *testing.T, agent *net.UDPConn, streamID, seq uint32, samples []float32) {
	t.Helper()
	packet, err := protocol.BuildAudioPacket(streamID, seq, audio.EncodeAudio(samples))
	if err != nil {
		t.Fatalf("BuildAudioPacket() error: %v", err)
	}
	if _, err := agent.Write(packet); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
}

func constant(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestUDPMicrophone_ReordersIntoFrames(t *testing.T) {
	mic, agent := listen(t, 12)

	sendAudio(t, agent, 7, 0, constant(4, 0.5))
	if err := mic.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady() error: %v", err)
	}

	// Sequence 2 overtakes sequence 1
	sendAudio(t, agent, 7, 2, constant(4, 0.125))
	sendAudio(t, agent, 7, 1, constant(4, 0.25))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	frame, err := mic.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame() error: %v", err)
	}
	if len(frame) != 12 {
		t.Fatalf("Expected 12 samples, got %d", len(frame))
	}
	if frame[0] != 0.5 || frame[4] != 0.25 || frame[8] != 0.125 {
		t.Errorf("Expected packets in sequence order, got %v", frame)
	}

	stats := mic.Stats()
	if stats.PacketsReceived != 3 || stats.ParseErrors != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestUDPMicrophone_DownmixesAnnouncedStereo(t *testing.T) {
	mic, agent := listen(t, 2)

	if _, err := agent.Write(protocol.BuildAnnouncePacket(9, 16000, 2, "usb-mic")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if err := mic.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady() error: %v", err)
	}

	// Interleaved L/R pairs
	sendAudio(t, agent, 9, 0, []float32{0.5, 0, 0.25, 0.25})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	frame, err := mic.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame() error: %v", err)
	}
	if len(frame) != 2 {
		t.Fatalf("Expected 2 mono samples, got %d", len(frame))
	}
	if frame[0] != 0.25 || frame[1] != 0.25 {
		t.Errorf("Expected averaged channels, got %v", frame)
	}
	if name := mic.Stats().DeviceName; name != "usb-mic" {
		t.Errorf("Expected device name usb-mic, got %q", name)
	}
}

func TestUDPMicrophone_IgnoresGarbage(t *testing.T) {
	mic, agent := listen(t, 4)

	if _, err := agent.Write([]byte{0xFF, 0x00}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := mic.WaitReady(ctx); err == nil {
		t.Fatal("Expected garbage not to count as the first datagram")
	}

	deadline := time.Now().Add(time.Second)
	for mic.Stats().ParseErrors == 0 {
		if time.Now().After(deadline) {
			t.Fatal("parse error not counted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOpenUDPMicrophone_SilentAgentFails(t *testing.T) {
	_, err := OpenUDPMicrophone(context.Background(), UDPMicrophoneOptions{
		Address:        "127.0.0.1:0",
		AcquireTimeout: 50 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("Expected acquisition to fail without datagrams")
	}
}

func TestUDPMicrophone_ReadFrameAfterClose(t *testing.T) {
	mic, _ := listen(t, 4)

	if err := mic.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := mic.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}

	if _, err := mic.ReadFrame(context.Background()); !errors.Is(err, ErrMicrophoneClosed) {
		t.Errorf("Expected ErrMicrophoneClosed, got %v", err)
	}
}
