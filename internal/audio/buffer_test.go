package audio

import (
	"errors"
	"testing"
	"time"
)

// packet builds a mono PCM packet whose every sample carries the sequence number
func packet(seq uint32, samples int) []byte {
	data := make([]byte, samples*2)
	for i := 0; i < len(data); i += 2 {
		data[i] = byte(seq % 256)
		data[i+1] = byte(seq / 256)
	}
	return data
}

func TestNewBuffer(t *testing.T) {
	buffer := NewBuffer(16000, 1, 2)

	if buffer == nil {
		t.Fatal("NewBuffer returned nil")
	}

	if buffer.SampleRate() != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", buffer.SampleRate())
	}

	if buffer.Size() != 0 {
		t.Errorf("Expected initial size 0, got %d", buffer.Size())
	}

	if buffer.maxPending != 16000*2*2 {
		t.Errorf("Expected max pending %d, got %d", 16000*2*2, buffer.maxPending)
	}
}

func TestBufferAdd(t *testing.T) {
	buffer := NewBuffer(16000, 1, 2)
	initialTime := buffer.LastUpdate()

	time.Sleep(10 * time.Millisecond)

	if err := buffer.Add(100, packet(100, 160)); err != nil {
		t.Fatalf("Failed to add audio data: %v", err)
	}

	if !buffer.LastUpdate().After(initialTime) {
		t.Error("Expected last update time to be updated")
	}

	if buffer.Size() != 160 {
		t.Errorf("Expected 160 samples, got %d", buffer.Size())
	}

	stats := buffer.Stats()
	if stats.TotalPackets != 1 {
		t.Errorf("Expected 1 total packet, got %d", stats.TotalPackets)
	}
	if stats.LastSequence != 100 {
		t.Errorf("Expected last sequence 100, got %d", stats.LastSequence)
	}
}

func TestBufferRejectsPartialFrames(t *testing.T) {
	tests := []struct {
		name     string
		channels int
		size     int
		wantErr  bool
	}{
		{"mono even", 1, 4, false},
		{"mono odd", 1, 3, true},
		{"stereo whole frame", 2, 8, false},
		{"stereo half frame", 2, 6, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buffer := NewBuffer(16000, tt.channels, 1)
			err := buffer.Add(1, make([]byte, tt.size))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Add() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrTruncatedBuffer) {
				t.Errorf("Expected ErrTruncatedBuffer, got %v", err)
			}
		})
	}
}

func TestSequenceOrdering(t *testing.T) {
	buffer := NewBuffer(16000, 1, 2)

	// 1, 3, 2, 4
	if err := buffer.Add(1, packet(1, 80)); err != nil {
		t.Fatalf("Failed to add packet 1: %v", err)
	}
	if err := buffer.Add(3, packet(3, 80)); err != nil {
		t.Fatalf("Failed to add packet 3: %v", err)
	}

	if buffer.Size() != 80 {
		t.Errorf("Expected 80 samples after packets 1,3, got %d", buffer.Size())
	}

	if err := buffer.Add(2, packet(2, 80)); err != nil {
		t.Fatalf("Failed to add packet 2: %v", err)
	}
	if buffer.Size() != 240 {
		t.Errorf("Expected 240 samples after reordering, got %d", buffer.Size())
	}

	if err := buffer.Add(4, packet(4, 80)); err != nil {
		t.Fatalf("Failed to add packet 4: %v", err)
	}

	frame, ok := buffer.PopFrame(320)
	if !ok {
		t.Fatal("Expected a full frame")
	}
	for i := 0; i < 4; i++ {
		got := frame[i*160]
		if got != byte(i+1) {
			t.Errorf("Packet %d out of order: first byte %d", i+1, got)
		}
	}
}

func TestDuplicatePacketsIgnored(t *testing.T) {
	buffer := NewBuffer(16000, 1, 2)

	_ = buffer.Add(1, packet(1, 10))
	_ = buffer.Add(2, packet(2, 10))

	if err := buffer.Add(1, packet(1, 10)); err == nil {
		t.Error("Expected error for duplicate packet")
	}

	if buffer.Size() != 20 {
		t.Errorf("Expected 20 samples, got %d", buffer.Size())
	}
	if buffer.Stats().Duplicates != 1 {
		t.Errorf("Expected 1 duplicate, got %d", buffer.Stats().Duplicates)
	}
}

func TestLargeGapMarksLoss(t *testing.T) {
	buffer := NewBuffer(16000, 1, 2)

	_ = buffer.Add(1, packet(1, 10))
	_ = buffer.Add(5, packet(5, 10))

	// Gap of 3 is within maxGap, packet 5 waits
	if buffer.Size() != 10 {
		t.Fatalf("Expected 10 samples while waiting, got %d", buffer.Size())
	}

	// Gap of 48 exceeds maxGap: 5 is flushed and 2..4, 6..49 are lost
	_ = buffer.Add(50, packet(50, 10))

	stats := buffer.Stats()
	if buffer.Size() != 30 {
		t.Errorf("Expected 30 samples after skip, got %d", buffer.Size())
	}
	if stats.LostPackets != 47 {
		t.Errorf("Expected 47 lost packets, got %d", stats.LostPackets)
	}
	if stats.LastSequence != 50 {
		t.Errorf("Expected last sequence 50, got %d", stats.LastSequence)
	}
	if stats.PendingSeqs != 0 {
		t.Errorf("Expected no pending sequences, got %d", stats.PendingSeqs)
	}
}

func TestPopFrame(t *testing.T) {
	buffer := NewBuffer(16000, 1, 2)

	if _, ok := buffer.PopFrame(4096); ok {
		t.Error("Expected no frame from empty buffer")
	}

	_ = buffer.Add(1, packet(1, 3000))
	if _, ok := buffer.PopFrame(4096); ok {
		t.Error("Expected no frame with 3000 samples buffered")
	}

	_ = buffer.Add(2, packet(2, 3000))
	frame, ok := buffer.PopFrame(4096)
	if !ok {
		t.Fatal("Expected a frame with 6000 samples buffered")
	}
	if len(frame) != 4096*2 {
		t.Errorf("Expected %d bytes, got %d", 4096*2, len(frame))
	}
	if buffer.Size() != 6000-4096 {
		t.Errorf("Expected %d samples left, got %d", 6000-4096, buffer.Size())
	}
}

func TestBufferOverflowDropsOldest(t *testing.T) {
	// 0.01 s at 1000 Hz mono = 10 samples retained
	buffer := NewBuffer(1000, 1, 0.01)

	_ = buffer.Add(1, packet(1, 8))
	_ = buffer.Add(2, packet(2, 8))

	if buffer.Size() != 10 {
		t.Fatalf("Expected 10 samples retained, got %d", buffer.Size())
	}
	if buffer.Stats().OverflowBytes != 12 {
		t.Errorf("Expected 12 overflow bytes, got %d", buffer.Stats().OverflowBytes)
	}

	frame, _ := buffer.PopFrame(10)
	if frame[0] != 1 || frame[len(frame)-1] != 0 || frame[len(frame)-2] != 2 {
		t.Errorf("Unexpected retained audio: %v", frame)
	}
}

func TestBufferReset(t *testing.T) {
	buffer := NewBuffer(16000, 1, 2)
	_ = buffer.Add(7, packet(7, 10))
	_ = buffer.Add(9, packet(9, 10))

	buffer.Reset()

	if buffer.Size() != 0 {
		t.Errorf("Expected empty buffer, got %d", buffer.Size())
	}

	// Sequence tracking restarts from the next packet
	if err := buffer.Add(1, packet(1, 10)); err != nil {
		t.Errorf("Expected packet after reset to be accepted, got %v", err)
	}
	if buffer.Size() != 10 {
		t.Errorf("Expected 10 samples, got %d", buffer.Size())
	}
}
