package audio

import (
	"fmt"
	"sync"
	"time"
)

// Buffer accumulates PCM-16 LE bytes from a sequenced packet source, putting
// late packets back in order and giving up on gaps that grow too large
type Buffer struct {
	sampleRate int
	channels   int

	// Ordered PCM bytes not yet popped
	pending []byte

	// Sequence tracking
	started     bool
	lastSeq     uint32            // Last sequence appended to pending
	expectedSeq uint32            // Next sequence we can append
	outOfOrder  map[uint32][]byte // Packets received ahead of expectedSeq
	maxGap      uint32            // Gap size after which missing packets are declared lost
	maxPending  int               // Upper bound on pending bytes, oldest are discarded

	// Counters
	lastUpdate   time.Time
	totalPackets uint32
	lostCount    uint32
	dupCount     uint32
	overflow     uint64 // Bytes discarded because pending exceeded maxPending

	mu sync.Mutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	TotalPackets   uint32  `json:"total_packets"`
	LostPackets    uint32  `json:"lost_packets"`
	Duplicates     uint32  `json:"duplicate_packets"`
	LossRate       float64 `json:"loss_rate"`
	PendingSamples int     `json:"pending_samples"`
	PendingSeqs    int     `json:"pending_sequences"`
	LastSequence   uint32  `json:"last_sequence"`
	OverflowBytes  uint64  `json:"overflow_bytes"`
}

// NewBuffer creates a reordering buffer for the given PCM format.
// maxSeconds bounds how much unread audio is retained.
func NewBuffer(sampleRate, channels int, maxSeconds float64) *Buffer {
	if channels <= 0 {
		channels = 1
	}
	if maxSeconds <= 0 {
		maxSeconds = 2
	}
	maxPending := int(float64(sampleRate*channels*2) * maxSeconds)
	return &Buffer{
		sampleRate: sampleRate,
		channels:   channels,
		pending:    make([]byte, 0, sampleRate*channels*2),
		outOfOrder: make(map[uint32][]byte),
		maxGap:     20,
		maxPending: maxPending,
		lastUpdate: time.Now(),
	}
}

// Add stores one packet of PCM bytes under its sequence number
func (b *Buffer) Add(sequence uint32, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(data)%(2*b.channels) != 0 {
		return fmt.Errorf("%w: packet of %d bytes for %d channel(s)", ErrTruncatedBuffer, len(data), b.channels)
	}

	b.lastUpdate = time.Now()
	b.totalPackets++

	if !b.started {
		b.started = true
		b.expectedSeq = sequence
		b.lastSeq = sequence - 1
	}

	switch {
	case sequence == b.expectedSeq:
		b.appendLocked(data)
		b.lastSeq = sequence
		b.expectedSeq = sequence + 1
		b.drainLocked()

	case sequence > b.expectedSeq:
		if _, dup := b.outOfOrder[sequence]; dup {
			b.dupCount++
			return nil
		}
		b.outOfOrder[sequence] = append([]byte(nil), data...)

		if sequence-b.expectedSeq > b.maxGap {
			b.skipToLocked(sequence)
		}

	default:
		b.dupCount++
		return fmt.Errorf("ignoring old/duplicate packet: seq=%d, lastSeq=%d", sequence, b.lastSeq)
	}

	return nil
}

// skipToLocked flushes whatever arrived before seq, counts the holes as
// lost and continues from seq
func (b *Buffer) skipToLocked(seq uint32) {
	for s := b.expectedSeq; s != seq; s++ {
		data, ok := b.outOfOrder[s]
		if !ok {
			b.lostCount++
			continue
		}
		b.appendLocked(data)
		delete(b.outOfOrder, s)
		b.lastSeq = s
	}
	b.expectedSeq = seq
	b.drainLocked()
}

// drainLocked appends consecutive buffered packets
func (b *Buffer) drainLocked() {
	for {
		data, ok := b.outOfOrder[b.expectedSeq]
		if !ok {
			return
		}
		b.appendLocked(data)
		delete(b.outOfOrder, b.expectedSeq)
		b.lastSeq = b.expectedSeq
		b.expectedSeq++
	}
}

func (b *Buffer) appendLocked(data []byte) {
	b.pending = append(b.pending, data...)
	if excess := len(b.pending) - b.maxPending; excess > 0 {
		frameBytes := 2 * b.channels
		excess += (frameBytes - excess%frameBytes) % frameBytes
		copy(b.pending, b.pending[excess:])
		b.pending = b.pending[:len(b.pending)-excess]
		b.overflow += uint64(excess)
	}
}

// PopFrame removes and returns exactly frameSamples samples per channel, or
// false if not enough ordered audio is buffered yet
func (b *Buffer) PopFrame(frameSamples int) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	need := frameSamples * b.channels * 2
	if need <= 0 || len(b.pending) < need {
		return nil, false
	}

	frame := make([]byte, need)
	copy(frame, b.pending[:need])
	n := copy(b.pending, b.pending[need:])
	b.pending = b.pending[:n]
	return frame, true
}

// Reset drops all buffered audio and sequence state
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = b.pending[:0]
	b.outOfOrder = make(map[uint32][]byte)
	b.started = false
}

// Size returns the number of ordered samples per channel waiting to be popped
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending) / (2 * b.channels)
}

// SampleRate returns the buffer's sample rate
func (b *Buffer) SampleRate() int {
	return b.sampleRate
}

// LastUpdate returns the time of the last accepted packet
func (b *Buffer) LastUpdate() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUpdate
}

// Stats returns current buffer statistics
func (b *Buffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	lossRate := float64(0)
	if b.totalPackets > 0 {
		lossRate = float64(b.lostCount) / float64(b.totalPackets+b.lostCount) * 100
	}

	return BufferStats{
		TotalPackets:   b.totalPackets,
		LostPackets:    b.lostCount,
		Duplicates:     b.dupCount,
		LossRate:       lossRate,
		PendingSamples: len(b.pending) / (2 * b.channels),
		PendingSeqs:    len(b.outOfOrder),
		LastSequence:   b.lastSeq,
		OverflowBytes:  b.overflow,
	}
}
