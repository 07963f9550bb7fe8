package transcript

import (
	"fmt"
	"sync"
	"time"
)

// DefaultCapacity is the number of lines kept when none is configured
const DefaultCapacity = 10

// Speaker identifies who produced a transcript line
type Speaker string

const (
	SpeakerUser  Speaker = "You"
	SpeakerModel Speaker = "Gemini"
)

// Entry is one transcript line
type Entry struct {
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// String renders the entry as "Speaker: text"
func (e Entry) String() string {
	return fmt.Sprintf("%s: %s", e.Speaker, e.Text)
}

// Log is a bounded FIFO of transcript entries. The oldest entry is evicted
// once capacity is reached.
type Log struct {
	capacity int
	entries  []Entry
	total    uint64
	now      func() time.Time
	mu       sync.RWMutex
}

// NewLog creates a log holding at most capacity entries
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity: capacity,
		entries:  make([]Entry, 0, capacity),
		now:      time.Now,
	}
}

// Append records text from speaker. Empty text is ignored.
func (l *Log) Append(speaker Speaker, text string) {
	if text == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, Entry{Speaker: speaker, Text: text, ReceivedAt: l.now()})
	l.total++
}

// Entries returns a copy of the retained entries, oldest first
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Lines returns the retained entries formatted as "Speaker: text"
func (l *Log) Lines() []string {
	entries := l.Entries()
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.String()
	}
	return lines
}

// Len returns the number of retained entries
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Total returns the number of entries appended since the last Reset
func (l *Log) Total() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Capacity returns the maximum number of retained entries
func (l *Log) Capacity() int {
	return l.capacity
}

// Reset drops all entries
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
	l.total = 0
}
