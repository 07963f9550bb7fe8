package transcript

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestLogBounded(t *testing.T) {
	log := NewLog(10)

	for i := 0; i < 25; i++ {
		speaker := SpeakerUser
		if i%2 == 1 {
			speaker = SpeakerModel
		}
		log.Append(speaker, fmt.Sprintf("line %d", i))
	}

	if log.Len() != 10 {
		t.Fatalf("Expected 10 entries, got %d", log.Len())
	}
	if log.Total() != 25 {
		t.Errorf("Expected 25 total, got %d", log.Total())
	}

	entries := log.Entries()
	for i, e := range entries {
		want := fmt.Sprintf("line %d", 15+i)
		if e.Text != want {
			t.Errorf("entry %d: expected %q, got %q", i, want, e.Text)
		}
	}
}

func TestLogLines(t *testing.T) {
	log := NewLog(0)
	if log.Capacity() != DefaultCapacity {
		t.Errorf("Expected default capacity %d, got %d", DefaultCapacity, log.Capacity())
	}

	log.Append(SpeakerUser, "hello")
	log.Append(SpeakerModel, "hi, how can I help?")
	log.Append(SpeakerUser, "")

	want := []string{"You: hello", "Gemini: hi, how can I help?"}
	if got := log.Lines(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestLogEntriesIsCopy(t *testing.T) {
	log := NewLog(3)
	log.Append(SpeakerUser, "a")

	entries := log.Entries()
	entries[0].Text = "changed"

	if log.Entries()[0].Text != "a" {
		t.Error("Entries must return a copy")
	}
}

func TestLogReset(t *testing.T) {
	log := NewLog(3)
	log.Append(SpeakerUser, "a")
	log.Append(SpeakerModel, "b")

	log.Reset()

	if log.Len() != 0 || log.Total() != 0 {
		t.Errorf("Expected empty log after reset, got %d entries", log.Len())
	}

	log.Append(SpeakerModel, "c")
	if log.Lines()[0] != "Gemini: c" {
		t.Errorf("Unexpected line after reset: %v", log.Lines())
	}
}

func TestLogConcurrentAppend(t *testing.T) {
	log := NewLog(10)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				log.Append(SpeakerUser, fmt.Sprintf("%d-%d", n, j))
				_ = log.Lines()
			}
		}(i)
	}
	wg.Wait()

	if log.Len() != 10 || log.Total() != 800 {
		t.Errorf("Expected 10 retained / 800 total, got %d / %d", log.Len(), log.Total())
	}
}
