package session

import (
	"time"

	"github.com/skypro1111/gemini-live-service/internal/capture"
	"github.com/skypro1111/gemini-live-service/internal/playback"
)

// Phase is the controller lifecycle: Idle → Starting → Active → Stopping → Idle
type Phase int

const (
	Idle Phase = iota
	Starting
	Active
	Stopping
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the controller
type Status struct {
	State        string          `json:"state"`
	SessionID    string          `json:"session_id,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	Uptime       string          `json:"uptime,omitempty"`
	Camera       bool            `json:"camera"`
	Speaking     bool            `json:"speaking"`
	Capture      *capture.Stats  `json:"capture,omitempty"`
	Playback     *playback.Stats `json:"playback,omitempty"`
	DecodeErrors uint64          `json:"decode_errors"`
	LastSession  string          `json:"last_session_id,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
}

// Status returns the current lifecycle phase and session counters
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		State:       c.phase.String(),
		LastSession: c.lastID,
		LastError:   c.lastError,
	}

	st := c.state
	if st == nil {
		return status
	}

	startedAt := st.StartedAt
	status.SessionID = st.ID
	status.StartedAt = &startedAt
	status.Uptime = time.Since(st.StartedAt).Round(time.Second).String()
	status.Camera = st.Camera
	status.DecodeErrors = st.decodeErrors

	if st.capture != nil {
		cs := st.capture.Stats()
		status.Capture = &cs
		status.Speaking = cs.Speaking
	}
	if st.renderer != nil {
		ps := st.renderer.Stats()
		status.Playback = &ps
	}

	return status
}
