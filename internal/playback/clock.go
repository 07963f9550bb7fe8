package playback

import "time"

// Clock reports the current playback time in seconds. It must be monotonic.
type Clock interface {
	Now() float64
}

// WallClock is a monotonic clock anchored at its creation
type WallClock struct {
	start time.Time
}

// NewWallClock returns a clock reading 0 now
func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

// Now returns seconds elapsed since the clock was created
func (c *WallClock) Now() float64 {
	return time.Since(c.start).Seconds()
}

// Until returns how long to wait for the clock to reach t
func Until(c Clock, t float64) time.Duration {
	d := t - c.Now()
	if d <= 0 {
		return 0
	}
	return time.Duration(d * float64(time.Second))
}
