package pipeline

import "time"

// FPSCounter measures ticks per second over consecutive one-second windows.
type FPSCounter struct {
	windowStart time.Time
	frames      int
	fps         float64
}

// Tick records one frame at now and returns the latest completed-window rate.
func (c *FPSCounter) Tick(now time.Time) float64 {
	if c.windowStart.IsZero() {
		c.windowStart = now
	}
	c.frames++
	if elapsed := now.Sub(c.windowStart); elapsed >= time.Second {
		c.fps = float64(c.frames) / elapsed.Seconds()
		c.frames = 0
		c.windowStart = now
	}
	return c.fps
}

// FPS returns the latest rate.
func (c *FPSCounter) FPS() float64 { return c.fps }
