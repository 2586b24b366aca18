package pipeline

import (
	"log/slog"
	"time"

	"github.com/andresmejia3/lookout/internal/logging"
)

// Renderer consumes one View per tick. Returning true asks the loop to stop.
type Renderer interface {
	Render(v View) (quit bool)
	Close() error
}

// HeadlessRenderer logs a status heartbeat instead of drawing.
type HeadlessRenderer struct {
	every  time.Duration
	last   time.Time
	logger *slog.Logger
	now    func() time.Time
}

// NewHeadlessRenderer logs at most once per every. A non-positive every disables the heartbeat.
func NewHeadlessRenderer(every time.Duration, logger *slog.Logger) *HeadlessRenderer {
	return &HeadlessRenderer{every: every, logger: logging.Component(logger, "render"), now: time.Now}
}

// Render never asks to quit.
func (h *HeadlessRenderer) Render(v View) bool {
	if h.every <= 0 {
		return false
	}
	now := h.now()
	if !h.last.IsZero() && now.Sub(h.last) < h.every {
		return false
	}
	h.last = now
	h.logger.Info("status",
		"presence", v.Presence,
		"phase", v.Phase.String(),
		"fps", v.FPS,
		"faces", len(v.Identities),
		"banner", v.Banner,
		logging.FieldDevice, v.Source,
	)
	return false
}

// Close is a no-op.
func (h *HeadlessRenderer) Close() error { return nil }
