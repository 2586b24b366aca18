// Package tracking decides when a watched subject has been found and when
// its evidence should be captured.
//
// The machine moves Idle -> Searching when presence is asserted, Searching ->
// Found on the first gallery match, and back to Idle only when presence is
// explicitly withdrawn. Each identity is captured at most once per episode.
// The "found" banner expires after a fixed window; the identity lock does not.
package tracking

import (
	"fmt"
	"time"

	"github.com/andresmejia3/lookout/internal/types"
)

// Phase is the tracking state.
type Phase int

const (
	// Idle means no presence is asserted.
	Idle Phase = iota
	// Searching means presence is asserted and no gallery match has been seen.
	Searching
	// Found means a gallery match has been seen in this episode.
	Found
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Searching:
		return "searching"
	case Found:
		return "found"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// DefaultFoundWindow is how long the found banner stays up without reconfirmation.
const DefaultFoundWindow = 5 * time.Second

// Outcome reports what one Update changed and what the caller must do about it.
type Outcome struct {
	From, To Phase
	// Captures lists identities seen for the first time this episode, in result order.
	Captures []types.TrackedIdentity
	// Reset is set when presence was withdrawn; in-flight identification results must be discarded.
	Reset bool
}

// Changed reports whether the phase moved.
func (o Outcome) Changed() bool { return o.From != o.To }

// Machine is the tracking state machine. It is owned by a single goroutine.
type Machine struct {
	window    time.Duration
	phase     Phase
	lastFound types.TrackedIdentity
	haveFound bool
	foundAt   time.Time
	captured  map[string]struct{}
	episodes  int
}

// New returns an Idle machine. A non-positive window uses DefaultFoundWindow.
func New(window time.Duration) *Machine {
	if window <= 0 {
		window = DefaultFoundWindow
	}
	return &Machine{window: window, captured: make(map[string]struct{})}
}

// Update feeds one tick. ids is the identification result that became
// available this tick, or nil when there is none.
func (m *Machine) Update(presence bool, ids types.IdentityList, now time.Time) Outcome {
	out := Outcome{From: m.phase}

	if !presence {
		if m.phase != Idle {
			m.reset()
			out.Reset = true
		}
		out.To = m.phase
		return out
	}

	if m.phase == Idle {
		m.phase = Searching
		m.episodes++
	}

	if first, ok := ids.FirstKnown(); ok {
		if m.phase == Searching {
			m.phase = Found
			m.lastFound = first
			m.haveFound = true
		}
		m.foundAt = now
	}
	for _, id := range ids {
		if !id.Known() {
			continue
		}
		if _, seen := m.captured[id.Label]; seen {
			continue
		}
		m.captured[id.Label] = struct{}{}
		out.Captures = append(out.Captures, id)
	}

	out.To = m.phase
	return out
}

func (m *Machine) reset() {
	m.phase = Idle
	m.lastFound = types.TrackedIdentity{}
	m.haveFound = false
	m.foundAt = time.Time{}
	clear(m.captured)
}

// Phase returns the current state.
func (m *Machine) Phase() Phase { return m.phase }

// LastFound returns the identity that moved the episode into Found.
func (m *Machine) LastFound() (types.TrackedIdentity, bool) {
	return m.lastFound, m.haveFound
}

// FoundAt returns the time of the most recent confirming match.
func (m *Machine) FoundAt() time.Time { return m.foundAt }

// BannerVisible reports whether the found banner should still be drawn.
func (m *Machine) BannerVisible(now time.Time) bool {
	return m.phase == Found && now.Sub(m.foundAt) <= m.window
}

// Captured reports whether label was already captured in this episode.
func (m *Machine) Captured(label string) bool {
	_, ok := m.captured[label]
	return ok
}

// CapturedCount returns the size of the dedup set.
func (m *Machine) CapturedCount() int { return len(m.captured) }

// Episodes counts Idle -> Searching transitions.
func (m *Machine) Episodes() int { return m.episodes }

// Annotate returns a copy of ids with InEpisode set for identities already captured.
func (m *Machine) Annotate(ids types.IdentityList) types.IdentityList {
	out := make(types.IdentityList, len(ids))
	for i, id := range ids {
		id.InEpisode = id.Known() && m.Captured(id.Label)
		out[i] = id
	}
	return out
}
