package tracking

import (
	"testing"
	"time"

	"github.com/andresmejia3/lookout/internal/types"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func known(labels ...string) types.IdentityList {
	ids := make(types.IdentityList, len(labels))
	for i, l := range labels {
		ids[i] = types.TrackedIdentity{Label: l}
	}
	return ids
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name     string
		steps    []bool
		ids      types.IdentityList
		want     Phase
		wantCapt int
	}{
		{name: "stays idle without presence", steps: []bool{false, false}, want: Idle},
		{name: "presence starts searching", steps: []bool{true}, want: Searching},
		{name: "unknown faces keep searching", steps: []bool{true, true}, ids: known(types.Unknown), want: Searching},
		{name: "match moves to found", steps: []bool{true, true}, ids: known("alice"), want: Found, wantCapt: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(0)
			for i, p := range tt.steps {
				var ids types.IdentityList
				if i == len(tt.steps)-1 {
					ids = tt.ids
				}
				m.Update(p, ids, t0)
			}
			if m.Phase() != tt.want {
				t.Errorf("Phase = %s, want %s", m.Phase(), tt.want)
			}
			if m.CapturedCount() != tt.wantCapt {
				t.Errorf("CapturedCount = %d, want %d", m.CapturedCount(), tt.wantCapt)
			}
		})
	}
}

func TestPresenceFalseResetsFromAnyState(t *testing.T) {
	setups := map[string]func(m *Machine){
		"idle":      func(m *Machine) {},
		"searching": func(m *Machine) { m.Update(true, nil, t0) },
		"found":     func(m *Machine) { m.Update(true, known("alice", "bob"), t0) },
	}
	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			m := New(0)
			setup(m)
			wasActive := m.Phase() != Idle

			out := m.Update(false, known("alice"), t0.Add(time.Second))
			if m.Phase() != Idle {
				t.Fatalf("Phase = %s after presence=false", m.Phase())
			}
			if m.CapturedCount() != 0 {
				t.Errorf("dedup set not cleared: %d entries", m.CapturedCount())
			}
			if _, ok := m.LastFound(); ok {
				t.Error("LastFound should be cleared")
			}
			if out.Reset != wasActive {
				t.Errorf("Reset = %v, want %v", out.Reset, wasActive)
			}
			if len(out.Captures) != 0 {
				t.Error("no capture may fire on presence=false")
			}
		})
	}
}

func TestConfirmingCyclesCaptureOnce(t *testing.T) {
	m := New(0)
	captures := 0
	for i := 0; i < 50; i++ {
		out := m.Update(true, known("alice"), t0.Add(time.Duration(i)*100*time.Millisecond))
		captures += len(out.Captures)
	}
	if captures != 1 {
		t.Fatalf("Expected exactly one capture, got %d", captures)
	}
	if m.FoundAt() != t0.Add(49*100*time.Millisecond) {
		t.Errorf("FoundAt was not refreshed: %v", m.FoundAt())
	}
}

func TestNewIdentityInSameEpisodeCapturesOnce(t *testing.T) {
	m := New(0)
	m.Update(true, known("alice"), t0)
	out := m.Update(true, known("alice", "bob"), t0)
	if len(out.Captures) != 1 || out.Captures[0].Label != "bob" {
		t.Fatalf("Expected one capture for bob, got %+v", out.Captures)
	}
	last, _ := m.LastFound()
	if last.Label != "alice" {
		t.Errorf("LastFound = %q, want alice", last.Label)
	}
}

func TestFirstKnownInResultOrderBecomesLastFound(t *testing.T) {
	m := New(0)
	out := m.Update(true, known(types.Unknown, "bob", "alice"), t0)
	last, ok := m.LastFound()
	if !ok || last.Label != "bob" {
		t.Errorf("LastFound = %+v, want bob", last)
	}
	if len(out.Captures) != 2 || out.Captures[0].Label != "bob" {
		t.Errorf("Captures = %+v", out.Captures)
	}
	if !out.Changed() || out.From != Idle || out.To != Found {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestNewEpisodeCapturesAgain(t *testing.T) {
	m := New(0)
	m.Update(true, known("alice"), t0)
	m.Update(false, nil, t0)
	out := m.Update(true, known("alice"), t0)
	if len(out.Captures) != 1 {
		t.Fatalf("Expected re-capture in a new episode, got %d", len(out.Captures))
	}
	if m.Episodes() != 2 {
		t.Errorf("Episodes = %d, want 2", m.Episodes())
	}
}

func TestBannerExpiryKeepsIdentityLock(t *testing.T) {
	m := New(5 * time.Second)
	m.Update(true, known("alice"), t0)

	if !m.BannerVisible(t0.Add(5 * time.Second)) {
		t.Error("banner should be visible at the window edge")
	}
	if m.BannerVisible(t0.Add(5*time.Second + time.Millisecond)) {
		t.Error("banner should expire after the window")
	}

	// still Found with the lock held
	later := t0.Add(10 * time.Second)
	out := m.Update(true, known("alice"), later)
	if len(out.Captures) != 0 {
		t.Error("expiry must not release the identity lock")
	}
	if m.Phase() != Found || !m.BannerVisible(later) {
		t.Error("reconfirmation should bring the banner back")
	}
}

func TestAnnotate(t *testing.T) {
	m := New(0)
	m.Update(true, known("alice"), t0)
	ids := m.Annotate(known("alice", "bob", types.Unknown))
	if !ids[0].InEpisode || ids[1].InEpisode || ids[2].InEpisode {
		t.Errorf("unexpected annotation %+v", ids)
	}
}
