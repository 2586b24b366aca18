package identify

import "github.com/andresmejia3/lookout/internal/types"

// Entry is one known reference identity.
type Entry struct {
	Label       string
	Vec         []float64
	Path        string
	Fingerprint string
}

// Gallery holds reference identities in registration order. It is read-only
// once loading finishes.
type Gallery struct {
	entries []Entry
}

// NewGallery returns an empty gallery.
func NewGallery() *Gallery {
	return &Gallery{}
}

// Add registers e after every existing entry. Entries without a label or
// embedding are ignored.
func (g *Gallery) Add(e Entry) bool {
	if e.Label == "" || e.Label == types.Unknown || len(e.Vec) == 0 {
		return false
	}
	g.entries = append(g.entries, e)
	return true
}

// Len returns the number of entries.
func (g *Gallery) Len() int {
	if g == nil {
		return 0
	}
	return len(g.entries)
}

// Entries returns a copy of the entries in registration order.
func (g *Gallery) Entries() []Entry {
	if g == nil {
		return nil
	}
	out := make([]Entry, len(g.entries))
	copy(out, g.entries)
	return out
}

// Labels returns the entry labels in registration order.
func (g *Gallery) Labels() []string {
	if g == nil {
		return nil
	}
	labels := make([]string, len(g.entries))
	for i, e := range g.entries {
		labels[i] = e.Label
	}
	return labels
}
