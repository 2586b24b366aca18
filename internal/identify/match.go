// Package identify matches detected faces against a gallery of known people.
package identify

import (
	"fmt"
	"math"

	"github.com/andresmejia3/lookout/internal/types"
)

// DistanceFunc measures how far apart two embeddings are. Lower is closer.
type DistanceFunc func(a, b []float64) float64

// Euclidean is the L2 distance used by dlib-style face encodings.
func Euclidean(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Cosine is 1 minus the cosine similarity of a and b.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var dot, sumA, sumB float64
	for i := range a {
		dot += a[i] * b[i]
		sumA += a[i] * a[i]
		sumB += b[i] * b[i]
	}
	// Return 1.0 (max distance) if a vector is zero to avoid division by zero
	if sumA == 0 || sumB == 0 {
		return 1.0
	}
	return 1.0 - (dot / (math.Sqrt(sumA) * math.Sqrt(sumB)))
}

// DistanceByName resolves a configured metric name.
func DistanceByName(name string) (DistanceFunc, error) {
	switch name {
	case "", "euclidean":
		return Euclidean, nil
	case "cosine":
		return Cosine, nil
	default:
		return nil, fmt.Errorf("unknown distance metric %q", name)
	}
}

// Matcher labels embeddings using a gallery.
type Matcher struct {
	gallery   *Gallery
	tolerance float64
	distance  DistanceFunc
}

// NewMatcher returns a matcher. A nil distance defaults to Euclidean.
func NewMatcher(g *Gallery, tolerance float64, distance DistanceFunc) *Matcher {
	if distance == nil {
		distance = Euclidean
	}
	if g == nil {
		g = NewGallery()
	}
	return &Matcher{gallery: g, tolerance: tolerance, distance: distance}
}

// Match returns the label of the closest gallery entry whose distance is below
// the tolerance. Equal distances resolve to the entry registered first.
// Unmatched probes return types.Unknown with the smallest distance seen.
func (m *Matcher) Match(vec []float64) (string, float64) {
	best := -1
	bestDist := math.Inf(1)
	for i, e := range m.gallery.entries {
		d := m.distance(vec, e.Vec)
		// strict comparison keeps the earliest entry on ties
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 || !(bestDist < m.tolerance) {
		return types.Unknown, bestDist
	}
	return m.gallery.entries[best].Label, bestDist
}

// Similarity converts a distance into a percentage, 0 for unknown faces.
func Similarity(label string, distance float64) float64 {
	if label == types.Unknown || math.IsInf(distance, 0) || math.IsNaN(distance) {
		return 0
	}
	s := (1 - distance) * 100
	switch {
	case s < 0:
		return 0
	case s > 100:
		return 100
	}
	return s
}

// ValidBox reports whether box lies inside a width x height frame and is at
// least minSize pixels on each side.
func ValidBox(box types.BoundingBox, width, height, minSize int) bool {
	if box.Top < 0 || box.Left < 0 || box.Bottom > height || box.Right > width {
		return false
	}
	return box.Width() >= minSize && box.Height() >= minSize
}

// Identify labels every valid face in detection order.
func (m *Matcher) Identify(faces []types.FaceResult, width, height, minFaceSize int) types.IdentityList {
	ids := make(types.IdentityList, 0, len(faces))
	for _, f := range faces {
		box, ok := f.Box()
		if !ok || !ValidBox(box, width, height, minFaceSize) {
			continue
		}
		label, dist := m.Match(f.Vec)
		ids = append(ids, types.TrackedIdentity{
			Label:      label,
			Box:        box,
			Distance:   dist,
			Similarity: Similarity(label, dist),
		})
	}
	return ids
}
