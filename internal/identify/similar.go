package identify

import "github.com/andresmejia3/lookout/internal/types"

// meanAbsDiff returns the mean absolute per-byte difference of two frames of
// the same shape, or -1 when the shapes differ.
func meanAbsDiff(a, b types.Frame) float64 {
	if a.Width != b.Width || a.Height != b.Height || len(a.Pix) != len(b.Pix) || len(a.Pix) == 0 {
		return -1
	}
	var sum uint64
	for i := range a.Pix {
		x, y := a.Pix[i], b.Pix[i]
		if x > y {
			sum += uint64(x - y)
		} else {
			sum += uint64(y - x)
		}
	}
	return float64(sum) / float64(len(a.Pix))
}

// similarTo reports whether next is close enough to prev, both in sequence and
// in pixels, that re-running the face model would be wasted work.
func similarTo(prev, next types.Frame, seqWindow int, maxMean float64) bool {
	if next.Seq < prev.Seq || next.Seq-prev.Seq > uint64(seqWindow) {
		return false
	}
	d := meanAbsDiff(prev, next)
	return d >= 0 && d < maxMean
}
