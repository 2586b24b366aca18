package source

import (
	"math/rand/v2"
	"time"

	"github.com/andresmejia3/lookout/internal/types"
)

// Synthetic produces random noise frames shaped like a real camera's.
type Synthetic struct {
	width, height int
	rng           *rand.Rand
}

// NewSynthetic returns a generator for width x height BGR frames.
func NewSynthetic(width, height int) *Synthetic {
	return &Synthetic{
		width:  width,
		height: height,
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6c6f6f6b6f7574)),
	}
}

// Next returns a fresh frame tagged with seq.
func (g *Synthetic) Next(seq uint64) types.Frame {
	pix := make([]byte, g.width*g.height*3)
	for i := 0; i < len(pix); i += 8 {
		v := g.rng.Uint64()
		for j := 0; j < 8 && i+j < len(pix); j++ {
			pix[i+j] = byte(v >> (8 * j))
		}
	}
	return types.Frame{Seq: seq, Width: g.width, Height: g.height, Pix: pix, CapturedAt: time.Now()}
}
