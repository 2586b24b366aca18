package cvio

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/lookout/internal/types"
)

// JPEGEncoder compresses frames to JPEG through OpenCV.
type JPEGEncoder struct {
	Quality int
}

// Encode returns frame as JPEG bytes.
func (j JPEGEncoder) Encode(frame types.Frame) ([]byte, error) {
	mat, err := frameToMat(frame)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, j.quality()})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

func (j JPEGEncoder) quality() int {
	if j.Quality <= 0 || j.Quality > 100 {
		return 90
	}
	return j.Quality
}
