// Package cvio connects lookout to OpenCV: camera capture, JPEG output and
// the preview window. It is the only package that links gocv.
package cvio

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/lookout/internal/source"
	"github.com/andresmejia3/lookout/internal/types"
)

// Camera is an OpenCV capture device.
type Camera struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

// deviceArg turns "0" into a device index and anything else into a stream URL or path.
func deviceArg(spec string) interface{} {
	if idx, err := strconv.Atoi(spec); err == nil {
		return idx
	}
	return spec
}

// OpenCamera opens spec and probes one frame so a dead device fails here
// rather than on the first Read.
func OpenCamera(spec string, width, height int) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(deviceArg(spec))
	if err != nil {
		return nil, fmt.Errorf("open capture %q: %w", spec, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open capture %q: device not opened", spec)
	}
	// Minimize OpenCV buffer size for real-time streaming
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	if width > 0 && height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	c := &Camera{vc: vc, mat: gocv.NewMat()}
	if ok := vc.Read(&c.mat); !ok || c.mat.Empty() {
		c.Close()
		return nil, fmt.Errorf("open capture %q: could not read first frame", spec)
	}
	return c, nil
}

// Read grabs the next frame as BGR bytes.
func (c *Camera) Read() (types.Frame, error) {
	if ok := c.vc.Read(&c.mat); !ok {
		return types.Frame{}, errors.New("capture read failed")
	}
	if c.mat.Empty() {
		return types.Frame{}, nil
	}
	return matToFrame(c.mat)
}

// Close releases the device.
func (c *Camera) Close() error {
	c.mat.Close()
	return c.vc.Close()
}

// DeviceSpec builds a failover slot for spec. An empty spec yields a slot
// that is skipped.
func DeviceSpec(spec string, width, height int) source.DeviceSpec {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return source.DeviceSpec{Name: "unset"}
	}
	return source.DeviceSpec{
		Name: spec,
		Open: func(ctx context.Context) (source.Device, error) {
			cam, err := OpenCamera(spec, width, height)
			if err != nil {
				return nil, err
			}
			if ctx.Err() != nil {
				cam.Close()
				return nil, ctx.Err()
			}
			return cam, nil
		},
	}
}

func matToFrame(m gocv.Mat) (types.Frame, error) {
	if m.Type() != gocv.MatTypeCV8UC3 {
		converted := gocv.NewMat()
		defer converted.Close()
		switch m.Channels() {
		case 1:
			gocv.CvtColor(m, &converted, gocv.ColorGrayToBGR)
		case 4:
			gocv.CvtColor(m, &converted, gocv.ColorBGRAToBGR)
		default:
			return types.Frame{}, fmt.Errorf("unsupported mat type %v", m.Type())
		}
		m = converted
	}
	return types.Frame{Width: m.Cols(), Height: m.Rows(), Pix: m.ToBytes()}, nil
}

// frameToMat wraps a BGR frame in a Mat. The caller closes it.
func frameToMat(f types.Frame) (gocv.Mat, error) {
	if f.Empty() || len(f.Pix) != f.Width*f.Height*3 {
		return gocv.NewMat(), fmt.Errorf("invalid frame %dx%d with %d bytes", f.Width, f.Height, len(f.Pix))
	}
	return gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Pix)
}
