package cvio

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/lookout/internal/pipeline"
	"github.com/andresmejia3/lookout/internal/types"
)

var (
	colorKnown   = color.RGBA{0, 255, 0, 0}
	colorUnknown = color.RGBA{0, 0, 255, 0}
	colorPose    = color.RGBA{255, 200, 0, 0}
	colorText    = color.RGBA{255, 255, 255, 0}
	colorBanner  = color.RGBA{0, 255, 255, 0}
)

// Window draws each View into a highgui window. It must be used from the
// goroutine that created it.
type Window struct {
	win *gocv.Window
}

// NewWindow opens a preview window titled name.
func NewWindow(name string) *Window {
	return &Window{win: gocv.NewWindow(name)}
}

// Render draws the frame with its overlays and reports whether 'q' was pressed.
func (w *Window) Render(v pipeline.View) bool {
	img, err := frameToMat(v.Frame)
	if err != nil {
		return w.poll()
	}
	// NewMatFromBytes shares the frame buffer
	canvas := img.Clone()
	img.Close()
	defer canvas.Close()

	drawPose(&canvas, v.Pose)
	drawFaces(&canvas, v.Identities)
	drawStatus(&canvas, v)

	w.win.IMShow(canvas)
	return w.poll()
}

func (w *Window) poll() bool {
	key := w.win.WaitKey(1)
	return key == 'q' || key == 'Q'
}

// Close destroys the window.
func (w *Window) Close() error {
	return w.win.Close()
}

func drawPose(img *gocv.Mat, pose types.PoseResult) {
	cols, rows := img.Cols(), img.Rows()
	for _, lm := range pose.Landmarks {
		if lm.Visibility < 0.5 {
			continue
		}
		p := image.Pt(int(lm.X*float64(cols)), int(lm.Y*float64(rows)))
		gocv.Circle(img, p, 3, colorPose, -1)
	}
}

func drawFaces(img *gocv.Mat, ids types.IdentityList) {
	for _, id := range ids {
		rect := image.Rect(id.Box.Left, id.Box.Top, id.Box.Right, id.Box.Bottom)
		c := colorUnknown
		label := id.Label
		if id.Known() {
			c = colorKnown
			label = fmt.Sprintf("%s %.0f%%", id.Label, id.Similarity)
		}
		gocv.Rectangle(img, rect, c, 2)

		pos := image.Pt(rect.Min.X, rect.Min.Y-8)
		if pos.Y < 15 {
			pos.Y = rect.Max.Y + 20
		}
		gocv.PutText(img, label, pos, gocv.FontHersheySimplex, 0.5, c, 1)
	}
}

func drawStatus(img *gocv.Mat, v pipeline.View) {
	y := 25
	for _, line := range v.StatusLines() {
		c := colorText
		if v.BannerActive && line == "SUBJECT FOUND: "+v.Banner {
			c = colorBanner
		}
		gocv.PutText(img, line, image.Pt(10, y), gocv.FontHersheySimplex, 0.6, c, 2)
		y += 25
	}
}
