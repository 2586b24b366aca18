package types

import "time"

// Unknown labels a face region that matched no gallery entry.
const Unknown = "Unknown"

// Frame is a single captured image tagged with a monotonically increasing sequence number.
// Pix holds BGR24 pixels in row-major order (Width*Height*3 bytes).
type Frame struct {
	Seq        uint64
	Width      int
	Height     int
	Pix        []byte
	CapturedAt time.Time
}

// Empty reports whether the frame carries no usable pixels.
func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Pix) == 0
}

// Clone returns a deep copy so downstream stages never share the pixel buffer.
func (f Frame) Clone() Frame {
	c := f
	if f.Pix != nil {
		c.Pix = make([]byte, len(f.Pix))
		copy(c.Pix, f.Pix)
	}
	return c
}

// BoundingBox is a face region in pixel coordinates.
type BoundingBox struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Width of the box in pixels.
func (b BoundingBox) Width() int { return b.Right - b.Left }

// Height of the box in pixels.
func (b BoundingBox) Height() int { return b.Bottom - b.Top }

// Landmark is one normalized pose keypoint.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// PoseResult is the pose stage output. A nil or empty landmark set means nobody is visible.
type PoseResult struct {
	Landmarks []Landmark
}

// Present reports whether a human subject was detected.
func (p PoseResult) Present() bool {
	return len(p.Landmarks) > 0
}

// TrackedIdentity is one face region after gallery matching.
type TrackedIdentity struct {
	Label      string
	Box        BoundingBox
	Distance   float64
	Similarity float64 // percent, 0 for Unknown
	InEpisode  bool    // already captured during the current episode
}

// Known reports whether the region matched a gallery entry.
func (t TrackedIdentity) Known() bool {
	return t.Label != Unknown && t.Label != ""
}

// IdentityList is the identification stage output, in detection order.
type IdentityList []TrackedIdentity

// FirstKnown returns the first matched identity in result order.
func (l IdentityList) FirstKnown() (TrackedIdentity, bool) {
	for _, id := range l {
		if id.Known() {
			return id, true
		}
	}
	return TrackedIdentity{}, false
}

// FaceResult matches the JSON structure coming back from the face model process.
type FaceResult struct {
	Loc []int     `json:"loc"` // [top, right, bottom, left]
	Vec []float64 `json:"vec"` // face embedding
}

// Box converts the model's location tuple into a BoundingBox.
func (f FaceResult) Box() (BoundingBox, bool) {
	if len(f.Loc) != 4 {
		return BoundingBox{}, false
	}
	return BoundingBox{Top: f.Loc[0], Right: f.Loc[1], Bottom: f.Loc[2], Left: f.Loc[3]}, true
}

// PoseReply is the JSON body returned by the pose model process.
type PoseReply struct {
	Landmarks []Landmark `json:"landmarks"`
}
