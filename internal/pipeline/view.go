package pipeline

import (
	"fmt"
	"strings"

	"github.com/andresmejia3/lookout/internal/tracking"
	"github.com/andresmejia3/lookout/internal/types"
)

// View is everything a renderer needs for one tick.
type View struct {
	Frame      types.Frame
	Presence   bool
	Pose       types.PoseResult
	Identities types.IdentityList
	FPS        float64
	Phase      tracking.Phase
	// Banner is the found identity while its display window is open.
	Banner       string
	BannerActive bool
	FaceSearch   bool
	Source       string
}

// StatusLines renders the overlay text shown in the preview window.
func (v View) StatusLines() []string {
	lines := make([]string, 0, 5)
	if v.Presence {
		lines = append(lines, "HUMAN DETECTED")
	} else {
		lines = append(lines, "HUMAN NOT DETECTED")
	}
	if v.FaceSearch {
		lines = append(lines, "FACE SEARCH ACTIVE")
	}
	lines = append(lines, fmt.Sprintf("FPS: %.1f  [%s]", v.FPS, v.Source))

	var known []string
	for _, id := range v.Identities {
		if id.Known() {
			known = append(known, fmt.Sprintf("%s (%.0f%%)", id.Label, id.Similarity))
		}
	}
	if len(known) > 0 {
		lines = append(lines, "Recognized: "+strings.Join(known, ", "))
	}
	if v.BannerActive {
		lines = append(lines, "SUBJECT FOUND: "+v.Banner)
	}
	return lines
}
