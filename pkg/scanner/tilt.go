package scanner

import (
	"math"

	"github.com/teslashibe/go-panscan/pkg/vision"
)

// Face framing thresholds as fractions of frame height.
const (
	faceTopThreshold     = 0.05 // person top this close to the frame top may have lost the face
	facePartialThreshold = 0.03 // a face this close to the top is probably cut
	faceExpectedPosition = 0.15 // faces sit this far down a person box
)

// FaceTiltNudge returns a (negative, upward) tilt adjustment when a person's
// face is likely cut off by the top of the frame. It reports false when
// the framing is fine.
func FaceTiltNudge(d vision.Detection, frameHeight int, verticalFOV, maxNudge float64) (float64, bool) {
	if frameHeight <= 0 || verticalFOV <= 0 {
		return 0, false
	}
	h := float64(frameHeight)
	if d.BBox.Y >= h*faceTopThreshold {
		return 0, false
	}

	expectedFaceY := d.BBox.Y + d.BBox.H*faceExpectedPosition
	offset := (expectedFaceY - h/2) * verticalFOV / h

	switch {
	case len(d.Faces) == 0:
	case d.Faces[0].Y < h*facePartialThreshold:
		offset *= 0.5
	default:
		return 0, false
	}

	if offset >= 0 {
		return 0, false
	}
	if maxNudge > 0 {
		offset = math.Max(offset, -maxNudge)
	}
	return offset, true
}

// groupTiltNudge returns the largest upward nudge needed by any person.
func groupTiltNudge(people []vision.Detection, frameHeight int, verticalFOV, maxNudge float64) (float64, bool) {
	best, found := 0.0, false
	for _, d := range people {
		if n, ok := FaceTiltNudge(d, frameHeight, verticalFOV, maxNudge); ok && n < best {
			best, found = n, true
		}
	}
	return best, found
}
