package geometry

import "github.com/menta2k/cardscan/pkg/types"

const (
	DefaultSmoothingAlpha = 0.3
	DefaultMissFrames     = 10
)

// Tracker keeps one smoothed quadrilateral across live frames.
//
// Each corner follows an exponential low-pass filter. The overlay stays
// visible through short detection gaps and is hidden after MissFrames
// consecutive misses; the next detection after that starts fresh.
// A Tracker is not safe for concurrent use.
type Tracker struct {
	Alpha      float64
	MissFrames int

	smoothed types.Quad
	visible  bool
	misses   int
}

// NewTracker returns a tracker. Non-positive arguments select the defaults.
func NewTracker(alpha float64, missFrames int) *Tracker {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultSmoothingAlpha
	}
	if missFrames <= 0 {
		missFrames = DefaultMissFrames
	}
	return &Tracker{Alpha: alpha, MissFrames: missFrames}
}

// Observe feeds the detection for one frame (nil for a miss) and returns the
// smoothed quad and whether the overlay should be shown.
func (t *Tracker) Observe(q *types.Quad) (types.Quad, bool) {
	if q == nil {
		if !t.visible {
			return types.Quad{}, false
		}
		t.misses++
		if t.misses >= t.MissFrames {
			t.Reset()
			return types.Quad{}, false
		}
		return t.smoothed, true
	}

	t.misses = 0
	if !t.visible {
		t.smoothed = *q
		t.visible = true
		return t.smoothed, true
	}

	t.smoothed = types.Quad{
		TopLeft:     lerp(t.smoothed.TopLeft, q.TopLeft, t.Alpha),
		TopRight:    lerp(t.smoothed.TopRight, q.TopRight, t.Alpha),
		BottomRight: lerp(t.smoothed.BottomRight, q.BottomRight, t.Alpha),
		BottomLeft:  lerp(t.smoothed.BottomLeft, q.BottomLeft, t.Alpha),
		Confidence:  q.Confidence,
		AspectRatio: q.AspectRatio,
	}
	return t.smoothed, true
}

// Current returns the tracked quad without feeding a frame.
func (t *Tracker) Current() (types.Quad, bool) {
	return t.smoothed, t.visible
}

// Reset drops the smoothing state and hides the overlay.
func (t *Tracker) Reset() {
	t.smoothed = types.Quad{}
	t.visible = false
	t.misses = 0
}

func lerp(from, to types.Point, alpha float64) types.Point {
	return types.Point{
		X: from.X + alpha*(to.X-from.X),
		Y: from.Y + alpha*(to.Y-from.Y),
	}
}
