// Package geometry implements the coordinate-space conversions and the
// perspective math used to rectify a photographed card.
//
// Three coordinate spaces are involved:
//
//   - sensor space: normalized [0,1], bottom-left origin, measured on the raw
//     buffer before orientation correction (this is what detectors report)
//   - pixel space: integer-ish pixel coordinates on the raw buffer, top-left origin
//   - display space: normalized [0,1], top-left origin, measured on the upright
//     preview as the user sees it (guide frames live here)
package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/menta2k/cardscan/pkg/types"
)

var (
	// ErrDegenerateQuad signals a quadrilateral enclosing no area.
	ErrDegenerateQuad = errors.New("degenerate quadrilateral")
	// ErrUnorderedQuad signals corners that are not clockwise from top-left.
	ErrUnorderedQuad = errors.New("quadrilateral corners are not ordered clockwise")
	// ErrOversizedWarp signals a rectified output larger than its source allows.
	ErrOversizedWarp = errors.New("warp output larger than source")
)

const (
	// minArea is the smallest normalized area accepted as non-degenerate.
	minArea = 1e-9
	// labelSlack is how far the top-left corner's x+y may exceed the smallest
	// x+y of the quad. Cards turned close to 45 degrees have two candidates.
	labelSlack = 0.05
)

// SignedArea returns the shoelace area of the points taken in order.
// With a y-down axis a positive value means the points run clockwise on screen.
func SignedArea(pts [4]types.Point) float64 {
	var sum float64
	for i := 0; i < 4; i++ {
		a, b := pts[i], pts[(i+1)%4]
		sum += a.X*b.Y - b.X*a.Y
	}
	return sum / 2
}

// flipY converts between bottom-left and top-left origin for normalized points.
func flipY(pts [4]types.Point) [4]types.Point {
	var out [4]types.Point
	for i, p := range pts {
		out[i] = types.Point{X: p.X, Y: 1 - p.Y}
	}
	return out
}

// ValidateQuad checks that a sensor-space quadrilateral is usable: every
// corner finite and inside [0,1], non-degenerate, convex and ordered clockwise
// starting at the top-left corner (the corner with the smallest x+y once the
// y axis points down).
func ValidateQuad(q types.Quad) error {
	pts := q.Points()
	for i, p := range pts {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return fmt.Errorf("corner %d is not finite: %w", i, ErrDegenerateQuad)
		}
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			return fmt.Errorf("corner %d (%g, %g) is outside the frame: %w", i, p.X, p.Y, ErrDegenerateQuad)
		}
	}

	down := flipY(pts)
	area := SignedArea(down)
	if math.Abs(area) < minArea {
		return ErrDegenerateQuad
	}
	if area < 0 {
		return ErrUnorderedQuad
	}
	if !isConvex(down) {
		return fmt.Errorf("quadrilateral is not convex: %w", ErrUnorderedQuad)
	}

	minSum := math.Inf(1)
	for _, p := range down {
		minSum = math.Min(minSum, p.X+p.Y)
	}
	if down[0].X+down[0].Y > minSum+labelSlack {
		return fmt.Errorf("top-left label is not on the top-left corner: %w", ErrUnorderedQuad)
	}
	return nil
}

// isConvex reports whether every turn along the polygon has the same sign.
func isConvex(pts [4]types.Point) bool {
	sign := 0
	for i := 0; i < 4; i++ {
		a, b, c := pts[i], pts[(i+1)%4], pts[(i+2)%4]
		cross := (b.X-a.X)*(c.Y-b.Y) - (b.Y-a.Y)*(c.X-b.X)
		if cross == 0 {
			continue
		}
		s := 1
		if cross < 0 {
			s = -1
		}
		if sign == 0 {
			sign = s
		} else if s != sign {
			return false
		}
	}
	return true
}

// OrderPoints orders four points as TL, TR, BR, BL in a y-down space.
// The top-left has the smallest x+y, the bottom-right the largest; the
// top-right has the smallest y-x and the bottom-left the largest.
func OrderPoints(pts [4]types.Point) [4]types.Point {
	var out [4]types.Point
	minSum, maxSum := math.Inf(1), math.Inf(-1)
	minDiff, maxDiff := math.Inf(1), math.Inf(-1)
	for _, p := range pts {
		s := p.X + p.Y
		d := p.Y - p.X
		if s < minSum {
			minSum, out[0] = s, p
		}
		if s > maxSum {
			maxSum, out[2] = s, p
		}
		if d < minDiff {
			minDiff, out[1] = d, p
		}
		if d > maxDiff {
			maxDiff, out[3] = d, p
		}
	}
	return out
}

// QuadFromPixels builds a sensor-space quad from pixel corners (TL, TR, BR, BL,
// y-down) measured on a w x h buffer.
func QuadFromPixels(pts [4]types.Point, w, h int, confidence float64) types.Quad {
	fw, fh := float64(w), float64(h)
	n := func(p types.Point) types.Point {
		return types.Point{X: p.X / fw, Y: 1 - p.Y/fh}
	}
	q := types.Quad{
		TopLeft:     n(pts[0]),
		TopRight:    n(pts[1]),
		BottomRight: n(pts[2]),
		BottomLeft:  n(pts[3]),
		Confidence:  confidence,
	}
	q.AspectRatio = AspectRatio(pts)
	return q
}

// QuadToPixels maps a sensor-space quad onto the pixel grid of a w x h buffer
// in the same (raw, un-rotated) orientation the detector saw.
func QuadToPixels(q types.Quad, w, h int) [4]types.Point {
	fw, fh := float64(w), float64(h)
	var out [4]types.Point
	for i, p := range q.Points() {
		out[i] = types.Point{X: p.X * fw, Y: (1 - p.Y) * fh}
	}
	return out
}

// EdgeLengths returns the rectified output size for TL, TR, BR, BL corners:
// the longer of each pair of opposite edges.
func EdgeLengths(pts [4]types.Point) (width, height float64) {
	top := dist(pts[0], pts[1])
	bottom := dist(pts[3], pts[2])
	left := dist(pts[0], pts[3])
	right := dist(pts[1], pts[2])
	return math.Max(top, bottom), math.Max(left, right)
}

// AspectRatio is the long side over the short side of the rectified quad.
func AspectRatio(pts [4]types.Point) float64 {
	w, h := EdgeLengths(pts)
	if w == 0 || h == 0 {
		return 0
	}
	if w < h {
		w, h = h, w
	}
	return w / h
}

func dist(a, b types.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
