package geometry

import (
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/cardscan/pkg/types"
)

// Orientation describes how a raw sensor buffer must be rotated to be upright.
type Orientation int

const (
	OrientationUp    Orientation = iota // already upright
	OrientationRight                    // rotate 90° clockwise
	OrientationDown                     // rotate 180°
	OrientationLeft                     // rotate 90° counter-clockwise
)

func (o Orientation) String() string {
	switch o {
	case OrientationUp:
		return "up"
	case OrientationRight:
		return "right"
	case OrientationDown:
		return "down"
	case OrientationLeft:
		return "left"
	default:
		return fmt.Sprintf("orientation(%d)", int(o))
	}
}

// ParseOrientation accepts up/right/down/left (case-insensitive) or the
// clockwise angle 0/90/180/270. An empty string means up.
func ParseOrientation(s string) (Orientation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "up", "0":
		return OrientationUp, nil
	case "right", "90":
		return OrientationRight, nil
	case "down", "180":
		return OrientationDown, nil
	case "left", "270":
		return OrientationLeft, nil
	}
	return OrientationUp, fmt.Errorf("unknown orientation %q", s)
}

// Apply rotates img to upright.
func (o Orientation) Apply(img image.Image) image.Image {
	switch o {
	case OrientationRight:
		return imaging.Rotate270(img)
	case OrientationDown:
		return imaging.Rotate180(img)
	case OrientationLeft:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// UprightSize returns the dimensions of a w x h raw buffer once upright.
func (o Orientation) UprightSize(w, h int) (int, int) {
	if o == OrientationRight || o == OrientationLeft {
		return h, w
	}
	return w, h
}

// SensorToDisplay converts a sensor-space point (bottom-left origin, raw
// buffer) to display space (top-left origin, upright).
func (o Orientation) SensorToDisplay(p types.Point) types.Point {
	rx, ry := p.X, 1-p.Y
	switch o {
	case OrientationRight:
		return types.Point{X: 1 - ry, Y: rx}
	case OrientationDown:
		return types.Point{X: 1 - rx, Y: 1 - ry}
	case OrientationLeft:
		return types.Point{X: ry, Y: 1 - rx}
	default:
		return types.Point{X: rx, Y: ry}
	}
}
