package geometry

import (
	"image"
	"math"

	"github.com/menta2k/cardscan/pkg/types"
)

// Rect is an axis-aligned rectangle in pixel units, top-left origin.
type Rect struct {
	X, Y, W, H float64
}

// FillVisibleRect returns the part of an upright imgW x imgH image that is
// visible in a preview of size view under aspect-fill scaling (uniform
// scale-to-cover, centered crop). An empty view means the whole image.
func FillVisibleRect(imgW, imgH int, view types.Size) Rect {
	iw, ih := float64(imgW), float64(imgH)
	if view.W <= 0 || view.H <= 0 || iw <= 0 || ih <= 0 {
		return Rect{W: iw, H: ih}
	}
	s := math.Max(view.W/iw, view.H/ih)
	vw, vh := view.W/s, view.H/s
	return Rect{
		X: (iw - vw) / 2,
		Y: (ih - vh) / 2,
		W: vw,
		H: vh,
	}
}

// GuideToImageRect maps a display-space guide box onto the pixel grid of an
// upright imgW x imgH image, grows it by padding (a fraction of the box size
// on each side) and clamps it to the image. ok is false when nothing remains.
func GuideToImageRect(guide types.Box, imgW, imgH int, view types.Size, padding float64) (image.Rectangle, bool) {
	if guide.Empty() || imgW <= 0 || imgH <= 0 {
		return image.Rectangle{}, false
	}
	vis := FillVisibleRect(imgW, imgH, view)

	x := vis.X + guide.X*vis.W
	y := vis.Y + guide.Y*vis.H
	w := guide.W * vis.W
	h := guide.H * vis.H

	padX, padY := w*padding, h*padding
	r := image.Rect(
		int(math.Floor(x-padX)),
		int(math.Floor(y-padY)),
		int(math.Ceil(x+w+padX)),
		int(math.Ceil(y+h+padY)),
	).Intersect(image.Rect(0, 0, imgW, imgH))

	if r.Empty() {
		return image.Rectangle{}, false
	}
	return r, true
}
