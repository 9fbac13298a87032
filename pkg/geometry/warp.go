package geometry

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/cardscan/pkg/types"
)

// homography maps the unit square onto a quadrilateral:
//
//	x = (a*u + b*v + c) / (g*u + h*v + 1)
//	y = (d*u + e*v + f) / (g*u + h*v + 1)
type homography struct {
	a, b, c, d, e, f, g, h float64
}

// squareToQuad computes the projective map taking (0,0), (1,0), (1,1), (0,1)
// onto TL, TR, BR, BL (Heckbert's closed form).
func squareToQuad(pts [4]types.Point) (homography, error) {
	x0, y0 := pts[0].X, pts[0].Y
	x1, y1 := pts[1].X, pts[1].Y
	x2, y2 := pts[2].X, pts[2].Y
	x3, y3 := pts[3].X, pts[3].Y

	sx := x0 - x1 + x2 - x3
	sy := y0 - y1 + y2 - y3
	if sx == 0 && sy == 0 {
		return homography{
			a: x1 - x0, b: x3 - x0, c: x0,
			d: y1 - y0, e: y3 - y0, f: y0,
		}, nil
	}

	dx1, dx2 := x1-x2, x3-x2
	dy1, dy2 := y1-y2, y3-y2
	den := dx1*dy2 - dx2*dy1
	if math.Abs(den) < 1e-12 {
		return homography{}, ErrDegenerateQuad
	}
	g := (sx*dy2 - dx2*sy) / den
	h := (dx1*sy - sx*dy1) / den

	return homography{
		a: x1 - x0 + g*x1, b: x3 - x0 + h*x3, c: x0,
		d: y1 - y0 + g*y1, e: y3 - y0 + h*y3, f: y0,
		g: g, h: h,
	}, nil
}

func (m homography) apply(u, v float64) (float64, float64) {
	w := m.g*u + m.h*v + 1
	return (m.a*u + m.b*v + m.c) / w, (m.d*u + m.e*v + m.f) / w
}

// Warp rectifies the pixel-space quadrilateral pts (TL, TR, BR, BL, y-down) of
// img into an upright rectangle. Corners are measured from img.Bounds().Min.
// The output size is the longer of each pair of opposite edges. A quad
// enclosing no area yields ErrDegenerateQuad; an edge longer than the source
// diagonal yields ErrOversizedWarp.
func Warp(img image.Image, pts [4]types.Point) (*image.NRGBA, error) {
	if img == nil {
		return nil, fmt.Errorf("warp: nil image")
	}
	if math.Abs(SignedArea(pts)) < 1 {
		return nil, ErrDegenerateQuad
	}

	ew, eh := EdgeLengths(pts)
	width, height := int(math.Ceil(ew)), int(math.Ceil(eh))
	if width <= 0 || height <= 0 {
		return nil, ErrDegenerateQuad
	}
	// No edge of a quad inside the source can outrun its diagonal.
	b := img.Bounds()
	if diag := math.Ceil(math.Hypot(float64(b.Dx()), float64(b.Dy()))); ew > diag || eh > diag {
		return nil, fmt.Errorf("warp: %dx%d output exceeds a %dx%d source: %w", width, height, b.Dx(), b.Dy(), ErrOversizedWarp)
	}

	m, err := squareToQuad(pts)
	if err != nil {
		return nil, err
	}

	src := imaging.Clone(img)
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	fw, fh := float64(width), float64(height)

	for y := 0; y < height; y++ {
		v := (float64(y) + 0.5) / fh
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < width; x++ {
			u := (float64(x) + 0.5) / fw
			sx, sy := m.apply(u, v)
			r, g, b, a := bilinear(src, sx-0.5, sy-0.5)
			i := x * 4
			row[i+0] = r
			row[i+1] = g
			row[i+2] = b
			row[i+3] = a
		}
	}
	return dst, nil
}

// bilinear samples src at fractional pixel coordinates, clamping to the edges.
func bilinear(src *image.NRGBA, fx, fy float64) (uint8, uint8, uint8, uint8) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if math.IsNaN(fx) || math.IsNaN(fy) {
		return 0, 0, 0, 0
	}
	fx = clamp(fx, 0, float64(w-1))
	fy = clamp(fy, 0, float64(h-1))

	x0, y0 := int(fx), int(fy)
	x1, y1 := min(x0+1, w-1), min(y0+1, h-1)
	tx, ty := fx-float64(x0), fy-float64(y0)

	p00 := src.Pix[y0*src.Stride+x0*4:]
	p10 := src.Pix[y0*src.Stride+x1*4:]
	p01 := src.Pix[y1*src.Stride+x0*4:]
	p11 := src.Pix[y1*src.Stride+x1*4:]

	var out [4]uint8
	for c := 0; c < 4; c++ {
		top := float64(p00[c])*(1-tx) + float64(p10[c])*tx
		bottom := float64(p01[c])*(1-tx) + float64(p11[c])*tx
		out[c] = uint8(clamp(math.Round(top*(1-ty)+bottom*ty), 0, 255))
	}
	return out[0], out[1], out[2], out[3]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
