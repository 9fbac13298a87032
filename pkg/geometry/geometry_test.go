package geometry

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/cardscan/pkg/types"
)

// sensorQuad builds a quad in bottom-left origin space from top-left origin corners.
func sensorQuad(tl, tr, br, bl types.Point) types.Quad {
	f := func(p types.Point) types.Point { return types.Point{X: p.X, Y: 1 - p.Y} }
	return types.Quad{TopLeft: f(tl), TopRight: f(tr), BottomRight: f(br), BottomLeft: f(bl), Confidence: 0.9}
}

// cardImage draws a white rectangle on a dark background.
func cardImage(w, h int, card image.Rectangle) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{30, 30, 30, 255}
			if image.Pt(x, y).In(card) {
				c = color.NRGBA{250, 250, 250, 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestValidateQuad(t *testing.T) {
	good := sensorQuad(
		types.Point{X: 0.1, Y: 0.2}, types.Point{X: 0.9, Y: 0.2},
		types.Point{X: 0.9, Y: 0.8}, types.Point{X: 0.1, Y: 0.8},
	)

	tests := []struct {
		name    string
		quad    types.Quad
		wantErr error
	}{
		{name: "clockwise", quad: good},
		{
			name: "counter-clockwise",
			quad: types.Quad{
				TopLeft: good.TopLeft, TopRight: good.BottomLeft,
				BottomRight: good.BottomRight, BottomLeft: good.TopRight,
			},
			wantErr: ErrUnorderedQuad,
		},
		{
			name: "collinear",
			quad: sensorQuad(
				types.Point{X: 0.1, Y: 0.1}, types.Point{X: 0.2, Y: 0.2},
				types.Point{X: 0.3, Y: 0.3}, types.Point{X: 0.4, Y: 0.4},
			),
			wantErr: ErrDegenerateQuad,
		},
		{name: "all zero", quad: types.Quad{}, wantErr: ErrDegenerateQuad},
		{
			name: "not finite",
			quad: types.Quad{TopLeft: types.Point{X: math.NaN()}},
			wantErr: ErrDegenerateQuad,
		},
		{
			name: "outside the frame",
			quad: types.Quad{
				TopLeft: types.Point{X: 0, Y: 1}, TopRight: types.Point{X: 1e7, Y: 1},
				BottomRight: types.Point{X: 1e7, Y: 0}, BottomLeft: types.Point{X: 0, Y: 0},
			},
			wantErr: ErrDegenerateQuad,
		},
		{
			name:    "negative corner",
			quad:    sensorQuad(types.Point{X: -0.1, Y: 0.2}, good.TopRight, good.BottomRight, good.BottomLeft),
			wantErr: ErrDegenerateQuad,
		},
		{
			name: "clockwise from the wrong corner",
			quad: types.Quad{
				TopLeft: good.TopRight, TopRight: good.BottomRight,
				BottomRight: good.BottomLeft, BottomLeft: good.TopLeft,
			},
			wantErr: ErrUnorderedQuad,
		},
		{
			name: "turned 45 degrees",
			quad: sensorQuad(
				types.Point{X: 0.1, Y: 0.5}, types.Point{X: 0.5, Y: 0.1},
				types.Point{X: 0.9, Y: 0.5}, types.Point{X: 0.5, Y: 0.9},
			),
		},
		{
			name: "self intersecting",
			quad: sensorQuad(
				types.Point{X: 0.1, Y: 0.1}, types.Point{X: 0.9, Y: 0.9},
				types.Point{X: 0.9, Y: 0.1}, types.Point{X: 0.1, Y: 0.9},
			),
			wantErr: ErrDegenerateQuad,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQuad(tt.quad)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestOrderPoints(t *testing.T) {
	tl := types.Point{X: 10, Y: 12}
	tr := types.Point{X: 200, Y: 5}
	br := types.Point{X: 210, Y: 120}
	bl := types.Point{X: 4, Y: 118}

	got := OrderPoints([4]types.Point{br, tl, bl, tr})
	assert.Equal(t, [4]types.Point{tl, tr, br, bl}, got)
}

func TestQuadPixelRoundTrip(t *testing.T) {
	pts := [4]types.Point{{X: 40, Y: 30}, {X: 360, Y: 30}, {X: 360, Y: 270}, {X: 40, Y: 270}}
	q := QuadFromPixels(pts, 400, 300, 0.8)

	assert.InDelta(t, 0.1, q.TopLeft.X, 1e-9)
	assert.InDelta(t, 0.9, q.TopLeft.Y, 1e-9, "sensor space has a bottom-left origin")
	assert.InDelta(t, 320.0/240.0, q.AspectRatio, 1e-9)
	require.NoError(t, ValidateQuad(q))

	back := QuadToPixels(q, 400, 300)
	for i := range pts {
		assert.InDelta(t, pts[i].X, back[i].X, 1e-6)
		assert.InDelta(t, pts[i].Y, back[i].Y, 1e-6)
	}
}

func TestWarpAxisAligned(t *testing.T) {
	img := cardImage(400, 300, image.Rect(50, 40, 350, 260))
	pts := [4]types.Point{{X: 50, Y: 40}, {X: 350, Y: 40}, {X: 350, Y: 260}, {X: 50, Y: 260}}

	out, err := Warp(img, pts)
	require.NoError(t, err)
	assert.Equal(t, 300, out.Bounds().Dx())
	assert.Equal(t, 220, out.Bounds().Dy())

	c := out.NRGBAAt(150, 110)
	assert.Equal(t, uint8(250), c.R)
}

func TestWarpIdentity(t *testing.T) {
	img := cardImage(64, 48, image.Rect(10, 10, 30, 20))
	pts := [4]types.Point{{X: 0, Y: 0}, {X: 64, Y: 0}, {X: 64, Y: 48}, {X: 0, Y: 48}}

	out, err := Warp(img, pts)
	require.NoError(t, err)
	require.Equal(t, img.Bounds(), out.Bounds())

	for _, p := range []image.Point{{0, 0}, {15, 15}, {63, 47}, {9, 9}, {10, 10}} {
		assert.Equal(t, img.NRGBAAt(p.X, p.Y), out.NRGBAAt(p.X, p.Y), "pixel %v", p)
	}
}

func TestWarpPerspectiveHasPositiveExtent(t *testing.T) {
	img := cardImage(640, 480, image.Rect(100, 100, 540, 380))
	quads := [][4]types.Point{
		{{X: 120, Y: 90}, {X: 520, Y: 130}, {X: 540, Y: 400}, {X: 80, Y: 370}},
		{{X: 300, Y: 50}, {X: 600, Y: 240}, {X: 300, Y: 430}, {X: 20, Y: 240}},
		{{X: 0, Y: 0}, {X: 2, Y: 0}, {X: 2, Y: 1}, {X: 0, Y: 1}},
	}
	for _, pts := range quads {
		out, err := Warp(img, pts)
		require.NoError(t, err)
		assert.Positive(t, out.Bounds().Dx())
		assert.Positive(t, out.Bounds().Dy())
	}
}

func TestWarpDegenerate(t *testing.T) {
	img := cardImage(100, 100, image.Rect(10, 10, 90, 90))
	quads := [][4]types.Point{
		{},
		{{X: 10, Y: 10}, {X: 50, Y: 50}, {X: 90, Y: 90}, {X: 30, Y: 30}},
		{{X: 10, Y: 10}, {X: 90, Y: 10}, {X: 90, Y: 10}, {X: 10, Y: 10}},
	}
	for _, pts := range quads {
		_, err := Warp(img, pts)
		assert.ErrorIs(t, err, ErrDegenerateQuad)
	}
}

func TestWarpRejectsOversizedOutput(t *testing.T) {
	img := cardImage(100, 100, image.Rect(10, 10, 90, 90))
	pts := [4]types.Point{{X: 0, Y: 0}, {X: 1e7, Y: 0}, {X: 1e7, Y: 100}, {X: 0, Y: 100}}

	_, err := Warp(img, pts)
	assert.ErrorIs(t, err, ErrOversizedWarp)
}

func TestFillVisibleRect(t *testing.T) {
	tests := []struct {
		name string
		w, h int
		view types.Size
		want Rect
	}{
		{name: "portrait image, square view", w: 1000, h: 2000, view: types.Size{W: 500, H: 500}, want: Rect{X: 0, Y: 500, W: 1000, H: 1000}},
		{name: "landscape image, portrait view", w: 1600, h: 900, view: types.Size{W: 90, H: 160}, want: Rect{X: 546.875, Y: 0, W: 506.25, H: 900}},
		{name: "same aspect", w: 400, h: 300, view: types.Size{W: 800, H: 600}, want: Rect{W: 400, H: 300}},
		{name: "no view", w: 400, h: 300, want: Rect{W: 400, H: 300}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FillVisibleRect(tt.w, tt.h, tt.view)
			assert.InDelta(t, tt.want.X, got.X, 1e-9)
			assert.InDelta(t, tt.want.Y, got.Y, 1e-9)
			assert.InDelta(t, tt.want.W, got.W, 1e-9)
			assert.InDelta(t, tt.want.H, got.H, 1e-9)
		})
	}
}

func TestGuideToImageRect(t *testing.T) {
	view := types.Size{W: 500, H: 500}

	r, ok := GuideToImageRect(types.Box{X: 0.1, Y: 0.3, W: 0.8, H: 0.4}, 1000, 2000, view, 0.08)
	require.True(t, ok)
	assert.Equal(t, image.Rect(36, 768, 964, 1232), r)

	r, ok = GuideToImageRect(types.Box{X: 0, Y: 0, W: 1, H: 1}, 1000, 2000, view, 0.08)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 420, 1000, 1580), r, "padding is clamped to the image")

	_, ok = GuideToImageRect(types.Box{}, 1000, 2000, view, 0.08)
	assert.False(t, ok)
}

func TestOrientation(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	img.SetNRGBA(0, 0, color.NRGBA{255, 0, 0, 255})

	up := OrientationRight.Apply(img)
	assert.Equal(t, 2, up.Bounds().Dx())
	assert.Equal(t, 4, up.Bounds().Dy())
	r, _, _, _ := up.At(1, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r, "raw top-left ends up top-right after a clockwise turn")

	w, h := OrientationLeft.UprightSize(4, 2)
	assert.Equal(t, []int{2, 4}, []int{w, h})

	rawTopLeft := types.Point{X: 0, Y: 1}
	assert.Equal(t, types.Point{X: 0, Y: 0}, OrientationUp.SensorToDisplay(rawTopLeft))
	assert.Equal(t, types.Point{X: 1, Y: 0}, OrientationRight.SensorToDisplay(rawTopLeft))
	assert.Equal(t, types.Point{X: 1, Y: 1}, OrientationDown.SensorToDisplay(rawTopLeft))
	assert.Equal(t, types.Point{X: 0, Y: 1}, OrientationLeft.SensorToDisplay(rawTopLeft))

	o, err := ParseOrientation("90")
	require.NoError(t, err)
	assert.Equal(t, OrientationRight, o)
	_, err = ParseOrientation("sideways")
	assert.Error(t, err)
}

func TestTrackerSmoothing(t *testing.T) {
	tr := NewTracker(0, 0)
	first := types.Quad{TopLeft: types.Point{X: 0, Y: 1}, TopRight: types.Point{X: 1, Y: 1}}
	second := types.Quad{TopLeft: types.Point{X: 1, Y: 0}, TopRight: types.Point{X: 0, Y: 0}}

	got, visible := tr.Observe(&first)
	require.True(t, visible)
	assert.Equal(t, first, got, "first detection is taken as-is")

	got, _ = tr.Observe(&second)
	assert.InDelta(t, 0.3, got.TopLeft.X, 1e-9)
	assert.InDelta(t, 0.7, got.TopLeft.Y, 1e-9)
	assert.InDelta(t, 0.7, got.TopRight.X, 1e-9)
}

func TestTrackerHidesAfterMisses(t *testing.T) {
	tr := NewTracker(0.3, 10)
	q := types.Quad{TopLeft: types.Point{X: 0.5, Y: 0.5}}
	tr.Observe(&q)

	for i := 1; i < 10; i++ {
		_, visible := tr.Observe(nil)
		require.True(t, visible, "miss %d keeps the overlay", i)
	}
	_, visible := tr.Observe(nil)
	assert.False(t, visible)

	fresh := types.Quad{TopLeft: types.Point{X: 0.1, Y: 0.9}}
	got, visible := tr.Observe(&fresh)
	assert.True(t, visible)
	assert.Equal(t, fresh, got, "smoothing restarts after the overlay was hidden")
}

func TestTrackerShortGapKeepsSmoothing(t *testing.T) {
	tr := NewTracker(0.5, 10)
	a := types.Quad{TopLeft: types.Point{X: 0, Y: 0}}
	b := types.Quad{TopLeft: types.Point{X: 1, Y: 1}}
	tr.Observe(&a)
	tr.Observe(nil)
	tr.Observe(nil)

	got, visible := tr.Observe(&b)
	assert.True(t, visible)
	assert.InDelta(t, 0.5, got.TopLeft.X, 1e-9)
}
