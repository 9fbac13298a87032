package detection

import (
	"context"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/menta2k/cardscan/pkg/geometry"
	"github.com/menta2k/cardscan/pkg/types"
)

// createCardImage draws a white card of size cw x ch, centered at (cx, cy)
// and rotated by deg degrees, on a dark background.
func createCardImage(w, h int, cx, cy, cw, ch, deg float64) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	sin, cos := math.Sincos(deg * math.Pi / 180)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := float64(x)+0.5-cx, float64(y)+0.5-cy
			u := dx*cos + dy*sin
			v := -dx*sin + dy*cos
			c := color.NRGBA{30, 32, 35, 255}
			if math.Abs(u) <= cw/2 && math.Abs(v) <= ch/2 {
				c = color.NRGBA{245, 245, 240, 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestDetectAxisAlignedCard(t *testing.T) {
	d := NewDetector(zaptest.NewLogger(t))
	img := createCardImage(640, 480, 320, 240, 400, 240, 0)

	q, err := d.Detect(context.Background(), img, DefaultOptions())
	require.NoError(t, err)
	require.NotNil(t, q)

	assert.InDelta(t, 120.0/640, q.TopLeft.X, 0.01)
	assert.InDelta(t, 1-120.0/480, q.TopLeft.Y, 0.01)
	assert.InDelta(t, 520.0/640, q.BottomRight.X, 0.01)
	assert.InDelta(t, 1-360.0/480, q.BottomRight.Y, 0.01)
	assert.InDelta(t, 400.0/240, q.AspectRatio, 0.05)
	assert.Greater(t, q.Confidence, 0.9)
	assert.NoError(t, geometry.ValidateQuad(*q))
}

func TestDetectRotatedCard(t *testing.T) {
	d := NewDetector(zaptest.NewLogger(t))
	img := createCardImage(800, 600, 400, 300, 480, 280, 12)

	q, err := d.Detect(context.Background(), img, DefaultOptions())
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.NoError(t, geometry.ValidateQuad(*q))
	assert.InDelta(t, 480.0/280, q.AspectRatio, 0.15)
	assert.GreaterOrEqual(t, q.Confidence, 0.6)
}

func TestDetectRejections(t *testing.T) {
	tests := []struct {
		name string
		img  image.Image
	}{
		{name: "uniform", img: createCardImage(320, 240, 0, 0, 0, 0, 0)},
		{name: "too small", img: createCardImage(640, 480, 320, 240, 120, 70, 0)},
		{name: "square", img: createCardImage(640, 480, 320, 240, 300, 300, 0)},
		{name: "fills frame", img: createCardImage(640, 480, 320, 240, 640, 480, 0)},
	}

	d := NewDetector(zaptest.NewLogger(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := d.Detect(context.Background(), tt.img, DefaultOptions())
			require.NoError(t, err)
			assert.Nil(t, q)
		})
	}
}

func TestDetectROI(t *testing.T) {
	d := NewDetector(zaptest.NewLogger(t))
	img := createCardImage(640, 480, 320, 240, 400, 240, 0)

	opts := DefaultOptions()
	opts.ROI = &types.Box{X: 0, Y: 0, W: 0.15, H: 0.2}
	q, err := d.Detect(context.Background(), img, opts)
	require.NoError(t, err)
	assert.Nil(t, q, "card lies outside the region of interest")

	opts.ROI = &types.Box{X: 0.1, Y: 0.1, W: 0.8, H: 0.8}
	q, err = d.Detect(context.Background(), img, opts)
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.InDelta(t, 120.0/640, q.TopLeft.X, 0.01, "coordinates are relative to the full image")
	assert.InDelta(t, 1-120.0/480, q.TopLeft.Y, 0.01)
}

func TestDetectHonoursMaxDetections(t *testing.T) {
	img := createCardImage(640, 480, 320, 240, 400, 240, 0)
	opts := DefaultOptions()
	opts.MaxDetections = 0

	q, err := NewDetector(nil).Detect(context.Background(), img, opts)
	require.NoError(t, err)
	assert.Nil(t, q)

	opts.MaxDetections = 3
	q, err = NewDetector(nil).Detect(context.Background(), img, opts)
	require.NoError(t, err)
	assert.NotNil(t, q, "never more than one outline")
}

func TestDetectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDetector(nil).Detect(ctx, createCardImage(64, 48, 32, 24, 40, 24, 0), DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOtsu(t *testing.T) {
	lum := make([]uint8, 0, 200)
	for i := 0; i < 100; i++ {
		lum = append(lum, 20, 220)
	}
	th := otsu(lum)
	assert.GreaterOrEqual(t, th, uint8(20))
	assert.Less(t, th, uint8(220))
}
