package detection

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/menta2k/cardscan/pkg/client"
	"github.com/menta2k/cardscan/pkg/geometry"
	"github.com/menta2k/cardscan/pkg/types"
)

const (
	// workingSize is the long side the image is reduced to before analysis.
	workingSize = 512
	// maxAreaRatio rejects regions that are really the background.
	maxAreaRatio = 0.85
)

// DefaultOptions returns the thresholds used for business cards.
func DefaultOptions() client.DetectOptions {
	return client.DetectOptions{
		MinAspectRatio: 1.2,
		MaxAspectRatio: 2.2,
		MinSize:        0.2,
		MinConfidence:  0.6,
		MaxDetections:  1,
	}
}

// CardDetector locates a bright card on a darker background.
//
// The frame is downscaled, blurred and binarized with Otsu's threshold; the
// largest bright connected region is taken as the card and its outline is
// approximated by the extreme points along both diagonals.
type CardDetector struct {
	logger *zap.Logger
}

var _ client.Detector = (*CardDetector)(nil)

// NewDetector creates a new card detector
func NewDetector(logger *zap.Logger) *CardDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CardDetector{logger: logger}
}

// Detect returns the best card outline in sensor space, or nil.
func (d *CardDetector) Detect(ctx context.Context, img image.Image, opts client.DetectOptions) (*types.Quad, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img == nil || opts.MaxDetections < 1 {
		return nil, nil
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, nil
	}

	region := bounds
	if opts.ROI != nil && !opts.ROI.Empty() {
		region = roiRect(*opts.ROI, bounds)
		if region.Empty() {
			return nil, nil
		}
	}

	src := image.Image(imaging.Crop(img, region))
	if region.Dx() > workingSize || region.Dy() > workingSize {
		src = imaging.Fit(src, workingSize, workingSize, imaging.Box)
	}
	gray := imaging.Grayscale(imaging.Blur(src, 1.0))

	comp, ok := largestBrightRegion(gray)
	if !ok {
		d.logger.Debug("no bright region found")
		return nil, nil
	}

	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	areaRatio := float64(comp.count) / float64(w*h)
	if areaRatio < opts.MinSize || areaRatio > maxAreaRatio {
		d.logger.Debug("region rejected by size", zap.Float64("area_ratio", areaRatio))
		return nil, nil
	}

	pts := comp.corners()
	quadArea := math.Abs(geometry.SignedArea(pts))
	if quadArea < 1 {
		return nil, nil
	}
	confidence := math.Min(1, float64(comp.count)/quadArea)
	aspect := geometry.AspectRatio(pts)

	if opts.MinAspectRatio > 0 && aspect < opts.MinAspectRatio ||
		opts.MaxAspectRatio > 0 && aspect > opts.MaxAspectRatio {
		d.logger.Debug("region rejected by aspect ratio", zap.Float64("aspect", aspect))
		return nil, nil
	}
	if confidence < opts.MinConfidence {
		d.logger.Debug("region rejected by confidence", zap.Float64("confidence", confidence))
		return nil, nil
	}

	// back to full-image pixels
	sx := float64(region.Dx()) / float64(w)
	sy := float64(region.Dy()) / float64(h)
	for i := range pts {
		pts[i].X = pts[i].X*sx + float64(region.Min.X-bounds.Min.X)
		pts[i].Y = pts[i].Y*sy + float64(region.Min.Y-bounds.Min.Y)
	}

	q := geometry.QuadFromPixels(pts, bounds.Dx(), bounds.Dy(), confidence)
	if err := geometry.ValidateQuad(q); err != nil {
		d.logger.Debug("region outline rejected", zap.Error(err))
		return nil, nil
	}
	return &q, nil
}

func roiRect(roi types.Box, b image.Rectangle) image.Rectangle {
	w, h := float64(b.Dx()), float64(b.Dy())
	r := image.Rect(
		b.Min.X+int(math.Floor(roi.X*w)),
		b.Min.Y+int(math.Floor(roi.Y*h)),
		b.Min.X+int(math.Ceil((roi.X+roi.W)*w)),
		b.Min.Y+int(math.Ceil((roi.Y+roi.H)*h)),
	)
	return r.Intersect(b)
}

// component is a 4-connected set of foreground pixels, summarized by its
// extreme points along both diagonals.
type component struct {
	count            int
	tl, tr, br, bl   image.Point
	minSum, maxSum   int
	minDiff, maxDiff int
}

func (c *component) add(x, y int) {
	s, d := x+y, y-x
	if c.count == 0 {
		c.minSum, c.maxSum, c.minDiff, c.maxDiff = s, s, d, d
		c.tl, c.br, c.tr, c.bl = image.Pt(x, y), image.Pt(x, y), image.Pt(x, y), image.Pt(x, y)
	}
	c.count++
	if s < c.minSum {
		c.minSum, c.tl = s, image.Pt(x, y)
	}
	if s > c.maxSum {
		c.maxSum, c.br = s, image.Pt(x, y)
	}
	if d < c.minDiff {
		c.minDiff, c.tr = d, image.Pt(x, y)
	}
	if d > c.maxDiff {
		c.maxDiff, c.bl = d, image.Pt(x, y)
	}
}

// corners returns TL, TR, BR, BL in pixel units, covering the outer pixel edges.
func (c *component) corners() [4]types.Point {
	return [4]types.Point{
		{X: float64(c.tl.X), Y: float64(c.tl.Y)},
		{X: float64(c.tr.X + 1), Y: float64(c.tr.Y)},
		{X: float64(c.br.X + 1), Y: float64(c.br.Y + 1)},
		{X: float64(c.bl.X), Y: float64(c.bl.Y + 1)},
	}
}

// largestBrightRegion binarizes gray with Otsu's threshold and returns the
// largest 4-connected bright component.
func largestBrightRegion(gray *image.NRGBA) (component, bool) {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	lum := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < w; x++ {
			lum[y*w+x] = row[x*4]
		}
	}

	t := otsu(lum)
	visited := make([]bool, w*h)
	queue := make([]int, 0, 1024)
	var best component

	for start := range lum {
		if visited[start] || lum[start] <= t {
			continue
		}
		var c component
		visited[start] = true
		queue = append(queue[:0], start)
		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := i%w, i/w
			c.add(x, y)

			if x > 0 {
				queue = visit(queue, visited, lum, t, i-1)
			}
			if x < w-1 {
				queue = visit(queue, visited, lum, t, i+1)
			}
			if y > 0 {
				queue = visit(queue, visited, lum, t, i-w)
			}
			if y < h-1 {
				queue = visit(queue, visited, lum, t, i+w)
			}
		}
		if c.count > best.count {
			best = c
		}
	}
	return best, best.count > 0
}

func visit(queue []int, visited []bool, lum []uint8, t uint8, i int) []int {
	if visited[i] || lum[i] <= t {
		return queue
	}
	visited[i] = true
	return append(queue, i)
}

// otsu returns the threshold maximizing between-class variance.
func otsu(lum []uint8) uint8 {
	var hist [256]int
	for _, v := range lum {
		hist[v]++
	}
	total := float64(len(lum))
	var sum float64
	for i, n := range hist {
		sum += float64(i * n)
	}

	var sumB, wB, best float64
	var threshold uint8
	for i, n := range hist {
		wB += float64(n)
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(i * n)
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = uint8(i)
		}
	}
	return threshold
}
