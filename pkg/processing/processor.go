package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/cardscan/pkg/geometry"
	"github.com/menta2k/cardscan/pkg/types"
)

const maxDownloadSize = 32 << 20

// Processor handles image I/O and the pixel-level preparation done around a scan.
type Processor struct {
	httpClient *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// LoadImageFromURL downloads and loads an image from a URL
func (p *Processor) LoadImageFromURL(ctx context.Context, imageURL string) (image.Image, error) {
	// Validate URL
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "cardscan/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	imageData, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	return p.DecodeImage(imageData)
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders)
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := p.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("image: unknown format for %s", path)
	}
	return img, nil
}

// LoadImageSmart loads an image from either a file path or URL
func (p *Processor) LoadImageSmart(ctx context.Context, source string) (image.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.LoadImageFromURL(ctx, source)
	}
	return p.LoadImage(source)
}

// DecodeImage decodes an image from byte data with WebP support
func (p *Processor) DecodeImage(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// EnhanceForOCR raises text contrast before recognition: grayscale, stronger
// contrast, sharpening and a light gamma lift.
func (p *Processor) EnhanceForOCR(img image.Image) image.Image {
	out := imaging.Grayscale(img)
	out = imaging.AdjustContrast(out, 30)
	out = imaging.Sharpen(out, 1.5)
	out = imaging.AdjustBrightness(out, 10)
	return imaging.AdjustGamma(out, 1.2)
}

// EncodePreview produces the downscaled card thumbnail stored with a card.
// format is "webp" or "jpg".
func (p *Processor) EncodePreview(img image.Image, format string, maxDim, quality int) ([]byte, error) {
	if maxDim > 0 {
		img = fitWithin(img, maxDim)
	}
	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "webp":
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return nil, fmt.Errorf("encode webp preview: %w", err)
		}
	case "jpg", "jpeg", "":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg preview: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported preview format: %s", format)
	}
	return buf.Bytes(), nil
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		img = fitWithin(img, maxDim)
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// CreateDebugOverlay draws the detected card outline (green) and the guide
// frame (gold) over the captured image. Either may be nil.
func (p *Processor) CreateDebugOverlay(img image.Image, quad *types.Quad, guide *types.Box) image.Image {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	green := color.NRGBA{0, 255, 0, 255}
	gold := color.NRGBA{255, 204, 0, 255}
	red := color.NRGBA{255, 0, 0, 255}
	stroke := int(math.Max(2, 0.004*float64(min(w, h))))
	cross := int(math.Max(4, 0.01*float64(min(w, h))))

	if guide != nil && !guide.Empty() {
		drawBox(nrgba, *guide, w, h, gold, stroke)
	}

	if quad != nil {
		pts := geometry.QuadToPixels(*quad, w, h)
		for i := range pts {
			a, b := pts[i], pts[(i+1)%len(pts)]
			drawLine(nrgba, a, b, green, stroke)
		}
		// mark the top-left corner so ordering mistakes are visible
		tl := pts[0]
		px, py := int(tl.X+0.5), int(tl.Y+0.5)
		drawHLine(nrgba, py, px-cross, px+cross, red)
		drawVLine(nrgba, px, py-cross, py+cross, red)
	}

	return nrgba
}

func fitWithin(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}
	if w >= h {
		return imaging.Resize(img, maxDim, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, maxDim, imaging.Lanczos)
}

// Helper functions
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func boxToPixels(box types.Box, w, h int) (int, int, int, int) {
	x0 := int(clamp(box.X, 0, 1)*float64(w) + 0.5)
	y0 := int(clamp(box.Y, 0, 1)*float64(h) + 0.5)
	x1 := int(clamp(box.X+box.W, 0, 1)*float64(w) + 0.5)
	y1 := int(clamp(box.Y+box.H, 0, 1)*float64(h) + 0.5)
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	return x0, y0, x1, y1
}

func drawBox(img *image.NRGBA, box types.Box, w, h int, color color.NRGBA, stroke int) {
	x0, y0, x1, y1 := boxToPixels(box, w, h)
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, color)
		drawHLine(img, y1-1-s, x0, x1, color)
		drawVLine(img, x0+s, y0, y1, color)
		drawVLine(img, x1-1-s, y0, y1, color)
	}
}

// drawLine stamps a square brush of the given stroke along the segment a-b.
func drawLine(img *image.NRGBA, a, b types.Point, c color.NRGBA, stroke int) {
	steps := int(math.Max(math.Abs(b.X-a.X), math.Abs(b.Y-a.Y))) + 1
	half := stroke / 2
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := int(a.X + t*(b.X-a.X) + 0.5)
		y := int(a.Y + t*(b.Y-a.Y) + 0.5)
		for dy := -half; dy < stroke-half; dy++ {
			drawHLine(img, y+dy, x-half, x-half+stroke, c)
		}
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
