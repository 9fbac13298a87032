package cropper

import (
	"errors"
	"image"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/menta2k/cardscan/pkg/geometry"
	"github.com/menta2k/cardscan/pkg/types"
)

// ErrNoCardDetected is reported (and recovered from) when no usable card
// outline is available for perspective correction.
var ErrNoCardDetected = errors.New("no card detected")

// Strategy names how the output image was produced.
type Strategy string

const (
	StrategyPerspective Strategy = "perspective"
	StrategyGuide       Strategy = "guide"
	StrategyOriginal    Strategy = "original"
)

// Config holds configuration for correction.
type Config struct {
	// PaddingRatio grows the guide-frame crop on each side, as a fraction of the guide size.
	PaddingRatio float64
	// MaxOutputDim caps the long side of the corrected image. Zero disables the cap.
	MaxOutputDim int
}

// DefaultConfig returns the default correction settings.
func DefaultConfig() Config {
	return Config{
		PaddingRatio: 0.08,
		MaxOutputDim: 2000,
	}
}

// Corrector turns a captured frame into an upright card image for OCR.
type Corrector struct {
	config Config
	logger *zap.Logger
}

// New creates a Corrector with default configuration
func New() *Corrector {
	return NewWithConfig(DefaultConfig(), nil)
}

// NewWithConfig creates a Corrector with custom configuration
func NewWithConfig(config Config, logger *zap.Logger) *Corrector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.PaddingRatio < 0 {
		config.PaddingRatio = 0
	}
	return &Corrector{config: config, logger: logger}
}

// Input is one captured frame together with the geometry snapshotted at capture time.
type Input struct {
	// Image is the full-resolution raw buffer, not yet rotated upright.
	Image image.Image
	// Orientation rotates Image to upright.
	Orientation geometry.Orientation
	// Quad is the card outline in sensor space, measured on the raw buffer.
	Quad *types.Quad
	// Guide is the on-screen alignment box in display space.
	Guide *types.Box
	// Preview is the size of the preview the guide was drawn over.
	Preview types.Size
}

// Result contains the corrected image
type Result struct {
	Image       image.Image
	UsedCorners bool
	Strategy    Strategy
}

// Correct never fails: it tries perspective correction, then the guide-frame
// crop, and finally hands back the input image untouched.
func (c *Corrector) Correct(in Input) Result {
	if in.Image == nil {
		return Result{Strategy: StrategyOriginal}
	}

	img, err := c.perspective(in)
	if err == nil {
		return Result{Image: c.limit(img), UsedCorners: true, Strategy: StrategyPerspective}
	}
	c.logger.Debug("perspective correction unavailable", zap.Error(err))

	img, ok := c.guideCrop(in)
	if ok {
		return Result{Image: c.limit(img), Strategy: StrategyGuide}
	}
	c.logger.Debug("guide crop unavailable, using original image")

	return Result{Image: in.Image, Strategy: StrategyOriginal}
}

// perspective warps the quad on the raw buffer, then rotates the result upright.
// Rotating first would swap the axes the quad was measured in.
func (c *Corrector) perspective(in Input) (image.Image, error) {
	if in.Quad == nil {
		return nil, ErrNoCardDetected
	}
	if err := geometry.ValidateQuad(*in.Quad); err != nil {
		return nil, err
	}

	b := in.Image.Bounds()
	pts := geometry.QuadToPixels(*in.Quad, b.Dx(), b.Dy())
	warped, err := geometry.Warp(in.Image, pts)
	if err != nil {
		return nil, err
	}
	return in.Orientation.Apply(warped), nil
}

func (c *Corrector) guideCrop(in Input) (image.Image, bool) {
	if in.Guide == nil {
		return nil, false
	}
	upright := in.Orientation.Apply(in.Image)
	b := upright.Bounds()

	rect, ok := geometry.GuideToImageRect(*in.Guide, b.Dx(), b.Dy(), in.Preview, c.config.PaddingRatio)
	if !ok {
		return nil, false
	}
	return imaging.Crop(upright, rect.Add(b.Min)), true
}

func (c *Corrector) limit(img image.Image) image.Image {
	maxDim := c.config.MaxOutputDim
	if maxDim <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= maxDim && b.Dy() <= maxDim {
		return img
	}
	return imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
}
