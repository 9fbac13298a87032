package client

import (
	"context"
	"image"

	"github.com/menta2k/cardscan/pkg/types"
)

// DetectOptions tunes a single detection call.
type DetectOptions struct {
	// ROI restricts the search to a normalized, top-left origin region of the image.
	ROI            *types.Box
	MinAspectRatio float64
	MaxAspectRatio float64
	// MinSize is the minimum card area relative to the searched region.
	MinSize       float64
	MinConfidence float64
	// MaxDetections caps the outlines considered. Detectors return at most
	// one quad, so any value above one behaves like one and zero disables
	// detection.
	MaxDetections int
}

// Detector finds a card outline. It returns nil (and no error) when nothing
// passes the thresholds. Coordinates are in sensor space.
type Detector interface {
	Detect(ctx context.Context, img image.Image, opts DetectOptions) (*types.Quad, error)
}

// TextRecognizer turns an image into line-level text. An empty result is not an error.
type TextRecognizer interface {
	Name() string
	Recognize(ctx context.Context, img image.Image, languages []string) (types.OCRResult, error)
}

// VisionClient is a multimodal model that can answer a prompt about an image.
type VisionClient interface {
	Name() string
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
}
