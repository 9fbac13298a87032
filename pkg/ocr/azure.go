// Package ocr provides TextRecognizer implementations: Azure Computer Vision
// printed-text OCR and transcription by a multimodal model.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"strconv"
	"strings"

	"github.com/Azure/azure-sdk-for-go/services/cognitiveservices/v3.0/computervision"
	"github.com/Azure/go-autorest/autorest"
	"go.uber.org/zap"

	"github.com/menta2k/cardscan/pkg/client"
	"github.com/menta2k/cardscan/pkg/processing"
	"github.com/menta2k/cardscan/pkg/types"
)

// Azure's printed-text endpoint reports no per-line confidence.
const azureLineConfidence = 1.0

// AzureConfig configures the Azure recognizer.
type AzureConfig struct {
	Endpoint string
	Key      string
	// Language is used when Recognize is called without languages; "unk" lets
	// the service detect it.
	Language string
	// Enhance runs the grayscale/contrast chain before upload.
	Enhance bool
}

// AzureRecognizer handles OCR through Azure Computer Vision.
type AzureRecognizer struct {
	client    *computervision.BaseClient
	language  string
	enhance   bool
	processor *processing.Processor
	logger    *zap.Logger
}

var _ client.TextRecognizer = (*AzureRecognizer)(nil)

// NewAzureRecognizer creates a recognizer for the given endpoint and key.
func NewAzureRecognizer(cfg AzureConfig, logger *zap.Logger) (*AzureRecognizer, error) {
	if cfg.Endpoint == "" || cfg.Key == "" {
		return nil, fmt.Errorf("azure ocr: endpoint and key are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	lang := cfg.Language
	if lang == "" {
		lang = "unk"
	}

	c := computervision.New(strings.TrimSuffix(cfg.Endpoint, "/"))
	c.Authorizer = autorest.NewCognitiveServicesAuthorizer(cfg.Key)

	return &AzureRecognizer{
		client:    &c,
		language:  lang,
		enhance:   cfg.Enhance,
		processor: processing.NewProcessor(),
		logger:    logger,
	}, nil
}

// Name identifies the recognizer in provenance records.
func (r *AzureRecognizer) Name() string {
	return "azure:" + r.language
}

// Recognize uploads the image and returns one TextBox per recognized line.
// Only the first language is sent; the service accepts a single hint.
func (r *AzureRecognizer) Recognize(ctx context.Context, img image.Image, languages []string) (types.OCRResult, error) {
	if img == nil {
		return types.OCRResult{}, fmt.Errorf("azure ocr: nil image")
	}
	if r.enhance {
		img = r.processor.EnhanceForOCR(img)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}); err != nil {
		return types.OCRResult{}, fmt.Errorf("azure ocr: encode image: %w", err)
	}

	lang := r.language
	if len(languages) > 0 && languages[0] != "" {
		lang = languages[0]
	}

	result, err := r.client.RecognizePrintedTextInStream(
		ctx,
		true,
		io.NopCloser(&buf),
		computervision.OcrLanguages(lang),
	)
	if err != nil {
		return types.OCRResult{}, fmt.Errorf("failed to extract text: %w", err)
	}

	b := img.Bounds()
	boxes := linesFromResult(result, b.Dx(), b.Dy())
	r.logger.Debug("azure ocr complete", zap.Int("lines", len(boxes)), zap.String("language", lang))
	return types.NewOCRResult(boxes), nil
}

// linesFromResult flattens regions into lines in read order. Line boxes are
// "x,y,w,h" pixel strings and are normalized against the uploaded image.
func linesFromResult(result computervision.OcrResult, w, h int) []types.TextBox {
	if result.Regions == nil {
		return nil
	}
	var boxes []types.TextBox
	for _, region := range *result.Regions {
		if region.Lines == nil {
			continue
		}
		for _, line := range *region.Lines {
			if line.Words == nil {
				continue
			}
			words := make([]string, 0, len(*line.Words))
			for _, word := range *line.Words {
				if word.Text != nil && *word.Text != "" {
					words = append(words, *word.Text)
				}
			}
			if len(words) == 0 {
				continue
			}

			var box types.Box
			if line.BoundingBox != nil {
				box = parseBoundingBox(*line.BoundingBox, w, h)
			}
			boxes = append(boxes, types.TextBox{
				Text:       strings.Join(words, " "),
				Confidence: azureLineConfidence,
				Box:        box,
			})
		}
	}
	return boxes
}

func parseBoundingBox(s string, w, h int) types.Box {
	parts := strings.Split(s, ",")
	if len(parts) < 4 || w <= 0 || h <= 0 {
		return types.Box{}
	}
	var v [4]float64
	for i := 0; i < 4; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return types.Box{}
		}
		v[i] = float64(n)
	}
	return types.Box{
		X: v[0] / float64(w),
		Y: v[1] / float64(h),
		W: v[2] / float64(w),
		H: v[3] / float64(h),
	}
}
