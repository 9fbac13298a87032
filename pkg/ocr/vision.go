package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	"go.uber.org/zap"

	"github.com/menta2k/cardscan/pkg/client"
	"github.com/menta2k/cardscan/pkg/processing"
	"github.com/menta2k/cardscan/pkg/types"
)

const transcribePrompt = `Transcribe every line of printed text on this business card exactly as it appears.
Output one line of card text per line, top to bottom, left to right.
Do not add commentary, labels, markdown or translations.`

// VisionRecognizer transcribes card text with a multimodal model. The model
// reports no confidence or positions, so lines carry zero confidence and an
// empty box.
type VisionRecognizer struct {
	vision    client.VisionClient
	processor *processing.Processor
	sendSize  int
	sendQ     int
	logger    *zap.Logger
}

var _ client.TextRecognizer = (*VisionRecognizer)(nil)

// NewVisionRecognizer wraps a vision client. Images are downscaled so the long
// side is at most sendSize pixels (0 keeps the original size).
func NewVisionRecognizer(vision client.VisionClient, sendSize int, logger *zap.Logger) *VisionRecognizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VisionRecognizer{
		vision:    vision,
		processor: processing.NewProcessor(),
		sendSize:  sendSize,
		sendQ:     85,
		logger:    logger,
	}
}

// Name identifies the recognizer in provenance records.
func (r *VisionRecognizer) Name() string {
	return "vision:" + r.vision.Name()
}

// Recognize asks the model for a line-by-line transcription.
func (r *VisionRecognizer) Recognize(ctx context.Context, img image.Image, languages []string) (types.OCRResult, error) {
	if img == nil {
		return types.OCRResult{}, fmt.Errorf("vision ocr: nil image")
	}
	imgB64, err := r.processor.PrepareImageForModel(img, "jpg", r.sendSize, r.sendQ)
	if err != nil {
		return types.OCRResult{}, fmt.Errorf("vision ocr: prepare image: %w", err)
	}

	prompt := transcribePrompt
	if len(languages) > 0 {
		prompt += "\nThe card is expected to be in: " + strings.Join(languages, ", ") + "."
	}

	reply, err := r.vision.SimpleQuery(ctx, "", prompt, imgB64)
	if err != nil {
		return types.OCRResult{}, fmt.Errorf("vision ocr: %w", err)
	}

	boxes := transcriptLines(reply)
	r.logger.Debug("vision transcription complete", zap.Int("lines", len(boxes)))
	return types.NewOCRResult(boxes), nil
}

// transcriptLines splits a reply into non-empty lines, dropping any code fence
// markers the model wrapped around the text.
func transcriptLines(reply string) []types.TextBox {
	var boxes []types.TextBox
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		boxes = append(boxes, types.TextBox{Text: line})
	}
	return boxes
}
