// Package pipeline orchestrates a single card scan: geometry correction,
// text recognition, structured extraction and card assembly.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/menta2k/cardscan/internal/metrics"
	"github.com/menta2k/cardscan/pkg/client"
	"github.com/menta2k/cardscan/pkg/cropper"
	"github.com/menta2k/cardscan/pkg/extraction"
	"github.com/menta2k/cardscan/pkg/geometry"
	"github.com/menta2k/cardscan/pkg/processing"
	"github.com/menta2k/cardscan/pkg/types"
)

// ErrNoTextExtracted means recognition produced no usable text.
var ErrNoTextExtracted = errors.New("no text extracted from image")

// State is a step of the per-scan state machine.
type State int

const (
	StateIdle State = iota
	StateDetecting
	StateRecognizing
	StateExtracting
	StateAssembled
	// StateOCROnly ends a scan with recognized text but no structured record.
	StateOCROnly
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDetecting:
		return "detecting"
	case StateRecognizing:
		return "recognizing"
	case StateExtracting:
		return "extracting"
	case StateAssembled:
		return "assembled"
	case StateOCROnly:
		return "ocr_only"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config tunes a Pipeline.
type Config struct {
	Languages []string
	// DetectionEnabled turns on the detector pass when no live quad was captured
	// or correction could not use it.
	DetectionEnabled bool
	Detect           client.DetectOptions
	// PreviewFormat is "webp" or "jpg"; empty disables stored previews.
	PreviewFormat  string
	PreviewMaxDim  int
	PreviewQuality int
}

// DefaultConfig returns the default pipeline settings.
func DefaultConfig() Config {
	return Config{
		Languages:        []string{"en"},
		DetectionEnabled: true,
		Detect: client.DetectOptions{
			MinAspectRatio: 1.2,
			MaxAspectRatio: 2.2,
			MinSize:        0.2,
			MinConfidence:  0.6,
			MaxDetections:  1,
		},
		PreviewFormat:  "webp",
		PreviewMaxDim:  480,
		PreviewQuality: 75,
	}
}

// Deps are the collaborators a Pipeline drives. Detector and Extractor are optional:
// without a detector only the captured quad is used, without an extractor only
// RecognizeOnly is available.
type Deps struct {
	Detector   client.Detector
	Corrector  *cropper.Corrector
	Recognizer client.TextRecognizer
	Extractor  *extraction.Extractor
}

// Pipeline runs scans one at a time. It holds no per-scan state and may be
// reused, but batch processing never runs two scans at once.
type Pipeline struct {
	detector   client.Detector
	corrector  *cropper.Corrector
	recognizer client.TextRecognizer
	extractor  *extraction.Extractor
	processor  *processing.Processor
	config     Config
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a Pipeline.
func New(deps Deps, config Config, logger *zap.Logger) (*Pipeline, error) {
	if deps.Recognizer == nil {
		return nil, errors.New("pipeline: text recognizer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Corrector == nil {
		deps.Corrector = cropper.NewWithConfig(cropper.DefaultConfig(), logger)
	}
	return &Pipeline{
		detector:   deps.Detector,
		corrector:  deps.Corrector,
		recognizer: deps.Recognizer,
		extractor:  deps.Extractor,
		processor:  processing.NewProcessor(),
		config:     config,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Input is one captured image plus the geometry snapshotted with it.
type Input struct {
	// Source labels the input in outcomes and logs (a file path, "upload", ...).
	Source      string
	Image       image.Image
	Orientation geometry.Orientation
	// Quad is the live observation in sensor space, if any.
	Quad    *types.Quad
	Guide   *types.Box
	Preview types.Size
}

// Outcome is the terminal result of one scan.
type Outcome struct {
	Source string
	State  State
	// Card is set only when State is StateAssembled.
	Card *types.Card
	// RawText is the recognized text, set whenever recognition succeeded.
	RawText string
	// Err is the failure cause. For StateOCROnly it holds the network error that
	// triggered the fallback; it is nil for a requested OCR-only run.
	Err         error
	UsedCorners bool
	Strategy    cropper.Strategy
	Transitions []State
	Elapsed     time.Duration
}

func (o *Outcome) enter(s State) {
	o.State = s
	o.Transitions = append(o.Transitions, s)
}

func (o *Outcome) fail(err error) Outcome {
	o.Err = err
	o.enter(StateFailed)
	return *o
}

// Message renders the outcome for a user.
func (o Outcome) Message() string {
	switch o.State {
	case StateAssembled:
		if o.Card != nil {
			return fmt.Sprintf("scanned card for %s", o.Card.Name)
		}
		return "scanned card"
	case StateOCROnly:
		if o.Err != nil {
			return "could not reach extraction backend; showing recognized text only:\n" + o.RawText
		}
		return o.RawText
	case StateFailed:
		return "scan failed: " + describe(o.Err)
	default:
		return o.State.String()
	}
}

func describe(err error) string {
	var serr *extraction.ServerError
	var perr *extraction.ParseError
	var verr *extraction.ValidationError
	switch {
	case err == nil:
		return "unknown error"
	case errors.Is(err, ErrNoTextExtracted):
		return "no text was found on the card"
	case errors.As(err, &serr):
		return fmt.Sprintf("extraction backend returned an error (HTTP %d)", serr.StatusCode)
	case errors.As(err, &perr):
		return fmt.Sprintf("could not read the extraction response (%s)", perr.Stage)
	case errors.As(err, &verr):
		return fmt.Sprintf("extraction response is missing %s", verr.Field)
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return err.Error()
	}
}

// Process runs the full scan. Only network failures of the extraction backend
// degrade to StateOCROnly; every other extraction failure is terminal.
func (p *Pipeline) Process(ctx context.Context, in Input) Outcome {
	start := time.Now()
	out := p.process(ctx, in)
	out.Elapsed = time.Since(start)
	metrics.ScansTotal.WithLabelValues(out.State.String()).Inc()

	fields := []zap.Field{
		zap.String("source", in.Source),
		zap.Stringer("state", out.State),
		zap.String("strategy", string(out.Strategy)),
		zap.Duration("elapsed", out.Elapsed),
	}
	switch out.State {
	case StateFailed:
		p.logger.Warn("scan failed", append(fields, zap.Error(out.Err))...)
	case StateOCROnly:
		p.logger.Warn("extraction backend unreachable, returning recognized text", append(fields, zap.Error(out.Err))...)
	default:
		p.logger.Info("scan complete", fields...)
	}
	return out
}

func (p *Pipeline) process(ctx context.Context, in Input) Outcome {
	if p.extractor == nil {
		out := Outcome{Source: in.Source, Transitions: []State{StateIdle}}
		return out.fail(errors.New("pipeline: no extraction backend configured"))
	}
	start := p.now()

	out, ocr, ok := p.recognize(ctx, in)
	if !ok {
		return out.Outcome
	}

	out.enter(StateExtracting)
	t := time.Now()
	fields, err := p.extractor.Extract(ctx, ocr.Text)
	metrics.StageDuration.WithLabelValues("extract").Observe(time.Since(t).Seconds())
	if err != nil {
		if extraction.IsNetwork(err) {
			out.Err = err
			out.enter(StateOCROnly)
			return out.Outcome
		}
		return out.fail(err)
	}

	card := types.Card{
		ID:         uuid.NewString(),
		Company:    fields.Company,
		Name:       fields.Name,
		Position:   fields.Position,
		Email:      fields.Email,
		RawText:    ocr.Text,
		Confidence: fields.Confidence,
		CapturedAt: start,
		ImageBytes: p.preview(out.image),
		Tags:       []string{},
		Provenance: types.Provenance{
			OCRBackend:       p.recognizer.Name(),
			ExtractorBackend: p.extractor.Name(),
			ProcessingTimeMs: roundMs(p.now().Sub(start)),
		},
	}
	out.Card = &card
	out.enter(StateAssembled)
	return out.Outcome
}

// RecognizeOnly runs correction and recognition without extraction.
func (p *Pipeline) RecognizeOnly(ctx context.Context, in Input) Outcome {
	start := time.Now()
	out, _, ok := p.recognize(ctx, in)
	if ok {
		out.enter(StateOCROnly)
	}
	out.Elapsed = time.Since(start)
	return out.Outcome
}

// scan carries the corrected image alongside the outcome being built.
type scan struct {
	Outcome
	image image.Image
}

func (p *Pipeline) recognize(ctx context.Context, in Input) (scan, types.OCRResult, bool) {
	out := scan{Outcome: Outcome{Source: in.Source, Transitions: []State{StateIdle}}}
	out.enter(StateDetecting)

	if in.Image == nil {
		return scan{Outcome: out.fail(errors.New("pipeline: no image"))}, types.OCRResult{}, false
	}

	t := time.Now()
	res := p.correct(ctx, in)
	metrics.StageDuration.WithLabelValues("detect").Observe(time.Since(t).Seconds())
	metrics.GeometryStrategyTotal.WithLabelValues(string(res.Strategy)).Inc()
	out.UsedCorners = res.UsedCorners
	out.Strategy = res.Strategy
	out.image = res.Image

	out.enter(StateRecognizing)
	t = time.Now()
	ocr, err := p.recognizer.Recognize(ctx, res.Image, p.config.Languages)
	metrics.StageDuration.WithLabelValues("recognize").Observe(time.Since(t).Seconds())
	if err != nil {
		out.Outcome = out.fail(fmt.Errorf("recognize text: %w", err))
		return out, ocr, false
	}
	if strings.TrimSpace(ocr.Text) == "" {
		out.Outcome = out.fail(ErrNoTextExtracted)
		return out, ocr, false
	}
	out.RawText = ocr.Text
	return out, ocr, true
}

// correct applies the captured quad, and when that is not usable runs the
// detector over whatever image the fallback produced. Detection problems are
// logged and never stop the scan.
func (p *Pipeline) correct(ctx context.Context, in Input) cropper.Result {
	res := p.corrector.Correct(cropper.Input{
		Image:       in.Image,
		Orientation: in.Orientation,
		Quad:        in.Quad,
		Guide:       in.Guide,
		Preview:     in.Preview,
	})
	if res.UsedCorners || p.detector == nil || !p.config.DetectionEnabled {
		return res
	}

	quad, err := p.detector.Detect(ctx, res.Image, p.config.Detect)
	if err != nil {
		p.logger.Debug("secondary detection failed", zap.Error(err))
		return res
	}
	if quad == nil {
		p.logger.Debug("secondary detection found no card", zap.Error(cropper.ErrNoCardDetected))
		return res
	}

	// the guide crop is already upright; the untouched original is not
	orientation := geometry.OrientationUp
	if res.Strategy == cropper.StrategyOriginal {
		orientation = in.Orientation
	}
	second := p.corrector.Correct(cropper.Input{
		Image:       res.Image,
		Orientation: orientation,
		Quad:        quad,
	})
	if !second.UsedCorners {
		return res
	}
	return second
}

func (p *Pipeline) preview(img image.Image) []byte {
	if p.config.PreviewFormat == "" || img == nil {
		return nil
	}
	data, err := p.processor.EncodePreview(img, p.config.PreviewFormat, p.config.PreviewMaxDim, p.config.PreviewQuality)
	if err != nil {
		p.logger.Warn("preview encoding failed", zap.Error(err))
		return nil
	}
	return data
}

func roundMs(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/10) / 100
}
