// Package cardscan turns photographs of business cards into structured
// contact records.
//
// A scan runs through a fixed sequence of stages:
//
//  1. Geometry correction (pkg/cropper): the captured card outline is
//     warped flat, falling back to the on-screen guide frame and finally to
//     the untouched photo.
//  2. Text recognition (pkg/ocr): Azure Computer Vision or a vision-capable
//     language model transcribes the corrected image.
//  3. Field extraction (pkg/extraction): a language model turns the text into
//     company, name, position and email. When the model cannot be reached the
//     scan degrades to the recognized text alone.
//  4. Storage (pkg/collection): cards are kept in capture order, tagged and
//     searched, in a JSON file or in Postgres.
//
// Basic usage:
//
//	cfg, err := config.Load("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	app, err := cardscan.New(ctx, cfg, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer app.Close()
//
//	out := app.ScanFile(ctx, "card.jpg", geometry.OrientationUp)
//	fmt.Println(out.Message())
package cardscan

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/cardscan/internal/config"
	"github.com/menta2k/cardscan/pkg/client"
	"github.com/menta2k/cardscan/pkg/collection"
	"github.com/menta2k/cardscan/pkg/cropper"
	"github.com/menta2k/cardscan/pkg/detection"
	"github.com/menta2k/cardscan/pkg/extraction"
	"github.com/menta2k/cardscan/pkg/geometry"
	"github.com/menta2k/cardscan/pkg/live"
	"github.com/menta2k/cardscan/pkg/llamacpp"
	"github.com/menta2k/cardscan/pkg/ocr"
	"github.com/menta2k/cardscan/pkg/ollama"
	"github.com/menta2k/cardscan/pkg/pipeline"
	"github.com/menta2k/cardscan/pkg/processing"
)

// Version of cardscan
const Version = "1.0.0"

// App wires configuration into a ready pipeline and card collection.
type App struct {
	Config    *config.Config
	Pipeline  *pipeline.Pipeline
	Cards     *collection.Collection
	Processor *processing.Processor
	Detector  *detection.CardDetector

	logger *zap.Logger
}

// New builds the backends, the pipeline and opens the card store.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	recognizer, err := NewRecognizer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("text recognizer: %w", err)
	}
	backend, err := NewExtractionBackend(cfg.Extraction)
	if err != nil {
		return nil, fmt.Errorf("extraction backend: %w", err)
	}

	detector := detection.NewDetector(logger)
	deps := pipeline.Deps{
		Corrector: cropper.NewWithConfig(cropper.Config{
			PaddingRatio: cfg.Geometry.PaddingRatio,
			MaxOutputDim: cfg.Geometry.MaxOutputDim,
		}, logger),
		Recognizer: recognizer,
		Extractor:  extraction.New(backend, logger),
	}
	if cfg.Detection.Enabled {
		deps.Detector = detector
	}

	p, err := pipeline.New(deps, PipelineConfig(cfg), logger)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("card store: %w", err)
	}
	cards, err := collection.Open(ctx, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	logger.Debug("cardscan ready",
		zap.String("ocr", recognizer.Name()),
		zap.String("extraction", backend.Name()),
		zap.String("store", cfg.Store.Driver),
		zap.Int("cards", cards.Len()),
	)

	return &App{
		Config:    cfg,
		Pipeline:  p,
		Cards:     cards,
		Processor: processing.NewProcessor(),
		Detector:  detector,
		logger:    logger,
	}, nil
}

// Close releases the card store.
func (a *App) Close() error {
	return a.Cards.Close()
}

// ScanFile loads path (a file or an http(s) URL) and runs a full scan.
func (a *App) ScanFile(ctx context.Context, path string, orientation geometry.Orientation) pipeline.Outcome {
	img, err := a.Processor.LoadImageSmart(ctx, path)
	if err != nil {
		return pipeline.Outcome{Source: path, State: pipeline.StateFailed, Err: err}
	}
	return a.Pipeline.Process(ctx, pipeline.Input{Source: path, Image: img, Orientation: orientation})
}

// NewSession returns a live capture session using the configured smoothing.
func (a *App) NewSession() *live.Session {
	return live.NewSession(a.Config.Geometry.SmoothingAlpha, a.Config.Geometry.MissFrames, a.logger)
}

// DetectOptions converts the detection section into detector options.
func DetectOptions(cfg *config.Config) client.DetectOptions {
	d := cfg.Detection
	return client.DetectOptions{
		MinAspectRatio: d.MinAspectRatio,
		MaxAspectRatio: d.MaxAspectRatio,
		MinSize:        d.MinSize,
		MinConfidence:  d.MinConfidence,
		MaxDetections:  d.MaxDetections,
	}
}

// PipelineConfig maps the configuration onto pipeline settings.
func PipelineConfig(cfg *config.Config) pipeline.Config {
	format := cfg.Preview.Format
	if format == "none" {
		format = ""
	}
	return pipeline.Config{
		Languages:        cfg.OCR.Languages,
		DetectionEnabled: cfg.Detection.Enabled,
		Detect:           DetectOptions(cfg),
		PreviewFormat:    format,
		PreviewMaxDim:    cfg.Preview.MaxDim,
		PreviewQuality:   cfg.Preview.Quality,
	}
}

// NewExtractionBackend creates the language model backend named by cfg.Backend.
func NewExtractionBackend(cfg config.ExtractionConfig) (extraction.Backend, error) {
	switch cfg.Backend {
	case "ollama":
		c, err := ollama.NewClient(cfg.URL, cfg.Model, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		c.SetTemperature(cfg.Temperature)
		return c, nil
	case "llamacpp":
		c, err := llamacpp.NewClient(llamacpp.Config{
			ServerURL:   cfg.URL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Timeout:     cfg.Timeout,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case "http":
		b, err := extraction.NewHTTPBackend(extraction.HTTPConfig{
			URL:         cfg.URL,
			Model:       cfg.Model,
			Timeout:     cfg.Timeout,
			Temperature: cfg.Temperature,
			RateLimit:   cfg.RateLimit,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown extraction backend %q", cfg.Backend)
	}
}

// NewRecognizer creates the text recognizer named by cfg.OCR.Backend.
func NewRecognizer(cfg *config.Config, logger *zap.Logger) (client.TextRecognizer, error) {
	o := cfg.OCR
	switch o.Backend {
	case "azure":
		lang := ""
		if len(o.Languages) > 0 {
			lang = o.Languages[0]
		}
		r, err := ocr.NewAzureRecognizer(ocr.AzureConfig{
			Endpoint: o.AzureEndpoint,
			Key:      o.AzureKey,
			Language: lang,
			Enhance:  o.Enhance,
		}, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "vision":
		vision, err := newVisionClient(o, cfg.Extraction.Timeout)
		if err != nil {
			return nil, err
		}
		return ocr.NewVisionRecognizer(vision, o.VisionMaxDim, logger), nil
	default:
		return nil, fmt.Errorf("unknown ocr backend %q", o.Backend)
	}
}

func newVisionClient(o config.OCRConfig, timeout time.Duration) (client.VisionClient, error) {
	switch o.VisionBackend {
	case "ollama":
		c, err := ollama.NewClient(o.VisionURL, o.VisionModel, timeout)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "llamacpp":
		c, err := llamacpp.NewClient(llamacpp.Config{
			ServerURL: o.VisionURL,
			Model:     o.VisionModel,
			Timeout:   timeout,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown vision backend %q", o.VisionBackend)
	}
}

// OpenStore opens the card store named by cfg.Driver.
func OpenStore(cfg config.StoreConfig) (collection.Store, error) {
	switch cfg.Driver {
	case "json":
		s, err := collection.NewJSONStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := collection.NewGormStore(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
