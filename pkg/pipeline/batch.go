package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/cardscan/pkg/geometry"
	"github.com/menta2k/cardscan/pkg/processing"
)

// Source produces one batch input on demand, so only the image being scanned
// is held in memory.
type Source interface {
	Name() string
	Load(ctx context.Context) (Input, error)
}

// FileSource loads an image file or URL.
type FileSource struct {
	Path        string
	Orientation geometry.Orientation
	Processor   *processing.Processor
}

// Name returns the path.
func (s FileSource) Name() string { return s.Path }

// Load decodes the image. Files carry no live quad or guide frame.
func (s FileSource) Load(ctx context.Context) (Input, error) {
	proc := s.Processor
	if proc == nil {
		proc = processing.NewProcessor()
	}
	img, err := proc.LoadImageSmart(ctx, s.Path)
	if err != nil {
		return Input{}, fmt.Errorf("load %s: %w", s.Path, err)
	}
	return Input{Source: s.Path, Image: img, Orientation: s.Orientation}, nil
}

// BatchOptions tunes RunBatch.
type BatchOptions struct {
	// OCROnly skips extraction for every item.
	OCROnly bool
	// OnOutcome is called after each item, in order, from the batch goroutine.
	OnOutcome func(index int, out Outcome)
}

// BatchResult aggregates a batch. Outcomes holds one entry per item that ran,
// in input order.
type BatchResult struct {
	Outcomes  []Outcome
	Cancelled bool
	Elapsed   time.Duration
}

// Counts returns the number of assembled, OCR-only and failed outcomes.
func (r BatchResult) Counts() (assembled, ocrOnly, failed int) {
	for _, o := range r.Outcomes {
		switch o.State {
		case StateAssembled:
			assembled++
		case StateOCROnly:
			ocrOnly++
		case StateFailed:
			failed++
		}
	}
	return assembled, ocrOnly, failed
}

// RunBatch scans sources one after another. Cancellation is checked between
// items only: an item that has started runs to completion, and everything
// finished before cancellation is returned. A failing item never stops the batch.
func (p *Pipeline) RunBatch(ctx context.Context, sources []Source, opts BatchOptions) BatchResult {
	start := time.Now()
	result := BatchResult{Outcomes: make([]Outcome, 0, len(sources))}

	// in-flight items ignore cancellation but keep the caller's values
	itemCtx := context.WithoutCancel(ctx)

	for i, src := range sources {
		if ctx.Err() != nil {
			result.Cancelled = true
			p.logger.Info("batch cancelled",
				zap.Int("completed", i),
				zap.Int("total", len(sources)),
			)
			break
		}

		out := p.runItem(itemCtx, src, opts)
		result.Outcomes = append(result.Outcomes, out)
		if opts.OnOutcome != nil {
			opts.OnOutcome(i, out)
		}
	}

	result.Elapsed = time.Since(start)
	assembled, ocrOnly, failed := result.Counts()
	p.logger.Info("batch complete",
		zap.Int("total", len(sources)),
		zap.Int("assembled", assembled),
		zap.Int("ocr_only", ocrOnly),
		zap.Int("failed", failed),
		zap.Bool("cancelled", result.Cancelled),
		zap.Duration("elapsed", result.Elapsed),
	)
	return result
}

func (p *Pipeline) runItem(ctx context.Context, src Source, opts BatchOptions) Outcome {
	in, err := src.Load(ctx)
	if err != nil {
		out := Outcome{Source: src.Name(), Transitions: []State{StateIdle}}
		out = out.fail(err)
		p.logger.Warn("batch item failed to load", zap.String("source", src.Name()), zap.Error(err))
		return out
	}
	if in.Source == "" {
		in.Source = src.Name()
	}
	if opts.OCROnly {
		return p.RecognizeOnly(ctx, in)
	}
	return p.Process(ctx, in)
}
