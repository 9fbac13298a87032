// Package extraction turns recognized card text into a validated contact
// record by way of a language model.
package extraction

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/cardscan/internal/metrics"
	"github.com/menta2k/cardscan/pkg/types"
)

// Backend is a language model endpoint. Implementations classify their own
// failures into NetworkError, ServerError and ParseError (envelope stage).
type Backend interface {
	Name() string
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Extractor runs one backend round trip and parses the reply.
type Extractor struct {
	backend Backend
	logger  *zap.Logger
}

// New creates an Extractor over backend.
func New(backend Backend, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{backend: backend, logger: logger}
}

// Name reports the backend name.
func (e *Extractor) Name() string {
	return e.backend.Name()
}

// Extract asks the backend for a record describing ocrText. It never retries.
func (e *Extractor) Extract(ctx context.Context, ocrText string) (types.ExtractedFields, error) {
	if strings.TrimSpace(ocrText) == "" {
		return types.ExtractedFields{}, ErrEmptyText
	}

	start := time.Now()
	reply, err := e.backend.Generate(ctx, SystemPrompt, UserPrompt(ocrText))
	if err == nil {
		var fields types.ExtractedFields
		fields, err = ParseResponse(reply)
		if err == nil {
			e.record("ok")
			e.logger.Debug("extraction complete",
				zap.String("backend", e.backend.Name()),
				zap.Duration("elapsed", time.Since(start)),
				zap.Float64("confidence", fields.Confidence),
			)
			return fields, nil
		}
		e.logger.Debug("unusable model reply", zap.String("reply", truncate(reply, 512)))
	}

	e.record(statusOf(err))
	e.logger.Warn("extraction failed",
		zap.String("backend", e.backend.Name()),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
	return types.ExtractedFields{}, err
}

func (e *Extractor) record(status string) {
	metrics.ExtractionRequestsTotal.WithLabelValues(e.backend.Name(), status).Inc()
}

func statusOf(err error) string {
	switch {
	case errors.Is(err, ErrExtractionNetwork):
		return "network"
	case errors.Is(err, ErrExtractionServer):
		return "server"
	case errors.Is(err, ErrExtractionParse):
		return "parse"
	case errors.Is(err, ErrExtractionValidation):
		return "validation"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
