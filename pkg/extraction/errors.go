package extraction

import (
	"context"
	"errors"
	"fmt"
)

// Failure kinds. Every error returned by an Extractor matches exactly one of
// these with errors.Is, except caller cancellation which is passed through.
var (
	ErrExtractionNetwork    = errors.New("extraction backend unreachable")
	ErrExtractionServer     = errors.New("extraction backend returned an error")
	ErrExtractionParse      = errors.New("extraction response could not be parsed")
	ErrExtractionValidation = errors.New("extracted record is invalid")
)

// ErrEmptyText is returned before any request is made when there is nothing to extract from.
var ErrEmptyText = errors.New("no text to extract from")

// NetworkError means the backend could not be reached or did not answer in time.
type NetworkError struct {
	Backend string
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: backend unreachable: %v", e.Backend, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	return []error{ErrExtractionNetwork, e.Err}
}

// ServerError means the backend answered with a non-success status.
type ServerError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: server error (status %d): %s", e.Backend, e.StatusCode, truncate(e.Body, 512))
}

func (e *ServerError) Unwrap() error {
	return ErrExtractionServer
}

// ParseStage records which recovery step failed.
type ParseStage string

const (
	// StageEnvelope: the backend's response wrapper itself was malformed.
	StageEnvelope ParseStage = "envelope"
	// StageNoJSON: the model reply contained no JSON candidate at all.
	StageNoJSON ParseStage = "no-json"
	// StageDecode: a JSON candidate was found but did not decode to an object.
	StageDecode ParseStage = "decode"
)

// ParseError means a reply arrived but no record could be recovered from it.
type ParseError struct {
	Stage ParseStage
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("parse failed at %s stage", e.Stage)
	}
	return fmt.Sprintf("parse failed at %s stage: %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrExtractionParse}
	}
	return []error{ErrExtractionParse, e.Err}
}

// ValidationError means the record decoded but a field is unusable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrExtractionValidation
}

// TransportError classifies a failed round trip. Cancellation of ctx by the
// caller is returned unchanged so it never looks like an outage; anything
// else, deadline expiry included, becomes a NetworkError.
func TransportError(ctx context.Context, backend string, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return fmt.Errorf("%s: %w", backend, err)
	}
	return &NetworkError{Backend: backend, Err: err}
}

// IsNetwork reports whether err is a network-class failure, the only kind
// that qualifies for the OCR-only fallback.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrExtractionNetwork)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
