package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTimeout bounds one extraction round trip.
const DefaultTimeout = 60 * time.Second

const maxErrorBody = 64 << 10

// HTTPConfig configures the plain HTTP generate backend.
type HTTPConfig struct {
	URL         string
	Model       string
	Timeout     time.Duration
	Temperature float64
	// RateLimit caps requests per second. Zero means unlimited.
	RateLimit float64
}

// HTTPBackend talks to a /api/generate endpoint: one POST carrying the system
// prompt, the user prompt and the model parameters, answered by a JSON
// envelope whose "response" field holds the model reply.
type HTTPBackend struct {
	endpoint   string
	model      string
	options    map[string]any
	httpClient *http.Client
	limiter    *rate.Limiter
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format"`
	Options map[string]any `json:"options,omitempty"`
}

type generateEnvelope struct {
	Response *string `json:"response"`
}

// NewHTTPBackend creates a backend for cfg.URL.
func NewHTTPBackend(cfg HTTPConfig) (*HTTPBackend, error) {
	if cfg.URL == "" {
		return nil, errors.New("extraction URL is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("extraction model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	b := &HTTPBackend{
		endpoint:   strings.TrimSuffix(cfg.URL, "/") + "/api/generate",
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
	}
	if cfg.Temperature > 0 {
		b.options = map[string]any{"temperature": cfg.Temperature}
	}
	if cfg.RateLimit > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return b, nil
}

// Name identifies the backend in provenance records.
func (b *HTTPBackend) Name() string {
	return "http:" + b.model
}

// Generate sends one request and returns the raw model reply.
func (b *HTTPBackend) Generate(ctx context.Context, system, prompt string) (string, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return "", TransportError(ctx, b.Name(), err)
		}
	}

	body, err := json.Marshal(generateRequest{
		Model:   b.model,
		Prompt:  prompt,
		System:  system,
		Stream:  false,
		Format:  "json",
		Options: b.options,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", TransportError(ctx, b.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", TransportError(ctx, b.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &ServerError{Backend: b.Name(), StatusCode: resp.StatusCode, Body: string(raw)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", TransportError(ctx, b.Name(), err)
	}

	var env generateEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", &ParseError{Stage: StageEnvelope, Err: err}
	}
	if env.Response == nil {
		return "", &ParseError{Stage: StageEnvelope, Err: errors.New(`missing "response" field`)}
	}
	return *env.Response, nil
}
