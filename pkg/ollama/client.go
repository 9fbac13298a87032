package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/cardscan/pkg/client"
	"github.com/menta2k/cardscan/pkg/extraction"
)

// visionTimeout is applied to image queries when the caller set no deadline.
const visionTimeout = 300 * time.Second

// Client wraps the Ollama API client. It serves both as an extraction
// backend (Generate) and as a vision model for transcription (SimpleQuery).
type Client struct {
	client      *api.Client
	model       string
	timeout     time.Duration
	temperature float64
}

var (
	_ extraction.Backend  = (*Client)(nil)
	_ client.VisionClient = (*Client)(nil)
)

// NewClient creates a new Ollama client
func NewClient(ollamaURL, model string, timeout time.Duration) (*Client, error) {
	// Parse the provided URL
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: scheme and host are required", ollamaURL)
	}

	// Create base URL from the provided URL (removing path like /api/generate)
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	if timeout <= 0 {
		timeout = extraction.DefaultTimeout
	}

	// Create client with the specified URL, ignoring environment
	return &Client{
		client:  api.NewClient(baseURL, http.DefaultClient),
		model:   model,
		timeout: timeout,
	}, nil
}

// SetTemperature sets the sampling temperature used by Generate. Zero keeps the model default.
func (c *Client) SetTemperature(t float64) {
	c.temperature = t
}

// Name identifies the backend in provenance records.
func (c *Client) Name() string {
	return "ollama:" + c.model
}

// Generate runs a non-streaming JSON-mode completion with a system prompt.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	streamFalse := false
	req := &api.GenerateRequest{
		Model:  c.model,
		System: system,
		Prompt: prompt,
		Format: json.RawMessage(`"json"`),
		Stream: &streamFalse,
	}
	if c.temperature > 0 {
		req.Options = map[string]any{"temperature": c.temperature}
	}

	var sb strings.Builder
	err := c.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", c.classify(ctx, err)
	}
	return sb.String(), nil
}

// SimpleQuery performs a simple query with an image without expecting JSON
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	// Add timeout if context doesn't have one (longer for vision models on CPU)
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, visionTimeout)
		defer cancel()
	}
	if model == "" {
		model = c.model
	}

	// Decode base64 image to raw bytes
	imgBytes, err := base64.StdEncoding.DecodeString(imgB64)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64 image: %w", err)
	}

	// Create chat request without JSON format requirement
	streamFalse := false
	req := &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt,
				Images:  []api.ImageData{api.ImageData(imgBytes)},
			},
		},
		Stream: &streamFalse,
	}

	var sb strings.Builder
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", c.classify(ctx, err)
	}

	return sb.String(), nil
}

// classify maps SDK errors onto the extraction failure kinds. Anything that
// is neither a status error nor a transport failure means the response
// stream itself was unreadable.
func (c *Client) classify(ctx context.Context, err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		body := statusErr.ErrorMessage
		if body == "" {
			body = statusErr.Status
		}
		return &extraction.ServerError{Backend: c.Name(), StatusCode: statusErr.StatusCode, Body: body}
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return extraction.TransportError(ctx, c.Name(), err)
	}

	return &extraction.ParseError{Stage: extraction.StageEnvelope, Err: err}
}
