package llamacpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/menta2k/cardscan/pkg/client"
	"github.com/menta2k/cardscan/pkg/extraction"
)

const (
	defaultServerURL = "http://localhost:8080"
	visionTimeout    = 300 * time.Second
)

// Client talks to a llama.cpp server (or any OpenAI-compatible endpoint)
// through its chat completions API.
type Client struct {
	client      *openai.Client
	model       string
	timeout     time.Duration
	temperature float32
}

var (
	_ extraction.Backend  = (*Client)(nil)
	_ client.VisionClient = (*Client)(nil)
)

// Config holds the llama.cpp server settings.
type Config struct {
	ServerURL   string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
}

// NewClient creates a client for cfg.ServerURL; the /v1 prefix is added.
func NewClient(cfg Config) (*Client, error) {
	serverURL := cfg.ServerURL
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	serverURL = strings.TrimSuffix(serverURL, "/")
	serverURL = strings.TrimSuffix(serverURL, "/v1")

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = serverURL + "/v1"

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = extraction.DefaultTimeout
	}

	return &Client{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		timeout:     timeout,
		temperature: float32(cfg.Temperature),
	}, nil
}

// Name identifies the backend in provenance records.
func (c *Client) Name() string {
	return "llamacpp:" + c.model
}

// Generate runs a JSON-mode chat completion with a system and a user message.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: c.temperature,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", c.classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", &extraction.ParseError{Stage: extraction.StageEnvelope, Err: errors.New("no choices in response")}
	}
	return resp.Choices[0].Message.Content, nil
}

// SimpleQuery asks a multimodal model about a base64 JPEG image.
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, visionTimeout)
		defer cancel()
	}
	if model == "" {
		model = c.model
	}

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: prompt},
	}
	if imgB64 != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: "data:image/jpeg;base64," + imgB64},
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		MaxTokens: 2048,
	})
	if err != nil {
		return "", c.classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// classify maps go-openai errors onto the extraction failure kinds.
func (c *Client) classify(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &extraction.ServerError{Backend: c.Name(), StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := string(reqErr.Body)
		if body == "" && reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &extraction.ServerError{Backend: c.Name(), StatusCode: reqErr.HTTPStatusCode, Body: body}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &extraction.ParseError{Stage: extraction.StageEnvelope, Err: err}
	}

	return extraction.TransportError(ctx, c.Name(), err)
}
