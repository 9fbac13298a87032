package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/menta2k/cardscan/internal/metrics"
	"github.com/menta2k/cardscan/pkg/collection"
	"github.com/menta2k/cardscan/pkg/extraction"
	"github.com/menta2k/cardscan/pkg/geometry"
	"github.com/menta2k/cardscan/pkg/pipeline"
	"github.com/menta2k/cardscan/pkg/types"
)

type fakeScanner struct {
	outcome  pipeline.Outcome
	last     pipeline.Input
	ocrCalls int
}

func (f *fakeScanner) Process(_ context.Context, in pipeline.Input) pipeline.Outcome {
	f.last = in
	out := f.outcome
	out.Source = in.Source
	return out
}

func (f *fakeScanner) RecognizeOnly(_ context.Context, in pipeline.Input) pipeline.Outcome {
	f.last = in
	f.ocrCalls++
	return pipeline.Outcome{Source: in.Source, State: pipeline.StateOCROnly, RawText: "Jane Doe"}
}

func assembled() pipeline.Outcome {
	return pipeline.Outcome{
		State: pipeline.StateAssembled,
		Card: &types.Card{
			ID: "c-1", Name: "Jane Doe", Company: "Acme Corp", Email: "jane.doe@acme.com",
			RawText: "Jane Doe\nAcme Corp", Confidence: 0.9, Tags: []string{},
		},
		RawText:     "Jane Doe\nAcme Corp",
		UsedCorners: true,
		Strategy:    "perspective",
	}
}

func newTestServer(t *testing.T, scanner Scanner) (*Server, *collection.Collection) {
	t.Helper()
	store, err := collection.NewJSONStore(filepath.Join(t.TempDir(), "cards.json"))
	require.NoError(t, err)
	cards, err := collection.Open(context.Background(), store, nil)
	require.NoError(t, err)
	return New(scanner, cards, Config{}, zaptest.NewLogger(t)), cards
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 40, 24))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(1, 1, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func scanRequest(t *testing.T, image []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if image != nil {
		part, err := w.CreateFormFile("image", "card.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/scan", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestScanAssemblesAndStores(t *testing.T) {
	scanner := &fakeScanner{outcome: assembled()}
	s, cards := newTestServer(t, scanner)

	quad := `{"top_left":{"x":0.1,"y":0.9},"top_right":{"x":0.9,"y":0.9},"bottom_right":{"x":0.9,"y":0.1},"bottom_left":{"x":0.1,"y":0.1},"confidence":0.9}`
	rec := do(s, scanRequest(t, pngBytes(t), map[string]string{
		"orientation": "right",
		"quad":        quad,
		"tags":        "vip, berlin,vip",
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp scanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "assembled", resp.State)
	assert.Equal(t, "scanned card for Jane Doe", resp.Message)
	require.NotNil(t, resp.Card)
	assert.Equal(t, []string{"vip", "berlin"}, resp.Card.Tags)

	assert.Equal(t, "card.png", scanner.last.Source)
	assert.Equal(t, geometry.OrientationRight, scanner.last.Orientation)
	require.NotNil(t, scanner.last.Quad)
	assert.Equal(t, 0.9, scanner.last.Quad.TopLeft.Y)
	assert.Equal(t, 1, cards.Len())
}

func TestScanWithoutSave(t *testing.T) {
	s, cards := newTestServer(t, &fakeScanner{outcome: assembled()})
	rec := do(s, scanRequest(t, pngBytes(t), map[string]string{"save": "false"}))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Zero(t, cards.Len())
}

func TestScanOCROnly(t *testing.T) {
	netErr := &extraction.NetworkError{Backend: "ollama:m", Err: errors.New("connection refused")}
	s, cards := newTestServer(t, &fakeScanner{outcome: pipeline.Outcome{
		State: pipeline.StateOCROnly, RawText: "Jane Doe\nAcme", Err: netErr,
	}})

	rec := do(s, scanRequest(t, pngBytes(t), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp scanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ocr_only", resp.State)
	assert.Contains(t, resp.Message, "could not reach extraction backend")
	assert.Nil(t, resp.Card)
	assert.Zero(t, cards.Len())
}

func TestScanRequestedOCROnly(t *testing.T) {
	scanner := &fakeScanner{outcome: assembled()}
	s, _ := newTestServer(t, scanner)
	rec := do(s, scanRequest(t, pngBytes(t), map[string]string{"ocr_only": "true"}))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, scanner.ocrCalls)
}

func TestScanFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"no text", pipeline.ErrNoTextExtracted, http.StatusUnprocessableEntity},
		{"server error", &extraction.ServerError{Backend: "b", StatusCode: 500, Body: "boom"}, http.StatusBadGateway},
		{"validation", &extraction.ValidationError{Field: "name", Reason: "missing"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, &fakeScanner{outcome: pipeline.Outcome{State: pipeline.StateFailed, Err: tt.err}})
			rec := do(s, scanRequest(t, pngBytes(t), nil))
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), "scan failed")
		})
	}
}

func TestScanBadRequests(t *testing.T) {
	s, _ := newTestServer(t, &fakeScanner{outcome: assembled()})

	assert.Equal(t, http.StatusBadRequest, do(s, scanRequest(t, nil, nil)).Code)
	assert.Equal(t, http.StatusBadRequest, do(s, scanRequest(t, []byte("not an image"), nil)).Code)
	assert.Equal(t, http.StatusBadRequest, do(s, scanRequest(t, pngBytes(t), map[string]string{"orientation": "sideways"})).Code)
	assert.Equal(t, http.StatusBadRequest, do(s, scanRequest(t, pngBytes(t), map[string]string{"quad": "{"})).Code)
}

func TestCardEndpoints(t *testing.T) {
	s, cards := newTestServer(t, &fakeScanner{})
	ctx := context.Background()
	jane, err := cards.Add(ctx, types.Card{Name: "Jane Doe", Company: "Acme Corp", Tags: []string{"vip"}, ImageBytes: pngBytes(t)})
	require.NoError(t, err)
	_, err = cards.Add(ctx, types.Card{Name: "Jeff Fu", Company: "Globex"})
	require.NoError(t, err)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/v1/cards?tag=vip", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Cards []types.Card `json:"cards"`
		Count int          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	assert.Empty(t, list.Cards[0].ImageBytes)

	rec = do(s, httptest.NewRequest(http.MethodGet, "/v1/cards?q=globex", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, "Jeff Fu", list.Cards[0].Name)

	assert.Equal(t, http.StatusBadRequest, do(s, httptest.NewRequest(http.MethodGet, "/v1/cards?limit=x", nil)).Code)

	rec = do(s, httptest.NewRequest(http.MethodGet, "/v1/cards/"+jane.ID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, do(s, httptest.NewRequest(http.MethodGet, "/v1/cards/missing", nil)).Code)

	rec = do(s, httptest.NewRequest(http.MethodGet, "/v1/cards/"+jane.ID+"/image", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = do(s, jsonRequest(http.MethodPatch, "/v1/cards/"+jane.ID, map[string]any{"position": "CTO", "notes": "met at booth"}))
	require.Equal(t, http.StatusOK, rec.Code)
	got, _ := cards.Get(jane.ID)
	assert.Equal(t, "CTO", got.Position)
	assert.Equal(t, "Acme Corp", got.Company)

	rec = do(s, jsonRequest(http.MethodPatch, "/v1/cards/"+jane.ID, map[string]any{"name": ""}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusNoContent, do(s, httptest.NewRequest(http.MethodDelete, "/v1/cards/"+jane.ID, nil)).Code)
	assert.Equal(t, http.StatusNotFound, do(s, httptest.NewRequest(http.MethodDelete, "/v1/cards/"+jane.ID, nil)).Code)
}

func TestTagEndpoints(t *testing.T) {
	s, cards := newTestServer(t, &fakeScanner{})
	ctx := context.Background()
	jane, err := cards.Add(ctx, types.Card{Name: "Jane Doe", Tags: []string{"vip"}})
	require.NoError(t, err)
	jeff, err := cards.Add(ctx, types.Card{Name: "Jeff Fu", Tags: []string{"berlin"}})
	require.NoError(t, err)

	rec := do(s, jsonRequest(http.MethodPost, "/v1/cards/"+jane.ID+"/tags", map[string]string{"tag": "berlin"}))
	require.Equal(t, http.StatusOK, rec.Code)
	got, _ := cards.Get(jane.ID)
	assert.Equal(t, []string{"vip", "berlin"}, got.Tags)

	assert.Equal(t, http.StatusBadRequest, do(s, jsonRequest(http.MethodPost, "/v1/cards/"+jane.ID+"/tags", map[string]string{})).Code)

	rec = do(s, httptest.NewRequest(http.MethodDelete, "/v1/cards/"+jane.ID+"/tags/vip", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	got, _ = cards.Get(jane.ID)
	assert.Equal(t, []string{"berlin"}, got.Tags)

	rec = do(s, jsonRequest(http.MethodPost, "/v1/cards/tags", map[string]any{"ids": []string{jane.ID, jeff.ID}, "add": []string{"expo"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	got, _ = cards.Get(jeff.ID)
	assert.Equal(t, []string{"berlin", "expo"}, got.Tags)

	rec = do(s, jsonRequest(http.MethodPost, "/v1/cards/tags", map[string]any{"ids": []string{"missing"}, "add": []string{"x"}}))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(s, httptest.NewRequest(http.MethodGet, "/v1/tags", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var tags struct {
		Tags   []string `json:"tags"`
		Recent []string `json:"recent"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tags))
	assert.Equal(t, []string{"berlin", "expo"}, tags.Tags)

	rec = do(s, httptest.NewRequest(http.MethodGet, "/v1/tags/suggest?card="+jeff.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var sugg collection.Suggestions
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sugg))
	assert.Empty(t, sugg.Recent, "every tag in use is already applied to jeff")

	rec = do(s, httptest.NewRequest(http.MethodGet, "/v1/tags/suggest?q=EX", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"matches":["expo"]}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, do(s, httptest.NewRequest(http.MethodGet, "/v1/tags/suggest?card=missing", nil)).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	metrics.Register()
	s, _ := newTestServer(t, &fakeScanner{})

	rec := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","cards":0}`, rec.Body.String())

	rec = do(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "cardscan_http_requests_total"))
}
