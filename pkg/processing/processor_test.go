package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/cardscan/pkg/types"
)

func createTestImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{uint8(x % 256), uint8(y % 256), 128, 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeImage(t *testing.T) {
	p := NewProcessor()
	src := createTestImage(40, 30)

	img, err := p.DecodeImage(encodePNG(t, src))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 30), img.Bounds())

	var wbuf bytes.Buffer
	require.NoError(t, webp.Encode(&wbuf, src, &webp.Options{Lossless: true}))
	img, err = p.DecodeImage(wbuf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())

	_, err = p.DecodeImage([]byte("not an image"))
	assert.Error(t, err)
}

func TestLoadImageFromURL(t *testing.T) {
	data := encodePNG(t, createTestImage(20, 10))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/card.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(data)
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewProcessor()
	img, err := p.LoadImageSmart(context.Background(), srv.URL+"/card.png")
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())

	_, err = p.LoadImageFromURL(context.Background(), srv.URL+"/page")
	assert.ErrorContains(t, err, "does not point to an image")

	_, err = p.LoadImageFromURL(context.Background(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "HTTP 404")

	_, err = p.LoadImageFromURL(context.Background(), "ftp://example.com/card.png")
	assert.ErrorContains(t, err, "unsupported URL scheme")
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	p := NewProcessor()
	dir := t.TempDir()
	src := createTestImage(64, 48)

	for _, format := range []string{"jpg", "png", "webp"} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(dir, "card."+format)
			require.NoError(t, p.SaveImage(src, path, format, 90, false))

			img, err := p.LoadImage(path)
			require.NoError(t, err)
			assert.Equal(t, src.Bounds(), img.Bounds())
		})
	}

	_, err := p.LoadImage(filepath.Join(dir, "missing.jpg"))
	assert.Error(t, err)
}

func TestEncodePreview(t *testing.T) {
	p := NewProcessor()
	src := createTestImage(800, 400)

	data, err := p.EncodePreview(src, "jpg", 200, 80)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 100, img.Bounds().Dy())

	data, err = p.EncodePreview(src, "webp", 100, 80)
	require.NoError(t, err)
	img, err = webp.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())

	_, err = p.EncodePreview(src, "tiff", 100, 80)
	assert.Error(t, err)
}

func TestPrepareImageForModel(t *testing.T) {
	p := NewProcessor()
	b64, err := p.PrepareImageForModel(createTestImage(300, 600), "png", 100, 85)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 50, img.Bounds().Dx())
	assert.Equal(t, 100, img.Bounds().Dy())
}

func TestEnhanceForOCRIsGray(t *testing.T) {
	p := NewProcessor()
	out := p.EnhanceForOCR(createTestImage(32, 32))
	require.Equal(t, image.Rect(0, 0, 32, 32), out.Bounds())

	r, g, b, _ := out.At(10, 20).RGBA()
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)
}

func TestCreateDebugOverlay(t *testing.T) {
	p := NewProcessor()
	src := image.NewNRGBA(image.Rect(0, 0, 200, 100))

	// sensor space is bottom-left origin; this quad covers x 0.25..0.75 and
	// display y 0.2..0.8
	quad := &types.Quad{
		TopLeft:     types.Point{X: 0.25, Y: 0.8},
		TopRight:    types.Point{X: 0.75, Y: 0.8},
		BottomRight: types.Point{X: 0.75, Y: 0.2},
		BottomLeft:  types.Point{X: 0.25, Y: 0.2},
	}
	guide := &types.Box{X: 0.1, Y: 0.1, W: 0.8, H: 0.8}

	out := p.CreateDebugOverlay(src, quad, guide).(*image.NRGBA)

	assert.Equal(t, color.NRGBA{0, 255, 0, 255}, out.NRGBAAt(100, 20), "top edge of the quad")
	assert.Equal(t, color.NRGBA{255, 204, 0, 255}, out.NRGBAAt(100, 10), "top edge of the guide")
	assert.Equal(t, color.NRGBA{}, out.NRGBAAt(100, 50), "interior untouched")
	assert.Equal(t, color.NRGBA{}, src.NRGBAAt(100, 20), "source untouched")
}
