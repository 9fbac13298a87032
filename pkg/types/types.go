package types

import (
	"strings"
	"time"
)

// Point is a 2D point. Depending on context it is normalized [0,1] or in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box represents a normalized bounding box with coordinates in [0,1] range, top-left origin
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Empty reports whether the box encloses no area.
func (b Box) Empty() bool {
	return b.W <= 0 || b.H <= 0
}

// Size is a width/height pair, used for preview (display) bounds.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Quad is a detected card outline.
//
// Corners are normalized to [0,1] in raw sensor space: bottom-left origin,
// measured on the buffer before any orientation correction is applied.
// They are ordered clockwise starting from the top-left corner.
type Quad struct {
	TopLeft     Point   `json:"top_left"`
	TopRight    Point   `json:"top_right"`
	BottomRight Point   `json:"bottom_right"`
	BottomLeft  Point   `json:"bottom_left"`
	Confidence  float64 `json:"confidence"`
	AspectRatio float64 `json:"aspect_ratio"`
}

// Points returns the corners in TL, TR, BR, BL order.
func (q Quad) Points() [4]Point {
	return [4]Point{q.TopLeft, q.TopRight, q.BottomRight, q.BottomLeft}
}

// TextBox is a single recognized line of text.
type TextBox struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// OCRResult is the output of a text recognizer. Lines are joined in read order.
type OCRResult struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Boxes      []TextBox `json:"boxes"`
}

// NewOCRResult joins the box texts with newlines and averages their confidence.
func NewOCRResult(boxes []TextBox) OCRResult {
	if len(boxes) == 0 {
		return OCRResult{}
	}
	lines := make([]string, 0, len(boxes))
	var sum float64
	for _, b := range boxes {
		lines = append(lines, b.Text)
		sum += b.Confidence
	}
	return OCRResult{
		Text:       strings.Join(lines, "\n"),
		Confidence: sum / float64(len(boxes)),
		Boxes:      boxes,
	}
}

// ExtractedFields is the structured record recovered from a model reply.
// Optional fields are empty strings when absent.
type ExtractedFields struct {
	Company    string  `json:"company,omitempty"`
	Name       string  `json:"name"`
	Position   string  `json:"position,omitempty"`
	Email      string  `json:"email,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Provenance records how a card was produced.
type Provenance struct {
	OCRBackend       string  `json:"ocr_backend"`
	ExtractorBackend string  `json:"extractor_backend"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// Card is a persisted business card.
type Card struct {
	ID         string     `json:"id"`
	Company    string     `json:"company,omitempty"`
	Name       string     `json:"name"`
	Position   string     `json:"position,omitempty"`
	Email      string     `json:"email,omitempty"`
	RawText    string     `json:"raw_text"`
	Confidence float64    `json:"confidence"`
	CapturedAt time.Time  `json:"captured_at"`
	ImageBytes []byte     `json:"image_bytes,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	Tags       []string   `json:"tags"`
	Provenance Provenance `json:"provenance"`
}

// Fields returns the extracted field values of the card.
func (c Card) Fields() ExtractedFields {
	return ExtractedFields{
		Company:    c.Company,
		Name:       c.Name,
		Position:   c.Position,
		Email:      c.Email,
		Confidence: c.Confidence,
	}
}

// Clone returns a deep copy of the card.
func (c Card) Clone() Card {
	out := c
	if c.Tags != nil {
		out.Tags = append([]string(nil), c.Tags...)
	}
	if c.ImageBytes != nil {
		out.ImageBytes = append([]byte(nil), c.ImageBytes...)
	}
	return out
}
