// Package report renders batch scan results as JSON, CSV or YAML.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/cardscan/pkg/pipeline"
)

// Format is an output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts json, csv, yaml or yml.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown report format %q (use json, csv or yaml)", s)
	}
}

// Metadata summarizes a batch.
type Metadata struct {
	Total       int     `json:"total" yaml:"total"`
	Succeeded   int     `json:"succeeded" yaml:"succeeded"`
	Failed      int     `json:"failed" yaml:"failed"`
	OCROnly     int     `json:"ocr_only" yaml:"ocr_only"`
	Cancelled   bool    `json:"cancelled" yaml:"cancelled"`
	TotalTimeMs float64 `json:"total_time_ms" yaml:"total_time_ms"`
}

// Result is one scanned card, or the raw text of an OCR-only outcome.
type Result struct {
	ImagePath  string   `json:"image_path" yaml:"image_path"`
	ID         string   `json:"id,omitempty" yaml:"id,omitempty"`
	Company    string   `json:"company,omitempty" yaml:"company,omitempty"`
	Name       string   `json:"name,omitempty" yaml:"name,omitempty"`
	Position   string   `json:"position,omitempty" yaml:"position,omitempty"`
	Email      string   `json:"email,omitempty" yaml:"email,omitempty"`
	Confidence float64  `json:"confidence" yaml:"confidence"`
	Tags       []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	OCROnly    bool     `json:"ocr_only,omitempty" yaml:"ocr_only,omitempty"`
	RawText    string   `json:"raw_text,omitempty" yaml:"raw_text,omitempty"`
	Notice     string   `json:"notice,omitempty" yaml:"notice,omitempty"`
}

// Error is one failed input.
type Error struct {
	ImagePath string `json:"image_path" yaml:"image_path"`
	Error     string `json:"error" yaml:"error"`
}

// Report is the full batch report.
type Report struct {
	Metadata Metadata `json:"metadata" yaml:"metadata"`
	Results  []Result `json:"results" yaml:"results"`
	Errors   []Error  `json:"errors" yaml:"errors"`
}

const ocrOnlyNotice = "could not reach extraction backend"

// FromBatch builds a report from batch outcomes.
func FromBatch(res pipeline.BatchResult) Report {
	r := Report{
		Results: []Result{},
		Errors:  []Error{},
	}
	for _, o := range res.Outcomes {
		switch o.State {
		case pipeline.StateAssembled:
			c := o.Card
			r.Results = append(r.Results, Result{
				ImagePath:  o.Source,
				ID:         c.ID,
				Company:    c.Company,
				Name:       c.Name,
				Position:   c.Position,
				Email:      c.Email,
				Confidence: c.Confidence,
				Tags:       c.Tags,
			})
			r.Metadata.Succeeded++
		case pipeline.StateOCROnly:
			item := Result{ImagePath: o.Source, OCROnly: true, RawText: o.RawText}
			if o.Err != nil {
				item.Notice = ocrOnlyNotice
			}
			r.Results = append(r.Results, item)
			r.Metadata.OCROnly++
		default:
			msg := "unknown error"
			if o.Err != nil {
				msg = o.Err.Error()
			}
			r.Errors = append(r.Errors, Error{ImagePath: o.Source, Error: msg})
			r.Metadata.Failed++
		}
	}
	r.Metadata.Total = len(res.Outcomes)
	r.Metadata.Cancelled = res.Cancelled
	r.Metadata.TotalTimeMs = math.Round(float64(res.Elapsed.Microseconds())/10) / 100
	return r
}

// Write renders the report in the given format.
func (r Report) Write(w io.Writer, format Format) error {
	switch format {
	case FormatJSON:
		return r.WriteJSON(w)
	case FormatCSV:
		return r.WriteCSV(w)
	case FormatYAML:
		return r.WriteYAML(w)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// WriteJSON writes indented JSON.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(r)
}

// WriteYAML writes the same document as YAML.
func (r Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

var csvHeader = []string{"image_path", "company", "name", "position", "email", "confidence", "error"}

// WriteCSV writes one row per result followed by one row per error.
func (r Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, res := range r.Results {
		conf := strconv.FormatFloat(res.Confidence, 'f', -1, 64)
		errCol := ""
		if res.OCROnly {
			conf = ""
			errCol = res.Notice
		}
		row := []string{res.ImagePath, res.Company, res.Name, res.Position, res.Email, conf, errCol}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	for _, e := range r.Errors {
		if err := cw.Write([]string{e.ImagePath, "", "", "", "", "", e.Error}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
