package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/menta2k/cardscan/pkg/extraction"
	"github.com/menta2k/cardscan/pkg/pipeline"
	"github.com/menta2k/cardscan/pkg/types"
)

func sampleBatch() pipeline.BatchResult {
	return pipeline.BatchResult{
		Outcomes: []pipeline.Outcome{
			{
				Source: "cards/jane.jpg",
				State:  pipeline.StateAssembled,
				Card: &types.Card{
					ID: "c1", Company: "Acme Corp", Name: "Jane Doe",
					Email: "jane.doe@acme.com", Confidence: 0.92, Tags: []string{"vip"},
				},
			},
			{
				Source: "cards/blank.jpg",
				State:  pipeline.StateFailed,
				Err:    pipeline.ErrNoTextExtracted,
			},
			{
				Source:  "cards/offline.jpg",
				State:   pipeline.StateOCROnly,
				RawText: "Jeff Fu\nGlobex",
				Err:     &extraction.NetworkError{Backend: "ollama:m", Err: errors.New("dial tcp: refused")},
			},
		},
		Cancelled: true,
		Elapsed:   1234567 * time.Microsecond,
	}
}

func TestFromBatch(t *testing.T) {
	r := FromBatch(sampleBatch())

	assert.Equal(t, Metadata{Total: 3, Succeeded: 1, Failed: 1, OCROnly: 1, Cancelled: true, TotalTimeMs: 1234.57}, r.Metadata)
	require.Len(t, r.Results, 2)
	assert.Equal(t, "Jane Doe", r.Results[0].Name)
	assert.True(t, r.Results[1].OCROnly)
	assert.Equal(t, "could not reach extraction backend", r.Results[1].Notice)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "cards/blank.jpg", r.Errors[0].ImagePath)
	assert.Contains(t, r.Errors[0].Error, "no text")
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, FromBatch(sampleBatch()).Write(&buf, FormatJSON))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	meta := doc["metadata"].(map[string]any)
	assert.EqualValues(t, 3, meta["total"])
	assert.EqualValues(t, 1, meta["succeeded"])
	assert.Len(t, doc["results"], 2)
	assert.Len(t, doc["errors"], 1)
}

func TestWriteJSONEmptyBatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, FromBatch(pipeline.BatchResult{}).WriteJSON(&buf))
	assert.Contains(t, buf.String(), `"results": []`)
	assert.Contains(t, buf.String(), `"errors": []`)
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, FromBatch(sampleBatch()).Write(&buf, FormatYAML))

	var back Report
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, FromBatch(sampleBatch()), back)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, FromBatch(sampleBatch()).Write(&buf, FormatCSV))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "image_path,company,name,position,email,confidence,error", lines[0])
	assert.Equal(t, "cards/jane.jpg,Acme Corp,Jane Doe,,jane.doe@acme.com,0.92,", lines[1])
	assert.Equal(t, "cards/offline.jpg,,,,,,could not reach extraction backend", lines[2])
	assert.Equal(t, "cards/blank.jpg,,,,,,no text extracted from image", lines[3])
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJSON, "JSON": FormatJSON, "csv": FormatCSV, "yml": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}
