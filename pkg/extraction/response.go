package extraction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/menta2k/cardscan/pkg/types"
)

var fencePattern = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// ParseResponse recovers ExtractedFields from a raw model reply. It tries, in
// order: the contents of a fenced code block, the first balanced {...}, and
// the first element of the first balanced [...].
func ParseResponse(raw string) (types.ExtractedFields, error) {
	obj, err := locateObject(raw)
	if err != nil {
		return types.ExtractedFields{}, err
	}
	return decodeFields(obj)
}

// locateObject returns the first candidate that decodes to a JSON object.
func locateObject(raw string) (json.RawMessage, error) {
	var decodeErr error

	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		obj, err := asObject([]byte(strings.TrimSpace(m[1])))
		if err == nil {
			return obj, nil
		}
		decodeErr = err
	}

	if s, ok := balanced(raw, '{', '}'); ok {
		obj, err := asObject([]byte(s))
		if err == nil {
			return obj, nil
		}
		decodeErr = err
	}

	if s, ok := balanced(raw, '[', ']'); ok {
		var items []json.RawMessage
		err := json.Unmarshal([]byte(s), &items)
		switch {
		case err != nil:
			decodeErr = err
		case len(items) == 0:
			decodeErr = errors.New("empty array")
		default:
			obj, err := asObject(items[0])
			if err == nil {
				return obj, nil
			}
			decodeErr = err
		}
	}

	if decodeErr != nil {
		return nil, &ParseError{Stage: StageDecode, Err: decodeErr}
	}
	return nil, &ParseError{Stage: StageNoJSON, Err: errors.New("no JSON object in response")}
}

func asObject(b []byte) (json.RawMessage, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return nil, errors.New("not a JSON object")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// balanced returns the first substring opening with open and closed by its
// matching closing byte, ignoring delimiters inside JSON strings.
func balanced(s string, open, closing byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

type wireFields struct {
	Company    json.RawMessage `json:"company"`
	Name       json.RawMessage `json:"name"`
	Position   json.RawMessage `json:"position"`
	Email      json.RawMessage `json:"email"`
	Confidence json.RawMessage `json:"confidence"`
}

func decodeFields(obj json.RawMessage) (types.ExtractedFields, error) {
	var w wireFields
	if err := json.Unmarshal(obj, &w); err != nil {
		return types.ExtractedFields{}, &ParseError{Stage: StageDecode, Err: err}
	}

	var out types.ExtractedFields
	var err error

	if out.Name, err = optionalString("name", w.Name); err != nil {
		return types.ExtractedFields{}, err
	}
	if out.Name == "" {
		return types.ExtractedFields{}, &ValidationError{Field: "name", Reason: "required"}
	}
	if out.Company, err = optionalString("company", w.Company); err != nil {
		return types.ExtractedFields{}, err
	}
	if out.Position, err = optionalString("position", w.Position); err != nil {
		return types.ExtractedFields{}, err
	}
	if out.Email, err = optionalString("email", w.Email); err != nil {
		return types.ExtractedFields{}, err
	}
	if out.Confidence, err = confidence(w.Confidence); err != nil {
		return types.ExtractedFields{}, err
	}
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// optionalString treats absent and null uniformly as empty.
func optionalString(field string, raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", &ValidationError{Field: field, Reason: "must be a string"}
	}
	return strings.TrimSpace(s), nil
}

// confidence accepts a number or a numeric string and clamps it into [0,1].
func confidence(raw json.RawMessage) (float64, error) {
	if isNull(raw) {
		return 0, nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0, &ValidationError{Field: "confidence", Reason: "must be a number"}
		}
		v, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, &ValidationError{Field: "confidence", Reason: fmt.Sprintf("not a number: %q", s)}
		}
	}
	return ClampConfidence(v), nil
}

// ClampConfidence maps v into [0,1]; NaN becomes 0.
func ClampConfidence(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
