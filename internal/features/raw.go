package features

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RawValue is one entry of an extraction payload as received from the
// extraction collaborator. It is either a bare scalar or an annotated value
// carrying unit, confidence and source metadata.
type RawValue struct {
	annotated  bool
	value      any
	unit       string
	confidence *float64
	source     Source
}

// RawExtraction maps extracted keys to their raw values.
type RawExtraction map[string]RawValue

// Scalar wraps a bare string, number or boolean.
func Scalar(v any) RawValue {
	return RawValue{value: v}
}

// Annotated wraps a value with its metadata. A nil confidence means the
// collaborator did not report one.
func Annotated(v any, unit string, confidence *float64, source Source) RawValue {
	return RawValue{annotated: true, value: v, unit: unit, confidence: confidence, source: source}
}

// Confidence is a helper for building annotated values.
func Confidence(c float64) *float64 { return &c }

func (r RawValue) IsAnnotated() bool { return r.annotated }
func (r RawValue) Value() any        { return r.value }
func (r RawValue) Unit() string      { return r.unit }
func (r RawValue) Source() Source    { return r.source }

// ConfidenceValue returns the reported confidence, if any.
func (r RawValue) ConfidenceValue() (float64, bool) {
	if r.confidence == nil {
		return 0, false
	}
	return *r.confidence, true
}

type annotatedJSON struct {
	Value      json.RawMessage `json:"value"`
	Unit       *string         `json:"unit,omitempty"`
	Confidence json.RawMessage `json:"confidence,omitempty"`
	Source     Source          `json:"source,omitempty"`
}

// UnmarshalJSON accepts either a scalar (`210`, `"abc"`, `true`) or an object
// `{"value": ..., "unit": ..., "confidence": ..., "source": ...}`.
func (r *RawValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var a annotatedJSON
		if err := json.Unmarshal(data, &a); err != nil {
			return fmt.Errorf("decode annotated value: %w", err)
		}
		v, err := decodeScalar(a.Value)
		if err != nil {
			return err
		}
		conf, err := decodeConfidence(a.Confidence)
		if err != nil {
			return err
		}
		*r = RawValue{annotated: true, value: v, confidence: conf, source: a.Source}
		if a.Unit != nil {
			r.unit = *a.Unit
		}
		return nil
	}
	v, err := decodeScalar(data)
	if err != nil {
		return err
	}
	*r = RawValue{value: v}
	return nil
}

// MarshalJSON mirrors UnmarshalJSON.
func (r RawValue) MarshalJSON() ([]byte, error) {
	if !r.annotated {
		return json.Marshal(r.value)
	}
	out := map[string]any{"value": r.value}
	if r.unit != "" {
		out["unit"] = r.unit
	}
	if r.confidence != nil {
		out["confidence"] = *r.confidence
	}
	if r.source != "" {
		out["source"] = r.source
	}
	return json.Marshal(out)
}

func decodeScalar(data json.RawMessage) (any, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String(), nil
		}
		return f, nil
	case string, bool:
		return t, nil
	case []any:
		// Some extractions wrap single measurements in a list.
		if len(t) == 0 {
			return nil, nil
		}
		inner, err := json.Marshal(t[0])
		if err != nil {
			return nil, err
		}
		return decodeScalar(inner)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// decodeConfidence reads a reported confidence. A confidence that is present
// but unreadable counts as zero so the value lands in review.
func decodeConfidence(data json.RawMessage) (*float64, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode confidence: %w", err)
	}
	f := 0.0
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			f = parsed
		}
	}
	if math.IsNaN(f) {
		f = 0
	}
	return &f, nil
}
