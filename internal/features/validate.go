package features

import (
	"fmt"
	"strings"

	"github.com/Skufu/healthlens/internal/schema"
)

// Vector maps field names to the values submitted for prediction.
type Vector map[string]string

// Clone returns an independent copy.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Reason explains a field violation.
type Reason string

const (
	ReasonMissing    Reason = "missing"
	ReasonNotNumeric Reason = "not-numeric"
)

// FieldViolation reports one field that blocks submission.
type FieldViolation struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Reason Reason `json:"reason"`
}

// Violations is the complete list of problems found in one pass.
type Violations []FieldViolation

func (v Violations) Error() string {
	parts := make([]string, len(v))
	for i, fv := range v {
		parts[i] = fmt.Sprintf("%s: %s", fv.Label, fv.Reason)
	}
	return "invalid features: " + strings.Join(parts, "; ")
}

// Keys returns the offending keys in report order.
func (v Violations) Keys() []string {
	out := make([]string, len(v))
	for i, fv := range v {
		out[i] = fv.Key
	}
	return out
}

// Validate checks a reviewed vector before it is handed to the predictor.
//
// Every required key must carry a value. Every numeric schema field that
// carries a value must parse as a finite number, whether or not it is
// required. Fields flagged SkipValidation are exempt from both checks and
// keys outside the schema are ignored. On success the returned vector holds
// exactly the schema keys; on failure it is nil and every violation is
// listed, in schema order.
func Validate(s *schema.Schema, vector Vector, requiredKeys []string) (Vector, Violations) {
	required := make(map[string]bool, len(requiredKeys))
	for _, k := range requiredKeys {
		required[k] = true
	}

	var violations Violations
	for _, f := range s.Fields() {
		if f.SkipValidation {
			continue
		}
		value := vector[f.Name]
		if IsBlank(value) {
			if required[f.Name] {
				violations = append(violations, FieldViolation{Key: f.Name, Label: labelOf(f), Reason: ReasonMissing})
			}
			continue
		}
		if f.Kind == schema.KindNumeric {
			if _, ok := ParseNumber(value); !ok {
				violations = append(violations, FieldViolation{Key: f.Name, Label: labelOf(f), Reason: ReasonNotNumeric})
			}
		}
	}
	if len(violations) > 0 {
		return nil, violations
	}

	out := make(Vector, s.Len())
	for _, k := range s.Keys() {
		v := vector[k]
		if IsBlank(v) {
			v = ""
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

func labelOf(f schema.Field) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}
