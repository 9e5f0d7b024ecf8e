package features

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Source records where a value came from.
type Source string

const (
	SourceExtracted  Source = "extracted"
	SourceManual     Source = "manual"
	SourceBackfilled Source = "backfilled"
)

// MissingMarker is the value of a required field the extraction did not
// produce. It is distinct from the empty string a user may submit.
const MissingMarker = "__missing__"

// ExtractedField is one normalized datum. It is never mutated after
// normalization; user edits are recorded separately.
type ExtractedField struct {
	Key        string   `json:"key"`
	Value      string   `json:"value"`
	Unit       string   `json:"unit,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Source     Source   `json:"source,omitempty"`
	Missing    bool     `json:"missing,omitempty"`
}

// Tier derives the confidence tier of the field. Missing fields have no
// tier.
func (f ExtractedField) Tier() (Tier, bool) {
	if f.Missing {
		return "", false
	}
	return TierOf(f.Confidence), true
}

// IsBlank reports whether v carries no usable value.
func IsBlank(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || v == MissingMarker
}

// ParseNumber parses a trimmed, finite real number.
func ParseNumber(v string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// FormatValue renders a scalar the way vectors store it. Booleans become
// 1/0 because the downstream classifiers take binary flags.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return CleanText(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		if t {
			return "1"
		}
		return "0"
	default:
		return ""
	}
}

// CleanText applies NFKC normalization, drops NUL and other control bytes
// left over by OCR, and trims whitespace.
func CleanText(s string) string {
	s = norm.NFKC.String(s)
	s = strings.Map(func(r rune) rune {
		if r == 0 || (r < 0x20 && r != '\n' && r != '\t') {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
