package llm

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/Skufu/healthlens/internal/features"
	"github.com/Skufu/healthlens/internal/schema"
)

// patternConfidence is what a regex match is worth: below the medium tier,
// so every value found this way is reviewed by the user.
const patternConfidence = 0.7

// "Lab Name: value unit" or "Lab Name value unit".
var labValuePattern = regexp.MustCompile(`([a-zA-Z %/().-]{2,50})[:\s]+([0-9]+(?:\.[0-9]+)?)[ \t]*([a-zA-Z%/²µ]+)?`)

// PatternExtractor finds "label value unit" lines in report text without a
// model. It is used when no model API key is configured.
type PatternExtractor struct {
	registry *schema.Registry
}

// NewPatternExtractor returns a pattern-based extractor.
func NewPatternExtractor(registry *schema.Registry) *PatternExtractor {
	return &PatternExtractor{registry: registry}
}

// Extract keeps the first value found for each field. For tasks with a
// schema, labels that resolve to no field are dropped; the general task
// keeps every label under a snake_case name.
func (p *PatternExtractor) Extract(_ context.Context, task schema.Task, text string) (features.RawExtraction, error) {
	s, err := p.registry.SchemaFor(task)
	if err != nil {
		return nil, err
	}
	text = truncate(text, MaxReportChars)

	out := make(features.RawExtraction)
	for _, m := range labValuePattern.FindAllStringSubmatch(text, -1) {
		value, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		name, ok := resolveLabel(s, m[1])
		if !ok {
			continue
		}
		if _, seen := out[name]; seen {
			continue
		}
		unit := strings.TrimSpace(m[3])
		out[name] = features.Annotated(value, unit, features.Confidence(patternConfidence), features.SourceExtracted)
	}
	return out, nil
}

// resolveLabel matches the longest trailing run of words in label against
// the schema, so "Fasting Blood Sugar" and "Result Fasting Blood Sugar"
// resolve alike.
func resolveLabel(s *schema.Schema, label string) (string, bool) {
	words := strings.Fields(strings.Trim(label, " :-.()"))
	if len(words) == 0 {
		return "", false
	}
	if s.Len() == 0 {
		return strings.ToLower(strings.Join(words, "_")), true
	}
	for i := range words {
		if name, ok := s.Resolve(strings.Join(words[i:], " ")); ok {
			return name, true
		}
	}
	return "", false
}
