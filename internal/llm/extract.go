package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/Skufu/healthlens/internal/features"
	"github.com/Skufu/healthlens/internal/schema"
)

// MaxReportChars bounds how much report text is sent to the model.
const MaxReportChars = 20000

const extractionSystemPrompt = "You are a medical report extraction expert. Extract ALL medical test values from lab reports " +
	"and return them as strict JSON. Be flexible with naming conventions - different labs use different names. " +
	"Always normalize to canonical medical terms. " +
	"Output only JSON with a 'pairs' array where each item has: " +
	"name (canonical snake_case), value (number or string), unit (string or ''), " +
	"confidence (0-1 based on how clear the value is)."

const extractionRules = `IMPORTANT INSTRUCTIONS:
1. Look for values even if the naming is different (e.g., 'Haemoglobin' vs 'Hemoglobin', 'TC' vs 'Total Count')
2. Extract numeric values only - ignore reference ranges
3. If a value has multiple measurements, use the actual measured value (not the reference range)
4. Set confidence to 0.9+ if the value is clearly stated, 0.5-0.8 if uncertain
5. Include units exactly as shown (e.g., 'g/dL', 'mg/dL', 'mmHg', '%', 'cells/cumm')
6. For ratios or fractions, extract the decimal value
7. MAPPING RULE: Always map specific lab terms to the canonical keys listed above`

const generalGuidance = `Extract ALL medical values found. Use descriptive canonical names for:
- Blood counts: hemoglobin, wbc, rbc, platelets, hematocrit, neutrophils, lymphocytes
- Metabolic: glucose (MAP ALL GLUCOSE TERMS HERE), cholesterol, hdl, ldl, triglycerides, creatinine, urea, bilirubin
- Liver: sgpt, sgot, alp, albumin, globulin
- Thyroid: tsh, t3, t4
- Vitamins: vitamin_d, vitamin_b12, iron, ferritin
- Vitals: blood_pressure, heart_rate, temperature, weight, height, bmi, age`

// Extractor pulls lab values out of report text with a chat model. Results
// are memoized per task and text.
type Extractor struct {
	client   *Client
	registry *schema.Registry
	cache    *gocache.Cache
	logger   zerolog.Logger
}

// NewExtractor returns an extractor that remembers results for ttl.
func NewExtractor(client *Client, registry *schema.Registry, ttl time.Duration, logger zerolog.Logger) *Extractor {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Extractor{
		client:   client,
		registry: registry,
		cache:    gocache.New(ttl, 2*ttl),
		logger:   logger.With().Str("component", "extractor").Logger(),
	}
}

// Extract returns the raw extraction for text. Names are passed through as
// the model produced them; resolving them against the schema is left to the
// normalizer.
func (e *Extractor) Extract(ctx context.Context, task schema.Task, text string) (features.RawExtraction, error) {
	s, err := e.registry.SchemaFor(task)
	if err != nil {
		return nil, err
	}

	key := cacheKey(task, text)
	if cached, ok := e.cache.Get(key); ok {
		e.logger.Debug().Str("task", string(task)).Msg("extraction cache hit")
		return copyRaw(cached.(features.RawExtraction)), nil
	}

	start := time.Now()
	reply, err := e.client.chat(ctx, extractionSystemPrompt, extractionPrompt(s, text), chatOptions{
		json:        true,
		temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}
	raw, err := ParsePairs(reply)
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("task", string(task)).
		Int("pairs", len(raw)).
		Dur("latency", time.Since(start)).
		Msg("extraction complete")
	e.cache.SetDefault(key, copyRaw(raw))
	return raw, nil
}

func extractionPrompt(s *schema.Schema, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", s.Task())
	if s.Len() == 0 {
		b.WriteString(generalGuidance)
	} else {
		fmt.Fprintf(&b, "For %s, extract these canonical keys:\n", s.Task())
		for _, f := range s.Fields() {
			fmt.Fprintf(&b, "- %s: '%s'", f.Label, f.Name)
			if len(f.Aliases) > 0 {
				fmt.Fprintf(&b, " - MAP %s -> '%s'", strings.Join(f.Aliases, ", "), f.Name)
			}
			if f.Unit != "" {
				fmt.Fprintf(&b, " (%s)", f.Unit)
			}
			b.WriteString("\n")
		}
		b.WriteString("CRITICAL: After extracting these specific fields, extract ALL other medical values found in the report as well.")
	}
	b.WriteString("\n\n")
	b.WriteString(extractionRules)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Report text (first %d chars):\n\n", MaxReportChars)
	b.WriteString(truncate(text, MaxReportChars))
	return b.String()
}

// ParsePairs decodes a {"pairs": [...]} reply. Items without a name or with
// a value that is neither scalar nor list are skipped; a later item with the
// same name replaces an earlier one.
func ParsePairs(reply string) (features.RawExtraction, error) {
	var doc struct {
		Pairs []map[string]json.RawMessage `json:"pairs"`
	}
	if err := json.Unmarshal([]byte(reply), &doc); err != nil {
		return nil, fmt.Errorf("decode extraction reply: %w", err)
	}

	out := make(features.RawExtraction, len(doc.Pairs))
	for _, item := range doc.Pairs {
		var name string
		if err := json.Unmarshal(item["name"], &name); err != nil {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		delete(item, "name")
		body, err := json.Marshal(item)
		if err != nil {
			continue
		}
		var rv features.RawValue
		if err := json.Unmarshal(body, &rv); err != nil {
			continue
		}
		out[name] = rv
	}
	return out, nil
}

func cacheKey(task schema.Task, text string) string {
	sum := sha256.Sum256([]byte(string(task) + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func copyRaw(raw features.RawExtraction) features.RawExtraction {
	out := make(features.RawExtraction, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
