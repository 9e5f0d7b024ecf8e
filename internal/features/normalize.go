package features

import (
	"math"
	"sort"

	"github.com/Skufu/healthlens/internal/schema"
)

// Normalized is the canonical form of one extraction: schema fields keyed by
// their canonical name plus anything the schema does not know about.
type Normalized struct {
	Task     schema.Task               `json:"task"`
	Fields   map[string]ExtractedField `json:"fields"`
	Unlisted map[string]ExtractedField `json:"unlisted,omitempty"`
}

// Normalize coerces a raw extraction into canonical fields for s.
//
// Values without a confidence are treated as fully confident backfills.
// Required fields the extraction did not produce are added with the
// missing marker. Keys the schema does not know are kept in Unlisted for
// display and never take part in review or validation. raw is not modified.
func Normalize(s *schema.Schema, raw RawExtraction) *Normalized {
	n := &Normalized{
		Task:     s.Task(),
		Fields:   make(map[string]ExtractedField, s.Len()),
		Unlisted: make(map[string]ExtractedField),
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	exact := make(map[string]bool)
	for _, k := range keys {
		f, ok := normalizeValue(k, raw[k])
		if !ok {
			continue
		}
		name, known := s.Resolve(k)
		if !known {
			n.Unlisted[k] = f
			continue
		}
		def, _ := s.Field(name)
		f.Key = name
		if def.Unit != "" {
			f = applyUnit(f, def.Unit)
		}
		isExact := k == name
		if prev, seen := n.Fields[name]; seen && !prefer(f, isExact, prev, exact[name]) {
			continue
		}
		n.Fields[name] = f
		exact[name] = isExact
	}

	for _, name := range s.RequiredKeys() {
		if _, ok := n.Fields[name]; ok {
			continue
		}
		def, _ := s.Field(name)
		n.Fields[name] = ExtractedField{
			Key:     name,
			Value:   MissingMarker,
			Unit:    def.Unit,
			Missing: true,
		}
	}
	return n
}

// Replay rebuilds a normalized extraction from a stored feature vector that
// lost its metadata. Every value comes back as a confident backfill.
func Replay(s *schema.Schema, vector Vector) *Normalized {
	return Normalize(s, vector.Raw())
}

// Keys returns the schema field keys in schema order.
func (n *Normalized) Keys(s *schema.Schema) []string {
	out := make([]string, 0, len(n.Fields))
	for k := range n.Fields {
		out = append(out, k)
	}
	sortBySchema(s, out)
	return out
}

// Values returns the non-missing field values as a vector.
func (n *Normalized) Values() Vector {
	v := make(Vector, len(n.Fields))
	for k, f := range n.Fields {
		if f.Missing {
			continue
		}
		v[k] = f.Value
	}
	return v
}

func normalizeValue(key string, rv RawValue) (ExtractedField, bool) {
	value := FormatValue(rv.Value())
	if IsBlank(value) {
		return ExtractedField{}, false
	}
	f := ExtractedField{Key: key, Value: value, Unit: CleanText(rv.Unit())}
	conf, ok := rv.ConfidenceValue()
	if !ok {
		f.Confidence = Confidence(1.0)
		f.Source = SourceBackfilled
		return f, true
	}
	conf = math.Max(0, math.Min(1, conf))
	f.Confidence = &conf
	f.Source = rv.Source()
	if f.Source == "" {
		f.Source = SourceExtracted
	}
	return f, true
}

func applyUnit(f ExtractedField, target string) ExtractedField {
	if f.Unit == "" {
		f.Unit = target
		return f
	}
	num, ok := ParseNumber(f.Value)
	if !ok {
		return f
	}
	converted, ok := convertUnit(f.Key, num, f.Unit, target)
	if !ok {
		return f
	}
	f.Value = FormatValue(math.Round(converted*100) / 100)
	f.Unit = target
	return f
}

// prefer decides between two raw keys resolving to the same field: an exact
// canonical key beats an alias, then the higher confidence wins. Keys are
// visited in sorted order, so remaining ties keep the first key.
func prefer(cand ExtractedField, candExact bool, prev ExtractedField, prevExact bool) bool {
	if candExact != prevExact {
		return candExact
	}
	return confidenceOf(cand) > confidenceOf(prev)
}

func confidenceOf(f ExtractedField) float64 {
	if f.Confidence == nil {
		return -1
	}
	return *f.Confidence
}

func sortBySchema(s *schema.Schema, keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		pi, pj := s.Position(keys[i]), s.Position(keys[j])
		if pi != pj {
			return pi < pj
		}
		return keys[i] < keys[j]
	})
}

// Raw turns the vector into bare scalars, dropping blank values.
func (v Vector) Raw() RawExtraction {
	raw := make(RawExtraction, len(v))
	for k, val := range v {
		if IsBlank(val) {
			continue
		}
		raw[k] = Scalar(val)
	}
	return raw
}

// Merge overlays patch onto base. Patch keys are resolved to their canonical
// field first so an alias in the patch replaces the canonical base entry.
// Blank patch values, the missing marker included, never erase an existing
// value.
func Merge(s *schema.Schema, base, patch RawExtraction) RawExtraction {
	out := make(RawExtraction, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if IsBlank(FormatValue(v.Value())) {
			continue
		}
		if name, ok := s.Resolve(k); ok {
			for existing := range out {
				if resolved, known := s.Resolve(existing); known && resolved == name {
					delete(out, existing)
				}
			}
			k = name
		}
		out[k] = v
	}
	return out
}
