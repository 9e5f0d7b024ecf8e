package features

import "github.com/Skufu/healthlens/internal/schema"

// AnnotateOutOfRange returns the keys whose numeric value lies strictly
// outside the field's reference range, in schema order. Values that do not
// parse are unknown rather than abnormal and are never flagged. The result
// is advisory and has no bearing on Validate.
func AnnotateOutOfRange(s *schema.Schema, vector Vector) []string {
	out := []string{}
	for _, f := range s.Fields() {
		if f.Range == nil {
			continue
		}
		x, ok := ParseNumber(vector[f.Name])
		if !ok {
			continue
		}
		if x < f.Range.Min || x > f.Range.Max {
			out = append(out, f.Name)
		}
	}
	return out
}

// RangeFor returns the reference range of a schema field, if it has one.
func RangeFor(s *schema.Schema, key string) (schema.Range, bool) {
	f, ok := s.Field(key)
	if !ok || f.Range == nil {
		return schema.Range{}, false
	}
	return *f.Range, true
}
