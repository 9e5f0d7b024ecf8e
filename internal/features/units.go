package features

import "strings"

type conversion struct {
	field, from, to string
}

// Conversion factors from commonly reported SI units to the units the
// classifiers were trained on.
var conversions = map[conversion]float64{
	{"glucose", "mmol/l", "mg/dl"}:     18.0,
	{"chol", "mmol/l", "mg/dl"}:        38.67,
	{"cholesterol", "mmol/l", "mg/dl"}: 38.67,
	{"hemoglobin", "g/l", "g/dl"}:      0.1,
	{"hemoglobin", "mmol/l", "g/dl"}:   1.611,
}

func canonicalUnit(u string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(u), " ", ""))
}

// convertUnit rescales value from unit to target for the given field. It
// reports false when no conversion applies, in which case the caller keeps
// the value as received.
func convertUnit(field string, value float64, unit, target string) (float64, bool) {
	from, to := canonicalUnit(unit), canonicalUnit(target)
	if from == "" || to == "" || from == to {
		return value, false
	}
	factor, ok := conversions[conversion{strings.ToLower(field), from, to}]
	if !ok {
		return value, false
	}
	return value * factor, true
}
