package features

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skufu/healthlens/internal/schema"
)

func mustSchema(t *testing.T, task schema.Task) *schema.Schema {
	t.Helper()
	s, err := schema.SchemaFor(task)
	require.NoError(t, err)
	return s
}

func completeHeartVector() Vector {
	return Vector{
		"age": "54", "sex": "1", "cp": "1", "trestbps": "118", "chol": "190",
		"fbs": "0", "restecg": "0", "thalach": "150", "exang": "0",
		"oldpeak": "1", "slope": "1", "ca": "0", "thal": "2",
	}
}

func TestTierOf(t *testing.T) {
	cases := []struct {
		conf *float64
		want Tier
	}{
		{Confidence(1), TierHigh},
		{Confidence(0.95), TierHigh},
		{Confidence(0.9499), TierMedium},
		{Confidence(0.90), TierMedium},
		{Confidence(0.8999), TierLow},
		{Confidence(0), TierLow},
		{nil, TierLow},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TierOf(tc.conf))
	}
}

func TestRawValueUnmarshal(t *testing.T) {
	var raw RawExtraction
	err := json.Unmarshal([]byte(`{
		"chol": {"value": 210, "unit": "mg/dL", "confidence": 0.97},
		"age": 54,
		"note": "fasting",
		"exang": true,
		"thalach": {"value": "150", "confidence": "0.91", "source": "manual"},
		"ca": [1],
		"slope": null
	}`), &raw)
	require.NoError(t, err)

	assert.True(t, raw["chol"].IsAnnotated())
	c, ok := raw["chol"].ConfidenceValue()
	require.True(t, ok)
	assert.Equal(t, 0.97, c)
	assert.Equal(t, 210.0, raw["chol"].Value())
	assert.Equal(t, "mg/dL", raw["chol"].Unit())

	assert.False(t, raw["age"].IsAnnotated())
	assert.Equal(t, 54.0, raw["age"].Value())
	assert.Equal(t, "fasting", raw["note"].Value())
	assert.Equal(t, true, raw["exang"].Value())
	assert.Equal(t, SourceManual, raw["thalach"].Source())
	assert.Equal(t, 1.0, raw["ca"].Value())
	assert.Nil(t, raw["slope"].Value())

	out, err := json.Marshal(raw["chol"])
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":210,"unit":"mg/dL","confidence":0.97}`, string(out))
}

func TestNormalizeFillsMissingAndBackfills(t *testing.T) {
	s := mustSchema(t, schema.TaskHeart)
	raw := RawExtraction{
		"chol":       Annotated(210.0, "mg/dL", Confidence(0.97), ""),
		"age":        Scalar(54.0),
		"hemoglobin": Annotated(13.2, "g/dL", Confidence(0.99), ""),
	}
	n := Normalize(s, raw)

	chol := n.Fields["chol"]
	assert.Equal(t, "210", chol.Value)
	assert.Equal(t, SourceExtracted, chol.Source)
	assert.Equal(t, 0.97, *chol.Confidence)

	age := n.Fields["age"]
	assert.Equal(t, SourceBackfilled, age.Source)
	assert.Equal(t, 1.0, *age.Confidence)

	cp := n.Fields["cp"]
	assert.True(t, cp.Missing)
	assert.Equal(t, MissingMarker, cp.Value)
	assert.Nil(t, cp.Confidence)

	assert.Len(t, n.Fields, 13)
	assert.Contains(t, n.Unlisted, "hemoglobin")
	assert.NotContains(t, n.Fields, "hemoglobin")

	// input untouched
	assert.Len(t, raw, 3)
}

func TestNormalizeResolvesAliasesAndUnits(t *testing.T) {
	s := mustSchema(t, schema.TaskDiabetes)
	n := Normalize(s, RawExtraction{
		"Fasting Blood Sugar": Annotated(5.5, "mmol/L", Confidence(0.92), ""),
		"serum_insulin":       Annotated("１２", "", Confidence(0.96), ""),
	})

	g := n.Fields["Glucose"]
	assert.Equal(t, "99", g.Value)
	assert.Equal(t, "mg/dL", g.Unit)

	ins := n.Fields["Insulin"]
	assert.Equal(t, "12", ins.Value, "full-width digits are NFKC-normalized")
	assert.Equal(t, "µU/mL", ins.Unit)
}

func TestNormalizePrefersCanonicalKeyOverAlias(t *testing.T) {
	s := mustSchema(t, schema.TaskHeart)
	n := Normalize(s, RawExtraction{
		"cholesterol": Annotated(250.0, "", Confidence(0.99), ""),
		"chol":        Annotated(210.0, "", Confidence(0.80), ""),
	})
	assert.Equal(t, "210", n.Fields["chol"].Value)

	n = Normalize(s, RawExtraction{
		"total_cholesterol": Annotated(250.0, "", Confidence(0.91), ""),
		"cholesterol":       Annotated(240.0, "", Confidence(0.99), ""),
	})
	assert.Equal(t, "240", n.Fields["chol"].Value)
}

func TestNormalizeSkipsEmptyValues(t *testing.T) {
	s := mustSchema(t, schema.TaskHeart)
	n := Normalize(s, RawExtraction{"chol": Annotated("  ", "", Confidence(0.99), "")})
	assert.True(t, n.Fields["chol"].Missing)
}

// Scenario: heart extraction with only cholesterol.
func TestReviewHeartPartialExtraction(t *testing.T) {
	s := mustSchema(t, schema.TaskHeart)
	n := Normalize(s, RawExtraction{"chol": Annotated(210.0, "", Confidence(0.97), "")})
	rs := Review(s, n)

	assert.Equal(t, []string{"age", "cp", "trestbps", "fbs", "restecg", "thalach", "exang", "oldpeak", "slope", "ca", "thal"}, rs.RequiredKeys)
	assert.Equal(t, []string{"chol"}, rs.OptionalConfirmationKeys)
	assert.Equal(t, []string{"chol"}, rs.Tiers.High)

	_, violations := Validate(s, n.Values(), rs.RequiredKeys)
	require.Len(t, violations, 10)
	for _, v := range violations {
		assert.Equal(t, ReasonMissing, v.Reason)
		assert.Equal(t, s.Label(v.Key), v.Label)
		assert.NotEqual(t, "age", v.Key)
	}
	assert.Equal(t, "Chest Pain Type", violations[0].Label)
}

// Scenario: confirmed value with a bad numeric format.
func TestValidateNumericAppliesToOptionalFields(t *testing.T) {
	s := mustSchema(t, schema.TaskDiabetes)
	n := Normalize(s, RawExtraction{"Glucose": Annotated("abc", "", Confidence(0.99), "")})
	rs := Review(s, n)

	assert.Contains(t, rs.OptionalConfirmationKeys, "Glucose")
	assert.NotContains(t, rs.RequiredKeys, "Glucose")

	_, violations := Validate(s, n.Values(), rs.RequiredKeys)
	var glucose *FieldViolation
	for i := range violations {
		if violations[i].Key == "Glucose" {
			glucose = &violations[i]
		}
	}
	require.NotNil(t, glucose)
	assert.Equal(t, ReasonNotNumeric, glucose.Reason)
}

// Scenario: general task has no schema.
func TestGeneralTaskAlwaysValid(t *testing.T) {
	s := mustSchema(t, schema.TaskGeneral)
	n := Normalize(s, RawExtraction{
		"hemoglobin": Annotated("low-ish", "", Confidence(0.2), ""),
		"tsh":        Scalar("n/a"),
	})
	rs := Review(s, n)
	assert.Empty(t, rs.RequiredKeys)
	assert.Empty(t, rs.OptionalConfirmationKeys)
	assert.Len(t, n.Unlisted, 2)

	out, violations := Validate(s, Vector{"hemoglobin": "low-ish"}, rs.RequiredKeys)
	assert.Nil(t, violations)
	assert.Empty(t, out)
}

// Scenario: stored features replayed without metadata.
func TestReplayStoredVector(t *testing.T) {
	s := mustSchema(t, schema.TaskHeart)
	n := Replay(s, Vector{"age": "54", "chol": "210"})

	for _, k := range []string{"age", "chol"} {
		f := n.Fields[k]
		assert.Equal(t, SourceBackfilled, f.Source)
		assert.Equal(t, 1.0, *f.Confidence)
		tier, ok := f.Tier()
		require.True(t, ok)
		assert.Equal(t, TierHigh, tier)
	}
	rs := Review(s, n)
	assert.Equal(t, []string{"age", "chol"}, rs.OptionalConfirmationKeys)
	assert.NotContains(t, rs.RequiredKeys, "age")
}

// Scenario: out-of-range value does not affect validation.
func TestAnnotateOutOfRangeIsAdvisory(t *testing.T) {
	s := mustSchema(t, schema.TaskHeart)
	v := completeHeartVector()
	v["trestbps"] = "150"

	assert.Equal(t, []string{"trestbps"}, AnnotateOutOfRange(s, v))

	out, violations := Validate(s, v, s.RequiredKeys())
	assert.Nil(t, violations)
	assert.Equal(t, "150", out["trestbps"])
}

func TestAnnotateOutOfRangeIgnoresUnparsable(t *testing.T) {
	s := mustSchema(t, schema.TaskHeart)
	v := Vector{"trestbps": "high", "chol": "", "thalach": "300", "oldpeak": "2"}
	assert.Equal(t, []string{"thalach"}, AnnotateOutOfRange(s, v))
}

func TestClassifyIsIdempotent(t *testing.T) {
	s := mustSchema(t, schema.TaskHeart)
	raw := RawExtraction{
		"chol":     Annotated(210.0, "", Confidence(0.97), ""),
		"trestbps": Annotated(130.0, "", Confidence(0.92), ""),
		"thalach":  Annotated(150.0, "", Confidence(0.5), ""),
		"oldpeak":  Annotated(1.0, "", nil, ""),
		"sex":      Annotated(1.0, "", Confidence(0.3), ""),
	}
	a := Review(s, Normalize(s, raw))
	b := Review(s, Normalize(s, raw))
	assert.Equal(t, a, b)
}

func TestReviewSetsAreDisjointAndSkipIdentity(t *testing.T) {
	s := mustSchema(t, schema.TaskHeart)
	inputs := []RawExtraction{
		{},
		{"sex": Annotated(1.0, "", Confidence(0.99), "")},
		{"sex": Annotated(0.0, "", Confidence(0.1), "")},
		{
			"chol":     Annotated(210.0, "", Confidence(0.97), ""),
			"trestbps": Annotated(130.0, "", Confidence(0.92), ""),
			"thalach":  Annotated(150.0, "", Confidence(0.5), ""),
			"cp":       Annotated(2.0, "", nil, ""),
		},
	}
	for _, raw := range inputs {
		rs := Review(s, Normalize(s, raw))
		required := map[string]bool{}
		for _, k := range rs.RequiredKeys {
			required[k] = true
		}
		for _, k := range rs.OptionalConfirmationKeys {
			assert.False(t, required[k], "%s in both sets", k)
		}
		assert.NotContains(t, rs.RequiredKeys, "sex")
		assert.NotContains(t, rs.OptionalConfirmationKeys, "sex")
	}
}

func TestLowConfidenceFieldIsRequired(t *testing.T) {
	s := mustSchema(t, schema.TaskHeart)
	n := Normalize(s, RawExtraction{
		"thalach": Annotated(150.0, "", Confidence(0.5), ""),
		"oldpeak": Annotated(1.0, "", Confidence(0.93), ""),
	})
	rs := Review(s, n)
	assert.Contains(t, rs.RequiredKeys, "thalach")
	assert.Equal(t, []string{"oldpeak"}, rs.Tiers.Medium)
	assert.Equal(t, []string{"oldpeak"}, rs.OptionalConfirmationKeys)
}

func TestReplayMatchesFullConfidence(t *testing.T) {
	s := mustSchema(t, schema.TaskDiabetes)
	stored := Vector{"Glucose": "148", "BMI": "33.6", "Age": "50", "Insulin": "0"}

	confident := RawExtraction{}
	for k, v := range stored {
		confident[k] = Annotated(v, "", Confidence(1.0), SourceExtracted)
	}

	replayed := Review(s, Replay(s, stored))
	direct := Review(s, Normalize(s, confident))
	assert.Equal(t, direct.RequiredKeys, replayed.RequiredKeys)
	assert.Equal(t, direct.OptionalConfirmationKeys, replayed.OptionalConfirmationKeys)
}

func TestValidateSoundness(t *testing.T) {
	s := mustSchema(t, schema.TaskHeart)
	required := s.RequiredKeys()

	out, violations := Validate(s, completeHeartVector(), required)
	require.Nil(t, violations)
	assert.Len(t, out, 13)

	v := completeHeartVector()
	v["chol"] = MissingMarker
	v["thalach"] = " "
	v["oldpeak"] = "1.2.3"
	v["age"] = ""
	v["unrelated"] = "x"
	out, violations = Validate(s, v, required)
	assert.Nil(t, out)
	assert.Equal(t, []string{"chol", "thalach", "oldpeak"}, violations.Keys())
	assert.Equal(t, ReasonNotNumeric, violations[2].Reason)
	assert.Contains(t, violations.Error(), "Serum Cholesterol: missing")
}

func TestValidateRejectsInfinity(t *testing.T) {
	s := mustSchema(t, schema.TaskHeart)
	v := completeHeartVector()
	v["chol"] = "Inf"
	_, violations := Validate(s, v, nil)
	require.Len(t, violations, 1)
	assert.Equal(t, ReasonNotNumeric, violations[0].Reason)
}

func TestValidateIsIdempotent(t *testing.T) {
	s := mustSchema(t, schema.TaskHeart)
	v := completeHeartVector()
	v["cp"] = ""
	_, a := Validate(s, v, s.RequiredKeys())
	_, b := Validate(s, v, s.RequiredKeys())
	assert.Equal(t, a, b)
}

func TestValidateAgeWhenCarveOutDisabled(t *testing.T) {
	s, err := schema.NewRegistry(schema.WithAgeValidation()).SchemaFor(schema.TaskHeart)
	require.NoError(t, err)
	v := completeHeartVector()
	v["age"] = "fifty"
	_, violations := Validate(s, v, s.RequiredKeys())
	assert.Equal(t, []string{"age"}, violations.Keys())
}

func TestRangeFlagsNeverChangeValidation(t *testing.T) {
	s := mustSchema(t, schema.TaskHeart)
	for _, chol := range []string{"50", "190", "600"} {
		v := completeHeartVector()
		v["chol"] = chol
		_, violations := Validate(s, v, s.RequiredKeys())
		assert.Nil(t, violations, chol)
	}
}

func TestMergePatchOverridesCanonicalEntry(t *testing.T) {
	s := mustSchema(t, schema.TaskHeart)
	base := Vector{"chol": "210", "trestbps": "130", "ca": MissingMarker}
	merged := Merge(s, base.Raw(), RawExtraction{
		"cholesterol": Scalar(220.0),
		"trestbps":    Scalar(""),
		"thal":        Scalar(MissingMarker),
	})
	n := Normalize(s, merged)

	assert.Equal(t, "220", n.Fields["chol"].Value)
	assert.Equal(t, SourceBackfilled, n.Fields["chol"].Source)
	assert.Equal(t, "130", n.Fields["trestbps"].Value)
	assert.True(t, n.Fields["ca"].Missing)
	assert.True(t, n.Fields["thal"].Missing)
	assert.True(t, n.Fields["cp"].Missing)
}

func TestNormalizeTreatsMissingMarkerAsAbsent(t *testing.T) {
	s := mustSchema(t, schema.TaskHeart)
	raw := RawExtraction{}
	for k, v := range completeHeartVector() {
		raw[k] = Scalar(v)
	}
	raw["chol"] = Scalar(MissingMarker)
	raw["thal"] = Annotated(" "+MissingMarker+" ", "", Confidence(0.99), SourceExtracted)

	n := Normalize(s, raw)
	assert.True(t, n.Fields["chol"].Missing)
	assert.True(t, n.Fields["thal"].Missing)
	assert.NotContains(t, n.Values(), "chol")

	rs := Review(s, n)
	assert.Contains(t, rs.RequiredKeys, "chol")
	assert.Contains(t, rs.RequiredKeys, "thal")

	_, violations := Validate(s, n.Values(), rs.RequiredKeys)
	assert.ElementsMatch(t, []string{"chol", "thal"}, violations.Keys())
}

func TestGlucoseReadingDoesNotSetHeartFBSFlag(t *testing.T) {
	s := mustSchema(t, schema.TaskHeart)
	n := Normalize(s, RawExtraction{
		"fasting_blood_sugar": Annotated(130, "mg/dL", Confidence(0.97), ""),
	})

	assert.True(t, n.Fields["fbs"].Missing)
	assert.Contains(t, n.Unlisted, "fasting_blood_sugar")
	assert.Contains(t, Review(s, n).RequiredKeys, "fbs")

	n = Normalize(s, RawExtraction{"FastingBS": Annotated(1, "", Confidence(0.97), "")})
	assert.Equal(t, "1", n.Fields["fbs"].Value)
}

func TestUnreadableConfidenceIsLowTier(t *testing.T) {
	var raw RawExtraction
	require.NoError(t, json.Unmarshal([]byte(`{
		"chol": {"value": 210, "confidence": "high"},
		"ca": {"value": 0, "confidence": true},
		"thal": {"value": 2}
	}`), &raw))

	c, ok := raw["chol"].ConfidenceValue()
	require.True(t, ok)
	assert.Equal(t, 0.0, c)

	s := mustSchema(t, schema.TaskHeart)
	tiers := Classify(s, Normalize(s, raw))
	assert.Contains(t, tiers.Low, "chol")
	assert.Contains(t, tiers.Low, "ca")
	assert.Contains(t, tiers.High, "thal")
}
