package predict

import (
	"fmt"

	"github.com/Skufu/healthlens/internal/features"
	"github.com/Skufu/healthlens/internal/schema"
)

// Training-set medians used when a schema field reaches the model empty,
// which only happens for fields exempt from validation.
var imputationDefaults = map[schema.Task]map[string]float64{
	schema.TaskHeart: {
		"age": 54, "sex": 1, "cp": 1, "trestbps": 130, "chol": 246, "fbs": 0,
		"restecg": 0, "thalach": 150, "exang": 0, "oldpeak": 1.0, "slope": 1,
		"ca": 0, "thal": 2,
	},
	schema.TaskDiabetes: {
		"Pregnancies": 3, "Glucose": 120, "BloodPressure": 72, "SkinThickness": 23,
		"Insulin": 30, "BMI": 32.0, "DiabetesPedigreeFunction": 0.372, "Age": 29,
	},
}

// Payload converts a validated vector to the flat numeric mapping the model
// service expects, imputing blanks. Values that do not parse are passed as
// strings and left to the model service to reject.
func Payload(s *schema.Schema, vector features.Vector) (map[string]any, []string) {
	defaults := imputationDefaults[s.Task()]
	out := make(map[string]any, s.Len())
	var warnings []string
	for _, k := range s.Keys() {
		v := vector[k]
		if features.IsBlank(v) {
			out[k] = defaults[k]
			warnings = append(warnings, fmt.Sprintf("Missing field %s, imputed with default value", k))
			continue
		}
		if x, ok := features.ParseNumber(v); ok {
			out[k] = x
			continue
		}
		out[k] = v
	}
	return out, warnings
}
