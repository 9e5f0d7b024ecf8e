package schema

// Registry resolves tasks to their schemas. A registry is built once at
// startup and shared read-only by every request.
type Registry struct {
	schemas map[Task]*Schema
}

// Option adjusts the field definitions before the registry is frozen.
type Option func(task Task, fields []Field)

// WithAgeValidation drops the age carve-out so the validation gate checks
// age like any other numeric field.
func WithAgeValidation() Option {
	return func(_ Task, fields []Field) {
		for i := range fields {
			if isAgeField(fields[i].Name) {
				fields[i].SkipValidation = false
			}
		}
	}
}

// NewRegistry builds the schemas of every supported task.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{schemas: make(map[Task]*Schema, len(Tasks))}
	for _, task := range Tasks {
		fields := definitions(task)
		for _, opt := range opts {
			opt(task, fields)
		}
		r.schemas[task] = newSchema(task, fields)
	}
	return r
}

// SchemaFor returns the schema of task.
func (r *Registry) SchemaFor(task Task) (*Schema, error) {
	s, ok := r.schemas[task]
	if !ok {
		return nil, &UnknownTaskError{Task: string(task)}
	}
	return s, nil
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry with the stock age carve-out.
func Default() *Registry { return defaultRegistry }

// SchemaFor resolves task against the default registry.
func SchemaFor(task Task) (*Schema, error) {
	return defaultRegistry.SchemaFor(task)
}

func isAgeField(name string) bool {
	return foldKey(name) == "age"
}

func rng(min, max float64) *Range { return &Range{Min: min, Max: max} }

func definitions(task Task) []Field {
	switch task {
	case TaskHeart:
		return heartFields()
	case TaskDiabetes:
		return diabetesFields()
	case TaskParkinsons:
		return parkinsonsFields()
	default:
		return nil
	}
}

// Cleveland heart disease features.
func heartFields() []Field {
	return []Field{
		{Name: "age", Label: "Age", Kind: KindNumeric, Unit: "years", Required: true, SkipValidation: true, Aliases: []string{"patient_age"}},
		{Name: "sex", Label: "Sex", Kind: KindCategorical, Required: true, Identity: true, Choices: []string{"0", "1"}, Aliases: []string{"gender", "sex_m"}},
		{Name: "cp", Label: "Chest Pain Type", Kind: KindCategorical, Required: true, Choices: []string{"0", "1", "2", "3"}, Aliases: []string{"chest_pain_type", "chestpaintype"}},
		{Name: "trestbps", Label: "Resting Blood Pressure", Kind: KindNumeric, Unit: "mmHg", Required: true, Range: rng(90, 120), Aliases: []string{"restingbp", "resting_blood_pressure", "systolic_bp", "blood_pressure"}},
		{Name: "chol", Label: "Serum Cholesterol", Kind: KindNumeric, Unit: "mg/dL", Required: true, Range: rng(125, 200), Aliases: []string{"cholesterol", "total_cholesterol", "serum_cholesterol"}},
		{Name: "fbs", Label: "Fasting Blood Sugar > 120 mg/dL", Kind: KindBoolean, Required: true, Choices: []string{"0", "1"}, Aliases: []string{"fastingbs"}},
		{Name: "restecg", Label: "Resting ECG", Kind: KindCategorical, Required: true, Choices: []string{"0", "1", "2"}, Aliases: []string{"resting_ecg", "restingecg", "ecg"}},
		{Name: "thalach", Label: "Maximum Heart Rate", Kind: KindNumeric, Unit: "bpm", Required: true, Range: rng(60, 202), Aliases: []string{"maxhr", "max_heart_rate", "peak_heart_rate"}},
		{Name: "exang", Label: "Exercise Induced Angina", Kind: KindBoolean, Required: true, Choices: []string{"0", "1"}, Aliases: []string{"exerciseangina", "exercise_angina"}},
		{Name: "oldpeak", Label: "ST Depression", Kind: KindNumeric, Unit: "mm", Required: true, Range: rng(0, 2), Aliases: []string{"st_depression"}},
		{Name: "slope", Label: "ST Slope", Kind: KindCategorical, Required: true, Choices: []string{"0", "1", "2"}, Aliases: []string{"st_slope"}},
		{Name: "ca", Label: "Major Vessels Colored", Kind: KindNumeric, Required: true, Aliases: []string{"major_vessels"}},
		{Name: "thal", Label: "Thalassemia", Kind: KindCategorical, Required: true, Choices: []string{"0", "1", "2", "3"}, Aliases: []string{"thalassemia"}},
	}
}

// Pima Indians diabetes features.
func diabetesFields() []Field {
	return []Field{
		{Name: "Pregnancies", Label: "Pregnancies", Kind: KindNumeric, Required: true, Aliases: []string{"number_of_pregnancies", "gravida"}},
		{Name: "Glucose", Label: "Glucose", Kind: KindNumeric, Unit: "mg/dL", Required: true, Range: rng(70, 140), Aliases: []string{"fbs", "rbs", "fasting_blood_sugar", "random_blood_sugar", "blood_glucose", "plasma_glucose", "fasting_glucose"}},
		{Name: "BloodPressure", Label: "Blood Pressure", Kind: KindNumeric, Unit: "mmHg", Required: true, Range: rng(60, 80), Aliases: []string{"blood_pressure", "bp", "diastolic_bp"}},
		{Name: "SkinThickness", Label: "Skin Thickness", Kind: KindNumeric, Unit: "mm", Required: true, Range: rng(10, 50), Aliases: []string{"skin_thickness", "skin_fold", "triceps_skin_fold"}},
		{Name: "Insulin", Label: "Insulin", Kind: KindNumeric, Unit: "µU/mL", Required: true, Range: rng(2, 25), Aliases: []string{"serum_insulin", "insulin_level", "fasting_insulin"}},
		{Name: "BMI", Label: "Body Mass Index", Kind: KindNumeric, Unit: "kg/m²", Required: true, Range: rng(18.5, 24.9), Aliases: []string{"body_mass_index"}},
		{Name: "DiabetesPedigreeFunction", Label: "Diabetes Pedigree Function", Kind: KindNumeric, Required: true, Aliases: []string{"diabetes_pedigree_function", "dpf", "diabetes_pedigree"}},
		{Name: "Age", Label: "Age", Kind: KindNumeric, Unit: "years", Required: true, SkipValidation: true, Aliases: []string{"patient_age"}},
	}
}

// Oxford Parkinson's voice measurements.
func parkinsonsFields() []Field {
	voice := func(name, label, unit string, aliases ...string) Field {
		return Field{Name: name, Label: label, Kind: KindNumeric, Unit: unit, Required: true, Aliases: aliases}
	}
	return []Field{
		voice("fo", "Average Vocal Fundamental Frequency", "Hz", "mdvp_fo", "mdvp_fo_hz"),
		voice("fhi", "Maximum Vocal Fundamental Frequency", "Hz", "mdvp_fhi", "mdvp_fhi_hz"),
		voice("flo", "Minimum Vocal Fundamental Frequency", "Hz", "mdvp_flo", "mdvp_flo_hz"),
		voice("Jitter_percent", "Jitter (%)", "%", "mdvp_jitter_percent", "jitter"),
		voice("Jitter_Abs", "Jitter (Abs)", "", "mdvp_jitter_abs"),
		voice("RAP", "Relative Amplitude Perturbation", "", "mdvp_rap"),
		voice("PPQ", "Period Perturbation Quotient", "", "mdvp_ppq"),
		voice("DDP", "Jitter DDP", "", "jitter_ddp"),
		voice("Shimmer", "Shimmer", "", "mdvp_shimmer"),
		voice("Shimmer_dB", "Shimmer (dB)", "dB", "mdvp_shimmer_db"),
		voice("APQ3", "Shimmer APQ3", "", "shimmer_apq3"),
		voice("APQ5", "Shimmer APQ5", "", "shimmer_apq5"),
		voice("APQ", "Amplitude Perturbation Quotient", "", "mdvp_apq"),
		voice("DDA", "Shimmer DDA", "", "shimmer_dda"),
		voice("NHR", "Noise-to-Harmonics Ratio", ""),
		voice("HNR", "Harmonics-to-Noise Ratio", "dB"),
		voice("RPDE", "Recurrence Period Density Entropy", ""),
		voice("DFA", "Detrended Fluctuation Analysis", ""),
		voice("spread1", "Spread 1", ""),
		voice("spread2", "Spread 2", ""),
		voice("D2", "Correlation Dimension", ""),
		voice("PPE", "Pitch Period Entropy", ""),
	}
}
