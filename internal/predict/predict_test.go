package predict

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skufu/healthlens/internal/features"
	"github.com/Skufu/healthlens/internal/schema"
)

func heartVector() features.Vector {
	return features.Vector{
		"age": "54", "sex": "1", "cp": "0", "trestbps": "110", "chol": "180",
		"fbs": "0", "restecg": "0", "thalach": "150", "exang": "0",
		"oldpeak": "1.0", "slope": "1", "ca": "0", "thal": "2",
	}
}

func heartSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.SchemaFor(schema.TaskHeart)
	require.NoError(t, err)
	return s
}

func TestHealthScoreInRangeIsModelDriven(t *testing.T) {
	s := heartSchema(t)
	score, parts := HealthScore(s, heartVector(), 0.2)
	// labs contribute 100, model contributes 80
	assert.Equal(t, 94.0, score)
	assert.Empty(t, parts)
}

func TestHealthScorePenalizesOutOfRange(t *testing.T) {
	s := heartSchema(t)
	v := heartVector()
	v["chol"] = "290" // (290-200)/37.5 = 2.4
	v["trestbps"] = "200"

	score, parts := HealthScore(s, v, 0.2)
	require.Len(t, parts, 2)
	assert.Equal(t, "trestbps", parts[0].Key)
	assert.Equal(t, 3.0, parts[0].Penalty)
	assert.Equal(t, "chol", parts[1].Key)
	assert.Equal(t, 2.4, parts[1].Penalty)
	// labs = 100 - 5*5.4 = 73
	assert.Equal(t, 75.1, score)
}

func TestHealthScoreHigherRiskLowersScore(t *testing.T) {
	s := heartSchema(t)
	low, _ := HealthScore(s, heartVector(), 0.1)
	high, _ := HealthScore(s, heartVector(), 0.9)
	assert.Greater(t, low, high)
}

func TestHealthScoreWithoutRangedValues(t *testing.T) {
	s := heartSchema(t)
	score, parts := HealthScore(s, features.Vector{}, 0.25)
	assert.Equal(t, 75.0, score)
	assert.Nil(t, parts)

	score, _ = HealthScore(s, features.Vector{}, 1.7)
	assert.Equal(t, 0.0, score)
}

func TestPayloadImputesBlanks(t *testing.T) {
	s := heartSchema(t)
	v := heartVector()
	v["age"] = ""

	payload, warnings := Payload(s, v)
	assert.Equal(t, 54.0, payload["age"])
	assert.Equal(t, 180.0, payload["chol"])
	assert.Len(t, payload, s.Len())
	assert.Equal(t, []string{"Missing field age, imputed with default value"}, warnings)
}

func TestResultCheck(t *testing.T) {
	assert.NoError(t, (&Result{Label: 1, Probability: 0.7, HealthScore: 40}).Check())
	assert.Error(t, (&Result{Label: 2, Probability: 0.7, HealthScore: 40}).Check())
	assert.Error(t, (&Result{Label: 0, Probability: 1.2, HealthScore: 40}).Check())
	assert.Error(t, (&Result{Label: 0, Probability: 0.2, HealthScore: 140}).Check())
}

func TestHTTPPredictorPostsFeatures(t *testing.T) {
	var got predictRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predict/heart", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"label":1,"probability":0.8,"model":"rf-v2"}`))
	}))
	defer srv.Close()

	p := NewHTTPPredictor(srv.URL, time.Second, schema.Default(), zerolog.Nop())
	res, err := p.Predict(context.Background(), schema.TaskHeart, heartVector())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Label)
	assert.Equal(t, 0.8, res.Probability)
	assert.Equal(t, "rf-v2", res.Model)
	// computed locally: 0.7*100 + 0.3*20
	assert.Equal(t, 76.0, res.HealthScore)
	assert.Equal(t, 110.0, got.Features["trestbps"])
}

func TestHTTPPredictorKeepsServiceScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"label":0,"probability":0.1,"health_score":88.5,"top_contributors":["chol"]}`))
	}))
	defer srv.Close()

	p := NewHTTPPredictor(srv.URL, time.Second, schema.Default(), zerolog.Nop())
	res, err := p.Predict(context.Background(), schema.TaskHeart, heartVector())
	require.NoError(t, err)
	assert.Equal(t, 88.5, res.HealthScore)
	assert.Equal(t, []string{"chol"}, res.TopContributors)
}

func TestHTTPPredictorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/predict/heart":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"detail":"model not loaded"}`))
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"label":3,"probability":0.5}`))
		}
	}))
	defer srv.Close()

	p := NewHTTPPredictor(srv.URL, time.Second, schema.Default(), zerolog.Nop())

	_, err := p.Predict(context.Background(), schema.TaskHeart, heartVector())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")

	_, err = p.Predict(context.Background(), schema.TaskDiabetes, features.Vector{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "label 3")

	_, err = p.Predict(context.Background(), schema.Task("lungs"), heartVector())
	var unknown *schema.UnknownTaskError
	assert.ErrorAs(t, err, &unknown)
}

func TestHTTPPredictorNotConfigured(t *testing.T) {
	p := NewHTTPPredictor("", time.Second, schema.Default(), zerolog.Nop())
	_, err := p.Predict(context.Background(), schema.TaskHeart, heartVector())
	assert.ErrorIs(t, err, ErrNotConfigured)
}
