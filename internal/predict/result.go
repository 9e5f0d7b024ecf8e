package predict

import (
	"context"
	"fmt"

	"github.com/Skufu/healthlens/internal/features"
	"github.com/Skufu/healthlens/internal/schema"
)

// Result is the disease-risk estimate returned by the model service.
type Result struct {
	Label           int      `json:"label"`
	Probability     float64  `json:"probability"`
	HealthScore     float64  `json:"health_score"`
	TopContributors []string `json:"top_contributors,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	Model           string   `json:"model,omitempty"`
}

// Predictor scores a frozen feature vector.
type Predictor interface {
	Predict(ctx context.Context, task schema.Task, vector features.Vector) (*Result, error)
}

// Check rejects results outside the model service contract.
func (r *Result) Check() error {
	if r.Label != 0 && r.Label != 1 {
		return fmt.Errorf("label %d out of {0,1}", r.Label)
	}
	if r.Probability < 0 || r.Probability > 1 {
		return fmt.Errorf("probability %.4f out of [0,1]", r.Probability)
	}
	if r.HealthScore < 0 || r.HealthScore > 100 {
		return fmt.Errorf("health score %.1f out of [0,100]", r.HealthScore)
	}
	return nil
}
