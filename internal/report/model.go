package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/Skufu/healthlens/internal/features"
	"github.com/Skufu/healthlens/internal/predict"
	"github.com/Skufu/healthlens/internal/schema"
)

// Report is one uploaded lab report together with what was extracted from
// it and, once submitted, the feature vector the user confirmed and the
// prediction made on it.
type Report struct {
	ID          uuid.UUID            `json:"id"`
	UserID      string               `json:"user_id"`
	Task        schema.Task          `json:"task"`
	RawFilename string               `json:"raw_filename,omitempty"`
	RawText     string               `json:"raw_text,omitempty"`
	Extraction  *features.Normalized `json:"extraction,omitempty"`
	Vector      features.Vector      `json:"vector,omitempty"`
	Prediction  *predict.Result      `json:"prediction,omitempty"`
	SourceID    *uuid.UUID           `json:"source_id,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	SubmittedAt *time.Time           `json:"submitted_at,omitempty"`
}

// Submitted reports whether the vector has been frozen.
func (r *Report) Submitted() bool { return r.SubmittedAt != nil }

// Summary is the list view of a report.
type Summary struct {
	ID          uuid.UUID   `json:"id"`
	Task        schema.Task `json:"task"`
	RawFilename string      `json:"raw_filename,omitempty"`
	Label       *int        `json:"label,omitempty"`
	HealthScore *float64    `json:"health_score,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	SubmittedAt *time.Time  `json:"submitted_at,omitempty"`
}

// Summarize drops the payload columns.
func (r *Report) Summarize() Summary {
	s := Summary{
		ID:          r.ID,
		Task:        r.Task,
		RawFilename: r.RawFilename,
		CreatedAt:   r.CreatedAt,
		SubmittedAt: r.SubmittedAt,
	}
	if r.Prediction != nil {
		label, score := r.Prediction.Label, r.Prediction.HealthScore
		s.Label = &label
		s.HealthScore = &score
	}
	return s
}
