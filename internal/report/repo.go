package report

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/Skufu/healthlens/internal/features"
	"github.com/Skufu/healthlens/internal/predict"
)

var (
	ErrNotFound         = errors.New("report not found")
	ErrAlreadySubmitted = errors.New("report already submitted")
)

// Repository stores reports. A report's vector and prediction are written
// once by Submit and never change afterwards.
type Repository interface {
	Create(ctx context.Context, r *Report) error
	Get(ctx context.Context, id uuid.UUID) (*Report, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Report, int, error)
	Submit(ctx context.Context, id uuid.UUID, vector features.Vector, prediction *predict.Result) (*Report, error)
}
