package predict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/Skufu/healthlens/internal/features"
	"github.com/Skufu/healthlens/internal/schema"
)

// ErrNotConfigured is returned when no model service URL is set.
var ErrNotConfigured = errors.New("predictor not configured")

// HTTPPredictor calls the model service over HTTP.
type HTTPPredictor struct {
	client   *resty.Client
	registry *schema.Registry
	logger   zerolog.Logger
}

type predictRequest struct {
	Features map[string]any `json:"features"`
}

type predictResponse struct {
	Label           *int     `json:"label"`
	Probability     *float64 `json:"probability"`
	HealthScore     *float64 `json:"health_score"`
	TopContributors []string `json:"top_contributors"`
	Model           string   `json:"model"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// NewHTTPPredictor returns a client for the model service at baseURL. The
// client never retries; the caller decides whether to resubmit.
func NewHTTPPredictor(baseURL string, timeout time.Duration, registry *schema.Registry, logger zerolog.Logger) *HTTPPredictor {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPPredictor{
		client:   client,
		registry: registry,
		logger:   logger.With().Str("component", "predictor").Logger(),
	}
}

// Predict posts the vector to /predict/{task}. A missing health score is
// computed locally from the reference ranges.
func (p *HTTPPredictor) Predict(ctx context.Context, task schema.Task, vector features.Vector) (*Result, error) {
	if p == nil || p.client.BaseURL == "" {
		return nil, ErrNotConfigured
	}
	s, err := p.registry.SchemaFor(task)
	if err != nil {
		return nil, err
	}

	payload, warnings := Payload(s, vector)

	var (
		body    predictResponse
		failure errorResponse
	)
	start := time.Now()
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("task", string(task)).
		SetBody(predictRequest{Features: payload}).
		SetResult(&body).
		SetError(&failure).
		Post("/predict/{task}")
	if err != nil {
		p.logger.Error().Err(err).Str("task", string(task)).Msg("model service call failed")
		return nil, fmt.Errorf("call model service: %w", err)
	}
	if resp.IsError() {
		msg := failure.Detail
		if msg == "" {
			msg = failure.Error
		}
		p.logger.Error().
			Int("status", resp.StatusCode()).
			Str("task", string(task)).
			Str("detail", msg).
			Msg("model service returned error")
		return nil, fmt.Errorf("model service error: %s (status %d)", msg, resp.StatusCode())
	}
	if body.Label == nil || body.Probability == nil {
		return nil, fmt.Errorf("model service response missing label or probability")
	}

	result := &Result{
		Label:           *body.Label,
		Probability:     *body.Probability,
		TopContributors: body.TopContributors,
		Warnings:        warnings,
		Model:           body.Model,
	}
	if body.HealthScore != nil {
		result.HealthScore = *body.HealthScore
	} else {
		score, top := HealthScore(s, vector, result.Probability)
		result.HealthScore = score
		if len(result.TopContributors) == 0 {
			for _, c := range top {
				result.TopContributors = append(result.TopContributors, c.Key)
			}
		}
	}
	if err := result.Check(); err != nil {
		return nil, fmt.Errorf("model service response: %w", err)
	}

	p.logger.Info().
		Str("task", string(task)).
		Int("label", result.Label).
		Float64("probability", result.Probability).
		Dur("latency", time.Since(start)).
		Msg("prediction complete")
	return result, nil
}
