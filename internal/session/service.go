package session

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Skufu/healthlens/internal/features"
	"github.com/Skufu/healthlens/internal/predict"
	"github.com/Skufu/healthlens/internal/report"
	"github.com/Skufu/healthlens/internal/schema"
)

// Extractor turns report text into raw extracted values.
type Extractor interface {
	Extract(ctx context.Context, task schema.Task, text string) (features.RawExtraction, error)
}

// UpstreamError wraps a failure of the extraction or model service. The
// session is left as it was before the call.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string { return e.Service + ": " + e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }

// View is a session together with its recomputed review.
type View struct {
	*Session
	Review     features.ReviewSet      `json:"review"`
	OutOfRange []string                `json:"out_of_range"`
	Ranges     map[string]schema.Range `json:"ranges"`
	Unlisted   []string                `json:"unlisted,omitempty"`
}

// Service runs the review pipeline for the HTTP layer.
type Service struct {
	registry  *schema.Registry
	store     Store
	reports   report.Repository
	extractor Extractor
	predictor predict.Predictor
	logger    zerolog.Logger
}

// NewService wires the pipeline.
func NewService(registry *schema.Registry, store Store, reports report.Repository, extractor Extractor, predictor predict.Predictor, logger zerolog.Logger) *Service {
	return &Service{
		registry:  registry,
		store:     store,
		reports:   reports,
		extractor: extractor,
		predictor: predictor,
		logger:    logger.With().Str("component", "session").Logger(),
	}
}

// View recomputes the review of s.
func (svc *Service) View(s *Session) (*View, error) {
	sc, err := svc.registry.SchemaFor(s.Task)
	if err != nil {
		return nil, err
	}
	ranges := make(map[string]schema.Range)
	for _, k := range sc.Keys() {
		if r, ok := features.RangeFor(sc, k); ok {
			ranges[k] = r
		}
	}
	return &View{
		Session:    s,
		Review:     s.Review(sc),
		OutOfRange: s.OutOfRange(sc),
		Ranges:     ranges,
	}, nil
}

// Ingest extracts features from report text, stores the unsubmitted report
// and opens a review session on it.
func (svc *Service) Ingest(ctx context.Context, userID string, task schema.Task, filename, text string) (*View, error) {
	sc, err := svc.registry.SchemaFor(task)
	if err != nil {
		return nil, err
	}

	raw, err := svc.extractor.Extract(ctx, task, text)
	if err != nil {
		svc.logger.Error().Err(err).Str("task", string(task)).Msg("extraction failed")
		return nil, &UpstreamError{Service: "extraction", Err: err}
	}
	n := features.Normalize(sc, raw)

	rep := &report.Report{
		UserID:      userID,
		Task:        task,
		RawFilename: filename,
		RawText:     text,
		Extraction:  n,
	}
	if err := svc.reports.Create(ctx, rep); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}

	s := New(task, userID)
	s.RawFilename = filename
	s.ReportID = &rep.ID
	if err := s.Extracted(n, text); err != nil {
		return nil, err
	}
	if err := svc.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	view, err := svc.View(s)
	if err != nil {
		return nil, err
	}
	for k := range n.Unlisted {
		view.Unlisted = append(view.Unlisted, k)
	}
	sort.Strings(view.Unlisted)

	svc.logger.Info().
		Str("session_id", s.ID.String()).
		Str("task", string(task)).
		Int("fields", len(n.Fields)).
		Int("required", len(view.Review.RequiredKeys)).
		Msg("report ingested")
	return view, nil
}

// Get loads a session owned by userID. Sessions of other users are
// reported as not found.
func (svc *Service) Get(ctx context.Context, userID string, id uuid.UUID) (*Session, error) {
	s, err := svc.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.UserID != userID {
		return nil, ErrNotFound
	}
	return s, nil
}

func (svc *Service) load(ctx context.Context, userID string, id uuid.UUID) (*Session, *schema.Schema, error) {
	s, err := svc.Get(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	sc, err := svc.registry.SchemaFor(s.Task)
	if err != nil {
		return nil, nil, err
	}
	return s, sc, nil
}

// Edit applies user edits in key order. Either all edits apply or none.
func (svc *Service) Edit(ctx context.Context, userID string, id uuid.UUID, values map[string]string) (*View, error) {
	s, sc, err := svc.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := s.Edit(sc, k, values[k]); err != nil {
			return nil, err
		}
	}
	if err := svc.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return svc.View(s)
}

// Complete applies a schema-complete payload over the extraction.
func (svc *Service) Complete(ctx context.Context, userID string, id uuid.UUID, raw features.RawExtraction) (*View, error) {
	s, sc, err := svc.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	unlisted, err := s.Patch(sc, raw)
	if err != nil {
		return nil, err
	}
	if err := svc.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	view, err := svc.View(s)
	if err != nil {
		return nil, err
	}
	view.Unlisted = unlisted
	return view, nil
}

// Submit validates the vector, asks the model service for a prediction and
// freezes the result on the report. Violations come back as
// features.Violations with the session returned to review. A failing model
// service leaves the stored session untouched. General sessions have no
// model and are frozen without a prediction.
func (svc *Service) Submit(ctx context.Context, userID string, id uuid.UUID) (*View, error) {
	s, sc, err := svc.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	vec, err := s.Validate(sc)
	var violations features.Violations
	if errors.As(err, &violations) {
		if perr := svc.store.Put(ctx, s); perr != nil {
			return nil, fmt.Errorf("store session: %w", perr)
		}
		svc.logger.Info().
			Str("session_id", s.ID.String()).
			Strs("keys", violations.Keys()).
			Msg("submission rejected")
		return nil, violations
	}
	if err != nil {
		return nil, err
	}

	var pred *predict.Result
	if s.Task != schema.TaskGeneral {
		pred, err = svc.predictor.Predict(ctx, s.Task, vec)
		if err != nil {
			svc.logger.Error().Err(err).Str("session_id", s.ID.String()).Msg("prediction failed")
			return nil, &UpstreamError{Service: "prediction", Err: err}
		}
	}

	reportID, err := svc.reportFor(ctx, s)
	if err != nil {
		return nil, err
	}
	if _, err := svc.reports.Submit(ctx, reportID, vec, pred); err != nil {
		return nil, fmt.Errorf("submit report: %w", err)
	}
	if err := s.Submit(vec, pred, reportID); err != nil {
		return nil, err
	}
	if err := svc.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	ev := svc.logger.Info().
		Str("session_id", s.ID.String()).
		Str("report_id", reportID.String())
	if pred != nil {
		ev = ev.Int("label", pred.Label)
	}
	ev.Msg("session submitted")
	return svc.View(s)
}

// reportFor returns the unsubmitted report the session writes to, creating
// one for reopened or replayed sessions.
func (svc *Service) reportFor(ctx context.Context, s *Session) (uuid.UUID, error) {
	if s.ReportID != nil {
		return *s.ReportID, nil
	}
	rep := &report.Report{
		UserID:      s.UserID,
		Task:        s.Task,
		RawFilename: s.RawFilename,
		RawText:     s.RawText,
		Extraction:  s.Extraction,
		SourceID:    s.SourceReportID,
	}
	if err := svc.reports.Create(ctx, rep); err != nil {
		return uuid.Nil, fmt.Errorf("create report: %w", err)
	}
	s.ReportID = &rep.ID
	return rep.ID, nil
}

// Reopen starts a new review session from a stored report.
func (svc *Service) Reopen(ctx context.Context, userID string, reportID uuid.UUID) (*View, error) {
	rep, err := svc.Report(ctx, userID, reportID)
	if err != nil {
		return nil, err
	}
	sc, err := svc.registry.SchemaFor(rep.Task)
	if err != nil {
		return nil, err
	}
	s := Reopen(sc, rep)
	if !rep.Submitted() {
		// nothing was frozen yet, keep writing to the same report
		s.ReportID = &rep.ID
		s.SourceReportID = nil
	}
	if err := svc.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return svc.View(s)
}

// Report loads a report owned by userID.
func (svc *Service) Report(ctx context.Context, userID string, id uuid.UUID) (*report.Report, error) {
	rep, err := svc.reports.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rep.UserID != userID {
		return nil, report.ErrNotFound
	}
	return rep, nil
}

// Reports lists the reports of userID, newest first.
func (svc *Service) Reports(ctx context.Context, userID string, limit, offset int) ([]report.Summary, int, error) {
	reps, total, err := svc.reports.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]report.Summary, 0, len(reps))
	for _, r := range reps {
		out = append(out, r.Summarize())
	}
	return out, total, nil
}

// Abandon ends a session and removes it from the store.
func (svc *Service) Abandon(ctx context.Context, userID string, id uuid.UUID) error {
	s, err := svc.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.Abandon(); err != nil {
		return err
	}
	return svc.store.Delete(ctx, id)
}
