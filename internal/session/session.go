package session

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Skufu/healthlens/internal/features"
	"github.com/Skufu/healthlens/internal/predict"
	"github.com/Skufu/healthlens/internal/report"
	"github.com/Skufu/healthlens/internal/schema"
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrFrozen            = errors.New("session is submitted and can no longer change")
)

// UnknownFieldError is returned when an edit names a key outside the schema.
type UnknownFieldError struct {
	Task schema.Task
	Key  string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("field %q is not part of the %s schema", e.Key, e.Task)
}

// State is a step of the review pipeline.
type State string

const (
	StateCreated    State = "created"
	StateExtracted  State = "extracted"
	StateReviewing  State = "reviewing"
	StateValidating State = "validating"
	StateSubmitted  State = "submitted"
	StateAbandoned  State = "abandoned"
)

var transitions = map[State][]State{
	StateCreated:    {StateExtracted, StateAbandoned},
	StateExtracted:  {StateReviewing, StateValidating, StateAbandoned},
	StateReviewing:  {StateReviewing, StateValidating, StateAbandoned},
	StateValidating: {StateReviewing, StateSubmitted, StateAbandoned},
}

func (s State) canMoveTo(next State) bool {
	for _, st := range transitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

// ReviewedField is one user edit. The extraction it overrides is kept
// untouched so the review can always be recomputed from it.
type ReviewedField struct {
	Key      string          `json:"key"`
	Previous string          `json:"previous"`
	Value    string          `json:"value"`
	Source   features.Source `json:"source"`
	At       time.Time       `json:"at"`
}

// Session carries one report through extraction, review, validation and
// submission.
type Session struct {
	ID             uuid.UUID            `json:"id"`
	UserID         string               `json:"user_id"`
	Task           schema.Task          `json:"task"`
	State          State                `json:"state"`
	RawFilename    string               `json:"raw_filename,omitempty"`
	RawText        string               `json:"raw_text,omitempty"`
	Extraction     *features.Normalized `json:"extraction"`
	Vector         features.Vector      `json:"vector"`
	Edits          []ReviewedField      `json:"edits,omitempty"`
	Violations     features.Violations  `json:"violations,omitempty"`
	Prediction     *predict.Result      `json:"prediction,omitempty"`
	ReportID       *uuid.UUID           `json:"report_id,omitempty"`
	SourceReportID *uuid.UUID           `json:"source_report_id,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// New starts an empty session for userID.
func New(task schema.Task, userID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.New(),
		UserID:    userID,
		Task:      task,
		State:     StateCreated,
		Vector:    features.Vector{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Session) moveTo(next State) error {
	if s.State == StateSubmitted {
		return ErrFrozen
	}
	if !s.State.canMoveTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, next)
	}
	s.State = next
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Frozen reports whether the vector has been submitted.
func (s *Session) Frozen() bool { return s.State == StateSubmitted }

// Extracted records the normalized extraction and seeds the vector with
// every value the extraction produced.
func (s *Session) Extracted(n *features.Normalized, rawText string) error {
	if err := s.moveTo(StateExtracted); err != nil {
		return err
	}
	s.Extraction = n
	s.RawText = rawText
	s.Vector = n.Values()
	return nil
}

// Review recomputes the tiers and key sets from the stored extraction.
func (s *Session) Review(sc *schema.Schema) features.ReviewSet {
	return features.Review(sc, s.extraction(sc))
}

// OutOfRange lists the vector keys outside their reference range.
func (s *Session) OutOfRange(sc *schema.Schema) []string {
	return features.AnnotateOutOfRange(sc, s.Vector)
}

func (s *Session) extraction(sc *schema.Schema) *features.Normalized {
	if s.Extraction == nil {
		return features.Normalize(sc, nil)
	}
	return s.Extraction
}

// Edit sets one vector value. key may be any alias the schema resolves.
func (s *Session) Edit(sc *schema.Schema, key, value string) error {
	if s.Frozen() {
		return ErrFrozen
	}
	name, ok := sc.Resolve(key)
	if !ok {
		return &UnknownFieldError{Task: s.Task, Key: key}
	}
	if err := s.moveTo(StateReviewing); err != nil {
		return err
	}
	s.edit(name, features.CleanText(value))
	return nil
}

func (s *Session) edit(name, value string) {
	if s.Vector == nil {
		s.Vector = features.Vector{}
	}
	prev := s.Vector[name]
	s.Vector[name] = value
	s.Edits = append(s.Edits, ReviewedField{
		Key:      name,
		Previous: prev,
		Value:    value,
		Source:   features.SourceManual,
		At:       s.UpdatedAt,
	})
	s.Violations = nil
}

// Patch applies a schema-complete payload. The payload is merged over the
// current vector with its values winning, then normalized like an
// extraction so aliases resolve and units convert. Fields it leaves empty
// keep their current value. Keys the schema does not know are returned
// unapplied.
func (s *Session) Patch(sc *schema.Schema, raw features.RawExtraction) ([]string, error) {
	if s.Frozen() {
		return nil, ErrFrozen
	}
	if err := s.moveTo(StateReviewing); err != nil {
		return nil, err
	}
	merged := features.Normalize(sc, features.Merge(sc, s.Vector.Raw(), raw))
	for _, k := range merged.Keys(sc) {
		f := merged.Fields[k]
		if f.Missing || s.Vector[k] == f.Value {
			continue
		}
		s.edit(k, f.Value)
	}
	unlisted := make([]string, 0, len(merged.Unlisted))
	for k := range merged.Unlisted {
		unlisted = append(unlisted, k)
	}
	sort.Strings(unlisted)
	return unlisted, nil
}

// Validate runs the gate over the current vector. On success the session
// stays in validating with the gated vector returned; on failure it goes back
// to reviewing and the violations are kept for display.
func (s *Session) Validate(sc *schema.Schema) (features.Vector, error) {
	if err := s.moveTo(StateValidating); err != nil {
		return nil, err
	}
	vec, violations := features.Validate(sc, s.Vector, s.Review(sc).RequiredKeys)
	if len(violations) > 0 {
		s.Violations = violations
		if err := s.moveTo(StateReviewing); err != nil {
			return nil, err
		}
		return nil, violations
	}
	s.Violations = nil
	return vec, nil
}

// Submit freezes the validated vector with its prediction.
func (s *Session) Submit(vector features.Vector, pred *predict.Result, reportID uuid.UUID) error {
	if err := s.moveTo(StateSubmitted); err != nil {
		return err
	}
	s.Vector = vector.Clone()
	s.Prediction = pred
	s.ReportID = &reportID
	return nil
}

// Abandon ends the session without submitting.
func (s *Session) Abandon() error {
	return s.moveTo(StateAbandoned)
}

// Reopen starts a new review of a stored report. The review is rebuilt from
// the stored extraction, so tiers and required keys come out as they did
// the first time. A report stored without its extraction is replayed from
// its vector.
func Reopen(sc *schema.Schema, rep *report.Report) *Session {
	s := New(rep.Task, rep.UserID)
	s.RawFilename = rep.RawFilename
	s.RawText = rep.RawText
	id := rep.ID
	s.SourceReportID = &id

	s.Extraction = rep.Extraction
	if s.Extraction == nil {
		s.Extraction = features.Replay(sc, rep.Vector)
	}
	if rep.Vector != nil {
		s.Vector = rep.Vector.Clone()
	} else {
		s.Vector = s.Extraction.Values()
	}
	s.State = StateReviewing
	return s
}

// Replay starts a review of a bare vector, for example one entered by hand
// or imported without extraction metadata. Every value is a confident
// backfill.
func Replay(sc *schema.Schema, userID string, vector features.Vector) *Session {
	s := New(sc.Task(), userID)
	s.Extraction = features.Replay(sc, vector)
	s.Vector = s.Extraction.Values()
	s.State = StateExtracted
	return s
}
