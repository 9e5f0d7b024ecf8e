package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Skufu/healthlens/internal/features"
	"github.com/Skufu/healthlens/internal/predict"
	"github.com/Skufu/healthlens/internal/schema"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type reportRepoPG struct{ conn queryable }

// NewRepoPG returns a Postgres-backed repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &reportRepoPG{conn: pool}
}

const reportCols = `id, user_id, task, raw_filename, raw_text, extraction, vector, prediction,
	source_id, created_at, submitted_at`

func (r *reportRepoPG) scanRow(row pgx.Row) (*Report, error) {
	var (
		rep                            Report
		task                           string
		extraction, vector, prediction []byte
	)
	err := row.Scan(&rep.ID, &rep.UserID, &task, &rep.RawFilename, &rep.RawText,
		&extraction, &vector, &prediction, &rep.SourceID, &rep.CreatedAt, &rep.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rep.Task = schema.Task(task)
	if err := unmarshalColumn(extraction, &rep.Extraction); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}
	if err := unmarshalColumn(vector, &rep.Vector); err != nil {
		return nil, fmt.Errorf("decode vector: %w", err)
	}
	if err := unmarshalColumn(prediction, &rep.Prediction); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}
	return &rep, nil
}

func (r *reportRepoPG) Create(ctx context.Context, rep *Report) error {
	if rep.ID == uuid.Nil {
		rep.ID = uuid.New()
	}
	extraction, err := marshalColumn(rep.Extraction)
	if err != nil {
		return fmt.Errorf("encode extraction: %w", err)
	}
	return r.conn.QueryRow(ctx, `
		INSERT INTO reports (id, user_id, task, raw_filename, raw_text, extraction, source_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		rep.ID, rep.UserID, string(rep.Task), rep.RawFilename, rep.RawText, extraction, rep.SourceID,
	).Scan(&rep.CreatedAt)
}

func (r *reportRepoPG) Get(ctx context.Context, id uuid.UUID) (*Report, error) {
	return r.scanRow(r.conn.QueryRow(ctx, `SELECT `+reportCols+` FROM reports WHERE id = $1`, id))
}

func (r *reportRepoPG) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Report, int, error) {
	var total int
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM reports WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn.Query(ctx, `SELECT `+reportCols+` FROM reports WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Report
	for rows.Next() {
		rep, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rep)
	}
	return items, total, rows.Err()
}

func (r *reportRepoPG) Submit(ctx context.Context, id uuid.UUID, vector features.Vector, prediction *predict.Result) (*Report, error) {
	vec, err := marshalColumn(vector)
	if err != nil {
		return nil, fmt.Errorf("encode vector: %w", err)
	}
	pred, err := marshalColumn(prediction)
	if err != nil {
		return nil, fmt.Errorf("encode prediction: %w", err)
	}
	rep, err := r.scanRow(r.conn.QueryRow(ctx, `
		UPDATE reports SET vector = $2, prediction = $3, submitted_at = NOW()
		WHERE id = $1 AND submitted_at IS NULL
		RETURNING `+reportCols, id, vec, pred))
	if !errors.Is(err, ErrNotFound) {
		return rep, err
	}
	var exists bool
	if err := r.conn.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM reports WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadySubmitted
	}
	return nil, ErrNotFound
}

// marshalColumn encodes v for a jsonb column; nil values become SQL NULL.
func marshalColumn[T any](v T) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return nil, err
	}
	return b, nil
}

func unmarshalColumn[T any](b []byte, dst *T) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}
