package report

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Skufu/healthlens/internal/features"
	"github.com/Skufu/healthlens/internal/predict"
)

// MemoryRepo keeps reports in process. It backs the server when the
// database is disabled and the tests of everything above the repository.
type MemoryRepo struct {
	mu      sync.RWMutex
	reports map[uuid.UUID]*Report
	now     func() time.Time
}

// NewMemoryRepo returns an empty in-process repository.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		reports: make(map[uuid.UUID]*Report),
		now:     time.Now,
	}
}

func (m *MemoryRepo) Create(_ context.Context, r *Report) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = m.now().UTC()
	r.SubmittedAt = nil
	r.Vector = nil
	r.Prediction = nil

	stored, err := copyReport(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.ID] = stored
	return nil
}

func (m *MemoryRepo) Get(_ context.Context, id uuid.UUID) (*Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyReport(r)
}

func (m *MemoryRepo) ListByUser(_ context.Context, userID string, limit, offset int) ([]*Report, int, error) {
	m.mu.RLock()
	var mine []*Report
	for _, r := range m.reports {
		if r.UserID == userID {
			mine = append(mine, r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(mine, func(i, j int) bool {
		if mine[i].CreatedAt.Equal(mine[j].CreatedAt) {
			return mine[i].ID.String() > mine[j].ID.String()
		}
		return mine[i].CreatedAt.After(mine[j].CreatedAt)
	})
	total := len(mine)
	if offset > total {
		offset = total
	}
	mine = mine[offset:]
	if limit > 0 && limit < len(mine) {
		mine = mine[:limit]
	}

	out := make([]*Report, 0, len(mine))
	for _, r := range mine {
		c, err := copyReport(r)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, nil
}

func (m *MemoryRepo) Submit(_ context.Context, id uuid.UUID, vector features.Vector, prediction *predict.Result) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Submitted() {
		return nil, ErrAlreadySubmitted
	}
	at := m.now().UTC()
	r.Vector = vector.Clone()
	if prediction != nil {
		p := *prediction
		r.Prediction = &p
	}
	r.SubmittedAt = &at
	return copyReport(r)
}

// copyReport deep-copies through JSON so callers never share maps with the
// store, matching what a round trip through Postgres gives them.
func copyReport(r *Report) (*Report, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var out Report
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
