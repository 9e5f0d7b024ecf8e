package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps sessions in process with TTL eviction.
type MemoryStore struct {
	cache *gocache.Cache
	ttl   time.Duration
}

// NewMemoryStore returns a store that evicts sessions idle for ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		cache: gocache.New(ttl, ttl/2),
		ttl:   ttl,
	}
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Session, error) {
	val, found := m.cache.Get(id.String())
	if !found {
		return nil, ErrNotFound
	}
	return decode(val.([]byte))
}

func (m *MemoryStore) Put(_ context.Context, s *Session) error {
	b, err := encode(s)
	if err != nil {
		return err
	}
	m.cache.Set(s.ID.String(), b, m.ttl)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	m.cache.Delete(id.String())
	return nil
}
