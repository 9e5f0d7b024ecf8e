package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long an untouched session is kept.
const DefaultTTL = 2 * time.Hour

// Store keeps sessions between requests. Implementations store an encoded
// copy: a session handed to Put can be changed afterwards without affecting
// what Get returns.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id uuid.UUID) error
}

func encode(s *Session) ([]byte, error) {
	return json.Marshal(s)
}

func decode(b []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
