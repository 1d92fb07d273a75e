package session

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

const defaultTTL = 2 * time.Hour

// MemoryStore keeps sessions in process. Abandoned sessions expire after ttl.
type MemoryStore struct {
	cache *cache.Cache
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryStore{cache: cache.New(ttl, ttl/2)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	v, ok := m.cache.Get(id)
	if !ok {
		return nil, unknown(id)
	}
	return v.(*Session).Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, s *Session) error {
	m.cache.Set(s.ID, s.Clone(), cache.DefaultExpiration)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.cache.Delete(id)
	return nil
}

// Len reports how many sessions are held, including expired ones not yet
// swept.
func (m *MemoryStore) Len() int { return m.cache.ItemCount() }
