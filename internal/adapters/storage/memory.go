package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/liqshield/internal/domain"
)

type claim struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (c claim) activeAt(now time.Time) bool { return now.Before(c.ExpiresAt) }

// MemoryStore implements ports.OrderStore with in-process maps. Records keep
// their reconstructed order.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]domain.StoredOrder
	claims map[string]claim
	now    func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]domain.StoredOrder),
		claims: make(map[string]claim),
		now:    time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, order domain.StoredOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; ok {
		return domain.ErrConflict
	}
	s.orders[order.ID] = order
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (domain.StoredOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return domain.StoredOrder{}, domain.ErrNotFound
	}
	return order, nil
}

// List returns orders sorted by submission time.
func (s *MemoryStore) List(_ context.Context) ([]domain.StoredOrder, error) {
	s.mu.RLock()
	out := make([]domain.StoredOrder, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, id)
	delete(s.claims, id)
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, id, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return domain.ErrNotFound
	}
	now := s.now()
	if c, ok := s.claims[id]; ok && c.activeAt(now) {
		return domain.ErrAlreadyFilling
	}
	s.claims[id] = claim{Owner: owner, ExpiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.claims[id]; ok && c.Owner == owner {
		delete(s.claims, id)
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
