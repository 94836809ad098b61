// Package memory implements the process-local purchase store. Records live
// only as long as the process; nothing is persisted.
package memory

import (
	"context"
	"sync"

	"github.com/tbourn/go-purchases-api/internal/domain"
	"github.com/tbourn/go-purchases-api/internal/repo"
)

// Store keeps purchases in insertion order with O(1) lookup by id.
//
// Every read and write goes through mu, so concurrent handlers never lose an
// append or observe a half-written record. Records are cloned on the way in
// and on the way out.
type Store struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*domain.Purchase
}

// New creates an empty store.
func New() *Store {
	return &Store{byID: make(map[string]*domain.Purchase)}
}

// Create appends p. A record with the same id is replaced in place.
func (s *Store) Create(ctx context.Context, p *domain.Purchase) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.byID[p.ID] = p.Clone()
	return nil
}

// GetByID returns a copy of the purchase with the given id or repo.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (*domain.Purchase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return p.Clone(), nil
}

// ListAll returns copies of all purchases in insertion order.
func (s *Store) ListAll(ctx context.Context) ([]domain.Purchase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Purchase, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id].Clone())
	}
	return out, nil
}

// Update replaces an existing purchase, keeping its position.
func (s *Store) Update(ctx context.Context, p *domain.Purchase) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[p.ID]; !ok {
		return repo.ErrNotFound
	}
	s.byID[p.ID] = p.Clone()
	return nil
}

// Delete removes a purchase by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return repo.ErrNotFound
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len reports the number of stored purchases.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
