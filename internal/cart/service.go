package cart

import (
	"context"
	"errors"

	"github.com/MikeMC777/checkout/internal/catalog"
	"github.com/MikeMC777/checkout/internal/locks"
)

var ErrInvalidQuantity = errors.New("quantity must be positive")

// Service validates cart mutations against the catalog before touching
// storage. Mutations for a given user are serialized on the same keyed
// lock the placement transaction takes.
type Service struct {
	repo    Repository
	catalog catalog.Repository
	locks   *locks.Keyed
}

func NewService(repo Repository, cat catalog.Repository, locks *locks.Keyed) *Service {
	return &Service{repo: repo, catalog: cat, locks: locks}
}

// Add increments the entry for (user, product) by qty, creating it if absent.
func (s *Service) Add(ctx context.Context, userID, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if _, err := s.catalog.GetByID(ctx, productID); err != nil {
		return err
	}
	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)
	return s.repo.Add(ctx, userID, productID, qty)
}

// SetQuantity sets the entry to qty; qty <= 0 removes the entry.
func (s *Service) SetQuantity(ctx context.Context, userID, productID string, qty int) error {
	if qty <= 0 {
		return s.Remove(ctx, userID, productID)
	}
	if _, err := s.catalog.GetByID(ctx, productID); err != nil {
		return err
	}
	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)
	return s.repo.SetQuantity(ctx, userID, productID, qty)
}

// Remove deletes the entry if present; removing an absent entry is a no-op.
func (s *Service) Remove(ctx context.Context, userID, productID string) error {
	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)
	return s.repo.Delete(ctx, userID, productID)
}

// Get returns the user's entries joined with live product data for display.
func (s *Service) Get(ctx context.Context, userID string) ([]Line, error) {
	return s.repo.List(ctx, userID)
}
