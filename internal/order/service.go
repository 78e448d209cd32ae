package order

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/checkout/internal/catalog"
	"github.com/MikeMC777/checkout/internal/locks"
)

// EventPublisher receives notifications after a transaction commits.
type EventPublisher interface {
	OrderPlaced(o *Order, lines []Line)
	OrderStatusChanged(orderID, userID, status string)
}

type Service struct {
	repo   Repository
	locks  *locks.Keyed
	events EventPublisher
}

func NewService(repo Repository, locks *locks.Keyed, events EventPublisher) *Service {
	return &Service{repo: repo, locks: locks, events: events}
}

// PlaceInput is an order intent: either an explicit item list or the
// user's live cart, plus pass-through metadata.
type PlaceInput struct {
	FromCart        bool
	Items           []ItemInput
	ShippingAddress string
	PaymentMethod   string
}

// Place converts an order intent into a committed Order as one atomic unit:
// resolve each product, check availability, price the lines from the catalog,
// persist order and lines, decrement availability, and clear the ordered cart
// entries. Any failure rolls the whole transaction back.
func (s *Service) Place(ctx context.Context, userID string, in PlaceInput) (*Order, []Line, error) {
	var items []ItemInput
	if !in.FromCart {
		var err error
		items, err = consolidate(in.Items)
		if err != nil {
			return nil, nil, err
		}
	}

	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	var (
		o     *Order
		lines []Line
	)
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if in.FromCart {
			snapshot, err := s.repo.CartSnapshot(txCtx, userID)
			if err != nil {
				return err
			}
			items = snapshot
		}
		if len(items) == 0 {
			return ErrEmptyOrder
		}

		// Lock product rows in a stable order so two concurrent placements
		// touching the same products cannot deadlock.
		locked := make([]ItemInput, len(items))
		copy(locked, items)
		sort.Slice(locked, func(i, j int) bool { return locked[i].ProductID < locked[j].ProductID })

		resolved := make(map[string]*catalog.Product, len(locked))
		total := decimal.Zero
		for _, it := range locked {
			p, err := s.repo.GetProductForUpdate(txCtx, it.ProductID)
			if errors.Is(err, catalog.ErrNotFound) {
				return &NotFoundError{ProductID: it.ProductID}
			}
			if err != nil {
				return err
			}
			if it.Quantity > p.AvailableUnits {
				return &InsufficientStockError{
					ProductID: it.ProductID,
					Requested: it.Quantity,
					Available: p.AvailableUnits,
				}
			}
			price, err := decimal.NewFromString(p.Price)
			if err != nil {
				return err
			}
			total = total.Add(price.Mul(decimal.NewFromInt(int64(it.Quantity))))
			resolved[it.ProductID] = p
		}

		now := time.Now().UTC()
		o = &Order{
			ID:              uuid.NewString(),
			UserID:          userID,
			Status:          StatusPending,
			Total:           total.StringFixed(2),
			ShippingAddress: in.ShippingAddress,
			PaymentMethod:   in.PaymentMethod,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		lines = lines[:0]
		productIDs := make([]string, 0, len(items))
		for _, it := range items {
			lines = append(lines, Line{
				ID:        uuid.NewString(),
				OrderID:   o.ID,
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
				UnitPrice: resolved[it.ProductID].Price,
			})
			productIDs = append(productIDs, it.ProductID)
		}

		if err := s.repo.Insert(txCtx, o, lines); err != nil {
			return err
		}
		for _, it := range items {
			if err := s.repo.AdjustStock(txCtx, it.ProductID, -it.Quantity); err != nil {
				return err
			}
		}
		if in.FromCart {
			if err := s.repo.ClearCartEntries(txCtx, userID, productIDs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if IsDomain(err) {
			return nil, nil, err
		}
		return nil, nil, &StorageError{Err: err}
	}

	if s.events != nil {
		s.events.OrderPlaced(o, lines)
	}
	return o, lines, nil
}

// consolidate validates quantities and merges duplicate product ids,
// preserving first-seen order.
func consolidate(items []ItemInput) ([]ItemInput, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}
	idx := make(map[string]int, len(items))
	out := make([]ItemInput, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if i, ok := idx[it.ProductID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out, nil
}

// UpdateStatus transitions an order. Canceling a pending or paid order
// restores the availability its lines consumed, in the same transaction.
// Canceled orders accept no further transitions.
func (s *Service) UpdateStatus(ctx context.Context, orderID, status string) (*Order, error) {
	if !ValidStatus(status) {
		return nil, ErrInvalidStatus
	}

	var (
		out     *Order
		changed bool
	)
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		o, lines, err := s.repo.GetByID(txCtx, orderID)
		if err != nil {
			return err
		}
		if o.Status == status {
			out = o
			return nil
		}
		// Canceled is terminal: its stock was already restored, so leaving
		// it would hand out units that were never re-reserved.
		if o.Status == StatusCanceled {
			return ErrInvalidStatus
		}
		if status == StatusCanceled {
			for _, l := range lines {
				if err := s.repo.AdjustStock(txCtx, l.ProductID, l.Quantity); err != nil {
					return err
				}
			}
		}
		if err := s.repo.UpdateStatus(txCtx, orderID, status); err != nil {
			return err
		}
		o.Status = status
		out = o
		changed = true
		return nil
	})
	if err != nil {
		if IsDomain(err) {
			return nil, err
		}
		return nil, &StorageError{Err: err}
	}

	if s.events != nil && changed {
		s.events.OrderStatusChanged(out.ID, out.UserID, status)
	}
	return out, nil
}

// Get returns a committed order with its lines.
func (s *Service) Get(ctx context.Context, orderID string) (*Order, []Line, error) {
	return s.repo.GetByID(ctx, orderID)
}

// GetLines returns the lines of a committed order.
func (s *Service) GetLines(ctx context.Context, orderID string) ([]Line, error) {
	return s.repo.GetLines(ctx, orderID)
}

// ListByUser returns a user's orders, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}
