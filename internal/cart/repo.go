// Package cart maintains the per-user product -> quantity mapping with
// upsert semantics. One row per (user, product); a quantity that would
// drop to zero deletes the row instead.
package cart

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Add(ctx context.Context, userID, productID string, qty int) error
	SetQuantity(ctx context.Context, userID, productID string, qty int) error
	Delete(ctx context.Context, userID, productID string) error
	List(ctx context.Context, userID string) ([]Line, error)
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) Add(ctx context.Context, userID, productID string, qty int) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.Exec(ctx, `
		INSERT INTO cart_entries (user_id, product_id, quantity, created_at, updated_at)
		VALUES ($1,$2,$3,NOW(),NOW())
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_entries.quantity + EXCLUDED.quantity, updated_at = NOW()
	`, userID, productID, qty)
	return err
}

func (r *PGRepo) SetQuantity(ctx context.Context, userID, productID string, qty int) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.Exec(ctx, `
		INSERT INTO cart_entries (user_id, product_id, quantity, created_at, updated_at)
		VALUES ($1,$2,$3,NOW(),NOW())
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW()
	`, userID, productID, qty)
	return err
}

func (r *PGRepo) Delete(ctx context.Context, userID, productID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Deleting an absent entry is a no-op, not an error.
	_, err := r.db.Exec(ctx, `
		DELETE FROM cart_entries WHERE user_id=$1 AND product_id=$2
	`, userID, productID)
	return err
}

// List joins entries with the live product record in one query. Read-only,
// no row locks.
func (r *PGRepo) List(ctx context.Context, userID string) ([]Line, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT e.product_id, p.name, p.price::text, p.available_units, e.quantity
		FROM cart_entries e
		JOIN products p ON p.id = e.product_id
		WHERE e.user_id = $1
		ORDER BY e.created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ProductID, &l.Name, &l.Price, &l.AvailableUnits, &l.Quantity); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
