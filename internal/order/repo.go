package order

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeMC777/checkout/internal/catalog"
)

// ItemInput is one (product, requested quantity) pair of an order intent.
type ItemInput struct {
	ProductID string
	Quantity  int
}

// Repository is the storage boundary of the placement transaction. Methods
// called inside WithTx run on the transaction carried in the context; the
// product row lock taken by GetProductForUpdate is held until commit.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CartSnapshot(ctx context.Context, userID string) ([]ItemInput, error)
	GetProductForUpdate(ctx context.Context, productID string) (*catalog.Product, error)
	Insert(ctx context.Context, o *Order, lines []Line) error
	AdjustStock(ctx context.Context, productID string, delta int) error
	ClearCartEntries(ctx context.Context, userID string, productIDs []string) error
	GetByID(ctx context.Context, id string) (*Order, []Line, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error)
	GetLines(ctx context.Context, orderID string) ([]Line, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) q(ctx context.Context) querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return r.db
}

func (r *PGRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	// Bounded wait on contended product rows instead of blocking forever.
	if _, err := tx.Exec(ctx, `SET LOCAL lock_timeout = '5s'`); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (r *PGRepo) CartSnapshot(ctx context.Context, userID string) ([]ItemInput, error) {
	rows, err := r.q(ctx).Query(ctx, `
    SELECT product_id, quantity FROM cart_entries
    WHERE user_id=$1 ORDER BY created_at
  `, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ItemInput
	for rows.Next() {
		var it ItemInput
		if err := rows.Scan(&it.ProductID, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *PGRepo) GetProductForUpdate(ctx context.Context, productID string) (*catalog.Product, error) {
	var p catalog.Product
	err := r.q(ctx).QueryRow(ctx, `
    SELECT id, name, description, category, price::text, available_units, created_at, updated_at
    FROM products WHERE id=$1
    FOR UPDATE
  `, productID).Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Price, &p.AvailableUnits, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PGRepo) Insert(ctx context.Context, o *Order, lines []Line) error {
	if _, err := r.q(ctx).Exec(ctx, `
    INSERT INTO orders (id, user_id, status, total, shipping_address, payment_method, created_at, updated_at)
    VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW())
  `, o.ID, o.UserID, o.Status, o.Total, o.ShippingAddress, o.PaymentMethod); err != nil {
		return err
	}

	for _, l := range lines {
		if _, err := r.q(ctx).Exec(ctx, `
      INSERT INTO order_lines (id, order_id, product_id, quantity, unit_price)
      VALUES ($1,$2,$3,$4,$5)
    `, l.ID, o.ID, l.ProductID, l.Quantity, l.UnitPrice); err != nil {
			return err
		}
	}
	return nil
}

func (r *PGRepo) AdjustStock(ctx context.Context, productID string, delta int) error {
	tag, err := r.q(ctx).Exec(ctx, `
    UPDATE products SET available_units = available_units + $2, updated_at = NOW()
    WHERE id = $1
  `, productID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (r *PGRepo) ClearCartEntries(ctx context.Context, userID string, productIDs []string) error {
	// Only the snapshot's entries go; anything added after the snapshot stays.
	_, err := r.q(ctx).Exec(ctx, `
    DELETE FROM cart_entries WHERE user_id=$1 AND product_id = ANY($2)
  `, userID, productIDs)
	return err
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (*Order, []Line, error) {
	var o Order
	err := r.q(ctx).QueryRow(ctx, `
    SELECT id, user_id, status, total::text, shipping_address, payment_method, created_at, updated_at
    FROM orders WHERE id=$1
  `, id).Scan(&o.ID, &o.UserID, &o.Status, &o.Total, &o.ShippingAddress, &o.PaymentMethod, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	lines, err := r.GetLines(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return &o, lines, nil
}

func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.q(ctx).Query(ctx, `
    SELECT id, user_id, status, total::text, shipping_address, payment_method, created_at, updated_at
    FROM orders WHERE user_id=$1
    ORDER BY created_at DESC LIMIT $2 OFFSET $3
  `, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.Total, &o.ShippingAddress, &o.PaymentMethod, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *PGRepo) GetLines(ctx context.Context, orderID string) ([]Line, error) {
	rows, err := r.q(ctx).Query(ctx, `
    SELECT id, order_id, product_id, quantity, unit_price::text
    FROM order_lines WHERE order_id=$1
  `, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *PGRepo) UpdateStatus(ctx context.Context, id, status string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.q(ctx).Exec(ctx, `
    UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1
  `, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
