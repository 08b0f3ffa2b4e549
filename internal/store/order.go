package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alma-store/apiserver/types"
)

// OrderRepository handles persistence for orders. Item and total columns are
// written once at creation; reconciliation updates only status and gateway
// correlation fields. Concurrent webhook and poll updates race with
// last-write-wins semantics.
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// OrderFilter narrows admin order listings.
type OrderFilter struct {
	Status string
	// From and To bound created_at (inclusive) when non-zero.
	From time.Time
	To   time.Time
}

const orderColumns = `id, user_id, items, subtotal, taxes, total, status, epayco_ref, epayco_invoice, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (types.Order, error) {
	var order types.Order
	var itemsJSON []byte
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&itemsJSON,
		&order.Subtotal,
		&order.Taxes,
		&order.Total,
		&order.Status,
		&order.EpaycoRef,
		&order.EpaycoInvoice,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return types.Order{}, err
	}
	order.Items = itemsJSON
	return order, nil
}

func (r *OrderRepository) Get(ctx context.Context, id int64) (types.Order, error) {
	const query = `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1`
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Order{}, ErrNotFound
		}
		return types.Order{}, err
	}
	return order, nil
}

// GetByRef resolves an order by its gateway reference, the primary
// reconciliation correlation key.
func (r *OrderRepository) GetByRef(ctx context.Context, ref string) (types.Order, error) {
	const query = `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE epayco_ref = $1
		ORDER BY id
		LIMIT 1`
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, ref))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Order{}, ErrNotFound
		}
		return types.Order{}, err
	}
	return order, nil
}

// GetByInvoice resolves an order by its gateway invoice/transaction id,
// the secondary correlation key.
func (r *OrderRepository) GetByInvoice(ctx context.Context, invoice string) (types.Order, error) {
	const query = `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE epayco_invoice = $1
		ORDER BY id
		LIMIT 1`
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, invoice))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Order{}, ErrNotFound
		}
		return types.Order{}, err
	}
	return order, nil
}

func (r *OrderRepository) List(ctx context.Context, filter OrderFilter) ([]types.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders`
	var clauses []string
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]types.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID int64) ([]types.Order, error) {
	const query = `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]types.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (r *OrderRepository) Create(ctx context.Context, order types.Order) (types.Order, error) {
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	if len(order.Items) == 0 {
		order.Items = []byte("[]")
	}

	const query = `
		INSERT INTO orders (user_id, items, subtotal, taxes, total, status, epayco_ref, epayco_invoice, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		order.UserID,
		[]byte(order.Items),
		order.Subtotal,
		order.Taxes,
		order.Total,
		order.Status,
		order.EpaycoRef,
		order.EpaycoInvoice,
		order.CreatedAt,
		order.UpdatedAt,
	).Scan(&order.ID); err != nil {
		return types.Order{}, err
	}
	return order, nil
}

// UpdatePayment writes the reconciliation outcome: status plus gateway
// correlation fields. The single-row write keeps webhook and poll paths
// free of multi-row transactions.
func (r *OrderRepository) UpdatePayment(ctx context.Context, order types.Order) (types.Order, error) {
	order.UpdatedAt = time.Now()

	const query = `
		UPDATE orders
		SET status = $1,
			epayco_ref = $2,
			epayco_invoice = $3,
			updated_at = $4
		WHERE id = $5`
	result, err := r.db.ExecContext(
		ctx,
		query,
		order.Status,
		order.EpaycoRef,
		order.EpaycoInvoice,
		order.UpdatedAt,
		order.ID,
	)
	if err != nil {
		return types.Order{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Order{}, err
	}
	if affected == 0 {
		return types.Order{}, ErrNotFound
	}
	return order, nil
}
