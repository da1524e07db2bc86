package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookstore/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (
			user_id, name, email, phone, address, division, state, zipcode,
			payment_method, account_no, cvv, expiry_date, sort_code, paypal_id,
			total_price, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at, updated_at`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, book_id, title, unit_price, quantity)
		VALUES ($1, $2, $3, $4, $5)`

	orderSelect = `SELECT id, user_id, name, email, phone, address, division, state, zipcode,
		payment_method, account_no, cvv, expiry_date, sort_code, paypal_id,
		total_price, status, cancel_reason, return_reason, return_comments, created_at, updated_at
		FROM orders`

	getOrderByIDSQL = orderSelect + ` WHERE id = $1`

	listOrdersByUserSQL = orderSelect + ` WHERE user_id = $1 ORDER BY created_at DESC, id DESC`

	// Lines carry the title and unit price captured at placement.
	listOrderItemsSQL = `SELECT order_id, book_id, title, unit_price, quantity
		FROM order_items
		WHERE order_id = ANY($1) ORDER BY order_id, id`

	transitionOrderSQL = `UPDATE orders SET
			status = $3,
			cancel_reason = COALESCE(NULLIF($4::text, ''), cancel_reason),
			return_reason = COALESCE(NULLIF($5::text, ''), return_reason),
			return_comments = COALESCE(NULLIF($6::text, ''), return_comments),
			updated_at = NOW()
		WHERE id = $1 AND status = $2`

	getOrderStatusSQL = `SELECT status FROM orders WHERE id = $1`

	insertAttachmentSQL = `INSERT INTO order_attachments (order_id, filename, content_type, data)
		VALUES ($1, $2, $3, $4)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts an order and its line items within a single transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	pf := order.Fields(o.Payment)
	err = tx.QueryRow(ctx, insertOrderSQL,
		o.UserID, o.Name, o.Email, o.Phone, o.Address, o.Division, o.State, o.Zipcode,
		o.Payment.Method(), pf.AccountNo, pf.CVV, pf.Expiry, pf.SortCode, pf.PaypalID,
		o.Total, o.Status,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting order: %w", err)
	}

	batch := &pgx.Batch{}
	for _, item := range o.Items {
		batch.Queue(insertOrderItemSQL, o.ID, item.BookID, item.Title, item.Price, item.Quantity)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting order items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// GetByID returns an order with its items.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}

	orders := []order.Order{o}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListByUser returns the user's orders with items, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID int64) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of user %d: %w", userID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders of user %d: %w", userID, err)
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// Transition applies a status change if the stored status still matches
// t.From. An attachment, if any, is stored in the same transaction.
func (r *OrderRepository) Transition(ctx context.Context, id int64, t order.Transition) (*order.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, transitionOrderSQL,
		id, t.From, t.To, t.CancelReason, t.ReturnReason, t.ReturnComments,
	)
	if err != nil {
		return nil, fmt.Errorf("updating order %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var current order.Status
		if err := tx.QueryRow(ctx, getOrderStatusSQL, id).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, order.ErrNotFound
			}
			return nil, fmt.Errorf("getting order %d status: %w", id, err)
		}
		return nil, &order.InvalidTransitionError{OrderID: id, From: current, To: t.To}
	}

	if a := t.Attachment; a != nil {
		if _, err := tx.Exec(ctx, insertAttachmentSQL, id, a.Filename, a.ContentType, a.Data); err != nil {
			return nil, fmt.Errorf("storing attachment of order %d: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return r.GetByID(ctx, id)
}

func (r *OrderRepository) attachItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	byID := make(map[int64]*order.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		byID[orders[i].ID] = &orders[i]
	}

	rows, err := r.pool.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID int64
			item    order.Item
		)
		if err := rows.Scan(&orderID, &item.BookID, &item.Title, &item.Price, &item.Quantity); err != nil {
			return fmt.Errorf("scanning order item: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		method string
		pf     order.PaymentFields
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Name, &o.Email, &o.Phone, &o.Address, &o.Division, &o.State, &o.Zipcode,
		&method, &pf.AccountNo, &pf.CVV, &pf.Expiry, &pf.SortCode, &pf.PaypalID,
		&o.Total, &o.Status, &o.CancelReason, &o.ReturnReason, &o.ReturnComments, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Payment = order.NewPayment(method, pf)
	return o, nil
}
