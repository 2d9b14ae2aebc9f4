package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
	"github.com/joao-fontenele/orderflow-settlement/internal/postgres"
)

// IdempotencyConstraint is the unique constraint a concurrent duplicate
// checkout trips over.
const IdempotencyConstraint = "orders_idempotency_key_key"

type Repository struct {
	db postgres.DBTX
}

func NewRepository(db postgres.DBTX) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{db: tx}
}

// Insert writes the order, its details and its payment. It must run inside
// the checkout transaction.
func (r *Repository) Insert(ctx context.Context, o *domain.Order) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orders (id, code, customer_id, store_id, supplier_id, status,
			subtotal, discount, shipping_fee, total, idempotency_key,
			shipping_address, promotion_code, balance_released, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, FALSE, $14, $14)
	`, o.ID, o.Code, o.CustomerID, o.StoreID, o.SupplierID, o.Status,
		o.Subtotal, o.Discount, o.ShippingFee, o.Total, o.IdempotencyKey,
		o.ShippingAddress, o.PromotionCode, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range o.Details {
		d := &o.Details[i]
		d.ID = uuid.New().String()
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO order_details (id, order_id, store_product_id, quantity, unit_amount, reviewable)
			VALUES ($1, $2, $3, $4, $5, FALSE)
		`, d.ID, o.ID, d.StoreProductID, d.Quantity, d.UnitAmount)
		if err != nil {
			return fmt.Errorf("insert order detail: %w", err)
		}
	}

	p := o.Payment
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO payments (id, order_id, transaction_id, reference, method, status, amount, updated_at)
		VALUES ($1, $2, $3, '', $4, $5, $6, $7)
	`, p.ID, o.ID, p.TransactionID, p.Method, p.Status, p.Amount, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

const orderColumns = `id, code, customer_id, store_id, supplier_id, status,
		subtotal, discount, shipping_fee, total, idempotency_key,
		shipping_address, promotion_code, balance_released, created_at, updated_at, delivered_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*domain.Order, error) {
	o := &domain.Order{}
	err := s.Scan(&o.ID, &o.Code, &o.CustomerID, &o.StoreID, &o.SupplierID, &o.Status,
		&o.Subtotal, &o.Discount, &o.ShippingFee, &o.Total, &o.IdempotencyKey,
		&o.ShippingAddress, &o.PromotionCode, &o.BalanceReleased, &o.CreatedAt, &o.UpdatedAt, &o.DeliveredAt)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.getWith(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// GetForUpdate row-locks the order for the rest of the transaction. Every
// status change goes through this lock.
func (r *Repository) GetForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return r.getWith(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *Repository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return r.getWith(ctx, `SELECT `+orderColumns+` FROM orders WHERE idempotency_key = $1`, key)
}

func (r *Repository) getWith(ctx context.Context, query string, arg string) (*domain.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if err := r.loadChildren(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repository) loadChildren(ctx context.Context, o *domain.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, store_product_id, quantity, unit_amount, reviewable
		FROM order_details
		WHERE order_id = $1
		ORDER BY store_product_id
	`, o.ID)
	if err != nil {
		return fmt.Errorf("list order details: %w", err)
	}
	defer func() { _ = rows.Close() }()

	o.Details = []domain.OrderDetail{}
	for rows.Next() {
		var d domain.OrderDetail
		if err := rows.Scan(&d.ID, &d.StoreProductID, &d.Quantity, &d.UnitAmount, &d.Reviewable); err != nil {
			return fmt.Errorf("scan order detail: %w", err)
		}
		o.Details = append(o.Details, d)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	p := &domain.Payment{}
	err = r.db.QueryRowContext(ctx, `
		SELECT id, order_id, transaction_id, reference, method, status, amount, updated_at
		FROM payments
		WHERE order_id = $1
	`, o.ID).Scan(&p.ID, &p.OrderID, &p.TransactionID, &p.Reference, &p.Method, &p.Status, &p.Amount, &p.UpdatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("get payment: %w", err)
	default:
		o.Payment = p
	}

	s := &domain.Shipment{}
	err = r.db.QueryRowContext(ctx, `
		SELECT id, order_id, tracking_number, provider, status, created_at
		FROM shipments
		WHERE order_id = $1
	`, o.ID).Scan(&s.ID, &s.OrderID, &s.TrackingNumber, &s.Provider, &s.Status, &s.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("get shipment: %w", err)
	default:
		o.Shipment = s
	}

	return nil
}

// ListFilter narrows List. Empty fields do not filter.
type ListFilter struct {
	CustomerID string
	SupplierID string
	Status     domain.OrderStatus
	Limit      int
}

func (r *Repository) List(ctx context.Context, f ListFilter) ([]domain.Order, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.CustomerID != "" {
		add("customer_id = $%d", f.CustomerID)
	}
	if f.SupplierID != "" {
		add("supplier_id = $%d", f.SupplierID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Details = []domain.OrderDetail{}
		orderMap[o.ID] = o
		orderIDs = append(orderIDs, o.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	detailRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, id, store_product_id, quantity, unit_amount, reviewable
		FROM order_details
		WHERE order_id = ANY($1)
		ORDER BY store_product_id
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("list order details: %w", err)
	}
	defer func() { _ = detailRows.Close() }()

	for detailRows.Next() {
		var (
			orderID string
			d       domain.OrderDetail
		)
		if err := detailRows.Scan(&orderID, &d.ID, &d.StoreProductID, &d.Quantity, &d.UnitAmount, &d.Reviewable); err != nil {
			return nil, fmt.Errorf("scan order detail: %w", err)
		}
		o := orderMap[orderID]
		o.Details = append(o.Details, d)
	}

	if err := detailRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, o *domain.Order) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = $2, delivered_at = $3, updated_at = $4
		WHERE id = $1
	`, o.ID, o.Status, o.DeliveredAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

func (r *Repository) GetOrderIDByTransaction(ctx context.Context, transactionID string) (string, error) {
	var orderID string
	err := r.db.QueryRowContext(ctx, `
		SELECT order_id FROM payments WHERE transaction_id = $1
	`, transactionID).Scan(&orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get payment: %w", err)
	}
	return orderID, nil
}

func (r *Repository) UpdatePaymentStatus(ctx context.Context, p *domain.Payment) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments SET status = $2, updated_at = $3
		WHERE id = $1
	`, p.ID, p.Status, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

func (r *Repository) SetPaymentReference(ctx context.Context, orderID, reference string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments SET reference = $2, updated_at = NOW()
		WHERE order_id = $1
	`, orderID, reference)
	if err != nil {
		return fmt.Errorf("set payment reference: %w", err)
	}
	return nil
}

func (r *Repository) InsertShipment(ctx context.Context, s *domain.Shipment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO shipments (id, order_id, tracking_number, provider, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.OrderID, s.TrackingNumber, s.Provider, s.Status, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert shipment: %w", err)
	}
	return nil
}

func (r *Repository) UpdateShipmentStatus(ctx context.Context, orderID string, status domain.ShipmentStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE shipments SET status = $2 WHERE order_id = $1
	`, orderID, status)
	if err != nil {
		return fmt.Errorf("update shipment status: %w", err)
	}
	return nil
}

func (r *Repository) MarkReviewable(ctx context.Context, orderID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE order_details SET reviewable = TRUE WHERE order_id = $1
	`, orderID)
	if err != nil {
		return fmt.Errorf("enable reviews: %w", err)
	}
	return nil
}

// RecordFavoriteStore bumps the customer's order count and spend for the
// order's store.
func (r *Repository) RecordFavoriteStore(ctx context.Context, o *domain.Order, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO favorite_store_metrics (customer_id, store_id, order_count, total_spent, last_order_at)
		VALUES ($1, $2, 1, $3, $4)
		ON CONFLICT (customer_id, store_id) DO UPDATE
		SET order_count = favorite_store_metrics.order_count + 1,
			total_spent = favorite_store_metrics.total_spent + EXCLUDED.total_spent,
			last_order_at = EXCLUDED.last_order_at
	`, o.CustomerID, o.StoreID, o.Total, at)
	if err != nil {
		return fmt.Errorf("record favorite store: %w", err)
	}
	return nil
}

// StoreTerms returns the supplier and flat shipping fee of a store.
func (r *Repository) StoreTerms(ctx context.Context, storeID string) (supplierID string, shippingFee int64, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT supplier_id, shipping_fee FROM stores WHERE id = $1
	`, storeID).Scan(&supplierID, &shippingFee)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, fmt.Errorf("store %s: %w", storeID, domain.ErrNotFound)
		}
		return "", 0, fmt.Errorf("get store: %w", err)
	}
	return supplierID, shippingFee, nil
}
