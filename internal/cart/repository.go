package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
	"github.com/joao-fontenele/orderflow-settlement/internal/postgres"
)

type Repository struct {
	db postgres.DBTX
}

func NewRepository(db postgres.DBTX) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) GetByOwner(ctx context.Context, customerID, storeID string) (*domain.Cart, error) {
	return r.scanCart(r.db.QueryRowContext(ctx, `
		SELECT id, customer_id, store_id, created_at
		FROM carts
		WHERE customer_id = $1 AND store_id = $2
	`, customerID, storeID))
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.Cart, error) {
	return r.scanCart(r.db.QueryRowContext(ctx, `
		SELECT id, customer_id, store_id, created_at
		FROM carts
		WHERE id = $1
	`, id))
}

// GetForUpdate row-locks the cart so concurrent edits and checkouts of the
// same cart serialize.
func (r *Repository) GetForUpdate(ctx context.Context, id string) (*domain.Cart, error) {
	return r.scanCart(r.db.QueryRowContext(ctx, `
		SELECT id, customer_id, store_id, created_at
		FROM carts
		WHERE id = $1
		FOR UPDATE
	`, id))
}

func (r *Repository) scanCart(row *sql.Row) (*domain.Cart, error) {
	c := &domain.Cart{}
	if err := row.Scan(&c.ID, &c.CustomerID, &c.StoreID, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return c, nil
}

func (r *Repository) Create(ctx context.Context, c *domain.Cart) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO carts (id, customer_id, store_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, c.ID, c.CustomerID, c.StoreID, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert cart: %w", err)
	}
	return nil
}

func (r *Repository) Lines(ctx context.Context, cartID string) ([]domain.CartLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, store_product_id, quantity, unit_price
		FROM cart_details
		WHERE cart_id = $1
		ORDER BY store_product_id
	`, cartID)
	if err != nil {
		return nil, fmt.Errorf("list cart lines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	lines := []domain.CartLine{}
	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(&l.ID, &l.StoreProductID, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, l)
	}

	return lines, rows.Err()
}

// LineStock is a cart line joined with the current state of its product.
// Exists is false when the product row is gone.
type LineStock struct {
	Line      domain.CartLine
	Exists    bool
	StoreID   string
	Price     int64
	Available int
	Active    bool
}

// LockLines row-locks the cart's lines and returns them with their product's
// current price and stock, ordered by product id.
func (r *Repository) LockLines(ctx context.Context, cartID string) ([]LineStock, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT cd.id, cd.store_product_id, cd.quantity, cd.unit_price,
			sp.id IS NOT NULL, COALESCE(sp.store_id, ''), COALESCE(sp.price, 0),
			COALESCE(sp.available, 0), COALESCE(sp.active, FALSE)
		FROM cart_details cd
		LEFT JOIN store_products sp ON sp.id = cd.store_product_id
		WHERE cd.cart_id = $1
		ORDER BY cd.store_product_id
		FOR UPDATE OF cd
	`, cartID)
	if err != nil {
		return nil, fmt.Errorf("lock cart lines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var lines []LineStock
	for rows.Next() {
		var s LineStock
		if err := rows.Scan(
			&s.Line.ID, &s.Line.StoreProductID, &s.Line.Quantity, &s.Line.UnitPrice,
			&s.Exists, &s.StoreID, &s.Price, &s.Available, &s.Active,
		); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, s)
	}

	return lines, rows.Err()
}

// UpsertLine adds quantity to the product's line, creating it if needed, and
// refreshes its price snapshot.
func (r *Repository) UpsertLine(ctx context.Context, cartID string, line domain.CartLine) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cart_details (id, cart_id, store_product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cart_id, store_product_id) DO UPDATE
		SET quantity = cart_details.quantity + EXCLUDED.quantity,
			unit_price = EXCLUDED.unit_price
	`, line.ID, cartID, line.StoreProductID, line.Quantity, line.UnitPrice)
	if err != nil {
		return fmt.Errorf("upsert cart line: %w", err)
	}
	return nil
}

func (r *Repository) RemoveLine(ctx context.Context, cartID, productID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM cart_details WHERE cart_id = $1 AND store_product_id = $2
	`, cartID, productID)
	if err != nil {
		return false, fmt.Errorf("delete cart line: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// Delete removes the cart and, by cascade, its lines.
func (r *Repository) Delete(ctx context.Context, cartID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM carts WHERE id = $1`, cartID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}
