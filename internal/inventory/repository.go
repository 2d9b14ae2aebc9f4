package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
	"github.com/joao-fontenele/orderflow-settlement/internal/postgres"
)

// Repository reads and adjusts per-store product stock. Decrement and Restore
// are meant to run on a repository bound to the caller's transaction.
type Repository struct {
	db postgres.DBTX
}

func NewRepository(db postgres.DBTX) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) ListByStore(ctx context.Context, storeID string) ([]domain.StoreProduct, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, store_id, name, price, available, active
		FROM store_products
		WHERE store_id = $1
		ORDER BY name
	`, storeID)
	if err != nil {
		return nil, fmt.Errorf("list store products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	products := []domain.StoreProduct{}
	for rows.Next() {
		var p domain.StoreProduct
		if err := rows.Scan(&p.ID, &p.StoreID, &p.Name, &p.Price, &p.Available, &p.Active); err != nil {
			return nil, fmt.Errorf("scan store product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.StoreProduct, error) {
	p := &domain.StoreProduct{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, store_id, name, price, available, active
		FROM store_products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.StoreID, &p.Name, &p.Price, &p.Available, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get store product: %w", err)
	}

	return p, nil
}

// Decrement takes quantity units out of stock. It never drives stock negative:
// a product without enough units reports ErrInsufficientStock.
func (r *Repository) Decrement(ctx context.Context, productID string, quantity int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE store_products
		SET available = available - $2
		WHERE id = $1 AND available >= $2
	`, productID, quantity)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("product %s: %w", productID, domain.ErrInsufficientStock)
	}

	return nil
}

func (r *Repository) Restore(ctx context.Context, productID string, quantity int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE store_products
		SET available = available + $2
		WHERE id = $1
	`, productID, quantity)
	if err != nil {
		return fmt.Errorf("restore stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("product %s: %w", productID, domain.ErrProductNotFound)
	}

	return nil
}

// RestoreLines returns every order line's quantity to stock.
func (r *Repository) RestoreLines(ctx context.Context, details []domain.OrderDetail) error {
	for _, d := range details {
		if err := r.Restore(ctx, d.StoreProductID, d.Quantity); err != nil {
			return err
		}
	}
	return nil
}
