// Package cart stages a customer's items for one store before checkout.
package cart

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/orderflow-settlement/internal/authz"
	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
	"github.com/joao-fontenele/orderflow-settlement/internal/inventory"
	"github.com/joao-fontenele/orderflow-settlement/internal/postgres"
)

type Service struct {
	db        *sql.DB
	repo      *Repository
	inventory *inventory.Repository
	now       func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{
		db:        db,
		repo:      NewRepository(db),
		inventory: inventory.NewRepository(db),
		now:       time.Now,
	}
}

func ownerKey(customerID, storeID string) string {
	return "cart:" + customerID + ":" + storeID
}

// GetOrCreate returns the actor's cart for storeID, creating it if absent.
// The advisory lock on (customer, store) makes the check-then-create race
// free.
func (s *Service) GetOrCreate(ctx context.Context, actor authz.Actor, storeID string) (*domain.Cart, error) {
	if err := authz.Authorize(actor, authz.OpManageCart); err != nil {
		return nil, err
	}

	var c *domain.Cart
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		c, err = s.getOrCreate(ctx, tx, actor.ID, storeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.withLines(ctx, c)
}

func (s *Service) getOrCreate(ctx context.Context, tx *sql.Tx, customerID, storeID string) (*domain.Cart, error) {
	if err := postgres.LockKey(ctx, tx, ownerKey(customerID, storeID)); err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)
	c, err := repo.GetByOwner(ctx, customerID, storeID)
	if err != nil || c != nil {
		return c, err
	}

	c = &domain.Cart{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		StoreID:    storeID,
		CreatedAt:  s.now(),
	}
	if err := repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// AddItem snapshots the product's current price into the actor's cart for
// the product's store.
func (s *Service) AddItem(ctx context.Context, actor authz.Actor, productID string, quantity int) (*domain.Cart, error) {
	if err := authz.Authorize(actor, authz.OpManageCart); err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, domain.NewValidationError("quantity must be positive")
	}

	var c *domain.Cart
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		product, err := s.inventory.WithTx(tx).Get(ctx, productID)
		if err != nil {
			return err
		}
		if product == nil || !product.Active {
			return domain.ErrProductNotFound
		}

		c, err = s.getOrCreate(ctx, tx, actor.ID, product.StoreID)
		if err != nil {
			return err
		}

		return s.repo.WithTx(tx).UpsertLine(ctx, c.ID, domain.CartLine{
			ID:             uuid.New().String(),
			StoreProductID: product.ID,
			Quantity:       quantity,
			UnitPrice:      product.Price,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.withLines(ctx, c)
}

func (s *Service) RemoveItem(ctx context.Context, actor authz.Actor, cartID, productID string) (*domain.Cart, error) {
	c, err := s.owned(ctx, actor, cartID)
	if err != nil {
		return nil, err
	}

	removed, err := s.repo.RemoveLine(ctx, c.ID, productID)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, domain.ErrProductNotFound
	}
	return s.withLines(ctx, c)
}

func (s *Service) Get(ctx context.Context, actor authz.Actor, cartID string) (*domain.Cart, error) {
	c, err := s.owned(ctx, actor, cartID)
	if err != nil {
		return nil, err
	}
	return s.withLines(ctx, c)
}

func (s *Service) Clear(ctx context.Context, actor authz.Actor, cartID string) error {
	c, err := s.owned(ctx, actor, cartID)
	if err != nil {
		return err
	}
	return s.repo.Delete(ctx, c.ID)
}

func (s *Service) owned(ctx context.Context, actor authz.Actor, cartID string) (*domain.Cart, error) {
	if err := authz.Authorize(actor, authz.OpManageCart); err != nil {
		return nil, err
	}

	c, err := s.repo.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if c == nil || c.CustomerID != actor.ID {
		return nil, domain.ErrCartNotFound
	}
	return c, nil
}

func (s *Service) withLines(ctx context.Context, c *domain.Cart) (*domain.Cart, error) {
	lines, err := s.repo.Lines(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Lines = lines
	return c, nil
}
