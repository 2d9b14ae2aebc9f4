// Package promotions validates promotion codes and reserves usage slots.
package promotions

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
	"github.com/joao-fontenele/orderflow-settlement/internal/telemetry"
)

// Customer is the subset of the caller a promotion is checked against.
type Customer struct {
	ID   string
	Tier domain.CustomerTier
}

// Quote is the outcome of a successful validation.
type Quote struct {
	Promotion *domain.Promotion `json:"promotion"`
	Discount  int64             `json:"discount"`
}

type ApplyInput struct {
	Code        string
	Customer    Customer
	OrderID     string
	OrderAmount int64
}

type Ledger struct {
	repo    *Repository
	metrics *telemetry.Metrics
	now     func() time.Time
}

func NewLedger(db *sql.DB, metrics *telemetry.Metrics) *Ledger {
	return &Ledger{
		repo:    NewRepository(db),
		metrics: metrics,
		now:     time.Now,
	}
}

// Validate checks whether code may be used by customer for orderAmount. It
// writes nothing and is safe to call for previews.
func (l *Ledger) Validate(ctx context.Context, code string, customer Customer, orderAmount int64) (*Quote, error) {
	p, err := l.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrPromotionNotFound
	}

	if err := checkTerms(p, customer.Tier, orderAmount, l.now()); err != nil {
		return nil, err
	}
	if err := checkCustomerCap(ctx, l.repo, p, customer.ID); err != nil {
		return nil, err
	}
	if p.TotalUsageLimit != nil && p.CurrentUsageCount >= *p.TotalUsageLimit {
		return nil, domain.ErrPromotionLimitReached
	}

	return &Quote{Promotion: p, Discount: Discount(p, orderAmount)}, nil
}

// ApplyAtomically reserves one usage slot inside tx and records the usage
// against in.OrderID. The promotion row stays locked until tx ends, and the
// counter only moves while it is below the total limit.
func (l *Ledger) ApplyAtomically(ctx context.Context, tx *sql.Tx, in ApplyInput) (*domain.PromotionUsage, error) {
	usage, err := l.apply(ctx, l.repo.WithTx(tx), in)
	l.metrics.Reservation(ctx, in.Code, reservationResult(err))
	return usage, err
}

func (l *Ledger) apply(ctx context.Context, repo *Repository, in ApplyInput) (*domain.PromotionUsage, error) {
	p, err := repo.GetByCodeForUpdate(ctx, in.Code)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrPromotionNotFound
	}

	now := l.now()
	if err := checkTerms(p, in.Customer.Tier, in.OrderAmount, now); err != nil {
		return nil, err
	}
	if err := checkCustomerCap(ctx, repo, p, in.Customer.ID); err != nil {
		return nil, err
	}

	claimed, err := repo.ClaimSlot(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, domain.ErrPromotionLimitReached
	}

	usage := &domain.PromotionUsage{
		ID:             uuid.New().String(),
		PromotionID:    p.ID,
		CustomerID:     in.Customer.ID,
		OrderID:        in.OrderID,
		OrderAmount:    in.OrderAmount,
		DiscountAmount: Discount(p, in.OrderAmount),
		UsedAt:         now,
	}
	if err := repo.InsertUsage(ctx, usage); err != nil {
		return nil, err
	}

	return usage, nil
}

func checkCustomerCap(ctx context.Context, repo *Repository, p *domain.Promotion, customerID string) error {
	if p.PerCustomerLimit == nil {
		return nil
	}
	used, err := repo.CountCustomerUsages(ctx, p.ID, customerID)
	if err != nil {
		return err
	}
	if used >= *p.PerCustomerLimit {
		return domain.ErrPromotionCustomerCapReached
	}
	return nil
}

func reservationResult(err error) string {
	var de *domain.Error
	switch {
	case err == nil:
		return "reserved"
	case errors.As(err, &de):
		return de.Code
	}
	return "error"
}
