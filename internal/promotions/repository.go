package promotions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
	"github.com/joao-fontenele/orderflow-settlement/internal/postgres"
)

const usageOrderConstraint = "promotion_usages_order_id_key"

type Repository struct {
	db postgres.DBTX
}

func NewRepository(db postgres.DBTX) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{db: tx}
}

const selectPromotion = `
	SELECT id, code, status, discount_type, discount_value, max_discount,
		minimum_order_amount, starts_at, ends_at, total_usage_limit,
		current_usage_count, per_customer_limit, required_tier
	FROM promotions
	WHERE code = $1`

func (r *Repository) GetByCode(ctx context.Context, code string) (*domain.Promotion, error) {
	return r.get(ctx, selectPromotion, code)
}

// GetByCodeForUpdate row-locks the promotion until the surrounding
// transaction ends. Only valid on a repository bound with WithTx.
func (r *Repository) GetByCodeForUpdate(ctx context.Context, code string) (*domain.Promotion, error) {
	return r.get(ctx, selectPromotion+` FOR UPDATE`, code)
}

func (r *Repository) get(ctx context.Context, query, code string) (*domain.Promotion, error) {
	var (
		p             domain.Promotion
		maxDiscount   sql.NullInt64
		totalLimit    sql.NullInt64
		customerLimit sql.NullInt64
		requiredTier  sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&p.ID, &p.Code, &p.Status, &p.DiscountType, &p.DiscountValue, &maxDiscount,
		&p.MinimumOrderAmount, &p.StartsAt, &p.EndsAt, &totalLimit,
		&p.CurrentUsageCount, &customerLimit, &requiredTier,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get promotion: %w", err)
	}

	if maxDiscount.Valid {
		p.MaxDiscount = &maxDiscount.Int64
	}
	if totalLimit.Valid {
		n := int(totalLimit.Int64)
		p.TotalUsageLimit = &n
	}
	if customerLimit.Valid {
		n := int(customerLimit.Int64)
		p.PerCustomerLimit = &n
	}
	p.RequiredTier = domain.CustomerTier(requiredTier.String)

	return &p, nil
}

func (r *Repository) CountCustomerUsages(ctx context.Context, promotionID, customerID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM promotion_usages
		WHERE promotion_id = $1 AND customer_id = $2
	`, promotionID, customerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count promotion usages: %w", err)
	}
	return n, nil
}

// ClaimSlot increments the usage counter only while the promotion is below
// its total limit. It reports false when the promotion is at capacity.
func (r *Repository) ClaimSlot(ctx context.Context, promotionID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE promotions
		SET current_usage_count = current_usage_count + 1
		WHERE id = $1
			AND (total_usage_limit IS NULL OR current_usage_count < total_usage_limit)
	`, promotionID)
	if err != nil {
		return false, fmt.Errorf("claim promotion slot: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

func (r *Repository) InsertUsage(ctx context.Context, u *domain.PromotionUsage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO promotion_usages (id, promotion_id, customer_id, order_id, order_amount, discount_amount, used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.PromotionID, u.CustomerID, u.OrderID, u.OrderAmount, u.DiscountAmount, u.UsedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err, usageOrderConstraint) {
			return domain.ErrDuplicatePromotionUsage
		}
		return fmt.Errorf("insert promotion usage: %w", err)
	}
	return nil
}
