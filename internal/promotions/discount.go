package promotions

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Discount computes the amount a promotion takes off orderAmount. Percentage
// discounts round half-up to a whole unit and respect MaxDiscount. The result
// never exceeds orderAmount.
func Discount(p *domain.Promotion, orderAmount int64) int64 {
	var discount int64

	switch p.DiscountType {
	case domain.DiscountPercentage:
		discount = decimal.NewFromInt(orderAmount).
			Mul(decimal.NewFromInt(p.DiscountValue)).
			Div(hundred).
			Round(0).
			IntPart()
		if p.MaxDiscount != nil && discount > *p.MaxDiscount {
			discount = *p.MaxDiscount
		}
	case domain.DiscountFixed:
		discount = p.DiscountValue
	}

	return max(0, min(discount, orderAmount))
}

// checkTerms runs the checks that need nothing but the promotion row itself.
func checkTerms(p *domain.Promotion, tier domain.CustomerTier, orderAmount int64, now time.Time) error {
	if p.Status != domain.PromotionStatusActive {
		return domain.ErrPromotionInactive
	}
	if now.Before(p.StartsAt) {
		return domain.ErrPromotionNotStarted
	}
	if !now.Before(p.EndsAt) {
		return domain.ErrPromotionExpired
	}
	if orderAmount < p.MinimumOrderAmount {
		return domain.ErrPromotionMinimumNotMet
	}
	if p.RequiredTier != "" && tier.Rank() < p.RequiredTier.Rank() {
		return domain.ErrPromotionNotEligible
	}
	return nil
}
