package domain

import "time"

type PromotionStatus string

const (
	PromotionStatusActive   PromotionStatus = "ACTIVE"
	PromotionStatusInactive PromotionStatus = "INACTIVE"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFixed      DiscountType = "FIXED"
)

type CustomerTier string

const (
	TierBronze   CustomerTier = "BRONZE"
	TierSilver   CustomerTier = "SILVER"
	TierGold     CustomerTier = "GOLD"
	TierPlatinum CustomerTier = "PLATINUM"
)

func (t CustomerTier) Rank() int {
	switch t {
	case TierSilver:
		return 1
	case TierGold:
		return 2
	case TierPlatinum:
		return 3
	}
	return 0
}

type Promotion struct {
	ID                 string          `json:"id"`
	Code               string          `json:"code"`
	Status             PromotionStatus `json:"status"`
	DiscountType       DiscountType    `json:"discount_type"`
	DiscountValue      int64           `json:"discount_value"`
	MaxDiscount        *int64          `json:"max_discount,omitempty"`
	MinimumOrderAmount int64           `json:"minimum_order_amount"`
	StartsAt           time.Time       `json:"starts_at"`
	EndsAt             time.Time       `json:"ends_at"`
	TotalUsageLimit    *int            `json:"total_usage_limit,omitempty"`
	CurrentUsageCount  int             `json:"current_usage_count"`
	PerCustomerLimit   *int            `json:"per_customer_limit,omitempty"`
	RequiredTier       CustomerTier    `json:"required_tier,omitempty"`
}

type PromotionUsage struct {
	ID             string    `json:"id"`
	PromotionID    string    `json:"promotion_id"`
	CustomerID     string    `json:"customer_id"`
	OrderID        string    `json:"order_id"`
	OrderAmount    int64     `json:"order_amount"`
	DiscountAmount int64     `json:"discount_amount"`
	UsedAt         time.Time `json:"used_at"`
}
