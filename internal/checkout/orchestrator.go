// Package checkout turns a customer's cart into an order in one transaction:
// stock, promotion slot, order, payment record and cart removal commit or
// roll back together.
package checkout

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderflow-settlement/internal/authz"
	"github.com/joao-fontenele/orderflow-settlement/internal/cart"
	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
	"github.com/joao-fontenele/orderflow-settlement/internal/inventory"
	"github.com/joao-fontenele/orderflow-settlement/internal/orders"
	"github.com/joao-fontenele/orderflow-settlement/internal/payment"
	"github.com/joao-fontenele/orderflow-settlement/internal/postgres"
	"github.com/joao-fontenele/orderflow-settlement/internal/promotions"
	"github.com/joao-fontenele/orderflow-settlement/internal/telemetry"
)

type Input struct {
	CartID          string               `json:"cart_id"`
	PromotionCode   string               `json:"promotion_code,omitempty"`
	ShippingAddress string               `json:"shipping_address"`
	PaymentMethod   domain.PaymentMethod `json:"payment_method"`
	// IdempotencyKey is the client's retry token. When empty one is derived
	// from the request itself.
	IdempotencyKey string `json:"-"`
}

// DroppedLine is a cart line left out of the order and why.
type DroppedLine struct {
	StoreProductID string `json:"store_product_id"`
	Reason         string `json:"reason"`
}

type Result struct {
	Order    *domain.Order `json:"order"`
	Dropped  []DroppedLine `json:"dropped_lines,omitempty"`
	Replayed bool          `json:"replayed"`
}

type Config struct {
	// PriceTolerancePercent is how far a product's price may drift from the
	// cart snapshot before the line is dropped.
	PriceTolerancePercent float64
}

type Orchestrator struct {
	db         *sql.DB
	orders     *orders.Repository
	carts      *cart.Repository
	inventory  *inventory.Repository
	promotions *promotions.Ledger
	gateway    payment.Gateway
	notifier   orders.Notifier
	metrics    *telemetry.Metrics
	tolerance  decimal.Decimal
	logger     *slog.Logger
	now        func() time.Time
}

func NewOrchestrator(db *sql.DB, promotionLedger *promotions.Ledger, gateway payment.Gateway, notifier orders.Notifier, metrics *telemetry.Metrics, cfg Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		db:         db,
		orders:     orders.NewRepository(db),
		carts:      cart.NewRepository(db),
		inventory:  inventory.NewRepository(db),
		promotions: promotionLedger,
		gateway:    gateway,
		notifier:   notifier,
		metrics:    metrics,
		tolerance:  decimal.NewFromFloat(cfg.PriceTolerancePercent),
		logger:     logger,
		now:        time.Now,
	}
}

var errReplay = errors.New("checkout replay")

// IdempotencyKey scopes a client key to the customer, or derives one from
// the request when the client sent none.
func IdempotencyKey(customerID string, in Input) string {
	raw := in.IdempotencyKey
	if raw == "" {
		raw = strings.Join([]string{
			"derived", in.CartID, in.PromotionCode, in.ShippingAddress, string(in.PaymentMethod),
		}, "|")
	}
	sum := sha256.Sum256([]byte(customerID + "|" + raw))
	return hex.EncodeToString(sum[:])
}

func validate(in Input) error {
	switch {
	case in.CartID == "":
		return domain.NewValidationError("cart_id is required")
	case strings.TrimSpace(in.ShippingAddress) == "":
		return domain.NewValidationError("shipping_address is required")
	case !in.PaymentMethod.Valid():
		return domain.NewValidationError("payment_method must be COD, CARD or WALLET_APP")
	}
	return nil
}

// Checkout converts the cart into a PENDING order. Retrying with the same
// idempotency key returns the order the first attempt created.
func (c *Orchestrator) Checkout(ctx context.Context, actor authz.Actor, in Input) (*Result, error) {
	if err := authz.Authorize(actor, authz.OpCheckout); err != nil {
		return nil, err
	}
	if err := validate(in); err != nil {
		return nil, err
	}

	key := IdempotencyKey(actor.ID, in)

	existing, err := c.orders.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		c.metrics.Checkout(ctx, "replayed")
		return &Result{Order: existing, Replayed: true}, nil
	}

	var result *Result
	err = postgres.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		var err error
		result, err = c.checkout(ctx, tx, actor, in, key)
		return err
	})
	if errors.Is(err, errReplay) {
		existing, err = c.orders.GetByIdempotencyKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, domain.ErrOrderNotFound
		}
		c.metrics.Checkout(ctx, "replayed")
		return &Result{Order: existing, Replayed: true}, nil
	}
	if err != nil {
		c.metrics.Checkout(ctx, domain.Code(err))
		return nil, err
	}

	c.afterCommit(ctx, result.Order)
	c.metrics.Checkout(ctx, "created")
	c.logger.Info("order created",
		"order_id", result.Order.ID,
		"customer_id", result.Order.CustomerID,
		"total", result.Order.Total,
		"dropped_lines", len(result.Dropped),
	)
	return result, nil
}

func (c *Orchestrator) checkout(ctx context.Context, tx *sql.Tx, actor authz.Actor, in Input, key string) (*Result, error) {
	if err := postgres.LockKey(ctx, tx, "checkout:"+key); err != nil {
		return nil, err
	}

	orderRepo := c.orders.WithTx(tx)
	existing, err := orderRepo.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errReplay
	}

	cartRepo := c.carts.WithTx(tx)
	ct, err := cartRepo.GetForUpdate(ctx, in.CartID)
	if err != nil {
		return nil, err
	}
	if ct == nil || ct.CustomerID != actor.ID {
		return nil, domain.ErrCartNotFound
	}

	lines, err := cartRepo.LockLines(ctx, ct.ID)
	if err != nil {
		return nil, err
	}
	details, dropped := c.revalidate(ct, lines)
	if len(details) == 0 {
		return nil, domain.ErrEmptyCart
	}

	invRepo := c.inventory.WithTx(tx)
	for _, d := range details {
		if err := invRepo.Decrement(ctx, d.StoreProductID, d.Quantity); err != nil {
			return nil, err
		}
	}

	supplierID, shippingFee, err := orderRepo.StoreTerms(ctx, ct.StoreID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	id := uuid.New().String()
	o := &domain.Order{
		ID:              id,
		Code:            domain.NewOrderCode(id, now),
		CustomerID:      actor.ID,
		StoreID:         ct.StoreID,
		SupplierID:      supplierID,
		Status:          domain.OrderStatusPending,
		ShippingFee:     shippingFee,
		IdempotencyKey:  key,
		ShippingAddress: in.ShippingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
		Details:         details,
	}
	if err := o.Price(); err != nil {
		return nil, err
	}

	if in.PromotionCode != "" {
		usage, err := c.promotions.ApplyAtomically(ctx, tx, promotions.ApplyInput{
			Code:        in.PromotionCode,
			Customer:    promotions.Customer{ID: actor.ID, Tier: actor.Tier},
			OrderID:     o.ID,
			OrderAmount: o.Subtotal,
		})
		if err != nil {
			return nil, err
		}
		o.Discount = usage.DiscountAmount
		o.PromotionCode = in.PromotionCode
		if err := o.Price(); err != nil {
			return nil, err
		}
	}

	o.Payment = &domain.Payment{
		ID:            uuid.New().String(),
		OrderID:       o.ID,
		TransactionID: uuid.New().String(),
		Method:        in.PaymentMethod,
		Status:        domain.PaymentStatusPending,
		Amount:        o.Total,
		UpdatedAt:     now,
	}

	if err := orderRepo.Insert(ctx, o); err != nil {
		if postgres.IsUniqueViolation(err, orders.IdempotencyConstraint) {
			return nil, errReplay
		}
		return nil, err
	}

	if err := cartRepo.Delete(ctx, ct.ID); err != nil {
		return nil, err
	}

	return &Result{Order: o, Dropped: dropped}, nil
}

// revalidate keeps the lines that can still be sold as snapshotted and
// reports the rest. Kept lines are charged the current price.
func (c *Orchestrator) revalidate(ct *domain.Cart, lines []cart.LineStock) ([]domain.OrderDetail, []DroppedLine) {
	var (
		details []domain.OrderDetail
		dropped []DroppedLine
	)

	for _, l := range lines {
		reason := ""
		switch {
		case !l.Exists:
			reason = "product no longer exists"
		case !l.Active || l.StoreID != ct.StoreID:
			reason = "product is no longer sold by this store"
		case l.Available < l.Line.Quantity:
			reason = "insufficient stock"
		case !c.withinTolerance(l.Line.UnitPrice, l.Price):
			reason = "price changed"
		}

		if reason != "" {
			dropped = append(dropped, DroppedLine{StoreProductID: l.Line.StoreProductID, Reason: reason})
			continue
		}

		details = append(details, domain.OrderDetail{
			StoreProductID: l.Line.StoreProductID,
			Quantity:       l.Line.Quantity,
			UnitAmount:     l.Price,
		})
	}

	return details, dropped
}

func (c *Orchestrator) withinTolerance(snapshot, current int64) bool {
	diff := decimal.NewFromInt(current - snapshot).Abs()
	limit := decimal.NewFromInt(snapshot).Mul(c.tolerance).Div(decimal.NewFromInt(100))
	return diff.LessThanOrEqual(limit)
}

// afterCommit registers online payments with the gateway and announces the
// order. Neither may fail the checkout: the order exists already.
func (c *Orchestrator) afterCommit(ctx context.Context, o *domain.Order) {
	if o.Payment.Method.Online() && c.gateway != nil {
		ref, err := c.gateway.CreateIntent(ctx, o)
		if err != nil {
			c.logger.Error("failed to create payment intent", "error", err, "order_id", o.ID)
		} else if err := c.orders.SetPaymentReference(ctx, o.ID, ref); err != nil {
			c.logger.Error("failed to store payment reference", "error", err, "order_id", o.ID)
		} else {
			o.Payment.Reference = ref
		}
	}

	if c.notifier != nil {
		c.notifier.Notify(ctx, domain.NewOrderEvent(domain.EventOrderStatusChanged, o, o.CreatedAt))
	}
}
