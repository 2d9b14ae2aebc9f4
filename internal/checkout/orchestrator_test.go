package checkout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/orderflow-settlement/internal/authz"
	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
	"github.com/joao-fontenele/orderflow-settlement/internal/promotions"
)

var (
	testNow  = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	customer = authz.Actor{Role: authz.RoleCustomer, ID: "cust-1", Tier: domain.TierBronze}
)

type fakeGateway struct {
	intents []string
	err     error
}

func (g *fakeGateway) CreateIntent(_ context.Context, o *domain.Order) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.intents = append(g.intents, o.ID)
	return "pi_" + o.Code, nil
}

func (g *fakeGateway) Refund(context.Context, *domain.Payment) error { return nil }

type recordingNotifier struct {
	events []domain.OrderEvent
}

func (n *recordingNotifier) Notify(_ context.Context, e domain.OrderEvent) {
	n.events = append(n.events, e)
}

type harness struct {
	orchestrator *Orchestrator
	mock         sqlmock.Sqlmock
	gateway      *fakeGateway
	notifier     *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{mock: mock, gateway: &fakeGateway{}, notifier: &recordingNotifier{}}
	h.orchestrator = NewOrchestrator(db, promotions.NewLedger(db, nil), h.gateway, h.notifier, nil,
		Config{PriceTolerancePercent: 5}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.orchestrator.now = func() time.Time { return testNow }
	return h
}

var orderCols = []string{
	"id", "code", "customer_id", "store_id", "supplier_id", "status",
	"subtotal", "discount", "shipping_fee", "total", "idempotency_key",
	"shipping_address", "promotion_code", "balance_released", "created_at", "updated_at", "delivered_at",
}

var lineCols = []string{
	"id", "store_product_id", "quantity", "unit_price",
	"exists", "store_id", "price", "available", "active",
}

func input() Input {
	return Input{
		CartID:          "cart-1",
		PromotionCode:   "SAVE10",
		ShippingAddress: "1 Main St",
		PaymentMethod:   domain.PaymentMethodCard,
		IdempotencyKey:  "client-key",
	}
}

func (h *harness) expectNoExistingOrder() {
	h.mock.ExpectQuery(`FROM orders WHERE idempotency_key = \$1`).
		WithArgs(IdempotencyKey("cust-1", input())).
		WillReturnRows(sqlmock.NewRows(orderCols))
}

func (h *harness) expectExistingOrder() {
	h.mock.ExpectQuery(`FROM orders WHERE idempotency_key = \$1`).
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(
			"order-1", "ORD-20260310-ABCDEF12", "cust-1", "store-1", "sup-1", "PENDING",
			int64(100000), int64(10000), int64(0), int64(90000), IdempotencyKey("cust-1", input()),
			"1 Main St", "SAVE10", false, testNow, testNow, nil,
		))
	h.mock.ExpectQuery(`FROM order_details`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "store_product_id", "quantity", "unit_amount", "reviewable"}).
			AddRow("d-1", "p-1", 2, int64(50000), false))
	h.mock.ExpectQuery(`FROM payments`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "transaction_id", "reference", "method", "status", "amount", "updated_at"}).
			AddRow("pay-1", "order-1", "txn-1", "pi_1", "CARD", "PENDING", int64(90000), testNow))
	h.mock.ExpectQuery(`FROM shipments`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "tracking_number", "provider", "status", "created_at"}))
}

// expectLockedCart queues everything up to and including the cart line lock.
func (h *harness) expectLockedCart(owner string, lines *sqlmock.Rows) {
	h.expectNoExistingOrder()
	h.mock.ExpectBegin()
	h.mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	h.expectNoExistingOrder()
	h.mock.ExpectQuery(`FROM carts\s+WHERE id = \$1\s+FOR UPDATE`).WithArgs("cart-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "store_id", "created_at"}).
			AddRow("cart-1", owner, "store-1", testNow))
	if lines != nil {
		h.mock.ExpectQuery(`FROM cart_details cd\s+LEFT JOIN store_products`).WithArgs("cart-1").
			WillReturnRows(lines)
	}
}

func (h *harness) expectSave10() {
	h.mock.ExpectQuery(`FROM promotions\s+WHERE code = \$1 FOR UPDATE`).WithArgs("SAVE10").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "code", "status", "discount_type", "discount_value", "max_discount",
			"minimum_order_amount", "starts_at", "ends_at", "total_usage_limit",
			"current_usage_count", "per_customer_limit", "required_tier",
		}).AddRow(
			"promo-1", "SAVE10", "ACTIVE", "PERCENTAGE", int64(10), nil,
			int64(50000), testNow.Add(-time.Hour), testNow.Add(time.Hour), int64(100),
			int64(3), nil, nil,
		))
	h.mock.ExpectExec(`UPDATE promotions\s+SET current_usage_count`).WithArgs("promo-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec(`INSERT INTO promotion_usages`).WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestOrchestrator_Checkout(t *testing.T) {
	h := newHarness(t)

	h.expectLockedCart("cust-1", sqlmock.NewRows(lineCols).
		AddRow("cd-1", "p-1", 2, int64(50000), true, "store-1", int64(50000), 10, true).
		AddRow("cd-2", "p-2", 5, int64(1000), true, "store-1", int64(1000), 1, true))
	h.mock.ExpectExec(`UPDATE store_products\s+SET available = available - \$2`).
		WithArgs("p-1", 2).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery(`FROM stores WHERE id = \$1`).WithArgs("store-1").
		WillReturnRows(sqlmock.NewRows([]string{"supplier_id", "shipping_fee"}).AddRow("sup-1", int64(0)))
	h.expectSave10()
	h.mock.ExpectExec(`INSERT INTO orders`).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec(`INSERT INTO order_details`).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec(`INSERT INTO payments`).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec(`DELETE FROM carts WHERE id = \$1`).WithArgs("cart-1").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()
	h.mock.ExpectExec(`UPDATE payments SET reference = \$2`).WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := h.orchestrator.Checkout(context.Background(), customer, input())
	require.NoError(t, err)

	o := result.Order
	assert.False(t, result.Replayed)
	assert.Equal(t, domain.OrderStatusPending, o.Status)
	assert.Equal(t, "sup-1", o.SupplierID)
	assert.Equal(t, int64(100000), o.Subtotal)
	assert.Equal(t, int64(10000), o.Discount)
	assert.Equal(t, int64(90000), o.Total)
	assert.Equal(t, "SAVE10", o.PromotionCode)
	assert.Equal(t, int64(90000), o.Payment.Amount)
	assert.Equal(t, domain.PaymentStatusPending, o.Payment.Status)
	assert.Equal(t, "pi_"+o.Code, o.Payment.Reference)
	require.Len(t, o.Details, 1)
	assert.Equal(t, "p-1", o.Details[0].StoreProductID)

	require.Len(t, result.Dropped, 1)
	assert.Equal(t, DroppedLine{StoreProductID: "p-2", Reason: "insufficient stock"}, result.Dropped[0])

	assert.Equal(t, []string{o.ID}, h.gateway.intents)
	require.Len(t, h.notifier.events, 1)
	assert.Equal(t, domain.OrderStatusPending, h.notifier.events[0].To)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestOrchestrator_Checkout_ReplaysExistingOrder(t *testing.T) {
	h := newHarness(t)
	h.expectExistingOrder()

	result, err := h.orchestrator.Checkout(context.Background(), customer, input())
	require.NoError(t, err)

	assert.True(t, result.Replayed)
	assert.Equal(t, "order-1", result.Order.ID)
	assert.Empty(t, h.gateway.intents)
	assert.Empty(t, h.notifier.events)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestOrchestrator_Checkout_ConcurrentInsertReplays(t *testing.T) {
	h := newHarness(t)

	h.expectLockedCart("cust-1", sqlmock.NewRows(lineCols).
		AddRow("cd-1", "p-1", 2, int64(50000), true, "store-1", int64(50000), 10, true))
	h.mock.ExpectExec(`UPDATE store_products`).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery(`FROM stores`).
		WillReturnRows(sqlmock.NewRows([]string{"supplier_id", "shipping_fee"}).AddRow("sup-1", int64(0)))
	h.expectSave10()
	h.mock.ExpectExec(`INSERT INTO orders`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "orders_idempotency_key_key"})
	h.mock.ExpectRollback()
	h.expectExistingOrder()

	result, err := h.orchestrator.Checkout(context.Background(), customer, input())
	require.NoError(t, err)

	assert.True(t, result.Replayed)
	assert.Equal(t, "order-1", result.Order.ID)
	assert.Empty(t, h.gateway.intents)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestOrchestrator_Checkout_NothingPurchasable(t *testing.T) {
	h := newHarness(t)

	h.expectLockedCart("cust-1", sqlmock.NewRows(lineCols).
		AddRow("cd-1", "p-1", 1, int64(1000), false, "", int64(0), 0, false).
		AddRow("cd-2", "p-2", 1, int64(1000), true, "store-1", int64(1200), 5, true).
		AddRow("cd-3", "p-3", 1, int64(1000), true, "store-1", int64(1000), 5, false))
	h.mock.ExpectRollback()

	_, err := h.orchestrator.Checkout(context.Background(), customer, input())

	assert.ErrorIs(t, err, domain.ErrEmptyCart)
	assert.Empty(t, h.notifier.events)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestOrchestrator_Checkout_OtherCustomersCart(t *testing.T) {
	h := newHarness(t)

	h.expectLockedCart("cust-2", nil)
	h.mock.ExpectRollback()

	_, err := h.orchestrator.Checkout(context.Background(), customer, input())

	assert.ErrorIs(t, err, domain.ErrCartNotFound)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestOrchestrator_Checkout_StockRaceRollsBack(t *testing.T) {
	h := newHarness(t)

	h.expectLockedCart("cust-1", sqlmock.NewRows(lineCols).
		AddRow("cd-1", "p-1", 2, int64(50000), true, "store-1", int64(50000), 10, true))
	h.mock.ExpectExec(`UPDATE store_products`).WillReturnResult(sqlmock.NewResult(0, 0))
	h.mock.ExpectRollback()

	_, err := h.orchestrator.Checkout(context.Background(), customer, input())

	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestOrchestrator_Checkout_IntentFailureKeepsOrder(t *testing.T) {
	h := newHarness(t)
	h.gateway.err = errors.New("gateway down")

	in := input()
	in.PromotionCode = ""

	h.mock.ExpectQuery(`FROM orders WHERE idempotency_key`).WillReturnRows(sqlmock.NewRows(orderCols))
	h.mock.ExpectBegin()
	h.mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	h.mock.ExpectQuery(`FROM orders WHERE idempotency_key`).WillReturnRows(sqlmock.NewRows(orderCols))
	h.mock.ExpectQuery(`FROM carts`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "store_id", "created_at"}).
			AddRow("cart-1", "cust-1", "store-1", testNow))
	h.mock.ExpectQuery(`FROM cart_details cd`).
		WillReturnRows(sqlmock.NewRows(lineCols).
			AddRow("cd-1", "p-1", 1, int64(20000), true, "store-1", int64(20500), 10, true))
	h.mock.ExpectExec(`UPDATE store_products`).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery(`FROM stores`).
		WillReturnRows(sqlmock.NewRows([]string{"supplier_id", "shipping_fee"}).AddRow("sup-1", int64(3000)))
	h.mock.ExpectExec(`INSERT INTO orders`).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec(`INSERT INTO order_details`).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec(`INSERT INTO payments`).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec(`DELETE FROM carts`).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()

	result, err := h.orchestrator.Checkout(context.Background(), customer, in)
	require.NoError(t, err)

	assert.Equal(t, int64(20500), result.Order.Subtotal)
	assert.Equal(t, int64(23500), result.Order.Total)
	assert.Empty(t, result.Order.Payment.Reference)
	assert.Len(t, h.notifier.events, 1)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestOrchestrator_Checkout_Rejects(t *testing.T) {
	h := newHarness(t)

	_, err := h.orchestrator.Checkout(context.Background(), authz.Actor{Role: authz.RoleSupplier, ID: "sup-1"}, input())
	assert.ErrorIs(t, err, domain.ErrForbidden)

	in := input()
	in.ShippingAddress = "  "
	_, err = h.orchestrator.Checkout(context.Background(), customer, in)
	assert.ErrorIs(t, err, domain.ErrValidation)

	in = input()
	in.PaymentMethod = "CRYPTO"
	_, err = h.orchestrator.Checkout(context.Background(), customer, in)
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestIdempotencyKey(t *testing.T) {
	in := input()

	assert.Equal(t, IdempotencyKey("cust-1", in), IdempotencyKey("cust-1", in))
	assert.NotEqual(t, IdempotencyKey("cust-1", in), IdempotencyKey("cust-2", in), "keys are scoped per customer")

	derived := in
	derived.IdempotencyKey = ""
	other := derived
	other.ShippingAddress = "2 Main St"
	assert.Equal(t, IdempotencyKey("cust-1", derived), IdempotencyKey("cust-1", derived))
	assert.NotEqual(t, IdempotencyKey("cust-1", derived), IdempotencyKey("cust-1", other))
}

func TestWithinTolerance(t *testing.T) {
	o := &Orchestrator{}
	o.tolerance = decimal.NewFromInt(5)

	tests := []struct {
		snapshot, current int64
		want              bool
	}{
		{10000, 10000, true},
		{10000, 10500, true},
		{10000, 9500, true},
		{10000, 10501, false},
		{10000, 9499, false},
		{0, 0, true},
		{0, 1, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, o.withinTolerance(tt.snapshot, tt.current), "%d -> %d", tt.snapshot, tt.current)
	}
}
