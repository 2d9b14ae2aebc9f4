// Package orders owns the order lifecycle: the transition table, the
// side effects tied to each edge and the HTTP surface over them.
package orders

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderflow-settlement/internal/authz"
	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
	"github.com/joao-fontenele/orderflow-settlement/internal/inventory"
	"github.com/joao-fontenele/orderflow-settlement/internal/postgres"
	"github.com/joao-fontenele/orderflow-settlement/internal/telemetry"
)

// Notifier receives order events after the transition commits. It must not
// block or fail the caller.
type Notifier interface {
	Notify(ctx context.Context, event domain.OrderEvent)
}

// Refunder returns captured money to the customer through the payment
// gateway. It is called after commit, never while the order is locked.
type Refunder interface {
	Refund(ctx context.Context, p *domain.Payment) error
}

// WalletLedger is the part of the supplier wallet the state machine drives.
type WalletLedger interface {
	CreditPending(ctx context.Context, tx *sql.Tx, supplierID, orderID string, amount int64, note string) error
	RefundOrder(ctx context.Context, tx *sql.Tx, o *domain.Order, note string) (int64, error)
}

type MachineConfig struct {
	BonusPointsPercent int64
}

type Machine struct {
	db        *sql.DB
	repo      *Repository
	inventory *inventory.Repository
	wallet    WalletLedger
	refunder  Refunder
	notifier  Notifier
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	cfg       MachineConfig
	now       func() time.Time
}

func NewMachine(db *sql.DB, wallet WalletLedger, refunder Refunder, notifier Notifier, metrics *telemetry.Metrics, cfg MachineConfig, logger *slog.Logger) *Machine {
	return &Machine{
		db:        db,
		repo:      NewRepository(db),
		inventory: inventory.NewRepository(db),
		wallet:    wallet,
		refunder:  refunder,
		notifier:  notifier,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Outcome collects what a committed transition still has to do outside the
// transaction: publish events and refund a captured payment.
type Outcome struct {
	Order  *domain.Order
	events []domain.OrderEvent
	refund *domain.Payment
}

// CancelInput carries the optional details of a cancellation.
type CancelInput struct {
	Reason string
	// CustomerFault marks cancellations the disciplinary subsystem must hear about.
	CustomerFault bool
}

type ShipInput struct {
	TrackingNumber string `json:"tracking_number"`
	Provider       string `json:"provider"`
}

func (m *Machine) Get(ctx context.Context, actor authz.Actor, orderID string) (*domain.Order, error) {
	if err := authz.Authorize(actor, authz.OpViewOrder); err != nil {
		return nil, err
	}
	o, err := m.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil || !authz.OwnsOrder(actor, o) {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

func (m *Machine) List(ctx context.Context, actor authz.Actor, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	if err := authz.Authorize(actor, authz.OpViewOrder); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	f := ListFilter{Status: status, Limit: limit}
	switch actor.Role {
	case authz.RoleCustomer:
		f.CustomerID = actor.ID
	case authz.RoleSupplier:
		f.SupplierID = actor.ID
	}
	return m.repo.List(ctx, f)
}

func (m *Machine) Confirm(ctx context.Context, actor authz.Actor, orderID string) (*domain.Order, error) {
	return m.run(ctx, actor, orderID, TriggerConfirm, nil)
}

func (m *Machine) Prepare(ctx context.Context, actor authz.Actor, orderID string) (*domain.Order, error) {
	return m.run(ctx, actor, orderID, TriggerPrepare, nil)
}

// Ship moves a PREPARING order to SHIPPING and records its shipment in the
// same transaction.
func (m *Machine) Ship(ctx context.Context, actor authz.Actor, orderID string, in ShipInput) (*domain.Order, error) {
	if in.TrackingNumber == "" || in.Provider == "" {
		return nil, domain.NewValidationError("tracking_number and provider are required")
	}
	return m.run(ctx, actor, orderID, TriggerShip, func(ctx context.Context, tx *sql.Tx, o *domain.Order, _ *Outcome) error {
		o.Shipment = &domain.Shipment{
			ID:             uuid.New().String(),
			OrderID:        o.ID,
			TrackingNumber: in.TrackingNumber,
			Provider:       in.Provider,
			Status:         domain.ShipmentStatusInTransit,
			CreatedAt:      m.now(),
		}
		return m.repo.WithTx(tx).InsertShipment(ctx, o.Shipment)
	})
}

func (m *Machine) Deliver(ctx context.Context, actor authz.Actor, orderID string) (*domain.Order, error) {
	return m.run(ctx, actor, orderID, TriggerDeliver, m.deliver)
}

// Cancel is the direct cancel of a PENDING or CONFIRMED order. A customer
// cancelling their own order is at fault.
func (m *Machine) Cancel(ctx context.Context, actor authz.Actor, orderID, reason string) (*domain.Order, error) {
	in := CancelInput{Reason: reason, CustomerFault: actor.Is(authz.RoleCustomer)}
	return m.run(ctx, actor, orderID, TriggerCancel, func(ctx context.Context, tx *sql.Tx, o *domain.Order, out *Outcome) error {
		return m.cancel(ctx, tx, o, in, out)
	})
}

// CancelApproved cancels an order inside the caller's transaction after a
// cancel request was approved. The caller must already hold o's row lock and
// pass the Outcome to Finish once its transaction commits.
func (m *Machine) CancelApproved(ctx context.Context, tx *sql.Tx, actor authz.Actor, o *domain.Order, in CancelInput) (*Outcome, error) {
	out := &Outcome{Order: o}
	err := m.apply(ctx, tx, actor, o, TriggerApprovedCancelRequest, func(ctx context.Context, tx *sql.Tx, o *domain.Order, out *Outcome) error {
		return m.cancel(ctx, tx, o, in, out)
	}, out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

type effect func(ctx context.Context, tx *sql.Tx, o *domain.Order, out *Outcome) error

// run locks the order, applies trigger and its effect in one transaction,
// then finishes the outcome.
func (m *Machine) run(ctx context.Context, actor authz.Actor, orderID string, trigger Trigger, fx effect) (*domain.Order, error) {
	if err := authz.Authorize(actor, rules[trigger].op); err != nil {
		return nil, err
	}

	out := &Outcome{}
	err := postgres.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		o, err := m.Lock(ctx, tx, actor, orderID)
		if err != nil {
			return err
		}
		out.Order = o
		return m.apply(ctx, tx, actor, o, trigger, fx, out)
	})
	if err != nil {
		return nil, err
	}

	m.Finish(ctx, out)
	return out.Order, nil
}

// Lock loads orderID with a row lock held until tx ends, hiding orders the
// actor does not own.
func (m *Machine) Lock(ctx context.Context, tx *sql.Tx, actor authz.Actor, orderID string) (*domain.Order, error) {
	o, err := m.repo.WithTx(tx).GetForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil || !authz.OwnsOrder(actor, o) {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

func (m *Machine) apply(ctx context.Context, tx *sql.Tx, actor authz.Actor, o *domain.Order, trigger Trigger, fx effect, out *Outcome) error {
	if err := authz.Authorize(actor, rules[trigger].op); err != nil {
		return err
	}

	to, err := Next(o.Status, trigger)
	if err != nil {
		return err
	}

	if trigger == TriggerConfirm && o.Payment != nil && o.Payment.Method.Online() && !o.Payment.Captured() {
		return domain.ErrPaymentNotCaptured
	}

	from := o.Status
	o.Status = to
	o.UpdatedAt = m.now()

	if fx != nil {
		if err := fx(ctx, tx, o, out); err != nil {
			return err
		}
	}

	if err := m.repo.WithTx(tx).UpdateStatus(ctx, o); err != nil {
		return err
	}

	event := domain.NewOrderEvent(domain.EventOrderStatusChanged, o, o.UpdatedAt)
	event.From = from
	out.events = append([]domain.OrderEvent{event}, out.events...)
	m.metrics.Transition(ctx, string(from), string(to))
	return nil
}

// deliver credits the supplier, opens the lines for review and updates the
// customer's favorite-store metrics. Loyalty points travel on the delivered
// event and are awarded outside the transaction.
func (m *Machine) deliver(ctx context.Context, tx *sql.Tx, o *domain.Order, out *Outcome) error {
	repo := m.repo.WithTx(tx)
	now := o.UpdatedAt
	o.DeliveredAt = &now

	if o.Total > 0 {
		if err := m.wallet.CreditPending(ctx, tx, o.SupplierID, o.ID, o.Total, "order "+o.Code+" delivered"); err != nil {
			return err
		}
	}
	if err := repo.MarkReviewable(ctx, o.ID); err != nil {
		return err
	}
	for i := range o.Details {
		o.Details[i].Reviewable = true
	}
	if err := repo.RecordFavoriteStore(ctx, o, now); err != nil {
		return err
	}
	if o.Shipment != nil {
		if err := repo.UpdateShipmentStatus(ctx, o.ID, domain.ShipmentStatusDelivered); err != nil {
			return err
		}
		o.Shipment.Status = domain.ShipmentStatusDelivered
	}
	if p := o.Payment; p != nil && p.Method == domain.PaymentMethodCOD && p.Status == domain.PaymentStatusPending {
		p.Status = domain.PaymentStatusSuccess
		p.UpdatedAt = now
		if err := repo.UpdatePaymentStatus(ctx, p); err != nil {
			return err
		}
	}

	event := domain.NewOrderEvent(domain.EventOrderDelivered, o, now)
	event.BonusPoints = BonusPoints(o.Total, m.cfg.BonusPointsPercent)
	out.events = append(out.events, event)
	return nil
}

// cancel returns stock, takes back any wallet credit and marks a captured
// payment refunded. The gateway refund itself happens in Finish.
func (m *Machine) cancel(ctx context.Context, tx *sql.Tx, o *domain.Order, in CancelInput, out *Outcome) error {
	repo := m.repo.WithTx(tx)

	if err := m.inventory.WithTx(tx).RestoreLines(ctx, o.Details); err != nil {
		return err
	}
	if _, err := m.wallet.RefundOrder(ctx, tx, o, "order "+o.Code+" canceled"); err != nil {
		return err
	}
	if p := o.Payment; p.Captured() {
		p.Status = domain.PaymentStatusRefunded
		p.UpdatedAt = o.UpdatedAt
		if err := repo.UpdatePaymentStatus(ctx, p); err != nil {
			return err
		}
		out.refund = p
	}
	if o.Shipment != nil && o.Shipment.Status == domain.ShipmentStatusInTransit {
		if err := repo.UpdateShipmentStatus(ctx, o.ID, domain.ShipmentStatusCanceled); err != nil {
			return err
		}
		o.Shipment.Status = domain.ShipmentStatusCanceled
	}

	if in.CustomerFault {
		event := domain.NewOrderEvent(domain.EventCustomerFaultCancel, o, o.UpdatedAt)
		event.Reason = in.Reason
		out.events = append(out.events, event)
	}
	return nil
}

// Finish runs the post-commit side effects of a transition. Failures are
// logged; the transition already happened.
func (m *Machine) Finish(ctx context.Context, out *Outcome) {
	if out == nil {
		return
	}
	if out.refund != nil && m.refunder != nil {
		if err := m.refunder.Refund(ctx, out.refund); err != nil {
			m.logger.Error("failed to refund payment", "error", err,
				"order_id", out.refund.OrderID, "transaction_id", out.refund.TransactionID)
		}
	}
	for _, e := range out.events {
		if m.notifier != nil {
			m.notifier.Notify(ctx, e)
		}
	}
	if out.Order != nil && len(out.events) > 0 {
		m.logger.Info("order transitioned", "order_id", out.Order.ID, "status", out.Order.Status)
	}
}

// AddEvent queues an extra event to publish when the outcome finishes.
func (o *Outcome) AddEvent(e domain.OrderEvent) {
	o.events = append(o.events, e)
}

// ScheduleRefund queues a gateway refund of p for when the outcome finishes.
func (o *Outcome) ScheduleRefund(p *domain.Payment) {
	o.refund = p
}

// BonusPoints is percent of total, rounded down to a whole point.
func BonusPoints(total, percent int64) int64 {
	return decimal.NewFromInt(total).
		Mul(decimal.NewFromInt(percent)).
		Div(decimal.NewFromInt(100)).
		Floor().
		IntPart()
}
