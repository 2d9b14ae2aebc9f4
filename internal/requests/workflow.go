// Package requests runs the cancel and return request workflows: a customer
// submits, a supplier or admin decides once, and the decision settles the
// order or the supplier's wallet.
package requests

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/orderflow-settlement/internal/authz"
	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
	"github.com/joao-fontenele/orderflow-settlement/internal/orders"
	"github.com/joao-fontenele/orderflow-settlement/internal/postgres"
)

// WalletRefunder takes back whatever the supplier was credited for an order.
type WalletRefunder interface {
	RefundOrder(ctx context.Context, tx *sql.Tx, o *domain.Order, note string) (int64, error)
}

type Config struct {
	ReturnWindow time.Duration
}

type SubmitInput struct {
	Kind   domain.RequestKind `json:"kind"`
	Reason string             `json:"reason"`
}

type Decision struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

type Workflow struct {
	db      *sql.DB
	repo    *Repository
	orders  *orders.Repository
	machine *orders.Machine
	wallet  WalletRefunder
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

func NewWorkflow(db *sql.DB, machine *orders.Machine, wallet WalletRefunder, cfg Config, logger *slog.Logger) *Workflow {
	return &Workflow{
		db:      db,
		repo:    NewRepository(db),
		orders:  orders.NewRepository(db),
		machine: machine,
		wallet:  wallet,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Submit opens a request for the customer's order. The order row is locked
// so eligibility cannot change underneath the check.
func (w *Workflow) Submit(ctx context.Context, actor authz.Actor, orderID string, in SubmitInput) (*domain.OrderRequest, error) {
	if err := authz.Authorize(actor, authz.OpSubmitRequest); err != nil {
		return nil, err
	}
	if in.Kind != domain.RequestKindCancel && in.Kind != domain.RequestKindReturn {
		return nil, domain.NewValidationError("kind must be CANCEL or RETURN")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, domain.NewValidationError("reason is required")
	}

	var req *domain.OrderRequest
	err := postgres.WithTx(ctx, w.db, func(tx *sql.Tx) error {
		o, err := w.machine.Lock(ctx, tx, actor, orderID)
		if err != nil {
			return err
		}
		if err := w.eligible(o, in.Kind); err != nil {
			return err
		}

		repo := w.repo.WithTx(tx)
		blocked, err := repo.HasBlocking(ctx, o.ID, in.Kind)
		if err != nil {
			return err
		}
		if blocked {
			return domain.ErrRequestAlreadyExists
		}

		req = &domain.OrderRequest{
			ID:          uuid.New().String(),
			OrderID:     o.ID,
			Kind:        in.Kind,
			RequesterID: actor.ID,
			Reason:      in.Reason,
			Status:      domain.RequestStatusPendingReview,
			CreatedAt:   w.now(),
		}
		return repo.Insert(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("order request submitted", "request_id", req.ID, "order_id", orderID, "kind", req.Kind)
	return req, nil
}

func (w *Workflow) eligible(o *domain.Order, kind domain.RequestKind) error {
	switch kind {
	case domain.RequestKindCancel:
		if o.Status != domain.OrderStatusPreparing && o.Status != domain.OrderStatusShipping {
			return domain.ErrRequestNotEligible
		}
	case domain.RequestKindReturn:
		if o.Status != domain.OrderStatusDelivered || o.DeliveredAt == nil {
			return domain.ErrRequestNotEligible
		}
		if w.now().After(o.DeliveredAt.Add(w.cfg.ReturnWindow)) {
			return domain.ErrReturnWindowClosed
		}
	}
	return nil
}

// Review records the single terminal decision on a request. Approving a
// cancel cancels the order; approving a return refunds the supplier's credit
// and leaves the order DELIVERED.
func (w *Workflow) Review(ctx context.Context, actor authz.Actor, requestID string, d Decision) (*domain.OrderRequest, error) {
	if err := authz.Authorize(actor, authz.OpReviewRequest); err != nil {
		return nil, err
	}

	peek, err := w.repo.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if peek == nil {
		return nil, domain.ErrRequestNotFound
	}

	var (
		req *domain.OrderRequest
		out *orders.Outcome
	)
	err = postgres.WithTx(ctx, w.db, func(tx *sql.Tx) error {
		o, err := w.machine.Lock(ctx, tx, actor, peek.OrderID)
		if err != nil {
			if errors.Is(err, domain.ErrOrderNotFound) {
				return domain.ErrRequestNotFound
			}
			return err
		}

		repo := w.repo.WithTx(tx)
		req, err = repo.GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req == nil {
			return domain.ErrRequestNotFound
		}
		if req.Decided() {
			return domain.ErrRequestAlreadyDecided
		}

		out = &orders.Outcome{Order: o}
		req.Status = domain.RequestStatusRejected
		if d.Approve {
			req.Status = domain.RequestStatusApproved
			if out, err = w.settle(ctx, tx, actor, o, req); err != nil {
				return err
			}
		}

		now := w.now()
		req.ReviewerID = actor.ID
		req.ReviewNote = d.Note
		req.DecidedAt = &now

		decided, err := repo.Decide(ctx, req)
		if err != nil {
			return err
		}
		if !decided {
			return domain.ErrRequestAlreadyDecided
		}

		out.AddEvent(decisionEvent(o, req, now))
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.machine.Finish(ctx, out)
	w.logger.Info("order request decided",
		"request_id", req.ID,
		"order_id", req.OrderID,
		"kind", req.Kind,
		"status", req.Status,
		"refunded_amount", req.RefundedAmount,
	)
	return req, nil
}

func (w *Workflow) settle(ctx context.Context, tx *sql.Tx, actor authz.Actor, o *domain.Order, req *domain.OrderRequest) (*orders.Outcome, error) {
	if req.Kind == domain.RequestKindCancel {
		refunded := o.Total
		if !o.Payment.Captured() {
			refunded = 0
		}
		out, err := w.machine.CancelApproved(ctx, tx, actor, o, orders.CancelInput{
			Reason:        req.Reason,
			CustomerFault: true,
		})
		if err != nil {
			return nil, err
		}
		req.RefundedAmount = refunded
		return out, nil
	}

	out := &orders.Outcome{Order: o}
	if o.Status != domain.OrderStatusDelivered {
		return nil, domain.ErrRequestNotEligible
	}

	amount, err := w.wallet.RefundOrder(ctx, tx, o, "order "+o.Code+" returned")
	if err != nil {
		return nil, err
	}
	req.RefundedAmount = amount

	if p := o.Payment; p.Captured() {
		p.Status = domain.PaymentStatusRefunded
		p.UpdatedAt = w.now()
		if err := w.orders.WithTx(tx).UpdatePaymentStatus(ctx, p); err != nil {
			return nil, err
		}
		// Cash collected on delivery is paid back by the courier, not the gateway.
		if p.Method.Online() {
			out.ScheduleRefund(p)
		}
	}
	return out, nil
}

func decisionEvent(o *domain.Order, req *domain.OrderRequest, at time.Time) domain.OrderEvent {
	t := domain.EventCancelRequestDecided
	if req.Kind == domain.RequestKindReturn {
		t = domain.EventReturnRequestDecided
	}
	e := domain.NewOrderEvent(t, o, at)
	e.RequestID = req.ID
	e.Decision = req.Status
	e.Reason = req.ReviewNote
	return e
}

// Get returns a request to its customer, the order's supplier or an admin.
func (w *Workflow) Get(ctx context.Context, actor authz.Actor, requestID string) (*domain.OrderRequest, error) {
	if err := authz.Authorize(actor, authz.OpViewRequest); err != nil {
		return nil, err
	}
	req, err := w.repo.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, domain.ErrRequestNotFound
	}
	if _, err := w.visibleOrder(ctx, actor, req.OrderID); err != nil {
		return nil, domain.ErrRequestNotFound
	}
	return req, nil
}

func (w *Workflow) ListForOrder(ctx context.Context, actor authz.Actor, orderID string) ([]domain.OrderRequest, error) {
	if err := authz.Authorize(actor, authz.OpViewRequest); err != nil {
		return nil, err
	}
	if _, err := w.visibleOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return w.repo.ListByOrder(ctx, orderID)
}

func (w *Workflow) visibleOrder(ctx context.Context, actor authz.Actor, orderID string) (*domain.Order, error) {
	o, err := w.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil || !authz.OwnsOrder(actor, o) {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}
