package orders

import (
	"context"
	"database/sql"

	"github.com/joao-fontenele/orderflow-settlement/internal/authz"
	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
	"github.com/joao-fontenele/orderflow-settlement/internal/postgres"
)

// ApplyPaymentResult settles the gateway's verdict on a payment. Success
// captures the payment and confirms a PENDING order; failure marks it FAILED
// and cancels the order on the system's behalf. Verdicts for a payment that
// is no longer PENDING are replays and change nothing.
func (m *Machine) ApplyPaymentResult(ctx context.Context, transactionID string, succeeded bool) (*domain.Order, error) {
	orderID, err := m.repo.GetOrderIDByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if orderID == "" {
		return nil, domain.ErrOrderNotFound
	}

	out := &Outcome{}
	err = postgres.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		o, err := m.Lock(ctx, tx, authz.System, orderID)
		if err != nil {
			return err
		}
		out.Order = o

		p := o.Payment
		if p == nil || p.Status != domain.PaymentStatusPending {
			m.logger.Info("ignoring replayed payment result", "order_id", o.ID, "transaction_id", transactionID)
			return nil
		}

		repo := m.repo.WithTx(tx)
		p.UpdatedAt = m.now()

		if !succeeded {
			p.Status = domain.PaymentStatusFailed
			if err := repo.UpdatePaymentStatus(ctx, p); err != nil {
				return err
			}
			if _, err := Next(o.Status, TriggerPaymentFailed); err != nil {
				return nil
			}
			return m.apply(ctx, tx, authz.System, o, TriggerPaymentFailed, func(ctx context.Context, tx *sql.Tx, o *domain.Order, out *Outcome) error {
				return m.cancel(ctx, tx, o, CancelInput{Reason: "payment failed"}, out)
			}, out)
		}

		p.Status = domain.PaymentStatusSuccess
		if o.Status != domain.OrderStatusPending {
			// Captured after the order left PENDING: give the money back.
			m.logger.Warn("payment captured for order no longer pending", "order_id", o.ID, "status", o.Status)
			p.Status = domain.PaymentStatusRefunded
			out.refund = p
			return repo.UpdatePaymentStatus(ctx, p)
		}
		if err := repo.UpdatePaymentStatus(ctx, p); err != nil {
			return err
		}
		return m.apply(ctx, tx, authz.System, o, TriggerPaymentSucceeded, nil, out)
	})
	if err != nil {
		return nil, err
	}

	m.Finish(ctx, out)
	return out.Order, nil
}
