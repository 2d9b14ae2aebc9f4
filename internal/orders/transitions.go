package orders

import (
	"fmt"

	"github.com/joao-fontenele/orderflow-settlement/internal/authz"
	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
)

// Trigger names why an order is moving. Several triggers may share a target
// status but differ in who may fire them and which statuses they leave.
type Trigger string

const (
	TriggerConfirm               Trigger = "confirm"
	TriggerPaymentSucceeded      Trigger = "payment_succeeded"
	TriggerPrepare               Trigger = "prepare"
	TriggerShip                  Trigger = "ship"
	TriggerDeliver               Trigger = "deliver"
	TriggerCancel                Trigger = "cancel"
	TriggerPaymentFailed         Trigger = "payment_failed"
	TriggerApprovedCancelRequest Trigger = "approved_cancel_request"
)

type rule struct {
	from []domain.OrderStatus
	to   domain.OrderStatus
	op   authz.Operation
}

var rules = map[Trigger]rule{
	TriggerConfirm: {
		from: []domain.OrderStatus{domain.OrderStatusPending},
		to:   domain.OrderStatusConfirmed,
		op:   authz.OpConfirmOrder,
	},
	TriggerPaymentSucceeded: {
		from: []domain.OrderStatus{domain.OrderStatusPending},
		to:   domain.OrderStatusConfirmed,
		op:   authz.OpPaymentCallback,
	},
	TriggerPrepare: {
		from: []domain.OrderStatus{domain.OrderStatusConfirmed},
		to:   domain.OrderStatusPreparing,
		op:   authz.OpPrepareOrder,
	},
	TriggerShip: {
		from: []domain.OrderStatus{domain.OrderStatusPreparing},
		to:   domain.OrderStatusShipping,
		op:   authz.OpShipOrder,
	},
	TriggerDeliver: {
		from: []domain.OrderStatus{domain.OrderStatusShipping},
		to:   domain.OrderStatusDelivered,
		op:   authz.OpDeliverOrder,
	},
	TriggerCancel: {
		from: []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusConfirmed},
		to:   domain.OrderStatusCanceled,
		op:   authz.OpCancelOrder,
	},
	TriggerPaymentFailed: {
		from: []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusConfirmed},
		to:   domain.OrderStatusCanceled,
		op:   authz.OpPaymentCallback,
	},
	TriggerApprovedCancelRequest: {
		from: []domain.OrderStatus{domain.OrderStatusPreparing, domain.OrderStatusShipping},
		to:   domain.OrderStatusCanceled,
		op:   authz.OpReviewRequest,
	},
}

// Next returns the status trigger moves an order in from to, or a
// *domain.TransitionError naming both when the table has no such edge.
func Next(from domain.OrderStatus, t Trigger) (domain.OrderStatus, error) {
	r, ok := rules[t]
	if !ok {
		return "", domain.NewValidationError(fmt.Sprintf("unknown trigger %q", t))
	}
	for _, s := range r.from {
		if s == from {
			return r.to, nil
		}
	}
	return "", &domain.TransitionError{From: from, To: r.to}
}
