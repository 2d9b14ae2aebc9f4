package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics are the settlement engine's business counters. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	checkouts    metric.Int64Counter
	reservations metric.Int64Counter
	transitions  metric.Int64Counter
	released     metric.Int64Counter
	releasedAmt  metric.Int64Counter
	payouts      metric.Int64Counter
}

func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("github.com/joao-fontenele/orderflow-settlement")

	checkouts, err := meter.Int64Counter("checkout.completed",
		metric.WithDescription("Checkout attempts by result"))
	if err != nil {
		return nil, err
	}
	reservations, err := meter.Int64Counter("promotion.reservations",
		metric.WithDescription("Promotion usage reservations by result"))
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter("order.transitions",
		metric.WithDescription("Order status transitions"))
	if err != nil {
		return nil, err
	}
	released, err := meter.Int64Counter("wallet.released",
		metric.WithDescription("Orders whose pending credit was released"))
	if err != nil {
		return nil, err
	}
	releasedAmt, err := meter.Int64Counter("wallet.released.amount",
		metric.WithDescription("Amount moved from pending to available"))
	if err != nil {
		return nil, err
	}
	payouts, err := meter.Int64Counter("wallet.payouts",
		metric.WithDescription("Payout transactions recorded"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		checkouts:    checkouts,
		reservations: reservations,
		transitions:  transitions,
		released:     released,
		releasedAmt:  releasedAmt,
		payouts:      payouts,
	}, nil
}

func (m *Metrics) Checkout(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.checkouts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) Reservation(ctx context.Context, code, result string) {
	if m == nil {
		return
	}
	m.reservations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("promotion", code),
		attribute.String("result", result),
	))
}

func (m *Metrics) Transition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *Metrics) Released(ctx context.Context, amount int64) {
	if m == nil {
		return
	}
	m.released.Add(ctx, 1)
	m.releasedAmt.Add(ctx, amount)
}

func (m *Metrics) Payout(ctx context.Context) {
	if m == nil {
		return
	}
	m.payouts.Add(ctx, 1)
}
