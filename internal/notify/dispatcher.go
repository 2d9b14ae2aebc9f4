// Package notify publishes order events for downstream consumers: customer
// notifications, loyalty awards and the disciplinary subsystem.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
)

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Dispatcher is fire-and-forget: publish errors are logged and swallowed so
// they can never undo the transition that produced the event. A nil
// Dispatcher, or one without a publisher, drops events.
type Dispatcher struct {
	publisher Publisher
	timeout   time.Duration
	logger    *slog.Logger
}

func NewDispatcher(publisher Publisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		timeout:   5 * time.Second,
		logger:    logger,
	}
}

func (d *Dispatcher) Notify(ctx context.Context, event domain.OrderEvent) {
	if d == nil || d.publisher == nil {
		return
	}

	// The request may already be finishing; the event should still go out.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.publisher.Publish(ctx, event.OrderID, event); err != nil {
		d.logger.Error("failed to publish order event", "error", err,
			"order_id", event.OrderID, "event_type", event.Type)
		return
	}

	d.logger.Debug("order event published", "order_id", event.OrderID, "event_type", event.Type)
}
