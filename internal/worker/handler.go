package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
)

// Awarder credits loyalty points for a delivered order.
type Awarder interface {
	Award(ctx context.Context, customerID, orderID string, points int64) error
}

// EventHandler turns order events into customer emails and loyalty awards.
// Every side effect here is best effort; the order already moved.
type EventHandler struct {
	emailServiceURL string
	loyalty         Awarder
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewEventHandler(emailServiceURL string, loyalty Awarder, client *http.Client, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		emailServiceURL: emailServiceURL,
		loyalty:         loyalty,
		httpClient:      client,
		logger:          logger,
	}
}

func (h *EventHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order event: %w", err)
	}

	h.logger.Info("processing order event", "order_id", event.OrderID, "event_type", event.Type)

	switch event.Type {
	case domain.EventOrderDelivered:
		return h.handleDelivered(ctx, event)
	case domain.EventOrderStatusChanged:
		return h.sendEmail(ctx, event.CustomerID, "Order "+event.OrderCode+" is "+string(event.To),
			fmt.Sprintf("Your order %s moved from %s to %s.", event.OrderCode, event.From, event.To))
	case domain.EventCancelRequestDecided, domain.EventReturnRequestDecided:
		kind := "cancellation"
		if event.Type == domain.EventReturnRequestDecided {
			kind = "return"
		}
		return h.sendEmail(ctx, event.CustomerID, "Your "+kind+" request was "+string(event.Decision),
			fmt.Sprintf("Your %s request for order %s was %s. %s", kind, event.OrderCode, event.Decision, event.Reason))
	case domain.EventCustomerFaultCancel:
		h.logger.Warn("customer fault cancellation",
			"order_id", event.OrderID, "customer_id", event.CustomerID, "reason", event.Reason)
		return nil
	}

	h.logger.Debug("ignoring order event", "order_id", event.OrderID, "event_type", event.Type)
	return nil
}

func (h *EventHandler) handleDelivered(ctx context.Context, event domain.OrderEvent) error {
	var errs []error

	if h.loyalty != nil {
		if err := h.loyalty.Award(ctx, event.CustomerID, event.OrderID, event.BonusPoints); err != nil {
			h.logger.Error("failed to award loyalty points", "error", err,
				"order_id", event.OrderID, "points", event.BonusPoints)
			errs = append(errs, fmt.Errorf("award loyalty points: %w", err))
		} else {
			h.logger.Info("loyalty points awarded", "order_id", event.OrderID, "points", event.BonusPoints)
		}
	}

	err := h.sendEmail(ctx, event.CustomerID, "Order "+event.OrderCode+" delivered",
		fmt.Sprintf("Your order %s was delivered. You earned %d points.", event.OrderCode, event.BonusPoints))
	if err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (h *EventHandler) sendEmail(ctx context.Context, customerID, subject, text string) error {
	if h.emailServiceURL == "" {
		return nil
	}

	data, err := json.Marshal(map[string]string{
		"to":      customerID + "@example.com",
		"subject": subject,
		"body":    text,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
