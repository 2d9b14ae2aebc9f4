package domain

import "time"

type OrderEventType string

const (
	EventOrderStatusChanged   OrderEventType = "order.status_changed"
	EventOrderDelivered       OrderEventType = "order.delivered"
	EventCancelRequestDecided OrderEventType = "order.cancel_request_decided"
	EventReturnRequestDecided OrderEventType = "order.return_request_decided"
	EventCustomerFaultCancel  OrderEventType = "customer.fault_cancellation"
)

// OrderEvent is the single envelope published on the order events topic,
// keyed by order id so consumers see one order's events in order.
type OrderEvent struct {
	Type        OrderEventType `json:"type"`
	OrderID     string         `json:"order_id"`
	OrderCode   string         `json:"order_code"`
	CustomerID  string         `json:"customer_id"`
	StoreID     string         `json:"store_id"`
	SupplierID  string         `json:"supplier_id"`
	From        OrderStatus    `json:"from,omitempty"`
	To          OrderStatus    `json:"to,omitempty"`
	Total       int64          `json:"total"`
	BonusPoints int64          `json:"bonus_points,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
	Decision    RequestStatus  `json:"decision,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// EventType names the event on the wire, outside the JSON body.
func (e OrderEvent) EventType() string { return string(e.Type) }

func NewOrderEvent(t OrderEventType, o *Order, at time.Time) OrderEvent {
	return OrderEvent{
		Type:       t,
		OrderID:    o.ID,
		OrderCode:  o.Code,
		CustomerID: o.CustomerID,
		StoreID:    o.StoreID,
		SupplierID: o.SupplierID,
		To:         o.Status,
		Total:      o.Total,
		Timestamp:  at,
	}
}
