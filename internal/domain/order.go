package domain

import (
	"fmt"
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusPreparing OrderStatus = "PREPARING"
	OrderStatusShipping  OrderStatus = "SHIPPING"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCanceled  OrderStatus = "CANCELED"
)

// OrderStatuses lists every lifecycle state in declaration order.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusPreparing,
	OrderStatusShipping,
	OrderStatusDelivered,
	OrderStatusCanceled,
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCanceled
}

type PaymentMethod string

const (
	PaymentMethodCOD       PaymentMethod = "COD"
	PaymentMethodCard      PaymentMethod = "CARD"
	PaymentMethodWalletApp PaymentMethod = "WALLET_APP"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodCard, PaymentMethodWalletApp:
		return true
	}
	return false
}

// Online reports whether the method is captured by the payment gateway
// before the order may be confirmed.
func (m PaymentMethod) Online() bool {
	return m == PaymentMethodCard || m == PaymentMethodWalletApp
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusSuccess  PaymentStatus = "SUCCESS"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

type ShipmentStatus string

const (
	ShipmentStatusInTransit ShipmentStatus = "IN_TRANSIT"
	ShipmentStatusDelivered ShipmentStatus = "DELIVERED"
	ShipmentStatusCanceled  ShipmentStatus = "CANCELED"
)

type OrderDetail struct {
	ID             string `json:"id"`
	StoreProductID string `json:"store_product_id"`
	Quantity       int    `json:"quantity"`
	UnitAmount     int64  `json:"unit_amount"`
	Reviewable     bool   `json:"reviewable"`
}

func (d OrderDetail) Amount() int64 {
	return int64(d.Quantity) * d.UnitAmount
}

type Payment struct {
	ID            string        `json:"id"`
	OrderID       string        `json:"order_id"`
	TransactionID string        `json:"transaction_id"`
	Reference     string        `json:"reference,omitempty"`
	Method        PaymentMethod `json:"method"`
	Status        PaymentStatus `json:"status"`
	Amount        int64         `json:"amount"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Captured reports whether money has actually been taken from the customer.
func (p *Payment) Captured() bool {
	return p != nil && p.Status == PaymentStatusSuccess
}

type Shipment struct {
	ID             string         `json:"id"`
	OrderID        string         `json:"order_id"`
	TrackingNumber string         `json:"tracking_number"`
	Provider       string         `json:"provider"`
	Status         ShipmentStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
}

type Order struct {
	ID              string        `json:"id"`
	Code            string        `json:"code"`
	CustomerID      string        `json:"customer_id"`
	StoreID         string        `json:"store_id"`
	SupplierID      string        `json:"supplier_id"`
	Status          OrderStatus   `json:"status"`
	Subtotal        int64         `json:"subtotal"`
	Discount        int64         `json:"discount"`
	ShippingFee     int64         `json:"shipping_fee"`
	Total           int64         `json:"total"`
	IdempotencyKey  string        `json:"idempotency_key"`
	ShippingAddress string        `json:"shipping_address"`
	PromotionCode   string        `json:"promotion_code,omitempty"`
	BalanceReleased bool          `json:"balance_released"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	DeliveredAt     *time.Time    `json:"delivered_at,omitempty"`
	Details         []OrderDetail `json:"details"`
	Payment         *Payment      `json:"payment,omitempty"`
	Shipment        *Shipment     `json:"shipment,omitempty"`
}

// Price fills Subtotal and Total from the details, discount and shipping fee
// and checks the monetary invariant.
func (o *Order) Price() error {
	var subtotal int64
	for _, d := range o.Details {
		if d.Quantity <= 0 || d.UnitAmount < 0 {
			return NewValidationError(fmt.Sprintf("invalid line %s", d.StoreProductID))
		}
		subtotal += d.Amount()
	}
	o.Subtotal = subtotal
	o.Total = o.Subtotal - o.Discount + o.ShippingFee
	return o.CheckAmounts()
}

func (o *Order) CheckAmounts() error {
	if o.Discount < 0 || o.ShippingFee < 0 {
		return NewValidationError("discount and shipping fee must not be negative")
	}
	if o.Discount > o.Subtotal {
		return NewValidationError("discount exceeds subtotal")
	}
	if o.Total != o.Subtotal-o.Discount+o.ShippingFee || o.Total < 0 {
		return NewValidationError("order total does not match subtotal - discount + shipping fee")
	}
	return nil
}

// NewOrderCode builds the human readable ORD-YYYYMMDD-XXXXXXXX code.
func NewOrderCode(id string, createdAt time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("ORD-%s-%s", createdAt.UTC().Format("20060102"), suffix)
}
