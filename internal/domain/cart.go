package domain

import "time"

type CartLine struct {
	ID             string `json:"id"`
	StoreProductID string `json:"store_product_id"`
	Quantity       int    `json:"quantity"`
	UnitPrice      int64  `json:"unit_price"`
}

// Cart is the pre-order staging area for one (customer, store) pair. Its
// lines are copied into the order at checkout, never linked.
type Cart struct {
	ID         string     `json:"id"`
	CustomerID string     `json:"customer_id"`
	StoreID    string     `json:"store_id"`
	CreatedAt  time.Time  `json:"created_at"`
	Lines      []CartLine `json:"lines"`
}
