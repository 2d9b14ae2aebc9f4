// Package loyalty credits customer bonus points in the external points
// ledger. Awards are best effort and keyed by order, so redelivery is safe.
package loyalty

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
)

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, client *http.Client) *Client {
	return &Client{
		baseURL: baseURL,
		client:  client,
	}
}

type awardRequest struct {
	CustomerID string `json:"customer_id"`
	OrderID    string `json:"order_id"`
	Points     int64  `json:"points"`
	Reason     string `json:"reason"`
}

func (c *Client) Award(ctx context.Context, customerID, orderID string, points int64) error {
	if points <= 0 {
		return nil
	}

	data, err := json.Marshal(awardRequest{
		CustomerID: customerID,
		OrderID:    orderID,
		Points:     points,
		Reason:     "order delivered",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/awards", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "delivery:"+orderID)

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.NewExternalError("loyalty ledger", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// 409 means this order's points were already awarded.
	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.NewExternalError("loyalty ledger", fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}
