// Package payment talks to the external payment gateway. Calls happen before
// or after the order's locked section, never inside it.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
)

const dependency = "payment gateway"

type Gateway interface {
	CreateIntent(ctx context.Context, o *domain.Order) (string, error)
	Refund(ctx context.Context, p *domain.Payment) error
}

type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

var _ Gateway = (*HTTPGateway)(nil)

func NewHTTPGateway(baseURL string, client *http.Client) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		client:  client,
	}
}

type intentRequest struct {
	TransactionID string               `json:"transaction_id"`
	OrderCode     string               `json:"order_code"`
	Amount        int64                `json:"amount"`
	Method        domain.PaymentMethod `json:"method"`
}

type intentResponse struct {
	Reference string `json:"reference"`
}

// CreateIntent registers the order's payment with the gateway and returns
// the gateway's reference. The transaction id doubles as the idempotency
// key, so retrying is safe.
func (g *HTTPGateway) CreateIntent(ctx context.Context, o *domain.Order) (string, error) {
	body := intentRequest{
		TransactionID: o.Payment.TransactionID,
		OrderCode:     o.Code,
		Amount:        o.Total,
		Method:        o.Payment.Method,
	}

	var resp intentResponse
	if err := g.post(ctx, "/intents", o.Payment.TransactionID, body, &resp); err != nil {
		return "", err
	}
	if resp.Reference == "" {
		return "", domain.NewExternalError(dependency, fmt.Errorf("empty reference"))
	}
	return resp.Reference, nil
}

type refundRequest struct {
	TransactionID string `json:"transaction_id"`
	Reference     string `json:"reference,omitempty"`
	Amount        int64  `json:"amount"`
}

func (g *HTTPGateway) Refund(ctx context.Context, p *domain.Payment) error {
	body := refundRequest{
		TransactionID: p.TransactionID,
		Reference:     p.Reference,
		Amount:        p.Amount,
	}
	return g.post(ctx, "/refunds", "refund:"+p.TransactionID, body, nil)
}

func (g *HTTPGateway) post(ctx context.Context, path, idempotencyKey string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return domain.NewExternalError(dependency, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.NewExternalError(dependency, fmt.Errorf("%s returned status %d", path, resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewExternalError(dependency, fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}
