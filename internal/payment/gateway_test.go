package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
)

func testOrder() *domain.Order {
	return &domain.Order{
		ID:    "order-1",
		Code:  "ORD-20260310-ABCDEF12",
		Total: 90000,
		Payment: &domain.Payment{
			TransactionID: "txn-1",
			Method:        domain.PaymentMethodCard,
			Amount:        90000,
		},
	}
}

func TestHTTPGateway_CreateIntent(t *testing.T) {
	t.Run("returns the gateway reference", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/intents", r.URL.Path)
			assert.Equal(t, "txn-1", r.Header.Get("Idempotency-Key"))

			var body intentRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, int64(90000), body.Amount)
			assert.Equal(t, domain.PaymentMethodCard, body.Method)

			_ = json.NewEncoder(w).Encode(intentResponse{Reference: "pi_123"})
		}))
		defer server.Close()

		ref, err := NewHTTPGateway(server.URL, server.Client()).CreateIntent(context.Background(), testOrder())
		require.NoError(t, err)
		assert.Equal(t, "pi_123", ref)
	})

	t.Run("wraps non-2xx responses as external dependency errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		_, err := NewHTTPGateway(server.URL, server.Client()).CreateIntent(context.Background(), testOrder())
		assert.ErrorIs(t, err, domain.ErrExternalDependency)
		assert.ErrorContains(t, err, "status 503")
	})
}

func TestHTTPGateway_Refund(t *testing.T) {
	var got refundRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refunds", r.URL.Path)
		assert.Equal(t, "refund:txn-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	p := testOrder().Payment
	p.Reference = "pi_123"

	err := NewHTTPGateway(server.URL, server.Client()).Refund(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, refundRequest{TransactionID: "txn-1", Reference: "pi_123", Amount: 90000}, got)
}
