package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/orderflow-settlement/internal/authz"
	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", domain.ErrPromotionExpired, http.StatusBadRequest},
		{"not found", domain.ErrOrderNotFound, http.StatusNotFound},
		{"conflict", domain.ErrPromotionLimitReached, http.StatusConflict},
		{"transition", &domain.TransitionError{From: domain.OrderStatusDelivered, To: domain.OrderStatusCanceled}, http.StatusConflict},
		{"forbidden", domain.NewForbiddenError("nope"), http.StatusForbidden},
		{"external", domain.NewExternalError("payment gateway", errors.New("timeout")), http.StatusBadGateway},
		{"wrapped", fmt.Errorf("checkout: %w", domain.ErrInsufficientStock), http.StatusConflict},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestWriteDomainError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("reports specific code", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteDomainError(rec, logger, domain.ErrPromotionLimitReached)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "promotion_limit_reached", body["code"])
		assert.Equal(t, "promotion usage limit reached", body["error"])
	})

	t.Run("hides internal errors", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteDomainError(rec, logger, errors.New("pq: connection refused"))

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "internal server error", body["error"])
	})
}

func TestRateLimiter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rl := NewRateLimiter(2, logger)

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(actorID string) int {
		req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
		req = req.WithContext(authz.WithActor(req.Context(), authz.Actor{Role: authz.RoleCustomer, ID: actorID}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("cust-1"))
	assert.Equal(t, http.StatusOK, call("cust-1"))
	assert.Equal(t, http.StatusTooManyRequests, call("cust-1"))
	assert.Equal(t, http.StatusOK, call("cust-2"))
}
