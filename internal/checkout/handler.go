package checkout

import (
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/orderflow-settlement/internal/authz"
	"github.com/joao-fontenele/orderflow-settlement/internal/httpx"
)

const idempotencyHeader = "Idempotency-Key"

type Handler struct {
	orchestrator *Orchestrator
	logger       *slog.Logger
}

func NewHandler(orchestrator *Orchestrator, logger *slog.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())

	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	in.IdempotencyKey = r.Header.Get(idempotencyHeader)

	result, err := h.orchestrator.Checkout(r.Context(), actor, in)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, h.logger, status, result)
}
