package promotions

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/joao-fontenele/orderflow-settlement/internal/authz"
	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
	"github.com/joao-fontenele/orderflow-settlement/internal/httpx"
)

type Handler struct {
	ledger *Ledger
	logger *slog.Logger
}

func NewHandler(ledger *Ledger, logger *slog.Logger) *Handler {
	return &Handler{
		ledger: ledger,
		logger: logger,
	}
}

// HandlePreview answers GET /promotions/{code}/preview?amount=N.
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())
	if err := authz.Authorize(actor, authz.OpPreviewPromotion); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	amount, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
	if err != nil || amount < 0 {
		httpx.WriteDomainError(w, h.logger, domain.NewValidationError("amount must be a non-negative integer"))
		return
	}

	code := r.PathValue("code")
	quote, err := h.ledger.Validate(r.Context(), code, Customer{ID: actor.ID, Tier: actor.Tier}, amount)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, quote)
}
