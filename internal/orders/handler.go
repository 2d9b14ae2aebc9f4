package orders

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/joao-fontenele/orderflow-settlement/internal/authz"
	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
	"github.com/joao-fontenele/orderflow-settlement/internal/httpx"
)

type Handler struct {
	machine       *Machine
	webhookSecret string
	logger        *slog.Logger
}

func NewHandler(machine *Machine, webhookSecret string, logger *slog.Logger) *Handler {
	return &Handler{
		machine:       machine,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	status := domain.OrderStatus(r.URL.Query().Get("status"))

	orders, err := h.machine.List(r.Context(), actor, status, limit)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	httpx.WriteJSON(w, h.logger, http.StatusOK, orders)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())
	id := r.PathValue("id")

	order, err := h.machine.Get(r.Context(), actor, id)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())
	order, err := h.machine.Confirm(r.Context(), actor, r.PathValue("id"))
	h.respond(w, order, err)
}

func (h *Handler) HandlePrepare(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())
	order, err := h.machine.Prepare(r.Context(), actor, r.PathValue("id"))
	h.respond(w, order, err)
}

func (h *Handler) HandleShip(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())

	var req ShipInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	order, err := h.machine.Ship(r.Context(), actor, r.PathValue("id"), req)
	h.respond(w, order, err)
}

func (h *Handler) HandleDeliver(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())
	order, err := h.machine.Deliver(r.Context(), actor, r.PathValue("id"))
	h.respond(w, order, err)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())

	var req cancelRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteDomainError(w, h.logger, err)
			return
		}
	}

	order, err := h.machine.Cancel(r.Context(), actor, r.PathValue("id"), req.Reason)
	h.respond(w, order, err)
}

func (h *Handler) respond(w http.ResponseWriter, order *domain.Order, err error) {
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}

type paymentWebhook struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// HandlePaymentWebhook receives the gateway's success or failure verdict. It
// is authenticated by a shared secret rather than a bearer token.
func (h *Handler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get("X-Webhook-Secret")
	if h.webhookSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.webhookSecret)) != 1 {
		httpx.WriteError(w, h.logger, http.StatusUnauthorized, "invalid webhook secret")
		return
	}

	var req paymentWebhook
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	var succeeded bool
	switch req.Status {
	case "success":
		succeeded = true
	case "failure":
	default:
		httpx.WriteDomainError(w, h.logger, domain.NewValidationError("status must be success or failure"))
		return
	}
	if req.TransactionID == "" {
		httpx.WriteDomainError(w, h.logger, domain.NewValidationError("transaction_id is required"))
		return
	}

	order, err := h.machine.ApplyPaymentResult(r.Context(), req.TransactionID, succeeded)
	if err != nil {
		h.logger.Error("failed to apply payment result", "error", err, "transaction_id", req.TransactionID)
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	h.logger.Info("payment result applied", "order_id", order.ID, "transaction_id", req.TransactionID, "status", req.Status)
	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}
