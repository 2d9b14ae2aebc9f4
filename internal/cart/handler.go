package cart

import (
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/orderflow-settlement/internal/authz"
	"github.com/joao-fontenele/orderflow-settlement/internal/httpx"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) HandleGetForStore(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())

	c, err := h.service.GetOrCreate(r.Context(), actor, r.PathValue("storeId"))
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, c)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())

	c, err := h.service.Get(r.Context(), actor, r.PathValue("cartId"))
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, c)
}

type addItemRequest struct {
	StoreProductID string `json:"store_product_id"`
	Quantity       int    `json:"quantity"`
}

func (h *Handler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())

	var req addItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	c, err := h.service.AddItem(r.Context(), actor, req.StoreProductID, req.Quantity)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	h.logger.Info("cart item added", "cart_id", c.ID, "store_product_id", req.StoreProductID, "quantity", req.Quantity)
	httpx.WriteJSON(w, h.logger, http.StatusOK, c)
}

func (h *Handler) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())

	c, err := h.service.RemoveItem(r.Context(), actor, r.PathValue("cartId"), r.PathValue("productId"))
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, c)
}

func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())

	if err := h.service.Clear(r.Context(), actor, r.PathValue("cartId")); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
