package inventory

import (
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/orderflow-settlement/internal/authz"
	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
	"github.com/joao-fontenele/orderflow-settlement/internal/httpx"
)

type Handler struct {
	repo   *Repository
	logger *slog.Logger
}

func NewHandler(repo *Repository, logger *slog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

func (h *Handler) HandleListStore(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())
	if err := authz.Authorize(actor, authz.OpViewInventory); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	storeID := r.PathValue("storeId")
	products, err := h.repo.ListByStore(r.Context(), storeID)
	if err != nil {
		h.logger.Error("failed to list store products", "error", err, "store_id", storeID)
		httpx.WriteError(w, h.logger, http.StatusInternalServerError, "internal server error")
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, products)
}

func (h *Handler) HandleGetProduct(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())
	if err := authz.Authorize(actor, authz.OpViewInventory); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	productID := r.PathValue("productId")
	product, err := h.repo.Get(r.Context(), productID)
	if err != nil {
		h.logger.Error("failed to get store product", "error", err, "product_id", productID)
		httpx.WriteError(w, h.logger, http.StatusInternalServerError, "internal server error")
		return
	}

	if product == nil {
		httpx.WriteDomainError(w, h.logger, domain.ErrProductNotFound)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, product)
}
