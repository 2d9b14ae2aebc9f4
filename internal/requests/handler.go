package requests

import (
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/orderflow-settlement/internal/authz"
	"github.com/joao-fontenele/orderflow-settlement/internal/httpx"
)

type Handler struct {
	workflow *Workflow
	logger   *slog.Logger
}

func NewHandler(workflow *Workflow, logger *slog.Logger) *Handler {
	return &Handler{
		workflow: workflow,
		logger:   logger,
	}
}

func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())

	var in SubmitInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	req, err := h.workflow.Submit(r.Context(), actor, r.PathValue("id"), in)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusCreated, req)
}

func (h *Handler) HandleListForOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())

	list, err := h.workflow.ListForOrder(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, list)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())

	req, err := h.workflow.Get(r.Context(), actor, r.PathValue("requestId"))
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, req)
}

func (h *Handler) HandleReview(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())

	var d Decision
	if err := httpx.DecodeJSON(r, &d); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	req, err := h.workflow.Review(r.Context(), actor, r.PathValue("requestId"), d)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, req)
}
