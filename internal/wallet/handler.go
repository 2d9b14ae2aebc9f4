package wallet

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/joao-fontenele/orderflow-settlement/internal/authz"
	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
	"github.com/joao-fontenele/orderflow-settlement/internal/httpx"
)

type Handler struct {
	ledger     *Ledger
	coolingOff time.Duration
	batchSize  int
	logger     *slog.Logger
}

func NewHandler(ledger *Ledger, coolingOff time.Duration, batchSize int, logger *slog.Logger) *Handler {
	return &Handler{
		ledger:     ledger,
		coolingOff: coolingOff,
		batchSize:  batchSize,
		logger:     logger,
	}
}

// authorizeWallet lets admins through and suppliers only onto their own
// wallet.
func authorizeWallet(r *http.Request, op authz.Operation) (authz.Actor, string, error) {
	actor, _ := authz.FromContext(r.Context())
	if err := authz.Authorize(actor, op); err != nil {
		return actor, "", err
	}

	supplierID := r.PathValue("supplierId")
	if actor.Is(authz.RoleSupplier) && actor.ID != supplierID {
		return actor, "", domain.NewForbiddenError("suppliers may only access their own wallet")
	}
	return actor, supplierID, nil
}

type createWalletRequest struct {
	SupplierID string `json:"supplier_id"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())
	if err := authz.Authorize(actor, authz.OpManageWallet); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	var req createWalletRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	wallet, err := h.ledger.CreateWallet(r.Context(), req.SupplierID)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusCreated, wallet)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	_, supplierID, err := authorizeWallet(r, authz.OpViewWallet)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	wallet, err := h.ledger.Get(r.Context(), supplierID)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, wallet)
}

func (h *Handler) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	_, supplierID, err := authorizeWallet(r, authz.OpViewWallet)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txs, err := h.ledger.Transactions(r.Context(), supplierID, limit)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, txs)
}

func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	_, supplierID, err := authorizeWallet(r, authz.OpViewWallet)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	rec, err := h.ledger.Reconcile(r.Context(), supplierID)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	if !rec.Balanced {
		h.logger.Warn("wallet does not reconcile", "supplier_id", supplierID,
			"pending", rec.Pending, "available", rec.Available,
			"payouts", rec.Payouts, "credited", rec.Credited)
	}
	httpx.WriteJSON(w, h.logger, http.StatusOK, rec)
}

type statusRequest struct {
	Status domain.WalletStatus `json:"status"`
}

func (h *Handler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	_, supplierID, err := authorizeWallet(r, authz.OpManageWallet)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	if err := h.ledger.SetStatus(r.Context(), supplierID, req.Status); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type adjustmentRequest struct {
	Amount int64  `json:"amount"`
	Note   string `json:"note"`
}

func (h *Handler) HandleAdjust(w http.ResponseWriter, r *http.Request) {
	_, supplierID, err := authorizeWallet(r, authz.OpManageWallet)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	wallet, err := h.ledger.ManualAdjustment(r.Context(), supplierID, req.Amount, req.Note)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, wallet)
}

type payoutRequest struct {
	Note string `json:"note"`
}

func (h *Handler) HandlePayout(w http.ResponseWriter, r *http.Request) {
	_, supplierID, err := authorizeWallet(r, authz.OpRunPayout)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	var req payoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	payout, err := h.ledger.Payout(r.Context(), supplierID, req.Note)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusCreated, payout)
}

func (h *Handler) HandleMonthlyPayout(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())
	if err := authz.Authorize(actor, authz.OpRunPayout); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	var req payoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	if req.Note == "" {
		req.Note = "monthly payout " + time.Now().UTC().Format("2006-01")
	}

	report, err := h.ledger.MonthlyPayout(r.Context(), req.Note)
	if err != nil {
		h.logger.Error("failed to run monthly payout", "error", err)
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, report)
}

func (h *Handler) HandleRelease(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())
	if err := authz.Authorize(actor, authz.OpReleaseSettlement); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	report, err := h.ledger.ReleasePending(r.Context(), h.coolingOff, h.batchSize)
	if err != nil {
		h.logger.Error("failed to release pending balances", "error", err)
		httpx.WriteDomainError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, report)
}
