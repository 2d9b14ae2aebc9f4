// Package wallet keeps each supplier's pending and available balances and
// the append-only transaction log that explains them.
package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
	"github.com/joao-fontenele/orderflow-settlement/internal/postgres"
	"github.com/joao-fontenele/orderflow-settlement/internal/telemetry"
)

type Ledger struct {
	db      *sql.DB
	repo    *Repository
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewLedger(db *sql.DB, metrics *telemetry.Metrics, logger *slog.Logger) *Ledger {
	return &Ledger{
		db:      db,
		repo:    NewRepository(db),
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// CreditPending records an order's earning and adds it to the pending
// balance. It runs inside the delivery transaction; that transaction's order
// row lock is what keeps it to once per order.
func (l *Ledger) CreditPending(ctx context.Context, tx *sql.Tx, supplierID, orderID string, amount int64, note string) error {
	if amount <= 0 {
		return domain.NewValidationError("credit amount must be positive")
	}

	repo := l.repo.WithTx(tx)
	w, err := lockWallet(ctx, repo, supplierID)
	if err != nil {
		return err
	}

	w.PendingBalance += amount
	w.MonthlyEarnings += amount

	return l.record(ctx, repo, w, domain.TransactionEarning, amount, orderID, note)
}

// Refund takes amount back out of the pending bucket when fromPending is set
// and the available bucket otherwise. Neither bucket may go negative.
func (l *Ledger) Refund(ctx context.Context, tx *sql.Tx, supplierID, orderID string, amount int64, fromPending bool, note string) error {
	if amount <= 0 {
		return domain.NewValidationError("refund amount must be positive")
	}

	repo := l.repo.WithTx(tx)
	w, err := lockWallet(ctx, repo, supplierID)
	if err != nil {
		return err
	}

	return l.refund(ctx, repo, w, orderID, amount, fromPending, note)
}

// RefundOrder refunds whatever the supplier still holds for o. The caller
// must hold o's row lock, so o.BalanceReleased decides the bucket without
// racing ReleasePending, and no other writer can touch o's credit. Orders
// that were never delivered were never credited and leave the wallet alone.
func (l *Ledger) RefundOrder(ctx context.Context, tx *sql.Tx, o *domain.Order, note string) (int64, error) {
	if o.DeliveredAt == nil {
		return 0, nil
	}

	net, err := l.repo.WithTx(tx).NetCredited(ctx, o.SupplierID, o.ID)
	if err != nil {
		return 0, err
	}
	if net <= 0 {
		return 0, nil
	}

	if err := l.Refund(ctx, tx, o.SupplierID, o.ID, net, !o.BalanceReleased, note); err != nil {
		return 0, err
	}
	return net, nil
}

func (l *Ledger) refund(ctx context.Context, repo *Repository, w *domain.SupplierWallet, orderID string, amount int64, fromPending bool, note string) error {
	if fromPending {
		if w.PendingBalance < amount {
			return domain.ErrInsufficientBalance
		}
		w.PendingBalance -= amount
	} else {
		if w.AvailableBalance < amount {
			return domain.ErrInsufficientBalance
		}
		w.AvailableBalance -= amount
	}
	w.MonthlyEarnings = max(0, w.MonthlyEarnings-amount)

	return l.record(ctx, repo, w, domain.TransactionRefund, -amount, orderID, note)
}

// ManualAdjustment credits (positive) or debits (negative) the available
// balance with an explanatory note.
func (l *Ledger) ManualAdjustment(ctx context.Context, supplierID string, amount int64, note string) (*domain.SupplierWallet, error) {
	if amount == 0 {
		return nil, domain.NewValidationError("adjustment amount must not be zero")
	}
	if note == "" {
		return nil, domain.NewValidationError("adjustment note is required")
	}

	var w *domain.SupplierWallet
	err := postgres.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		repo := l.repo.WithTx(tx)

		var err error
		w, err = lockWallet(ctx, repo, supplierID)
		if err != nil {
			return err
		}
		if w.AvailableBalance+amount < 0 {
			return domain.ErrInsufficientBalance
		}
		w.AvailableBalance += amount

		return l.record(ctx, repo, w, domain.TransactionManualAdjustment, amount, "", note)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("wallet adjusted", "supplier_id", supplierID, "amount", amount)
	return w, nil
}

func (l *Ledger) record(ctx context.Context, repo *Repository, w *domain.SupplierWallet, typ domain.TransactionType, amount int64, orderID, note string) error {
	now := l.now()
	w.UpdatedAt = now

	if err := repo.SaveBalances(ctx, w); err != nil {
		return err
	}

	return repo.InsertTransaction(ctx, &domain.WalletTransaction{
		ID:        uuid.New().String(),
		WalletID:  w.ID,
		Type:      typ,
		Amount:    amount,
		OrderID:   orderID,
		Note:      note,
		CreatedAt: now,
	})
}

func lockWallet(ctx context.Context, repo *Repository, supplierID string) (*domain.SupplierWallet, error) {
	w, err := repo.GetBySupplierForUpdate(ctx, supplierID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("supplier %s: %w", supplierID, domain.ErrWalletNotFound)
	}
	return w, nil
}

func (l *Ledger) CreateWallet(ctx context.Context, supplierID string) (*domain.SupplierWallet, error) {
	if supplierID == "" {
		return nil, domain.NewValidationError("supplier_id is required")
	}

	now := l.now()
	w := &domain.SupplierWallet{
		ID:         uuid.New().String(),
		SupplierID: supplierID,
		Status:     domain.WalletStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := l.repo.Create(ctx, w); err != nil {
		return nil, err
	}

	l.logger.Info("wallet created", "supplier_id", supplierID, "wallet_id", w.ID)
	return w, nil
}

func (l *Ledger) SetStatus(ctx context.Context, supplierID string, status domain.WalletStatus) error {
	if status != domain.WalletStatusActive && status != domain.WalletStatusSuspended {
		return domain.NewValidationError(fmt.Sprintf("unknown wallet status %q", status))
	}

	ok, err := l.repo.SetStatus(ctx, supplierID, status)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrWalletNotFound
	}

	l.logger.Info("wallet status changed", "supplier_id", supplierID, "status", status)
	return nil
}

func (l *Ledger) Get(ctx context.Context, supplierID string) (*domain.SupplierWallet, error) {
	w, err := l.repo.GetBySupplier(ctx, supplierID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, domain.ErrWalletNotFound
	}
	return w, nil
}

func (l *Ledger) Transactions(ctx context.Context, supplierID string, limit int) ([]domain.WalletTransaction, error) {
	w, err := l.Get(ctx, supplierID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return l.repo.ListTransactions(ctx, w.ID, limit)
}

// Reconciliation compares a wallet's balances with its transaction log.
// Balanced holds when Pending + Available - Payouts == Credited.
type Reconciliation struct {
	SupplierID string `json:"supplier_id"`
	Pending    int64  `json:"pending_balance"`
	Available  int64  `json:"available_balance"`
	Payouts    int64  `json:"payouts"`
	Credited   int64  `json:"credited"`
	Balanced   bool   `json:"balanced"`
}

func (l *Ledger) Reconcile(ctx context.Context, supplierID string) (*Reconciliation, error) {
	var rec *Reconciliation
	err := postgres.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		repo := l.repo.WithTx(tx)

		w, err := lockWallet(ctx, repo, supplierID)
		if err != nil {
			return err
		}
		sums, err := repo.SumByType(ctx, w.ID)
		if err != nil {
			return err
		}

		rec = &Reconciliation{
			SupplierID: supplierID,
			Pending:    w.PendingBalance,
			Available:  w.AvailableBalance,
			Payouts:    sums[domain.TransactionPayout],
			Credited: sums[domain.TransactionEarning] +
				sums[domain.TransactionRefund] +
				sums[domain.TransactionManualAdjustment],
		}
		rec.Balanced = rec.Pending+rec.Available-rec.Payouts == rec.Credited
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}
