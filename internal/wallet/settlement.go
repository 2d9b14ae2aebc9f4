package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
	"github.com/joao-fontenele/orderflow-settlement/internal/postgres"
)

// ReleaseReport summarises one ReleasePending run.
type ReleaseReport struct {
	Released int   `json:"released"`
	Skipped  int   `json:"skipped"`
	Failed   int   `json:"failed"`
	Amount   int64 `json:"amount"`
}

var errReleaseSkipped = errors.New("release skipped")

// ReleasePending moves the credit of every order delivered before now minus
// coolingOff from pending to available. Each order commits on its own, so a
// crash mid-batch never releases an order twice and one failing order does
// not stop the rest. Candidates are paged by (delivered_at, id), so orders
// that keep failing never hide the ones delivered after them.
func (l *Ledger) ReleasePending(ctx context.Context, coolingOff time.Duration, batchSize int) (ReleaseReport, error) {
	var report ReleaseReport
	if batchSize <= 0 {
		return report, domain.NewValidationError("release batch size must be positive")
	}

	cutoff := l.now().Add(-coolingOff)
	var cursor releaseCursor
	for {
		page, err := l.repo.ReleaseCandidates(ctx, cutoff, cursor, batchSize)
		if err != nil {
			return report, err
		}

		for _, c := range page {
			if err := ctx.Err(); err != nil {
				return report, err
			}

			amount, err := l.releaseOrder(ctx, c.orderID)
			switch {
			case errors.Is(err, errReleaseSkipped):
				report.Skipped++
			case err != nil:
				report.Failed++
				l.logger.Error("failed to release order credit", "error", err, "order_id", c.orderID)
			default:
				report.Released++
				report.Amount += amount
				l.metrics.Released(ctx, amount)
			}
		}

		if len(page) < batchSize {
			break
		}
		cursor = page[len(page)-1]
	}

	l.logger.Info("pending balances released",
		"released", report.Released,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"amount", report.Amount,
	)
	return report, nil
}

func (l *Ledger) releaseOrder(ctx context.Context, orderID string) (int64, error) {
	var amount int64

	err := postgres.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		repo := l.repo.WithTx(tx)

		target, err := repo.lockOrderForRelease(ctx, orderID)
		if err != nil {
			return err
		}
		if target == nil || target.released {
			return errReleaseSkipped
		}

		w, err := lockWallet(ctx, repo, target.supplierID)
		if err != nil {
			return err
		}
		if w.Status != domain.WalletStatusActive {
			return errReleaseSkipped
		}

		net, err := repo.NetCredited(ctx, target.supplierID, orderID)
		if err != nil {
			return err
		}
		if net > w.PendingBalance {
			return fmt.Errorf("order credit %d exceeds pending balance %d: %w", net, w.PendingBalance, domain.ErrInsufficientBalance)
		}

		if net > 0 {
			w.PendingBalance -= net
			w.AvailableBalance += net
			w.UpdatedAt = l.now()
			if err := repo.SaveBalances(ctx, w); err != nil {
				return err
			}
		}

		amount = net
		return repo.markReleased(ctx, orderID)
	})

	return amount, err
}

// PayoutReport summarises one MonthlyPayout run.
type PayoutReport struct {
	Paid   int   `json:"paid"`
	Failed int   `json:"failed"`
	Amount int64 `json:"amount"`
}

// MonthlyPayout records a PAYOUT for every ACTIVE wallet with an available
// balance. It only records the settlement; moving money happens elsewhere.
func (l *Ledger) MonthlyPayout(ctx context.Context, note string) (PayoutReport, error) {
	var report PayoutReport

	supplierIDs, err := l.repo.ListPayable(ctx)
	if err != nil {
		return report, err
	}

	for _, supplierID := range supplierIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		tx, err := l.Payout(ctx, supplierID, note)
		switch {
		case errors.Is(err, domain.ErrInsufficientBalance), errors.Is(err, domain.ErrWalletSuspended):
			// Drained or suspended since the listing.
		case err != nil:
			report.Failed++
			l.logger.Error("failed to record payout", "error", err, "supplier_id", supplierID)
		default:
			report.Paid++
			report.Amount += -tx.Amount
		}
	}

	l.logger.Info("monthly payout recorded", "paid", report.Paid, "failed", report.Failed, "amount", report.Amount)
	return report, nil
}

// Payout zeroes one wallet's available balance with a PAYOUT transaction
// and resets its monthly earnings.
func (l *Ledger) Payout(ctx context.Context, supplierID, note string) (*domain.WalletTransaction, error) {
	var payout *domain.WalletTransaction

	err := postgres.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		repo := l.repo.WithTx(tx)

		w, err := lockWallet(ctx, repo, supplierID)
		if err != nil {
			return err
		}
		if w.Status != domain.WalletStatusActive {
			return domain.ErrWalletSuspended
		}
		if w.AvailableBalance <= 0 {
			return domain.ErrInsufficientBalance
		}

		amount := w.AvailableBalance
		w.AvailableBalance = 0
		w.MonthlyEarnings = 0
		w.UpdatedAt = l.now()

		if err := repo.SaveBalances(ctx, w); err != nil {
			return err
		}

		payout = &domain.WalletTransaction{
			ID:        uuid.New().String(),
			WalletID:  w.ID,
			Type:      domain.TransactionPayout,
			Amount:    -amount,
			Note:      note,
			CreatedAt: w.UpdatedAt,
		}
		return repo.InsertTransaction(ctx, payout)
	})
	if err != nil {
		return nil, err
	}

	l.metrics.Payout(ctx)
	l.logger.Info("payout recorded", "supplier_id", supplierID, "amount", -payout.Amount)
	return payout, nil
}
