package wallet

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

const (
	lockWalletQuery = `FROM supplier_wallets\s+WHERE supplier_id = \$1 FOR UPDATE`
	saveBalances    = `UPDATE supplier_wallets\s+SET pending_balance = \$2`
	insertTx        = `INSERT INTO wallet_transactions`
	netCredited     = `SELECT COALESCE\(SUM\(t.amount\), 0\)\s+FROM wallet_transactions t\s+JOIN supplier_wallets w ON w.id = t.wallet_id\s+WHERE w.supplier_id = \$1 AND t.order_id = \$2`
	lockOrder       = `SELECT supplier_id, balance_released\s+FROM orders\s+WHERE id = \$1\s+FOR UPDATE`
	markReleased    = `UPDATE orders SET balance_released = TRUE`
)

var walletColumns = []string{
	"id", "supplier_id", "pending_balance", "available_balance", "monthly_earnings",
	"status", "created_at", "updated_at",
}

func walletRow(pending, available int64, status domain.WalletStatus) *sqlmock.Rows {
	return sqlmock.NewRows(walletColumns).
		AddRow("wallet-1", "sup-1", pending, available, pending, string(status), testNow, testNow)
}

func newTestLedger(t *testing.T) (*Ledger, *sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	l := NewLedger(db, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	l.now = func() time.Time { return testNow }
	return l, db, mock
}

func inTx(t *testing.T, db *sql.DB, mock sqlmock.Sqlmock) *sql.Tx {
	t.Helper()
	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })
	return tx
}

func TestLedger_CreditPending(t *testing.T) {
	t.Run("adds an earning to the pending balance", func(t *testing.T) {
		l, db, mock := newTestLedger(t)
		tx := inTx(t, db, mock)

		mock.ExpectQuery(lockWalletQuery).WithArgs("sup-1").WillReturnRows(walletRow(1000, 0, domain.WalletStatusActive))
		mock.ExpectExec(saveBalances).
			WithArgs("wallet-1", int64(91000), int64(0), int64(91000), testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insertTx).
			WithArgs(sqlmock.AnyArg(), "wallet-1", domain.TransactionEarning, int64(90000), sqlmock.AnyArg(), "order delivered", testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := l.CreditPending(context.Background(), tx, "sup-1", "order-1", 90000, "order delivered")
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fails when the supplier has no wallet", func(t *testing.T) {
		l, db, mock := newTestLedger(t)
		tx := inTx(t, db, mock)

		mock.ExpectQuery(lockWalletQuery).WithArgs("sup-1").WillReturnRows(sqlmock.NewRows(walletColumns))

		err := l.CreditPending(context.Background(), tx, "sup-1", "order-1", 90000, "")
		assert.ErrorIs(t, err, domain.ErrWalletNotFound)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		l, db, mock := newTestLedger(t)
		tx := inTx(t, db, mock)

		err := l.CreditPending(context.Background(), tx, "sup-1", "order-1", 0, "")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestLedger_Refund(t *testing.T) {
	t.Run("takes the amount out of pending", func(t *testing.T) {
		l, db, mock := newTestLedger(t)
		tx := inTx(t, db, mock)

		mock.ExpectQuery(lockWalletQuery).WithArgs("sup-1").WillReturnRows(walletRow(90000, 5000, domain.WalletStatusActive))
		mock.ExpectExec(saveBalances).
			WithArgs("wallet-1", int64(60000), int64(5000), int64(60000), testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insertTx).
			WithArgs(sqlmock.AnyArg(), "wallet-1", domain.TransactionRefund, int64(-30000), sqlmock.AnyArg(), "partial return", testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := l.Refund(context.Background(), tx, "sup-1", "order-1", 30000, true, "partial return")
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("takes the amount out of available", func(t *testing.T) {
		l, db, mock := newTestLedger(t)
		tx := inTx(t, db, mock)

		mock.ExpectQuery(lockWalletQuery).WithArgs("sup-1").WillReturnRows(walletRow(500, 90000, domain.WalletStatusActive))
		mock.ExpectExec(saveBalances).
			WithArgs("wallet-1", int64(500), int64(60000), int64(0), testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insertTx).
			WithArgs(sqlmock.AnyArg(), "wallet-1", domain.TransactionRefund, int64(-30000), sqlmock.AnyArg(), "", testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := l.Refund(context.Background(), tx, "sup-1", "order-1", 30000, false, "")
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fails without writing when the chosen bucket is short", func(t *testing.T) {
		l, db, mock := newTestLedger(t)
		tx := inTx(t, db, mock)

		mock.ExpectQuery(lockWalletQuery).WithArgs("sup-1").WillReturnRows(walletRow(100, 90000, domain.WalletStatusActive))

		err := l.Refund(context.Background(), tx, "sup-1", "order-1", 30000, true, "")
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		l, db, mock := newTestLedger(t)
		tx := inTx(t, db, mock)

		err := l.Refund(context.Background(), tx, "sup-1", "order-1", 0, true, "")
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedger_RefundOrder(t *testing.T) {
	deliveredAt := testNow.Add(-time.Hour)
	order := func(released bool) *domain.Order {
		return &domain.Order{ID: "order-1", SupplierID: "sup-1", BalanceReleased: released, DeliveredAt: &deliveredAt}
	}
	sum := func(v int64) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"sum"}).AddRow(v)
	}

	t.Run("refunds from pending before release", func(t *testing.T) {
		l, db, mock := newTestLedger(t)
		tx := inTx(t, db, mock)

		mock.ExpectQuery(netCredited).WithArgs("sup-1", "order-1").WillReturnRows(sum(90000))
		mock.ExpectQuery(lockWalletQuery).WithArgs("sup-1").WillReturnRows(walletRow(90000, 5000, domain.WalletStatusActive))
		mock.ExpectExec(saveBalances).
			WithArgs("wallet-1", int64(0), int64(5000), int64(0), testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insertTx).
			WithArgs(sqlmock.AnyArg(), "wallet-1", domain.TransactionRefund, int64(-90000), sqlmock.AnyArg(), "return approved", testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		refunded, err := l.RefundOrder(context.Background(), tx, order(false), "return approved")
		require.NoError(t, err)
		assert.Equal(t, int64(90000), refunded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refunds from available after release", func(t *testing.T) {
		l, db, mock := newTestLedger(t)
		tx := inTx(t, db, mock)

		mock.ExpectQuery(netCredited).WithArgs("sup-1", "order-1").WillReturnRows(sum(90000))
		mock.ExpectQuery(lockWalletQuery).WithArgs("sup-1").WillReturnRows(walletRow(0, 90000, domain.WalletStatusActive))
		mock.ExpectExec(saveBalances).
			WithArgs("wallet-1", int64(0), int64(0), int64(0), testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insertTx).WillReturnResult(sqlmock.NewResult(0, 1))

		refunded, err := l.RefundOrder(context.Background(), tx, order(true), "return approved")
		require.NoError(t, err)
		assert.Equal(t, int64(90000), refunded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("leaves the wallet alone when nothing is left to take back", func(t *testing.T) {
		l, db, mock := newTestLedger(t)
		tx := inTx(t, db, mock)

		mock.ExpectQuery(netCredited).WithArgs("sup-1", "order-1").WillReturnRows(sum(0))

		refunded, err := l.RefundOrder(context.Background(), tx, order(false), "")
		require.NoError(t, err)
		assert.Zero(t, refunded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("skips undelivered orders without touching any wallet", func(t *testing.T) {
		l, db, mock := newTestLedger(t)
		tx := inTx(t, db, mock)

		refunded, err := l.RefundOrder(context.Background(), tx, &domain.Order{ID: "order-1", SupplierID: "sup-1"}, "")
		require.NoError(t, err)
		assert.Zero(t, refunded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fails without writing when the bucket is short", func(t *testing.T) {
		l, db, mock := newTestLedger(t)
		tx := inTx(t, db, mock)

		mock.ExpectQuery(netCredited).WithArgs("sup-1", "order-1").WillReturnRows(sum(90000))
		mock.ExpectQuery(lockWalletQuery).WithArgs("sup-1").WillReturnRows(walletRow(0, 1000, domain.WalletStatusActive))

		_, err := l.RefundOrder(context.Background(), tx, order(true), "")
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedger_ReleasePending(t *testing.T) {
	candidates := `SELECT o.id, o.delivered_at\s+FROM orders o\s+JOIN supplier_wallets w`
	delivered := testNow.Add(-200 * time.Hour)
	page := func(ids ...string) *sqlmock.Rows {
		rows := sqlmock.NewRows([]string{"id", "delivered_at"})
		for _, id := range ids {
			rows.AddRow(id, delivered)
		}
		return rows
	}

	t.Run("moves each eligible order once and skips released ones", func(t *testing.T) {
		l, _, mock := newTestLedger(t)

		mock.ExpectQuery(candidates).WithArgs(testNow.Add(-168*time.Hour), time.Time{}, "", 10).
			WillReturnRows(page("order-1", "order-2"))

		mock.ExpectBegin()
		mock.ExpectQuery(lockOrder).WithArgs("order-1").
			WillReturnRows(sqlmock.NewRows([]string{"supplier_id", "balance_released"}).AddRow("sup-1", false))
		mock.ExpectQuery(lockWalletQuery).WithArgs("sup-1").WillReturnRows(walletRow(90000, 0, domain.WalletStatusActive))
		mock.ExpectQuery(netCredited).WithArgs("sup-1", "order-1").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(90000)))
		mock.ExpectExec(saveBalances).
			WithArgs("wallet-1", int64(0), int64(90000), int64(90000), testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(markReleased).WithArgs("order-1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		mock.ExpectBegin()
		mock.ExpectQuery(lockOrder).WithArgs("order-2").
			WillReturnRows(sqlmock.NewRows([]string{"supplier_id", "balance_released"}).AddRow("sup-1", true))
		mock.ExpectRollback()

		report, err := l.ReleasePending(context.Background(), 168*time.Hour, 10)
		require.NoError(t, err)
		assert.Equal(t, ReleaseReport{Released: 1, Skipped: 1, Amount: 90000}, report)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("keeps going after one order fails", func(t *testing.T) {
		l, _, mock := newTestLedger(t)

		mock.ExpectQuery(candidates).
			WillReturnRows(page("order-1", "order-2"))

		mock.ExpectBegin()
		mock.ExpectQuery(lockOrder).WithArgs("order-1").
			WillReturnRows(sqlmock.NewRows([]string{"supplier_id", "balance_released"}).AddRow("sup-1", false))
		mock.ExpectQuery(lockWalletQuery).WithArgs("sup-1").WillReturnRows(walletRow(100, 0, domain.WalletStatusActive))
		mock.ExpectQuery(netCredited).WithArgs("sup-1", "order-1").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(90000)))
		mock.ExpectRollback()

		mock.ExpectBegin()
		mock.ExpectQuery(lockOrder).WithArgs("order-2").
			WillReturnRows(sqlmock.NewRows([]string{"supplier_id", "balance_released"}).AddRow("sup-1", false))
		mock.ExpectQuery(lockWalletQuery).WithArgs("sup-1").WillReturnRows(walletRow(100, 0, domain.WalletStatusActive))
		mock.ExpectQuery(netCredited).WithArgs("sup-1", "order-2").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(100)))
		mock.ExpectExec(saveBalances).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(markReleased).WithArgs("order-2").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		report, err := l.ReleasePending(context.Background(), time.Hour, 10)
		require.NoError(t, err)
		assert.Equal(t, ReleaseReport{Released: 1, Failed: 1, Amount: 100}, report)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("pages past an order that keeps failing", func(t *testing.T) {
		l, _, mock := newTestLedger(t)

		mock.ExpectQuery(candidates).WithArgs(sqlmock.AnyArg(), time.Time{}, "", 1).
			WillReturnRows(page("order-1"))
		mock.ExpectBegin()
		mock.ExpectQuery(lockOrder).WithArgs("order-1").
			WillReturnRows(sqlmock.NewRows([]string{"supplier_id", "balance_released"}).AddRow("sup-1", false))
		mock.ExpectQuery(lockWalletQuery).WithArgs("sup-1").WillReturnRows(walletRow(100, 0, domain.WalletStatusActive))
		mock.ExpectQuery(netCredited).WithArgs("sup-1", "order-1").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(90000)))
		mock.ExpectRollback()

		mock.ExpectQuery(candidates).WithArgs(sqlmock.AnyArg(), delivered, "order-1", 1).
			WillReturnRows(page("order-2"))
		mock.ExpectBegin()
		mock.ExpectQuery(lockOrder).WithArgs("order-2").
			WillReturnRows(sqlmock.NewRows([]string{"supplier_id", "balance_released"}).AddRow("sup-1", false))
		mock.ExpectQuery(lockWalletQuery).WithArgs("sup-1").WillReturnRows(walletRow(100, 0, domain.WalletStatusActive))
		mock.ExpectQuery(netCredited).WithArgs("sup-1", "order-2").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(100)))
		mock.ExpectExec(saveBalances).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(markReleased).WithArgs("order-2").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		mock.ExpectQuery(candidates).WithArgs(sqlmock.AnyArg(), delivered, "order-2", 1).
			WillReturnRows(page())

		report, err := l.ReleasePending(context.Background(), time.Hour, 1)
		require.NoError(t, err)
		assert.Equal(t, ReleaseReport{Released: 1, Failed: 1, Amount: 100}, report)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects a non-positive batch size", func(t *testing.T) {
		l, _, mock := newTestLedger(t)

		_, err := l.ReleasePending(context.Background(), time.Hour, 0)
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedger_Payout(t *testing.T) {
	t.Run("records a negative payout and zeroes available", func(t *testing.T) {
		l, _, mock := newTestLedger(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockWalletQuery).WithArgs("sup-1").WillReturnRows(walletRow(500, 90000, domain.WalletStatusActive))
		mock.ExpectExec(saveBalances).
			WithArgs("wallet-1", int64(500), int64(0), int64(0), testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insertTx).
			WithArgs(sqlmock.AnyArg(), "wallet-1", domain.TransactionPayout, int64(-90000), sqlmock.AnyArg(), "march", testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		payout, err := l.Payout(context.Background(), "sup-1", "march")
		require.NoError(t, err)
		assert.Equal(t, int64(-90000), payout.Amount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refuses suspended wallets", func(t *testing.T) {
		l, _, mock := newTestLedger(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockWalletQuery).WithArgs("sup-1").WillReturnRows(walletRow(0, 90000, domain.WalletStatusSuspended))
		mock.ExpectRollback()

		_, err := l.Payout(context.Background(), "sup-1", "")
		assert.ErrorIs(t, err, domain.ErrWalletSuspended)
	})
}

func TestLedger_Reconcile(t *testing.T) {
	l, _, mock := newTestLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockWalletQuery).WithArgs("sup-1").WillReturnRows(walletRow(10000, 5000, domain.WalletStatusActive))
	mock.ExpectQuery(`SELECT type, COALESCE\(SUM\(amount\), 0\)`).WithArgs("wallet-1").
		WillReturnRows(sqlmock.NewRows([]string{"type", "sum"}).
			AddRow("EARNING", int64(120000)).
			AddRow("REFUND", int64(-20000)).
			AddRow("MANUAL_ADJUSTMENT", int64(-5000)).
			AddRow("PAYOUT", int64(-80000)))
	mock.ExpectCommit()

	rec, err := l.Reconcile(context.Background(), "sup-1")
	require.NoError(t, err)
	assert.True(t, rec.Balanced)
	assert.Equal(t, int64(95000), rec.Credited)
	assert.Equal(t, int64(-80000), rec.Payouts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_ManualAdjustment(t *testing.T) {
	l, _, mock := newTestLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockWalletQuery).WithArgs("sup-1").WillReturnRows(walletRow(0, 1000, domain.WalletStatusActive))
	mock.ExpectRollback()

	_, err := l.ManualAdjustment(context.Background(), "sup-1", -2000, "chargeback")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}
