package promotions

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
	"github.com/joao-fontenele/orderflow-settlement/internal/postgres"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

const (
	selectForUpdate = `FROM promotions\s+WHERE code = \$1 FOR UPDATE`
	claimSlot       = `UPDATE promotions\s+SET current_usage_count = current_usage_count \+ 1`
	insertUsage     = `INSERT INTO promotion_usages`
	countUsages     = `SELECT COUNT\(\*\)\s+FROM promotion_usages`
)

var promotionColumns = []string{
	"id", "code", "status", "discount_type", "discount_value", "max_discount",
	"minimum_order_amount", "starts_at", "ends_at", "total_usage_limit",
	"current_usage_count", "per_customer_limit", "required_tier",
}

func save10Row(perCustomer any) *sqlmock.Rows {
	return sqlmock.NewRows(promotionColumns).AddRow(
		"promo-1", "SAVE10", "ACTIVE", "PERCENTAGE", int64(10), nil,
		int64(50000), testNow.Add(-time.Hour), testNow.Add(time.Hour), int64(100),
		int64(3), perCustomer, nil,
	)
}

func newTestLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	t.Helper()
	l, _, mock := newTestLedgerDB(t)
	return l, mock
}

func newTestLedgerDB(t *testing.T) (*Ledger, *sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	l := NewLedger(db, nil)
	l.now = func() time.Time { return testNow }
	return l, db, mock
}

// applyInTx runs ApplyAtomically the way checkout does, inside one
// transaction that commits only on success.
func applyInTx(t *testing.T, l *Ledger, db *sql.DB, in ApplyInput) (*domain.PromotionUsage, error) {
	t.Helper()
	var usage *domain.PromotionUsage
	err := postgres.WithTx(context.Background(), db, func(tx *sql.Tx) error {
		var err error
		usage, err = l.ApplyAtomically(context.Background(), tx, in)
		return err
	})
	return usage, err
}

func applyInput() ApplyInput {
	return ApplyInput{
		Code:        "SAVE10",
		Customer:    Customer{ID: "cust-1", Tier: domain.TierBronze},
		OrderID:     "order-1",
		OrderAmount: 100000,
	}
}

func TestLedger_ApplyAtomically(t *testing.T) {
	t.Run("claims a slot and records the usage", func(t *testing.T) {
		l, db, mock := newTestLedgerDB(t)

		mock.ExpectBegin()
		mock.ExpectQuery(selectForUpdate).WithArgs("SAVE10").WillReturnRows(save10Row(nil))
		mock.ExpectExec(claimSlot).WithArgs("promo-1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insertUsage).
			WithArgs(sqlmock.AnyArg(), "promo-1", "cust-1", "order-1", int64(100000), int64(10000), testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		usage, err := applyInTx(t, l, db, applyInput())
		require.NoError(t, err)
		assert.Equal(t, int64(10000), usage.DiscountAmount)
		assert.Equal(t, "order-1", usage.OrderID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports limit reached when the conditional update matches nothing", func(t *testing.T) {
		l, db, mock := newTestLedgerDB(t)

		mock.ExpectBegin()
		mock.ExpectQuery(selectForUpdate).WithArgs("SAVE10").WillReturnRows(save10Row(nil))
		mock.ExpectExec(claimSlot).WithArgs("promo-1").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := applyInTx(t, l, db, applyInput())
		assert.ErrorIs(t, err, domain.ErrPromotionLimitReached)
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports duplicate usage for an order already holding this promotion", func(t *testing.T) {
		l, db, mock := newTestLedgerDB(t)

		mock.ExpectBegin()
		mock.ExpectQuery(selectForUpdate).WithArgs("SAVE10").WillReturnRows(save10Row(nil))
		mock.ExpectExec(claimSlot).WithArgs("promo-1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insertUsage).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "promotion_usages_order_id_key"})
		mock.ExpectRollback()

		_, err := applyInTx(t, l, db, applyInput())
		assert.ErrorIs(t, err, domain.ErrDuplicatePromotionUsage)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("enforces the per-customer cap before claiming", func(t *testing.T) {
		l, db, mock := newTestLedgerDB(t)

		mock.ExpectBegin()
		mock.ExpectQuery(selectForUpdate).WithArgs("SAVE10").WillReturnRows(save10Row(int64(1)))
		mock.ExpectQuery(countUsages).WithArgs("promo-1", "cust-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectRollback()

		_, err := applyInTx(t, l, db, applyInput())
		assert.ErrorIs(t, err, domain.ErrPromotionCustomerCapReached)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports an unknown code as not found", func(t *testing.T) {
		l, db, mock := newTestLedgerDB(t)

		mock.ExpectBegin()
		mock.ExpectQuery(selectForUpdate).WithArgs("SAVE10").WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := applyInTx(t, l, db, applyInput())
		assert.ErrorIs(t, err, domain.ErrPromotionNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedger_Validate(t *testing.T) {
	t.Run("quotes the discount without writing", func(t *testing.T) {
		l, mock := newTestLedger(t)

		mock.ExpectQuery(`FROM promotions\s+WHERE code = \$1`).WithArgs("SAVE10").WillReturnRows(save10Row(nil))

		quote, err := l.Validate(context.Background(), "SAVE10", Customer{ID: "cust-1"}, 100000)
		require.NoError(t, err)
		assert.Equal(t, int64(10000), quote.Discount)
		assert.Equal(t, "promo-1", quote.Promotion.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports the minimum not met", func(t *testing.T) {
		l, mock := newTestLedger(t)

		mock.ExpectQuery(`FROM promotions\s+WHERE code = \$1`).WithArgs("SAVE10").WillReturnRows(save10Row(nil))

		_, err := l.Validate(context.Background(), "SAVE10", Customer{ID: "cust-1"}, 40000)
		assert.ErrorIs(t, err, domain.ErrPromotionMinimumNotMet)
	})
}
