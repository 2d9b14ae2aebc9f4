package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
	"github.com/joao-fontenele/orderflow-settlement/internal/postgres"
)

const supplierWalletConstraint = "supplier_wallets_supplier_id_key"

type Repository struct {
	db postgres.DBTX
}

func NewRepository(db postgres.DBTX) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{db: tx}
}

const selectWallet = `
	SELECT id, supplier_id, pending_balance, available_balance, monthly_earnings,
		status, created_at, updated_at
	FROM supplier_wallets
	WHERE supplier_id = $1`

func (r *Repository) GetBySupplier(ctx context.Context, supplierID string) (*domain.SupplierWallet, error) {
	return r.get(ctx, selectWallet, supplierID)
}

func (r *Repository) GetBySupplierForUpdate(ctx context.Context, supplierID string) (*domain.SupplierWallet, error) {
	return r.get(ctx, selectWallet+` FOR UPDATE`, supplierID)
}

func (r *Repository) get(ctx context.Context, query, supplierID string) (*domain.SupplierWallet, error) {
	w := &domain.SupplierWallet{}

	err := r.db.QueryRowContext(ctx, query, supplierID).Scan(
		&w.ID, &w.SupplierID, &w.PendingBalance, &w.AvailableBalance, &w.MonthlyEarnings,
		&w.Status, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}

	return w, nil
}

func (r *Repository) Create(ctx context.Context, w *domain.SupplierWallet) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO supplier_wallets (id, supplier_id, pending_balance, available_balance, monthly_earnings, status, created_at, updated_at)
		VALUES ($1, $2, 0, 0, 0, $3, $4, $4)
	`, w.ID, w.SupplierID, w.Status, w.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err, supplierWalletConstraint) {
			return domain.ErrWalletExists
		}
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// SaveBalances writes the balances of a wallet the caller holds locked.
func (r *Repository) SaveBalances(ctx context.Context, w *domain.SupplierWallet) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE supplier_wallets
		SET pending_balance = $2, available_balance = $3, monthly_earnings = $4, updated_at = $5
		WHERE id = $1
	`, w.ID, w.PendingBalance, w.AvailableBalance, w.MonthlyEarnings, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update wallet balances: %w", err)
	}
	return nil
}

func (r *Repository) SetStatus(ctx context.Context, supplierID string, status domain.WalletStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE supplier_wallets SET status = $2, updated_at = NOW()
		WHERE supplier_id = $1
	`, supplierID, status)
	if err != nil {
		return false, fmt.Errorf("update wallet status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

func (r *Repository) InsertTransaction(ctx context.Context, t *domain.WalletTransaction) error {
	var orderID sql.NullString
	if t.OrderID != "" {
		orderID = sql.NullString{String: t.OrderID, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, type, amount, order_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.WalletID, t.Type, t.Amount, orderID, t.Note, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert wallet transaction: %w", err)
	}
	return nil
}

// NetCredited returns what the supplier still holds for an order: its
// EARNING minus any REFUND already taken back.
func (r *Repository) NetCredited(ctx context.Context, supplierID, orderID string) (int64, error) {
	var net int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(t.amount), 0)
		FROM wallet_transactions t
		JOIN supplier_wallets w ON w.id = t.wallet_id
		WHERE w.supplier_id = $1 AND t.order_id = $2 AND t.type IN ('EARNING', 'REFUND')
	`, supplierID, orderID).Scan(&net)
	if err != nil {
		return 0, fmt.Errorf("sum order credit: %w", err)
	}
	return net, nil
}

func (r *Repository) ListTransactions(ctx context.Context, walletID string, limit int) ([]domain.WalletTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, wallet_id, type, amount, COALESCE(order_id, ''), note, created_at
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, walletID, limit)
	if err != nil {
		return nil, fmt.Errorf("list wallet transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	txs := []domain.WalletTransaction{}
	for rows.Next() {
		var t domain.WalletTransaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Type, &t.Amount, &t.OrderID, &t.Note, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet transaction: %w", err)
		}
		txs = append(txs, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return txs, nil
}

// SumByType totals the signed transaction amounts of a wallet per type.
func (r *Repository) SumByType(ctx context.Context, walletID string) (map[domain.TransactionType]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT type, COALESCE(SUM(amount), 0)
		FROM wallet_transactions
		WHERE wallet_id = $1
		GROUP BY type
	`, walletID)
	if err != nil {
		return nil, fmt.Errorf("sum wallet transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sums := make(map[domain.TransactionType]int64)
	for rows.Next() {
		var (
			typ domain.TransactionType
			sum int64
		)
		if err := rows.Scan(&typ, &sum); err != nil {
			return nil, fmt.Errorf("scan wallet sum: %w", err)
		}
		sums[typ] = sum
	}

	return sums, rows.Err()
}

// ListPayable returns the supplier ids of ACTIVE wallets holding an
// available balance.
func (r *Repository) ListPayable(ctx context.Context) ([]string, error) {
	return r.listIDs(ctx, `
		SELECT supplier_id
		FROM supplier_wallets
		WHERE status = 'ACTIVE' AND available_balance > 0
		ORDER BY supplier_id
	`)
}

func (r *Repository) listIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// releaseCursor is the (delivered_at, id) position a release run has reached.
type releaseCursor struct {
	deliveredAt time.Time
	orderID     string
}

// ReleaseCandidates lists delivered, unreleased orders older than cutoff whose
// supplier wallet is ACTIVE and still holds a pending balance, strictly after
// the cursor in (delivered_at, id) order.
func (r *Repository) ReleaseCandidates(ctx context.Context, cutoff time.Time, after releaseCursor, limit int) ([]releaseCursor, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT o.id, o.delivered_at
		FROM orders o
		JOIN supplier_wallets w ON w.supplier_id = o.supplier_id
		WHERE o.status = 'DELIVERED'
			AND o.balance_released = FALSE
			AND o.delivered_at <= $1
			AND (o.delivered_at, o.id) > ($2, $3)
			AND w.status = 'ACTIVE'
			AND w.pending_balance > 0
		ORDER BY o.delivered_at, o.id
		LIMIT $4
	`, cutoff, after.deliveredAt, after.orderID, limit)
	if err != nil {
		return nil, fmt.Errorf("list release candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var page []releaseCursor
	for rows.Next() {
		var c releaseCursor
		if err := rows.Scan(&c.orderID, &c.deliveredAt); err != nil {
			return nil, err
		}
		page = append(page, c)
	}
	return page, rows.Err()
}

type releaseTarget struct {
	supplierID string
	released   bool
}

// lockOrderForRelease row-locks the order so a concurrent return approval
// sees a consistent balance_released flag.
func (r *Repository) lockOrderForRelease(ctx context.Context, orderID string) (*releaseTarget, error) {
	var t releaseTarget
	err := r.db.QueryRowContext(ctx, `
		SELECT supplier_id, balance_released
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID).Scan(&t.supplierID, &t.released)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}
	return &t, nil
}

func (r *Repository) markReleased(ctx context.Context, orderID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders SET balance_released = TRUE, updated_at = NOW()
		WHERE id = $1
	`, orderID)
	if err != nil {
		return fmt.Errorf("mark order released: %w", err)
	}
	return nil
}
