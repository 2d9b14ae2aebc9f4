package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
	"github.com/joao-fontenele/orderflow-settlement/internal/postgres"
)

// openRequestIndex enforces at most one PENDING_REVIEW request per order and kind.
const openRequestIndex = "order_requests_one_open_per_kind"

type Repository struct {
	db postgres.DBTX
}

func NewRepository(db postgres.DBTX) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{db: tx}
}

const requestColumns = `id, order_id, kind, requester_id, reason, status,
		reviewer_id, review_note, refunded_amount, created_at, decided_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner) (*domain.OrderRequest, error) {
	req := &domain.OrderRequest{}
	var decidedAt sql.NullTime
	err := s.Scan(&req.ID, &req.OrderID, &req.Kind, &req.RequesterID, &req.Reason, &req.Status,
		&req.ReviewerID, &req.ReviewNote, &req.RefundedAmount, &req.CreatedAt, &decidedAt)
	if err != nil {
		return nil, err
	}
	if decidedAt.Valid {
		req.DecidedAt = &decidedAt.Time
	}
	return req, nil
}

func (r *Repository) Insert(ctx context.Context, req *domain.OrderRequest) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO order_requests (id, order_id, kind, requester_id, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, req.ID, req.OrderID, req.Kind, req.RequesterID, req.Reason, req.Status, req.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err, openRequestIndex) {
			return domain.ErrRequestAlreadyExists
		}
		return fmt.Errorf("insert order request: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.OrderRequest, error) {
	return r.get(ctx, `SELECT `+requestColumns+` FROM order_requests WHERE id = $1`, id)
}

// GetForUpdate row-locks the request so two reviewers cannot both decide it.
func (r *Repository) GetForUpdate(ctx context.Context, id string) (*domain.OrderRequest, error) {
	return r.get(ctx, `SELECT `+requestColumns+` FROM order_requests WHERE id = $1 FOR UPDATE`, id)
}

func (r *Repository) get(ctx context.Context, query, id string) (*domain.OrderRequest, error) {
	req, err := scanRequest(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order request: %w", err)
	}
	return req, nil
}

// HasBlocking reports whether the order already has a request of kind that is
// awaiting review or was approved. Only rejected requests may be filed again.
func (r *Repository) HasBlocking(ctx context.Context, orderID string, kind domain.RequestKind) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM order_requests
			WHERE order_id = $1 AND kind = $2 AND status IN ('PENDING_REVIEW', 'APPROVED')
		)
	`, orderID, kind).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check blocking request: %w", err)
	}
	return exists, nil
}

func (r *Repository) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM order_requests
		WHERE order_id = $1
		ORDER BY created_at
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	list := []domain.OrderRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order request: %w", err)
		}
		list = append(list, *req)
	}

	return list, rows.Err()
}

// Decide records the terminal decision. It reports false when the request
// was no longer awaiting review.
func (r *Repository) Decide(ctx context.Context, req *domain.OrderRequest) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE order_requests
		SET status = $2, reviewer_id = $3, review_note = $4, refunded_amount = $5, decided_at = $6
		WHERE id = $1 AND status = 'PENDING_REVIEW'
	`, req.ID, req.Status, req.ReviewerID, req.ReviewNote, req.RefundedAmount, req.DecidedAt)
	if err != nil {
		return false, fmt.Errorf("decide order request: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}
