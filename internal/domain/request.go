package domain

import "time"

type RequestKind string

const (
	RequestKindCancel RequestKind = "CANCEL"
	RequestKindReturn RequestKind = "RETURN"
)

type RequestStatus string

const (
	RequestStatusPendingReview RequestStatus = "PENDING_REVIEW"
	RequestStatusApproved      RequestStatus = "APPROVED"
	RequestStatusRejected      RequestStatus = "REJECTED"
)

// OrderRequest is a cancel or return request. Once decided it is immutable.
type OrderRequest struct {
	ID             string        `json:"id"`
	OrderID        string        `json:"order_id"`
	Kind           RequestKind   `json:"kind"`
	RequesterID    string        `json:"requester_id"`
	Reason         string        `json:"reason"`
	Status         RequestStatus `json:"status"`
	ReviewerID     string        `json:"reviewer_id,omitempty"`
	ReviewNote     string        `json:"review_note,omitempty"`
	RefundedAmount int64         `json:"refunded_amount,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	DecidedAt      *time.Time    `json:"decided_at,omitempty"`
}

func (r *OrderRequest) Decided() bool {
	return r.Status != RequestStatusPendingReview
}
