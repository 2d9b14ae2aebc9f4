package domain

import "time"

type WalletStatus string

const (
	WalletStatusActive    WalletStatus = "ACTIVE"
	WalletStatusSuspended WalletStatus = "SUSPENDED"
)

type TransactionType string

const (
	TransactionEarning          TransactionType = "EARNING"
	TransactionRefund           TransactionType = "REFUND"
	TransactionPayout           TransactionType = "PAYOUT"
	TransactionManualAdjustment TransactionType = "MANUAL_ADJUSTMENT"
)

type SupplierWallet struct {
	ID               string       `json:"id"`
	SupplierID       string       `json:"supplier_id"`
	PendingBalance   int64        `json:"pending_balance"`
	AvailableBalance int64        `json:"available_balance"`
	MonthlyEarnings  int64        `json:"monthly_earnings"`
	Status           WalletStatus `json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// WalletTransaction is an append-only ledger row. Amount is signed:
// EARNING positive, REFUND and PAYOUT negative, MANUAL_ADJUSTMENT either.
type WalletTransaction struct {
	ID        string          `json:"id"`
	WalletID  string          `json:"wallet_id"`
	Type      TransactionType `json:"type"`
	Amount    int64           `json:"amount"`
	OrderID   string          `json:"order_id,omitempty"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
