package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction kind enums.
const (
	TxKindPayout    = "payout"
	TxKindAdvance   = "advance"
	TxKindRefund    = "refund"
	TxKindRepayment = "repayment"
	TxKindFee       = "fee"
)

// Transaction status enums. Status only progresses forward; confirmed and
// failed are final.
const (
	TxStatusPending   = "pending"
	TxStatusSubmitted = "submitted"
	TxStatusConfirmed = "confirmed"
	TxStatusFailed    = "failed"
)

type Transaction struct {
	ID             uuid.UUID       `json:"id"`
	Kind           string          `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	Fee            decimal.Decimal `json:"fee"`
	FromWallet     string          `json:"from_wallet"`
	ToWallet       string          `json:"to_wallet"`
	Status         string          `json:"status"`
	TaskID         *uuid.UUID      `json:"task_id,omitempty"`
	StreamID       *uuid.UUID      `json:"stream_id,omitempty"`
	LoanID         *uuid.UUID      `json:"loan_id,omitempty"`
	WorkerID       uuid.UUID       `json:"worker_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	TransferRef    *string         `json:"transfer_ref,omitempty"`
	ErrorReason    *string         `json:"error_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// StatusFinal reports whether the transaction status can no longer change.
func (t *Transaction) StatusFinal() bool {
	return t.Status == TxStatusConfirmed || t.Status == TxStatusFailed
}

// DailyEarning is one day's confirmed net payout total for a worker.
type DailyEarning struct {
	Day    time.Time       `json:"day"`
	Amount decimal.Decimal `json:"amount"`
}
