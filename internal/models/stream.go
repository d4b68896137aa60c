package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Stream status enums.
const (
	StreamStatusActive    = "active"
	StreamStatusPaused    = "paused"
	StreamStatusCompleted = "completed"
	StreamStatusCancelled = "cancelled"
)

// PaymentStream is an escrow that releases funds to a worker pro-rata over
// time. Invariant: 0 <= ClaimedAmount <= ReleasedAmount <= TotalAmount.
type PaymentStream struct {
	ID              uuid.UUID       `json:"id"`
	WorkerID        uuid.UUID       `json:"worker_id"`
	PlatformID      uuid.UUID       `json:"platform_id"`
	PlatformWallet  string          `json:"platform_wallet"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ReleasedAmount  decimal.Decimal `json:"released_amount"`
	ClaimedAmount   decimal.Decimal `json:"claimed_amount"`
	StartTime       time.Time       `json:"start_time"`
	Duration        time.Duration   `json:"duration"`
	ReleaseInterval time.Duration   `json:"release_interval"`
	LastReleaseTime time.Time       `json:"last_release_time"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Terminal reports whether the stream is in a final state.
func (s *PaymentStream) Terminal() bool {
	return s.Status == StreamStatusCompleted || s.Status == StreamStatusCancelled
}

// Unclaimed returns the released-but-not-yet-claimed amount.
func (s *PaymentStream) Unclaimed() decimal.Decimal {
	return s.ReleasedAmount.Sub(s.ClaimedAmount)
}

// Unreleased returns the escrowed remainder that has not vested.
func (s *PaymentStream) Unreleased() decimal.Decimal {
	return s.TotalAmount.Sub(s.ReleasedAmount)
}
