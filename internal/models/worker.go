package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet references for system-owned accounts at the funds-movement provider.
const (
	EscrowWalletRef   = "wallet_escrow_pool"
	PlatformWalletRef = "wallet_platform_ops"
)

// BaseReputationScore is the score every worker starts with.
const BaseReputationScore = 100

// Reputation scores are clamped to [0, MaxReputationScore].
const MaxReputationScore = 1000

type Worker struct {
	ID               uuid.UUID       `json:"id"`
	Name             string          `json:"name"`
	WalletRef        string          `json:"wallet_ref"`
	ReputationScore  int             `json:"reputation_score"`
	TasksCompleted   int             `json:"tasks_completed"`
	TasksOnTime      int             `json:"tasks_on_time"`
	TotalEarned      decimal.Decimal `json:"total_earned"`
	IsActive         bool            `json:"is_active"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// AccountAgeDays returns whole days since the worker account was created.
func (w *Worker) AccountAgeDays(now time.Time) int {
	return int(now.Sub(w.CreatedAt).Hours() / 24)
}
