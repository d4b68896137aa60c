// Package verification gates instant payments on a fraud verdict. The
// orchestrator treats reject as a hard stop, flag as a hold for manual
// review, and only approve proceeds to the funds transfer.
package verification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Verdict values.
const (
	VerdictApprove = "approve"
	VerdictFlag    = "flag"
	VerdictReject  = "reject"
)

// TaskCompletion is the payload a verdict is rendered on.
type TaskCompletion struct {
	TaskID         uuid.UUID       `json:"task_id"`
	WorkerID       uuid.UUID       `json:"worker_id"`
	Amount         decimal.Decimal `json:"amount"`
	CompletedAt    time.Time       `json:"completed_at"`
	WorkerScore    int             `json:"worker_score"`
	TasksCompleted int             `json:"tasks_completed"`
	AccountAgeDays int             `json:"account_age_days"`
}

// Result carries the verdict and the provider's confidence in it.
type Result struct {
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// Provider renders an approve/flag/reject verdict for a task completion.
// Implementations: Heuristic (local rules) and Remote (model-backed HTTP).
type Provider interface {
	Verify(ctx context.Context, tc TaskCompletion) (*Result, error)
}
