package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Loan status enums. disbursed and repaying both count as "active": at most
// one loan per worker may be in either state.
const (
	LoanStatusPending   = "pending"
	LoanStatusApproved  = "approved"
	LoanStatusDisbursed = "disbursed"
	LoanStatusRepaying  = "repaying"
	LoanStatusRepaid    = "repaid"
	LoanStatusDefaulted = "defaulted"
	LoanStatusCancelled = "cancelled"
)

// Fee rate bounds in basis points.
const (
	MinLoanFeeRateBps = 200
	MaxLoanFeeRateBps = 500
)

// LoanTermDays is the repayment window from disbursement.
const LoanTermDays = 30

type Loan struct {
	ID                   uuid.UUID       `json:"id"`
	WorkerID             uuid.UUID       `json:"worker_id"`
	RequestedAmount      decimal.Decimal `json:"requested_amount"`
	ApprovedAmount       decimal.Decimal `json:"approved_amount"`
	FeeRateBps           int             `json:"fee_rate_bps"`
	FeeAmount            decimal.Decimal `json:"fee_amount"`
	TotalDue             decimal.Decimal `json:"total_due"`
	RepaidAmount         decimal.Decimal `json:"repaid_amount"`
	RepaymentTaskTarget  int             `json:"repayment_task_target"`
	RepaymentTasksDone   int             `json:"repayment_tasks_done"`
	Status               string          `json:"status"`
	DueDate              *time.Time      `json:"due_date,omitempty"`
	DisbursedAt          *time.Time      `json:"disbursed_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Active reports whether the loan occupies the worker's single active-loan slot.
func (l *Loan) Active() bool {
	return l.Status == LoanStatusDisbursed || l.Status == LoanStatusRepaying
}

// Terminal reports whether the loan is in a final state.
func (l *Loan) Terminal() bool {
	switch l.Status {
	case LoanStatusRepaid, LoanStatusDefaulted, LoanStatusCancelled:
		return true
	}
	return false
}

// Outstanding returns the amount still owed.
func (l *Loan) Outstanding() decimal.Decimal {
	return l.TotalDue.Sub(l.RepaidAmount)
}

// FeeFor computes the fee for an approved amount at the given rate.
func FeeFor(approved decimal.Decimal, feeRateBps int) decimal.Decimal {
	return approved.Mul(decimal.NewFromInt(int64(feeRateBps))).Div(decimal.NewFromInt(10000)).Round(6)
}
