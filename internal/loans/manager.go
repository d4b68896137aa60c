// Package loans runs the micro-loan lifecycle: request, risk-gated approval
// with synchronous disbursement, repayment from task earnings, and default.
package loans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/faults"
	"github.com/streampay/backend/internal/forecast"
	"github.com/streampay/backend/internal/locks"
	"github.com/streampay/backend/internal/models"
	"github.com/streampay/backend/internal/risk"
	"github.com/streampay/backend/internal/wallet"
)

// ErrAlreadyHasActiveLoan is returned by RequestAdvance when the worker has
// any open loan, pending ones included.
var ErrAlreadyHasActiveLoan = fmt.Errorf("%w: worker already has an open loan", faults.ErrConflict)

// DefaultDeductionRate is the share of each net payout withheld toward an
// active loan.
var DefaultDeductionRate = decimal.RequireFromString("0.25")

// LoanStore is the persistence surface the manager needs.
type LoanStore interface {
	Create(ctx context.Context, l *models.Loan) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Loan, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, l *models.Loan) error
	GetOpenByWorker(ctx context.Context, workerID uuid.UUID) (*models.Loan, error)
	GetActiveByWorker(ctx context.Context, workerID uuid.UUID) (*models.Loan, error)
	ListPastDue(ctx context.Context, limit int) ([]*models.Loan, error)
}

// WorkerSource resolves workers for wallet refs and activity checks.
type WorkerSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Worker, error)
}

// Assessor gates advances on the risk score.
type Assessor interface {
	CalculateRiskScore(ctx context.Context, workerID uuid.UUID) (*risk.Assessment, error)
}

// Forecaster sizes the repayment schedule from predicted earnings.
type Forecaster interface {
	PredictEarnings(ctx context.Context, workerID uuid.UUID, days int) (*forecast.Prediction, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Manager drives the loan state machine:
// pending -> approved -> repaying -> {repaid | defaulted}, pending -> cancelled.
// Approval disburses synchronously; a failed disbursement rolls the loan back
// to pending so approval can be retried cleanly.
type Manager struct {
	Pool           TxBeginner
	Loans          LoanStore
	Workers        WorkerSource
	Risk           Assessor
	Forecast       Forecaster
	Wallet         wallet.Client
	PlatformWallet string
	DeductionRate  decimal.Decimal
	Locks          *locks.Keyed
	Logger         *slog.Logger
	now            func() time.Time
}

// NewManager returns a loan manager disbursing from platformWallet.
func NewManager(pool TxBeginner, loans LoanStore, workers WorkerSource, assessor Assessor, forecaster Forecaster, w wallet.Client, platformWallet string, logger *slog.Logger) *Manager {
	return &Manager{
		Pool:           pool,
		Loans:          loans,
		Workers:        workers,
		Risk:           assessor,
		Forecast:       forecaster,
		Wallet:         w,
		PlatformWallet: platformWallet,
		DeductionRate:  DefaultDeductionRate,
		Locks:          locks.NewKeyed(),
		Logger:         logger,
		now:            time.Now,
	}
}

// RequestAdvance creates a pending loan after the eligibility gate. Any open
// loan, pending included, blocks a new request. The requested amount must not
// exceed the scorer's advance limit.
func (m *Manager) RequestAdvance(ctx context.Context, workerID uuid.UUID, amount decimal.Decimal) (*models.Loan, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: advance amount must be positive", faults.ErrInvalidParameters)
	}

	worker, err := m.Workers.GetByID(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if !worker.IsActive {
		return nil, fmt.Errorf("%w: worker %s is deactivated", faults.ErrInvalidState, workerID)
	}

	unlock := m.LockWorkerLoans(workerID)
	defer unlock()

	if _, err := m.Loans.GetOpenByWorker(ctx, workerID); err == nil {
		return nil, ErrAlreadyHasActiveLoan
	} else if !errors.Is(err, faults.ErrNotFound) {
		return nil, err
	}

	assessment, err := m.Risk.CalculateRiskScore(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("assess advance eligibility: %w", err)
	}
	if !assessment.Eligible {
		return nil, fmt.Errorf("%w: %s", faults.ErrRejected, assessment.Reason)
	}
	if amount.GreaterThan(assessment.MaxAdvance) {
		return nil, fmt.Errorf("%w: requested %s exceeds advance limit %s", faults.ErrInvalidParameters, amount, assessment.MaxAdvance)
	}

	loan := &models.Loan{
		ID:              uuid.New(),
		WorkerID:        workerID,
		RequestedAmount: amount,
		ApprovedAmount:  decimal.Zero,
		FeeRateBps:      assessment.FeeRateBps,
		FeeAmount:       decimal.Zero,
		TotalDue:        decimal.Zero,
		RepaidAmount:    decimal.Zero,
		Status:          models.LoanStatusPending,
	}
	if err := m.Loans.Create(ctx, loan); err != nil {
		return nil, fmt.Errorf("create loan request: %w", err)
	}

	m.Logger.Info("advance requested", "loan_id", loan.ID, "worker_id", workerID,
		"amount", amount, "risk_score", assessment.Score)
	return loan, nil
}

// ApproveLoan sets the terms, disburses to the worker's wallet, and moves the
// loan to repaying with a due date one term out. The funds transfer and the
// repaying transition are one logical step: if the transfer fails the loan is
// rolled back to pending and the error returned, so nothing is half-applied.
func (m *Manager) ApproveLoan(ctx context.Context, loanID uuid.UUID, approvedAmount decimal.Decimal, feeRateBps int) (*models.Loan, error) {
	if approvedAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: approved amount must be positive", faults.ErrInvalidParameters)
	}
	if feeRateBps < models.MinLoanFeeRateBps || feeRateBps > models.MaxLoanFeeRateBps {
		return nil, fmt.Errorf("%w: fee rate %d outside [%d, %d] bps", faults.ErrInvalidParameters,
			feeRateBps, models.MinLoanFeeRateBps, models.MaxLoanFeeRateBps)
	}

	unlock := m.Locks.Lock("loan:" + loanID.String())
	defer unlock()

	loan, err := m.setTermsApproved(ctx, loanID, approvedAmount, feeRateBps)
	if err != nil {
		return nil, err
	}

	worker, err := m.Workers.GetByID(ctx, loan.WorkerID)
	if err != nil {
		return nil, err
	}

	ref := "loan-disburse-" + loanID.String()
	if _, err := wallet.AwaitConfirmation(ctx, m.Wallet, m.PlatformWallet, worker.WalletRef, approvedAmount, ref); err != nil {
		if rbErr := m.rollbackToPending(ctx, loanID); rbErr != nil {
			m.Logger.Error("loan rollback after failed disbursement failed",
				"loan_id", loanID, "error", rbErr)
		}
		return nil, fmt.Errorf("disburse loan: %w", err)
	}

	loan, err = m.activateRepaying(ctx, loanID)
	if err != nil {
		// Funds moved but the transition failed. The deterministic transfer
		// reference lets operators reconcile; do not retry the transfer.
		m.Logger.Error("loan disbursed but repaying transition failed",
			"loan_id", loanID, "transfer_ref", ref, "error", err)
		return nil, err
	}

	m.Logger.Info("loan disbursed", "loan_id", loanID, "worker_id", loan.WorkerID,
		"approved", approvedAmount, "total_due", loan.TotalDue, "due_date", loan.DueDate)
	return loan, nil
}

// setTermsApproved moves pending -> approved with computed fee and total due.
func (m *Manager) setTermsApproved(ctx context.Context, loanID uuid.UUID, approvedAmount decimal.Decimal, feeRateBps int) (*models.Loan, error) {
	tx, err := m.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin approve tx: %w", err)
	}
	defer tx.Rollback(ctx)

	loan, err := m.Loans.GetByIDForUpdate(ctx, tx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusPending {
		return nil, fmt.Errorf("%w: cannot approve %s loan", faults.ErrInvalidState, loan.Status)
	}
	if approvedAmount.GreaterThan(loan.RequestedAmount) {
		return nil, fmt.Errorf("%w: approved %s exceeds requested %s", faults.ErrInvalidParameters,
			approvedAmount, loan.RequestedAmount)
	}

	loan.ApprovedAmount = approvedAmount
	loan.FeeRateBps = feeRateBps
	loan.FeeAmount = models.FeeFor(approvedAmount, feeRateBps)
	loan.TotalDue = approvedAmount.Add(loan.FeeAmount)
	loan.RepaymentTaskTarget = m.repaymentTarget(ctx, loan.WorkerID, loan.TotalDue)
	loan.Status = models.LoanStatusApproved

	if err := m.Loans.UpdateTx(ctx, tx, loan); err != nil {
		return nil, fmt.Errorf("set loan terms: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit approve tx: %w", err)
	}
	return loan, nil
}

// activateRepaying moves approved -> repaying after a confirmed disbursement.
// The storage layer's one-active-loan-per-worker constraint fires here.
func (m *Manager) activateRepaying(ctx context.Context, loanID uuid.UUID) (*models.Loan, error) {
	tx, err := m.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin activate tx: %w", err)
	}
	defer tx.Rollback(ctx)

	loan, err := m.Loans.GetByIDForUpdate(ctx, tx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusApproved {
		return nil, fmt.Errorf("%w: cannot activate %s loan", faults.ErrInvalidState, loan.Status)
	}

	now := m.now()
	due := now.AddDate(0, 0, models.LoanTermDays)
	loan.Status = models.LoanStatusRepaying
	loan.DisbursedAt = &now
	loan.DueDate = &due

	if err := m.Loans.UpdateTx(ctx, tx, loan); err != nil {
		return nil, fmt.Errorf("activate repayment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit activate tx: %w", err)
	}
	return loan, nil
}

func (m *Manager) rollbackToPending(ctx context.Context, loanID uuid.UUID) error {
	tx, err := m.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rollback tx: %w", err)
	}
	defer tx.Rollback(ctx)

	loan, err := m.Loans.GetByIDForUpdate(ctx, tx, loanID)
	if err != nil {
		return err
	}
	if loan.Status != models.LoanStatusApproved {
		return fmt.Errorf("%w: expected approved loan, found %s", faults.ErrInvalidState, loan.Status)
	}
	// Terms stay on the row for audit; pending status makes approval retryable.
	loan.Status = models.LoanStatusPending
	if err := m.Loans.UpdateTx(ctx, tx, loan); err != nil {
		return fmt.Errorf("roll back loan to pending: %w", err)
	}
	return tx.Commit(ctx)
}

// repaymentTarget estimates how many withheld payouts clear the debt, from
// forecast earnings at the configured deduction rate. Workers without history
// get one expected repayment per term day.
func (m *Manager) repaymentTarget(ctx context.Context, workerID uuid.UUID, totalDue decimal.Decimal) int {
	prediction, err := m.Forecast.PredictEarnings(ctx, workerID, models.LoanTermDays)
	if err != nil || prediction.Total.Sign() <= 0 {
		return models.LoanTermDays
	}
	perDay := prediction.Total.Div(decimal.NewFromInt(models.LoanTermDays))
	perRepayment := perDay.Mul(m.DeductionRate)
	if perRepayment.Sign() <= 0 {
		return models.LoanTermDays
	}
	target := int(totalDue.Div(perRepayment).Ceil().IntPart())
	if target < 1 {
		target = 1
	}
	if target > 2*models.LoanTermDays {
		target = 2 * models.LoanTermDays
	}
	return target
}

// LockWorkerLoans serializes loan-balance work for one worker. A caller that
// computes a deduction and applies it later holds this across both steps, so
// two concurrent payouts cannot each withhold against the same balance.
func (m *Manager) LockWorkerLoans(workerID uuid.UUID) (release func()) {
	return m.Locks.Lock("loan-worker:" + workerID.String())
}

// RepayFromEarnings applies a repayment to a repaying loan. The applied
// amount is capped at the outstanding balance and returned; the loan turns
// repaid exactly when the balance reaches zero.
func (m *Manager) RepayFromEarnings(ctx context.Context, loanID uuid.UUID, amount decimal.Decimal) (*models.Loan, decimal.Decimal, error) {
	if amount.Sign() <= 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: repayment amount must be positive", faults.ErrInvalidParameters)
	}

	ref, err := m.Loans.GetByID(ctx, loanID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	unlock := m.LockWorkerLoans(ref.WorkerID)
	defer unlock()

	tx, err := m.Pool.Begin(ctx)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("begin repay tx: %w", err)
	}
	defer tx.Rollback(ctx)

	loan, applied, err := m.RepayFromEarningsTx(ctx, tx, loanID, amount)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, decimal.Zero, fmt.Errorf("commit repay tx: %w", err)
	}
	return loan, applied, nil
}

// RepayFromEarningsTx is RepayFromEarnings inside the caller's transaction,
// so a payout and its loan repayment commit or abort together. The caller
// holds the worker's loan lock; GetByIDForUpdate serializes against writers
// outside this process.
func (m *Manager) RepayFromEarningsTx(ctx context.Context, tx pgx.Tx, loanID uuid.UUID, amount decimal.Decimal) (*models.Loan, decimal.Decimal, error) {
	if amount.Sign() <= 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: repayment amount must be positive", faults.ErrInvalidParameters)
	}

	loan, err := m.Loans.GetByIDForUpdate(ctx, tx, loanID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if loan.Status != models.LoanStatusRepaying {
		return nil, decimal.Zero, fmt.Errorf("%w: cannot repay %s loan", faults.ErrInvalidState, loan.Status)
	}

	applied := decimal.Min(amount, loan.Outstanding())
	loan.RepaidAmount = loan.RepaidAmount.Add(applied)
	loan.RepaymentTasksDone++
	if loan.RepaidAmount.GreaterThanOrEqual(loan.TotalDue) {
		loan.Status = models.LoanStatusRepaid
	}

	if err := m.Loans.UpdateTx(ctx, tx, loan); err != nil {
		return nil, decimal.Zero, fmt.Errorf("record repayment: %w", err)
	}

	if loan.Status == models.LoanStatusRepaid {
		m.Logger.Info("loan repaid", "loan_id", loanID, "worker_id", loan.WorkerID,
			"repayments", loan.RepaymentTasksDone)
	}
	return loan, applied, nil
}

// DeductionFor returns the worker's active loan and the amount to withhold
// from a net payout, zero when no loan is active. Pure read; the caller holds
// LockWorkerLoans across the read and applies the deduction via
// RepayFromEarningsTx in the transaction that records the funds movement.
func (m *Manager) DeductionFor(ctx context.Context, workerID uuid.UUID, netAmount decimal.Decimal) (*models.Loan, decimal.Decimal, error) {
	loan, err := m.Loans.GetActiveByWorker(ctx, workerID)
	if errors.Is(err, faults.ErrNotFound) {
		return nil, decimal.Zero, nil
	}
	if err != nil {
		return nil, decimal.Zero, err
	}
	deduction := decimal.Min(netAmount.Mul(m.DeductionRate).Round(6), loan.Outstanding())
	if deduction.Sign() <= 0 {
		return loan, decimal.Zero, nil
	}
	return loan, deduction, nil
}

// MarkDefaulted moves a repaying loan past its due date to defaulted,
// freeing the worker's active-loan slot.
func (m *Manager) MarkDefaulted(ctx context.Context, loanID uuid.UUID) (*models.Loan, error) {
	unlock := m.Locks.Lock("loan:" + loanID.String())
	defer unlock()

	tx, err := m.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin default tx: %w", err)
	}
	defer tx.Rollback(ctx)

	loan, err := m.Loans.GetByIDForUpdate(ctx, tx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusRepaying {
		return nil, fmt.Errorf("%w: cannot default %s loan", faults.ErrInvalidState, loan.Status)
	}
	if loan.DueDate == nil || !m.now().After(*loan.DueDate) {
		return nil, fmt.Errorf("%w: loan %s is not past due", faults.ErrInvalidState, loanID)
	}

	loan.Status = models.LoanStatusDefaulted
	if err := m.Loans.UpdateTx(ctx, tx, loan); err != nil {
		return nil, fmt.Errorf("mark loan defaulted: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit default tx: %w", err)
	}

	m.Logger.Warn("loan defaulted", "loan_id", loanID, "worker_id", loan.WorkerID,
		"outstanding", loan.Outstanding())
	return loan, nil
}

// CancelLoan withdraws a pending request. No funds have moved at this point.
func (m *Manager) CancelLoan(ctx context.Context, loanID uuid.UUID) (*models.Loan, error) {
	unlock := m.Locks.Lock("loan:" + loanID.String())
	defer unlock()

	tx, err := m.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	loan, err := m.Loans.GetByIDForUpdate(ctx, tx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusPending {
		return nil, fmt.Errorf("%w: cannot cancel %s loan", faults.ErrInvalidState, loan.Status)
	}

	loan.Status = models.LoanStatusCancelled
	if err := m.Loans.UpdateTx(ctx, tx, loan); err != nil {
		return nil, fmt.Errorf("cancel loan: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cancel tx: %w", err)
	}
	return loan, nil
}

// GetLoanDetails returns the loan by id.
func (m *Manager) GetLoanDetails(ctx context.Context, loanID uuid.UUID) (*models.Loan, error) {
	return m.Loans.GetByID(ctx, loanID)
}

// GetActiveLoan returns the worker's disbursed/repaying loan, or ErrNotFound.
func (m *Manager) GetActiveLoan(ctx context.Context, workerID uuid.UUID) (*models.Loan, error) {
	return m.Loans.GetActiveByWorker(ctx, workerID)
}

// SweepDefaults marks every past-due repaying loan defaulted. Called by the
// periodic background worker; per-loan failures are logged and skipped.
func (m *Manager) SweepDefaults(ctx context.Context, limit int) (int, error) {
	pastDue, err := m.Loans.ListPastDue(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list past-due loans: %w", err)
	}
	defaulted := 0
	for _, l := range pastDue {
		if _, err := m.MarkDefaulted(ctx, l.ID); err != nil {
			m.Logger.Error("default sweep failed for loan", "loan_id", l.ID, "error", err)
			continue
		}
		defaulted++
	}
	return defaulted, nil
}
