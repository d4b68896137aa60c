package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streampay/backend/internal/faults"
	"github.com/streampay/backend/internal/models"
)

const loanColumns = `id, worker_id, requested_amount, approved_amount, fee_rate_bps, fee_amount, total_due, repaid_amount, repayment_task_target, repayment_tasks_done, status, due_date, disbursed_at, created_at, updated_at`

// uniqueViolation is the Postgres error code backing the partial unique
// index "one active loan per worker" (idx_loans_one_active_per_worker).
const uniqueViolation = "23505"

type LoanRepo struct {
	pool *pgxpool.Pool
}

func NewLoanRepo(pool *pgxpool.Pool) *LoanRepo {
	return &LoanRepo{pool: pool}
}

func (r *LoanRepo) Create(ctx context.Context, l *models.Loan) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO loans (id, worker_id, requested_amount, approved_amount, fee_rate_bps, fee_amount, total_due, repaid_amount, repayment_task_target, repayment_tasks_done, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, l.ID, l.WorkerID, l.RequestedAmount, l.ApprovedAmount, l.FeeRateBps, l.FeeAmount, l.TotalDue, l.RepaidAmount,
		l.RepaymentTaskTarget, l.RepaymentTasksDone, l.Status).Scan(&l.CreatedAt, &l.UpdatedAt)
}

func (r *LoanRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return scanLoan(r.pool.QueryRow(ctx, `
		SELECT `+loanColumns+` FROM loans WHERE id = $1
	`, id))
}

// GetByIDForUpdate locks the loan row for the duration of the transaction.
func (r *LoanRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Loan, error) {
	return scanLoan(tx.QueryRow(ctx, `
		SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE
	`, id))
}

// UpdateTx writes the mutable loan fields inside the caller's transaction.
// The partial unique index on (worker_id) WHERE status IN
// ('disbursed','repaying') enforces loan exclusivity at the storage layer;
// a violation surfaces as faults.ErrConflict.
func (r *LoanRepo) UpdateTx(ctx context.Context, tx pgx.Tx, l *models.Loan) error {
	tag, err := tx.Exec(ctx, `
		UPDATE loans
		SET approved_amount = $2, fee_rate_bps = $3, fee_amount = $4, total_due = $5, repaid_amount = $6,
		    repayment_task_target = $7, repayment_tasks_done = $8, status = $9, due_date = $10, disbursed_at = $11,
		    updated_at = now()
		WHERE id = $1
	`, l.ID, l.ApprovedAmount, l.FeeRateBps, l.FeeAmount, l.TotalDue, l.RepaidAmount,
		l.RepaymentTaskTarget, l.RepaymentTasksDone, l.Status, l.DueDate, l.DisbursedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: worker %s already has an active loan", faults.ErrConflict, l.WorkerID)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: loan %s", faults.ErrNotFound, l.ID)
	}
	return nil
}

// GetOpenByWorker returns the worker's non-terminal loan, or ErrNotFound.
// pending, approved, disbursed, and repaying all count as open.
func (r *LoanRepo) GetOpenByWorker(ctx context.Context, workerID uuid.UUID) (*models.Loan, error) {
	return scanLoan(r.pool.QueryRow(ctx, `
		SELECT `+loanColumns+` FROM loans
		WHERE worker_id = $1 AND status IN ($2, $3, $4, $5)
		ORDER BY created_at DESC LIMIT 1
	`, workerID, models.LoanStatusPending, models.LoanStatusApproved, models.LoanStatusDisbursed, models.LoanStatusRepaying))
}

// GetActiveByWorker returns the worker's disbursed/repaying loan, or ErrNotFound.
func (r *LoanRepo) GetActiveByWorker(ctx context.Context, workerID uuid.UUID) (*models.Loan, error) {
	return scanLoan(r.pool.QueryRow(ctx, `
		SELECT `+loanColumns+` FROM loans
		WHERE worker_id = $1 AND status IN ($2, $3)
		LIMIT 1
	`, workerID, models.LoanStatusDisbursed, models.LoanStatusRepaying))
}

// ListByWorker returns the worker's full loan history, oldest first.
func (r *LoanRepo) ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.Loan, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+loanColumns+` FROM loans WHERE worker_id = $1 ORDER BY created_at ASC
	`, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLoans(rows)
}

// ListPastDue returns repaying loans whose due date has passed. Used by the
// periodic default sweep.
func (r *LoanRepo) ListPastDue(ctx context.Context, limit int) ([]*models.Loan, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+loanColumns+` FROM loans
		WHERE status = $1 AND due_date < now()
		ORDER BY due_date ASC LIMIT $2
	`, models.LoanStatusRepaying, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLoans(rows)
}

func collectLoans(rows pgx.Rows) ([]*models.Loan, error) {
	var list []*models.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, l)
	}
	return list, rows.Err()
}

func scanLoan(row pgx.Row) (*models.Loan, error) {
	var l models.Loan
	err := row.Scan(&l.ID, &l.WorkerID, &l.RequestedAmount, &l.ApprovedAmount, &l.FeeRateBps, &l.FeeAmount, &l.TotalDue,
		&l.RepaidAmount, &l.RepaymentTaskTarget, &l.RepaymentTasksDone, &l.Status, &l.DueDate, &l.DisbursedAt,
		&l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: loan", faults.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}
