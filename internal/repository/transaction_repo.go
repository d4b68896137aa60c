package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/faults"
	"github.com/streampay/backend/internal/models"
)

const txColumns = `id, kind, amount, fee, from_wallet, to_wallet, status, task_id, stream_id, loan_id, worker_id, idempotency_key, transfer_ref, error_reason, created_at, updated_at`

type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func (r *TransactionRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO transactions (id, kind, amount, fee, from_wallet, to_wallet, status, task_id, stream_id, loan_id, worker_id, idempotency_key, transfer_ref, error_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`, t.ID, t.Kind, t.Amount, t.Fee, t.FromWallet, t.ToWallet, t.Status, t.TaskID, t.StreamID, t.LoanID, t.WorkerID,
		t.IdempotencyKey, t.TransferRef, t.ErrorReason).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx, `
		SELECT `+txColumns+` FROM transactions WHERE id = $1
	`, id))
}

// GetByIdempotencyKey returns the transaction recorded for the key, or
// ErrNotFound. The durable row is the source of truth behind the bounded
// in-cache idempotency window.
func (r *TransactionRepo) GetByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx, `
		SELECT `+txColumns+` FROM transactions WHERE idempotency_key = $1
	`, key))
}

// AdvanceStatus moves the transaction status forward. Rows already confirmed
// or failed are never touched; status regression is unrepresentable.
func (r *TransactionRepo) AdvanceStatus(ctx context.Context, id uuid.UUID, status string, transferRef, errorReason *string) error {
	return advanceTxnStatus(ctx, r.pool, id, status, transferRef, errorReason)
}

// AdvanceStatusTx is AdvanceStatus inside the caller's transaction, for
// confirming a payout atomically with its side effects.
func (r *TransactionRepo) AdvanceStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, transferRef, errorReason *string) error {
	return advanceTxnStatus(ctx, tx, id, status, transferRef, errorReason)
}

type rowExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func advanceTxnStatus(ctx context.Context, db rowExecer, id uuid.UUID, status string, transferRef, errorReason *string) error {
	tag, err := db.Exec(ctx, `
		UPDATE transactions
		SET status = $2, transfer_ref = COALESCE($3, transfer_ref), error_reason = COALESCE($4, error_reason), updated_at = now()
		WHERE id = $1 AND status NOT IN ($5, $6)
	`, id, status, transferRef, errorReason, models.TxStatusConfirmed, models.TxStatusFailed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: transaction %s is final", faults.ErrInvalidState, id)
	}
	return nil
}

func (r *TransactionRepo) ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+` FROM transactions WHERE worker_id = $1 ORDER BY created_at DESC
	`, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// DailyEarnings aggregates confirmed payout amounts per day over the
// trailing window, oldest first. Days with no payouts are omitted.
func (r *TransactionRepo) DailyEarnings(ctx context.Context, workerID uuid.UUID, days int) ([]models.DailyEarning, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT date_trunc('day', created_at) AS day, SUM(amount - fee)
		FROM transactions
		WHERE worker_id = $1 AND kind = $2 AND status = $3
		  AND created_at >= now() - ($4 || ' days')::interval
		GROUP BY day ORDER BY day ASC
	`, workerID, models.TxKindPayout, models.TxStatusConfirmed, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.DailyEarning
	for rows.Next() {
		var e models.DailyEarning
		if err := rows.Scan(&e.Day, &e.Amount); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// SumEarnings returns the total confirmed net payout over the trailing window.
func (r *TransactionRepo) SumEarnings(ctx context.Context, workerID uuid.UUID, days int) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount - fee), 0)
		FROM transactions
		WHERE worker_id = $1 AND kind = $2 AND status = $3
		  AND created_at >= now() - ($4 || ' days')::interval
	`, workerID, models.TxKindPayout, models.TxStatusConfirmed, days).Scan(&total)
	return total, err
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.Kind, &t.Amount, &t.Fee, &t.FromWallet, &t.ToWallet, &t.Status, &t.TaskID, &t.StreamID,
		&t.LoanID, &t.WorkerID, &t.IdempotencyKey, &t.TransferRef, &t.ErrorReason, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction", faults.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
