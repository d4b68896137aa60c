package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/faults"
	"github.com/streampay/backend/internal/models"
)

const workerColumns = `id, name, wallet_ref, reputation_score, tasks_completed, tasks_on_time, total_earned, is_active, created_at, updated_at`

type WorkerRepo struct {
	pool *pgxpool.Pool
}

func NewWorkerRepo(pool *pgxpool.Pool) *WorkerRepo {
	return &WorkerRepo{pool: pool}
}

func (r *WorkerRepo) Create(ctx context.Context, w *models.Worker) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO workers (id, name, wallet_ref, reputation_score, tasks_completed, tasks_on_time, total_earned, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, w.ID, w.Name, w.WalletRef, w.ReputationScore, w.TasksCompleted, w.TasksOnTime, w.TotalEarned, w.IsActive).Scan(&w.CreatedAt, &w.UpdatedAt)
}

func (r *WorkerRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Worker, error) {
	return scanWorker(r.pool.QueryRow(ctx, `
		SELECT `+workerColumns+` FROM workers WHERE id = $1
	`, id))
}

// GetByIDForUpdate locks the worker row for the duration of the transaction.
func (r *WorkerRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Worker, error) {
	return scanWorker(tx.QueryRow(ctx, `
		SELECT `+workerColumns+` FROM workers WHERE id = $1 FOR UPDATE
	`, id))
}

// UpdateScoreTx writes the cached reputation score inside the caller's transaction.
func (r *WorkerRepo) UpdateScoreTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, score int) error {
	tag, err := tx.Exec(ctx, `
		UPDATE workers SET reputation_score = $2, updated_at = now() WHERE id = $1
	`, id, score)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: worker %s", faults.ErrNotFound, id)
	}
	return nil
}

// RecordTaskStatsTx bumps the completion counters and lifetime earnings
// inside the caller's transaction.
func (r *WorkerRepo) RecordTaskStatsTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, onTime bool, earned decimal.Decimal) error {
	onTimeInc := 0
	if onTime {
		onTimeInc = 1
	}
	tag, err := tx.Exec(ctx, `
		UPDATE workers
		SET tasks_completed = tasks_completed + 1,
		    tasks_on_time = tasks_on_time + $2,
		    total_earned = total_earned + $3,
		    updated_at = now()
		WHERE id = $1
	`, id, onTimeInc, earned)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: worker %s", faults.ErrNotFound, id)
	}
	return nil
}

// Deactivate soft-disables the worker. Workers are never deleted.
func (r *WorkerRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE workers SET is_active = false, updated_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: worker %s", faults.ErrNotFound, id)
	}
	return nil
}

func scanWorker(row pgx.Row) (*models.Worker, error) {
	var w models.Worker
	err := row.Scan(&w.ID, &w.Name, &w.WalletRef, &w.ReputationScore, &w.TasksCompleted, &w.TasksOnTime, &w.TotalEarned, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: worker", faults.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}
