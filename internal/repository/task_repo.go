package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streampay/backend/internal/faults"
	"github.com/streampay/backend/internal/models"
)

const taskColumns = `id, worker_id, platform_id, title, status, stream_id, paid, due_at, completed_at, created_at, updated_at`

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

func (r *TaskRepo) Create(ctx context.Context, t *models.Task) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, worker_id, platform_id, title, status, stream_id, paid, due_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, t.ID, t.WorkerID, t.PlatformID, t.Title, t.Status, t.StreamID, t.Paid, t.DueAt, t.CompletedAt).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE id = $1
	`, id))
}

// MarkPaidTx flips the paid flag inside the caller's transaction. A task
// already paid is reported as ErrConflict so a payout can never double-apply.
func (r *TaskRepo) MarkPaidTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET paid = true, updated_at = now()
		WHERE id = $1 AND paid = false
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %s is already paid or missing", faults.ErrConflict, id)
	}
	return nil
}

// Assign puts a created task with a worker. Only created tasks can be
// assigned.
func (r *TaskRepo) Assign(ctx context.Context, id, workerID uuid.UUID) (*models.Task, error) {
	task, err := scanTask(r.pool.QueryRow(ctx, `
		UPDATE tasks SET worker_id = $2, status = $3, updated_at = now()
		WHERE id = $1 AND status = $4
		RETURNING `+taskColumns+`
	`, id, workerID, models.TaskStatusAssigned, models.TaskStatusCreated))
	if errors.Is(err, faults.ErrNotFound) {
		return nil, r.stateOrMissing(ctx, id, "cannot be assigned")
	}
	return task, err
}

// Complete marks an assigned or in-progress task completed at the given time.
func (r *TaskRepo) Complete(ctx context.Context, id uuid.UUID, at time.Time) (*models.Task, error) {
	task, err := scanTask(r.pool.QueryRow(ctx, `
		UPDATE tasks SET status = $2, completed_at = $3, updated_at = now()
		WHERE id = $1 AND status IN ($4, $5)
		RETURNING `+taskColumns+`
	`, id, models.TaskStatusCompleted, at, models.TaskStatusAssigned, models.TaskStatusInProgress))
	if errors.Is(err, faults.ErrNotFound) {
		return nil, r.stateOrMissing(ctx, id, "cannot be completed")
	}
	return task, err
}

// stateOrMissing disambiguates a zero-row transition: the task either does
// not exist or is in the wrong state.
func (r *TaskRepo) stateOrMissing(ctx context.Context, id uuid.UUID, verb string) error {
	task, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: task %s in status %s %s", faults.ErrInvalidState, id, task.Status, verb)
}

func (r *TaskRepo) ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE worker_id = $1 ORDER BY created_at DESC
	`, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.WorkerID, &t.PlatformID, &t.Title, &t.Status, &t.StreamID, &t.Paid, &t.DueAt,
		&t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: task", faults.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
