package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streampay/backend/internal/models"
)

type ReputationRepo struct {
	pool *pgxpool.Pool
}

func NewReputationRepo(pool *pgxpool.Pool) *ReputationRepo {
	return &ReputationRepo{pool: pool}
}

// CreateTx appends an immutable event inside the caller's transaction.
// There is no update or delete path for reputation events.
func (r *ReputationRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.ReputationEvent) error {
	return tx.QueryRow(ctx, `
		INSERT INTO reputation_events (id, worker_id, kind, points_delta, previous_score, new_score, rating, on_time, task_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, e.ID, e.WorkerID, e.Kind, e.PointsDelta, e.PreviousScore, e.NewScore, e.Rating, e.OnTime, e.TaskID).Scan(&e.CreatedAt)
}

// ListByWorker returns the worker's events in creation order, which is the
// order they must be replayed in.
func (r *ReputationRepo) ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.ReputationEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, worker_id, kind, points_delta, previous_score, new_score, rating, on_time, task_id, created_at
		FROM reputation_events WHERE worker_id = $1 ORDER BY created_at ASC, id ASC
	`, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.ReputationEvent
	for rows.Next() {
		var e models.ReputationEvent
		if err := rows.Scan(&e.ID, &e.WorkerID, &e.Kind, &e.PointsDelta, &e.PreviousScore, &e.NewScore, &e.Rating, &e.OnTime, &e.TaskID, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

// Aggregates folds the worker's event history into counters in one query.
func (r *ReputationRepo) Aggregates(ctx context.Context, workerID uuid.UUID) (*models.ReputationAggregates, error) {
	var a models.ReputationAggregates
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE kind = $2),
			COUNT(*) FILTER (WHERE kind = $2 AND on_time),
			COUNT(*) FILTER (WHERE kind = $3),
			COUNT(*) FILTER (WHERE kind = $4),
			COUNT(rating),
			COALESCE(SUM(rating), 0)
		FROM reputation_events WHERE worker_id = $1
	`, workerID, models.RepEventTaskCompleted, models.RepEventTaskLate, models.RepEventDisputeFiled).
		Scan(&a.TasksCompleted, &a.TasksOnTime, &a.TasksLate, &a.DisputesFiled, &a.RatingCount, &a.RatingSum)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
