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

const streamColumns = `id, worker_id, platform_id, platform_wallet, total_amount, released_amount, claimed_amount, start_time, duration_seconds, release_interval_seconds, last_release_time, status, created_at, updated_at`

type StreamRepo struct {
	pool *pgxpool.Pool
}

func NewStreamRepo(pool *pgxpool.Pool) *StreamRepo {
	return &StreamRepo{pool: pool}
}

func (r *StreamRepo) CreateTx(ctx context.Context, tx pgx.Tx, s *models.PaymentStream) error {
	return tx.QueryRow(ctx, `
		INSERT INTO payment_streams (id, worker_id, platform_id, platform_wallet, total_amount, released_amount, claimed_amount, start_time, duration_seconds, release_interval_seconds, last_release_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`, s.ID, s.WorkerID, s.PlatformID, s.PlatformWallet, s.TotalAmount, s.ReleasedAmount, s.ClaimedAmount, s.StartTime,
		int64(s.Duration/time.Second), int64(s.ReleaseInterval/time.Second), s.LastReleaseTime, s.Status).
		Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *StreamRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentStream, error) {
	return scanStream(r.pool.QueryRow(ctx, `
		SELECT `+streamColumns+` FROM payment_streams WHERE id = $1
	`, id))
}

// GetByIDForUpdate locks the stream row for the duration of the transaction.
func (r *StreamRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PaymentStream, error) {
	return scanStream(tx.QueryRow(ctx, `
		SELECT `+streamColumns+` FROM payment_streams WHERE id = $1 FOR UPDATE
	`, id))
}

// UpdateTx writes the mutable stream fields inside the caller's transaction.
func (r *StreamRepo) UpdateTx(ctx context.Context, tx pgx.Tx, s *models.PaymentStream) error {
	tag, err := tx.Exec(ctx, `
		UPDATE payment_streams
		SET released_amount = $2, claimed_amount = $3, last_release_time = $4, status = $5, updated_at = now()
		WHERE id = $1
	`, s.ID, s.ReleasedAmount, s.ClaimedAmount, s.LastReleaseTime, s.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: stream %s", faults.ErrNotFound, s.ID)
	}
	return nil
}

// ListDueActive returns active streams whose release interval has elapsed at
// the given instant. Used by the periodic release worker.
func (r *StreamRepo) ListDueActive(ctx context.Context, now time.Time, limit int) ([]*models.PaymentStream, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+streamColumns+`
		FROM payment_streams
		WHERE status = $1
		  AND last_release_time + release_interval_seconds * interval '1 second' <= $2
		ORDER BY last_release_time ASC
		LIMIT $3
	`, models.StreamStatusActive, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.PaymentStream
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (r *StreamRepo) ListByWorkerID(ctx context.Context, workerID uuid.UUID) ([]*models.PaymentStream, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+streamColumns+` FROM payment_streams WHERE worker_id = $1 ORDER BY created_at DESC
	`, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.PaymentStream
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func scanStream(row pgx.Row) (*models.PaymentStream, error) {
	var s models.PaymentStream
	var durationSec, intervalSec int64
	err := row.Scan(&s.ID, &s.WorkerID, &s.PlatformID, &s.PlatformWallet, &s.TotalAmount, &s.ReleasedAmount, &s.ClaimedAmount,
		&s.StartTime, &durationSec, &intervalSec, &s.LastReleaseTime, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: stream", faults.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	s.Duration = time.Duration(durationSec) * time.Second
	s.ReleaseInterval = time.Duration(intervalSec) * time.Second
	return &s, nil
}
