// Package reputation maintains the append-only scoring log per worker.
// The worker row carries a cached score; replaying the full event history
// from the base score must always reproduce it.
package reputation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/streampay/backend/internal/faults"
	"github.com/streampay/backend/internal/models"
)

// Points per event kind.
const (
	pointsTaskCompleted   = 2
	pointsOnTimeBonus     = 1
	pointsGoodRatingBonus = 1
	pointsTaskLate        = -3
	pointsDisputeResolved = 5
	pointsPerSeverity     = -10
	goodRatingThreshold   = 4
)

// WorkerRepo is the minimal worker repository interface for the ledger.
type WorkerRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Worker, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Worker, error)
	UpdateScoreTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, score int) error
}

// EventRepo is the minimal event repository interface for the ledger.
type EventRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.ReputationEvent) error
	ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.ReputationEvent, error)
	Aggregates(ctx context.Context, workerID uuid.UUID) (*models.ReputationAggregates, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Ledger appends reputation events and keeps the cached score in step.
type Ledger struct {
	Pool       TxBeginner
	WorkerRepo WorkerRepo
	EventRepo  EventRepo
}

// NewLedger returns a reputation ledger over the given repositories.
func NewLedger(pool TxBeginner, workerRepo WorkerRepo, eventRepo EventRepo) *Ledger {
	return &Ledger{Pool: pool, WorkerRepo: workerRepo, EventRepo: eventRepo}
}

// EventInput carries the kind-specific detail for RecordEvent.
type EventInput struct {
	Kind        string
	Rating      *int       // rating_received, or task_completed bonus
	OnTime      bool       // task_completed
	Severity    int        // dispute_filed, 1..5
	ManualDelta int        // manual_adjustment
	TaskID      *uuid.UUID // optional task reference
}

// RecordEvent computes the deterministic points delta for the event, clamps
// the new score to [0, 1000], appends the immutable event, and updates the
// worker's cached score, all in one transaction.
func (l *Ledger) RecordEvent(ctx context.Context, workerID uuid.UUID, in EventInput) (*models.ReputationEvent, error) {
	tx, err := l.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reputation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	event, err := l.RecordEventTx(ctx, tx, workerID, in)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reputation tx: %w", err)
	}
	return event, nil
}

// RecordEventTx is RecordEvent inside the caller's transaction, for callers
// that must append the event atomically with their own writes.
func (l *Ledger) RecordEventTx(ctx context.Context, tx pgx.Tx, workerID uuid.UUID, in EventInput) (*models.ReputationEvent, error) {
	delta, err := PointsDelta(in)
	if err != nil {
		return nil, err
	}

	worker, err := l.WorkerRepo.GetByIDForUpdate(ctx, tx, workerID)
	if err != nil {
		return nil, err
	}

	prev := worker.ReputationScore
	next := models.ClampScore(prev + delta)

	event := &models.ReputationEvent{
		ID:            uuid.New(),
		WorkerID:      workerID,
		Kind:          in.Kind,
		PointsDelta:   delta,
		PreviousScore: prev,
		NewScore:      next,
		Rating:        in.Rating,
		TaskID:        in.TaskID,
	}
	if in.Kind == models.RepEventTaskCompleted {
		onTime := in.OnTime
		event.OnTime = &onTime
	}

	if err := l.EventRepo.CreateTx(ctx, tx, event); err != nil {
		return nil, fmt.Errorf("append reputation event: %w", err)
	}
	if err := l.WorkerRepo.UpdateScoreTx(ctx, tx, workerID, next); err != nil {
		return nil, fmt.Errorf("update cached score: %w", err)
	}
	return event, nil
}

// PointsDelta returns the deterministic delta for an event input.
func PointsDelta(in EventInput) (int, error) {
	switch in.Kind {
	case models.RepEventTaskCompleted:
		delta := pointsTaskCompleted
		if in.OnTime {
			delta += pointsOnTimeBonus
		}
		if in.Rating != nil && *in.Rating >= goodRatingThreshold {
			delta += pointsGoodRatingBonus
		}
		return delta, nil
	case models.RepEventTaskLate:
		return pointsTaskLate, nil
	case models.RepEventDisputeFiled:
		if in.Severity < 1 || in.Severity > 5 {
			return 0, fmt.Errorf("%w: dispute severity must be in [1,5], got %d", faults.ErrInvalidParameters, in.Severity)
		}
		return pointsPerSeverity * in.Severity, nil
	case models.RepEventDisputeResolved:
		return pointsDisputeResolved, nil
	case models.RepEventRatingReceived:
		if in.Rating == nil || *in.Rating < 1 || *in.Rating > 5 {
			return 0, fmt.Errorf("%w: rating must be in [1,5]", faults.ErrInvalidParameters)
		}
		return *in.Rating - 3, nil
	case models.RepEventManualAdjustment:
		return in.ManualDelta, nil
	default:
		return 0, fmt.Errorf("%w: unknown event kind %q", faults.ErrInvalidParameters, in.Kind)
	}
}

// GetScore returns the worker's cached reputation score.
func (l *Ledger) GetScore(ctx context.Context, workerID uuid.UUID) (int, error) {
	worker, err := l.WorkerRepo.GetByID(ctx, workerID)
	if err != nil {
		return 0, err
	}
	return worker.ReputationScore, nil
}

// GetCompletionRate derives the completion rate from event history.
func (l *Ledger) GetCompletionRate(ctx context.Context, workerID uuid.UUID) (float64, error) {
	agg, err := l.EventRepo.Aggregates(ctx, workerID)
	if err != nil {
		return 0, err
	}
	return agg.CompletionRate(), nil
}

// GetAverageRating derives the mean received rating from event history.
func (l *Ledger) GetAverageRating(ctx context.Context, workerID uuid.UUID) (float64, error) {
	agg, err := l.EventRepo.Aggregates(ctx, workerID)
	if err != nil {
		return 0, err
	}
	return agg.AverageRating(), nil
}

// Replay folds an ordered event history over the base score. The result
// must equal every event's recorded NewScore along the way; a mismatch
// means the ledger has been corrupted and is reported as ErrInvalidState.
func Replay(events []*models.ReputationEvent) (int, error) {
	score := models.BaseReputationScore
	for _, e := range events {
		next := models.ClampScore(score + e.PointsDelta)
		if e.PreviousScore != score || e.NewScore != next {
			return 0, fmt.Errorf("%w: event %s breaks replay chain (have %d->%d, recorded %d->%d)",
				faults.ErrInvalidState, e.ID, score, next, e.PreviousScore, e.NewScore)
		}
		score = next
	}
	return score, nil
}

// VerifyWorker replays the worker's history and compares it to the cached
// score. Intended for integrity checks and tests.
func (l *Ledger) VerifyWorker(ctx context.Context, workerID uuid.UUID) error {
	events, err := l.EventRepo.ListByWorker(ctx, workerID)
	if err != nil {
		return err
	}
	replayed, err := Replay(events)
	if err != nil {
		return err
	}
	cached, err := l.GetScore(ctx, workerID)
	if err != nil {
		return err
	}
	if replayed != cached {
		return fmt.Errorf("%w: cached score %d does not match replayed score %d", faults.ErrInvalidState, cached, replayed)
	}
	return nil
}
