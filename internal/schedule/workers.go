// Package schedule holds the River background jobs driving time-based
// behavior: periodic stream releases, the loan default sweep, and queued
// instant payments.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/faults"
	"github.com/streampay/backend/internal/payments"
)

// Sweep batch sizes and cadences.
const (
	releaseBatchSize = 500
	defaultBatchSize = 200

	ReleaseInterval      = 30 * time.Second
	DefaultSweepInterval = time.Hour
)

// ---------------------------------------------------------------------------
// Periodic stream release
// ---------------------------------------------------------------------------

type ReleaseStreamsArgs struct{}

func (ReleaseStreamsArgs) Kind() string { return "release_due_streams" }

// StreamReleaser is the slice of the stream engine the sweep needs.
type StreamReleaser interface {
	ReleaseDue(ctx context.Context, limit int) (int, error)
}

type ReleaseStreamsWorker struct {
	river.WorkerDefaults[ReleaseStreamsArgs]
	engine StreamReleaser
	log    *slog.Logger
}

func NewReleaseStreamsWorker(engine StreamReleaser, log *slog.Logger) *ReleaseStreamsWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ReleaseStreamsWorker{engine: engine, log: log}
}

func (w *ReleaseStreamsWorker) Work(ctx context.Context, _ *river.Job[ReleaseStreamsArgs]) error {
	released, err := w.engine.ReleaseDue(ctx, releaseBatchSize)
	if err != nil {
		return fmt.Errorf("release due streams: %w", err)
	}
	if released > 0 {
		w.log.Info("periodic stream release", "released", released)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Periodic loan default sweep
// ---------------------------------------------------------------------------

type SweepLoanDefaultsArgs struct{}

func (SweepLoanDefaultsArgs) Kind() string { return "sweep_loan_defaults" }

// Defaulter is the slice of the loan manager the sweep needs.
type Defaulter interface {
	SweepDefaults(ctx context.Context, limit int) (int, error)
}

type SweepLoanDefaultsWorker struct {
	river.WorkerDefaults[SweepLoanDefaultsArgs]
	loans Defaulter
	log   *slog.Logger
}

func NewSweepLoanDefaultsWorker(loans Defaulter, log *slog.Logger) *SweepLoanDefaultsWorker {
	if log == nil {
		log = slog.Default()
	}
	return &SweepLoanDefaultsWorker{loans: loans, log: log}
}

func (w *SweepLoanDefaultsWorker) Work(ctx context.Context, _ *river.Job[SweepLoanDefaultsArgs]) error {
	defaulted, err := w.loans.SweepDefaults(ctx, defaultBatchSize)
	if err != nil {
		return fmt.Errorf("sweep loan defaults: %w", err)
	}
	if defaulted > 0 {
		w.log.Warn("loan default sweep", "defaulted", defaulted)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Queued instant payments
// ---------------------------------------------------------------------------

type InstantPaymentArgs struct {
	TaskID         uuid.UUID       `json:"task_id"`
	WorkerID       uuid.UUID       `json:"worker_id"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

func (InstantPaymentArgs) Kind() string { return "instant_payment" }

// Payer is the slice of the payment orchestrator the worker needs.
type Payer interface {
	ExecuteInstantPayment(ctx context.Context, taskID, workerID uuid.UUID, amount decimal.Decimal, idempotencyKey string) (*payments.Receipt, error)
}

// InstantPaymentWorker runs queued payouts. Business outcomes, failed and
// held receipts included, complete the job: the orchestrator has recorded
// them durably and retrying through River would just replay the receipt.
// Only infrastructure errors bubble up for River's retry policy.
type InstantPaymentWorker struct {
	river.WorkerDefaults[InstantPaymentArgs]
	orchestrator Payer
	log          *slog.Logger
}

func NewInstantPaymentWorker(orchestrator Payer, log *slog.Logger) *InstantPaymentWorker {
	if log == nil {
		log = slog.Default()
	}
	return &InstantPaymentWorker{orchestrator: orchestrator, log: log}
}

func (w *InstantPaymentWorker) Work(ctx context.Context, job *river.Job[InstantPaymentArgs]) error {
	args := job.Args
	receipt, err := w.orchestrator.ExecuteInstantPayment(ctx, args.TaskID, args.WorkerID, args.Amount, args.IdempotencyKey)
	if err != nil {
		// Validation failures cannot succeed on retry; anything else,
		// classified transient or not, goes back to River's retry policy.
		if errors.Is(err, faults.ErrInvalidParameters) || errors.Is(err, faults.ErrInvalidState) || errors.Is(err, faults.ErrNotFound) {
			w.log.Error("queued payment dropped", "task_id", args.TaskID, "error", err)
			return river.JobCancel(err)
		}
		return fmt.Errorf("queued payment: %w", err)
	}
	if receipt.Status != payments.ReceiptConfirmed {
		w.log.Warn("queued payment not confirmed", "task_id", args.TaskID,
			"status", receipt.Status, "reason", receipt.Reason)
	}
	return nil
}

// PeriodicJobs returns the recurring jobs for the River client config.
func PeriodicJobs() []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(ReleaseInterval),
			func() (river.JobArgs, *river.InsertOpts) { return ReleaseStreamsArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(DefaultSweepInterval),
			func() (river.JobArgs, *river.InsertOpts) { return SweepLoanDefaultsArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}
