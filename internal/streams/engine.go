// Package streams implements the escrow state machine for time-based
// payment release. Funds are escrowed up front, vest pro-rata over the
// stream duration, and move to the worker only on claim.
package streams

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/faults"
	"github.com/streampay/backend/internal/locks"
	"github.com/streampay/backend/internal/models"
	"github.com/streampay/backend/internal/wallet"
)

// ErrNothingToClaim is returned when the released balance is fully claimed.
var ErrNothingToClaim = fmt.Errorf("%w: nothing to claim", faults.ErrInvalidState)

// StreamRepo is the minimal stream repository interface for the engine.
type StreamRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, s *models.PaymentStream) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentStream, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PaymentStream, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, s *models.PaymentStream) error
	ListDueActive(ctx context.Context, now time.Time, limit int) ([]*models.PaymentStream, error)
}

// WorkerSource resolves workers for ownership checks and wallet refs.
type WorkerSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Worker, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Engine drives the payment-stream state machine. Mutations on the same
// stream serialize through the keyed lock and a row lock; releases are
// recomputed from elapsed time, so duplicate release calls are safe no-ops.
type Engine struct {
	Pool         TxBeginner
	Streams      StreamRepo
	Workers      WorkerSource
	Wallet       wallet.Client
	EscrowWallet string
	Locks        *locks.Keyed
	Logger       *slog.Logger
	now          func() time.Time
}

// NewEngine returns a stream engine holding escrow in escrowWallet.
func NewEngine(pool TxBeginner, streams StreamRepo, workers WorkerSource, w wallet.Client, escrowWallet string, logger *slog.Logger) *Engine {
	return &Engine{
		Pool:         pool,
		Streams:      streams,
		Workers:      workers,
		Wallet:       w,
		EscrowWallet: escrowWallet,
		Locks:        locks.NewKeyed(),
		Logger:       logger,
		now:          time.Now,
	}
}

// CreateStream escrows totalAmount from the platform wallet and opens an
// active stream vesting over duration, releasable every releaseInterval.
func (e *Engine) CreateStream(ctx context.Context, workerID, platformID uuid.UUID, platformWallet string, totalAmount decimal.Decimal, duration, releaseInterval time.Duration) (*models.PaymentStream, error) {
	if totalAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: total amount must be positive", faults.ErrInvalidParameters)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", faults.ErrInvalidParameters)
	}
	if releaseInterval <= 0 || releaseInterval > duration {
		return nil, fmt.Errorf("%w: release interval must be in (0, duration]", faults.ErrInvalidParameters)
	}

	worker, err := e.Workers.GetByID(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if !worker.IsActive {
		return nil, fmt.Errorf("%w: worker %s is deactivated", faults.ErrInvalidState, workerID)
	}

	now := e.now()
	stream := &models.PaymentStream{
		ID:              uuid.New(),
		WorkerID:        workerID,
		PlatformID:      platformID,
		PlatformWallet:  platformWallet,
		TotalAmount:     totalAmount,
		ReleasedAmount:  decimal.Zero,
		ClaimedAmount:   decimal.Zero,
		StartTime:       now,
		Duration:        duration,
		ReleaseInterval: releaseInterval,
		LastReleaseTime: now,
		Status:          models.StreamStatusActive,
	}

	// Escrow before the row exists: a failed transfer leaves no stream.
	if _, err := wallet.AwaitConfirmation(ctx, e.Wallet, platformWallet, e.EscrowWallet, totalAmount, "stream-escrow-"+stream.ID.String()); err != nil {
		return nil, fmt.Errorf("escrow stream funds: %w", err)
	}

	tx, err := e.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create-stream tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := e.Streams.CreateTx(ctx, tx, stream); err != nil {
		// Funds are already in escrow with the stream id as reference;
		// operators can reconcile from there.
		e.Logger.Error("stream insert failed after escrow transfer",
			"stream_id", stream.ID, "amount", totalAmount, "error", err)
		return nil, fmt.Errorf("create stream: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create-stream tx: %w", err)
	}

	e.Logger.Info("stream created", "stream_id", stream.ID, "worker_id", workerID, "total", totalAmount)
	return stream, nil
}

// ReleasePayment vests the pro-rata amount due since the stream started.
// Calling it before the next interval is due is a no-op, not an error; the
// releasable amount is recomputed from elapsed time, never from a counter,
// so retries cannot double-release.
func (e *Engine) ReleasePayment(ctx context.Context, streamID uuid.UUID) (*models.PaymentStream, error) {
	unlock := e.Locks.Lock("stream:" + streamID.String())
	defer unlock()

	tx, err := e.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin release tx: %w", err)
	}
	defer tx.Rollback(ctx)

	stream, err := e.Streams.GetByIDForUpdate(ctx, tx, streamID)
	if err != nil {
		return nil, err
	}
	if stream.Status != models.StreamStatusActive {
		return nil, fmt.Errorf("%w: cannot release on %s stream", faults.ErrInvalidState, stream.Status)
	}

	now := e.now()
	if now.Sub(stream.LastReleaseTime) < stream.ReleaseInterval {
		return stream, nil // not due yet
	}

	releasable := vestedAmount(stream, now).Sub(stream.ReleasedAmount)
	if releasable.Sign() > 0 {
		stream.ReleasedAmount = stream.ReleasedAmount.Add(releasable)
	}
	stream.LastReleaseTime = now

	if stream.ReleasedAmount.GreaterThanOrEqual(stream.TotalAmount) || now.Sub(stream.StartTime) >= stream.Duration {
		stream.Status = models.StreamStatusCompleted
	}

	if err := e.Streams.UpdateTx(ctx, tx, stream); err != nil {
		return nil, fmt.Errorf("update stream on release: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit release tx: %w", err)
	}
	return stream, nil
}

// vestedAmount is the cumulative amount earned by elapsed time:
// min(total, total * elapsed / duration).
func vestedAmount(s *models.PaymentStream, now time.Time) decimal.Decimal {
	elapsed := now.Sub(s.StartTime)
	if elapsed >= s.Duration {
		return s.TotalAmount
	}
	if elapsed <= 0 {
		return decimal.Zero
	}
	fraction := decimal.NewFromInt(elapsed.Nanoseconds()).Div(decimal.NewFromInt(s.Duration.Nanoseconds()))
	return s.TotalAmount.Mul(fraction).Round(6)
}

// ClaimEarnings transfers the released-but-unclaimed balance to the owning
// worker's wallet.
func (e *Engine) ClaimEarnings(ctx context.Context, streamID, workerID uuid.UUID) (*models.PaymentStream, error) {
	unlock := e.Locks.Lock("stream:" + streamID.String())
	defer unlock()

	worker, err := e.Workers.GetByID(ctx, workerID)
	if err != nil {
		return nil, err
	}

	tx, err := e.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	stream, err := e.Streams.GetByIDForUpdate(ctx, tx, streamID)
	if err != nil {
		return nil, err
	}
	if stream.WorkerID != workerID {
		return nil, fmt.Errorf("%w: stream %s is not owned by worker %s", faults.ErrInvalidParameters, streamID, workerID)
	}
	if stream.Status == models.StreamStatusCancelled {
		return nil, fmt.Errorf("%w: stream is cancelled and settled", faults.ErrInvalidState)
	}

	claimable := stream.Unclaimed()
	if claimable.Sign() <= 0 {
		return nil, ErrNothingToClaim
	}

	newClaimed := stream.ClaimedAmount.Add(claimable)
	ref := fmt.Sprintf("stream-claim-%s-%s", streamID, newClaimed)
	if _, err := wallet.AwaitConfirmation(ctx, e.Wallet, e.EscrowWallet, worker.WalletRef, claimable, ref); err != nil {
		return nil, fmt.Errorf("transfer claim to worker: %w", err)
	}

	stream.ClaimedAmount = newClaimed
	if err := e.Streams.UpdateTx(ctx, tx, stream); err != nil {
		return nil, fmt.Errorf("update stream on claim: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}

	e.Logger.Info("stream earnings claimed", "stream_id", streamID, "worker_id", workerID, "amount", claimable)
	return stream, nil
}

// PauseStream moves an active stream to paused. Platform/system only.
func (e *Engine) PauseStream(ctx context.Context, streamID uuid.UUID) (*models.PaymentStream, error) {
	return e.setStatus(ctx, streamID, models.StreamStatusActive, models.StreamStatusPaused, false)
}

// ResumeStream moves a paused stream back to active and resets the release
// clock so paused time earns no retroactive credit at the next interval.
func (e *Engine) ResumeStream(ctx context.Context, streamID uuid.UUID) (*models.PaymentStream, error) {
	return e.setStatus(ctx, streamID, models.StreamStatusPaused, models.StreamStatusActive, true)
}

func (e *Engine) setStatus(ctx context.Context, streamID uuid.UUID, from, to string, resetReleaseClock bool) (*models.PaymentStream, error) {
	unlock := e.Locks.Lock("stream:" + streamID.String())
	defer unlock()

	tx, err := e.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin status tx: %w", err)
	}
	defer tx.Rollback(ctx)

	stream, err := e.Streams.GetByIDForUpdate(ctx, tx, streamID)
	if err != nil {
		return nil, err
	}
	if stream.Status != from {
		return nil, fmt.Errorf("%w: stream is %s, expected %s", faults.ErrInvalidState, stream.Status, from)
	}
	stream.Status = to
	if resetReleaseClock {
		stream.LastReleaseTime = e.now()
	}
	if err := e.Streams.UpdateTx(ctx, tx, stream); err != nil {
		return nil, fmt.Errorf("update stream status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit status tx: %w", err)
	}
	return stream, nil
}

// CancelStream settles an active or paused stream exactly once: the
// released-but-unclaimed balance goes to the worker and is marked claimed,
// the unreleased remainder refunds to the platform, and the stream becomes
// cancelled. Re-invocation fails with invalid state.
func (e *Engine) CancelStream(ctx context.Context, streamID uuid.UUID) (*models.PaymentStream, error) {
	unlock := e.Locks.Lock("stream:" + streamID.String())
	defer unlock()

	tx, err := e.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	stream, err := e.Streams.GetByIDForUpdate(ctx, tx, streamID)
	if err != nil {
		return nil, err
	}
	if stream.Status != models.StreamStatusActive && stream.Status != models.StreamStatusPaused {
		return nil, fmt.Errorf("%w: cannot cancel %s stream", faults.ErrInvalidState, stream.Status)
	}

	worker, err := e.Workers.GetByID(ctx, stream.WorkerID)
	if err != nil {
		return nil, err
	}

	unclaimed := stream.Unclaimed()
	if unclaimed.Sign() > 0 {
		ref := "stream-cancel-worker-" + streamID.String()
		if _, err := wallet.AwaitConfirmation(ctx, e.Wallet, e.EscrowWallet, worker.WalletRef, unclaimed, ref); err != nil {
			return nil, fmt.Errorf("pay out unclaimed on cancel: %w", err)
		}
		stream.ClaimedAmount = stream.ReleasedAmount
	}

	refund := stream.Unreleased()
	if refund.Sign() > 0 {
		ref := "stream-cancel-refund-" + streamID.String()
		if _, err := wallet.AwaitConfirmation(ctx, e.Wallet, e.EscrowWallet, stream.PlatformWallet, refund, ref); err != nil {
			return nil, fmt.Errorf("refund platform on cancel: %w", err)
		}
	}

	stream.Status = models.StreamStatusCancelled
	if err := e.Streams.UpdateTx(ctx, tx, stream); err != nil {
		return nil, fmt.Errorf("update stream on cancel: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cancel tx: %w", err)
	}

	e.Logger.Info("stream cancelled", "stream_id", streamID, "paid_worker", unclaimed, "refunded_platform", refund)
	return stream, nil
}

// GetStreamDetails returns the stream by id.
func (e *Engine) GetStreamDetails(ctx context.Context, streamID uuid.UUID) (*models.PaymentStream, error) {
	return e.Streams.GetByID(ctx, streamID)
}

// ReleaseDue releases every active stream whose interval has elapsed.
// Called by the periodic background worker; per-stream failures are logged
// and skipped so one bad stream cannot stall the sweep.
func (e *Engine) ReleaseDue(ctx context.Context, limit int) (int, error) {
	due, err := e.Streams.ListDueActive(ctx, e.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list due streams: %w", err)
	}
	released := 0
	for _, s := range due {
		if _, err := e.ReleasePayment(ctx, s.ID); err != nil {
			e.Logger.Error("periodic release failed", "stream_id", s.ID, "error", err)
			continue
		}
		released++
	}
	return released, nil
}
