// Package payments orchestrates instant task payouts: idempotency, the
// verification verdict gate, fee and loan-deduction math, retried funds
// transfers, and the atomic ledger write tying it all together.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/streampay/backend/internal/faults"
	"github.com/streampay/backend/internal/models"
	"github.com/streampay/backend/internal/reputation"
	"github.com/streampay/backend/internal/verification"
	"github.com/streampay/backend/internal/wallet"
)

// Payment amount bounds.
var (
	MinPaymentAmount = decimal.RequireFromString("0.01")
	MaxPaymentAmount = decimal.NewFromInt(10000)
)

// Transfer retry policy. The wall-clock budget wins over the attempt count:
// the orchestrator reports failure rather than hang past it.
const (
	maxTransferAttempts = 3
	backoffBase         = 2 * time.Second
	transferBudget      = 3 * time.Second
)

// Receipt status values.
const (
	ReceiptConfirmed = "confirmed"
	ReceiptFailed    = "failed"
	ReceiptHeld      = "held"
)

// Receipt is the discriminated result of an instant payment. Business
// outcomes, verification rejection and exhausted retries included, are
// encoded here rather than returned as errors so duplicate triggers can
// replay the identical result.
type Receipt struct {
	IdempotencyKey string          `json:"idempotency_key"`
	TransactionID  uuid.UUID       `json:"transaction_id"`
	TaskID         uuid.UUID       `json:"task_id"`
	WorkerID       uuid.UUID       `json:"worker_id"`
	Status         string          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	Fee            decimal.Decimal `json:"fee"`
	NetAmount      decimal.Decimal `json:"net_amount"`
	LoanDeduction  decimal.Decimal `json:"loan_deduction"`
	PaidOut        decimal.Decimal `json:"paid_out"`
	TransferRef    string          `json:"transfer_ref,omitempty"`
	Reason         string          `json:"reason,omitempty"`
}

// TransactionStore persists and replays payment transactions.
type TransactionStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error)
	AdvanceStatus(ctx context.Context, id uuid.UUID, status string, transferRef, errorReason *string) error
	AdvanceStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, transferRef, errorReason *string) error
}

// TaskStore is the engine's window into the task-tracking subsystem.
type TaskStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	MarkPaidTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

// WorkerStore resolves workers and bumps their lifetime task stats.
type WorkerStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Worker, error)
	RecordTaskStatsTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, onTime bool, earned decimal.Decimal) error
}

// ReputationRecorder appends the task-completion event in the payment's
// transaction.
type ReputationRecorder interface {
	RecordEventTx(ctx context.Context, tx pgx.Tx, workerID uuid.UUID, in reputation.EventInput) (*models.ReputationEvent, error)
}

// LoanHook lets active loans deduct from payouts. The worker's loan lock is
// held from the deduction read through the settle commit, and the repayment
// lands in the settle transaction itself, so the withheld amount and the loan
// balance can never drift apart.
type LoanHook interface {
	LockWorkerLoans(workerID uuid.UUID) (release func())
	DeductionFor(ctx context.Context, workerID uuid.UUID, netAmount decimal.Decimal) (*models.Loan, decimal.Decimal, error)
	RepayFromEarningsTx(ctx context.Context, tx pgx.Tx, loanID uuid.UUID, amount decimal.Decimal) (*models.Loan, decimal.Decimal, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Orchestrator executes instant payments exactly once per idempotency key.
// Three layers back that guarantee: singleflight collapses concurrent calls
// in flight, the result cache absorbs near-term duplicates, and the unique
// idempotency_key column on transactions is the durable source of truth.
type Orchestrator struct {
	Pool           TxBeginner
	Txns           TransactionStore
	Tasks          TaskStore
	Workers        WorkerStore
	Reputation     ReputationRecorder
	Loans          LoanHook
	Verifier       verification.Provider
	Wallet         wallet.Client
	PlatformWallet string
	FeeRateBps     int
	Cache          ResultCache
	Logger         *slog.Logger

	group singleflight.Group
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator returns an orchestrator paying out of platformWallet with
// no platform fee.
func NewOrchestrator(pool TxBeginner, txns TransactionStore, tasks TaskStore, workers WorkerStore, rep ReputationRecorder, loans LoanHook, verifier verification.Provider, w wallet.Client, platformWallet string, cache ResultCache, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		Pool:           pool,
		Txns:           txns,
		Tasks:          tasks,
		Workers:        workers,
		Reputation:     rep,
		Loans:          loans,
		Verifier:       verifier,
		Wallet:         w,
		PlatformWallet: platformWallet,
		Cache:          cache,
		Logger:         logger,
		now:            time.Now,
		sleep:          sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DeriveKey is the deterministic idempotency key for a (task, worker) pair.
func DeriveKey(taskID, workerID uuid.UUID) string {
	return fmt.Sprintf("pay-%s-%s", taskID, workerID)
}

// ExecuteInstantPayment pays a worker for a completed task. A repeat call
// with the same key, supplied or derived from (taskID, workerID), returns
// the recorded receipt without moving funds again. Validation failures
// return an error with no side effects; verification rejection and
// exhausted transfer retries persist a transaction row and come back as a
// failed receipt.
func (o *Orchestrator) ExecuteInstantPayment(ctx context.Context, taskID, workerID uuid.UUID, amount decimal.Decimal, idempotencyKey string) (*Receipt, error) {
	if amount.LessThan(MinPaymentAmount) || amount.GreaterThan(MaxPaymentAmount) {
		return nil, fmt.Errorf("%w: amount %s outside [%s, %s]", faults.ErrInvalidParameters,
			amount, MinPaymentAmount, MaxPaymentAmount)
	}

	key := idempotencyKey
	if key == "" {
		key = DeriveKey(taskID, workerID)
	}

	v, err, _ := o.group.Do(key, func() (interface{}, error) {
		return o.execute(ctx, taskID, workerID, amount, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Receipt), nil
}

func (o *Orchestrator) execute(ctx context.Context, taskID, workerID uuid.UUID, amount decimal.Decimal, key string) (*Receipt, error) {
	if cached, ok, err := o.Cache.Get(ctx, key); err != nil {
		o.Logger.Warn("idempotency cache read failed", "key", key, "error", err)
	} else if ok {
		return cached, nil
	}

	if prior, err := o.Txns.GetByIdempotencyKey(ctx, key); err == nil {
		receipt := receiptFromTransaction(prior, key)
		o.cachePut(ctx, key, receipt)
		return receipt, nil
	} else if !errors.Is(err, faults.ErrNotFound) {
		return nil, fmt.Errorf("replay idempotency key: %w", err)
	}

	task, err := o.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	worker, err := o.Workers.GetByID(ctx, workerID)
	if err != nil {
		return nil, err
	}

	if task.WorkerID == nil || *task.WorkerID != workerID {
		return nil, fmt.Errorf("%w: task %s is not assigned to worker %s", faults.ErrInvalidParameters, taskID, workerID)
	}
	if task.Status != models.TaskStatusCompleted {
		return nil, fmt.Errorf("%w: task is %s, payment requires completed", faults.ErrInvalidState, task.Status)
	}
	if task.Paid {
		return nil, fmt.Errorf("%w: task %s is already paid", faults.ErrConflict, taskID)
	}
	if !worker.IsActive {
		return nil, fmt.Errorf("%w: worker %s is deactivated", faults.ErrInvalidState, workerID)
	}

	fee := amount.Mul(decimal.NewFromInt(int64(o.FeeRateBps))).Div(decimal.NewFromInt(10000)).Round(6)
	net := amount.Sub(fee)

	verdict, err := o.verify(ctx, task, worker, amount)
	if err != nil {
		return nil, err
	}
	switch verdict.Verdict {
	case verification.VerdictApprove:
		// proceed
	case verification.VerdictFlag:
		reason := "held for manual review: " + verdict.Reason
		return o.settle(ctx, key, task, worker, amount, fee, net, nil, decimal.Zero, "", models.TxStatusPending, reason)
	default:
		reason := "verification rejected: " + verdict.Reason
		return o.settle(ctx, key, task, worker, amount, fee, net, nil, decimal.Zero, "", models.TxStatusFailed, reason)
	}

	// The loan lock spans the deduction read, the transfer, and the settle
	// commit. Two concurrent payouts for the same worker therefore see each
	// other's repayments and cannot both withhold a full deduction.
	release := o.Loans.LockWorkerLoans(workerID)
	defer release()

	loan, deduction, err := o.Loans.DeductionFor(ctx, workerID, net)
	if err != nil {
		return nil, fmt.Errorf("compute loan deduction: %w", err)
	}
	payout := net.Sub(deduction)

	ref := "pay-" + key
	status, err := o.transferWithRetry(ctx, o.PlatformWallet, worker.WalletRef, payout, ref)
	if err != nil {
		o.Logger.Warn("payout transfer failed", "key", key, "task_id", taskID, "error", err)
		return o.settle(ctx, key, task, worker, amount, fee, net, nil, decimal.Zero, "", models.TxStatusFailed, err.Error())
	}

	return o.settle(ctx, key, task, worker, amount, fee, net, loan, deduction, status.SettlementRef, models.TxStatusConfirmed, "")
}

func (o *Orchestrator) verify(ctx context.Context, task *models.Task, worker *models.Worker, amount decimal.Decimal) (*verification.Result, error) {
	completedAt := o.now()
	if task.CompletedAt != nil {
		completedAt = *task.CompletedAt
	}
	result, err := o.Verifier.Verify(ctx, verification.TaskCompletion{
		TaskID:         task.ID,
		WorkerID:       worker.ID,
		Amount:         amount,
		CompletedAt:    completedAt,
		WorkerScore:    worker.ReputationScore,
		TasksCompleted: worker.TasksCompleted,
		AccountAgeDays: worker.AccountAgeDays(o.now()),
	})
	if err != nil {
		return nil, fmt.Errorf("verification verdict: %w", err)
	}
	return result, nil
}

// transferWithRetry drives the funds transfer with bounded attempts and
// exponential backoff, all inside one wall-clock budget.
func (o *Orchestrator) transferWithRetry(ctx context.Context, from, to string, amount decimal.Decimal, ref string) (*wallet.TransferStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, transferBudget)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= maxTransferAttempts; attempt++ {
		status, err := wallet.AwaitConfirmation(ctx, o.Wallet, from, to, amount, ref)
		if err == nil {
			return status, nil
		}
		lastErr = err
		if !faults.Retryable(err) {
			return nil, err
		}
		if attempt == maxTransferAttempts {
			break
		}
		if err := o.sleep(ctx, backoffBase*time.Duration(attempt)); err != nil {
			return nil, fmt.Errorf("%w: transfer budget exhausted after attempt %d: %s", faults.ErrTransient, attempt, lastErr)
		}
	}
	return nil, lastErr
}

// settle writes the payment outcome in one transaction: the transaction row,
// and for confirmed payouts the task paid flag, the worker's lifetime stats,
// the reputation event, and the repayment row for any loan deduction.
func (o *Orchestrator) settle(ctx context.Context, key string, task *models.Task, worker *models.Worker, amount, fee, net decimal.Decimal, loan *models.Loan, deduction decimal.Decimal, settlementRef, txStatus, reason string) (*Receipt, error) {
	tx, err := o.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin settle tx: %w", err)
	}
	defer tx.Rollback(ctx)

	txn := &models.Transaction{
		ID:             uuid.New(),
		Kind:           models.TxKindPayout,
		Amount:         amount,
		Fee:            fee,
		FromWallet:     o.PlatformWallet,
		ToWallet:       worker.WalletRef,
		Status:         txStatus,
		TaskID:         &task.ID,
		WorkerID:       worker.ID,
		IdempotencyKey: key,
	}
	if settlementRef != "" {
		txn.TransferRef = &settlementRef
	}
	if reason != "" {
		txn.ErrorReason = &reason
	}
	if err := o.Txns.CreateTx(ctx, tx, txn); err != nil {
		return nil, fmt.Errorf("record payment transaction: %w", err)
	}

	if txStatus == models.TxStatusConfirmed {
		if err := o.confirmPayoutTx(ctx, tx, key, task, worker, net, loan, deduction); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit settle tx: %w", err)
	}

	receipt := &Receipt{
		IdempotencyKey: key,
		TransactionID:  txn.ID,
		TaskID:         task.ID,
		WorkerID:       worker.ID,
		Status:         receiptStatus(txStatus),
		Amount:         amount,
		Fee:            fee,
		NetAmount:      net,
		LoanDeduction:  deduction,
		PaidOut:        net.Sub(deduction),
		TransferRef:    settlementRef,
		Reason:         reason,
	}
	if txStatus != models.TxStatusConfirmed {
		receipt.LoanDeduction = decimal.Zero
		receipt.PaidOut = decimal.Zero
	}
	o.cachePut(ctx, key, receipt)

	o.Logger.Info("instant payment settled", "key", key, "task_id", task.ID,
		"worker_id", worker.ID, "status", receipt.Status, "paid_out", receipt.PaidOut)
	return receipt, nil
}

// confirmPayoutTx applies the side effects of a confirmed payout inside tx:
// the task paid flag, the worker's lifetime stats, the reputation event, and
// for an active loan the repayment row together with the balance update. The
// repayment and the payout row share the transaction: either both commit or
// neither does.
func (o *Orchestrator) confirmPayoutTx(ctx context.Context, tx pgx.Tx, key string, task *models.Task, worker *models.Worker, net decimal.Decimal, loan *models.Loan, deduction decimal.Decimal) error {
	onTime := task.CompletedOnTime()
	if err := o.Tasks.MarkPaidTx(ctx, tx, task.ID); err != nil {
		return fmt.Errorf("mark task paid: %w", err)
	}
	if err := o.Workers.RecordTaskStatsTx(ctx, tx, worker.ID, onTime, net); err != nil {
		return fmt.Errorf("record worker stats: %w", err)
	}
	if _, err := o.Reputation.RecordEventTx(ctx, tx, worker.ID, reputation.EventInput{
		Kind:   models.RepEventTaskCompleted,
		OnTime: onTime,
		TaskID: &task.ID,
	}); err != nil {
		return fmt.Errorf("append reputation event: %w", err)
	}
	if loan != nil && deduction.Sign() > 0 {
		repayTxn := &models.Transaction{
			ID:             uuid.New(),
			Kind:           models.TxKindRepayment,
			Amount:         deduction,
			Fee:            decimal.Zero,
			FromWallet:     worker.WalletRef,
			ToWallet:       o.PlatformWallet,
			Status:         models.TxStatusConfirmed,
			TaskID:         &task.ID,
			LoanID:         &loan.ID,
			WorkerID:       worker.ID,
			IdempotencyKey: key + "#repay",
		}
		if err := o.Txns.CreateTx(ctx, tx, repayTxn); err != nil {
			return fmt.Errorf("record repayment transaction: %w", err)
		}
		if _, _, err := o.Loans.RepayFromEarningsTx(ctx, tx, loan.ID, deduction); err != nil {
			return fmt.Errorf("apply loan repayment: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) cachePut(ctx context.Context, key string, r *Receipt) {
	if err := o.Cache.Put(ctx, key, r); err != nil {
		o.Logger.Warn("idempotency cache write failed", "key", key, "error", err)
	}
}

// RetryFailedPayment re-runs a payout whose transaction ended failed. The
// retry gets its own deterministic key derived from the failed transaction,
// so retrying the same failure twice still moves funds at most once.
func (o *Orchestrator) RetryFailedPayment(ctx context.Context, transactionID uuid.UUID) (*Receipt, error) {
	txn, err := o.Txns.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Kind != models.TxKindPayout {
		return nil, fmt.Errorf("%w: transaction %s is a %s, not a payout", faults.ErrInvalidParameters, transactionID, txn.Kind)
	}
	if txn.Status != models.TxStatusFailed {
		return nil, fmt.Errorf("%w: transaction is %s, retry requires failed", faults.ErrInvalidState, txn.Status)
	}
	if txn.TaskID == nil {
		return nil, fmt.Errorf("%w: transaction %s has no task reference", faults.ErrInvalidState, transactionID)
	}

	if err := o.Cache.Evict(ctx, txn.IdempotencyKey); err != nil {
		o.Logger.Warn("evicting stale receipt failed", "key", txn.IdempotencyKey, "error", err)
	}
	return o.ExecuteInstantPayment(ctx, *txn.TaskID, txn.WorkerID, txn.Amount, "retry-"+transactionID.String())
}

// ResolveHeldPayment completes the manual review of a payment the
// verification gate held. Approve moves the funds and confirms the
// transaction with the full confirmed-payout side effects; reject marks it
// failed with the given reason. Either way the decision is final.
func (o *Orchestrator) ResolveHeldPayment(ctx context.Context, transactionID uuid.UUID, approve bool, reason string) (*Receipt, error) {
	txn, err := o.Txns.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Kind != models.TxKindPayout {
		return nil, fmt.Errorf("%w: transaction %s is a %s, not a payout", faults.ErrInvalidParameters, transactionID, txn.Kind)
	}
	if txn.StatusFinal() {
		return nil, fmt.Errorf("%w: transaction is already %s", faults.ErrInvalidState, txn.Status)
	}
	if txn.TaskID == nil {
		return nil, fmt.Errorf("%w: transaction %s has no task reference", faults.ErrInvalidState, transactionID)
	}

	v, err, _ := o.group.Do("resolve:"+txn.IdempotencyKey, func() (interface{}, error) {
		if approve {
			return o.releaseHeld(ctx, txn)
		}
		return o.rejectHeld(ctx, txn, reason)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Receipt), nil
}

func (o *Orchestrator) rejectHeld(ctx context.Context, txn *models.Transaction, reason string) (*Receipt, error) {
	if reason == "" {
		reason = "rejected on manual review"
	}
	if err := o.Txns.AdvanceStatus(ctx, txn.ID, models.TxStatusFailed, nil, &reason); err != nil {
		return nil, err
	}
	txn.Status = models.TxStatusFailed
	txn.ErrorReason = &reason

	receipt := receiptFromTransaction(txn, txn.IdempotencyKey)
	o.cachePut(ctx, txn.IdempotencyKey, receipt)
	o.Logger.Info("held payment rejected", "transaction_id", txn.ID, "reason", reason)
	return receipt, nil
}

func (o *Orchestrator) releaseHeld(ctx context.Context, txn *models.Transaction) (*Receipt, error) {
	task, err := o.Tasks.GetByID(ctx, *txn.TaskID)
	if err != nil {
		return nil, err
	}
	worker, err := o.Workers.GetByID(ctx, txn.WorkerID)
	if err != nil {
		return nil, err
	}
	if task.Paid {
		return nil, fmt.Errorf("%w: task %s is already paid", faults.ErrConflict, task.ID)
	}
	if !worker.IsActive {
		return nil, fmt.Errorf("%w: worker %s is deactivated", faults.ErrInvalidState, worker.ID)
	}

	net := txn.Amount.Sub(txn.Fee)

	release := o.Loans.LockWorkerLoans(worker.ID)
	defer release()

	loan, deduction, err := o.Loans.DeductionFor(ctx, worker.ID, net)
	if err != nil {
		return nil, fmt.Errorf("compute loan deduction: %w", err)
	}
	payout := net.Sub(deduction)

	// Mark the transfer in flight before touching funds. A crash between
	// the transfer and the confirm leaves a submitted row for operators to
	// re-resolve, not a pending one that looks untouched; the transfer ref
	// keeps the re-run from paying twice.
	if err := o.Txns.AdvanceStatus(ctx, txn.ID, models.TxStatusSubmitted, nil, nil); err != nil {
		return nil, err
	}

	ref := "pay-" + txn.IdempotencyKey
	status, err := o.transferWithRetry(ctx, o.PlatformWallet, worker.WalletRef, payout, ref)
	if err != nil {
		o.Logger.Warn("released payout transfer failed", "transaction_id", txn.ID, "error", err)
		errMsg := err.Error()
		if advErr := o.Txns.AdvanceStatus(ctx, txn.ID, models.TxStatusFailed, nil, &errMsg); advErr != nil {
			return nil, advErr
		}
		txn.Status = models.TxStatusFailed
		txn.ErrorReason = &errMsg
		receipt := receiptFromTransaction(txn, txn.IdempotencyKey)
		o.cachePut(ctx, txn.IdempotencyKey, receipt)
		return receipt, nil
	}

	tx, err := o.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin release tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := o.Txns.AdvanceStatusTx(ctx, tx, txn.ID, models.TxStatusConfirmed, &status.SettlementRef, nil); err != nil {
		return nil, err
	}
	if err := o.confirmPayoutTx(ctx, tx, txn.IdempotencyKey, task, worker, net, loan, deduction); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit release tx: %w", err)
	}

	receipt := &Receipt{
		IdempotencyKey: txn.IdempotencyKey,
		TransactionID:  txn.ID,
		TaskID:         task.ID,
		WorkerID:       worker.ID,
		Status:         ReceiptConfirmed,
		Amount:         txn.Amount,
		Fee:            txn.Fee,
		NetAmount:      net,
		LoanDeduction:  deduction,
		PaidOut:        payout,
		TransferRef:    status.SettlementRef,
	}
	o.cachePut(ctx, txn.IdempotencyKey, receipt)
	o.Logger.Info("held payment released", "transaction_id", txn.ID,
		"task_id", task.ID, "paid_out", payout)
	return receipt, nil
}

func receiptStatus(txStatus string) string {
	switch txStatus {
	case models.TxStatusConfirmed:
		return ReceiptConfirmed
	case models.TxStatusFailed:
		return ReceiptFailed
	default:
		return ReceiptHeld
	}
}

// receiptFromTransaction rebuilds a receipt from the durable row when the
// cache has already evicted it.
func receiptFromTransaction(t *models.Transaction, key string) *Receipt {
	r := &Receipt{
		IdempotencyKey: key,
		TransactionID:  t.ID,
		WorkerID:       t.WorkerID,
		Status:         receiptStatus(t.Status),
		Amount:         t.Amount,
		Fee:            t.Fee,
		NetAmount:      t.Amount.Sub(t.Fee),
		LoanDeduction:  decimal.Zero,
		PaidOut:        decimal.Zero,
	}
	if t.TaskID != nil {
		r.TaskID = *t.TaskID
	}
	if t.TransferRef != nil {
		r.TransferRef = *t.TransferRef
	}
	if t.ErrorReason != nil {
		r.Reason = *t.ErrorReason
	}
	if t.Status == models.TxStatusConfirmed {
		r.PaidOut = r.NetAmount
	}
	return r
}
