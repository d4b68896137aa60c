package loans

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/faults"
	"github.com/streampay/backend/internal/forecast"
	"github.com/streampay/backend/internal/models"
	"github.com/streampay/backend/internal/risk"
	"github.com/streampay/backend/internal/wallet"
)

// ---------------------------------------------------------------------------
// In-memory mocks
// ---------------------------------------------------------------------------

type mockLoans struct {
	mu    sync.Mutex
	loans map[uuid.UUID]*models.Loan
}

func newMockLoans() *mockLoans {
	return &mockLoans{loans: make(map[uuid.UUID]*models.Loan)}
}

func (m *mockLoans) Create(_ context.Context, l *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.loans[l.ID] = &cp
	return nil
}

func (m *mockLoans) GetByID(_ context.Context, id uuid.UUID) (*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[id]
	if !ok {
		return nil, fmt.Errorf("%w: loan", faults.ErrNotFound)
	}
	cp := *l
	return &cp, nil
}

func (m *mockLoans) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Loan, error) {
	return m.GetByID(ctx, id)
}

func (m *mockLoans) UpdateTx(_ context.Context, _ pgx.Tx, l *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loans[l.ID]; !ok {
		return fmt.Errorf("%w: loan", faults.ErrNotFound)
	}
	if l.Active() {
		for _, other := range m.loans {
			if other.ID != l.ID && other.WorkerID == l.WorkerID && other.Active() {
				return fmt.Errorf("%w: worker %s already has an active loan", faults.ErrConflict, l.WorkerID)
			}
		}
	}
	cp := *l
	m.loans[l.ID] = &cp
	return nil
}

func (m *mockLoans) GetOpenByWorker(_ context.Context, workerID uuid.UUID) (*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.loans {
		if l.WorkerID == workerID && !l.Terminal() {
			cp := *l
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: loan", faults.ErrNotFound)
}

func (m *mockLoans) GetActiveByWorker(_ context.Context, workerID uuid.UUID) (*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.loans {
		if l.WorkerID == workerID && l.Active() {
			cp := *l
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: loan", faults.ErrNotFound)
}

func (m *mockLoans) ListPastDue(_ context.Context, limit int) ([]*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// The due-date comparison lives in the database query; the mock returns
	// every repaying loan and lets MarkDefaulted apply the clock gate.
	var out []*models.Loan
	for _, l := range m.loans {
		if l.Status == models.LoanStatusRepaying && l.DueDate != nil {
			cp := *l
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type mockWorkers struct {
	workers map[uuid.UUID]*models.Worker
}

func (m *mockWorkers) GetByID(_ context.Context, id uuid.UUID) (*models.Worker, error) {
	w, ok := m.workers[id]
	if !ok {
		return nil, fmt.Errorf("%w: worker", faults.ErrNotFound)
	}
	cp := *w
	return &cp, nil
}

type mockAssessor struct {
	assessment *risk.Assessment
	err        error
}

func (m *mockAssessor) CalculateRiskScore(_ context.Context, workerID uuid.UUID) (*risk.Assessment, error) {
	if m.err != nil {
		return nil, m.err
	}
	a := *m.assessment
	a.WorkerID = workerID
	return &a, nil
}

type mockForecaster struct {
	prediction *forecast.Prediction
	err        error
}

func (m *mockForecaster) PredictEarnings(_ context.Context, _ uuid.UUID, _ int) (*forecast.Prediction, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.prediction, nil
}

// failWallet rejects every transfer with a transient error.
type failWallet struct{}

func (failWallet) Transfer(_ context.Context, _, _ string, _ decimal.Decimal, _ string) (*wallet.TransferResult, error) {
	return nil, fmt.Errorf("%w: provider unavailable", faults.ErrTransient)
}

func (failWallet) GetTransferStatus(_ context.Context, _ string) (*wallet.TransferStatus, error) {
	return nil, fmt.Errorf("%w: provider unavailable", faults.ErrTransient)
}

func (failWallet) GetBalance(_ context.Context, _ string) (decimal.Decimal, error) {
	return decimal.Zero, fmt.Errorf("%w: provider unavailable", faults.ErrTransient)
}

type noopTx struct{}

func (noopTx) Begin(_ context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

type fakeTx struct{ pgx.Tx }

func (fakeTx) Commit(_ context.Context) error   { return nil }
func (fakeTx) Rollback(_ context.Context) error { return nil }

// ---------------------------------------------------------------------------
// Test harness
// ---------------------------------------------------------------------------

const platformWallet = "wallet_platform_test"

type harness struct {
	manager  *Manager
	loans    *mockLoans
	sim      *wallet.Sim
	assessor *mockAssessor
	worker   *models.Worker
	clock    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	workerID := uuid.New()
	h := &harness{
		loans: newMockLoans(),
		sim:   wallet.NewSim(),
		assessor: &mockAssessor{assessment: &risk.Assessment{
			Score:      750,
			Eligible:   true,
			MaxAdvance: decimal.NewFromInt(500),
			FeeRateBps: 350,
		}},
		worker: &models.Worker{
			ID:        workerID,
			WalletRef: "wallet_worker_test",
			IsActive:  true,
		},
		clock: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	h.sim.Fund(platformWallet, decimal.NewFromInt(10000))

	forecaster := &mockForecaster{prediction: &forecast.Prediction{
		Days:  models.LoanTermDays,
		Total: decimal.NewFromInt(1200),
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.manager = NewManager(noopTx{}, h.loans,
		&mockWorkers{workers: map[uuid.UUID]*models.Worker{workerID: h.worker}},
		h.assessor, forecaster, h.sim, platformWallet, logger)
	h.manager.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) request(t *testing.T, amount int64) *models.Loan {
	t.Helper()
	l, err := h.manager.RequestAdvance(context.Background(), h.worker.ID, decimal.NewFromInt(amount))
	if err != nil {
		t.Fatalf("RequestAdvance: %v", err)
	}
	return l
}

func (h *harness) approve(t *testing.T, loanID uuid.UUID, amount int64, feeRateBps int) *models.Loan {
	t.Helper()
	l, err := h.manager.ApproveLoan(context.Background(), loanID, decimal.NewFromInt(amount), feeRateBps)
	if err != nil {
		t.Fatalf("ApproveLoan: %v", err)
	}
	return l
}

// ---------------------------------------------------------------------------
// 1. Requesting advances
// ---------------------------------------------------------------------------

func TestRequestAdvance(t *testing.T) {
	h := newHarness(t)
	loan := h.request(t, 100)

	if loan.Status != models.LoanStatusPending {
		t.Errorf("status: got %q, want pending", loan.Status)
	}
	if !loan.RequestedAmount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("requested: got %s, want 100", loan.RequestedAmount)
	}
	if loan.FeeRateBps != 350 {
		t.Errorf("fee rate from assessment: got %d, want 350", loan.FeeRateBps)
	}
}

func TestRequestAdvanceBlockedByOpenLoan(t *testing.T) {
	h := newHarness(t)
	h.request(t, 100)

	_, err := h.manager.RequestAdvance(context.Background(), h.worker.ID, decimal.NewFromInt(50))
	if !errors.Is(err, ErrAlreadyHasActiveLoan) {
		t.Errorf("got %v, want ErrAlreadyHasActiveLoan", err)
	}
}

func TestRequestAdvanceIneligible(t *testing.T) {
	h := newHarness(t)
	h.assessor.assessment = &risk.Assessment{
		Score:    400,
		Eligible: false,
		Reason:   "risk score 400 below eligibility threshold 600",
	}

	_, err := h.manager.RequestAdvance(context.Background(), h.worker.ID, decimal.NewFromInt(100))
	if !errors.Is(err, faults.ErrRejected) {
		t.Errorf("got %v, want ErrRejected", err)
	}
}

func TestRequestAdvanceExceedsLimit(t *testing.T) {
	h := newHarness(t)
	_, err := h.manager.RequestAdvance(context.Background(), h.worker.ID, decimal.NewFromInt(501))
	if !errors.Is(err, faults.ErrInvalidParameters) {
		t.Errorf("got %v, want ErrInvalidParameters", err)
	}
}

// ---------------------------------------------------------------------------
// 2. Approval and disbursement
// ---------------------------------------------------------------------------

func TestApproveLoanDisburses(t *testing.T) {
	h := newHarness(t)
	loan := h.request(t, 100)

	approved := h.approve(t, loan.ID, 80, 200)

	if approved.Status != models.LoanStatusRepaying {
		t.Errorf("status: got %q, want repaying", approved.Status)
	}
	if !approved.FeeAmount.Equal(decimal.RequireFromString("1.6")) {
		t.Errorf("fee: got %s, want 1.6", approved.FeeAmount)
	}
	if !approved.TotalDue.Equal(decimal.RequireFromString("81.6")) {
		t.Errorf("total due: got %s, want 81.6", approved.TotalDue)
	}
	wantDue := h.clock.AddDate(0, 0, models.LoanTermDays)
	if approved.DueDate == nil || !approved.DueDate.Equal(wantDue) {
		t.Errorf("due date: got %v, want %v", approved.DueDate, wantDue)
	}
	if approved.RepaymentTaskTarget <= 0 {
		t.Errorf("repayment target not set: %d", approved.RepaymentTaskTarget)
	}

	b, err := h.sim.GetBalance(context.Background(), h.worker.WalletRef)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !b.Equal(decimal.NewFromInt(80)) {
		t.Errorf("worker balance after disbursement: got %s, want 80", b)
	}
}

func TestApproveLoanValidation(t *testing.T) {
	h := newHarness(t)
	loan := h.request(t, 100)
	ctx := context.Background()

	cases := []struct {
		name   string
		amount int64
		bps    int
	}{
		{"fee rate below floor", 80, 199},
		{"fee rate above cap", 80, 501},
		{"approved exceeds requested", 101, 300},
		{"zero amount", 0, 300},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.manager.ApproveLoan(ctx, loan.ID, decimal.NewFromInt(tc.amount), tc.bps)
			if !errors.Is(err, faults.ErrInvalidParameters) {
				t.Errorf("got %v, want ErrInvalidParameters", err)
			}
		})
	}

	// Validation must not have consumed the pending state.
	if _, err := h.manager.ApproveLoan(ctx, loan.ID, decimal.NewFromInt(80), 200); err != nil {
		t.Errorf("approve after failed validation: %v", err)
	}
}

func TestApproveRollsBackOnDisbursementFailure(t *testing.T) {
	h := newHarness(t)
	loan := h.request(t, 100)
	h.manager.Wallet = failWallet{}

	_, err := h.manager.ApproveLoan(context.Background(), loan.ID, decimal.NewFromInt(80), 200)
	if !errors.Is(err, faults.ErrTransient) {
		t.Fatalf("got %v, want ErrTransient", err)
	}

	after, err := h.manager.GetLoanDetails(context.Background(), loan.ID)
	if err != nil {
		t.Fatalf("GetLoanDetails: %v", err)
	}
	if after.Status != models.LoanStatusPending {
		t.Errorf("status after failed disbursement: got %q, want pending", after.Status)
	}

	// A retry with a working provider succeeds from the rolled-back state.
	h.manager.Wallet = h.sim
	if _, err := h.manager.ApproveLoan(context.Background(), loan.ID, decimal.NewFromInt(80), 200); err != nil {
		t.Errorf("approve retry: %v", err)
	}
}

func TestApproveNonPendingLoan(t *testing.T) {
	h := newHarness(t)
	loan := h.request(t, 100)
	h.approve(t, loan.ID, 80, 200)

	_, err := h.manager.ApproveLoan(context.Background(), loan.ID, decimal.NewFromInt(80), 200)
	if !errors.Is(err, faults.ErrInvalidState) {
		t.Errorf("got %v, want ErrInvalidState", err)
	}
}

// ---------------------------------------------------------------------------
// 3. Repayment
// ---------------------------------------------------------------------------

func repay(t *testing.T, h *harness, loanID uuid.UUID, amount string) *models.Loan {
	t.Helper()
	l, _, err := h.manager.RepayFromEarnings(context.Background(), loanID, decimal.RequireFromString(amount))
	if err != nil {
		t.Fatalf("RepayFromEarnings(%s): %v", amount, err)
	}
	return l
}

func TestRepaymentCompletesExactlyAtTotalDue(t *testing.T) {
	h := newHarness(t)
	loan := h.request(t, 100)
	h.approve(t, loan.ID, 80, 200) // totalDue = 81.60

	for i, amount := range []string{"20", "20", "20"} {
		l := repay(t, h, loan.ID, amount)
		if l.Status != models.LoanStatusRepaying {
			t.Fatalf("repayment %d: got %q, want still repaying", i+1, l.Status)
		}
	}

	final := repay(t, h, loan.ID, "21.60")
	if final.Status != models.LoanStatusRepaid {
		t.Errorf("after final repayment: got %q, want repaid", final.Status)
	}
	if !final.RepaidAmount.Equal(final.TotalDue) {
		t.Errorf("repaid: got %s, want %s", final.RepaidAmount, final.TotalDue)
	}
	if final.RepaymentTasksDone != 4 {
		t.Errorf("repayment count: got %d, want 4", final.RepaymentTasksDone)
	}

	// The active-loan slot is free again.
	if _, err := h.manager.GetActiveLoan(context.Background(), h.worker.ID); !errors.Is(err, faults.ErrNotFound) {
		t.Errorf("active loan after repaid: got %v, want ErrNotFound", err)
	}
}

func TestRepaymentCapsAtOutstanding(t *testing.T) {
	h := newHarness(t)
	loan := h.request(t, 100)
	h.approve(t, loan.ID, 80, 200)

	l, applied, err := h.manager.RepayFromEarnings(context.Background(), loan.ID, decimal.NewFromInt(500))
	if err != nil {
		t.Fatalf("RepayFromEarnings: %v", err)
	}
	if !applied.Equal(decimal.RequireFromString("81.6")) {
		t.Errorf("applied: got %s, want 81.6", applied)
	}
	if !l.RepaidAmount.Equal(l.TotalDue) {
		t.Errorf("overpayment broke repaid <= totalDue: %s > %s", l.RepaidAmount, l.TotalDue)
	}
	if l.Status != models.LoanStatusRepaid {
		t.Errorf("status: got %q, want repaid", l.Status)
	}
}

// beginCounter counts transactions opened through the pool.
type beginCounter struct {
	inner TxBeginner
	calls *int
}

func (b beginCounter) Begin(ctx context.Context) (pgx.Tx, error) {
	*b.calls++
	return b.inner.Begin(ctx)
}

func TestRepayFromEarningsTxUsesCallerTransaction(t *testing.T) {
	h := newHarness(t)
	loan := h.request(t, 100)
	h.approve(t, loan.ID, 80, 200)

	begins := 0
	h.manager.Pool = beginCounter{inner: noopTx{}, calls: &begins}

	l, applied, err := h.manager.RepayFromEarningsTx(context.Background(), fakeTx{}, loan.ID, decimal.NewFromInt(20))
	if err != nil {
		t.Fatalf("RepayFromEarningsTx: %v", err)
	}
	if !applied.Equal(decimal.NewFromInt(20)) {
		t.Errorf("applied: got %s, want 20", applied)
	}
	if !l.RepaidAmount.Equal(decimal.NewFromInt(20)) {
		t.Errorf("repaid: got %s, want 20", l.RepaidAmount)
	}
	// The repayment rides the caller's transaction; opening another would
	// let the balance update commit separately from the payout record.
	if begins != 0 {
		t.Errorf("opened %d transactions of its own, want 0", begins)
	}
}

func TestRepayRejectsWrongState(t *testing.T) {
	h := newHarness(t)
	loan := h.request(t, 100) // still pending

	_, _, err := h.manager.RepayFromEarnings(context.Background(), loan.ID, decimal.NewFromInt(10))
	if !errors.Is(err, faults.ErrInvalidState) {
		t.Errorf("got %v, want ErrInvalidState", err)
	}
}

func TestDeductionFor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// No active loan: no deduction.
	_, deduction, err := h.manager.DeductionFor(ctx, h.worker.ID, decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("DeductionFor: %v", err)
	}
	if !deduction.IsZero() {
		t.Errorf("deduction without loan: got %s, want 0", deduction)
	}

	loan := h.request(t, 100)
	h.approve(t, loan.ID, 80, 200) // totalDue 81.60

	// 25% of the net payout.
	_, deduction, err = h.manager.DeductionFor(ctx, h.worker.ID, decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("DeductionFor: %v", err)
	}
	if !deduction.Equal(decimal.NewFromInt(25)) {
		t.Errorf("deduction: got %s, want 25", deduction)
	}

	// Capped at the outstanding balance.
	repay(t, h, loan.ID, "80")
	_, deduction, err = h.manager.DeductionFor(ctx, h.worker.ID, decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("DeductionFor: %v", err)
	}
	if !deduction.Equal(decimal.RequireFromString("1.6")) {
		t.Errorf("capped deduction: got %s, want 1.6", deduction)
	}
}

// ---------------------------------------------------------------------------
// 4. Default and cancellation
// ---------------------------------------------------------------------------

func TestMarkDefaulted(t *testing.T) {
	h := newHarness(t)
	loan := h.request(t, 100)
	h.approve(t, loan.ID, 80, 200)

	// Not past due yet.
	if _, err := h.manager.MarkDefaulted(context.Background(), loan.ID); !errors.Is(err, faults.ErrInvalidState) {
		t.Errorf("default before due date: got %v, want ErrInvalidState", err)
	}

	h.clock = h.clock.AddDate(0, 0, models.LoanTermDays+1)
	defaulted, err := h.manager.MarkDefaulted(context.Background(), loan.ID)
	if err != nil {
		t.Fatalf("MarkDefaulted: %v", err)
	}
	if defaulted.Status != models.LoanStatusDefaulted {
		t.Errorf("status: got %q, want defaulted", defaulted.Status)
	}

	// The slot frees up for a new request.
	if _, err := h.manager.RequestAdvance(context.Background(), h.worker.ID, decimal.NewFromInt(50)); err != nil {
		t.Errorf("request after default: %v", err)
	}
}

func TestCancelPendingLoan(t *testing.T) {
	h := newHarness(t)
	loan := h.request(t, 100)

	cancelled, err := h.manager.CancelLoan(context.Background(), loan.ID)
	if err != nil {
		t.Fatalf("CancelLoan: %v", err)
	}
	if cancelled.Status != models.LoanStatusCancelled {
		t.Errorf("status: got %q, want cancelled", cancelled.Status)
	}

	// Terminal: cannot be approved afterwards.
	if _, err := h.manager.ApproveLoan(context.Background(), loan.ID, decimal.NewFromInt(80), 200); !errors.Is(err, faults.ErrInvalidState) {
		t.Errorf("approve cancelled loan: got %v, want ErrInvalidState", err)
	}
}

func TestCancelRepayingLoanRejected(t *testing.T) {
	h := newHarness(t)
	loan := h.request(t, 100)
	h.approve(t, loan.ID, 80, 200)

	if _, err := h.manager.CancelLoan(context.Background(), loan.ID); !errors.Is(err, faults.ErrInvalidState) {
		t.Errorf("got %v, want ErrInvalidState", err)
	}
}

func TestSweepDefaults(t *testing.T) {
	h := newHarness(t)
	loan := h.request(t, 100)
	h.approve(t, loan.ID, 80, 200)

	h.clock = h.clock.AddDate(0, 0, models.LoanTermDays+1)
	n, err := h.manager.SweepDefaults(context.Background(), 10)
	if err != nil {
		t.Fatalf("SweepDefaults: %v", err)
	}
	if n != 1 {
		t.Errorf("defaulted count: got %d, want 1", n)
	}

	after, err := h.manager.GetLoanDetails(context.Background(), loan.ID)
	if err != nil {
		t.Fatalf("GetLoanDetails: %v", err)
	}
	if after.Status != models.LoanStatusDefaulted {
		t.Errorf("status: got %q, want defaulted", after.Status)
	}
}
