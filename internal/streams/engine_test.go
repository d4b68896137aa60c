package streams

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
	"github.com/streampay/backend/internal/models"
	"github.com/streampay/backend/internal/wallet"
)

// ---------------------------------------------------------------------------
// In-memory mocks for StreamRepo, WorkerSource, and TxBeginner. The wallet
// side uses the real in-memory simulator.
// ---------------------------------------------------------------------------

type mockStreams struct {
	mu      sync.Mutex
	streams map[uuid.UUID]*models.PaymentStream
}

func newMockStreams() *mockStreams {
	return &mockStreams{streams: make(map[uuid.UUID]*models.PaymentStream)}
}

func (m *mockStreams) CreateTx(_ context.Context, _ pgx.Tx, s *models.PaymentStream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.streams[s.ID] = &cp
	return nil
}

func (m *mockStreams) GetByID(_ context.Context, id uuid.UUID) (*models.PaymentStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[id]
	if !ok {
		return nil, fmt.Errorf("%w: stream", faults.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *mockStreams) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.PaymentStream, error) {
	return m.GetByID(ctx, id)
}

func (m *mockStreams) UpdateTx(_ context.Context, _ pgx.Tx, s *models.PaymentStream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[s.ID]; !ok {
		return fmt.Errorf("%w: stream", faults.ErrNotFound)
	}
	cp := *s
	m.streams[s.ID] = &cp
	return nil
}

func (m *mockStreams) ListDueActive(_ context.Context, now time.Time, limit int) ([]*models.PaymentStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PaymentStream
	for _, s := range m.streams {
		if s.Status == models.StreamStatusActive && now.Sub(s.LastReleaseTime) >= s.ReleaseInterval {
			cp := *s
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

type noopTx struct{}

func (noopTx) Begin(_ context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

type fakeTx struct{ pgx.Tx }

func (fakeTx) Commit(_ context.Context) error   { return nil }
func (fakeTx) Rollback(_ context.Context) error { return nil }

// ---------------------------------------------------------------------------
// Test harness
// ---------------------------------------------------------------------------

type harness struct {
	engine  *Engine
	streams *mockStreams
	sim     *wallet.Sim
	worker  *models.Worker
	clock   time.Time
}

const platformWallet = "wallet_platform_test"

func newHarness(t *testing.T) *harness {
	t.Helper()
	workerID := uuid.New()
	h := &harness{
		streams: newMockStreams(),
		sim:     wallet.NewSim(),
		worker: &models.Worker{
			ID:        workerID,
			WalletRef: "wallet_worker_test",
			IsActive:  true,
		},
		clock: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
	h.sim.Fund(platformWallet, decimal.NewFromInt(10000))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.engine = NewEngine(noopTx{}, h.streams, &mockWorkers{workers: map[uuid.UUID]*models.Worker{workerID: h.worker}}, h.sim, models.EscrowWalletRef, logger)
	h.engine.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

func (h *harness) create(t *testing.T, total int64, duration, interval time.Duration) *models.PaymentStream {
	t.Helper()
	s, err := h.engine.CreateStream(context.Background(), h.worker.ID, uuid.New(), platformWallet,
		decimal.NewFromInt(total), duration, interval)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	return s
}

func (h *harness) balance(t *testing.T, ref string) decimal.Decimal {
	t.Helper()
	b, err := h.sim.GetBalance(context.Background(), ref)
	if err != nil {
		t.Fatalf("GetBalance(%s): %v", ref, err)
	}
	return b
}

// ---------------------------------------------------------------------------
// 1. Creation and validation
// ---------------------------------------------------------------------------

func TestCreateStreamEscrowsFunds(t *testing.T) {
	h := newHarness(t)
	s := h.create(t, 100, time.Hour, time.Minute)

	if s.Status != models.StreamStatusActive {
		t.Errorf("status: got %q, want active", s.Status)
	}
	if got := h.balance(t, models.EscrowWalletRef); !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("escrow balance: got %s, want 100", got)
	}
	if got := h.balance(t, platformWallet); !got.Equal(decimal.NewFromInt(9900)) {
		t.Errorf("platform balance: got %s, want 9900", got)
	}
}

func TestCreateStreamRejectsBadParameters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		total    int64
		duration time.Duration
		interval time.Duration
	}{
		{"zero amount", 0, time.Hour, time.Minute},
		{"negative amount", -5, time.Hour, time.Minute},
		{"zero duration", 100, 0, time.Minute},
		{"zero interval", 100, time.Hour, 0},
		{"interval exceeds duration", 100, time.Minute, time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.CreateStream(ctx, h.worker.ID, uuid.New(), platformWallet,
				decimal.NewFromInt(tc.total), tc.duration, tc.interval)
			if !errors.Is(err, faults.ErrInvalidParameters) {
				t.Errorf("got %v, want ErrInvalidParameters", err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// 2. Pro-rata release
// ---------------------------------------------------------------------------

func TestReleasePaymentProRata(t *testing.T) {
	h := newHarness(t)
	s := h.create(t, 100, 3600*time.Second, 60*time.Second)

	// Halfway through: releasable = 100 * 1800/3600 = 50.
	h.advance(1800 * time.Second)
	got, err := h.engine.ReleasePayment(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("ReleasePayment: %v", err)
	}
	if !got.ReleasedAmount.Equal(decimal.NewFromInt(50)) {
		t.Errorf("released: got %s, want 50", got.ReleasedAmount)
	}
	if got.Status != models.StreamStatusActive {
		t.Errorf("status: got %q, want active", got.Status)
	}
}

func TestReleasePaymentNotDueIsNoOp(t *testing.T) {
	h := newHarness(t)
	s := h.create(t, 100, time.Hour, time.Minute)

	h.advance(30 * time.Second) // below the interval
	got, err := h.engine.ReleasePayment(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("ReleasePayment: %v", err)
	}
	if !got.ReleasedAmount.IsZero() {
		t.Errorf("released before due: got %s, want 0", got.ReleasedAmount)
	}
}

func TestReleasePaymentIdempotentUnderRetry(t *testing.T) {
	h := newHarness(t)
	s := h.create(t, 100, time.Hour, time.Minute)

	h.advance(10 * time.Minute)
	first, err := h.engine.ReleasePayment(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("first release: %v", err)
	}
	// Immediate duplicate: interval not elapsed again, nothing more vests.
	second, err := h.engine.ReleasePayment(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("duplicate release: %v", err)
	}
	if !second.ReleasedAmount.Equal(first.ReleasedAmount) {
		t.Errorf("duplicate release changed amount: %s -> %s", first.ReleasedAmount, second.ReleasedAmount)
	}
}

func TestReleaseCompletesAtDurationEnd(t *testing.T) {
	h := newHarness(t)
	s := h.create(t, 100, time.Hour, time.Minute)

	h.advance(2 * time.Hour)
	got, err := h.engine.ReleasePayment(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("ReleasePayment: %v", err)
	}
	if got.Status != models.StreamStatusCompleted {
		t.Errorf("status: got %q, want completed", got.Status)
	}
	if !got.ReleasedAmount.Equal(got.TotalAmount) {
		t.Errorf("released: got %s, want %s", got.ReleasedAmount, got.TotalAmount)
	}

	// Terminal state rejects further releases.
	if _, err := h.engine.ReleasePayment(context.Background(), s.ID); !errors.Is(err, faults.ErrInvalidState) {
		t.Errorf("release on completed stream: got %v, want ErrInvalidState", err)
	}
}

// ---------------------------------------------------------------------------
// 3. Claiming
// ---------------------------------------------------------------------------

func TestClaimEarnings(t *testing.T) {
	h := newHarness(t)
	s := h.create(t, 100, time.Hour, time.Minute)

	h.advance(30 * time.Minute)
	if _, err := h.engine.ReleasePayment(context.Background(), s.ID); err != nil {
		t.Fatalf("ReleasePayment: %v", err)
	}

	got, err := h.engine.ClaimEarnings(context.Background(), s.ID, h.worker.ID)
	if err != nil {
		t.Fatalf("ClaimEarnings: %v", err)
	}
	if !got.ClaimedAmount.Equal(decimal.NewFromInt(50)) {
		t.Errorf("claimed: got %s, want 50", got.ClaimedAmount)
	}
	if b := h.balance(t, h.worker.WalletRef); !b.Equal(decimal.NewFromInt(50)) {
		t.Errorf("worker balance: got %s, want 50", b)
	}

	// Nothing left to claim until more vests.
	if _, err := h.engine.ClaimEarnings(context.Background(), s.ID, h.worker.ID); !errors.Is(err, ErrNothingToClaim) {
		t.Errorf("second claim: got %v, want ErrNothingToClaim", err)
	}
}

func TestClaimRejectsNonOwner(t *testing.T) {
	h := newHarness(t)
	s := h.create(t, 100, time.Hour, time.Minute)

	if _, err := h.engine.ClaimEarnings(context.Background(), s.ID, uuid.New()); !errors.Is(err, faults.ErrNotFound) {
		// unknown worker fails lookup before the ownership check
		t.Errorf("unknown worker: got %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// 4. Pause / resume
// ---------------------------------------------------------------------------

func TestPauseBlocksRelease(t *testing.T) {
	h := newHarness(t)
	s := h.create(t, 100, time.Hour, time.Minute)

	if _, err := h.engine.PauseStream(context.Background(), s.ID); err != nil {
		t.Fatalf("PauseStream: %v", err)
	}
	h.advance(10 * time.Minute)
	if _, err := h.engine.ReleasePayment(context.Background(), s.ID); !errors.Is(err, faults.ErrInvalidState) {
		t.Errorf("release on paused stream: got %v, want ErrInvalidState", err)
	}

	// Pausing twice is invalid.
	if _, err := h.engine.PauseStream(context.Background(), s.ID); !errors.Is(err, faults.ErrInvalidState) {
		t.Errorf("double pause: got %v, want ErrInvalidState", err)
	}
}

func TestResumeResetsReleaseClock(t *testing.T) {
	h := newHarness(t)
	s := h.create(t, 100, time.Hour, time.Minute)

	if _, err := h.engine.PauseStream(context.Background(), s.ID); err != nil {
		t.Fatalf("PauseStream: %v", err)
	}
	h.advance(10 * time.Minute)
	resumed, err := h.engine.ResumeStream(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("ResumeStream: %v", err)
	}
	if !resumed.LastReleaseTime.Equal(h.clock) {
		t.Errorf("resume must reset last release time to now")
	}

	// Immediately after resume nothing is due.
	got, err := h.engine.ReleasePayment(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("ReleasePayment: %v", err)
	}
	if !got.ReleasedAmount.IsZero() {
		t.Errorf("release right after resume: got %s, want 0", got.ReleasedAmount)
	}
}

// ---------------------------------------------------------------------------
// 5. Cancellation settles exactly once and conserves funds
// ---------------------------------------------------------------------------

func TestCancelStreamConservation(t *testing.T) {
	h := newHarness(t)
	s := h.create(t, 100, time.Hour, time.Minute)

	h.advance(30 * time.Minute)
	if _, err := h.engine.ReleasePayment(context.Background(), s.ID); err != nil {
		t.Fatalf("ReleasePayment: %v", err)
	}

	platformBefore := h.balance(t, platformWallet)
	cancelled, err := h.engine.CancelStream(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("CancelStream: %v", err)
	}
	if cancelled.Status != models.StreamStatusCancelled {
		t.Errorf("status: got %q, want cancelled", cancelled.Status)
	}

	// Unclaimed-but-released (50) to the worker, marked claimed.
	if !cancelled.ClaimedAmount.Equal(decimal.NewFromInt(50)) {
		t.Errorf("claimed on cancel: got %s, want 50", cancelled.ClaimedAmount)
	}
	if b := h.balance(t, h.worker.WalletRef); !b.Equal(decimal.NewFromInt(50)) {
		t.Errorf("worker balance: got %s, want 50", b)
	}

	// Unreleased remainder (50) refunds to the platform.
	refund := h.balance(t, platformWallet).Sub(platformBefore)
	if !refund.Equal(decimal.NewFromInt(50)) {
		t.Errorf("platform refund: got %s, want 50", refund)
	}

	// claimed + refund == total.
	if !cancelled.ClaimedAmount.Add(refund).Equal(cancelled.TotalAmount) {
		t.Errorf("conservation violated: claimed %s + refund %s != total %s",
			cancelled.ClaimedAmount, refund, cancelled.TotalAmount)
	}

	// Escrow fully drained.
	if b := h.balance(t, models.EscrowWalletRef); !b.IsZero() {
		t.Errorf("escrow balance after cancel: got %s, want 0", b)
	}

	// Settlement is exactly-once.
	if _, err := h.engine.CancelStream(context.Background(), s.ID); !errors.Is(err, faults.ErrInvalidState) {
		t.Errorf("second cancel: got %v, want ErrInvalidState", err)
	}
}

func TestCancelFromPaused(t *testing.T) {
	h := newHarness(t)
	s := h.create(t, 100, time.Hour, time.Minute)

	if _, err := h.engine.PauseStream(context.Background(), s.ID); err != nil {
		t.Fatalf("PauseStream: %v", err)
	}
	cancelled, err := h.engine.CancelStream(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("CancelStream from paused: %v", err)
	}
	// Nothing released: the full amount goes back to the platform.
	if b := h.balance(t, platformWallet); !b.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("platform balance: got %s, want 10000", b)
	}
	if !cancelled.ClaimedAmount.IsZero() {
		t.Errorf("claimed: got %s, want 0", cancelled.ClaimedAmount)
	}
}

// ---------------------------------------------------------------------------
// 6. Stream invariant under a mixed operation sequence
// ---------------------------------------------------------------------------

func TestStreamInvariantHolds(t *testing.T) {
	h := newHarness(t)
	s := h.create(t, 300, time.Hour, time.Minute)
	ctx := context.Background()

	check := func(label string) {
		cur, err := h.engine.GetStreamDetails(ctx, s.ID)
		if err != nil {
			t.Fatalf("%s: GetStreamDetails: %v", label, err)
		}
		if cur.ClaimedAmount.GreaterThan(cur.ReleasedAmount) || cur.ReleasedAmount.GreaterThan(cur.TotalAmount) {
			t.Fatalf("%s: invariant violated: claimed %s <= released %s <= total %s",
				label, cur.ClaimedAmount, cur.ReleasedAmount, cur.TotalAmount)
		}
	}

	for i := 0; i < 5; i++ {
		h.advance(7 * time.Minute)
		if _, err := h.engine.ReleasePayment(ctx, s.ID); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
		check("after release")
		if i%2 == 0 {
			if _, err := h.engine.ClaimEarnings(ctx, s.ID, h.worker.ID); err != nil && !errors.Is(err, ErrNothingToClaim) {
				t.Fatalf("claim %d: %v", i, err)
			}
			check("after claim")
		}
	}

	// ReleaseDue drives the same path the background worker uses.
	h.advance(10 * time.Minute)
	n, err := h.engine.ReleaseDue(ctx, 10)
	if err != nil {
		t.Fatalf("ReleaseDue: %v", err)
	}
	if n != 1 {
		t.Errorf("ReleaseDue count: got %d, want 1", n)
	}
	check("after ReleaseDue")
}
