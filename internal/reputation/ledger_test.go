package reputation

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/streampay/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks for WorkerRepo, EventRepo, and TxBeginner.
// These let us test the real Ledger logic without a database.
// ---------------------------------------------------------------------------

type mockWorkers struct {
	mu      sync.Mutex
	workers map[uuid.UUID]*models.Worker
}

func newMockWorkers(ws ...*models.Worker) *mockWorkers {
	m := &mockWorkers{workers: make(map[uuid.UUID]*models.Worker)}
	for _, w := range ws {
		cp := *w
		m.workers[w.ID] = &cp
	}
	return m
}

func (m *mockWorkers) GetByID(_ context.Context, id uuid.UUID) (*models.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok {
		return nil, fmt.Errorf("worker %s not found", id)
	}
	cp := *w
	return &cp, nil
}

func (m *mockWorkers) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Worker, error) {
	return m.GetByID(ctx, id)
}

func (m *mockWorkers) UpdateScoreTx(_ context.Context, _ pgx.Tx, id uuid.UUID, score int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok {
		return fmt.Errorf("worker %s not found", id)
	}
	w.ReputationScore = score
	return nil
}

type mockEvents struct {
	mu     sync.Mutex
	events []*models.ReputationEvent
}

func (m *mockEvents) CreateTx(_ context.Context, _ pgx.Tx, e *models.ReputationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.events = append(m.events, &cp)
	return nil
}

func (m *mockEvents) ListByWorker(_ context.Context, workerID uuid.UUID) ([]*models.ReputationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ReputationEvent
	for _, e := range m.events {
		if e.WorkerID == workerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockEvents) Aggregates(ctx context.Context, workerID uuid.UUID) (*models.ReputationAggregates, error) {
	events, _ := m.ListByWorker(ctx, workerID)
	var a models.ReputationAggregates
	for _, e := range events {
		switch e.Kind {
		case models.RepEventTaskCompleted:
			a.TasksCompleted++
			if e.OnTime != nil && *e.OnTime {
				a.TasksOnTime++
			}
		case models.RepEventTaskLate:
			a.TasksLate++
		case models.RepEventDisputeFiled:
			a.DisputesFiled++
		}
		if e.Rating != nil {
			a.RatingCount++
			a.RatingSum += *e.Rating
		}
	}
	return &a, nil
}

// noopTx satisfies TxBeginner with transactions that do nothing; the mocks
// apply their writes immediately.
type noopTx struct{}

func (noopTx) Begin(_ context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

type fakeTx struct{ pgx.Tx }

func (fakeTx) Commit(_ context.Context) error   { return nil }
func (fakeTx) Rollback(_ context.Context) error { return nil }

func newLedger(ws ...*models.Worker) (*Ledger, *mockWorkers, *mockEvents) {
	workers := newMockWorkers(ws...)
	events := &mockEvents{}
	return NewLedger(noopTx{}, workers, events), workers, events
}

func baseWorker(id uuid.UUID) *models.Worker {
	return &models.Worker{ID: id, ReputationScore: models.BaseReputationScore, IsActive: true}
}

func intPtr(n int) *int { return &n }

// ---------------------------------------------------------------------------
// 1. Deterministic point deltas
// ---------------------------------------------------------------------------

func TestPointsDelta(t *testing.T) {
	cases := []struct {
		name string
		in   EventInput
		want int
	}{
		{"completed base", EventInput{Kind: models.RepEventTaskCompleted}, 2},
		{"completed on time", EventInput{Kind: models.RepEventTaskCompleted, OnTime: true}, 3},
		{"completed on time rated 4", EventInput{Kind: models.RepEventTaskCompleted, OnTime: true, Rating: intPtr(4)}, 4},
		{"completed rated 3 no bonus", EventInput{Kind: models.RepEventTaskCompleted, Rating: intPtr(3)}, 2},
		{"late", EventInput{Kind: models.RepEventTaskLate}, -3},
		{"dispute severity 1", EventInput{Kind: models.RepEventDisputeFiled, Severity: 1}, -10},
		{"dispute severity 5", EventInput{Kind: models.RepEventDisputeFiled, Severity: 5}, -50},
		{"dispute resolved", EventInput{Kind: models.RepEventDisputeResolved}, 5},
		{"rating 5", EventInput{Kind: models.RepEventRatingReceived, Rating: intPtr(5)}, 2},
		{"rating 1", EventInput{Kind: models.RepEventRatingReceived, Rating: intPtr(1)}, -2},
		{"manual", EventInput{Kind: models.RepEventManualAdjustment, ManualDelta: -40}, -40},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := PointsDelta(tc.in)
			if err != nil {
				t.Fatalf("PointsDelta: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}

	if _, err := PointsDelta(EventInput{Kind: models.RepEventDisputeFiled, Severity: 0}); err == nil {
		t.Error("severity 0 should be rejected")
	}
	if _, err := PointsDelta(EventInput{Kind: "unknown"}); err == nil {
		t.Error("unknown kind should be rejected")
	}
}

// ---------------------------------------------------------------------------
// 2. RecordEvent chain integrity and clamping
// ---------------------------------------------------------------------------

func TestRecordEventChainsScores(t *testing.T) {
	workerID := uuid.New()
	ledger, workers, events := newLedger(baseWorker(workerID))
	ctx := context.Background()

	e1, err := ledger.RecordEvent(ctx, workerID, EventInput{Kind: models.RepEventTaskCompleted, OnTime: true, Rating: intPtr(5)})
	if err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if e1.PreviousScore != 100 || e1.NewScore != 104 {
		t.Errorf("first event: got %d->%d, want 100->104", e1.PreviousScore, e1.NewScore)
	}

	e2, err := ledger.RecordEvent(ctx, workerID, EventInput{Kind: models.RepEventDisputeFiled, Severity: 2})
	if err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if e2.PreviousScore != 104 || e2.NewScore != 84 {
		t.Errorf("second event: got %d->%d, want 104->84", e2.PreviousScore, e2.NewScore)
	}

	if got := workers.workers[workerID].ReputationScore; got != 84 {
		t.Errorf("cached score: got %d, want 84", got)
	}
	if len(events.events) != 2 {
		t.Errorf("event count: got %d, want 2", len(events.events))
	}
}

func TestRecordEventClampsAtZero(t *testing.T) {
	workerID := uuid.New()
	ledger, _, _ := newLedger(baseWorker(workerID))
	ctx := context.Background()

	// 100 - 50 - 50 - 50 would go negative; must clamp at 0.
	for i := 0; i < 3; i++ {
		if _, err := ledger.RecordEvent(ctx, workerID, EventInput{Kind: models.RepEventDisputeFiled, Severity: 5}); err != nil {
			t.Fatalf("RecordEvent %d: %v", i, err)
		}
	}
	score, err := ledger.GetScore(ctx, workerID)
	if err != nil {
		t.Fatalf("GetScore: %v", err)
	}
	if score != 0 {
		t.Errorf("clamped score: got %d, want 0", score)
	}
}

func TestRecordEventClampsAtMax(t *testing.T) {
	workerID := uuid.New()
	w := baseWorker(workerID)
	w.ReputationScore = 999
	ledger, _, _ := newLedger(w)

	e, err := ledger.RecordEvent(context.Background(), workerID, EventInput{Kind: models.RepEventTaskCompleted, OnTime: true})
	if err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if e.NewScore != 1000 {
		t.Errorf("clamped score: got %d, want 1000", e.NewScore)
	}
}

// ---------------------------------------------------------------------------
// 3. Score replay invariant: cached score == replay(events, base=100)
// ---------------------------------------------------------------------------

func TestScoreReplayInvariant(t *testing.T) {
	workerID := uuid.New()
	ledger, _, _ := newLedger(baseWorker(workerID))
	ctx := context.Background()

	inputs := []EventInput{
		{Kind: models.RepEventTaskCompleted, OnTime: true, Rating: intPtr(5)},
		{Kind: models.RepEventTaskCompleted},
		{Kind: models.RepEventTaskLate},
		{Kind: models.RepEventDisputeFiled, Severity: 3},
		{Kind: models.RepEventDisputeResolved},
		{Kind: models.RepEventRatingReceived, Rating: intPtr(2)},
		{Kind: models.RepEventManualAdjustment, ManualDelta: 25},
		{Kind: models.RepEventDisputeFiled, Severity: 5},
	}
	for i, in := range inputs {
		if _, err := ledger.RecordEvent(ctx, workerID, in); err != nil {
			t.Fatalf("RecordEvent %d: %v", i, err)
		}
	}

	if err := ledger.VerifyWorker(ctx, workerID); err != nil {
		t.Errorf("replay invariant violated: %v", err)
	}
}

func TestReplayDetectsCorruption(t *testing.T) {
	workerID := uuid.New()
	ledger, _, events := newLedger(baseWorker(workerID))
	ctx := context.Background()

	if _, err := ledger.RecordEvent(ctx, workerID, EventInput{Kind: models.RepEventTaskCompleted}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	// Tamper with the stored event.
	events.events[0].NewScore = 999

	if err := ledger.VerifyWorker(ctx, workerID); err == nil {
		t.Error("tampered history should fail verification")
	}
}

// ---------------------------------------------------------------------------
// 4. Derived aggregates
// ---------------------------------------------------------------------------

func TestCompletionRateAndAverageRating(t *testing.T) {
	workerID := uuid.New()
	ledger, _, _ := newLedger(baseWorker(workerID))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := ledger.RecordEvent(ctx, workerID, EventInput{Kind: models.RepEventTaskCompleted, OnTime: true}); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}
	if _, err := ledger.RecordEvent(ctx, workerID, EventInput{Kind: models.RepEventTaskLate}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	for _, rating := range []int{5, 4} {
		if _, err := ledger.RecordEvent(ctx, workerID, EventInput{Kind: models.RepEventRatingReceived, Rating: intPtr(rating)}); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}

	rate, err := ledger.GetCompletionRate(ctx, workerID)
	if err != nil {
		t.Fatalf("GetCompletionRate: %v", err)
	}
	if rate != 0.75 {
		t.Errorf("completion rate: got %v, want 0.75", rate)
	}

	avg, err := ledger.GetAverageRating(ctx, workerID)
	if err != nil {
		t.Fatalf("GetAverageRating: %v", err)
	}
	if avg != 4.5 {
		t.Errorf("average rating: got %v, want 4.5", avg)
	}
}
