package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/streampay/backend/internal/forecast"
	"github.com/streampay/backend/internal/models"
	"github.com/streampay/backend/internal/reputation"
)

// WorkerStore is the worker persistence surface the handler needs.
type WorkerStore interface {
	Create(ctx context.Context, w *models.Worker) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Worker, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// ReputationLedger records events and answers score queries.
type ReputationLedger interface {
	RecordEvent(ctx context.Context, workerID uuid.UUID, in reputation.EventInput) (*models.ReputationEvent, error)
	GetScore(ctx context.Context, workerID uuid.UUID) (int, error)
	GetCompletionRate(ctx context.Context, workerID uuid.UUID) (float64, error)
	GetAverageRating(ctx context.Context, workerID uuid.UUID) (float64, error)
	VerifyWorker(ctx context.Context, workerID uuid.UUID) error
}

// EventLister lists a worker's full reputation history.
type EventLister interface {
	ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.ReputationEvent, error)
}

// EarningsForecaster predicts a worker's future earnings.
type EarningsForecaster interface {
	PredictEarnings(ctx context.Context, workerID uuid.UUID, days int) (*forecast.Prediction, error)
}

// WorkerHandler serves /v1/workers endpoints.
type WorkerHandler struct {
	Workers    WorkerStore
	Ledger     ReputationLedger
	Events     EventLister
	Forecaster EarningsForecaster
	Logger     *slog.Logger
}

type createWorkerRequest struct {
	Name      string `json:"name"`
	WalletRef string `json:"wallet_ref"`
}

// Create handles POST /v1/workers.
func (h *WorkerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createWorkerRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" || req.WalletRef == "" {
		http.Error(w, `{"error":"name and wallet_ref are required"}`, http.StatusBadRequest)
		return
	}

	worker := &models.Worker{
		ID:              uuid.New(),
		Name:            req.Name,
		WalletRef:       req.WalletRef,
		ReputationScore: models.BaseReputationScore,
		IsActive:        true,
	}
	if err := h.Workers.Create(r.Context(), worker); err != nil {
		h.Logger.Error("create worker", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, worker)
}

// Get handles GET /v1/workers/{id}.
func (h *WorkerHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid worker id"}`, http.StatusBadRequest)
		return
	}
	worker, err := h.Workers.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

// Deactivate handles POST /v1/workers/{id}/deactivate.
func (h *WorkerHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid worker id"}`, http.StatusBadRequest)
		return
	}
	if err := h.Workers.Deactivate(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

type recordEventRequest struct {
	Kind        string     `json:"kind"`
	Rating      *int       `json:"rating,omitempty"`
	OnTime      bool       `json:"on_time,omitempty"`
	Severity    int        `json:"severity,omitempty"`
	ManualDelta int        `json:"manual_delta,omitempty"`
	TaskID      *uuid.UUID `json:"task_id,omitempty"`
}

// RecordEvent handles POST /v1/workers/{id}/reputation/events.
func (h *WorkerHandler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid worker id"}`, http.StatusBadRequest)
		return
	}
	var req recordEventRequest
	if !decode(w, r, &req) {
		return
	}

	event, err := h.Ledger.RecordEvent(r.Context(), id, reputation.EventInput{
		Kind:        req.Kind,
		Rating:      req.Rating,
		OnTime:      req.OnTime,
		Severity:    req.Severity,
		ManualDelta: req.ManualDelta,
		TaskID:      req.TaskID,
	})
	if err != nil {
		h.Logger.Error("record reputation event", "worker_id", id, "kind", req.Kind, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// Reputation handles GET /v1/workers/{id}/reputation.
func (h *WorkerHandler) Reputation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid worker id"}`, http.StatusBadRequest)
		return
	}
	score, err := h.Ledger.GetScore(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	rate, err := h.Ledger.GetCompletionRate(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	rating, err := h.Ledger.GetAverageRating(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"worker_id":       id,
		"score":           score,
		"completion_rate": rate,
		"average_rating":  rating,
	})
}

// ReputationEvents handles GET /v1/workers/{id}/reputation/events.
func (h *WorkerHandler) ReputationEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid worker id"}`, http.StatusBadRequest)
		return
	}
	events, err := h.Events.ListByWorker(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// VerifyReputation handles POST /v1/workers/{id}/reputation/verify. It
// replays the event history against the cached score.
func (h *WorkerHandler) VerifyReputation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid worker id"}`, http.StatusBadRequest)
		return
	}
	if err := h.Ledger.VerifyWorker(r.Context(), id); err != nil {
		h.Logger.Error("reputation verification failed", "worker_id", id, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

// Forecast handles GET /v1/workers/{id}/forecast?days=N.
func (h *WorkerHandler) Forecast(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid worker id"}`, http.StatusBadRequest)
		return
	}
	days := forecast.DefaultHorizonDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, `{"error":"days must be an integer"}`, http.StatusBadRequest)
			return
		}
		days = parsed
	}

	prediction, err := h.Forecaster.PredictEarnings(r.Context(), id, days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prediction)
}
