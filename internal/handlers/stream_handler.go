package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/models"
)

// StreamEngine is the subset of the stream engine the handler needs.
type StreamEngine interface {
	CreateStream(ctx context.Context, workerID, platformID uuid.UUID, platformWallet string, totalAmount decimal.Decimal, duration, releaseInterval time.Duration) (*models.PaymentStream, error)
	ReleasePayment(ctx context.Context, streamID uuid.UUID) (*models.PaymentStream, error)
	ClaimEarnings(ctx context.Context, streamID, workerID uuid.UUID) (*models.PaymentStream, error)
	PauseStream(ctx context.Context, streamID uuid.UUID) (*models.PaymentStream, error)
	ResumeStream(ctx context.Context, streamID uuid.UUID) (*models.PaymentStream, error)
	CancelStream(ctx context.Context, streamID uuid.UUID) (*models.PaymentStream, error)
	GetStreamDetails(ctx context.Context, streamID uuid.UUID) (*models.PaymentStream, error)
}

// StreamHandler serves /v1/streams endpoints.
type StreamHandler struct {
	Engine StreamEngine
	Logger *slog.Logger
}

type createStreamRequest struct {
	WorkerID        string          `json:"worker_id"`
	PlatformID      string          `json:"platform_id"`
	PlatformWallet  string          `json:"platform_wallet"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	DurationSeconds int64           `json:"duration_seconds"`
	ReleaseSeconds  int64           `json:"release_interval_seconds"`
}

// Create handles POST /v1/streams.
func (h *StreamHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createStreamRequest
	if !decode(w, r, &req) {
		return
	}
	workerID, err := uuid.Parse(req.WorkerID)
	if err != nil {
		http.Error(w, `{"error":"invalid worker_id"}`, http.StatusBadRequest)
		return
	}
	platformID, err := uuid.Parse(req.PlatformID)
	if err != nil {
		http.Error(w, `{"error":"invalid platform_id"}`, http.StatusBadRequest)
		return
	}
	if req.PlatformWallet == "" {
		http.Error(w, `{"error":"platform_wallet is required"}`, http.StatusBadRequest)
		return
	}

	stream, err := h.Engine.CreateStream(r.Context(), workerID, platformID, req.PlatformWallet,
		req.TotalAmount, time.Duration(req.DurationSeconds)*time.Second, time.Duration(req.ReleaseSeconds)*time.Second)
	if err != nil {
		h.Logger.Error("create stream", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stream)
}

// Get handles GET /v1/streams/{id}.
func (h *StreamHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid stream id"}`, http.StatusBadRequest)
		return
	}
	stream, err := h.Engine.GetStreamDetails(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stream)
}

// Release handles POST /v1/streams/{id}/release.
func (h *StreamHandler) Release(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.Engine.ReleasePayment)
}

// Pause handles POST /v1/streams/{id}/pause.
func (h *StreamHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.Engine.PauseStream)
}

// Resume handles POST /v1/streams/{id}/resume.
func (h *StreamHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.Engine.ResumeStream)
}

// Cancel handles POST /v1/streams/{id}/cancel.
func (h *StreamHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.Engine.CancelStream)
}

type claimRequest struct {
	WorkerID string `json:"worker_id"`
}

// Claim handles POST /v1/streams/{id}/claim.
func (h *StreamHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid stream id"}`, http.StatusBadRequest)
		return
	}
	var req claimRequest
	if !decode(w, r, &req) {
		return
	}
	workerID, err := uuid.Parse(req.WorkerID)
	if err != nil {
		http.Error(w, `{"error":"invalid worker_id"}`, http.StatusBadRequest)
		return
	}
	stream, err := h.Engine.ClaimEarnings(r.Context(), id, workerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stream)
}

func (h *StreamHandler) mutate(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) (*models.PaymentStream, error)) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid stream id"}`, http.StatusBadRequest)
		return
	}
	stream, err := op(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stream)
}
