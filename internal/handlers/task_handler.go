package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/models"
	"github.com/streampay/backend/internal/schedule"
)

// TaskStore is the task persistence surface the handler needs.
type TaskStore interface {
	Create(ctx context.Context, t *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	Assign(ctx context.Context, id, workerID uuid.UUID) (*models.Task, error)
	Complete(ctx context.Context, id uuid.UUID, at time.Time) (*models.Task, error)
	ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.Task, error)
}

// EnqueuePaymentFunc queues an instant payment job. Wired to the River
// client's Insert in main.
type EnqueuePaymentFunc func(ctx context.Context, args schedule.InstantPaymentArgs) error

// TaskHandler serves /v1/tasks endpoints.
type TaskHandler struct {
	Tasks          TaskStore
	EnqueuePayment EnqueuePaymentFunc
	Logger         *slog.Logger
}

type createTaskRequest struct {
	PlatformID string     `json:"platform_id"`
	Title      string     `json:"title"`
	WorkerID   string     `json:"worker_id,omitempty"`
	StreamID   *uuid.UUID `json:"stream_id,omitempty"`
	DueAt      *time.Time `json:"due_at,omitempty"`
}

// Create handles POST /v1/tasks.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decode(w, r, &req) {
		return
	}
	platformID, err := uuid.Parse(req.PlatformID)
	if err != nil {
		http.Error(w, `{"error":"invalid platform_id"}`, http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		http.Error(w, `{"error":"title is required"}`, http.StatusBadRequest)
		return
	}

	task := &models.Task{
		ID:         uuid.New(),
		PlatformID: platformID,
		Title:      req.Title,
		Status:     models.TaskStatusCreated,
		StreamID:   req.StreamID,
		DueAt:      req.DueAt,
	}
	if req.WorkerID != "" {
		workerID, err := uuid.Parse(req.WorkerID)
		if err != nil {
			http.Error(w, `{"error":"invalid worker_id"}`, http.StatusBadRequest)
			return
		}
		task.WorkerID = &workerID
		task.Status = models.TaskStatusAssigned
	}

	if err := h.Tasks.Create(r.Context(), task); err != nil {
		h.Logger.Error("create task", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// Get handles GET /v1/tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	task, err := h.Tasks.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type assignTaskRequest struct {
	WorkerID string `json:"worker_id"`
}

// Assign handles POST /v1/tasks/{id}/assign.
func (h *TaskHandler) Assign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	var req assignTaskRequest
	if !decode(w, r, &req) {
		return
	}
	workerID, err := uuid.Parse(req.WorkerID)
	if err != nil {
		http.Error(w, `{"error":"invalid worker_id"}`, http.StatusBadRequest)
		return
	}
	task, err := h.Tasks.Assign(r.Context(), id, workerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type completeTaskRequest struct {
	// Amount, when set, queues an instant payment for the assigned worker.
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

type completeTaskResponse struct {
	Task          *models.Task `json:"task"`
	PaymentQueued bool         `json:"payment_queued"`
}

// Complete handles POST /v1/tasks/{id}/complete. When the caller supplies
// an amount the payout is queued rather than executed inline so the HTTP
// response does not ride on the funds-movement provider.
func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	var req completeTaskRequest
	if !decode(w, r, &req) {
		return
	}

	task, err := h.Tasks.Complete(r.Context(), id, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}

	queued := false
	if req.Amount != nil && task.WorkerID != nil {
		err := h.EnqueuePayment(r.Context(), schedule.InstantPaymentArgs{
			TaskID:   task.ID,
			WorkerID: *task.WorkerID,
			Amount:   *req.Amount,
		})
		if err != nil {
			// The task is already completed; the payout can be requeued or
			// executed via POST /v1/payments.
			h.Logger.Error("enqueue payment", "task_id", task.ID, "error", err)
		} else {
			queued = true
		}
	}
	writeJSON(w, http.StatusOK, completeTaskResponse{Task: task, PaymentQueued: queued})
}

// ListByWorker handles GET /v1/workers/{id}/tasks.
func (h *TaskHandler) ListByWorker(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid worker id"}`, http.StatusBadRequest)
		return
	}
	tasks, err := h.Tasks.ListByWorker(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}
