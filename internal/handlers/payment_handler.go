package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/payments"
)

// PaymentOrchestrator is the subset of the orchestrator the handler needs.
type PaymentOrchestrator interface {
	ExecuteInstantPayment(ctx context.Context, taskID, workerID uuid.UUID, amount decimal.Decimal, idempotencyKey string) (*payments.Receipt, error)
	RetryFailedPayment(ctx context.Context, transactionID uuid.UUID) (*payments.Receipt, error)
	ResolveHeldPayment(ctx context.Context, transactionID uuid.UUID, approve bool, reason string) (*payments.Receipt, error)
}

// PaymentHandler serves /v1/payments endpoints.
type PaymentHandler struct {
	Orchestrator PaymentOrchestrator
	Logger       *slog.Logger
}

type executePaymentRequest struct {
	TaskID         string          `json:"task_id"`
	WorkerID       string          `json:"worker_id"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// Execute handles POST /v1/payments. Callers may supply their own
// idempotency key; otherwise one is derived from (task, worker).
func (h *PaymentHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req executePaymentRequest
	if !decode(w, r, &req) {
		return
	}
	taskID, err := uuid.Parse(req.TaskID)
	if err != nil {
		http.Error(w, `{"error":"invalid task_id"}`, http.StatusBadRequest)
		return
	}
	workerID, err := uuid.Parse(req.WorkerID)
	if err != nil {
		http.Error(w, `{"error":"invalid worker_id"}`, http.StatusBadRequest)
		return
	}

	receipt, err := h.Orchestrator.ExecuteInstantPayment(r.Context(), taskID, workerID, req.Amount, req.IdempotencyKey)
	if err != nil {
		h.Logger.Error("instant payment", "task_id", taskID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// Retry handles POST /v1/payments/{id}/retry where {id} is the failed
// transaction.
func (h *PaymentHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid transaction id"}`, http.StatusBadRequest)
		return
	}
	receipt, err := h.Orchestrator.RetryFailedPayment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

type resolvePaymentRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason,omitempty"`
}

// Resolve handles POST /v1/payments/{id}/resolve, the manual-review decision
// for a payment held by the verification gate.
func (h *PaymentHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid transaction id"}`, http.StatusBadRequest)
		return
	}
	var req resolvePaymentRequest
	if !decode(w, r, &req) {
		return
	}
	receipt, err := h.Orchestrator.ResolveHeldPayment(r.Context(), id, req.Approve, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}
