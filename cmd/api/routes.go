package main

import (
	"net/http"

	"github.com/streampay/backend/internal/handlers"
)

// RegisterV1Routes adds the /v1/ API endpoints to the given mux.
func RegisterV1Routes(
	mux *http.ServeMux,
	streamHandler *handlers.StreamHandler,
	loanHandler *handlers.LoanHandler,
	paymentHandler *handlers.PaymentHandler,
	workerHandler *handlers.WorkerHandler,
	taskHandler *handlers.TaskHandler,
) {
	// Payment streams
	mux.HandleFunc("POST /v1/streams", streamHandler.Create)
	mux.HandleFunc("GET /v1/streams/{id}", streamHandler.Get)
	mux.HandleFunc("POST /v1/streams/{id}/release", streamHandler.Release)
	mux.HandleFunc("POST /v1/streams/{id}/pause", streamHandler.Pause)
	mux.HandleFunc("POST /v1/streams/{id}/resume", streamHandler.Resume)
	mux.HandleFunc("POST /v1/streams/{id}/cancel", streamHandler.Cancel)
	mux.HandleFunc("POST /v1/streams/{id}/claim", streamHandler.Claim)

	// Micro-loans
	mux.HandleFunc("POST /v1/loans", loanHandler.Request)
	mux.HandleFunc("GET /v1/loans/{id}", loanHandler.Get)
	mux.HandleFunc("POST /v1/loans/{id}/approve", loanHandler.Approve)
	mux.HandleFunc("POST /v1/loans/{id}/repay", loanHandler.Repay)
	mux.HandleFunc("POST /v1/loans/{id}/default", loanHandler.Default)
	mux.HandleFunc("POST /v1/loans/{id}/cancel", loanHandler.Cancel)

	// Instant payments
	mux.HandleFunc("POST /v1/payments", paymentHandler.Execute)
	mux.HandleFunc("POST /v1/payments/{id}/retry", paymentHandler.Retry)
	mux.HandleFunc("POST /v1/payments/{id}/resolve", paymentHandler.Resolve)

	// Workers, reputation, forecasts, risk
	mux.HandleFunc("POST /v1/workers", workerHandler.Create)
	mux.HandleFunc("GET /v1/workers/{id}", workerHandler.Get)
	mux.HandleFunc("POST /v1/workers/{id}/deactivate", workerHandler.Deactivate)
	mux.HandleFunc("GET /v1/workers/{id}/reputation", workerHandler.Reputation)
	mux.HandleFunc("POST /v1/workers/{id}/reputation/events", workerHandler.RecordEvent)
	mux.HandleFunc("GET /v1/workers/{id}/reputation/events", workerHandler.ReputationEvents)
	mux.HandleFunc("POST /v1/workers/{id}/reputation/verify", workerHandler.VerifyReputation)
	mux.HandleFunc("GET /v1/workers/{id}/forecast", workerHandler.Forecast)
	mux.HandleFunc("GET /v1/workers/{id}/risk", loanHandler.Assess)
	mux.HandleFunc("GET /v1/workers/{id}/loans/active", loanHandler.GetActive)
	mux.HandleFunc("GET /v1/workers/{id}/tasks", taskHandler.ListByWorker)

	// Tasks
	mux.HandleFunc("POST /v1/tasks", taskHandler.Create)
	mux.HandleFunc("GET /v1/tasks/{id}", taskHandler.Get)
	mux.HandleFunc("POST /v1/tasks/{id}/assign", taskHandler.Assign)
	mux.HandleFunc("POST /v1/tasks/{id}/complete", taskHandler.Complete)
}
