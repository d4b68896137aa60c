package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/models"
	"github.com/streampay/backend/internal/risk"
)

// LoanManager is the subset of the loan manager the handler needs.
type LoanManager interface {
	RequestAdvance(ctx context.Context, workerID uuid.UUID, amount decimal.Decimal) (*models.Loan, error)
	ApproveLoan(ctx context.Context, loanID uuid.UUID, approvedAmount decimal.Decimal, feeRateBps int) (*models.Loan, error)
	RepayFromEarnings(ctx context.Context, loanID uuid.UUID, amount decimal.Decimal) (*models.Loan, decimal.Decimal, error)
	MarkDefaulted(ctx context.Context, loanID uuid.UUID) (*models.Loan, error)
	CancelLoan(ctx context.Context, loanID uuid.UUID) (*models.Loan, error)
	GetLoanDetails(ctx context.Context, loanID uuid.UUID) (*models.Loan, error)
	GetActiveLoan(ctx context.Context, workerID uuid.UUID) (*models.Loan, error)
}

// RiskAssessor exposes the scorer for the explainability endpoint.
type RiskAssessor interface {
	CalculateRiskScore(ctx context.Context, workerID uuid.UUID) (*risk.Assessment, error)
}

// LoanHandler serves /v1/loans endpoints.
type LoanHandler struct {
	Manager LoanManager
	Risk    RiskAssessor
	Logger  *slog.Logger
}

type requestAdvanceRequest struct {
	WorkerID string          `json:"worker_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// Request handles POST /v1/loans.
func (h *LoanHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req requestAdvanceRequest
	if !decode(w, r, &req) {
		return
	}
	workerID, err := uuid.Parse(req.WorkerID)
	if err != nil {
		http.Error(w, `{"error":"invalid worker_id"}`, http.StatusBadRequest)
		return
	}
	loan, err := h.Manager.RequestAdvance(r.Context(), workerID, req.Amount)
	if err != nil {
		h.Logger.Info("advance request refused", "worker_id", workerID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

type approveLoanRequest struct {
	ApprovedAmount decimal.Decimal `json:"approved_amount"`
	FeeRateBps     int             `json:"fee_rate_bps"`
}

// Approve handles POST /v1/loans/{id}/approve.
func (h *LoanHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid loan id"}`, http.StatusBadRequest)
		return
	}
	var req approveLoanRequest
	if !decode(w, r, &req) {
		return
	}
	loan, err := h.Manager.ApproveLoan(r.Context(), id, req.ApprovedAmount, req.FeeRateBps)
	if err != nil {
		h.Logger.Error("approve loan", "loan_id", id, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

type repayRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type repayResponse struct {
	Loan    *models.Loan    `json:"loan"`
	Applied decimal.Decimal `json:"applied"`
}

// Repay handles POST /v1/loans/{id}/repay.
func (h *LoanHandler) Repay(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid loan id"}`, http.StatusBadRequest)
		return
	}
	var req repayRequest
	if !decode(w, r, &req) {
		return
	}
	loan, applied, err := h.Manager.RepayFromEarnings(r.Context(), id, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repayResponse{Loan: loan, Applied: applied})
}

// Default handles POST /v1/loans/{id}/default.
func (h *LoanHandler) Default(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid loan id"}`, http.StatusBadRequest)
		return
	}
	loan, err := h.Manager.MarkDefaulted(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// Cancel handles POST /v1/loans/{id}/cancel.
func (h *LoanHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid loan id"}`, http.StatusBadRequest)
		return
	}
	loan, err := h.Manager.CancelLoan(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// Get handles GET /v1/loans/{id}.
func (h *LoanHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid loan id"}`, http.StatusBadRequest)
		return
	}
	loan, err := h.Manager.GetLoanDetails(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// GetActive handles GET /v1/workers/{id}/loans/active.
func (h *LoanHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	workerID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid worker id"}`, http.StatusBadRequest)
		return
	}
	loan, err := h.Manager.GetActiveLoan(r.Context(), workerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// Assess handles GET /v1/workers/{id}/risk.
func (h *LoanHandler) Assess(w http.ResponseWriter, r *http.Request) {
	workerID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid worker id"}`, http.StatusBadRequest)
		return
	}
	assessment, err := h.Risk.CalculateRiskScore(r.Context(), workerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}
