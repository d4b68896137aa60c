// Package risk computes a 0-1000 creditworthiness score and cash-advance
// eligibility from worker history. Every factor is a simple explainable
// formula and the full breakdown is returned with the score.
package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/faults"
	"github.com/streampay/backend/internal/forecast"
	"github.com/streampay/backend/internal/models"
)

// Factor weights. The base allotments sum to exactly 1000; loan-history and
// consistency adjustments can push past them before the final clamp.
const (
	reputationAllotment  = 300.0
	maturityAllotment    = 150.0
	taskCountAllotment   = 250.0
	performanceAllotment = 200.0
	disputesAllotment    = 100.0

	maturityCapDays  = 90
	taskCountCap     = 50
	disputePenalty   = 20.0
	loanHistoryBonus = 50.0
	poorRepaymentCut = 0.8

	consistencyBonus   = 30.0
	steadyCovThreshold = 0.2
	choppyCovThreshold = 0.6
)

// Eligibility and fee-rate tiers.
const (
	EligibilityThreshold = 600

	feeRateLowBps  = 200
	feeRateMidBps  = 350
	feeRateHighBps = 500

	feeTierLowScore = 800
	feeTierMidScore = 600
)

// DefaultAdvanceCeiling caps the maximum advance regardless of earnings.
var DefaultAdvanceCeiling = decimal.NewFromInt(1000)

// Factor is one scored component of the assessment.
type Factor struct {
	Name   string  `json:"name"`
	Points float64 `json:"points"`
	Max    float64 `json:"max"`
	Detail string  `json:"detail"`
}

// Assessment is the scorer's full answer: score, eligibility, advance terms,
// and the per-factor breakdown for explainability.
type Assessment struct {
	WorkerID   uuid.UUID       `json:"worker_id"`
	Score      int             `json:"score"`
	Eligible   bool            `json:"eligible"`
	Reason     string          `json:"reason,omitempty"`
	MaxAdvance decimal.Decimal `json:"max_advance"`
	FeeRateBps int             `json:"fee_rate_bps"`
	Factors    []Factor        `json:"factors"`
}

// WorkerSource supplies the worker row.
type WorkerSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Worker, error)
}

// ReputationSource supplies event-history aggregates.
type ReputationSource interface {
	Aggregates(ctx context.Context, workerID uuid.UUID) (*models.ReputationAggregates, error)
}

// LoanSource supplies loan history and the active-loan check.
type LoanSource interface {
	ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.Loan, error)
	GetActiveByWorker(ctx context.Context, workerID uuid.UUID) (*models.Loan, error)
}

// EarningsSource supplies payout history for volatility and advance sizing.
type EarningsSource interface {
	DailyEarnings(ctx context.Context, workerID uuid.UUID, days int) ([]models.DailyEarning, error)
	SumEarnings(ctx context.Context, workerID uuid.UUID, days int) (decimal.Decimal, error)
}

// Scorer computes risk assessments.
type Scorer struct {
	Workers        WorkerSource
	Reputation     ReputationSource
	Loans          LoanSource
	Earnings       EarningsSource
	AdvanceCeiling decimal.Decimal
	now            func() time.Time
}

// NewScorer returns a scorer with the default advance ceiling.
func NewScorer(workers WorkerSource, reputation ReputationSource, loans LoanSource, earnings EarningsSource) *Scorer {
	return &Scorer{
		Workers:        workers,
		Reputation:     reputation,
		Loans:          loans,
		Earnings:       earnings,
		AdvanceCeiling: DefaultAdvanceCeiling,
		now:            time.Now,
	}
}

// CalculateRiskScore assembles the weighted-factor score, eligibility,
// advance limit, and fee rate for the worker.
func (s *Scorer) CalculateRiskScore(ctx context.Context, workerID uuid.UUID) (*Assessment, error) {
	worker, err := s.Workers.GetByID(ctx, workerID)
	if err != nil {
		return nil, err
	}
	agg, err := s.Reputation.Aggregates(ctx, workerID)
	if err != nil {
		return nil, err
	}
	loans, err := s.Loans.ListByWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	earnings, err := s.Earnings.DailyEarnings(ctx, workerID, 30)
	if err != nil {
		return nil, err
	}
	last30, err := s.Earnings.SumEarnings(ctx, workerID, 30)
	if err != nil {
		return nil, err
	}

	factors := []Factor{
		reputationFactor(worker),
		maturityFactor(worker, s.now()),
		taskCountFactor(worker),
		performanceFactor(agg),
		disputesFactor(agg),
		loanHistoryFactor(loans),
		consistencyFactor(earnings),
	}

	total := 0.0
	for _, f := range factors {
		total += f.Points
	}
	score := clampScore(int(total))

	activeLoan := false
	if _, err := s.Loans.GetActiveByWorker(ctx, workerID); err == nil {
		activeLoan = true
	} else if !errors.Is(err, faults.ErrNotFound) {
		return nil, err
	}

	a := &Assessment{
		WorkerID:   workerID,
		Score:      score,
		FeeRateBps: FeeRateFor(score),
		Factors:    factors,
	}
	switch {
	case activeLoan:
		a.Reason = "worker already has an active loan"
	case score < EligibilityThreshold:
		a.Reason = fmt.Sprintf("score %d below eligibility threshold %d", score, EligibilityThreshold)
	default:
		a.Eligible = true
		a.MaxAdvance = MaxAdvance(last30, score, s.AdvanceCeiling)
	}
	return a, nil
}

// MaxAdvance sizes the advance from trailing-30-day earnings: 50% of them
// plus up to another 30% scaled by score, capped at the ceiling.
func MaxAdvance(last30Days decimal.Decimal, score int, ceiling decimal.Decimal) decimal.Decimal {
	multiplier := 0.5 + float64(score)/1000*0.3
	advance := last30Days.Mul(decimal.NewFromFloat(multiplier)).Round(6)
	if advance.GreaterThan(ceiling) {
		return ceiling
	}
	if advance.Sign() < 0 {
		return decimal.Zero
	}
	return advance
}

// FeeRateFor maps a risk score to the advance fee rate in basis points.
func FeeRateFor(score int) int {
	switch {
	case score >= feeTierLowScore:
		return feeRateLowBps
	case score >= feeTierMidScore:
		return feeRateMidBps
	default:
		return feeRateHighBps
	}
}

func reputationFactor(w *models.Worker) Factor {
	points := float64(w.ReputationScore) / float64(models.MaxReputationScore) * reputationAllotment
	return Factor{
		Name:   "reputation",
		Points: points,
		Max:    reputationAllotment,
		Detail: fmt.Sprintf("reputation score %d of %d", w.ReputationScore, models.MaxReputationScore),
	}
}

func maturityFactor(w *models.Worker, now time.Time) Factor {
	days := w.AccountAgeDays(now)
	capped := days
	if capped > maturityCapDays {
		capped = maturityCapDays
	}
	if capped < 0 {
		capped = 0
	}
	return Factor{
		Name:   "account_maturity",
		Points: float64(capped) / maturityCapDays * maturityAllotment,
		Max:    maturityAllotment,
		Detail: fmt.Sprintf("account age %d days (capped at %d)", days, maturityCapDays),
	}
}

func taskCountFactor(w *models.Worker) Factor {
	capped := w.TasksCompleted
	if capped > taskCountCap {
		capped = taskCountCap
	}
	return Factor{
		Name:   "task_count",
		Points: float64(capped) / taskCountCap * taskCountAllotment,
		Max:    taskCountAllotment,
		Detail: fmt.Sprintf("%d tasks completed (capped at %d)", w.TasksCompleted, taskCountCap),
	}
}

// performanceFactor blends completion rate (40%), on-time rate (30%), and
// normalized average rating (30%).
func performanceFactor(agg *models.ReputationAggregates) Factor {
	blend := agg.CompletionRate()*0.4 + agg.OnTimeRate()*0.3 + agg.AverageRating()/5*0.3
	return Factor{
		Name:   "performance",
		Points: blend * performanceAllotment,
		Max:    performanceAllotment,
		Detail: fmt.Sprintf("completion %.2f, on-time %.2f, avg rating %.1f", agg.CompletionRate(), agg.OnTimeRate(), agg.AverageRating()),
	}
}

// disputesFactor starts from the full allotment and deducts 20 points per
// dispute, bottoming out at zero (-100 relative to the allotment).
func disputesFactor(agg *models.ReputationAggregates) Factor {
	points := disputesAllotment - disputePenalty*float64(agg.DisputesFiled)
	if points < 0 {
		points = 0
	}
	return Factor{
		Name:   "disputes",
		Points: points,
		Max:    disputesAllotment,
		Detail: fmt.Sprintf("%d disputes filed", agg.DisputesFiled),
	}
}

// loanHistoryFactor rewards a perfect repayment record and penalizes a
// repayment ratio below 0.8 across finished loans. No history scores zero.
func loanHistoryFactor(loans []*models.Loan) Factor {
	var totalDue, totalRepaid decimal.Decimal
	finished := 0
	defaulted := 0
	for _, l := range loans {
		switch l.Status {
		case models.LoanStatusRepaid:
			finished++
		case models.LoanStatusDefaulted:
			finished++
			defaulted++
		default:
			continue
		}
		totalDue = totalDue.Add(l.TotalDue)
		totalRepaid = totalRepaid.Add(l.RepaidAmount)
	}
	if finished == 0 {
		return Factor{Name: "loan_history", Max: loanHistoryBonus, Detail: "no finished loans"}
	}
	ratio, _ := totalRepaid.Div(totalDue).Float64()
	switch {
	case defaulted == 0 && ratio >= 1:
		return Factor{
			Name:   "loan_history",
			Points: loanHistoryBonus,
			Max:    loanHistoryBonus,
			Detail: fmt.Sprintf("%d loans repaid in full", finished),
		}
	case ratio < poorRepaymentCut:
		return Factor{
			Name:   "loan_history",
			Points: -loanHistoryBonus,
			Max:    loanHistoryBonus,
			Detail: fmt.Sprintf("repayment ratio %.2f below %.1f", ratio, poorRepaymentCut),
		}
	default:
		return Factor{
			Name:   "loan_history",
			Max:    loanHistoryBonus,
			Detail: fmt.Sprintf("repayment ratio %.2f", ratio),
		}
	}
}

// consistencyFactor rewards steady daily earnings and penalizes choppy ones,
// using the same volatility measure as the forecast confidence bands.
func consistencyFactor(earnings []models.DailyEarning) Factor {
	if len(earnings) == 0 {
		return Factor{Name: "consistency", Max: consistencyBonus, Detail: "no earnings history"}
	}
	cov := forecast.CoefficientOfVariation(earnings)
	f := Factor{Name: "consistency", Max: consistencyBonus, Detail: fmt.Sprintf("earnings volatility %.2f", cov)}
	switch {
	case cov <= steadyCovThreshold:
		f.Points = consistencyBonus
	case cov > choppyCovThreshold:
		f.Points = -consistencyBonus
	}
	return f
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 1000 {
		return 1000
	}
	return score
}
