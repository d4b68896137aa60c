// Package forecast predicts a worker's near-term earnings from daily
// history. The formulas are deliberately simple and explainable; this is
// not a trained model.
package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/faults"
	"github.com/streampay/backend/internal/models"
)

// DefaultHorizonDays is the forecast horizon when the caller does not ask
// for a specific one.
const DefaultHorizonDays = 30

// Confidence labels.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

const (
	minHistoryDays      = 7
	trendWindowDays     = 14
	trailingWindowDays  = 7
	dowWeight           = 0.6
	trailingWeight      = 0.4
	trendDamping        = 0.1
	maxRelativeTrend    = 0.5
	fallbackDiscount    = 0.7
	fallbackConfidence  = 0.3
)

// DayForecast is one predicted day.
type DayForecast struct {
	Day    time.Time       `json:"day"`
	Amount decimal.Decimal `json:"amount"`
}

// Prediction is the forecast for the next N days.
type Prediction struct {
	Days            int             `json:"days"`
	Total           decimal.Decimal `json:"total"`
	PerDay          []DayForecast   `json:"per_day"`
	LowerBound      decimal.Decimal `json:"lower_bound"`
	UpperBound      decimal.Decimal `json:"upper_bound"`
	Confidence      string          `json:"confidence"`
	ConfidenceScore float64         `json:"confidence_score"`
	Fallback        bool            `json:"fallback"`
}

// HistorySource supplies ordered daily earnings, oldest first.
type HistorySource interface {
	DailyEarnings(ctx context.Context, workerID uuid.UUID, days int) ([]models.DailyEarning, error)
}

// Predictor forecasts earnings for workers from their payout history.
type Predictor struct {
	History HistorySource
	now     func() time.Time
}

// NewPredictor returns a predictor over the given history source.
func NewPredictor(history HistorySource) *Predictor {
	return &Predictor{History: history, now: time.Now}
}

// historyWindowDays bounds how much history the predictor reads. Day-of-week
// averages stabilize well before this.
const historyWindowDays = 60

// PredictEarnings forecasts the worker's next-N-days earnings.
func (p *Predictor) PredictEarnings(ctx context.Context, workerID uuid.UUID, days int) (*Prediction, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive, got %d", faults.ErrInvalidParameters, days)
	}
	history, err := p.History.DailyEarnings(ctx, workerID, historyWindowDays)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: no earnings history for worker %s", faults.ErrNotFound, workerID)
	}
	return Predict(history, days, p.now()), nil
}

// Predict computes the forecast from an ordered history. Exported as a pure
// function so the risk scorer and tests can call it directly.
func Predict(history []models.DailyEarning, days int, now time.Time) *Prediction {
	amounts := make([]float64, len(history))
	for i, h := range history {
		amounts[i], _ = h.Amount.Float64()
	}

	if len(history) < minHistoryDays {
		return conservativeFallback(amounts, days, now)
	}

	dowAvg, overall := dayOfWeekAverages(history, amounts)
	trailing := mean(amounts[maxInt(0, len(amounts)-trailingWindowDays):])
	trend := dampenedTrend(amounts)
	multiplier := 1 + trend*trendDamping

	perDay := make([]DayForecast, 0, days)
	total := 0.0
	for d := 1; d <= days; d++ {
		date := now.AddDate(0, 0, d)
		base, ok := dowAvg[date.Weekday()]
		if !ok {
			base = overall
		}
		value := (dowWeight*base + trailingWeight*trailing) * multiplier
		if value < 0 {
			value = 0
		}
		total += value
		perDay = append(perDay, DayForecast{Day: date, Amount: decimal.NewFromFloat(value).Round(6)})
	}

	cov := coefficientOfVariation(amounts)
	label, band := confidenceBand(cov)
	score := clampFloat(1-cov, 0, 1)

	totalDec := decimal.NewFromFloat(total).Round(6)
	width := totalDec.Mul(decimal.NewFromFloat(band)).Round(6)
	lower := totalDec.Sub(width)
	if lower.Sign() < 0 {
		lower = decimal.Zero
	}

	return &Prediction{
		Days:            days,
		Total:           totalDec,
		PerDay:          perDay,
		LowerBound:      lower,
		UpperBound:      totalDec.Add(width),
		Confidence:      label,
		ConfidenceScore: score,
	}
}

// conservativeFallback handles thin history: average daily earnings times
// the horizon, discounted to 70%, always low confidence.
func conservativeFallback(amounts []float64, days int, now time.Time) *Prediction {
	daily := mean(amounts) * fallbackDiscount
	perDay := make([]DayForecast, 0, days)
	for d := 1; d <= days; d++ {
		perDay = append(perDay, DayForecast{
			Day:    now.AddDate(0, 0, d),
			Amount: decimal.NewFromFloat(daily).Round(6),
		})
	}
	total := decimal.NewFromFloat(daily * float64(days)).Round(6)
	width := total.Mul(decimal.NewFromFloat(0.4)).Round(6)
	lower := total.Sub(width)
	if lower.Sign() < 0 {
		lower = decimal.Zero
	}
	return &Prediction{
		Days:            days,
		Total:           total,
		PerDay:          perDay,
		LowerBound:      lower,
		UpperBound:      total.Add(width),
		Confidence:      ConfidenceLow,
		ConfidenceScore: fallbackConfidence,
		Fallback:        true,
	}
}

// dayOfWeekAverages returns the mean earnings per weekday and overall.
func dayOfWeekAverages(history []models.DailyEarning, amounts []float64) (map[time.Weekday]float64, float64) {
	sums := make(map[time.Weekday]float64)
	counts := make(map[time.Weekday]int)
	for i, h := range history {
		wd := h.Day.Weekday()
		sums[wd] += amounts[i]
		counts[wd]++
	}
	avgs := make(map[time.Weekday]float64, len(sums))
	for wd, sum := range sums {
		avgs[wd] = sum / float64(counts[wd])
	}
	return avgs, mean(amounts)
}

// dampenedTrend fits a least-squares line over the trailing 14 days and
// returns the slope relative to the window mean, clamped to ±0.5.
func dampenedTrend(amounts []float64) float64 {
	window := amounts[maxInt(0, len(amounts)-trendWindowDays):]
	n := float64(len(window))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range window {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	slope := (n*sumXY - sumX*sumY) / denom
	m := sumY / n
	if m == 0 {
		return 0
	}
	return clampFloat(slope/m, -maxRelativeTrend, maxRelativeTrend)
}

// confidenceBand maps the coefficient of variation to a label and interval
// half-width: tight history gets ±15%, choppy history ±40%.
func confidenceBand(cov float64) (string, float64) {
	switch {
	case cov <= 0.2:
		return ConfidenceHigh, 0.15
	case cov <= 0.4:
		return ConfidenceMedium, 0.25
	default:
		return ConfidenceLow, 0.40
	}
}

// CoefficientOfVariation exposes the volatility measure used for confidence
// bands; the risk scorer reuses it for the consistency factor.
func CoefficientOfVariation(history []models.DailyEarning) float64 {
	amounts := make([]float64, len(history))
	for i, h := range history {
		amounts[i], _ = h.Amount.Float64()
	}
	return coefficientOfVariation(amounts)
}

func coefficientOfVariation(amounts []float64) float64 {
	m := mean(amounts)
	if m == 0 {
		return 0
	}
	var ss float64
	for _, a := range amounts {
		d := a - m
		ss += d * d
	}
	return math.Sqrt(ss/float64(len(amounts))) / m
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func clampFloat(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
