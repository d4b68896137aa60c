package forecast

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/models"
)

// history builds a daily-earnings series ending yesterday relative to now.
func history(now time.Time, amounts ...float64) []models.DailyEarning {
	out := make([]models.DailyEarning, len(amounts))
	for i, a := range amounts {
		out[i] = models.DailyEarning{
			Day:    now.AddDate(0, 0, i-len(amounts)),
			Amount: decimal.NewFromFloat(a),
		}
	}
	return out
}

func approxEqual(d decimal.Decimal, want, tol float64) bool {
	got, _ := d.Float64()
	return math.Abs(got-want) <= tol
}

// ---------------------------------------------------------------------------
// 1. Conservative fallback with thin history
// ---------------------------------------------------------------------------

func TestPredictFallbackWithThinHistory(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	// 3 days averaging 10/day -> next7 = 10 * 7 * 0.7 = 49, confidence low.
	p := Predict(history(now, 10, 10, 10), 7, now)

	if !p.Fallback {
		t.Error("expected fallback prediction for 3-day history")
	}
	if p.Confidence != ConfidenceLow {
		t.Errorf("confidence: got %q, want %q", p.Confidence, ConfidenceLow)
	}
	if !approxEqual(p.Total, 49, 0.001) {
		t.Errorf("total: got %s, want 49", p.Total)
	}
	if len(p.PerDay) != 7 {
		t.Fatalf("per-day breakdown: got %d entries, want 7", len(p.PerDay))
	}
	if !approxEqual(p.PerDay[0].Amount, 7, 0.001) {
		t.Errorf("per-day amount: got %s, want 7", p.PerDay[0].Amount)
	}
}

// ---------------------------------------------------------------------------
// 2. Flat history: prediction tracks the daily average, high confidence
// ---------------------------------------------------------------------------

func TestPredictFlatHistory(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	amounts := make([]float64, 21)
	for i := range amounts {
		amounts[i] = 50
	}
	p := Predict(history(now, amounts...), 7, now)

	if p.Fallback {
		t.Error("21-day history must not fall back")
	}
	if p.Confidence != ConfidenceHigh {
		t.Errorf("confidence: got %q, want %q", p.Confidence, ConfidenceHigh)
	}
	// Zero variance, zero trend: every day predicts exactly 50.
	if !approxEqual(p.Total, 350, 0.01) {
		t.Errorf("total: got %s, want 350", p.Total)
	}
	// CoV = 0 -> numeric confidence pegged at 1.
	if p.ConfidenceScore != 1 {
		t.Errorf("confidence score: got %v, want 1", p.ConfidenceScore)
	}
	if !approxEqual(p.LowerBound, 350*0.85, 0.01) || !approxEqual(p.UpperBound, 350*1.15, 0.01) {
		t.Errorf("bounds: got [%s, %s], want [297.5, 402.5]", p.LowerBound, p.UpperBound)
	}
}

// ---------------------------------------------------------------------------
// 3. Trend and volatility behavior
// ---------------------------------------------------------------------------

func TestPredictRisingTrendLiftsForecast(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	flat := make([]float64, 14)
	rising := make([]float64, 14)
	for i := range flat {
		flat[i] = 100
		rising[i] = 80 + float64(i)*3 // same-ish scale, steady climb
	}

	pFlat := Predict(history(now, flat...), 7, now)
	pRising := Predict(history(now, rising...), 7, now)

	flatTotal, _ := pFlat.Total.Float64()
	risingTotal, _ := pRising.Total.Float64()
	risingMean := 80 + 3*6.5 // mean of the rising series

	// The rising series must be lifted above its own mean-based forecast
	// relative to the flat series' ratio.
	if risingTotal/risingMean/7 <= flatTotal/100/7 {
		t.Errorf("rising trend did not lift forecast: rising=%v flat=%v", risingTotal, flatTotal)
	}
}

func TestPredictVolatileHistoryLowConfidence(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	volatile := []float64{5, 200, 10, 180, 2, 190, 8, 170, 4, 160, 12, 150}
	p := Predict(history(now, volatile...), 7, now)

	if p.Confidence != ConfidenceLow {
		t.Errorf("confidence: got %q, want %q", p.Confidence, ConfidenceLow)
	}
	// ±40% band.
	total, _ := p.Total.Float64()
	upper, _ := p.UpperBound.Float64()
	if math.Abs(upper-total*1.4) > 0.01 {
		t.Errorf("upper bound: got %v, want %v", upper, total*1.4)
	}
}

// ---------------------------------------------------------------------------
// 4. Input validation edges
// ---------------------------------------------------------------------------

func TestPredictSingleDayHistory(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	p := Predict(history(now, 30), 5, now)
	if !p.Fallback || p.Confidence != ConfidenceLow {
		t.Errorf("single-day history: fallback=%v confidence=%q", p.Fallback, p.Confidence)
	}
	if !approxEqual(p.Total, 30*5*0.7, 0.001) {
		t.Errorf("total: got %s, want 105", p.Total)
	}
}

func TestCoefficientOfVariation(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	if cov := CoefficientOfVariation(history(now, 10, 10, 10)); cov != 0 {
		t.Errorf("flat series CoV: got %v, want 0", cov)
	}
	if cov := CoefficientOfVariation(history(now, 5, 200, 10, 180)); cov <= 0.4 {
		t.Errorf("volatile series CoV: got %v, want > 0.4", cov)
	}
}
