package verification

import (
	"context"

	"github.com/shopspring/decimal"
)

var (
	heuristicHighAmount = decimal.NewFromInt(500)
	heuristicMaxAmount  = decimal.NewFromInt(5000)
)

// Heuristic renders verdicts from simple explainable rules. It is the
// fallback when no remote model endpoint is configured.
type Heuristic struct{}

var _ Provider = (*Heuristic)(nil)

// NewHeuristic returns the rule-based provider.
func NewHeuristic() *Heuristic { return &Heuristic{} }

// Verify applies the rules in order of severity:
//   - amount above the hard ceiling on a young, low-reputation account: reject
//   - first-ever task paying a high amount, or account younger than a day
//     with a high amount: flag
//   - everything else: approve
func (h *Heuristic) Verify(_ context.Context, tc TaskCompletion) (*Result, error) {
	highAmount := tc.Amount.GreaterThanOrEqual(heuristicHighAmount)

	if tc.Amount.GreaterThan(heuristicMaxAmount) && tc.AccountAgeDays < 7 && tc.WorkerScore < 200 {
		return &Result{
			Verdict:    VerdictReject,
			Confidence: 0.9,
			Reason:     "amount far above profile for new low-reputation account",
		}, nil
	}
	if highAmount && tc.TasksCompleted == 0 {
		return &Result{
			Verdict:    VerdictFlag,
			Confidence: 0.7,
			Reason:     "high amount on first completed task",
		}, nil
	}
	if highAmount && tc.AccountAgeDays < 1 {
		return &Result{
			Verdict:    VerdictFlag,
			Confidence: 0.6,
			Reason:     "high amount on account created today",
		}, nil
	}
	return &Result{Verdict: VerdictApprove, Confidence: 0.95}, nil
}
