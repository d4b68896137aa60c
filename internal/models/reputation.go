package models

import (
	"time"

	"github.com/google/uuid"
)

// Reputation event kind enums.
const (
	RepEventTaskCompleted    = "task_completed"
	RepEventTaskLate         = "task_late"
	RepEventDisputeFiled     = "dispute_filed"
	RepEventDisputeResolved  = "dispute_resolved"
	RepEventRatingReceived   = "rating_received"
	RepEventManualAdjustment = "manual_adjustment"
)

// ReputationEvent is an immutable, append-only record of a score-affecting
// occurrence. NewScore must always equal PreviousScore + PointsDelta after
// clamping to [0, MaxReputationScore], and replaying a worker's full history
// from BaseReputationScore must reproduce the cached score.
type ReputationEvent struct {
	ID            uuid.UUID  `json:"id"`
	WorkerID      uuid.UUID  `json:"worker_id"`
	Kind          string     `json:"kind"`
	PointsDelta   int        `json:"points_delta"`
	PreviousScore int        `json:"previous_score"`
	NewScore      int        `json:"new_score"`
	Rating        *int       `json:"rating,omitempty"`
	OnTime        *bool      `json:"on_time,omitempty"`
	TaskID        *uuid.UUID `json:"task_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ReputationAggregates are the event-history counters the risk scorer and
// completion/rating queries derive from.
type ReputationAggregates struct {
	TasksCompleted int
	TasksOnTime    int
	TasksLate      int
	DisputesFiled  int
	RatingCount    int
	RatingSum      int
}

// CompletionRate is completed / (completed + late), or 0 with no history.
func (a ReputationAggregates) CompletionRate() float64 {
	total := a.TasksCompleted + a.TasksLate
	if total == 0 {
		return 0
	}
	return float64(a.TasksCompleted) / float64(total)
}

// OnTimeRate is on-time completions over all completions, or 0 with none.
func (a ReputationAggregates) OnTimeRate() float64 {
	if a.TasksCompleted == 0 {
		return 0
	}
	return float64(a.TasksOnTime) / float64(a.TasksCompleted)
}

// AverageRating is the mean received rating, or 0 with none.
func (a ReputationAggregates) AverageRating() float64 {
	if a.RatingCount == 0 {
		return 0
	}
	return float64(a.RatingSum) / float64(a.RatingCount)
}

// ClampScore clamps a reputation score to [0, MaxReputationScore].
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > MaxReputationScore {
		return MaxReputationScore
	}
	return score
}
