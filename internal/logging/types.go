package logging

import "time"

// #region decisions
// Training decisions recorded per invocation.
const (
	DecisionTrained = "trained"
	DecisionSkipped = "skipped"
	DecisionFailed  = "failed"
)
// #endregion decisions

// #region training-entry
// TrainingEntry is a single row in the training_runs table.
type TrainingEntry struct {
	RunID      string    `json:"run_id"`
	GoalKey    string    `json:"goal_key"`
	Decision   string    `json:"decision"` // "trained" | "skipped" | "failed"
	Episodes   int       `json:"episodes"`
	TotalSteps int       `json:"total_steps"`
	ParamsJSON string    `json:"params_json,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
// #endregion training-entry
