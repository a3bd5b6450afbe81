package session

import (
	"context"
	"errors"

	"github.com/danielpatrickdp/lab-qlearner/internal/action"
	"github.com/danielpatrickdp/lab-qlearner/internal/events"
	"github.com/danielpatrickdp/lab-qlearner/internal/logging"
	"github.com/danielpatrickdp/lab-qlearner/internal/qlearn"
	"github.com/danielpatrickdp/lab-qlearner/internal/qtable"
)

// #region errors
var (
	// ErrUntrainedGoal is returned when recommending for a goal with no table.
	ErrUntrainedGoal = errors.New("goal has not been trained")
	// ErrInvalidGoal reports a non-numeric or out-of-range goal.
	ErrInvalidGoal = errors.New("invalid goal")
	// ErrStateEncoding is returned when a state description cannot be used.
	ErrStateEncoding = errors.New("cannot encode state description")
	// ErrStorage wraps failures of the table store.
	ErrStorage = errors.New("q-table storage failed")
)
// #endregion errors

// #region hooks
// RunRecorder persists one row per training invocation.
type RunRecorder interface {
	RecordTraining(ctx context.Context, entry logging.TrainingEntry) (logging.TrainingEntry, error)
}

// Publisher announces training and recommendation events.
type Publisher interface {
	Publish(ctx context.Context, evt events.Event) error
}
// #endregion hooks

// #region results
// TrainResult reports what a Train call did.
type TrainResult struct {
	Goal    qtable.Goal
	Skipped bool
	RunID   string
	Stats   qlearn.TrainStats
}

// Recommendation is the answer to NextAction.
type Recommendation struct {
	Goal    qtable.Goal
	State   int
	Action  int
	Command action.Command
}
// #endregion results
