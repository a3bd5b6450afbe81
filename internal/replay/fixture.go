package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/lab-qlearner/internal/qlearn"
	"github.com/danielpatrickdp/lab-qlearner/internal/qtable"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: a recorded
// sequence of learning steps and the table values they must produce.
type Fixture struct {
	Description string              `json:"description"`
	Goal        string              `json:"goal"`
	States      int                 `json:"states"`
	Actions     int                 `json:"actions"`
	Alpha       float64             `json:"alpha"`
	Gamma       float64             `json:"gamma"`
	Transitions []qlearn.Transition `json:"transitions"`
	Expected    []ExpectedValue     `json:"expected"`
}

// ExpectedValue pins one table cell after the replay.
type ExpectedValue struct {
	State  int     `json:"state"`
	Action int     `json:"action"`
	Value  float64 `json:"value"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if _, err := qtable.ParseGoalKey(f.Goal); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	if f.States <= 0 || f.Actions <= 0 {
		return nil, fmt.Errorf("fixture %s: dimensions %dx%d", path, f.States, f.Actions)
	}
	return &f, nil
}

// WriteFixture writes f as indented JSON.
func WriteFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// #endregion fixture-loader

// #region recorder

// Recorder collects transitions from a live engine. Pass Observe to
// qlearn.WithObserver.
type Recorder struct {
	transitions []qlearn.Transition
}

// Observe appends t, copying its applicable-action slice.
func (r *Recorder) Observe(t qlearn.Transition) {
	t.NextApplicable = append([]int(nil), t.NextApplicable...)
	r.transitions = append(r.transitions, t)
}

// Len reports the number of recorded transitions.
func (r *Recorder) Len() int {
	return len(r.transitions)
}

// Fixture packages the recorded transitions for goal.
func (r *Recorder) Fixture(description string, goal qtable.Goal, states, actions int, hp qlearn.HyperParams) *Fixture {
	return &Fixture{
		Description: description,
		Goal:        goal.Key(),
		States:      states,
		Actions:     actions,
		Alpha:       hp.Alpha,
		Gamma:       hp.Gamma,
		Transitions: append([]qlearn.Transition(nil), r.transitions...),
	}
}

// #endregion recorder
