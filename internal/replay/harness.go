package replay

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/danielpatrickdp/lab-qlearner/internal/qlearn"
	"github.com/danielpatrickdp/lab-qlearner/internal/qtable"
)

// #region types
// StepResult captures one replayed update.
type StepResult struct {
	Episode int
	Step    int
	State   int
	Action  int
	Before  float64
	After   float64
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Steps     int
	Episodes  int
	Terminals int
	Table     *mat.Dense
}

// Mismatch reports an expected cell the replay did not reproduce.
type Mismatch struct {
	State, Action int
	Want, Got     float64
}

func (m Mismatch) String() string {
	return fmt.Sprintf("Q[%d][%d]: expected %v, got %v", m.State, m.Action, m.Want, m.Got)
}
// #endregion types

// #region replay
// Replay applies transitions to q in order using the learning rule, without
// an environment. A transition whose indices fall outside q stops the replay.
func Replay(q *mat.Dense, transitions []qlearn.Transition, alpha, gamma float64) ([]StepResult, error) {
	rows, cols := q.Dims()
	results := make([]StepResult, 0, len(transitions))
	for i, t := range transitions {
		if t.State < 0 || t.State >= rows || t.Action < 0 || t.Action >= cols {
			return results, fmt.Errorf("transition %d: (%d,%d) outside %dx%d: %w", i, t.State, t.Action, rows, cols, qlearn.ErrContractViolation)
		}
		if err := qlearn.CheckBounds(q, t.Next, t.NextApplicable); err != nil {
			return results, fmt.Errorf("transition %d: %w", i, err)
		}
		before := q.At(t.State, t.Action)
		after := qlearn.Update(q, t.State, t.Action, t.Reward, qlearn.MaxQ(q, t.Next, t.NextApplicable), alpha, gamma)
		results = append(results, StepResult{
			Episode: t.Episode,
			Step:    t.Step,
			State:   t.State,
			Action:  t.Action,
			Before:  before,
			After:   after,
		})
	}
	return results, nil
}

// Run replays f into a fresh table and summarizes it.
func Run(f *Fixture) (Summary, error) {
	q := qtable.NewTable(f.States, f.Actions)
	results, err := Replay(q, f.Transitions, f.Alpha, f.Gamma)
	sum := Summary{Steps: len(results), Table: q}
	episodes := map[int]bool{}
	for _, r := range results {
		episodes[r.Episode] = true
	}
	sum.Episodes = len(episodes)
	for _, t := range f.Transitions[:len(results)] {
		if t.Reward > 0 {
			sum.Terminals++
		}
	}
	return sum, err
}

// Check compares the pinned cells of f against q within tol.
func Check(f *Fixture, q *mat.Dense, tol float64) []Mismatch {
	var out []Mismatch
	for _, e := range f.Expected {
		got := q.At(e.State, e.Action)
		if math.Abs(got-e.Value) > tol {
			out = append(out, Mismatch{State: e.State, Action: e.Action, Want: e.Value, Got: got})
		}
	}
	return out
}
// #endregion replay
