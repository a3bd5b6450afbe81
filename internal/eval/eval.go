package eval

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/danielpatrickdp/lab-qlearner/internal/qlearn"
	"github.com/danielpatrickdp/lab-qlearner/internal/qtable"
)

// #region eval-harness
// EvalHarness checks a trained table by following its greedy policy on the
// live environment. Nothing is learned during an evaluation.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run validates q and then performs the configured rollouts through engine.
func (h *EvalHarness) Run(ctx context.Context, engine *qlearn.Engine, goal qtable.Goal, q *mat.Dense) (EvalResult, error) {
	if h.config.Rollouts <= 0 || h.config.MaxSteps <= 0 {
		return EvalResult{}, errors.New("eval: rollouts and max steps must be positive")
	}
	result := EvalResult{Goal: goal.Key()}
	var failReasons []string

	// 1. Table sanity: every value finite
	bad := nonFinite(q)
	finitePass := bad == 0
	result.Metrics = append(result.Metrics, EvalMetric{Name: "non_finite_values", Value: float64(bad), Pass: finitePass})
	if !finitePass {
		failReasons = append(failReasons, fmt.Sprintf("%d non-finite table values", bad))
	}

	// 2. Coverage: informational only
	rows, _ := q.Dims()
	result.Metrics = append(result.Metrics, EvalMetric{
		Name:  "visited_state_fraction",
		Value: float64(visitedRows(q)) / float64(rows),
		Pass:  true,
	})

	// 3. Greedy rollouts
	reached, totalSteps := 0, 0
	for i := 0; i < h.config.Rollouts; i++ {
		if _, err := engine.Shuffle(ctx, h.config.ShuffleSteps, engine.Config().BurnInSettle); err != nil {
			return result, fmt.Errorf("rollout %d: shuffle: %w", i, err)
		}
		stats, ok, err := engine.Rollout(ctx, goal, q, h.config.MaxSteps)
		if err != nil {
			return result, fmt.Errorf("rollout %d: %w", i, err)
		}
		result.Rollouts = append(result.Rollouts, Rollout{StartState: stats.StartState, Steps: stats.Steps, Reached: ok})
		if ok {
			reached++
			totalSteps += stats.Steps
		}
	}
	rate := float64(reached) / float64(h.config.Rollouts)
	ratePass := rate >= h.config.MinSuccessRate
	result.Metrics = append(result.Metrics, EvalMetric{Name: "success_rate", Value: rate, Pass: ratePass})
	if !ratePass {
		failReasons = append(failReasons, fmt.Sprintf("success rate %.2f below %.2f", rate, h.config.MinSuccessRate))
	}
	mean := 0.0
	if reached > 0 {
		mean = float64(totalSteps) / float64(reached)
	}
	result.Metrics = append(result.Metrics, EvalMetric{Name: "mean_steps_to_goal", Value: mean, Pass: true})

	result.Passed = len(failReasons) == 0
	result.Reason = "all checks passed"
	if !result.Passed {
		result.Reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			result.Reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}
	return result, nil
}

// #endregion eval-harness

// #region helpers
func nonFinite(q *mat.Dense) int {
	rows, cols := q.Dims()
	n := 0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := q.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				n++
			}
		}
	}
	return n
}

func visitedRows(q *mat.Dense) int {
	rows, cols := q.Dims()
	n := 0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if q.At(i, j) != 0 {
				n++
				break
			}
		}
	}
	return n
}

// #endregion helpers
