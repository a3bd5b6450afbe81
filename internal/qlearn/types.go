package qlearn

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// #region errors
var (
	// ErrInvalidHyperParams reports non-numeric or out-of-range hyperparameters.
	ErrInvalidHyperParams = errors.New("invalid hyperparameters")
	// ErrContractViolation reports an environment answer the learner cannot
	// act on: an empty applicable-action list or an out-of-range index.
	ErrContractViolation = errors.New("environment contract violation")
	// ErrStepLimit reports an episode that hit Config.MaxStepsPerEpisode.
	ErrStepLimit = errors.New("episode step limit reached")
)
// #endregion errors

// #region hyper-params
// HyperParams configures one training invocation.
type HyperParams struct {
	Alpha    float64 `json:"alpha"`    // learning rate [0,1]
	Gamma    float64 `json:"gamma"`    // discount factor [0,1]
	Epsilon  float64 `json:"epsilon"`  // exploration probability [0,1]
	Reward   int     `json:"reward"`   // terminal reward, > 0
	Episodes int     `json:"episodes"` // > 0
}

// Validate checks value ranges.
func (h HyperParams) Validate() error {
	for _, p := range []struct {
		name string
		v    float64
	}{{"alpha", h.Alpha}, {"gamma", h.Gamma}, {"epsilon", h.Epsilon}} {
		if math.IsNaN(p.v) || p.v < 0 || p.v > 1 {
			return fmt.Errorf("%s %v outside [0,1]: %w", p.name, p.v, ErrInvalidHyperParams)
		}
	}
	if h.Reward <= 0 {
		return fmt.Errorf("reward %d must be positive: %w", h.Reward, ErrInvalidHyperParams)
	}
	if h.Episodes <= 0 {
		return fmt.Errorf("episodes %d must be positive: %w", h.Episodes, ErrInvalidHyperParams)
	}
	return nil
}

// ParseHyperParams converts textual arguments and validates them.
func ParseHyperParams(episodes, alpha, gamma, epsilon, reward string) (HyperParams, error) {
	var h HyperParams
	var err error
	if h.Episodes, err = parseInt("episodes", episodes); err != nil {
		return HyperParams{}, err
	}
	if h.Alpha, err = parseFloat("alpha", alpha); err != nil {
		return HyperParams{}, err
	}
	if h.Gamma, err = parseFloat("gamma", gamma); err != nil {
		return HyperParams{}, err
	}
	if h.Epsilon, err = parseFloat("epsilon", epsilon); err != nil {
		return HyperParams{}, err
	}
	if h.Reward, err = parseInt("reward", reward); err != nil {
		return HyperParams{}, err
	}
	if err := h.Validate(); err != nil {
		return HyperParams{}, err
	}
	return h, nil
}

func parseInt(name, s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%s %q is not an integer: %w", name, s, ErrInvalidHyperParams)
	}
	return v, nil
}

func parseFloat(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not a number: %w", name, s, ErrInvalidHyperParams)
	}
	return v, nil
}
// #endregion hyper-params

// #region config
// Config holds the engine's pacing and policy constants.
type Config struct {
	ShuffleSteps       int           // random actions when a session binds
	BurnInSteps        int           // random actions before each episode
	BurnInSettle       time.Duration // pause after each burn-in action
	StepSettle         time.Duration // pause after each learning step's action
	MaxStepsPerEpisode int           // 0 = unbounded
	InferenceEpsilon   float64       // exploration probability when recommending
}

// DefaultConfig returns the pacing used against the physical lab.
func DefaultConfig() Config {
	return Config{
		ShuffleSteps:       10,
		BurnInSteps:        1000,
		BurnInSettle:       3 * time.Millisecond,
		StepSettle:         50 * time.Millisecond,
		MaxStepsPerEpisode: 0,
		InferenceEpsilon:   0.1,
	}
}
// #endregion config

// #region transition
// Transition is one observed learning step.
type Transition struct {
	Episode        int     `json:"episode"`
	Step           int     `json:"step"`
	State          int     `json:"state"`
	Action         int     `json:"action"`
	Reward         float64 `json:"reward"`
	Next           int     `json:"next"`
	NextApplicable []int   `json:"next_applicable"`
}
// #endregion transition

// #region stats
// EpisodeStats summarizes one episode.
type EpisodeStats struct {
	Steps      int
	StartState int
	EndState   int
}

// TrainStats summarizes a training invocation.
type TrainStats struct {
	Episodes        int
	TotalSteps      int
	StepsPerEpisode []int
	Duration        time.Duration
}
// #endregion stats
