package eval

// #region eval-config
// EvalConfig controls a greedy-policy evaluation.
type EvalConfig struct {
	Rollouts       int     `json:"rollouts"`         // number of greedy rollouts
	MaxSteps       int     `json:"max_steps"`        // a rollout longer than this fails
	ShuffleSteps   int     `json:"shuffle_steps"`    // random actions before each rollout
	MinSuccessRate float64 `json:"min_success_rate"` // fail below this fraction of successful rollouts
}

// DefaultEvalConfig returns defaults sized for the two-zone lab.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		Rollouts:       10,
		MaxSteps:       20,
		ShuffleSteps:   10,
		MinSuccessRate: 0.9,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Pass  bool    `json:"pass"`
}

// #endregion eval-metric

// #region eval-result
// Rollout is the outcome of one greedy run.
type Rollout struct {
	StartState int  `json:"start_state"`
	Steps      int  `json:"steps"`
	Reached    bool `json:"reached"`
}

// EvalResult is the output of an evaluation.
type EvalResult struct {
	Goal     string       `json:"goal"`
	Passed   bool         `json:"passed"`
	Metrics  []EvalMetric `json:"metrics"`
	Reason   string       `json:"reason"`
	Rollouts []Rollout    `json:"rollouts,omitempty"`
}

// #endregion eval-result
