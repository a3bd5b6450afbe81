package qlearn

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/danielpatrickdp/lab-qlearner/internal/env"
	"github.com/danielpatrickdp/lab-qlearner/internal/qtable"
)

// #region engine
// Engine runs Q-learning episodes against an Environment. It is not safe for
// concurrent use; callers serialize access to the environment.
type Engine struct {
	env      env.Environment
	cfg      Config
	rng      *rand.Rand
	policy   *Policy
	logger   *log.Logger
	observer func(Transition)
}

// Option configures an Engine.
type Option func(*Engine)

// WithRand fixes the engine's random source.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// WithLogger routes episode logging to l.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithObserver is called with every learning step after the table update.
func WithObserver(fn func(Transition)) Option {
	return func(e *Engine) { e.observer = fn }
}

// NewEngine binds an engine to environment.
func NewEngine(environment env.Environment, cfg Config, opts ...Option) *Engine {
	e := &Engine{env: environment, cfg: cfg, logger: log.Default()}
	for _, o := range opts {
		o(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	e.policy = NewPolicy(e.rng)
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Policy returns the engine's action selector, sharing its random source.
func (e *Engine) Policy() *Policy {
	return e.policy
}
// #endregion engine

// #region shuffle
// Shuffle performs n uniformly random applicable actions without learning
// and returns the resulting state.
func (e *Engine) Shuffle(ctx context.Context, n int, settle time.Duration) (int, error) {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		s, err := e.env.CurrentState(ctx)
		if err != nil {
			return 0, fmt.Errorf("read state: %w", err)
		}
		applicable, err := e.env.ApplicableActions(ctx, s)
		if err != nil {
			return 0, fmt.Errorf("applicable actions for %d: %w", s, err)
		}
		a, err := e.policy.Random(applicable)
		if err != nil {
			return 0, fmt.Errorf("state %d: %w", s, err)
		}
		if err := e.env.PerformAction(ctx, a); err != nil {
			return 0, fmt.Errorf("perform %d: %w", a, err)
		}
		if err := sleep(ctx, settle); err != nil {
			return 0, err
		}
	}
	s, err := e.env.CurrentState(ctx)
	if err != nil {
		return 0, fmt.Errorf("read state: %w", err)
	}
	return s, nil
}
// #endregion shuffle

// #region train
// Train runs hp.Episodes episodes against q. On error the returned stats
// cover the completed episodes and q holds their updates.
func (e *Engine) Train(ctx context.Context, goal qtable.Goal, q *mat.Dense, hp HyperParams) (TrainStats, error) {
	start := time.Now()
	stats := TrainStats{StepsPerEpisode: make([]int, 0, hp.Episodes)}
	if err := hp.Validate(); err != nil {
		return stats, err
	}
	for i := 0; i < hp.Episodes; i++ {
		ep, err := e.runEpisode(ctx, i, goal, q, hp)
		if err != nil {
			stats.Duration = time.Since(start)
			return stats, fmt.Errorf("episode %d: %w", i, err)
		}
		stats.Episodes++
		stats.TotalSteps += ep.Steps
		stats.StepsPerEpisode = append(stats.StepsPerEpisode, ep.Steps)
		e.logger.Printf("goal %s: episode %d/%d reached goal in %d steps (state %d -> %d)",
			goal, i+1, hp.Episodes, ep.Steps, ep.StartState, ep.EndState)
	}
	stats.Duration = time.Since(start)
	return stats, nil
}

// RunEpisode runs a single episode: burn-in, then learning steps until the
// goal is reached.
func (e *Engine) RunEpisode(ctx context.Context, goal qtable.Goal, q *mat.Dense, hp HyperParams) (EpisodeStats, error) {
	if err := hp.Validate(); err != nil {
		return EpisodeStats{}, err
	}
	return e.runEpisode(ctx, 0, goal, q, hp)
}

func (e *Engine) runEpisode(ctx context.Context, episode int, goal qtable.Goal, q *mat.Dense, hp HyperParams) (EpisodeStats, error) {
	s, err := e.Shuffle(ctx, e.cfg.BurnInSteps, e.cfg.BurnInSettle)
	if err != nil {
		return EpisodeStats{}, fmt.Errorf("burn-in: %w", err)
	}
	stats := EpisodeStats{StartState: s}
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if e.cfg.MaxStepsPerEpisode > 0 && stats.Steps >= e.cfg.MaxStepsPerEpisode {
			return stats, fmt.Errorf("%d steps without reaching %s: %w", stats.Steps, goal, ErrStepLimit)
		}
		t, err := e.step(ctx, goal, q, s, hp)
		if err != nil {
			return stats, fmt.Errorf("step %d: %w", stats.Steps, err)
		}
		t.Episode, t.Step = episode, stats.Steps
		if e.observer != nil {
			e.observer(t)
		}
		stats.Steps++
		s = t.Next
		stats.EndState = s
		if t.Reward == float64(hp.Reward) {
			return stats, nil
		}
	}
}
// #endregion train

// #region rollout
// Rollout follows the greedy policy from the current state without updating
// q. It stops when goal is reached or after maxSteps actions; the bool
// reports whether the goal was reached.
func (e *Engine) Rollout(ctx context.Context, goal qtable.Goal, q *mat.Dense, maxSteps int) (EpisodeStats, bool, error) {
	s, err := e.env.CurrentState(ctx)
	if err != nil {
		return EpisodeStats{}, false, fmt.Errorf("read state: %w", err)
	}
	stats := EpisodeStats{StartState: s, EndState: s}
	for stats.Steps < maxSteps {
		if err := ctx.Err(); err != nil {
			return stats, false, err
		}
		applicable, err := e.env.ApplicableActions(ctx, s)
		if err != nil {
			return stats, false, fmt.Errorf("applicable actions for %d: %w", s, err)
		}
		a, err := e.policy.Greedy(q, s, applicable)
		if err != nil {
			return stats, false, err
		}
		if err := e.env.PerformAction(ctx, a); err != nil {
			return stats, false, fmt.Errorf("perform %d: %w", a, err)
		}
		if err := sleep(ctx, e.cfg.StepSettle); err != nil {
			return stats, false, err
		}
		if s, err = e.env.CurrentState(ctx); err != nil {
			return stats, false, fmt.Errorf("read state: %w", err)
		}
		stats.Steps++
		stats.EndState = s

		full, err := e.env.FullState(ctx)
		if err != nil {
			return stats, false, fmt.Errorf("read full state: %w", err)
		}
		z1, z2, err := env.ZoneLevels(full)
		if err != nil {
			return stats, false, fmt.Errorf("%v: %w", err, ErrContractViolation)
		}
		if goal.Reached(z1, z2) {
			return stats, true, nil
		}
	}
	return stats, false, nil
}
// #endregion rollout

// #region step
func (e *Engine) step(ctx context.Context, goal qtable.Goal, q *mat.Dense, s int, hp HyperParams) (Transition, error) {
	applicable, err := e.env.ApplicableActions(ctx, s)
	if err != nil {
		return Transition{}, fmt.Errorf("applicable actions for %d: %w", s, err)
	}
	a, err := e.policy.Select(q, s, applicable, hp.Epsilon)
	if err != nil {
		return Transition{}, err
	}
	if err := e.env.PerformAction(ctx, a); err != nil {
		return Transition{}, fmt.Errorf("perform %d: %w", a, err)
	}
	if err := sleep(ctx, e.cfg.StepSettle); err != nil {
		return Transition{}, err
	}

	next, err := e.env.CurrentState(ctx)
	if err != nil {
		return Transition{}, fmt.Errorf("read state: %w", err)
	}
	full, err := e.env.FullState(ctx)
	if err != nil {
		return Transition{}, fmt.Errorf("read full state: %w", err)
	}
	z1, z2, err := env.ZoneLevels(full)
	if err != nil {
		return Transition{}, fmt.Errorf("%v: %w", err, ErrContractViolation)
	}
	reward := 0.0
	if goal.Reached(z1, z2) {
		reward = float64(hp.Reward)
	}

	nextApplicable, err := e.env.ApplicableActions(ctx, next)
	if err != nil {
		return Transition{}, fmt.Errorf("applicable actions for %d: %w", next, err)
	}
	if err := CheckBounds(q, next, nextApplicable); err != nil {
		return Transition{}, err
	}
	Update(q, s, a, reward, MaxQ(q, next, nextApplicable), hp.Alpha, hp.Gamma)

	return Transition{
		State:          s,
		Action:         a,
		Reward:         reward,
		Next:           next,
		NextApplicable: nextApplicable,
	}, nil
}
// #endregion step

// #region helpers
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
// #endregion helpers
