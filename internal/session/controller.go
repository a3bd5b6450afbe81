package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"maps"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/danielpatrickdp/lab-qlearner/internal/action"
	"github.com/danielpatrickdp/lab-qlearner/internal/env"
	"github.com/danielpatrickdp/lab-qlearner/internal/eval"
	"github.com/danielpatrickdp/lab-qlearner/internal/events"
	"github.com/danielpatrickdp/lab-qlearner/internal/logging"
	"github.com/danielpatrickdp/lab-qlearner/internal/qlearn"
	"github.com/danielpatrickdp/lab-qlearner/internal/qtable"
)

const eventSource = "lab-qlearner"

// #region controller
// Controller owns the Q-tables of one environment binding. All methods are
// serialized: interleaving two sessions' actions would corrupt the credit
// each one assigns to its own steps.
type Controller struct {
	mu sync.Mutex

	env    env.Environment
	store  qtable.Store
	codec  *action.Codec
	engine *qlearn.Engine
	cfg    qlearn.Config
	tables qtable.Tables

	stateCount, actionCount int
	maxGoalLevel            int

	logger     *log.Logger
	recorder   RunRecorder
	publisher  Publisher
	engineOpts []qlearn.Option
}

// Option configures a Controller.
type Option func(*Controller)

// WithConfig overrides the engine pacing and inference constants.
func WithConfig(cfg qlearn.Config) Option {
	return func(c *Controller) { c.cfg = cfg }
}

// WithEngineOptions passes options through to the engine.
func WithEngineOptions(opts ...qlearn.Option) Option {
	return func(c *Controller) { c.engineOpts = append(c.engineOpts, opts...) }
}

// WithLogger routes controller and engine logging to l.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithRecorder records every training invocation.
func WithRecorder(r RunRecorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithPublisher announces training and recommendation events.
func WithPublisher(p Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// WithMaxGoalLevel sets the highest accepted goal component.
func WithMaxGoalLevel(n int) Option {
	return func(c *Controller) { c.maxGoalLevel = n }
}

// New binds a controller to environment: it reads the dimensions once, loads
// the stored tables and shuffles the environment away from its last state.
func New(ctx context.Context, environment env.Environment, store qtable.Store, codec *action.Codec, opts ...Option) (*Controller, error) {
	c := &Controller{
		env:          environment,
		store:        store,
		codec:        codec,
		cfg:          qlearn.DefaultConfig(),
		maxGoalLevel: env.MaxZoneLevel,
		logger:       log.Default(),
	}
	for _, o := range opts {
		o(c)
	}

	states, actions, err := environment.Dimensions(ctx)
	if err != nil {
		return nil, fmt.Errorf("environment dimensions: %w", err)
	}
	if states <= 0 || actions <= 0 {
		return nil, fmt.Errorf("environment reports %dx%d: %w", states, actions, qlearn.ErrContractViolation)
	}
	if codec.Len() != actions {
		return nil, fmt.Errorf("codec covers %d actions, environment has %d: %w", codec.Len(), actions, qlearn.ErrContractViolation)
	}
	c.stateCount, c.actionCount = states, actions
	c.logger.Printf("bound environment: %d states, %d actions", states, actions)

	tables, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load q-tables: %w: %w", ErrStorage, err)
	}
	if err := qtable.Validate(tables, states, actions); err != nil {
		return nil, fmt.Errorf("load q-tables: %w", err)
	}
	if tables == nil {
		tables = qtable.Tables{}
	}
	c.tables = tables
	c.logger.Printf("loaded %d q-tables: %v", len(tables), tables.Keys())

	engineOpts := append([]qlearn.Option{qlearn.WithLogger(c.logger)}, c.engineOpts...)
	c.engine = qlearn.NewEngine(environment, c.cfg, engineOpts...)

	s, err := c.engine.Shuffle(ctx, c.cfg.ShuffleSteps, c.cfg.BurnInSettle)
	if err != nil {
		return nil, fmt.Errorf("initial shuffle: %w", err)
	}
	c.logger.Printf("shuffled to state %d", s)
	return c, nil
}
// #endregion controller

// #region goals
// ParseGoal converts textual goal components.
func ParseGoal(z1, z2 string) (qtable.Goal, error) {
	a, err1 := strconv.Atoi(strings.TrimSpace(z1))
	b, err2 := strconv.Atoi(strings.TrimSpace(z2))
	if err1 != nil || err2 != nil {
		return qtable.Goal{}, fmt.Errorf("goal (%q,%q) is not numeric: %w", z1, z2, ErrInvalidGoal)
	}
	return qtable.Goal{Z1: a, Z2: b}, nil
}

func (c *Controller) validateGoal(g qtable.Goal) error {
	if g.Z1 < 0 || g.Z2 < 0 || g.Z1 > c.maxGoalLevel || g.Z2 > c.maxGoalLevel {
		return fmt.Errorf("goal %s outside [0,%d]: %w", g, c.maxGoalLevel, ErrInvalidGoal)
	}
	return nil
}

// Goals returns the trained goal keys in sorted order.
func (c *Controller) Goals() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tables.Keys()
}

// Table returns a copy of the table for goal.
func (c *Controller) Table(goal qtable.Goal) (*mat.Dense, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.tables[goal.Key()]
	if !ok {
		return nil, false
	}
	return mat.DenseCopyOf(q), true
}

// Dimensions returns the bound state and action counts.
func (c *Controller) Dimensions() (int, int) {
	return c.stateCount, c.actionCount
}
// #endregion goals

// #region train
// Train learns a table for goal unless one already exists. Validation
// happens before the environment is touched. The table is kept only once it
// has been saved, so a training or save error leaves no table behind and a
// retry trains again.
func (c *Controller) Train(ctx context.Context, goal qtable.Goal, hp qlearn.HyperParams) (TrainResult, error) {
	if err := c.validateGoal(goal); err != nil {
		return TrainResult{}, err
	}
	if err := hp.Validate(); err != nil {
		return TrainResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := goal.Key()
	result := TrainResult{Goal: goal, RunID: uuid.New().String()}
	params, _ := json.Marshal(hp)

	if _, ok := c.tables[key]; ok {
		c.logger.Printf("goal %s already trained, skipping", key)
		result.Skipped = true
		c.record(ctx, logging.TrainingEntry{
			RunID:      result.RunID,
			GoalKey:    key,
			Decision:   logging.DecisionSkipped,
			ParamsJSON: string(params),
			Reason:     "table exists",
		})
		c.publish(ctx, events.TypeGoalSkipped, key, result.RunID, nil)
		return result, nil
	}

	q := qtable.NewTable(c.stateCount, c.actionCount)
	stats, err := c.engine.Train(ctx, goal, q, hp)
	result.Stats = stats
	if err != nil {
		c.record(ctx, logging.TrainingEntry{
			RunID:      result.RunID,
			GoalKey:    key,
			Decision:   logging.DecisionFailed,
			Episodes:   stats.Episodes,
			TotalSteps: stats.TotalSteps,
			ParamsJSON: string(params),
			Reason:     err.Error(),
		})
		return result, fmt.Errorf("train %s: %w", key, err)
	}

	pending := maps.Clone(c.tables)
	pending[key] = q
	if err := c.store.Save(ctx, pending); err != nil {
		c.record(ctx, logging.TrainingEntry{
			RunID:      result.RunID,
			GoalKey:    key,
			Decision:   logging.DecisionFailed,
			Episodes:   stats.Episodes,
			TotalSteps: stats.TotalSteps,
			ParamsJSON: string(params),
			Reason:     "save: " + err.Error(),
		})
		return result, fmt.Errorf("save q-tables: %w: %w", ErrStorage, err)
	}
	c.tables = pending

	c.logger.Printf("goal %s trained: %d episodes, %d steps in %s", key, stats.Episodes, stats.TotalSteps, stats.Duration)
	c.record(ctx, logging.TrainingEntry{
		RunID:      result.RunID,
		GoalKey:    key,
		Decision:   logging.DecisionTrained,
		Episodes:   stats.Episodes,
		TotalSteps: stats.TotalSteps,
		ParamsJSON: string(params),
	})
	c.publish(ctx, events.TypeGoalTrained, key, result.RunID, map[string]interface{}{
		"episodes":    stats.Episodes,
		"total_steps": stats.TotalSteps,
	})
	return result, nil
}
// #endregion train

// #region next-action
// NextAction recommends an action toward goal. With a nil state description
// the environment's current state is used; otherwise the description is
// encoded by the environment.
func (c *Controller) NextAction(ctx context.Context, goal qtable.Goal, state []int) (Recommendation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.tables[goal.Key()]
	if !ok {
		return Recommendation{}, fmt.Errorf("goal %s: %w", goal, ErrUntrainedGoal)
	}

	s, err := c.resolveState(ctx, state)
	if err != nil {
		return Recommendation{}, err
	}
	applicable, err := c.env.ApplicableActions(ctx, s)
	if err != nil {
		return Recommendation{}, fmt.Errorf("applicable actions for %d: %w", s, err)
	}
	a, err := c.engine.Policy().Select(q, s, applicable, c.cfg.InferenceEpsilon)
	if err != nil {
		return Recommendation{}, err
	}
	cmd, err := c.codec.Decode(a)
	if err != nil {
		return Recommendation{}, fmt.Errorf("%v: %w", err, qlearn.ErrContractViolation)
	}

	c.publish(ctx, events.TypeActionRecommended, goal.Key(), "", map[string]interface{}{
		"state":  s,
		"action": a,
		"tag":    cmd.Tag,
	})
	return Recommendation{Goal: goal, State: s, Action: a, Command: cmd}, nil
}

func (c *Controller) resolveState(ctx context.Context, state []int) (int, error) {
	if state == nil {
		s, err := c.env.CurrentState(ctx)
		if err != nil {
			return 0, fmt.Errorf("read state: %w", err)
		}
		return s, nil
	}
	enc, ok := c.env.(env.StateEncoder)
	if !ok {
		return 0, fmt.Errorf("environment does not encode states: %w", ErrStateEncoding)
	}
	s, err := enc.EncodeState(ctx, state)
	if err != nil {
		return 0, fmt.Errorf("%v: %w", err, ErrStateEncoding)
	}
	return s, nil
}
// #endregion next-action

// #region evaluate
// Evaluate runs greedy rollouts of goal's table on the environment.
func (c *Controller) Evaluate(ctx context.Context, goal qtable.Goal, cfg eval.EvalConfig) (eval.EvalResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.tables[goal.Key()]
	if !ok {
		return eval.EvalResult{}, fmt.Errorf("goal %s: %w", goal, ErrUntrainedGoal)
	}
	res, err := eval.NewEvalHarness(cfg).Run(ctx, c.engine, goal, q)
	if err != nil {
		return res, fmt.Errorf("evaluate %s: %w", goal, err)
	}
	c.logger.Printf("goal %s evaluated: %s", goal, res.Reason)
	return res, nil
}
// #endregion evaluate

// #region inspection
// ZoneLevels returns the current levels of the two zones.
func (c *Controller) ZoneLevels(ctx context.Context) (int, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	full, err := c.env.FullState(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("read full state: %w", err)
	}
	return env.ZoneLevels(full)
}

// FullState returns the typed current lab state.
func (c *Controller) FullState(ctx context.Context) (env.LabState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	full, err := c.env.FullState(ctx)
	if err != nil {
		return env.LabState{}, fmt.Errorf("read full state: %w", err)
	}
	return env.ParseLabState(full)
}
// #endregion inspection

// #region hooks
func (c *Controller) record(ctx context.Context, entry logging.TrainingEntry) {
	if c.recorder == nil {
		return
	}
	if _, err := c.recorder.RecordTraining(ctx, entry); err != nil {
		c.logger.Printf("record training %s: %v", entry.GoalKey, err)
	}
}

func (c *Controller) publish(ctx context.Context, typ, goalKey, runID string, payload map[string]interface{}) {
	if c.publisher == nil {
		return
	}
	evt := events.NewEvent(eventSource, typ, goalKey, payload)
	evt.RunID = runID
	if err := c.publisher.Publish(ctx, evt); err != nil {
		c.logger.Printf("publish %s: %v", typ, err)
	}
}
// #endregion hooks
