package session

import (
	"context"
	"errors"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/danielpatrickdp/lab-qlearner/internal/action"
	"github.com/danielpatrickdp/lab-qlearner/internal/env"
	"github.com/danielpatrickdp/lab-qlearner/internal/eval"
	"github.com/danielpatrickdp/lab-qlearner/internal/events"
	"github.com/danielpatrickdp/lab-qlearner/internal/logging"
	"github.com/danielpatrickdp/lab-qlearner/internal/qlearn"
	"github.com/danielpatrickdp/lab-qlearner/internal/qtable"
)

// #region fakes
// stubEnv has four states; state k has zone levels (k,k). Action 0 moves to
// state 0, the other actions leave the state unchanged.
type stubEnv struct {
	state      int
	performed  int
	applicable []int
}

func (s *stubEnv) Dimensions(context.Context) (int, int, error) { return 4, 4, nil }

func (s *stubEnv) CurrentState(context.Context) (int, error) { return s.state, nil }

func (s *stubEnv) ApplicableActions(context.Context, int) ([]int, error) {
	if s.applicable != nil {
		return s.applicable, nil
	}
	return []int{0, 1, 2, 3}, nil
}

func (s *stubEnv) PerformAction(_ context.Context, a int) error {
	s.performed++
	if a == 0 {
		s.state = 0
	}
	return nil
}

func (s *stubEnv) FullState(context.Context) ([]int, error) {
	return []int{s.state, s.state, 1, 0, 1, 0, 2}, nil
}

type failingStore struct {
	loadErr, saveErr error
	tables           qtable.Tables
	saves            int
}

func (f *failingStore) Load(context.Context) (qtable.Tables, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.tables == nil {
		return qtable.Tables{}, nil
	}
	return f.tables, nil
}

func (f *failingStore) Save(context.Context, qtable.Tables) error {
	f.saves++
	return f.saveErr
}

type memRecorder struct {
	entries []logging.TrainingEntry
}

func (m *memRecorder) RecordTraining(_ context.Context, e logging.TrainingEntry) (logging.TrainingEntry, error) {
	m.entries = append(m.entries, e)
	return e, nil
}

type memPublisher struct {
	events []events.Event
}

func (m *memPublisher) Publish(_ context.Context, e events.Event) error {
	m.events = append(m.events, e)
	return nil
}

func stubCodec(t *testing.T) *action.Codec {
	t.Helper()
	entries := make([]action.Entry, 4)
	for i := range entries {
		entries[i] = action.Entry{Action: i, Command: action.Command{
			Tag:           "urn:stub#" + string(rune('A'+i)),
			PayloadFields: []string{"F"},
			PayloadValues: []bool{i%2 == 1},
		}}
	}
	c, err := action.NewCodec(entries, 4)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func fastConfig() qlearn.Config {
	cfg := qlearn.DefaultConfig()
	cfg.ShuffleSteps = 0
	cfg.BurnInSteps = 0
	cfg.BurnInSettle = 0
	cfg.StepSettle = 0
	return cfg
}

func newController(t *testing.T, e env.Environment, store qtable.Store, codec *action.Codec, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{
		WithConfig(fastConfig()),
		WithLogger(log.New(io.Discard, "", 0)),
		WithEngineOptions(qlearn.WithRand(rand.New(rand.NewPCG(21, 22)))),
	}, opts...)
	c, err := New(context.Background(), e, store, codec, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

var scenarioParams = qlearn.HyperParams{Alpha: 0.1, Gamma: 0.9, Epsilon: 0.5, Reward: 100, Episodes: 1}
// #endregion fakes

// #region train-tests
func TestTrainScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qtables.json")
	store := qtable.NewFileStore(path)
	stub := &stubEnv{state: 1}
	c := newController(t, stub, store, stubCodec(t))

	res, err := c.Train(context.Background(), qtable.Goal{Z1: 0, Z2: 0}, scenarioParams)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if res.Skipped {
		t.Fatal("expected a fresh training run")
	}
	if res.RunID == "" {
		t.Error("expected a run id")
	}

	q, ok := c.Table(qtable.Goal{Z1: 0, Z2: 0})
	if !ok {
		t.Fatal("expected table for [0,0]")
	}
	if math.Abs(q.At(1, 0)-10.0) > 1e-9 {
		t.Fatalf("expected Q[1][0] = 10.0, got %v", q.At(1, 0))
	}

	stored, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	keys := stored.Keys()
	if len(keys) != 1 || keys[0] != "[0,0]" {
		t.Fatalf("expected exactly [\"[0,0]\"], got %v", keys)
	}
	if !mat.Equal(stored["[0,0]"], q) {
		t.Fatal("stored table differs from in-memory table")
	}
}

func TestTrainIsIdempotent(t *testing.T) {
	store := qtable.NewFileStore(filepath.Join(t.TempDir(), "q.json"))
	stub := &stubEnv{state: 2}
	c := newController(t, stub, store, stubCodec(t))
	goal := qtable.Goal{Z1: 0, Z2: 0}

	if _, err := c.Train(context.Background(), goal, scenarioParams); err != nil {
		t.Fatalf("first Train: %v", err)
	}
	before, _ := c.Table(goal)
	performed := stub.performed

	other := qlearn.HyperParams{Alpha: 0.9, Gamma: 0.1, Epsilon: 0, Reward: 5, Episodes: 20}
	res, err := c.Train(context.Background(), goal, other)
	if err != nil {
		t.Fatalf("second Train: %v", err)
	}
	if !res.Skipped {
		t.Fatal("expected second Train to be skipped")
	}
	after, _ := c.Table(goal)
	if !mat.Equal(before, after) {
		t.Fatal("table changed on retrain")
	}
	if stub.performed != performed {
		t.Fatalf("environment touched on skipped training: %d -> %d actions", performed, stub.performed)
	}
}

func TestTrainSkipsGoalsFromPreviousSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.json")
	goal := qtable.Goal{Z1: 0, Z2: 0}

	first := newController(t, &stubEnv{state: 1}, qtable.NewFileStore(path), stubCodec(t))
	if _, err := first.Train(context.Background(), goal, scenarioParams); err != nil {
		t.Fatalf("Train: %v", err)
	}

	stub := &stubEnv{state: 3}
	second := newController(t, stub, qtable.NewFileStore(path), stubCodec(t))
	res, err := second.Train(context.Background(), goal, scenarioParams)
	if err != nil {
		t.Fatalf("Train in second session: %v", err)
	}
	if !res.Skipped {
		t.Fatal("expected goal learned in a previous session to be skipped")
	}
	if stub.performed != 0 {
		t.Fatalf("expected no actions, got %d", stub.performed)
	}
}

func TestTrainRejectsInvalidInputBeforeEnvironment(t *testing.T) {
	stub := &stubEnv{state: 1}
	store := &failingStore{}
	c := newController(t, stub, store, stubCodec(t))

	_, err := c.Train(context.Background(), qtable.Goal{}, qlearn.HyperParams{Alpha: 0.1, Gamma: 0.9, Epsilon: 2, Reward: 1, Episodes: 1})
	if !errors.Is(err, qlearn.ErrInvalidHyperParams) {
		t.Fatalf("expected ErrInvalidHyperParams, got %v", err)
	}
	_, err = c.Train(context.Background(), qtable.Goal{Z1: 4, Z2: 0}, scenarioParams)
	if !errors.Is(err, ErrInvalidGoal) {
		t.Fatalf("expected ErrInvalidGoal, got %v", err)
	}
	_, err = c.Train(context.Background(), qtable.Goal{Z1: -1, Z2: 0}, scenarioParams)
	if !errors.Is(err, ErrInvalidGoal) {
		t.Fatalf("expected ErrInvalidGoal, got %v", err)
	}
	if stub.performed != 0 || store.saves != 0 {
		t.Fatalf("expected no side effects, got %d actions and %d saves", stub.performed, store.saves)
	}
}

func TestTrainSaveErrorSurfaces(t *testing.T) {
	saveErr := errors.New("disk full")
	store := &failingStore{saveErr: saveErr}
	c := newController(t, &stubEnv{state: 1}, store, stubCodec(t))

	_, err := c.Train(context.Background(), qtable.Goal{Z1: 0, Z2: 0}, scenarioParams)
	if !errors.Is(err, saveErr) || !errors.Is(err, ErrStorage) {
		t.Fatalf("expected wrapped save error, got %v", err)
	}
	if store.saves != 1 {
		t.Fatalf("expected one save attempt, got %d", store.saves)
	}
}

func TestTrainRetriesAfterSaveFailure(t *testing.T) {
	store := &failingStore{saveErr: errors.New("disk full")}
	rec := &memRecorder{}
	pub := &memPublisher{}
	c := newController(t, &stubEnv{state: 1}, store, stubCodec(t), WithRecorder(rec), WithPublisher(pub))
	goal := qtable.Goal{Z1: 0, Z2: 0}

	if _, err := c.Train(context.Background(), goal, scenarioParams); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if _, ok := c.Table(goal); ok {
		t.Fatal("unsaved table was kept")
	}
	if len(pub.events) != 0 {
		t.Fatalf("expected no events for an unsaved table, got %d", len(pub.events))
	}
	if len(rec.entries) != 1 || rec.entries[0].Decision != logging.DecisionFailed {
		t.Fatalf("expected one failed entry, got %+v", rec.entries)
	}

	store.saveErr = nil
	res, err := c.Train(context.Background(), goal, scenarioParams)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Skipped {
		t.Fatal("retry skipped an unsaved goal")
	}
	if store.saves != 2 {
		t.Fatalf("expected 2 save attempts, got %d", store.saves)
	}
	if _, ok := c.Table(goal); !ok {
		t.Fatal("expected table after successful save")
	}
	if last := rec.entries[len(rec.entries)-1]; last.Decision != logging.DecisionTrained {
		t.Fatalf("expected trained entry, got %+v", last)
	}
}

func TestTrainFailureLeavesNoTable(t *testing.T) {
	stub := &stubEnv{state: 1, applicable: []int{}}
	store := &failingStore{}
	rec := &memRecorder{}
	c := newController(t, stub, store, stubCodec(t), WithRecorder(rec))
	goal := qtable.Goal{Z1: 0, Z2: 0}

	_, err := c.Train(context.Background(), goal, scenarioParams)
	if !errors.Is(err, qlearn.ErrContractViolation) {
		t.Fatalf("expected ErrContractViolation, got %v", err)
	}
	if _, ok := c.Table(goal); ok {
		t.Fatal("failed training left a table behind")
	}
	if store.saves != 0 {
		t.Fatalf("expected no save after failure, got %d", store.saves)
	}
	if len(rec.entries) != 1 || rec.entries[0].Decision != logging.DecisionFailed {
		t.Fatalf("expected one failed entry, got %+v", rec.entries)
	}
}

func TestTrainRecordsAndPublishes(t *testing.T) {
	rec := &memRecorder{}
	pub := &memPublisher{}
	c := newController(t, &stubEnv{state: 1}, &failingStore{}, stubCodec(t), WithRecorder(rec), WithPublisher(pub))
	goal := qtable.Goal{Z1: 0, Z2: 0}

	first, _ := c.Train(context.Background(), goal, scenarioParams)
	c.Train(context.Background(), goal, scenarioParams)

	if len(rec.entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(rec.entries))
	}
	if rec.entries[0].Decision != logging.DecisionTrained || rec.entries[1].Decision != logging.DecisionSkipped {
		t.Errorf("unexpected decisions: %s, %s", rec.entries[0].Decision, rec.entries[1].Decision)
	}
	if rec.entries[0].RunID != first.RunID {
		t.Errorf("expected run id %s, got %s", first.RunID, rec.entries[0].RunID)
	}
	if rec.entries[0].Episodes != 1 || rec.entries[0].TotalSteps < 1 {
		t.Errorf("unexpected stats in entry: %+v", rec.entries[0])
	}

	if len(pub.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(pub.events))
	}
	if pub.events[0].Type != events.TypeGoalTrained || pub.events[1].Type != events.TypeGoalSkipped {
		t.Errorf("unexpected event types: %s, %s", pub.events[0].Type, pub.events[1].Type)
	}
	if pub.events[0].GoalKey != "[0,0]" {
		t.Errorf("expected goal key [0,0], got %s", pub.events[0].GoalKey)
	}
}

func TestTrainCancelled(t *testing.T) {
	c := newController(t, &stubEnv{state: 1}, &failingStore{}, stubCodec(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Train(ctx, qtable.Goal{Z1: 0, Z2: 0}, scenarioParams)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(c.Goals()) != 0 {
		t.Fatalf("expected no goals after cancellation, got %v", c.Goals())
	}
}
// #endregion train-tests

// #region bind-tests
func TestNewLoadErrorSurfaces(t *testing.T) {
	loadErr := errors.New("permission denied")
	_, err := New(context.Background(), &stubEnv{}, &failingStore{loadErr: loadErr}, stubCodec(t),
		WithConfig(fastConfig()), WithLogger(log.New(io.Discard, "", 0)))
	if !errors.Is(err, loadErr) {
		t.Fatalf("expected wrapped load error, got %v", err)
	}
}

func TestNewCorruptFileSurfaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.json")
	os.WriteFile(path, []byte("{not json"), 0o644)
	_, err := New(context.Background(), &stubEnv{}, qtable.NewFileStore(path), stubCodec(t),
		WithConfig(fastConfig()), WithLogger(log.New(io.Discard, "", 0)))
	if err == nil {
		t.Fatal("expected error for corrupt store")
	}
}

func TestNewShapeMismatch(t *testing.T) {
	store := &failingStore{tables: qtable.Tables{"[1,1]": qtable.NewTable(3, 4)}}
	_, err := New(context.Background(), &stubEnv{}, store, stubCodec(t),
		WithConfig(fastConfig()), WithLogger(log.New(io.Discard, "", 0)))
	if !errors.Is(err, qtable.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestNewCodecMismatch(t *testing.T) {
	_, err := New(context.Background(), &stubEnv{}, &failingStore{}, action.LabCodec(),
		WithConfig(fastConfig()), WithLogger(log.New(io.Discard, "", 0)))
	if !errors.Is(err, qlearn.ErrContractViolation) {
		t.Fatalf("expected ErrContractViolation, got %v", err)
	}
}

func TestNewShufflesEnvironment(t *testing.T) {
	stub := &stubEnv{state: 2}
	cfg := fastConfig()
	cfg.ShuffleSteps = 10
	newController(t, stub, &failingStore{}, stubCodec(t), WithConfig(cfg))
	if stub.performed != 10 {
		t.Fatalf("expected 10 shuffle actions, got %d", stub.performed)
	}
}
// #endregion bind-tests

// #region next-action-tests
func TestNextActionUntrainedGoal(t *testing.T) {
	c := newController(t, &stubEnv{state: 1}, &failingStore{}, stubCodec(t))
	_, err := c.NextAction(context.Background(), qtable.Goal{Z1: 1, Z2: 2}, nil)
	if !errors.Is(err, ErrUntrainedGoal) {
		t.Fatalf("expected ErrUntrainedGoal, got %v", err)
	}
}

func TestNextActionStaysApplicable(t *testing.T) {
	q := qtable.NewTable(4, 4)
	q.Set(1, 0, 50) // best overall, but not applicable
	q.Set(1, 2, 5)
	store := &failingStore{tables: qtable.Tables{"[0,0]": q}}
	stub := &stubEnv{state: 1, applicable: []int{2, 3}}
	codec := stubCodec(t)
	c := newController(t, stub, store, codec)

	counts := map[int]int{}
	for i := 0; i < 2000; i++ {
		rec, err := c.NextAction(context.Background(), qtable.Goal{Z1: 0, Z2: 0}, nil)
		if err != nil {
			t.Fatalf("NextAction: %v", err)
		}
		if rec.Action != 2 && rec.Action != 3 {
			t.Fatalf("recommended inapplicable action %d", rec.Action)
		}
		want, _ := codec.Decode(rec.Action)
		if rec.Command.Tag != want.Tag {
			t.Fatalf("expected tag %s, got %s", want.Tag, rec.Command.Tag)
		}
		counts[rec.Action]++
	}
	// inference exploits with probability 0.9, so action 2 dominates
	if frac := float64(counts[2]) / 2000; frac < 0.9 {
		t.Errorf("expected action 2 at least 90%% of the time, got %.3f", frac)
	}
}

func TestNextActionZeroTableIsUniform(t *testing.T) {
	store := &failingStore{tables: qtable.Tables{"[3,3]": qtable.NewTable(4, 4)}}
	stub := &stubEnv{state: 1, applicable: []int{1, 2, 3}}
	c := newController(t, stub, store, stubCodec(t))

	const n = 30000
	counts := map[int]int{}
	for i := 0; i < n; i++ {
		rec, err := c.NextAction(context.Background(), qtable.Goal{Z1: 3, Z2: 3}, nil)
		if err != nil {
			t.Fatalf("NextAction: %v", err)
		}
		counts[rec.Action]++
	}
	if counts[0] != 0 {
		t.Fatalf("inapplicable action 0 chosen %d times", counts[0])
	}
	for _, a := range []int{1, 2, 3} {
		if frac := float64(counts[a]) / n; math.Abs(frac-1.0/3.0) > 0.02 {
			t.Errorf("action %d chosen %.3f of the time, want ~0.333", a, frac)
		}
	}
}

func TestNextActionWithStateDescription(t *testing.T) {
	ctx := context.Background()
	lab := env.NewLab()
	q := qtable.NewTable(env.LabStateCount, env.LabActionCount)

	// z1 light on under sunshine 2 is state 33; switching z2 light on is best
	q.Set(33, 3, 40)
	store := &failingStore{tables: qtable.Tables{"[2,2]": q}}
	cfg := fastConfig()
	cfg.InferenceEpsilon = 0
	c := newController(t, lab, store, action.LabCodec(), WithConfig(cfg))

	rec, err := c.NextAction(ctx, qtable.Goal{Z1: 2, Z2: 2}, []int{2, 0, 1, 0, 0, 0, 2})
	if err != nil {
		t.Fatalf("NextAction: %v", err)
	}
	if rec.State != 33 || rec.Action != 3 {
		t.Fatalf("expected state 33 action 3, got state %d action %d", rec.State, rec.Action)
	}
	if rec.Command.Tag != "http://example.org/was#SetZ2Light" || !rec.Command.PayloadValues[0] {
		t.Fatalf("unexpected command %+v", rec.Command)
	}

	_, err = c.NextAction(ctx, qtable.Goal{Z1: 2, Z2: 2}, []int{3, 3})
	if !errors.Is(err, ErrStateEncoding) {
		t.Fatalf("expected ErrStateEncoding, got %v", err)
	}
}

func TestNextActionStateDescriptionUnsupported(t *testing.T) {
	store := &failingStore{tables: qtable.Tables{"[0,0]": qtable.NewTable(4, 4)}}
	c := newController(t, &stubEnv{state: 1}, store, stubCodec(t))
	_, err := c.NextAction(context.Background(), qtable.Goal{}, []int{1, 1, 0, 0, 0, 0, 0})
	if !errors.Is(err, ErrStateEncoding) {
		t.Fatalf("expected ErrStateEncoding, got %v", err)
	}
}
// #endregion next-action-tests

// #region inspection-tests
func TestEvaluate(t *testing.T) {
	q := qtable.NewTable(4, 4)
	for st := 0; st < 4; st++ {
		q.Set(st, 0, 10)
	}
	store := &failingStore{tables: qtable.Tables{"[0,0]": q}}
	c := newController(t, &stubEnv{state: 2}, store, stubCodec(t))

	res, err := c.Evaluate(context.Background(), qtable.Goal{}, eval.EvalConfig{Rollouts: 3, MaxSteps: 2, MinSuccessRate: 1})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !res.Passed || res.Goal != "[0,0]" {
		t.Fatalf("expected passing evaluation, got %+v", res)
	}

	_, err = c.Evaluate(context.Background(), qtable.Goal{Z1: 1, Z2: 1}, eval.DefaultEvalConfig())
	if !errors.Is(err, ErrUntrainedGoal) {
		t.Fatalf("expected ErrUntrainedGoal, got %v", err)
	}
}

func TestZoneLevelsAndFullState(t *testing.T) {
	ctx := context.Background()
	lab := env.NewLab()
	c := newController(t, lab, &failingStore{}, action.LabCodec())

	lab.PerformAction(ctx, 1) // z1 light on
	lab.PerformAction(ctx, 7) // z2 blinds open

	z1, z2, err := c.ZoneLevels(ctx)
	if err != nil {
		t.Fatalf("ZoneLevels: %v", err)
	}
	if z1 != 2 || z2 != 1 {
		t.Fatalf("expected (2,1), got (%d,%d)", z1, z2)
	}

	st, err := c.FullState(ctx)
	if err != nil {
		t.Fatalf("FullState: %v", err)
	}
	want := env.LabState{Z1Level: 2, Z2Level: 1, Z1Light: true, Z2Blinds: true, Sunshine: 2}
	if st != want {
		t.Fatalf("expected %+v, got %+v", want, st)
	}
}

func TestParseGoal(t *testing.T) {
	g, err := ParseGoal("2", " 3")
	if err != nil {
		t.Fatalf("ParseGoal: %v", err)
	}
	if g != (qtable.Goal{Z1: 2, Z2: 3}) {
		t.Fatalf("unexpected goal %+v", g)
	}
	if _, err := ParseGoal("two", "3"); !errors.Is(err, ErrInvalidGoal) {
		t.Fatalf("expected ErrInvalidGoal, got %v", err)
	}
}
// #endregion inspection-tests

// #region concurrency-tests
func TestConcurrentCallsAreSerialized(t *testing.T) {
	ctx := context.Background()
	lab := env.NewLab()
	store := qtable.NewFileStore(filepath.Join(t.TempDir(), "q.json"))
	c := newController(t, lab, store, action.LabCodec())
	hp := qlearn.HyperParams{Alpha: 0.5, Gamma: 0.9, Epsilon: 0.5, Reward: 10, Episodes: 3}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for z := 0; z <= 3; z++ {
		goal := qtable.Goal{Z1: z, Z2: 3 - z}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Train(ctx, goal, hp); err != nil {
				errs <- err
				return
			}
			if _, err := c.NextAction(ctx, goal, nil); err != nil {
				errs <- err
			}
			if _, _, err := c.ZoneLevels(ctx); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent call: %v", err)
	}
	if got := len(c.Goals()); got != 4 {
		t.Fatalf("expected 4 trained goals, got %d", got)
	}
}
// #endregion concurrency-tests
