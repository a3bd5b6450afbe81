package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/danielpatrickdp/lab-qlearner/internal/api"
	"github.com/danielpatrickdp/lab-qlearner/internal/env"
	"github.com/danielpatrickdp/lab-qlearner/internal/eval"
	"github.com/danielpatrickdp/lab-qlearner/internal/qlearn"
	"github.com/danielpatrickdp/lab-qlearner/internal/replay"
	"github.com/danielpatrickdp/lab-qlearner/internal/report"
	"github.com/danielpatrickdp/lab-qlearner/internal/session"
)

const usage = `usage: qlearner <command> [flags]

commands:
  serve   run the HTTP API
  train   learn a table for one goal
  next    recommend the next action toward a goal
  eval    follow a trained goal's greedy policy and report success
  state   print the current lab state`

// #region main
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, cfg, args)
	case "train":
		err = runTrain(ctx, cfg, args)
	case "next":
		err = runNext(ctx, cfg, args)
	case "eval":
		err = runEval(ctx, cfg, args)
	case "state":
		err = runState(ctx, cfg)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}
// #endregion main

// #region serve
func runServe(ctx context.Context, cfg config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", cfg.httpAddr, "listen address")
	fs.Parse(args)

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           api.NewServer(a.ctrl, nil).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("qlearner listening on %s (goals: %v)", *addr, a.ctrl.Goals())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
// #endregion serve

// #region train
func runTrain(ctx context.Context, cfg config, args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	z1 := fs.String("z1", "", "goal level for zone 1")
	z2 := fs.String("z2", "", "goal level for zone 2")
	episodes := fs.String("episodes", "50", "number of episodes")
	alpha := fs.String("alpha", "0.1", "learning rate")
	gamma := fs.String("gamma", "0.9", "discount factor")
	epsilon := fs.String("epsilon", "0.2", "exploration rate")
	reward := fs.String("reward", "100", "reward for reaching the goal")
	chart := fs.String("chart", "", "write an HTML training curve to this path")
	record := fs.String("record", "", "write the learning steps as a replay fixture to this path")
	maxSteps := fs.Int("max-steps", cfg.maxSteps, "give up an episode after this many steps (0 = unbounded)")
	fs.Parse(args)
	if *maxSteps < 0 {
		return fmt.Errorf("-max-steps must not be negative")
	}
	cfg.maxSteps = *maxSteps

	goal, err := session.ParseGoal(*z1, *z2)
	if err != nil {
		return err
	}
	hp, err := qlearn.ParseHyperParams(*episodes, *alpha, *gamma, *epsilon, *reward)
	if err != nil {
		return err
	}

	rec := &replay.Recorder{}
	var opts []session.Option
	if *record != "" {
		opts = append(opts, session.WithEngineOptions(qlearn.WithObserver(rec.Observe)))
	}
	a, err := build(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.ctrl.Train(ctx, goal, hp)
	if err != nil {
		return err
	}
	if res.Skipped {
		fmt.Printf("goal %s already trained, nothing to do\n", goal.Key())
		return nil
	}
	fmt.Printf("goal %s trained: run=%s episodes=%d steps=%d duration=%s\n",
		goal.Key(), res.RunID, res.Stats.Episodes, res.Stats.TotalSteps, res.Stats.Duration.Round(time.Millisecond))

	if *chart != "" {
		f, err := os.Create(*chart)
		if err != nil {
			return fmt.Errorf("create chart: %w", err)
		}
		defer f.Close()
		if err := report.Render(f, report.Curve{Goal: goal.Key(), Steps: res.Stats.StepsPerEpisode}); err != nil {
			return err
		}
		fmt.Printf("chart written to %s\n", *chart)
	}
	if *record != "" {
		states, actions := a.ctrl.Dimensions()
		fixture := rec.Fixture(fmt.Sprintf("run %s", res.RunID), goal, states, actions, hp)
		if err := replay.WriteFixture(*record, fixture); err != nil {
			return err
		}
		fmt.Printf("%d steps recorded to %s\n", rec.Len(), *record)
	}
	return nil
}
// #endregion train

// #region next
func runNext(ctx context.Context, cfg config, args []string) error {
	fs := flag.NewFlagSet("next", flag.ExitOnError)
	z1 := fs.String("z1", "", "goal level for zone 1")
	z2 := fs.String("z2", "", "goal level for zone 2")
	stateDesc := fs.String("state", "", "comma-separated state description; current state when empty")
	fs.Parse(args)

	goal, err := session.ParseGoal(*z1, *z2)
	if err != nil {
		return err
	}
	var fields []int
	if *stateDesc != "" {
		if fields, err = parseFields(*stateDesc); err != nil {
			return err
		}
	}

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	rec, err := a.ctrl.NextAction(ctx, goal, fields)
	if err != nil {
		return err
	}
	return printJSON(rec.Command)
}

func parseFields(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	fields := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("state field %d %q: %w", i, p, session.ErrStateEncoding)
		}
		fields[i] = v
	}
	return fields, nil
}
// #endregion next

// #region eval
func runEval(ctx context.Context, cfg config, args []string) error {
	defaults := eval.DefaultEvalConfig()
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	z1 := fs.String("z1", "", "goal level for zone 1")
	z2 := fs.String("z2", "", "goal level for zone 2")
	rollouts := fs.Int("rollouts", defaults.Rollouts, "number of greedy rollouts")
	maxSteps := fs.Int("max-steps", defaults.MaxSteps, "steps allowed per rollout")
	minRate := fs.Float64("min-success", defaults.MinSuccessRate, "required fraction of successful rollouts")
	fs.Parse(args)

	goal, err := session.ParseGoal(*z1, *z2)
	if err != nil {
		return err
	}
	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.ctrl.Evaluate(ctx, goal, eval.EvalConfig{
		Rollouts:       *rollouts,
		MaxSteps:       *maxSteps,
		ShuffleSteps:   defaults.ShuffleSteps,
		MinSuccessRate: *minRate,
	})
	if err != nil {
		return err
	}
	if err := printJSON(res); err != nil {
		return err
	}
	if !res.Passed {
		return errors.New(res.Reason)
	}
	return nil
}
// #endregion eval

// #region state
// runState reads the environment directly; binding a controller would
// shuffle the lab first.
func runState(ctx context.Context, cfg config) error {
	a := &app{}
	defer a.close()
	environment, err := openEnv(cfg, a)
	if err != nil {
		return err
	}
	full, err := environment.FullState(ctx)
	if err != nil {
		return fmt.Errorf("read full state: %w", err)
	}
	st, err := env.ParseLabState(full)
	if err != nil {
		return err
	}
	return printJSON(st)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
// #endregion state
