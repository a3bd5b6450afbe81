package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/danielpatrickdp/lab-qlearner/internal/action"
	"github.com/danielpatrickdp/lab-qlearner/internal/env"
	"github.com/danielpatrickdp/lab-qlearner/internal/env/remote"
	"github.com/danielpatrickdp/lab-qlearner/internal/events"
	"github.com/danielpatrickdp/lab-qlearner/internal/logging"
	"github.com/danielpatrickdp/lab-qlearner/internal/qlearn"
	"github.com/danielpatrickdp/lab-qlearner/internal/qtable"
	"github.com/danielpatrickdp/lab-qlearner/internal/session"
)

// #region config
type config struct {
	storeKind   string
	storePath   string
	redisAddr   string
	runLog      string
	labAddr     string
	callTimeout time.Duration
	maxSteps    int
	natsURL     string
	httpAddr    string
}

func loadConfig() (config, error) {
	cfg := config{
		storeKind: envOr("QLEARNER_STORE", "file"),
		storePath: envOr("QLEARNER_PATH", "."),
		redisAddr: envOr("REDIS_ADDR", "localhost:6379"),
		runLog:    envOr("QLEARNER_RUNLOG", ""),
		labAddr:   envOr("LAB_ADDR", ""),
		natsURL:   envOr("NATS_URL", ""),
		httpAddr:  envOr("HTTP_ADDR", ":8080"),
	}
	if v := envOr("LAB_CALL_TIMEOUT", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("LAB_CALL_TIMEOUT %q: %w", v, err)
		}
		cfg.callTimeout = d
	}
	if v := envOr("QLEARNER_MAX_STEPS", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("QLEARNER_MAX_STEPS %q: want a non-negative integer", v)
		}
		cfg.maxSteps = n
	}
	return cfg, nil
}
// #endregion config

// #region wiring
// app holds everything a subcommand needs; close releases it in reverse.
type app struct {
	ctrl    *session.Controller
	env     env.Environment
	closers []io.Closer
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}
}

// build binds a controller. The in-process simulator settles instantly, so
// its pacing delays are dropped. A positive maxSteps bounds every episode.
// Extra options are applied last.
func build(ctx context.Context, cfg config, extra ...session.Option) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		a.close()
		return nil, err
	}

	environment, err := openEnv(cfg, a)
	if err != nil {
		return fail(err)
	}
	a.env = environment

	store, recorder, err := openStore(cfg, a)
	if err != nil {
		return fail(err)
	}

	learn := qlearn.DefaultConfig()
	if cfg.labAddr == "" {
		learn.BurnInSettle, learn.StepSettle = 0, 0
	}
	learn.MaxStepsPerEpisode = cfg.maxSteps
	opts := []session.Option{session.WithConfig(learn)}
	if recorder != nil {
		opts = append(opts, session.WithRecorder(recorder))
	}
	if cfg.natsURL != "" {
		bus, err := events.NewNATSBus(events.NATSConfig{URL: cfg.natsURL})
		if err != nil {
			return fail(err)
		}
		a.closers = append(a.closers, bus)
		opts = append(opts, session.WithPublisher(bus))
	}

	ctrl, err := session.New(ctx, environment, store, action.LabCodec(), append(opts, extra...)...)
	if err != nil {
		return fail(err)
	}
	a.ctrl = ctrl
	return a, nil
}

func openEnv(cfg config, a *app) (env.Environment, error) {
	if cfg.labAddr == "" {
		log.Printf("using in-process lab simulator")
		return env.NewLab(), nil
	}
	client, err := remote.NewClient(cfg.labAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lab at %s: %w", cfg.labAddr, err)
	}
	client.CallTimeout = cfg.callTimeout
	a.closers = append(a.closers, client)
	log.Printf("using lab service at %s", cfg.labAddr)
	return client, nil
}

// openStore returns the table store and, when a SQLite database is at hand,
// a training-run recorder writing to it.
func openStore(cfg config, a *app) (qtable.Store, session.RunRecorder, error) {
	var recorder session.RunRecorder
	if cfg.runLog != "" && cfg.storeKind != "sqlite" {
		db, err := qtable.NewSQLiteStore(cfg.runLog)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open run log: %w", err)
		}
		a.closers = append(a.closers, db)
		recorder = logging.NewRecorder(db.DB())
	}

	switch cfg.storeKind {
	case "file":
		return qtable.NewFileStore(filepath.Join(cfg.storePath, qtable.DefaultFileName)), recorder, nil
	case "sqlite":
		s, err := qtable.NewSQLiteStore(filepath.Join(cfg.storePath, "qlearner.db"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open store: %w", err)
		}
		a.closers = append(a.closers, s)
		return s, logging.NewRecorder(s.DB()), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
		a.closers = append(a.closers, rdb)
		return qtable.NewRedisStore(rdb, ""), recorder, nil
	default:
		return nil, nil, fmt.Errorf("unknown QLEARNER_STORE %q (want file, sqlite or redis)", cfg.storeKind)
	}
}
// #endregion wiring

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
// #endregion helpers
