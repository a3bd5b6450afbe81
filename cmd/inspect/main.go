package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/logrusorgru/aurora"
	"github.com/redis/go-redis/v9"
	"gonum.org/v1/gonum/mat"

	"github.com/danielpatrickdp/lab-qlearner/internal/events"
	"github.com/danielpatrickdp/lab-qlearner/internal/logging"
	"github.com/danielpatrickdp/lab-qlearner/internal/qtable"
)

// #region main

func main() {
	kind := flag.String("store", envOr("QLEARNER_STORE", "file"), "table store: file, sqlite or redis")
	path := flag.String("path", envOr("QLEARNER_PATH", "."), "directory holding the store")
	redisAddr := flag.String("redis", envOr("REDIS_ADDR", "localhost:6379"), "redis address")
	goal := flag.String("goal", "", "show only this goal key, e.g. [2,3]")
	all := flag.Bool("all", false, "include states whose row is all zero")
	runs := flag.Int("runs", 0, "show N most recent training runs (sqlite run log)")
	runLog := flag.String("runlog", envOr("QLEARNER_RUNLOG", ""), "run log database (defaults to the sqlite store)")
	follow := flag.String("follow", "", "print events from this NATS URL until interrupted")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	noColor := flag.Bool("no-color", false, "disable ANSI colors")
	flag.Parse()

	au := aurora.NewAurora(!*noColor && !*jsonOut)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *follow != "" {
		if err := runFollowMode(ctx, au, *follow); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *runs > 0 {
		dbPath := *runLog
		if dbPath == "" {
			dbPath = filepath.Join(*path, "qlearner.db")
		}
		if err := runRunsMode(au, dbPath, *runs, *jsonOut); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	store, closeStore, err := openStore(*kind, *path, *redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()
	if err := runTablesMode(ctx, au, store, *goal, *all, *jsonOut); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region tables-mode

func openStore(kind, path, redisAddr string) (qtable.Store, func(), error) {
	switch kind {
	case "file":
		return qtable.NewFileStore(filepath.Join(path, qtable.DefaultFileName)), func() {}, nil
	case "sqlite":
		s, err := qtable.NewSQLiteStore(filepath.Join(path, "qlearner.db"))
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		return qtable.NewRedisStore(rdb, ""), func() { rdb.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", kind)
	}
}

func runTablesMode(ctx context.Context, au aurora.Aurora, store qtable.Store, goalFilter string, all, jsonOut bool) error {
	tables, err := store.Load(ctx)
	if err != nil {
		return err
	}
	keys := tables.Keys()
	if goalFilter != "" {
		if _, ok := tables[goalFilter]; !ok {
			return fmt.Errorf("goal %s not found (have %v)", goalFilter, keys)
		}
		keys = []string{goalFilter}
	}
	if len(keys) == 0 {
		fmt.Fprintln(os.Stderr, "no tables found")
		return nil
	}

	if jsonOut {
		out := make(map[string][][]float64, len(keys))
		for _, k := range keys {
			out[k] = rowsOf(tables[k])
		}
		return printJSON(out)
	}
	for _, k := range keys {
		printTable(au, k, tables[k], all)
	}
	return nil
}

func rowsOf(q *mat.Dense) [][]float64 {
	r, _ := q.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = mat.Row(nil, i, q)
	}
	return rows
}

// printTable shows one row per state; each row's best value is green and
// zeros are gray.
func printTable(au aurora.Aurora, key string, q *mat.Dense, all bool) {
	rows, cols := q.Dims()
	fmt.Println(au.Bold(fmt.Sprintf("goal %s  (%dx%d)", key, rows, cols)))

	header := fmt.Sprintf("%6s |", "state")
	for a := 0; a < cols; a++ {
		header += fmt.Sprintf(" %8s", fmt.Sprintf("a%d", a))
	}
	fmt.Println(header)
	fmt.Println(strings.Repeat("-", len(header)))

	shown := 0
	for s := 0; s < rows; s++ {
		row := mat.Row(nil, s, q)
		best, nonzero := 0, false
		for a, v := range row {
			if v != 0 {
				nonzero = true
			}
			if v > row[best] {
				best = a
			}
		}
		if !nonzero && !all {
			continue
		}
		shown++
		fmt.Printf("%6d |", s)
		for a, v := range row {
			cell := fmt.Sprintf(" %8.3f", v)
			switch {
			case v == 0:
				fmt.Print(au.Gray(12, cell))
			case a == best:
				fmt.Print(au.Green(cell))
			default:
				fmt.Print(cell)
			}
		}
		fmt.Println()
	}
	fmt.Printf("%d of %d states visited\n\n", shown, rows)
}

// #endregion tables-mode

// #region runs-mode

func runRunsMode(au aurora.Aurora, dbPath string, limit int, jsonOut bool) error {
	s, err := qtable.NewSQLiteStore(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := logging.ListTraining(s.DB(), limit)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no training runs found")
		return nil
	}

	fmt.Printf("%-36s  %-7s  %-8s  %8s  %10s  %s\n", "Run", "Goal", "Decision", "Episodes", "Steps", "Time")
	for _, e := range entries {
		decision := fmt.Sprintf("%-8s", e.Decision)
		var colored interface{} = decision
		switch e.Decision {
		case logging.DecisionTrained:
			colored = au.Green(decision)
		case logging.DecisionSkipped:
			colored = au.Yellow(decision)
		case logging.DecisionFailed:
			colored = au.Red(decision)
		}
		fmt.Printf("%-36s  %-7s  %s  %8d  %10d  %s\n",
			e.RunID, e.GoalKey, colored, e.Episodes, e.TotalSteps, e.CreatedAt.Format("2006-01-02T15:04:05Z"))
		if e.Reason != "" && e.Decision == logging.DecisionFailed {
			fmt.Printf("    %s\n", au.Red(e.Reason))
		}
	}
	return nil
}

// #endregion runs-mode

// #region follow-mode

func runFollowMode(ctx context.Context, au aurora.Aurora, url string) error {
	bus, err := events.NewNATSBus(events.NATSConfig{URL: url})
	if err != nil {
		return err
	}
	defer bus.Close()

	sub, err := bus.Subscribe(ctx, func(evt events.Event) {
		fmt.Printf("%s  %s  %s  %v\n",
			evt.Timestamp.Format("15:04:05.000"), au.Cyan(evt.Type), evt.GoalKey, evt.Payload)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	fmt.Fprintf(os.Stderr, "following %s on %s (ctrl-c to stop)\n", events.DefaultSubject, url)
	<-ctx.Done()
	return nil
}

// #endregion follow-mode

// #region helpers

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
