package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/lab-qlearner/internal/qtable"
	"github.com/danielpatrickdp/lab-qlearner/internal/replay"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to fixture JSON")
	out := flag.String("out", "", "write the replayed table to this tables file")
	tol := flag.Float64("tol", 1e-9, "tolerance for expected values")
	verbose := flag.Bool("v", false, "print every replayed step")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json [--out qtables.json] [--tol 1e-9] [-v]")
		os.Exit(2)
	}
	os.Exit(run(*fixturePath, *out, *tol, *verbose))
}

// #endregion main

// #region run

func run(fixturePath, out string, tol float64, verbose bool) int {
	f, err := replay.LoadFixture(fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}
	fmt.Printf("Replaying %d transitions for goal %s (%dx%d, alpha=%.3f gamma=%.3f)\n",
		len(f.Transitions), f.Goal, f.States, f.Actions, f.Alpha, f.Gamma)
	if f.Description != "" {
		fmt.Printf("  %s\n", f.Description)
	}

	sum, err := replay.Run(f)
	if verbose {
		q := qtable.NewTable(f.States, f.Actions)
		steps, _ := replay.Replay(q, f.Transitions, f.Alpha, f.Gamma)
		for _, s := range steps {
			fmt.Printf("  ep %3d step %4d  Q[%d][%d] %10.4f -> %10.4f\n", s.Episode, s.Step, s.State, s.Action, s.Before, s.After)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay stopped after %d steps: %v\n", sum.Steps, err)
		return 1
	}
	fmt.Printf("Summary: %d steps, %d episodes, %d reached the goal\n", sum.Steps, sum.Episodes, sum.Terminals)

	exit := 0
	if len(f.Expected) > 0 {
		mismatches := replay.Check(f, sum.Table, tol)
		for _, m := range mismatches {
			fmt.Printf("  MISMATCH %s\n", m)
		}
		fmt.Printf("Expected values: %d/%d match\n", len(f.Expected)-len(mismatches), len(f.Expected))
		if len(mismatches) > 0 {
			exit = 1
		}
	}

	if out != "" {
		store := qtable.NewFileStore(out)
		if err := store.Save(context.Background(), qtable.Tables{f.Goal: sum.Table}); err != nil {
			fmt.Fprintf(os.Stderr, "write table: %v\n", err)
			return 1
		}
		fmt.Printf("Table written to %s\n", out)
	}
	return exit
}

// #endregion run
