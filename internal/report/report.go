// Package report renders training curves as standalone HTML charts.
package report

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// DefaultWindow is the rolling-mean width used when a Curve sets none.
const DefaultWindow = 10

// Curve is the steps-per-episode history of one training run.
type Curve struct {
	Goal   string
	Steps  []int
	Window int
}

// Line builds a chart with the raw step counts and their rolling mean.
func Line(c Curve) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("goal %s", c.Goal),
			Subtitle: fmt.Sprintf("%d episodes", len(c.Steps)),
		}),
		charts.WithInitializationOpts(opts.Initialization{
			Theme: "shine",
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "episode"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "steps"}),
	)

	episodes := make([]string, len(c.Steps))
	raw := make([]opts.LineData, len(c.Steps))
	for i, s := range c.Steps {
		episodes[i] = fmt.Sprintf("%d", i+1)
		raw[i] = opts.LineData{Value: s}
	}
	mean := make([]opts.LineData, len(c.Steps))
	for i, m := range RollingMean(c.Steps, c.Window) {
		mean[i] = opts.LineData{Value: m}
	}

	line.SetXAxis(episodes).
		AddSeries("steps", raw).
		AddSeries("rolling mean", mean)
	return line
}

// Render writes one page holding a chart per curve.
func Render(w io.Writer, curves ...Curve) error {
	if len(curves) == 0 {
		return errors.New("render: no curves")
	}
	page := components.NewPage()
	page.PageTitle = "training curves"
	for _, c := range curves {
		page.AddCharts(Line(c))
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	return nil
}

// RollingMean averages each value with up to window-1 predecessors.
func RollingMean(values []int, window int) []float64 {
	if window <= 0 {
		window = DefaultWindow
	}
	out := make([]float64, len(values))
	sum := 0
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		n := window
		if i+1 < window {
			n = i + 1
		}
		out[i] = float64(sum) / float64(n)
	}
	return out
}
