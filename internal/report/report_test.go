package report

import (
	"bytes"
	"strings"
	"testing"
)

func TestRollingMean(t *testing.T) {
	got := RollingMean([]int{4, 2, 6, 8}, 2)
	want := []float64{4, 3, 4, 7}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if len(RollingMean(nil, 3)) != 0 {
		t.Fatal("expected empty result for empty input")
	}
	if got := RollingMean([]int{1, 3}, 0); got[1] != 2 {
		t.Fatalf("expected default window to average both values, got %v", got)
	}
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf,
		Curve{Goal: "[2,3]", Steps: []int{40, 12, 9, 5}},
		Curve{Goal: "[0,0]", Steps: []int{3, 1}},
	)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	html := buf.String()
	for _, want := range []string{"goal [2,3]", "goal [0,0]", "rolling mean", "echarts"} {
		if !strings.Contains(html, want) {
			t.Errorf("expected output to contain %q", want)
		}
	}
}

func TestRenderNoCurves(t *testing.T) {
	if err := Render(&bytes.Buffer{}); err == nil {
		t.Fatal("expected error without curves")
	}
}
