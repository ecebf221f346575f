// Copyright (C) 2026 RDK Management. All Rights Reserved.

package measure_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rdkcmf/waymetric/config"
	"github.com/rdkcmf/waymetric/measure"
	"github.com/rdkcmf/waymetric/platform"
	"github.com/rdkcmf/waymetric/render"
)

func newContext(t *testing.T) render.Context {
	t.Helper()
	rctx, err := (&render.Soft{}).NewContext("test")
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	pf := platform.NewHeadless(640, 480)
	if err := pf.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	win, err := pf.CreateNativeWindow(64, 64)
	if err != nil {
		t.Fatalf("CreateNativeWindow: %v", err)
	}
	if err := rctx.CreateWindowSurface(win); err != nil {
		t.Fatalf("CreateWindowSurface: %v", err)
	}
	if err := rctx.MakeCurrent(); err != nil {
		t.Fatalf("MakeCurrent: %v", err)
	}
	return rctx
}

func TestSweep(t *testing.T) {
	rctx := newContext(t)
	defer rctx.Destroy()

	var sleeps []time.Duration
	opts := measure.Options{
		Iterations: 3,
		Pacing: config.PacingConfig{
			Steps:     3,
			StepDelay: time.Millisecond,
			Settle:    time.Second,
		},
		Sleep: func(d time.Duration) { sleeps = append(sleeps, d) },
	}
	res, err := measure.Sweep(rctx, opts)
	if err != nil {
		t.Fatalf("Sweep: unexpected error: %v", err)
	}

	// Step 0 has no pacing delay, and the settle time brackets the sweep.
	want := []time.Duration{
		time.Second,
		time.Millisecond, time.Millisecond, time.Millisecond,
		2 * time.Millisecond, 2 * time.Millisecond, 2 * time.Millisecond,
		time.Second,
	}
	if diff := cmp.Diff(sleeps, want); diff != "" {
		t.Errorf("Sleeps (-got, +want):\n%s", diff)
	}

	if len(res.Steps) != 3 {
		t.Fatalf("Got %d steps, want 3", len(res.Steps))
	}
	var sum time.Duration
	for i, s := range res.Steps {
		if s.Delay != time.Duration(i)*time.Millisecond || s.Iterations != 3 {
			t.Errorf("Step %d: got %+v", i, s)
		}
		sum += s.Total
	}
	if res.Total != sum {
		t.Errorf("Total: got %v, want %v", res.Total, sum)
	}

	// 9 measured frames plus the two blank frames.
	st := rctx.Stats()
	if st.Swaps != 11 || st.Clears != 11 {
		t.Errorf("Stats: got %d swaps, %d clears, want 11 each", st.Swaps, st.Clears)
	}
}

func TestSweepInvalid(t *testing.T) {
	rctx := newContext(t)
	defer rctx.Destroy()

	if _, err := measure.Sweep(rctx, measure.Options{Pacing: config.PacingConfig{Steps: 1}}); err == nil {
		t.Error("Sweep with no iterations: got nil, want error")
	}
}

func TestSweepNotCurrent(t *testing.T) {
	rctx, err := (&render.Soft{}).NewContext("test")
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer rctx.Destroy()

	opts := measure.Options{Iterations: 1, Pacing: config.PacingConfig{Steps: 1}}
	if _, err := measure.Sweep(rctx, opts); err == nil {
		t.Error("Sweep without a window surface: got nil, want error")
	}
}

func TestResult(t *testing.T) {
	r := measure.FromMicros(1500)
	if r.Total != 1500*time.Microsecond || r.Micros() != 1500 {
		t.Errorf("FromMicros(1500): got %+v", r)
	}
	s := measure.Step{Iterations: 60, Total: 2 * time.Second}
	if got := s.FPS(); got != 30 {
		t.Errorf("FPS: got %v, want 30", got)
	}
	if got := (measure.Step{}).FPS(); got != 0 {
		t.Errorf("FPS of empty step: got %v, want 0", got)
	}
}
