// Copyright (C) 2026 RDK Management. All Rights Reserved.

package bench_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/rdkcmf/waymetric/bench"
	"github.com/rdkcmf/waymetric/config"
	"github.com/rdkcmf/waymetric/platform"
	"github.com/rdkcmf/waymetric/render"
	"github.com/rdkcmf/waymetric/role"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.RunID = "test"
	cfg.Window = config.Size{Width: 64, Height: 48}
	cfg.Iterations = 4
	cfg.Pacing = config.PacingConfig{Steps: 2}
	cfg.Compositor.RuntimeDir = t.TempDir()
	cfg.Compositor.Refresh = time.Millisecond
	return cfg
}

// failLauncher makes every launched role of one kind fail.
type failLauncher struct {
	role.TaskLauncher
	fail role.Role
}

func (f failLauncher) Launch(ctx context.Context, job role.Job) *role.Handle {
	if job.Role == f.fail {
		job.Fail = true
	}
	return f.TaskLauncher.Launch(ctx, job)
}

func TestRun(t *testing.T) {
	defer leaktest.Check(t)()

	const oldDir = "/nonexistent/runtime"
	t.Setenv("XDG_RUNTIME_DIR", oldDir)
	cfg := testConfig(t)
	rep, err := bench.Run(context.Background(), bench.Options{
		Config:   cfg,
		Renderer: &render.Soft{},
		Platform: platform.NewHeadless(1920, 1080),
	})
	if err != nil {
		t.Fatalf("Run: unexpected error: %v", err)
	}
	for _, p := range []bench.Path{bench.Direct, bench.Protocol, bench.Nested} {
		o, ok := rep.Outcome(p)
		if !ok || !o.OK() {
			t.Errorf("%v path: got %+v, want a result", p, o)
		}
		if si, ok := rep.SpeedIndex(p); !ok || si <= 0 {
			t.Errorf("SpeedIndex(%v): got %v, %v", p, si, ok)
		}
	}
	if rep.Display != [2]int{1920, 1080} {
		t.Errorf("Display: got %v", rep.Display)
	}

	// The runtime directory is restored and the per-run directory removed.
	if got := os.Getenv("XDG_RUNTIME_DIR"); got != oldDir {
		t.Errorf("XDG_RUNTIME_DIR: got %q, want %q", got, oldDir)
	}
	if _, err := os.Stat(cfg.RunDir()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Run directory was not removed: %v", err)
	}
}

func TestFailedPath(t *testing.T) {
	defer leaktest.Check(t)()

	cfg := testConfig(t)
	env := role.Env{Config: cfg, Renderer: &render.Soft{}}
	rep, err := bench.Run(context.Background(), bench.Options{
		Config:   cfg,
		Renderer: &render.Soft{},
		Platform: platform.NewHeadless(1920, 1080),
		Launcher: failLauncher{TaskLauncher: role.TaskLauncher{Env: env}, fail: role.Client},
	})
	if err != nil {
		t.Fatalf("Run: unexpected error: %v", err)
	}

	// The protocol client failed, but the other paths still ran.
	o, _ := rep.Outcome(bench.Protocol)
	if o.OK() || !errors.Is(o.Err, role.ErrNoResult) || o.Result.Micros() != 0 {
		t.Errorf("Protocol path: got %+v, want a failure with no result", o)
	}
	if _, ok := rep.SpeedIndex(bench.Protocol); ok {
		t.Error("SpeedIndex(protocol) reported for a failed path")
	}
	for _, p := range []bench.Path{bench.Direct, bench.Nested} {
		if o, _ := rep.Outcome(p); !o.OK() {
			t.Errorf("%v path: got %+v, want a result", p, o)
		}
	}
}

func TestSkippedPaths(t *testing.T) {
	defer leaktest.Check(t)()

	cfg := testConfig(t)
	cfg.Paths.Direct = false
	cfg.Paths.Nested = false
	rep, err := bench.Run(context.Background(), bench.Options{
		Config:   cfg,
		Renderer: &render.Soft{},
		Platform: platform.NewHeadless(1920, 1080),
	})
	if err != nil {
		t.Fatalf("Run: unexpected error: %v", err)
	}
	for _, p := range []bench.Path{bench.Direct, bench.Nested} {
		if o, _ := rep.Outcome(p); !o.Skipped || o.OK() {
			t.Errorf("%v path: got %+v, want skipped", p, o)
		}
	}
	if o, _ := rep.Outcome(bench.Protocol); !o.OK() {
		t.Errorf("Protocol path: got %+v, want a result", o)
	}
	if _, ok := rep.SpeedIndex(bench.Protocol); ok {
		t.Error("SpeedIndex reported without a direct measurement")
	}
}

func TestBackendFailure(t *testing.T) {
	defer leaktest.Check(t)()

	cfg := testConfig(t)
	rep, err := bench.Run(context.Background(), bench.Options{
		Config:   cfg,
		Renderer: &render.Soft{Unavailable: true},
		Platform: platform.NewHeadless(1920, 1080),
	})
	if err != nil {
		t.Fatalf("Run: unexpected error: %v", err)
	}
	for _, o := range rep.Outcomes {
		if o.OK() || !errors.Is(o.Err, render.ErrUnavailable) {
			t.Errorf("%v path: got %+v, want %v", o.Path, o, render.ErrUnavailable)
		}
	}
}

func TestSetupFailure(t *testing.T) {
	cfg := testConfig(t)
	if _, err := bench.Run(context.Background(), bench.Options{
		Config:   cfg,
		Renderer: &render.Soft{},
		Platform: platform.NewHeadless(0, 0),
	}); err == nil {
		t.Error("Run with a broken platform: got nil, want error")
	}

	cfg.Iterations = 0
	if _, err := bench.Run(context.Background(), bench.Options{
		Config:   cfg,
		Renderer: &render.Soft{},
		Platform: platform.NewHeadless(1920, 1080),
	}); err == nil {
		t.Error("Run with an invalid config: got nil, want error")
	}
}

func TestPathString(t *testing.T) {
	for p, want := range map[bench.Path]string{
		bench.Direct: "direct", bench.Protocol: "protocol", bench.Nested: "nested", 7: "Path(7)",
	} {
		if got := p.String(); got != want {
			t.Errorf("String(%d): got %q, want %q", int(p), got, want)
		}
	}
}
