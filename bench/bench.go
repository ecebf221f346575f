// Copyright (C) 2026 RDK Management. All Rights Reserved.

// Package bench runs the measurement paths of a benchmark run.
//
// The direct path renders straight into a native window. The protocol path
// hosts the master compositor instance and measures a client role through
// it. The nested path puts a repeater instance between the client and the
// master. A path that fails is recorded as failed and the run continues
// with the remaining paths.
package bench

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rdkcmf/waymetric/compositor"
	"github.com/rdkcmf/waymetric/config"
	"github.com/rdkcmf/waymetric/log"
	"github.com/rdkcmf/waymetric/measure"
	"github.com/rdkcmf/waymetric/platform"
	"github.com/rdkcmf/waymetric/render"
	"github.com/rdkcmf/waymetric/role"
)

var logger = log.New("bench")

// A Path is a measurement path.
type Path int

const (
	Direct   Path = iota // render directly to the display
	Protocol             // render through the master instance
	Nested               // render through a repeater into the master instance
)

var pathNames = [...]string{Direct: "direct", Protocol: "protocol", Nested: "nested"}

func (p Path) String() string {
	if p >= 0 && int(p) < len(pathNames) {
		return pathNames[p]
	}
	return fmt.Sprintf("Path(%d)", int(p))
}

// An Outcome is the measurement of one path.
type Outcome struct {
	Path    Path
	Skipped bool // disabled by the configuration
	Result  measure.Result
	Err     error
}

// OK reports whether the path produced a result.
func (o Outcome) OK() bool { return !o.Skipped && o.Err == nil && o.Result.Total > 0 }

// A Report is the outcome of a benchmark run.
type Report struct {
	RunID    string
	Config   *config.Config
	Start    time.Time
	Elapsed  time.Duration
	Display  [2]int // display extent reported by the platform
	Outcomes []Outcome
}

// Outcome returns the outcome of path p.
func (r *Report) Outcome(p Path) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Path == p {
			return o, true
		}
	}
	return Outcome{}, false
}

// SpeedIndex reports the total time of path p divided by the total time of
// the direct path. It reports false if either path has no result.
func (r *Report) SpeedIndex(p Path) (float64, bool) {
	d, ok := r.Outcome(Direct)
	if !ok || !d.OK() {
		return 0, false
	}
	o, ok := r.Outcome(p)
	if !ok || !o.OK() {
		return 0, false
	}
	return float64(o.Result.Total) / float64(d.Result.Total), true
}

// Options control a benchmark run.
type Options struct {
	Config   *config.Config
	Renderer render.Renderer
	Platform platform.Adapter
	Launcher role.Launcher // default: a TaskLauncher in this process

	// Sweep options of the direct path. If zero, they are taken from Config.
	Sweep measure.Options
}

// Run runs the enabled paths and reports their outcomes. Run reports an
// error only if the platform or the runtime directory cannot be set up.
func Run(ctx context.Context, opts Options) (*Report, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Sweep.Iterations == 0 {
		opts.Sweep = measure.NewOptions(cfg)
	}
	if opts.Launcher == nil {
		opts.Launcher = role.TaskLauncher{Env: role.Env{Config: cfg, Renderer: opts.Renderer, Sweep: opts.Sweep}}
	}

	if err := opts.Platform.Init(); err != nil {
		return nil, fmt.Errorf("initialize platform: %w", err)
	}
	defer opts.Platform.Terminate()

	restore, err := SetRuntimeDir(cfg.RunDir())
	if err != nil {
		return nil, err
	}
	defer restore()

	rep := &Report{RunID: cfg.RunID, Config: cfg, Start: time.Now()}
	rep.Display[0], rep.Display[1] = opts.Platform.DisplaySize()

	paths := []struct {
		path    Path
		enabled bool
		run     func(context.Context, Options) (measure.Result, error)
	}{
		{Direct, cfg.Paths.Direct, runDirect},
		{Protocol, cfg.Paths.Protocol, hostJob(role.Client)},
		{Nested, cfg.Paths.Nested, hostJob(role.Nested)},
	}
	for _, p := range paths {
		o := Outcome{Path: p.path, Skipped: !p.enabled}
		if p.enabled {
			logger.Noticef("Measuring %v path...", p.path)
			o.Result, o.Err = p.run(ctx, opts)
			if o.Err == nil && o.Result.Total <= 0 {
				o.Err = role.ErrNoResult
			}
			if o.Err != nil {
				o.Result = measure.Result{}
				logger.Errorf("%v path failed: %v", p.path, o.Err)
			}
		}
		rep.Outcomes = append(rep.Outcomes, o)
	}
	rep.Elapsed = time.Since(rep.Start)
	return rep, nil
}

// runDirect renders the sweep into a native window without a compositor.
func runDirect(_ context.Context, opts Options) (measure.Result, error) {
	cfg := opts.Config
	win, err := opts.Platform.CreateNativeWindow(cfg.Window.Width, cfg.Window.Height)
	if err != nil {
		return measure.Result{}, err
	}
	defer opts.Platform.DestroyNativeWindow(win)

	rctx, err := opts.Renderer.NewContext("direct")
	if err != nil {
		return measure.Result{}, err
	}
	defer rctx.Destroy()
	if err := rctx.CreateWindowSurface(win); err != nil {
		return measure.Result{}, err
	}
	if err := rctx.MakeCurrent(); err != nil {
		return measure.Result{}, err
	}
	return measure.Sweep(rctx, opts.Sweep)
}

// hostJob returns a path that hosts the master instance while a launched
// role of kind r measures against it.
func hostJob(r role.Role) func(context.Context, Options) (measure.Result, error) {
	return func(ctx context.Context, opts Options) (measure.Result, error) {
		cfg := opts.Config
		name := cfg.Compositor.Name

		win, err := opts.Platform.CreateNativeWindow(cfg.Window.Width, cfg.Window.Height)
		if err != nil {
			return measure.Result{}, err
		}
		defer opts.Platform.DestroyNativeWindow(win)

		rctx, err := opts.Renderer.NewContext(name)
		if err != nil {
			return measure.Result{}, err
		}
		if err := rctx.CreateWindowSurface(win); err != nil {
			rctx.Destroy()
			return measure.Result{}, err
		}
		if err := rctx.MakeCurrent(); err != nil {
			rctx.Destroy()
			return measure.Result{}, err
		}
		inst := compositor.New(compositor.Options{
			Name:        name,
			Context:     rctx,
			Render:      cfg.Paths.Render,
			MaxSurfaces: cfg.Compositor.MaxSurfaces,
		})
		defer func() {
			if err := inst.Destroy(); err != nil {
				logger.Warningf("destroy %s: %v", name, err)
			}
		}()
		return role.Host(ctx, inst, opts.Launcher, role.Job{Role: r, Display: name})
	}
}

// SetRuntimeDir creates dir and makes it the runtime directory in which
// display sockets are created. The returned function restores the previous
// setting and removes dir.
func SetRuntimeDir(dir string) (restore func(), _ error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("runtime directory: %w", err)
	}
	old, had := os.LookupEnv("XDG_RUNTIME_DIR")
	if err := os.Setenv("XDG_RUNTIME_DIR", dir); err != nil {
		os.Remove(dir)
		return nil, err
	}
	logger.Debugf("XDG_RUNTIME_DIR=%s", dir)
	return func() {
		if had {
			os.Setenv("XDG_RUNTIME_DIR", old)
		} else {
			os.Unsetenv("XDG_RUNTIME_DIR")
		}
		if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warningf("remove %s: %v", dir, err)
		}
	}, nil
}
