// Copyright (C) 2026 RDK Management. All Rights Reserved.

// Package role runs the cooperating roles of a benchmark run.
//
// The master role hosts the compositor instance that measuring clients
// connect to. The other roles are started by a [Launcher], either as child
// processes of the same program or as tasks in the current process, and each
// produces a single measured [measure.Result]. A role that fails produces no
// result, and its launcher reports [ErrNoResult].
package role

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/creachadair/taskgroup"
	"github.com/rdkcmf/waymetric/client"
	"github.com/rdkcmf/waymetric/compositor"
	"github.com/rdkcmf/waymetric/config"
	"github.com/rdkcmf/waymetric/log"
	"github.com/rdkcmf/waymetric/measure"
	"github.com/rdkcmf/waymetric/render"
	"github.com/rdkcmf/waymetric/repeater"
)

var logger = log.New("role")

// ErrNoResult is reported when a role ends without producing a result.
var ErrNoResult = errors.New("role produced no result")

// errSimulated is the failure reported by a job with Fail set.
var errSimulated = errors.New("simulated connection failure")

// A Role is the part a process or task plays in a run.
type Role int

const (
	Master Role = iota // hosts the master compositor instance
	Nested             // hosts a repeater instance and measures through it
	Client             // measures through a compositor instance
)

var roleNames = [...]string{Master: "master", Nested: "nested", Client: "client"}

func (r Role) String() string {
	if r >= 0 && int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Parse parses the name of a role.
func Parse(s string) (Role, error) {
	for i, name := range roleNames {
		if strings.EqualFold(s, name) {
			return Role(i), nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// A Job describes a role to launch.
type Job struct {
	Role    Role
	Display string // the display the role connects to
	Fail    bool   // fail as if the display could not be reached
}

// Env is the environment a launched role runs in.
type Env struct {
	Config   *config.Config
	Renderer render.Renderer

	// Sweep options of the measuring client. If zero, they are taken from
	// Config.
	Sweep measure.Options
}

func (e Env) sweep() measure.Options {
	if e.Sweep.Iterations == 0 {
		return measure.NewOptions(e.Config)
	}
	return e.Sweep
}

// Run runs the body of a launched role and returns its result.
func Run(ctx context.Context, env Env, job Job) (measure.Result, error) {
	switch job.Role {
	case Client:
		return runClient(ctx, env, job)
	case Nested:
		return runNested(ctx, env, job)
	default:
		return measure.Result{}, fmt.Errorf("role %v cannot be launched", job.Role)
	}
}

// runClient connects to the display of job, renders the pacing sweep
// through a window on it and reports the measured time.
func runClient(ctx context.Context, env Env, job Job) (measure.Result, error) {
	if job.Fail {
		return measure.Result{}, fmt.Errorf("connect %q: %w", job.Display, errSimulated)
	}
	d, err := client.Connect(job.Display)
	if err != nil {
		return measure.Result{}, err
	}
	defer d.Close()

	cfg := env.Config
	w, err := client.NewWindow(ctx, d, client.WindowOptions{
		Width:  cfg.Window.Width,
		Height: cfg.Window.Height,
	})
	if err != nil {
		return measure.Result{}, fmt.Errorf("create window on %q: %w", job.Display, err)
	}
	defer w.Destroy()

	rctx, err := env.Renderer.NewContext(job.Display)
	if err != nil {
		return measure.Result{}, err
	}
	defer rctx.Destroy()
	if err := rctx.CreateWindowSurface(w); err != nil {
		return measure.Result{}, err
	}
	if err := rctx.MakeCurrent(); err != nil {
		return measure.Result{}, err
	}

	logger.Noticef("Measuring through %q...", job.Display)
	res, err := measure.Sweep(rctx, env.sweep())
	if err != nil {
		return measure.Result{}, err
	}
	return res, nil
}

// runNested hosts the nested compositor instance, forwarding to the display
// of job, and measures a client through it.
func runNested(ctx context.Context, env Env, job Job) (measure.Result, error) {
	if job.Fail {
		return measure.Result{}, fmt.Errorf("connect %q: %w", job.Display, errSimulated)
	}
	cfg := env.Config
	up, err := client.Connect(job.Display)
	if err != nil {
		return measure.Result{}, err
	}
	defer up.Close()

	name := cfg.Compositor.NestedName
	rctx, err := env.Renderer.NewContext(name)
	if err != nil {
		return measure.Result{}, err
	}
	inst := compositor.New(compositor.Options{
		Name:        name,
		Context:     rctx,
		MaxSurfaces: cfg.Compositor.MaxSurfaces,
	})
	defer inst.Destroy()

	rep, err := repeater.Start(ctx, inst, up, repeater.Options{Refresh: cfg.Compositor.Refresh})
	if errors.Is(err, client.ErrNoGlobal) {
		logger.Warningf("%s: repeater disabled: %v", name, err)
	} else if err != nil {
		return measure.Result{}, err
	} else {
		defer rep.Stop()
	}

	sub := Job{Role: Client, Display: name}
	return Host(ctx, inst, TaskLauncher{Env: env}, sub)
}

// Host binds inst and serves it while a role launched with l runs against
// it, and returns the result of the role. The instance loop starts once the
// launcher reports the role has started, and stops when the role ends. The
// caller remains responsible for destroying inst.
func Host(ctx context.Context, inst *compositor.Instance, l Launcher, job Job) (measure.Result, error) {
	if err := inst.Bind(""); err != nil {
		return measure.Result{}, err
	}
	defer inst.Unbind()

	h := l.Launch(ctx, job)
	h.Ready().Wait()

	ctx, cancel := context.WithCancel(ctx)
	loop := taskgroup.Go(func() error { return inst.Run(ctx) })
	res, err := h.Wait()
	cancel()
	loop.Wait()
	return res, err
}
