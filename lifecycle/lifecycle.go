// Copyright (C) 2026 RDK Management. All Rights Reserved.

// Package lifecycle checks that independently named compositor instances
// can be created, bound and destroyed concurrently.
//
// A fixed set of workers goes through three phases in lockstep: each worker
// creates its own rendering context, then creates and binds its own instance
// and verifies it with a client roundtrip, and finally unbinds and destroys
// it. No worker enters a phase until every worker is ready for it.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"

	"github.com/creachadair/taskgroup"
	"github.com/rdkcmf/waymetric/barrier"
	"github.com/rdkcmf/waymetric/client"
	"github.com/rdkcmf/waymetric/compositor"
	"github.com/rdkcmf/waymetric/log"
	"github.com/rdkcmf/waymetric/render"
	"github.com/rdkcmf/waymetric/wire/channel"
)

var logger = log.New("lifecycle")

// The phases of a worker.
const (
	PhaseContext = iota // create a rendering context
	PhaseBind           // create, bind and verify an instance
	PhaseDestroy        // unbind and destroy the instance

	numPhases
)

// Options control a lifecycle run.
type Options struct {
	Workers  int    // default 4
	Prefix   string // instance name prefix; default "waymetric-mi-"
	Dir      string // socket directory; default $XDG_RUNTIME_DIR
	Renderer render.Renderer
}

// A Record is the outcome of one worker.
type Record struct {
	Worker    int
	Name      string
	Context   bool // phase (a) succeeded
	Bound     bool // phase (b) succeeded
	Destroyed bool // phase (c) succeeded
	Err       error
}

// OK reports whether the worker completed every phase.
func (r Record) OK() bool { return r.Context && r.Bound && r.Destroyed && r.Err == nil }

// A Report is the outcome of a lifecycle run.
type Report struct {
	Records   []Record
	Successes int
}

// Run runs the workers to completion and reports their outcomes.
func Run(ctx context.Context, opts Options) Report {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Prefix == "" {
		opts.Prefix = "waymetric-mi-"
	}
	p := barrier.NewPhased(opts.Workers, numPhases)
	recs := make([]Record, opts.Workers)

	g := taskgroup.New(nil)
	for i := range opts.Workers {
		w := &worker{opts: opts, rec: &recs[i]}
		w.rec.Worker = i
		w.rec.Name = fmt.Sprintf("%s%d", opts.Prefix, i)
		g.Go(func() error { w.run(ctx, p); return nil })
	}
	for n := range numPhases {
		p.Advance(n)
		logger.Debugf("released phase %d", n)
	}
	g.Wait()

	rep := Report{Records: recs}
	for _, r := range recs {
		if r.OK() {
			rep.Successes++
		} else {
			logger.Errorf("worker %d (%s) failed: %v", r.Worker, r.Name, r.Err)
		}
	}
	logger.Noticef("lifecycle: %d of %d workers succeeded", rep.Successes, opts.Workers)
	return rep
}

type worker struct {
	opts Options
	rec  *Record

	rctx render.Context
	inst *compositor.Instance
	loop *taskgroup.Single[error]
	stop context.CancelFunc
}

// run takes the worker through every phase. A worker that fails keeps
// arriving at the barrier but skips the rest of its work.
func (w *worker) run(ctx context.Context, p *barrier.Phased) {
	for n := range numPhases {
		p.Arrive(n)
		if w.rec.Err != nil {
			continue
		}
		switch n {
		case PhaseContext:
			w.rec.Err = w.createContext()
			w.rec.Context = w.rec.Err == nil
		case PhaseBind:
			w.rec.Err = w.bind(ctx)
			w.rec.Bound = w.rec.Err == nil
		case PhaseDestroy:
			w.rec.Err = w.destroy()
			w.rec.Destroyed = w.rec.Err == nil
		}
	}
	// Clean up after a failure in an earlier phase.
	if w.inst != nil && !w.rec.Destroyed {
		w.destroy()
	} else if w.inst == nil && w.rctx != nil {
		w.rctx.Destroy()
	}
}

func (w *worker) createContext() error {
	if w.opts.Renderer == nil {
		return render.ErrUnavailable
	}
	rctx, err := w.opts.Renderer.NewContext(w.rec.Name)
	if err != nil {
		return err
	}
	w.rctx = rctx
	return nil
}

func (w *worker) bind(ctx context.Context) error {
	w.inst = compositor.New(compositor.Options{Name: w.rec.Name, Context: w.rctx})
	lctx, cancel := context.WithCancel(ctx)
	w.stop = cancel
	w.loop = taskgroup.Go(func() error { return w.inst.Run(lctx) })
	if err := w.inst.Bind(w.opts.Dir); err != nil {
		return err
	}
	return w.verify(ctx)
}

// verify connects to the instance through its socket, checks that its
// registry matches the one the instance advertises, and creates a surface
// that must show up on this instance alone.
func (w *worker) verify(ctx context.Context) error {
	path := w.inst.Path()
	if filepath.Base(path) != w.rec.Name {
		return fmt.Errorf("instance bound at %q, want name %q", path, w.rec.Name)
	}
	ch, err := channel.Dial(path)
	if err != nil {
		return err
	}
	d := client.NewDisplay(w.rec.Name, ch)
	defer d.Close()

	reg, err := d.Registry(ctx)
	if err != nil {
		return err
	}
	if !maps.Equal(reg.Globals(), w.inst.Registry().Globals()) {
		return fmt.Errorf("registry mismatch: got %v, want %v", reg.Globals(), w.inst.Registry().Globals())
	}
	comp, err := d.Compositor(ctx)
	if err != nil {
		return err
	}
	if _, err := comp.CreateSurface(); err != nil {
		return err
	}
	if err := d.Sync(ctx); err != nil {
		return err
	}
	if st := w.inst.Stats(); st.Conns != 1 || st.Surfaces != 1 {
		return fmt.Errorf("instance state: got %+v, want 1 connection and 1 surface", st)
	}
	return nil
}

func (w *worker) destroy() error {
	err := w.inst.Destroy()
	w.stop()
	w.loop.Wait()
	if w.inst.Path() != "" {
		err = errors.Join(err, errors.New("instance is still bound"))
	}
	return err
}
