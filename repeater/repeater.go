// Copyright (C) 2026 RDK Management. All Rights Reserved.

// Package repeater forwards the frames committed on one compositor instance
// to an upstream instance.
//
// A [Repeater] is installed as the commit sink of a downstream instance and
// holds a client connection to the upstream instance. Each downstream commit
// clones the committed buffer upstream and commits the clone on a mirror
// surface. The downstream producer gets its buffer back only after the
// upstream compositor has released the clone: releases of clones queue the
// original buffers, and a timer on the downstream event loop drains the
// queue once per refresh interval.
package repeater

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/creachadair/mds/queue"
	"github.com/rdkcmf/waymetric/client"
	"github.com/rdkcmf/waymetric/compositor"
	"github.com/rdkcmf/waymetric/eventloop"
	"github.com/rdkcmf/waymetric/log"
	"github.com/rdkcmf/waymetric/protocol"
)

var logger = log.New("repeater")

// DefaultRefresh is the default interval between drains of the release
// queue, one refresh of a 60Hz display.
const DefaultRefresh = 16 * time.Millisecond

// Options are the settings of a Repeater.
type Options struct {
	// Refresh is the interval between drains of the release queue.
	// If zero, DefaultRefresh is used.
	Refresh time.Duration
}

// A Repeater forwards commits from a downstream instance to an upstream
// display. It implements [compositor.CommitSink].
type Repeater struct {
	ctx     context.Context
	inst    *compositor.Instance
	up      *client.Display
	comp    *client.Compositor
	refresh time.Duration
	timer   *eventloop.Timer
	prev    compositor.CommitSink
	forward func(mirror *client.Surface, c *client.Buffer) error

	// Mirror surfaces by upstream ID. Used only on the downstream loop.
	mirrors map[uint32]*client.Surface

	μ       sync.Mutex
	pending *queue.Queue[*compositor.Buffer]      // originals whose clones were released
	clones  map[*client.Buffer]*compositor.Buffer // clones not yet released
	stopped bool
}

// Start probes up for the clone global and, if it is advertised, installs a
// new repeater as the commit sink of inst. If up does not advertise cloning
// Start reports an error wrapping [client.ErrNoGlobal] and leaves inst
// unchanged, so that it keeps its own sink.
//
// The context governs calls to the upstream display for the lifetime of the
// repeater.
func Start(ctx context.Context, inst *compositor.Instance, up *client.Display, opts Options) (*Repeater, error) {
	reg, err := up.Registry(ctx)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", up.Name(), err)
	}
	if _, ok := reg.Lookup(protocol.Clone); !ok {
		return nil, fmt.Errorf("probe %s: clone: %w", up.Name(), client.ErrNoGlobal)
	}
	comp, err := up.Compositor(ctx)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", up.Name(), err)
	}
	r := &Repeater{
		ctx:     ctx,
		inst:    inst,
		up:      up,
		comp:    comp,
		refresh: opts.Refresh,
		prev:    inst.Sink(),
		mirrors: make(map[uint32]*client.Surface),
		pending: queue.New[*compositor.Buffer](),
		clones:  make(map[*client.Buffer]*compositor.Buffer),
		forward: forwardFrame,
	}
	if r.refresh <= 0 {
		r.refresh = DefaultRefresh
	}
	r.timer = inst.Loop().NewTimer(r.drain)
	inst.SetSink(r)
	r.timer.Update(r.refresh)
	logger.Infof("%s: forwarding to %s every %v", inst.Name(), up.Name(), r.refresh)
	return r, nil
}

// Stop disarms the drain timer and restores the previous commit sink of the
// instance. Releases still queued are not sent.
func (r *Repeater) Stop() {
	r.μ.Lock()
	r.stopped = true
	r.timer.Remove()
	r.μ.Unlock()
	r.inst.SetSink(r.prev)
}

// Pending reports the number of original buffers waiting to be released.
func (r *Repeater) Pending() int {
	r.μ.Lock()
	defer r.μ.Unlock()
	return r.pending.Len()
}

// InFlight reports the number of clones of the buffer with key k that the
// upstream compositor has not yet released.
func (r *Repeater) InFlight(k compositor.Key) int {
	r.μ.Lock()
	defer r.μ.Unlock()
	var n int
	for _, orig := range r.clones {
		if orig.Key() == k {
			n++
		}
	}
	return n
}

// Drain sends the queued releases now, without waiting for the timer.
func (r *Repeater) Drain() error { return r.inst.Loop().Do(r.drainQueue) }

// Commit implements part of [compositor.CommitSink]. It reports whether b was
// forwarded; a buffer that could not be forwarded is released by its surface
// as usual.
func (r *Repeater) Commit(s *compositor.Surface, b *compositor.Buffer) bool {
	mirror, err := r.mirror(s)
	if err != nil {
		logger.Errorf("%v: create mirror: %v", s, err)
		return false
	}
	c, err := r.up.Clone(r.ctx, b)
	if err != nil {
		repMetrics.cloneFailures.Add(1)
		logger.Errorf("%v: clone %v: %v", s, b, err)
		return false
	}

	r.μ.Lock()
	r.clones[c] = b
	r.μ.Unlock()
	cancel := c.OnRelease(r.cloneReleased)

	if err := r.forward(mirror, c); err != nil {
		logger.Errorf("%v: forward %v: %v", s, b, err)
		r.μ.Lock()
		_, owned := r.clones[c]
		delete(r.clones, c)
		r.μ.Unlock()
		if !owned {
			// The clone was released already and b is queued.
			return true
		}
		cancel()
		if err := c.Destroy(); err != nil {
			logger.Debugf("destroy clone %v: %v", c, err)
		}
		return false
	}
	repMetrics.framesForwarded.Add(1)
	return true
}

func forwardFrame(mirror *client.Surface, c *client.Buffer) error {
	if err := mirror.Attach(c, 0, 0); err != nil {
		return err
	}
	if err := mirror.Damage(0, 0, c.Width(), c.Height()); err != nil {
		return err
	}
	return mirror.Commit()
}

// SurfaceDestroyed implements part of [compositor.CommitSink]. It destroys
// the mirror of s, if it has one.
func (r *Repeater) SurfaceDestroyed(s *compositor.Surface) {
	id := s.Mirror()
	if id == 0 {
		return
	}
	if m, ok := r.mirrors[id]; ok {
		if err := m.Destroy(); err != nil {
			logger.Debugf("%v: destroy mirror %d: %v", s, id, err)
		}
		delete(r.mirrors, id)
	}
	s.SetMirror(0)
}

// mirror returns the upstream mirror of s, creating it on first use.
func (r *Repeater) mirror(s *compositor.Surface) (*client.Surface, error) {
	if m, ok := r.mirrors[s.Mirror()]; ok {
		return m, nil
	}
	m, err := r.comp.CreateSurface()
	if err != nil {
		return nil, err
	}
	r.mirrors[m.ID()] = m
	s.SetMirror(m.ID())
	logger.Debugf("%v: mirrored as upstream surface %d", s, m.ID())
	return m, nil
}

// cloneReleased runs on the receive goroutine of the upstream connection. It
// queues the original of c and destroys c.
func (r *Repeater) cloneReleased(c *client.Buffer) {
	r.μ.Lock()
	orig, ok := r.clones[c]
	if ok {
		delete(r.clones, c)
		r.pending.Add(orig)
	}
	r.μ.Unlock()
	if !ok {
		return
	}
	repMetrics.releasesDeferred.Add(1)
	if err := c.Destroy(); err != nil {
		logger.Debugf("destroy clone %v: %v", c, err)
	}
}

// drain runs on the downstream loop at each tick of the timer.
func (r *Repeater) drain() {
	start := time.Now()
	r.drainQueue()

	next := r.refresh - time.Since(start)
	if next <= 0 {
		next = r.refresh
	}
	r.μ.Lock()
	defer r.μ.Unlock()
	if !r.stopped {
		r.timer.Update(next)
	}
}

func (r *Repeater) drainQueue() {
	r.μ.Lock()
	select {
	case <-r.up.Done():
		// Clones on a closed connection are never released.
		for c, orig := range r.clones {
			r.pending.Add(orig)
			delete(r.clones, c)
		}
	default:
	}
	var batch []*compositor.Buffer
	for !r.pending.IsEmpty() {
		b, _ := r.pending.Pop()
		batch = append(batch, b)
	}
	r.μ.Unlock()

	for _, b := range batch {
		if r.inst.Release(b) {
			repMetrics.releasesSent.Add(1)
		}
	}
}
