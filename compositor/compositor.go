// Copyright (C) 2026 RDK Management. All Rights Reserved.

// Package compositor implements a minimal display server.
//
// An [Instance] serves the display protocol to its clients: it advertises
// its globals, creates surfaces and buffers on request, and runs the
// attach/commit/release state machine of each surface. Committed buffers are
// handed to a [CommitSink], which imports them for rendering or forwards them
// to another instance.
//
// All protocol dispatch for an instance runs on its event loop, in the order
// messages arrive on each connection. The instance mutex guards the object
// tables so that they may also be inspected from other goroutines.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/taskgroup"
	"github.com/rdkcmf/waymetric/eventloop"
	"github.com/rdkcmf/waymetric/importer"
	"github.com/rdkcmf/waymetric/log"
	"github.com/rdkcmf/waymetric/protocol"
	"github.com/rdkcmf/waymetric/render"
	"github.com/rdkcmf/waymetric/wire"
	"github.com/rdkcmf/waymetric/wire/handler"
)

var logger = log.New("compositor")

// DefaultMaxSurfaces is the default limit on live surfaces per instance.
const DefaultMaxSurfaces = 64

// Options are the settings of a new Instance.
type Options struct {
	// Name is the display name of the instance. It names the listening
	// socket when the instance is bound.
	Name string

	// Context is the rendering context committed buffers are imported into.
	// If nil, commits are not imported.
	Context render.Context

	// Render, if true, draws and presents every imported frame.
	Render bool

	// MaxSurfaces limits the number of live surfaces. If zero,
	// DefaultMaxSurfaces is used.
	MaxSurfaces int

	// DisableClone, if true, omits the clone global and call.
	DisableClone bool
}

// A CommitSink receives the buffers committed to the surfaces of an instance.
type CommitSink interface {
	// Commit is called on the event loop when s commits b. It reports true
	// if it has forwarded b elsewhere; the instance then defers the release
	// of b until the sink calls Release for it.
	Commit(s *Surface, b *Buffer) (forwarded bool)

	// SurfaceDestroyed is called when s is freed. It is called with the
	// instance lock held, and must not call back into the instance.
	SurfaceDestroyed(s *Surface)
}

// An Instance is a compositor instance. Construct one with New.
type Instance struct {
	name        string
	loop        *eventloop.Loop
	rctx        render.Context
	reg         *protocol.Registry
	maxSurfaces int
	clone       bool

	μ         sync.Mutex
	sink      CommitSink
	nextConn  uint32
	conns     mapset.Set[*conn]
	surfaces  map[Key]*Surface
	buffers   map[Key]*Buffer
	path      string             // listening socket, if bound
	stopServe context.CancelFunc // stops the accept loop, if bound
	serving   *taskgroup.Single[error]
	destroyed bool
}

// New constructs a new instance with the given options. The instance does
// not dispatch any requests until Run is called.
func New(opts Options) *Instance {
	inst := &Instance{
		name:        opts.Name,
		loop:        eventloop.New(),
		rctx:        opts.Context,
		reg:         protocol.NewRegistry(),
		maxSurfaces: opts.MaxSurfaces,
		clone:       !opts.DisableClone,
		conns:       mapset.New[*conn](),
		surfaces:    make(map[Key]*Surface),
		buffers:     make(map[Key]*Buffer),
	}
	if inst.maxSurfaces <= 0 {
		inst.maxSurfaces = DefaultMaxSurfaces
	}
	inst.reg.Add(protocol.Compositor, protocol.CompositorVersion).Add(protocol.BufferFactory, 1)
	if inst.clone {
		inst.reg.Add(protocol.Clone, 1)
	}
	if opts.Context != nil {
		inst.sink = NewImportSink(importer.New(opts.Context, opts.Render))
	}
	return inst
}

// Name reports the display name of the instance.
func (i *Instance) Name() string { return i.name }

// Loop returns the event loop of the instance.
func (i *Instance) Loop() *eventloop.Loop { return i.loop }

// Registry returns the globals advertised by the instance.
func (i *Instance) Registry() *protocol.Registry { return i.reg }

// Context returns the rendering context of the instance, or nil.
func (i *Instance) Context() render.Context { return i.rctx }

// Sink returns the current commit sink of the instance, or nil.
func (i *Instance) Sink() CommitSink {
	i.μ.Lock()
	defer i.μ.Unlock()
	return i.sink
}

// SetSink replaces the commit sink of the instance. A nil sink discards
// commits.
func (i *Instance) SetSink(s CommitSink) {
	i.μ.Lock()
	defer i.μ.Unlock()
	i.sink = s
}

// Run dispatches requests until ctx ends or the instance is destroyed.
func (i *Instance) Run(ctx context.Context) error { return i.loop.Run(ctx) }

// Stats describes the live objects of an instance.
type Stats struct {
	Conns    int
	Surfaces int
	Buffers  int
}

// Stats reports the number of live objects in the instance.
func (i *Instance) Stats() Stats {
	i.μ.Lock()
	defer i.μ.Unlock()
	return Stats{Conns: i.conns.Len(), Surfaces: len(i.surfaces), Buffers: len(i.buffers)}
}

// Serve starts a connection on ch, served by the instance. It returns the
// peer for the connection, which runs until the client disconnects or the
// instance is destroyed.
func (i *Instance) Serve(ch wire.Channel) (*wire.Peer, error) {
	c := &conn{inst: i, objects: make(map[uint32]any)}
	c.peer = wire.NewPeer().
		Handle(protocol.MethodRegistry, i.reg.Handler()).
		Handle(protocol.MethodSync, handler.ResultError(c.sync)).
		HandleMessage(c.handleMessage).
		OnExit(c.exited)
	if i.clone {
		c.peer.Handle(protocol.MethodClone, handler.ParamResultError(c.clone))
	}

	i.μ.Lock()
	if i.destroyed {
		i.μ.Unlock()
		ch.Close()
		return nil, fmt.Errorf("instance %q is destroyed", i.name)
	}
	i.nextConn++
	c.id = i.nextConn
	i.conns.Add(c)
	i.μ.Unlock()

	if log.CurrentLevel() == log.Debug {
		c.peer.LogPackets(func(pkt wire.PacketInfo) { logger.Debugf("%s conn %d: %v", i.name, c.id, pkt) })
	}
	logger.Debugf("%s: new connection %d", i.name, c.id)
	return c.peer.Start(ch), nil
}

// Destroy stops the event loop, unbinds the instance if it is bound,
// disconnects all clients and frees their objects, and destroys the
// rendering context. Destroy must not be called from the event loop.
func (i *Instance) Destroy() error {
	i.μ.Lock()
	if i.destroyed {
		i.μ.Unlock()
		return errors.New("instance already destroyed")
	}
	i.destroyed = true
	bound := i.stopServe != nil
	i.μ.Unlock()

	i.loop.Stop()
	<-i.loop.Done()

	var errs []error
	if bound {
		errs = append(errs, i.Unbind())
	}

	i.μ.Lock()
	conns := make([]*conn, 0, i.conns.Len())
	for c := range i.conns {
		conns = append(conns, c)
	}
	i.μ.Unlock()
	for _, c := range conns {
		c.peer.Stop()
		i.teardown(c)
	}

	if i.rctx != nil {
		errs = append(errs, i.rctx.Destroy())
	}
	logger.Debugf("%s: destroyed", i.name)
	return errors.Join(errs...)
}

// teardown frees every object created by c and forgets c.
func (i *Instance) teardown(c *conn) {
	i.μ.Lock()
	defer i.μ.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	i.conns.Remove(c)

	// Surfaces go first, so the buffers they hold are released (to nobody)
	// rather than reported destroyed while attached.
	for id, obj := range c.objects {
		if s, ok := obj.(*Surface); ok {
			delete(c.objects, id)
			i.unrefLocked(s)
		}
	}
	for id, obj := range c.objects {
		if b, ok := obj.(*Buffer); ok {
			delete(c.objects, id)
			i.destroyBufferLocked(b)
		}
	}
	clear(c.objects)
	logger.Debugf("%s: connection %d closed", i.name, c.id)
}

// Release sends the deferred release of a buffer forwarded by the sink, once
// every forwarded copy of b has been released. It reports whether a release
// was sent. Release must be called on the event loop.
func (i *Instance) Release(b *Buffer) bool {
	i.μ.Lock()
	defer i.μ.Unlock()
	if b.destroyed {
		return false
	}
	if b.inflight > 0 {
		b.inflight--
	}
	if b.inflight == 0 && b.owed {
		b.owed = false
		i.sendReleaseLocked(b)
		return true
	}
	return false
}

// Surface returns the live surface with key k, if any.
func (i *Instance) Surface(k Key) (*Surface, bool) {
	i.μ.Lock()
	defer i.μ.Unlock()
	s, ok := i.surfaces[k]
	return s, ok
}

// Buffer returns the live buffer with key k, if any.
func (i *Instance) Buffer(k Key) (*Buffer, bool) {
	i.μ.Lock()
	defer i.μ.Unlock()
	b, ok := i.buffers[k]
	return b, ok
}
