// Copyright (C) 2026 RDK Management. All Rights Reserved.

// Package client implements the producer side of the display protocol.
//
// A [Display] is a connection to a compositor instance. Binding the globals
// it advertises yields a [Compositor], which creates surfaces, and a
// [BufferFactory], which creates buffers. Events from the server, such as
// buffer releases and frame callbacks, are delivered on the receive
// goroutine of the connection in the order they were sent.
package client

import (
	"context"
	"encoding"
	"errors"
	"fmt"
	"sync"

	"github.com/rdkcmf/waymetric/log"
	"github.com/rdkcmf/waymetric/protocol"
	"github.com/rdkcmf/waymetric/render"
	"github.com/rdkcmf/waymetric/wire"
	"github.com/rdkcmf/waymetric/wire/channel"
)

var logger = log.New("client")

// ErrNoGlobal is reported when the server does not advertise a required
// global.
var ErrNoGlobal = errors.New("global not advertised")

// A Display is a client connection to a compositor instance.
type Display struct {
	name string
	peer *wire.Peer
	done chan struct{}

	μ       sync.Mutex
	nextID  uint32
	objects map[uint32]any // *Buffer or frameCallback
	errs    []protocol.ErrorEvent
	reg     *protocol.Registry
	err     error // why the connection ended
}

type frameCallback func(ms uint32)

// Connect connects to the display with the given name, whose socket is in
// the directory named by $XDG_RUNTIME_DIR.
func Connect(name string) (*Display, error) {
	ch, err := channel.Dial(protocol.SocketPath(name))
	if err != nil {
		return nil, fmt.Errorf("connect %q: %w", name, err)
	}
	return NewDisplay(name, ch), nil
}

// NewDisplay starts a display connection on ch.
func NewDisplay(name string, ch wire.Channel) *Display {
	d := &Display{
		name:    name,
		done:    make(chan struct{}),
		nextID:  protocol.DisplayID,
		objects: make(map[uint32]any),
	}
	d.peer = wire.NewPeer().HandleMessage(d.handleEvent).OnExit(d.exited)
	d.peer.Start(ch)
	return d
}

// Name reports the display name d is connected to.
func (d *Display) Name() string { return d.name }

// Close closes the connection and waits for it to shut down.
func (d *Display) Close() error { return d.peer.Stop() }

// Done returns a channel that is closed when the connection ends.
func (d *Display) Done() <-chan struct{} { return d.done }

// Err reports why the connection ended, or nil.
func (d *Display) Err() error {
	d.μ.Lock()
	defer d.μ.Unlock()
	return d.err
}

// Errors returns the error events reported by the server so far.
func (d *Display) Errors() []protocol.ErrorEvent {
	d.μ.Lock()
	defer d.μ.Unlock()
	return append([]protocol.ErrorEvent(nil), d.errs...)
}

// Sync blocks until the server has handled every request sent before it,
// and the events they caused have been delivered.
func (d *Display) Sync(ctx context.Context) error {
	if _, err := d.peer.Call(ctx, protocol.MethodSync, nil); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

// Registry returns the globals advertised by the server. The first call
// fetches them; later calls reuse the result.
func (d *Display) Registry(ctx context.Context) (*protocol.Registry, error) {
	d.μ.Lock()
	reg := d.reg
	d.μ.Unlock()
	if reg != nil {
		return reg, nil
	}

	rsp, err := d.peer.Call(ctx, protocol.MethodRegistry, nil)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	reg = protocol.NewRegistry()
	if err := reg.Decode(rsp.Data); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	d.μ.Lock()
	defer d.μ.Unlock()
	d.reg = reg
	return reg, nil
}

// Bind binds the global for iface and returns the ID of the new object.
func (d *Display) Bind(ctx context.Context, iface string) (uint32, error) {
	reg, err := d.Registry(ctx)
	if err != nil {
		return 0, err
	}
	g, ok := reg.Lookup(iface)
	if !ok {
		return 0, fmt.Errorf("bind %q: %w", iface, ErrNoGlobal)
	}
	id := d.newID(nil)
	if err := d.post(protocol.DisplayID, protocol.DisplayBind, protocol.Bind{Name: g.Name, NewID: id}); err != nil {
		return 0, err
	}
	return id, nil
}

// Compositor binds the compositor global.
func (d *Display) Compositor(ctx context.Context) (*Compositor, error) {
	id, err := d.Bind(ctx, protocol.Compositor)
	if err != nil {
		return nil, err
	}
	return &Compositor{d: d, id: id}, nil
}

// BufferFactory binds the buffer factory global.
func (d *Display) BufferFactory(ctx context.Context) (*BufferFactory, error) {
	id, err := d.Bind(ctx, protocol.BufferFactory)
	if err != nil {
		return nil, err
	}
	return &BufferFactory{d: d, id: id}, nil
}

// Clone asks the server to create a buffer sharing the storage of src, and
// returns the new buffer with the dimensions the server reported for it.
// Clone reports ErrNoGlobal if the server does not advertise cloning.
func (d *Display) Clone(ctx context.Context, src render.ImageSource) (*Buffer, error) {
	reg, err := d.Registry(ctx)
	if err != nil {
		return nil, err
	} else if _, ok := reg.Lookup(protocol.Clone); !ok {
		return nil, fmt.Errorf("clone: %w", ErrNoGlobal)
	}
	b := &Buffer{d: d, format: src.Format(), storage: src.Storage()}
	b.id = d.newID(b)
	req, _ := protocol.CloneRequest{
		NewID:   b.id,
		Width:   int32(src.Width()),
		Height:  int32(src.Height()),
		Format:  src.Format(),
		Storage: src.Storage(),
	}.MarshalBinary()
	rsp, err := d.peer.Call(ctx, protocol.MethodClone, req)
	if err != nil {
		d.forget(b.id)
		return nil, fmt.Errorf("clone: %w", err)
	}
	var reply protocol.CloneReply
	if err := reply.UnmarshalBinary(rsp.Data); err != nil {
		d.forget(b.id)
		return nil, fmt.Errorf("clone: %w", err)
	}
	b.width, b.height = int(reply.Width), int(reply.Height)
	return b, nil
}

// newID allocates an object ID and associates obj with it.
func (d *Display) newID(obj any) uint32 {
	d.μ.Lock()
	defer d.μ.Unlock()
	d.nextID++
	if obj != nil {
		d.objects[d.nextID] = obj
	}
	return d.nextID
}

func (d *Display) forget(id uint32) {
	d.μ.Lock()
	defer d.μ.Unlock()
	delete(d.objects, id)
}

func (d *Display) post(object uint32, opcode uint16, args encoding.BinaryMarshaler) error {
	var data []byte
	if args != nil {
		var err error
		if data, err = args.MarshalBinary(); err != nil {
			return err
		}
	}
	if err := d.peer.Post(object, opcode, data); err != nil {
		return fmt.Errorf("post %d.%d: %w", object, opcode, err)
	}
	return nil
}

func (d *Display) exited(err error) {
	d.μ.Lock()
	defer d.μ.Unlock()
	d.err = err
	if err == nil {
		d.err = errors.New("connection closed")
	}
	close(d.done)
}

// handleEvent dispatches an event from the server. Unknown objects are
// ignored, since the server may send events for objects the client has
// already destroyed.
func (d *Display) handleEvent(_ context.Context, msg *wire.Message) error {
	if msg.Object == protocol.DisplayID {
		return d.displayEvent(msg)
	}
	d.μ.Lock()
	obj, ok := d.objects[msg.Object]
	d.μ.Unlock()
	if !ok {
		return nil
	}
	switch o := obj.(type) {
	case *Buffer:
		if msg.Opcode == protocol.BufferRelease {
			o.release()
		}
	case frameCallback:
		var ev protocol.Done
		if err := ev.UnmarshalBinary(msg.Args); err != nil {
			return err
		}
		d.forget(msg.Object)
		o(ev.Time)
	}
	return nil
}

func (d *Display) displayEvent(msg *wire.Message) error {
	switch msg.Opcode {
	case protocol.DisplayError:
		var ev protocol.ErrorEvent
		if err := ev.UnmarshalBinary(msg.Args); err != nil {
			return err
		}
		logger.Warningf("%s: %v", d.name, ev)
		d.μ.Lock()
		defer d.μ.Unlock()
		d.errs = append(d.errs, ev)
	case protocol.DisplayDeleteID:
		var ev protocol.NewID
		if err := ev.UnmarshalBinary(msg.Args); err != nil {
			return err
		}
		d.μ.Lock()
		defer d.μ.Unlock()
		if _, ok := d.objects[ev.ID].(frameCallback); ok {
			delete(d.objects, ev.ID)
		}
	}
	return nil
}

// A Compositor is a bound compositor global.
type Compositor struct {
	d  *Display
	id uint32
}

// CreateSurface creates a new surface.
func (c *Compositor) CreateSurface() (*Surface, error) {
	id := c.d.newID(nil)
	if err := c.d.post(c.id, protocol.CompositorCreateSurface, protocol.NewID{ID: id}); err != nil {
		return nil, err
	}
	return &Surface{d: c.d, id: id}, nil
}

// A BufferFactory is a bound buffer factory global.
type BufferFactory struct {
	d  *Display
	id uint32
}

// CreateBuffer creates a new buffer backed by the named storage.
func (f *BufferFactory) CreateBuffer(width, height int, format protocol.Format, storage string) (*Buffer, error) {
	b := &Buffer{d: f.d, width: width, height: height, format: format, storage: storage}
	b.id = f.d.newID(b)
	if err := f.d.post(f.id, protocol.FactoryCreateBuffer, protocol.CreateBuffer{
		NewID:   b.id,
		Width:   int32(width),
		Height:  int32(height),
		Format:  format,
		Storage: storage,
	}); err != nil {
		f.d.forget(b.id)
		return nil, err
	}
	return b, nil
}

// A Surface is a client surface.
type Surface struct {
	d  *Display
	id uint32
}

// ID reports the object ID of s.
func (s *Surface) ID() uint32 { return s.id }

// Attach attaches b to s. A nil buffer detaches the current one.
func (s *Surface) Attach(b *Buffer, x, y int) error {
	var id uint32
	if b != nil {
		id = b.id
	}
	return s.d.post(s.id, protocol.SurfaceAttach, protocol.Attach{Buffer: id, X: int32(x), Y: int32(y)})
}

// Damage marks a region of s as changed.
func (s *Surface) Damage(x, y, width, height int) error {
	return s.d.post(s.id, protocol.SurfaceDamage, protocol.Damage{
		X: int32(x), Y: int32(y), Width: int32(width), Height: int32(height),
	})
}

// Frame requests a callback when the next commit of s is displayed. The
// callback receives the time of display in milliseconds, and runs on the
// receive goroutine of the connection.
func (s *Surface) Frame(f func(ms uint32)) error {
	id := s.d.newID(frameCallback(f))
	if err := s.d.post(s.id, protocol.SurfaceFrame, protocol.NewID{ID: id}); err != nil {
		s.d.forget(id)
		return err
	}
	return nil
}

// Commit commits the pending state of s.
func (s *Surface) Commit() error { return s.d.post(s.id, protocol.SurfaceCommit, nil) }

// Destroy destroys s.
func (s *Surface) Destroy() error { return s.d.post(s.id, protocol.SurfaceDestroy, nil) }

// A Buffer is a client buffer.
type Buffer struct {
	d       *Display
	id      uint32
	width   int
	height  int
	format  protocol.Format
	storage string

	μ         sync.Mutex
	nextL     uint64
	listeners map[uint64]func(*Buffer)
}

// ID reports the object ID of b.
func (b *Buffer) ID() uint32 { return b.id }

// Width reports the width of b in pixels.
func (b *Buffer) Width() int { return b.width }

// Height reports the height of b in pixels.
func (b *Buffer) Height() int { return b.height }

// Format reports the pixel format of b.
func (b *Buffer) Format() protocol.Format { return b.format }

// Storage reports the name of the shared memory backing b.
func (b *Buffer) Storage() string { return b.storage }

// OnRelease registers f to be called each time the server releases b. It
// runs on the receive goroutine of the connection and must not block. The
// returned function cancels the registration.
func (b *Buffer) OnRelease(f func(*Buffer)) (cancel func()) {
	b.μ.Lock()
	defer b.μ.Unlock()
	if b.listeners == nil {
		b.listeners = make(map[uint64]func(*Buffer))
	}
	b.nextL++
	id := b.nextL
	b.listeners[id] = f
	return func() {
		b.μ.Lock()
		defer b.μ.Unlock()
		delete(b.listeners, id)
	}
}

func (b *Buffer) release() {
	b.μ.Lock()
	fs := make([]func(*Buffer), 0, len(b.listeners))
	for _, f := range b.listeners {
		fs = append(fs, f)
	}
	b.μ.Unlock()
	for _, f := range fs {
		f(b)
	}
}

// Destroy destroys b. No further releases are delivered for it.
func (b *Buffer) Destroy() error {
	b.d.forget(b.id)
	return b.d.post(b.id, protocol.BufferDestroy, nil)
}

func (b *Buffer) String() string {
	return fmt.Sprintf("buffer %d (%dx%d %v)", b.id, b.width, b.height, b.format)
}
