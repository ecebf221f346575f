// Copyright (C) 2026 RDK Management. All Rights Reserved.

package compositor

import (
	"context"
	"encoding"
	"errors"
	"fmt"

	"github.com/rdkcmf/waymetric/protocol"
	"github.com/rdkcmf/waymetric/wire"
)

// Errors reported to clients as display error events.
var (
	ErrInvalidObject = errors.New("invalid object")
	ErrInvalidMethod = errors.New("invalid method")
	ErrNoMemory      = errors.New("no memory")
	ErrBusyBuffer    = errors.New("buffer is busy")
)

// errorCode maps err to the protocol error code reported for it.
func errorCode(err error) protocol.ErrorCode {
	switch {
	case errors.Is(err, ErrNoMemory):
		return protocol.ErrNoMemory
	case errors.Is(err, ErrBusyBuffer):
		return protocol.ErrBusyBuffer
	case errors.Is(err, ErrInvalidObject):
		return protocol.ErrInvalidObject
	default:
		return protocol.ErrInvalidMethod
	}
}

// A conn is the server side of one client connection. The objects it
// created are keyed by object ID: a global binding (the interface name as a
// string), a *Surface, a *Buffer, or a frameCallback.
type conn struct {
	inst *Instance
	id   uint32
	peer *wire.Peer

	// Guarded by inst.μ.
	objects map[uint32]any
	closed  bool
}

type frameCallback struct{ surface *Surface }

// handleMessage is the message handler of the peer. It runs each message on
// the event loop and waits for it, so messages are handled in order.
func (c *conn) handleMessage(_ context.Context, msg *wire.Message) error {
	return c.inst.loop.Do(func() { c.dispatch(msg) })
}

// sync answers the sync call. Earlier messages on the connection have been
// handled by the time the call is dispatched; passing through the loop makes
// sure any work they posted has also run.
func (c *conn) sync(context.Context) ([]byte, error) {
	return nil, c.inst.loop.Do(func() {})
}

// clone creates a buffer sharing the storage named in the request.
func (c *conn) clone(_ context.Context, req protocol.CloneRequest) (protocol.CloneReply, error) {
	var b *Buffer
	var err error
	if lerr := c.inst.loop.Do(func() {
		c.inst.μ.Lock()
		defer c.inst.μ.Unlock()
		b, err = c.inst.createBufferLocked(c, protocol.CreateBuffer(req))
	}); lerr != nil {
		return protocol.CloneReply{}, lerr
	} else if err != nil {
		return protocol.CloneReply{}, err
	}
	return protocol.CloneReply{Width: int32(b.width), Height: int32(b.height)}, nil
}

// exited is called by the peer when the connection ends.
func (c *conn) exited(err error) {
	if err != nil {
		logger.Debugf("%s: connection %d failed: %v", c.inst.name, c.id, err)
	}
	// If the loop has stopped, Destroy frees the objects.
	c.inst.loop.Post(func() { c.inst.teardown(c) })
}

func (c *conn) dispatch(msg *wire.Message) {
	var err error
	if msg.Object == protocol.DisplayID {
		err = c.displayRequest(msg)
	} else {
		err = c.objectRequest(msg)
	}
	if err != nil {
		logger.Debugf("%s: connection %d: %v", c.inst.name, c.id, err)
		c.inst.μ.Lock()
		defer c.inst.μ.Unlock()
		c.postEventLocked(protocol.DisplayID, protocol.DisplayError, protocol.ErrorEvent{
			Object:  msg.Object,
			Code:    errorCode(err),
			Message: err.Error(),
		})
	}
}

func (c *conn) displayRequest(msg *wire.Message) error {
	if msg.Opcode != protocol.DisplayBind {
		return fmt.Errorf("%w: display opcode %d", ErrInvalidMethod, msg.Opcode)
	}
	var req protocol.Bind
	if err := req.UnmarshalBinary(msg.Args); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMethod, err)
	}
	iface := c.inst.reg.Interface(req.Name)
	if iface == "" {
		return fmt.Errorf("%w: no global with name %d", ErrInvalidObject, req.Name)
	}
	c.inst.μ.Lock()
	defer c.inst.μ.Unlock()
	if err := c.checkNewIDLocked(req.NewID); err != nil {
		return err
	}
	c.objects[req.NewID] = iface
	return nil
}

func (c *conn) objectRequest(msg *wire.Message) error {
	c.inst.μ.Lock()
	obj, ok := c.objects[msg.Object]
	c.inst.μ.Unlock()
	if !ok {
		return fmt.Errorf("%w: unknown object %d", ErrInvalidObject, msg.Object)
	}

	switch o := obj.(type) {
	case string:
		switch o {
		case protocol.Compositor:
			return c.compositorRequest(msg)
		case protocol.BufferFactory:
			return c.factoryRequest(msg)
		}
	case *Surface:
		return c.surfaceRequest(o, msg)
	case *Buffer:
		if msg.Opcode == protocol.BufferDestroy {
			c.inst.μ.Lock()
			defer c.inst.μ.Unlock()
			delete(c.objects, msg.Object)
			c.inst.destroyBufferLocked(o)
			c.deleteIDLocked(msg.Object)
			return nil
		}
	}
	return fmt.Errorf("%w: object %d (%T) opcode %d", ErrInvalidMethod, msg.Object, obj, msg.Opcode)
}

func (c *conn) compositorRequest(msg *wire.Message) error {
	var req protocol.NewID
	if err := decode(msg, &req); err != nil {
		return err
	}
	switch msg.Opcode {
	case protocol.CompositorCreateSurface:
		c.inst.μ.Lock()
		defer c.inst.μ.Unlock()
		_, err := c.inst.createSurfaceLocked(c, req.ID)
		return err
	case protocol.CompositorCreateRegion:
		return fmt.Errorf("%w: regions are not supported", ErrNoMemory)
	}
	return fmt.Errorf("%w: compositor opcode %d", ErrInvalidMethod, msg.Opcode)
}

func (c *conn) factoryRequest(msg *wire.Message) error {
	if msg.Opcode != protocol.FactoryCreateBuffer {
		return fmt.Errorf("%w: buffer factory opcode %d", ErrInvalidMethod, msg.Opcode)
	}
	var req protocol.CreateBuffer
	if err := decode(msg, &req); err != nil {
		return err
	}
	c.inst.μ.Lock()
	defer c.inst.μ.Unlock()
	_, err := c.inst.createBufferLocked(c, req)
	return err
}

func (c *conn) surfaceRequest(s *Surface, msg *wire.Message) error {
	inst := c.inst
	switch msg.Opcode {
	case protocol.SurfaceDestroy:
		inst.μ.Lock()
		defer inst.μ.Unlock()
		delete(c.objects, msg.Object)
		inst.unrefLocked(s)
		c.deleteIDLocked(msg.Object)

	case protocol.SurfaceAttach:
		var req protocol.Attach
		if err := decode(msg, &req); err != nil {
			return err
		}
		inst.μ.Lock()
		defer inst.μ.Unlock()
		var b *Buffer
		if req.Buffer != 0 {
			var ok bool
			b, ok = c.objects[req.Buffer].(*Buffer)
			if !ok {
				return fmt.Errorf("%w: %d is not a buffer", ErrInvalidObject, req.Buffer)
			}
		}
		return inst.attachLocked(s, b)

	case protocol.SurfaceDamage:
		var req protocol.Damage
		return decode(msg, &req) // whole-surface redraw only

	case protocol.SurfaceFrame:
		var req protocol.NewID
		if err := decode(msg, &req); err != nil {
			return err
		}
		inst.μ.Lock()
		defer inst.μ.Unlock()
		if err := c.checkNewIDLocked(req.ID); err != nil {
			return err
		}
		c.objects[req.ID] = frameCallback{surface: s}
		s.frames = append(s.frames, req.ID)

	case protocol.SurfaceCommit:
		inst.commit(s)

	case protocol.SurfaceSetOpaqueRegion, protocol.SurfaceSetInputRegion,
		protocol.SurfaceSetBufferTransform, protocol.SurfaceSetBufferScale:
		// Accepted and ignored.

	default:
		return fmt.Errorf("%w: surface opcode %d", ErrInvalidMethod, msg.Opcode)
	}
	return nil
}

// checkNewIDLocked reports an error if id cannot name a new object on c.
func (c *conn) checkNewIDLocked(id uint32) error {
	if id == 0 || id == protocol.DisplayID {
		return fmt.Errorf("%w: reserved object ID %d", ErrNoMemory, id)
	} else if _, ok := c.objects[id]; ok {
		return fmt.Errorf("%w: object ID %d is in use", ErrNoMemory, id)
	}
	return nil
}

// postEventLocked sends an event addressed to object. Events for a closed
// connection are discarded.
func (c *conn) postEventLocked(object uint32, opcode uint16, args encoding.BinaryMarshaler) {
	if c.closed {
		return
	}
	var data []byte
	if args != nil {
		var err error
		data, err = args.MarshalBinary()
		if err != nil {
			panic(fmt.Sprintf("encoding event %d.%d: %v", object, opcode, err))
		}
	}
	if err := c.peer.Post(object, opcode, data); err != nil {
		logger.Debugf("%s: connection %d: post %d.%d: %v", c.inst.name, c.id, object, opcode, err)
	}
}

// deleteIDLocked forgets id and tells the client it may be reused.
func (c *conn) deleteIDLocked(id uint32) {
	delete(c.objects, id)
	c.postEventLocked(protocol.DisplayID, protocol.DisplayDeleteID, protocol.NewID{ID: id})
}

func decode(msg *wire.Message, v encoding.BinaryUnmarshaler) error {
	if err := v.UnmarshalBinary(msg.Args); err != nil {
		return fmt.Errorf("%w: object %d opcode %d: %w", ErrInvalidMethod, msg.Object, msg.Opcode, err)
	}
	return nil
}
