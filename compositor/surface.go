// Copyright (C) 2026 RDK Management. All Rights Reserved.

package compositor

import (
	"fmt"
	"time"

	"github.com/rdkcmf/waymetric/importer"
	"github.com/rdkcmf/waymetric/protocol"
)

// A Key identifies an object of an instance: the connection that created it
// and the object ID the client chose for it.
type Key struct {
	Conn uint32
	ID   uint32
}

func (k Key) String() string { return fmt.Sprintf("%d/%d", k.Conn, k.ID) }

// A Buffer is a pixel-memory handle owned by a client.
//
// A buffer is held by at most one surface at a time. When the surface lets
// go of it, the buffer is released back to its producer, exactly once per
// attachment.
type Buffer struct {
	inst    *Instance
	conn    *conn
	key     Key
	width   int
	height  int
	format  protocol.Format
	storage string

	// The remaining fields are guarded by inst.μ.
	holder    *Surface
	inflight  int  // forwarded copies not yet released
	owed      bool // a release is waiting for inflight to reach zero
	destroyed bool
	nextSub   uint64
	subs      map[uint64]func(Key)
}

// Key reports the key of b.
func (b *Buffer) Key() Key { return b.key }

// ID reports the object ID of b on its connection.
func (b *Buffer) ID() uint32 { return b.key.ID }

// Width reports the width of b in pixels.
func (b *Buffer) Width() int { return b.width }

// Height reports the height of b in pixels.
func (b *Buffer) Height() int { return b.height }

// Format reports the pixel format of b.
func (b *Buffer) Format() protocol.Format { return b.format }

// Storage reports the name of the shared memory backing b.
func (b *Buffer) Storage() string { return b.storage }

func (b *Buffer) String() string {
	return fmt.Sprintf("buffer %v (%dx%d %v)", b.key, b.width, b.height, b.format)
}

// OnDestroy registers f to be called with the key of b when its producer
// destroys it. The returned function cancels the registration.
func (b *Buffer) OnDestroy(f func(Key)) (cancel func()) {
	b.inst.μ.Lock()
	defer b.inst.μ.Unlock()
	id := b.subscribeLocked(f)
	return func() {
		b.inst.μ.Lock()
		defer b.inst.μ.Unlock()
		delete(b.subs, id)
	}
}

func (b *Buffer) subscribeLocked(f func(Key)) uint64 {
	if b.subs == nil {
		b.subs = make(map[uint64]func(Key))
	}
	b.nextSub++
	b.subs[b.nextSub] = f
	return b.nextSub
}

// A Surface is a drawable of a client.
//
// A surface has three buffer slots. The attached buffer is the one the next
// commit will display. The current buffer is the one the last commit
// displayed. The detached buffer was superseded by a later attach, and is
// released at the next commit.
type Surface struct {
	inst *Instance
	conn *conn
	key  Key

	// The remaining fields are guarded by inst.μ, except for images and
	// mirror which belong to the commit sink and are used only on the event
	// loop.
	refs     int
	attached *Buffer
	current  *Buffer
	detached *Buffer
	frames   []uint32           // pending frame callback IDs
	subs     map[*Buffer]uint64 // destroy listeners on held buffers
	freed    bool

	images importer.Slot
	mirror uint32
}

// Key reports the key of s.
func (s *Surface) Key() Key { return s.key }

// ID reports the object ID of s on its connection.
func (s *Surface) ID() uint32 { return s.key.ID }

// Mirror reports the ID of the surface mirroring s upstream, or 0.
func (s *Surface) Mirror() uint32 { return s.mirror }

// SetMirror records the ID of the surface mirroring s upstream.
func (s *Surface) SetMirror(id uint32) { s.mirror = id }

// Ref adds a reference to s. It reports false if s has already been freed.
func (s *Surface) Ref() bool {
	s.inst.μ.Lock()
	defer s.inst.μ.Unlock()
	if s.freed {
		return false
	}
	s.refs++
	return true
}

// Unref drops a reference to s, freeing it when none remain.
func (s *Surface) Unref() {
	s.inst.μ.Lock()
	defer s.inst.μ.Unlock()
	s.inst.unrefLocked(s)
}

// Slots reports the buffers in the attached, current, and detached slots of
// s. Empty slots are nil.
func (s *Surface) Slots() (attached, current, detached *Buffer) {
	s.inst.μ.Lock()
	defer s.inst.μ.Unlock()
	return s.attached, s.current, s.detached
}

func (s *Surface) String() string { return fmt.Sprintf("surface %v", s.key) }

// createSurfaceLocked creates a surface with the given ID on c. On failure
// nothing is changed.
func (i *Instance) createSurfaceLocked(c *conn, id uint32) (*Surface, error) {
	if err := c.checkNewIDLocked(id); err != nil {
		return nil, err
	} else if len(i.surfaces) >= i.maxSurfaces {
		return nil, fmt.Errorf("%w: %d surfaces in use", ErrNoMemory, len(i.surfaces))
	}
	s := &Surface{inst: i, conn: c, key: Key{Conn: c.id, ID: id}, refs: 1}
	i.surfaces[s.key] = s
	c.objects[id] = s
	compMetrics.surfacesCreated.Add(1)
	return s, nil
}

// createBufferLocked creates a buffer on c as described by req. On failure
// nothing is changed.
func (i *Instance) createBufferLocked(c *conn, req protocol.CreateBuffer) (*Buffer, error) {
	if err := c.checkNewIDLocked(req.NewID); err != nil {
		return nil, err
	} else if req.Width <= 0 || req.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid buffer size %dx%d", ErrInvalidMethod, req.Width, req.Height)
	}
	b := &Buffer{
		inst:    i,
		conn:    c,
		key:     Key{Conn: c.id, ID: req.NewID},
		width:   int(req.Width),
		height:  int(req.Height),
		format:  req.Format,
		storage: req.Storage,
	}
	i.buffers[b.key] = b
	c.objects[req.NewID] = b
	return b, nil
}

// attachLocked makes b (which may be nil) the attached buffer of s.
func (i *Instance) attachLocked(s *Surface, b *Buffer) error {
	if b != nil && b.holder != nil && b.holder != s {
		return fmt.Errorf("%w: %v is held by %v", ErrBusyBuffer, b, b.holder)
	}
	switch {
	case b == s.attached:
		// Nothing changes.

	case b != nil && b == s.detached:
		// Take the superseded buffer back without releasing it.
		s.detached, s.attached = s.attached, b

	default:
		if s.attached != nil {
			if s.detached != nil {
				i.releaseLocked(s, s.detached)
			}
			s.detached = s.attached
		}
		s.attached = b
		if b != nil {
			i.holdLocked(s, b)
		}
	}
	return nil
}

// commit promotes the attached buffer of s to current, hands it to the
// sink, releases the detached buffer and fires the pending frame callbacks.
// Without an attached buffer commit does nothing.
func (i *Instance) commit(s *Surface) {
	i.μ.Lock()
	b, sink := s.attached, i.sink
	if b == nil || s.freed {
		i.μ.Unlock()
		return
	}
	s.current = b
	compMetrics.commits.Add(1)
	i.μ.Unlock()

	var forwarded bool
	if sink != nil {
		forwarded = sink.Commit(s, b)
	}

	i.μ.Lock()
	defer i.μ.Unlock()
	if forwarded && !b.destroyed {
		b.inflight++
	}
	if s.detached != nil && s.detached != b {
		i.releaseLocked(s, s.detached)
	}
	s.detached = nil

	now := uint32(time.Now().UnixMilli())
	for _, id := range s.frames {
		s.conn.postEventLocked(id, protocol.CallbackDone, protocol.Done{Time: now})
		s.conn.deleteIDLocked(id)
	}
	s.frames = nil
}

// holdLocked records that s holds b in one of its slots.
func (i *Instance) holdLocked(s *Surface, b *Buffer) {
	if b.holder == s {
		return
	}
	b.holder = s
	if s.subs == nil {
		s.subs = make(map[*Buffer]uint64)
	}
	s.subs[b] = b.subscribeLocked(s.bufferDestroyedLocked)
}

// releaseLocked lets go of b, which s holds, and releases it to its
// producer. If forwarded copies of b are still in use, the release is
// deferred until the last of them is released.
func (i *Instance) releaseLocked(s *Surface, b *Buffer) {
	if s.current == b {
		s.current = nil
	}
	if s.attached == b {
		s.attached = nil
	}
	if s.detached == b {
		s.detached = nil
	}
	if id, ok := s.subs[b]; ok {
		delete(b.subs, id)
		delete(s.subs, b)
	}
	b.holder = nil

	if b.inflight > 0 {
		b.owed = true
		return
	}
	i.sendReleaseLocked(b)
}

func (i *Instance) sendReleaseLocked(b *Buffer) {
	if b.conn.closed {
		return
	}
	b.conn.postEventLocked(b.key.ID, protocol.BufferRelease, nil)
	compMetrics.buffersReleased.Add(1)
}

// bufferDestroyedLocked clears every slot of s holding the buffer with key
// k, without releasing it.
func (s *Surface) bufferDestroyedLocked(k Key) {
	for b := range s.subs {
		if b.key != k {
			continue
		}
		if s.attached == b {
			s.attached = nil
		}
		if s.current == b {
			s.current = nil
		}
		if s.detached == b {
			s.detached = nil
		}
		delete(s.subs, b)
	}
}

// unrefLocked drops a reference to s. When the last reference is dropped,
// the detached and attached buffers are released in that order and s is
// freed.
func (i *Instance) unrefLocked(s *Surface) {
	if s.freed {
		return
	}
	s.refs--
	if s.refs > 0 {
		return
	}
	if b := s.detached; b != nil {
		i.releaseLocked(s, b)
	}
	if b := s.attached; b != nil {
		i.releaseLocked(s, b)
	}
	for _, id := range s.frames {
		s.conn.deleteIDLocked(id)
	}
	s.frames = nil
	s.current = nil
	s.freed = true
	if i.sink != nil {
		i.sink.SurfaceDestroyed(s)
	}
	delete(i.surfaces, s.key)
	compMetrics.surfacesDestroyed.Add(1)
}

// destroyBufferLocked frees b at the request of its producer. Surfaces
// holding b drop it without a release.
func (i *Instance) destroyBufferLocked(b *Buffer) {
	if b.destroyed {
		return
	}
	b.destroyed = true
	subs := b.subs
	b.subs = nil
	for _, f := range subs {
		f(b.key)
	}
	b.holder = nil
	delete(i.buffers, b.key)
}
