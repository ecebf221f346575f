// Copyright (C) 2026 RDK Management. All Rights Reserved.

package repeater_test

import (
	"context"
	"errors"
	"expvar"
	"sync"
	"testing"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"github.com/rdkcmf/waymetric/client"
	"github.com/rdkcmf/waymetric/compositor"
	"github.com/rdkcmf/waymetric/protocol"
	"github.com/rdkcmf/waymetric/render"
	"github.com/rdkcmf/waymetric/repeater"
	"github.com/rdkcmf/waymetric/wire/channel"
)

// holdSink keeps every committed buffer in flight until the test releases
// it with Instance.Release.
type holdSink struct {
	μ    sync.Mutex
	bufs []*compositor.Buffer
}

func (h *holdSink) Commit(_ *compositor.Surface, b *compositor.Buffer) bool {
	h.μ.Lock()
	defer h.μ.Unlock()
	h.bufs = append(h.bufs, b)
	return true
}

func (*holdSink) SurfaceDestroyed(*compositor.Surface) {}

func (h *holdSink) held() []*compositor.Buffer {
	h.μ.Lock()
	defer h.μ.Unlock()
	return append([]*compositor.Buffer(nil), h.bufs...)
}

// chain is a downstream instance forwarding to an upstream instance.
type chain struct {
	t        *testing.T
	up, down *compositor.Instance
	upd      *client.Display // the repeater's connection to up
	rep      *repeater.Repeater
	tasks    *taskgroup.Group
}

func newChain(t *testing.T, upOpts compositor.Options, opts repeater.Options) (*chain, error) {
	t.Helper()
	c := &chain{
		t:     t,
		up:    compositor.New(upOpts),
		down:  compositor.New(compositor.Options{Name: "down"}),
		tasks: taskgroup.New(nil),
	}
	c.tasks.Go(func() error { return c.up.Run(context.Background()) })
	c.tasks.Go(func() error { return c.down.Run(context.Background()) })

	a, b := channel.Direct()
	if _, err := c.up.Serve(a); err != nil {
		t.Fatalf("Serve up: %v", err)
	}
	c.upd = client.NewDisplay(upOpts.Name, b)
	rep, err := repeater.Start(context.Background(), c.down, c.upd, opts)
	c.rep = rep
	return c, err
}

// connect opens a producer connection to the downstream instance.
func (c *chain) connect() *client.Display {
	c.t.Helper()
	a, b := channel.Direct()
	if _, err := c.down.Serve(a); err != nil {
		c.t.Fatalf("Serve down: %v", err)
	}
	return client.NewDisplay("down", b)
}

func (c *chain) close() {
	if c.rep != nil {
		c.rep.Stop()
	}
	if err := c.down.Destroy(); err != nil {
		c.t.Errorf("Destroy down: %v", err)
	}
	c.upd.Close()
	if err := c.up.Destroy(); err != nil {
		c.t.Errorf("Destroy up: %v", err)
	}
	c.tasks.Wait()
}

// releaseLog records the IDs of released buffers in order.
type releaseLog struct {
	μ   sync.Mutex
	ids []uint32
}

func (r *releaseLog) watch(b *client.Buffer) {
	b.OnRelease(func(b *client.Buffer) {
		r.μ.Lock()
		defer r.μ.Unlock()
		r.ids = append(r.ids, b.ID())
	})
}

func (r *releaseLog) get() []uint32 {
	r.μ.Lock()
	defer r.μ.Unlock()
	return append([]uint32(nil), r.ids...)
}

func mustSync(t *testing.T, ds ...*client.Display) {
	t.Helper()
	for _, d := range ds {
		if err := d.Sync(context.Background()); err != nil {
			t.Fatalf("Sync %s: %v", d.Name(), err)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNoClone(t *testing.T) {
	defer leaktest.Check(t)()

	c, err := newChain(t, compositor.Options{Name: "up", DisableClone: true}, repeater.Options{})
	defer c.close()
	if !errors.Is(err, client.ErrNoGlobal) {
		t.Fatalf("Start: got %v, want %v", err, client.ErrNoGlobal)
	}
	if c.down.Sink() != nil {
		t.Errorf("Downstream sink changed to %T", c.down.Sink())
	}
}

func TestReleaseOrder(t *testing.T) {
	defer leaktest.Check(t)()
	ctx := context.Background()

	// Commits upstream are held until the test lets them go, so the clones
	// are released only when the test says so.
	hold := new(holdSink)
	c, err := newChain(t, compositor.Options{Name: "up"}, repeater.Options{Refresh: time.Millisecond})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.close()
	c.up.SetSink(hold)
	if c.down.Sink() != c.rep {
		t.Fatalf("Downstream sink is %T, want the repeater", c.down.Sink())
	}

	d := c.connect()
	defer d.Close()
	comp, err := d.Compositor(ctx)
	if err != nil {
		t.Fatalf("Compositor: %v", err)
	}
	fac, err := d.BufferFactory(ctx)
	if err != nil {
		t.Fatalf("BufferFactory: %v", err)
	}
	surf, err := comp.CreateSurface()
	if err != nil {
		t.Fatalf("CreateSurface: %v", err)
	}
	var log releaseLog
	b1, _ := fac.CreateBuffer(320, 240, protocol.FormatRGBA, "b1")
	b2, _ := fac.CreateBuffer(320, 240, protocol.FormatRGBA, "b2")
	log.watch(b1)
	log.watch(b2)

	surf.Attach(b1, 0, 0)
	surf.Commit()
	surf.Attach(b2, 0, 0)
	surf.Commit()
	mustSync(t, d, c.upd)

	// Both frames were forwarded, and the mirror holds the clone of b2.
	waitFor(t, func() bool { return len(hold.held()) == 2 })
	k1 := compositor.Key{Conn: 1, ID: b1.ID()}
	if got := c.rep.InFlight(k1); got != 1 {
		t.Errorf("InFlight(b1): got %d, want 1", got)
	}

	// The downstream surface has let go of b1, but its clone is still in use
	// upstream, so b1 must not be released yet.
	if err := c.rep.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	mustSync(t, d)
	if got := log.get(); len(got) != 0 {
		t.Fatalf("Released %v before the clone was released", got)
	}
	if got := c.rep.Pending(); got != 0 {
		t.Errorf("Pending before any clone release: got %d, want 0", got)
	}

	// Release the clone of b1 upstream. The original follows.
	clone1 := hold.held()[0]
	if err := c.up.Loop().Do(func() {
		if !c.up.Release(clone1) {
			t.Error("Upstream release of the first clone was not sent")
		}
	}); err != nil {
		t.Fatalf("Upstream release: %v", err)
	}
	mustSync(t, c.upd)
	waitFor(t, func() bool { return c.rep.InFlight(k1) == 0 })
	if err := c.rep.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	mustSync(t, d)
	if diff := cmp.Diff(log.get(), []uint32{b1.ID()}); diff != "" {
		t.Errorf("Releases (-got, +want):\n%s", diff)
	}

	// Destroying the surface destroys its mirror, which releases the clone
	// of b2 and in turn b2.
	surf.Destroy()
	mustSync(t, d, c.upd)
	clone2 := hold.held()[1]
	c.up.Loop().Do(func() { c.up.Release(clone2) })
	mustSync(t, c.upd)
	waitFor(t, func() bool {
		mustSync(t, d)
		return len(log.get()) == 2
	})
	if diff := cmp.Diff(log.get(), []uint32{b1.ID(), b2.ID()}); diff != "" {
		t.Errorf("Releases (-got, +want):\n%s", diff)
	}
	if got := c.up.Stats().Surfaces; got != 0 {
		t.Errorf("Upstream has %d surfaces, want 0", got)
	}
	if got := c.rep.Pending(); got != 0 {
		t.Errorf("Pending after all releases: got %d, want 0", got)
	}
}

func TestForwardFailure(t *testing.T) {
	defer leaktest.Check(t)()
	ctx := context.Background()

	// The timer never fires during the test, so any release downstream comes
	// from the surface itself.
	c, err := newChain(t, compositor.Options{Name: "up"}, repeater.Options{Refresh: time.Hour})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.close()
	repeater.FailForward(c.rep, errors.New("link down"))

	d := c.connect()
	defer d.Close()
	comp, err := d.Compositor(ctx)
	if err != nil {
		t.Fatalf("Compositor: %v", err)
	}
	fac, err := d.BufferFactory(ctx)
	if err != nil {
		t.Fatalf("BufferFactory: %v", err)
	}
	surf, err := comp.CreateSurface()
	if err != nil {
		t.Fatalf("CreateSurface: %v", err)
	}
	var log releaseLog
	b1, _ := fac.CreateBuffer(64, 64, protocol.FormatRGBA, "b1")
	b2, _ := fac.CreateBuffer(64, 64, protocol.FormatRGBA, "b2")
	log.watch(b1)
	log.watch(b2)

	surf.Attach(b1, 0, 0)
	surf.Commit()
	mustSync(t, d, c.upd)

	// The clone of b1 was withdrawn and destroyed upstream.
	if got := c.rep.InFlight(compositor.Key{Conn: 1, ID: b1.ID()}); got != 0 {
		t.Errorf("InFlight(b1): got %d, want 0", got)
	}
	if got := c.up.Stats().Buffers; got != 0 {
		t.Errorf("Upstream has %d buffers, want 0", got)
	}

	// Replacing b1 releases it at once, as if it had never been forwarded.
	surf.Attach(b2, 0, 0)
	surf.Commit()
	mustSync(t, d)
	if diff := cmp.Diff(log.get(), []uint32{b1.ID()}); diff != "" {
		t.Errorf("Releases (-got, +want):\n%s", diff)
	}
	if got := c.rep.Pending(); got != 0 {
		t.Errorf("Pending: got %d, want 0", got)
	}
}

func TestForwardWindow(t *testing.T) {
	defer leaktest.Check(t)()
	ctx := context.Background()

	rctx, err := (&render.Soft{}).NewContext("up")
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	c, err := newChain(t, compositor.Options{Name: "up", Context: rctx}, repeater.Options{Refresh: time.Millisecond})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.close()

	d := c.connect()
	defer d.Close()
	w, err := client.NewWindow(ctx, d, client.WindowOptions{Width: 64, Height: 48})
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}

	sent := repeater.Metrics().Get("releases_sent").(*expvar.Int).Value()
	const frames = 30
	for i := range frames {
		if err := w.Present(); err != nil {
			t.Fatalf("Present %d: %v", i, err)
		}
	}
	mustSync(t, d, c.upd)
	if got := rctx.Stats().Imported; got == 0 {
		t.Error("No frames were imported upstream")
	}
	if got := repeater.Metrics().Get("releases_sent").(*expvar.Int).Value(); got <= sent {
		t.Errorf("No deferred releases were sent: %d before, %d after", sent, got)
	}

	if err := w.Destroy(); err != nil {
		t.Errorf("Destroy window: %v", err)
	}
	mustSync(t, d, c.upd)
	waitFor(t, func() bool { return c.up.Stats().Buffers == 0 })
}
