// Copyright (C) 2026 RDK Management. All Rights Reserved.

package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rdkcmf/waymetric/protocol"
)

// DefaultBuffers is the default length of the swap chain of a Window.
const DefaultBuffers = 3

// A Window presents frames on a surface through a chain of buffers.
//
// Each Present waits for the frame callback of the previous frame, takes a
// buffer the server has released, and attaches, damages and commits it. A
// Window satisfies the platform window and render presenter interfaces, so
// a rendering context can draw into it.
type Window struct {
	d      *Display
	surf   *Surface
	width  int
	height int
	bufs   []*Buffer

	free  chan *Buffer  // released buffers
	frame chan struct{} // previous frame displayed
}

// WindowOptions are the settings of a new Window.
type WindowOptions struct {
	Width, Height int
	Format        protocol.Format // default RGBA
	Buffers       int             // default DefaultBuffers
}

// NewWindow creates a surface and a chain of buffers on d, and returns a
// window presenting through them.
func NewWindow(ctx context.Context, d *Display, opts WindowOptions) (*Window, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid window size %dx%d", opts.Width, opts.Height)
	}
	if opts.Format == protocol.FormatNone {
		opts.Format = protocol.FormatRGBA
	}
	if opts.Buffers <= 0 {
		opts.Buffers = DefaultBuffers
	}
	comp, err := d.Compositor(ctx)
	if err != nil {
		return nil, err
	}
	fac, err := d.BufferFactory(ctx)
	if err != nil {
		return nil, err
	}
	surf, err := comp.CreateSurface()
	if err != nil {
		return nil, err
	}
	w := &Window{
		d:      d,
		surf:   surf,
		width:  opts.Width,
		height: opts.Height,
		free:   make(chan *Buffer, opts.Buffers),
		frame:  make(chan struct{}, 1),
	}
	for range opts.Buffers {
		b, err := fac.CreateBuffer(opts.Width, opts.Height, opts.Format, uuid.NewString())
		if err != nil {
			w.Destroy()
			return nil, err
		}
		b.OnRelease(func(b *Buffer) {
			select {
			case w.free <- b:
			default:
				logger.Warningf("%s: unexpected release of %v", d.name, b)
			}
		})
		w.bufs = append(w.bufs, b)
		w.free <- b
	}
	w.frame <- struct{}{}

	// Make sure the server accepted the surface and buffers.
	if err := d.Sync(ctx); err != nil {
		w.Destroy()
		return nil, err
	}
	if errs := d.Errors(); len(errs) != 0 {
		w.Destroy()
		return nil, fmt.Errorf("create window: %w", errs[0])
	}
	return w, nil
}

// Size reports the dimensions of the window.
func (w *Window) Size() (int, int) { return w.width, w.height }

// Surface returns the surface of the window.
func (w *Window) Surface() *Surface { return w.surf }

var errClosed = errors.New("display connection closed")

// Present commits the next frame. It blocks until the previous frame has
// been displayed and a buffer is free.
func (w *Window) Present() error {
	select {
	case <-w.frame:
	case <-w.d.Done():
		return errClosed
	}
	var b *Buffer
	select {
	case b = <-w.free:
	case <-w.d.Done():
		return errClosed
	}
	if err := w.surf.Attach(b, 0, 0); err != nil {
		return err
	}
	if err := w.surf.Damage(0, 0, w.width, w.height); err != nil {
		return err
	}
	if err := w.surf.Frame(func(uint32) { w.frame <- struct{}{} }); err != nil {
		return err
	}
	return w.surf.Commit()
}

// Destroy destroys the surface and buffers of the window.
func (w *Window) Destroy() error {
	err := w.surf.Destroy()
	for _, b := range w.bufs {
		if berr := b.Destroy(); err == nil {
			err = berr
		}
	}
	w.bufs = nil
	return err
}
