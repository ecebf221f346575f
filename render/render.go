// Copyright (C) 2026 RDK Management. All Rights Reserved.

// Package render defines the graphics collaborator used by compositor
// instances and measuring clients, and a software implementation of it.
package render

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rdkcmf/waymetric/log"
	"github.com/rdkcmf/waymetric/platform"
	"github.com/rdkcmf/waymetric/protocol"
)

var logger = log.New("render")

// ErrUnavailable is reported when a rendering context or one of its
// resources cannot be created.
var ErrUnavailable = errors.New("renderer unavailable")

// An Image is a handle to an imported external image.
type Image uint32

// An ImageSource describes the pixel memory of an external image.
type ImageSource interface {
	Width() int
	Height() int
	Format() protocol.Format
	Storage() string
}

// A Presenter is a window that presents its own contents on swap, such as a
// window backed by a compositor surface. Windows that do not implement
// Presenter are paced by the display refresh.
type Presenter interface {
	Present() error
}

// A Renderer creates rendering contexts.
type Renderer interface {
	// NewContext creates a rendering context on the named display.
	NewContext(display string) (Context, error)
}

// A Context is a rendering context. A context is not safe for concurrent use
// by multiple goroutines unless otherwise noted.
type Context interface {
	// CreateWindowSurface creates the render target for the given window.
	CreateWindowSurface(platform.Window) error

	// MakeCurrent binds the context and its window surface.
	MakeCurrent() error

	// Clear fills the render target with a colour.
	Clear(r, g, b, a float32) error

	// Swap presents the render target.
	Swap() error

	// ImportImage imports one plane of src as a texture image.
	ImportImage(src ImageSource, plane int) (Image, error)

	// DestroyImage releases an image returned by ImportImage.
	DestroyImage(Image) error

	// Draw renders the given images, which together hold one frame of the
	// given format and size, into the render target.
	Draw(images []Image, format protocol.Format, width, height int) error

	// Stats reports resource counters. It is safe to call concurrently.
	Stats() Stats

	// Destroy releases the context and everything it owns.
	Destroy() error
}

// Stats records the resource usage of a context.
type Stats struct {
	Live      int // images currently imported
	Imported  int // total images imported
	Destroyed int // total images destroyed
	Draws     int
	Swaps     int
	Clears    int
}

// Soft is a Renderer that keeps all state in memory. Swaps on a window that
// does not present itself wait for one refresh interval.
type Soft struct {
	// VSync is the refresh interval a swap waits for. Zero means no wait.
	VSync time.Duration

	// Unavailable makes NewContext report ErrUnavailable.
	Unavailable bool

	// FailImport, if set, is consulted before each import; returning true
	// makes the import fail.
	FailImport func(src ImageSource, plane int) bool
}

// NewContext implements a method of the [Renderer] interface.
func (s *Soft) NewContext(display string) (Context, error) {
	if s.Unavailable {
		return nil, fmt.Errorf("context on %q: %w", display, ErrUnavailable)
	}
	logger.Debugf("new context on display %q", display)
	return &softContext{
		display: display,
		vsync:   s.VSync,
		fail:    s.FailImport,
		images:  make(map[Image]softImage),
	}, nil
}

type softImage struct {
	storage string
	plane   int
}

type softContext struct {
	display string
	vsync   time.Duration
	fail    func(ImageSource, int) bool

	μ         sync.Mutex
	window    platform.Window
	current   bool
	destroyed bool
	nextImage Image
	images    map[Image]softImage
	stats     Stats
}

var errDestroyed = errors.New("context destroyed")

func (c *softContext) CreateWindowSurface(w platform.Window) error {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.destroyed {
		return errDestroyed
	} else if w == nil {
		return fmt.Errorf("window surface: %w", ErrUnavailable)
	} else if c.window != nil {
		return errors.New("context already has a window surface")
	}
	c.window = w
	return nil
}

func (c *softContext) MakeCurrent() error {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.destroyed {
		return errDestroyed
	} else if c.window == nil {
		return errors.New("no window surface")
	}
	c.current = true
	return nil
}

func (c *softContext) Clear(r, g, b, a float32) error {
	c.μ.Lock()
	defer c.μ.Unlock()
	if err := c.checkCurrentLocked(); err != nil {
		return err
	}
	c.stats.Clears++
	return nil
}

func (c *softContext) Swap() error {
	c.μ.Lock()
	if err := c.checkCurrentLocked(); err != nil {
		c.μ.Unlock()
		return err
	}
	c.stats.Swaps++
	w := c.window
	c.μ.Unlock()

	if p, ok := w.(Presenter); ok {
		return p.Present()
	}
	if c.vsync > 0 {
		time.Sleep(c.vsync)
	}
	return nil
}

func (c *softContext) ImportImage(src ImageSource, plane int) (Image, error) {
	if plane < 0 || plane >= src.Format().Planes() {
		return 0, fmt.Errorf("import %v plane %d: no such plane", src.Format(), plane)
	}
	if c.fail != nil && c.fail(src, plane) {
		return 0, fmt.Errorf("import %q plane %d: %w", src.Storage(), plane, ErrUnavailable)
	}
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.destroyed {
		return 0, errDestroyed
	}
	c.nextImage++
	c.images[c.nextImage] = softImage{storage: src.Storage(), plane: plane}
	c.stats.Imported++
	c.stats.Live++
	return c.nextImage, nil
}

func (c *softContext) DestroyImage(img Image) error {
	c.μ.Lock()
	defer c.μ.Unlock()
	if _, ok := c.images[img]; !ok {
		return fmt.Errorf("image %d not found", img)
	}
	delete(c.images, img)
	c.stats.Destroyed++
	c.stats.Live--
	return nil
}

func (c *softContext) Draw(images []Image, format protocol.Format, width, height int) error {
	c.μ.Lock()
	defer c.μ.Unlock()
	if err := c.checkCurrentLocked(); err != nil {
		return err
	}
	if len(images) != format.Planes() {
		return fmt.Errorf("draw %v: got %d images, want %d", format, len(images), format.Planes())
	}
	for _, img := range images {
		if _, ok := c.images[img]; !ok {
			return fmt.Errorf("draw: image %d not found", img)
		}
	}
	c.stats.Draws++
	return nil
}

func (c *softContext) Stats() Stats {
	c.μ.Lock()
	defer c.μ.Unlock()
	return c.stats
}

func (c *softContext) Destroy() error {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.destroyed {
		return errDestroyed
	}
	if n := len(c.images); n != 0 {
		logger.Debugf("context %q destroyed with %d live images", c.display, n)
		c.stats.Destroyed += n
		c.stats.Live = 0
	}
	c.images = nil
	c.window = nil
	c.current = false
	c.destroyed = true
	return nil
}

func (c *softContext) checkCurrentLocked() error {
	if c.destroyed {
		return errDestroyed
	} else if !c.current {
		return errors.New("context is not current")
	}
	return nil
}
