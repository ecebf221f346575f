// Copyright (C) 2026 RDK Management. All Rights Reserved.

// Package platform abstracts the native display and its windows.
package platform

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rdkcmf/waymetric/log"
)

var logger = log.New("platform")

// ErrNotInitialized is reported by an adapter that has not been initialized
// or has been terminated.
var ErrNotInitialized = errors.New("platform not initialized")

// A Window is a native window a renderer can draw into.
type Window interface {
	// Size reports the dimensions of the window in pixels.
	Size() (width, height int)
}

// An Adapter manages the native display of a platform.
type Adapter interface {
	// Init opens the native display.
	Init() error

	// DisplaySize reports the extent of the native display.
	DisplaySize() (width, height int)

	// CreateNativeWindow creates a window of the requested size, clamped to
	// the extent of the display.
	CreateNativeWindow(width, height int) (Window, error)

	// DestroyNativeWindow destroys a window created by the adapter.
	DestroyNativeWindow(Window) error

	// Terminate closes the native display. Windows still open are destroyed.
	Terminate() error
}

// Headless is an Adapter for a display that exists only in memory. The zero
// value is not ready for use; construct one with NewHeadless.
type Headless struct {
	width, height int

	μ      sync.Mutex
	init   bool
	nextID int
	live   map[int]*headlessWindow
}

// NewHeadless constructs a headless adapter with a display of the given size.
func NewHeadless(width, height int) *Headless {
	return &Headless{width: width, height: height}
}

// Init implements a method of the [Adapter] interface.
func (h *Headless) Init() error {
	h.μ.Lock()
	defer h.μ.Unlock()
	if h.width <= 0 || h.height <= 0 {
		return fmt.Errorf("invalid display size %dx%d", h.width, h.height)
	}
	h.init = true
	h.live = make(map[int]*headlessWindow)
	logger.Debugf("headless display size %dx%d", h.width, h.height)
	return nil
}

// DisplaySize implements a method of the [Adapter] interface.
func (h *Headless) DisplaySize() (int, int) { return h.width, h.height }

// CreateNativeWindow implements a method of the [Adapter] interface.
func (h *Headless) CreateNativeWindow(width, height int) (Window, error) {
	h.μ.Lock()
	defer h.μ.Unlock()
	if !h.init {
		return nil, ErrNotInitialized
	}
	h.nextID++
	w := &headlessWindow{
		id:     h.nextID,
		width:  min(width, h.width),
		height: min(height, h.height),
	}
	h.live[w.id] = w
	return w, nil
}

// DestroyNativeWindow implements a method of the [Adapter] interface.
func (h *Headless) DestroyNativeWindow(win Window) error {
	h.μ.Lock()
	defer h.μ.Unlock()
	w, ok := win.(*headlessWindow)
	if !ok || h.live[w.id] != w {
		return fmt.Errorf("window %v does not belong to this display", win)
	}
	delete(h.live, w.id)
	return nil
}

// Terminate implements a method of the [Adapter] interface.
func (h *Headless) Terminate() error {
	h.μ.Lock()
	defer h.μ.Unlock()
	if !h.init {
		return ErrNotInitialized
	}
	if n := len(h.live); n != 0 {
		logger.Warningf("terminating with %d windows open", n)
	}
	h.live = nil
	h.init = false
	return nil
}

// Windows reports the number of open windows.
func (h *Headless) Windows() int {
	h.μ.Lock()
	defer h.μ.Unlock()
	return len(h.live)
}

type headlessWindow struct {
	id            int
	width, height int
}

func (w *headlessWindow) Size() (int, int) { return w.width, w.height }

func (w *headlessWindow) String() string {
	return fmt.Sprintf("window %d (%dx%d)", w.id, w.width, w.height)
}
