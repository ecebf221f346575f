// Copyright (C) 2026 RDK Management. All Rights Reserved.

// Package protocol defines the objects, opcodes, and argument encodings of
// the display protocol spoken between compositor instances and clients.
//
// Every connection starts with the display object (ID 1). A client lists the
// globals advertised by the server with the registry call, binds the ones it
// needs, and creates further objects with IDs it allocates itself. Requests
// from the client and events from the server are one-way messages; calls are
// reserved for the few exchanges that need an answer.
package protocol

import (
	"fmt"
	"os"
	"path/filepath"
)

// DisplayID is the object ID of the display object on every connection.
const DisplayID = 1

// Method IDs for calls.
const (
	MethodRegistry = 1 // list globals; reply is an encoded Registry
	MethodSync     = 2 // roundtrip; answered after earlier messages are handled
	MethodClone    = 3 // clone a buffer into this namespace (CloneRequest → CloneReply)
)

// Global interface names advertised in the registry.
const (
	Compositor    = "compositor"
	BufferFactory = "buffer_factory"
	Clone         = "clone"
)

// CompositorVersion is the version of the compositor global.
const CompositorVersion = 3

// Display requests and events.
const (
	DisplayBind = 0 // global-name u32, new-id u32

	DisplayError    = 0 // object u32, code u32, message string
	DisplayDeleteID = 1 // id u32
)

// Compositor requests.
const (
	CompositorCreateSurface = 0 // new-id u32
	CompositorCreateRegion  = 1 // new-id u32
)

// BufferFactory requests.
const (
	FactoryCreateBuffer = 0 // see CreateBuffer
)

// Surface requests.
const (
	SurfaceDestroy            = 0
	SurfaceAttach             = 1 // buffer u32, x i32, y i32
	SurfaceDamage             = 2 // x, y, width, height i32
	SurfaceFrame              = 3 // new-id u32
	SurfaceSetOpaqueRegion    = 4 // region u32
	SurfaceSetInputRegion     = 5 // region u32
	SurfaceCommit             = 6
	SurfaceSetBufferTransform = 7 // transform i32
	SurfaceSetBufferScale     = 8 // scale i32
)

// Buffer requests and events.
const (
	BufferDestroy = 0
	BufferRelease = 0
)

// Callback events.
const (
	CallbackDone = 0 // time-ms u32
)

// ErrorCode is carried by display error events.
type ErrorCode uint32

const (
	ErrInvalidObject ErrorCode = 0
	ErrInvalidMethod ErrorCode = 1
	ErrNoMemory      ErrorCode = 2
	ErrBusyBuffer    ErrorCode = 3
)

func (c ErrorCode) String() string {
	switch c {
	case ErrInvalidObject:
		return "invalid_object"
	case ErrInvalidMethod:
		return "invalid_method"
	case ErrNoMemory:
		return "no_memory"
	case ErrBusyBuffer:
		return "busy_buffer"
	default:
		return fmt.Sprintf("error code %d", uint32(c))
	}
}

// SocketPath returns the path of the listening socket for the named display,
// in the directory given by $XDG_RUNTIME_DIR or, if that is unset, the
// system temporary directory.
func SocketPath(name string) string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, name)
}
