// Copyright (C) 2026 RDK Management. All Rights Reserved.

package protocol

import (
	"fmt"

	"github.com/rdkcmf/waymetric/wire/packet"
)

// Bind is the argument list of the display bind request.
type Bind struct {
	Name  uint32 // global name from the registry
	NewID uint32
}

func (b Bind) MarshalBinary() ([]byte, error) {
	var buf packet.Builder
	return buf.Uint32(b.Name).Uint32(b.NewID).Bytes(), nil
}

func (b *Bind) UnmarshalBinary(data []byte) error {
	r := newReader(data)
	b.Name, b.NewID = r.uint32(), r.uint32()
	return r.done("bind")
}

// NewID is the argument list of requests whose only argument is the ID of an
// object to create, such as create_surface and frame.
type NewID struct {
	ID uint32
}

func (n NewID) MarshalBinary() ([]byte, error) {
	var buf packet.Builder
	return buf.Uint32(n.ID).Bytes(), nil
}

func (n *NewID) UnmarshalBinary(data []byte) error {
	r := newReader(data)
	n.ID = r.uint32()
	return r.done("new id")
}

// CreateBuffer is the argument list of the buffer factory create_buffer
// request. Storage names the shared pixel memory backing the buffer.
type CreateBuffer struct {
	NewID   uint32
	Width   int32
	Height  int32
	Format  Format
	Storage string
}

func (c CreateBuffer) MarshalBinary() ([]byte, error) {
	var buf packet.Builder
	return buf.Uint32(c.NewID).Int32(c.Width).Int32(c.Height).
		Uint32(uint32(c.Format)).Text(c.Storage).Bytes(), nil
}

func (c *CreateBuffer) UnmarshalBinary(data []byte) error {
	r := newReader(data)
	c.NewID = r.uint32()
	c.Width, c.Height = r.int32(), r.int32()
	c.Format = Format(r.uint32())
	c.Storage = r.text()
	return r.done("create buffer")
}

// Attach is the argument list of the surface attach request. A Buffer of 0
// detaches the current buffer. The offsets are accepted and ignored.
type Attach struct {
	Buffer uint32
	X, Y   int32
}

func (a Attach) MarshalBinary() ([]byte, error) {
	var buf packet.Builder
	return buf.Uint32(a.Buffer).Int32(a.X).Int32(a.Y).Bytes(), nil
}

func (a *Attach) UnmarshalBinary(data []byte) error {
	r := newReader(data)
	a.Buffer = r.uint32()
	a.X, a.Y = r.int32(), r.int32()
	return r.done("attach")
}

// Damage is the argument list of the surface damage request.
type Damage struct {
	X, Y, Width, Height int32
}

func (d Damage) MarshalBinary() ([]byte, error) {
	var buf packet.Builder
	return buf.Int32(d.X).Int32(d.Y).Int32(d.Width).Int32(d.Height).Bytes(), nil
}

func (d *Damage) UnmarshalBinary(data []byte) error {
	r := newReader(data)
	d.X, d.Y, d.Width, d.Height = r.int32(), r.int32(), r.int32(), r.int32()
	return r.done("damage")
}

// ErrorEvent is the argument list of the display error event.
type ErrorEvent struct {
	Object  uint32
	Code    ErrorCode
	Message string
}

func (e ErrorEvent) MarshalBinary() ([]byte, error) {
	var buf packet.Builder
	return buf.Uint32(e.Object).Uint32(uint32(e.Code)).Text(e.Message).Bytes(), nil
}

func (e *ErrorEvent) UnmarshalBinary(data []byte) error {
	r := newReader(data)
	e.Object = r.uint32()
	e.Code = ErrorCode(r.uint32())
	e.Message = r.text()
	return r.done("error event")
}

// Error satisfies the error interface.
func (e ErrorEvent) Error() string {
	return fmt.Sprintf("object %d: %v: %s", e.Object, e.Code, e.Message)
}

// Done is the argument list of the callback done event.
type Done struct {
	Time uint32 // milliseconds
}

func (d Done) MarshalBinary() ([]byte, error) {
	var buf packet.Builder
	return buf.Uint32(d.Time).Bytes(), nil
}

func (d *Done) UnmarshalBinary(data []byte) error {
	r := newReader(data)
	d.Time = r.uint32()
	return r.done("done")
}

// CloneRequest is the parameter of the clone call. It asks the server to
// create a buffer with the given ID that shares the storage of a buffer owned
// by another instance.
type CloneRequest struct {
	NewID   uint32
	Width   int32
	Height  int32
	Format  Format
	Storage string
}

func (c CloneRequest) MarshalBinary() ([]byte, error) {
	return CreateBuffer(c).MarshalBinary()
}

func (c *CloneRequest) UnmarshalBinary(data []byte) error {
	return (*CreateBuffer)(c).UnmarshalBinary(data)
}

// CloneReply is the result of the clone call, reporting the dimensions of
// the clone as seen by the server.
type CloneReply struct {
	Width  int32
	Height int32
}

func (c CloneReply) MarshalBinary() ([]byte, error) {
	var buf packet.Builder
	return buf.Int32(c.Width).Int32(c.Height).Bytes(), nil
}

func (c *CloneReply) UnmarshalBinary(data []byte) error {
	r := newReader(data)
	c.Width, c.Height = r.int32(), r.int32()
	return r.done("clone reply")
}

// A reader wraps a packet.Scanner and keeps the first error it reports, so
// that argument lists can be decoded without checking each field.
type reader struct {
	s   *packet.Scanner
	err error
}

func newReader(data []byte) *reader { return &reader{s: packet.NewScanner(data)} }

func (r *reader) uint32() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.s.Uint32()
	r.err = err
	return v
}

func (r *reader) int32() int32 {
	if r.err != nil {
		return 0
	}
	v, err := r.s.Int32()
	r.err = err
	return v
}

func (r *reader) text() string {
	if r.err != nil {
		return ""
	}
	v, err := r.s.Text()
	r.err = err
	return v
}

// done reports the first decoding error, or an error if input remains.
func (r *reader) done(what string) error {
	if r.err != nil {
		return fmt.Errorf("decode %s: %w", what, r.err)
	} else if n := r.s.Len(); n != 0 {
		return fmt.Errorf("decode %s: %d extra bytes at offset %d", what, n, r.s.Offset())
	}
	return nil
}
