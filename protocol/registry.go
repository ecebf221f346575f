// Copyright (C) 2026 RDK Management. All Rights Reserved.

package protocol

import (
	"context"
	"encoding/binary"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/rdkcmf/waymetric/wire"
	"github.com/rdkcmf/waymetric/wire/handler"
)

// A Global is an interface advertised by a compositor instance. Name is the
// numeric name a client passes to the display bind request.
type Global struct {
	Name    uint32
	Version uint32
}

// A Registry maps interface names to the globals advertised by a compositor
// instance. The zero value is an empty registry ready for use. A Registry is
// safe for concurrent use.
type Registry struct {
	μ       sync.Mutex
	globals map[string]Global
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry { return &Registry{globals: make(map[string]Global)} }

// Add advertises iface at the given version with a fresh positive name, and
// returns r to allow chaining. If iface is already present its version is
// updated and it keeps its name.
//
// Names are assigned systematically, so that repeating the same sequence of
// Add calls always results in the same names.
func (r *Registry) Add(iface string, version uint32) *Registry {
	r.μ.Lock()
	defer r.μ.Unlock()
	if r.globals == nil {
		r.globals = make(map[string]Global)
	}
	if g, ok := r.globals[iface]; ok {
		g.Version = version
		r.globals[iface] = g
		return r
	}
	var last uint32
	for _, g := range r.globals {
		last = max(last, g.Name)
	}
	r.globals[iface] = Global{Name: last + 1, Version: version}
	return r
}

// Lookup reports the global advertised for iface, if any.
func (r *Registry) Lookup(iface string) (Global, bool) {
	r.μ.Lock()
	defer r.μ.Unlock()
	g, ok := r.globals[iface]
	return g, ok
}

// Interface returns the interface name bound to the given global name, or "".
func (r *Registry) Interface(name uint32) string {
	r.μ.Lock()
	defer r.μ.Unlock()
	for iface, g := range r.globals {
		if g.Name == name {
			return iface
		}
	}
	return ""
}

// Globals returns a copy of the contents of r.
func (r *Registry) Globals() map[string]Global {
	r.μ.Lock()
	defer r.μ.Unlock()
	return maps.Clone(r.globals)
}

// Len reports the number of globals in r.
func (r *Registry) Len() int {
	r.μ.Lock()
	defer r.μ.Unlock()
	return len(r.globals)
}

// Encode encodes r in binary format.
//
// The wire format comprises the interface names of all globals in
// lexicographic order, followed by the corresponding globals in the reverse
// order of the names.
//
// Each name is encoded as a big-endian uint16 length followed by that many
// bytes of the name. Each global is encoded as its name and version, each a
// big-endian uint32.
func (r *Registry) Encode() []byte {
	r.μ.Lock()
	defer r.μ.Unlock()
	if len(r.globals) == 0 {
		return nil
	}
	var nlen int
	names := make([]string, 0, len(r.globals))
	for name := range r.globals {
		names = append(names, name)
		nlen += 2 + len(name) // +2 for length tag
	}
	slices.Sort(names)
	buf := make([]byte, nlen+8*len(r.globals))
	npos, gpos := 0, len(buf)
	putName := func(s string) {
		binary.BigEndian.PutUint16(buf[npos:], uint16(len(s)))
		npos += 2
		npos += copy(buf[npos:], s)
	}
	putGlobal := func(g Global) {
		gpos -= 8
		binary.BigEndian.PutUint32(buf[gpos:], g.Name)
		binary.BigEndian.PutUint32(buf[gpos+4:], g.Version)
	}

	for _, name := range names {
		putName(name)
		putGlobal(r.globals[name])
	}
	return buf
}

// Decode decodes data as a Registry payload, replacing the contents of r.
func (r *Registry) Decode(data []byte) error {
	r.μ.Lock()
	defer r.μ.Unlock()
	if r.globals == nil {
		r.globals = make(map[string]Global)
	} else {
		clear(r.globals)
	}
	npos, gpos := 0, len(data)
	for {
		if npos == gpos {
			break
		} else if npos+2 > len(data) || npos > gpos {
			return fmt.Errorf("truncated registry at offset %d", npos)
		}

		nlen := int(binary.BigEndian.Uint16(data[npos:]))
		npos += 2
		if npos+nlen > len(data) {
			return fmt.Errorf("truncated name at offset %d", npos)
		}

		gpos -= 8
		if gpos < npos+nlen {
			return fmt.Errorf("truncated global at offset %d", gpos)
		}
		r.globals[string(data[npos:npos+nlen])] = Global{
			Name:    binary.BigEndian.Uint32(data[gpos:]),
			Version: binary.BigEndian.Uint32(data[gpos+4:]),
		}
		npos += nlen
	}
	return nil
}

// MarshalBinary implements the encoding.BinaryMarshaler interface.
func (r *Registry) MarshalBinary() ([]byte, error) { return r.Encode(), nil }

// Handler returns a wire.Handler that reports the contents of the registry.
func (r *Registry) Handler() wire.Handler {
	return handler.ResultError(func(context.Context) (*Registry, error) { return r, nil })
}
