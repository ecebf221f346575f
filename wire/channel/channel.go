// Copyright (C) 2026 RDK Management. All Rights Reserved.

// Package channel provides implementations of the wire.Channel interface.
package channel

import (
	"bufio"
	"io"
	"net"
	"sync"

	"github.com/rdkcmf/waymetric/wire"
)

// Direct constructs a connected pair of in-memory channels that pass packets
// directly without encoding into binary. Packets sent to A are received by B
// and vice versa. Close may be called concurrently with a blocked Send.
func Direct() (A, B wire.Channel) {
	a2b, b2a := newPipe(), newPipe()
	A = direct{out: a2b, in: b2a}
	B = direct{out: b2a, in: a2b}
	return
}

// A pipe carries packets in one direction. Closing it closes done, never c.
type pipe struct {
	c    chan *wire.Packet
	done chan struct{}
	once sync.Once
}

func newPipe() *pipe { return &pipe{c: make(chan *wire.Packet), done: make(chan struct{})} }

type direct struct {
	out, in *pipe
}

// Send implements a method of the [wire.Channel] interface.
func (d direct) Send(pkt *wire.Packet) error {
	select {
	case <-d.out.done:
		return net.ErrClosed
	default:
	}
	select {
	case d.out.c <- pkt:
		return nil
	case <-d.out.done:
		return net.ErrClosed
	}
}

// Recv implements a method of the [wire.Channel] interface.
func (d direct) Recv() (*wire.Packet, error) {
	select {
	case pkt := <-d.in.c:
		return pkt, nil
	case <-d.in.done:
		return nil, net.ErrClosed
	}
}

// Close implements a method of the [wire.Channel] interface.
func (d direct) Close() error {
	d.out.once.Do(func() { close(d.out.done) })
	return nil
}

// IO constructs a channel that receives from r and sends to wc.
func IO(r io.Reader, wc io.WriteCloser) *IOChannel {
	return &IOChannel{r: bufio.NewReader(r), w: bufio.NewWriter(wc), c: wc}
}

// An IOChannel sends and receives packets on a reader and a writer. Every
// packet is flushed as soon as it is written; messages are never batched.
type IOChannel struct {
	r *bufio.Reader

	μ sync.Mutex
	w *bufio.Writer
	c io.Closer
}

// Send implements a method of the [wire.Channel] interface.
func (c *IOChannel) Send(pkt *wire.Packet) error {
	c.μ.Lock()
	defer c.μ.Unlock()
	if _, err := pkt.WriteTo(c.w); err != nil {
		return err
	}
	return c.w.Flush()
}

// Recv implements a method of the [wire.Channel] interface.
func (c *IOChannel) Recv() (*wire.Packet, error) {
	var pkt wire.Packet
	if _, err := pkt.ReadFrom(c.r); err != nil {
		return nil, err
	}
	return &pkt, nil
}

// Close implements a method of the [wire.Channel] interface.
func (c *IOChannel) Close() error { return c.c.Close() }

// Dial connects to the unix socket at path and returns a channel for it.
func Dial(path string) (*IOChannel, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	return IO(conn, conn), nil
}
