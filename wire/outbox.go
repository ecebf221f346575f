// Copyright (C) 2026 RDK Management. All Rights Reserved.

package wire

import (
	"net"
	"sync"

	"github.com/creachadair/mds/queue"
)

// An outbox is the ordered queue of packets waiting to be written to the
// channel of a peer. Pushing never blocks on the remote peer, so an event
// loop may post to a client that is itself blocked posting to us.
type outbox struct {
	μ        sync.Mutex
	nonempty sync.Cond
	q        *queue.Queue[*Packet]
	ch       Channel
	closed   bool // no further pushes are accepted
	shut     bool // the channel has been closed
}

func (o *outbox) reset(ch Channel) {
	o.μ.Lock()
	defer o.μ.Unlock()
	o.nonempty.L = &o.μ
	o.q = queue.New[*Packet]()
	o.ch = ch
	o.closed = false
	o.shut = false
}

// push adds pkt to the end of the outbox. It reports net.ErrClosed if the
// outbox no longer accepts packets.
func (o *outbox) push(pkt *Packet) error {
	o.μ.Lock()
	defer o.μ.Unlock()
	if o.closed || o.ch == nil {
		return net.ErrClosed
	}
	o.q.Add(pkt)
	o.nonempty.Signal()
	return nil
}

// next blocks until a packet is available and returns it, or reports false
// once the outbox is closed and drained.
func (o *outbox) next() (*Packet, bool) {
	o.μ.Lock()
	defer o.μ.Unlock()
	for o.q.IsEmpty() && !o.closed {
		o.nonempty.Wait()
	}
	return o.q.Pop()
}

// drain stops accepting packets. Packets already queued are still delivered
// before the channel is closed by the writer.
func (o *outbox) drain() {
	o.μ.Lock()
	defer o.μ.Unlock()
	o.closed = true
	o.nonempty.Broadcast()
}

// abort discards queued packets and closes the channel immediately.
func (o *outbox) abort() {
	o.μ.Lock()
	o.closed = true
	if o.q != nil {
		o.q = queue.New[*Packet]()
	}
	o.nonempty.Broadcast()
	o.μ.Unlock()
	o.closeChannel()
}

// closeChannel closes the underlying channel exactly once.
func (o *outbox) closeChannel() {
	o.μ.Lock()
	ch, shut := o.ch, o.shut
	o.shut = true
	o.μ.Unlock()
	if ch != nil && !shut {
		ch.Close()
	}
}

// channel returns the current channel, or nil.
func (o *outbox) channel() Channel {
	o.μ.Lock()
	defer o.μ.Unlock()
	return o.ch
}
