// Copyright (C) 2026 RDK Management. All Rights Reserved.

package wire

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
)

// A Channel is a reliable ordered stream of packets shared by two peers.
//
// The methods of an implementation must be safe for concurrent use by one
// sender and one receiver.
type Channel interface {
	// Send the packet in binary format to the receiver.
	Send(*Packet) error

	// Receive the next available packet from the channel.
	Recv() (*Packet, error)

	// Close the channel, causing any pending send or receive operations to
	// terminate and report an error. After a channel is closed, all further
	// operations on it must report an error.
	Close() error
}

// A Handler processes a request from the remote peer. A handler can obtain
// the peer from its context argument using the ContextPeer helper.
//
// By default, the error reported by a handler is returned to the caller with
// error code 0 and the text of the error as its message. A handler may return
// a value of concrete type ErrorData or *ErrorData to control the error code,
// message, and auxiliary error data.
type Handler func(context.Context, *Request) ([]byte, error)

// A MessageHandler processes a one-way message from the remote peer. Message
// handlers run synchronously with the receipt of packets, so messages are
// handled one at a time in the order they were sent. Any error reported by a
// message handler is protocol fatal.
type MessageHandler func(context.Context, *Message) error

// A PacketLogger logs a packet exchanged with the remote peer.
type PacketLogger func(pkt PacketInfo)

// A PacketInfo combines a packet and a flag indicating whether the packet was
// sent or received.
type PacketInfo struct {
	*Packet      // the packet being logged
	Sent    bool // whether the packet was sent (true) or received (false)
}

func (p PacketInfo) String() string {
	if p.Sent {
		return fmt.Sprintf("send %v", p.Packet)
	}
	return fmt.Sprintf("recv %v", p.Packet)
}

// A Peer is one end of a protocol connection. A zero-valued Peer is ready for
// use, but must not be copied after any method has been called.
//
// Call Start with a channel to start the service routines for the peer. Once
// started, a peer runs until Stop is called, the channel closes, or a protocol
// fatal error occurs. Use Wait to wait for the peer to exit and report its
// status.
//
// Peers exchange two kinds of traffic. Calls are request/response exchanges
// that may propagate in either direction; inbound calls are served
// concurrently. Messages are one-way and addressed to an object; inbound
// messages are handled in order on the receive goroutine.
type Peer struct {
	in    interface{ Recv() (*Packet, error) }
	out   outbox
	tasks *taskgroup.Group

	μ sync.Mutex

	err    error                  // protocol fatal error
	ocall  map[uint32]pending     // outbound calls pending responses
	nexto  uint32                 // next unused outbound call ID
	icall  map[uint32]func()      // requestID → cancel func
	imux   map[uint32]Handler     // methodID → handler
	mh     MessageHandler         // inbound messages
	plog   PacketLogger           // what it says on the tin
	base   func() context.Context // return a new base context
	onExit func(error)
	exited bool
}

// NewPeer constructs a new unstarted peer.
func NewPeer() *Peer { return new(Peer) }

// Start starts the peer running on the given channel. Start does not block;
// call Wait to wait for the peer to exit and report its status.
func (p *Peer) Start(ch Channel) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	if p.in != nil {
		panic("peer is already started")
	}

	g := taskgroup.New(nil)
	p.in = ch
	p.tasks = g
	p.out.reset(ch)
	p.err = nil
	p.exited = false
	p.ocall = make(map[uint32]pending)
	p.nexto = 0
	p.icall = make(map[uint32]func())
	if p.base == nil {
		p.base = context.Background
	}

	// Receiver: dispatch inbound packets in order.
	g.Go(func() error {
		for {
			pkt, err := ch.Recv()
			if err != nil {
				p.fail(err)
				return nil
			}
			wireMetrics.packetRecv.Add(1)
			if err := p.dispatchPacket(pkt); err != nil {
				p.fail(err)
				return nil
			}
		}
	})

	// Writer: deliver queued outbound packets in order.
	g.Go(func() error {
		defer p.out.closeChannel()
		for {
			pkt, ok := p.out.next()
			if !ok {
				return nil
			}
			if log := p.packetLogger(); log != nil {
				log(PacketInfo{Packet: pkt, Sent: true})
			}
			wireMetrics.packetSent.Add(1)
			if err := ch.Send(pkt); err != nil {
				p.fail(err)
				return nil
			}
		}
	})

	return p
}

// Metrics returns the metrics map shared by all peers. It is safe for the
// caller to add additional metrics to the map while the peer is active.
func (p *Peer) Metrics() *expvar.Map { return wireMetrics.emap }

// Stop closes the channel and terminates the peer. Packets already queued
// for sending are delivered first. Stop blocks until the peer has exited and
// returns its status.
func (p *Peer) Stop() error { p.out.drain(); return p.Wait() }

func treatErrorAsSuccess(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// Wait blocks until p terminates and reports the error that caused it to
// stop. After Wait completes it is safe to restart the peer with a new
// channel.
//
// If p is not running, or has stopped because of a closed channel, Wait
// returns nil; otherwise it returns the error that triggered protocol failure.
func (p *Peer) Wait() error {
	p.μ.Lock()
	t := p.tasks
	p.μ.Unlock()
	if t == nil {
		return nil // the peer is not running
	}
	t.Wait()

	p.μ.Lock()
	defer p.μ.Unlock()
	p.in = nil
	p.tasks = nil
	p.ocall = nil
	p.icall = nil

	if treatErrorAsSuccess(p.err) {
		return nil
	}
	return p.err
}

// Post sends a one-way message to the remote peer, addressed to object and
// selecting opcode. The message is queued behind any packets already sent by
// p and written as soon as the channel accepts it. Post does not wait for the
// remote peer to process the message.
func (p *Peer) Post(object uint32, opcode uint16, args []byte) error {
	if err := p.checkErr(); err != nil {
		return err
	}
	wireMetrics.msgOut.Add(1)
	return p.out.push(&Packet{
		Type:    PacketMessage,
		Payload: Message{Object: object, Opcode: opcode, Args: args}.Encode(),
	})
}

// Call sends a call to the remote peer for the specified method and data, and
// blocks until ctx ends or until the response is received. If ctx ends before
// the peer replies, the call is cancelled. An error reported by Call has
// concrete type *CallError.
func (p *Peer) Call(ctx context.Context, method uint32, data []byte) (_ *Response, err error) {
	wireMetrics.callOut.Add(1)
	defer func() {
		if err != nil {
			wireMetrics.callOutErr.Add(1)
		}
	}()

	id, pc, err := p.sendReq(method, data)
	if err != nil {
		return nil, callError(err)
	}
	wireMetrics.callPending.Add(1)
	defer wireMetrics.callPending.Add(-1)

	done := ctx.Done()
	for {
		select {
		case <-done:
			// Push a cancellation to the peer, then resume waiting for the
			// response. Setting done to nil keeps us from recurring here.
			p.sendCancel(id)
			done = nil

			// Make sure the call eventually gives up even if the peer never
			// replies. The ID stays pinned so it is not reused while the
			// remote peer may still be holding it.
			ct := time.AfterFunc(50*time.Millisecond, func() {
				p.μ.Lock()
				defer p.μ.Unlock()
				if pc, ok := p.ocall[id]; ok {
					p.ocall[id] = nil
					pc.deliver(&Response{RequestID: id, Code: CodeCanceled})
				}
			})
			defer ct.Stop()
			continue

		case rsp, ok := <-pc:
			if ok {
				if rsp.Code == CodeSuccess {
					return rsp, nil
				} else if rsp.Code == CodeCanceled {
					return nil, &CallError{Err: context.Canceled, Response: rsp}
				}
				ce := &CallError{Response: rsp}
				if err := ce.ErrorData.Decode(rsp.Data); err != nil {
					ce.Message = err.Error()
				}
				return nil, ce
			}

			// Closed without a response means there was a protocol fatal error.
			p.μ.Lock()
			perr := p.err
			p.μ.Unlock()
			return nil, callError(fmt.Errorf("call terminated: %w", perr))
		}
	}
}

// resultCoder is an extension interface an error may implement to override
// the result code reported for the error.
type resultCoder interface{ ResultCode() ResultCode }

// Handle registers a handler for the specified method ID. It is safe to call
// this while the peer is running. Passing a nil Handler removes any handler
// for the specified ID. Handle returns p to permit chaining.
//
// As a special case, if methodID == 0 the handler is called for any request
// with a method ID that does not have a more specific handler registered.
func (p *Peer) Handle(methodID uint32, handler Handler) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	if p.imux == nil {
		p.imux = make(map[uint32]Handler)
	}
	if handler == nil {
		delete(p.imux, methodID)
	} else {
		p.imux[methodID] = handler
	}
	return p
}

// HandleMessage registers the handler for inbound one-way messages. Passing
// nil discards inbound messages. It returns p to permit chaining.
func (p *Peer) HandleMessage(handler MessageHandler) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.mh = handler
	return p
}

// LogPackets registers a callback that will be invoked for each packet
// exchanged with the remote peer, regardless of type, including packets to
// be discarded. Passing nil disables packet logging.
func (p *Peer) LogPackets(log PacketLogger) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.plog = log
	return p
}

// OnExit registers a callback to be invoked when the peer terminates. The
// callback is executed synchronously during shutdown, with the same error
// value that would be reported by the Wait method.
func (p *Peer) OnExit(f func(error)) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.onExit = f
	return p
}

// NewContext registers a function that will be called to create a new base
// context for method and message handlers. If it is not set a background
// context is used.
func (p *Peer) NewContext(base func() context.Context) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	if base == nil {
		p.base = context.Background
	} else {
		p.base = base
	}
	return p
}

func (p *Peer) packetLogger() PacketLogger {
	p.μ.Lock()
	defer p.μ.Unlock()
	return p.plog
}

func (p *Peer) checkErr() error {
	p.μ.Lock()
	defer p.μ.Unlock()
	return p.err
}

// fail terminates all pending calls and records the failure status. Only the
// first failure is kept.
func (p *Peer) fail(err error) {
	p.out.abort()

	p.μ.Lock()
	defer p.μ.Unlock()

	for _, pc := range p.ocall {
		pc.close()
	}
	p.ocall = nil
	for _, stop := range p.icall {
		stop()
	}
	p.icall = nil

	if p.err == nil {
		p.err = err
	}
	if p.onExit != nil && !p.exited {
		p.exited = true
		if treatErrorAsSuccess(err) {
			err = nil
		}
		p.onExit(err)
	}
}

func (p *Peer) sendRsp(rsp *Response) {
	p.μ.Lock()
	delete(p.icall, rsp.RequestID)
	err := p.err
	p.μ.Unlock()

	if err != nil {
		return
	}
	p.out.push(&Packet{Type: PacketResponse, Payload: rsp.Encode()})
}

// sendReq queues a request packet for the given method and data. The
// response will be delivered on the returned pending channel.
func (p *Peer) sendReq(method uint32, data []byte) (uint32, pending, error) {
	p.μ.Lock()
	defer p.μ.Unlock()
	if err := p.err; err != nil {
		return 0, nil, err
	} else if p.ocall == nil {
		return 0, nil, net.ErrClosed
	}
	p.nexto++
	id := p.nexto
	pc := make(pending, 1)
	p.ocall[id] = pc

	// The outbox never blocks, so it is safe to push under the state lock.
	if err := p.out.push(&Packet{
		Type:    PacketRequest,
		Payload: Request{RequestID: id, MethodID: method, Data: data}.Encode(),
	}); err != nil {
		p.releaseIDLocked(id)
		return 0, nil, err
	}
	return id, pc, nil
}

func (p *Peer) sendCancel(id uint32) {
	p.out.push(&Packet{Type: PacketCancel, Payload: Cancel{RequestID: id}.Encode()})
}

// dispatchRequestLocked dispatches an inbound request to its handler. It
// reports an error back to the caller for duplicate request ID or unknown
// method.
func (p *Peer) dispatchRequestLocked(req *Request) error {
	wireMetrics.callIn.Add(1)

	if _, ok := p.icall[req.RequestID]; ok {
		wireMetrics.callInErr.Add(1)
		return p.out.push(&Packet{
			Type:    PacketResponse,
			Payload: Response{RequestID: req.RequestID, Code: CodeDuplicateID}.Encode(),
		})
	}

	handler, ok := p.imux[req.MethodID]
	if !ok {
		const wildcardID = 0
		if wc, ok := p.imux[wildcardID]; ok {
			handler = wc
		} else {
			wireMetrics.callInErr.Add(1)
			return p.out.push(&Packet{
				Type:    PacketResponse,
				Payload: Response{RequestID: req.RequestID, Code: CodeUnknownMethod}.Encode(),
			})
		}
	}

	pctx := context.WithValue(p.base(), peerContextKey{}, p)
	ctx, cancel := context.WithCancel(pctx)
	p.icall[req.RequestID] = cancel
	wireMetrics.callActive.Add(1)

	p.tasks.Go(func() error {
		defer cancel()
		defer wireMetrics.callActive.Add(-1)

		data, err := func() (_ []byte, err error) {
			defer func() {
				if x := recover(); x != nil && err == nil {
					err = fmt.Errorf("handler panicked (recovered): %v", x)
				}
			}()
			return handler(ctx, req)
		}()

		rsp := &Response{RequestID: req.RequestID}
		if ctx.Err() != nil || err == context.Canceled || err == context.DeadlineExceeded {
			rsp.Code = CodeCanceled
		} else if err == nil {
			rsp.Code = CodeSuccess
			rsp.Data = data
		} else if rc, ok := err.(resultCoder); ok {
			rsp.Code = rc.ResultCode()
			rsp.Data = data
		} else if ed, ok := err.(*ErrorData); ok {
			rsp.Code = CodeServiceError
			rsp.Data = ed.Encode()
		} else if ed, ok := err.(ErrorData); ok {
			rsp.Code = CodeServiceError
			rsp.Data = ed.Encode()
		} else {
			rsp.Code = CodeServiceError
			rsp.Data = ErrorData{Message: err.Error()}.Encode()
		}
		if rsp.Code != CodeSuccess {
			wireMetrics.callInErr.Add(1)
		}
		p.sendRsp(rsp)
		return nil
	})
	return nil
}

// dispatchPacket routes an inbound packet from the remote peer.
// Any error it reports is protocol fatal.
func (p *Peer) dispatchPacket(pkt *Packet) error {
	if log := p.packetLogger(); log != nil {
		log(PacketInfo{Packet: pkt, Sent: false})
	}
	switch pkt.Type {
	case PacketRequest:
		var req Request
		if err := req.Decode(pkt.Payload); err != nil {
			return fmt.Errorf("invalid request packet: %w", err)
		}
		p.μ.Lock()
		defer p.μ.Unlock()
		return p.dispatchRequestLocked(&req)

	case PacketCancel:
		var req Cancel
		if err := req.Decode(pkt.Payload); err != nil {
			return fmt.Errorf("invalid cancel packet: %w", err)
		}
		wireMetrics.cancelIn.Add(1)
		p.μ.Lock()
		defer p.μ.Unlock()
		if stop, ok := p.icall[req.RequestID]; ok {
			stop()
		}
		return nil

	case PacketResponse:
		var rsp Response
		if err := rsp.Decode(pkt.Payload); err != nil {
			return fmt.Errorf("invalid response packet: %w", err)
		}
		p.μ.Lock()
		defer p.μ.Unlock()

		pc, ok := p.ocall[rsp.RequestID]
		if !ok {
			return nil // discard response for unknown request ID
		}
		p.releaseIDLocked(rsp.RequestID)
		pc.deliver(&rsp) // does not block

	case PacketMessage:
		var msg Message
		if err := msg.Decode(pkt.Payload); err != nil {
			return fmt.Errorf("invalid message packet: %w", err)
		}
		wireMetrics.msgIn.Add(1)
		p.μ.Lock()
		handler, base := p.mh, p.base
		p.μ.Unlock()
		if handler == nil {
			wireMetrics.packetDropped.Add(1)
			return nil
		}

		pctx := context.WithValue(base(), peerContextKey{}, p)
		return func() (err error) {
			defer func() {
				if x := recover(); x != nil && err == nil {
					err = fmt.Errorf("message handler panicked (recovered): %v", x)
				}
			}()
			return handler(pctx, &msg)
		}()

	default:
		wireMetrics.packetDropped.Add(1)
	}
	return nil
}

// releaseIDLocked releases the call state for the outbound request id.
func (p *Peer) releaseIDLocked(id uint32) {
	delete(p.ocall, id)
	if len(p.ocall) == 0 {
		p.nexto = 0
	}
}

type pending chan *Response

func (p pending) close() {
	if p != nil {
		close(p)
	}
}

func (p pending) deliver(r *Response) {
	if p != nil {
		p <- r
		close(p)
	}
}

func callError(err error) *CallError { return &CallError{Err: err} }

// CallError is the concrete type of errors reported by the Call method of a
// Peer. For service errors, the Err field is nil and the ErrorData contains
// the error details. For errors arising from a response, the Response field
// contains the complete response message.
type CallError struct {
	ErrorData
	Err      error     // nil for service errors
	Response *Response // set if the error came from a call response
}

// Unwrap reports the underlying error of c. If c.Err == nil, this is nil.
func (c *CallError) Unwrap() error { return c.Err }

// Error satisfies the error interface.
func (c *CallError) Error() string {
	if c.Err != nil {
		return c.Err.Error()
	} else if c.Response.Code == CodeServiceError {
		return fmt.Sprintf("service error: %v", c.ErrorData.Error())
	}
	return fmt.Sprintf("request %d: %s", c.Response.RequestID, c.Response.Code.String())
}

type peerContextKey struct{}

// ContextPeer returns the Peer associated with the given context, or nil if
// none is defined. The context passed to handlers has this value.
func ContextPeer(ctx context.Context) *Peer {
	if v := ctx.Value(peerContextKey{}); v != nil {
		return v.(*Peer)
	}
	return nil
}
