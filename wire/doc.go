// Copyright (C) 2026 RDK Management. All Rights Reserved.

// Package wire implements the framed packet protocol spoken between
// compositor instances and their clients.
//
// Peers exchange binary packets over a shared reliable channel, usually a
// unix-domain socket in the runtime directory. Each packet has a fixed 8-byte
// header followed by a payload whose layout depends on the packet type.
//
// # Peers
//
// The core type defined by this package is the [Peer]. Peers concurrently
// initiate and service calls with another peer over a [Channel], and exchange
// one-way messages addressed to protocol objects.
//
//	p := wire.NewPeer().Start(ch)
//	defer p.Stop()
//
// # Calls
//
// A call is a request and its matching response. Calls may propagate in
// either direction and are served concurrently:
//
//	p.Handle(methodSync, func(ctx context.Context, req *wire.Request) ([]byte, error) {
//	   return nil, nil
//	})
//	rsp, err := p.Call(ctx, methodSync, nil)
//
// Errors returned by p.Call have concrete type [*wire.CallError].
//
// # Messages
//
// A message names an object ID and an opcode. Messages are never answered.
// Inbound messages are handed to the [MessageHandler] one at a time, in the
// order the remote peer posted them, on the goroutine that reads the channel.
// This ordering is what lets a display server treat attach, damage, and commit
// as a sequence.
//
//	p.HandleMessage(func(ctx context.Context, m *wire.Message) error {
//	   return dispatch(m.Object, m.Opcode, m.Args)
//	})
//	p.Post(surfaceID, opCommit, nil)
//
// Outbound packets are queued and written by a dedicated goroutine, so Post
// and Call never block on the remote peer reading its channel.
//
// # Metrics
//
// Peers maintain counters while running; see [Peer.Metrics]. The exported
// metrics are packets_received, packets_sent, packets_dropped, calls_in,
// calls_in_failed, calls_active, calls_out, calls_out_failed, cancels_in,
// calls_pending, messages_in, and messages_out.
package wire
