// Copyright (C) 2026 RDK Management. All Rights Reserved.

package wire_test

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rdkcmf/waymetric/wire"
	"github.com/rdkcmf/waymetric/wire/channel"
)

// local is a pair of in-memory connected peers.
type local struct {
	A, B *wire.Peer
}

func newLocal() *local {
	a2b, b2a := channel.Direct()
	return &local{A: wire.NewPeer().Start(a2b), B: wire.NewPeer().Start(b2a)}
}

func (l *local) Stop() error {
	aerr := l.A.Stop()
	berr := l.B.Stop()
	if aerr != nil {
		return aerr
	}
	return berr
}

func TestPeer(t *testing.T) {
	defer leaktest.Check(t)()

	loc := newLocal()
	defer func() {
		if err := loc.Stop(); err != nil {
			t.Errorf("Stopping peers: %v", err)
		}
		checkZero := func(m *expvar.Map, name string) {
			v := m.Get(name).(*expvar.Int).Value()
			if v != 0 {
				t.Errorf("Metric %q = %d, want 0", name, v)
			}
		}
		m := loc.A.Metrics()
		t.Logf("Metrics at exit: %v", m)

		checkZero(m, "calls_active")
		checkZero(m, "calls_pending")
	}()

	// The test cases send a string in the request that is parsed by
	// parseTestSpec (see below) to control what the handler returns.
	loc.A.Handle(100, func(ctx context.Context, req *wire.Request) ([]byte, error) {
		return parseTestSpec(ctx, string(req.Data))
	})

	tests := []struct {
		who    *wire.Peer     // peer originating the call
		method uint32         // method ID to call
		input  string         // input for parseTestSpec (generates response)
		want   *wire.Response // expected response
	}{
		{loc.B, 10, "n/a", &wire.Response{Code: wire.CodeUnknownMethod}},
		{loc.A, 20, "n/a", &wire.Response{Code: wire.CodeUnknownMethod}},
		{loc.A, 100, "n/a", &wire.Response{Code: wire.CodeUnknownMethod}},

		{loc.B, 100, "ok", &wire.Response{}},                        // success, empty data
		{loc.B, 100, "ok yay", &wire.Response{Data: []byte("yay")}}, // success, non-empty data

		{loc.B, 100, "error failure", &wire.Response{
			Code: wire.CodeServiceError,
			Data: wire.ErrorData{Message: "failure"}.Encode(),
		}}, // service error, default handling
		{loc.B, 100, "edata 17 hey stuff", &wire.Response{
			Code: wire.CodeServiceError,
			Data: wire.ErrorData{Code: 17, Message: "hey", Data: []byte("stuff")}.Encode(),
		}}, // service error, handler-provided code and data (by value)
		{loc.B, 100, "*edata 101 goober nonsense", &wire.Response{
			Code: wire.CodeServiceError,
			Data: wire.ErrorData{Code: 101, Message: "goober", Data: []byte("nonsense")}.Encode(),
		}}, // service error, handler-provided code and data (pointer)

		{loc.B, 100, "peer?", &wire.Response{Data: []byte("present")}}, // check context peer
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("method-%d-%s", test.method, test.input), func(t *testing.T) {
			ctx := context.Background()

			rsp, err := test.who.Call(ctx, test.method, []byte(test.input))
			if err != nil {
				if rsp != nil {
					t.Errorf("Call: got response %+v with error %v", rsp, err)
				}
				ce, ok := err.(*wire.CallError)
				if !ok {
					t.Fatalf("Call: got error %[1]T (%[1]v), want *CallError", err)
				}
				t.Logf("CallError: %v", ce)

				if ce.Err == nil {
					var ed wire.ErrorData
					if err := ed.Decode(ce.Response.Data); err != nil {
						t.Errorf("Decode response ErrorData: %v", err)
					} else if diff := cmp.Diff(ed, ce.ErrorData); diff != "" {
						t.Errorf("ErrorData (-got, +want):\n%s", diff)
					}
				}
				rsp = ce.Response
			}

			// Ignore the RequestID field, which we can't correctly predict, and
			// treat nil and empty as equivalent.
			ignoreID := cmpopts.IgnoreFields(*rsp, "RequestID")
			if diff := cmp.Diff(test.want, rsp, ignoreID, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Wrong response (-want, +got):\n%s", diff)
			}
		})
	}
}

func TestWildcard(t *testing.T) {
	defer leaktest.Check(t)()

	loc := newLocal()
	defer loc.Stop()

	ctx := context.Background()
	call := func(mid uint32, want string, fail bool) {
		t.Helper()

		rsp, err := loc.B.Call(ctx, mid, nil)
		if err != nil {
			if !fail {
				t.Errorf("Call %d: unexpected error: %v", mid, err)
			}
			return
		} else if fail {
			t.Errorf("Call %d: should have failed", mid)
		}
		if got := string(rsp.Data); got != want {
			t.Errorf("Call %d: got %q, want %q", mid, got, want)
		}
	}

	loc.A.
		Handle(0, func(context.Context, *wire.Request) ([]byte, error) {
			return []byte("wildcard"), nil
		}).
		Handle(1, func(context.Context, *wire.Request) ([]byte, error) {
			return []byte("designated"), nil
		})

	call(0, "wildcard", false)
	call(1, "designated", false)
	call(2, "wildcard", false)

	// Unregister the wildcard handler and try again.
	loc.A.Handle(0, nil)

	call(0, "", true)
	call(1, "designated", false)
	call(2, "?", true)
}

func TestCancellation(t *testing.T) {
	defer leaktest.Check(t)()

	loc := newLocal()
	defer loc.Stop()

	type packet struct {
		T wire.PacketType
		P string
	}

	var wg sync.WaitGroup
	wg.Add(3) // there are three packets exchanged below

	var apkt []packet
	loc.A.LogPackets(func(pkt wire.PacketInfo) {
		if !pkt.Sent {
			apkt = append(apkt, packet{T: pkt.Type, P: string(pkt.Payload)})
			wg.Done()
		}
	}).Handle(300, func(ctx context.Context, _ *wire.Request) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	var bpkt []packet
	loc.B.LogPackets(func(pkt wire.PacketInfo) {
		if !pkt.Sent {
			bpkt = append(bpkt, packet{T: pkt.Type, P: string(pkt.Payload)})
			wg.Done()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	rsp, err := loc.B.Call(ctx, 300, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Got %+v, %v; want %v", rsp, err, context.Canceled)
	}

	wg.Wait()

	// B should have sent a Request followed by a Cancellation.
	if diff := cmp.Diff([]packet{
		// Request(1, 300, nil)
		{T: wire.PacketRequest, P: "\x00\x00\x00\x01\x00\x00\x01\x2c"},
		// Cancel(1)
		{T: wire.PacketCancel, P: "\x00\x00\x00\x01"},
	}, apkt); diff != "" {
		t.Errorf("A packets (-want, +got):\n%s", diff)
	}

	// A should have replied with a cancellation Response for B's Request.
	if diff := cmp.Diff([]packet{
		// Response(1, CANCELED, nil)
		{T: wire.PacketResponse, P: "\x00\x00\x00\x01\x03"},
	}, bpkt); diff != "" {
		t.Errorf("B packets (-want, +got):\n%s", diff)
	}
}

func TestMessages(t *testing.T) {
	defer leaktest.Check(t)()

	loc := newLocal()
	defer loc.Stop()

	type msg struct {
		Object uint32
		Opcode uint16
		Args   string
	}
	var got []msg
	loc.A.HandleMessage(func(ctx context.Context, m *wire.Message) error {
		if wire.ContextPeer(ctx) != loc.A {
			t.Error("Message context does not carry the receiving peer")
		}
		got = append(got, msg{m.Object, m.Opcode, string(m.Args)})
		return nil
	})

	// A call is answered only after every message sent before it has been
	// handled, so the handler can report what it saw.
	loc.A.Handle(2, func(context.Context, *wire.Request) ([]byte, error) {
		return []byte(strconv.Itoa(len(got))), nil
	})

	const numMessages = 50
	var want []msg
	for i := range numMessages {
		m := msg{Object: uint32(i%7 + 1), Opcode: uint16(i % 3), Args: fmt.Sprintf("arg-%d", i)}
		want = append(want, m)
		if err := loc.B.Post(m.Object, m.Opcode, []byte(m.Args)); err != nil {
			t.Fatalf("Post %d: %v", i, err)
		}
	}
	rsp, err := loc.B.Call(context.Background(), 2, nil)
	if err != nil {
		t.Fatalf("Call sync: %v", err)
	}
	if n := string(rsp.Data); n != strconv.Itoa(numMessages) {
		t.Errorf("Sync saw %s messages, want %d", n, numMessages)
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Messages (-want, +got):\n%s", diff)
	}
}

func TestMessageFatal(t *testing.T) {
	defer leaktest.Check(t)()

	t.Run("HandlerError", func(t *testing.T) {
		loc := newLocal()
		loc.A.HandleMessage(func(context.Context, *wire.Message) error {
			return errors.New("bad object")
		})
		if err := loc.B.Post(5, 0, nil); err != nil {
			t.Fatalf("Post: %v", err)
		}
		mustErr(t, loc.A.Wait(), "bad object")
		loc.B.Wait()
	})

	t.Run("HandlerPanic", func(t *testing.T) {
		loc := newLocal()
		loc.A.HandleMessage(func(context.Context, *wire.Message) error {
			panic("whoops")
		})
		if err := loc.B.Post(5, 0, nil); err != nil {
			t.Fatalf("Post: %v", err)
		}
		mustErr(t, loc.A.Wait(), "panicked")
		loc.B.Wait()
	})

	t.Run("NoHandler", func(t *testing.T) {
		loc := newLocal()
		defer loc.Stop()
		if err := loc.B.Post(5, 0, nil); err != nil {
			t.Fatalf("Post: %v", err)
		}
		loc.A.Handle(1, func(context.Context, *wire.Request) ([]byte, error) { return nil, nil })
		if _, err := loc.B.Call(context.Background(), 1, nil); err != nil {
			t.Errorf("Call after dropped message: %v", err)
		}
	})
}

func TestProtocolFatal(t *testing.T) {
	defer leaktest.Check(t)()

	t.Run("BadMagic", func(t *testing.T) {
		tw, ch := rawChannel()
		p := wire.NewPeer().Start(ch)
		time.AfterFunc(time.Second, func() { p.Stop() })

		tw.Write([]byte{'X', 'M', 0, 2, 0, 0, 0, 0})
		mustErr(t, p.Wait(), "invalid packet magic")
	})

	t.Run("ShortHeader", func(t *testing.T) {
		tw, ch := rawChannel()
		p := wire.NewPeer().Start(ch)
		time.AfterFunc(time.Second, func() { p.Stop() })

		tw.Write([]byte{'W', 'M', 0, 2, 0, 0})
		tw.Close()
		mustErr(t, p.Wait(), "short packet header")
	})

	t.Run("ShortPayload", func(t *testing.T) {
		tw, ch := rawChannel()
		p := wire.NewPeer().Start(ch)
		time.AfterFunc(time.Second, func() { p.Stop() })

		tw.Write([]byte{'W', 'M', 0, 2, 0, 0, 0, 10, 'a', 'b', 'c', 'd'})
		tw.Close()
		mustErr(t, p.Wait(), "short payload")
	})

	t.Run("BadRequest", func(t *testing.T) {
		tw, ch := rawChannel()
		p := wire.NewPeer().Start(ch)
		time.AfterFunc(time.Second, func() { p.Stop() })

		tw.Write([]byte{'W', 'M', 0, 2, 0, 0, 0, 1, 'X'})
		mustErr(t, p.Wait(), "short request payload")
	})

	t.Run("BadMessage", func(t *testing.T) {
		tw, ch := rawChannel()
		p := wire.NewPeer().Start(ch)
		time.AfterFunc(time.Second, func() { p.Stop() })

		tw.Write([]byte{'W', 'M', 0, 128, 0, 0, 0, 2, 0, 1})
		mustErr(t, p.Wait(), "short message payload")
	})

	t.Run("BadResponse", func(t *testing.T) {
		tw, ch := rawChannel()
		p := wire.NewPeer().Start(ch)
		time.AfterFunc(time.Second, func() { p.Stop() })

		tw.Write(wire.Packet{
			Type: wire.PacketResponse,
			Payload: wire.Response{
				RequestID: 100,
				Code:      100,
			}.Encode(),
		}.Encode())
		mustErr(t, p.Wait(), "invalid result code")
	})
}

func TestOnExit(t *testing.T) {
	t.Run("CloseChannel", func(t *testing.T) {
		defer leaktest.Check(t)()

		loc := newLocal()
		defer loc.B.Wait()

		var cbCalled bool
		loc.A.OnExit(func(err error) {
			cbCalled = true
			if err != nil {
				t.Errorf("OnExit got an unexpected error: %v", err)
			}
		})

		time.AfterFunc(5*time.Millisecond, func() { loc.A.Stop() })

		if err := loc.A.Wait(); err != nil {
			t.Errorf("Wait: got %v, want nil", err)
		}
		if !cbCalled {
			t.Error("OnExit was not called")
		}
	})

	t.Run("BadPacket", func(t *testing.T) {
		defer leaktest.Check(t)()

		sr, cw := io.Pipe()
		_, sw := io.Pipe()
		srv := channel.IO(sr, sw)

		var cbCalled bool
		var cbErr error
		p := wire.NewPeer().OnExit(func(err error) {
			cbCalled = true
			cbErr = err
		}).Start(srv)

		cw.Write([]byte("WM\x00\x01\x00\x00\x00")) // short packet header
		cw.Close()

		if err := p.Wait(); err == nil {
			t.Error("Wait should have reported an error")
		}
		if !cbCalled {
			t.Error("OnExit was not called")
		} else if cbErr == nil {
			t.Error("OnExit should have reported an error")
		}
	})
}

func TestPostAfterStop(t *testing.T) {
	defer leaktest.Check(t)()

	loc := newLocal()
	if err := loc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := loc.A.Post(1, 0, nil); err == nil {
		t.Error("Post after stop: got nil, want error")
	}
	if rsp, err := loc.A.Call(context.Background(), 1, nil); err == nil {
		t.Errorf("Call after stop: got %v, want error", rsp)
	}
}

func TestRemoteStopDuringSend(t *testing.T) {
	defer leaktest.Check(t)()

	// A keeps its writer busy while B goes away, so A's receiver fails and
	// closes the channel under a Send in flight.
	for range 20 {
		loc := newLocal()
		for i := range 64 {
			loc.A.Post(1, uint16(i), nil)
		}
		if err := loc.B.Stop(); err != nil {
			t.Errorf("B Stop: %v", err)
		}
		if err := loc.A.Wait(); err != nil {
			t.Errorf("A Wait: %v", err)
		}
		if err := loc.A.Post(1, 0, nil); err == nil {
			t.Error("Post after remote stop: got nil, want error")
		}
	}
}

func TestContextPlumbing(t *testing.T) {
	defer leaktest.Check(t)()

	loc := newLocal()
	defer loc.Stop()

	type testKey struct{}
	loc.A.
		NewContext(func() context.Context {
			return context.WithValue(context.Background(), testKey{}, "ok")
		}).
		Handle(100, func(ctx context.Context, _ *wire.Request) ([]byte, error) {
			v, ok := ctx.Value(testKey{}).(string)
			if !ok || v != "ok" {
				t.Error("Base context was not correctly plumbed")
			}
			return nil, nil
		})

	if _, err := loc.B.Call(context.Background(), 100, nil); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
}

func TestCallback(t *testing.T) {
	defer leaktest.Check(t)()

	loc := newLocal()
	defer loc.Stop()

	const numCallbacks = 5

	caller := func(ctx context.Context, req *wire.Request) ([]byte, error) {
		peer := wire.ContextPeer(ctx)

		v, err := strconv.Atoi(string(req.Data))
		if err != nil {
			return nil, err
		} else if v == numCallbacks {
			return []byte("ok"), nil
		}
		rsp, err := peer.Call(ctx, req.MethodID, []byte(strconv.Itoa(v+1)))
		if err != nil {
			return nil, err
		}
		return rsp.Data, nil
	}

	// Each peer ping-pongs callbacks until the threshold has been reached,
	// then unwinds returning the result all the way back to the caller.
	loc.A.Handle(100, caller).LogPackets(logPacket(t, "Peer A"))
	loc.B.Handle(100, caller).LogPackets(logPacket(t, "Peer B"))

	rsp, err := loc.A.Call(context.Background(), 100, []byte("0"))
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	} else if got, want := string(rsp.Data), "ok"; got != want {
		t.Errorf("Call result: got %q, want %q", got, want)
	}
}

func TestConcurrency(t *testing.T) {
	defer leaktest.Check(t)()

	t.Run("Local", func(t *testing.T) {
		defer leaktest.Check(t)()

		loc := newLocal()
		defer loc.Stop()

		loc.A.Handle(100, slowEcho)
		loc.B.Handle(200, slowEcho)

		runConcurrent(t, loc.A, loc.B)
	})

	t.Run("Pipe", func(t *testing.T) {
		defer leaktest.Check(t)()

		ar, bw := io.Pipe()
		br, aw := io.Pipe()
		pa := wire.NewPeer().Start(channel.IO(ar, aw))
		pb := wire.NewPeer().Start(channel.IO(br, bw))
		defer func() {
			if err := pa.Stop(); err != nil {
				t.Errorf("A stop: %v", err)
			}
			if err := pb.Stop(); err != nil {
				t.Errorf("B stop: %v", err)
			}
		}()

		pa.Handle(100, slowEcho)
		pb.Handle(200, slowEcho)

		runConcurrent(t, pa, pb)
	})
}

func runConcurrent(t *testing.T, pa, pb *wire.Peer) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const numCalls = 128 // per peer

	calls := taskgroup.New(func(err error) error { cancel(); return err })
	for i := range numCalls {
		ab := fmt.Sprintf("ab-call-%d", i+1)
		calls.Go(func() error {
			rsp, err := pa.Call(ctx, 200, []byte(ab))
			if err != nil {
				return err
			} else if got := string(rsp.Data); got != ab {
				return fmt.Errorf("got %q, want %q", got, ab)
			}
			return nil
		})

		ba := fmt.Sprintf("ba-call-%d", i+1)
		calls.Go(func() error {
			rsp, err := pb.Call(ctx, 100, []byte(ba))
			if err != nil {
				return err
			} else if got := string(rsp.Data); got != ba {
				return fmt.Errorf("got %q, want %q", got, ba)
			}
			return nil
		})
	}
	if err := calls.Wait(); err != nil {
		t.Errorf("Calls: %v", err)
	}
}

func TestRegression(t *testing.T) {
	t.Run("ErrorDataSize", func(t *testing.T) {
		const input = "\x00\x01\x00\x04abc"

		var ed wire.ErrorData
		if err := ed.Decode([]byte(input)); err == nil {
			t.Errorf("ErrorData: got %#v, wanted error", ed)
		}
	})

	t.Run("PacketString", func(t *testing.T) {
		pkt := &wire.Packet{
			Type:    wire.PacketMessage,
			Payload: wire.Message{Object: 4, Opcode: 6}.Encode(),
		}
		if got := pkt.String(); !strings.Contains(got, "Message(Object=4, Op=6") {
			t.Errorf("String: got %q, want message rendering", got)
		}
	})
}

func rawChannel() (*io.PipeWriter, *channel.IOChannel) {
	pr, tw := io.Pipe()
	_, pw := io.Pipe()
	return tw, channel.IO(pr, pw)
}

func mustErr(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("Got nil, want %v", want)
	} else if !strings.Contains(err.Error(), want) {
		t.Fatalf("Got %v, want %v", err, want)
	}
}

func slowEcho(_ context.Context, req *wire.Request) ([]byte, error) {
	time.Sleep(time.Duration(rand.IntN(100)+50) * time.Microsecond) // "work"
	return req.Data, nil
}

// parseTestSpec parses a string giving test values to return from a method
// handler, and returns those values.
//
// Grammar:
//
//	ok text...        -- return text, nil
//	error ...         -- return nil, error(...)
//	edata c msg data  -- return nil, ErrorData{c, msg, data}
//	*edata c msg data -- return nil, &ErrorData{c, msg, data}
//	peer?             -- return x, nil where x == "present"/"absent"
//
// Any other value causes a panic.
func parseTestSpec(ctx context.Context, s string) ([]byte, error) {
	ps := strings.Fields(s)
	switch ps[0] {
	case "ok":
		if len(ps) == 1 {
			return nil, nil
		}
		return []byte(strings.Join(ps[1:], " ")), nil

	case "error":
		return nil, errors.New(strings.Join(ps[1:], " "))

	case "edata", "*edata":
		if len(ps) != 4 {
			break
		}
		c, err := strconv.ParseUint(ps[1], 10, 16)
		if err != nil {
			break
		}
		ed := wire.ErrorData{
			Code:    uint16(c),
			Message: ps[2],
			Data:    []byte(ps[3]),
		}
		if ps[0] == "*edata" {
			return nil, &ed
		}
		return nil, ed

	case "peer?":
		if len(ps) == 1 {
			if wire.ContextPeer(ctx) != nil {
				return []byte("present"), nil
			}
			return []byte("absent"), nil
		}
	}
	panic(fmt.Sprintf("Invalid test spec %q", s))
}

func logPacket(t *testing.T, tag string) wire.PacketLogger {
	return func(pkt wire.PacketInfo) {
		t.Logf("%s: %v", tag, pkt)
	}
}
