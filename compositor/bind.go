// Copyright (C) 2026 RDK Management. All Rights Reserved.

package compositor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"

	"github.com/creachadair/taskgroup"
	"github.com/rdkcmf/waymetric/wire"
	"github.com/rdkcmf/waymetric/wire/channel"
)

// Bind creates the listening socket of the instance in dir, named for the
// instance, and serves the connections made to it. If dir == "", the socket
// is created in the directory named by $XDG_RUNTIME_DIR.
func (i *Instance) Bind(dir string) error {
	if dir == "" {
		dir = os.Getenv("XDG_RUNTIME_DIR")
		if dir == "" {
			return errors.New("XDG_RUNTIME_DIR is not set")
		}
	}
	path := filepath.Join(dir, i.name)

	i.μ.Lock()
	defer i.μ.Unlock()
	if i.destroyed {
		return fmt.Errorf("instance %q is destroyed", i.name)
	} else if i.stopServe != nil {
		return fmt.Errorf("instance %q is already bound to %q", i.name, i.path)
	}

	// Remove a socket left behind by an earlier run.
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("bind %q: %w", i.name, err)
	}
	lst, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("bind %q: %w", i.name, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	i.path = path
	i.stopServe = cancel
	i.serving = taskgroup.Go(func() error {
		return i.acceptLoop(ctx, NetAccepter(lst))
	})
	logger.Infof("%s: listening at %q", i.name, path)
	return nil
}

// Path reports the path of the listening socket, or "" if the instance is
// not bound.
func (i *Instance) Path() string {
	i.μ.Lock()
	defer i.μ.Unlock()
	return i.path
}

// Unbind closes the listening socket and disconnects the clients that
// connected through it. The event loop must be running or stopped.
func (i *Instance) Unbind() error {
	i.μ.Lock()
	stop, serving, path := i.stopServe, i.serving, i.path
	i.stopServe, i.serving, i.path = nil, nil, ""
	i.μ.Unlock()
	if stop == nil {
		return fmt.Errorf("instance %q is not bound", i.name)
	}

	stop()
	err := serving.Wait()
	if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) && err == nil {
		err = rerr
	}
	logger.Infof("%s: unbound", i.name)
	return err
}

// An Accepter accepts client connections.
type Accepter interface {
	Accept(context.Context) (wire.Channel, error)
}

// acceptLoop accepts connections from acc and serves each one until acc
// closes or ctx ends. When ctx ends, all the connections it accepted are
// stopped. The loop waits for them to exit before returning.
func (i *Instance) acceptLoop(ctx context.Context, acc Accepter) error {
	g := taskgroup.New(nil)
	for {
		ch, err := acc.Accept(ctx)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				err = nil
			}
			g.Wait()
			return err
		}

		peer, err := i.Serve(ch)
		if err != nil {
			logger.Warningf("%s: %v", i.name, err)
			continue
		}
		g.Go(func() error {
			sctx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() { <-sctx.Done(); peer.Stop() }()
			return peer.Wait()
		})
	}
}

// NetAccepter adapts a net.Listener to the Accepter interface.
func NetAccepter(lst net.Listener) Accepter {
	return netAccepter{Listener: lst}
}

type netAccepter struct {
	net.Listener
}

func (n netAccepter) Accept(ctx context.Context) (wire.Channel, error) {
	// A net.Listener does not obey a context, so simulate it by closing the
	// listener if ctx ends. The ok channel allows the context watcher to clean
	// up when we return before ctx ends.
	ok := make(chan struct{})
	defer close(ok)
	taskgroup.Go(func() error {
		select {
		case <-ctx.Done():
			n.Listener.Close()
		case <-ok:
			// release the waiter
		}
		return nil
	})

	conn, err := n.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return channel.IO(conn, conn), nil
}
