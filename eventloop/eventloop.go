// Copyright (C) 2026 RDK Management. All Rights Reserved.

// Package eventloop implements a single-goroutine work loop with timers.
//
// Each compositor instance owns one loop. Protocol dispatch, frame
// callbacks and timer callbacks all run on the loop goroutine, one at a time,
// so state owned by the loop needs no further synchronization among them.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/creachadair/mds/queue"
)

// ErrStopped is reported for work submitted to a loop that has stopped.
var ErrStopped = errors.New("event loop stopped")

// A Loop runs posted work in order on a single goroutine. Construct one with
// New and call Run to serve it.
type Loop struct {
	wake   chan struct{}
	exited chan struct{}

	μ       sync.Mutex
	q       *queue.Queue[func()]
	running bool
	stopped bool
}

// New constructs a new loop. The loop does not execute any work until Run is
// called.
func New() *Loop {
	return &Loop{
		wake:   make(chan struct{}, 1),
		exited: make(chan struct{}),
		q:      queue.New[func()](),
	}
}

// Run executes posted work until Stop is called or ctx ends. Work pending
// when the loop stops is discarded. Run may be called at most once; if the
// loop was already stopped it returns immediately.
func (l *Loop) Run(ctx context.Context) error {
	l.μ.Lock()
	if l.running {
		l.μ.Unlock()
		panic("event loop is already running")
	} else if l.stopped {
		l.μ.Unlock()
		return nil
	}
	l.running = true
	l.μ.Unlock()
	defer close(l.exited)

	for {
		l.μ.Lock()
		if l.stopped {
			l.q = queue.New[func()]()
			l.μ.Unlock()
			return nil
		}
		f, ok := l.q.Pop()
		l.μ.Unlock()

		if ok {
			f()
			continue
		}
		select {
		case <-l.wake:
		case <-ctx.Done():
			l.μ.Lock()
			l.stopped = true
			l.q = queue.New[func()]()
			l.μ.Unlock()
			return nil
		}
	}
}

// Stop stops the loop. It does not wait for the loop goroutine to exit; use
// Done for that. Stop is safe to call more than once and from the loop
// goroutine itself.
func (l *Loop) Stop() {
	l.μ.Lock()
	if l.stopped {
		l.μ.Unlock()
		return
	}
	l.stopped = true
	running := l.running
	l.μ.Unlock()

	if running {
		l.signal()
	} else {
		close(l.exited)
	}
}

// Done returns a channel that is closed once the loop has stopped and is no
// longer executing work.
func (l *Loop) Done() <-chan struct{} { return l.exited }

// Post adds f to the end of the work queue and returns without waiting.
func (l *Loop) Post(f func()) error {
	l.μ.Lock()
	defer l.μ.Unlock()
	if l.stopped {
		return ErrStopped
	}
	l.q.Add(f)
	l.signal()
	return nil
}

// Do adds f to the end of the work queue and blocks until it has run. If the
// loop stops before f runs, Do reports ErrStopped. Do must not be called from
// the loop goroutine.
func (l *Loop) Do(f func()) error {
	done := make(chan struct{})
	if err := l.Post(func() { defer close(done); f() }); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-l.exited:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Pending reports the number of queued work items.
func (l *Loop) Pending() int {
	l.μ.Lock()
	defer l.μ.Unlock()
	return l.q.Len()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// A Timer runs a function on the loop goroutine after a delay. A timer is
// disarmed when it is created and after it fires.
type Timer struct {
	loop *Loop
	f    func()

	μ   sync.Mutex
	t   *time.Timer
	gen uint64
}

// NewTimer creates a disarmed timer that runs f on l.
func (l *Loop) NewTimer(f func()) *Timer { return &Timer{loop: l, f: f} }

// Update arms t to fire once after d, replacing any earlier deadline. A
// duration ≤ 0 disarms the timer.
func (t *Timer) Update(d time.Duration) {
	t.μ.Lock()
	defer t.μ.Unlock()
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	t.gen++
	if d <= 0 {
		return
	}
	gen := t.gen
	t.t = time.AfterFunc(d, func() {
		t.loop.Post(func() {
			t.μ.Lock()
			live := t.gen == gen
			if live {
				t.t = nil
			}
			t.μ.Unlock()
			if live {
				t.f()
			}
		})
	})
}

// Armed reports whether t is waiting to fire.
func (t *Timer) Armed() bool {
	t.μ.Lock()
	defer t.μ.Unlock()
	return t.t != nil
}

// Remove disarms t.
func (t *Timer) Remove() { t.Update(0) }
