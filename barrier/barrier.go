// Copyright (C) 2026 RDK Management. All Rights Reserved.

// Package barrier implements the readiness handshakes used to line up
// concurrently running roles and workers.
package barrier

import (
	"fmt"
	"sync"
)

// A Handshake is a one-shot readiness signal. The zero value is not ready for
// use; construct one with NewHandshake.
type Handshake struct {
	once sync.Once
	ch   chan struct{}
}

// NewHandshake constructs a new unsignalled handshake.
func NewHandshake() *Handshake { return &Handshake{ch: make(chan struct{})} }

// Signal marks h ready and wakes all waiters. Calls after the first have no
// effect.
func (h *Handshake) Signal() { h.once.Do(func() { close(h.ch) }) }

// Wait blocks until h is signalled. There is no timeout.
func (h *Handshake) Wait() { <-h.ch }

// Ready returns a channel that is closed when h is signalled.
func (h *Handshake) Ready() <-chan struct{} { return h.ch }

// Phased lines up a fixed set of workers through a fixed sequence of phases.
// Each worker arrives at a phase and blocks; the controller waits until every
// worker has arrived and then releases them all into the phase together.
type Phased struct {
	workers int
	phases  []*phase
}

type phase struct {
	μ       sync.Mutex
	arrived int
	all     *Handshake // every worker has arrived
	start   *Handshake // the controller released the phase
}

// NewPhased constructs a barrier for the given numbers of workers and phases.
// It panics if either is not positive.
func NewPhased(workers, phases int) *Phased {
	if workers <= 0 || phases <= 0 {
		panic(fmt.Sprintf("barrier: invalid size %d workers × %d phases", workers, phases))
	}
	p := &Phased{workers: workers, phases: make([]*phase, phases)}
	for i := range p.phases {
		p.phases[i] = &phase{all: NewHandshake(), start: NewHandshake()}
	}
	return p
}

// Workers reports the number of workers of p.
func (p *Phased) Workers() int { return p.workers }

// Phases reports the number of phases of p.
func (p *Phased) Phases() int { return len(p.phases) }

func (p *Phased) phase(n int) *phase {
	if n < 0 || n >= len(p.phases) {
		panic(fmt.Sprintf("barrier: phase %d out of range [0, %d)", n, len(p.phases)))
	}
	return p.phases[n]
}

// Arrive records that one worker is ready for phase n, and blocks until the
// controller releases the phase. It panics if more than the configured number
// of workers arrive at the same phase.
func (p *Phased) Arrive(n int) {
	ph := p.phase(n)
	ph.μ.Lock()
	if ph.arrived == p.workers {
		ph.μ.Unlock()
		panic(fmt.Sprintf("barrier: too many workers arrived at phase %d", n))
	}
	ph.arrived++
	if ph.arrived == p.workers {
		ph.all.Signal()
	}
	ph.μ.Unlock()
	ph.start.Wait()
}

// AwaitReady blocks until every worker has arrived at phase n.
func (p *Phased) AwaitReady(n int) { p.phase(n).all.Wait() }

// Release releases the workers waiting at phase n.
func (p *Phased) Release(n int) { p.phase(n).start.Signal() }

// Advance waits for every worker to arrive at phase n and then releases them.
func (p *Phased) Advance(n int) {
	p.AwaitReady(n)
	p.Release(n)
}
