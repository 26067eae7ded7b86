// SPDX-License-Identifier: MIT
package doa

import (
	"sync"
	"sync/atomic"
)

// Gate is the shared open/closed signal between the rx stage (sole writer)
// and the inference stage (sole reader). It starts closed. Waiters block on
// Changed instead of polling.
type Gate struct {
	open        atomic.Bool
	transitions atomic.Uint64

	mu      sync.Mutex
	changed chan struct{}
}

func NewGate() *Gate {
	return &Gate{changed: make(chan struct{})}
}

// IsOpen reports the current state.
func (g *Gate) IsOpen() bool { return g.open.Load() }

// Set stores the state and reports whether it changed. Every change wakes
// the current Changed channel.
func (g *Gate) Set(open bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open.Load() == open {
		return false
	}
	g.open.Store(open)
	g.transitions.Add(1)
	close(g.changed)
	g.changed = make(chan struct{})
	return true
}

// Changed returns a channel closed at the next transition. Fetch it before
// checking IsOpen so a transition in between is not missed.
func (g *Gate) Changed() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.changed
}

// Transitions counts state changes since creation.
func (g *Gate) Transitions() uint64 { return g.transitions.Load() }
