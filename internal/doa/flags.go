// SPDX-License-Identifier: MIT
package doa

import (
	"sync"
	"sync/atomic"
)

// RunFlag is a stage's run condition. The controller sets it before spawning
// the stage and clears it once; Done lets a sleeping stage wake immediately.
type RunFlag struct {
	running atomic.Bool
	done    chan struct{}
	once    sync.Once
}

func newRunFlag() *RunFlag {
	return &RunFlag{done: make(chan struct{})}
}

// Set marks the stage as running. Only valid before the first Clear.
func (f *RunFlag) Set() {
	select {
	case <-f.done:
		return
	default:
		f.running.Store(true)
	}
}

// Clear stops the stage. Safe to call more than once.
func (f *RunFlag) Clear() {
	f.once.Do(func() {
		f.running.Store(false)
		close(f.done)
	})
}

func (f *RunFlag) Running() bool { return f.running.Load() }

// Done is closed by Clear.
func (f *RunFlag) Done() <-chan struct{} { return f.done }
