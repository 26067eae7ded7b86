// SPDX-License-Identifier: MIT
package doa

import (
	"fmt"
	"sync"
)

// Capture geometry of the microphone array the pipeline was built for.
const (
	NumChannels     = 8
	FrameSize       = 128
	SampleRate      = 16000
	FramesPerSecond = SampleRate / FrameSize
	FFTLen          = 128
	// Step is one interleaved complex window, FFTLen (re, im) pairs.
	Step = FFTLen * 2
	// RingCapacity holds one second of windows per lane.
	RingCapacity = Step * FramesPerSecond
)

// Cursor is a write position in a Ring lane. Its position is always a
// multiple of the step in [0, capacity-step], so a full window starting at
// the cursor always fits in the lane.
type Cursor struct {
	pos   int
	step  int
	limit int // capacity - step
}

// NewCursor returns a cursor at 0. capacity must be a positive multiple of step.
func NewCursor(capacity, step int) (Cursor, error) {
	if step <= 0 || capacity < step || capacity%step != 0 {
		return Cursor{}, fmt.Errorf("ring capacity %d is not a positive multiple of step %d", capacity, step)
	}
	return Cursor{step: step, limit: capacity - step}, nil
}

// Pos returns the start of the current window.
func (c Cursor) Pos() int { return c.pos }

// Window returns the [lo, hi) bounds of the current window.
func (c Cursor) Window() (lo, hi int) { return c.pos, c.pos + c.step }

// Advance returns the cursor moved by one step, wrapping to 0 when the next
// window would run past the end of the lane.
func (c Cursor) Advance() Cursor {
	next := c.pos + c.step
	if next > c.limit {
		next = 0
	}
	c.pos = next
	return c
}

// Ring is a fixed multi-lane buffer of interleaved complex windows sharing a
// single write cursor. The writer mutates it only through Process; other
// readers copy out with CopyLatest and never alias lane memory.
type Ring struct {
	mu      sync.RWMutex
	lanes   [][]float32
	views   [][]float32 // window slices handed to Process callbacks
	cursor  Cursor
	last    int // start of the most recently processed window, -1 before the first
	windows uint64
}

// NewRing allocates channels lanes of capacity floats.
func NewRing(channels, capacity, step int) (*Ring, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("ring needs at least one channel, got %d", channels)
	}
	cursor, err := NewCursor(capacity, step)
	if err != nil {
		return nil, err
	}
	lanes := make([][]float32, channels)
	for i := range lanes {
		lanes[i] = make([]float32, capacity)
	}
	return &Ring{
		lanes:  lanes,
		views:  make([][]float32, channels),
		cursor: cursor,
		last:   -1,
	}, nil
}

func (r *Ring) Channels() int { return len(r.lanes) }
func (r *Ring) Capacity() int { return len(r.lanes[0]) }
func (r *Ring) Step() int     { return r.cursor.step }

// Cursor returns the current write position.
func (r *Ring) Cursor() Cursor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cursor
}

// Windows returns how many windows have been processed.
func (r *Ring) Windows() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.windows
}

// Process hands fn the window at the cursor in every lane, then advances the
// cursor whatever fn returns. fn must not retain the slices.
func (r *Ring) Process(fn func(windows [][]float32) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lo, hi := r.cursor.Window()
	for i, lane := range r.lanes {
		r.views[i] = lane[lo:hi:hi]
	}
	err := fn(r.views)
	for i := range r.views {
		r.views[i] = nil
	}

	r.last = lo
	r.windows++
	r.cursor = r.cursor.Advance()
	return err
}

// CopyLatest copies the most recently processed window of each lane into
// dst. Extra dst lanes are left alone and short lanes receive a prefix. It
// reports false when nothing has been processed yet.
func (r *Ring) CopyLatest(dst [][]float32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last < 0 {
		return false
	}
	for i := range min(len(dst), len(r.lanes)) {
		copy(dst[i], r.lanes[i][r.last:r.last+r.cursor.step])
	}
	return true
}
