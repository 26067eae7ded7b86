// SPDX-License-Identifier: MIT

/*
Package audio feeds multi-channel capture into the DOA pipeline.

Sources:
- WavSource loops a multi-channel WAV file
- PortAudioSource keeps the latest frame from a live input stream
- Tee records whatever another source produces to a WAV file

Thread Safety:
- Sources may be read from a stage goroutine while a capture callback writes
- The PortAudio callback locks its OS thread and never allocates
*/
package audio

import "errors"

var (
	ErrClosed      = errors.New("source closed")
	ErrFrameLayout = errors.New("frame lanes have different lengths")
)

// Source produces deinterleaved frames of float32 samples in [-1, 1).
type Source interface {
	// Channels returns the number of channels the source captures.
	Channels() int
	// ReadFrame fills every lane of dst with the next len(dst[0]) samples.
	// Lanes beyond Channels() are zeroed.
	ReadFrame(dst [][]float32) error
	Close() error
}

func frameLen(dst [][]float32) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	n := len(dst[0])
	for _, lane := range dst[1:] {
		if len(lane) != n {
			return 0, ErrFrameLayout
		}
	}
	return n, nil
}

func zero(lane []float32) {
	for i := range lane {
		lane[i] = 0
	}
}
