// SPDX-License-Identifier: MIT

// Package fft provides the per-channel complex transform run by the Tx stage.
// Windows are interleaved float32 (re, im, re, im, ...) and are transformed in
// place, the layout the capture ring stores.
package fft

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"

	"doa/pkg/bitint"
)

var ErrWindowLength = errors.New("window length does not match transform size")

// Complex is a forward complex FFT of a fixed power-of-two length. It owns a
// scratch buffer, so a single Complex must not be shared between goroutines.
type Complex struct {
	n   int
	fft *fourier.CmplxFFT
	buf []complex128
}

// NewComplex returns a transform over n complex points (2n floats).
func NewComplex(n int) (*Complex, error) {
	if !bitint.IsPowerOfTwo(n) {
		return nil, fmt.Errorf("fft length must be a power of 2, got %d", n)
	}
	return &Complex{
		n:   n,
		fft: fourier.NewCmplxFFT(n),
		buf: make([]complex128, n),
	}, nil
}

// Len returns the number of complex points.
func (c *Complex) Len() int { return c.n }

// Transform replaces window with its spectrum. len(window) must be 2*Len().
// Performance critical: no allocations.
func (c *Complex) Transform(window []float32) error {
	if len(window) != 2*c.n {
		return ErrWindowLength
	}
	for i := range c.n {
		c.buf[i] = complex(float64(window[2*i]), float64(window[2*i+1]))
	}
	c.fft.Coefficients(c.buf, c.buf)
	for i, v := range c.buf {
		window[2*i] = float32(real(v))
		window[2*i+1] = float32(imag(v))
	}
	return nil
}

// Freq returns the centre frequency in Hz of bin i. Bins above n/2 map to
// negative frequencies.
func (c *Complex) Freq(i int, sampleRate float64) float64 {
	if i < 0 || i >= c.n {
		return 0
	}
	return c.fft.Freq(i) * sampleRate
}
