// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc selects the analysis window applied to captured samples before
// the transform.
type WindowFunc int

const (
	Rectangular WindowFunc = iota
	BartlettHann
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Nuttall
)

func (w WindowFunc) String() string {
	switch w {
	case BartlettHann:
		return "bartletthann"
	case Blackman:
		return "blackman"
	case BlackmanNuttall:
		return "blackmannuttall"
	case Hann:
		return "hann"
	case Hamming:
		return "hamming"
	case Nuttall:
		return "nuttall"
	default:
		return "rectangular"
	}
}

// ParseWindowFunc converts a name (case-insensitive) to a WindowFunc. Unknown
// names return Hann and an error.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "rectangular", "none", "":
		return Rectangular, nil
	case "bartletthann":
		return BartlettHann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Hann, fmt.Errorf("unknown window function name: '%s'", name)
	}
}

// Coefficients returns n window coefficients.
func Coefficients(w WindowFunc, n int) []float64 {
	coeffs := make([]float64, n)
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch w {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	}
	return coeffs
}

// Window applies precomputed coefficients to an interleaved complex window.
type Window struct {
	coeffs []float32
}

// NewWindow precomputes n coefficients of the given function.
func NewWindow(w WindowFunc, n int) *Window {
	c64 := Coefficients(w, n)
	c := make([]float32, n)
	for i, v := range c64 {
		c[i] = float32(v)
	}
	return &Window{coeffs: c}
}

// Apply scales each complex point of an interleaved window in place. Points
// beyond the coefficient count are left untouched.
func (w *Window) Apply(interleaved []float32) {
	for i, c := range w.coeffs {
		if 2*i+1 >= len(interleaved) {
			return
		}
		interleaved[2*i] *= c
		interleaved[2*i+1] *= c
	}
}
