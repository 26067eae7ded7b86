// SPDX-License-Identifier: MIT

// Package analysis computes signal measures from the spectra held in the
// capture ring.
package analysis

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Band is a frequency range in Hz, low inclusive and high exclusive.
type Band struct {
	LowHz  float64
	HighHz float64
}

// SpeechBand is the telephone voice band used by the energy gate.
var SpeechBand = Band{LowHz: 300, HighHz: 3400}

// BandEnergy measures the level of one band across all channels of a
// multi-channel interleaved complex spectrum. Not safe for concurrent use.
type BandEnergy struct {
	fftLen int
	lo, hi int // bin range [lo, hi)
	power  []float64
}

// NewBandEnergy maps band onto the positive bins of an fftLen-point spectrum
// sampled at sampleRate.
func NewBandEnergy(fftLen int, sampleRate float64, band Band) (*BandEnergy, error) {
	if fftLen < 2 {
		return nil, fmt.Errorf("fft length must be at least 2, got %d", fftLen)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}
	if band.LowHz < 0 || band.HighHz <= band.LowHz {
		return nil, fmt.Errorf("invalid band %.1f-%.1f Hz", band.LowHz, band.HighHz)
	}

	resolution := sampleRate / float64(fftLen)
	lo := int(math.Ceil(band.LowHz / resolution))
	hi := int(math.Ceil(band.HighHz / resolution))
	if hi > fftLen/2+1 {
		hi = fftLen/2 + 1
	}
	if lo >= hi {
		return nil, errors.New("band contains no bins at this resolution")
	}
	return &BandEnergy{
		fftLen: fftLen,
		lo:     lo,
		hi:     hi,
		power:  make([]float64, hi-lo),
	}, nil
}

// Bins returns the bin range [lo, hi) covered by the band.
func (b *BandEnergy) Bins() (lo, hi int) { return b.lo, b.hi }

// Level returns the RMS band magnitude averaged over channels and divided by
// the transform length, so full-scale content in every band bin reads 1.
// Result is clamped to [0, 1].
// Channels shorter than a full spectrum are skipped.
func (b *BandEnergy) Level(spectra [][]float32) float64 {
	var sum float64
	var counted int
	for _, ch := range spectra {
		if len(ch) < 2*b.fftLen {
			continue
		}
		for k := b.lo; k < b.hi; k++ {
			re, im := float64(ch[2*k]), float64(ch[2*k+1])
			b.power[k-b.lo] = re*re + im*im
		}
		sum += floats.Sum(b.power) / float64(len(b.power))
		counted++
	}
	if counted == 0 {
		return 0
	}
	level := math.Sqrt(sum/float64(counted)) / float64(b.fftLen)
	return math.Min(1.0, level)
}
