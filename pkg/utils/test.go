// SPDX-License-Identifier: MIT

// Package utils holds signal generators and fakes shared by tests.
package utils

import (
	"errors"
	"math"
	"sync"
)

// MockTransport records what it is sent instead of transmitting.
type MockTransport struct {
	mu       sync.Mutex
	messages []any
	closed   bool

	// CloseErr is returned by Close.
	CloseErr error
}

// Send stores the data for later inspection.
func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("mock transport closed")
	}
	m.messages = append(m.messages, data)
	return nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.CloseErr
}

// Messages returns a copy of everything sent so far.
func (m *MockTransport) Messages() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.messages...)
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GenerateSineWave returns size samples of a sine at frequency Hz.
func GenerateSineWave(size int, sampleRate, frequency, amplitude float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = float32(amplitude * math.Sin(2*math.Pi*frequency*t))
	}
	return buffer
}

// MultiChannelSine returns one identical sine lane per channel.
func MultiChannelSine(channels, size int, sampleRate, frequency, amplitude float64) [][]float32 {
	lanes := make([][]float32, channels)
	for ch := range lanes {
		lanes[ch] = GenerateSineWave(size, sampleRate, frequency, amplitude)
	}
	return lanes
}

// GenerateComplexTone returns an interleaved complex exponential that
// completes bin cycles over n points.
func GenerateComplexTone(n, bin int) []float32 {
	window := make([]float32, 2*n)
	for i := range n {
		phase := 2 * math.Pi * float64(bin) * float64(i) / float64(n)
		window[2*i] = float32(math.Cos(phase))
		window[2*i+1] = float32(math.Sin(phase))
	}
	return window
}

// Magnitudes returns |X[k]| for an interleaved complex spectrum.
func Magnitudes(interleaved []float32) []float64 {
	mags := make([]float64, len(interleaved)/2)
	for k := range mags {
		mags[k] = math.Hypot(float64(interleaved[2*k]), float64(interleaved[2*k+1]))
	}
	return mags
}

// FindPeakBin returns the index of the largest magnitude in [startBin, endBin].
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}
	if startBin < 0 {
		startBin = 0
	}
	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]
	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}
	return peakBin
}
