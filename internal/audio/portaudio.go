// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

// PortAudioConfig describes the input stream to open.
type PortAudioConfig struct {
	DeviceID        int
	Channels        int
	FramesPerBuffer int
	SampleRate      float64
	LowLatency      bool
}

// PortAudioSource captures from a PortAudio input device. ReadFrame returns
// the most recent callback buffer; frames arriving faster than they are read
// are overwritten. PortAudio must be initialized by the caller.
type PortAudioSource struct {
	config PortAudioConfig

	inputDevice  *portaudio.DeviceInfo
	inputLatency time.Duration
	inputStream  *portaudio.Stream
	inputBuffer  []int32 // callback scratch

	mu     sync.Mutex
	latest []int32 // interleaved, guarded by mu

	frames atomic.Uint64
}

var _ Source = (*PortAudioSource)(nil)

// NewPortAudioSource resolves the device and pre-allocates buffers.
func NewPortAudioSource(config PortAudioConfig) (*PortAudioSource, error) {
	if config.Channels <= 0 || config.FramesPerBuffer <= 0 {
		return nil, fmt.Errorf("invalid stream geometry: %d channels, %d frames", config.Channels, config.FramesPerBuffer)
	}
	inputDevice, err := InputDevice(config.DeviceID)
	if err != nil {
		return nil, err
	}
	if inputDevice.MaxInputChannels < config.Channels {
		return nil, fmt.Errorf("device %q has %d input channels, need %d", inputDevice.Name, inputDevice.MaxInputChannels, config.Channels)
	}

	size := config.FramesPerBuffer * config.Channels
	s := &PortAudioSource{
		config:      config,
		inputDevice: inputDevice,
		inputBuffer: make([]int32, size),
		latest:      make([]int32, size),
	}
	if config.LowLatency {
		s.inputLatency = inputDevice.DefaultLowInputLatency
	} else {
		s.inputLatency = inputDevice.DefaultHighInputLatency
	}
	return s, nil
}

func (s *PortAudioSource) Start() error {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: s.config.Channels,
			Device:   s.inputDevice,
			Latency:  s.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: s.config.FramesPerBuffer,
		SampleRate:      s.config.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, s.processInputStream)
	if err != nil {
		return err
	}
	s.inputStream = stream

	if err := s.inputStream.Start(); err != nil {
		s.inputStream.Close()
		s.inputStream = nil
		return err
	}
	return nil
}

// processInputStream is the capture callback.
// Performance Critical:
// - Runs in a dedicated OS thread (LockOSThread)
// - Uses pre-allocated buffers only
func (s *PortAudioSource) processInputStream(in []int32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	copy(s.inputBuffer, in)
	s.mu.Lock()
	copy(s.latest, s.inputBuffer)
	s.mu.Unlock()
	s.frames.Add(1)
}

// Callbacks returns how many buffers the device has delivered.
func (s *PortAudioSource) Callbacks() uint64 { return s.frames.Load() }

func (s *PortAudioSource) Channels() int { return s.config.Channels }

func (s *PortAudioSource) ReadFrame(dst [][]float32) error {
	n, err := frameLen(dst)
	if err != nil {
		return err
	}
	const scale = 1.0 / float64(math.MaxInt32+1)

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch, lane := range dst {
		if ch >= s.config.Channels {
			zero(lane)
			continue
		}
		for i := range n {
			if i >= s.config.FramesPerBuffer {
				lane[i] = 0
				continue
			}
			lane[i] = float32(float64(s.latest[i*s.config.Channels+ch]) * scale)
		}
	}
	return nil
}

func (s *PortAudioSource) Close() error {
	if s.inputStream == nil {
		return nil
	}
	if err := s.inputStream.Stop(); err != nil {
		return err
	}
	if err := s.inputStream.Close(); err != nil {
		return err
	}
	s.inputStream = nil
	return nil
}
