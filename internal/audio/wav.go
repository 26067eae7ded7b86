// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/go-audio/wav"
)

// WavSource replays a WAV file, looping at the end.
type WavSource struct {
	channels   int
	sampleRate int
	frames     int
	data       []float32 // interleaved

	mu     sync.Mutex
	pos    int // next frame
	closed bool
}

var _ Source = (*WavSource)(nil)

// OpenWav decodes the whole file into memory.
func OpenWav(path string) (*WavSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	channels := buf.Format.NumChannels
	if channels <= 0 {
		return nil, fmt.Errorf("%s: no channels", path)
	}
	frames := len(buf.Data) / channels
	if frames == 0 {
		return nil, fmt.Errorf("%s: no samples", path)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = int(dec.BitDepth)
	}
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	data := make([]float32, frames*channels)
	for i := range data {
		data[i] = float32(float64(buf.Data[i]) * scale)
	}

	return &WavSource{
		channels:   channels,
		sampleRate: buf.Format.SampleRate,
		frames:     frames,
		data:       data,
	}, nil
}

func (s *WavSource) Channels() int { return s.channels }

// SampleRate returns the file's sample rate in Hz.
func (s *WavSource) SampleRate() int { return s.sampleRate }

// Frames returns the number of frames in one pass over the file.
func (s *WavSource) Frames() int { return s.frames }

func (s *WavSource) ReadFrame(dst [][]float32) error {
	n, err := frameLen(dst)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	for ch, lane := range dst {
		if ch >= s.channels {
			zero(lane)
			continue
		}
		pos := s.pos
		for i := range n {
			lane[i] = s.data[pos*s.channels+ch]
			if pos++; pos == s.frames {
				pos = 0
			}
		}
	}
	s.pos = (s.pos + n) % s.frames
	return nil
}

func (s *WavSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("wav source already closed")
	}
	s.closed = true
	return nil
}
