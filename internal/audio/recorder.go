// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// RecordBitDepth is the sample size of recorded files.
const RecordBitDepth = 16

// Recorder writes deinterleaved float frames to a PCM WAV file.
type Recorder struct {
	sampleRate int
	channels   int

	isRecording atomic.Bool
	mu          sync.Mutex
	outputFile  *os.File
	wavEncoder  *wav.Encoder
	sampleBuf   *audio.IntBuffer // Reusable buffer for format conversion
}

// NewRecorder returns an idle recorder for the given format.
func NewRecorder(sampleRate, channels int) *Recorder {
	return &Recorder{sampleRate: sampleRate, channels: channels}
}

// Recording reports whether a file is open.
func (r *Recorder) Recording() bool { return r.isRecording.Load() }

func (r *Recorder) StartRecording(filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isRecording.Load() {
		return fmt.Errorf("already recording")
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	r.outputFile = file
	r.wavEncoder = wav.NewEncoder(file, r.sampleRate, RecordBitDepth, r.channels, 1)
	r.sampleBuf = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: r.channels,
			SampleRate:  r.sampleRate,
		},
		SourceBitDepth: RecordBitDepth,
	}

	r.isRecording.Store(true)
	return nil
}

// WriteFrame interleaves frame and appends it to the file. Lanes beyond the
// recorder's channel count are ignored; missing lanes are written as silence.
func (r *Recorder) WriteFrame(frame [][]float32) error {
	if !r.isRecording.Load() {
		return nil
	}
	n, err := frameLen(frame)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wavEncoder == nil {
		return nil
	}

	size := n * r.channels
	if cap(r.sampleBuf.Data) < size {
		r.sampleBuf.Data = make([]int, size)
	}
	r.sampleBuf.Data = r.sampleBuf.Data[:size]

	const full = math.MaxInt16
	for i := range n {
		for ch := range r.channels {
			var v float32
			if ch < len(frame) {
				v = frame[ch][i]
			}
			v = max(-1, min(1, v))
			r.sampleBuf.Data[i*r.channels+ch] = int(v * full)
		}
	}
	return r.wavEncoder.Write(r.sampleBuf)
}

func (r *Recorder) StopRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isRecording.Load() {
		return nil
	}
	r.isRecording.Store(false)

	var errs []error
	if r.wavEncoder != nil {
		errs = append(errs, r.wavEncoder.Close())
		r.wavEncoder = nil
	}
	if r.outputFile != nil {
		errs = append(errs, r.outputFile.Close())
		r.outputFile = nil
	}
	return errors.Join(errs...)
}

// teeSource records every frame read from the wrapped source.
type teeSource struct {
	Source
	rec *Recorder
}

// Tee returns a Source that records what src produces. Closing it stops the
// recording and closes src.
func Tee(src Source, rec *Recorder) Source {
	return &teeSource{Source: src, rec: rec}
}

func (t *teeSource) ReadFrame(dst [][]float32) error {
	if err := t.Source.ReadFrame(dst); err != nil {
		return err
	}
	return t.rec.WriteFrame(dst)
}

func (t *teeSource) Close() error {
	return errors.Join(t.rec.StopRecording(), t.Source.Close())
}
