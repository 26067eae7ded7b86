// SPDX-License-Identifier: MIT
package doa

import (
	"time"

	"doa/internal/analysis"
	"doa/internal/audio"
	"doa/internal/fft"
	applog "doa/internal/log"
)

// Transform is the per-channel spectral transform, applied in place to one
// interleaved complex window.
type Transform interface {
	Transform(window []float32) error
}

// TransformFactory builds one Transform per channel.
type TransformFactory func(fftLen int) (Transform, error)

// ComplexFFT is the default TransformFactory.
func ComplexFFT(fftLen int) (Transform, error) {
	return fft.NewComplex(fftLen)
}

// txStage runs the transform over every lane at a fixed cadence.
type txStage struct {
	ring       *Ring
	transforms []Transform
	source     audio.Source // optional
	window     *analysis.Window
	frame      [][]float32 // capture scratch, one lane per channel
	interval   time.Duration
	flag       *RunFlag
	log        *applog.Logger

	readErrs uint64
}

func newTxStage(ring *Ring, transforms []Transform, source audio.Source, window *analysis.Window, interval time.Duration, flag *RunFlag) *txStage {
	s := &txStage{
		ring:       ring,
		transforms: transforms,
		source:     source,
		window:     window,
		interval:   interval,
		flag:       flag,
		log:        applog.Named("tx"),
	}
	if source != nil {
		s.frame = make([][]float32, ring.Channels())
		for i := range s.frame {
			s.frame[i] = make([]float32, ring.Step()/2)
		}
	}
	return s
}

func (s *txStage) run() {
	s.log.Infof("Tx stage started (interval %s)", s.interval)
	defer s.log.Infof("Tx stage ending")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for s.flag.Running() {
		if err := s.ring.Process(s.processWindows); err != nil {
			s.log.Errorf("transform failed: %v", err)
		}
		select {
		case <-ticker.C:
		case <-s.flag.Done():
			return
		}
	}
}

// processWindows fills each lane from the source, when there is one, and
// transforms it in place.
func (s *txStage) processWindows(windows [][]float32) error {
	if s.source != nil {
		s.capture(windows)
	}
	for ch, w := range windows {
		if err := s.transforms[ch].Transform(w); err != nil {
			return err
		}
	}
	return nil
}

func (s *txStage) capture(windows [][]float32) {
	if err := s.source.ReadFrame(s.frame); err != nil {
		s.readErrs++
		if s.readErrs == 1 {
			s.log.Warnf("capture read failed, leaving lanes as they are: %v", err)
		} else {
			s.log.Debugf("capture read failed (%d so far): %v", s.readErrs, err)
		}
		return
	}
	for ch, w := range windows {
		for i, v := range s.frame[ch] {
			w[2*i] = v
			w[2*i+1] = 0
		}
		if s.window != nil {
			s.window.Apply(w)
		}
	}
}
