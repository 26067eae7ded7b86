// SPDX-License-Identifier: MIT
package doa

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"doa/internal/analysis"
	"doa/internal/audio"
	applog "doa/internal/log"
)

// GatePolicy decides, once per rx period, whether inference should run.
type GatePolicy interface {
	Evaluate(ring *Ring) bool
}

// GatePolicyFunc adapts a function to GatePolicy.
type GatePolicyFunc func(ring *Ring) bool

func (f GatePolicyFunc) Evaluate(ring *Ring) bool { return f(ring) }

// AlwaysOpen keeps the gate open while the rx stage runs.
type AlwaysOpen struct{}

func (AlwaysOpen) Evaluate(*Ring) bool { return true }

// EnergyConfig tunes EnergyPolicy.
type EnergyConfig struct {
	FFTLen         int
	SampleRate     float64
	Band           analysis.Band
	OpenThreshold  float64
	CloseThreshold float64
	OpenCount      int
	CloseCount     int
}

// EnergyPolicy opens the gate while the band level of the newest ring
// window stays above a threshold, with hysteresis. Only the rx goroutine may
// call Evaluate; Level is safe from anywhere.
type EnergyPolicy struct {
	band    *analysis.BandEnergy
	gate    *audio.EnergyGate
	scratch [][]float32
	level   atomic.Uint64 // float64 bits
}

// NewEnergyPolicy sizes scratch space for channels lanes.
func NewEnergyPolicy(channels int, cfg EnergyConfig) (*EnergyPolicy, error) {
	band, err := analysis.NewBandEnergy(cfg.FFTLen, cfg.SampleRate, cfg.Band)
	if err != nil {
		return nil, fmt.Errorf("energy policy: %w", err)
	}
	scratch := make([][]float32, channels)
	for i := range scratch {
		scratch[i] = make([]float32, 2*cfg.FFTLen)
	}
	return &EnergyPolicy{
		band:    band,
		gate:    audio.NewEnergyGate(cfg.OpenThreshold, cfg.CloseThreshold, cfg.OpenCount, cfg.CloseCount),
		scratch: scratch,
	}, nil
}

func (p *EnergyPolicy) Evaluate(ring *Ring) bool {
	level := 0.0
	if ring.CopyLatest(p.scratch) {
		level = p.band.Level(p.scratch)
	}
	p.level.Store(math.Float64bits(level))
	return p.gate.Update(level)
}

// Level returns the most recent band level.
func (p *EnergyPolicy) Level() float64 { return math.Float64frombits(p.level.Load()) }

// rxStage samples the gate policy at a fixed cadence.
type rxStage struct {
	ring     *Ring
	gate     *Gate
	policy   GatePolicy
	interval time.Duration
	flag     *RunFlag
	log      *applog.Logger
}

func (s *rxStage) run() {
	s.log.Infof("Rx stage started (interval %s)", s.interval)
	// Never leave the inference stage looking at a stale open gate.
	defer func() {
		s.gate.Set(false)
		s.log.Infof("Rx stage ending")
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for s.flag.Running() {
		open := s.policy.Evaluate(s.ring)
		if s.gate.Set(open) {
			s.log.Debugf("gate %s", gateState(open))
		}
		select {
		case <-ticker.C:
		case <-s.flag.Done():
			return
		}
	}
}

func gateState(open bool) string {
	if open {
		return "open"
	}
	return "closed"
}
