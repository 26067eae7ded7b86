// SPDX-License-Identifier: MIT
package doa

import (
	"fmt"
	"sync/atomic"
	"time"

	"doa/internal/inference"
	applog "doa/internal/log"
)

// batchSize is the number of results each execution produces.
const batchSize = 1

// handoff carries the resources Start moves into the inference stage. After
// the stage is spawned nothing else holds them.
type handoff struct {
	session inference.Session
	input   inference.Tensor
	diag    inference.DiagLogger
}

type counters struct {
	executions   atomic.Uint64
	execFailures atomic.Uint64
	saved        atomic.Uint64
	saveFailures atomic.Uint64
}

// inferenceStage executes the session while the gate is open.
type inferenceStage struct {
	res       handoff
	gate      *Gate
	flag      *RunFlag
	sink      Sink
	reporters []Reporter
	outputDir string
	runID     string
	timing    Timing
	stats     *counters
	log       *applog.Logger

	attempt uint64
	result  int
}

func (s *inferenceStage) run() {
	s.log.Infof("DOA stage started")
	defer s.release()

	for s.flag.Running() {
		if !s.waitForGate() {
			continue
		}
		for s.flag.Running() && s.gate.IsOpen() {
			s.execute()
			s.pace()
		}
	}
}

// waitForGate returns true if the gate is open, otherwise it blocks until
// the gate changes, the stage is stopped or IdleWait passes.
func (s *inferenceStage) waitForGate() bool {
	changed := s.gate.Changed()
	if s.gate.IsOpen() {
		return true
	}
	timer := time.NewTimer(s.timing.IdleWait)
	defer timer.Stop()
	select {
	case <-changed:
	case <-s.flag.Done():
	case <-timer.C:
	}
	return false
}

// pace waits MinInterval between executions. A stop request or a gate
// transition cuts it short.
func (s *inferenceStage) pace() {
	if s.timing.MinInterval <= 0 {
		return
	}
	changed := s.gate.Changed()
	if !s.gate.IsOpen() {
		return
	}
	timer := time.NewTimer(s.timing.MinInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-changed:
	case <-s.flag.Done():
	}
}

func (s *inferenceStage) execute() {
	exec := Execution{
		RunID:   s.runID,
		Index:   s.attempt,
		Result:  -1,
		Started: time.Now(),
	}
	s.attempt++
	s.stats.executions.Add(1)

	outputs, err := s.res.session.Execute(s.res.input)
	switch {
	case err != nil:
		exec.Status = StatusExecFailed
		exec.Err = fmt.Errorf("%w: %v", ErrExecution, err)
		s.stats.execFailures.Add(1)
		s.log.Errorf("%v", exec.Err)
	default:
		exec.Outputs = copyOutputs(outputs)
		path, err := s.sink.Save(outputs, s.outputDir, s.result, batchSize)
		if err != nil {
			exec.Status = StatusSaveFailed
			exec.Err = fmt.Errorf("%w: %v", ErrPersist, err)
			s.stats.saveFailures.Add(1)
			s.log.Errorf("%v", exec.Err)
			break
		}
		exec.Result = s.result
		exec.OutputPath = path
		s.result += batchSize
		s.stats.saved.Add(1)
	}

	exec.Latency = time.Since(exec.Started)
	s.log.Debugf("DOA execution %d done after: %.3f seconds", exec.Index, exec.Latency.Seconds())
	for _, r := range s.reporters {
		r.Report(exec)
	}
}

func (s *inferenceStage) release() {
	if s.res.diag != nil {
		if err := s.res.diag.Stop(); err != nil {
			s.log.Warnf("diagnostic logger stop: %v", err)
		}
	}
	if err := s.res.session.Release(); err != nil {
		s.log.Warnf("session release: %v", err)
	}
	s.res = handoff{}
	s.log.Infof("DOA stage ending")
}
