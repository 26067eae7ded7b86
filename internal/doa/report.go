// SPDX-License-Identifier: MIT
package doa

import (
	"fmt"
	"time"

	"doa/internal/inference"
)

// Status is the outcome of one execution.
type Status int

const (
	StatusOK Status = iota
	StatusExecFailed
	StatusSaveFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusExecFailed:
		return "exec_failed"
	case StatusSaveFailed:
		return "save_failed"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(text []byte) error {
	for _, st := range []Status{StatusOK, StatusExecFailed, StatusSaveFailed} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// Output is a copied-out tensor from one execution.
type Output struct {
	Name   string          `json:"name"`
	Shape  inference.Shape `json:"shape"`
	Values []float32       `json:"values"`
}

// Execution describes one pass of the inference stage.
type Execution struct {
	RunID      string        `json:"run_id"`
	Index      uint64        `json:"index"`  // attempt number, from 0
	Result     int           `json:"result"` // saved result index, -1 when nothing was saved
	Started    time.Time     `json:"started"`
	Latency    time.Duration `json:"latency"`
	Status     Status        `json:"status"`
	Err        error         `json:"-"`
	OutputPath string        `json:"output_path,omitempty"`
	Outputs    []Output      `json:"outputs,omitempty"`
}

// Reporter observes executions. Report runs on the inference goroutine and
// must not block.
type Reporter interface {
	Report(Execution)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Execution)

func (f ReporterFunc) Report(e Execution) { f(e) }

func copyOutputs(m inference.TensorMap) []Output {
	if len(m) == 0 {
		return nil
	}
	out := make([]Output, 0, len(m))
	for _, name := range m.Names() {
		t := m[name]
		out = append(out, Output{
			Name:   name,
			Shape:  append(inference.Shape(nil), t.Shape()...),
			Values: append([]float32(nil), t.Data()...),
		})
	}
	return out
}
