// SPDX-License-Identifier: MIT

// Package mock provides a scriptable inference.Engine for pipeline tests.
package mock

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"doa/internal/inference"
)

// Engine is a configurable inference.Engine. Zero value is not usable; use New.
type Engine struct {
	// InputShape is reported by every session. Default 4x4x3.
	InputShape inference.Shape
	// InputNames overrides the single "input" name when set.
	InputNames []string

	LoadErr   error
	BuildErr  error
	NoLogger  bool
	LoggerErr error
	StartFail bool

	// ExecDelay is slept inside every Execute call.
	ExecDelay time.Duration
	// ExecErr, when set, is returned by Execute instead of outputs.
	ExecErr func(call int) error
	// OnExecute runs at the start of every Execute, before ExecDelay.
	OnExecute func(call int)

	mu       sync.Mutex
	sessions []*Session
}

var _ inference.Engine = (*Engine)(nil)

// New returns an engine whose sessions take a 4x4x3 input.
func New() *Engine {
	return &Engine{InputShape: inference.Shape{4, 4, 3}}
}

type container struct{ path string }

func (c container) Name() string { return c.path }

func (e *Engine) LoadContainer(path string) (inference.Container, error) {
	if e.LoadErr != nil {
		return nil, e.LoadErr
	}
	return container{path: path}, nil
}

func (e *Engine) BuildSession(c inference.Container, target inference.Runtime, _ inference.BuilderOptions) (inference.Session, error) {
	if e.BuildErr != nil {
		return nil, e.BuildErr
	}
	s := &Session{engine: e, Target: target, diag: &DiagLogger{failConfigure: e.LoggerErr, failStart: e.StartFail}}
	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()
	return s, nil
}

func (e *Engine) CreateTensor(shape inference.Shape) (inference.Tensor, error) {
	return inference.NewDenseTensor(shape)
}

// Sessions returns every session built so far.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Session(nil), e.sessions...)
}

// Session counts calls so tests can assert on stage behaviour.
type Session struct {
	engine *Engine
	Target inference.Runtime
	diag   *DiagLogger

	calls    atomic.Int64
	inFlight atomic.Int64
	released atomic.Bool
	// copy of the tensor seen by the most recent Execute
	lastInput atomic.Pointer[[]float32]
}

var _ inference.Session = (*Session)(nil)

func (s *Session) InputNames() []string {
	if s.engine.InputNames != nil {
		return s.engine.InputNames
	}
	return []string{"input"}
}

func (s *Session) InputShape(name string) (inference.Shape, error) {
	for _, n := range s.InputNames() {
		if n == name {
			return s.engine.InputShape, nil
		}
	}
	return nil, fmt.Errorf("unknown input %q", name)
}

func (s *Session) Execute(input inference.Tensor) (inference.TensorMap, error) {
	if s.released.Load() {
		return nil, errors.New("session released")
	}
	call := int(s.calls.Add(1))
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	data := append([]float32(nil), input.Data()...)
	s.lastInput.Store(&data)

	if s.engine.OnExecute != nil {
		s.engine.OnExecute(call)
	}
	if s.engine.ExecDelay > 0 {
		time.Sleep(s.engine.ExecDelay)
	}
	if s.engine.ExecErr != nil {
		if err := s.engine.ExecErr(call); err != nil {
			return nil, err
		}
	}

	out, err := inference.WrapDenseTensor(inference.Shape{1, 2}, []float32{float32(call), 0.5})
	if err != nil {
		return nil, err
	}
	return inference.TensorMap{"doa": out}, nil
}

func (s *Session) DiagLogger() (inference.DiagLogger, bool) {
	if s.engine.NoLogger {
		return nil, false
	}
	return s.diag, true
}

func (s *Session) Release() error {
	s.released.Store(true)
	return nil
}

// Calls returns how many times Execute was entered.
func (s *Session) Calls() int { return int(s.calls.Load()) }

// InFlight reports executions currently inside Execute.
func (s *Session) InFlight() int { return int(s.inFlight.Load()) }

// Released reports whether Release was called.
func (s *Session) Released() bool { return s.released.Load() }

// LastInput returns a copy of the most recent input.
func (s *Session) LastInput() []float32 {
	if p := s.lastInput.Load(); p != nil {
		return *p
	}
	return nil
}

// Diag returns the session's logger for inspection.
func (s *Session) Diag() *DiagLogger { return s.diag }

// DiagLogger records its configuration.
type DiagLogger struct {
	failConfigure error
	failStart     bool

	mu      sync.Mutex
	opts    inference.DiagOptions
	started bool
}

func (d *DiagLogger) Options() inference.DiagOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts
}

func (d *DiagLogger) Configure(opts inference.DiagOptions) error {
	if d.failConfigure != nil {
		return d.failConfigure
	}
	d.mu.Lock()
	d.opts = opts
	d.mu.Unlock()
	return nil
}

func (d *DiagLogger) Start() bool {
	if d.failStart {
		return false
	}
	d.mu.Lock()
	d.started = true
	d.mu.Unlock()
	return true
}

func (d *DiagLogger) Stop() error {
	d.mu.Lock()
	d.started = false
	d.mu.Unlock()
	return nil
}

// Started reports whether Start succeeded and Stop was not called since.
func (d *DiagLogger) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}
