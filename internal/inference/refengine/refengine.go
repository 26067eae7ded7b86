// SPDX-License-Identifier: MIT

// Package refengine is a small pure-Go inference engine. It evaluates dense
// layers described in a YAML container so the DOA pipeline can run, and be
// tested end to end, on machines without the vendor runtime.
//
// Container format:
//
//	name: doa-dense
//	input:
//	  name: input
//	  shape: [4, 4, 3]
//	outputs:
//	  - name: doa
//	    rows: 8
//	    weights: [...]   # rows * input size values, row major
//	    bias: [...]      # rows values, optional
//
// Every output is W·x + b over the flattened input.
package refengine

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"doa/internal/inference"
)

// ErrRuntimeUnavailable is returned when a session is requested for a
// processor this engine cannot drive.
var ErrRuntimeUnavailable = errors.New("runtime not available")

type inputSpec struct {
	Name  string `yaml:"name"`
	Shape []int  `yaml:"shape"`
}

type outputSpec struct {
	Name    string    `yaml:"name"`
	Rows    int       `yaml:"rows"`
	Weights []float64 `yaml:"weights"`
	Bias    []float64 `yaml:"bias"`
}

// Model is the decoded container.
type Model struct {
	ModelName string       `yaml:"name"`
	Input     inputSpec    `yaml:"input"`
	Outputs   []outputSpec `yaml:"outputs"`
}

func (m *Model) Name() string { return m.ModelName }

func (m *Model) validate() error {
	if m.Input.Name == "" {
		return errors.New("container has no input name")
	}
	n := inference.Shape(m.Input.Shape).Size()
	if n == 0 {
		return fmt.Errorf("container input shape %v is empty", m.Input.Shape)
	}
	if len(m.Outputs) == 0 {
		return errors.New("container declares no outputs")
	}
	for _, o := range m.Outputs {
		if o.Rows <= 0 {
			return fmt.Errorf("output %q: rows must be positive", o.Name)
		}
		if len(o.Weights) != o.Rows*n {
			return fmt.Errorf("output %q: want %d weights, got %d", o.Name, o.Rows*n, len(o.Weights))
		}
		if len(o.Bias) != 0 && len(o.Bias) != o.Rows {
			return fmt.Errorf("output %q: want %d bias values, got %d", o.Name, o.Rows, len(o.Bias))
		}
	}
	return nil
}

// Engine implements inference.Engine for CPU only.
type Engine struct{}

var _ inference.Engine = Engine{}

// New returns the reference engine.
func New() Engine { return Engine{} }

func (Engine) LoadContainer(path string) (inference.Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read container: %w", err)
	}
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse container: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	if m.ModelName == "" {
		m.ModelName = path
	}
	return &m, nil
}

func (Engine) BuildSession(c inference.Container, target inference.Runtime, opts inference.BuilderOptions) (inference.Session, error) {
	m, ok := c.(*Model)
	if !ok {
		return nil, fmt.Errorf("container %T was not loaded by this engine", c)
	}
	if target != inference.CPU {
		return nil, fmt.Errorf("%s: %w", target, ErrRuntimeUnavailable)
	}

	n := inference.Shape(m.Input.Shape).Size()
	s := &Session{model: m, diag: &diagLogger{}}
	for _, o := range m.Outputs {
		if !wanted(o.Name, opts.OutputLayers) {
			continue
		}
		l := layer{name: o.Name, w: mat.NewDense(o.Rows, n, o.Weights)}
		if len(o.Bias) > 0 {
			l.b = mat.NewVecDense(o.Rows, append([]float64(nil), o.Bias...))
		}
		s.layers = append(s.layers, l)
	}
	if len(s.layers) == 0 {
		return nil, fmt.Errorf("no outputs match %v", opts.OutputLayers)
	}
	s.x = mat.NewVecDense(n, nil)
	return s, nil
}

func (Engine) CreateTensor(shape inference.Shape) (inference.Tensor, error) {
	return inference.NewDenseTensor(shape)
}

func wanted(name string, layers []string) bool {
	if len(layers) == 0 {
		return true
	}
	for _, l := range layers {
		if l == name {
			return true
		}
	}
	return false
}

type layer struct {
	name string
	w    *mat.Dense
	b    *mat.VecDense
}

// Session evaluates the model's dense layers.
type Session struct {
	model  *Model
	layers []layer
	diag   *diagLogger

	mu       sync.Mutex
	x        *mat.VecDense
	released bool
}

var _ inference.Session = (*Session)(nil)

func (s *Session) InputNames() []string { return []string{s.model.Input.Name} }

func (s *Session) InputShape(name string) (inference.Shape, error) {
	if name != s.model.Input.Name {
		return nil, fmt.Errorf("unknown input %q", name)
	}
	return append(inference.Shape(nil), s.model.Input.Shape...), nil
}

func (s *Session) Execute(input inference.Tensor) (inference.TensorMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil, errors.New("session released")
	}
	if input.Size() != s.x.Len() {
		return nil, fmt.Errorf("input holds %d elements, model expects %d", input.Size(), s.x.Len())
	}
	for i, v := range input.Data() {
		s.x.SetVec(i, float64(v))
	}

	out := make(inference.TensorMap, len(s.layers))
	for _, l := range s.layers {
		rows, _ := l.w.Dims()
		var y mat.VecDense
		y.MulVec(l.w, s.x)
		if l.b != nil {
			y.AddVec(&y, l.b)
		}
		data := make([]float32, rows)
		for i := range data {
			data[i] = float32(y.AtVec(i))
		}
		t, err := inference.WrapDenseTensor(inference.Shape{1, rows}, data)
		if err != nil {
			return nil, err
		}
		out[l.name] = t
	}
	s.diag.record("execute", len(out))
	return out, nil
}

func (s *Session) DiagLogger() (inference.DiagLogger, bool) { return s.diag, true }

func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	return s.diag.Stop()
}
