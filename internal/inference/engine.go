// SPDX-License-Identifier: MIT

// Package inference defines the contract between the DOA pipeline and a
// neural-network runtime (SNPE on device, the pure-Go reference engine in
// tests and on desktops).
//
// The pipeline never inspects tensor contents beyond shape and size checks;
// numeric correctness is entirely the engine's responsibility.
//
// A Session is owned by exactly one goroutine at a time. Engines may create
// sessions concurrently, but implementations are not required to make a
// single Session safe for concurrent Execute calls.
package inference

import (
	"fmt"
	"sort"
	"strings"
)

// Runtime selects the processor a session is bound to.
type Runtime int

const (
	CPU Runtime = iota
	GPU
	DSP
)

func (r Runtime) String() string {
	switch r {
	case GPU:
		return "GPU"
	case DSP:
		return "DSP"
	default:
		return "CPU"
	}
}

// ParseRuntime maps the host's runtime string to a Runtime. Only the exact
// names "GPU" and "DSP" select an accelerator; anything else, including
// "gpu" or " DSP", falls back to CPU, which every engine supports.
func ParseRuntime(s string) Runtime {
	switch s {
	case "GPU":
		return GPU
	case "DSP":
		return DSP
	default:
		return CPU
	}
}

// Shape lists tensor dimensions, outermost first.
type Shape []int

// Size returns the number of elements a tensor of this shape holds. A shape
// with a non-positive dimension holds nothing.
func (s Shape) Size() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, d := range s {
		if d <= 0 {
			return 0
		}
		n *= d
	}
	return n
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprint(d)
	}
	return strings.Join(parts, "x")
}

// Tensor is a dense float32 buffer with a fixed shape.
type Tensor interface {
	Shape() Shape
	Size() int
	// Data exposes the backing storage. Writers must hold exclusive ownership
	// of the tensor.
	Data() []float32
}

// TensorMap holds the named outputs of one execution.
type TensorMap map[string]Tensor

// Names returns the output names in a stable order.
func (m TensorMap) Names() []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BuilderOptions carries the SNPE builder knobs.
type BuilderOptions struct {
	// OutputLayers restricts the returned outputs; empty means all.
	OutputLayers []string
	// UseUserSuppliedBuffers is accepted for parity and ignored by engines
	// that only support owned tensors.
	UseUserSuppliedBuffers bool
	// InitCaching asks the engine to cache its initialised graph.
	InitCaching bool
}

// DiagOptions configures an engine's diagnostic log.
type DiagOptions struct {
	LogDir string
}

// DiagLogger is the engine's own diagnostics stream.
type DiagLogger interface {
	Options() DiagOptions
	Configure(opts DiagOptions) error
	Start() bool
	Stop() error
}

// Container is a loaded, not yet built, model.
type Container interface {
	Name() string
}

// Session is a model bound to a runtime, ready to execute.
type Session interface {
	InputNames() []string
	InputShape(name string) (Shape, error)
	Execute(input Tensor) (TensorMap, error)
	// DiagLogger returns the session's diagnostics logger, if it has one.
	DiagLogger() (DiagLogger, bool)
	// Release frees runtime resources. Calling Release twice is safe.
	Release() error
}

// Engine loads containers and builds sessions.
type Engine interface {
	LoadContainer(path string) (Container, error)
	BuildSession(c Container, target Runtime, opts BuilderOptions) (Session, error)
	CreateTensor(shape Shape) (Tensor, error)
}
