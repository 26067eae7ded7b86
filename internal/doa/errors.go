// SPDX-License-Identifier: MIT
package doa

import "errors"

// Start errors. Any of these aborts Start before a stage is spawned.
var (
	ErrInvalidPath       = errors.New("invalid path")
	ErrContainerLoad     = errors.New("failed to load container")
	ErrSessionBuild      = errors.New("failed to build session")
	ErrInvalidInput      = errors.New("invalid input data")
	ErrInputSizeMismatch = errors.New("size of input does not match network")
	ErrLoggerConfig      = errors.New("failed to configure diagnostic logger")
)

// Steady-state errors. Logged and reported; the inference stage carries on.
var (
	ErrExecution = errors.New("error while executing the network")
	ErrPersist   = errors.New("error while saving the output")
)

// ErrStageFailed is returned by Stop when a stage goroutine panicked.
var ErrStageFailed = errors.New("stage failed")
