// SPDX-License-Identifier: MIT

// Package bridge is the host-facing entry point: the platform layer passes
// plain strings and gets back an opaque handle for the running pipeline.
package bridge

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"doa/internal/doa"
	"doa/internal/inference"
	applog "doa/internal/log"
)

// LibraryPathEnv is read by the DSP runtime to locate its skeleton libraries.
const LibraryPathEnv = "ADSP_LIBRARY_PATH"

// systemLibraryDirs follow the app's native library dir in LibraryPathEnv.
const systemLibraryDirs = "/system/lib/rfsa/adsp;/system/vendor/lib/rfsa/adsp;/dsp"

// ErrUnknownHandle is returned by Stop for handles that are not running.
var ErrUnknownHandle = errors.New("unknown pipeline handle")

// Handle identifies a pipeline started through the bridge. Zero is never valid.
type Handle uint64

// LibraryPath composes the DSP library search path.
func LibraryPath(nativeLibDir string) string {
	return nativeLibDir + ";" + systemLibraryDirs
}

// Bridge owns the running pipelines.
type Bridge struct {
	setenv  func(key, value string) error
	start   func(doa.RuntimeConfig, ...doa.Option) (*doa.Pipeline, error)
	envOnce sync.Once
	envErr  error

	mu        sync.Mutex
	next      Handle
	pipelines map[Handle]*doa.Pipeline
	log       *applog.Logger
}

// New returns an empty bridge.
func New() *Bridge {
	return &Bridge{
		setenv:    os.Setenv,
		start:     doa.Start,
		pipelines: make(map[Handle]*doa.Pipeline),
		log:       applog.Named("bridge"),
	}
}

// Start sets the DSP library path (first call only), then starts a pipeline
// writing under cacheDir. Unknown runtime strings select the CPU. Results go
// to cacheDir/Result_0 unless opts carry another sink.
func (b *Bridge) Start(nativeLibDir, runtime, modelPath, inputPath, cacheDir string, opts ...doa.Option) (Handle, error) {
	b.envOnce.Do(func() {
		path := LibraryPath(nativeLibDir)
		if b.envErr = b.setenv(LibraryPathEnv, path); b.envErr == nil {
			b.log.Infof("%s=%s", LibraryPathEnv, path)
		}
	})
	if b.envErr != nil {
		return 0, fmt.Errorf("failed to set %s: %w", LibraryPathEnv, b.envErr)
	}

	target := inference.ParseRuntime(runtime)
	b.log.Infof("starting pipeline on %s (requested %q)", target, runtime)

	// Every execution overwrites Result_0 unless the caller picks a sink.
	opts = append([]doa.Option{doa.WithSink(doa.FileSink{Keep: 1})}, opts...)
	p, err := b.start(doa.RuntimeConfig{
		ModelPath: modelPath,
		InputPath: inputPath,
		OutputDir: cacheDir,
		Target:    target,
	}, opts...)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.pipelines[b.next] = p
	return b.next, nil
}

// Stop stops and forgets the pipeline behind h.
func (b *Bridge) Stop(h Handle) error {
	b.mu.Lock()
	p, ok := b.pipelines[h]
	delete(b.pipelines, h)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	return p.Stop()
}

// Running returns the number of live pipelines.
func (b *Bridge) Running() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pipelines)
}

var defaultBridge = New()

// Start starts a pipeline on the process-wide bridge.
func Start(nativeLibDir, runtime, modelPath, inputPath, cacheDir string, opts ...doa.Option) (Handle, error) {
	return defaultBridge.Start(nativeLibDir, runtime, modelPath, inputPath, cacheDir, opts...)
}

// Stop stops a pipeline started with Start.
func Stop(h Handle) error {
	return defaultBridge.Stop(h)
}
