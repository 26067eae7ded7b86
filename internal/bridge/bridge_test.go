// SPDX-License-Identifier: MIT
package bridge

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doa/internal/doa"
	"doa/internal/inference"
	"doa/internal/inference/mock"
)

func fixture(t *testing.T) (model, input, cache string) {
	t.Helper()
	dir := t.TempDir()
	model = filepath.Join(dir, "model.dlc")
	input = filepath.Join(dir, "input.raw")
	require.NoError(t, os.WriteFile(model, []byte("container"), 0o644))
	require.NoError(t, doa.WriteInput(input, make([]float32, 48)))
	return model, input, filepath.Join(dir, "cache")
}

func testBridge(env map[string]string) *Bridge {
	b := New()
	b.setenv = func(k, v string) error {
		env[k] = v
		return nil
	}
	return b
}

func TestLibraryPath(t *testing.T) {
	assert.Equal(t,
		"/data/app/lib/arm64;/system/lib/rfsa/adsp;/system/vendor/lib/rfsa/adsp;/dsp",
		LibraryPath("/data/app/lib/arm64"))
}

func TestStartStop(t *testing.T) {
	env := map[string]string{}
	b := testBridge(env)
	eng := mock.New()
	model, input, cache := fixture(t)

	h, err := b.Start("/native", "DSP", model, input, cache, doa.WithEngine(eng))
	require.NoError(t, err)
	assert.NotZero(t, h)
	assert.Equal(t, 1, b.Running())
	assert.Equal(t, LibraryPath("/native"), env[LibraryPathEnv])

	sessions := eng.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, inference.DSP, sessions[0].Target)
	assert.Equal(t, cache, sessions[0].Diag().Options().LogDir, "cache dir is the output dir")

	require.Eventually(t, func() bool { return sessions[0].Calls() > 0 }, time.Second, time.Millisecond)
	require.NoError(t, b.Stop(h))
	assert.True(t, sessions[0].Released())
	assert.Zero(t, b.Running())

	assert.ErrorIs(t, b.Stop(h), ErrUnknownHandle, "second stop")
	assert.ErrorIs(t, b.Stop(12345), ErrUnknownHandle)
}

func resultDirs(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "Result_") {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestStartOverwritesResultZero(t *testing.T) {
	b := testBridge(map[string]string{})
	eng := mock.New()
	model, input, cache := fixture(t)

	h, err := b.Start("/native", "CPU", model, input, cache, doa.WithEngine(eng))
	require.NoError(t, err)
	sessions := eng.Sessions()
	require.Len(t, sessions, 1)
	require.Eventually(t, func() bool { return sessions[0].Calls() > 3 }, 2*time.Second, time.Millisecond)
	require.NoError(t, b.Stop(h))

	assert.Equal(t, []string{"Result_0"}, resultDirs(t, cache))
	got, err := doa.LoadInput(filepath.Join(cache, "Result_0", "doa.raw"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Greater(t, got[0], float32(1), "later executions overwrite the first")
}

func TestStartKeepsCallerSink(t *testing.T) {
	b := testBridge(map[string]string{})
	eng := mock.New()
	model, input, cache := fixture(t)

	h, err := b.Start("/native", "CPU", model, input, cache,
		doa.WithEngine(eng), doa.WithSink(doa.FileSink{Keep: 2}))
	require.NoError(t, err)
	sessions := eng.Sessions()
	require.Len(t, sessions, 1)
	require.Eventually(t, func() bool { return sessions[0].Calls() > 3 }, 2*time.Second, time.Millisecond)
	require.NoError(t, b.Stop(h))

	assert.Equal(t, []string{"Result_0", "Result_1"}, resultDirs(t, cache))
}

func TestRuntimeStrings(t *testing.T) {
	tests := []struct {
		runtime string
		want    inference.Runtime
	}{
		{"CPU", inference.CPU},
		{"GPU", inference.GPU},
		{"DSP", inference.DSP},
		{"gpu", inference.CPU},
		{"NPU", inference.CPU},
		{"", inference.CPU},
	}
	for _, tt := range tests {
		t.Run(tt.runtime, func(t *testing.T) {
			b := testBridge(map[string]string{})
			eng := mock.New()
			model, input, cache := fixture(t)

			h, err := b.Start("/native", tt.runtime, model, input, cache, doa.WithEngine(eng))
			require.NoError(t, err)
			defer b.Stop(h)
			assert.Equal(t, tt.want, eng.Sessions()[0].Target)
		})
	}
}

func TestLibraryPathSetOnce(t *testing.T) {
	env := map[string]string{}
	calls := 0
	b := New()
	b.setenv = func(k, v string) error {
		calls++
		env[k] = v
		return nil
	}
	model, input, cache := fixture(t)

	for _, dir := range []string{"/first", "/second"} {
		h, err := b.Start(dir, "CPU", model, input, cache, doa.WithEngine(mock.New()))
		require.NoError(t, err)
		require.NoError(t, b.Stop(h))
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, LibraryPath("/first"), env[LibraryPathEnv])
}

func TestStartFailureRegistersNothing(t *testing.T) {
	b := testBridge(map[string]string{})
	_, input, cache := fixture(t)

	h, err := b.Start("/native", "CPU", filepath.Join(cache, "missing.dlc"), input, cache, doa.WithEngine(mock.New()))
	require.ErrorIs(t, err, doa.ErrInvalidPath)
	assert.Zero(t, h)
	assert.Zero(t, b.Running())
}

func TestSetenvFailure(t *testing.T) {
	b := New()
	b.setenv = func(string, string) error { return errors.New("read-only env") }
	model, input, cache := fixture(t)

	_, err := b.Start("/native", "CPU", model, input, cache, doa.WithEngine(mock.New()))
	assert.ErrorContains(t, err, LibraryPathEnv)
}

func TestPackageLevelBridge(t *testing.T) {
	t.Setenv(LibraryPathEnv, "")
	model, input, cache := fixture(t)

	h, err := Start(t.TempDir(), "CPU", model, input, cache, doa.WithEngine(mock.New()))
	require.NoError(t, err)
	require.NoError(t, Stop(h))
	assert.ErrorIs(t, Stop(h), ErrUnknownHandle)
}
