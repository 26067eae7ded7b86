// SPDX-License-Identifier: MIT
package doa

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doa/internal/inference"
	"doa/internal/inference/mock"
)

const inputSize = 4 * 4 * 3

type fixture struct {
	model, input, out string
}

func newFixture(t *testing.T, samples int) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		model: filepath.Join(dir, "model.dlc"),
		input: filepath.Join(dir, "input.raw"),
		out:   filepath.Join(dir, "out"),
	}
	require.NoError(t, os.WriteFile(f.model, []byte("container"), 0o644))
	require.NoError(t, WriteInput(f.input, make([]float32, samples)))
	return f
}

func (f fixture) config() RuntimeConfig {
	return RuntimeConfig{ModelPath: f.model, InputPath: f.input, OutputDir: f.out, Target: inference.CPU}
}

func fastTiming() Timing {
	return Timing{
		TxInterval:  time.Millisecond,
		RxInterval:  5 * time.Millisecond,
		IdleWait:    5 * time.Millisecond,
		MinInterval: time.Millisecond,
	}
}

// recorder collects reported executions.
type recorder struct {
	mu    sync.Mutex
	execs []Execution
}

func (r *recorder) Report(e Execution) {
	r.mu.Lock()
	r.execs = append(r.execs, e)
	r.mu.Unlock()
}

func (r *recorder) all() []Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Execution(nil), r.execs...)
}

func startMock(t *testing.T, eng *mock.Engine, f fixture, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithEngine(eng), WithTiming(fastTiming())}, opts...)
	p, err := Start(f.config(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func onlySession(t *testing.T, eng *mock.Engine) *mock.Session {
	t.Helper()
	sessions := eng.Sessions()
	require.Len(t, sessions, 1)
	return sessions[0]
}

func TestStartFailures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		samples   int
		setup     func(f *fixture, e *mock.Engine)
		wantErr   error
		sessions  int
		wantInMsg string
	}{
		{
			name:    "missing model",
			samples: inputSize,
			setup:   func(f *fixture, _ *mock.Engine) { f.model += ".missing" },
			wantErr: ErrInvalidPath,
		},
		{
			name:    "missing input",
			samples: inputSize,
			setup:   func(f *fixture, _ *mock.Engine) { f.input += ".missing" },
			wantErr: ErrInvalidPath,
		},
		{
			name:    "empty input file",
			samples: 0,
			wantErr: ErrInvalidPath,
		},
		{
			name:    "container load",
			samples: inputSize,
			setup:   func(_ *fixture, e *mock.Engine) { e.LoadErr = boom },
			wantErr: ErrContainerLoad,
		},
		{
			name:    "session build",
			samples: inputSize,
			setup:   func(_ *fixture, e *mock.Engine) { e.BuildErr = boom },
			wantErr: ErrSessionBuild,
		},
		{
			name:      "input one short",
			samples:   inputSize - 1,
			wantErr:   ErrInputSizeMismatch,
			sessions:  1,
			wantInMsg: "expecting 48, got 47",
		},
		{
			name:      "input one long",
			samples:   inputSize + 1,
			wantErr:   ErrInputSizeMismatch,
			sessions:  1,
			wantInMsg: "expecting 48, got 49",
		},
		{
			name:     "two network inputs",
			samples:  inputSize,
			setup:    func(_ *fixture, e *mock.Engine) { e.InputNames = []string{"a", "b"} },
			wantErr:  ErrSessionBuild,
			sessions: 1,
		},
		{
			name:     "no diagnostic logger",
			samples:  inputSize,
			setup:    func(_ *fixture, e *mock.Engine) { e.NoLogger = true },
			wantErr:  ErrLoggerConfig,
			sessions: 1,
		},
		{
			name:     "logger configure",
			samples:  inputSize,
			setup:    func(_ *fixture, e *mock.Engine) { e.LoggerErr = boom },
			wantErr:  ErrLoggerConfig,
			sessions: 1,
		},
		{
			name:     "logger start",
			samples:  inputSize,
			setup:    func(_ *fixture, e *mock.Engine) { e.StartFail = true },
			wantErr:  ErrLoggerConfig,
			sessions: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.samples)
			eng := mock.New()
			if tt.setup != nil {
				tt.setup(&f, eng)
			}

			p, err := Start(f.config(), WithEngine(eng), WithTiming(fastTiming()))
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, p)
			if tt.wantInMsg != "" {
				assert.Contains(t, err.Error(), tt.wantInMsg)
			}

			sessions := eng.Sessions()
			require.Len(t, sessions, tt.sessions)
			for _, s := range sessions {
				assert.True(t, s.Released(), "a session built by a failed start must be released")
				assert.Zero(t, s.Calls())
			}
			_, statErr := os.Stat(f.out)
			assert.True(t, os.IsNotExist(statErr), "failed start must not create outputs")
		})
	}
}

func TestStartRejectsPartialFloatInput(t *testing.T) {
	f := newFixture(t, inputSize)
	require.NoError(t, os.WriteFile(f.input, []byte{1, 2, 3, 4, 5}, 0o644))

	_, err := Start(f.config(), WithEngine(mock.New()))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStartRejectsBadTiming(t *testing.T) {
	f := newFixture(t, inputSize)
	eng := mock.New()

	_, err := Start(f.config(), WithEngine(eng), WithTiming(Timing{}))
	require.Error(t, err)
	assert.Empty(t, eng.Sessions(), "timing is validated before the session is built")
}

func TestStartHandsInputToSession(t *testing.T) {
	f := newFixture(t, inputSize)
	want := make([]float32, inputSize)
	for i := range want {
		want[i] = float32(i) / 2
	}
	require.NoError(t, WriteInput(f.input, want))

	eng := mock.New()
	p := startMock(t, eng, f)
	s := onlySession(t, eng)

	require.Eventually(t, func() bool { return s.Calls() > 0 }, time.Second, time.Millisecond)
	assert.Equal(t, want, s.LastInput())
	assert.Equal(t, f.out, s.Diag().Options().LogDir)
	assert.True(t, s.Diag().Started())

	require.NoError(t, p.Stop())
	assert.False(t, s.Diag().Started(), "diagnostic logger stopped on exit")
}

func TestStopJoinsStagesInOrder(t *testing.T) {
	f := newFixture(t, inputSize)
	eng := mock.New()
	p := startMock(t, eng, f)
	s := onlySession(t, eng)

	require.Eventually(t, func() bool { return p.Stats().Saved > 0 }, time.Second, time.Millisecond)
	require.NoError(t, p.Stop())

	assert.Equal(t, []string{"rx", "tx", "doa"}, p.joinOrder)
	assert.True(t, s.Released())
	assert.Zero(t, s.InFlight())
	assert.False(t, p.Stats().GateOpen, "rx closes the gate on exit")

	calls := s.Calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, s.Calls(), "no executions after Stop returns")
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t, inputSize)
	p := startMock(t, mock.New(), f)

	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
	assert.Equal(t, []string{"rx", "tx", "doa"}, p.joinOrder, "joins happen once")
}

func TestStopWaitsForInFlightExecution(t *testing.T) {
	f := newFixture(t, inputSize)
	entered := make(chan struct{}, 1)
	release := make(chan struct{})

	eng := mock.New()
	eng.OnExecute = func(call int) {
		if call == 1 {
			entered <- struct{}{}
			<-release
		}
	}
	p := startMock(t, eng, f)
	s := onlySession(t, eng)

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("execution never started")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- p.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while Execute was still running")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, s.Released(), "session must outlive the in-flight execution")

	close(release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after Execute finished")
	}
	assert.True(t, s.Released())
	assert.Equal(t, 1, s.Calls())
}

func TestGateCloseLetsExecutionFinish(t *testing.T) {
	f := newFixture(t, inputSize)
	var open atomic.Bool
	open.Store(true)
	policy := GatePolicyFunc(func(*Ring) bool { return open.Load() })

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	eng := mock.New()
	eng.OnExecute = func(call int) {
		if call == 1 {
			entered <- struct{}{}
			<-release
		}
	}
	p := startMock(t, eng, f, WithGatePolicy(policy))
	s := onlySession(t, eng)

	<-entered
	open.Store(false)
	require.Eventually(t, func() bool { return !p.Stats().GateOpen }, time.Second, time.Millisecond)

	close(release)
	require.Eventually(t, func() bool { return p.Stats().Saved == 1 }, time.Second, time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, s.Calls(), "no new execution while the gate is closed")

	open.Store(true)
	require.Eventually(t, func() bool { return s.Calls() > 1 }, time.Second, time.Millisecond)
	require.NoError(t, p.Stop())
}

func TestClosedGateIdles(t *testing.T) {
	f := newFixture(t, inputSize)
	eng := mock.New()
	p := startMock(t, eng, f, WithGatePolicy(GatePolicyFunc(func(*Ring) bool { return false })))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, onlySession(t, eng).Calls())
	assert.NotZero(t, p.Stats().TxWindows, "tx keeps transforming while the gate is closed")

	start := time.Now()
	require.NoError(t, p.Stop())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestExecutionFailuresAreNotFatal(t *testing.T) {
	f := newFixture(t, inputSize)
	eng := mock.New()
	eng.ExecErr = func(call int) error {
		if call%2 == 1 {
			return errors.New("runtime fault")
		}
		return nil
	}
	rec := &recorder{}
	p := startMock(t, eng, f, WithReporter(rec))

	require.Eventually(t, func() bool { return p.Stats().Executions >= 4 }, time.Second, time.Millisecond)
	require.NoError(t, p.Stop())

	stats := p.Stats()
	assert.GreaterOrEqual(t, stats.ExecFailures, uint64(2))
	assert.GreaterOrEqual(t, stats.Saved, uint64(1))

	execs := rec.all()
	require.NotEmpty(t, execs)
	assert.Equal(t, StatusExecFailed, execs[0].Status)
	assert.ErrorIs(t, execs[0].Err, ErrExecution)
	assert.Equal(t, -1, execs[0].Result)
	assert.Empty(t, execs[0].Outputs)

	require.GreaterOrEqual(t, len(execs), 2)
	assert.Equal(t, StatusOK, execs[1].Status)
	assert.Equal(t, 0, execs[1].Result, "failed attempts do not consume result indices")
	assert.Equal(t, uint64(1), execs[1].Index)
}

type failingSink struct{ calls atomic.Int64 }

func (s *failingSink) Save(inference.TensorMap, string, int, int) (string, error) {
	s.calls.Add(1)
	return "", errors.New("disk full")
}

func TestSaveFailuresAreNotFatal(t *testing.T) {
	f := newFixture(t, inputSize)
	sink := &failingSink{}
	rec := &recorder{}
	p := startMock(t, mock.New(), f, WithSink(sink), WithReporter(rec))

	require.Eventually(t, func() bool { return p.Stats().SaveFailures >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, p.Stop())

	assert.Zero(t, p.Stats().Saved)
	execs := rec.all()
	require.NotEmpty(t, execs)
	assert.Equal(t, StatusSaveFailed, execs[0].Status)
	assert.ErrorIs(t, execs[0].Err, ErrPersist)
	assert.NotEmpty(t, execs[0].Outputs, "outputs are reported even when saving fails")
}

func TestReportedExecutions(t *testing.T) {
	f := newFixture(t, inputSize)
	rec := &recorder{}
	p := startMock(t, mock.New(), f, WithReporter(rec), WithRunID("run-1"))
	assert.Equal(t, "run-1", p.RunID())

	require.Eventually(t, func() bool { return len(rec.all()) >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, p.Stop())

	for i, e := range rec.all() {
		assert.Equal(t, "run-1", e.RunID)
		assert.Equal(t, uint64(i), e.Index)
		assert.Equal(t, i, e.Result)
		assert.Equal(t, StatusOK, e.Status)
		assert.Equal(t, filepath.Join(f.out, "Result_"+strconv.Itoa(i)), e.OutputPath)
		require.Len(t, e.Outputs, 1)
		assert.Equal(t, "doa", e.Outputs[0].Name)
		assert.Equal(t, []float32{float32(i + 1), 0.5}, e.Outputs[0].Values)
	}
}

func TestStagePanicSurfacesFromStop(t *testing.T) {
	f := newFixture(t, inputSize)
	eng := mock.New()
	eng.OnExecute = func(call int) {
		if call == 1 {
			panic("bad tensor")
		}
	}
	p := startMock(t, eng, f)
	s := onlySession(t, eng)

	require.Eventually(t, s.Released, time.Second, time.Millisecond)
	err := p.Stop()
	require.ErrorIs(t, err, ErrStageFailed)
	assert.Contains(t, err.Error(), "doa")
	assert.Equal(t, []string{"rx", "tx", "doa"}, p.joinOrder)
}
