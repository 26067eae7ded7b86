// SPDX-License-Identifier: MIT

/*
Package doa runs the gated direction-of-arrival pipeline.

Three goroutines share state:
- tx transforms every channel of the capture ring every 4 ms
- rx samples a gate policy every second and publishes the result in a Gate
- the inference stage executes the model back to back while the gate is open

Start validates inputs, builds the inference session and moves it into the
inference stage. Stop clears the run flags and joins rx, tx and then the
inference stage, which releases the session on its way out.
*/
package doa

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"doa/internal/analysis"
	"doa/internal/audio"
	"doa/internal/inference"
	"doa/internal/inference/refengine"
	applog "doa/internal/log"
)

// RuntimeConfig is fixed for the lifetime of a pipeline.
type RuntimeConfig struct {
	ModelPath string
	InputPath string
	OutputDir string
	Target    inference.Runtime
}

// Timing holds the stage cadences.
type Timing struct {
	TxInterval time.Duration
	RxInterval time.Duration
	// IdleWait bounds how long the inference stage sleeps on a closed gate
	// before re-checking its flag.
	IdleWait time.Duration
	// MinInterval spaces executions while the gate is open. Zero runs them
	// back to back.
	MinInterval time.Duration
}

// DefaultTiming returns the 4 ms / 1000 ms cadences.
func DefaultTiming() Timing {
	return Timing{
		TxInterval: 4 * time.Millisecond,
		RxInterval: 1000 * time.Millisecond,
		IdleWait:   100 * time.Millisecond,
	}
}

// Geometry sizes the capture ring.
type Geometry struct {
	Channels        int
	FFTLen          int
	FramesPerSecond int
}

// DefaultGeometry returns the 8 channel, 128 point layout.
func DefaultGeometry() Geometry {
	return Geometry{Channels: NumChannels, FFTLen: FFTLen, FramesPerSecond: FramesPerSecond}
}

type options struct {
	engine     inference.Engine
	builder    inference.BuilderOptions
	source     audio.Source
	window     analysis.WindowFunc
	policy     GatePolicy
	reporters  []Reporter
	sink       Sink
	timing     Timing
	geometry   Geometry
	transforms TransformFactory
	runID      string
}

// Option configures Start.
type Option func(*options)

// WithEngine selects the inference engine. Defaults to the pure-Go reference engine.
func WithEngine(e inference.Engine) Option { return func(o *options) { o.engine = e } }

// WithBuilderOptions passes options to BuildSession.
func WithBuilderOptions(b inference.BuilderOptions) Option {
	return func(o *options) { o.builder = b }
}

// WithSource feeds the tx stage from a capture source. Without one the tx
// stage transforms the ring contents in place.
func WithSource(src audio.Source) Option { return func(o *options) { o.source = src } }

// WithWindow applies an analysis window to captured samples.
func WithWindow(w analysis.WindowFunc) Option { return func(o *options) { o.window = w } }

// WithGatePolicy replaces the default AlwaysOpen policy.
func WithGatePolicy(p GatePolicy) Option { return func(o *options) { o.policy = p } }

// WithReporter adds execution reporters.
func WithReporter(r ...Reporter) Option {
	return func(o *options) { o.reporters = append(o.reporters, r...) }
}

// WithSink replaces the default FileSink.
func WithSink(s Sink) Option { return func(o *options) { o.sink = s } }

// WithTiming overrides the stage cadences.
func WithTiming(t Timing) Option { return func(o *options) { o.timing = t } }

// WithGeometry overrides the ring layout.
func WithGeometry(g Geometry) Option { return func(o *options) { o.geometry = g } }

// WithTransformFactory replaces the complex FFT.
func WithTransformFactory(f TransformFactory) Option { return func(o *options) { o.transforms = f } }

// WithRunID tags executions. Defaults to a random UUID.
func WithRunID(id string) Option { return func(o *options) { o.runID = id } }

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Executions      uint64
	ExecFailures    uint64
	Saved           uint64
	SaveFailures    uint64
	TxWindows       uint64
	GateOpen        bool
	GateTransitions uint64
}

// stage is a running goroutine and its exit status.
type stage struct {
	name string
	done chan struct{}
	err  error
}

// Pipeline is a running pipeline. It holds no reference to the session.
type Pipeline struct {
	cfg   RuntimeConfig
	runID string
	ring  *Ring
	gate  *Gate
	stats *counters

	txFlag, rxFlag, doaFlag *RunFlag
	tx, rx, doa             *stage

	stopOnce  sync.Once
	stopErr   error
	joinOrder []string
	log       *applog.Logger
}

// Start builds the session and spawns the stages. On error nothing is left
// running and the session, if one was built, is released.
func Start(cfg RuntimeConfig, opts ...Option) (*Pipeline, error) {
	o := options{
		policy:     AlwaysOpen{},
		sink:       FileSink{},
		timing:     DefaultTiming(),
		geometry:   DefaultGeometry(),
		transforms: ComplexFFT,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.engine == nil {
		o.engine = refengine.New()
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	logger := applog.Named("doa")

	if err := checkPath(cfg.ModelPath, "model"); err != nil {
		return nil, err
	}
	if err := checkPath(cfg.InputPath, "input"); err != nil {
		return nil, err
	}
	if err := validateTiming(o.timing); err != nil {
		return nil, err
	}

	g := o.geometry
	ring, err := NewRing(g.Channels, g.FFTLen*2*g.FramesPerSecond, g.FFTLen*2)
	if err != nil {
		return nil, err
	}
	transforms := make([]Transform, g.Channels)
	for i := range transforms {
		if transforms[i], err = o.transforms(g.FFTLen); err != nil {
			return nil, err
		}
	}
	var window *analysis.Window
	if o.source != nil && o.window != analysis.Rectangular {
		window = analysis.NewWindow(o.window, g.FFTLen)
	}

	container, err := o.engine.LoadContainer(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrContainerLoad, cfg.ModelPath, err)
	}
	session, err := o.engine.BuildSession(container, cfg.Target, o.builder)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSessionBuild, cfg.Target, err)
	}
	res, err := prepare(o.engine, session, cfg)
	if err != nil {
		if rerr := session.Release(); rerr != nil {
			logger.Warnf("session release after failed start: %v", rerr)
		}
		return nil, err
	}

	p := &Pipeline{
		cfg:     cfg,
		runID:   o.runID,
		ring:    ring,
		gate:    NewGate(),
		stats:   &counters{},
		txFlag:  newRunFlag(),
		rxFlag:  newRunFlag(),
		doaFlag: newRunFlag(),
		log:     logger,
	}

	// Flags are set before the goroutines exist so no stage can observe a
	// default false and exit early.
	p.txFlag.Set()
	p.rxFlag.Set()
	p.doaFlag.Set()

	tx := newTxStage(ring, transforms, o.source, window, o.timing.TxInterval, p.txFlag)
	rx := &rxStage{
		ring:     ring,
		gate:     p.gate,
		policy:   o.policy,
		interval: o.timing.RxInterval,
		flag:     p.rxFlag,
		log:      applog.Named("rx"),
	}
	p.tx = p.spawn("tx", tx.run)
	p.rx = p.spawn("rx", rx.run)

	inf := &inferenceStage{
		res:       res,
		gate:      p.gate,
		flag:      p.doaFlag,
		sink:      o.sink,
		reporters: o.reporters,
		outputDir: cfg.OutputDir,
		runID:     o.runID,
		timing:    o.timing,
		stats:     p.stats,
		log:       applog.Named("doa-stage"),
	}
	p.doa = p.spawn("doa", inf.run)

	logger.Infof("pipeline %s started (%s, model %s)", p.runID, cfg.Target, cfg.ModelPath)
	return p, nil
}

// prepare loads the input tensor and starts the diagnostic logger.
func prepare(engine inference.Engine, session inference.Session, cfg RuntimeConfig) (handoff, error) {
	samples, err := LoadInput(cfg.InputPath)
	if err != nil {
		return handoff{}, err
	}

	names := session.InputNames()
	if len(names) != 1 {
		return handoff{}, fmt.Errorf("%w: network has %d inputs, expected exactly one", ErrSessionBuild, len(names))
	}
	shape, err := session.InputShape(names[0])
	if err != nil {
		return handoff{}, fmt.Errorf("%w: %v", ErrSessionBuild, err)
	}
	input, err := engine.CreateTensor(shape)
	if err != nil {
		return handoff{}, fmt.Errorf("%w: %v", ErrSessionBuild, err)
	}
	if input.Size() != len(samples) {
		return handoff{}, fmt.Errorf("%w: expecting %d, got %d", ErrInputSizeMismatch, input.Size(), len(samples))
	}
	copy(input.Data(), samples)

	diag, ok := session.DiagLogger()
	if !ok || diag == nil {
		return handoff{}, fmt.Errorf("%w: session has no diagnostic logger", ErrLoggerConfig)
	}
	if err := diag.Configure(inference.DiagOptions{LogDir: cfg.OutputDir}); err != nil {
		return handoff{}, fmt.Errorf("%w: %v", ErrLoggerConfig, err)
	}
	if !diag.Start() {
		return handoff{}, fmt.Errorf("%w: logger did not start", ErrLoggerConfig)
	}
	return handoff{session: session, input: input, diag: diag}, nil
}

func validateTiming(t Timing) error {
	if t.TxInterval <= 0 || t.RxInterval <= 0 || t.IdleWait <= 0 {
		return fmt.Errorf("stage intervals must be positive: %+v", t)
	}
	if t.MinInterval < 0 {
		return fmt.Errorf("min interval must not be negative: %s", t.MinInterval)
	}
	return nil
}

// spawn runs fn on a new goroutine, turning a panic into a stage error.
func (p *Pipeline) spawn(name string, fn func()) *stage {
	st := &stage{name: name, done: make(chan struct{})}
	go func() {
		defer close(st.done)
		defer func() {
			if r := recover(); r != nil {
				st.err = fmt.Errorf("%w: %s: %v", ErrStageFailed, name, r)
				p.log.Errorf("%v", st.err)
			}
		}()
		fn()
	}()
	return st
}

// Stop clears every run flag and joins rx, tx and the inference stage in
// that order. It blocks until an in-flight execution returns. Only the first
// call does the work; later calls return its result.
func (p *Pipeline) Stop() error {
	p.stopOnce.Do(func() {
		p.log.Infof("pipeline %s stopping", p.runID)
		p.txFlag.Clear()
		p.rxFlag.Clear()
		p.doaFlag.Clear()

		var errs []error
		for _, st := range []*stage{p.rx, p.tx, p.doa} {
			<-st.done
			p.joinOrder = append(p.joinOrder, st.name)
			p.log.Infof("%s stage joined", st.name)
			if st.err != nil {
				errs = append(errs, st.err)
			}
		}
		p.stopErr = errors.Join(errs...)
	})
	return p.stopErr
}

// RunID identifies this pipeline's executions.
func (p *Pipeline) RunID() string { return p.runID }

// Config returns the runtime configuration.
func (p *Pipeline) Config() RuntimeConfig { return p.cfg }

// Ring exposes the capture ring for copy-out readers.
func (p *Pipeline) Ring() *Ring { return p.ring }

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Executions:      p.stats.executions.Load(),
		ExecFailures:    p.stats.execFailures.Load(),
		Saved:           p.stats.saved.Load(),
		SaveFailures:    p.stats.saveFailures.Load(),
		TxWindows:       p.ring.Windows(),
		GateOpen:        p.gate.IsOpen(),
		GateTransitions: p.gate.Transitions(),
	}
}
