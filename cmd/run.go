// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"doa/internal/analysis"
	"doa/internal/audio"
	"doa/internal/bridge"
	"doa/internal/config"
	"doa/internal/doa"
	"doa/internal/inference"
	applog "doa/internal/log"
	"doa/internal/observe"
	"doa/internal/store"
	"doa/internal/transport"
	"doa/internal/transport/udp"
	"doa/internal/tui"
	"doa/pkg/build"
)

const shutdownTimeout = 5 * time.Second

// plan is everything derived from the configuration before any resource is
// opened.
type plan struct {
	runtime doa.RuntimeConfig
	opts    []doa.Option
	policy  *doa.EnergyPolicy // nil unless the energy gate is selected
}

// buildPlan maps cfg onto pipeline options.
func buildPlan(cfg *config.Config) (plan, error) {
	window, err := analysis.ParseWindowFunc(cfg.DSP.Window)
	if err != nil {
		return plan{}, err
	}

	geometry := doa.Geometry{
		Channels:        cfg.DSP.Channels,
		FFTLen:          cfg.DSP.FFTLen,
		FramesPerSecond: cfg.DSP.SampleRate / cfg.DSP.FrameSize,
	}
	pl := plan{
		runtime: doa.RuntimeConfig{
			ModelPath: cfg.Pipeline.ModelPath,
			InputPath: cfg.Pipeline.InputPath,
			OutputDir: cfg.Pipeline.OutputDir,
			Target:    inference.ParseRuntime(cfg.Pipeline.Runtime),
		},
		opts: []doa.Option{
			doa.WithGeometry(geometry),
			doa.WithTiming(doa.Timing{
				TxInterval:  cfg.Timing.TxInterval,
				RxInterval:  cfg.Timing.RxInterval,
				IdleWait:    cfg.Timing.IdleWait,
				MinInterval: cfg.Timing.MinInterval,
			}),
			doa.WithWindow(window),
			doa.WithSink(doa.FileSink{Keep: cfg.Pipeline.KeepResults}),
		},
	}

	if cfg.Gate.Policy == config.GatePolicyEnergy {
		pl.policy, err = doa.NewEnergyPolicy(cfg.DSP.Channels, doa.EnergyConfig{
			FFTLen:         cfg.DSP.FFTLen,
			SampleRate:     float64(cfg.DSP.SampleRate),
			Band:           analysis.Band{LowHz: cfg.Gate.LowHz, HighHz: cfg.Gate.HighHz},
			OpenThreshold:  cfg.Gate.OpenThreshold,
			CloseThreshold: cfg.Gate.CloseThreshold,
			OpenCount:      cfg.Gate.OpenCount,
			CloseCount:     cfg.Gate.CloseCount,
		})
		if err != nil {
			return plan{}, err
		}
		pl.opts = append(pl.opts, doa.WithGatePolicy(pl.policy))
	}
	return pl, nil
}

// openSource opens the configured capture source, or returns nil when the
// pipeline transforms the ring in place.
func openSource(cfg *config.Config) (audio.Source, error) {
	var src audio.Source
	switch cfg.Capture.Kind {
	case config.CaptureWAV:
		wav, err := audio.OpenWav(cfg.Capture.File)
		if err != nil {
			return nil, err
		}
		if wav.Channels() < cfg.DSP.Channels {
			_ = wav.Close()
			return nil, fmt.Errorf("%s has %d channels, need %d", cfg.Capture.File, wav.Channels(), cfg.DSP.Channels)
		}
		if wav.SampleRate() != cfg.DSP.SampleRate {
			applog.Warnf("%s is sampled at %d Hz, pipeline expects %d Hz", cfg.Capture.File, wav.SampleRate(), cfg.DSP.SampleRate)
		}
		src = wav
	case config.CapturePortAudio:
		if err := audio.Initialize(); err != nil {
			return nil, err
		}
		pa, err := audio.NewPortAudioSource(audio.PortAudioConfig{
			DeviceID:        cfg.Capture.Device,
			Channels:        cfg.DSP.Channels,
			FramesPerBuffer: cfg.DSP.FrameSize,
			SampleRate:      float64(cfg.DSP.SampleRate),
			LowLatency:      cfg.Capture.LowLatency,
		})
		if err == nil {
			err = pa.Start()
		}
		if err != nil {
			_ = audio.Terminate()
			return nil, err
		}
		src = portAudioSession{pa}
	default:
		return nil, nil
	}

	if cfg.Capture.RecordFile == "" {
		return src, nil
	}
	rec := audio.NewRecorder(cfg.DSP.SampleRate, cfg.DSP.Channels)
	if err := rec.StartRecording(cfg.Capture.RecordFile); err != nil {
		_ = src.Close()
		return nil, err
	}
	return audio.Tee(src, rec), nil
}

// portAudioSession terminates PortAudio once its stream is closed.
type portAudioSession struct {
	*audio.PortAudioSource
}

func (s portAudioSession) Close() error {
	return errors.Join(s.PortAudioSource.Close(), audio.Terminate())
}

// cleanup runs its functions in reverse order.
type cleanup []func() error

func (c *cleanup) add(fn func() error) { *c = append(*c, fn) }

func (c cleanup) run(log *applog.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			log.Warnf("cleanup: %v", err)
		}
	}
}

// runPipeline starts the pipeline with every configured reporter and blocks
// until ctx is done, the duration elapses, a signal arrives or the status
// view is closed.
func runPipeline(ctx context.Context, cfg *config.Config, f *runFlags) error {
	log := applog.Named("run")

	ctx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	if f.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.duration)
		defer cancel()
	}

	if dir := cfg.Pipeline.NativeLibDir; dir != "" {
		if err := os.Setenv(bridge.LibraryPathEnv, bridge.LibraryPath(dir)); err != nil {
			return fmt.Errorf("failed to set %s: %w", bridge.LibraryPathEnv, err)
		}
	}

	pl, err := buildPlan(cfg)
	if err != nil {
		return err
	}
	runID := uuid.NewString()
	opts := append(pl.opts, doa.WithRunID(runID))

	var done cleanup
	defer func() { done.run(log) }()

	src, err := openSource(cfg)
	if err != nil {
		return fmt.Errorf("opening capture source: %w", err)
	}
	if src != nil {
		done.add(src.Close)
		opts = append(opts, doa.WithSource(src))
	}

	var metrics *observe.Metrics
	if cfg.Metrics.Enabled {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: build.Get().Version})
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		done.add(func() error {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return shutdown(sctx)
		})
		if metrics, err = observe.NewMetrics(otel.GetMeterProvider()); err != nil {
			return err
		}
		opts = append(opts, doa.WithReporter(metrics, observe.NewTracing(otel.GetTracerProvider())))
	}

	if cfg.Ledger.Enabled {
		ledger, err := store.Open(cfg.Ledger.Path)
		if err != nil {
			return err
		}
		done.add(ledger.Close)
		if err := ledger.BeginRun(ctx, runID, pl.runtime); err != nil {
			return err
		}
		opts = append(opts, doa.WithReporter(ledger))
	}

	var transports []transport.Transport
	if cfg.Transport.WebSocketEnabled {
		transports = append(transports, transport.NewWebSocketTransport(cfg.Transport.WebSocketAddr))
	}
	if cfg.Debug {
		transports = append(transports, transport.NewLoggingTransport())
	}
	if len(transports) > 0 {
		pub := transport.NewPublisher(transports...)
		done.add(pub.Close)
		opts = append(opts, doa.WithReporter(pub))
	}

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewUDPSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return err
		}
		done.add(sender.Close)
		pub, err := udp.NewUDPPublisher(cfg.Transport.UDPSendInterval, sender)
		if err != nil {
			return err
		}
		pub.Start()
		done.add(pub.Close)
		opts = append(opts, doa.WithReporter(pub))
	}

	last := &tui.LastExecution{}
	if f.tui {
		opts = append(opts, doa.WithReporter(last))
	}

	p, err := doa.Start(pl.runtime, opts...)
	if err != nil {
		return err
	}

	if metrics != nil {
		reg, err := metrics.ObservePipeline(p.Stats)
		if err != nil {
			log.Warnf("pipeline gauges unavailable: %v", err)
		} else {
			done.add(reg.Unregister)
		}
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.Metrics.Enabled {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: observe.Handler()}
		g.Go(func() error {
			log.Infof("serving metrics on %s/metrics", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if f.tui {
		var level func() float64
		if pl.policy != nil {
			level = pl.policy.Level
		}
		model := tui.NewStatusModel(runID, p.Stats, last, level)
		g.Go(func() error {
			defer cancelRun()
			return tui.RunStatus(gctx, model)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Infof("stopping pipeline %s", runID)
		return p.Stop()
	})

	err = g.Wait()

	s := p.Stats()
	log.Infof("run %s finished: %d executions, %d failed, %d saved, %d gate transitions",
		runID, s.Executions, s.ExecFailures, s.Saved, s.GateTransitions)
	return err
}
