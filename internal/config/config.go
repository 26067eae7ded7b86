// SPDX-License-Identifier: MIT
package config

import "time"

// Core configuration constants that define the boundaries and defaults for
// the DOA pipeline.
const (
	// Capture geometry of the 8 microphone array.
	DefaultChannels   = 8     // Microphone lanes
	DefaultFrameSize  = 128   // Samples per capture frame
	DefaultSampleRate = 16000 // Hz
	DefaultFFTLen     = 128   // Complex points per transform
	DefaultWindow     = "rectangular"

	// Stage cadences.
	DefaultTxInterval  = 4 * time.Millisecond
	DefaultRxInterval  = 1000 * time.Millisecond
	DefaultIdleWait    = 100 * time.Millisecond
	DefaultMinInterval = 0 // Back to back while the gate is open

	DefaultRuntime   = "CPU"
	DefaultOutputDir = "./output"

	// Every execution overwrites Result_0, as the on-device build did.
	DefaultKeepResults = 1

	// Energy gate defaults, speech band.
	DefaultGatePolicy     = GatePolicyAlways
	DefaultGateLowHz      = 300.0
	DefaultGateHighHz     = 3400.0
	DefaultOpenThreshold  = 0.05
	DefaultCloseThreshold = 0.02
	DefaultOpenCount      = 1
	DefaultCloseCount     = 2

	DefaultCaptureKind = CaptureNone
	DefaultDeviceID    = MinDeviceID

	DefaultWebSocketAddr   = ":8080"
	DefaultUDPTarget       = "127.0.0.1:9090"
	DefaultUDPSendInterval = 100 * time.Millisecond
	DefaultMetricsAddr     = ":9464"
	DefaultLedgerPath      = "doa-ledger.db"

	// Hardware and processing limits.
	MinDeviceID   = -1 // -1 represents system default device
	MaxChannels   = 64
	MinSampleRate = 8000
	MaxSampleRate = 192000
	MaxFFTLen     = 8192
)

// Gate policies.
const (
	GatePolicyAlways = "always"
	GatePolicyEnergy = "energy"
)

// Capture kinds.
const (
	CaptureNone      = "none"
	CaptureWAV       = "wav"
	CapturePortAudio = "portaudio"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Pipeline: PipelineConfig{
			OutputDir:   DefaultOutputDir,
			Runtime:     DefaultRuntime,
			KeepResults: DefaultKeepResults,
		},
		Timing: TimingConfig{
			TxInterval:  DefaultTxInterval,
			RxInterval:  DefaultRxInterval,
			IdleWait:    DefaultIdleWait,
			MinInterval: DefaultMinInterval,
		},
		DSP: DSPConfig{
			Channels:   DefaultChannels,
			FrameSize:  DefaultFrameSize,
			SampleRate: DefaultSampleRate,
			FFTLen:     DefaultFFTLen,
			Window:     DefaultWindow,
		},
		Gate: GateConfig{
			Policy:         DefaultGatePolicy,
			LowHz:          DefaultGateLowHz,
			HighHz:         DefaultGateHighHz,
			OpenThreshold:  DefaultOpenThreshold,
			CloseThreshold: DefaultCloseThreshold,
			OpenCount:      DefaultOpenCount,
			CloseCount:     DefaultCloseCount,
		},
		Capture: CaptureConfig{
			Kind:   DefaultCaptureKind,
			Device: DefaultDeviceID,
		},
		Transport: TransportConfig{
			WebSocketAddr:    DefaultWebSocketAddr,
			UDPTargetAddress: DefaultUDPTarget,
			UDPSendInterval:  DefaultUDPSendInterval,
		},
		Metrics: MetricsConfig{Addr: DefaultMetricsAddr},
		Ledger:  LedgerConfig{Path: DefaultLedgerPath},
	}
}
