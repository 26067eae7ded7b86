// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"doa/internal/log"
	"doa/pkg/bitint"
)

// Config represents the application configuration, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`     // Force debug logging.
	LogLevel  string          `yaml:"log_level"` // "debug", "info", "warn" or "error".
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Timing    TimingConfig    `yaml:"timing"`
	DSP       DSPConfig       `yaml:"dsp"`
	Gate      GateConfig      `yaml:"gate"`
	Capture   CaptureConfig   `yaml:"capture"`
	Transport TransportConfig `yaml:"transport"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Ledger    LedgerConfig    `yaml:"ledger"`
}

// PipelineConfig holds the runtime configuration handed to the pipeline.
type PipelineConfig struct {
	ModelPath    string `yaml:"model_path"`     // Model container.
	InputPath    string `yaml:"input_path"`     // Raw little-endian float32 input tensor.
	OutputDir    string `yaml:"output_dir"`     // Results and diagnostics root.
	Runtime      string `yaml:"runtime"`        // CPU, GPU or DSP; unknown values mean CPU.
	NativeLibDir string `yaml:"native_lib_dir"` // Prepended to the DSP library search path when set.
	KeepResults  int    `yaml:"keep_results"`   // Result_<n> directories kept on disk, 0 for all.
}

// TimingConfig holds stage cadences.
type TimingConfig struct {
	TxInterval  time.Duration `yaml:"tx_interval"`
	RxInterval  time.Duration `yaml:"rx_interval"`
	IdleWait    time.Duration `yaml:"idle_wait"`    // Longest inference-stage wait while the gate is closed.
	MinInterval time.Duration `yaml:"min_interval"` // Pacing between executions, 0 for none.
}

// DSPConfig holds capture ring geometry.
type DSPConfig struct {
	Channels   int    `yaml:"channels"`
	FrameSize  int    `yaml:"frame_size"`
	SampleRate int    `yaml:"sample_rate"`
	FFTLen     int    `yaml:"fft_len"`
	Window     string `yaml:"window"` // Analysis window applied to captured samples.
}

// GateConfig selects and tunes the gate policy.
type GateConfig struct {
	Policy         string  `yaml:"policy"` // "always" or "energy".
	LowHz          float64 `yaml:"low_hz"`
	HighHz         float64 `yaml:"high_hz"`
	OpenThreshold  float64 `yaml:"open_threshold"`  // 0.0-1.0
	CloseThreshold float64 `yaml:"close_threshold"` // 0.0-1.0, not above OpenThreshold
	OpenCount      int     `yaml:"open_count"`      // Loud evaluations needed to open.
	CloseCount     int     `yaml:"close_count"`     // Quiet evaluations needed to close.
}

// CaptureConfig selects the source that feeds the capture ring.
type CaptureConfig struct {
	Kind       string `yaml:"kind"`        // "none", "wav" or "portaudio".
	File       string `yaml:"file"`        // WAV file for kind "wav".
	Device     int    `yaml:"device"`      // PortAudio device index (-1 for default).
	LowLatency bool   `yaml:"low_latency"` // Request low latency from PortAudio.
	RecordFile string `yaml:"record_file"` // Tee captured frames to this WAV file when set.
}

// TransportConfig holds settings for publishing execution results.
type TransportConfig struct {
	WebSocketEnabled bool          `yaml:"websocket_enabled"`
	WebSocketAddr    string        `yaml:"websocket_addr"`
	UDPEnabled       bool          `yaml:"udp_enabled"`
	UDPTargetAddress string        `yaml:"udp_target_address"`
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LedgerConfig controls the SQLite execution ledger.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations. If no file is found, it uses built-in defaults. After
// loading, it applies environment variable overrides and validates the final
// configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range []string{"doa.yaml", "config.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}

	if c.Pipeline.KeepResults < 0 {
		return fmt.Errorf("pipeline.keep_results must not be negative, got %d", c.Pipeline.KeepResults)
	}

	if c.Timing.TxInterval <= 0 || c.Timing.RxInterval <= 0 || c.Timing.IdleWait <= 0 {
		return errors.New("timing: tx_interval, rx_interval and idle_wait must be positive")
	}
	if c.Timing.MinInterval < 0 {
		return errors.New("timing.min_interval must not be negative")
	}

	if c.DSP.Channels < 1 || c.DSP.Channels > MaxChannels {
		return fmt.Errorf("dsp.channels must be 1-%d, got %d", MaxChannels, c.DSP.Channels)
	}
	if c.DSP.SampleRate < MinSampleRate || c.DSP.SampleRate > MaxSampleRate {
		return fmt.Errorf("dsp.sample_rate must be %d-%d, got %d", MinSampleRate, MaxSampleRate, c.DSP.SampleRate)
	}
	if !bitint.IsPowerOfTwo(c.DSP.FFTLen) || c.DSP.FFTLen > MaxFFTLen {
		return fmt.Errorf("dsp.fft_len must be a power of 2 up to %d, got %d", MaxFFTLen, c.DSP.FFTLen)
	}
	if c.DSP.FrameSize <= 0 || c.DSP.SampleRate%c.DSP.FrameSize != 0 {
		return fmt.Errorf("dsp.frame_size must divide the sample rate, got %d", c.DSP.FrameSize)
	}

	switch c.Gate.Policy {
	case GatePolicyAlways:
	case GatePolicyEnergy:
		if c.Gate.LowHz < 0 || c.Gate.HighHz <= c.Gate.LowHz {
			return fmt.Errorf("gate band %.1f-%.1f Hz is invalid", c.Gate.LowHz, c.Gate.HighHz)
		}
		if c.Gate.CloseThreshold > c.Gate.OpenThreshold {
			return errors.New("gate.close_threshold must not exceed gate.open_threshold")
		}
		if c.Gate.OpenCount < 1 || c.Gate.CloseCount < 1 {
			return errors.New("gate.open_count and gate.close_count must be at least 1")
		}
	default:
		return fmt.Errorf("unknown gate.policy %q", c.Gate.Policy)
	}

	switch c.Capture.Kind {
	case CaptureNone:
	case CaptureWAV:
		if c.Capture.File == "" {
			return errors.New("capture.file must be set for wav capture")
		}
	case CapturePortAudio:
		if c.Capture.Device < MinDeviceID {
			return fmt.Errorf("capture.device must be >= %d, got %d", MinDeviceID, c.Capture.Device)
		}
	default:
		return fmt.Errorf("unknown capture.kind %q", c.Capture.Kind)
	}

	if c.Transport.UDPEnabled {
		if _, _, err := net.SplitHostPort(c.Transport.UDPTargetAddress); err != nil {
			return fmt.Errorf("transport.udp_target_address '%s' appears invalid: %w", c.Transport.UDPTargetAddress, err)
		}
		if c.Transport.UDPSendInterval <= 0 {
			return errors.New("transport.udp_send_interval must be positive when UDP is enabled")
		}
	}
	if c.Transport.WebSocketEnabled && c.Transport.WebSocketAddr == "" {
		return errors.New("transport.websocket_addr must be set when WebSocket is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics.addr must be set when metrics are enabled")
	}
	if c.Ledger.Enabled && c.Ledger.Path == "" {
		return errors.New("ledger.path must be set when the ledger is enabled")
	}
	return nil
}

// applyEnvOverrides lets ENV_* variables override file values.
func (cfg *Config) applyEnvOverrides() {
	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
			log.Debugf("configuration: Overriding debug from env: %v", bVal)
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
		log.Debugf("configuration: Overriding log_level from env: %s", val)
	}

	// ENV_{MODEL_PATH,INPUT_PATH,OUTPUT_DIR,RUNTIME,NATIVE_LIB_DIR}
	// These match the arguments the platform bridge passes.
	for env, dst := range map[string]*string{
		"ENV_MODEL_PATH":     &cfg.Pipeline.ModelPath,
		"ENV_INPUT_PATH":     &cfg.Pipeline.InputPath,
		"ENV_OUTPUT_DIR":     &cfg.Pipeline.OutputDir,
		"ENV_RUNTIME":        &cfg.Pipeline.Runtime,
		"ENV_NATIVE_LIB_DIR": &cfg.Pipeline.NativeLibDir,
	} {
		if val, ok := os.LookupEnv(env); ok {
			*dst = val
			log.Debugf("configuration: Overriding %s from env: %s", env, val)
		}
	}

	// ENV_UDP_ENABLED
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.UDPEnabled = bVal
			log.Debugf("configuration: Overriding transport.udp_enabled from env: %v", bVal)
		}
	}
	// ENV_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
		log.Debugf("configuration: Overriding transport.udp_target_address from env: %s", val)
	}
	// ENV_UDP_SEND_INTERVAL
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Transport.UDPSendInterval = dur
			log.Debugf("configuration: Overriding transport.udp_send_interval from env: %s", dur)
		}
	}

	// ENV_METRICS_ENABLED
	if val, ok := os.LookupEnv("ENV_METRICS_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Metrics.Enabled = bVal
			log.Debugf("configuration: Overriding metrics.enabled from env: %v", bVal)
		}
	}
	// ENV_LEDGER_PATH
	if val, ok := os.LookupEnv("ENV_LEDGER_PATH"); ok {
		cfg.Ledger.Path = val
		log.Debugf("configuration: Overriding ledger.path from env: %s", val)
	}
}
