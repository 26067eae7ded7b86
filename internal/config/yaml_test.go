// SPDX-License-Identifier: MIT
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected default config, got nil")
	}
	if cfg.DSP.Channels != DefaultChannels || cfg.DSP.FFTLen != DefaultFFTLen {
		t.Errorf("unexpected DSP defaults: %+v", cfg.DSP)
	}
	if cfg.Timing.TxInterval != 4*time.Millisecond || cfg.Timing.RxInterval != time.Second {
		t.Errorf("unexpected timing defaults: %+v", cfg.Timing)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig("nonexistent.yaml")
	if err == nil {
		t.Errorf("expected error for missing file, got nil")
	}
	if cfg != nil {
		t.Errorf("expected nil config on error, got %+v", cfg)
	}
}

func TestLoadConfig_UnmarshalError(t *testing.T) {
	path := writeTempConfig(t, "pipeline: [unclosed")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Errorf("expected unmarshal error, got %v", err)
	}
}

func TestLoadConfig_FileValues(t *testing.T) {
	path := writeTempConfig(t, `
log_level: debug
pipeline:
  model_path: /models/doa.yaml
  input_path: /models/input.raw
  output_dir: /tmp/out
  runtime: DSP
timing:
  tx_interval: 8ms
  min_interval: 2ms
gate:
  policy: energy
  open_threshold: 0.2
  close_threshold: 0.1
capture:
  kind: wav
  file: capture.wav
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Pipeline.ModelPath != "/models/doa.yaml" || cfg.Pipeline.Runtime != "DSP" {
		t.Errorf("pipeline not loaded: %+v", cfg.Pipeline)
	}
	if cfg.Timing.TxInterval != 8*time.Millisecond || cfg.Timing.MinInterval != 2*time.Millisecond {
		t.Errorf("timing not loaded: %+v", cfg.Timing)
	}
	// Unset keys keep their defaults.
	if cfg.Timing.RxInterval != DefaultRxInterval || cfg.DSP.Channels != DefaultChannels {
		t.Errorf("defaults lost: %+v %+v", cfg.Timing, cfg.DSP)
	}
	if cfg.Gate.Policy != GatePolicyEnergy || cfg.Gate.OpenThreshold != 0.2 {
		t.Errorf("gate not loaded: %+v", cfg.Gate)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeTempConfig(t, "pipeline:\n  runtime: GPU\n")
	t.Setenv("ENV_RUNTIME", "DSP")
	t.Setenv("ENV_OUTPUT_DIR", "/cache")
	t.Setenv("ENV_UDP_ENABLED", "true")
	t.Setenv("ENV_UDP_SEND_INTERVAL", "250ms")
	t.Setenv("ENV_LEDGER_PATH", "/cache/ledger.db")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Pipeline.Runtime != "DSP" || cfg.Pipeline.OutputDir != "/cache" {
		t.Errorf("pipeline env overrides not applied: %+v", cfg.Pipeline)
	}
	if !cfg.Transport.UDPEnabled || cfg.Transport.UDPSendInterval != 250*time.Millisecond {
		t.Errorf("transport env overrides not applied: %+v", cfg.Transport)
	}
	if cfg.Ledger.Path != "/cache/ledger.db" {
		t.Errorf("ledger path = %q", cfg.Ledger.Path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"keep results", func(c *Config) { c.Pipeline.KeepResults = -1 }, "keep_results"},
		{"tx interval", func(c *Config) { c.Timing.TxInterval = 0 }, "timing"},
		{"min interval", func(c *Config) { c.Timing.MinInterval = -time.Millisecond }, "min_interval"},
		{"channels", func(c *Config) { c.DSP.Channels = 0 }, "dsp.channels"},
		{"sample rate", func(c *Config) { c.DSP.SampleRate = 100 }, "dsp.sample_rate"},
		{"fft len", func(c *Config) { c.DSP.FFTLen = 100 }, "dsp.fft_len"},
		{"frame size", func(c *Config) { c.DSP.FrameSize = 300 }, "dsp.frame_size"},
		{"gate policy", func(c *Config) { c.Gate.Policy = "vad" }, "gate.policy"},
		{"gate thresholds", func(c *Config) {
			c.Gate.Policy = GatePolicyEnergy
			c.Gate.CloseThreshold = 0.5
			c.Gate.OpenThreshold = 0.1
		}, "close_threshold"},
		{"gate band", func(c *Config) {
			c.Gate.Policy = GatePolicyEnergy
			c.Gate.HighHz = 100
		}, "gate band"},
		{"gate counts", func(c *Config) {
			c.Gate.Policy = GatePolicyEnergy
			c.Gate.CloseCount = 0
		}, "count"},
		{"wav without file", func(c *Config) { c.Capture.Kind = CaptureWAV }, "capture.file"},
		{"device", func(c *Config) {
			c.Capture.Kind = CapturePortAudio
			c.Capture.Device = -2
		}, "capture.device"},
		{"capture kind", func(c *Config) { c.Capture.Kind = "alsa" }, "capture.kind"},
		{"udp address", func(c *Config) {
			c.Transport.UDPEnabled = true
			c.Transport.UDPTargetAddress = "localhost"
		}, "udp_target_address"},
		{"udp interval", func(c *Config) {
			c.Transport.UDPEnabled = true
			c.Transport.UDPSendInterval = 0
		}, "udp_send_interval"},
		{"metrics addr", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Addr = ""
		}, "metrics.addr"},
		{"ledger path", func(c *Config) {
			c.Ledger.Enabled = true
			c.Ledger.Path = ""
		}, "ledger.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
