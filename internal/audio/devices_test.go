// SPDX-License-Identifier: MIT
package audio

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
)

var fakeDevices = []*portaudio.DeviceInfo{
	{Name: "Array Mic", MaxInputChannels: 8, DefaultSampleRate: 16000, DefaultLowInputLatency: 5 * time.Millisecond, DefaultHighInputLatency: 20 * time.Millisecond},
	{Name: "Speakers", MaxOutputChannels: 2, DefaultSampleRate: 48000},
	{Name: "Headset", MaxInputChannels: 1, MaxOutputChannels: 2, DefaultSampleRate: 44100},
}

func withFakeHost(t *testing.T, devices []*portaudio.DeviceInfo, err error) {
	t.Helper()
	origDevices, origDefault := paDevicesFunc, paDefaultInputDeviceFunc
	t.Cleanup(func() {
		paDevicesFunc, paDefaultInputDeviceFunc = origDevices, origDefault
	})
	paDevicesFunc = func() ([]*portaudio.DeviceInfo, error) { return devices, err }
	paDefaultInputDeviceFunc = func() (*portaudio.DeviceInfo, error) {
		if err != nil {
			return nil, err
		}
		return devices[0], nil
	}
}

func TestHostDevices(t *testing.T) {
	withFakeHost(t, fakeDevices, nil)

	devices, err := HostDevices()
	if err != nil {
		t.Fatalf("HostDevices error: %v", err)
	}
	if len(devices) != len(fakeDevices) {
		t.Fatalf("got %d devices, want %d", len(devices), len(fakeDevices))
	}
	for i, d := range devices {
		if d.ID != i {
			t.Errorf("Device ID mismatch: got %d, want %d", d.ID, i)
		}
		if d.Name != fakeDevices[i].Name {
			t.Errorf("Device %d name = %q, want %q", i, d.Name, fakeDevices[i].Name)
		}
	}

	inputs, err := InputDevices(8)
	if err != nil {
		t.Fatalf("InputDevices error: %v", err)
	}
	if len(inputs) != 1 || inputs[0].Name != "Array Mic" {
		t.Errorf("InputDevices(8) = %+v, want only the array mic", inputs)
	}
}

func TestHostDevices_paDevicesError(t *testing.T) {
	withFakeHost(t, nil, fmt.Errorf("mock error"))

	_, err := HostDevices()
	if err == nil || !strings.Contains(err.Error(), "mock error") {
		t.Errorf("expected mock error, got %v", err)
	}
}

func TestInputDevice(t *testing.T) {
	withFakeHost(t, fakeDevices, nil)

	dev, err := InputDevice(-1)
	if err != nil || dev.Name != "Array Mic" {
		t.Errorf("InputDevice(-1) = %v, %v; want default device", dev, err)
	}

	tests := []struct {
		name   string
		id     int
		substr string
	}{
		{"Valid input device", 2, ""},
		{"Negative ID", -2, "invalid device ID"},
		{"Too high ID", len(fakeDevices) + 10, "invalid device ID"},
		{"Non-input device", 1, "no input channels"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := InputDevice(tt.id)
			if tt.substr == "" {
				if err != nil {
					t.Errorf("InputDevice(%d) error: %v", tt.id, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("Error = %v, want substring %q", err, tt.substr)
			}
		})
	}
}

func TestInputDevice_paDefaultInputDeviceError(t *testing.T) {
	withFakeHost(t, nil, fmt.Errorf("mock default input error"))

	_, err := InputDevice(-1)
	if err == nil || !strings.Contains(err.Error(), "mock default input error") {
		t.Errorf("expected mock error, got %v", err)
	}
}

func TestErrorInitialize(t *testing.T) {
	orig := paInitializeFunc
	defer func() { paInitializeFunc = orig }()

	paInitializeFunc = func() error { return nil }
	if err := Initialize(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	paInitializeFunc = func() error { return fmt.Errorf("mock init error") }
	if err := Initialize(); err == nil || !strings.Contains(err.Error(), "mock init error") {
		t.Errorf("expected mock init error, got %v", err)
	}
}

func TestErrorTerminate(t *testing.T) {
	orig := paTerminateFunc
	defer func() { paTerminateFunc = orig }()

	paTerminateFunc = func() error { return nil }
	if err := Terminate(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	paTerminateFunc = func() error { return fmt.Errorf("mock term error") }
	if err := Terminate(); err == nil || !strings.Contains(err.Error(), "mock term error") {
		t.Errorf("expected mock term error, got %v", err)
	}
}

func TestListDevices(t *testing.T) {
	withFakeHost(t, fakeDevices, nil)

	var buf bytes.Buffer
	if err := ListDevices(&buf); err != nil {
		t.Fatalf("ListDevices error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"[0] Array Mic (Input)",
		"[1] Speakers (Output)",
		"[2] Headset (Input/Output)",
		"Latency: Low=5.00ms, High=20.00ms",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestNewPortAudioSourceValidation(t *testing.T) {
	withFakeHost(t, fakeDevices, nil)

	if _, err := NewPortAudioSource(PortAudioConfig{DeviceID: 2, Channels: 8, FramesPerBuffer: 128, SampleRate: 16000}); err == nil {
		t.Error("expected error for a device with too few input channels")
	}
	if _, err := NewPortAudioSource(PortAudioConfig{DeviceID: -1, Channels: 0, FramesPerBuffer: 128}); err == nil {
		t.Error("expected error for zero channels")
	}

	src, err := NewPortAudioSource(PortAudioConfig{DeviceID: -1, Channels: 2, FramesPerBuffer: 4, SampleRate: 16000, LowLatency: true})
	if err != nil {
		t.Fatalf("NewPortAudioSource: %v", err)
	}
	if src.inputLatency != 5*time.Millisecond {
		t.Errorf("low latency not selected: %v", src.inputLatency)
	}

	// Feed the callback directly and read back deinterleaved samples.
	src.processInputStream([]int32{1 << 30, -(1 << 30), 0, 0, 1 << 29, 0, 0, 0})
	dst := [][]float32{make([]float32, 4), make([]float32, 4), make([]float32, 4)}
	if err := src.ReadFrame(dst); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if dst[0][0] != 0.5 || dst[1][0] != -0.5 || dst[0][2] != 0.25 {
		t.Errorf("unexpected samples: %v", dst)
	}
	for _, v := range dst[2] {
		if v != 0 {
			t.Errorf("lane beyond channel count not zeroed: %v", dst[2])
			break
		}
	}
	if src.Callbacks() != 1 {
		t.Errorf("Callbacks() = %d, want 1", src.Callbacks())
	}
	if err := src.Close(); err != nil {
		t.Errorf("Close on a never-started source: %v", err)
	}
}

func BenchmarkProcessInputStream(b *testing.B) {
	src := &PortAudioSource{
		config:      PortAudioConfig{Channels: 8, FramesPerBuffer: 128},
		inputBuffer: make([]int32, 8*128),
		latest:      make([]int32, 8*128),
	}
	in := make([]int32, 8*128)
	for i := range in {
		in[i] = int32((i%256 - 128) * 1000000)
	}

	b.ReportAllocs()
	for b.Loop() {
		src.processInputStream(in)
	}
}
