// SPDX-License-Identifier: MIT
package audio

// Device represents an audio device
type Device struct {
	ID                int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
}

// HostDevices returns all available audio devices. PortAudio must be
// initialized.
func HostDevices() ([]Device, error) {
	infos, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(infos))
	for i, info := range infos {
		if info == nil {
			continue
		}
		devices = append(devices, Device{
			ID:                i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
		})
	}
	return devices, nil
}

// InputDevices filters HostDevices to those that can capture at least
// channels channels.
func InputDevices(channels int) ([]Device, error) {
	all, err := HostDevices()
	if err != nil {
		return nil, err
	}
	var out []Device
	for _, d := range all {
		if d.MaxInputChannels >= channels {
			out = append(out, d)
		}
	}
	return out, nil
}
