// SPDX-License-Identifier: MIT

// Package tui holds the terminal screens: an input device picker and a live
// pipeline status view.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"doa/internal/audio"
	"doa/internal/config"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E8A33D")).
			Bold(true)
)

var (
	quitKeys   = key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"))
	upKeys     = key.NewBinding(key.WithKeys("up", "k"))
	downKeys   = key.NewBinding(key.WithKeys("down", "j"))
	selectKeys = key.NewBinding(key.WithKeys("enter"))
)

type devicesMsg struct {
	devices []audio.Device
}

type errMsg struct {
	err error
}

// DeviceListModel lets the user pick an input device that can capture the
// pipeline's channel count.
type DeviceListModel struct {
	channels      int
	fetch         func(channels int) ([]audio.Device, error)
	devices       []audio.Device
	selectedIndex int
	chosen        int
	viewport      viewport.Model
	ready         bool
	err           error
}

// NewDeviceListModel lists devices with at least channels inputs.
func NewDeviceListModel(channels int) DeviceListModel {
	return DeviceListModel{
		channels: channels,
		fetch:    audio.InputDevices,
		chosen:   config.MinDeviceID,
	}
}

// Init fetches the device list.
func (m DeviceListModel) Init() tea.Cmd {
	fetch, channels := m.fetch, m.channels
	return func() tea.Msg {
		devices, err := fetch(channels)
		if err != nil {
			return errMsg{err}
		}
		return devicesMsg{devices}
	}
}

func (m DeviceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.viewport.Style = lipgloss.NewStyle()
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.viewport.SetContent(m.renderDevices())

	case devicesMsg:
		m.devices = msg.devices
		m.viewport.SetContent(m.renderDevices())

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, quitKeys):
			return m, tea.Quit
		case key.Matches(msg, upKeys):
			if m.selectedIndex > 0 {
				m.selectedIndex--
				m.viewport.SetContent(m.renderDevices())
			}
		case key.Matches(msg, downKeys):
			if m.selectedIndex < len(m.devices)-1 {
				m.selectedIndex++
				m.viewport.SetContent(m.renderDevices())
			}
		case key.Matches(msg, selectKeys):
			if len(m.devices) > 0 {
				m.chosen = m.devices[m.selectedIndex].ID
				return m, tea.Quit
			}
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the UI
func (m DeviceListModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress q to exit.", m.err)
	}
	if !m.ready {
		return "Initializing..."
	}
	title := titleStyle.Render(fmt.Sprintf("Input Devices (%d+ channels)", m.channels))
	help := infoStyle.Render("↑/↓: Navigate • Enter: Select • q: Default device")
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

// Chosen returns the selected device ID, or config.MinDeviceID when the user
// left without choosing.
func (m DeviceListModel) Chosen() int { return m.chosen }

func (m DeviceListModel) renderDevices() string {
	if len(m.devices) == 0 {
		return "No input device with enough channels found."
	}

	var sb strings.Builder
	for i, device := range m.devices {
		info := fmt.Sprintf("[%d] %s\n", device.ID, device.Name)
		info += fmt.Sprintf("    Input channels: %d\n", device.MaxInputChannels)
		info += fmt.Sprintf("    Default sample rate: %.0f Hz\n", device.DefaultSampleRate)

		if i == m.selectedIndex {
			info = highlightStyle.Render(info)
		}
		sb.WriteString(info)
		sb.WriteString("\n")
	}
	return sb.String()
}

// SelectDevice runs the picker and returns the chosen device ID.
func SelectDevice(channels int) (int, error) {
	final, err := tea.NewProgram(NewDeviceListModel(channels), tea.WithAltScreen()).Run()
	if err != nil {
		return config.MinDeviceID, err
	}
	m := final.(DeviceListModel)
	if m.err != nil {
		return config.MinDeviceID, m.err
	}
	return m.Chosen(), nil
}
