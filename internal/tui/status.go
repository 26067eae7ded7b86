// SPDX-License-Identifier: MIT
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"doa/internal/doa"
)

// refreshInterval is how often the status view polls the pipeline.
const refreshInterval = 250 * time.Millisecond

// LastExecution is a doa.Reporter that remembers the newest execution for
// display.
type LastExecution struct {
	mu   sync.Mutex
	exec doa.Execution
	ok   bool
}

var _ doa.Reporter = (*LastExecution)(nil)

func (l *LastExecution) Report(e doa.Execution) {
	l.mu.Lock()
	l.exec, l.ok = e, true
	l.mu.Unlock()
}

// Get returns the newest execution, if any.
func (l *LastExecution) Get() (doa.Execution, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exec, l.ok
}

type tickMsg time.Time

// StatusModel shows pipeline counters and the latest execution.
type StatusModel struct {
	runID string
	stats func() doa.Stats
	last  *LastExecution
	level func() float64 // optional gate level

	snapshot doa.Stats
	exec     doa.Execution
	hasExec  bool
	started  time.Time
	now      time.Time
}

// NewStatusModel polls stats and last. level may be nil.
func NewStatusModel(runID string, stats func() doa.Stats, last *LastExecution, level func() float64) StatusModel {
	now := time.Now()
	return StatusModel{runID: runID, stats: stats, last: last, level: level, started: now, now: now}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m StatusModel) Init() tea.Cmd { return tick() }

func (m StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, quitKeys) {
			return m, tea.Quit
		}
	case tickMsg:
		m.now = time.Time(msg)
		m.snapshot = m.stats()
		if m.last != nil {
			m.exec, m.hasExec = m.last.Get()
		}
		return m, tick()
	}
	return m, nil
}

func (m StatusModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("DOA pipeline " + m.runID))
	sb.WriteString("\n\n")

	gate := warnStyle.Render("CLOSED")
	if m.snapshot.GateOpen {
		gate = highlightStyle.Render("OPEN")
	}
	fmt.Fprintf(&sb, "Gate:         %s (%d transitions)\n", gate, m.snapshot.GateTransitions)
	if m.level != nil {
		fmt.Fprintf(&sb, "Band level:   %.4f\n", m.level())
	}
	fmt.Fprintf(&sb, "Uptime:       %s\n", m.now.Sub(m.started).Truncate(time.Second))
	fmt.Fprintf(&sb, "Tx windows:   %d\n", m.snapshot.TxWindows)
	fmt.Fprintf(&sb, "Executions:   %d\n", m.snapshot.Executions)
	fmt.Fprintf(&sb, "Saved:        %d\n", m.snapshot.Saved)
	fmt.Fprintf(&sb, "Exec failed:  %d\n", m.snapshot.ExecFailures)
	fmt.Fprintf(&sb, "Save failed:  %d\n", m.snapshot.SaveFailures)

	if m.hasExec {
		fmt.Fprintf(&sb, "\nLast: #%d %s in %.3f seconds", m.exec.Index, m.exec.Status, m.exec.Latency.Seconds())
		if m.exec.OutputPath != "" {
			fmt.Fprintf(&sb, " -> %s", m.exec.OutputPath)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(infoStyle.Render("q: Stop pipeline"))
	return sb.String()
}

// RunStatus shows the status view until the user quits or ctx is done.
func RunStatus(ctx context.Context, model StatusModel) error {
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
