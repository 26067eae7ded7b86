// SPDX-License-Identifier: MIT
package audio

// EnergyGate turns a stream of normalised levels into an open/closed
// decision with hysteresis. It opens after openCount consecutive levels at or
// above the open threshold and closes after closeCount consecutive levels
// below the close threshold. Not safe for concurrent use.
type EnergyGate struct {
	openThreshold  float64
	closeThreshold float64
	openCount      int
	closeCount     int

	open bool
	run  int
}

// NewEnergyGate returns a closed gate. Counts below 1 are treated as 1.
func NewEnergyGate(openThreshold, closeThreshold float64, openCount, closeCount int) *EnergyGate {
	g := &EnergyGate{
		openCount:  max(1, openCount),
		closeCount: max(1, closeCount),
	}
	g.SetThresholds(openThreshold, closeThreshold)
	return g
}

// SetThresholds adjusts both thresholds.
// The values are in the range of 0.0-1.0 where 0=always open, 1=always closed.
// The close threshold never exceeds the open threshold.
func (g *EnergyGate) SetThresholds(open, close float64) {
	g.openThreshold = clamp01(open)
	g.closeThreshold = min(clamp01(close), g.openThreshold)
}

// Thresholds returns the open and close thresholds.
func (g *EnergyGate) Thresholds() (open, close float64) {
	return g.openThreshold, g.closeThreshold
}

// Update feeds one level and returns the resulting state.
func (g *EnergyGate) Update(level float64) bool {
	if g.open {
		if level < g.closeThreshold {
			g.run++
		} else {
			g.run = 0
		}
		if g.run >= g.closeCount {
			g.open, g.run = false, 0
		}
		return g.open
	}

	if level >= g.openThreshold {
		g.run++
	} else {
		g.run = 0
	}
	if g.run >= g.openCount {
		g.open, g.run = true, 0
	}
	return g.open
}

func (g *EnergyGate) Open() bool { return g.open }

// Reset closes the gate and clears pending counts.
func (g *EnergyGate) Reset() {
	g.open, g.run = false, 0
}

func clamp01(v float64) float64 {
	if v < 0.0 {
		return 0.0
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}
