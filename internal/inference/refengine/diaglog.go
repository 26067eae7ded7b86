// SPDX-License-Identifier: MIT
package refengine

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"doa/internal/inference"
)

// DiagDirName is the directory created under the configured log directory.
const DiagDirName = "diaglog"

type diagEvent struct {
	Time    time.Time `json:"time"`
	Event   string    `json:"event"`
	Outputs int       `json:"outputs,omitempty"`
}

// diagLogger writes one JSON object per line to <LogDir>/diaglog/session.jsonl.
type diagLogger struct {
	mu   sync.Mutex
	opts inference.DiagOptions
	f    *os.File
	w    *bufio.Writer
	enc  *json.Encoder
}

func (d *diagLogger) Options() inference.DiagOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts
}

func (d *diagLogger) Configure(opts inference.DiagOptions) error {
	if opts.LogDir == "" {
		return errors.New("diagnostic log directory is empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f != nil {
		return errors.New("diagnostic log already started")
	}
	d.opts = opts
	return nil
}

func (d *diagLogger) Start() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f != nil {
		return true
	}
	if d.opts.LogDir == "" {
		return false
	}
	dir := filepath.Join(d.opts.LogDir, DiagDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	f, err := os.OpenFile(filepath.Join(dir, "session.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return false
	}
	d.f = f
	d.w = bufio.NewWriter(f)
	d.enc = json.NewEncoder(d.w)
	_ = d.enc.Encode(diagEvent{Time: time.Now(), Event: "start"})
	return true
}

func (d *diagLogger) record(event string, outputs int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enc == nil {
		return
	}
	_ = d.enc.Encode(diagEvent{Time: time.Now(), Event: event, Outputs: outputs})
}

func (d *diagLogger) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	_ = d.enc.Encode(diagEvent{Time: time.Now(), Event: "stop"})
	err := errors.Join(d.w.Flush(), d.f.Close())
	d.f, d.w, d.enc = nil, nil, nil
	return err
}
