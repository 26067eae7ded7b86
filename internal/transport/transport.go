// SPDX-License-Identifier: MIT

// Package transport publishes execution results to external consumers.
package transport

import (
	"errors"

	"doa/internal/doa"
)

// Transport defines a generic interface for sending processed data or events.
// Implementations should be thread-safe and must not block in Send.
type Transport interface {
	Send(data any) error
	Close() error
}

// ResultMessage is the JSON document sent for every execution.
type ResultMessage struct {
	Type      string       `json:"type"`
	RunID     string       `json:"run_id"`
	Index     uint64       `json:"index"`
	Result    int          `json:"result"`
	Status    doa.Status   `json:"status"`
	Error     string       `json:"error,omitempty"`
	LatencyMS float64      `json:"latency_ms"`
	Outputs   []doa.Output `json:"outputs,omitempty"`
}

// NewResultMessage converts an execution into its wire form.
func NewResultMessage(e doa.Execution) ResultMessage {
	m := ResultMessage{
		Type:      "doa_result",
		RunID:     e.RunID,
		Index:     e.Index,
		Result:    e.Result,
		Status:    e.Status,
		LatencyMS: float64(e.Latency.Microseconds()) / 1000,
		Outputs:   e.Outputs,
	}
	if e.Err != nil {
		m.Error = e.Err.Error()
	}
	return m
}

// Publisher forwards every execution to a set of transports.
type Publisher struct {
	transports []Transport
}

var _ doa.Reporter = (*Publisher)(nil)

// NewPublisher fans executions out to transports.
func NewPublisher(transports ...Transport) *Publisher {
	return &Publisher{transports: transports}
}

func (p *Publisher) Report(e doa.Execution) {
	msg := NewResultMessage(e)
	for _, t := range p.transports {
		_ = t.Send(msg)
	}
}

// Close closes every transport.
func (p *Publisher) Close() error {
	var errs []error
	for _, t := range p.transports {
		errs = append(errs, t.Close())
	}
	return errors.Join(errs...)
}
