// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"doa/internal/doa"
	applog "doa/internal/log"
)

// MaxValues caps the floats carried by one packet so it stays well below a
// typical MTU.
const MaxValues = 256

// UDPPublisher sends the outputs of the most recent successful execution on
// a fixed interval. It implements doa.Reporter; Report only copies values
// into a buffer and never touches the network.
type UDPPublisher struct {
	sender   *UDPSender
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // Protects ticker and doneChan during Start/Stop.

	// latest result, guarded by latestMu
	latestMu sync.Mutex
	latest   []float32
	result   int32
	pending  bool

	// publisher goroutine only
	sequenceNum  uint32
	values       []float32
	packetBuffer *bytes.Buffer
	log          *applog.Logger
}

var _ doa.Reporter = (*UDPPublisher)(nil)

// NewUDPPublisher creates a publisher. An interval <= 0 defaults to 100ms.
func NewUDPPublisher(interval time.Duration, sender *UDPSender) (*UDPPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}
	logger := applog.Named("udp")
	if interval <= 0 {
		interval = 100 * time.Millisecond
		logger.Warnf("invalid interval provided, defaulting to %s", interval)
	}
	logger.Infof("publisher initialised (interval: %s, max values: %d)", interval, MaxValues)

	return &UDPPublisher{
		sender:       sender,
		interval:     interval,
		latest:       make([]float32, 0, MaxValues),
		values:       make([]float32, 0, MaxValues),
		packetBuffer: new(bytes.Buffer),
		log:          logger,
	}, nil
}

// Report keeps the flattened outputs of successful executions.
func (p *UDPPublisher) Report(e doa.Execution) {
	if e.Status != doa.StatusOK {
		return
	}
	p.latestMu.Lock()
	defer p.latestMu.Unlock()
	p.latest = p.latest[:0]
	for _, o := range e.Outputs {
		n := min(len(o.Values), MaxValues-len(p.latest))
		p.latest = append(p.latest, o.Values[:n]...)
	}
	p.result = int32(e.Result)
	p.pending = true
}

// Start begins the periodic publishing process. Subsequent calls are no-ops
// while running.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		p.log.Warnf("Start called but already running")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	// Local copies so the goroutine never reads the fields.
	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.log.Infof("publisher goroutine started (interval: %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket()
			case <-doneChan:
				p.log.Infof("publisher goroutine received stop signal")
				return
			}
		}
	}()
}

// Stop signals the publisher goroutine and waits for it to exit. Safe to
// call more than once.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | Monotonically increasing|
| Timestamp         | int64          | 8            | Nanoseconds since epoch |
| Result Index      | int32          | 4            | Saved result index      |
| Value Count       | uint16         | 2            | Number of floats (N)    |
| Values            | []float32      | N * 4        | Flattened outputs       |
+-----------------------------------------------------------------------------+
*/

// HeaderSize is the packet size without values.
const HeaderSize = 4 + 8 + 4 + 2

// buildAndSendPacket sends the latest result if a new one arrived since the
// previous tick.
func (p *UDPPublisher) buildAndSendPacket() {
	p.latestMu.Lock()
	if !p.pending {
		p.latestMu.Unlock()
		return
	}
	p.values = append(p.values[:0], p.latest...)
	result := p.result
	p.pending = false
	p.latestMu.Unlock()

	p.sequenceNum++
	p.packetBuffer.Reset()

	err := binary.Write(p.packetBuffer, binary.BigEndian, p.sequenceNum)
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, time.Now().UnixNano())
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, result)
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, uint16(len(p.values)))
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, p.values)
	}
	if err != nil {
		p.log.Errorf("error packing data into binary buffer: %v", err)
		return
	}

	packetBytes := p.packetBuffer.Bytes()
	if err := p.sender.Send(packetBytes); err == nil {
		p.log.Debugf("sent packet %d (%d bytes)", p.sequenceNum, len(packetBytes))
	}
}

// Close stops the publisher goroutine.
func (p *UDPPublisher) Close() error {
	return p.Stop()
}

var _ interface{ Close() error } = (*UDPPublisher)(nil)
