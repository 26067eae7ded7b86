// SPDX-License-Identifier: MIT
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	applog "doa/internal/log"
)

// ErrSenderClosed is returned by Send after Close.
var ErrSenderClosed = errors.New("UDP sender is closed")

// UDPSender writes result packets to a single peer.
type UDPSender struct {
	conn       *net.UDPConn
	targetAddr *net.UDPAddr
	mu         sync.Mutex // guards conn against Close
	closed     bool

	sent   atomic.Uint64
	failed atomic.Uint64
	log    *applog.Logger
}

// NewUDPSender dials targetAddress ("host:port").
func NewUDPSender(targetAddress string) (*UDPSender, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", targetAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP target address '%s': %w", targetAddress, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial UDP for target '%s': %w", targetAddress, err)
	}

	s := &UDPSender{conn: conn, targetAddr: udpAddr, log: applog.Named("udp")}
	s.log.Infof("sending results to %s", conn.RemoteAddr())
	return s, nil
}

// Send writes one packet. A failed write is counted and returned; the
// connection stays usable, so a missing listener never stops the publisher.
func (s *UDPSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSenderClosed
	}
	if _, err := s.conn.Write(data); err != nil {
		if s.failed.Add(1) == 1 {
			s.log.Warnf("send to %s failed: %v", s.targetAddr, err)
		}
		return fmt.Errorf("failed to send UDP packet: %w", err)
	}
	s.sent.Add(1)
	return nil
}

// Sent returns the number of packets written.
func (s *UDPSender) Sent() uint64 { return s.sent.Load() }

// Failed returns the number of writes that returned an error.
func (s *UDPSender) Failed() uint64 { return s.failed.Load() }

// Close closes the connection. Later calls are no-ops.
func (s *UDPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.log.Infof("closing connection to %s after %d packets (%d failed)", s.targetAddr, s.sent.Load(), s.failed.Load())
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close UDP connection: %w", err)
	}
	return nil
}
