package telemetry

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/laptrace/internal/monitoring"
	"github.com/banshee-data/laptrace/internal/timeutil"
)

// UDPConfig configures a UDPSource.
type UDPConfig struct {
	// Listen is the UDP address to bind, e.g. ":9507".
	Listen string

	// StaleAfter bounds how old the latest frame may be before Poll reports
	// the source unavailable. Zero means 2 seconds.
	StaleAfter time.Duration
}

// udpEnvelope is the wire format pushed by a telemetry relay running next to
// the simulator. Each datagram carries either a frame or session metadata.
type udpEnvelope struct {
	Type    string       `json:"type"`
	Frame   *Frame       `json:"frame,omitempty"`
	Session *SessionInfo `json:"session,omitempty"`
}

// UDPSource adapts a datagram feed of JSON telemetry to the Source contract.
// A background goroutine keeps the latest frame and session metadata; Poll
// reads them without blocking, so a slow or dead relay looks the same as a
// simulator that is not running.
type UDPSource struct {
	conn       *net.UDPConn
	staleAfter time.Duration
	clock      timeutil.Clock

	mu        sync.Mutex
	frame     Frame
	haveFrame bool
	lastRecv  time.Time
	info      SessionInfo
	haveInfo  bool
	closed    bool
}

func NewUDPSource(cfg UDPConfig) (*UDPSource, error) {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Second
	}
	addr, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("resolve telemetry listen address %q: %w", cfg.Listen, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for telemetry on %q: %w", cfg.Listen, err)
	}

	s := &UDPSource{
		conn:       conn,
		staleAfter: cfg.StaleAfter,
		clock:      timeutil.RealClock{},
	}
	go s.readLoop()
	return s, nil
}

// Addr returns the bound listen address.
func (s *UDPSource) Addr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *UDPSource) readLoop() {
	buffer := make([]byte, 65536)
	for {
		n, _, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			monitoring.Logf("telemetry: udp read error: %v", err)
			continue
		}

		var env udpEnvelope
		if err := json.Unmarshal(buffer[:n], &env); err != nil {
			monitoring.Logf("telemetry: dropping malformed datagram: %v", err)
			continue
		}

		s.mu.Lock()
		switch {
		case env.Type == "frame" && env.Frame != nil:
			s.frame = *env.Frame
			s.haveFrame = true
			s.lastRecv = s.clock.Now()
		case env.Type == "session" && env.Session != nil:
			s.info = *env.Session
			s.haveInfo = true
		default:
			monitoring.Logf("telemetry: dropping datagram with unknown type %q", env.Type)
		}
		s.mu.Unlock()
	}
}

// Poll returns the most recently received frame. The feed counts as
// unavailable before the first frame arrives, after Close, and when the
// relay has gone quiet for longer than StaleAfter.
func (s *UDPSource) Poll() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.haveFrame {
		return Frame{}, ErrSourceUnavailable
	}
	if s.clock.Since(s.lastRecv) > s.staleAfter {
		return Frame{}, ErrSourceUnavailable
	}
	return s.frame, nil
}

func (s *UDPSource) SessionInfo() (SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.haveInfo {
		return SessionInfo{}, ErrSourceUnavailable
	}
	return s.info, nil
}

func (s *UDPSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.conn.Close()
}
