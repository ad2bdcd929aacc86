// Package bridge pumps packets between a peer transport (a pair of WebRTC
// DataChannels) and a UDP game server backend.
package bridge

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oharashane/cs16relay/internal/metrics"
)

const (
	readBufferSize = 2048

	// DefaultBufferedAmountMax is the backpressure threshold on the
	// "read" channel, literal per spec §4.F/§9.
	DefaultBufferedAmountMax = 256 * 1024

	reaperTick = time.Second
)

// ErrIdleTimeout ends the idle reaper when no traffic was seen for longer
// than IdleTimeout. It is not a failure: Run reports it as a nil error.
var ErrIdleTimeout = errors.New("bridge: idle timeout")

// ErrPeerDisconnected ends the idle reaper once MarkPeerDisconnected was
// called, signaling that the underlying peer connection closed or failed.
// Like ErrIdleTimeout, this is a graceful session close, and Run reports it
// as a nil error.
var ErrPeerDisconnected = errors.New("bridge: peer disconnected")

// Channel is the minimal surface Session needs from a peer transport,
// satisfied by internal/webrtc.ChannelAdapter for the signaling path.
type Channel interface {
	Send([]byte) error
	BufferedAmount() uint64
	OnMessage(func([]byte))
	Close() error
}

// Session bridges one peer (via Write/Read channels) to one UDP backend.
// Zero value is not usable; construct with all exported fields set before
// calling Run.
type Session struct {
	ID      string
	Write   Channel // client -> server messages arrive here
	Read    Channel // server -> client messages are sent here
	Conn    *net.UDPConn
	Backend netip.AddrPort
	Metrics *metrics.Registry

	IdleTimeout       time.Duration
	BufferedAmountMax uint64

	// OnClose, if set, is invoked exactly once when the session finishes,
	// for any reason. Used by callers to deregister from a session.Registry.
	OnClose func()

	lastActivity     atomic.Int64
	peerDisconnected atomic.Bool
	closeOnce        sync.Once
}

// MarkPeerDisconnected tells Run the peer connection itself closed or
// failed, independent of UDP traffic on the backend socket. Without this,
// a backend that keeps emitting snapshots (typical for a live dedicated
// server) would mask a dead peer from the idle reaper indefinitely. Wired
// from internal/webrtc.PeerSession.OnConnectionStateChange by the
// signaling handler. Safe to call more than once or concurrently.
func (s *Session) MarkPeerDisconnected() {
	s.peerDisconnected.Store(true)
}

// Run wires the DC→UDP callback, then runs the UDP→DC pump and the idle
// reaper concurrently until either finishes or ctx is cancelled. It always
// calls Close before returning. A nil error means the session ended
// normally (peer disconnect, idle timeout, or context cancellation).
func (s *Session) Run(ctx context.Context) error {
	if s.BufferedAmountMax == 0 {
		s.BufferedAmountMax = DefaultBufferedAmountMax
	}
	s.touch()

	s.Write.OnMessage(func(data []byte) {
		s.touch()
		payload := append([]byte(nil), data...)
		if _, err := s.Conn.WriteToUDPAddrPort(payload, s.Backend); err != nil {
			// TransientIoError: counted as a drop, session continues.
			return
		}
		if s.Metrics != nil {
			s.Metrics.PktToUDP.Inc()
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pumpUDPToChannel(gctx) })
	g.Go(func() error { return s.idleReaper(gctx) })

	err := g.Wait()
	s.Close()

	if errors.Is(err, ErrIdleTimeout) || errors.Is(err, ErrPeerDisconnected) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Session) pumpUDPToChannel(ctx context.Context) error {
	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.Conn.SetReadDeadline(time.Now().Add(reaperTick))
		n, _, err := s.Conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			// Non-transient socket failure ends the session: the error
			// cancels the reaper and is returned by Run.
			return err
		}
		s.touch()

		if s.Read.BufferedAmount() >= s.BufferedAmountMax {
			continue // backpressure drop
		}
		payload := append([]byte(nil), buf[:n]...)
		if err := s.Read.Send(payload); err == nil && s.Metrics != nil {
			s.Metrics.PktToDC.Inc()
		}
	}
}

// idleReaper ends the session on the first of: a marked peer disconnect,
// or no traffic for longer than IdleTimeout.
func (s *Session) idleReaper(ctx context.Context) error {
	ticker := time.NewTicker(reaperTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.peerDisconnected.Load() {
				return ErrPeerDisconnected
			}
			last := time.Unix(0, s.lastActivity.Load())
			if time.Since(last) > s.IdleTimeout {
				return ErrIdleTimeout
			}
		}
	}
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// Close releases the UDP socket and closes both channels. Safe to call
// concurrently and more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.Write != nil {
			s.Write.Close()
		}
		if s.Read != nil {
			s.Read.Close()
		}
		if s.Conn != nil {
			s.Conn.Close()
		}
		if s.OnClose != nil {
			s.OnClose()
		}
	})
}
