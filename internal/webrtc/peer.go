// Package webrtc wraps pion/webrtc peer connections into the two-channel
// ("write", "read") session shape the relay bridges to UDP.
package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// Channel labels fixed by the signaling handshake.
const (
	LabelWrite = "write" // browser -> relay game packets
	LabelRead  = "read"  // relay -> browser game packets
)

var falseVal = false
var zeroRetransmits uint16 = 0

func unreliableUnordered() *webrtc.DataChannelInit {
	return &webrtc.DataChannelInit{
		Ordered:        &falseVal,
		MaxRetransmits: &zeroRetransmits,
	}
}

// AnswerTimeout bounds how long a server-initiated offer waits for the
// browser's answer before the signaling handler gives up on the session.
const AnswerTimeout = 10 * time.Second

// PeerSession wraps one pion/webrtc.PeerConnection plus its "write" and
// "read" DataChannels for a single relay session.
type PeerSession struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	dcWrite *webrtc.DataChannel
	dcRead  *webrtc.DataChannel
	closed  bool
}

// NewPeerSession creates a PeerConnection with the given ICE servers. Pass
// nil for host-candidate-only ICE (no STUN or TURN server).
func NewPeerSession(iceServers []webrtc.ICEServer) (*PeerSession, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return &PeerSession{pc: pc}, nil
}

// CreateOffer creates both DataChannels, builds an SDP offer, sets it as the
// local description, waits for ICE gathering to complete, and returns the
// offer SDP. This is the server-initiated handshake variant.
func (s *PeerSession) CreateOffer(ctx context.Context) (string, error) {
	dcWrite, err := s.pc.CreateDataChannel(LabelWrite, unreliableUnordered())
	if err != nil {
		return "", fmt.Errorf("create write channel: %w", err)
	}
	dcRead, err := s.pc.CreateDataChannel(LabelRead, unreliableUnordered())
	if err != nil {
		return "", fmt.Errorf("create read channel: %w", err)
	}
	s.mu.Lock()
	s.dcWrite = dcWrite
	s.dcRead = dcRead
	s.mu.Unlock()

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	local := s.pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("no local description after ICE gathering")
	}
	return local.SDP, nil
}

// SetAnswer applies the browser's SDP answer for the server-initiated
// variant.
func (s *PeerSession) SetAnswer(sdp string) error {
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// AdoptOffer handles the client-initiated variant: sets the browser's offer
// as the remote description, adopts the "write"/"read" DataChannels as they
// arrive via OnDataChannel, and returns the answer SDP.
func (s *PeerSession) AdoptOffer(ctx context.Context, sdp string) (string, error) {
	dcReady := make(chan struct{})
	var once sync.Once
	s.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		s.mu.Lock()
		switch dc.Label() {
		case LabelWrite:
			s.dcWrite = dc
		case LabelRead:
			s.dcRead = dc
		}
		ready := s.dcWrite != nil && s.dcRead != nil
		s.mu.Unlock()
		if ready {
			once.Do(func() { close(dcReady) })
		}
	})

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	local := s.pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("no local description after ICE gathering")
	}

	select {
	case <-dcReady:
	case <-ctx.Done():
		return local.SDP, ctx.Err()
	}
	return local.SDP, nil
}

// AddICECandidate adds a remote ICE candidate.
func (s *PeerSession) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return s.pc.AddICECandidate(candidate)
}

// WaitForDataChannels blocks until both the "write" and "read" channels
// reach the open state, or ctx is done.
func (s *PeerSession) WaitForDataChannels(ctx context.Context) (write, read *webrtc.DataChannel, err error) {
	s.mu.Lock()
	dcWrite, dcRead := s.dcWrite, s.dcRead
	s.mu.Unlock()
	if dcWrite == nil || dcRead == nil {
		return nil, nil, fmt.Errorf("data channels not created")
	}

	writeOpen := make(chan struct{})
	readOpen := make(chan struct{})
	if dcWrite.ReadyState() == webrtc.DataChannelStateOpen {
		close(writeOpen)
	} else {
		dcWrite.OnOpen(func() { close(writeOpen) })
	}
	if dcRead.ReadyState() == webrtc.DataChannelStateOpen {
		close(readOpen)
	} else {
		dcRead.OnOpen(func() { close(readOpen) })
	}

	for writeOpen != nil || readOpen != nil {
		select {
		case <-writeOpen:
			writeOpen = nil
		case <-readOpen:
			readOpen = nil
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	return dcWrite, dcRead, nil
}

// Close closes the peer connection and both DataChannels. Idempotent.
func (s *PeerSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dcWrite, dcRead := s.dcWrite, s.dcRead
	s.mu.Unlock()

	if dcWrite != nil {
		dcWrite.Close()
	}
	if dcRead != nil {
		dcRead.Close()
	}
	return s.pc.Close()
}

// ConnectionState returns the underlying PeerConnection state.
func (s *PeerSession) ConnectionState() webrtc.PeerConnectionState {
	return s.pc.ConnectionState()
}

// OnConnectionStateChange registers a callback invoked on peer connection
// state transitions, used by the signaling handler to mark the bridge
// session disconnected when the connection fails or closes.
func (s *PeerSession) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	s.pc.OnConnectionStateChange(f)
}
