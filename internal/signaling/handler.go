// Package signaling implements the WebRTC offer/answer/ICE handshake over
// a WebSocket, handing completed sessions off to internal/bridge.
package signaling

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/oharashane/cs16relay/internal/bridge"
	"github.com/oharashane/cs16relay/internal/config"
	"github.com/oharashane/cs16relay/internal/metrics"
	"github.com/oharashane/cs16relay/internal/protocol"
	"github.com/oharashane/cs16relay/internal/session"
	relaywebrtc "github.com/oharashane/cs16relay/internal/webrtc"
)

// Handler serves the /websocket and /signal endpoints. One Handler is
// shared across all connections; all mutable state lives in the Registry.
type Handler struct {
	Config   *config.Config
	Metrics  *metrics.Registry
	Registry *session.Registry
	Logger   *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// ServeHTTP upgrades the request to a WebSocket and runs the signaling
// state machine to completion.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger().Warn("signaling: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	if err := h.run(r.Context(), conn); err != nil {
		h.logger().Debug("signaling: session ended", "err", err)
	}
}

func (h *Handler) run(ctx context.Context, conn *websocket.Conn) error {
	hello, err := h.awaitClient(ctx, conn)
	if err != nil {
		return err
	}

	backendHost := h.Config.DefaultHost
	backendPort := h.Config.DefaultPort
	if hello.Backend != nil {
		backendHost = hello.Backend.Host
		backendPort = hello.Backend.Port
	}

	backendAddr, err := netip.ParseAddr(backendHost)
	if err != nil || !h.Config.BackendPolicy.Allowed(backendHost) {
		conn.Close(closePolicy, "backend not allowed")
		return ErrPolicyDenied
	}
	backend := netip.AddrPortFrom(backendAddr, uint16(backendPort))

	peer, err := relaywebrtc.NewPeerSession(nil)
	if err != nil {
		conn.Close(websocket.StatusCode(closeMalformed), "peer setup failed")
		return fmt.Errorf("%w: %v", ErrPeerError, err)
	}

	var writeDC, readDC *webrtc.DataChannel
	if h.Config.ClientInitiated {
		writeDC, readDC, err = h.clientInitiatedHandshake(ctx, conn, peer)
	} else {
		writeDC, readDC, err = h.serverInitiatedHandshake(ctx, conn, peer)
	}
	if err != nil {
		peer.Close()
		return err
	}

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		peer.Close()
		conn.Close(websocket.StatusInternalError, "udp bind failed")
		return fmt.Errorf("udp listen: %w", err)
	}

	id := uuid.NewString()
	sess := &bridge.Session{
		ID:                id,
		Write:             relaywebrtc.NewChannelAdapter(writeDC),
		Read:              relaywebrtc.NewChannelAdapter(readDC),
		Conn:              udpConn,
		Backend:           backend,
		Metrics:           h.Metrics,
		IdleTimeout:       h.Config.IdleTimeout,
		BufferedAmountMax: uint64(h.Config.BufferedAmountMax),
	}

	entry := &session.Entry{ID: id, Close: sess.Close}
	h.Registry.Add(entry)
	sess.OnClose = func() { h.Registry.Remove(id) }

	// A backend can keep emitting UDP traffic after the browser peer is
	// long gone, which would otherwise hide a dead peer from the idle
	// reaper. Mark the bridge session directly on any terminal
	// PeerConnection state instead of waiting on IdleTimeout alone.
	peer.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			sess.MarkPeerDisconnected()
		}
	})

	iceCtx, cancelIce := context.WithCancel(ctx)
	go h.iceExchange(iceCtx, conn, peer)

	bridgeErr := sess.Run(ctx)
	cancelIce()
	peer.Close()
	conn.Close(websocket.StatusNormalClosure, "")
	return bridgeErr
}

// awaitClient reads the mandatory first frame, whose token/backend fields
// are each optional, enforces auth if configured, and returns it.
func (h *Handler) awaitClient(ctx context.Context, conn *websocket.Conn) (protocol.HelloFrame, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return protocol.HelloFrame{}, err
	}

	var hello protocol.HelloFrame
	if err := json.Unmarshal(data, &hello); err != nil {
		conn.Close(websocket.StatusCode(closeMalformed), "malformed hello frame")
		return protocol.HelloFrame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if !h.Config.ClientInitiated {
		var env protocol.SignalingMessage
		if json.Unmarshal(data, &env) == nil && env.Event == protocol.EventOffer {
			conn.Close(websocket.StatusCode(closeMalformed), "client offer not accepted")
			return protocol.HelloFrame{}, ErrMalformedFrame
		}
	}

	if h.Config.AuthToken != "" {
		if subtle.ConstantTimeCompare([]byte(hello.Token), []byte(h.Config.AuthToken)) != 1 {
			conn.Close(websocket.StatusCode(closePolicy), "auth denied")
			return protocol.HelloFrame{}, ErrPolicyDenied
		}
	}
	return hello, nil
}

func (h *Handler) serverInitiatedHandshake(ctx context.Context, conn *websocket.Conn, peer *relaywebrtc.PeerSession) (write, read *webrtc.DataChannel, err error) {
	offerSDP, err := peer.CreateOffer(ctx)
	if err != nil {
		conn.Close(websocket.StatusCode(closeMalformed), "peer error")
		return nil, nil, fmt.Errorf("%w: %v", ErrPeerError, err)
	}
	offerMsg, err := protocol.NewOffer(offerSDP)
	if err != nil {
		return nil, nil, err
	}
	if err := writeJSON(ctx, conn, offerMsg); err != nil {
		return nil, nil, err
	}

	answerCtx, cancel := context.WithTimeout(ctx, relaywebrtc.AnswerTimeout)
	defer cancel()
	_, data, err := conn.Read(answerCtx)
	if err != nil {
		conn.Close(websocket.StatusCode(closeTimeout), "answer timeout")
		return nil, nil, fmt.Errorf("%w: %v", ErrAnswerTimeout, err)
	}

	var msg protocol.SignalingMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Event != protocol.EventAnswer {
		conn.Close(websocket.StatusCode(closeMalformed), "expected answer")
		return nil, nil, ErrMalformedFrame
	}
	sdp, err := msg.SDP()
	if err != nil {
		conn.Close(websocket.StatusCode(closeMalformed), "malformed answer")
		return nil, nil, ErrMalformedFrame
	}
	if err := peer.SetAnswer(sdp.SDP); err != nil {
		conn.Close(websocket.StatusCode(closeMalformed), "peer error")
		return nil, nil, fmt.Errorf("%w: %v", ErrPeerError, err)
	}

	return peer.WaitForDataChannels(ctx)
}

func (h *Handler) clientInitiatedHandshake(ctx context.Context, conn *websocket.Conn, peer *relaywebrtc.PeerSession) (write, read *webrtc.DataChannel, err error) {
	offerCtx, cancel := context.WithTimeout(ctx, relaywebrtc.AnswerTimeout)
	defer cancel()
	_, data, err := conn.Read(offerCtx)
	if err != nil {
		conn.Close(websocket.StatusCode(closeTimeout), "offer timeout")
		return nil, nil, fmt.Errorf("%w: %v", ErrAnswerTimeout, err)
	}

	var msg protocol.SignalingMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Event != protocol.EventOffer {
		conn.Close(websocket.StatusCode(closeMalformed), "expected offer")
		return nil, nil, ErrMalformedFrame
	}
	sdp, err := msg.SDP()
	if err != nil {
		conn.Close(websocket.StatusCode(closeMalformed), "malformed offer")
		return nil, nil, ErrMalformedFrame
	}

	answerSDP, err := peer.AdoptOffer(ctx, sdp.SDP)
	if err != nil {
		conn.Close(websocket.StatusCode(closeMalformed), "peer error")
		return nil, nil, fmt.Errorf("%w: %v", ErrPeerError, err)
	}
	answerMsg, err := protocol.NewAnswer(answerSDP)
	if err != nil {
		return nil, nil, err
	}
	if err := writeJSON(ctx, conn, answerMsg); err != nil {
		return nil, nil, err
	}

	return peer.WaitForDataChannels(ctx)
}

// iceExchange forwards candidate frames to the peer until the connection
// closes. Malformed or unrecognized frames are ignored silently, per spec.
func (h *Handler) iceExchange(ctx context.Context, conn *websocket.Conn, peer *relaywebrtc.PeerSession) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg protocol.SignalingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Event != protocol.EventCandidate {
			continue
		}
		cand, err := msg.Candidate()
		if err != nil {
			continue
		}
		init := webrtc.ICECandidateInit{
			Candidate:     cand.Candidate,
			SDPMid:        cand.SDPMid,
			SDPMLineIndex: toUint16Ptr(cand.SDPMLineIndex),
		}
		_ = peer.AddICECandidate(init)
	}
}

func toUint16Ptr(i *int) *uint16 {
	if i == nil {
		return nil
	}
	v := uint16(*i)
	return &v
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
