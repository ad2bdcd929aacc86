// Package protocol defines the JSON wire types exchanged over the signaling
// WebSocket and the sidecar HTTP/WS ingress.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Event names carried in a SignalingMessage's "event" field.
const (
	EventOffer     = "offer"
	EventAnswer    = "answer"
	EventCandidate = "candidate"
)

// SDPPayload is the "data" field of an offer/answer SignalingMessage.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// CandidatePayload is the "data" field of a candidate SignalingMessage.
type CandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *int    `json:"sdpMLineIndex,omitempty"`
}

// SignalingMessage is the tagged envelope used by the /websocket and /signal
// endpoints: {"event": "offer"|"answer"|"candidate", "data": {...}}.
type SignalingMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewOffer builds an offer SignalingMessage.
func NewOffer(sdp string) (SignalingMessage, error) {
	return newSDPMessage(EventOffer, sdp)
}

// NewAnswer builds an answer SignalingMessage.
func NewAnswer(sdp string) (SignalingMessage, error) {
	return newSDPMessage(EventAnswer, sdp)
}

func newSDPMessage(event, sdp string) (SignalingMessage, error) {
	data, err := json.Marshal(SDPPayload{Type: event, SDP: sdp})
	if err != nil {
		return SignalingMessage{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return SignalingMessage{Event: event, Data: data}, nil
}

// SDP decodes the message's data as an SDPPayload. Valid only for
// offer/answer events.
func (m SignalingMessage) SDP() (SDPPayload, error) {
	var p SDPPayload
	if err := json.Unmarshal(m.Data, &p); err != nil {
		return SDPPayload{}, fmt.Errorf("decode sdp payload: %w", err)
	}
	return p, nil
}

// Candidate decodes the message's data as a CandidatePayload. Valid only for
// candidate events.
func (m SignalingMessage) Candidate() (CandidatePayload, error) {
	var p CandidatePayload
	if err := json.Unmarshal(m.Data, &p); err != nil {
		return CandidatePayload{}, fmt.Errorf("decode candidate payload: %w", err)
	}
	return p, nil
}

// HelloFrame is the optional first client frame carrying auth and backend
// selection (spec §4.D AwaitClient).
type HelloFrame struct {
	Token   string `json:"token"`
	Backend *struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"backend"`
}
