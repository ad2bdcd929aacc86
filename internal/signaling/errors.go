package signaling

import "errors"

// Sentinel errors for the signaling state machine, per spec §7 error kinds.
var (
	ErrMalformedFrame = errors.New("signaling: malformed frame")
	ErrPolicyDenied   = errors.New("signaling: policy denied")
	ErrAnswerTimeout  = errors.New("signaling: answer timeout")
	ErrPeerError      = errors.New("signaling: peer error")
)

// WebSocket close codes, per spec §4.D.
const (
	closeMalformed = 4400
	closePolicy    = 4403
	closeTimeout   = 4408
)
