package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// FlexBytes decodes a JSON value that may be raw bytes (base64 text, as
// encoding/json already does for []byte), a bare base64 string, or an array
// of octets — and always marshals back out as an array of octets.
// Grounded on original_source's GamePacket pydantic field_validator, which
// accepts the same three shapes.
type FlexBytes []byte

// UnmarshalJSON accepts a JSON string — decoded as base64 first, falling
// back to a byte-per-rune (latin-1) reading of the text if it isn't valid
// base64 — or a JSON array of octets.
func (f *FlexBytes) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if decoded, err := base64.StdEncoding.DecodeString(asString); err == nil {
			*f = decoded
			return nil
		}
		runes := []rune(asString)
		raw := make([]byte, len(runes))
		for i, r := range runes {
			raw[i] = byte(r)
		}
		*f = raw
		return nil
	}

	var asInts []int
	if err := json.Unmarshal(data, &asInts); err == nil {
		raw := make([]byte, len(asInts))
		for i, v := range asInts {
			raw[i] = byte(v)
		}
		*f = raw
		return nil
	}

	return fmt.Errorf("flexbytes: unsupported encoding %q", string(data))
}

// MarshalJSON always emits an octet array, matching unified_server.py's
// "data": list(data) on the /ws-from-go egress path — the only path that
// ever marshals a GamePacket back out. Base64 remains an accepted input
// shape in UnmarshalJSON but is never produced.
func (f FlexBytes) MarshalJSON() ([]byte, error) {
	octets := make([]int, len(f))
	for i, b := range f {
		octets[i] = int(b)
	}
	return json.Marshal(octets)
}

// ClientIP is the 4-octet client identity used to key sidecar sessions.
type ClientIP [4]byte

// UnmarshalJSON accepts a JSON array of 4 numbers.
func (c *ClientIP) UnmarshalJSON(data []byte) error {
	var octets []int
	if err := json.Unmarshal(data, &octets); err != nil {
		return fmt.Errorf("client_ip: %w", err)
	}
	if len(octets) != 4 {
		return fmt.Errorf("client_ip: expected 4 octets, got %d", len(octets))
	}
	for i, v := range octets {
		c[i] = byte(v)
	}
	return nil
}

// MarshalJSON emits the IP as a JSON array of 4 numbers.
func (c ClientIP) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{int(c[0]), int(c[1]), int(c[2]), int(c[3])})
}

// GamePacket is the sidecar ingress/egress envelope: {"client_ip":[...],
// "data": <bytes|base64|octet-array>}.
type GamePacket struct {
	ClientIP ClientIP  `json:"client_ip"`
	Data     FlexBytes `json:"data"`
}
