package webrtc

import "github.com/pion/webrtc/v4"

// ChannelAdapter narrows a *webrtc.DataChannel down to the small interface
// internal/bridge needs, translating pion's DataChannelMessage callback into
// a plain byte slice so the bridge has no WebRTC import.
type ChannelAdapter struct {
	dc *webrtc.DataChannel
}

// NewChannelAdapter wraps an open DataChannel for bridge consumption.
func NewChannelAdapter(dc *webrtc.DataChannel) *ChannelAdapter {
	return &ChannelAdapter{dc: dc}
}

// Send writes a message. Binary type is bytes; text framing is left to
// pion, which already decodes text frames to UTF-8 bytes in Data.
func (c *ChannelAdapter) Send(data []byte) error {
	return c.dc.Send(data)
}

// BufferedAmount reports bytes queued for send but not yet acknowledged.
func (c *ChannelAdapter) BufferedAmount() uint64 {
	return c.dc.BufferedAmount()
}

// OnMessage registers a callback receiving the raw payload of every
// incoming message, string or binary.
func (c *ChannelAdapter) OnMessage(f func([]byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		f(msg.Data)
	})
}

// Close closes the underlying DataChannel.
func (c *ChannelAdapter) Close() error {
	return c.dc.Close()
}
