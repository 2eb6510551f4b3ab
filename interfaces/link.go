package interfaces

import "context"

// Link is an active connection to one neighbouring peer.
type Link interface {
	// PeerID returns the identity of the peer at the far end of the link.
	PeerID() string

	// MTU returns the current maximum frame size in bytes.
	MTU() int

	// IsConnected reports whether the link can still carry frames.
	IsConnected() bool

	// Send hands one frame to the transport. It must not block past ctx.
	// A nil error means local hand-off succeeded, not that the peer received it.
	Send(ctx context.Context, frame []byte) error

	// Frames returns the inbound frame stream. The channel is closed when
	// the link disconnects.
	Frames() <-chan []byte

	// Close tears the link down.
	Close() error
}
