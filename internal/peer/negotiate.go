package peer

import "context"

// Channel is an established direct link to one peer.
type Channel interface {
	Send(ctx context.Context, payload []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// Negotiator turns relayed offer/answer blobs into a Channel. The manager
// routes the blobs but never interprets them.
type Negotiator interface {
	// Offer opens a local endpoint for the initiating side.
	Offer(ctx context.Context) (Pending, error)
	// Answer connects to the endpoint an offer describes.
	Answer(ctx context.Context, offer []byte) (answer []byte, ch Channel, err error)
}

// Pending is an offer waiting for its answer.
type Pending interface {
	Payload() []byte
	Accept(ctx context.Context, answer []byte) (Channel, error)
	// Cancel releases the endpoint if no answer ever arrives.
	Cancel()
}

// Capture is the local media source attached while a pair is connected.
type Capture interface {
	Attach(peerID string) error
	Release(peerID string)
}
