package domain

import "context"

// TransportState is the lifecycle of one engagement's transport link.
// Transitions are monotonic except Connected->Closed, which may repeat when a
// channel is kept open across rounds.
type TransportState int

const (
	TransportIdle TransportState = iota
	TransportConnecting
	TransportConnected
	TransportClosing
	TransportClosed
	TransportFailed
)

func (s TransportState) String() string {
	switch s {
	case TransportIdle:
		return "idle"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportClosing:
		return "closing"
	case TransportClosed:
		return "closed"
	case TransportFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Terminal reports whether no further transitions can occur.
func (s TransportState) Terminal() bool {
	return s == TransportClosed || s == TransportFailed
}

// Transport moves opaque session-layer messages between holder and reader.
// One engagement owns exactly one Transport; no other component may touch the
// underlying link while the engagement is live.
type Transport interface {
	// Connect blocks until the link is usable or ctx is done.
	Connect(ctx context.Context) error

	// SendMessage delivers one whole message, however the link fragments it.
	SendMessage(ctx context.Context, msg []byte) error

	// ReceiveMessage blocks until one whole inbound message is available.
	// An empty message is the link-level close signal from the peer.
	ReceiveMessage(ctx context.Context) ([]byte, error)

	// SignalState writes one out-of-band control byte (e.g. StateEnd).
	SignalState(ctx context.Context, code byte) error

	// State reports the current lifecycle state.
	State() TransportState

	// Close releases the link. Safe to call more than once.
	Close() error
}
