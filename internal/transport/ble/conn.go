package ble

import "context"

// Conn is one attached GATT link, reduced to what the channel needs: ordered
// acknowledged chunk writes, inbound chunk and state-byte streams, and the
// negotiated MTU. Implementations: the BlueZ central (production) and the
// in-memory loopback pair (tests, demo).
type Conn interface {
	// Open attaches the link: discovery, connection, characteristic
	// resolution, notification subscriptions.
	Open(ctx context.Context) error

	// WriteChunk writes one chunk to the peer's data characteristic and
	// returns after delivery is acknowledged. Calls are issued sequentially;
	// chunk N+1 is never written before N's ack.
	WriteChunk(ctx context.Context, chunk []byte) error

	// WriteState writes one control byte to the State characteristic.
	WriteState(ctx context.Context, code byte) error

	// Chunks streams inbound data-characteristic notifications. The channel
	// closes when the link drops.
	Chunks() <-chan []byte

	// States streams inbound State-characteristic notifications.
	States() <-chan byte

	// MTU reports the usable attribute payload size for this link.
	MTU() int

	// Close detaches the link. Safe to call more than once.
	Close() error
}
