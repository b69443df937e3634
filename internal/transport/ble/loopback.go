package ble

import (
	"context"
	"sync"

	"mdoclink/internal/domain"
)

// Loopback is an in-memory Conn wired directly to a peer Loopback. It keeps
// the chunk and state streams of a real GATT link without any radio, for
// tests and the demo loop.
type Loopback struct {
	mtu    int
	chunks chan []byte
	states chan byte

	peer *Loopback

	mu     sync.Mutex
	closed bool
}

// NewLoopbackPair returns two connected Conns sharing one MTU.
func NewLoopbackPair(mtu int) (*Loopback, *Loopback) {
	a := &Loopback{mtu: mtu, chunks: make(chan []byte, 16), states: make(chan byte, 4)}
	b := &Loopback{mtu: mtu, chunks: make(chan []byte, 16), states: make(chan byte, 4)}
	a.peer, b.peer = b, a
	return a, b
}

func (l *Loopback) Open(context.Context) error { return nil }

func (l *Loopback) WriteChunk(ctx context.Context, wire []byte) error {
	out := append([]byte(nil), wire...)
	if l.isClosed() || l.peer.isClosed() {
		return domain.Errorf(domain.KindTransport, "loopback.WriteChunk", "peer gone")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case l.peer.chunks <- out:
		return nil
	}
}

func (l *Loopback) WriteState(ctx context.Context, code byte) error {
	if l.isClosed() || l.peer.isClosed() {
		return domain.Errorf(domain.KindTransport, "loopback.WriteState", "peer gone")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case l.peer.states <- code:
		return nil
	}
}

func (l *Loopback) Chunks() <-chan []byte { return l.chunks }
func (l *Loopback) States() <-chan byte   { return l.states }
func (l *Loopback) MTU() int              { return l.mtu }

// Close drops the link on both ends: the peer's inbound streams close, which
// a Channel reads as the peer going away.
func (l *Loopback) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.peer.mu.Lock()
	if !l.peer.closed {
		close(l.peer.chunks)
		close(l.peer.states)
	}
	l.peer.mu.Unlock()
	return nil
}

func (l *Loopback) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

var _ Conn = (*Loopback)(nil)
