package ble

import (
	"context"
	"sync"

	"mdoclink/internal/domain"
	"mdoclink/internal/protocol/chunk"
)

// Channel adapts one Conn into the message-level Transport the engine
// consumes. Outbound messages are split into flag-framed chunks and written
// strictly in order; inbound chunks are reassembled into whole messages. A
// peer StateEnd, or the inbound stream closing, surfaces as an empty message.
type Channel struct {
	conn Conn

	// A GATT client announces StateStart after attaching; a server waits
	// for the client's announcement instead.
	client bool

	mu    sync.Mutex
	state domain.TransportState
	fail  error

	inbound chan []byte
	runOnce sync.Once
}

// NewChannel wraps conn. Set client when this side is the GATT client and
// must announce StateStart after attaching.
func NewChannel(conn Conn, client bool) *Channel {
	return &Channel{
		conn:    conn,
		client:  client,
		state:   domain.TransportIdle,
		inbound: make(chan []byte, 4),
	}
}

// Connect attaches the underlying link and starts the reassembly loop.
func (c *Channel) Connect(ctx context.Context) error {
	const op = "ble.Connect"
	c.setState(domain.TransportConnecting)
	if err := c.conn.Open(ctx); err != nil {
		return c.failWith(op, err)
	}
	if c.client {
		if err := c.conn.WriteState(ctx, StateStart); err != nil {
			return c.failWith(op, err)
		}
	}
	c.setState(domain.TransportConnected)
	c.runOnce.Do(func() { go c.run() })
	return nil
}

// run moves chunks and state bytes from the Conn into whole inbound messages
// until the link goes away.
func (c *Channel) run() {
	var r chunk.Reassembler
	chunks, states := c.conn.Chunks(), c.conn.States()
	for {
		select {
		case wire, ok := <-chunks:
			if !ok {
				c.deliverClose()
				return
			}
			done, err := r.Add(wire)
			if err != nil {
				c.mu.Lock()
				if c.fail == nil {
					c.fail = err
				}
				c.state = domain.TransportFailed
				c.mu.Unlock()
				close(c.inbound)
				return
			}
			if done {
				msg, err := r.Bytes()
				if err != nil {
					continue
				}
				c.inbound <- msg
			}
		case code, ok := <-states:
			if !ok {
				c.deliverClose()
				return
			}
			if code == StateEnd {
				// A final message may still be queued behind the end signal;
				// drain it before reporting the close.
				c.drain(&r, chunks)
				c.deliverClose()
				return
			}
		}
	}
}

// drain consumes already-delivered chunks without blocking, completing any
// message they finish.
func (c *Channel) drain(r *chunk.Reassembler, chunks <-chan []byte) {
	for {
		select {
		case wire, ok := <-chunks:
			if !ok {
				return
			}
			done, err := r.Add(wire)
			if err != nil {
				return
			}
			if done {
				if msg, err := r.Bytes(); err == nil {
					c.inbound <- msg
				}
			}
		default:
			return
		}
	}
}

func (c *Channel) deliverClose() {
	c.setState(domain.TransportClosed)
	c.inbound <- nil
	close(c.inbound)
}

// SendMessage splits msg per the link MTU and writes every chunk in order.
func (c *Channel) SendMessage(ctx context.Context, msg []byte) error {
	const op = "ble.SendMessage"
	if s := c.State(); s != domain.TransportConnected {
		return domain.Errorf(domain.KindTransport, op, "transport %s", s)
	}
	maxPayload, err := chunk.MaxPayload(c.conn.MTU())
	if err != nil {
		return err
	}
	chunks, err := chunk.Split(msg, maxPayload)
	if err != nil {
		return err
	}
	for _, wire := range chunks {
		if err := c.conn.WriteChunk(ctx, wire); err != nil {
			return c.failWith(op, err)
		}
	}
	return nil
}

// ReceiveMessage blocks for the next whole inbound message. A nil message is
// the peer's close signal.
func (c *Channel) ReceiveMessage(ctx context.Context) ([]byte, error) {
	const op = "ble.ReceiveMessage"
	select {
	case <-ctx.Done():
		return nil, domain.NewError(domain.KindTransport, op, ctx.Err())
	case msg, ok := <-c.inbound:
		if !ok {
			c.mu.Lock()
			fail := c.fail
			c.mu.Unlock()
			if fail != nil {
				return nil, fail
			}
			return nil, domain.Errorf(domain.KindTransport, op, "transport closed")
		}
		return msg, nil
	}
}

// SignalState writes one control byte to the peer's State characteristic.
func (c *Channel) SignalState(ctx context.Context, code byte) error {
	const op = "ble.SignalState"
	if s := c.State(); s != domain.TransportConnected {
		return domain.Errorf(domain.KindTransport, op, "transport %s", s)
	}
	if err := c.conn.WriteState(ctx, code); err != nil {
		return c.failWith(op, err)
	}
	return nil
}

func (c *Channel) State() domain.TransportState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close detaches the link. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return c.conn.Close()
	}
	c.state = domain.TransportClosing
	c.mu.Unlock()
	err := c.conn.Close()
	c.mu.Lock()
	if !c.state.Terminal() {
		c.state = domain.TransportClosed
	}
	c.mu.Unlock()
	return err
}

func (c *Channel) setState(s domain.TransportState) {
	c.mu.Lock()
	if !c.state.Terminal() {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *Channel) failWith(op string, err error) error {
	wrapped := domain.NewError(domain.KindTransport, op, err)
	c.mu.Lock()
	if c.fail == nil {
		c.fail = wrapped
	}
	c.state = domain.TransportFailed
	c.mu.Unlock()
	return wrapped
}

// Compile-time assertion that Channel implements domain.Transport.
var _ domain.Transport = (*Channel)(nil)
