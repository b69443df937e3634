package ble

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/muka/go-bluetooth/api"
	"github.com/muka/go-bluetooth/bluez/profile/adapter"
	"github.com/muka/go-bluetooth/bluez/profile/device"
	"github.com/muka/go-bluetooth/bluez/profile/gatt"

	"mdoclink/internal/domain"
)

// CentralConfig selects the peer service and characteristic set for a
// central-role link over BlueZ.
type CentralConfig struct {
	// AdapterID names the local adapter ("hci0"); empty uses the default.
	AdapterID string

	// ServiceUUID is the ephemeral per-engagement service advertised by the
	// peer, taken from the device engagement.
	ServiceUUID uuid.UUID

	StateUUID         uuid.UUID
	Client2ServerUUID uuid.UUID
	Server2ClientUUID uuid.UUID

	// IdentUUID plus ExpectedIdent enable the Ident check of mdoc peripheral
	// server mode: the central reads Ident before any data flows and drops
	// the link on a mismatch. Zero IdentUUID skips the check (central client
	// mode has no Ident characteristic).
	IdentUUID     uuid.UUID
	ExpectedIdent []byte

	// MTU overrides the assumed attribute payload size; zero uses DefaultMTU.
	MTU int

	// DiscoveryTimeout bounds the scan for the advertised service; zero
	// means one minute.
	DiscoveryTimeout time.Duration
}

// ReaderCentralConfig is the reader side of mdoc peripheral server mode: the
// holder advertises, the reader connects and checks Ident.
func ReaderCentralConfig(service uuid.UUID, expectedIdent []byte) CentralConfig {
	return CentralConfig{
		ServiceUUID:       service,
		StateUUID:         PeripheralStateUUID,
		Client2ServerUUID: PeripheralClient2ServerUUID,
		Server2ClientUUID: PeripheralServer2ClientUUID,
		IdentUUID:         PeripheralIdentUUID,
		ExpectedIdent:     expectedIdent,
	}
}

// HolderCentralConfig is the holder side of mdoc central client mode: the
// reader advertises the service named in the engagement and the holder
// connects.
func HolderCentralConfig(service uuid.UUID) CentralConfig {
	return CentralConfig{
		ServiceUUID:       service,
		StateUUID:         CentralStateUUID,
		Client2ServerUUID: CentralClient2ServerUUID,
		Server2ClientUUID: CentralServer2ClientUUID,
	}
}

// Central is a Conn over a BlueZ GATT client connection. The remote side is
// whichever peer advertises the engagement's service UUID.
type Central struct {
	cfg CentralConfig

	dev           *device.Device1
	state         *gatt.GattCharacteristic1
	client2Server *gatt.GattCharacteristic1
	server2Client *gatt.GattCharacteristic1

	chunks chan []byte
	states chan byte

	mu     sync.Mutex
	closed bool
}

// NewCentral prepares a central-role Conn; the radio is not touched until
// Open.
func NewCentral(cfg CentralConfig) *Central {
	if cfg.MTU == 0 {
		cfg.MTU = DefaultMTU
	}
	if cfg.DiscoveryTimeout == 0 {
		cfg.DiscoveryTimeout = time.Minute
	}
	return &Central{
		cfg:    cfg,
		chunks: make(chan []byte, 16),
		states: make(chan byte, 4),
	}
}

func (c *Central) Open(ctx context.Context) error {
	const op = "ble.Central.Open"

	a, err := c.adapter()
	if err != nil {
		return domain.NewError(domain.KindTransport, op, err)
	}
	dev, err := c.discover(ctx, a)
	if err != nil {
		return domain.NewError(domain.KindTransport, op, err)
	}
	c.dev = dev
	if err := dev.Connect(); err != nil {
		return domain.NewError(domain.KindTransport, op, err)
	}

	if c.state, err = c.char(dev, c.cfg.StateUUID); err != nil {
		return domain.NewError(domain.KindTransport, op, err)
	}
	if c.client2Server, err = c.char(dev, c.cfg.Client2ServerUUID); err != nil {
		return domain.NewError(domain.KindTransport, op, err)
	}
	if c.server2Client, err = c.char(dev, c.cfg.Server2ClientUUID); err != nil {
		return domain.NewError(domain.KindTransport, op, err)
	}

	if c.cfg.IdentUUID != (uuid.UUID{}) {
		ident, err := c.char(dev, c.cfg.IdentUUID)
		if err != nil {
			return domain.NewError(domain.KindTransport, op, err)
		}
		got, err := ident.ReadValue(nil)
		if err != nil {
			return domain.NewError(domain.KindTransport, op, err)
		}
		if !bytes.Equal(got, c.cfg.ExpectedIdent) {
			_ = c.Close()
			return domain.Errorf(domain.KindTransport, op, "ident mismatch")
		}
	}

	if err := c.watch(c.server2Client, func(v []byte) { c.chunks <- v }); err != nil {
		return domain.NewError(domain.KindTransport, op, err)
	}
	if err := c.watch(c.state, func(v []byte) {
		if len(v) == 1 {
			c.states <- v[0]
		}
	}); err != nil {
		return domain.NewError(domain.KindTransport, op, err)
	}
	return nil
}

func (c *Central) adapter() (*adapter.Adapter1, error) {
	if c.cfg.AdapterID != "" {
		return adapter.GetAdapter(c.cfg.AdapterID)
	}
	return api.GetDefaultAdapter()
}

// discover scans for the first device advertising the engagement's service.
func (c *Central) discover(ctx context.Context, a *adapter.Adapter1) (*device.Device1, error) {
	filter := adapter.NewDiscoveryFilter()
	filter.AddUUIDs(strings.ToLower(c.cfg.ServiceUUID.String()))
	filter.Transport = "le"

	discovered, cancel, err := api.Discover(a, &filter)
	if err != nil {
		return nil, err
	}
	defer cancel()

	deadline := time.NewTimer(c.cfg.DiscoveryTimeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, domain.Errorf(domain.KindTransport, "ble.discover",
				"no peer advertising %s", c.cfg.ServiceUUID)
		case ev, ok := <-discovered:
			if !ok {
				return nil, domain.Errorf(domain.KindTransport, "ble.discover", "discovery ended")
			}
			if ev.Type == adapter.DeviceRemoved {
				continue
			}
			dev, err := device.NewDevice1(ev.Path)
			if err != nil {
				continue
			}
			return dev, nil
		}
	}
}

func (c *Central) char(dev *device.Device1, id uuid.UUID) (*gatt.GattCharacteristic1, error) {
	return dev.GetCharByUUID(strings.ToLower(id.String()))
}

// watch subscribes to value notifications on ch and forwards them.
func (c *Central) watch(ch *gatt.GattCharacteristic1, deliver func([]byte)) error {
	props, err := ch.WatchProperties()
	if err != nil {
		return err
	}
	if err := ch.StartNotify(); err != nil {
		return err
	}
	go func() {
		for ev := range props {
			if ev == nil || ev.Name != "Value" {
				continue
			}
			v, ok := ev.Value.([]byte)
			if !ok {
				continue
			}
			if c.isClosed() {
				return
			}
			deliver(append([]byte(nil), v...))
		}
	}()
	return nil
}

// WriteChunk writes with response so the ack orders chunk N before N+1.
func (c *Central) WriteChunk(_ context.Context, wire []byte) error {
	err := c.client2Server.WriteValue(wire, map[string]interface{}{"type": "request"})
	if err != nil {
		return domain.NewError(domain.KindTransport, "ble.WriteChunk", err)
	}
	return nil
}

func (c *Central) WriteState(_ context.Context, code byte) error {
	err := c.state.WriteValue([]byte{code}, map[string]interface{}{"type": "command"})
	if err != nil {
		return domain.NewError(domain.KindTransport, "ble.WriteState", err)
	}
	return nil
}

func (c *Central) Chunks() <-chan []byte { return c.chunks }
func (c *Central) States() <-chan byte   { return c.states }
func (c *Central) MTU() int              { return c.cfg.MTU }

func (c *Central) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.chunks)
	close(c.states)
	if c.dev != nil {
		return c.dev.Disconnect()
	}
	return nil
}

func (c *Central) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

var _ Conn = (*Central)(nil)
