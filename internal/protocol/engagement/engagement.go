package engagement

import (
	"crypto/ecdh"
	"encoding/base64"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	mdocrypto "mdoclink/internal/crypto"
	"mdoclink/internal/domain"
	"mdoclink/internal/protocol/tagged"
)

const (
	Version = "1.0"

	// Cipher suite 1: P-256 / AES-GCM, the only suite defined.
	cipherSuite = 1

	// Device retrieval method: BLE, method version 1.
	retrievalBLE        = 2
	retrievalBLEVersion = 1

	// URI scheme for QR engagement.
	uriScheme = "mdoc:"
)

// BLEOptions describes the BLE retrieval modes offered in an engagement.
// In peripheral server mode the holder advertises the service and the reader
// connects; in central client mode the roles are reversed.
type BLEOptions struct {
	PeripheralServer     bool
	CentralClient        bool
	PeripheralServerUUID uuid.UUID
	CentralClientUUID    uuid.UUID
}

type deviceEngagement struct {
	Version   string            `cbor:"0,keyasint"`
	Security  security          `cbor:"1,keyasint"`
	Retrieval []retrievalMethod `cbor:"2,keyasint,omitempty"`
}

type security struct {
	_               struct{} `cbor:",toarray"`
	CipherSuite     int64
	EDeviceKeyBytes cbor.RawMessage // tag-24 COSE_Key
}

type retrievalMethod struct {
	_       struct{} `cbor:",toarray"`
	Type    uint64
	Version uint64
	Options cbor.RawMessage
}

type bleOptions struct {
	PeripheralServer     bool   `cbor:"0,keyasint"`
	CentralClient        bool   `cbor:"1,keyasint"`
	PeripheralServerUUID []byte `cbor:"10,keyasint,omitempty"`
	CentralClientUUID    []byte `cbor:"11,keyasint,omitempty"`
}

// DeviceEngagement is a created or parsed engagement structure. The encoded
// form is kept verbatim: it feeds the session transcript and must not be
// re-encoded.
type DeviceEngagement struct {
	Version         string
	EDeviceKeyBytes []byte // tag-24 COSE_Key, as embedded in Security
	BLE             *BLEOptions

	encoded []byte
}

// New builds a DeviceEngagement advertising BLE retrieval for the given
// ephemeral device key.
func New(eDeviceKey *ecdh.PublicKey, ble BLEOptions) (*DeviceEngagement, error) {
	const op = "engagement.New"
	if !ble.PeripheralServer && !ble.CentralClient {
		return nil, domain.Errorf(domain.KindProtocol, op, "no BLE mode enabled")
	}
	coseKey, err := mdocrypto.MarshalCOSEKey(eDeviceKey)
	if err != nil {
		return nil, domain.NewError(domain.KindProtocol, op, err)
	}
	keyBytes, err := tagged.Wrap(coseKey)
	if err != nil {
		return nil, domain.NewError(domain.KindProtocol, op, err)
	}
	opts := bleOptions{
		PeripheralServer: ble.PeripheralServer,
		CentralClient:    ble.CentralClient,
	}
	if ble.PeripheralServer {
		opts.PeripheralServerUUID = ble.PeripheralServerUUID[:]
	}
	if ble.CentralClient {
		opts.CentralClientUUID = ble.CentralClientUUID[:]
	}
	encOpts, err := tagged.Marshal(opts)
	if err != nil {
		return nil, domain.NewError(domain.KindProtocol, op, err)
	}
	encoded, err := tagged.Marshal(deviceEngagement{
		Version:  Version,
		Security: security{CipherSuite: cipherSuite, EDeviceKeyBytes: keyBytes},
		Retrieval: []retrievalMethod{
			{Type: retrievalBLE, Version: retrievalBLEVersion, Options: encOpts},
		},
	})
	if err != nil {
		return nil, domain.NewError(domain.KindProtocol, op, err)
	}
	out := ble
	return &DeviceEngagement{
		Version:         Version,
		EDeviceKeyBytes: keyBytes,
		BLE:             &out,
		encoded:         encoded,
	}, nil
}

// Parse decodes an encoded DeviceEngagement, keeping the original bytes.
func Parse(encoded []byte) (*DeviceEngagement, error) {
	const op = "engagement.Parse"
	var de deviceEngagement
	if err := cbor.Unmarshal(encoded, &de); err != nil {
		return nil, domain.NewError(domain.KindProtocol, op, err)
	}
	if de.Version != Version {
		return nil, domain.Errorf(domain.KindProtocol, op, "unsupported version %q", de.Version)
	}
	if de.Security.CipherSuite != cipherSuite {
		return nil, domain.Errorf(domain.KindProtocol, op, "unsupported cipher suite %d", de.Security.CipherSuite)
	}
	if len(de.Security.EDeviceKeyBytes) == 0 {
		return nil, domain.Errorf(domain.KindProtocol, op, "missing eDeviceKey")
	}
	out := &DeviceEngagement{
		Version:         de.Version,
		EDeviceKeyBytes: de.Security.EDeviceKeyBytes,
		encoded:         append([]byte(nil), encoded...),
	}
	for _, m := range de.Retrieval {
		if m.Type != retrievalBLE || m.Version != retrievalBLEVersion {
			continue
		}
		var opts bleOptions
		if err := cbor.Unmarshal(m.Options, &opts); err != nil {
			return nil, domain.Errorf(domain.KindProtocol, op, "ble options: %v", err)
		}
		ble := &BLEOptions{
			PeripheralServer: opts.PeripheralServer,
			CentralClient:    opts.CentralClient,
		}
		if len(opts.PeripheralServerUUID) > 0 {
			id, err := uuid.FromBytes(opts.PeripheralServerUUID)
			if err != nil {
				return nil, domain.Errorf(domain.KindProtocol, op, "peripheral server uuid: %v", err)
			}
			ble.PeripheralServerUUID = id
		}
		if len(opts.CentralClientUUID) > 0 {
			id, err := uuid.FromBytes(opts.CentralClientUUID)
			if err != nil {
				return nil, domain.Errorf(domain.KindProtocol, op, "central client uuid: %v", err)
			}
			ble.CentralClientUUID = id
		}
		out.BLE = ble
		break
	}
	return out, nil
}

// Encode returns the canonical encoded engagement bytes.
func (d *DeviceEngagement) Encode() []byte { return d.encoded }

// EDeviceKey returns the holder's ephemeral public key from Security.
func (d *DeviceEngagement) EDeviceKey() (*ecdh.PublicKey, error) {
	inner, err := tagged.Unwrap(d.EDeviceKeyBytes)
	if err != nil {
		return nil, domain.NewError(domain.KindProtocol, "engagement.EDeviceKey", err)
	}
	return mdocrypto.UnmarshalCOSEKey(inner)
}

// Ident returns the BLE Ident characteristic value bound to this engagement's
// ephemeral key.
func (d *DeviceEngagement) Ident() []byte {
	return mdocrypto.IdentValue(d.EDeviceKeyBytes)
}

// QRURI renders the engagement as an mdoc: URI for QR presentation.
func (d *DeviceEngagement) QRURI() string {
	return uriScheme + base64.RawURLEncoding.EncodeToString(d.encoded)
}

// ParseQR decodes an mdoc: URI back into a DeviceEngagement.
func ParseQR(uri string) (*DeviceEngagement, error) {
	const op = "engagement.ParseQR"
	if !strings.HasPrefix(uri, uriScheme) {
		return nil, domain.Errorf(domain.KindProtocol, op, "not an %q uri", uriScheme)
	}
	encoded, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(uri, uriScheme))
	if err != nil {
		return nil, domain.Errorf(domain.KindProtocol, op, "base64: %v", err)
	}
	return Parse(encoded)
}
