package crypto

import (
	"crypto/ecdh"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// COSE_Key constants for EC2 keys on P-256 (RFC 9052/9053).
const (
	coseKeyTypeEC2 = 2
	coseCurveP256  = 1
)

var ErrBadCOSEKey = errors.New("malformed COSE_Key")

// coseKey is the wire form of an EC2 public key.
type coseKey struct {
	Kty int64  `cbor:"1,keyasint"`
	Crv int64  `cbor:"-1,keyasint"`
	X   []byte `cbor:"-2,keyasint"`
	Y   []byte `cbor:"-3,keyasint"`
}

// MarshalCOSEKey encodes a P-256 public key as a COSE_Key map.
func MarshalCOSEKey(pub *ecdh.PublicKey) ([]byte, error) {
	raw := pub.Bytes() // uncompressed point: 0x04 || X || Y
	if len(raw) != 65 || raw[0] != 0x04 {
		return nil, ErrBadCOSEKey
	}
	return cbor.Marshal(coseKey{
		Kty: coseKeyTypeEC2,
		Crv: coseCurveP256,
		X:   raw[1:33],
		Y:   raw[33:65],
	})
}

// UnmarshalCOSEKey decodes a COSE_Key map into a P-256 public key.
func UnmarshalCOSEKey(data []byte) (*ecdh.PublicKey, error) {
	var k coseKey
	if err := cbor.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCOSEKey, err)
	}
	if k.Kty != coseKeyTypeEC2 || k.Crv != coseCurveP256 {
		return nil, fmt.Errorf("%w: kty=%d crv=%d", ErrBadCOSEKey, k.Kty, k.Crv)
	}
	if len(k.X) != 32 || len(k.Y) != 32 {
		return nil, fmt.Errorf("%w: coordinate length", ErrBadCOSEKey)
	}
	point := make([]byte, 0, 65)
	point = append(point, 0x04)
	point = append(point, k.X...)
	point = append(point, k.Y...)
	pub, err := ecdh.P256().NewPublicKey(point)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCOSEKey, err)
	}
	return pub, nil
}
