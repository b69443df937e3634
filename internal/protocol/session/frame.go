package session

import (
	"crypto/ecdh"

	"github.com/fxamacker/cbor/v2"

	"mdoclink/internal/crypto"
	"mdoclink/internal/domain"
	"mdoclink/internal/protocol/tagged"
)

// SessionData status codes.
const (
	StatusErrorEncryption   uint64 = 10
	StatusErrorCBORDecoding uint64 = 11
	StatusTermination       uint64 = 20
)

// frame is the SessionEstablishment / SessionData wire map. The reader's
// first frame carries eReaderKey; every later frame is data and/or status.
type frame struct {
	EReaderKey cbor.RawMessage `cbor:"eReaderKey,omitempty"`
	Data       []byte          `cbor:"data,omitempty"`
	Status     *uint64         `cbor:"status,omitempty"`
}

func (f frame) encode() ([]byte, error) {
	return tagged.Marshal(f)
}

func decodeFrame(msg []byte) (frame, error) {
	var f frame
	if err := cbor.Unmarshal(msg, &f); err != nil {
		return frame{}, domain.NewError(domain.KindProtocol, "session.decodeFrame", err)
	}
	return f, nil
}

// EncodeStatus builds a plaintext status-only SessionData frame. Status
// frames carry no encrypted payload, so they remain sendable after an
// encryptor has closed itself.
func EncodeStatus(status uint64) ([]byte, error) {
	out, err := frame{Status: &status}.encode()
	if err != nil {
		return nil, domain.NewError(domain.KindProtocol, "session.EncodeStatus", err)
	}
	return out, nil
}

// PeerKeyFromEstablishment extracts the reader's ephemeral key from a raw
// SessionEstablishment message. It returns both the parsed key and the inner
// COSE_Key encoding, which the holder needs verbatim for the transcript.
func PeerKeyFromEstablishment(msg []byte) (*ecdh.PublicKey, []byte, error) {
	const op = "session.PeerKeyFromEstablishment"
	f, err := decodeFrame(msg)
	if err != nil {
		return nil, nil, err
	}
	if len(f.EReaderKey) == 0 {
		return nil, nil, domain.Errorf(domain.KindProtocol, op, "missing eReaderKey")
	}
	inner, err := tagged.Unwrap(f.EReaderKey)
	if err != nil {
		return nil, nil, domain.NewError(domain.KindProtocol, op, err)
	}
	pub, err := crypto.UnmarshalCOSEKey(inner)
	if err != nil {
		return nil, nil, domain.NewError(domain.KindProtocol, op, err)
	}
	return pub, inner, nil
}
