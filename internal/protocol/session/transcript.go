package session

import (
	"crypto/sha256"

	"github.com/fxamacker/cbor/v2"

	"mdoclink/internal/domain"
	"mdoclink/internal/protocol/tagged"
)

// cborNull is the encoding of a missing handover (QR engagement).
var cborNull = []byte{0xf6}

// Transcript is the immutable byte sequence binding one engagement:
// [DeviceEngagementBytes, EReaderKeyBytes, Handover]. Both sides must build
// it from identical inputs or decryption and reader-auth verification fail.
type Transcript struct {
	taggedBytes []byte
}

// NewTranscript builds the transcript from the encoded DeviceEngagement
// structure, the encoded EReaderKey COSE_Key, and the handover element
// (already-encoded CBOR, or nil for a QR engagement).
func NewTranscript(deviceEngagement, eReaderKey, handover []byte) (Transcript, error) {
	const op = "session.NewTranscript"
	if len(deviceEngagement) == 0 || len(eReaderKey) == 0 {
		return Transcript{}, domain.Errorf(domain.KindProtocol, op, "missing engagement or reader key bytes")
	}
	de, err := tagged.Wrap(deviceEngagement)
	if err != nil {
		return Transcript{}, domain.NewError(domain.KindProtocol, op, err)
	}
	ek, err := tagged.Wrap(eReaderKey)
	if err != nil {
		return Transcript{}, domain.NewError(domain.KindProtocol, op, err)
	}
	h := handover
	if h == nil {
		h = cborNull
	}
	inner, err := tagged.Marshal([]cbor.RawMessage{de, ek, h})
	if err != nil {
		return Transcript{}, domain.NewError(domain.KindProtocol, op, err)
	}
	out, err := tagged.Wrap(inner)
	if err != nil {
		return Transcript{}, domain.NewError(domain.KindProtocol, op, err)
	}
	return Transcript{taggedBytes: out}, nil
}

// Bytes returns the tag-24 wrapped transcript encoding. This is the exact
// byte sequence reader-authentication and device-authentication sign over.
func (t Transcript) Bytes() []byte { return t.taggedBytes }

// Salt returns SHA-256 of the tagged transcript, the HKDF salt for the
// session key schedule.
func (t Transcript) Salt() []byte {
	sum := sha256.Sum256(t.taggedBytes)
	return sum[:]
}

// Empty reports whether the transcript has not been built.
func (t Transcript) Empty() bool { return len(t.taggedBytes) == 0 }
