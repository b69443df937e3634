package response

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
	"golang.org/x/crypto/hkdf"

	"mdoclink/internal/domain"
	"mdoclink/internal/protocol/session"
	"mdoclink/internal/protocol/tagged"
	"mdoclink/internal/util/memzero"
)

// HMAC 256/256 per RFC 9053.
const algHMAC256 = 5

// deviceAuthenticationBytes builds the detached payload both device-auth
// variants cover: tag24(["DeviceAuthentication", SessionTranscriptBytes,
// docType, DeviceNameSpacesBytes]).
func deviceAuthenticationBytes(transcript session.Transcript, docType domain.DocType, deviceNameSpaces []byte) ([]byte, error) {
	label, err := tagged.Marshal("DeviceAuthentication")
	if err != nil {
		return nil, err
	}
	dt, err := tagged.Marshal(docType)
	if err != nil {
		return nil, err
	}
	inner, err := tagged.Marshal([]cbor.RawMessage{label, transcript.Bytes(), dt, deviceNameSpaces})
	if err != nil {
		return nil, err
	}
	return tagged.Wrap(inner)
}

// secureAreaSigner adapts the SecureArea contract to go-cose.
type secureAreaSigner struct {
	sa    domain.SecureArea
	alias string
}

func (s secureAreaSigner) Algorithm() cose.Algorithm { return cose.AlgorithmES256 }

func (s secureAreaSigner) Sign(_ io.Reader, content []byte) ([]byte, error) {
	return s.sa.Sign(s.alias, content)
}

// SignDeviceAuth produces the deviceSignature COSE_Sign1 (detached payload)
// using the credential's device key.
func SignDeviceAuth(sa domain.SecureArea, alias string, transcript session.Transcript, docType domain.DocType, deviceNameSpaces []byte) ([]byte, error) {
	const op = "response.SignDeviceAuth"
	payload, err := deviceAuthenticationBytes(transcript, docType, deviceNameSpaces)
	if err != nil {
		return nil, domain.NewError(domain.KindProtocol, op, err)
	}
	msg := cose.NewSign1Message()
	msg.Headers.Protected[cose.HeaderLabelAlgorithm] = cose.AlgorithmES256
	msg.Payload = payload
	if err := msg.Sign(nil, nil, secureAreaSigner{sa: sa, alias: alias}); err != nil {
		return nil, domain.NewError(domain.KindCrypto, op, err)
	}
	msg.Payload = nil
	out, err := msg.MarshalCBOR()
	if err != nil {
		return nil, domain.NewError(domain.KindProtocol, op, err)
	}
	return out, nil
}

// VerifyDeviceSignature checks a document's deviceSignature against the
// device public key from the MSO.
func VerifyDeviceSignature(deviceSignature []byte, transcript session.Transcript, docType domain.DocType, deviceNameSpaces []byte, pub *ecdsa.PublicKey) error {
	const op = "response.VerifyDeviceSignature"
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(deviceSignature); err != nil {
		return domain.NewError(domain.KindProtocol, op, err)
	}
	payload, err := deviceAuthenticationBytes(transcript, docType, deviceNameSpaces)
	if err != nil {
		return domain.NewError(domain.KindProtocol, op, err)
	}
	msg.Payload = payload
	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return domain.NewError(domain.KindCrypto, op, err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return domain.NewError(domain.KindCrypto, op, err)
	}
	return nil
}

// mac0 is COSE_Mac0: [protected, unprotected, payload, tag]. go-cose covers
// Sign1 only, so the MAC variant is assembled here.
type mac0 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[any]any
	Payload     []byte
	Tag         []byte
}

// EMacKey derives the MAC key on the holder side, from the device key /
// reader ephemeral ECDH and the transcript salt.
func EMacKey(sa domain.SecureArea, alias string, readerEphemeral *ecdh.PublicKey, transcript session.Transcript) ([]byte, error) {
	shared, err := sa.AgreeKey(alias, readerEphemeral)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(shared)
	return emacFromShared(shared, transcript.Salt())
}

// EMacKeyReader derives the same key on the reader side, from its ephemeral
// private key and the device public key taken from the MSO.
func EMacKeyReader(readerEphemeral *ecdh.PrivateKey, deviceKey *ecdh.PublicKey, transcript session.Transcript) ([]byte, error) {
	shared, err := readerEphemeral.ECDH(deviceKey)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(shared)
	return emacFromShared(shared, transcript.Salt())
}

func emacFromShared(shared, salt []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, shared, salt, []byte("EMacKey"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// MACDeviceAuth produces the deviceMac COSE_Mac0 (detached payload) over the
// DeviceAuthentication structure.
func MACDeviceAuth(sa domain.SecureArea, alias string, readerEphemeral *ecdh.PublicKey, transcript session.Transcript, docType domain.DocType, deviceNameSpaces []byte) ([]byte, error) {
	const op = "response.MACDeviceAuth"
	key, err := EMacKey(sa, alias, readerEphemeral, transcript)
	if err != nil {
		return nil, domain.NewError(domain.KindCrypto, op, err)
	}
	defer memzero.Zero(key)

	payload, err := deviceAuthenticationBytes(transcript, docType, deviceNameSpaces)
	if err != nil {
		return nil, domain.NewError(domain.KindProtocol, op, err)
	}
	protected, err := tagged.Marshal(map[int64]int64{1: algHMAC256})
	if err != nil {
		return nil, domain.NewError(domain.KindProtocol, op, err)
	}
	tag, err := macStructureTag(key, protected, payload)
	if err != nil {
		return nil, domain.NewError(domain.KindCrypto, op, err)
	}
	out, err := tagged.Marshal(mac0{
		Protected:   protected,
		Unprotected: map[any]any{},
		Payload:     nil, // detached
		Tag:         tag,
	})
	if err != nil {
		return nil, domain.NewError(domain.KindProtocol, op, err)
	}
	return out, nil
}

// VerifyDeviceMac recomputes the COSE_Mac0 tag with an already-derived
// EMacKey (see EMacKeyReader).
func VerifyDeviceMac(deviceMac, key []byte, transcript session.Transcript, docType domain.DocType, deviceNameSpaces []byte) error {
	const op = "response.VerifyDeviceMac"
	var m mac0
	if err := cbor.Unmarshal(deviceMac, &m); err != nil {
		return domain.NewError(domain.KindProtocol, op, err)
	}
	payload, err := deviceAuthenticationBytes(transcript, docType, deviceNameSpaces)
	if err != nil {
		return domain.NewError(domain.KindProtocol, op, err)
	}
	want, err := macStructureTag(key, m.Protected, payload)
	if err != nil {
		return domain.NewError(domain.KindCrypto, op, err)
	}
	if !hmac.Equal(want, m.Tag) {
		return domain.Errorf(domain.KindCrypto, op, "deviceMac tag mismatch")
	}
	return nil
}

// macStructureTag computes HMAC-SHA256 over MAC_structure =
// ["MAC0", protected, external_aad, payload].
func macStructureTag(key, protected, payload []byte) ([]byte, error) {
	structure, err := tagged.Marshal([]any{"MAC0", protected, []byte{}, payload})
	if err != nil {
		return nil, err
	}
	h := hmac.New(sha256.New, key)
	h.Write(structure)
	return h.Sum(nil), nil
}
