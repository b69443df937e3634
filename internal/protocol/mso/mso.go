package mso

import (
	"bytes"
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	mdocrypto "mdoclink/internal/crypto"
	"mdoclink/internal/domain"
	"mdoclink/internal/protocol/tagged"
)

const (
	Version         = "1.0"
	DigestAlgorithm = "SHA-256"

	randomLen = 16
)

var (
	ErrDigestMismatch = errors.New("issuer item digest mismatch")
	ErrNoDeviceKey    = errors.New("mso carries no device key")
)

// mobileSecurityObject is the issuer's digest manifest over all
// issuer-signed items of one document.
type mobileSecurityObject struct {
	Version         string                                 `cbor:"version"`
	DigestAlgorithm string                                 `cbor:"digestAlgorithm"`
	ValueDigests    map[domain.Namespace]map[uint64][]byte `cbor:"valueDigests"`
	DeviceKeyInfo   deviceKeyInfo                          `cbor:"deviceKeyInfo"`
	DocType         domain.DocType                         `cbor:"docType"`
	ValidityInfo    validityInfo                           `cbor:"validityInfo"`
}

type deviceKeyInfo struct {
	DeviceKey cbor.RawMessage `cbor:"deviceKey"`
}

type validityInfo struct {
	Signed     time.Time `cbor:"signed"`
	ValidFrom  time.Time `cbor:"validFrom"`
	ValidUntil time.Time `cbor:"validUntil"`
}

// issuerSignedItem is the full issued element; its tag-24 encoding is what
// value digests cover.
type issuerSignedItem struct {
	DigestID          uint64                   `cbor:"digestID"`
	Random            []byte                   `cbor:"random"`
	ElementIdentifier domain.ElementIdentifier `cbor:"elementIdentifier"`
	ElementValue      cbor.RawMessage          `cbor:"elementValue"`
}

// Issuer signs issuerAuth structures. The cert chain lands in x5chain.
type Issuer struct {
	Signer    crypto.Signer
	CertChain [][]byte
}

// BuildIssuerSigned creates the issuer-signed half of a credential: items
// with fresh randoms and sequential digest IDs, and the COSE_Sign1
// issuerAuth whose MSO digests bind them to deviceKey. Claims values must be
// CBOR-encodable.
func BuildIssuerSigned(
	docType domain.DocType,
	claims map[domain.Namespace]map[domain.ElementIdentifier]any,
	deviceKey *ecdsa.PublicKey,
	issuer Issuer,
	validFor time.Duration,
) (map[domain.Namespace][]domain.IssuerSignedItem, []byte, error) {
	if len(claims) == 0 {
		return nil, nil, errors.New("no claims to issue")
	}
	items := make(map[domain.Namespace][]domain.IssuerSignedItem, len(claims))
	digests := make(map[domain.Namespace]map[uint64][]byte, len(claims))
	var digestID uint64
	for ns, elems := range claims {
		digests[ns] = make(map[uint64][]byte, len(elems))
		for id, value := range elems {
			random := make([]byte, randomLen)
			if _, err := rand.Read(random); err != nil {
				return nil, nil, err
			}
			encValue, err := tagged.Marshal(value)
			if err != nil {
				return nil, nil, fmt.Errorf("encode %s/%s: %w", ns, id, err)
			}
			raw, err := tagged.Encode(issuerSignedItem{
				DigestID:          digestID,
				Random:            random,
				ElementIdentifier: id,
				ElementValue:      encValue,
			})
			if err != nil {
				return nil, nil, err
			}
			sum := sha256.Sum256(raw)
			digests[ns][digestID] = sum[:]
			items[ns] = append(items[ns], domain.IssuerSignedItem{
				DigestID:          digestID,
				ElementIdentifier: id,
				Raw:               raw,
			})
			digestID++
		}
	}

	ecdhKey, err := mdocrypto.ECDHFromECDSA(deviceKey)
	if err != nil {
		return nil, nil, err
	}
	coseKey, err := mdocrypto.MarshalCOSEKey(ecdhKey)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now().UTC().Truncate(time.Second)
	payload, err := tagged.Encode(mobileSecurityObject{
		Version:         Version,
		DigestAlgorithm: DigestAlgorithm,
		ValueDigests:    digests,
		DeviceKeyInfo:   deviceKeyInfo{DeviceKey: coseKey},
		DocType:         docType,
		ValidityInfo: validityInfo{
			Signed:     now,
			ValidFrom:  now,
			ValidUntil: now.Add(validFor),
		},
	})
	if err != nil {
		return nil, nil, err
	}

	signer, err := cose.NewSigner(cose.AlgorithmES256, issuer.Signer)
	if err != nil {
		return nil, nil, err
	}
	msg := cose.NewSign1Message()
	msg.Headers.Protected[cose.HeaderLabelAlgorithm] = cose.AlgorithmES256
	if len(issuer.CertChain) > 0 {
		chain := make([]any, len(issuer.CertChain))
		for i, der := range issuer.CertChain {
			chain[i] = der
		}
		msg.Headers.Unprotected[cose.HeaderLabelX5Chain] = chain
	}
	msg.Payload = payload
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, nil, err
	}
	issuerAuth, err := msg.MarshalCBOR()
	if err != nil {
		return nil, nil, err
	}
	return items, issuerAuth, nil
}

// Parsed is the decoded MSO plus the issuer's certificate chain.
type Parsed struct {
	DocType         domain.DocType
	DigestAlgorithm string
	ValueDigests    map[domain.Namespace]map[uint64][]byte
	DeviceKey       cbor.RawMessage
	ValidFrom       time.Time
	ValidUntil      time.Time
	CertChain       [][]byte
}

// Parse decodes an issuerAuth COSE_Sign1 payload without verifying the
// issuer signature; trust evaluation is a verifier concern.
func Parse(issuerAuth []byte) (Parsed, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(issuerAuth); err != nil {
		return Parsed{}, fmt.Errorf("decode issuerAuth: %w", err)
	}
	var m mobileSecurityObject
	if err := tagged.Decode(msg.Payload, &m); err != nil {
		return Parsed{}, fmt.Errorf("decode mso: %w", err)
	}
	out := Parsed{
		DocType:         m.DocType,
		DigestAlgorithm: m.DigestAlgorithm,
		ValueDigests:    m.ValueDigests,
		DeviceKey:       m.DeviceKeyInfo.DeviceKey,
		ValidFrom:       m.ValidityInfo.ValidFrom,
		ValidUntil:      m.ValidityInfo.ValidUntil,
	}
	if raw, ok := msg.Headers.Unprotected[cose.HeaderLabelX5Chain]; ok {
		switch v := raw.(type) {
		case []byte:
			out.CertChain = [][]byte{v}
		case []any:
			for _, c := range v {
				if der, ok := c.([]byte); ok {
					out.CertChain = append(out.CertChain, der)
				}
			}
		}
	}
	return out, nil
}

// DeviceKeyECDH returns the MSO's device public key in ECDH form.
func (p Parsed) DeviceKeyECDH() (*ecdh.PublicKey, error) {
	if len(p.DeviceKey) == 0 {
		return nil, ErrNoDeviceKey
	}
	return mdocrypto.UnmarshalCOSEKey(p.DeviceKey)
}

// Item is one decoded issuer-signed element, for display and digest checks
// on the verifier side.
type Item struct {
	DigestID   uint64
	Identifier domain.ElementIdentifier
	Value      any
	Raw        []byte
}

// DecodeItem decodes one tag-24 issuer-signed item, keeping the raw bytes.
func DecodeItem(raw []byte) (Item, error) {
	var it issuerSignedItem
	if err := tagged.Decode(raw, &it); err != nil {
		return Item{}, fmt.Errorf("decode item: %w", err)
	}
	var value any
	if err := cbor.Unmarshal(it.ElementValue, &value); err != nil {
		return Item{}, fmt.Errorf("decode item value: %w", err)
	}
	return Item{
		DigestID:   it.DigestID,
		Identifier: it.ElementIdentifier,
		Value:      value,
		Raw:        append([]byte(nil), raw...),
	}, nil
}

// CheckItemDigest verifies that one stored item's bytes still hash to the
// digest the issuer signed.
func (p Parsed) CheckItemDigest(ns domain.Namespace, item domain.IssuerSignedItem) error {
	want, ok := p.ValueDigests[ns][item.DigestID]
	if !ok {
		return fmt.Errorf("%w: no digest for %s id %d", ErrDigestMismatch, ns, item.DigestID)
	}
	sum := sha256.Sum256(item.Raw)
	if !bytes.Equal(sum[:], want) {
		return fmt.Errorf("%w: %s id %d", ErrDigestMismatch, ns, item.DigestID)
	}
	return nil
}
