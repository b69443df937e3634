package verify

import (
	"context"
	"crypto/ecdh"
	"errors"
	"fmt"

	mdocrypto "mdoclink/internal/crypto"
	"mdoclink/internal/domain"
	"mdoclink/internal/protocol/engagement"
	"mdoclink/internal/protocol/mso"
	"mdoclink/internal/protocol/request"
	"mdoclink/internal/protocol/response"
	"mdoclink/internal/protocol/session"
)

var (
	ErrSessionRefused = errors.New("holder ended the session without a response")
	ErrResponseStatus = errors.New("holder reported an error status")
)

// Query is one reader request: which elements of which document to ask for,
// and optionally a key to authenticate the request with.
type Query struct {
	DocType  domain.DocType
	Elements map[domain.Namespace]map[domain.ElementIdentifier]bool // element -> intentToRetain

	// ReaderKey signs reader authentication when present.
	ReaderKey *request.ReaderKey
}

// Document is one verified response document: decoded elements whose issuer
// digests checked out, plus how the holder authenticated it.
type Document struct {
	DocType    domain.DocType
	Items      map[domain.Namespace][]mso.Item
	AuthMethod string // "signature" or "mac"
	ValidUntil string
}

// Result is the outcome of one exchange.
type Result struct {
	Documents  []Document
	Status     uint64
	Terminated bool
}

// Exchange drives the verifier's half of one presentment round: session
// establishment against the engagement, one DeviceRequest, and structural
// plus cryptographic verification of the DeviceResponse. Issuer trust-store
// evaluation of the MSO signature is the caller's concern.
func Exchange(ctx context.Context, transport domain.Transport, de *engagement.DeviceEngagement, q Query) (Result, error) {
	if err := transport.Connect(ctx); err != nil {
		return Result{}, err
	}

	deviceKey, err := de.EDeviceKey()
	if err != nil {
		return Result{}, err
	}
	ephemeral, err := mdocrypto.GenerateP256()
	if err != nil {
		return Result{}, err
	}
	ekBytes, err := mdocrypto.MarshalCOSEKey(ephemeral.PublicKey())
	if err != nil {
		return Result{}, err
	}
	transcript, err := session.NewTranscript(de.Encode(), ekBytes, nil)
	if err != nil {
		return Result{}, err
	}
	enc, err := session.New(session.RoleReader, ephemeral, deviceKey, transcript)
	if err != nil {
		return Result{}, err
	}
	defer enc.Close()

	b := request.NewBuilder(transcript)
	if err := b.AddItemsRequest(q.DocType, q.Elements, nil, q.ReaderKey); err != nil {
		return Result{}, err
	}
	reqBytes, err := b.Encode()
	if err != nil {
		return Result{}, err
	}
	frame, err := enc.Encrypt(reqBytes, nil)
	if err != nil {
		return Result{}, err
	}
	if err := transport.SendMessage(ctx, frame); err != nil {
		return Result{}, err
	}

	msg, err := transport.ReceiveMessage(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(msg) == 0 {
		return Result{}, ErrSessionRefused
	}
	plaintext, status, err := enc.Decrypt(msg)
	if err != nil {
		return Result{}, err
	}
	var res Result
	if status != nil {
		res.Terminated = *status == session.StatusTermination
		if !res.Terminated {
			return Result{}, fmt.Errorf("%w: session status %d", ErrResponseStatus, *status)
		}
	}
	if plaintext == nil {
		return res, ErrSessionRefused
	}

	parsed, err := response.Parse(plaintext)
	if err != nil {
		return Result{}, err
	}
	res.Status = parsed.Status
	if parsed.Status != response.StatusOK {
		return res, fmt.Errorf("%w: %d", ErrResponseStatus, parsed.Status)
	}
	for i, doc := range parsed.Documents {
		verified, err := verifyDocument(doc, transcript, ephemeral)
		if err != nil {
			return res, fmt.Errorf("document %d: %w", i, err)
		}
		res.Documents = append(res.Documents, verified)
	}
	return res, nil
}

// verifyDocument checks device auth and issuer digests for one document.
func verifyDocument(doc response.ParsedDocument, transcript session.Transcript, ephemeral *ecdh.PrivateKey) (Document, error) {
	m, err := mso.Parse(doc.IssuerAuth)
	if err != nil {
		return Document{}, err
	}
	if m.DocType != doc.DocType {
		return Document{}, fmt.Errorf("mso docType %q does not match document %q", m.DocType, doc.DocType)
	}
	deviceKey, err := m.DeviceKeyECDH()
	if err != nil {
		return Document{}, err
	}

	out := Document{
		DocType:    doc.DocType,
		Items:      make(map[domain.Namespace][]mso.Item),
		ValidUntil: m.ValidUntil.Format("2006-01-02"),
	}
	switch {
	case doc.DeviceSignature != nil:
		pub, err := mdocrypto.ECDSAFromECDH(deviceKey)
		if err != nil {
			return Document{}, err
		}
		if err := response.VerifyDeviceSignature(doc.DeviceSignature, transcript, doc.DocType, doc.DeviceNameSpaces, pub); err != nil {
			return Document{}, err
		}
		out.AuthMethod = "signature"
	case doc.DeviceMac != nil:
		key, err := response.EMacKeyReader(ephemeral, deviceKey, transcript)
		if err != nil {
			return Document{}, err
		}
		if err := response.VerifyDeviceMac(doc.DeviceMac, key, transcript, doc.DocType, doc.DeviceNameSpaces); err != nil {
			return Document{}, err
		}
		out.AuthMethod = "mac"
	default:
		return Document{}, errors.New("document carries no device auth")
	}

	for ns, rawItems := range doc.IssuerNameSpaces {
		for _, raw := range rawItems {
			item, err := mso.DecodeItem(raw)
			if err != nil {
				return Document{}, err
			}
			if err := m.CheckItemDigest(ns, domain.IssuerSignedItem{
				DigestID:          item.DigestID,
				ElementIdentifier: item.Identifier,
				Raw:               item.Raw,
			}); err != nil {
				return Document{}, err
			}
			out.Items[ns] = append(out.Items[ns], item)
		}
	}
	return out, nil
}
