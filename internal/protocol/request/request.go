package request

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"mdoclink/internal/domain"
	"mdoclink/internal/protocol/session"
	"mdoclink/internal/protocol/tagged"
)

const Version = "1.0"

var (
	ErrNoDocRequests  = errors.New("deviceRequest has no docRequests")
	ErrBadVersion     = errors.New("unsupported deviceRequest version")
	ErrEmptyItems     = errors.New("itemsRequest names no data elements")
	ErrMissingDocType = errors.New("itemsRequest missing docType")
)

// deviceRequest is the wire envelope.
type deviceRequest struct {
	Version     string       `cbor:"version"`
	DocRequests []docRequest `cbor:"docRequests"`
}

type docRequest struct {
	ItemsRequest cbor.RawMessage `cbor:"itemsRequest"`
	ReaderAuth   cbor.RawMessage `cbor:"readerAuth,omitempty"`
}

// itemsRequest is the tag-24 embedded per-document request.
type itemsRequest struct {
	DocType     domain.DocType                                         `cbor:"docType"`
	NameSpaces  map[domain.Namespace]map[domain.ElementIdentifier]bool `cbor:"nameSpaces"`
	RequestInfo map[string]cbor.RawMessage                             `cbor:"requestInfo,omitempty"`
}

// ReaderKey signs reader authentication for one document request.
type ReaderKey struct {
	Signer    crypto.Signer // ES256 key
	CertChain [][]byte      // DER certificates, leaf first, for the x5chain header
}

// Builder assembles a DeviceRequest bound to one session transcript.
type Builder struct {
	transcript  session.Transcript
	docRequests []docRequest
}

// NewBuilder starts an empty DeviceRequest. The transcript is needed only
// when reader authentication is attached.
func NewBuilder(transcript session.Transcript) *Builder {
	return &Builder{transcript: transcript}
}

// AddItemsRequest appends one per-document request. itemsToRequest maps
// namespace -> element -> intentToRetain. A non-nil readerKey signs
// ["ReaderAuthentication", SessionTranscriptBytes, ItemsRequestBytes] and
// embeds the signature with its certificate chain.
func (b *Builder) AddItemsRequest(
	docType domain.DocType,
	itemsToRequest map[domain.Namespace]map[domain.ElementIdentifier]bool,
	requestInfo map[string]cbor.RawMessage,
	readerKey *ReaderKey,
) error {
	const op = "request.AddItemsRequest"
	if docType == "" {
		return domain.NewError(domain.KindProtocol, op, ErrMissingDocType)
	}
	if len(itemsToRequest) == 0 {
		return domain.NewError(domain.KindProtocol, op, ErrEmptyItems)
	}
	itemsBytes, err := tagged.Encode(itemsRequest{
		DocType:     docType,
		NameSpaces:  itemsToRequest,
		RequestInfo: requestInfo,
	})
	if err != nil {
		return domain.NewError(domain.KindProtocol, op, err)
	}
	dr := docRequest{ItemsRequest: itemsBytes}
	if readerKey != nil {
		if b.transcript.Empty() {
			return domain.Errorf(domain.KindProtocol, op, "reader auth requires a transcript")
		}
		auth, err := signReaderAuth(b.transcript, itemsBytes, readerKey)
		if err != nil {
			return domain.NewError(domain.KindCrypto, op, err)
		}
		dr.ReaderAuth = auth
	}
	b.docRequests = append(b.docRequests, dr)
	return nil
}

// Encode emits the versioned DeviceRequest envelope.
func (b *Builder) Encode() ([]byte, error) {
	const op = "request.Encode"
	if len(b.docRequests) == 0 {
		return nil, domain.NewError(domain.KindProtocol, op, ErrNoDocRequests)
	}
	out, err := tagged.Marshal(deviceRequest{Version: Version, DocRequests: b.docRequests})
	if err != nil {
		return nil, domain.NewError(domain.KindProtocol, op, err)
	}
	return out, nil
}

// readerAuthenticationBytes builds the detached COSE payload:
// tag24(["ReaderAuthentication", SessionTranscriptBytes, ItemsRequestBytes]).
func readerAuthenticationBytes(transcript session.Transcript, itemsRequestBytes []byte) ([]byte, error) {
	structure := []cbor.RawMessage{}
	label, err := tagged.Marshal("ReaderAuthentication")
	if err != nil {
		return nil, err
	}
	structure = append(structure, label, transcript.Bytes(), itemsRequestBytes)
	inner, err := tagged.Marshal(structure)
	if err != nil {
		return nil, err
	}
	return tagged.Wrap(inner)
}

func signReaderAuth(transcript session.Transcript, itemsRequestBytes []byte, key *ReaderKey) ([]byte, error) {
	payload, err := readerAuthenticationBytes(transcript, itemsRequestBytes)
	if err != nil {
		return nil, err
	}
	signer, err := cose.NewSigner(cose.AlgorithmES256, key.Signer)
	if err != nil {
		return nil, err
	}
	msg := cose.NewSign1Message()
	msg.Headers.Protected[cose.HeaderLabelAlgorithm] = cose.AlgorithmES256
	if len(key.CertChain) > 0 {
		chain := make([]any, len(key.CertChain))
		for i, der := range key.CertChain {
			chain[i] = der
		}
		msg.Headers.Unprotected[cose.HeaderLabelX5Chain] = chain
	}
	msg.Payload = payload
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, err
	}
	msg.Payload = nil // detached: the verifier rebuilds it from the transcript
	return msg.MarshalCBOR()
}

// DocRequest is one parsed per-document request.
type DocRequest struct {
	DocType     domain.DocType
	NameSpaces  map[domain.Namespace]map[domain.ElementIdentifier]bool
	RequestInfo map[string]cbor.RawMessage

	// ItemsRequestBytes is the tag-24 wrapped encoding exactly as received;
	// reader-auth verification binds to these bytes.
	ItemsRequestBytes []byte

	// ReaderAuth is the raw COSE_Sign1, nil when the reader did not
	// authenticate this request.
	ReaderAuth []byte
}

// Requested converts one parsed namespace map into the element list shown to
// the consent collaborator.
func (d DocRequest) Requested() map[domain.Namespace][]domain.RequestedElement {
	out := make(map[domain.Namespace][]domain.RequestedElement, len(d.NameSpaces))
	for ns, elems := range d.NameSpaces {
		for id, retain := range elems {
			out[ns] = append(out[ns], domain.RequestedElement{Identifier: id, IntentToRetain: retain})
		}
	}
	return out
}

// Parse structurally decodes a DeviceRequest. Reader-auth signatures are not
// verified here; trust evaluation belongs to an external collaborator.
func Parse(msg []byte) ([]DocRequest, error) {
	const op = "request.Parse"
	var env deviceRequest
	if err := cbor.Unmarshal(msg, &env); err != nil {
		return nil, domain.NewError(domain.KindProtocol, op, err)
	}
	if env.Version != Version {
		return nil, domain.Errorf(domain.KindProtocol, op, "%v: %q", ErrBadVersion, env.Version)
	}
	if len(env.DocRequests) == 0 {
		return nil, domain.NewError(domain.KindProtocol, op, ErrNoDocRequests)
	}
	out := make([]DocRequest, 0, len(env.DocRequests))
	for i, dr := range env.DocRequests {
		var items itemsRequest
		if err := tagged.Decode(dr.ItemsRequest, &items); err != nil {
			return nil, domain.Errorf(domain.KindProtocol, op, "docRequest %d: %v", i, err)
		}
		if items.DocType == "" {
			return nil, domain.Errorf(domain.KindProtocol, op, "docRequest %d: %v", i, ErrMissingDocType)
		}
		if len(items.NameSpaces) == 0 {
			return nil, domain.Errorf(domain.KindProtocol, op, "docRequest %d: %v", i, ErrEmptyItems)
		}
		out = append(out, DocRequest{
			DocType:           items.DocType,
			NameSpaces:        items.NameSpaces,
			RequestInfo:       items.RequestInfo,
			ItemsRequestBytes: append([]byte(nil), dr.ItemsRequest...),
			ReaderAuth:        append([]byte(nil), dr.ReaderAuth...),
		})
	}
	return out, nil
}

// VerifyReaderAuth checks one parsed request's COSE_Sign1 against pub and
// the transcript it should be bound to. Callers obtain pub from the x5chain
// leaf after their own trust evaluation.
func VerifyReaderAuth(d DocRequest, transcript session.Transcript, pub *ecdsa.PublicKey) error {
	const op = "request.VerifyReaderAuth"
	if len(d.ReaderAuth) == 0 {
		return domain.Errorf(domain.KindProtocol, op, "no readerAuth present")
	}
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(d.ReaderAuth); err != nil {
		return domain.NewError(domain.KindProtocol, op, err)
	}
	payload, err := readerAuthenticationBytes(transcript, d.ItemsRequestBytes)
	if err != nil {
		return domain.NewError(domain.KindProtocol, op, err)
	}
	msg.Payload = payload
	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return domain.NewError(domain.KindCrypto, op, err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return domain.NewError(domain.KindCrypto, op, fmt.Errorf("reader authentication: %w", err))
	}
	return nil
}

// ReaderCertificates extracts the DER x5chain from a readerAuth COSE_Sign1
// without verifying anything.
func ReaderCertificates(readerAuth []byte) ([][]byte, error) {
	const op = "request.ReaderCertificates"
	if len(readerAuth) == 0 {
		return nil, nil
	}
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(readerAuth); err != nil {
		return nil, domain.NewError(domain.KindProtocol, op, err)
	}
	raw, ok := msg.Headers.Unprotected[cose.HeaderLabelX5Chain]
	if !ok {
		return nil, nil
	}
	switch v := raw.(type) {
	case []byte:
		return [][]byte{v}, nil
	case []any:
		chain := make([][]byte, 0, len(v))
		for _, c := range v {
			der, ok := c.([]byte)
			if !ok {
				return nil, domain.Errorf(domain.KindProtocol, op, "x5chain entry is not a byte string")
			}
			chain = append(chain, der)
		}
		return chain, nil
	default:
		return nil, domain.Errorf(domain.KindProtocol, op, "unexpected x5chain shape %T", raw)
	}
}
