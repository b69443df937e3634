package response

import (
	"errors"

	"github.com/fxamacker/cbor/v2"

	"mdoclink/internal/domain"
	"mdoclink/internal/protocol/tagged"
)

const Version = "1.0"

// DeviceResponse status codes.
const (
	StatusOK                  uint64 = 0
	StatusGeneralError        uint64 = 10
	StatusCBORDecodingError   uint64 = 11
	StatusCBORValidationError uint64 = 12
)

var (
	ErrAuthExclusivity = errors.New("exactly one of deviceSignature and deviceMac is required")
	ErrMixedDocuments  = errors.New("documents and zkDocuments are mutually exclusive per response")
	ErrNoIssuerAuth    = errors.New("document has no issuerAuth")
)

type deviceResponse struct {
	Version     string            `cbor:"version"`
	Documents   []document        `cbor:"documents,omitempty"`
	ZkDocuments []cbor.RawMessage `cbor:"zkDocuments,omitempty"`
	Status      uint64            `cbor:"status"`
}

type document struct {
	DocType      domain.DocType `cbor:"docType"`
	IssuerSigned issuerSigned   `cbor:"issuerSigned"`
	DeviceSigned deviceSigned   `cbor:"deviceSigned"`
	Errors       errorMap       `cbor:"errors,omitempty"`
}

type errorMap map[domain.Namespace]map[domain.ElementIdentifier]int64

type issuerSigned struct {
	NameSpaces map[domain.Namespace][]cbor.RawMessage `cbor:"nameSpaces,omitempty"`
	IssuerAuth cbor.RawMessage                        `cbor:"issuerAuth"`
}

type deviceSigned struct {
	NameSpaces cbor.RawMessage `cbor:"nameSpaces"`
	DeviceAuth deviceAuth      `cbor:"deviceAuth"`
}

type deviceAuth struct {
	DeviceSignature cbor.RawMessage `cbor:"deviceSignature,omitempty"`
	DeviceMac       cbor.RawMessage `cbor:"deviceMac,omitempty"`
}

// Document is the input for one response document. IssuerNameSpaces carries
// the tag-24 issuer-signed item bytes verbatim; exactly one of
// DeviceSignature / DeviceMac must be set.
type Document struct {
	DocType          domain.DocType
	IssuerNameSpaces map[domain.Namespace][]cbor.RawMessage
	IssuerAuth       []byte
	DeviceNameSpaces []byte // tag-24 DeviceNameSpaces; EmptyDeviceNameSpaces() when none
	DeviceSignature  []byte
	DeviceMac        []byte
	Errors           map[domain.Namespace]map[domain.ElementIdentifier]int64
}

// Generator assembles one DeviceResponse. Plain documents and zkDocuments
// are alternative representations; once either list has been used, the other
// is rejected for the generator's lifetime.
type Generator struct {
	documents []document
	zk        []cbor.RawMessage
}

func NewGenerator() *Generator { return &Generator{} }

// AddDocument appends one document, enforcing signature/MAC exclusivity.
func (g *Generator) AddDocument(doc Document) error {
	const op = "response.AddDocument"
	if len(g.zk) > 0 {
		return domain.NewError(domain.KindProtocol, op, ErrMixedDocuments)
	}
	if (doc.DeviceSignature == nil) == (doc.DeviceMac == nil) {
		return domain.NewError(domain.KindProtocol, op, ErrAuthExclusivity)
	}
	if len(doc.IssuerAuth) == 0 {
		return domain.NewError(domain.KindProtocol, op, ErrNoIssuerAuth)
	}
	if len(doc.DeviceNameSpaces) == 0 {
		dns, err := EmptyDeviceNameSpaces()
		if err != nil {
			return domain.NewError(domain.KindProtocol, op, err)
		}
		doc.DeviceNameSpaces = dns
	}
	g.documents = append(g.documents, document{
		DocType: doc.DocType,
		IssuerSigned: issuerSigned{
			NameSpaces: doc.IssuerNameSpaces,
			IssuerAuth: doc.IssuerAuth,
		},
		DeviceSigned: deviceSigned{
			NameSpaces: doc.DeviceNameSpaces,
			DeviceAuth: deviceAuth{
				DeviceSignature: doc.DeviceSignature,
				DeviceMac:       doc.DeviceMac,
			},
		},
		Errors: doc.Errors,
	})
	return nil
}

// AddZkDocument appends one pre-encoded zero-knowledge document.
func (g *Generator) AddZkDocument(raw []byte) error {
	const op = "response.AddZkDocument"
	if len(g.documents) > 0 {
		return domain.NewError(domain.KindProtocol, op, ErrMixedDocuments)
	}
	if len(raw) == 0 {
		return domain.Errorf(domain.KindProtocol, op, "empty zkDocument")
	}
	g.zk = append(g.zk, raw)
	return nil
}

// Generate emits the versioned DeviceResponse envelope. An empty document
// list with StatusOK is valid: it is the best-effort answer to a request
// nothing matched.
func (g *Generator) Generate(status uint64) ([]byte, error) {
	out, err := tagged.Marshal(deviceResponse{
		Version:     Version,
		Documents:   g.documents,
		ZkDocuments: g.zk,
		Status:      status,
	})
	if err != nil {
		return nil, domain.NewError(domain.KindProtocol, "response.Generate", err)
	}
	return out, nil
}

// EmptyDeviceNameSpaces returns tag24({}), the DeviceNameSpaces encoding for
// a document disclosing no device-signed elements.
func EmptyDeviceNameSpaces() ([]byte, error) {
	return tagged.Encode(map[domain.Namespace]cbor.RawMessage{})
}

// EncodeDeviceNameSpaces encodes device-signed elements as tag-24
// DeviceNameSpaces bytes.
func EncodeDeviceNameSpaces(ns map[domain.Namespace]map[domain.ElementIdentifier]cbor.RawMessage) ([]byte, error) {
	if len(ns) == 0 {
		return EmptyDeviceNameSpaces()
	}
	return tagged.Encode(ns)
}
