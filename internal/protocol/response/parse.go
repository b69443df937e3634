package response

import (
	"github.com/fxamacker/cbor/v2"

	"mdoclink/internal/domain"
)

// Parsed is a structurally decoded DeviceResponse. Issuer and device
// authenticity checks are the caller's concern.
type Parsed struct {
	Version     string
	Status      uint64
	Documents   []ParsedDocument
	ZkDocuments []cbor.RawMessage
}

// ParsedDocument keeps every authenticated byte range verbatim.
type ParsedDocument struct {
	DocType          domain.DocType
	IssuerNameSpaces map[domain.Namespace][]cbor.RawMessage
	IssuerAuth       []byte
	DeviceNameSpaces []byte
	DeviceSignature  []byte
	DeviceMac        []byte
	Errors           map[domain.Namespace]map[domain.ElementIdentifier]int64
}

// Parse structurally decodes a DeviceResponse envelope.
func Parse(msg []byte) (Parsed, error) {
	const op = "response.Parse"
	var env deviceResponse
	if err := cbor.Unmarshal(msg, &env); err != nil {
		return Parsed{}, domain.NewError(domain.KindProtocol, op, err)
	}
	if env.Version != Version {
		return Parsed{}, domain.Errorf(domain.KindProtocol, op, "unsupported version %q", env.Version)
	}
	out := Parsed{Version: env.Version, Status: env.Status, ZkDocuments: env.ZkDocuments}
	for i, d := range env.Documents {
		if d.DocType == "" {
			return Parsed{}, domain.Errorf(domain.KindProtocol, op, "document %d: missing docType", i)
		}
		if len(d.IssuerSigned.IssuerAuth) == 0 {
			return Parsed{}, domain.Errorf(domain.KindProtocol, op, "document %d: %v", i, ErrNoIssuerAuth)
		}
		sig, mac := d.DeviceSigned.DeviceAuth.DeviceSignature, d.DeviceSigned.DeviceAuth.DeviceMac
		if (sig == nil) == (mac == nil) {
			return Parsed{}, domain.Errorf(domain.KindProtocol, op, "document %d: %v", i, ErrAuthExclusivity)
		}
		out.Documents = append(out.Documents, ParsedDocument{
			DocType:          d.DocType,
			IssuerNameSpaces: d.IssuerSigned.NameSpaces,
			IssuerAuth:       d.IssuerSigned.IssuerAuth,
			DeviceNameSpaces: d.DeviceSigned.NameSpaces,
			DeviceSignature:  sig,
			DeviceMac:        mac,
			Errors:           d.Errors,
		})
	}
	return out, nil
}
