package domain

// DocType identifies a document class, e.g. "org.iso.18013.5.1.mDL".
type DocType string

// Namespace scopes data element identifiers within a document.
type Namespace string

// ElementIdentifier names one data element inside a namespace.
type ElementIdentifier string

// Well-known mobile driving licence identifiers.
const (
	MDLDocType   DocType   = "org.iso.18013.5.1.mDL"
	MDLNamespace Namespace = "org.iso.18013.5.1"
)

// IssuerSignedItem is one issuer-attested data element. Raw holds the exact
// tag-24 wrapped bytes the issuer computed its digest over; they must never be
// re-encoded, or digest verification on the reader side fails.
type IssuerSignedItem struct {
	DigestID          uint64
	ElementIdentifier ElementIdentifier
	Raw               []byte
}

// Credential is a provisioned mdoc: issuer-signed data elements plus the
// alias of the device key the issuer bound it to.
type Credential struct {
	ID         string
	DocType    DocType
	KeyAlias   string
	NameSpaces map[Namespace][]IssuerSignedItem
	IssuerAuth []byte // COSE_Sign1 bytes carrying the MSO
	UsageCount int
	CreatedUTC int64
}

// Items returns the issuer-signed items of ns whose identifiers appear in
// want, preserving issuance order. Unknown identifiers are skipped.
func (c Credential) Items(ns Namespace, want map[ElementIdentifier]bool) []IssuerSignedItem {
	var out []IssuerSignedItem
	for _, item := range c.NameSpaces[ns] {
		if want[item.ElementIdentifier] {
			out = append(out, item)
		}
	}
	return out
}

// RequestedElement is one element a reader asked for.
type RequestedElement struct {
	Identifier     ElementIdentifier
	IntentToRetain bool
}

// ConsentRequest is shown to the user before any data leaves the device.
type ConsentRequest struct {
	CredentialID        string
	DocType             DocType
	Requested           map[Namespace][]RequestedElement
	ReaderAuthenticated bool
	ReaderCertificates  [][]byte // DER, leaf first; present only with reader auth
}
