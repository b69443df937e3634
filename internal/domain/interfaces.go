package domain

import (
	"context"
	"crypto/ecdh"
	"crypto/ecdsa"
)

// CredentialStore persists provisioned credentials. The engine only reads;
// usage-count increments are an explicit append after a presentment ends.
type CredentialStore interface {
	SaveCredential(passphrase string, cred Credential) error
	ListCredentials(passphrase string) ([]Credential, error)
	LoadCredential(passphrase, id string) (Credential, bool, error)
	RecordUsage(passphrase, id string) error
}

// CredentialSelector picks candidate credentials for one document request.
// No candidates is a valid outcome, not an error.
type CredentialSelector interface {
	Select(ctx context.Context, docType DocType) ([]Credential, error)
}

// ConsentHandler decides whether a matched credential may be disclosed.
// Returning false skips the document without failing the engagement.
type ConsentHandler interface {
	RequestConsent(ctx context.Context, req ConsentRequest) (bool, error)
}

// SecureArea is the narrow signing contract behind the device key. Private
// material never crosses this interface; implementations may be hardware
// backed.
type SecureArea interface {
	// CreateKey generates a fresh P-256 key under alias.
	CreateKey(alias string) (*ecdsa.PublicKey, error)

	// PublicKey returns the public half of alias.
	PublicKey(alias string) (*ecdsa.PublicKey, error)

	// Sign returns a raw r||s ES256 signature over SHA-256(data).
	Sign(alias string, data []byte) ([]byte, error)

	// AgreeKey returns the ECDH shared secret between alias and peer.
	AgreeKey(alias string, peer *ecdh.PublicKey) ([]byte, error)

	// DeleteKey removes alias. Deleting an absent alias is a no-op.
	DeleteKey(alias string) error
}
