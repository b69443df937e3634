package provision

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"time"
	"unicode"

	"github.com/google/uuid"

	mdocrypto "mdoclink/internal/crypto"
	"mdoclink/internal/domain"
	"mdoclink/internal/protocol/mso"
)

const (
	// minPassphraseLength defines the minimum number of characters required
	// for the store passphrase.
	minPassphraseLength = 12

	deviceKeyPrefix = "device-"
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength
	// policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)

	ErrNoNameSpaces   = errors.New("credential has no issuer-signed namespaces")
	ErrNoIssuerAuth   = errors.New("credential has no issuerAuth")
	ErrDocTypeMissing = errors.New("credential has no docType")
	ErrKeyMismatch    = errors.New("issuerAuth device key does not match the named device key")
)

// Service provisions credentials: device key creation, strict import
// validation against the issuer-signed MSO, and local demo issuance.
type Service struct {
	store domain.CredentialStore
	keys  domain.SecureArea
}

// New returns a provisioning service over the given store and secure area.
func New(store domain.CredentialStore, keys domain.SecureArea) *Service {
	return &Service{store: store, keys: keys}
}

// CreateDeviceKey generates a fresh device key and returns its alias. Each
// credential gets its own key; issuers bind the MSO to it.
func (s *Service) CreateDeviceKey() (string, *ecdsa.PublicKey, error) {
	alias := deviceKeyPrefix + uuid.NewString()
	pub, err := s.keys.CreateKey(alias)
	if err != nil {
		return "", nil, err
	}
	return alias, pub, nil
}

// ImportInput is one issuer-provisioned credential ready for storage.
type ImportInput struct {
	DocType    domain.DocType
	KeyAlias   string
	NameSpaces map[domain.Namespace][]domain.IssuerSignedItem
	IssuerAuth []byte
}

// Import validates and stores a credential. Malformed input is rejected at
// construction time: a credential that cannot satisfy any request does not
// belong in the store.
func (s *Service) Import(passphrase string, in ImportInput) (domain.Credential, error) {
	if in.DocType == "" {
		return domain.Credential{}, ErrDocTypeMissing
	}
	if len(in.NameSpaces) == 0 {
		return domain.Credential{}, ErrNoNameSpaces
	}
	if len(in.IssuerAuth) == 0 {
		return domain.Credential{}, ErrNoIssuerAuth
	}

	parsed, err := mso.Parse(in.IssuerAuth)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("issuerAuth: %w", err)
	}
	if parsed.DocType != in.DocType {
		return domain.Credential{}, fmt.Errorf("issuerAuth docType %q does not match %q", parsed.DocType, in.DocType)
	}
	for ns, items := range in.NameSpaces {
		for _, item := range items {
			if err := parsed.CheckItemDigest(ns, item); err != nil {
				return domain.Credential{}, err
			}
		}
	}

	// The MSO's device key must be the one the alias names, or presentment
	// would produce device auth no reader accepts.
	devicePub, err := s.keys.PublicKey(in.KeyAlias)
	if err != nil {
		return domain.Credential{}, err
	}
	deviceECDH, err := mdocrypto.ECDHFromECDSA(devicePub)
	if err != nil {
		return domain.Credential{}, err
	}
	msoKey, err := parsed.DeviceKeyECDH()
	if err != nil {
		return domain.Credential{}, err
	}
	if !msoKey.Equal(deviceECDH) {
		return domain.Credential{}, ErrKeyMismatch
	}

	cred := domain.Credential{
		ID:         uuid.NewString(),
		DocType:    in.DocType,
		KeyAlias:   in.KeyAlias,
		NameSpaces: in.NameSpaces,
		IssuerAuth: in.IssuerAuth,
		CreatedUTC: time.Now().UTC().Unix(),
	}
	if err := s.store.SaveCredential(passphrase, cred); err != nil {
		return domain.Credential{}, err
	}
	return cred, nil
}

// IssueDemo creates a self-issued credential: a fresh device key, a
// throwaway issuer key, and an MSO over claims. Useful for exercising the
// full presentment path without a real issuer.
func (s *Service) IssueDemo(
	passphrase string,
	docType domain.DocType,
	claims map[domain.Namespace]map[domain.ElementIdentifier]any,
	validFor time.Duration,
) (domain.Credential, error) {
	alias, devicePub, err := s.CreateDeviceKey()
	if err != nil {
		return domain.Credential{}, err
	}
	issuerKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return domain.Credential{}, err
	}
	items, issuerAuth, err := mso.BuildIssuerSigned(docType, claims, devicePub, mso.Issuer{Signer: issuerKey}, validFor)
	if err != nil {
		return domain.Credential{}, err
	}
	cred, err := s.Import(passphrase, ImportInput{
		DocType:    docType,
		KeyAlias:   alias,
		NameSpaces: items,
		IssuerAuth: issuerAuth,
	})
	if err != nil {
		// Do not leave an orphaned device key behind a failed import.
		_ = s.keys.DeleteKey(alias)
		return domain.Credential{}, err
	}
	return cred, nil
}

// List returns all stored credentials.
func (s *Service) List(passphrase string) ([]domain.Credential, error) {
	return s.store.ListCredentials(passphrase)
}

// CheckPassphrase enforces the strength policy for a new store passphrase.
func CheckPassphrase(passphrase string) error {
	if !isSecurePassphrase(passphrase) {
		return ErrWeakPassphrase
	}
	return nil
}

// isSecurePassphrase reports whether the passphrase meets the policy.
func isSecurePassphrase(passphrase string) bool {
	if len(passphrase) < minPassphraseLength {
		return false
	}
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}
