package securearea

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"

	"mdoclink/internal/domain"
)

var ErrKeyNotFound = errors.New("no key under alias")

// Persistence stores sealed private-key material for the software secure
// area. A nil Persistence keeps keys in memory only (tests, ephemeral use).
type Persistence interface {
	SaveKey(alias string, der []byte) error
	LoadKey(alias string) ([]byte, bool, error)
	DeleteKey(alias string) error
}

// Software is a file- or memory-backed SecureArea. It fulfils the same
// narrow contract a hardware-backed implementation would: private keys
// never leave the package boundary.
type Software struct {
	persist Persistence

	mu   sync.Mutex
	keys map[string]*ecdsa.PrivateKey
}

// NewSoftware returns a software secure area over persist.
func NewSoftware(persist Persistence) *Software {
	return &Software{persist: persist, keys: make(map[string]*ecdsa.PrivateKey)}
}

// NewEphemeral returns a memory-only software secure area.
func NewEphemeral() *Software { return NewSoftware(nil) }

func (s *Software) CreateKey(alias string) (*ecdsa.PublicKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("create key %q: %w", alias, err)
	}
	s.mu.Lock()
	s.keys[alias] = key
	s.mu.Unlock()

	if s.persist != nil {
		der, err := x509.MarshalECPrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("encode key %q: %w", alias, err)
		}
		if err := s.persist.SaveKey(alias, der); err != nil {
			return nil, fmt.Errorf("persist key %q: %w", alias, err)
		}
	}
	return &key.PublicKey, nil
}

func (s *Software) PublicKey(alias string) (*ecdsa.PublicKey, error) {
	key, err := s.private(alias)
	if err != nil {
		return nil, err
	}
	return &key.PublicKey, nil
}

// Sign returns a raw r||s ES256 signature over SHA-256(data).
func (s *Software) Sign(alias string, data []byte) ([]byte, error) {
	key, err := s.private(alias)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(data)
	r, sv, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign with %q: %w", alias, err)
	}
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	sv.FillBytes(sig[32:])
	return sig, nil
}

func (s *Software) AgreeKey(alias string, peer *ecdh.PublicKey) ([]byte, error) {
	key, err := s.private(alias)
	if err != nil {
		return nil, err
	}
	ecdhKey, err := key.ECDH()
	if err != nil {
		return nil, fmt.Errorf("convert key %q: %w", alias, err)
	}
	shared, err := ecdhKey.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("agree with %q: %w", alias, err)
	}
	return shared, nil
}

func (s *Software) DeleteKey(alias string) error {
	s.mu.Lock()
	delete(s.keys, alias)
	s.mu.Unlock()
	if s.persist != nil {
		return s.persist.DeleteKey(alias)
	}
	return nil
}

func (s *Software) private(alias string) (*ecdsa.PrivateKey, error) {
	s.mu.Lock()
	key, ok := s.keys[alias]
	s.mu.Unlock()
	if ok {
		return key, nil
	}
	if s.persist == nil {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, alias)
	}
	der, found, err := s.persist.LoadKey(alias)
	if err != nil {
		return nil, fmt.Errorf("load key %q: %w", alias, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, alias)
	}
	key, err = x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("decode key %q: %w", alias, err)
	}
	s.mu.Lock()
	s.keys[alias] = key
	s.mu.Unlock()
	return key, nil
}

// Compile-time assertion that Software implements domain.SecureArea.
var _ domain.SecureArea = (*Software)(nil)
