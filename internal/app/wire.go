package app

import (
	"mdoclink/internal/domain"
	"mdoclink/internal/securearea"
	"mdoclink/internal/services/provision"
	"mdoclink/internal/store"
)

// Wire bundles the stores, the secure area, and the high-level services for
// the CLI.
type Wire struct {
	Credentials domain.CredentialStore
	Keys        domain.SecureArea
	Provision   *provision.Service
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg Config) (*Wire, error) {
	credentials := store.NewCredentialFileStore(cfg.Home)
	keys := securearea.NewSoftware(store.NewKeyFileStore(cfg.Home, cfg.Passphrase))

	return &Wire{
		Credentials: credentials,
		Keys:        keys,
		Provision:   provision.New(credentials, keys),
	}, nil
}
