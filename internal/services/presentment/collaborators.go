package presentment

import (
	"context"

	"mdoclink/internal/domain"
)

// StoreSelector offers every stored credential of the requested docType as a
// candidate, in store order.
type StoreSelector struct {
	Store      domain.CredentialStore
	Passphrase string
}

func (s StoreSelector) Select(_ context.Context, docType domain.DocType) ([]domain.Credential, error) {
	all, err := s.Store.ListCredentials(s.Passphrase)
	if err != nil {
		return nil, err
	}
	var out []domain.Credential
	for _, c := range all {
		if c.DocType == docType {
			out = append(out, c)
		}
	}
	return out, nil
}

// StaticConsent answers every consent prompt with a fixed decision.
// RequireReaderAuth additionally refuses requests the reader did not
// authenticate. Interactive holders supply their own ConsentHandler instead.
type StaticConsent struct {
	Grant             bool
	RequireReaderAuth bool
}

func (c StaticConsent) RequestConsent(_ context.Context, req domain.ConsentRequest) (bool, error) {
	if c.RequireReaderAuth && !req.ReaderAuthenticated {
		return false, nil
	}
	return c.Grant, nil
}

var (
	_ domain.CredentialSelector = StoreSelector{}
	_ domain.ConsentHandler     = StaticConsent{}
)
