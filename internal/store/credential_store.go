package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"mdoclink/internal/domain"
)

const credentialsFile = "credentials.enc"

// credentialRecord is the JSON shape one credential takes inside the
// encrypted blob. Item bytes are stored verbatim so issuer digests stay
// valid.
type credentialRecord struct {
	ID         string                  `json:"id"`
	DocType    string                  `json:"doc_type"`
	KeyAlias   string                  `json:"key_alias"`
	NameSpaces map[string][]storedItem `json:"name_spaces"`
	IssuerAuth []byte                  `json:"issuer_auth"`
	UsageCount int                     `json:"usage_count"`
	CreatedUTC int64                   `json:"created_utc"`
}

type storedItem struct {
	DigestID          uint64 `json:"digest_id"`
	ElementIdentifier string `json:"element_identifier"`
	Raw               []byte `json:"raw"`
}

// CredentialFileStore keeps provisioned credentials in one
// passphrase-encrypted file under dir.
type CredentialFileStore struct {
	dir string
	mu  sync.Mutex
}

func NewCredentialFileStore(dir string) *CredentialFileStore {
	return &CredentialFileStore{dir: dir}
}

func (s *CredentialFileStore) SaveCredential(passphrase string, cred domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load(passphrase)
	if err != nil {
		return err
	}
	m[cred.ID] = toRecord(cred)
	return s.save(passphrase, m)
}

func (s *CredentialFileStore) ListCredentials(passphrase string) ([]domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load(passphrase)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Credential, 0, len(m))
	for _, rec := range m {
		out = append(out, fromRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *CredentialFileStore) LoadCredential(passphrase, id string) (domain.Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load(passphrase)
	if err != nil {
		return domain.Credential{}, false, err
	}
	rec, ok := m[id]
	if !ok {
		return domain.Credential{}, false, nil
	}
	return fromRecord(rec), true, nil
}

// RecordUsage increments the usage counter of id. The increment is an
// append-only side effect after a presentment; it never runs concurrently
// with an engagement's reads from the engine's point of view.
func (s *CredentialFileStore) RecordUsage(passphrase, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load(passphrase)
	if err != nil {
		return err
	}
	rec, ok := m[id]
	if !ok {
		return fmt.Errorf("credential %q not found", id)
	}
	rec.UsageCount++
	m[id] = rec
	return s.save(passphrase, m)
}

func (s *CredentialFileStore) load(passphrase string) (map[string]credentialRecord, error) {
	m := make(map[string]credentialRecord)
	raw, err := readFile(s.path())
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return m, nil
	}
	pt, err := decrypt(passphrase, raw)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(pt, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *CredentialFileStore) save(passphrase string, m map[string]credentialRecord) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	N, r, p := scryptParamsDefault()
	ct, err := encrypt(passphrase, raw, N, r, p)
	if err != nil {
		return err
	}
	return writeFile(s.path(), ct, 0o600)
}

func (s *CredentialFileStore) path() string { return s.dir + "/" + credentialsFile }

func toRecord(c domain.Credential) credentialRecord {
	rec := credentialRecord{
		ID:         c.ID,
		DocType:    string(c.DocType),
		KeyAlias:   c.KeyAlias,
		NameSpaces: make(map[string][]storedItem, len(c.NameSpaces)),
		IssuerAuth: append([]byte(nil), c.IssuerAuth...),
		UsageCount: c.UsageCount,
		CreatedUTC: c.CreatedUTC,
	}
	for ns, items := range c.NameSpaces {
		for _, it := range items {
			rec.NameSpaces[string(ns)] = append(rec.NameSpaces[string(ns)], storedItem{
				DigestID:          it.DigestID,
				ElementIdentifier: string(it.ElementIdentifier),
				Raw:               append([]byte(nil), it.Raw...),
			})
		}
	}
	return rec
}

func fromRecord(rec credentialRecord) domain.Credential {
	c := domain.Credential{
		ID:         rec.ID,
		DocType:    domain.DocType(rec.DocType),
		KeyAlias:   rec.KeyAlias,
		NameSpaces: make(map[domain.Namespace][]domain.IssuerSignedItem, len(rec.NameSpaces)),
		IssuerAuth: append([]byte(nil), rec.IssuerAuth...),
		UsageCount: rec.UsageCount,
		CreatedUTC: rec.CreatedUTC,
	}
	for ns, items := range rec.NameSpaces {
		for _, it := range items {
			c.NameSpaces[domain.Namespace(ns)] = append(c.NameSpaces[domain.Namespace(ns)], domain.IssuerSignedItem{
				DigestID:          it.DigestID,
				ElementIdentifier: domain.ElementIdentifier(it.ElementIdentifier),
				Raw:               append([]byte(nil), it.Raw...),
			})
		}
	}
	return c
}

// Compile-time assertion that the store satisfies the domain contract.
var _ domain.CredentialStore = (*CredentialFileStore)(nil)
