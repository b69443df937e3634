package store

import (
	"encoding/json"
	"sync"
)

const keysFile = "device_keys.enc"

// KeyFileStore persists DER-encoded device private keys in one
// passphrase-encrypted file. It backs the software SecureArea; hardware
// implementations keep their material elsewhere.
type KeyFileStore struct {
	dir        string
	passphrase string
	mu         sync.Mutex
}

func NewKeyFileStore(dir, passphrase string) *KeyFileStore {
	return &KeyFileStore{dir: dir, passphrase: passphrase}
}

func (s *KeyFileStore) SaveKey(alias string, der []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	m[alias] = append([]byte(nil), der...)
	return s.save(m)
}

func (s *KeyFileStore) LoadKey(alias string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return nil, false, err
	}
	der, ok := m[alias]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), der...), true, nil
}

func (s *KeyFileStore) DeleteKey(alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := m[alias]; !ok {
		return nil
	}
	delete(m, alias)
	return s.save(m)
}

func (s *KeyFileStore) load() (map[string][]byte, error) {
	m := make(map[string][]byte)
	raw, err := readFile(s.dir + "/" + keysFile)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return m, nil
	}
	pt, err := decrypt(s.passphrase, raw)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(pt, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *KeyFileStore) save(m map[string][]byte) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	N, r, p := scryptParamsDefault()
	ct, err := encrypt(s.passphrase, raw, N, r, p)
	if err != nil {
		return err
	}
	return writeFile(s.dir+"/"+keysFile, ct, 0o600)
}
