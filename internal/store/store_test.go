package store_test

import (
	"bytes"
	"testing"

	"mdoclink/internal/domain"
	"mdoclink/internal/store"
)

func sampleCredential() domain.Credential {
	return domain.Credential{
		ID:       "cred-1",
		DocType:  domain.MDLDocType,
		KeyAlias: "mdoc-key-1",
		NameSpaces: map[domain.Namespace][]domain.IssuerSignedItem{
			domain.MDLNamespace: {
				{DigestID: 0, ElementIdentifier: "given_name", Raw: []byte{0xd8, 0x18, 0x41, 0xa0}},
				{DigestID: 1, ElementIdentifier: "family_name", Raw: []byte{0xd8, 0x18, 0x41, 0xa1}},
			},
		},
		IssuerAuth: []byte{0x84, 0x43},
		CreatedUTC: 1700000000,
	}
}

func TestCredentialFileStore_RoundTrip(t *testing.T) {
	s := store.NewCredentialFileStore(t.TempDir())
	want := sampleCredential()
	if err := s.SaveCredential("pw", want); err != nil {
		t.Fatalf("SaveCredential: %v", err)
	}

	got, ok, err := s.LoadCredential("pw", want.ID)
	if err != nil || !ok {
		t.Fatalf("LoadCredential: ok=%v err=%v", ok, err)
	}
	if got.DocType != want.DocType || got.KeyAlias != want.KeyAlias {
		t.Fatalf("credential mismatch: %+v", got)
	}
	items := got.NameSpaces[domain.MDLNamespace]
	if len(items) != 2 {
		t.Fatalf("want 2 items, got %d", len(items))
	}
	if !bytes.Equal(items[0].Raw, want.NameSpaces[domain.MDLNamespace][0].Raw) {
		t.Fatal("item bytes changed across the store round trip")
	}

	list, err := s.ListCredentials("pw")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListCredentials: %v len=%d", err, len(list))
	}
}

func TestCredentialFileStore_WrongPassphrase(t *testing.T) {
	s := store.NewCredentialFileStore(t.TempDir())
	if err := s.SaveCredential("right", sampleCredential()); err != nil {
		t.Fatalf("SaveCredential: %v", err)
	}
	if _, _, err := s.LoadCredential("wrong", "cred-1"); err == nil {
		t.Fatal("wrong passphrase opened the store")
	}
}

func TestCredentialFileStore_MissingIsNotError(t *testing.T) {
	s := store.NewCredentialFileStore(t.TempDir())
	_, ok, err := s.LoadCredential("pw", "absent")
	if err != nil || ok {
		t.Fatalf("absent credential: ok=%v err=%v", ok, err)
	}
	list, err := s.ListCredentials("pw")
	if err != nil || len(list) != 0 {
		t.Fatalf("empty store list: %v len=%d", err, len(list))
	}
}

func TestCredentialFileStore_RecordUsage(t *testing.T) {
	s := store.NewCredentialFileStore(t.TempDir())
	if err := s.SaveCredential("pw", sampleCredential()); err != nil {
		t.Fatalf("SaveCredential: %v", err)
	}
	if err := s.RecordUsage("pw", "cred-1"); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if err := s.RecordUsage("pw", "cred-1"); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	got, _, err := s.LoadCredential("pw", "cred-1")
	if err != nil || got.UsageCount != 2 {
		t.Fatalf("usage count = %d, err=%v", got.UsageCount, err)
	}
	if err := s.RecordUsage("pw", "absent"); err == nil {
		t.Fatal("RecordUsage succeeded for missing credential")
	}
}

func TestKeyFileStore_RoundTrip(t *testing.T) {
	s := store.NewKeyFileStore(t.TempDir(), "pw")
	der := []byte{0x30, 0x77, 0x02, 0x01, 0x01}
	if err := s.SaveKey("alias-1", der); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	got, ok, err := s.LoadKey("alias-1")
	if err != nil || !ok || !bytes.Equal(got, der) {
		t.Fatalf("LoadKey: ok=%v err=%v got=%x", ok, err, got)
	}
	if err := s.DeleteKey("alias-1"); err != nil {
		t.Fatalf("DeleteKey: %v", err)
	}
	if _, ok, _ := s.LoadKey("alias-1"); ok {
		t.Fatal("key survived deletion")
	}
	// Deleting an absent alias is a no-op.
	if err := s.DeleteKey("alias-1"); err != nil {
		t.Fatalf("second DeleteKey: %v", err)
	}
}
