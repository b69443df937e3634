package response_test

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	mdocrypto "mdoclink/internal/crypto"
	"mdoclink/internal/domain"
	"mdoclink/internal/protocol/mso"
	"mdoclink/internal/protocol/response"
	"mdoclink/internal/protocol/session"
	"mdoclink/internal/protocol/tagged"
	"mdoclink/internal/securearea"
)

// newFixture issues a one-element credential bound to a fresh device key and
// builds a transcript against a fresh reader ephemeral.
func newFixture(t *testing.T) (*securearea.Software, map[domain.Namespace][]domain.IssuerSignedItem, []byte, session.Transcript) {
	t.Helper()
	sa := securearea.NewEphemeral()
	devicePub, err := sa.CreateKey("device")
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	issuerKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("issuer key: %v", err)
	}
	items, issuerAuth, err := mso.BuildIssuerSigned(
		domain.MDLDocType,
		map[domain.Namespace]map[domain.ElementIdentifier]any{
			domain.MDLNamespace: {"given_name": "Erika"},
		},
		devicePub,
		mso.Issuer{Signer: issuerKey},
		time.Hour,
	)
	if err != nil {
		t.Fatalf("BuildIssuerSigned: %v", err)
	}
	return sa, items, issuerAuth, newTranscript(t, "1.0")
}

func newTranscript(t *testing.T, version string) session.Transcript {
	t.Helper()
	de, err := tagged.Marshal(map[int]string{0: version})
	if err != nil {
		t.Fatalf("engagement stub: %v", err)
	}
	reader, err := mdocrypto.GenerateP256()
	if err != nil {
		t.Fatalf("GenerateP256: %v", err)
	}
	ek, err := mdocrypto.MarshalCOSEKey(reader.PublicKey())
	if err != nil {
		t.Fatalf("MarshalCOSEKey: %v", err)
	}
	tr, err := session.NewTranscript(de, ek, nil)
	if err != nil {
		t.Fatalf("NewTranscript: %v", err)
	}
	return tr
}

func itemsRaw(items []domain.IssuerSignedItem) []cbor.RawMessage {
	out := make([]cbor.RawMessage, len(items))
	for i, it := range items {
		out[i] = it.Raw
	}
	return out
}

func TestAddDocument_SignatureMacExclusivity(t *testing.T) {
	sa, items, issuerAuth, tr := newFixture(t)
	dns, err := response.EmptyDeviceNameSpaces()
	if err != nil {
		t.Fatalf("EmptyDeviceNameSpaces: %v", err)
	}
	sig, err := response.SignDeviceAuth(sa, "device", tr, domain.MDLDocType, dns)
	if err != nil {
		t.Fatalf("SignDeviceAuth: %v", err)
	}

	base := response.Document{
		DocType:          domain.MDLDocType,
		IssuerNameSpaces: map[domain.Namespace][]cbor.RawMessage{domain.MDLNamespace: itemsRaw(items[domain.MDLNamespace])},
		IssuerAuth:       issuerAuth,
		DeviceNameSpaces: dns,
	}

	neither := base
	if err := response.NewGenerator().AddDocument(neither); !errors.Is(err, response.ErrAuthExclusivity) {
		t.Fatalf("neither: want ErrAuthExclusivity, got %v", err)
	}

	both := base
	both.DeviceSignature = sig
	both.DeviceMac = []byte{0x84}
	if err := response.NewGenerator().AddDocument(both); !errors.Is(err, response.ErrAuthExclusivity) {
		t.Fatalf("both: want ErrAuthExclusivity, got %v", err)
	}

	one := base
	one.DeviceSignature = sig
	if err := response.NewGenerator().AddDocument(one); err != nil {
		t.Fatalf("exactly one: %v", err)
	}
}

func TestGenerate_SignatureRoundTrip(t *testing.T) {
	sa, items, issuerAuth, tr := newFixture(t)
	dns, err := response.EmptyDeviceNameSpaces()
	if err != nil {
		t.Fatalf("EmptyDeviceNameSpaces: %v", err)
	}
	sig, err := response.SignDeviceAuth(sa, "device", tr, domain.MDLDocType, dns)
	if err != nil {
		t.Fatalf("SignDeviceAuth: %v", err)
	}

	g := response.NewGenerator()
	err = g.AddDocument(response.Document{
		DocType:          domain.MDLDocType,
		IssuerNameSpaces: map[domain.Namespace][]cbor.RawMessage{domain.MDLNamespace: itemsRaw(items[domain.MDLNamespace])},
		IssuerAuth:       issuerAuth,
		DeviceNameSpaces: dns,
		DeviceSignature:  sig,
	})
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	encoded, err := g.Generate(response.StatusOK)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	parsed, err := response.Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Status != response.StatusOK || len(parsed.Documents) != 1 {
		t.Fatalf("status=%d docs=%d", parsed.Status, len(parsed.Documents))
	}
	doc := parsed.Documents[0]
	if doc.DeviceMac != nil || doc.DeviceSignature == nil {
		t.Fatal("device auth variant did not survive")
	}
	got := doc.IssuerNameSpaces[domain.MDLNamespace]
	if len(got) != 1 || !bytes.Equal(got[0], items[domain.MDLNamespace][0].Raw) {
		t.Fatal("issuer-signed item bytes re-encoded in transit")
	}

	// Reader side: digests check out and the signature verifies against the
	// MSO device key.
	m, err := mso.Parse(doc.IssuerAuth)
	if err != nil {
		t.Fatalf("mso.Parse: %v", err)
	}
	for _, item := range items[domain.MDLNamespace] {
		if err := m.CheckItemDigest(domain.MDLNamespace, item); err != nil {
			t.Fatalf("CheckItemDigest: %v", err)
		}
	}
	devicePub, err := sa.PublicKey("device")
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	if err := response.VerifyDeviceSignature(doc.DeviceSignature, tr, doc.DocType, doc.DeviceNameSpaces, devicePub); err != nil {
		t.Fatalf("VerifyDeviceSignature: %v", err)
	}
	other := newTranscript(t, "2.0")
	if err := response.VerifyDeviceSignature(doc.DeviceSignature, other, doc.DocType, doc.DeviceNameSpaces, devicePub); err == nil {
		t.Fatal("signature verified against the wrong transcript")
	}
}

func TestMACDeviceAuth_ReaderVerifies(t *testing.T) {
	sa, _, issuerAuth, tr := newFixture(t)
	readerEphemeral, err := mdocrypto.GenerateP256()
	if err != nil {
		t.Fatalf("GenerateP256: %v", err)
	}
	dns, err := response.EmptyDeviceNameSpaces()
	if err != nil {
		t.Fatalf("EmptyDeviceNameSpaces: %v", err)
	}
	mac, err := response.MACDeviceAuth(sa, "device", readerEphemeral.PublicKey(), tr, domain.MDLDocType, dns)
	if err != nil {
		t.Fatalf("MACDeviceAuth: %v", err)
	}

	// The reader recomputes EMacKey from its ephemeral private key and the
	// device key carried in the MSO.
	m, err := mso.Parse(issuerAuth)
	if err != nil {
		t.Fatalf("mso.Parse: %v", err)
	}
	devicePub, err := m.DeviceKeyECDH()
	if err != nil {
		t.Fatalf("DeviceKeyECDH: %v", err)
	}
	key, err := response.EMacKeyReader(readerEphemeral, devicePub, tr)
	if err != nil {
		t.Fatalf("EMacKeyReader: %v", err)
	}
	if err := response.VerifyDeviceMac(mac, key, tr, domain.MDLDocType, dns); err != nil {
		t.Fatalf("VerifyDeviceMac: %v", err)
	}

	tampered := append([]byte(nil), mac...)
	tampered[len(tampered)-1] ^= 0x01
	if err := response.VerifyDeviceMac(tampered, key, tr, domain.MDLDocType, dns); err == nil {
		t.Fatal("tampered mac verified")
	}
}

func TestAddDocument_ZkDocumentsExclusive(t *testing.T) {
	g := response.NewGenerator()
	if err := g.AddZkDocument([]byte{0xa0}); err != nil {
		t.Fatalf("AddZkDocument: %v", err)
	}
	err := g.AddDocument(response.Document{DocType: domain.MDLDocType, IssuerAuth: []byte{0x84}, DeviceMac: []byte{0x84}})
	if !errors.Is(err, response.ErrMixedDocuments) {
		t.Fatalf("want ErrMixedDocuments, got %v", err)
	}
}

func TestGenerate_EmptyResponseIsOK(t *testing.T) {
	encoded, err := response.NewGenerator().Generate(response.StatusOK)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	parsed, err := response.Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Status != response.StatusOK || len(parsed.Documents) != 0 {
		t.Fatalf("want empty OK response, got %+v", parsed)
	}
}
