package request_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"mdoclink/internal/crypto"
	"mdoclink/internal/domain"
	"mdoclink/internal/protocol/request"
	"mdoclink/internal/protocol/session"
	"mdoclink/internal/protocol/tagged"
)

func testTranscript(t *testing.T) session.Transcript {
	t.Helper()
	de, err := tagged.Marshal(map[int]string{0: "1.0"})
	if err != nil {
		t.Fatalf("engagement stub: %v", err)
	}
	ek, err := crypto.GenerateP256()
	if err != nil {
		t.Fatalf("GenerateP256: %v", err)
	}
	ekBytes, err := crypto.MarshalCOSEKey(ek.PublicKey())
	if err != nil {
		t.Fatalf("MarshalCOSEKey: %v", err)
	}
	tr, err := session.NewTranscript(de, ekBytes, nil)
	if err != nil {
		t.Fatalf("NewTranscript: %v", err)
	}
	return tr
}

func mdlItems() map[domain.Namespace]map[domain.ElementIdentifier]bool {
	return map[domain.Namespace]map[domain.ElementIdentifier]bool{
		domain.MDLNamespace: {
			"given_name":  true,
			"family_name": false,
		},
	}
}

func TestBuilder_RoundTrip(t *testing.T) {
	b := request.NewBuilder(testTranscript(t))
	if err := b.AddItemsRequest(domain.MDLDocType, mdlItems(), nil, nil); err != nil {
		t.Fatalf("AddItemsRequest: %v", err)
	}
	encoded, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	parsed, err := request.Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed) != 1 {
		t.Fatalf("want 1 docRequest, got %d", len(parsed))
	}
	dr := parsed[0]
	if dr.DocType != domain.MDLDocType {
		t.Fatalf("docType = %q", dr.DocType)
	}
	if dr.ReaderAuth != nil {
		t.Fatal("unexpected readerAuth on unsigned request")
	}
	elems := dr.NameSpaces[domain.MDLNamespace]
	if len(elems) != 2 || !elems["given_name"] || elems["family_name"] {
		t.Fatalf("nameSpaces round trip mismatch: %v", elems)
	}
}

func TestBuilder_ReaderAuthVerifies(t *testing.T) {
	tr := testTranscript(t)
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	certChain := [][]byte{{0x30, 0x82, 0x01, 0x0a}} // opaque DER stand-in

	b := request.NewBuilder(tr)
	err = b.AddItemsRequest(domain.MDLDocType, mdlItems(), nil, &request.ReaderKey{
		Signer:    key,
		CertChain: certChain,
	})
	if err != nil {
		t.Fatalf("AddItemsRequest: %v", err)
	}
	encoded, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	parsed, err := request.Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	dr := parsed[0]
	if dr.ReaderAuth == nil {
		t.Fatal("readerAuth missing")
	}

	if err := request.VerifyReaderAuth(dr, tr, &key.PublicKey); err != nil {
		t.Fatalf("VerifyReaderAuth: %v", err)
	}

	// The signature binds to the transcript: a different one must fail.
	other := testTranscript(t)
	if err := request.VerifyReaderAuth(dr, other, &key.PublicKey); err == nil {
		t.Fatal("signature verified against a different transcript")
	}

	certs, err := request.ReaderCertificates(dr.ReaderAuth)
	if err != nil {
		t.Fatalf("ReaderCertificates: %v", err)
	}
	if len(certs) != 1 || len(certs[0]) != len(certChain[0]) {
		t.Fatalf("x5chain round trip mismatch: %v", certs)
	}
}

func TestParse_Malformed(t *testing.T) {
	cases := map[string][]byte{
		"not cbor":    {0xFF, 0x00},
		"empty map":   mustMarshal(t, map[string]any{}),
		"bad version": mustMarshal(t, map[string]any{"version": "9.9", "docRequests": []any{}}),
		"no requests": mustMarshal(t, map[string]any{"version": "1.0", "docRequests": []any{}}),
	}
	for name, msg := range cases {
		if _, err := request.Parse(msg); err == nil {
			t.Errorf("%s: Parse accepted malformed input", name)
		} else if domain.KindOf(err) != domain.KindProtocol {
			t.Errorf("%s: want protocol kind, got %v", name, err)
		}
	}
}

func TestBuilder_RejectsEmpty(t *testing.T) {
	b := request.NewBuilder(testTranscript(t))
	if _, err := b.Encode(); err == nil {
		t.Fatal("Encode succeeded with no docRequests")
	}
	if err := b.AddItemsRequest("", mdlItems(), nil, nil); err == nil {
		t.Fatal("AddItemsRequest accepted empty docType")
	}
	if err := b.AddItemsRequest(domain.MDLDocType, nil, nil, nil); err == nil {
		t.Fatal("AddItemsRequest accepted empty item set")
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := tagged.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
