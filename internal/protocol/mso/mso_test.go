package mso_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"mdoclink/internal/domain"
	"mdoclink/internal/protocol/mso"
)

func issueSample(t *testing.T) (map[domain.Namespace][]domain.IssuerSignedItem, []byte, *ecdsa.PrivateKey) {
	t.Helper()
	deviceKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("device key: %v", err)
	}
	issuerKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("issuer key: %v", err)
	}
	claims := map[domain.Namespace]map[domain.ElementIdentifier]any{
		domain.MDLNamespace: {
			"given_name":  "Erika",
			"family_name": "Mustermann",
			"age_over_18": true,
		},
	}
	items, issuerAuth, err := mso.BuildIssuerSigned(
		domain.MDLDocType, claims, &deviceKey.PublicKey,
		mso.Issuer{Signer: issuerKey, CertChain: [][]byte{{0x30, 0x03}}},
		time.Hour,
	)
	if err != nil {
		t.Fatalf("BuildIssuerSigned: %v", err)
	}
	return items, issuerAuth, deviceKey
}

func TestBuildIssuerSigned_DigestsCoverItems(t *testing.T) {
	items, issuerAuth, deviceKey := issueSample(t)

	parsed, err := mso.Parse(issuerAuth)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.DocType != domain.MDLDocType {
		t.Fatalf("docType = %q", parsed.DocType)
	}
	if parsed.DigestAlgorithm != mso.DigestAlgorithm {
		t.Fatalf("digestAlgorithm = %q", parsed.DigestAlgorithm)
	}
	for ns, list := range items {
		for _, item := range list {
			if err := parsed.CheckItemDigest(ns, item); err != nil {
				t.Fatalf("CheckItemDigest(%s/%s): %v", ns, item.ElementIdentifier, err)
			}
		}
	}

	pub, err := parsed.DeviceKeyECDH()
	if err != nil {
		t.Fatalf("DeviceKeyECDH: %v", err)
	}
	wantECDH, err := deviceKey.PublicKey.ECDH()
	if err != nil {
		t.Fatalf("convert device key: %v", err)
	}
	if !pub.Equal(wantECDH) {
		t.Fatal("device key did not survive the MSO round trip")
	}
	if len(parsed.CertChain) != 1 {
		t.Fatalf("x5chain length %d", len(parsed.CertChain))
	}
}

func TestCheckItemDigest_TamperDetected(t *testing.T) {
	items, issuerAuth, _ := issueSample(t)
	parsed, err := mso.Parse(issuerAuth)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	item := items[domain.MDLNamespace][0]
	item.Raw = append([]byte(nil), item.Raw...)
	item.Raw[len(item.Raw)-1] ^= 0x01
	if err := parsed.CheckItemDigest(domain.MDLNamespace, item); err == nil {
		t.Fatal("tampered item passed the digest check")
	}
}

func TestBuildIssuerSigned_UniqueDigestIDs(t *testing.T) {
	items, _, _ := issueSample(t)
	seen := map[uint64]bool{}
	for _, list := range items {
		for _, item := range list {
			if seen[item.DigestID] {
				t.Fatalf("digest id %d reused", item.DigestID)
			}
			seen[item.DigestID] = true
		}
	}
	if len(seen) != 3 {
		t.Fatalf("want 3 digest ids, got %d", len(seen))
	}
}
