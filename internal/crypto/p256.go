package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

// GenerateP256 returns a fresh ephemeral P-256 key pair.
func GenerateP256() (*ecdh.PrivateKey, error) {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate p256: %w", err)
	}
	return key, nil
}

// DH computes the P-256 ECDH shared secret.
func DH(priv *ecdh.PrivateKey, pub *ecdh.PublicKey) ([]byte, error) {
	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	return secret, nil
}

// ECDHFromECDSA converts an ECDSA P-256 public key to crypto/ecdh form.
func ECDHFromECDSA(pub *ecdsa.PublicKey) (*ecdh.PublicKey, error) {
	out, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("convert ecdsa public: %w", err)
	}
	return out, nil
}

// ECDSAFromECDH converts a P-256 public key back to crypto/ecdsa form, for
// signature verification against a key carried as COSE_Key.
func ECDSAFromECDH(pub *ecdh.PublicKey) (*ecdsa.PublicKey, error) {
	raw := pub.Bytes() // uncompressed point: 0x04 || X || Y
	if len(raw) != 65 || raw[0] != 0x04 {
		return nil, fmt.Errorf("convert ecdh public: not an uncompressed P-256 point")
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(raw[1:33]),
		Y:     new(big.Int).SetBytes(raw[33:65]),
	}, nil
}

// Fingerprint returns a short fingerprint of an encoded public key.
func Fingerprint(encoded []byte) string {
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:10])
}
