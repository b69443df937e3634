// Package crypto exposes the minimal primitives used by mdoclink.
//
// Contents
//
//   - P-256 ephemeral key generation and ECDH (GenerateP256, DH)
//   - COSE_Key encoding for EC2/P-256 public keys (MarshalCOSEKey,
//     UnmarshalCOSEKey) and conversions to crypto/ecdh form
//   - The BLE Ident characteristic derivation (IdentValue)
//   - Short public-key fingerprints for display (Fingerprint)
//
// # Notes
//
// Ephemeral private keys are held as *ecdh.PrivateKey and must be dropped at
// engagement teardown. Callers should treat returned shared secrets as
// sensitive and wipe them with memzero when practical.
package crypto
