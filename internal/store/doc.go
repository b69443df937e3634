// Package store provides file-based persistence for mdoclink's core data.
//
// It contains concrete implementations of the domain storage interfaces,
// serialising data as JSON sealed in a passphrase-derived chacha20poly1305
// envelope. All methods are concurrency-safe via internal locking. Stored
// files live under the user's configured home directory.
//
// The package includes stores for:
//   - Provisioned credentials (CredentialFileStore)
//   - Software device keys (KeyFileStore)
package store
