// Package session implements the mdoc session-encryption layer.
//
// # Overview
//
// A proximity engagement derives two 32-byte AES-GCM keys (SKDevice,
// SKReader) from an ephemeral ECDH exchange, salted with SHA-256 of the
// session transcript:
//
//	salt     = SHA-256(tag24(SessionTranscript))
//	SKDevice = HKDF-SHA256(shared, salt, "SKDevice", 32)
//	SKReader = HKDF-SHA256(shared, salt, "SKReader", 32)
//
// Each direction seals with its own key and a 12-byte nonce
// 0x00000000 || directionID || be32(counter), counters starting at 1 and
// never resetting within an engagement. Frames are the CBOR maps
// SessionEstablishment {eReaderKey, data} and SessionData {data?, status?}.
//
// # Errors
//
// Every decryption or framing failure is fatal: the encryptor closes, and a
// new engagement must derive fresh keys. This structurally prevents nonce
// reuse against one key set.
package session
