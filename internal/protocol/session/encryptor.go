package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"

	"mdoclink/internal/crypto"
	"mdoclink/internal/domain"
	"mdoclink/internal/protocol/tagged"
	"mdoclink/internal/util/memzero"
)

// Role selects which derived key a party seals with and which nonce
// direction identifier it uses.
type Role int

const (
	RoleHolder Role = iota // the mdoc side; seals with SKDevice
	RoleReader             // the verifier side; seals with SKReader
)

const (
	keyLen   = 32
	nonceLen = 12
)

var (
	ErrClosed            = errors.New("session encryptor is closed")
	ErrCounterExhausted  = errors.New("direction counter exhausted")
	ErrNoPayload         = errors.New("frame carries neither data nor status")
	errAuthenticatedOpen = errors.New("frame authentication failed")
)

// Encryptor provides the per-engagement encrypted channel. Keys are derived
// once from the ephemeral ECDH exchange and the transcript; each direction
// seals with its own key and a monotonically increasing counter nonce. Any
// decrypt failure closes the encryptor for good; there is no retry path
// that could reuse a nonce.
type Encryptor struct {
	role    Role
	skSelf  []byte
	skOther []byte
	seal    cipher.AEAD
	open    cipher.AEAD

	encryptCounter uint32
	decryptCounter uint32

	// reader role: COSE_Key bytes to embed in the first outbound frame,
	// nil once sent or when suppressed (out-of-band key exchange).
	pendingReaderKey []byte

	closed bool
}

// Option adjusts encryptor construction.
type Option func(*Encryptor)

// WithoutReaderKeyEmbed suppresses the eReaderKey field on the reader's
// first frame when the key already travelled out of band.
func WithoutReaderKeyEmbed() Option {
	return func(e *Encryptor) { e.pendingReaderKey = nil }
}

// New derives the session keys and returns a ready encryptor. ownEphemeral
// and peer are the engagement's ephemeral keys; the transcript must be the
// one both sides built from identical bytes.
func New(role Role, ownEphemeral *ecdh.PrivateKey, peer *ecdh.PublicKey, transcript Transcript, opts ...Option) (*Encryptor, error) {
	const op = "session.New"
	if transcript.Empty() {
		return nil, domain.Errorf(domain.KindProtocol, op, "empty transcript")
	}
	shared, err := crypto.DH(ownEphemeral, peer)
	if err != nil {
		return nil, domain.NewError(domain.KindCrypto, op, err)
	}
	defer memzero.Zero(shared)

	salt := transcript.Salt()
	skDevice, err := deriveKey(shared, salt, "SKDevice")
	if err != nil {
		return nil, domain.NewError(domain.KindCrypto, op, err)
	}
	skReader, err := deriveKey(shared, salt, "SKReader")
	if err != nil {
		return nil, domain.NewError(domain.KindCrypto, op, err)
	}

	e := &Encryptor{role: role, encryptCounter: 1, decryptCounter: 1}
	switch role {
	case RoleHolder:
		e.skSelf, e.skOther = skDevice, skReader
	case RoleReader:
		e.skSelf, e.skOther = skReader, skDevice
		pub, err := crypto.MarshalCOSEKey(ownEphemeral.PublicKey())
		if err != nil {
			return nil, domain.NewError(domain.KindCrypto, op, err)
		}
		e.pendingReaderKey = pub
	default:
		return nil, domain.Errorf(domain.KindProtocol, op, "unknown role %d", role)
	}
	if e.seal, err = newGCM(e.skSelf); err != nil {
		return nil, domain.NewError(domain.KindCrypto, op, err)
	}
	if e.open, err = newGCM(e.skOther); err != nil {
		return nil, domain.NewError(domain.KindCrypto, op, err)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Encrypt seals plaintext (which may be nil for a status-only frame) and
// returns the encoded SessionEstablishment/SessionData frame.
func (e *Encryptor) Encrypt(plaintext []byte, status *uint64) ([]byte, error) {
	const op = "session.Encrypt"
	if e.closed {
		return nil, domain.NewError(domain.KindCrypto, op, ErrClosed)
	}
	var f frame
	if e.pendingReaderKey != nil {
		wrapped, err := tagged.Wrap(e.pendingReaderKey)
		if err != nil {
			return nil, domain.NewError(domain.KindCrypto, op, err)
		}
		f.EReaderKey = wrapped
		e.pendingReaderKey = nil
	}
	if plaintext != nil {
		nonce, err := e.nonce(e.role, e.encryptCounter)
		if err != nil {
			e.Close()
			return nil, domain.NewError(domain.KindCrypto, op, err)
		}
		f.Data = e.seal.Seal(nil, nonce, plaintext, nil)
		e.encryptCounter++
	}
	f.Status = status
	if f.Data == nil && f.Status == nil && f.EReaderKey == nil {
		return nil, domain.NewError(domain.KindProtocol, op, ErrNoPayload)
	}
	out, err := f.encode()
	if err != nil {
		return nil, domain.NewError(domain.KindProtocol, op, err)
	}
	return out, nil
}

// Decrypt opens one inbound frame, returning the plaintext (nil for a
// status-only frame) and the status if present. Authentication failure is
// fatal: the encryptor closes and every later call fails.
func (e *Encryptor) Decrypt(msg []byte) ([]byte, *uint64, error) {
	const op = "session.Decrypt"
	if e.closed {
		return nil, nil, domain.NewError(domain.KindCrypto, op, ErrClosed)
	}
	f, err := decodeFrame(msg)
	if err != nil {
		e.Close()
		return nil, nil, err
	}
	if f.Data == nil {
		if f.Status == nil {
			e.Close()
			return nil, nil, domain.NewError(domain.KindProtocol, op, ErrNoPayload)
		}
		return nil, f.Status, nil
	}
	nonce, err := e.nonce(otherRole(e.role), e.decryptCounter)
	if err != nil {
		e.Close()
		return nil, nil, domain.NewError(domain.KindCrypto, op, err)
	}
	plaintext, err := e.open.Open(nil, nonce, f.Data, nil)
	if err != nil {
		e.Close()
		return nil, nil, domain.NewError(domain.KindCrypto, op, errAuthenticatedOpen)
	}
	e.decryptCounter++
	return plaintext, f.Status, nil
}

// EncryptCounter reports the next outbound message number.
func (e *Encryptor) EncryptCounter() uint32 { return e.encryptCounter }

// DecryptCounter reports the next expected inbound message number.
func (e *Encryptor) DecryptCounter() uint32 { return e.decryptCounter }

// Close wipes the session keys. The encryptor cannot be reused; a new
// engagement derives fresh keys.
func (e *Encryptor) Close() {
	if e.closed {
		return
	}
	e.closed = true
	memzero.Zero(e.skSelf)
	memzero.Zero(e.skOther)
}

// nonce builds 0x00000000 || directionID || be32(counter). The holder
// direction identifier is 0x00000001, the reader's 0x00000000.
func (e *Encryptor) nonce(dir Role, counter uint32) ([]byte, error) {
	if counter == 0 {
		// The counter wrapped; continuing would repeat a nonce.
		return nil, ErrCounterExhausted
	}
	n := make([]byte, nonceLen)
	if dir == RoleHolder {
		n[7] = 0x01
	}
	binary.BigEndian.PutUint32(n[8:], counter)
	return n, nil
}

func otherRole(r Role) Role {
	if r == RoleHolder {
		return RoleReader
	}
	return RoleHolder
}

func deriveKey(shared, salt []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, shared, salt, []byte(info))
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
