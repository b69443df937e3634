package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// IdentLen is the length of the BLE Ident characteristic value.
const IdentLen = 16

// IdentValue derives the Ident characteristic value from EDeviceKeyBytes,
// letting a reader confirm it connected to the peripheral named in the
// engagement before any data flows.
func IdentValue(eDeviceKeyBytes []byte) []byte {
	r := hkdf.New(sha256.New, eDeviceKeyBytes, nil, []byte("BLEIdent"))
	out := make([]byte, IdentLen)
	_, _ = io.ReadFull(r, out)
	return out
}
