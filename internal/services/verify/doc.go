// Package verify drives the reader side of one presentment round: session
// establishment from a parsed engagement, request building, and structural
// plus cryptographic verification of the response. Issuer trust-store
// evaluation stays with the caller.
package verify
