// Package provision brings credentials into the holder's store: device key
// creation, import with construction-time validation against the issuer's
// MSO, and self-issued demo credentials for end-to-end testing.
package provision
