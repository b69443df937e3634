// Package mso builds and parses the Mobile Security Object: the
// issuer-signed digest manifest that covers every issuer-provided data
// element of a document and binds the credential to its device key.
//
// The build side exists for provisioning and test issuance; production
// credentials arrive with issuerAuth already signed. Parse never verifies
// the issuer signature; that is the verifier's trust-store concern.
package mso
