// Package tagged handles the tag-24 "encoded CBOR" wrapping that mdoc
// structures use wherever bytes must survive transport without re-encoding
// (bstr .cbor in the CDDL). All mdoclink CBOR encoding goes through this
// package's deterministic encode mode.
package tagged
