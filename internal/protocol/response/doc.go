// Package response assembles and parses the mdoc DeviceResponse structure.
//
// # Overview
//
// A response carries zero or more documents, each combining issuer-signed
// data elements (whose bytes and digest IDs must survive untouched from
// issuance, or the reader's digest checks fail) with a device-signed block
// authenticated by either an ES256 COSE_Sign1 or an EMacKey COSE_Mac0,
// exactly one of the two, enforced structurally.
//
// Both device-auth variants cover the detached DeviceAuthentication payload
// tag24(["DeviceAuthentication", SessionTranscriptBytes, docType,
// DeviceNameSpacesBytes]), binding the document to one engagement.
//
// zkDocuments is the alternative zero-knowledge representation; a generator
// emits one representation or the other, never both.
package response
