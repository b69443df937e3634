// Package request builds and parses the mdoc DeviceRequest structure: a
// versioned envelope of per-document item requests, each optionally signed
// by the reader over the session transcript.
//
// Parse is structural only. Reader-auth signatures bind to the exact
// tag-24 itemsRequest bytes as received; VerifyReaderAuth checks that
// binding once a caller has picked a trusted key, but trust-store evaluation
// itself lives outside this package.
package request
