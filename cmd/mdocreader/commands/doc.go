// Package commands defines the mdocreader verifier CLI.
//
// Commands
//
//   - request  Scan a holder's engagement, connect over BLE, request and
//     verify data elements
//
// The reader acts as GATT central: it supports mdoc peripheral server mode,
// where the holder advertises the service named in its engagement.
package commands
