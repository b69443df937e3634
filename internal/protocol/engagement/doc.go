// Package engagement creates and parses the DeviceEngagement structure the
// holder hands to a reader, typically as an mdoc: QR URI. The encoded bytes
// are part of the session transcript, so parsed engagements retain them
// verbatim.
package engagement
