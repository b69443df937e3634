package ble

import "github.com/google/uuid"

// State characteristic control codes.
const (
	StateStart byte = 0x01
	StateEnd   byte = 0x02
)

// DefaultMTU is assumed when the link does not report a negotiated value.
const DefaultMTU = 512

// Characteristic UUIDs for mdoc peripheral server mode: the holder runs the
// GATT server and the reader connects as central.
var (
	PeripheralStateUUID         = uuid.MustParse("00000001-A123-48CE-896B-4C76973373E6")
	PeripheralClient2ServerUUID = uuid.MustParse("00000002-A123-48CE-896B-4C76973373E6")
	PeripheralServer2ClientUUID = uuid.MustParse("00000003-A123-48CE-896B-4C76973373E6")
	PeripheralIdentUUID         = uuid.MustParse("00000004-A123-48CE-896B-4C76973373E6")
)

// Characteristic UUIDs for mdoc central client mode: the reader runs the GATT
// server and the holder connects as central. This mode has no Ident
// characteristic.
var (
	CentralStateUUID         = uuid.MustParse("00000005-A123-48CE-896B-4C76973373E6")
	CentralClient2ServerUUID = uuid.MustParse("00000006-A123-48CE-896B-4C76973373E6")
	CentralServer2ClientUUID = uuid.MustParse("00000007-A123-48CE-896B-4C76973373E6")
)
