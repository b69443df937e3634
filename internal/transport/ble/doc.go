// Package ble carries session-layer messages over the 18013-5 BLE data
// retrieval profile: flag-framed chunks over paired GATT characteristics,
// with a State characteristic for start/end signalling. Channel adapts a
// Conn (BlueZ central or in-memory loopback) into the Transport contract the
// presentment engine consumes.
package ble
