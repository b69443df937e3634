// Package chunk frames opaque messages into MTU-sized pieces for the BLE
// data characteristics and reassembles them on the way in.
//
// Each wire chunk is [flag][payload] where flag 0x01 marks a continuation and
// 0x00 the final chunk. Concatenating the payloads of one sequence in write
// order yields exactly the original message. The codec buffers nothing beyond
// the message being reassembled; it is a pure framing transform.
package chunk
