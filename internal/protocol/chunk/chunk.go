package chunk

import (
	"errors"

	"mdoclink/internal/domain"
)

// Wire layout per chunk: [flag:1][payload:N]. The flag is 0x01 on every chunk
// except the last, 0x00 on the last.
const (
	FlagMore = 0x01
	FlagLast = 0x00

	// Overhead reserved out of the negotiated MTU for the flag byte and the
	// peer's read/write headroom.
	Overhead = 4

	// MinMTU is the smallest MTU that leaves room for one payload byte.
	MinMTU = Overhead + 1
)

var (
	ErrMTUTooSmall    = errors.New("mtu leaves no chunk payload room")
	ErrBadFlag        = errors.New("chunk flag is neither 0x00 nor 0x01")
	ErrEmptyChunk     = errors.New("chunk has no flag byte")
	ErrAfterLast      = errors.New("chunk received after final chunk")
	ErrSizeChanged    = errors.New("chunk size changed mid-message")
	ErrNotReassembled = errors.New("message not fully reassembled")
)

// MaxPayload returns the chunk payload size for a negotiated MTU.
func MaxPayload(mtu int) (int, error) {
	if mtu < MinMTU {
		return 0, domain.NewError(domain.KindFraming, "chunk.MaxPayload", ErrMTUTooSmall)
	}
	return mtu - Overhead, nil
}

// Split frames msg into wire chunks of at most maxPayload data bytes each.
// Every message yields at least one chunk; an empty message yields a single
// final chunk with no payload.
func Split(msg []byte, maxPayload int) ([][]byte, error) {
	if maxPayload < 1 {
		return nil, domain.NewError(domain.KindFraming, "chunk.Split", ErrMTUTooSmall)
	}
	var chunks [][]byte
	for {
		n := len(msg)
		if n > maxPayload {
			n = maxPayload
		}
		flag := byte(FlagLast)
		if len(msg) > n {
			flag = FlagMore
		}
		wire := make([]byte, 1+n)
		wire[0] = flag
		copy(wire[1:], msg[:n])
		chunks = append(chunks, wire)
		msg = msg[n:]
		if flag == FlagLast {
			return chunks, nil
		}
	}
}

// Reassembler collects inbound chunks for one message. A fresh message starts
// automatically after Bytes has been taken or Reset called; a framing error
// discards the partial message.
type Reassembler struct {
	buf     []byte
	done    bool
	maxSeen int
}

// Add consumes one wire chunk. It returns true once the final chunk has been
// absorbed. Adding to a completed reassembly starts a new message only after
// Bytes or Reset.
func (r *Reassembler) Add(wire []byte) (bool, error) {
	if r.done {
		r.Reset()
		return false, domain.NewError(domain.KindFraming, "chunk.Add", ErrAfterLast)
	}
	if len(wire) == 0 {
		r.Reset()
		return false, domain.NewError(domain.KindFraming, "chunk.Add", ErrEmptyChunk)
	}
	flag, payload := wire[0], wire[1:]
	if flag != FlagMore && flag != FlagLast {
		r.Reset()
		return false, domain.NewError(domain.KindFraming, "chunk.Add", ErrBadFlag)
	}
	// A writer must fill every non-final chunk to the negotiated size; a
	// mid-message size change means the MTU shifted under us.
	if flag == FlagMore {
		if r.maxSeen == 0 {
			r.maxSeen = len(payload)
		} else if len(payload) != r.maxSeen {
			r.Reset()
			return false, domain.NewError(domain.KindFraming, "chunk.Add", ErrSizeChanged)
		}
	}
	r.buf = append(r.buf, payload...)
	if flag == FlagLast {
		r.done = true
	}
	return r.done, nil
}

// Bytes returns the reassembled message and resets for the next one.
func (r *Reassembler) Bytes() ([]byte, error) {
	if !r.done {
		return nil, domain.NewError(domain.KindFraming, "chunk.Bytes", ErrNotReassembled)
	}
	out := r.buf
	r.Reset()
	return out, nil
}

// Reset discards any partial message.
func (r *Reassembler) Reset() {
	r.buf = nil
	r.done = false
	r.maxSeen = 0
}

// Reassemble runs a full chunk sequence through a Reassembler.
func Reassemble(chunks [][]byte) ([]byte, error) {
	var r Reassembler
	for _, c := range chunks {
		done, err := r.Add(c)
		if err != nil {
			return nil, err
		}
		if done {
			return r.Bytes()
		}
	}
	return nil, domain.NewError(domain.KindFraming, "chunk.Reassemble", ErrNotReassembled)
}
