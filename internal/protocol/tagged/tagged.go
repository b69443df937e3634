package tagged

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Tag 24: "Encoded CBOR data item" (bstr .cbor in the mdoc CDDL).
const tagEncodedCBOR = 24

var ErrNotTagged = errors.New("not a tag-24 byte string")

var encMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339
	opts.TimeTag = cbor.EncTagRequired
	m, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	encMode = m
}

// Marshal encodes v deterministically without wrapping.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Encode encodes v deterministically and wraps it in tag 24.
func Encode(v any) ([]byte, error) {
	inner, err := encMode.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Wrap(inner)
}

// Wrap wraps already-encoded CBOR bytes in tag 24. The input bytes are
// embedded verbatim, which is what keeps issuer digests valid.
func Wrap(encoded []byte) ([]byte, error) {
	return encMode.Marshal(cbor.Tag{Number: tagEncodedCBOR, Content: encoded})
}

// Unwrap returns the inner encoded bytes of a tag-24 byte string.
func Unwrap(data []byte) ([]byte, error) {
	var raw cbor.RawTag
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotTagged, err)
	}
	if raw.Number != tagEncodedCBOR {
		return nil, fmt.Errorf("%w: tag %d", ErrNotTagged, raw.Number)
	}
	var inner []byte
	if err := cbor.Unmarshal(raw.Content, &inner); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotTagged, err)
	}
	return inner, nil
}

// Decode unwraps tag 24 and unmarshals the inner bytes into v.
func Decode(data []byte, v any) error {
	inner, err := Unwrap(data)
	if err != nil {
		return err
	}
	return cbor.Unmarshal(inner, v)
}
