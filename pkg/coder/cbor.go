package coder

import (
	"io"

	cbor "github.com/fxamacker/cbor/v2"
)

type cborCoder[T any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR encodes values as canonical CBOR data items. CBOR items are self-delimiting,
// so values are written back to back without a length prefix.
func CBOR[T any]() (Coder[T], error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	return cborCoder[T]{enc: em, dec: dm}, nil
}

func (c cborCoder[T]) Encode(v T, w io.Writer) error {
	b, err := c.enc.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func (c cborCoder[T]) Decode(cur *Cursor) (T, error) {
	var v T
	in := cur.Remaining()
	rest, err := c.dec.UnmarshalFirst(in, &v)
	if err != nil {
		return v, err
	}
	return v, cur.Skip(len(in) - len(rest))
}
