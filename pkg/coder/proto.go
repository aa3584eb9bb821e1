package coder

import (
	"io"

	"google.golang.org/protobuf/proto"
)

type protoCoder[M proto.Message] struct {
	prototype M
	mo        proto.MarshalOptions
	uo        proto.UnmarshalOptions
}

// Proto encodes protocol buffer messages of the same type as prototype, each
// prefixed with its varint length. Marshaling is deterministic.
func Proto[M proto.Message](prototype M) Coder[M] {
	return protoCoder[M]{
		prototype: prototype,
		mo:        proto.MarshalOptions{Deterministic: true},
		uo:        proto.UnmarshalOptions{},
	}
}

func (p protoCoder[M]) Encode(v M, w io.Writer) error {
	b, err := p.mo.Marshal(v)
	if err != nil {
		return err
	}
	return bytesCoder{}.Encode(b, w)
}

func (p protoCoder[M]) Decode(c *Cursor) (M, error) {
	var zero M
	b, err := bytesCoder{}.Decode(c)
	if err != nil {
		return zero, err
	}
	msg := p.prototype.ProtoReflect().New().Interface().(M)
	if err := p.uo.Unmarshal(b, msg); err != nil {
		return zero, err
	}
	return msg, nil
}
