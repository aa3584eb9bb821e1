package coder

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

type varIntCoder struct{}

// VarInt encodes an int64 as the base-128 varint of its two's complement bits.
func VarInt() Coder[int64] { return varIntCoder{} }

func (varIntCoder) Encode(v int64, w io.Writer) error {
	_, err := w.Write(protowire.AppendVarint(nil, uint64(v)))
	return err
}

func (varIntCoder) Decode(c *Cursor) (int64, error) {
	v, err := decodeVarint(c)
	return int64(v), err
}

func decodeVarint(c *Cursor) (uint64, error) {
	v, n := protowire.ConsumeVarint(c.Remaining())
	if n < 0 {
		return 0, fmt.Errorf("%w: varint: %w", ErrInvalidEncoding, protowire.ParseError(n))
	}
	return v, c.Skip(n)
}

func encodeLength(n int, w io.Writer) error {
	_, err := w.Write(protowire.AppendVarint(nil, uint64(n)))
	return err
}

func decodeLength(c *Cursor) (int, error) {
	n, err := decodeVarint(c)
	if err != nil {
		return 0, err
	}
	if n > uint64(c.Len()) {
		return 0, fmt.Errorf("length %d with %d bytes remaining: %w", n, c.Len(), io.ErrUnexpectedEOF)
	}
	return int(n), nil
}

type bytesCoder struct{}

// Bytes encodes a byte slice prefixed with its varint length. Decoded slices alias
// the payload.
func Bytes() Coder[[]byte] { return bytesCoder{} }

func (bytesCoder) Encode(v []byte, w io.Writer) error {
	if err := encodeLength(len(v), w); err != nil {
		return err
	}
	_, err := w.Write(v)
	return err
}

func (bytesCoder) Decode(c *Cursor) ([]byte, error) {
	n, err := decodeLength(c)
	if err != nil {
		return nil, err
	}
	return c.Next(n)
}

type stringCoder struct{}

// StringUTF8 encodes a string prefixed with its varint byte length.
func StringUTF8() Coder[string] { return stringCoder{} }

func (stringCoder) Encode(v string, w io.Writer) error {
	if err := encodeLength(len(v), w); err != nil {
		return err
	}
	_, err := io.WriteString(w, v)
	return err
}

func (stringCoder) Decode(c *Cursor) (string, error) {
	n, err := decodeLength(c)
	if err != nil {
		return "", err
	}
	b, err := c.Next(n)
	return string(b), err
}

type boolCoder struct{}

// Bool encodes a bool as a single byte.
func Bool() Coder[bool] { return boolCoder{} }

func (boolCoder) Encode(v bool, w io.Writer) error {
	b := []byte{0}
	if v {
		b[0] = 1
	}
	_, err := w.Write(b)
	return err
}

func (boolCoder) Decode(c *Cursor) (bool, error) {
	b, err := c.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("%w: bool byte %#x", ErrInvalidEncoding, b)
}

type doubleCoder struct{}

// Double encodes a float64 as 8 big-endian IEEE 754 bytes.
func Double() Coder[float64] { return doubleCoder{} }

func (doubleCoder) Encode(v float64, w io.Writer) error {
	_, err := w.Write(binary.BigEndian.AppendUint64(nil, math.Float64bits(v)))
	return err
}

func (doubleCoder) Decode(c *Cursor) (float64, error) {
	b, err := c.Next(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

// KV is a key/value pair.
type KV[K, V any] struct {
	Key   K
	Value V
}

type kvCoder[K, V any] struct {
	key   Coder[K]
	value Coder[V]
}

// KVOf encodes a KV as its key followed by its value.
func KVOf[K, V any](key Coder[K], value Coder[V]) Coder[KV[K, V]] {
	return kvCoder[K, V]{key: key, value: value}
}

func (c kvCoder[K, V]) Encode(v KV[K, V], w io.Writer) error {
	if err := c.key.Encode(v.Key, w); err != nil {
		return fmt.Errorf("key: %w", err)
	}
	if err := c.value.Encode(v.Value, w); err != nil {
		return fmt.Errorf("value: %w", err)
	}
	return nil
}

func (c kvCoder[K, V]) Decode(cur *Cursor) (KV[K, V], error) {
	var kv KV[K, V]
	var err error
	if kv.Key, err = c.key.Decode(cur); err != nil {
		return kv, fmt.Errorf("key: %w", err)
	}
	if kv.Value, err = c.value.Decode(cur); err != nil {
		return kv, fmt.Errorf("value: %w", err)
	}
	return kv, nil
}

type lengthPrefixCoder[T any] struct {
	inner Coder[T]
}

// LengthPrefix wraps inner so that every value is preceded by its encoded length.
// Decoding fails if inner does not consume exactly the prefixed bytes.
func LengthPrefix[T any](inner Coder[T]) Coder[T] {
	return lengthPrefixCoder[T]{inner: inner}
}

func (c lengthPrefixCoder[T]) Encode(v T, w io.Writer) error {
	b, err := EncodeAll(c.inner, v)
	if err != nil {
		return err
	}
	return bytesCoder{}.Encode(b, w)
}

func (c lengthPrefixCoder[T]) Decode(cur *Cursor) (T, error) {
	var zero T
	b, err := bytesCoder{}.Decode(cur)
	if err != nil {
		return zero, err
	}
	sub := NewCursor(b)
	v, err := c.inner.Decode(sub)
	if err != nil {
		return zero, err
	}
	if sub.Len() != 0 {
		return zero, fmt.Errorf("%w: %d trailing bytes after length-prefixed value", ErrInvalidEncoding, sub.Len())
	}
	return v, nil
}
