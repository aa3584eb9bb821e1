// Package coder contains value coders for data-plane payloads.
//
// A payload is a concatenation of encoded values with no count or delimiter around
// it. A Coder decodes exactly one value from a Cursor and leaves the Cursor on the
// first byte of the next value, so a payload is consumed with:
//
//	for cur.Len() > 0 {
//	    v, err := c.Decode(cur)
//	    ...
//	}
package coder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

//go:generate mockgen -source coder.go -destination ../../internal/mocks/mock_coder.go -package mocks Coder

var ErrInvalidEncoding = errors.New("invalid encoding")

// Coder encodes and decodes values of type T.
type Coder[T any] interface {
	Encode(v T, w io.Writer) error
	Decode(c *Cursor) (T, error)
}

// EncodeAll concatenates the encodings of values, producing one payload.
func EncodeAll[T any](c Coder[T], values ...T) ([]byte, error) {
	var buf bytes.Buffer
	for i, v := range values {
		if err := c.Encode(v, &buf); err != nil {
			return nil, fmt.Errorf("encode value %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeAll decodes every value in payload.
func DecodeAll[T any](c Coder[T], payload []byte) ([]T, error) {
	var out []T
	cur := NewCursor(payload)
	for cur.Len() > 0 {
		v, err := c.Decode(cur)
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}
