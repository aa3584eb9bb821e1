package coder

import (
	"fmt"
	"io"
)

// Cursor is a read position over one encoded payload. Decoders consume bytes by
// advancing it; callers drive decoding by checking Len, since the number of values
// in a payload is not known up front.
type Cursor struct {
	buf []byte
	off int
}

var (
	_ io.Reader     = (*Cursor)(nil)
	_ io.ByteReader = (*Cursor)(nil)
)

// NewCursor returns a Cursor positioned at the start of b.
func NewCursor(b []byte) *Cursor {
	return &Cursor{buf: b}
}

// Reset repositions the Cursor at the start of b.
func (c *Cursor) Reset(b []byte) {
	c.buf = b
	c.off = 0
}

// Release drops the reference to the underlying payload.
func (c *Cursor) Release() {
	c.buf = nil
	c.off = 0
}

// Len returns the number of unread bytes.
func (c *Cursor) Len() int {
	return len(c.buf) - c.off
}

// Remaining returns the unread bytes without consuming them.
func (c *Cursor) Remaining() []byte {
	return c.buf[c.off:]
}

// Skip consumes n bytes.
func (c *Cursor) Skip(n int) error {
	if n < 0 || n > c.Len() {
		return fmt.Errorf("skip %d bytes with %d remaining: %w", n, c.Len(), io.ErrUnexpectedEOF)
	}
	c.off += n
	return nil
}

// Next consumes and returns the next n bytes. The returned slice aliases the payload.
func (c *Cursor) Next(n int) ([]byte, error) {
	if n < 0 || n > c.Len() {
		return nil, fmt.Errorf("read %d bytes with %d remaining: %w", n, c.Len(), io.ErrUnexpectedEOF)
	}
	b := c.buf[c.off : c.off+n : c.off+n]
	c.off += n
	return b, nil
}

func (c *Cursor) Read(p []byte) (int, error) {
	if c.Len() == 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, c.buf[c.off:])
	c.off += n
	return n, nil
}

func (c *Cursor) ReadByte() (byte, error) {
	if c.Len() == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	b := c.buf[c.off]
	c.off++
	return b, nil
}
