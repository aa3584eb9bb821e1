package coder

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// Timer is a decoded timer firing or clear for a user key.
type Timer[K any] struct {
	UserKey         K
	DynamicTimerTag string
	// Clear marks a deletion of the timer; timestamps are absent when set.
	Clear         bool
	FireTimestamp time.Time
	HoldTimestamp time.Time
}

type timerCoder[K any] struct {
	key Coder[K]
}

// TimerOf encodes a Timer as its key, its dynamic tag, a clear byte and, unless
// cleared, the fire and hold timestamps in milliseconds.
func TimerOf[K any](key Coder[K]) Coder[Timer[K]] {
	return timerCoder[K]{key: key}
}

func (c timerCoder[K]) Encode(t Timer[K], w io.Writer) error {
	if err := c.key.Encode(t.UserKey, w); err != nil {
		return fmt.Errorf("user key: %w", err)
	}
	if err := (stringCoder{}).Encode(t.DynamicTimerTag, w); err != nil {
		return err
	}
	if err := (boolCoder{}).Encode(t.Clear, w); err != nil {
		return err
	}
	if t.Clear {
		return nil
	}
	b := appendInstant(nil, t.FireTimestamp)
	b = appendInstant(b, t.HoldTimestamp)
	_, err := w.Write(b)
	return err
}

func (c timerCoder[K]) Decode(cur *Cursor) (Timer[K], error) {
	var t Timer[K]
	var err error
	if t.UserKey, err = c.key.Decode(cur); err != nil {
		return t, fmt.Errorf("user key: %w", err)
	}
	if t.DynamicTimerTag, err = (stringCoder{}).Decode(cur); err != nil {
		return t, fmt.Errorf("dynamic timer tag: %w", err)
	}
	if t.Clear, err = (boolCoder{}).Decode(cur); err != nil {
		return t, fmt.Errorf("clear bit: %w", err)
	}
	if t.Clear {
		return t, nil
	}
	if t.FireTimestamp, err = decodeInstant(cur); err != nil {
		return t, fmt.Errorf("fire timestamp: %w", err)
	}
	if t.HoldTimestamp, err = decodeInstant(cur); err != nil {
		return t, fmt.Errorf("hold timestamp: %w", err)
	}
	return t, nil
}

// Instants are big-endian milliseconds with the sign bit flipped, so that the
// byte order of encodings matches the time order of values.
func appendInstant(b []byte, t time.Time) []byte {
	return binary.BigEndian.AppendUint64(b, uint64(t.UnixMilli())^(1<<63))
}

func decodeInstant(c *Cursor) (time.Time, error) {
	b, err := c.Next(8)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(binary.BigEndian.Uint64(b) ^ (1 << 63))).UTC(), nil
}
