package data

import (
	"github.com/portablefn/fnharness/pkg/coder"
)

// sink decodes one value from the cursor and hands it to a receiver. A value whose
// decoding consumed no bytes is never delivered.
type sink func(cur *coder.Cursor) error

func newSink[T any](c coder.Coder[T], receiver func(T) error) sink {
	return func(cur *coder.Cursor) error {
		remaining := cur.Len()
		v, err := c.Decode(cur)
		if err != nil {
			return &DecodeError{Err: err}
		}
		if remaining > 0 && cur.Len() == remaining {
			return &DecodeError{Err: errNoProgress}
		}
		if err := receiver(v); err != nil {
			return &SinkError{Err: err}
		}
		return nil
	}
}

// DataEndpoint is the destination of data sub-elements for one transform.
type DataEndpoint struct {
	TransformID string
	sink        sink
}

// NewDataEndpoint returns an endpoint that decodes payloads for transformID with c
// and passes every value to receiver.
func NewDataEndpoint[T any](transformID string, c coder.Coder[T], receiver func(T) error) DataEndpoint {
	return DataEndpoint{
		TransformID: transformID,
		sink:        newSink(c, receiver),
	}
}

// TimerEndpoint is the destination of timer sub-elements for one timer family of
// a transform.
type TimerEndpoint struct {
	TransformID   string
	TimerFamilyID string
	sink          sink
}

// NewTimerEndpoint returns an endpoint that decodes timers for the given transform
// and timer family with c and passes every value to receiver.
func NewTimerEndpoint[T any](transformID, timerFamilyID string, c coder.Coder[T], receiver func(T) error) TimerEndpoint {
	return TimerEndpoint{
		TransformID:   transformID,
		TimerFamilyID: timerFamilyID,
		sink:          newSink(c, receiver),
	}
}
