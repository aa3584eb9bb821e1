// Package fnapi defines the batch shapes exchanged on the data plane and their
// protocol buffer wire encoding.
//
// The field numbers match the Fn API Elements message, so a batch produced by any
// runner speaking that protocol can be decoded without generated code:
//
//	Elements { repeated Data data = 1; repeated Timers timers = 2; }
//	Data     { string instruction_id = 1; string transform_id = 2; bytes data = 3; bool is_last = 4; }
//	Timers   { string instruction_id = 1; string transform_id = 2; string timer_family_id = 3;
//	           bytes timers = 4; bool is_last = 5; }
package fnapi

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformed = errors.New("malformed elements")

// Elements is one batch delivered by the transport. Unmarshal copies every payload
// into its own buffer, so the input may be reused and a released sub-element frees
// its payload independently of the rest of the batch.
type Elements struct {
	Data   []*Data
	Timers []*Timers
}

// Data carries encoded values for a single data destination.
type Data struct {
	InstructionID string
	TransformID   string
	Data          []byte
	IsLast        bool
}

// Timers carries encoded timers for a single (transform, timer family) destination.
type Timers struct {
	InstructionID string
	TransformID   string
	TimerFamilyID string
	Timers        []byte
	IsLast        bool
}

const (
	elementsData   protowire.Number = 1
	elementsTimers protowire.Number = 2

	dataInstructionID protowire.Number = 1
	dataTransformID   protowire.Number = 2
	dataData          protowire.Number = 3
	dataIsLast        protowire.Number = 4

	timersInstructionID protowire.Number = 1
	timersTransformID   protowire.Number = 2
	timersTimerFamilyID protowire.Number = 3
	timersTimers        protowire.Number = 4
	timersIsLast        protowire.Number = 5
)

// Len returns the number of sub-elements in the batch.
func (e *Elements) Len() int {
	if e == nil {
		return 0
	}
	return len(e.Data) + len(e.Timers)
}

// Marshal encodes the batch using the protocol buffer wire format.
func (e *Elements) Marshal() ([]byte, error) {
	return e.AppendMarshal(nil), nil
}

// AppendMarshal appends the wire encoding of the batch to b.
func (e *Elements) AppendMarshal(b []byte) []byte {
	if e == nil {
		return b
	}
	for _, d := range e.Data {
		b = protowire.AppendTag(b, elementsData, protowire.BytesType)
		b = protowire.AppendBytes(b, d.appendMarshal(nil))
	}
	for _, t := range e.Timers {
		b = protowire.AppendTag(b, elementsTimers, protowire.BytesType)
		b = protowire.AppendBytes(b, t.appendMarshal(nil))
	}
	return b
}

func (d *Data) appendMarshal(b []byte) []byte {
	if d.InstructionID != "" {
		b = protowire.AppendTag(b, dataInstructionID, protowire.BytesType)
		b = protowire.AppendString(b, d.InstructionID)
	}
	if d.TransformID != "" {
		b = protowire.AppendTag(b, dataTransformID, protowire.BytesType)
		b = protowire.AppendString(b, d.TransformID)
	}
	if len(d.Data) > 0 {
		b = protowire.AppendTag(b, dataData, protowire.BytesType)
		b = protowire.AppendBytes(b, d.Data)
	}
	if d.IsLast {
		b = protowire.AppendTag(b, dataIsLast, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	return b
}

func (t *Timers) appendMarshal(b []byte) []byte {
	if t.InstructionID != "" {
		b = protowire.AppendTag(b, timersInstructionID, protowire.BytesType)
		b = protowire.AppendString(b, t.InstructionID)
	}
	if t.TransformID != "" {
		b = protowire.AppendTag(b, timersTransformID, protowire.BytesType)
		b = protowire.AppendString(b, t.TransformID)
	}
	if t.TimerFamilyID != "" {
		b = protowire.AppendTag(b, timersTimerFamilyID, protowire.BytesType)
		b = protowire.AppendString(b, t.TimerFamilyID)
	}
	if len(t.Timers) > 0 {
		b = protowire.AppendTag(b, timersTimers, protowire.BytesType)
		b = protowire.AppendBytes(b, t.Timers)
	}
	if t.IsLast {
		b = protowire.AppendTag(b, timersIsLast, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	return b
}

// Unmarshal decodes a batch from its wire encoding, replacing the contents of e.
// Unknown fields are skipped.
func (e *Elements) Unmarshal(b []byte) error {
	e.Data = e.Data[:0]
	e.Timers = e.Timers[:0]

	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == elementsData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			var d Data
			if err := d.unmarshal(v); err != nil {
				return 0, err
			}
			e.Data = append(e.Data, &d)
			return n, nil
		case num == elementsTimers && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			var t Timers
			if err := t.unmarshal(v); err != nil {
				return 0, err
			}
			e.Timers = append(e.Timers, &t)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func (d *Data) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == dataInstructionID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			d.InstructionID = v
			return n, nil
		case num == dataTransformID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			d.TransformID = v
			return n, nil
		case num == dataData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			d.Data = ownPayload(v)
			return n, nil
		case num == dataIsLast && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			d.IsLast = protowire.DecodeBool(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func (t *Timers) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == timersInstructionID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			t.InstructionID = v
			return n, nil
		case num == timersTransformID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			t.TransformID = v
			return n, nil
		case num == timersTimerFamilyID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			t.TimerFamilyID = v
			return n, nil
		case num == timersTimers && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			t.Timers = ownPayload(v)
			return n, nil
		case num == timersIsLast && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			t.IsLast = protowire.DecodeBool(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

// ownPayload copies a payload into memory of exactly its own size, so that it does
// not keep the rest of the frame reachable.
func ownPayload(v []byte) []byte {
	if v == nil {
		return nil
	}
	b := make([]byte, len(v))
	copy(b, v)
	return b
}

// consumeFields walks the fields of one message. The callback returns the number of
// value bytes it consumed, or a negative protowire error code.
func consumeFields(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		n, err := field(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %w", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}
