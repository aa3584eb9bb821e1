package coder

import (
	"bytes"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestDecodeAllDrivesByRemainingBytes(t *testing.T) {
	for name, values := range map[string][]int64{
		`none`:  nil,
		`one`:   {42},
		`many`:  {0, 1, -1, 300, math.MaxInt64, math.MinInt64},
		`zeros`: {0, 0, 0, 0},
	} {
		t.Run(name, func(t *testing.T) {
			payload, err := EncodeAll(VarInt(), values...)
			require.NoError(t, err)

			got, err := DecodeAll(VarInt(), payload)
			require.NoError(t, err)
			require.Len(t, got, len(values))
			for i := range values {
				require.Equal(t, values[i], got[i])
			}
		})
	}
}

func TestTruncatedPayloads(t *testing.T) {
	str, err := EncodeAll(StringUTF8(), "hello")
	require.NoError(t, err)

	dbl, err := EncodeAll(Double(), 1.5)
	require.NoError(t, err)

	for name, tc := range map[string]struct {
		decode  func([]byte) error
		payload []byte
	}{
		`varint`: {
			decode:  func(b []byte) error { _, err := DecodeAll(VarInt(), b); return err },
			payload: []byte{0x80, 0x80},
		},
		`string`: {
			decode:  func(b []byte) error { _, err := DecodeAll(StringUTF8(), b); return err },
			payload: str[:len(str)-1],
		},
		`double`: {
			decode:  func(b []byte) error { _, err := DecodeAll(Double(), b); return err },
			payload: dbl[:7],
		},
	} {
		t.Run(name, func(t *testing.T) {
			require.Error(t, tc.decode(tc.payload))
		})
	}

	_, err = DecodeAll(StringUTF8(), str[:len(str)-1])
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestBool(t *testing.T) {
	got, err := DecodeAll(Bool(), []byte{1, 0, 1})
	require.NoError(t, err)
	require.Equal(t, []bool{true, false, true}, got)

	_, err = DecodeAll(Bool(), []byte{2})
	require.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestBytesAliasesPayload(t *testing.T) {
	payload, err := EncodeAll(Bytes(), []byte("ab"), []byte{}, []byte("cde"))
	require.NoError(t, err)

	got, err := DecodeAll(Bytes(), payload)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("ab"), {}, []byte("cde")}, got)
	require.Equal(t, 2, cap(got[0]))
}

func TestKV(t *testing.T) {
	c := KVOf(StringUTF8(), Double())
	in := []KV[string, float64]{{"a", 1}, {"b", -2.25}}

	payload, err := EncodeAll(c, in...)
	require.NoError(t, err)

	got, err := DecodeAll(c, payload)
	require.NoError(t, err)
	require.Equal(t, in, got)
}

func TestLengthPrefix(t *testing.T) {
	c := LengthPrefix(VarInt())
	payload, err := EncodeAll(c, 1, 1000)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x01, 0x02, 0xe8, 0x07}, payload)

	got, err := DecodeAll(c, payload)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 1000}, got)

	// a prefix that covers more than one inner value is rejected
	_, err = DecodeAll(c, []byte{0x02, 0x01, 0x01})
	require.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestProto(t *testing.T) {
	c := Proto(&wrapperspb.StringValue{})
	in := []*wrapperspb.StringValue{wrapperspb.String("x"), wrapperspb.String(""), wrapperspb.String("yz")}

	payload, err := EncodeAll(c, in...)
	require.NoError(t, err)

	got, err := DecodeAll(c, payload)
	require.NoError(t, err)
	require.Len(t, got, len(in))
	for i := range in {
		require.True(t, proto.Equal(in[i], got[i]))
	}
}

func TestCBOR(t *testing.T) {
	type event struct {
		Name  string `cbor:"name"`
		Count int    `cbor:"count"`
	}

	c, err := CBOR[event]()
	require.NoError(t, err)

	in := []event{{"a", 1}, {"b", 2}, {"", 0}}
	payload, err := EncodeAll(c, in...)
	require.NoError(t, err)

	got, err := DecodeAll(c, payload)
	require.NoError(t, err)
	require.Equal(t, in, got)

	_, err = DecodeAll(c, payload[:len(payload)-1])
	require.Error(t, err)
}

func TestTimer(t *testing.T) {
	c := TimerOf(StringUTF8())
	fire := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	in := []Timer[string]{
		{UserKey: "k1", DynamicTimerTag: "tag", FireTimestamp: fire, HoldTimestamp: fire.Add(-time.Minute)},
		{UserKey: "k2", Clear: true},
		{UserKey: "k3", FireTimestamp: time.UnixMilli(-5).UTC(), HoldTimestamp: time.UnixMilli(0).UTC()},
	}

	payload, err := EncodeAll(c, in...)
	require.NoError(t, err)

	got, err := DecodeAll(c, payload)
	require.NoError(t, err)
	require.Equal(t, in, got)
}

func TestInstantOrdering(t *testing.T) {
	before := appendInstant(nil, time.UnixMilli(-1))
	after := appendInstant(nil, time.UnixMilli(1))
	require.Negative(t, bytes.Compare(before, after))
}

func TestCursor(t *testing.T) {
	cur := NewCursor([]byte{1, 2, 3})
	require.Equal(t, 3, cur.Len())

	b, err := cur.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(1), b)

	buf := make([]byte, 4)
	n, err := cur.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = cur.Read(buf)
	require.ErrorIs(t, err, io.EOF)
	_, err = cur.ReadByte()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.ErrorIs(t, cur.Skip(1), io.ErrUnexpectedEOF)

	cur.Reset([]byte{9})
	require.Equal(t, 1, cur.Len())
	cur.Release()
	require.Zero(t, cur.Len())
}
