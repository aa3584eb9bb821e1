package coder

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestByName(t *testing.T) {
	tests := map[string]struct {
		input string
		want  any
	}{
		NameVarInt:     {input: "-42", want: int64(-42)},
		NameBytes:      {input: "abc", want: []byte("abc")},
		NameStringUTF8: {input: "héllo", want: "héllo"},
		NameBool:       {input: "true", want: true},
		NameDouble:     {input: "1.5", want: 1.5},
		NameCBOR:       {input: "abc", want: "abc"},
	}

	require.Len(t, tests, len(namedCoders)-1)

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require.True(t, IsKnown(name))

			c, err := ByName(name)
			require.NoError(t, err)

			v, err := ParseValue(name, test.input)
			require.NoError(t, err)
			require.Equal(t, test.want, v)

			payload, err := EncodeAll(c, v, v)
			require.NoError(t, err)

			decoded, err := DecodeAll(c, payload)
			require.NoError(t, err)
			require.Equal(t, []any{test.want, test.want}, decoded)
		})
	}
}

func TestByNameComposite(t *testing.T) {
	tests := map[string]struct {
		input string
		want  any
	}{
		"kv(string_utf8,varint)":                 {input: "a=7", want: KV[any, any]{Key: "a", Value: int64(7)}},
		"kv(string_utf8, kv(bool,double))":       {input: "k=true=2.5", want: KV[any, any]{Key: "k", Value: KV[any, any]{Key: true, Value: 2.5}}},
		"length_prefixed(varint)":                {input: "300", want: int64(300)},
		"kv(bytes,length_prefixed(string_utf8))": {input: "id=héllo", want: KV[any, any]{Key: []byte("id"), Value: "héllo"}},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require.True(t, IsKnown(name))

			c, err := ByName(name)
			require.NoError(t, err)

			v, err := ParseValue(name, test.input)
			require.NoError(t, err)
			require.Equal(t, test.want, v)

			payload, err := EncodeAll(c, v, v)
			require.NoError(t, err)

			decoded, err := DecodeAll(c, payload)
			require.NoError(t, err)
			require.Equal(t, []any{test.want, test.want}, decoded)
		})
	}
}

func TestByNameLengthPrefixedFraming(t *testing.T) {
	c, err := ByName("length_prefixed(varint)")
	require.NoError(t, err)

	payload, err := EncodeAll(c, any(int64(300)))
	require.NoError(t, err)
	// one length byte, then the two-byte varint
	require.Equal(t, []byte{0x02, 0xac, 0x02}, payload)
}

func TestByNameProtoValue(t *testing.T) {
	c, err := ByName(NameProtoValue)
	require.NoError(t, err)

	v, err := ParseValue(NameProtoValue, `{"user":"ada","visits":3}`)
	require.NoError(t, err)

	payload, err := EncodeAll(c, v)
	require.NoError(t, err)

	decoded, err := DecodeAll(c, payload)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	require.True(t, proto.Equal(v.(*structpb.Value), decoded[0].(*structpb.Value)))
	require.Equal(t, "ada", decoded[0].(*structpb.Value).GetStructValue().GetFields()["user"].GetStringValue())

	_, err = ParseValue(NameProtoValue, "{not json")
	require.Error(t, err)
}

func TestNamesListsCompositeForms(t *testing.T) {
	names := Names()
	require.Contains(t, names, "kv(k,v)")
	require.Contains(t, names, "length_prefixed(c)")
	require.Contains(t, names, NameProtoValue)
	require.IsIncreasing(t, names)
}

func TestByNameUnknown(t *testing.T) {
	require.False(t, IsKnown("bigint"))
	for _, name := range []string{"kv(varint)", "kv(varint,bigint)", "length_prefixed(varint", "(varint)", "kv(varint,bool))", "list(varint)"} {
		require.False(t, IsKnown(name), name)
		_, err := ByName(name)
		require.ErrorIs(t, err, ErrUnknownCoder, name)
	}

	_, err := ParseValue("kv(string_utf8,varint)", "novalue")
	require.ErrorContains(t, err, "expected key=value")

	_, err = ByName("bigint")
	require.ErrorIs(t, err, ErrUnknownCoder)

	_, err = ParseValue("bigint", "1")
	require.ErrorIs(t, err, ErrUnknownCoder)
}

func TestParseValueInvalid(t *testing.T) {
	_, err := ParseValue(NameVarInt, "one")
	require.Error(t, err)

	_, err = ParseValue(NameBool, "maybe")
	require.Error(t, err)
}

func TestEraseRejectsWrongType(t *testing.T) {
	c := Erase(VarInt())

	var buf bytes.Buffer
	require.Error(t, c.Encode("seven", &buf))
	require.NoError(t, c.Encode(int64(7), &buf))

	v, err := c.Decode(NewCursor(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, int64(7), v)
}

func TestTimerOfErasedKey(t *testing.T) {
	key, err := ByName(NameStringUTF8)
	require.NoError(t, err)

	c := TimerOf(key)
	payload, err := EncodeAll(c, Timer[any]{UserKey: "k", DynamicTimerTag: "tag", Clear: true})
	require.NoError(t, err)

	timers, err := DecodeAll(c, payload)
	require.NoError(t, err)
	require.Len(t, timers, 1)
	require.Equal(t, "k", timers[0].UserKey)
	require.True(t, timers[0].Clear)
}
