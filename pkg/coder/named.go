package coder

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Names of the coders that can be looked up with ByName.
const (
	NameVarInt     = "varint"
	NameBytes      = "bytes"
	NameStringUTF8 = "string_utf8"
	NameBool       = "bool"
	NameDouble     = "double"
	NameCBOR       = "cbor"
	// NameProtoValue encodes a google.protobuf.Value, written as JSON in text form.
	NameProtoValue = "proto_value"

	// NameKV is written kv(<key coder>,<value coder>). Its text form is key=value.
	NameKV = "kv"
	// NameLengthPrefixed is written length_prefixed(<coder>).
	NameLengthPrefixed = "length_prefixed"
)

var ErrUnknownCoder = errors.New("unknown coder")

type namedCoder struct {
	build func() (Coder[any], error)
	parse func(string) (any, error)
}

var namedCoders = map[string]namedCoder{
	NameVarInt: {
		build: func() (Coder[any], error) { return Erase(VarInt()), nil },
		parse: func(s string) (any, error) { return strconv.ParseInt(s, 10, 64) },
	},
	NameBytes: {
		build: func() (Coder[any], error) { return Erase(Bytes()), nil },
		parse: func(s string) (any, error) { return []byte(s), nil },
	},
	NameStringUTF8: {
		build: func() (Coder[any], error) { return Erase(StringUTF8()), nil },
		parse: func(s string) (any, error) { return s, nil },
	},
	NameBool: {
		build: func() (Coder[any], error) { return Erase(Bool()), nil },
		parse: func(s string) (any, error) { return strconv.ParseBool(s) },
	},
	NameDouble: {
		build: func() (Coder[any], error) { return Erase(Double()), nil },
		parse: func(s string) (any, error) { return strconv.ParseFloat(s, 64) },
	},
	NameCBOR: {
		build: func() (Coder[any], error) { return CBOR[any]() },
		parse: func(s string) (any, error) { return s, nil },
	},
	NameProtoValue: {
		build: func() (Coder[any], error) { return Erase(Proto(&structpb.Value{})), nil },
		parse: func(s string) (any, error) {
			v := &structpb.Value{}
			if err := protojson.Unmarshal([]byte(s), v); err != nil {
				return nil, err
			}
			return v, nil
		},
	},
}

// Names lists the coders known to ByName, sorted. Composite coders are listed in
// their written form.
func Names() []string {
	names := make([]string, 0, len(namedCoders)+2)
	for name := range namedCoders {
		names = append(names, name)
	}
	names = append(names, NameKV+"(k,v)", NameLengthPrefixed+"(c)")
	sort.Strings(names)
	return names
}

// IsKnown reports whether name refers to a coder known to ByName.
func IsKnown(name string) bool {
	_, err := resolve(name)
	return err == nil
}

// ByName returns the coder registered under name, or the composite coder name
// spells out.
func ByName(name string) (Coder[any], error) {
	nc, err := resolve(name)
	if err != nil {
		return nil, err
	}
	return nc.build()
}

// ParseValue converts the textual form of a value into the type the named coder encodes.
func ParseValue(name, s string) (any, error) {
	nc, err := resolve(name)
	if err != nil {
		return nil, err
	}
	v, err := nc.parse(s)
	if err != nil {
		return nil, fmt.Errorf("parse %s value '%s': %w", name, s, err)
	}
	return v, nil
}

func resolve(name string) (namedCoder, error) {
	if nc, ok := namedCoders[name]; ok {
		return nc, nil
	}

	outer, args, ok := splitComposite(name)
	if !ok {
		return namedCoder{}, fmt.Errorf("%w '%s'", ErrUnknownCoder, name)
	}

	inner := make([]namedCoder, len(args))
	for i, arg := range args {
		nc, err := resolve(arg)
		if err != nil {
			return namedCoder{}, err
		}
		inner[i] = nc
	}

	switch {
	case outer == NameKV && len(inner) == 2:
		return kvNamed(inner[0], inner[1]), nil
	case outer == NameLengthPrefixed && len(inner) == 1:
		return lengthPrefixedNamed(inner[0]), nil
	}
	return namedCoder{}, fmt.Errorf("%w '%s'", ErrUnknownCoder, name)
}

func kvNamed(key, value namedCoder) namedCoder {
	return namedCoder{
		build: func() (Coder[any], error) {
			k, err := key.build()
			if err != nil {
				return nil, err
			}
			v, err := value.build()
			if err != nil {
				return nil, err
			}
			return Erase(KVOf(k, v)), nil
		},
		parse: func(s string) (any, error) {
			ks, vs, ok := strings.Cut(s, "=")
			if !ok {
				return nil, errors.New("expected key=value")
			}
			k, err := key.parse(ks)
			if err != nil {
				return nil, fmt.Errorf("key: %w", err)
			}
			v, err := value.parse(vs)
			if err != nil {
				return nil, fmt.Errorf("value: %w", err)
			}
			return KV[any, any]{Key: k, Value: v}, nil
		},
	}
}

func lengthPrefixedNamed(inner namedCoder) namedCoder {
	return namedCoder{
		build: func() (Coder[any], error) {
			c, err := inner.build()
			if err != nil {
				return nil, err
			}
			return LengthPrefix(c), nil
		},
		parse: inner.parse,
	}
}

// splitComposite splits "outer(a,b)" into outer and its top-level arguments.
func splitComposite(name string) (string, []string, bool) {
	open := strings.IndexByte(name, '(')
	if open <= 0 || !strings.HasSuffix(name, ")") {
		return "", nil, false
	}

	var args []string
	depth, from := 0, open+1
	body := name[:len(name)-1]
	for i := from; i < len(body); i++ {
		switch body[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return "", nil, false
			}
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(body[from:i]))
				from = i + 1
			}
		}
	}
	if depth != 0 {
		return "", nil, false
	}
	args = append(args, strings.TrimSpace(body[from:]))
	return name[:open], args, true
}

type erasedCoder[T any] struct {
	inner Coder[T]
}

// Erase adapts a typed coder to Coder[any]. Encoding a value that is not a T fails.
func Erase[T any](c Coder[T]) Coder[any] {
	return erasedCoder[T]{inner: c}
}

func (c erasedCoder[T]) Encode(v any, w io.Writer) error {
	t, ok := v.(T)
	if !ok {
		return fmt.Errorf("cannot encode %T as %T", v, *new(T))
	}
	return c.inner.Encode(t, w)
}

func (c erasedCoder[T]) Decode(cur *Cursor) (any, error) {
	return c.inner.Decode(cur)
}
