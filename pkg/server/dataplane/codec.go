package dataplane

import (
	"fmt"

	"google.golang.org/grpc/encoding"

	"github.com/portablefn/fnharness/pkg/fnapi"
)

// CodecName is the gRPC content subtype carried by data streams.
const CodecName = "fnapi"

func init() {
	encoding.RegisterCodec(codec{})
}

// codec frames *fnapi.Elements messages with their own wire encoding so that
// payloads are decoded without reflection.
type codec struct{}

var _ encoding.Codec = codec{}

func (codec) Name() string {
	return CodecName
}

func (codec) Marshal(v any) ([]byte, error) {
	elements, ok := v.(*fnapi.Elements)
	if !ok {
		return nil, fmt.Errorf("fnapi codec: cannot marshal %T", v)
	}
	return elements.Marshal()
}

func (codec) Unmarshal(data []byte, v any) error {
	elements, ok := v.(*fnapi.Elements)
	if !ok {
		return fmt.Errorf("fnapi codec: cannot unmarshal into %T", v)
	}
	return elements.Unmarshal(data)
}
