package dataplane

import (
	"fmt"

	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/portablefn/fnharness/pkg/fnapi"
)

// Completion is the outcome of one instruction's bundle as reported back to the
// client. Err is nil when every endpoint of the bundle completed.
type Completion struct {
	InstructionID string
	Err           error
}

// A completion notice is a data sub-element with an empty transform id. IsLast
// is set when the bundle succeeded; otherwise the payload holds the encoded
// google.rpc.Status of the failure.
func newCompletionNotice(instructionID string, err error) (*fnapi.Elements, error) {
	notice := &fnapi.Data{InstructionID: instructionID, IsLast: err == nil}
	if err != nil {
		payload, merr := proto.Marshal(status.Convert(toGRPCError(err)).Proto())
		if merr != nil {
			return nil, merr
		}
		notice.Data = payload
	}
	return &fnapi.Elements{Data: []*fnapi.Data{notice}}, nil
}

// ParseCompletions extracts the completion notices carried by a batch received
// from the data service.
func ParseCompletions(elements *fnapi.Elements) ([]Completion, error) {
	var completions []Completion
	for _, d := range elements.Data {
		if d.TransformID != "" {
			continue
		}

		completion := Completion{InstructionID: d.InstructionID}
		if !d.IsLast {
			st := &spb.Status{}
			if err := proto.Unmarshal(d.Data, st); err != nil {
				return nil, fmt.Errorf("invalid completion notice for instruction %s: %w", d.InstructionID, err)
			}
			completion.Err = fromGRPCError(status.ErrorProto(st))
			if completion.Err == nil {
				return nil, fmt.Errorf("invalid completion notice for instruction %s: failure without status", d.InstructionID)
			}
		}
		completions = append(completions, completion)
	}
	return completions, nil
}
