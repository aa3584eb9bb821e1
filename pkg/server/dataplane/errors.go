package dataplane

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/portablefn/fnharness/pkg/data"
)

var (
	// ErrPendingOverflow is returned when a stream carries more batches for an
	// unregistered instruction than the multiplexer may buffer.
	ErrPendingOverflow = errors.New("too many pending batches for unregistered instruction")

	// ErrDrainTimeout cancels bundles that are still incomplete once their stream
	// has ended and the drain period has passed.
	ErrDrainTimeout = errors.New("stream ended before bundle completed")

	ErrMultiplexerClosed   = errors.New("multiplexer closed")
	ErrAlreadyRegistered   = errors.New("instruction already registered")
	ErrInstructionFinished = errors.New("instruction already finished")
)

// toGRPCError converts a data plane error to a gRPC status error.
func toGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrDrainTimeout), errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, data.ErrUnknownEndpoint), errors.Is(err, data.ErrEndpointAlreadyDone):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, data.ErrDecodeFailure):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, data.ErrSinkFailure):
		return status.Error(codes.Internal, err.Error())
	case errors.Is(err, ErrPendingOverflow):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, data.ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, ErrMultiplexerClosed):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, fmt.Sprintf("data plane error: %v", err))
	}
}

// fromGRPCError converts a gRPC status error back to a data plane error.
func fromGRPCError(err error) error {
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	msg := st.Message()
	switch st.Code() {
	case codes.OK:
		return nil
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", ErrDrainTimeout, msg)
	case codes.InvalidArgument:
		if strings.Contains(msg, data.ErrEndpointAlreadyDone.Error()) {
			return fmt.Errorf("%w: %s", data.ErrEndpointAlreadyDone, msg)
		}
		return fmt.Errorf("%w: %s", data.ErrUnknownEndpoint, msg)
	case codes.DataLoss:
		return fmt.Errorf("%w: %s", data.ErrDecodeFailure, msg)
	case codes.ResourceExhausted:
		return fmt.Errorf("%w: %s", ErrPendingOverflow, msg)
	case codes.Canceled:
		return fmt.Errorf("%w: %s", data.ErrCancelled, msg)
	case codes.Internal:
		if strings.Contains(msg, data.ErrSinkFailure.Error()) || strings.HasPrefix(msg, "receiver failed") {
			return fmt.Errorf("%w: %s", data.ErrSinkFailure, msg)
		}
		return fmt.Errorf("data plane error: %s", msg)
	default:
		return err
	}
}
