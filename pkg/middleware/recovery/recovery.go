package recovery

import (
	"context"
	"fmt"
	"runtime/debug"

	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/portablefn/fnharness/pkg/logger"
)

// InternalServerErrorMsg is the only detail a client sees of a recovered panic.
const InternalServerErrorMsg = "internal server error"

// PanicRecoveryHandler recovers from panics for unary/stream services.
func PanicRecoveryHandler(l logger.Logger) grpc_recovery.RecoveryHandlerFuncContext {
	return func(ctx context.Context, p any) error {
		l.ErrorWithContext(ctx, "PanicRecoveryHandler has recovered a panic",
			zap.Error(fmt.Errorf("%v", p)),
			zap.ByteString("stacktrace", debug.Stack()),
		)

		return status.Error(codes.Internal, InternalServerErrorMsg)
	}
}
