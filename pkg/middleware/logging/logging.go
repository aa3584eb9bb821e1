package logging

import (
	"context"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/portablefn/fnharness/pkg/logger"
)

const (
	grpcServiceKey      = "grpc_service"
	grpcMethodKey       = "grpc_method"
	grpcTypeKey         = "grpc_type"
	grpcCodeKey         = "grpc_code"
	traceIDKey          = "trace_id"
	grpcReqCompleteKey  = "grpc_req_complete"
	userAgentKey        = "user_agent"
	queryDurationKey    = "query_duration_ms"
	messagesReceivedKey = "messages_received"
	messagesSentKey     = "messages_sent"

	userAgentHeader    string = "user-agent"
	healthCheckService string = "grpc.health.v1.Health"
)

// NewLoggingInterceptor creates a new logging interceptor for gRPC unary server requests.
func NewLoggingInterceptor(logger logger.Logger) grpc.UnaryServerInterceptor {
	return interceptors.UnaryServerInterceptor(reportable(logger))
}

// NewStreamingLoggingInterceptor creates a new streaming logging interceptor for gRPC stream server requests.
// Data streams are long lived, so one entry is written when the stream ends with
// the number of messages exchanged.
func NewStreamingLoggingInterceptor(logger logger.Logger) grpc.StreamServerInterceptor {
	return interceptors.StreamServerInterceptor(reportable(logger))
}

type reporter struct {
	ctx    context.Context
	logger logger.Logger
	fields []zap.Field

	received int
	sent     int
}

// PostCall is invoked after all PostMsgSend operations.
func (r *reporter) PostCall(err error, rpcDuration time.Duration) {
	r.fields = append(r.fields,
		zap.String(queryDurationKey, strconv.FormatInt(rpcDuration.Milliseconds(), 10)),
		zap.Int(messagesReceivedKey, r.received),
		zap.Int(messagesSentKey, r.sent),
	)
	r.fields = append(r.fields, ctxzap.TagsToFields(r.ctx)...)

	code := status.Code(err)
	r.fields = append(r.fields, zap.String(grpcCodeKey, code.String()))

	switch code {
	case codes.OK, codes.Canceled:
		r.logger.Info(grpcReqCompleteKey, r.fields...)
	case codes.Internal, codes.Unknown, codes.DataLoss:
		r.fields = append(r.fields, zap.Error(err))
		r.logger.Error(grpcReqCompleteKey, r.fields...)
	default:
		r.fields = append(r.fields, zap.Error(err))
		r.logger.Info(grpcReqCompleteKey, r.fields...)
	}
}

// PostMsgSend is invoked once after a unary response or multiple times in
// streaming requests after each message has been sent.
func (r *reporter) PostMsgSend(_ any, err error, _ time.Duration) {
	if err == nil {
		r.sent++
	}
}

// PostMsgReceive is invoked after receiving a message in streaming requests.
func (r *reporter) PostMsgReceive(_ any, err error, _ time.Duration) {
	if err == nil {
		r.received++
	}
}

// userAgentFromContext retrieves the user agent field from the provided context.
// If the user agent field is not present in the context, the function returns an empty string and false.
func userAgentFromContext(ctx context.Context) (string, bool) {
	if headers, ok := metadata.FromIncomingContext(ctx); ok {
		if header := headers.Get(userAgentHeader); len(header) > 0 {
			return header[0], true
		}
	}
	return "", false
}

func reportable(l logger.Logger) interceptors.CommonReportableFunc {
	return func(ctx context.Context, c interceptors.CallMeta) (interceptors.Reporter, context.Context) {
		if c.Service == healthCheckService {
			return interceptors.NoopReporter{}, ctx
		}

		fields := []zap.Field{
			zap.String(grpcServiceKey, c.Service),
			zap.String(grpcMethodKey, c.Method),
			zap.String(grpcTypeKey, string(c.Typ)),
		}

		spanCtx := trace.SpanContextFromContext(ctx)
		if spanCtx.HasTraceID() {
			fields = append(fields, zap.String(traceIDKey, spanCtx.TraceID().String()))
		}

		if userAgent, ok := userAgentFromContext(ctx); ok {
			fields = append(fields, zap.String(userAgentKey, userAgent))
		}

		return &reporter{
			ctx:    ctx,
			logger: l,
			fields: fields,
		}, ctx
	}
}
