package interceptors

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/Dhoini/humanizer-billing/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type LoggingInterceptor struct {
	log *logger.Logger
}

func NewLoggingInterceptor(log *logger.Logger) *LoggingInterceptor {
	return &LoggingInterceptor{log: log}
}

// Unary логирует каждый вызов и превращает панику обработчика в codes.Internal.
func (i *LoggingInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		start := time.Now()

		defer func() {
			if r := recover(); r != nil {
				i.log.Errorw("gRPC handler panicked", "method", info.FullMethod, "panic", r, "stack", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal server error")
			}

			code := status.Code(err)
			fields := []any{
				"method", info.FullMethod,
				"code", code.String(),
				"latency_ms", time.Since(start).Milliseconds(),
			}
			if code == codes.OK {
				i.log.Debugw("gRPC request handled", fields...)
			} else {
				i.log.Warnw("gRPC request failed", append(fields, "error", err)...)
			}
		}()

		return handler(ctx, req)
	}
}
