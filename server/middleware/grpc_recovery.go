package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/SaurabhJain708/formbricks/pkg/contextx"
)

// GRPCRecoveryInterceptor turns a handler panic into codes.Internal.
func GRPCRecoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.ErrorContext(ctx, "GRPC PANIC RECOVERED",
				"error", fmt.Sprintf("%v", rec),
				"method", info.FullMethod,
				"stack", string(debug.Stack()),
			)
			err = status.Errorf(codes.Internal, "internal server error")
		}
	}()

	return handler(contextx.WithEntryPoint(ctx, "grpc"), req)
}
