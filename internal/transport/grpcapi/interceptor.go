package grpcapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TraceHeader: id хода оркестратора, сквозной для обоих агентов.
const TraceHeader = "x-trace-id"

type traceKey struct{}

// TraceID достает id хода, положенный серверным перехватчиком.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// WithOutgoingTrace кладет id хода в исходящие метаданные gRPC.
func WithOutgoingTrace(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, TraceHeader, traceID)
}

// UnaryTraceInterceptor поднимает trace-id из метаданных и пишет access-лог вызова.
func UnaryTraceInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	logger = logger.Named("grpc")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		// 1. Извлекаем метаданные из контекста (в gRPC заголовки в нижнем регистре)
		var traceID string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get(TraceHeader); len(ids) > 0 {
				traceID = ids[0]
			}
		}

		// 2. Обогащаем контекст и идем дальше по цепочке
		start := time.Now()
		resp, err := handler(context.WithValue(ctx, traceKey{}, traceID), req)

		logger.Info("call",
			zap.String("method", info.FullMethod),
			zap.String("trace_id", traceID),
			zap.String("code", status.Code(err).String()),
			zap.Duration("took", time.Since(start)),
		)
		return resp, err
	}
}
