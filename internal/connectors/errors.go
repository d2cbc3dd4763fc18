package connectors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/a2a-guard/internal/domain"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// transportOutcome нормализует ошибку транспорта в исход. Наружу сырые gRPC-ошибки не уходят.
func transportOutcome(ctx context.Context, err error) domain.ToolOutcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.Failure(domain.KindUpstreamUnavailable, "provider call timed out")
	}

	switch status.Code(err) {
	case codes.InvalidArgument:
		return domain.Failure(domain.KindInvalidArguments, "provider rejected the invocation")
	case codes.DeadlineExceeded:
		return domain.Failure(domain.KindUpstreamUnavailable, "provider call timed out")
	case codes.ResourceExhausted:
		out := domain.Failure(domain.KindUpstreamUnavailable, "provider is throttling")
		out.RetryAfter = retryHint(err)
		return out
	default:
		// Unavailable, ResourceExhausted, Internal, обрыв соединения — всё транзиентно
		return domain.Failure(domain.KindUpstreamUnavailable, "provider unreachable (%s)", status.Code(err))
	}
}

// retryHint достает google.rpc.RetryInfo из деталей статуса. Нет деталей: 0, решает политика повторов.
func retryHint(err error) time.Duration {
	st, ok := status.FromError(err)
	if !ok {
		return 0
	}
	for _, d := range st.Details() {
		if ri, ok := d.(*errdetails.RetryInfo); ok && ri.GetRetryDelay() != nil {
			if delay := ri.GetRetryDelay().AsDuration(); delay > 0 {
				return delay
			}
		}
	}
	return 0
}

// transportError: то же для ListTools, где исход не нужен, нужна ошибка.
func transportError(op string, err error) error {
	return fmt.Errorf("%s: %w: %s", op, domain.ErrUpstreamUnavailable, status.Code(err))
}
