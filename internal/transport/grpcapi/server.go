package grpcapi

import (
	"context"

	"github.com/xela07ax/a2a-guard/internal/domain"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Provider: то, что сервер выставляет наружу. Реализуется registry.Registry.
type Provider interface {
	ListTools(ctx context.Context) (*domain.Catalog, error)
	Invoke(ctx context.Context, inv domain.ToolInvocation) domain.ToolOutcome
}

type Server struct {
	provider Provider
	logger   *zap.Logger
}

func NewServer(p Provider, logger *zap.Logger) *Server {
	return &Server{provider: p, logger: logger.Named("grpc-tools")}
}

func (s *Server) ListTools(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	cat, err := s.provider.ListTools(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list tools: %v", err)
	}
	out, err := EncodeCatalog(cat)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode catalog: %v", err)
	}
	return out, nil
}

// Invoke: ошибки инструмента едут в теле ответа, gRPC-статус — только для поломок протокола.
func (s *Server) Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	inv, err := DecodeInvocation(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	outcome := s.provider.Invoke(ctx, inv)
	resp, err := EncodeOutcome(outcome)
	if err != nil {
		// Полезная нагрузка не ложится в Struct — это баг инструмента, а не сети
		s.logger.Error("encode outcome failed", zap.String("tool", inv.ToolName), zap.Error(err))
		resp, _ = EncodeOutcome(domain.Failure(domain.KindUpstreamUnavailable, "tool returned an unencodable payload"))
	}
	return resp, nil
}
