package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/a2a-guard/internal/domain"
	"github.com/xela07ax/a2a-guard/internal/transport/grpcapi"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type GRPCAdapter struct {
	client *grpcapi.ToolServiceClient
	conn   *grpc.ClientConn // nil, если соединение передали снаружи
	logger *zap.Logger
}

// Dial открывает соединение с агентом-провайдером. Соединение ленивое: недоступный
// провайдер проявится на первом вызове как UpstreamUnavailable, а не здесь.
func Dial(target string, logger *zap.Logger, opts ...grpc.DialOption) (*GRPCAdapter, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider client: %w", err)
	}
	a := NewGRPCAdapter(conn, logger)
	a.conn = conn
	return a, nil
}

// NewGRPCAdapter создает экземпляр адаптера поверх готового соединения
func NewGRPCAdapter(cc grpc.ClientConnInterface, logger *zap.Logger) *GRPCAdapter {
	return &GRPCAdapter{
		client: grpcapi.NewToolServiceClient(cc),
		logger: logger.Named("grpc-adapter"),
	}
}

func (a *GRPCAdapter) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

// ListTools реализует Connector
func (a *GRPCAdapter) ListTools(ctx context.Context) (*domain.Catalog, error) {
	resp, err := a.client.ListTools(ctx)
	if err != nil {
		return nil, transportError("list tools", err)
	}
	cat, err := grpcapi.DecodeCatalog(resp)
	if err != nil {
		// Провайдер прислал мусор — это не транзиентно, но и не наша ошибка аргументов
		return nil, fmt.Errorf("list tools: %w: %v", domain.ErrUpstreamUnavailable, err)
	}
	return cat, nil
}

// Invoke реализует Connector
func (a *GRPCAdapter) Invoke(ctx context.Context, inv domain.ToolInvocation) domain.ToolOutcome {
	// 1. Конвертируем вызов в Protobuf Struct
	req, err := grpcapi.EncodeInvocation(inv)
	if err != nil {
		return domain.Failure(domain.KindInvalidArguments, "arguments are not encodable: %v", err)
	}

	// 2. Выполняем gRPC вызов к провайдеру
	start := time.Now()
	resp, err := a.client.Invoke(ctx, req)
	if err != nil {
		out := transportOutcome(ctx, err)
		a.logger.Warn("provider call failed",
			zap.String("tool", inv.ToolName),
			zap.String("invocation_id", inv.ID),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
		return out
	}

	// 3. Ответ провайдера — недоверенный вход, декодер сам отсекает неизвестные виды ошибок
	return grpcapi.DecodeOutcome(resp)
}
