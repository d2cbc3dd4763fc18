package connectors

import (
	"context"

	"github.com/xela07ax/a2a-guard/internal/domain"
)

// Connector: клиентская сторона протокола делегирования: обнаружение и вызов.
// Реализации: GRPCAdapter (удаленный агент) и registry.Registry (тот же процесс).
type Connector interface {
	ListTools(ctx context.Context) (*domain.Catalog, error)
	Invoke(ctx context.Context, inv domain.ToolInvocation) domain.ToolOutcome
}
