// Package intent выбирает инструмент для реплики пользователя.
// Рассуждение делегировано NLU, а пакет владеет контрактом: ответ коллаборатора
// проверяется по каталогу и никогда не передает управление напрямую.
package intent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/xela07ax/a2a-guard/internal/domain"
	"github.com/xela07ax/a2a-guard/internal/nlu"
	"go.uber.org/zap"
)

// Resolution: либо вызов инструмента, либо NoTool (ответить без делегирования).
type Resolution struct {
	Invocation domain.ToolInvocation
	NoTool     bool
	Reason     string
}

type Resolver struct {
	client nlu.Client
	window int
	newID  func() string
	logger *zap.Logger
}

// New: window — сколько последних обменов истории уходит в коллаборатор.
func New(client nlu.Client, window int, logger *zap.Logger) *Resolver {
	return &Resolver{
		client: client,
		window: window,
		newID:  uuid.NewString,
		logger: logger.Named("intent"),
	}
}

func (r *Resolver) Resolve(ctx context.Context, text string, catalog *domain.Catalog, history []nlu.Exchange) (Resolution, error) {
	if catalog == nil {
		return Resolution{}, fmt.Errorf("resolve: %w: no catalog", domain.ErrNotInitialized)
	}

	got, err := r.client.ClassifyIntent(ctx, text, catalog, r.recent(history))
	if err != nil {
		if !errors.Is(err, domain.ErrCollaboratorUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrCollaboratorUnavailable, err)
		}
		return Resolution{}, fmt.Errorf("resolve: %w", err)
	}

	if got.ToolName == "" {
		return Resolution{NoTool: true, Reason: "no tool needed"}, nil
	}
	desc, ok := catalog.Lookup(got.ToolName)
	if !ok {
		// Имя не из каталога — галлюцинация модели, вызывать нечего
		r.logger.Warn("collaborator named unknown tool", zap.String("tool", got.ToolName))
		return Resolution{NoTool: true, Reason: fmt.Sprintf("tool %q is not in the catalog", got.ToolName)}, nil
	}

	args := make(map[string]any, len(got.Arguments))
	for k, v := range got.Arguments {
		args[k] = v
	}

	inv := domain.ToolInvocation{
		ID:        r.newID(),
		ToolName:  desc.Name,
		Arguments: args,
	}
	r.logger.Debug("tool selected", zap.String("tool", inv.ToolName), zap.String("invocation_id", inv.ID))
	return Resolution{Invocation: inv}, nil
}

func (r *Resolver) recent(history []nlu.Exchange) []nlu.Exchange {
	if r.window <= 0 {
		return nil
	}
	if len(history) > r.window {
		history = history[len(history)-r.window:]
	}
	return history
}
