// Package nlu описывает контракт внешнего языкового коллаборатора.
//
// Ответы коллаборатора — недоверенный вход: имя инструмента проверяет резолвер,
// текст повторно проходит POST-проверку, вердикт безопасности без ALLOW считается BLOCK.
package nlu

import (
	"context"

	"github.com/xela07ax/a2a-guard/internal/domain"
)

// Exchange: одна пара реплик из истории сессии.
type Exchange struct {
	User      string
	Assistant string
}

// Intent: выбор коллаборатора. Пустой ToolName — инструмент не нужен.
type Intent struct {
	ToolName  string
	Arguments map[string]any
}

type Assessment struct {
	Verdict domain.Verdict
	Detail  string
}

type Client interface {
	ClassifyIntent(ctx context.Context, text string, catalog *domain.Catalog, history []Exchange) (Intent, error)
	RenderProse(ctx context.Context, payload map[string]any, originalText string) (string, error)
	ClassifySafety(ctx context.Context, text string, category domain.Category) (Assessment, error)
}
