// Package composer превращает исход делегирования в финальный текст.
//
// Проза на успешном пути — работа NLU. Все остальные пути детерминированы и
// работают без коллаборатора: сообщение называет категорию сбоя и никогда
// не включает внутренние детали (текст ошибки, ответ апстрима).
package composer

import (
	"context"
	"fmt"

	"github.com/xela07ax/a2a-guard/internal/domain"
	"github.com/xela07ax/a2a-guard/internal/nlu"
	"go.uber.org/zap"
)

// Result: то, что пришло из фазы делегирования.
type Result struct {
	Outcome domain.ToolOutcome
	NoTool  bool
	Catalog *domain.Catalog // для ответа "что ты умеешь" при NoTool
}

type Composer struct {
	client   nlu.Client
	fallback *nlu.Heuristic
	domain   string
	logger   *zap.Logger
}

func New(client nlu.Client, domainName string, logger *zap.Logger) *Composer {
	return &Composer{
		client:   client,
		fallback: nlu.NewHeuristic(),
		domain:   domainName,
		logger:   logger.Named("composer"),
	}
}

// Compose всегда возвращает текст. Ошибки коллаборатора уходят в детерминированный путь.
func (c *Composer) Compose(ctx context.Context, res Result, userText string) string {
	switch {
	case res.NoTool:
		return c.prose(ctx, capabilities(res.Catalog), userText)
	case res.Outcome.OK:
		return c.prose(ctx, res.Outcome.Payload, userText)
	default:
		return c.FailureText(res.Outcome.Kind)
	}
}

// FailureText: фиксированное сообщение для вида отказа.
func (c *Composer) FailureText(kind domain.ErrorKind) string {
	switch kind {
	case domain.KindInvalidArguments:
		return "I couldn't look that up because the request details were invalid. Please name a specific place, for example \"weather in Boston\"."
	case domain.KindNotInitialized:
		return "I'm not ready to answer yet because my tool list hasn't loaded. Please try again shortly."
	case domain.KindCollaboratorUnavailable:
		return "I couldn't process your request because the language service is unavailable. Please try again shortly."
	default:
		return fmt.Sprintf("The %s service is temporarily unavailable. Please try again in a moment.", c.domain)
	}
}

func (c *Composer) prose(ctx context.Context, payload map[string]any, userText string) string {
	text, err := c.client.RenderProse(ctx, payload, userText)
	if err == nil {
		return text
	}
	c.logger.Warn("prose rendering failed, using template", zap.Error(err))
	// Шаблон не ходит в сеть и не может упасть
	text, _ = c.fallback.RenderProse(ctx, payload, userText)
	return text
}

func capabilities(cat *domain.Catalog) map[string]any {
	var list []any
	if cat != nil {
		for _, t := range cat.Tools {
			list = append(list, map[string]any{"name": t.Name, "description": t.Description})
		}
	}
	return map[string]any{"capabilities": list}
}
