package registry

/*
Реестр инструментов агента-провайдера.

Инструменты регистрируются статически при старте. Диспетчеризация идет по имени
через мапу; неизвестное имя отвергается явно. Реестр валидирует аргументы по схеме
ДО обращения к внешнему источнику и никогда не ретраит сам: это ответственность
исполнителя делегирования на стороне оркестратора.
*/

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/a2a-guard/internal/domain"
	"go.uber.org/zap"
)

// Tool: единый контракт возможности провайдера.
type Tool interface {
	Descriptor() domain.ToolDescriptor
	// Call получает уже провалидированные и приведенные к типам аргументы.
	Call(ctx context.Context, args map[string]any) (map[string]any, error)
}

// RetryHinter реализуют ошибки источника, которые знают, когда имеет смысл повторить.
type RetryHinter interface {
	RetryAfterHint() time.Duration
}

type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string // порядок регистрации = порядок в каталоге
	logger *zap.Logger
}

func New(logger *zap.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger.Named("registry"),
	}
}

// Register добавляет инструмент. Повторное имя — ошибка конфигурации.
func (r *Registry) Register(t Tool) error {
	d := t.Descriptor()
	if d.Name == "" {
		return errors.New("registry: tool without name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[d.Name]; dup {
		return fmt.Errorf("registry: tool %q already registered", d.Name)
	}
	r.tools[d.Name] = t
	r.order = append(r.order, d.Name)
	r.logger.Info("tool registered", zap.String("tool", d.Name), zap.Int("params", len(d.Parameters)))
	return nil
}

// MustRegister для сборки в main: дубликат имени — баг, а не рантайм-ситуация.
func (r *Registry) MustRegister(tools ...Tool) *Registry {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// ListTools чистая и тотальная: только читает статический каталог.
func (r *Registry) ListTools(_ context.Context) (*domain.Catalog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descs := make([]domain.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		descs = append(descs, r.tools[name].Descriptor())
	}
	return domain.NewCatalog(descs), nil
}

// Invoke выполняет инструмент. Все отказы нормализуются в ToolOutcome — наружу error не уходит.
func (r *Registry) Invoke(ctx context.Context, inv domain.ToolInvocation) domain.ToolOutcome {
	r.mu.RLock()
	tool, ok := r.tools[inv.ToolName]
	r.mu.RUnlock()

	log := r.logger.With(zap.String("tool", inv.ToolName), zap.String("invocation_id", inv.ID))

	// 1. Неизвестное имя
	if !ok {
		log.Warn("unknown tool requested")
		return domain.Failure(domain.KindInvalidArguments, "unknown tool %q", inv.ToolName)
	}

	// 2. Схема: обязательные на месте, типы приводимы. Источник данных не трогаем.
	args, err := Validate(tool.Descriptor(), inv.Arguments)
	if err != nil {
		log.Info("invalid arguments", zap.Error(err))
		return domain.FailureFrom(err)
	}
	if extra := Undeclared(tool.Descriptor(), inv.Arguments); len(extra) > 0 {
		log.Debug("undeclared arguments dropped", zap.Strings("args", extra))
	}

	// 3. Один исходящий вызов
	start := time.Now()
	payload, err := tool.Call(ctx, args)
	if err != nil {
		out := classify(ctx, err)
		log.Warn("tool call failed",
			zap.String("kind", string(out.Kind)),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
		return out
	}

	log.Debug("tool call succeeded", zap.Duration("took", time.Since(start)))
	return domain.Success(payload)
}

func classify(ctx context.Context, err error) domain.ToolOutcome {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return domain.Failure(domain.KindUpstreamUnavailable, "upstream call timed out")
	}

	out := domain.FailureFrom(err)
	var hinter RetryHinter
	if errors.As(err, &hinter) {
		out.RetryAfter = hinter.RetryAfterHint()
	}
	return out
}
