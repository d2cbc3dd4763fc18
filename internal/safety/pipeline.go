package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/a2a-guard/internal/audit"
	"github.com/xela07ax/a2a-guard/internal/domain"
	"github.com/xela07ax/a2a-guard/internal/infra"
	"github.com/xela07ax/a2a-guard/internal/nlu"
	"go.uber.org/zap"
)

// Turn: идентификаторы хода, под которыми пишутся события аудита.
type Turn struct {
	ID        string
	SessionID string
}

// Pipeline прогоняет текст через упорядоченные проверки стадии.
// Каждый вызов Pre/Post оставляет в журнале ровно одно событие.
type Pipeline struct {
	pre    []Check
	post   []Check
	log    *audit.Log
	logger *zap.Logger

	domain       string
	refusalText  string
	checkTimeout time.Duration
	observe      func(domain.SafetyEvent)
	now          func() time.Time
}

type PipelineOption func(*Pipeline)

// WithObserver получает каждое событие после записи в журнал (метрики).
func WithObserver(fn func(domain.SafetyEvent)) PipelineOption {
	return func(p *Pipeline) { p.observe = fn }
}

// WithCheckTimeout ограничивает время одной стадии (значимо для классификатора).
func WithCheckTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.checkTimeout = d }
}

func WithRefusalText(text string) PipelineOption {
	return func(p *Pipeline) {
		if text != "" {
			p.refusalText = text
		}
	}
}

// NewPipeline собирает пайплайн из готовых проверок. Порядок в срезах — порядок проверки.
func NewPipeline(log *audit.Log, domainName string, pre, post []Check, logger *zap.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		pre:         pre,
		post:        post,
		log:         log,
		logger:      logger.Named("safety"),
		domain:      domainName,
		refusalText: "Sorry, I can't share that response.",
		now:         time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// FromConfig: стандартная сборка:
// PRE: jailbreak-паттерны, [jailbreak-классификатор], рамки домена;
// POST: непустой ответ, паттерны утечек, [классификатор вывода].
// Классификатор подключается при safety.classifier=nlu.
func FromConfig(cfg infra.SafetyConfig, classifier nlu.Client, log *audit.Log, logger *zap.Logger, opts ...PipelineOption) (*Pipeline, error) {
	if cfg.Classifier != "nlu" {
		classifier = nil
	}

	jb, err := NewJailbreakCheck(cfg.ExtraJailbreakPatterns)
	if err != nil {
		return nil, err
	}
	topic, err := NewTopicCheck(cfg.Domain, cfg.TopicKeywords, classifier)
	if err != nil {
		return nil, err
	}
	out, err := NewOutputCheck()
	if err != nil {
		return nil, err
	}

	pre := []Check{jb}
	post := []Check{NonEmptyCheck{}, out}
	if classifier != nil {
		pre = append(pre, NewClassifierCheck("jailbreak_classifier", domain.CategoryJailbreak, classifier))
		post = append(post, NewClassifierCheck("output_classifier", domain.CategoryUnsafeOutput, classifier))
	}
	pre = append(pre, topic)

	return NewPipeline(log, cfg.Domain, pre, post, logger, append([]PipelineOption{WithRefusalText(cfg.RefusalText)}, opts...)...), nil
}

// Pre проверяет сырой ввод пользователя до любого обращения к инструментам.
func (p *Pipeline) Pre(ctx context.Context, turn Turn, text string) domain.SafetyEvent {
	return p.run(ctx, turn, domain.StagePre, p.pre, text)
}

// Post проверяет итоговый текст ответа перед выдачей.
func (p *Pipeline) Post(ctx context.Context, turn Turn, text string) domain.SafetyEvent {
	return p.run(ctx, turn, domain.StagePost, p.post, text)
}

func (p *Pipeline) run(ctx context.Context, turn Turn, stage domain.Stage, checks []Check, text string) domain.SafetyEvent {
	if p.checkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.checkTimeout)
		defer cancel()
	}

	ev := domain.SafetyEvent{
		TurnID:    turn.ID,
		SessionID: turn.SessionID,
		Stage:     stage,
		Verdict:   domain.VerdictAllow,
		Category:  domain.CategoryNone,
		Detail:    fmt.Sprintf("%d checks passed", len(checks)),
	}

	for _, c := range checks {
		d, err := c.Evaluate(ctx, text)
		if err != nil {
			// Fail-closed: неизвестный результат — это BLOCK
			p.logger.Warn("check failed, blocking",
				zap.String("turn_id", turn.ID),
				zap.String("stage", string(stage)),
				zap.String("check", c.Name()),
				zap.Error(err),
			)
			ev.Verdict, ev.Category, ev.Check = domain.VerdictBlock, c.Category(), c.Name()
			ev.Detail = "check unavailable: " + string(domain.KindOf(err))
			break
		}
		if d.Verdict != domain.VerdictAllow {
			ev.Verdict, ev.Category, ev.Check = domain.VerdictBlock, c.Category(), c.Name()
			ev.Detail = d.Detail
			break
		}
	}

	ev.Timestamp = p.now()
	p.log.Append(ev)
	if p.observe != nil {
		p.observe(ev)
	}
	if ev.Blocked() {
		p.logger.Info("blocked",
			zap.String("turn_id", turn.ID),
			zap.String("stage", string(stage)),
			zap.String("category", string(ev.Category)),
			zap.String("check", ev.Check),
		)
	}
	return ev
}

// Refusal: фиксированный текст отказа для категории. Не раскрывает, какое правило сработало.
func (p *Pipeline) Refusal(c domain.Category) string {
	switch c {
	case domain.CategoryJailbreak:
		return "I can't help with that request."
	case domain.CategoryOffTopic:
		return fmt.Sprintf("I can only help with %s questions, for example current conditions or a short forecast for a city.", p.domain)
	default:
		return p.refusalText
	}
}
