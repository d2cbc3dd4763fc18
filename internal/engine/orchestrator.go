package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/a2a-guard/internal/composer"
	"github.com/xela07ax/a2a-guard/internal/directory"
	"github.com/xela07ax/a2a-guard/internal/domain"
	"github.com/xela07ax/a2a-guard/internal/intent"
	"github.com/xela07ax/a2a-guard/internal/safety"
	"github.com/xela07ax/a2a-guard/internal/session"
	"go.uber.org/zap"
)

// Reply: ответ границы сессии.
type Reply struct {
	TurnID    string          `json:"turn_id"`
	SessionID string          `json:"session_id"`
	FinalText string          `json:"final_text"`
	Verdict   domain.Verdict  `json:"safety_verdict"`
	Category  domain.Category `json:"category"`
	Tool      string          `json:"tool,omitempty"`
}

type Orchestrator struct {
	safety    *safety.Pipeline
	directory *directory.Directory
	resolver  *intent.Resolver
	executor  Delegator
	composer  *composer.Composer
	sessions  *session.Manager
	metrics   *Metrics

	historyWindow int
	now           func() time.Time
	logger        *zap.Logger
}

type Deps struct {
	Safety    *safety.Pipeline
	Directory *directory.Directory
	Resolver  *intent.Resolver
	Executor  Delegator
	Composer  *composer.Composer
	Sessions  *session.Manager
	Metrics   *Metrics
}

func NewOrchestrator(d Deps, historyWindow int, logger *zap.Logger) *Orchestrator {
	if d.Metrics == nil {
		d.Metrics = NewMetrics(nil)
	}
	if d.Sessions == nil {
		d.Sessions = session.NewManager()
	}
	return &Orchestrator{
		safety:        d.Safety,
		directory:     d.Directory,
		resolver:      d.Resolver,
		executor:      d.Executor,
		composer:      d.Composer,
		sessions:      d.Sessions,
		metrics:       d.Metrics,
		historyWindow: historyWindow,
		now:           time.Now,
		logger:        logger.Named("orchestrator"),
	}
}

func (o *Orchestrator) Sessions() *session.Manager { return o.sessions }

func (o *Orchestrator) Directory() *directory.Directory { return o.directory }

// HandleTurn проводит один ход через автомат состояний. Текст ответа есть всегда;
// ошибка возвращается только при нарушении автомата, и уже после записи в аудит.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, text string) (Reply, error) {
	sess, _ := o.sessions.Get(sessionID)
	release := sess.BeginTurn()
	defer release()

	tc := newTurnContext(uuid.NewString(), sess.ID, o.now())
	turn := safety.Turn{ID: tc.ID, SessionID: tc.SessionID}

	log := o.logger.With(zap.String("turn_id", tc.ID), zap.String("session_id", tc.SessionID))
	log.Debug("turn received", zap.String("text", text))

	// ШАГ 1: PRE-проверка. BLOCK здесь — никаких обращений к резолверу и провайдеру
	pre := o.safety.Pre(ctx, turn, text)
	tc.Events = append(tc.Events, pre)
	if pre.Blocked() {
		err := tc.advance(StateBlocked)
		return o.finish(sess, tc, text, o.safety.Refusal(pre.Category), pre), err
	}
	if err := tc.advance(StatePreChecked); err != nil {
		return o.finish(sess, tc, text, o.safety.Refusal(domain.CategoryNone), pre), err
	}

	// ШАГ 2: Делегирование (или осознанный отказ от него)
	result := o.delegate(ctx, tc, sess, text, log)
	if err := tc.advance(StateDelegated); err != nil {
		return o.finish(sess, tc, text, o.safety.Refusal(domain.CategoryNone), pre), err
	}

	// ШАГ 3: Сборка ответа и POST-проверка
	candidate := o.composer.Compose(ctx, result, text)
	post := o.safety.Post(ctx, turn, candidate)
	tc.Events = append(tc.Events, post)
	if err := tc.advance(StatePostChecked); err != nil {
		return o.finish(sess, tc, text, o.safety.Refusal(domain.CategoryNone), post), err
	}

	if post.Blocked() {
		// Вызов уже состоялся и не откатывается, заменяется только видимый текст
		err := tc.advance(StateBlocked)
		return o.finish(sess, tc, text, o.safety.Refusal(post.Category), post), err
	}
	err := tc.advance(StateDelivered)
	return o.finish(sess, tc, text, candidate, post), err
}

func (o *Orchestrator) delegate(ctx context.Context, tc *TurnContext, sess *session.Session, text string, log *zap.Logger) composer.Result {
	// per-session: обновляем на первом ходе, дошедшем до директории, а не на первом ходе вообще
	catalog, err := o.directory.ForTurn(ctx, !sess.CatalogFetched())
	if err != nil {
		log.Warn("no catalog for turn", zap.Error(err))
		return composer.Result{Outcome: domain.FailureFrom(err)}
	}
	sess.MarkCatalogFetched()
	tc.Catalog = catalog

	res, err := o.resolver.Resolve(ctx, text, catalog, sess.History(o.historyWindow))
	if err != nil {
		log.Warn("intent resolution failed", zap.Error(err))
		return composer.Result{Outcome: domain.FailureFrom(err)}
	}
	if res.NoTool {
		log.Debug("no tool selected", zap.String("reason", res.Reason))
		return composer.Result{NoTool: true, Catalog: catalog}
	}

	inv := res.Invocation
	tc.Invocation = &inv
	tc.Delegated = true
	out := o.executor.Execute(ctx, inv)
	log.Info("delegated",
		zap.String("tool", inv.ToolName),
		zap.String("invocation_id", inv.ID),
		zap.Bool("ok", out.OK),
		zap.String("kind", string(out.Kind)),
	)
	return composer.Result{Outcome: out, Catalog: catalog}
}

func (o *Orchestrator) finish(sess *session.Session, tc *TurnContext, text, final string, last domain.SafetyEvent) Reply {
	verdict := domain.VerdictAllow
	if tc.State != StateDelivered {
		verdict = domain.VerdictBlock
	}

	sess.Record(session.Turn{
		ID:        tc.ID,
		UserText:  text,
		FinalText: final,
		Verdict:   verdict,
		Events:    tc.Events,
		At:        o.now(),
	})
	o.metrics.Turns.WithLabelValues(string(verdict)).Inc()

	reply := Reply{
		TurnID:    tc.ID,
		SessionID: tc.SessionID,
		FinalText: final,
		Verdict:   verdict,
		Category:  last.Category,
	}
	if tc.Invocation != nil {
		reply.Tool = tc.Invocation.ToolName
	}

	o.logger.Info("turn finished",
		zap.String("turn_id", tc.ID),
		zap.String("session_id", tc.SessionID),
		zap.String("state", string(tc.State)),
		zap.String("verdict", string(verdict)),
		zap.Bool("delegated", tc.Delegated),
		zap.Int("safety_events", len(tc.Events)),
		zap.Duration("took", o.now().Sub(tc.Started)),
	)
	return reply
}
