package audit

/*
Файл log.go реализует журнал аудита решений безопасности.

Архитектура:
- Single Writer: все append проходят через один мьютекс. Номер присваивается и запись
  уходит в sink под одной блокировкой, поэтому seq строго возрастает, а строки
  в файле никогда не перемежаются.
- Append-only: записи не редактируются и не удаляются. Наружу отдаются только копии.
- Retention: в памяти живет только хвост из последних retain записей (кольцо) для
  /v1/audit и трассы хода. Полная история лежит в sink и в реплике.
- Sink: JSON Lines через zap core (читается и человеком, и jq).
- Replica: опциональная асинхронная репликация в Postgres (см. replicator.go).
  Реплика не влияет на основной журнал: локальная запись синхронна.
*/

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/xela07ax/a2a-guard/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Option func(*Log)

// WithReplica подключает асинхронную реплику.
func WithReplica(r *Replicator) Option {
	return func(l *Log) { l.replica = r }
}

// WithSinkErrorHook вызывается при каждой неудачной записи в sink (для метрик).
func WithSinkErrorHook(fn func(error)) Option {
	return func(l *Log) { l.onSinkErr = fn }
}

// WithAppendHook вызывается после каждого успешного append (для метрик).
func WithAppendHook(fn func(Entry)) Option {
	return func(l *Log) { l.onAppend = fn }
}

// DefaultRetention: сколько последних записей журнал держит в памяти.
const DefaultRetention = 10000

// WithRetention задает размер хвоста в памяти. n <= 0 оставляет значение по умолчанию.
func WithRetention(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.retain = n
		}
	}
}

// WithClock подменяет часы (тесты).
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

type Log struct {
	mu     sync.Mutex
	seq    uint64
	tail   []Entry // кольцо, head указывает на самую старую запись
	head   int
	retain int
	sink   *zap.Logger
	syncer zapcore.WriteSyncer

	replica   *Replicator
	onSinkErr func(error)
	onAppend  func(Entry)
	now       func() time.Time
	logger    *zap.Logger
}

// NewLog создает журнал поверх произвольного WriteSyncer. nil sink — журнал только в памяти.
func NewLog(sink zapcore.WriteSyncer, logger *zap.Logger, opts ...Option) *Log {
	l := &Log{
		retain: DefaultRetention,
		now:    time.Now,
		logger: logger.Named("audit"),
	}
	for _, o := range opts {
		o(l)
	}

	if sink != nil {
		l.syncer = &hookedSyncer{ws: sink, onErr: l.sinkErr}
		encCfg := zapcore.EncoderConfig{
			TimeKey:        "logged_at",
			MessageKey:     "msg",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		}
		// Отдельное ядро без сэмплинга: аудит не должен терять записи из-за rate-limit логгера
		l.sink = zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), l.syncer, zapcore.InfoLevel))
	}
	return l
}

// OpenFile открывает файл журнала в режиме дозаписи.
func OpenFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return f, nil
}

// Append присваивает номер и фиксирует событие. Никогда не отказывает:
// сбой sink фиксируется в логе и метриках, запись в памяти остается.
func (l *Log) Append(ev domain.SafetyEvent) Entry {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}

	l.mu.Lock()
	l.seq++
	e := Entry{Seq: l.seq, SafetyEvent: ev}
	l.remember(e)
	if l.sink != nil {
		l.sink.Info("safety_event",
			zap.Uint64("seq", e.Seq),
			zap.String("turn_id", ev.TurnID),
			zap.String("session_id", ev.SessionID),
			zap.String("stage", string(ev.Stage)),
			zap.String("verdict", string(ev.Verdict)),
			zap.String("category", string(ev.Category)),
			zap.String("check", ev.Check),
			zap.String("detail", ev.Detail),
			zap.Time("timestamp", ev.Timestamp),
		)
	}
	l.mu.Unlock()

	if l.onAppend != nil {
		l.onAppend(e)
	}
	if l.replica != nil {
		l.replica.Submit(e)
	}
	return e
}

// Entries: копия хвоста журнала в порядке поступления.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ordered(0)
}

// Since отдает записи с номером строго больше seq. Если часть из них уже вытеснена
// из памяти, отдается то, что осталось.
func (l *Log) Since(seq uint64) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq >= l.seq {
		return nil
	}
	dropped := l.seq - uint64(len(l.tail))
	from := 0
	if seq > dropped {
		from = int(seq - dropped)
	}
	return l.ordered(from)
}

// ForTurn: след решений конкретного хода.
func (l *Log) ForTurn(turnID string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.ordered(0) {
		if e.TurnID == turnID {
			out = append(out, e)
		}
	}
	return out
}

// remember кладет запись в кольцо. Вызывается под l.mu.
func (l *Log) remember(e Entry) {
	if len(l.tail) < l.retain {
		l.tail = append(l.tail, e)
		return
	}
	l.tail[l.head] = e
	l.head = (l.head + 1) % len(l.tail)
}

// ordered копирует кольцо начиная с from-й по старшинству записи. Вызывается под l.mu.
func (l *Log) ordered(from int) []Entry {
	n := len(l.tail)
	if from >= n {
		return nil
	}
	out := make([]Entry, 0, n-from)
	for i := from; i < n; i++ {
		out = append(out, l.tail[(l.head+i)%n])
	}
	return out
}

// Close сбрасывает sink и дожидается реплики.
func (l *Log) Close() error {
	if l.replica != nil {
		l.replica.Stop()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.syncer != nil {
		return l.syncer.Sync()
	}
	return nil
}

func (l *Log) sinkErr(err error) {
	l.logger.Error("audit sink write failed", zap.Error(err))
	if l.onSinkErr != nil {
		l.onSinkErr(err)
	}
}

// hookedSyncer пробрасывает ошибки записи наружу: zap сам их только печатает в ErrorOutput.
type hookedSyncer struct {
	ws    zapcore.WriteSyncer
	onErr func(error)
}

func (h *hookedSyncer) Write(p []byte) (int, error) {
	n, err := h.ws.Write(p)
	if err != nil {
		h.onErr(err)
	}
	return n, err
}

func (h *hookedSyncer) Sync() error {
	return h.ws.Sync()
}
