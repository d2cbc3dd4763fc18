package audit

/*
Replicator — асинхронная пакетная репликация журнала во внешнее хранилище.

Ключевые особенности:
- Non-blocking: Submit не блокирует ход. При переполнении буфера запись в реплику
  сбрасывается (Load Shedding) — основной локальный журнал при этом полон.
- Batching: накопление в памяти и пакетная запись по таймеру или по лимиту пачки.
- Drain Pattern: Stop закрывает вход, воркер вычитывает остаток и делает финальный flush.
*/

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически будут сохраняться записи
type StorageInterface interface {
	// WriteBatch сохраняет пачку записей за один раз
	WriteBatch(ctx context.Context, entries []Entry) error
}

type ReplicatorConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

type Replicator struct {
	ch     chan Entry
	repo   StorageInterface
	cfg    ReplicatorConfig
	logger *zap.Logger
	wg     sync.WaitGroup

	// closeMu защищает закрытие канала от гонки с Submit
	closeMu sync.RWMutex
	closed  bool

	onDrop func()
	onFill func(int)
}

func NewReplicator(repo StorageInterface, cfg ReplicatorConfig, logger *zap.Logger) *Replicator {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	return &Replicator{
		ch:     make(chan Entry, cfg.BufferSize),
		repo:   repo,
		cfg:    cfg,
		logger: logger.Named("audit-replica"),
	}
}

// OnDrop и OnFill — хуки для метрик (сброс нагрузки и заполненность буфера).
func (r *Replicator) OnDrop(fn func())    { r.onDrop = fn }
func (r *Replicator) OnFill(fn func(int)) { r.onFill = fn }

func (r *Replicator) Start() {
	r.wg.Add(1)
	go r.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (r *Replicator) Stop() {
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return
	}
	r.closed = true
	r.logger.Info("stopping replica: closing channel and flushing buffer...")
	close(r.ch) // Новые записи больше не принимаются
	r.closeMu.Unlock()

	r.wg.Wait() // Ждем, пока воркер вычитает остатки и вызовет flush()
	r.logger.Info("replica stopped gracefully")
}

func (r *Replicator) Submit(e Entry) {
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()

	if r.closed {
		r.logger.Warn("audit entry not replicated: replica is stopping", zap.Uint64("seq", e.Seq))
		return
	}

	select {
	case r.ch <- e:
		if r.onFill != nil {
			r.onFill(len(r.ch))
		}
	default:
		// Backpressure: реплика отстает, локальный журнал остается источником истины
		r.logger.Error("audit_replica_overflow",
			zap.Uint64("seq", e.Seq),
			zap.String("turn_id", e.TurnID),
		)
		if r.onDrop != nil {
			r.onDrop()
		}
	}
}

func (r *Replicator) worker() {
	defer r.wg.Done()

	batch := make([]Entry, 0, r.cfg.BatchSize)
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Используем Background, так как основной контекст может быть уже закрыт
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.repo.WriteBatch(ctx, batch); err != nil {
			r.logger.Error("audit replica flush failed", zap.Int("size", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-r.ch:
			if !ok {
				// Канал закрыт в Stop(): всё, что было в очереди, уже вычитано
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= r.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
