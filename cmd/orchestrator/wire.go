package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xela07ax/a2a-guard/internal/audit"
	"github.com/xela07ax/a2a-guard/internal/composer"
	"github.com/xela07ax/a2a-guard/internal/connectors"
	"github.com/xela07ax/a2a-guard/internal/directory"
	"github.com/xela07ax/a2a-guard/internal/engine"
	"github.com/xela07ax/a2a-guard/internal/infra"
	"github.com/xela07ax/a2a-guard/internal/intent"
	"github.com/xela07ax/a2a-guard/internal/nlu"
	"github.com/xela07ax/a2a-guard/internal/registry"
	"github.com/xela07ax/a2a-guard/internal/repository/postgres"
	"github.com/xela07ax/a2a-guard/internal/safety"
	"github.com/xela07ax/a2a-guard/internal/tools"
	"github.com/xela07ax/a2a-guard/internal/weather"
)

// app: собранный агент-оркестратор и всё, что нужно закрыть на выходе.
type app struct {
	orch    *engine.Orchestrator
	audit   *audit.Log
	dir     *directory.Directory
	promReg *prometheus.Registry
	rdb     *redis.Client
	logger  *zap.Logger

	closers []func() error
}

func build(ctx context.Context, cfg *infra.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{logger: logger, promReg: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// 1. Метрики
	a.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(a.promReg)

	// 2. Журнал аудита: локальный JSONL и опциональная реплика в Postgres
	auditOpts := metrics.AuditOptions()
	if cfg.Database.URL != "" {
		host, _ := os.Hostname()
		repo, err := postgres.NewAuditRepo(cfg.Database, host)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		replica := audit.NewReplicator(repo, audit.ReplicatorConfig{
			BufferSize:    cfg.Engine.AuditBufferSize,
			FlushInterval: cfg.Engine.AuditFlushInterval,
		}, logger)
		metrics.WireReplicator(replica)
		replica.Start()
		auditOpts = append(auditOpts, audit.WithReplica(replica))
	}

	var sink zapcore.WriteSyncer
	if cfg.Engine.AuditPath != "" {
		f, err := audit.OpenFile(cfg.Engine.AuditPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, f.Close)
		sink = f
	}
	auditOpts = append(auditOpts, audit.WithRetention(cfg.Engine.AuditRetention))
	a.audit = audit.NewLog(sink, logger, auditOpts...)
	// Журнал закрывается первым: он сбрасывает sink и дожидается реплики
	a.closers = append([]func() error{a.audit.Close}, a.closers...)

	// 3. Транспорт к провайдеру
	conn, err := connector(cfg, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := conn.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	// 4. NLU коллаборатор
	client := nluClient(cfg, logger)

	// 5. Safety
	pipe, err := safety.FromConfig(cfg.Safety, client, a.audit, logger,
		safety.WithObserver(metrics.ObserveSafety),
		safety.WithCheckTimeout(cfg.NLU.Timeout),
	)
	if err != nil {
		return nil, err
	}

	// 6. Каталог
	policy, err := directory.ParsePolicy(cfg.Engine.CatalogPolicy)
	if err != nil {
		return nil, err
	}
	a.dir = directory.New(conn, policy, logger,
		directory.WithRefreshHook(metrics.ObserveRefresh),
		directory.WithRefreshTimeout(cfg.Engine.CallTimeout),
	)
	if _, err := a.dir.Refresh(ctx); err != nil {
		// Провайдер может подняться позже; ход без каталога получит детерминированный ответ
		logger.Warn("initial catalog refresh failed", zap.Error(err))
	}

	if cfg.Redis.Addr != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.closers = append(a.closers, a.rdb.Close)
	}

	// 7. Ядро
	a.orch = engine.NewOrchestrator(engine.Deps{
		Safety:    pipe,
		Directory: a.dir,
		Resolver:  intent.New(client, cfg.Engine.HistoryWindow, logger),
		Executor:  engine.NewExecutor(conn, cfg.Engine, metrics, logger),
		Composer:  composer.New(client, cfg.Safety.Domain, logger),
		Metrics:   metrics,
	}, cfg.Engine.HistoryWindow, logger)

	return a, nil
}

// listen запускает подписку на сигналы обновления каталога, если Redis настроен.
func (a *app) listen(ctx context.Context) (wait func()) {
	if a.rdb == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.dir.Listen(ctx, a.rdb, infra.RedisChanCatalogRefresh)
	}()
	return func() { <-done }
}

func (a *app) Close() {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown errors", zap.Error(err))
	}
	a.closers = nil
}

func connector(cfg *infra.Config, logger *zap.Logger) (connectors.Connector, error) {
	if cfg.Provider.Embedded {
		src := weather.NewClient(cfg.Weather.BaseURL, cfg.Weather.Timeout, logger)
		return registry.New(logger).MustRegister(tools.NewGetWeather(src), tools.NewGetForecast(src)), nil
	}
	adapter, err := connectors.Dial(cfg.Provider.Target, logger)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", cfg.Provider.Target, err)
	}
	return adapter, nil
}

func nluClient(cfg *infra.Config, logger *zap.Logger) nlu.Client {
	if cfg.NLU.Provider == "openai" {
		c, err := nlu.NewOpenAI(cfg.NLU, cfg.Safety.Domain, logger)
		if err == nil {
			return c
		}
		logger.Warn("openai collaborator unavailable, using heuristic", zap.Error(err))
	}
	return nlu.NewHeuristic()
}
