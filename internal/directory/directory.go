// Package directory: кэш каталога возможностей на стороне оркестратора.
//
// Каталог никогда не меняется на месте: Refresh строит новый и подменяет указатель
// атомарно, поэтому читатель видит либо старый каталог целиком, либо новый целиком.
package directory

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/xela07ax/a2a-guard/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Source: всё, что умеет отдать каталог: gRPC-адаптер или локальный реестр.
type Source interface {
	ListTools(ctx context.Context) (*domain.Catalog, error)
}

type Policy string

const (
	PerTurn    Policy = "per-turn"
	PerSession Policy = "per-session"
	Manual     Policy = "manual"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PerTurn, PerSession, Manual:
		return p, nil
	}
	return "", fmt.Errorf("directory: unknown catalog policy %q", s)
}

type Option func(*Directory)

// WithRefreshHook вызывается один раз на каждый фактический запрос каталога (метрики).
func WithRefreshHook(fn func(cat *domain.Catalog, err error)) Option {
	return func(d *Directory) { d.onRefresh = fn }
}

// WithRefreshTimeout ограничивает один запрос каталога.
func WithRefreshTimeout(d time.Duration) Option {
	return func(dir *Directory) {
		if d > 0 {
			dir.refreshTimeout = d
		}
	}
}

const defaultRefreshTimeout = 10 * time.Second

type Directory struct {
	src     Source
	policy  Policy
	cur     atomic.Pointer[domain.Catalog]
	version atomic.Uint64
	group   singleflight.Group

	refreshTimeout time.Duration
	onRefresh      func(*domain.Catalog, error)
	logger         *zap.Logger
}

func New(src Source, policy Policy, logger *zap.Logger, opts ...Option) *Directory {
	d := &Directory{
		src:            src,
		policy:         policy,
		refreshTimeout: defaultRefreshTimeout,
		logger:         logger.Named("directory"),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Directory) Policy() Policy { return d.policy }

// Refresh запрашивает каталог у провайдера и подменяет кэш.
// Параллельные вызовы схлопываются в один запрос. При ошибке кэш не трогаем.
// Общий запрос не зависит от отмены контекста первого вызывающего: каждый ждущий
// уходит по своему ctx, а запрос живет до refreshTimeout.
func (d *Directory) Refresh(ctx context.Context) (*domain.Catalog, error) {
	ch := d.group.DoChan("refresh", func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.refreshTimeout)
		defer cancel()

		cat, err := d.src.ListTools(fctx)
		if err == nil && cat == nil {
			err = fmt.Errorf("%w: provider returned no catalog", domain.ErrUpstreamUnavailable)
		}
		if d.onRefresh != nil {
			d.onRefresh(cat, err)
		}
		if err != nil {
			d.logger.Warn("catalog refresh failed", zap.Error(err))
			return nil, fmt.Errorf("catalog refresh: %w", err)
		}
		d.cur.Store(cat)
		ver := d.version.Add(1)
		d.logger.Info("catalog refreshed", zap.Uint64("version", ver), zap.Strings("tools", cat.Names()))
		return cat, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*domain.Catalog), nil
	}
}

// Current: последний успешно полученный каталог.
func (d *Directory) Current() (*domain.Catalog, error) {
	cat := d.cur.Load()
	if cat == nil {
		return nil, fmt.Errorf("catalog: %w: refresh was never called", domain.ErrNotInitialized)
	}
	return cat, nil
}

// Version растет на каждый успешный Refresh.
func (d *Directory) Version() uint64 { return d.version.Load() }

// ForTurn отдает каталог для хода с учетом политики кэширования.
// firstTurn: сессия еще не получала каталог (для per-session).
func (d *Directory) ForTurn(ctx context.Context, firstTurn bool) (*domain.Catalog, error) {
	refresh := false
	switch d.policy {
	case PerTurn:
		refresh = true
	case PerSession:
		refresh = firstTurn || d.cur.Load() == nil
	}
	if !refresh {
		return d.Current()
	}

	cat, err := d.Refresh(ctx)
	if err == nil {
		return cat, nil
	}
	// Провайдер моргнул, но каталог у нас уже был: работаем на нем
	// Отмена своего хода не повод подсовывать ему устаревший каталог
	if stale := d.cur.Load(); stale != nil && ctx.Err() == nil {
		d.logger.Warn("using cached catalog", zap.Uint64("version", d.version.Load()))
		return stale, nil
	}
	return nil, err
}
