package directory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/a2a-guard/internal/domain"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func catalogOf(prefix string, n int) *domain.Catalog {
	tools := make([]domain.ToolDescriptor, n)
	for i := range tools {
		tools[i] = domain.ToolDescriptor{Name: prefix + "_" + string(rune('a'+i)), Description: prefix}
	}
	return domain.NewCatalog(tools)
}

type fakeSource struct {
	calls atomic.Int64
	fn    func(call int64) (*domain.Catalog, error)
}

func (f *fakeSource) ListTools(context.Context) (*domain.Catalog, error) {
	return f.fn(f.calls.Add(1))
}

func TestCurrentBeforeRefresh(t *testing.T) {
	d := New(&fakeSource{}, Manual, zap.NewNop())
	_, err := d.Current()
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestRefreshFailureKeepsCatalog(t *testing.T) {
	src := &fakeSource{fn: func(call int64) (*domain.Catalog, error) {
		if call == 1 {
			return catalogOf("old", 2), nil
		}
		return nil, domain.ErrUpstreamUnavailable
	}}
	var hooks int
	d := New(src, PerTurn, zap.NewNop(), WithRefreshHook(func(*domain.Catalog, error) { hooks++ }))

	_, err := d.Refresh(context.Background())
	require.NoError(t, err)

	_, err = d.Refresh(context.Background())
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	cur, err := d.Current()
	require.NoError(t, err)
	assert.Equal(t, 2, cur.Len())
	assert.Equal(t, uint64(1), d.Version())
	assert.Equal(t, 2, hooks)

	// per-turn: сбой обновления не роняет ход, если каталог уже есть
	cat, err := d.ForTurn(context.Background(), false)
	require.NoError(t, err)
	assert.Same(t, cur, cat)
}

func TestForTurnPolicies(t *testing.T) {
	newSrc := func() *fakeSource {
		return &fakeSource{fn: func(int64) (*domain.Catalog, error) { return catalogOf("t", 1), nil }}
	}
	ctx := context.Background()

	t.Run("per-turn", func(t *testing.T) {
		src := newSrc()
		d := New(src, PerTurn, zap.NewNop())
		for i := 0; i < 3; i++ {
			_, err := d.ForTurn(ctx, i == 0)
			require.NoError(t, err)
		}
		assert.Equal(t, int64(3), src.calls.Load())
	})

	t.Run("per-session", func(t *testing.T) {
		src := newSrc()
		d := New(src, PerSession, zap.NewNop())
		for _, first := range []bool{true, false, false, true, false} {
			_, err := d.ForTurn(ctx, first)
			require.NoError(t, err)
		}
		assert.Equal(t, int64(2), src.calls.Load())
	})

	t.Run("manual", func(t *testing.T) {
		src := newSrc()
		d := New(src, Manual, zap.NewNop())
		_, err := d.ForTurn(ctx, true)
		assert.ErrorIs(t, err, domain.ErrNotInitialized)

		_, err = d.Refresh(ctx)
		require.NoError(t, err)
		_, err = d.ForTurn(ctx, true)
		require.NoError(t, err)
		assert.Equal(t, int64(1), src.calls.Load())
	})
}

// Читатели во время обновлений видят каталог целиком: либо старый, либо новый.
func TestConcurrentRefreshIsAtomic(t *testing.T) {
	src := &fakeSource{fn: func(call int64) (*domain.Catalog, error) {
		if call%2 == 0 {
			return catalogOf("even", 3), nil
		}
		return catalogOf("odd", 5), nil
	}}
	d := New(src, Manual, zap.NewNop())
	_, err := d.Refresh(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for i := 0; i < 3 || ctx.Err() == nil; i++ {
			_, _ = d.Refresh(context.Background())
		}
	}()

	var (
		wg    sync.WaitGroup
		mixed atomic.Int64
	)
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				cat, err := d.Current()
				if err != nil {
					mixed.Add(1)
					continue
				}
				names := cat.Names()
				prefix, _, _ := strings.Cut(names[0], "_")
				want := map[string]int{"even": 3, "odd": 5}[prefix]
				if len(names) != want {
					mixed.Add(1)
				}
				for _, n := range names {
					if !strings.HasPrefix(n, prefix+"_") {
						mixed.Add(1)
					}
				}
			}
		}()
	}

	wg.Wait()
	cancel()
	<-writerDone

	assert.GreaterOrEqual(t, d.Version(), uint64(4))
	assert.Zero(t, mixed.Load())
}

// gatedSource держит запрос до открытия gate и уважает ctx запроса.
type gatedSource struct {
	calls   atomic.Int64
	started chan struct{}
	gate    chan struct{}
}

func (g *gatedSource) ListTools(ctx context.Context) (*domain.Catalog, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.gate:
		return catalogOf("t", 1), nil
	}
}

// Отмена хода, начавшего обновление, не обрывает общий запрос.
func TestRefreshDetachedFromCallerCancel(t *testing.T) {
	src := &gatedSource{started: make(chan struct{}), gate: make(chan struct{})}
	var hooks atomic.Int64
	d := New(src, PerSession, zap.NewNop(), WithRefreshHook(func(*domain.Catalog, error) { hooks.Add(1) }))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := d.Refresh(ctx)
		errc <- err
	}()

	<-src.started
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(src.gate)
	// Запрос доживает сам: следующий вызов либо присоединится к нему, либо увидит его результат
	cat, err := d.ForTurn(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, cat.Len())
	assert.Eventually(t, func() bool { return hooks.Load() == src.calls.Load() }, time.Second, time.Millisecond)
}

func TestRefreshTimeout(t *testing.T) {
	src := &gatedSource{started: make(chan struct{}), gate: make(chan struct{})}
	d := New(src, PerTurn, zap.NewNop(), WithRefreshTimeout(10*time.Millisecond))

	_, err := d.Refresh(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uint64(0), d.Version())
}

// Хук метрик срабатывает на запрос к провайдеру, а не на каждого ждущего.
func TestRefreshHookOncePerFetch(t *testing.T) {
	src := &gatedSource{started: make(chan struct{}), gate: make(chan struct{})}
	var hooks atomic.Int64
	d := New(src, Manual, zap.NewNop(), WithRefreshHook(func(*domain.Catalog, error) { hooks.Add(1) }))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.Refresh(context.Background())
		}()
	}
	<-src.started
	close(src.gate)
	wg.Wait()

	assert.Equal(t, src.calls.Load(), hooks.Load())
}

func TestHandleSignal(t *testing.T) {
	src := &fakeSource{fn: func(int64) (*domain.Catalog, error) { return catalogOf("t", 1), nil }}
	d := New(src, Manual, zap.NewNop())

	assert.True(t, d.handleSignal(context.Background(), "refresh"))
	assert.True(t, d.handleSignal(context.Background(), "refresh:provider-1"))
	assert.False(t, d.handleSignal(context.Background(), "agent:true"))
	assert.Equal(t, uint64(2), d.Version())

	failing := New(&fakeSource{fn: func(int64) (*domain.Catalog, error) { return nil, errors.New("boom") }}, Manual, zap.NewNop())
	assert.False(t, failing.handleSignal(context.Background(), "refresh"))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("per-session")
	require.NoError(t, err)
	assert.Equal(t, PerSession, p)

	_, err = ParsePolicy("hourly")
	assert.Error(t, err)
}
