package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/a2a-guard/internal/domain"
	"go.uber.org/zap"
)

var inv = domain.ToolInvocation{ID: "inv-1", ToolName: "get_weather", Arguments: map[string]any{"location": "Boston"}}

func TestExecutorRetryPolicy(t *testing.T) {
	cases := []struct {
		name      string
		invoke    func(context.Context, int) domain.ToolOutcome
		wantCalls int
		wantOK    bool
		wantKind  domain.ErrorKind
	}{
		{
			name:      "success",
			invoke:    succeed,
			wantCalls: 1,
			wantOK:    true,
		},
		{
			name: "invalid arguments never retried",
			invoke: func(context.Context, int) domain.ToolOutcome {
				return domain.Failure(domain.KindInvalidArguments, "location is required")
			},
			wantCalls: 1,
			wantKind:  domain.KindInvalidArguments,
		},
		{
			name: "upstream retried up to the bound",
			invoke: func(context.Context, int) domain.ToolOutcome {
				return domain.Failure(domain.KindUpstreamUnavailable, "503")
			},
			wantCalls: 3,
			wantKind:  domain.KindUpstreamUnavailable,
		},
		{
			name: "transient failure then success",
			invoke: func(_ context.Context, call int) domain.ToolOutcome {
				if call == 1 {
					return domain.Failure(domain.KindUpstreamUnavailable, "503")
				}
				return domain.Success(bostonPayload())
			},
			wantCalls: 2,
			wantOK:    true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := &fakeConnector{invoke: tc.invoke}
			cfg := testEngineConfig()
			cfg.MaxAttempts = 3
			e := NewExecutor(conn, cfg, nil, zap.NewNop())

			out := e.Execute(context.Background(), inv)
			assert.Equal(t, tc.wantOK, out.OK)
			assert.Equal(t, tc.wantKind, out.Kind)

			calls := conn.Calls()
			require.Len(t, calls, tc.wantCalls)
			for _, c := range calls {
				assert.Equal(t, inv.ID, c.ID) // тот же invocation id на всех попытках
			}
		})
	}
}

func TestExecutorPerAttemptTimeout(t *testing.T) {
	conn := &fakeConnector{invoke: func(ctx context.Context, _ int) domain.ToolOutcome {
		<-ctx.Done()
		return domain.Failure(domain.KindUpstreamUnavailable, "context done")
	}}
	cfg := testEngineConfig()
	cfg.CallTimeout = 20 * time.Millisecond
	e := NewExecutor(conn, cfg, nil, zap.NewNop())

	start := time.Now()
	out := e.Execute(context.Background(), inv)
	assert.Equal(t, domain.KindUpstreamUnavailable, out.Kind)
	assert.Contains(t, out.Message, "timed out")
	assert.Len(t, conn.Calls(), 2)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecutorHonorsRetryAfter(t *testing.T) {
	conn := &fakeConnector{invoke: func(_ context.Context, call int) domain.ToolOutcome {
		if call == 1 {
			out := domain.Failure(domain.KindUpstreamUnavailable, "429")
			out.RetryAfter = 50 * time.Millisecond
			return out
		}
		return domain.Success(bostonPayload())
	}}
	e := NewExecutor(conn, testEngineConfig(), nil, zap.NewNop())

	start := time.Now()
	out := e.Execute(context.Background(), inv)
	require.True(t, out.OK)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestExecutorCircuitBreaker(t *testing.T) {
	conn := &fakeConnector{invoke: func(context.Context, int) domain.ToolOutcome {
		return domain.Failure(domain.KindUpstreamUnavailable, "down")
	}}
	cfg := testEngineConfig()
	cfg.MaxAttempts = 1
	cfg.CBTripAfter = 2
	e := NewExecutor(conn, cfg, nil, zap.NewNop())

	for i := 0; i < 2; i++ {
		e.Execute(context.Background(), inv)
	}
	out := e.Execute(context.Background(), inv)
	assert.Equal(t, domain.KindUpstreamUnavailable, out.Kind)
	assert.Contains(t, out.Message, "circuit")
	assert.Len(t, conn.Calls(), 2)
}

func TestExecutorInvalidArgumentsDoNotTripBreaker(t *testing.T) {
	conn := &fakeConnector{invoke: func(context.Context, int) domain.ToolOutcome {
		return domain.Failure(domain.KindInvalidArguments, "bad")
	}}
	cfg := testEngineConfig()
	cfg.CBTripAfter = 1
	e := NewExecutor(conn, cfg, nil, zap.NewNop())

	for i := 0; i < 3; i++ {
		assert.Equal(t, domain.KindInvalidArguments, e.Execute(context.Background(), inv).Kind)
	}
	assert.Len(t, conn.Calls(), 3)
}

func TestExecutorCancelledContext(t *testing.T) {
	conn := &fakeConnector{invoke: succeed}
	e := NewExecutor(conn, testEngineConfig(), nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := e.Execute(ctx, inv)
	assert.False(t, out.OK)
	assert.Equal(t, domain.KindUpstreamUnavailable, out.Kind)
}

func TestStateTransitions(t *testing.T) {
	tc := newTurnContext("t", "s", time.Now())
	require.NoError(t, tc.advance(StatePreChecked))
	// Перескочить делегирование нельзя
	assert.Error(t, tc.advance(StatePostChecked))
	assert.Error(t, tc.advance(StateDelivered))
	require.NoError(t, tc.advance(StateDelegated))
	require.NoError(t, tc.advance(StatePostChecked))
	require.NoError(t, tc.advance(StateDelivered))
	assert.True(t, tc.State.Terminal())
	assert.Error(t, tc.advance(StateBlocked))

	assert.Equal(t, []TurnState{StateReceived, StatePreChecked, StateDelegated, StatePostChecked, StateDelivered}, tc.Trail)

	blocked := newTurnContext("t2", "s", time.Now())
	require.NoError(t, blocked.advance(StateBlocked))
	assert.Error(t, blocked.advance(StatePreChecked))
	assert.False(t, canTransition(StateReceived, StateDelegated))
}
