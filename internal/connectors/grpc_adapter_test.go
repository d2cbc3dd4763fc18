package connectors

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/xela07ax/a2a-guard/internal/domain"
	"github.com/xela07ax/a2a-guard/internal/transport/grpcapi"
)

type stubProvider struct {
	lastInv domain.ToolInvocation
	lastCtx context.Context
	outcome domain.ToolOutcome
	delay   time.Duration
}

func (p *stubProvider) ListTools(context.Context) (*domain.Catalog, error) {
	return domain.NewCatalog([]domain.ToolDescriptor{{
		Name:        "get_weather",
		Description: "weather",
		Parameters:  []domain.Parameter{{Name: "location", Type: domain.ParamString, Required: true}},
	}}), nil
}

func (p *stubProvider) Invoke(ctx context.Context, inv domain.ToolInvocation) domain.ToolOutcome {
	p.lastInv = inv
	p.lastCtx = ctx
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
		}
	}
	return p.outcome
}

func startProvider(t *testing.T, p grpcapi.Provider) (*GRPCAdapter, *grpc.Server) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(grpcapi.UnaryTraceInterceptor(zap.NewNop())))
	grpcapi.RegisterToolServiceServer(srv, grpcapi.NewServer(p, zap.NewNop()))
	go func() { _ = srv.Serve(lis) }()

	a, err := Dial("passthrough:///bufnet", zap.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
		srv.Stop()
	})
	return a, srv
}

func TestGRPCListTools(t *testing.T) {
	a, _ := startProvider(t, &stubProvider{})

	cat, err := a.ListTools(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, cat.Len())

	d, ok := cat.Lookup("get_weather")
	require.True(t, ok)
	require.Len(t, d.Parameters, 1)
	assert.Equal(t, domain.ParamString, d.Parameters[0].Type)
	assert.True(t, d.Parameters[0].Required)
}

func TestGRPCInvokeSuccessAndTrace(t *testing.T) {
	p := &stubProvider{outcome: domain.Success(map[string]any{"temperature_f": "54"})}
	a, _ := startProvider(t, p)

	ctx := grpcapi.WithOutgoingTrace(context.Background(), "turn-1")
	out := a.Invoke(ctx, domain.ToolInvocation{
		ID: "inv-1", ToolName: "get_weather", Arguments: map[string]any{"location": "Boston"},
	})

	require.True(t, out.OK)
	assert.Equal(t, "54", out.Payload["temperature_f"])
	assert.Equal(t, "inv-1", p.lastInv.ID)
	assert.Equal(t, "Boston", p.lastInv.Arguments["location"])
	assert.Equal(t, "turn-1", grpcapi.TraceID(p.lastCtx))
}

func TestGRPCInvokeFailureKeepsKind(t *testing.T) {
	p := &stubProvider{outcome: domain.ToolOutcome{
		Kind: domain.KindUpstreamUnavailable, Message: "503", RetryAfter: 1500 * time.Millisecond,
	}}
	a, _ := startProvider(t, p)

	out := a.Invoke(context.Background(), domain.ToolInvocation{ID: "x", ToolName: "get_weather"})
	assert.False(t, out.OK)
	assert.Equal(t, domain.KindUpstreamUnavailable, out.Kind)
	assert.Equal(t, 1500*time.Millisecond, out.RetryAfter)
}

func TestGRPCInvokeTimeout(t *testing.T) {
	p := &stubProvider{outcome: domain.Success(nil), delay: time.Second}
	a, _ := startProvider(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out := a.Invoke(ctx, domain.ToolInvocation{ID: "x", ToolName: "get_weather"})
	assert.Equal(t, domain.KindUpstreamUnavailable, out.Kind)
}

func TestGRPCProviderDown(t *testing.T) {
	a, srv := startProvider(t, &stubProvider{})
	srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	out := a.Invoke(ctx, domain.ToolInvocation{ID: "x", ToolName: "get_weather"})
	assert.Equal(t, domain.KindUpstreamUnavailable, out.Kind)

	_, err := a.ListTools(ctx)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

// Провайдер под нагрузкой отвечает ResourceExhausted с RetryInfo: подсказка доезжает до исхода.
func TestGRPCThrottleCarriesRetryInfo(t *testing.T) {
	throttle := func(context.Context, any, *grpc.UnaryServerInfo, grpc.UnaryHandler) (any, error) {
		st, err := status.New(codes.ResourceExhausted, "slow down").
			WithDetails(&errdetails.RetryInfo{RetryDelay: durationpb.New(2 * time.Second)})
		if err != nil {
			return nil, err
		}
		return nil, st.Err()
	}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(throttle))
	grpcapi.RegisterToolServiceServer(srv, grpcapi.NewServer(&stubProvider{}, zap.NewNop()))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	a, err := Dial("passthrough:///bufnet", zap.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	out := a.Invoke(context.Background(), domain.ToolInvocation{ID: "x", ToolName: "get_weather"})
	assert.Equal(t, domain.KindUpstreamUnavailable, out.Kind)
	assert.Equal(t, 2*time.Second, out.RetryAfter)
}

func TestRetryHintWithoutDetails(t *testing.T) {
	out := transportOutcome(context.Background(), status.Error(codes.ResourceExhausted, "busy"))
	assert.Equal(t, domain.KindUpstreamUnavailable, out.Kind)
	assert.Zero(t, out.RetryAfter)
}
