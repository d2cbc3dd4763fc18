package composer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xela07ax/a2a-guard/internal/domain"
	"github.com/xela07ax/a2a-guard/internal/nlu"
	"go.uber.org/zap"
)

type scriptedNLU struct {
	prose   string
	err     error
	payload map[string]any
}

func (s *scriptedNLU) ClassifyIntent(context.Context, string, *domain.Catalog, []nlu.Exchange) (nlu.Intent, error) {
	return nlu.Intent{}, nil
}

func (s *scriptedNLU) RenderProse(_ context.Context, payload map[string]any, _ string) (string, error) {
	s.payload = payload
	return s.prose, s.err
}

func (s *scriptedNLU) ClassifySafety(context.Context, string, domain.Category) (nlu.Assessment, error) {
	return nlu.Assessment{}, errors.New("unused")
}

func TestComposeSuccess(t *testing.T) {
	s := &scriptedNLU{prose: "It's sunny in Boston."}
	c := New(s, "weather", zap.NewNop())

	out := c.Compose(context.Background(), Result{Outcome: domain.Success(map[string]any{"condition": "Sunny"})}, "weather in Boston?")
	assert.Equal(t, "It's sunny in Boston.", out)
	assert.Equal(t, "Sunny", s.payload["condition"])
}

func TestComposeSuccessWithoutCollaborator(t *testing.T) {
	c := New(&scriptedNLU{err: domain.ErrCollaboratorUnavailable}, "weather", zap.NewNop())

	out := c.Compose(context.Background(), Result{Outcome: domain.Success(map[string]any{
		"area_name": "Boston", "country": "USA", "condition": "Sunny",
		"temperature_f": "72", "temperature_c": "22", "feels_like_f": "70",
		"humidity": "40", "wind_speed_mph": "5",
	})}, "weather in Boston?")
	assert.Contains(t, out, "Boston, USA")
	assert.Contains(t, out, "72°F")
}

func TestComposeFailureIsDeterministic(t *testing.T) {
	// Коллаборатор не должен вызываться на пути отказа
	s := &scriptedNLU{err: errors.New("must not be called")}
	c := New(s, "weather", zap.NewNop())

	secret := "dial tcp 10.0.0.7:443: connection refused\ngoroutine 7 [running]"
	for _, kind := range []domain.ErrorKind{
		domain.KindInvalidArguments, domain.KindUpstreamUnavailable,
		domain.KindNotInitialized, domain.KindCollaboratorUnavailable,
	} {
		out := c.Compose(context.Background(), Result{Outcome: domain.Failure(kind, "%s", secret)}, "q")
		assert.Equal(t, c.FailureText(kind), out)
		assert.NotContains(t, out, "10.0.0.7")
		assert.NotContains(t, out, "goroutine")
	}
	assert.Nil(t, s.payload)
	assert.Contains(t, c.FailureText(domain.KindUpstreamUnavailable), "weather service is temporarily unavailable")
}

func TestComposeNoTool(t *testing.T) {
	cat := domain.NewCatalog([]domain.ToolDescriptor{{Name: "get_weather", Description: "Current conditions"}})

	s := &scriptedNLU{prose: "I can check the weather."}
	out := New(s, "weather", zap.NewNop()).Compose(context.Background(), Result{NoTool: true, Catalog: cat}, "what can you do?")
	assert.Equal(t, "I can check the weather.", out)
	assert.Len(t, s.payload["capabilities"], 1)

	out = New(&scriptedNLU{err: errors.New("down")}, "weather", zap.NewNop()).
		Compose(context.Background(), Result{NoTool: true, Catalog: cat}, "what can you do?")
	assert.Contains(t, out, "get_weather (Current conditions)")
}
