package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xela07ax/a2a-guard/internal/domain"
	"github.com/xela07ax/a2a-guard/internal/weather"
)

const (
	NameGetWeather  = "get_weather"
	NameGetForecast = "get_forecast"

	maxForecastDays = 3
)

// Source: внешний источник данных. Реализуется weather.Client.
type Source interface {
	FetchObservation(ctx context.Context, location string) (weather.Observation, error)
	FetchForecast(ctx context.Context, location string, days int) (weather.Forecast, error)
}

// GetWeather: текущая погода в локации.
type GetWeather struct {
	src Source
}

func NewGetWeather(src Source) *GetWeather {
	return &GetWeather{src: src}
}

func (t *GetWeather) Descriptor() domain.ToolDescriptor {
	return domain.ToolDescriptor{
		Name: NameGetWeather,
		Description: "Get current weather conditions (temperature, conditions, humidity, wind) " +
			"for a city or location worldwide.",
		Parameters: []domain.Parameter{
			{Name: "location", Type: domain.ParamString, Required: true, Description: "City name or location, e.g. 'Mason, Ohio'"},
		},
	}
}

func (t *GetWeather) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	location := strings.TrimSpace(args["location"].(string))
	obs, err := t.src.FetchObservation(ctx, location)
	if err != nil {
		return nil, mapSourceError(err)
	}
	return obs.Map(), nil
}

// GetForecast: прогноз на 1..3 дня.
type GetForecast struct {
	src Source
}

func NewGetForecast(src Source) *GetForecast {
	return &GetForecast{src: src}
}

func (t *GetForecast) Descriptor() domain.ToolDescriptor {
	return domain.ToolDescriptor{
		Name:        NameGetForecast,
		Description: "Get the daily weather forecast (high/low temperature and summary) for up to 3 days.",
		Parameters: []domain.Parameter{
			{Name: "location", Type: domain.ParamString, Required: true, Description: "City name or location"},
			{Name: "days", Type: domain.ParamInteger, Required: false, Description: "Number of days, 1 to 3 (default 3)"},
		},
	}
}

func (t *GetForecast) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	location := strings.TrimSpace(args["location"].(string))

	days := maxForecastDays
	if v, ok := args["days"].(int); ok {
		days = v
	}
	if days < 1 || days > maxForecastDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", domain.ErrInvalidArguments, maxForecastDays)
	}

	f, err := t.src.FetchForecast(ctx, location, days)
	if err != nil {
		return nil, mapSourceError(err)
	}
	return f.Map(), nil
}

// mapSourceError: "локация не найдена" — это кривой аргумент, всё остальное — апстрим.
func mapSourceError(err error) error {
	if errors.Is(err, weather.ErrNotFound) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArguments, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
}
