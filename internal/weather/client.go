package weather

/*
Клиент внешнего источника погоды (wttr.in, формат j1).

Клиент делает ровно один HTTP-запрос на вызов и не ретраит:
политика повторов живет в исполнителе делегирования на стороне оркестратора.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound: источник не знает такой локации. Это ошибка аргументов, а не сети.
var ErrNotFound = errors.New("weather: location not found")

// ThrottleError: источник попросил подождать (429 + Retry-After).
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// UpstreamError: сетевой сбой или 5xx.
type UpstreamError struct {
	StatusCode int
	Cause      error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("weather upstream returned %d", e.StatusCode)
	}
	return fmt.Sprintf("weather upstream unreachable: %v", e.Cause)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("weather"),
	}
}

// FetchObservation возвращает текущее наблюдение для локации.
func (c *Client) FetchObservation(ctx context.Context, location string) (Observation, error) {
	rep, err := c.fetch(ctx, location)
	if err != nil {
		return Observation{}, err
	}
	return rep.observation(location), nil
}

// FetchForecast возвращает прогноз на days дней (источник отдает максимум 3).
func (c *Client) FetchForecast(ctx context.Context, location string, days int) (Forecast, error) {
	rep, err := c.fetch(ctx, location)
	if err != nil {
		return Forecast{}, err
	}
	return rep.forecast(location, days), nil
}

func (c *Client) fetch(ctx context.Context, location string) (*report, error) {
	endpoint := c.baseURL + "/" + cleanLocation(location) + "?format=j1"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("weather: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UpstreamError{Cause: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("upstream call",
		zap.String("location", location),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &ThrottleError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Cause:      &UpstreamError{StatusCode: resp.StatusCode},
		}
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
	case resp.StatusCode >= 400:
		return nil, &UpstreamError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &UpstreamError{Cause: err}
	}

	var rep report
	if err := json.Unmarshal(body, &rep); err != nil {
		return nil, &UpstreamError{Cause: fmt.Errorf("decode j1 payload: %w", err)}
	}
	if len(rep.CurrentCondition) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	return &rep, nil
}

// cleanLocation: "Mason, Ohio" -> "Mason,+Ohio"
func cleanLocation(location string) string {
	parts := strings.Fields(location)
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "+")
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// RetryAfterHint позволяет реестру пробросить подсказку в исход без импорта этого пакета.
func (e *ThrottleError) RetryAfterHint() time.Duration { return e.RetryAfter }
