package nlu

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"github.com/xela07ax/a2a-guard/internal/domain"
)

var (
	weatherRe  = regexp.MustCompile(`(?i)\b(weather|temperature|temp|forecast|rain|raining|snow|snowing|sunny|cloudy|wind|windy|humid|humidity|hot|cold|warm)\b`)
	forecastRe = regexp.MustCompile(`(?i)\b(forecast|tomorrow|next\s+\d+\s+days?|this\s+week|weekend|(\d)\s+days?)\b`)
	daysRe     = regexp.MustCompile(`(?i)\b(\d)\s+days?\b`)
	locationRe = regexp.MustCompile(`(?i)\b(?:in|for|at)\s+([\p{L}][\p{L}\s.,'-]*)`)
	followUpRe = regexp.MustCompile(`(?i)^\s*(?:and\s+)?(?:what|how)\s+about\s+([\p{L}][\p{L}\s.,'-]*)`)
	stopTailRe = regexp.MustCompile(`(?i)\s+(?:today|tomorrow|tonight|now|right now|please|this\s+\w+|for\s+the\s+next|next|over\s+the|the\s+next)\b.*$`)
	// "for tomorrow in Paris": время перед местом срезаем вместе с предлогом
	leadTimeRe = regexp.MustCompile(`(?i)^(?:(?:today|tomorrow|tonight|now|this\s+week(?:end)?|the\s+weekend|weekend|(?:the\s+)?next(?:\s+few)?|days?)\b[\s,]*)+(?:(?:in|for|at)\b\s*)?`)
)

// Heuristic: детерминированный NLU без сети: regex-разбор намерения и шаблонная проза.
// Нужен для запуска без ключа LLM и для тестов.
type Heuristic struct{}

func NewHeuristic() *Heuristic { return &Heuristic{} }

func (h *Heuristic) ClassifyIntent(_ context.Context, text string, catalog *domain.Catalog, history []Exchange) (Intent, error) {
	location, followUp := extractLocation(text)

	if !weatherRe.MatchString(text) && !(followUp && len(history) > 0) {
		return Intent{}, nil
	}
	// "а какая там погода?" — берем последнюю названную локацию из истории
	for i := len(history) - 1; location == "" && i >= 0; i-- {
		location, _ = extractLocation(history[i].User)
	}
	if location == "" {
		return Intent{}, nil
	}

	tool := "get_weather"
	args := map[string]any{"location": location}
	if forecastRe.MatchString(text) {
		if _, ok := catalog.Lookup("get_forecast"); ok {
			tool = "get_forecast"
			if m := daysRe.FindStringSubmatch(text); m != nil {
				n, _ := strconv.Atoi(m[1])
				args["days"] = n
			} else if strings.Contains(strings.ToLower(text), "tomorrow") {
				args["days"] = 2
			}
		}
	}
	return Intent{ToolName: tool, Arguments: args}, nil
}

func extractLocation(text string) (string, bool) {
	if m := followUpRe.FindStringSubmatch(text); m != nil {
		return cleanLocation(m[1]), true
	}
	// Первый предлог может вести ко времени, а не к месту: берем первого непустого кандидата
	for _, m := range locationRe.FindAllStringSubmatch(text, -1) {
		if loc := cleanLocation(m[1]); loc != "" {
			return loc, false
		}
	}
	return "", false
}

func cleanLocation(s string) string {
	s = leadTimeRe.ReplaceAllString(strings.TrimSpace(s), "")
	s = stopTailRe.ReplaceAllString(s, "")
	return strings.Trim(strings.TrimSpace(s), " ,.?!'")
}

func (h *Heuristic) RenderProse(_ context.Context, payload map[string]any, _ string) (string, error) {
	switch {
	case payload["capabilities"] != nil:
		return renderCapabilities(payload), nil
	case payload["days"] != nil:
		return renderForecast(payload), nil
	case payload["condition"] != nil:
		return renderObservation(payload), nil
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", strings.ReplaceAll(k, "_", " "), payload[k]))
	}
	return strings.Join(parts, "; ") + ".", nil
}

// ClassifySafety у эвристики нет модели: мнения нет, решают pattern-проверки.
func (h *Heuristic) ClassifySafety(context.Context, string, domain.Category) (Assessment, error) {
	return Assessment{Verdict: domain.VerdictAllow, Detail: "no model-based signal"}, nil
}

func place(p map[string]any) string {
	area, country := cast.ToString(p["area_name"]), cast.ToString(p["country"])
	if area == "" {
		area = cast.ToString(p["location"])
	}
	if country == "" || country == "Unknown" {
		return area
	}
	return area + ", " + country
}

func renderObservation(p map[string]any) string {
	return fmt.Sprintf("Right now in %s it's %s, %s°F (%s°C), feeling like %s°F. Humidity is %s%% with wind at %s mph.",
		place(p),
		strings.ToLower(cast.ToString(p["condition"])),
		cast.ToString(p["temperature_f"]), cast.ToString(p["temperature_c"]),
		cast.ToString(p["feels_like_f"]),
		cast.ToString(p["humidity"]), cast.ToString(p["wind_speed_mph"]),
	)
}

func renderForecast(p map[string]any) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Forecast for %s:", place(p))
	for _, d := range cast.ToSlice(p["days"]) {
		day := cast.ToStringMap(d)
		fmt.Fprintf(&sb, " %s: %s, high %s°F / low %s°F.",
			cast.ToString(day["date"]), strings.ToLower(cast.ToString(day["summary"])),
			cast.ToString(day["max_temp_f"]), cast.ToString(day["min_temp_f"]))
	}
	return sb.String()
}

func renderCapabilities(p map[string]any) string {
	var lines []string
	for _, c := range cast.ToSlice(p["capabilities"]) {
		m := cast.ToStringMap(c)
		lines = append(lines, fmt.Sprintf("%s (%s)", cast.ToString(m["name"]), cast.ToString(m["description"])))
	}
	if len(lines) == 0 {
		return "I can't reach any tools right now, please try again later."
	}
	return "I can help with: " + strings.Join(lines, "; ") + ". Try asking \"what's the weather in Boston?\""
}
