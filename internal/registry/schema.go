package registry

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"github.com/xela07ax/a2a-guard/internal/domain"
)

// Validate проверяет аргументы по схеме дескриптора и возвращает приведенную копию.
// Параметры, которых нет в схеме, отбрасываются: инструмент видит только то, что объявил.
func Validate(d domain.ToolDescriptor, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(d.Parameters))

	for _, p := range d.Parameters {
		raw, present := args[p.Name]
		if !present || raw == nil {
			if p.Required {
				return nil, fmt.Errorf("%w: missing required parameter %q", domain.ErrInvalidArguments, p.Name)
			}
			continue
		}

		v, err := Coerce(p.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %q: %v", domain.ErrInvalidArguments, p.Name, err)
		}
		if s, ok := v.(string); ok && p.Required && strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%w: parameter %q is empty", domain.ErrInvalidArguments, p.Name)
		}
		out[p.Name] = v
	}
	return out, nil
}

// Undeclared возвращает имена аргументов, которых нет в схеме (отсортированы).
// Validate их отбрасывает; список нужен для диагностики лишних полей от модели.
func Undeclared(d domain.ToolDescriptor, args map[string]any) []string {
	var out []string
	for name := range args {
		if _, ok := d.Param(name); !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Coerce приводит значение к типу параметра. LLM охотно присылает "2" вместо 2 — это допустимо,
// а 2.5 для integer — нет.
func Coerce(t domain.ParamType, raw any) (any, error) {
	switch t {
	case domain.ParamString:
		switch raw.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		return cast.ToStringE(raw)
	case domain.ParamInteger:
		if f, ok := raw.(float64); ok && f != math.Trunc(f) {
			return nil, fmt.Errorf("expected integer, got %v", f)
		}
		if s, ok := raw.(string); ok {
			raw = strings.TrimSpace(s)
		}
		return cast.ToIntE(raw)
	case domain.ParamNumber:
		return cast.ToFloat64E(raw)
	case domain.ParamBoolean:
		return cast.ToBoolE(raw)
	default:
		return nil, fmt.Errorf("unsupported parameter type %q", t)
	}
}
