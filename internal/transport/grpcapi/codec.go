package grpcapi

import (
	"fmt"
	"time"

	"github.com/xela07ax/a2a-guard/internal/domain"
	"google.golang.org/protobuf/types/known/structpb"
)

// Протокол между агентами — google.protobuf.Struct в обе стороны.
// Схема сообщений фиксирована функциями ниже; генерация кода не нужна.

func EncodeCatalog(c *domain.Catalog) (*structpb.Struct, error) {
	tools := make([]any, 0, c.Len())
	for _, t := range c.Tools {
		params := make([]any, 0, len(t.Parameters))
		for _, p := range t.Parameters {
			params = append(params, map[string]any{
				"name":        p.Name,
				"type":        string(p.Type),
				"required":    p.Required,
				"description": p.Description,
			})
		}
		tools = append(tools, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"parameters":  params,
		})
	}
	return structpb.NewStruct(map[string]any{"tools": tools})
}

func DecodeCatalog(s *structpb.Struct) (*domain.Catalog, error) {
	raw, ok := s.AsMap()["tools"].([]any)
	if !ok {
		return nil, fmt.Errorf("catalog: missing tools list")
	}

	descs := make([]domain.ToolDescriptor, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("catalog: malformed tool entry")
		}
		d := domain.ToolDescriptor{
			Name:        str(m["name"]),
			Description: str(m["description"]),
		}
		if d.Name == "" {
			return nil, fmt.Errorf("catalog: tool without name")
		}
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate tool %q", d.Name)
		}
		seen[d.Name] = struct{}{}

		params, _ := m["parameters"].([]any)
		for _, rp := range params {
			pm, ok := rp.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("catalog: malformed parameter of %q", d.Name)
			}
			req, _ := pm["required"].(bool)
			d.Parameters = append(d.Parameters, domain.Parameter{
				Name:        str(pm["name"]),
				Type:        domain.ParamType(str(pm["type"])),
				Required:    req,
				Description: str(pm["description"]),
			})
		}
		descs = append(descs, d)
	}
	return domain.NewCatalog(descs), nil
}

func EncodeInvocation(inv domain.ToolInvocation) (*structpb.Struct, error) {
	args := inv.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return structpb.NewStruct(map[string]any{
		"invocation_id": inv.ID,
		"tool_name":     inv.ToolName,
		"arguments":     args,
	})
}

func DecodeInvocation(s *structpb.Struct) (domain.ToolInvocation, error) {
	m := s.AsMap()
	inv := domain.ToolInvocation{
		ID:       str(m["invocation_id"]),
		ToolName: str(m["tool_name"]),
	}
	if inv.ToolName == "" {
		return inv, fmt.Errorf("invocation: missing tool_name")
	}
	args, _ := m["arguments"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}
	inv.Arguments = args
	return inv, nil
}

func EncodeOutcome(o domain.ToolOutcome) (*structpb.Struct, error) {
	m := map[string]any{"ok": o.OK}
	if o.OK {
		payload := o.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		m["payload"] = payload
	} else {
		m["kind"] = string(o.Kind)
		m["message"] = o.Message
		if o.RetryAfter > 0 {
			m["retry_after_ms"] = float64(o.RetryAfter.Milliseconds())
		}
	}
	return structpb.NewStruct(m)
}

func DecodeOutcome(s *structpb.Struct) domain.ToolOutcome {
	m := s.AsMap()
	if ok, _ := m["ok"].(bool); ok {
		payload, _ := m["payload"].(map[string]any)
		return domain.Success(payload)
	}

	kind := domain.ErrorKind(str(m["kind"]))
	switch kind {
	case domain.KindInvalidArguments, domain.KindUpstreamUnavailable, domain.KindNotInitialized, domain.KindCollaboratorUnavailable:
	default:
		// Неизвестный вид от удаленной стороны не доверяем — считаем транзиентным отказом
		kind = domain.KindUpstreamUnavailable
	}
	out := domain.Failure(kind, "%s", str(m["message"]))
	if ms, ok := m["retry_after_ms"].(float64); ok && ms > 0 {
		out.RetryAfter = time.Duration(ms) * time.Millisecond
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
