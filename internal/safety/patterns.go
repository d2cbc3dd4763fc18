package safety

import (
	"context"
	"fmt"
	"regexp"

	"github.com/xela07ax/a2a-guard/internal/domain"
)

var defaultJailbreakPatterns = []string{
	`(?i)\b(ignore|disregard|forget|skip)\s+(all\s+|any\s+|the\s+|your\s+)*(previous|prior|above|earlier|preceding|original|system)\s+(instructions?|prompts?|rules|messages|directions|guidelines)`,
	`(?i)\b(ignore|disregard|forget)\s+(all\s+|everything\s+)?(your|the)\s+(instructions?|rules|guidelines|programming)`,
	`(?i)\byou\s+are\s+now\b`,
	`(?i)\bpretend\s+(to\s+be|you\s+are)\b`,
	`(?i)\bact\s+as\s+(an?\s+)?(unrestricted|unfiltered|jailbroken|evil)\b`,
	`(?i)\bdo\s+anything\s+now\b`,
	`(?i)\b(developer|god|admin)\s+mode\b`,
	`(?i)\bjailbr(eak|oken)\b`,
	`(?i)\b(reveal|show|print|repeat|output)\s+(me\s+)?(your|the)\s+(system\s+)?(prompt|instructions)`,
	`(?i)\bsystem\s+prompt\b`,
	`(?i)\boverride\s+(your|the)\s+(rules|instructions|safety|guardrails)`,
	`(?im)^\s*(system|assistant)\s*:`,
	`(?i)</?\s*(system|assistant|instructions?)\s*>`,
}

var defaultOutputPatterns = []string{
	`goroutine \d+ \[`,
	`(?m)^panic: `,
	`\.go:\d+`,
	`\bsk-[A-Za-z0-9_-]{20,}`,
	`(?i)\bapi[_-]?key\s*[:=]`,
	`(?i)\bbearer\s+[A-Za-z0-9._-]{20,}`,
	`(?i)you route user requests to tools`,
	`(?i)\bsystem\s+prompt\b`,
}

// PatternCheck блокирует текст, если сработал хотя бы один regex.
type PatternCheck struct {
	name     string
	category domain.Category
	patterns []*regexp.Regexp
}

func NewPatternCheck(name string, category domain.Category, patterns []string) (*PatternCheck, error) {
	c := &PatternCheck{name: name, category: category}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("safety: bad pattern %q for %s: %w", p, name, err)
		}
		c.patterns = append(c.patterns, re)
	}
	return c, nil
}

// NewJailbreakCheck: встроенный набор плюс паттерны из конфига.
func NewJailbreakCheck(extra []string) (*PatternCheck, error) {
	return NewPatternCheck("jailbreak_patterns", domain.CategoryJailbreak, append(append([]string{}, defaultJailbreakPatterns...), extra...))
}

// NewOutputCheck фильтрует утечки внутренностей и секретов в ответе.
func NewOutputCheck() (*PatternCheck, error) {
	return NewPatternCheck("output_patterns", domain.CategoryUnsafeOutput, defaultOutputPatterns)
}

func (c *PatternCheck) Name() string              { return c.name }
func (c *PatternCheck) Category() domain.Category { return c.category }

func (c *PatternCheck) Evaluate(_ context.Context, text string) (Decision, error) {
	for i, re := range c.patterns {
		if re.MatchString(text) {
			// В аудит — номер правила, а не совпавший текст
			return block(fmt.Sprintf("matched %s rule #%d", c.name, i+1)), nil
		}
	}
	return allow("no pattern matched"), nil
}

// NonEmptyCheck: пустой ответ пользователю не отдаем.
type NonEmptyCheck struct{}

func (NonEmptyCheck) Name() string              { return "non_empty" }
func (NonEmptyCheck) Category() domain.Category { return domain.CategoryUnsafeOutput }

func (NonEmptyCheck) Evaluate(_ context.Context, text string) (Decision, error) {
	for _, r := range text {
		if r != ' ' && r != '\n' && r != '\t' && r != '\r' {
			return allow("non-empty"), nil
		}
	}
	return block("empty response"), nil
}
