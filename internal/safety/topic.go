package safety

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/xela07ax/a2a-guard/internal/domain"
	"github.com/xela07ax/a2a-guard/internal/nlu"
)

// Существительные домена. Одного такого слова достаточно для ALLOW.
var defaultTopicKeywords = []string{
	"weather", "forecast", "temperature", "temperatures", "degrees", "celsius", "fahrenheit",
	"rain", "raining", "snow", "snowing", "clouds", "wind", "winds",
	"humidity", "storm", "storms", "thunderstorm", "hail", "fog", "umbrella", "precipitation",
	"climate", "uv index", "heatwave", "frost",
}

// Прилагательные сами по себе ничего не значат ("it's cold in here"), только в вопросе о погоде.
const weatherAdjectives = `hot|cold|warm|chilly|freezing|sunny|cloudy|windy|rainy|snowy|foggy|humid|stormy|nice|clear`

var (
	metaRe     = regexp.MustCompile(`(?i)\b(what\s+can\s+you\s+do|what\s+do\s+you\s+do|who\s+are\s+you|what\s+are\s+your\s+(capabilities|tools))\b`)
	greetingRe = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|thanks|thank\s+you|good\s+(morning|afternoon|evening)|help)[\s!.,?]*$`)
	askRe      = regexp.MustCompile(`(?i)^\s*(is|was|will)\s+it\s+(going\s+to\s+be\s+|gonna\s+be\s+|be\s+)?(very\s+|too\s+)?(` + weatherAdjectives + `)\b` +
		`|^\s*how\s+(` + weatherAdjectives + `)\s+(is|was|will)\s+it\b`)
	// Продолжение: "what about <место или время>", не больше четырех слов
	followRe = regexp.MustCompile(`(?i)^\s*(?:and\s+)?(?:what|how)\s+about\s+(?:the\s+)?` +
		`(\p{L}[\p{L}.'-]*(?:[\s,]+\p{L}[\p{L}.'-]*){0,3})\s*[?.!]?\s*$`)
)

// Слова, которых не бывает в названии места: продолжение с ними на самом деле новая просьба.
var followStopWords = map[string]struct{}{
	"me": {}, "you": {}, "my": {}, "your": {}, "i": {}, "we": {}, "us": {}, "our": {},
	"it": {}, "this": {}, "that": {}, "them": {}, "a": {}, "an": {},
	"write": {}, "code": {}, "help": {}, "make": {}, "tell": {}, "give": {}, "show": {},
}

// TopicCheck: проверка рамок домена. Существительное из словаря сразу дает ALLOW.
// Остальное решает классификатор, а без него узкий набор шаблонов и затем BLOCK (default deny).
type TopicCheck struct {
	domain     string
	vocab      *regexp.Regexp
	classifier nlu.Client
}

func NewTopicCheck(domainName string, extra []string, classifier nlu.Client) (*TopicCheck, error) {
	words := append(append([]string{}, defaultTopicKeywords...), extra...)
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
	}
	vocab, err := regexp.Compile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
	if err != nil {
		return nil, fmt.Errorf("safety: topic vocabulary: %w", err)
	}
	return &TopicCheck{domain: domainName, vocab: vocab, classifier: classifier}, nil
}

func (c *TopicCheck) Name() string              { return "topic_scope" }
func (c *TopicCheck) Category() domain.Category { return domain.CategoryOffTopic }

func (c *TopicCheck) Evaluate(ctx context.Context, text string) (Decision, error) {
	if c.vocab.MatchString(text) {
		return allow("in-domain vocabulary"), nil
	}

	if c.classifier != nil {
		a, err := c.classifier.ClassifySafety(ctx, text, domain.CategoryOffTopic)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Verdict: a.Verdict, Detail: "classifier: " + a.Detail}, nil
	}

	switch {
	case askRe.MatchString(text):
		return allow("weather question"), nil
	case metaRe.MatchString(text), greetingRe.MatchString(text):
		return allow("capability question or greeting"), nil
	case isFollowUp(text):
		return allow("conversational follow-up"), nil
	}
	return block(fmt.Sprintf("outside %s domain", c.domain)), nil
}

func isFollowUp(text string) bool {
	m := followRe.FindStringSubmatch(text)
	if m == nil {
		return false
	}
	for _, w := range strings.FieldsFunc(strings.ToLower(m[1]), func(r rune) bool { return r == ' ' || r == ',' || r == '\t' }) {
		if _, stop := followStopWords[w]; stop || strings.HasSuffix(w, "ing") {
			return false
		}
	}
	return true
}
