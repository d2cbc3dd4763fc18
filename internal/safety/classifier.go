package safety

import (
	"context"

	"github.com/xela07ax/a2a-guard/internal/domain"
	"github.com/xela07ax/a2a-guard/internal/nlu"
)

// ClassifierCheck отдает решение внешнему классификатору. Ошибка коллаборатора
// поднимается наверх, и пайплайн превращает ее в BLOCK.
type ClassifierCheck struct {
	name     string
	category domain.Category
	client   nlu.Client
}

func NewClassifierCheck(name string, category domain.Category, client nlu.Client) *ClassifierCheck {
	return &ClassifierCheck{name: name, category: category, client: client}
}

func (c *ClassifierCheck) Name() string              { return c.name }
func (c *ClassifierCheck) Category() domain.Category { return c.category }

func (c *ClassifierCheck) Evaluate(ctx context.Context, text string) (Decision, error) {
	a, err := c.client.ClassifySafety(ctx, text, c.category)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Verdict: a.Verdict, Detail: "classifier: " + a.Detail}, nil
}
