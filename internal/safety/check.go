// Package safety реализует цепочку проверок вокруг хода: PRE по сырому вводу и POST по
// собранному ответу. Проверки упорядочены, первая BLOCK побеждает, ошибка проверки — BLOCK.
package safety

import (
	"context"

	"github.com/xela07ax/a2a-guard/internal/domain"
)

// Decision: результат одной подпроверки.
type Decision struct {
	Verdict domain.Verdict
	Detail  string
}

func allow(detail string) Decision { return Decision{Verdict: domain.VerdictAllow, Detail: detail} }
func block(detail string) Decision { return Decision{Verdict: domain.VerdictBlock, Detail: detail} }

// Check: независимая подпроверка. Category — то, что попадет в аудит при BLOCK,
// в том числе при fail-closed по ошибке.
type Check interface {
	Name() string
	Category() domain.Category
	Evaluate(ctx context.Context, text string) (Decision, error)
}
