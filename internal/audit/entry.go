package audit

import "github.com/xela07ax/a2a-guard/internal/domain"

// Entry: сериализованное SafetyEvent плюс порядковый номер. После append не меняется.
type Entry struct {
	Seq uint64 `json:"seq"`
	domain.SafetyEvent
}
