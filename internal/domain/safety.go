package domain

import "time"

type Stage string

const (
	StagePre  Stage = "PRE"
	StagePost Stage = "POST"
)

type Verdict string

const (
	VerdictAllow Verdict = "ALLOW"
	VerdictBlock Verdict = "BLOCK"
)

type Category string

const (
	CategoryNone         Category = "NONE"
	CategoryJailbreak    Category = "JAILBREAK"
	CategoryOffTopic     Category = "OFF_TOPIC"
	CategoryUnsafeOutput Category = "UNSAFE_OUTPUT"
)

// SafetyEvent: неизменяемая запись о решении одной стадии проверки.
// На каждый ход: ровно один PRE и, если PRE пропустил, ровно один POST.
type SafetyEvent struct {
	TurnID    string    `json:"turn_id"`
	SessionID string    `json:"session_id,omitempty"`
	Stage     Stage     `json:"stage"`
	Verdict   Verdict   `json:"verdict"`
	Category  Category  `json:"category"`
	Check     string    `json:"check,omitempty"` // какая подпроверка вынесла решение
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

func (e SafetyEvent) Blocked() bool {
	return e.Verdict == VerdictBlock
}
