package engine

import (
	"fmt"
	"time"

	"github.com/xela07ax/a2a-guard/internal/domain"
)

// TurnState: состояние хода в конечном автомате безопасности.
type TurnState string

const (
	StateReceived    TurnState = "RECEIVED"
	StatePreChecked  TurnState = "PRE_CHECKED"
	StateDelegated   TurnState = "DELEGATED"
	StatePostChecked TurnState = "POST_CHECKED"
	StateDelivered   TurnState = "DELIVERED"
	StateBlocked     TurnState = "BLOCKED"
)

// Ни один переход не перескакивает проверку: в DELEGATED только через PRE_CHECKED,
// в DELIVERED только через POST_CHECKED.
var transitions = map[TurnState][]TurnState{
	StateReceived:    {StatePreChecked, StateBlocked},
	StatePreChecked:  {StateDelegated},
	StateDelegated:   {StatePostChecked},
	StatePostChecked: {StateDelivered, StateBlocked},
}

func (s TurnState) Terminal() bool {
	return s == StateDelivered || s == StateBlocked
}

func canTransition(from, to TurnState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TurnContext живет ровно один ход и принадлежит оркестратору этого хода.
type TurnContext struct {
	ID        string
	SessionID string
	State     TurnState
	Trail     []TurnState

	Catalog    *domain.Catalog
	Invocation *domain.ToolInvocation
	Delegated  bool // был ли реальный вызов инструмента
	Events     []domain.SafetyEvent
	Started    time.Time
}

func newTurnContext(id, sessionID string, now time.Time) *TurnContext {
	return &TurnContext{
		ID:        id,
		SessionID: sessionID,
		State:     StateReceived,
		Trail:     []TurnState{StateReceived},
		Started:   now,
	}
}

func (tc *TurnContext) advance(to TurnState) error {
	if !canTransition(tc.State, to) {
		return fmt.Errorf("turn %s: illegal transition %s -> %s", tc.ID, tc.State, to)
	}
	tc.State = to
	tc.Trail = append(tc.Trail, to)
	return nil
}
