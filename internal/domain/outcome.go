package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind: таксономия отказов. SafetyBlocked сюда не входит: это вердикт, а не ошибка.
type ErrorKind string

const (
	KindInvalidArguments        ErrorKind = "InvalidArguments"        // Кривой вызов, ретраить бессмысленно
	KindUpstreamUnavailable     ErrorKind = "UpstreamUnavailable"     // Транзиентный отказ сети или источника данных
	KindNotInitialized          ErrorKind = "NotInitialized"          // Ошибка последовательности вызовов
	KindCollaboratorUnavailable ErrorKind = "CollaboratorUnavailable" // NLU недоступен
)

var (
	ErrInvalidArguments        = errors.New("invalid arguments")
	ErrUpstreamUnavailable     = errors.New("upstream unavailable")
	ErrNotInitialized          = errors.New("not initialized")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
)

// Sentinel возвращает базовую ошибку для errors.Is.
func (k ErrorKind) Sentinel() error {
	switch k {
	case KindInvalidArguments:
		return ErrInvalidArguments
	case KindUpstreamUnavailable:
		return ErrUpstreamUnavailable
	case KindNotInitialized:
		return ErrNotInitialized
	case KindCollaboratorUnavailable:
		return ErrCollaboratorUnavailable
	}
	return ErrUpstreamUnavailable
}

// KindOf раскручивает цепочку ошибок до известного вида. Всё неизвестное считаем отказом апстрима.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInvalidArguments):
		return KindInvalidArguments
	case errors.Is(err, ErrNotInitialized):
		return KindNotInitialized
	case errors.Is(err, ErrCollaboratorUnavailable):
		return KindCollaboratorUnavailable
	default:
		return KindUpstreamUnavailable
	}
}

// ToolInvocation создается резолвером и потребляется исполнителем ровно один раз.
type ToolInvocation struct {
	ID        string         `json:"invocation_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolOutcome: tagged variant: либо Payload, либо Kind+Message.
type ToolOutcome struct {
	OK      bool           `json:"ok"`
	Payload map[string]any `json:"payload,omitempty"`
	Kind    ErrorKind      `json:"kind,omitempty"`
	Message string         `json:"message,omitempty"`

	// RetryAfter: подсказка от источника (429). Пользователю не показывается.
	RetryAfter time.Duration `json:"-"`
}

func Success(payload map[string]any) ToolOutcome {
	return ToolOutcome{OK: true, Payload: payload}
}

func Failure(kind ErrorKind, format string, args ...any) ToolOutcome {
	return ToolOutcome{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// FailureFrom нормализует произвольную ошибку в исход.
func FailureFrom(err error) ToolOutcome {
	return ToolOutcome{Kind: KindOf(err), Message: err.Error()}
}

// Err отдает исход в виде ошибки, пригодной для errors.Is. Для успеха — nil.
func (o ToolOutcome) Err() error {
	if o.OK {
		return nil
	}
	return fmt.Errorf("%w: %s", o.Kind.Sentinel(), o.Message)
}

// Retryable: только транзиентные отказы. InvalidArguments не ретраится никогда.
func (o ToolOutcome) Retryable() bool {
	return !o.OK && o.Kind == KindUpstreamUnavailable
}
