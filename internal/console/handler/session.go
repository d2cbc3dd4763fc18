package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/a2a-guard/internal/engine"
	"github.com/xela07ax/a2a-guard/internal/session"
	"go.uber.org/zap"
)

// TurnHandler: граница сессии: {sessionId, userText} -> {finalText, safetyVerdict}.
type TurnHandler interface {
	HandleTurn(ctx context.Context, sessionID, text string) (engine.Reply, error)
}

type SessionHandler struct {
	turns    TurnHandler
	sessions *session.Manager
	logger   *zap.Logger
}

func NewSessionHandler(turns TurnHandler, sessions *session.Manager, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{turns: turns, sessions: sessions, logger: logger.Named("session-api")}
}

type turnRequest struct {
	Text string `json:"text"`
}

// Create открывает сессию
// POST /v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Start()
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": s.ID})
}

// Turn проводит один ход
// POST /v1/sessions/{id}/turns {"text": "..."}
func (h *SessionHandler) Turn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session_id_required")
		return
	}

	var req turnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text_required")
		return
	}

	// Токены выхода закрывают сессию и в ядро не попадают
	if session.IsExitToken(req.Text) {
		h.sessions.End(id)
		writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "ended": true})
		return
	}

	reply, err := h.turns.HandleTurn(r.Context(), id, req.Text)
	if err != nil {
		// Аудит уже записан, ответ — отказ; нарушение автомата видно в логе
		h.logger.Error("turn failed",
			zap.String("session_id", id),
			zap.String("trace_id", engine.TraceID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, http.StatusOK, reply)
}

// Get: история сессии
// GET /v1/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessions.Lookup(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session_not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": s.ID, "turns": s.Turns()})
}

// End закрывает сессию и выбрасывает историю
// DELETE /v1/sessions/{id}
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.End(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "session_not_found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
