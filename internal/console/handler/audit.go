package handler

import (
	"net/http"
	"strconv"

	"github.com/xela07ax/a2a-guard/internal/audit"
)

// AuditReader описывает контракт для чтения журнала аудита.
type AuditReader interface {
	Since(seq uint64) []audit.Entry
	ForTurn(turnID string) []audit.Entry
}

type AuditHandler struct {
	log AuditReader
}

func NewAuditHandler(log AuditReader) *AuditHandler {
	return &AuditHandler{log: log}
}

// GetLogs возвращает записи журнала с поддержкой фильтрации
// GET /v1/audit?since=42 или /v1/audit?turn_id=...
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if turnID := q.Get("turn_id"); turnID != "" {
		writeJSON(w, http.StatusOK, nonNil(h.log.ForTurn(turnID)))
		return
	}

	var since uint64
	if raw := q.Get("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		since = v
	}
	writeJSON(w, http.StatusOK, nonNil(h.log.Since(since)))
}

func nonNil(e []audit.Entry) []audit.Entry {
	if e == nil {
		return []audit.Entry{}
	}
	return e
}
