package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/a2a-guard/internal/audit"
	"github.com/xela07ax/a2a-guard/internal/console/handler"
	"github.com/xela07ax/a2a-guard/internal/domain"
	"github.com/xela07ax/a2a-guard/internal/engine"
	"github.com/xela07ax/a2a-guard/internal/session"
)

type stubTurns struct {
	log *audit.Log
}

func (s *stubTurns) HandleTurn(_ context.Context, sessionID, text string) (engine.Reply, error) {
	s.log.Append(domain.SafetyEvent{TurnID: "t-" + text, SessionID: sessionID, Stage: domain.StagePre, Verdict: domain.VerdictAllow, Category: domain.CategoryNone})
	return engine.Reply{TurnID: "t-" + text, SessionID: sessionID, FinalText: "sunny", Verdict: domain.VerdictAllow}, nil
}

type stubDirectory struct {
	cat *domain.Catalog
	err error
}

func (d *stubDirectory) Current() (*domain.Catalog, error) {
	if d.cat == nil {
		return nil, domain.ErrNotInitialized
	}
	return d.cat, nil
}

func (d *stubDirectory) Refresh(context.Context) (*domain.Catalog, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.cat = domain.NewCatalog([]domain.ToolDescriptor{{Name: "get_weather"}})
	return d.cat, nil
}

func (d *stubDirectory) Version() uint64 { return 1 }

func newTestServer(dir *stubDirectory) (*ConsoleServer, *session.Manager, *audit.Log) {
	logger := zap.NewNop()
	log := audit.NewLog(nil, logger)
	sessions := session.NewManager()
	srv := NewConsoleServer(
		logger,
		http.NotFoundHandler(),
		handler.NewSessionHandler(&stubTurns{log: log}, sessions, logger),
		handler.NewAuditHandler(log),
		handler.NewCatalogHandler(dir, logger),
	)
	return srv, sessions, log
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSessionTurnFlow(t *testing.T) {
	srv, sessions, _ := newTestServer(&stubDirectory{})

	rec := do(t, srv, http.MethodPost, "/v1/sessions/s1/turns", `{"text":"weather in Boston"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))

	var reply engine.Reply
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&reply))
	assert.Equal(t, "sunny", reply.FinalText)
	assert.Equal(t, domain.VerdictAllow, reply.Verdict)
	assert.Equal(t, "s1", reply.SessionID)

	// Токен выхода закрывает сессию, не доходя до ядра
	sessions.Get("s1")
	rec = do(t, srv, http.MethodPost, "/v1/sessions/s1/turns", `{"text":"quit"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ended":true`)
	_, ok := sessions.Lookup("s1")
	assert.False(t, ok)
}

func TestSessionBadRequests(t *testing.T) {
	srv, _, _ := newTestServer(&stubDirectory{})

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/v1/sessions/s1/turns", `not json`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/v1/sessions/s1/turns", `{"text":"  "}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/v1/sessions/missing", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodDelete, "/v1/sessions/missing", "").Code)
}

func TestSessionCreateAndDelete(t *testing.T) {
	srv, _, _ := newTestServer(&stubDirectory{})

	rec := do(t, srv, http.MethodPost, "/v1/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	id := created["session_id"]
	require.NotEmpty(t, id)

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/v1/sessions/"+id, "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, srv, http.MethodDelete, "/v1/sessions/"+id, "").Code)
}

func TestAuditEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(&stubDirectory{})
	do(t, srv, http.MethodPost, "/v1/sessions/s1/turns", `{"text":"a"}`)
	do(t, srv, http.MethodPost, "/v1/sessions/s1/turns", `{"text":"b"}`)

	var all []audit.Entry
	rec := do(t, srv, http.MethodGet, "/v1/audit", "")
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&all))
	require.Len(t, all, 2)
	assert.Equal(t, uint64(1), all[0].Seq)

	var since []audit.Entry
	rec = do(t, srv, http.MethodGet, "/v1/audit?since=1", "")
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&since))
	require.Len(t, since, 1)
	assert.Equal(t, "t-b", since[0].TurnID)

	rec = do(t, srv, http.MethodGet, "/v1/audit?turn_id=t-a", "")
	assert.Contains(t, rec.Body.String(), `"turn_id":"t-a"`)

	rec = do(t, srv, http.MethodGet, "/v1/audit?turn_id=none", "")
	assert.Equal(t, "[]\n", rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/v1/audit?since=x", "").Code)
}

func TestCatalogEndpoints(t *testing.T) {
	dir := &stubDirectory{}
	srv, _, _ := newTestServer(dir)

	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodGet, "/v1/catalog", "").Code)

	rec := do(t, srv, http.MethodPost, "/v1/catalog/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "get_weather")
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/v1/catalog", "").Code)

	dir.err = errors.New("provider down")
	assert.Equal(t, http.StatusBadGateway, do(t, srv, http.MethodPost, "/v1/catalog/refresh", "").Code)
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(&stubDirectory{})
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/health", "").Code)
}
