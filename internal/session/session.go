// Package session хранит историю диалога на время жизни процесса.
// Сессии не разделяют изменяемое состояние; ходы внутри одной сессии идут по одному.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/a2a-guard/internal/domain"
	"github.com/xela07ax/a2a-guard/internal/nlu"
)

// Turn: завершенный ход.
type Turn struct {
	ID        string               `json:"turn_id"`
	UserText  string               `json:"user_text"`
	FinalText string               `json:"final_text"`
	Verdict   domain.Verdict       `json:"verdict"`
	Events    []domain.SafetyEvent `json:"safety_events"`
	At        time.Time            `json:"at"`
}

type Session struct {
	ID string

	turnMu         sync.Mutex // сериализация ходов
	mu             sync.RWMutex
	turns          []Turn
	lastSeen       time.Time
	catalogFetched bool
}

func newSession(id string, now time.Time) *Session {
	return &Session{ID: id, lastSeen: now}
}

// BeginTurn захватывает сессию на время хода. Вернуть release обязательно.
func (s *Session) BeginTurn() (release func()) {
	s.turnMu.Lock()
	return s.turnMu.Unlock
}

// Record дописывает ход. История только растет.
func (s *Session) Record(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Events = append([]domain.SafetyEvent(nil), t.Events...)
	s.turns = append(s.turns, t)
	if t.At.After(s.lastSeen) {
		s.lastSeen = t.At
	}
}

func (s *Session) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Turn(nil), s.turns...)
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// History: последние n доставленных обменов для резолвера. Заблокированные ходы
// в контекст не попадают: отвергнутая инъекция не должна всплыть в следующем промпте.
func (s *Session) History(n int) []nlu.Exchange {
	if n <= 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]nlu.Exchange, 0, n)
	for i := len(s.turns) - 1; i >= 0 && len(out) < n; i-- {
		t := s.turns[i]
		if t.Verdict != domain.VerdictAllow {
			continue
		}
		out = append(out, nlu.Exchange{User: t.UserText, Assistant: t.FinalText})
	}
	// В хронологическом порядке
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// CatalogFetched: сессия уже получала каталог от директории. Ходы, заблокированные на PRE,
// до директории не доходят и флаг не ставят.
func (s *Session) CatalogFetched() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalogFetched
}

func (s *Session) MarkCatalogFetched() {
	s.mu.Lock()
	s.catalogFetched = true
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

// Manager: реестр активных сессий процесса.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session), now: time.Now}
}

// Start открывает новую сессию со сгенерированным id.
func (m *Manager) Start() *Session {
	s, _ := m.Get(uuid.NewString())
	return s
}

// Get возвращает сессию, создавая ее при первом обращении. created — сессия новая.
func (m *Manager) Get(id string) (s *Session, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, false
	}
	s = newSession(id, m.now())
	m.sessions[id] = s
	return s, true
}

func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// End завершает сессию и выбрасывает историю.
func (m *Manager) End(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	return ok
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep закрывает сессии, простаивающие дольше maxIdle. Возвращает число закрытых.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

var exitTokens = map[string]struct{}{"exit": {}, "quit": {}, "bye": {}, "q": {}}

// IsExitToken: реплика, завершающая сессию на границе CLI/API. Ядро их не видит.
func IsExitToken(text string) bool {
	_, ok := exitTokens[strings.ToLower(strings.TrimSpace(text))]
	return ok
}
