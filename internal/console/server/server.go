package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/a2a-guard/internal/console/handler"
	"github.com/xela07ax/a2a-guard/internal/engine"
	"go.uber.org/zap"
)

// ConsoleServer: HTTP-граница агента-оркестратора.
type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	metrics http.Handler // /metrics, nil — не публикуем

	sessionHandler *handler.SessionHandler // /v1/sessions
	auditHandler   *handler.AuditHandler   // /v1/audit
	catalogHandler *handler.CatalogHandler // /v1/catalog
}

// NewConsoleServer инициализирует сервер со всеми зависимостями
func NewConsoleServer(
	logger *zap.Logger,
	metrics http.Handler,
	sessionH *handler.SessionHandler,
	auditH *handler.AuditHandler,
	catalogH *handler.CatalogHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:         chi.NewRouter(),
		logger:         logger.Named("console-api"),
		metrics:        metrics,
		sessionHandler: sessionH,
		auditHandler:   auditH,
		catalogHandler: catalogH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(engine.TracingMiddleware)

	// --- 2. Служебные роуты ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	// --- 3. Сессии ---
	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.sessionHandler.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.sessionHandler.Get)
			r.Delete("/", s.sessionHandler.End)
			r.Post("/turns", s.sessionHandler.Turn) // Один ход диалога
		})
	})

	// --- 4. Каталог и аудит (Observability) ---
	r.Get("/v1/catalog", s.catalogHandler.Get)
	r.Post("/v1/catalog/refresh", s.catalogHandler.Refresh)
	r.Get("/v1/audit", s.auditHandler.GetLogs)
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
