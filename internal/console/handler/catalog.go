package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/xela07ax/a2a-guard/internal/domain"
	"go.uber.org/zap"
)

// CatalogDirectory: кэш каталога на стороне оркестратора.
type CatalogDirectory interface {
	Current() (*domain.Catalog, error)
	Refresh(ctx context.Context) (*domain.Catalog, error)
	Version() uint64
}

type CatalogHandler struct {
	dir    CatalogDirectory
	logger *zap.Logger
}

func NewCatalogHandler(dir CatalogDirectory, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{dir: dir, logger: logger.Named("catalog-api")}
}

// Get: текущий снимок каталога
// GET /v1/catalog
func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	cat, err := h.dir.Current()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "catalog_not_initialized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": h.dir.Version(), "tools": cat.Tools})
}

// Refresh: ручное обновление (политика manual)
// POST /v1/catalog/refresh
func (h *CatalogHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	cat, err := h.dir.Refresh(r.Context())
	if err != nil {
		h.logger.Warn("manual refresh failed", zap.Error(err))
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		writeError(w, status, "refresh_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": h.dir.Version(), "tools": cat.Names()})
}
