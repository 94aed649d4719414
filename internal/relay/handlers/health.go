package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/iudanet/gophsync/pkg/api"
)

// HealthHandler обрабатывает health check запросы
type HealthHandler struct {
	logger      *slog.Logger
	connections func() int64
	version     string
	backend     string
}

// NewHealthHandler создает handler для health check.
// connections возвращает число активных websocket соединений.
func NewHealthHandler(logger *slog.Logger, version, backend string, connections func() int64) *HealthHandler {
	return &HealthHandler{
		logger:      logger,
		connections: connections,
		version:     version,
		backend:     backend,
	}
}

// Health обрабатывает GET /api/v1/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := api.HealthResponse{
		Status:      "ok",
		Version:     h.version,
		Backend:     h.backend,
		Connections: h.connections(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode health response", slog.Any("error", err))
	}
}
