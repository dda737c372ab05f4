// Package server wires HTTP handlers into a gorilla/mux router for the
// roomchat application via routing helpers.
package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRoutes configures and returns a router with all application routes:
// health checks, the WebSocket endpoint, and read-only room inspection.
func SetupRoutes(hub *Hub, cfg *Config, logger *slog.Logger) *mux.Router {
	if logger == nil {
		logger = slog.Default()
	}
	upgrader := newUpgrader(newOriginPolicy(cfg.AllowedOrigins, logger))

	r := mux.NewRouter()
	r.HandleFunc("/", HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ws", WebSocketHandler(hub, upgrader))

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/rooms/{room}", RoomHandler(hub)).Methods(http.MethodGet)
	api.HandleFunc("/stats", StatsHandler(hub)).Methods(http.MethodGet)
	return r
}
